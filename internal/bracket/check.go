package bracket

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

// Check verifies the structural invariants of the topology and reports every
// problem it finds.
func (t *Topology) Check() error {
	var errs error
	add := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	if t.Teams <= 0 {
		add("topology declares %d teams", t.Teams)
	}
	if len(t.Rounds) == 0 {
		add("topology has no rounds")
		return errs
	}

	inbound := make(map[string]int)
	places := make(map[int]string)

	for i, r := range t.Rounds {
		if r.Number != i+1 {
			add("round %d declared at position %d", r.Number, i+1)
		}
		seats := 0
		for _, s := range r.Slots {
			seats += s.Capacity
			prefix := fmt.Sprintf("R%d_", r.Number)
			if !strings.HasPrefix(s.ID, prefix) {
				add("slot %s: id must start with %s", s.ID, prefix)
			}
			switch s.Type {
			case TypeDuel:
				if s.Capacity != 2 {
					add("slot %s: duel capacity %d, want 2", s.ID, s.Capacity)
				}
			case TypeGroup, TypeSpeed:
				if s.Capacity < 2 {
					add("slot %s: capacity %d too small", s.ID, s.Capacity)
				}
			case TypeRest:
				if s.Side || s.Capacity < 1 {
					add("slot %s: rest slots hold live teams", s.ID)
				}
			default:
				add("slot %s: unknown type %q", s.ID, s.Type)
			}
			if s.Judged() && s.Problems <= 0 {
				add("slot %s: judged slot without problems", s.ID)
			}
		}
		if seats != r.Teams {
			add("round %d: slots seat %d teams, table says %d", r.Number, seats, r.Teams)
		}
	}
	if first, ok := t.Round(1); ok && first.Teams != t.Teams {
		add("round 1 seats %d teams, tournament has %d", first.Teams, t.Teams)
	}

	sources := make([]string, 0, len(t.Routes))
	for id := range t.Routes {
		sources = append(sources, id)
	}
	sort.Slice(sources, func(i, j int) bool { return t.Order(sources[i]) < t.Order(sources[j]) })

	for _, id := range sources {
		src, ok := t.slots[id]
		if !ok {
			add("route source %s: %w", id, ErrUnknownSlot)
			continue
		}
		if src.RankingOnly {
			add("slot %s: ranking-only slot has routes", id)
		}

		covered := make([]int, src.Capacity+1)
		for _, rule := range t.Routes[id] {
			if len(rule.Ranks) != 2 || rule.Ranks[0] < 1 || rule.Ranks[0] > rule.Ranks[1] || rule.Ranks[1] > src.Capacity {
				add("slot %s: bad rank range %v", id, rule.Ranks)
				continue
			}
			for rank := rule.First(); rank <= rule.Last(); rank++ {
				covered[rank]++
			}
			if len(rule.To) == 0 && rule.Place == 0 {
				add("slot %s: ranks %v go nowhere", id, rule.Ranks)
			}
			if len(rule.To) > 1 && len(rule.To) != rule.Width() {
				add("slot %s: %d destinations for %d ranks", id, len(rule.To), rule.Width())
			}
			for _, dest := range rule.To {
				d, ok := t.slots[dest]
				if !ok {
					add("slot %s: destination %s: %w", id, dest, ErrUnknownSlot)
					continue
				}
				if d.Round != src.Round+1 {
					add("slot %s: destination %s is in round %d", id, dest, d.Round)
				}
				if d.Side && rule.Place == 0 && !src.Side {
					add("slot %s: live teams routed into side slot %s", id, dest)
				}
				if !d.Side && rule.Place != 0 {
					add("slot %s: placed teams routed into live slot %s", id, dest)
				}
			}
			for rank := rule.First(); rank <= rule.Last(); rank++ {
				if dest, ok := rule.Destination(rank); ok {
					inbound[dest]++
				}
				if p := rule.PlaceFor(rank); p != 0 {
					if prev, dup := places[p]; dup {
						add("place %d assigned by both %s and %s", p, prev, id)
					}
					places[p] = id
				}
			}
		}
		for rank := 1; rank <= src.Capacity; rank++ {
			if covered[rank] != 1 {
				add("slot %s: rank %d routed %d times", id, rank, covered[rank])
			}
		}
	}

	for _, s := range t.Slots() {
		if _, routed := t.Routes[s.ID]; !routed && !s.RankingOnly {
			add("slot %s: no routes", s.ID)
		}
		if s.Round == 1 {
			if inbound[s.ID] != 0 {
				add("slot %s: round 1 slots are seeded, not routed", s.ID)
			}
			continue
		}
		if inbound[s.ID] != s.Capacity {
			add("slot %s: receives %d teams, capacity %d", s.ID, inbound[s.ID], s.Capacity)
		}
	}

	for p := 1; p <= t.Teams; p++ {
		if _, ok := places[p]; !ok {
			add("place %d is never assigned", p)
		}
	}
	return errs
}
