package advance

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/DoyleJ11/coder-combat/internal/bracket"
	"github.com/DoyleJ11/coder-combat/internal/results"
)

// Assignment seats one team in a slot.
type Assignment struct {
	TeamID   int    `json:"team_id"`
	Slot     string `json:"slot"`
	Position int    `json:"position"` // 1-based
}

// Exit records a team leaving the live bracket with its final placing.
type Exit struct {
	TeamID int    `json:"team_id"`
	Slot   string `json:"slot"`
	Place  int    `json:"place"`
}

// Placement is everything one or more rankings produce for the next round.
type Placement struct {
	Assignments []Assignment `json:"assignments"`
	Exits       []Exit       `json:"exits,omitempty"`
}

func (p *Placement) merge(o Placement) {
	p.Assignments = append(p.Assignments, o.Assignments...)
	p.Exits = append(p.Exits, o.Exits...)
}

type UnroutedRankError struct {
	Slot string
	Rank int
}

func (e *UnroutedRankError) Error() string {
	return fmt.Sprintf("%s: no route for rank %d", e.Slot, e.Rank)
}

type CapacityExceededError struct {
	Slot     string
	Capacity int
	Want     int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("%s: %d teams routed, capacity %d", e.Slot, e.Want, e.Capacity)
}

// Resolve maps the ranking of a finished slot onto next-round seats. taken
// holds the seats already filled in each destination and is not modified;
// new seats are numbered after them in ascending rank order.
func Resolve(slotID string, ranking results.Ranking, topo *bracket.Topology, taken map[string]int) (Placement, error) {
	slot, ok := topo.Slot(slotID)
	if !ok {
		return Placement{}, fmt.Errorf("%s: %w", slotID, bracket.ErrUnknownSlot)
	}
	if slot.RankingOnly {
		return Placement{}, nil
	}
	if len(ranking) != slot.Capacity {
		return Placement{}, fmt.Errorf("%s: ranking has %d teams, capacity %d", slotID, len(ranking), slot.Capacity)
	}

	rules := topo.Rules(slotID)
	filled := make(map[string]int)
	var out Placement

	for i, team := range ranking {
		rank := i + 1
		rule, ok := ruleFor(rules, rank)
		if !ok {
			return Placement{}, &UnroutedRankError{Slot: slotID, Rank: rank}
		}
		if dest, ok := rule.Destination(rank); ok {
			d, ok := topo.Slot(dest)
			if !ok {
				return Placement{}, fmt.Errorf("%s: destination %s: %w", slotID, dest, bracket.ErrUnknownSlot)
			}
			seat := taken[dest] + filled[dest] + 1
			if seat > d.Capacity {
				return Placement{}, &CapacityExceededError{Slot: dest, Capacity: d.Capacity, Want: seat}
			}
			filled[dest]++
			out.Assignments = append(out.Assignments, Assignment{TeamID: team, Slot: dest, Position: seat})
		}
		if place := rule.PlaceFor(rank); place != 0 {
			out.Exits = append(out.Exits, Exit{TeamID: team, Slot: slotID, Place: place})
		}
	}
	return out, nil
}

func ruleFor(rules []bracket.Rule, rank int) (bracket.Rule, bool) {
	for _, r := range rules {
		if r.Covers(rank) {
			return r, true
		}
	}
	return bracket.Rule{}, false
}

// ResolveRound resolves every routed slot of round in declaration order.
// Either the whole placement is returned or none of it; every failing slot is
// reported.
func ResolveRound(round int, rankings map[string]results.Ranking, topo *bracket.Topology) (Placement, error) {
	r, ok := topo.Round(round)
	if !ok {
		return Placement{}, fmt.Errorf("round %d does not exist", round)
	}

	taken := make(map[string]int)
	var out Placement
	var errs error
	for _, slot := range r.Slots {
		if slot.RankingOnly {
			continue
		}
		ranking, ok := rankings[slot.ID]
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("%s: no ranking", slot.ID))
			continue
		}
		p, err := Resolve(slot.ID, ranking, topo, taken)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		for _, a := range p.Assignments {
			taken[a.Slot]++
		}
		out.merge(p)
	}
	if errs != nil {
		return Placement{}, errs
	}
	return out, nil
}

// Seed seats teams pairwise into the first round in the given order.
func Seed(teams []int, topo *bracket.Topology) (Placement, error) {
	first, ok := topo.Round(1)
	if !ok {
		return Placement{}, fmt.Errorf("topology has no first round")
	}
	if len(teams) != first.Teams {
		return Placement{}, fmt.Errorf("seeding %d teams into %d seats", len(teams), first.Teams)
	}

	var out Placement
	next := 0
	for _, slot := range first.Slots {
		for pos := 1; pos <= slot.Capacity; pos++ {
			out.Assignments = append(out.Assignments, Assignment{TeamID: teams[next], Slot: slot.ID, Position: pos})
			next++
		}
	}
	return out, nil
}

// Consequential reports whether the order inside a tied block changes where
// the tied teams go. Ties inside a single pool without placings do not.
func Consequential(slotID string, tie []int, ranking results.Ranking, topo *bracket.Topology) bool {
	slot, ok := topo.Slot(slotID)
	if !ok {
		return true
	}
	if slot.RankingOnly {
		return false
	}

	type fate struct {
		dest  string
		place int
	}
	var first *fate
	rules := topo.Rules(slotID)
	for _, team := range tie {
		rank := ranking.Position(team)
		rule, ok := ruleFor(rules, rank)
		if !ok {
			return true
		}
		dest, _ := rule.Destination(rank)
		f := fate{dest: dest, place: rule.PlaceFor(rank)}
		if f.place != 0 {
			return true
		}
		if first == nil {
			first = &f
		} else if *first != f {
			return true
		}
	}
	return false
}
