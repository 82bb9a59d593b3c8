package validate

import (
	"fmt"
	"slices"
	"strings"

	"github.com/DoyleJ11/coder-combat/internal/advance"
	"github.com/DoyleJ11/coder-combat/internal/bracket"
)

// Result is the outcome of validating a proposed set of round assignments.
// An empty Violations list means the assignments are valid.
type Result struct {
	Round      int      `json:"round"`
	Violations []string `json:"violations,omitempty"`
}

func (r Result) Valid() bool { return len(r.Violations) == 0 }

func (r Result) String() string {
	if r.Valid() {
		return fmt.Sprintf("round %d: valid", r.Round)
	}
	return fmt.Sprintf("round %d: invalid: %s", r.Round, strings.Join(r.Violations, "; "))
}

func (r *Result) addf(format string, args ...any) {
	r.Violations = append(r.Violations, fmt.Sprintf(format, args...))
}

// Validate checks proposed assignments for round against the bracket rules.
// live lists the teams still in play for that round. Validate reports every
// violation it finds and never fails.
func Validate(round int, live []int, proposed []advance.Assignment, topo *bracket.Topology) Result {
	res := Result{Round: round}

	r, ok := topo.Round(round)
	if !ok {
		res.addf("round %d does not exist", round)
		return res
	}
	inRound := make(map[string]bracket.Slot, len(r.Slots))
	for _, s := range r.Slots {
		inRound[s.ID] = s
	}

	isLive := make(map[int]bool, len(live))
	for _, id := range live {
		isLive[id] = true
	}

	bySlot := make(map[string][]advance.Assignment)
	teamSlots := make(map[int][]string)
	for _, a := range proposed {
		if _, ok := inRound[a.Slot]; !ok {
			res.addf("team %d assigned to %s, which is not a round %d slot", a.TeamID, a.Slot, round)
			continue
		}
		bySlot[a.Slot] = append(bySlot[a.Slot], a)
		teamSlots[a.TeamID] = append(teamSlots[a.TeamID], a.Slot)
	}

	// (a) every live team holds exactly one bracket seat; eliminated teams only
	// sit in side slots.
	for _, id := range sortedKeys(isLive) {
		seats := 0
		for _, slot := range teamSlots[id] {
			if !inRound[slot].Side {
				seats++
			}
		}
		if seats != 1 {
			res.addf("live team %d has %d bracket seats", id, seats)
		}
	}
	for _, id := range sortedKeys(teamSlots) {
		if isLive[id] {
			continue
		}
		for _, slot := range teamSlots[id] {
			if !inRound[slot].Side {
				res.addf("eliminated team %d assigned to %s", id, slot)
			}
		}
	}

	// (b) capacity and seat positions
	total := 0
	for _, s := range r.Slots {
		seated := bySlot[s.ID]
		total += len(seated)
		if len(seated) > s.Capacity {
			res.addf("%s holds %d teams, capacity %d", s.ID, len(seated), s.Capacity)
		}
		positions := make(map[int]int)
		for _, a := range seated {
			if a.Position < 1 || a.Position > s.Capacity {
				res.addf("%s: team %d at position %d outside 1..%d", s.ID, a.TeamID, a.Position, s.Capacity)
				continue
			}
			if other, dup := positions[a.Position]; dup {
				res.addf("%s: position %d taken by teams %d and %d", s.ID, a.Position, other, a.TeamID)
			}
			positions[a.Position] = a.TeamID
		}
	}

	// (c) round size
	if total != r.Teams {
		res.addf("round %d has %d assignments, expected %d", round, total, r.Teams)
	}

	// (d) double booking
	for _, id := range sortedKeys(teamSlots) {
		if slots := teamSlots[id]; len(slots) > 1 {
			res.addf("team %d assigned %d times in round %d (%s)", id, len(slots), round, strings.Join(slots, ", "))
		}
	}

	return res
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
