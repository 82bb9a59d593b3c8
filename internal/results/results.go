package results

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/DoyleJ11/coder-combat/internal/bracket"
)

// Solve is a team's first accepted submission on one problem.
type Solve struct {
	Problem string        `json:"problem"`
	At      time.Duration `json:"at"` // contest time
	// Submission orders solves that land on the same contest time.
	Submission int `json:"submission"`
	Rejected   int `json:"rejected"` // counted wrong tries before the accept
}

// Outcome is one team's raw result in a finished contest.
type Outcome struct {
	TeamID      int           `json:"team_id"`
	Solved      int           `json:"solved"`
	Penalty     time.Duration `json:"penalty"`
	TestsPassed int           `json:"tests_passed"`
	Solves      []Solve       `json:"solves,omitempty"`
}

// FirstSolve returns the contest time of the team's earliest accepted
// submission.
func (o Outcome) FirstSolve() (time.Duration, bool) {
	if len(o.Solves) == 0 {
		return 0, false
	}
	first := o.Solves[0].At
	for _, s := range o.Solves[1:] {
		if s.At < first {
			first = s.At
		}
	}
	return first, true
}

// Ranking lists team ids, best first.
type Ranking []int

// Position returns the 1-based rank of team, or 0 when absent.
func (r Ranking) Position(team int) int {
	for i, id := range r {
		if id == team {
			return i + 1
		}
	}
	return 0
}

// IncompleteOutcomesError means the contest has not produced a result for
// every seat yet.
type IncompleteOutcomesError struct {
	Slot string
	Want int
	Got  int
}

func (e *IncompleteOutcomesError) Error() string {
	return fmt.Sprintf("%s: %d outcomes recorded, capacity %d", e.Slot, e.Got, e.Want)
}

// CoinFlipRequired reports teams the tie-break chain could not separate.
// Provisional holds the ranking with each tied block ordered by team id; it
// only becomes final once a decision is recorded for every block.
type CoinFlipRequired struct {
	Slot        string
	Ties        [][]int
	Provisional Ranking
}

func (e *CoinFlipRequired) Error() string {
	blocks := make([]string, len(e.Ties))
	for i, tie := range e.Ties {
		blocks[i] = fmt.Sprint(tie)
	}
	return fmt.Sprintf("%s: coin flip required between %s", e.Slot, strings.Join(blocks, ", "))
}

// Compute ranks the outcomes of a finished contest in slot. The result does
// not depend on the order of outcomes. When the tie-break chain of a duel or
// speed contest runs out, Compute returns a *CoinFlipRequired.
func Compute(slot bracket.Slot, outcomes []Outcome) (Ranking, error) {
	if len(outcomes) != slot.Capacity {
		return nil, &IncompleteOutcomesError{Slot: slot.ID, Want: slot.Capacity, Got: len(outcomes)}
	}
	seen := make(map[int]bool, len(outcomes))
	for _, o := range outcomes {
		if seen[o.TeamID] {
			return nil, fmt.Errorf("%s: duplicate outcome for team %d", slot.ID, o.TeamID)
		}
		seen[o.TeamID] = true
	}

	var cmp func(a, b Outcome) int
	decisive := true
	switch slot.Type {
	case bracket.TypeDuel:
		cmp = compareDuel
	case bracket.TypeGroup:
		cmp = compareGroup
		decisive = false
	case bracket.TypeSpeed:
		cmp = compareSpeed(SpeedScores(outcomes))
	default:
		return nil, fmt.Errorf("%s: %s contests are not ranked from outcomes", slot.ID, slot.Type)
	}

	sorted := make([]Outcome, len(outcomes))
	copy(sorted, outcomes)
	sort.SliceStable(sorted, func(i, j int) bool {
		if c := cmp(sorted[i], sorted[j]); c != 0 {
			return c < 0
		}
		return sorted[i].TeamID < sorted[j].TeamID
	})

	ranking := make(Ranking, len(sorted))
	for i, o := range sorted {
		ranking[i] = o.TeamID
	}
	if !decisive {
		return ranking, nil
	}

	var ties [][]int
	for i := 0; i < len(sorted); {
		j := i + 1
		for j < len(sorted) && cmp(sorted[i], sorted[j]) == 0 {
			j++
		}
		if j-i > 1 {
			ties = append(ties, append([]int(nil), ranking[i:j]...))
		}
		i = j
	}
	if len(ties) > 0 {
		return nil, &CoinFlipRequired{Slot: slot.ID, Ties: ties, Provisional: ranking}
	}
	return ranking, nil
}

// PenaltyTime is the ICPC time of a set of solves: minutes of each accepted
// submission plus penalty for every rejected try before it.
func PenaltyTime(solves []Solve, penalty time.Duration) time.Duration {
	var total time.Duration
	for _, s := range solves {
		total += s.At.Truncate(time.Minute) + time.Duration(s.Rejected)*penalty
	}
	return total
}
