package results

import (
	"errors"
	"fmt"
	"slices"
)

var ErrBadDecision = errors.New("decision does not match a tied block")

// Decision is the operator's recorded order for one block of tied teams.
type Decision struct {
	Slot  string `json:"slot"`
	Order []int  `json:"order"`
}

// Settle applies recorded decisions to the tied blocks of flip. It returns the
// ranking with every decided block reordered and the blocks still waiting for
// a decision. A decision that matches no block is an error.
func Settle(flip *CoinFlipRequired, decisions []Decision) (Ranking, [][]int, error) {
	ranking := slices.Clone(flip.Provisional)
	used := make([]bool, len(decisions))
	var open [][]int

	for _, tie := range flip.Ties {
		idx := -1
		for i, d := range decisions {
			if d.Slot == flip.Slot && sameTeams(d.Order, tie) {
				idx = i
				break
			}
		}
		if idx < 0 {
			open = append(open, tie)
			continue
		}
		used[idx] = true
		start := ranking.Position(tie[0]) - 1
		for _, id := range tie[1:] {
			if p := ranking.Position(id) - 1; p < start {
				start = p
			}
		}
		copy(ranking[start:], decisions[idx].Order)
	}

	for i, d := range decisions {
		if d.Slot == flip.Slot && !used[i] {
			return nil, nil, fmt.Errorf("%s: order %v: %w", flip.Slot, d.Order, ErrBadDecision)
		}
	}
	return ranking, open, nil
}

func sameTeams(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}
