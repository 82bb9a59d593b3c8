package results

import (
	"cmp"
	"time"
)

// Comparators return a negative number when a ranks ahead of b.

func compareDuel(a, b Outcome) int {
	if c := cmp.Compare(b.Solved, a.Solved); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Penalty, b.Penalty); c != 0 {
		return c
	}
	if c := compareEarliest(a, b); c != 0 {
		return c
	}
	return cmp.Compare(b.TestsPassed, a.TestsPassed)
}

// compareGroup is ICPC order. Equal teams fall back to team id in Compute.
func compareGroup(a, b Outcome) int {
	if c := cmp.Compare(b.Solved, a.Solved); c != 0 {
		return c
	}
	return cmp.Compare(a.Penalty, b.Penalty)
}

// A team with no solve sorts after every team that has one.
func compareEarliest(a, b Outcome) int {
	at, aok := a.FirstSolve()
	bt, bok := b.FirstSolve()
	switch {
	case aok && bok:
		return cmp.Compare(at, bt)
	case aok:
		return -1
	case bok:
		return 1
	}
	return 0
}

// SpeedScore is a team's tally in a speed contest.
type SpeedScore struct {
	Points int
	// Last is the contest time of the most recent problem the team scored.
	Last time.Duration
}

// SpeedScores awards each problem to the team with the earliest accepted
// submission on it. Identical contest times go to the lower submission id, so
// every solved problem has exactly one scorer.
func SpeedScores(outcomes []Outcome) map[int]SpeedScore {
	type claim struct {
		team int
		s    Solve
	}
	first := make(map[string]claim)
	for _, o := range outcomes {
		for _, s := range o.Solves {
			cur, ok := first[s.Problem]
			if !ok || s.At < cur.s.At || (s.At == cur.s.At && s.Submission < cur.s.Submission) {
				first[s.Problem] = claim{team: o.TeamID, s: s}
			}
		}
	}

	scores := make(map[int]SpeedScore, len(outcomes))
	for _, o := range outcomes {
		scores[o.TeamID] = SpeedScore{}
	}
	for _, c := range first {
		sc := scores[c.team]
		sc.Points++
		if c.s.At > sc.Last {
			sc.Last = c.s.At
		}
		scores[c.team] = sc
	}
	return scores
}

func compareSpeed(scores map[int]SpeedScore) func(a, b Outcome) int {
	return func(a, b Outcome) int {
		sa, sb := scores[a.TeamID], scores[b.TeamID]
		if c := cmp.Compare(sb.Points, sa.Points); c != 0 {
			return c
		}
		if sa.Points == 0 {
			return 0
		}
		return cmp.Compare(sa.Last, sb.Last)
	}
}
