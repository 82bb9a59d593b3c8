package judge

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/DoyleJ11/coder-combat/internal/results"
)

type submission struct {
	ID          string `json:"id"`
	TeamID      string `json:"team_id"`
	ProblemID   string `json:"problem_id"`
	ContestTime string `json:"contest_time"`
}

type judgement struct {
	ID              string  `json:"id"`
	SubmissionID    string  `json:"submission_id"`
	JudgementTypeID *string `json:"judgement_type_id"` // nil while judging
	Valid           *bool   `json:"valid,omitempty"`
}

type run struct {
	JudgementID     string `json:"judgement_id"`
	JudgementTypeID string `json:"judgement_type_id"`
}

const (
	verdictAccepted     = "AC"
	verdictCompileError = "CE"
)

type attempt struct {
	sub     submission
	at      time.Duration
	seq     int
	verdict string
	passed  int
}

// buildOutcomes applies ICPC accounting to raw judging data: the first
// accepted submission solves a problem and every judged rejection before it
// except compile errors costs penalty.
func buildOutcomes(teams []string, subs []submission, judged []judgement, runs []run, penalty time.Duration) ([]TeamOutcome, error) {
	passed := make(map[string]int)
	for _, r := range runs {
		if r.JudgementTypeID == verdictAccepted {
			passed[r.JudgementID]++
		}
	}
	type verdict struct {
		kind   string
		passed int
	}
	verdicts := make(map[string]verdict)
	for _, j := range judged {
		if j.JudgementTypeID == nil || (j.Valid != nil && !*j.Valid) {
			continue
		}
		verdicts[j.SubmissionID] = verdict{kind: *j.JudgementTypeID, passed: passed[j.ID]}
	}

	wanted := make(map[string]bool, len(teams))
	for _, t := range teams {
		wanted[t] = true
	}
	byTeam := make(map[string]map[string][]attempt)
	for i, s := range subs {
		v, ok := verdicts[s.ID]
		if !ok || !wanted[s.TeamID] {
			continue
		}
		at, err := parseRelTime(s.ContestTime)
		if err != nil {
			return nil, fmt.Errorf("submission %s: %w", s.ID, err)
		}
		seq, err := strconv.Atoi(s.ID)
		if err != nil {
			seq = i
		}
		if byTeam[s.TeamID] == nil {
			byTeam[s.TeamID] = make(map[string][]attempt)
		}
		byTeam[s.TeamID][s.ProblemID] = append(byTeam[s.TeamID][s.ProblemID],
			attempt{sub: s, at: at, seq: seq, verdict: v.kind, passed: v.passed})
	}

	out := make([]TeamOutcome, 0, len(teams))
	for _, team := range teams {
		o := TeamOutcome{TeamRef: team}
		problems := byTeam[team]
		ids := make([]string, 0, len(problems))
		for p := range problems {
			ids = append(ids, p)
		}
		slices.Sort(ids)

		for _, p := range ids {
			tries := problems[p]
			slices.SortFunc(tries, func(a, b attempt) int {
				if c := cmp.Compare(a.at, b.at); c != 0 {
					return c
				}
				return cmp.Compare(a.seq, b.seq)
			})
			best, rejected := 0, 0
			for _, a := range tries {
				best = max(best, a.passed)
				if a.verdict == verdictAccepted {
					o.Solves = append(o.Solves, results.Solve{Problem: p, At: a.at, Submission: a.seq, Rejected: rejected})
					break
				}
				if a.verdict != verdictCompileError {
					rejected++
				}
			}
			o.TestsPassed += best
		}
		o.Solved = len(o.Solves)
		o.Penalty = results.PenaltyTime(o.Solves, penalty)
		out = append(out, o)
	}
	return out, nil
}
