package engine

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/coder-combat/internal/advance"
	"github.com/DoyleJ11/coder-combat/internal/bracket"
	"github.com/DoyleJ11/coder-combat/internal/results"
	"github.com/DoyleJ11/coder-combat/internal/validate"
)

const rankWorkers = 8

type ranked struct {
	ranking results.Ranking
	ties    [][]int // ties accepted without a decision
	err     error
}

// process ranks every contest of the current round and stages the next
// round. Nothing is staged unless every contest ranks cleanly.
func process(topo *bracket.Topology, s State, outcomes map[string][]results.Outcome) ([]Event, error) {
	if s.Phase != PhaseInProgress && s.Phase != PhaseResultsProcessed {
		return nil, fmt.Errorf("process round %d in %s: %w", s.Round, s.Phase, ErrWrongPhase)
	}

	contests := RoundContests(topo, s, s.Round)
	var waiting error
	for _, c := range contests {
		if c.State.Before(ContestFinished) {
			waiting = multierr.Append(waiting, fmt.Errorf("%s is %s: %w", c.Slot, c.State, ErrNotFinished))
		}
	}
	if waiting != nil {
		return nil, &RoundError{Round: s.Round, Err: waiting}
	}

	out := make([]ranked, len(contests))
	var g errgroup.Group
	g.SetLimit(rankWorkers)
	for i, c := range contests {
		g.Go(func() error {
			out[i] = rankContest(topo, c, outcomes[c.Slot], s.Decisions)
			return nil
		})
	}
	_ = g.Wait()

	var errs error
	rankings := make(map[string]results.Ranking, len(contests))
	var events []Event
	for i, c := range contests {
		if out[i].err != nil {
			errs = multierr.Append(errs, out[i].err)
			continue
		}
		rankings[c.Slot] = out[i].ranking
		events = append(events, Event{Type: EvtContestRanked, Round: s.Round, Slot: c.Slot, Teams: out[i].ranking})
		for _, tie := range out[i].ties {
			events = append(events, Event{Type: EvtTieAccepted, Round: s.Round, Slot: c.Slot, Teams: tie})
		}
	}
	if errs != nil {
		return nil, &RoundError{Round: s.Round, Err: errs}
	}

	placement, err := advance.ResolveRound(s.Round, rankings, topo)
	if err != nil {
		return nil, &RoundError{Round: s.Round, Err: err}
	}
	res := check(topo, s, placement)
	events = append(events, Event{
		Type:       EvtRoundStaged,
		Round:      s.Round,
		Placement:  &placement,
		Digest:     advance.Digest(placement),
		Validation: &res,
	})
	return events, nil
}

func rankContest(topo *bracket.Topology, c Contest, outcomes []results.Outcome, decisions []results.Decision) ranked {
	slot, ok := topo.Slot(c.Slot)
	if !ok {
		return ranked{err: fmt.Errorf("%s: %w", c.Slot, bracket.ErrUnknownSlot)}
	}
	if !slot.Judged() {
		return ranked{ranking: results.Ranking(append([]int(nil), c.Teams...))}
	}
	for _, o := range outcomes {
		if !seated(c, o.TeamID) {
			return ranked{err: fmt.Errorf("%s: outcome for team %d, which is not seated", c.Slot, o.TeamID)}
		}
	}

	ranking, err := results.Compute(slot, outcomes)
	var flip *results.CoinFlipRequired
	if !errors.As(err, &flip) {
		return ranked{ranking: ranking, err: err}
	}

	settled, open, err := results.Settle(flip, decisions)
	if err != nil {
		return ranked{err: err}
	}
	var blocking, accepted [][]int
	for _, tie := range open {
		if advance.Consequential(c.Slot, tie, settled, topo) {
			blocking = append(blocking, tie)
		} else {
			accepted = append(accepted, tie)
		}
	}
	if len(blocking) > 0 {
		return ranked{err: &results.CoinFlipRequired{Slot: c.Slot, Ties: blocking, Provisional: settled}}
	}
	return ranked{ranking: settled, ties: accepted}
}

func seated(c Contest, team int) bool {
	for _, id := range c.Teams {
		if id == team {
			return true
		}
	}
	return false
}

// check validates a staged placement against the round that follows. After
// the last round it only confirms that every live team received a place.
func check(topo *bracket.Topology, s State, p advance.Placement) validate.Result {
	out := make(map[int]bool, len(p.Exits))
	for _, e := range p.Exits {
		out[e.TeamID] = true
	}
	var live []int
	for _, id := range sortedTeams(s.Teams) {
		if s.Teams[id].Live && !out[id] {
			live = append(live, id)
		}
	}

	if s.Round == topo.LastRound() {
		res := validate.Result{Round: s.Round}
		for _, id := range live {
			res.Violations = append(res.Violations, fmt.Sprintf("team %d finished without a place", id))
		}
		return res
	}
	return validate.Validate(s.Round+1, live, p.Assignments, topo)
}
