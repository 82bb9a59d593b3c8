package engine

import (
	"fmt"
	"maps"
	"slices"

	"github.com/DoyleJ11/coder-combat/internal/advance"
	"github.com/DoyleJ11/coder-combat/internal/bracket"
	"github.com/DoyleJ11/coder-combat/internal/results"
	"github.com/DoyleJ11/coder-combat/internal/validate"
)

// NewState returns an unseeded tournament with every contest of the
// topology created and empty.
func NewState(topo *bracket.Topology) State {
	s := State{
		Round:    1,
		Contests: make(map[string]Contest),
		Teams:    make(map[int]TeamStatus),
	}
	for _, slot := range topo.Slots() {
		s.Contests[slot.ID] = Contest{
			Slot:  slot.ID,
			Round: slot.Round,
			State: ContestCreated,
			Teams: make([]int, slot.Capacity),
		}
	}
	s.Phase = DerivePhase(s, s.Round)
	return s
}

// Clone deep-copies s.
func Clone(s State) State {
	out := s
	out.Contests = make(map[string]Contest, len(s.Contests))
	for id, c := range s.Contests {
		c.Teams = slices.Clone(c.Teams)
		c.Rank = slices.Clone(c.Rank)
		out.Contests[id] = c
	}
	out.Teams = maps.Clone(s.Teams)
	if out.Teams == nil {
		out.Teams = make(map[int]TeamStatus)
	}
	if s.Staged != nil {
		p := clonePlacement(*s.Staged)
		out.Staged = &p
	}
	if s.Validated != nil {
		v := *s.Validated
		v.Violations = slices.Clone(v.Violations)
		out.Validated = &v
	}
	out.Decisions = nil
	for _, d := range s.Decisions {
		out.Decisions = append(out.Decisions, results.Decision{Slot: d.Slot, Order: slices.Clone(d.Order)})
	}
	return out
}

func clonePlacement(p advance.Placement) advance.Placement {
	return advance.Placement{
		Assignments: slices.Clone(p.Assignments),
		Exits:       slices.Clone(p.Exits),
	}
}

// Reduce rebuilds a state by replaying events from an unseeded tournament.
func Reduce(topo *bracket.Topology, events []Event) State {
	s := NewState(topo)
	for _, e := range events {
		s = reduce(topo, s, e)
	}
	s.Phase = DerivePhase(s, s.Round)
	return s
}

// reduce applies one event to s in place and returns it.
func reduce(topo *bracket.Topology, s State, e Event) State {
	switch e.Type {
	case EvtSeeded:
		for _, id := range e.Teams {
			s.Teams[id] = TeamStatus{Live: true}
		}
		if e.Placement != nil {
			seat(s, e.Placement.Assignments)
		}
	case EvtContestLinked:
		s = withContest(s, e.Slot, func(c *Contest) { c.Ref = e.Ref })
	case EvtContestActivated:
		s = withContest(s, e.Slot, func(c *Contest) { c.State = ContestActivated })
	case EvtContestStarted:
		s = withContest(s, e.Slot, func(c *Contest) { c.State = ContestStarted })
	case EvtContestFinished:
		s = withContest(s, e.Slot, func(c *Contest) { c.State = ContestFinished })
	case EvtContestRanked:
		s = withContest(s, e.Slot, func(c *Contest) {
			c.Rank = slices.Clone(results.Ranking(e.Teams))
			c.State = ContestProcessed
		})
	case EvtRoundStaged:
		if r, ok := topo.Round(e.Round + 1); ok {
			for _, slot := range r.Slots {
				s = withContest(s, slot.ID, func(c *Contest) { clear(c.Teams) })
			}
		}
		if e.Placement != nil {
			p := clonePlacement(*e.Placement)
			seat(s, p.Assignments)
			s.Staged = &p
		}
		s.Digest = e.Digest
		if e.Validation != nil {
			v := *e.Validation
			s.Validated = &v
		}
	case EvtCoinFlipDecided:
		if e.Decision != nil {
			s.Decisions = record(s.Decisions, *e.Decision)
		}
	case EvtTeamEliminated:
		s.Teams[e.TeamID] = TeamStatus{Place: e.Place, Out: e.Slot}
	case EvtRoundAdvanced:
		s.Round = e.Round
		s.Staged, s.Digest, s.Validated = nil, "", nil
	case EvtTournamentCompleted:
		s.Completed = true
		s.Staged, s.Digest, s.Validated = nil, "", nil
	}
	return s
}

func withContest(s State, slot string, fn func(c *Contest)) State {
	c, ok := s.Contests[slot]
	if !ok {
		return s
	}
	fn(&c)
	s.Contests[slot] = c
	return s
}

func seat(s State, assignments []advance.Assignment) {
	for _, a := range assignments {
		c, ok := s.Contests[a.Slot]
		if !ok || a.Position < 1 || a.Position > len(c.Teams) {
			continue
		}
		c.Teams[a.Position-1] = a.TeamID
	}
}

// record drops every earlier decision on the slot that shares a team with d,
// then adds d.
func record(decisions []results.Decision, d results.Decision) []results.Decision {
	var kept []results.Decision
	for _, old := range decisions {
		if old.Slot == d.Slot && overlaps(old.Order, d.Order) {
			continue
		}
		kept = append(kept, old)
	}
	return append(kept, d)
}

func overlaps(a, b []int) bool {
	return slices.ContainsFunc(a, func(id int) bool { return slices.Contains(b, id) })
}

func sameTeams(a, b []int) bool {
	x, y := slices.Sorted(slices.Values(a)), slices.Sorted(slices.Values(b))
	return slices.Equal(x, y)
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// DerivePhase computes the phase of round from the contest states in s.
func DerivePhase(s State, round int) Phase {
	switch {
	case s.Completed && round == s.Round:
		return PhaseComplete
	case round < s.Round:
		return PhaseAdvanced
	case round > s.Round:
		return PhaseSetup
	}

	created, processed, total := 0, 0, 0
	for _, c := range s.Contests {
		if c.Round != round {
			continue
		}
		total++
		switch c.State {
		case ContestCreated:
			created++
		case ContestProcessed:
			processed++
		}
	}
	switch {
	case created == total:
		return PhaseSetup
	case processed == total && s.Staged != nil:
		return PhaseResultsProcessed
	default:
		return PhaseInProgress
	}
}

// RoundContests returns the contests of round in bracket order.
func RoundContests(topo *bracket.Topology, s State, round int) []Contest {
	r, ok := topo.Round(round)
	if !ok {
		return nil
	}
	out := make([]Contest, 0, len(r.Slots))
	for _, slot := range r.Slots {
		if c, ok := s.Contests[slot.ID]; ok {
			out = append(out, c)
		}
	}
	return out
}

func sortedTeams(teams map[int]TeamStatus) []int {
	return slices.Sorted(maps.Keys(teams))
}

var phaseTitles = map[Phase]string{
	PhaseSetup:            "Setup",
	PhaseInProgress:       "In Progress",
	PhaseResultsProcessed: "Results Processed",
	PhaseAdvanced:         "Advanced",
	PhaseComplete:         "Complete",
}

// Summary is the operator's one-line view of where the tournament stands.
func Summary(s State) string {
	return fmt.Sprintf("Round %d - %s", s.Round, phaseTitles[s.Phase])
}

type Tally struct {
	Live       int `json:"live"`
	Eliminated int `json:"eliminated"`
	Finished   int `json:"finished"` // contests of the current round with results available
	Contests   int `json:"contests"`
}

func Count(topo *bracket.Topology, s State) Tally {
	var t Tally
	for _, st := range s.Teams {
		if st.Live {
			t.Live++
		} else {
			t.Eliminated++
		}
	}
	for _, c := range RoundContests(topo, s, s.Round) {
		t.Contests++
		if !c.State.Before(ContestFinished) {
			t.Finished++
		}
	}
	return t
}

// Live lists the teams still in the bracket, ascending.
func Live(s State) []int {
	var out []int
	for _, id := range sortedTeams(s.Teams) {
		if s.Teams[id].Live {
			out = append(out, id)
		}
	}
	return out
}

// Assignments lists every seated team of round.
func Assignments(topo *bracket.Topology, s State, round int) []advance.Assignment {
	var out []advance.Assignment
	for _, c := range RoundContests(topo, s, round) {
		for i, id := range c.Teams {
			if id != 0 {
				out = append(out, advance.Assignment{TeamID: id, Slot: c.Slot, Position: i + 1})
			}
		}
	}
	return out
}

// Revalidate runs the bracket validator over the current round's seats.
func Revalidate(topo *bracket.Topology, s State) validate.Result {
	return validate.Validate(s.Round, Live(s), Assignments(topo, s, s.Round), topo)
}
