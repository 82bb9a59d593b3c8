package engine

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/multierr"

	"github.com/DoyleJ11/coder-combat/internal/advance"
	"github.com/DoyleJ11/coder-combat/internal/bracket"
	"github.com/DoyleJ11/coder-combat/internal/results"
	"github.com/DoyleJ11/coder-combat/internal/validate"
)

var ErrWrongPhase = errors.New("command not allowed in this phase")
var ErrRoundIncomplete = errors.New("round has unfilled contest slots")
var ErrNotLinked = errors.New("contest has no judging system reference")
var ErrNotFinished = errors.New("contests not finished")
var ErrValidationFailed = errors.New("staged assignments failed validation")
var ErrAlreadySeeded = errors.New("tournament already seeded")
var ErrTournamentComplete = errors.New("tournament already completed")
var ErrUnsupportedCommand = errors.New("unsupported command")

// ContestState is the lifecycle of a single contest.
type ContestState string

const (
	ContestCreated   ContestState = "created"
	ContestActivated ContestState = "activated"
	ContestStarted   ContestState = "started"
	ContestFinished  ContestState = "finished"
	ContestProcessed ContestState = "results_processed"
)

var contestOrder = map[ContestState]int{
	ContestCreated:   0,
	ContestActivated: 1,
	ContestStarted:   2,
	ContestFinished:  3,
	ContestProcessed: 4,
}

// Before reports whether c comes earlier in the lifecycle than o.
func (c ContestState) Before(o ContestState) bool { return contestOrder[c] < contestOrder[o] }

// Phase is the lifecycle of a round.
type Phase string

const (
	PhaseSetup            Phase = "setup"
	PhaseInProgress       Phase = "in_progress"
	PhaseResultsProcessed Phase = "results_processed"
	PhaseAdvanced         Phase = "advanced"
	PhaseComplete         Phase = "complete"
)

type Contest struct {
	Slot  string          `json:"slot"`
	Round int             `json:"round"`
	State ContestState    `json:"state"`
	Ref   string          `json:"ref,omitempty"` // judging system contest id
	Teams []int           `json:"teams"`         // by seat position, 0 when empty
	Rank  results.Ranking `json:"ranking,omitempty"`
}

func (c Contest) Seated() int {
	n := 0
	for _, id := range c.Teams {
		if id != 0 {
			n++
		}
	}
	return n
}

func (c Contest) Full() bool { return c.Seated() == len(c.Teams) }

type TeamStatus struct {
	Live bool `json:"live"`
	// Place is the final placing, set when the team leaves the bracket.
	Place int    `json:"place,omitempty"`
	Out   string `json:"out,omitempty"` // slot the team was eliminated from
}

// State is the full tournament snapshot. Apply never mutates the State it
// is given.
type State struct {
	Round     int                `json:"round"`
	Phase     Phase              `json:"phase"`
	Contests  map[string]Contest `json:"contests"`
	Teams     map[int]TeamStatus `json:"teams"`
	Staged    *advance.Placement `json:"staged,omitempty"`
	Digest    string             `json:"digest,omitempty"`
	Validated *validate.Result   `json:"validation,omitempty"`
	Decisions []results.Decision `json:"decisions,omitempty"`
	Completed bool               `json:"completed"`
}

type CommandType string

const (
	CmdSeed              CommandType = "Seed"
	CmdLinkContest       CommandType = "LinkContest"
	CmdStartRound        CommandType = "StartRound"
	CmdObserveStatus     CommandType = "ObserveStatus"
	CmdProcessResults    CommandType = "ProcessResults"
	CmdDecideCoinFlip    CommandType = "DecideCoinFlip"
	CmdActivateNextRound CommandType = "ActivateNextRound"
)

/*
	CmdSeed              -> EvtSeeded
	CmdLinkContest       -> EvtContestLinked
	CmdStartRound        -> EvtContestActivated (per slot) -> EvtContestFinished (rest slots)
	CmdObserveStatus     -> EvtContestStarted / EvtContestFinished
	CmdProcessResults    -> EvtContestRanked (per slot) -> EvtTieAccepted* -> EvtRoundStaged
	CmdDecideCoinFlip    -> EvtCoinFlipDecided
	CmdActivateNextRound -> EvtTeamEliminated* -> EvtRoundAdvanced -> EvtContestActivated*
	                        or EvtTournamentCompleted after the last round
*/

type Command struct {
	Type CommandType

	Teams    []int                        // Seed: registration order
	Slot     string                       // LinkContest
	Ref      string                       // LinkContest
	At       time.Time                    // StartRound: explicit start time, zero for the default
	Statuses map[string]ContestState      // ObserveStatus
	Outcomes map[string][]results.Outcome // ProcessResults, DecideCoinFlip
	Decision results.Decision             // DecideCoinFlip
}

type EventType string

const (
	EvtSeeded              EventType = "Seeded"
	EvtContestLinked       EventType = "ContestLinked"
	EvtContestActivated    EventType = "ContestActivated"
	EvtContestStarted      EventType = "ContestStarted"
	EvtContestFinished     EventType = "ContestFinished"
	EvtContestRanked       EventType = "ContestRanked"
	EvtTieAccepted         EventType = "TieAccepted"
	EvtRoundStaged         EventType = "RoundStaged"
	EvtCoinFlipDecided     EventType = "CoinFlipDecided"
	EvtTeamEliminated      EventType = "TeamEliminated"
	EvtRoundAdvanced       EventType = "RoundAdvanced"
	EvtTournamentCompleted EventType = "TournamentCompleted"
)

// Event is one recorded state change. Replaying the events of a tournament
// with Reduce yields its state.
type Event struct {
	Type       EventType          `json:"type"`
	Round      int                `json:"round,omitempty"`
	Slot       string             `json:"slot,omitempty"`
	Ref        string             `json:"ref,omitempty"`
	TeamID     int                `json:"team_id,omitempty"`
	Place      int                `json:"place,omitempty"`
	Teams      []int              `json:"teams,omitempty"`
	At         time.Time          `json:"at,omitzero"`
	Placement  *advance.Placement `json:"placement,omitempty"`
	Digest     string             `json:"digest,omitempty"`
	Validation *validate.Result   `json:"validation,omitempty"`
	Decision   *results.Decision  `json:"decision,omitempty"`
}

// RoundError aggregates every per-contest failure of one operation.
type RoundError struct {
	Round int
	Err   error
}

func (e *RoundError) Error() string {
	errs := multierr.Errors(e.Err)
	return fmt.Sprintf("round %d: %d contest(s) failed: %v", e.Round, len(errs), e.Err)
}

func (e *RoundError) Unwrap() []error { return multierr.Errors(e.Err) }

// Apply validates cmd against s and returns the resulting events and state.
// On error the returned state is s, unchanged.
func Apply(topo *bracket.Topology, s State, cmd Command) ([]Event, State, error) {
	if s.Completed {
		return nil, s, ErrTournamentComplete
	}
	s.Phase = DerivePhase(s, s.Round)

	var (
		events []Event
		err    error
	)
	switch cmd.Type {
	case CmdSeed:
		events, err = seed(topo, s, cmd.Teams)
	case CmdLinkContest:
		events, err = link(s, cmd.Slot, cmd.Ref)
	case CmdStartRound:
		events, err = start(topo, s, cmd.At)
	case CmdObserveStatus:
		events, err = observe(s, cmd.Statuses)
	case CmdProcessResults:
		events, err = process(topo, s, cmd.Outcomes)
	case CmdDecideCoinFlip:
		events, err = decide(topo, s, cmd.Decision, cmd.Outcomes[cmd.Decision.Slot])
	case CmdActivateNextRound:
		events, err = activate(topo, s)
	default:
		err = ErrUnsupportedCommand
	}
	if err != nil {
		return nil, s, err
	}

	next := Clone(s)
	for _, e := range events {
		next = reduce(topo, next, e)
	}
	next.Phase = DerivePhase(next, next.Round)
	return events, next, nil
}

func seed(topo *bracket.Topology, s State, teams []int) ([]Event, error) {
	if len(s.Teams) > 0 {
		return nil, ErrAlreadySeeded
	}
	p, err := advance.Seed(teams, topo)
	if err != nil {
		return nil, err
	}
	res := validate.Validate(1, teams, p.Assignments, topo)
	if !res.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, res)
	}
	return []Event{{Type: EvtSeeded, Round: 1, Teams: slices.Clone(teams), Placement: &p}}, nil
}

func link(s State, slot, ref string) ([]Event, error) {
	c, ok := s.Contests[slot]
	if !ok {
		return nil, fmt.Errorf("%s: %w", slot, bracket.ErrUnknownSlot)
	}
	if ref == "" {
		return nil, fmt.Errorf("%s: empty reference", slot)
	}
	if c.State != ContestCreated {
		return nil, fmt.Errorf("%s is %s: %w", slot, c.State, ErrWrongPhase)
	}
	if c.Ref == ref {
		return nil, nil
	}
	return []Event{{Type: EvtContestLinked, Round: c.Round, Slot: slot, Ref: ref}}, nil
}

func start(topo *bracket.Topology, s State, at time.Time) ([]Event, error) {
	if s.Phase != PhaseSetup {
		return nil, fmt.Errorf("start round %d in %s: %w", s.Round, s.Phase, ErrWrongPhase)
	}
	if len(s.Teams) == 0 {
		return nil, fmt.Errorf("start round %d before seeding: %w", s.Round, ErrWrongPhase)
	}
	var errs error
	for _, c := range RoundContests(topo, s, s.Round) {
		slot, _ := topo.Slot(c.Slot)
		if !c.Full() {
			errs = multierr.Append(errs, fmt.Errorf("%s has %d of %d teams: %w", c.Slot, c.Seated(), len(c.Teams), ErrRoundIncomplete))
		}
		if slot.Judged() && c.Ref == "" {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", c.Slot, ErrNotLinked))
		}
	}
	if errs != nil {
		return nil, &RoundError{Round: s.Round, Err: errs}
	}
	return activation(topo, s, s.Round, at), nil
}

// activation emits the events that make every contest of round visible.
// Rest slots have nothing to play and finish at once.
func activation(topo *bracket.Topology, s State, round int, at time.Time) []Event {
	var events []Event
	for _, c := range RoundContests(topo, s, round) {
		events = append(events, Event{Type: EvtContestActivated, Round: round, Slot: c.Slot, Ref: c.Ref, At: at})
		if slot, _ := topo.Slot(c.Slot); !slot.Judged() {
			events = append(events, Event{Type: EvtContestFinished, Round: round, Slot: c.Slot})
		}
	}
	return events
}

func observe(s State, statuses map[string]ContestState) ([]Event, error) {
	if s.Phase != PhaseInProgress {
		return nil, fmt.Errorf("observe round %d in %s: %w", s.Round, s.Phase, ErrWrongPhase)
	}
	slots := make([]string, 0, len(statuses))
	for slot := range statuses {
		slots = append(slots, slot)
	}
	slices.Sort(slots)

	var events []Event
	for _, slot := range slots {
		c, ok := s.Contests[slot]
		if !ok || c.Round != s.Round {
			return nil, fmt.Errorf("%s is not in round %d: %w", slot, s.Round, bracket.ErrUnknownSlot)
		}
		seen := statuses[slot]
		// Observation only moves contests forward; a stale reading is ignored.
		if c.State.Before(ContestStarted) && !seen.Before(ContestStarted) {
			events = append(events, Event{Type: EvtContestStarted, Round: s.Round, Slot: slot})
		}
		if c.State.Before(ContestFinished) && !seen.Before(ContestFinished) {
			events = append(events, Event{Type: EvtContestFinished, Round: s.Round, Slot: slot})
		}
	}
	return events, nil
}

// decide records an order for one tied block. The order has to name exactly
// the teams of a block that outcomes leave tied.
func decide(topo *bracket.Topology, s State, d results.Decision, outcomes []results.Outcome) ([]Event, error) {
	if s.Phase != PhaseInProgress {
		return nil, fmt.Errorf("decide coin flip in %s: %w", s.Phase, ErrWrongPhase)
	}
	c, ok := s.Contests[d.Slot]
	if !ok || c.Round != s.Round {
		return nil, fmt.Errorf("%s is not in round %d: %w", d.Slot, s.Round, bracket.ErrUnknownSlot)
	}
	slot, _ := topo.Slot(d.Slot)
	if !slot.Judged() {
		return nil, fmt.Errorf("%s has no outcomes to tie: %w", d.Slot, results.ErrBadDecision)
	}
	if c.State.Before(ContestFinished) {
		return nil, fmt.Errorf("%s is %s: %w", d.Slot, c.State, ErrNotFinished)
	}
	for _, o := range outcomes {
		if !seated(c, o.TeamID) {
			return nil, fmt.Errorf("%s: outcome for team %d, which is not seated", d.Slot, o.TeamID)
		}
	}

	_, err := results.Compute(slot, outcomes)
	var flip *results.CoinFlipRequired
	if !errors.As(err, &flip) {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s: no tied teams: %w", d.Slot, results.ErrBadDecision)
	}
	if !slices.ContainsFunc(flip.Ties, func(tie []int) bool { return sameTeams(tie, d.Order) }) {
		return nil, fmt.Errorf("%s: order %v, tied %v: %w", d.Slot, d.Order, flip.Ties, results.ErrBadDecision)
	}
	d.Order = slices.Clone(d.Order)
	return []Event{{Type: EvtCoinFlipDecided, Round: s.Round, Slot: d.Slot, Decision: &d}}, nil
}

func activate(topo *bracket.Topology, s State) ([]Event, error) {
	if s.Phase != PhaseResultsProcessed || s.Staged == nil {
		return nil, fmt.Errorf("activate after round %d in %s: %w", s.Round, s.Phase, ErrWrongPhase)
	}
	if s.Validated == nil || !s.Validated.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, s.Validated)
	}

	var events []Event
	for _, e := range s.Staged.Exits {
		events = append(events, Event{Type: EvtTeamEliminated, Round: s.Round, Slot: e.Slot, TeamID: e.TeamID, Place: e.Place})
	}
	if s.Round == topo.LastRound() {
		return append(events, Event{Type: EvtTournamentCompleted, Round: s.Round}), nil
	}

	next := s.Round + 1
	var errs error
	for _, c := range RoundContests(topo, s, next) {
		if slot, _ := topo.Slot(c.Slot); slot.Judged() && c.Ref == "" {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", c.Slot, ErrNotLinked))
		}
	}
	if errs != nil {
		return nil, &RoundError{Round: next, Err: errs}
	}
	events = append(events, Event{Type: EvtRoundAdvanced, Round: next})
	return append(events, activation(topo, s, next, time.Time{})...), nil
}
