// Package tournament runs operator commands: it talks to the judging system,
// applies the result to the bracket engine and commits it to the store.
package tournament

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/DoyleJ11/coder-combat/internal/bracket"
	"github.com/DoyleJ11/coder-combat/internal/engine"
	"github.com/DoyleJ11/coder-combat/internal/judge"
	"github.com/DoyleJ11/coder-combat/internal/metrics"
	"github.com/DoyleJ11/coder-combat/internal/results"
	"github.com/DoyleJ11/coder-combat/internal/roster"
	"github.com/DoyleJ11/coder-combat/internal/standings"
	"github.com/DoyleJ11/coder-combat/internal/store"
	"github.com/DoyleJ11/coder-combat/internal/validate"
)

var ErrNoTeamRef = errors.New("team has no judging system reference")

// judgeLimit caps concurrent calls to the judging system per command.
const judgeLimit = 8

type Options struct {
	Duration        time.Duration // contest length
	Penalty         time.Duration
	ActivationDelay time.Duration // how far ahead new contests are activated
	StartDelay      time.Duration // start time after activation
	Now             func() time.Time
}

func (o *Options) defaults() {
	if o.Duration == 0 {
		o.Duration = 50 * time.Minute
	}
	if o.Penalty == 0 {
		o.Penalty = 5 * time.Minute
	}
	if o.ActivationDelay == 0 {
		o.ActivationDelay = 48 * time.Hour
	}
	if o.StartDelay == 0 {
		o.StartDelay = time.Hour
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Publisher receives the standings view after every committed command.
type Publisher interface {
	Publish(ctx context.Context, v standings.View) error
}

// Service is not safe for concurrent use; the operator actor serializes
// access to it.
type Service struct {
	topo    *bracket.Topology
	judge   judge.Client
	store   *store.Store
	log     *zap.Logger
	metrics *metrics.Metrics
	opts    Options
	pub     Publisher

	state engine.State
}

func New(topo *bracket.Topology, j judge.Client, st *store.Store, log *zap.Logger, m *metrics.Metrics, opts Options) *Service {
	opts.defaults()
	return &Service{
		topo:    topo,
		judge:   j,
		store:   st,
		log:     log.Named("tournament"),
		metrics: m,
		opts:    opts,
		state:   engine.NewState(topo),
	}
}

func (s *Service) SetPublisher(p Publisher) { s.pub = p }

func (s *Service) Topology() *bracket.Topology { return s.topo }

// Open loads the persisted tournament.
func (s *Service) Open(ctx context.Context) error {
	st, err := s.store.Load(ctx, s.topo)
	if err != nil {
		return fmt.Errorf("load tournament: %w", err)
	}
	s.state = st
	s.metrics.Progress(st.Round, len(engine.Live(st)))
	s.log.Info("tournament loaded", zap.String("summary", engine.Summary(st)))
	return nil
}

// State returns a copy of the current state.
func (s *Service) State() engine.State { return engine.Clone(s.state) }

func (s *Service) View(ctx context.Context) (standings.View, error) {
	teams, err := s.store.Teams(ctx)
	if err != nil {
		return standings.View{}, err
	}
	names := make(map[int]string, len(teams))
	for _, t := range teams {
		names[t.ID] = t.Name
	}
	return standings.Build(s.topo, s.state, names), nil
}

// Register stores a validated roster. Teams are numbered in roster order.
func (s *Service) Register(ctx context.Context, teams []roster.Team) error {
	if err := roster.Check(teams, s.topo.Teams); err != nil {
		return err
	}
	existing, err := s.store.Teams(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return fmt.Errorf("%d teams already registered: %w", len(existing), store.ErrDuplicateTeam)
	}
	rows := make([]store.Team, len(teams))
	for i, t := range teams {
		rows[i] = store.Team{
			ID:          i + 1,
			Name:        t.Name,
			NameKey:     t.Key,
			Email:       t.Email,
			Institution: t.Institution,
			Ref:         t.Ref,
		}
	}
	return s.store.AddTeams(ctx, rows)
}

func (s *Service) SetTeamRef(ctx context.Context, id int, ref string) error {
	return s.store.SetTeamRef(ctx, id, ref)
}

// commit applies cmd and persists the outcome. effects, when set, runs
// against the judging system before anything is saved; if it fails the
// state is left as it was.
func (s *Service) commit(ctx context.Context, cmd engine.Command, effects func(next engine.State) error) ([]engine.Event, error) {
	events, next, err := engine.Apply(s.topo, s.state, cmd)
	if err == nil && effects != nil {
		err = effects(next)
	}
	if err == nil {
		err = s.store.Save(ctx, s.topo, next, events)
	}
	s.metrics.Transition(string(cmd.Type), err)
	if err != nil {
		s.log.Warn("command refused", zap.String("command", string(cmd.Type)), zap.Int("round", s.state.Round), zap.Error(err))
		return nil, err
	}

	s.state = next
	s.metrics.Progress(next.Round, len(engine.Live(next)))
	s.log.Info("command applied",
		zap.String("command", string(cmd.Type)),
		zap.Int("events", len(events)),
		zap.String("summary", engine.Summary(next)),
	)
	s.publish(ctx)
	return events, nil
}

func (s *Service) publish(ctx context.Context) {
	if s.pub == nil {
		return
	}
	v, err := s.View(ctx)
	if err == nil {
		err = s.pub.Publish(ctx, v)
	}
	if err != nil {
		s.log.Warn("standings not published", zap.Error(err))
	}
}

// RoundReport compares planned and created contests of one round.
type RoundReport struct {
	Round   int `json:"round"`
	Planned int `json:"planned"`
	Created int `json:"created"`
}

type Report struct {
	Rounds []RoundReport `json:"rounds"`
}

func (r Report) Complete() bool {
	for _, rr := range r.Rounds {
		if rr.Created != rr.Planned {
			return false
		}
	}
	return true
}

var title = cases.Title(language.English)

// CreateContests creates every judged contest that has no reference yet.
// New contests are activated far in the future so teams cannot see them.
// Slots that fail are reported and can be retried.
func (s *Service) CreateContests(ctx context.Context) (Report, error) {
	var errs error
	for _, slot := range s.topo.Slots() {
		if !slot.Judged() || s.state.Contests[slot.ID].Ref != "" {
			continue
		}
		activate := s.opts.Now().Add(s.opts.ActivationDelay).Truncate(time.Second)
		ref, err := s.judge.CreateContest(ctx, judge.ContestSpec{
			ShortName: slot.ID,
			Name:      fmt.Sprintf("%s - %s", slot.ID, title.String(string(slot.Type))),
			Activate:  activate,
			Start:     activate.Add(s.opts.StartDelay),
			Duration:  s.opts.Duration,
			Penalty:   s.opts.Penalty,
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("create %s: %w", slot.ID, err))
			continue
		}
		if _, err := s.commit(ctx, engine.Command{Type: engine.CmdLinkContest, Slot: slot.ID, Ref: ref}, nil); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		s.log.Info("contest created", zap.String("slot", slot.ID), zap.String("ref", ref))
	}
	return s.Report(), errs
}

func (s *Service) Report() Report {
	var rep Report
	for _, r := range s.topo.Rounds {
		rr := RoundReport{Round: r.Number}
		for _, slot := range r.Slots {
			if !slot.Judged() {
				continue
			}
			rr.Planned++
			if s.state.Contests[slot.ID].Ref != "" {
				rr.Created++
			}
		}
		rep.Rounds = append(rep.Rounds, rr)
	}
	return rep
}

// Seed places the registered teams into the first round in registration
// order.
func (s *Service) Seed(ctx context.Context) error {
	teams, err := s.store.Teams(ctx)
	if err != nil {
		return err
	}
	ids := make([]int, len(teams))
	for i, t := range teams {
		ids[i] = t.ID
	}
	_, err = s.commit(ctx, engine.Command{Type: engine.CmdSeed, Teams: ids}, nil)
	return err
}

// Start makes the current round visible: teams are assigned to their
// contests, which are activated now. A non-zero at also sets the start time.
func (s *Service) Start(ctx context.Context, at time.Time) error {
	_, err := s.commit(ctx, engine.Command{Type: engine.CmdStartRound, At: at}, func(next engine.State) error {
		return s.openContests(ctx, next, next.Round, at)
	})
	return err
}

// Activate moves the staged assignments into the next round and opens its
// contests.
func (s *Service) Activate(ctx context.Context) error {
	_, err := s.commit(ctx, engine.Command{Type: engine.CmdActivateNextRound}, func(next engine.State) error {
		if next.Completed {
			return nil
		}
		return s.openContests(ctx, next, next.Round, time.Time{})
	})
	return err
}

// Decide records a coin-flip order for a finished contest. The order is
// checked against the ties in the contest's outcomes, which are fetched here
// when no Process run has stored them yet.
func (s *Service) Decide(ctx context.Context, d results.Decision) error {
	cmd := engine.Command{Type: engine.CmdDecideCoinFlip, Decision: d}
	c, ok := s.state.Contests[d.Slot]
	slot, _ := s.topo.Slot(d.Slot)
	if ok && slot.Judged() && c.Round == s.state.Round && !c.State.Before(engine.ContestFinished) {
		refs, err := s.teamRefs(ctx)
		if err != nil {
			return err
		}
		got, err := s.outcomes(ctx, c, refs)
		if err != nil {
			s.metrics.Transition(string(engine.CmdDecideCoinFlip), err)
			return err
		}
		cmd.Outcomes = map[string][]results.Outcome{d.Slot: got}
	}
	_, err := s.commit(ctx, cmd, nil)
	return err
}

func (s *Service) teamRefs(ctx context.Context) (map[int]string, error) {
	teams, err := s.store.Teams(ctx)
	if err != nil {
		return nil, err
	}
	refs := make(map[int]string, len(teams))
	for _, t := range teams {
		refs[t.ID] = t.Ref
	}
	return refs, nil
}

// eachContest runs fn for every judged contest of round, a few at a time.
// All failures are collected into a RoundError.
func (s *Service) eachContest(ctx context.Context, st engine.State, round int, fn func(ctx context.Context, c engine.Contest) error) error {
	var (
		mu   sync.Mutex
		errs error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(judgeLimit)
	for _, c := range engine.RoundContests(s.topo, st, round) {
		if slot, _ := s.topo.Slot(c.Slot); !slot.Judged() {
			continue
		}
		g.Go(func() error {
			if err := fn(gctx, c); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", c.Slot, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if errs != nil {
		return &engine.RoundError{Round: round, Err: errs}
	}
	return nil
}

func (s *Service) openContests(ctx context.Context, st engine.State, round int, at time.Time) error {
	refs, err := s.teamRefs(ctx)
	if err != nil {
		return err
	}
	now := s.opts.Now().Truncate(time.Second)
	err = s.eachContest(ctx, st, round, func(ctx context.Context, c engine.Contest) error {
		for _, id := range c.Teams {
			ref := refs[id]
			if ref == "" {
				return fmt.Errorf("team %d: %w", id, ErrNoTeamRef)
			}
			if err := s.judge.AssignTeam(ctx, ref, c.Ref); err != nil {
				return fmt.Errorf("assign team %d: %w", id, err)
			}
		}
		if err := s.judge.SetActivationTime(ctx, c.Ref, now); err != nil {
			return err
		}
		if !at.IsZero() {
			return s.judge.SetStartTime(ctx, c.Ref, at)
		}
		return nil
	})
	if err != nil {
		s.withdraw(ctx, st, round)
	}
	return err
}

// withdraw moves the activation of every contest of round back to the far
// future after a failed open, so teams see none of them while the round is
// still in setup. Assigned teams stay assigned.
func (s *Service) withdraw(ctx context.Context, st engine.State, round int) {
	later := s.opts.Now().Add(s.opts.ActivationDelay).Truncate(time.Second)
	err := s.eachContest(ctx, st, round, func(ctx context.Context, c engine.Contest) error {
		return s.judge.SetActivationTime(ctx, c.Ref, later)
	})
	if err != nil {
		s.log.Warn("contests may be visible after a failed open", zap.Int("round", round), zap.Error(err))
	}
}

var observed = map[judge.Status]engine.ContestState{
	judge.StatusCreated:   engine.ContestCreated,
	judge.StatusActivated: engine.ContestActivated,
	judge.StatusStarted:   engine.ContestStarted,
	judge.StatusFinished:  engine.ContestFinished,
}

// Refresh polls the judging system for the status of the current round's
// contests and records the ones that moved on.
func (s *Service) Refresh(ctx context.Context) ([]engine.Event, error) {
	var mu sync.Mutex
	statuses := map[string]engine.ContestState{}
	err := s.eachContest(ctx, s.state, s.state.Round, func(ctx context.Context, c engine.Contest) error {
		if !c.State.Before(engine.ContestFinished) {
			return nil
		}
		st, err := s.judge.Status(ctx, c.Ref)
		if err != nil {
			return err
		}
		cs, ok := observed[st]
		if !ok {
			return fmt.Errorf("unknown status %q", st)
		}
		mu.Lock()
		statuses[c.Slot] = cs
		mu.Unlock()
		return nil
	})
	if err != nil {
		s.metrics.Transition(string(engine.CmdObserveStatus), err)
		return nil, err
	}
	return s.commit(ctx, engine.Command{Type: engine.CmdObserveStatus, Statuses: statuses}, nil)
}

// Process retrieves the outcomes of every finished contest of the current
// round, ranks them and stages the next round. Outcomes are fetched once:
// later runs reuse what was stored, so a re-run yields the same staging.
func (s *Service) Process(ctx context.Context) (engine.State, error) {
	refs, err := s.teamRefs(ctx)
	if err != nil {
		return engine.State{}, err
	}

	var mu sync.Mutex
	outcomes := map[string][]results.Outcome{}
	err = s.eachContest(ctx, s.state, s.state.Round, func(ctx context.Context, c engine.Contest) error {
		if c.State.Before(engine.ContestFinished) {
			return engine.ErrNotFinished
		}
		got, err := s.outcomes(ctx, c, refs)
		if err != nil {
			return err
		}
		mu.Lock()
		outcomes[c.Slot] = got
		mu.Unlock()
		return nil
	})
	if err != nil {
		s.metrics.Transition(string(engine.CmdProcessResults), err)
		return engine.State{}, err
	}

	if _, err := s.commit(ctx, engine.Command{Type: engine.CmdProcessResults, Outcomes: outcomes}, nil); err != nil {
		return engine.State{}, err
	}
	return s.State(), nil
}

func (s *Service) outcomes(ctx context.Context, c engine.Contest, refs map[int]string) ([]results.Outcome, error) {
	stored, err := s.store.Outcomes(ctx, c.Slot)
	if err != nil {
		return nil, err
	}
	if len(stored) == len(c.Teams) {
		return stored, nil
	}

	teamRefs := make([]string, len(c.Teams))
	byRef := make(map[string]int, len(c.Teams))
	for i, id := range c.Teams {
		if refs[id] == "" {
			return nil, fmt.Errorf("team %d: %w", id, ErrNoTeamRef)
		}
		teamRefs[i] = refs[id]
		byRef[refs[id]] = id
	}
	raw, err := s.judge.Outcomes(ctx, c.Ref, teamRefs)
	if err != nil {
		return nil, err
	}
	out := make([]results.Outcome, 0, len(raw))
	for _, r := range raw {
		id, ok := byRef[r.TeamRef]
		if !ok {
			return nil, fmt.Errorf("outcome for unknown team %q", r.TeamRef)
		}
		o := r.Outcome
		o.TeamID = id
		out = append(out, o)
	}
	if err := s.store.RecordOutcomes(ctx, c.Slot, out); err != nil {
		return nil, err
	}
	s.log.Debug("outcomes recorded", zap.String("slot", c.Slot), zap.Int("teams", len(out)))
	// rows written by an earlier, partial run win over the fresh fetch
	return s.store.Outcomes(ctx, c.Slot)
}

// Revalidate re-runs the bracket validator over the current round.
func (s *Service) Revalidate() validate.Result {
	return engine.Revalidate(s.topo, s.state)
}
