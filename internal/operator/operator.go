// Package operator serializes operator commands against the tournament and
// fans state snapshots out to watchers.
package operator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/coder-combat/internal/engine"
	"github.com/DoyleJ11/coder-combat/internal/metrics"
	"github.com/DoyleJ11/coder-combat/internal/results"
	"github.com/DoyleJ11/coder-combat/internal/standings"
	"github.com/DoyleJ11/coder-combat/internal/tournament"
)

// Service is what the operator drives. *tournament.Service implements it.
type Service interface {
	CreateContests(ctx context.Context) (tournament.Report, error)
	Seed(ctx context.Context) error
	Start(ctx context.Context, at time.Time) error
	Refresh(ctx context.Context) ([]engine.Event, error)
	Process(ctx context.Context) (engine.State, error)
	Decide(ctx context.Context, d results.Decision) error
	Activate(ctx context.Context) error
	View(ctx context.Context) (standings.View, error)
}

type Op string

const (
	OpCreateContests Op = "create_contests"
	OpSeed           Op = "seed"
	OpStart          Op = "start"
	OpRefresh        Op = "refresh"
	OpProcess        Op = "process"
	OpDecide         Op = "decide"
	OpActivate       Op = "activate"
)

type Command struct {
	Op       Op
	At       time.Time        // OpStart
	Decision results.Decision // OpDecide
}

type Msg interface{ isOperatorMsg() }

// Run executes a command. Exactly one Result is sent on Reply.
type Run struct {
	Ctx   context.Context
	Cmd   Command
	Reply chan Result
}

func (Run) isOperatorMsg() {}

type Join struct {
	ClientID string
	Outbox   chan Snapshot // where this watcher wants to receive snapshots
}

func (Join) isOperatorMsg() {}

type Leave struct{ ClientID string }

func (Leave) isOperatorMsg() {}

type Shutdown struct{}

func (Shutdown) isOperatorMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isOperatorMsg() {}

type Snapshot struct {
	Version int
	View    standings.View
}

type View struct {
	Version    int
	NumClients int
	View       standings.View
}

type Result struct {
	Version int
	View    standings.View
	Report  *tournament.Report // OpCreateContests
	Err     error
}

type Operator struct {
	inbox   chan Msg
	svc     Service
	log     *zap.Logger
	metrics *metrics.Metrics
	version int
	view    standings.View
	clients map[string]chan Snapshot
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(parent context.Context, svc Service, log *zap.Logger, m *metrics.Metrics) (*Operator, error) {
	view, err := svc.View(parent)
	if err != nil {
		return nil, fmt.Errorf("initial view: %w", err)
	}
	ctx, cancel := context.WithCancel(parent)

	o := &Operator{
		inbox:   make(chan Msg, 64),
		svc:     svc,
		log:     log.Named("operator"),
		metrics: m,
		view:    view,
		clients: make(map[string]chan Snapshot),
		ctx:     ctx,
		cancel:  cancel,
	}

	go o.loop()
	return o, nil
}

func (o *Operator) loop() {
	for {
		select {
		case <-o.ctx.Done():
			o.shutdown()
			return

		case m := <-o.inbox:
			switch msg := m.(type) {
			case Join:
				o.clients[msg.ClientID] = msg.Outbox
				msg.Outbox <- Snapshot{Version: o.version, View: o.view}
				o.metrics.SetWatchers(len(o.clients))

			case Leave:
				if _, ok := o.clients[msg.ClientID]; ok {
					delete(o.clients, msg.ClientID)
					o.metrics.SetWatchers(len(o.clients))
				}

			case Run:
				msg.Reply <- o.run(msg.Ctx, msg.Cmd)

			case GetState:
				msg.Reply <- View{
					Version:    o.version,
					NumClients: len(o.clients),
					View:       o.view,
				}

			case Shutdown:
				o.shutdown()
				return
			}
		}
	}
}

func (o *Operator) run(ctx context.Context, cmd Command) Result {
	if ctx == nil {
		ctx = o.ctx
	}
	var (
		res Result
		err error
	)
	switch cmd.Op {
	case OpCreateContests:
		var rep tournament.Report
		rep, err = o.svc.CreateContests(ctx)
		res.Report = &rep
	case OpSeed:
		err = o.svc.Seed(ctx)
	case OpStart:
		err = o.svc.Start(ctx, cmd.At)
	case OpRefresh:
		_, err = o.svc.Refresh(ctx)
	case OpProcess:
		_, err = o.svc.Process(ctx)
	case OpDecide:
		err = o.svc.Decide(ctx, cmd.Decision)
	case OpActivate:
		err = o.svc.Activate(ctx)
	default:
		err = fmt.Errorf("unknown operation %q", cmd.Op)
	}

	// CreateContests can commit some slots and still fail, so the view is
	// refreshed either way.
	if view, verr := o.svc.View(ctx); verr == nil {
		if err == nil || cmd.Op == OpCreateContests {
			o.view = view
			o.version++
			o.broadcast(Snapshot{Version: o.version, View: o.view})
		}
	} else if err == nil {
		err = verr
	}
	if err != nil {
		o.log.Info("operation failed", zap.String("op", string(cmd.Op)), zap.Error(err))
	}

	res.Version = o.version
	res.View = o.view
	res.Err = err
	return res
}

func (o *Operator) shutdown() {
	for id, ch := range o.clients {
		close(ch) // no more snapshots
		delete(o.clients, id)
	}
	o.metrics.SetWatchers(0)
	o.cancel()
}

func (o *Operator) broadcast(snap Snapshot) {
	for id, ch := range o.clients {
		select {
		case ch <- snap:
		default:
			// slow watcher, drop it
			close(ch)
			delete(o.clients, id)
		}
	}
	o.metrics.SetWatchers(len(o.clients))
}

// Inbox exposes the actor's mailbox to the HTTP and websocket layers.
func (o *Operator) Inbox() chan<- Msg { return o.inbox }

// Do sends cmd and waits for its result.
func (o *Operator) Do(ctx context.Context, cmd Command) Result {
	reply := make(chan Result, 1)
	select {
	case o.inbox <- Run{Ctx: ctx, Cmd: cmd, Reply: reply}:
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}
	select {
	case r := <-reply:
		return r
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}
}

// State returns the current snapshot.
func (o *Operator) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	select {
	case o.inbox <- GetState{Reply: reply}:
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

var _ Service = (*tournament.Service)(nil)
