package operator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/coder-combat/internal/engine"
	"github.com/DoyleJ11/coder-combat/internal/results"
	"github.com/DoyleJ11/coder-combat/internal/standings"
	"github.com/DoyleJ11/coder-combat/internal/tournament"
)

// fakeService moves one round forward per activate and fails whatever op is
// listed in fail.
type fakeService struct {
	round   int
	ops     []Op
	decided []results.Decision
	fail    map[Op]error
}

func (f *fakeService) do(op Op) error {
	f.ops = append(f.ops, op)
	return f.fail[op]
}

func (f *fakeService) CreateContests(context.Context) (tournament.Report, error) {
	return tournament.Report{Rounds: []tournament.RoundReport{{Round: 1, Planned: 24, Created: 24}}}, f.do(OpCreateContests)
}

func (f *fakeService) Seed(context.Context) error {
	return f.do(OpSeed)
}

func (f *fakeService) Start(context.Context, time.Time) error {
	return f.do(OpStart)
}

func (f *fakeService) Refresh(context.Context) ([]engine.Event, error) {
	return nil, f.do(OpRefresh)
}

func (f *fakeService) Process(context.Context) (engine.State, error) {
	return engine.State{}, f.do(OpProcess)
}

func (f *fakeService) Decide(_ context.Context, d results.Decision) error {
	f.decided = append(f.decided, d)
	return f.do(OpDecide)
}

func (f *fakeService) Activate(context.Context) error {
	if err := f.do(OpActivate); err != nil {
		return err
	}
	f.round++
	return nil
}

func (f *fakeService) View(context.Context) (standings.View, error) {
	return standings.View{Round: f.round, Summary: fmt.Sprintf("Round %d - Setup", f.round)}, nil
}

// helper: receive one snapshot with a timeout so tests never hang
func recvSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("watcher outbox closed unexpectedly")
		}
		return snap
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func recvNoSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no snapshot within %v, but got: %+v", within, s)
	case <-time.After(within):
	}
}

func start(t *testing.T, svc Service) *Operator {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	o, err := New(ctx, svc, zap.NewNop(), nil)
	require.NoError(t, err)
	return o
}

func TestRunBroadcastsSnapshot(t *testing.T) {
	svc := &fakeService{round: 1}
	o := start(t, svc)

	out := make(chan Snapshot, 2)
	o.Inbox() <- Join{ClientID: "w1", Outbox: out}
	first := recvSnapshot(t, out, 100*time.Millisecond)
	assert.Equal(t, 0, first.Version)
	assert.Equal(t, 1, first.View.Round)

	res := o.Do(context.Background(), Command{Op: OpActivate})
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Version)
	assert.Equal(t, 2, res.View.Round)

	next := recvSnapshot(t, out, 100*time.Millisecond)
	assert.Equal(t, 1, next.Version)
	assert.Equal(t, "Round 2 - Setup", next.View.Summary)
}

func TestFailedRunKeepsVersion(t *testing.T) {
	refused := errors.New("refused")
	svc := &fakeService{round: 1, fail: map[Op]error{OpProcess: refused}}
	o := start(t, svc)

	out := make(chan Snapshot, 2)
	o.Inbox() <- Join{ClientID: "w1", Outbox: out}
	recvSnapshot(t, out, 100*time.Millisecond)

	res := o.Do(context.Background(), Command{Op: OpProcess})
	require.ErrorIs(t, res.Err, refused)
	assert.Equal(t, 0, res.Version)
	recvNoSnapshot(t, out, 50*time.Millisecond)
}

func TestCommandsReachService(t *testing.T) {
	cases := []struct {
		name string
		cmd  Command
		want Op
	}{
		{"create", Command{Op: OpCreateContests}, OpCreateContests},
		{"seed", Command{Op: OpSeed}, OpSeed},
		{"start", Command{Op: OpStart, At: time.Now()}, OpStart},
		{"refresh", Command{Op: OpRefresh}, OpRefresh},
		{"process", Command{Op: OpProcess}, OpProcess},
		{"decide", Command{Op: OpDecide, Decision: results.Decision{Slot: "R1_Duel_01", Order: []int{2, 1}}}, OpDecide},
		{"activate", Command{Op: OpActivate}, OpActivate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{round: 1}
			o := start(t, svc)
			res := o.Do(context.Background(), tc.cmd)
			require.NoError(t, res.Err)
			assert.Equal(t, []Op{tc.want}, svc.ops)
			if tc.want == OpCreateContests {
				require.NotNil(t, res.Report)
				assert.True(t, res.Report.Complete())
			}
		})
	}

	o := start(t, &fakeService{})
	res := o.Do(context.Background(), Command{Op: "rewind"})
	assert.Error(t, res.Err)
}

func TestDropSlowWatcher(t *testing.T) {
	o := start(t, &fakeService{round: 1})

	out := make(chan Snapshot, 1)
	o.Inbox() <- Join{ClientID: "slow", Outbox: out}
	// the join snapshot fills the buffer, so the next broadcast cannot land
	require.NoError(t, o.Do(context.Background(), Command{Op: OpActivate}).Err)

	v, err := o.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, v.NumClients)
	assert.Equal(t, 1, v.Version)
}

func TestShutdownClosesWatchers(t *testing.T) {
	o := start(t, &fakeService{round: 1})

	out := make(chan Snapshot, 2)
	o.Inbox() <- Join{ClientID: "w1", Outbox: out}
	recvSnapshot(t, out, 100*time.Millisecond)
	o.Inbox() <- Shutdown{}

	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("outbox not closed on shutdown")
	}
}
