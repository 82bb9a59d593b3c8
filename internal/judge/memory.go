package judge

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process judging system for dry runs and tests. Contest
// status is set explicitly; outcomes are whatever was recorded.
type Memory struct {
	mu       sync.Mutex
	next     int
	contests map[string]*memContest
	// Fail, when set, is returned by every call for the given contest.
	Fail map[string]error
}

type memContest struct {
	spec     ContestSpec
	status   Status
	activate time.Time
	start    time.Time
	teams    []string
	outcomes map[string]TeamOutcome
}

func NewMemory() *Memory {
	return &Memory{contests: make(map[string]*memContest), Fail: make(map[string]error)}
}

func (m *Memory) get(ref string) (*memContest, error) {
	if err := m.Fail[ref]; err != nil {
		return nil, err
	}
	c, ok := m.contests[ref]
	if !ok {
		return nil, fmt.Errorf("contest %s: %w", ref, ErrNotFound)
	}
	return c, nil
}

func (m *Memory) CreateContest(_ context.Context, spec ContestSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	ref := strconv.Itoa(m.next)
	m.contests[ref] = &memContest{spec: spec, status: StatusCreated, activate: spec.Activate, start: spec.Start, outcomes: map[string]TeamOutcome{}}
	return ref, nil
}

func (m *Memory) Status(_ context.Context, ref string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.get(ref)
	if err != nil {
		return "", err
	}
	return c.status, nil
}

func (m *Memory) Outcomes(_ context.Context, ref string, teams []string) ([]TeamOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.get(ref)
	if err != nil {
		return nil, err
	}
	out := make([]TeamOutcome, 0, len(teams))
	for _, t := range teams {
		o, ok := c.outcomes[t]
		if !ok {
			o = TeamOutcome{TeamRef: t}
		}
		out = append(out, o)
	}
	return out, nil
}

func (m *Memory) SetActivationTime(_ context.Context, ref string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.get(ref)
	if err != nil {
		return err
	}
	c.activate = at
	if c.status == StatusCreated {
		c.status = StatusActivated
	}
	return nil
}

func (m *Memory) SetStartTime(_ context.Context, ref string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.get(ref)
	if err != nil {
		return err
	}
	c.start = at
	return nil
}

func (m *Memory) AssignTeam(_ context.Context, teamRef, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.get(ref)
	if err != nil {
		return err
	}
	if !slices.Contains(c.teams, teamRef) {
		c.teams = append(c.teams, teamRef)
	}
	return nil
}

// SetStatus moves a contest to s.
func (m *Memory) SetStatus(ref string, s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contests[ref]; ok {
		c.status = s
	}
}

// Record stores the outcome a team will report for a contest.
func (m *Memory) Record(ref string, o TeamOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contests[ref]; ok {
		c.outcomes[o.TeamRef] = o
	}
}

// Teams returns the teams assigned to a contest.
func (m *Memory) Teams(ref string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contests[ref]; ok {
		return slices.Clone(c.teams)
	}
	return nil
}

// Spec returns what a contest was created with.
func (m *Memory) Spec(ref string) (ContestSpec, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contests[ref]
	if !ok {
		return ContestSpec{}, false
	}
	return c.spec, true
}

var _ Client = (*Memory)(nil)
var _ Client = (*DOMjudge)(nil)

// Schedule returns the activation and start times last set for a contest.
func (m *Memory) Schedule(ref string) (activate, start time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contests[ref]; ok {
		return c.activate, c.start
	}
	return time.Time{}, time.Time{}
}
