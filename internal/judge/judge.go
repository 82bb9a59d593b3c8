package judge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/coder-combat/internal/results"
)

var ErrNotFound = errors.New("not found in judging system")

// Status is what the judging system reports about a contest.
type Status string

const (
	StatusCreated   Status = "created"
	StatusActivated Status = "activated"
	StatusStarted   Status = "started"
	StatusFinished  Status = "finished"
)

// ContestSpec describes a contest to create in the judging system.
type ContestSpec struct {
	ShortName string
	Name      string
	Activate  time.Time
	Start     time.Time
	Duration  time.Duration
	Penalty   time.Duration
}

// TeamOutcome is the raw result of one team, keyed by its judging system id.
type TeamOutcome struct {
	TeamRef string
	results.Outcome
}

// Client is the judging collaborator. Every call may block on the network.
type Client interface {
	CreateContest(ctx context.Context, spec ContestSpec) (string, error)
	Status(ctx context.Context, ref string) (Status, error)
	// Outcomes returns one outcome per team in teams, in that order. Teams
	// without submissions get an empty outcome.
	Outcomes(ctx context.Context, ref string, teams []string) ([]TeamOutcome, error)
	SetActivationTime(ctx context.Context, ref string, at time.Time) error
	SetStartTime(ctx context.Context, ref string, at time.Time) error
	AssignTeam(ctx context.Context, teamRef, ref string) error
}

// UnreachableError is returned once retries against the judging system are
// exhausted.
type UnreachableError struct {
	Op       string
	Contest  string
	Attempts int
	Err      error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("judging system unreachable: %s contest %s after %d attempts: %v", e.Op, e.Contest, e.Attempts, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// StatusAt derives a contest status from its schedule.
func StatusAt(now, activate, start, end time.Time) Status {
	switch {
	case !end.IsZero() && !now.Before(end):
		return StatusFinished
	case !start.IsZero() && !now.Before(start):
		return StatusStarted
	case !activate.IsZero() && !now.Before(activate):
		return StatusActivated
	default:
		return StatusCreated
	}
}
