package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/coder-combat/internal/metrics"
)

type Config struct {
	BaseURL  string // e.g. https://judge.example.org/api/v4
	Username string
	Password string
	Timeout  time.Duration
	Attempts int // total tries per request
	Backoff  time.Duration
	Penalty  time.Duration // per rejected submission before an accept
}

// DOMjudge talks to the DOMjudge REST API.
type DOMjudge struct {
	cfg     Config
	http    *http.Client
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewDOMjudge(cfg Config, log *zap.Logger, m *metrics.Metrics) *DOMjudge {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 250 * time.Millisecond
	}
	return &DOMjudge{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log.Named("judge"),
		metrics: m,
		now:     time.Now,
	}
}

type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

func transient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	var ne net.Error
	return errors.As(err, &ne) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// call runs one API request with bounded exponential backoff. Only network
// failures and 5xx/429 answers are retried.
func (d *DOMjudge) call(ctx context.Context, op, contest, method, path string, body, out any) error {
	start := time.Now()
	attempts := 0
	lastTransient := false

	b := retry.WithMaxRetries(uint64(d.cfg.Attempts-1), retry.NewExponential(d.cfg.Backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			d.metrics.Retry(op)
		}
		err := d.once(ctx, method, path, body, out)
		lastTransient = err != nil && transient(err)
		if lastTransient {
			d.log.Warn("judge request failed",
				zap.String("op", op),
				zap.String("contest", contest),
				zap.Int("attempt", attempts),
				zap.Error(err))
			return retry.RetryableError(err)
		}
		return err
	})
	d.metrics.ObserveJudge(op, start, err)

	switch {
	case err == nil:
		d.log.Debug("judge request", zap.String("op", op), zap.String("contest", contest), zap.Int("attempts", attempts))
		return nil
	case lastTransient:
		return &UnreachableError{Op: op, Contest: contest, Attempts: attempts, Err: err}
	default:
		return fmt.Errorf("%s contest %s: %w", op, contest, err)
	}
}

func (d *DOMjudge) once(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(d.cfg.BaseURL, "/")+path, rd)
	if err != nil {
		return err
	}
	req.SetBasicAuth(d.cfg.Username, d.cfg.Password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type contestJSON struct {
	ID           string     `json:"id,omitempty"`
	ShortName    string     `json:"shortname,omitempty"`
	Name         string     `json:"name,omitempty"`
	ActivateTime *time.Time `json:"activate_time,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Duration     string     `json:"duration,omitempty"`
	PenaltyTime  int        `json:"penalty_time,omitempty"` // minutes
}

func contestPath(ref string) string { return "/contests/" + url.PathEscape(ref) }

func (d *DOMjudge) CreateContest(ctx context.Context, spec ContestSpec) (string, error) {
	body := contestJSON{
		ShortName:    spec.ShortName,
		Name:         spec.Name,
		ActivateTime: &spec.Activate,
		StartTime:    &spec.Start,
		Duration:     formatRelTime(spec.Duration),
		PenaltyTime:  int(spec.Penalty / time.Minute),
	}
	var id string
	if err := d.call(ctx, "create", spec.ShortName, http.MethodPost, "/contests", body, &id); err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("create contest %s: empty id", spec.ShortName)
	}
	return id, nil
}

func (d *DOMjudge) Status(ctx context.Context, ref string) (Status, error) {
	var c contestJSON
	if err := d.call(ctx, "status", ref, http.MethodGet, contestPath(ref), nil, &c); err != nil {
		return "", err
	}
	var activate, start, end time.Time
	if c.ActivateTime != nil {
		activate = *c.ActivateTime
	}
	if c.StartTime != nil {
		start = *c.StartTime
	}
	if c.EndTime != nil {
		end = *c.EndTime
	}
	return StatusAt(d.now(), activate, start, end), nil
}

func (d *DOMjudge) SetActivationTime(ctx context.Context, ref string, at time.Time) error {
	body := contestJSON{ID: ref, ActivateTime: &at}
	return d.call(ctx, "activate", ref, http.MethodPatch, contestPath(ref), body, nil)
}

func (d *DOMjudge) SetStartTime(ctx context.Context, ref string, at time.Time) error {
	body := contestJSON{ID: ref, StartTime: &at}
	return d.call(ctx, "start", ref, http.MethodPatch, contestPath(ref), body, nil)
}

func (d *DOMjudge) AssignTeam(ctx context.Context, teamRef, ref string) error {
	path := contestPath(ref) + "/teams/" + url.PathEscape(teamRef)
	return d.call(ctx, "assign", ref, http.MethodPut, path, nil, nil)
}

// Outcomes fetches submissions, judgements and test runs concurrently and
// folds them into per-team outcomes.
func (d *DOMjudge) Outcomes(ctx context.Context, ref string, teams []string) ([]TeamOutcome, error) {
	var (
		subs   []submission
		judged []judgement
		runs   []run
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.call(gctx, "submissions", ref, http.MethodGet, contestPath(ref)+"/submissions", nil, &subs)
	})
	g.Go(func() error {
		return d.call(gctx, "judgements", ref, http.MethodGet, contestPath(ref)+"/judgements", nil, &judged)
	})
	g.Go(func() error {
		return d.call(gctx, "runs", ref, http.MethodGet, contestPath(ref)+"/runs", nil, &runs)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return buildOutcomes(teams, subs, judged, runs, d.cfg.Penalty)
}
