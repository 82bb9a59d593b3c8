package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/crypto/bcrypt"

	"github.com/DoyleJ11/coder-combat/internal/bracket"
	"github.com/DoyleJ11/coder-combat/internal/engine"
	"github.com/DoyleJ11/coder-combat/internal/judge"
	"github.com/DoyleJ11/coder-combat/internal/operator"
	"github.com/DoyleJ11/coder-combat/internal/results"
	"github.com/DoyleJ11/coder-combat/internal/types"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a refused command to an HTTP status.
func statusFor(err error) int {
	var unreachable *judge.UnreachableError
	switch {
	case errors.As(err, &unreachable):
		return http.StatusBadGateway
	case errors.Is(err, bracket.ErrUnknownSlot), errors.Is(err, results.ErrBadDecision):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrWrongPhase),
		errors.Is(err, engine.ErrNotFinished),
		errors.Is(err, engine.ErrRoundIncomplete),
		errors.Is(err, engine.ErrNotLinked),
		errors.Is(err, engine.ErrValidationFailed),
		errors.Is(err, engine.ErrAlreadySeeded),
		errors.Is(err, engine.ErrTournamentComplete):
		return http.StatusConflict
	default:
		var flip *results.CoinFlipRequired
		if errors.As(err, &flip) {
			return http.StatusConflict
		}
		return http.StatusInternalServerError
	}
}

func respond(w http.ResponseWriter, res operator.Result) {
	body := types.CommandResponse{Version: res.Version, Summary: res.View.Summary, Report: res.Report}
	if res.Err == nil {
		writeJSON(w, http.StatusOK, body)
		return
	}
	body.Error = res.Err.Error()
	var re *engine.RoundError
	if errors.As(res.Err, &re) {
		for _, e := range multierr.Errors(re.Err) {
			body.Errors = append(body.Errors, e.Error())
		}
	}
	writeJSON(w, statusFor(res.Err), body)
}

// Run executes one operator command built from the request.
func Run(op *operator.Operator, build func(r *http.Request) (operator.Command, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cmd, err := build(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, types.CommandResponse{Error: err.Error()})
			return
		}
		respond(w, op.Do(r.Context(), cmd))
	}
}

func simple(o operator.Op) func(*http.Request) (operator.Command, error) {
	return func(*http.Request) (operator.Command, error) { return operator.Command{Op: o}, nil }
}

func startCommand(r *http.Request) (operator.Command, error) {
	var req types.StartRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return operator.Command{}, err
		}
	}
	cmd := operator.Command{Op: operator.OpStart}
	if req.StartTime != nil {
		cmd.At = req.StartTime.UTC().Truncate(time.Second)
	}
	return cmd, nil
}

func decideCommand(r *http.Request) (operator.Command, error) {
	var req types.DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return operator.Command{}, err
	}
	if req.Slot == "" || len(req.Order) < 2 {
		return operator.Command{}, errors.New("slot and at least two teams are required")
	}
	return operator.Command{Op: operator.OpDecide, Decision: results.Decision{Slot: req.Slot, Order: req.Order}}, nil
}

func State(op *operator.Operator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := op.State(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, types.ServerMessage{Type: "StateSnapshot", Version: v.Version, View: &v.View})
	}
}

// Standings serves the placings as JSON, or the terminal rendering with
// ?format=text.
func Standings(op *operator.Operator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := op.State(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if r.URL.Query().Get("format") == "text" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_ = v.View.Render(w)
			return
		}
		writeJSON(w, http.StatusOK, v.View.Standings)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// RequireOperator guards mutating routes with HTTP basic auth against a
// bcrypt hash of the operator password.
func RequireOperator(hash []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, password, ok := r.BasicAuth()
			if !ok || len(hash) == 0 || bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="operator"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
