package types

import (
	"time"

	"github.com/DoyleJ11/coder-combat/internal/standings"
	"github.com/DoyleJ11/coder-combat/internal/tournament"
)

type ClientMessage struct {
	Type string `json:"type"` // "GetState"
}

type ServerMessage struct {
	Type    string          `json:"type"` // "StateSnapshot" | "Error"
	Version int             `json:"version,omitempty"`
	View    *standings.View `json:"view,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type StartRequest struct {
	StartTime *time.Time `json:"start_time,omitempty"`
}

type DecideRequest struct {
	Slot  string `json:"slot"`
	Order []int  `json:"order"` // tied teams, best first
}

// CommandResponse answers every mutating route. Errors lists each failure
// when a command touched several contests.
type CommandResponse struct {
	Version int                `json:"version"`
	Summary string             `json:"summary"`
	Report  *tournament.Report `json:"report,omitempty"`
	Error   string             `json:"error,omitempty"`
	Errors  []string           `json:"errors,omitempty"`
}
