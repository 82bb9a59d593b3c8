package store

import (
	"time"

	"github.com/DoyleJ11/coder-combat/internal/advance"
	"github.com/DoyleJ11/coder-combat/internal/results"
	"github.com/DoyleJ11/coder-combat/internal/validate"
)

// Team is a registered team. ID is the internal team id used by the bracket.
type Team struct {
	ID          int    `gorm:"primaryKey;autoIncrement:false"`
	Name        string `gorm:"size:100;not null"`
	NameKey     string `gorm:"size:100;uniqueIndex;not null"` // folded name for duplicate checks
	Email       string `gorm:"size:254;uniqueIndex;not null"`
	Institution string `gorm:"size:200"`
	Ref         string `gorm:"size:64;index"` // judging system team id

	InPlay  bool // seeded into the bracket
	Live    bool
	Place   int
	OutSlot string `gorm:"size:64"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Tournament is the single row of round-level state.
type Tournament struct {
	ID         uint `gorm:"primaryKey"`
	Round      int
	Completed  bool
	Staged     *advance.Placement `gorm:"serializer:json"`
	Digest     string             `gorm:"size:64"`
	Validation *validate.Result   `gorm:"serializer:json"`
	UpdatedAt  time.Time
}

type Contest struct {
	Slot      string          `gorm:"primaryKey;size:64"`
	Round     int             `gorm:"index;not null"`
	Type      string          `gorm:"size:16;not null"`
	State     string          `gorm:"size:32;not null"`
	Ref       string          `gorm:"size:64"`
	Ranking   results.Ranking `gorm:"serializer:json"`
	UpdatedAt time.Time
}

type Assignment struct {
	ID       uint   `gorm:"primaryKey"`
	Round    int    `gorm:"index;not null"`
	Slot     string `gorm:"size:64;uniqueIndex:idx_seat;not null"`
	Position int    `gorm:"uniqueIndex:idx_seat;not null"`
	TeamID   int    `gorm:"index;not null"`
}

// Outcome rows are written once per (slot, team) and never updated.
type Outcome struct {
	ID          uint   `gorm:"primaryKey"`
	Slot        string `gorm:"size:64;uniqueIndex:idx_outcome;not null"`
	TeamID      int    `gorm:"uniqueIndex:idx_outcome;not null"`
	Solved      int
	Penalty     time.Duration
	TestsPassed int
	Solves      []results.Solve `gorm:"serializer:json"`
	CreatedAt   time.Time
}

type Decision struct {
	ID        uint   `gorm:"primaryKey"`
	Slot      string `gorm:"size:64;index;not null"`
	Order     []int  `gorm:"column:team_order;serializer:json"`
	CreatedAt time.Time
}

// Event is the audit trail of applied engine events.
type Event struct {
	ID        uint   `gorm:"primaryKey"`
	Type      string `gorm:"size:32;index;not null"`
	Round     int
	Slot      string `gorm:"size:64"`
	Payload   []byte
	CreatedAt time.Time
}
