package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/coder-combat/internal/bracket"
	"github.com/DoyleJ11/coder-combat/internal/engine"
	"github.com/DoyleJ11/coder-combat/internal/results"
)

var ErrDuplicateTeam = errors.New("team already registered")

const tournamentID = 1

type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// gormWriter routes gorm's logger through zap.
type gormWriter struct{ s *zap.SugaredLogger }

func (w gormWriter) Printf(format string, args ...any) { w.s.Debugf(format, args...) }

func gormConfig(log *zap.Logger) *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger: logger.New(gormWriter{log.Named("gorm").Sugar()}, logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}
}

// Open connects to postgres.
func Open(dsn string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig(log))
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return New(db, log), nil
}

// OpenSQLite opens a sqlite database, ":memory:" included.
func OpenSQLite(path string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), gormConfig(log))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; a pooled ":memory:" connection would also see
	// its own empty database.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return New(db, log), nil
}

func New(db *gorm.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log.Named("store")}
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&Team{}, &Tournament{}, &Contest{}, &Assignment{}, &Outcome{}, &Decision{}, &Event{},
	)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func duplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// AddTeams registers teams in one transaction. A name or email clash with an
// existing team fails the whole batch with ErrDuplicateTeam.
func (s *Store) AddTeams(ctx context.Context, teams []Team) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range teams {
			if err := tx.Create(&teams[i]).Error; err != nil {
				if duplicate(err) {
					return fmt.Errorf("%q <%s>: %w", teams[i].Name, teams[i].Email, ErrDuplicateTeam)
				}
				return err
			}
		}
		return nil
	})
	if err == nil {
		s.log.Info("teams registered", zap.Int("count", len(teams)))
	}
	return err
}

func (s *Store) Teams(ctx context.Context) ([]Team, error) {
	var teams []Team
	err := s.db.WithContext(ctx).Order("id").Find(&teams).Error
	return teams, err
}

func (s *Store) SetTeamRef(ctx context.Context, id int, ref string) error {
	res := s.db.WithContext(ctx).Model(&Team{}).Where("id = ?", id).Update("ref", ref)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("team %d: %w", id, gorm.ErrRecordNotFound)
	}
	return nil
}

// Load rebuilds the engine state. An empty database yields a fresh,
// unseeded tournament.
func (s *Store) Load(ctx context.Context, topo *bracket.Topology) (engine.State, error) {
	db := s.db.WithContext(ctx)
	st := engine.NewState(topo)

	var t Tournament
	err := db.First(&t, tournamentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return st, nil
	}
	if err != nil {
		return engine.State{}, err
	}
	st.Round = t.Round
	st.Completed = t.Completed
	st.Staged = t.Staged
	st.Digest = t.Digest
	st.Validated = t.Validation

	var contests []Contest
	if err := db.Find(&contests).Error; err != nil {
		return engine.State{}, err
	}
	for _, row := range contests {
		c, ok := st.Contests[row.Slot]
		if !ok {
			return engine.State{}, fmt.Errorf("stored contest %s: %w", row.Slot, bracket.ErrUnknownSlot)
		}
		c.State = engine.ContestState(row.State)
		c.Ref = row.Ref
		c.Rank = row.Ranking
		st.Contests[row.Slot] = c
	}

	var seats []Assignment
	if err := db.Find(&seats).Error; err != nil {
		return engine.State{}, err
	}
	for _, a := range seats {
		c, ok := st.Contests[a.Slot]
		if !ok || a.Position < 1 || a.Position > len(c.Teams) {
			return engine.State{}, fmt.Errorf("stored seat %s/%d does not fit the bracket", a.Slot, a.Position)
		}
		c.Teams[a.Position-1] = a.TeamID
	}

	var teams []Team
	if err := db.Where("in_play = ?", true).Find(&teams).Error; err != nil {
		return engine.State{}, err
	}
	for _, team := range teams {
		st.Teams[team.ID] = engine.TeamStatus{Live: team.Live, Place: team.Place, Out: team.OutSlot}
	}

	var decisions []Decision
	if err := db.Order("id").Find(&decisions).Error; err != nil {
		return engine.State{}, err
	}
	for _, d := range decisions {
		st.Decisions = append(st.Decisions, results.Decision{Slot: d.Slot, Order: d.Order})
	}

	st.Phase = engine.DerivePhase(st, st.Round)
	return st, nil
}

// Save commits a state and the events that produced it as one unit.
func (s *Store) Save(ctx context.Context, topo *bracket.Topology, st engine.State, events []engine.Event) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t := Tournament{
			ID:         tournamentID,
			Round:      st.Round,
			Completed:  st.Completed,
			Staged:     st.Staged,
			Digest:     st.Digest,
			Validation: st.Validated,
		}
		if err := tx.Save(&t).Error; err != nil {
			return fmt.Errorf("save tournament: %w", err)
		}

		rows := make([]Contest, 0, len(st.Contests))
		for _, slot := range topo.Slots() {
			c := st.Contests[slot.ID]
			rows = append(rows, Contest{
				Slot:    slot.ID,
				Round:   slot.Round,
				Type:    string(slot.Type),
				State:   string(c.State),
				Ref:     c.Ref,
				Ranking: c.Rank,
			})
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error; err != nil {
			return fmt.Errorf("save contests: %w", err)
		}

		if err := tx.Where("1 = 1").Delete(&Assignment{}).Error; err != nil {
			return fmt.Errorf("clear seats: %w", err)
		}
		var seats []Assignment
		for r := 1; r <= topo.LastRound(); r++ {
			for _, a := range engine.Assignments(topo, st, r) {
				seats = append(seats, Assignment{Round: r, Slot: a.Slot, Position: a.Position, TeamID: a.TeamID})
			}
		}
		if len(seats) > 0 {
			if err := tx.Create(&seats).Error; err != nil {
				return fmt.Errorf("save seats: %w", err)
			}
		}

		for id, ts := range st.Teams {
			res := tx.Model(&Team{}).Where("id = ?", id).Updates(map[string]any{
				"in_play":  true,
				"live":     ts.Live,
				"place":    ts.Place,
				"out_slot": ts.Out,
			})
			if res.Error != nil {
				return fmt.Errorf("save team %d: %w", id, res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("team %d is not registered", id)
			}
		}

		if err := tx.Where("1 = 1").Delete(&Decision{}).Error; err != nil {
			return fmt.Errorf("clear decisions: %w", err)
		}
		for _, d := range st.Decisions {
			if err := tx.Create(&Decision{Slot: d.Slot, Order: d.Order}).Error; err != nil {
				return fmt.Errorf("save decision: %w", err)
			}
		}

		for _, e := range events {
			payload, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := tx.Create(&Event{Type: string(e.Type), Round: e.Round, Slot: e.Slot, Payload: payload}).Error; err != nil {
				return fmt.Errorf("save event: %w", err)
			}
		}
		return nil
	})
}

// Events returns the audit trail in the order it was written.
func (s *Store) Events(ctx context.Context) ([]engine.Event, error) {
	var rows []Event
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]engine.Event, 0, len(rows))
	for _, r := range rows {
		var e engine.Event
		if err := json.Unmarshal(r.Payload, &e); err != nil {
			return nil, fmt.Errorf("event %d: %w", r.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// RecordOutcomes stores the outcomes of a finished contest. Outcomes already
// recorded for a team are kept as they are.
func (s *Store) RecordOutcomes(ctx context.Context, slot string, outcomes []results.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	rows := make([]Outcome, len(outcomes))
	for i, o := range outcomes {
		rows[i] = Outcome{
			Slot:        slot,
			TeamID:      o.TeamID,
			Solved:      o.Solved,
			Penalty:     o.Penalty,
			TestsPassed: o.TestsPassed,
			Solves:      o.Solves,
		}
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func (s *Store) Outcomes(ctx context.Context, slot string) ([]results.Outcome, error) {
	var rows []Outcome
	if err := s.db.WithContext(ctx).Where("slot = ?", slot).Order("team_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]results.Outcome, len(rows))
	for i, r := range rows {
		out[i] = results.Outcome{
			TeamID:      r.TeamID,
			Solved:      r.Solved,
			Penalty:     r.Penalty,
			TestsPassed: r.TestsPassed,
			Solves:      r.Solves,
		}
	}
	return out, nil
}
