package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"PickFlow/internal/domain/models"
	domrepo "PickFlow/internal/domain/repository"
)

// GormStore persists run artifacts through gorm. Postgres and SQLite share the schema.
type GormStore struct {
	db *gorm.DB
}

var _ domrepo.Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// OpenPostgres opens a gorm pool for the given DSN.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	return db, nil
}

// OpenSQLite opens a local database file, or an in-memory one for ":memory:".
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:" databases shared.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

type OutcomeModel struct {
	RunDate    string    `gorm:"size:10;primaryKey"`
	BatchIndex int       `gorm:"primaryKey;autoIncrement:false"`
	Payload    string    `gorm:"type:text;not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (OutcomeModel) TableName() string {
	return "batch_outcomes"
}

type SelectionModel struct {
	RunDate    string    `gorm:"size:10;primaryKey"`
	RunID      string    `gorm:"size:64;not null"`
	Payload    string    `gorm:"type:text;not null"`
	SelectedAt time.Time `gorm:"not null;index"`
}

func (SelectionModel) TableName() string {
	return "selections"
}

type FailureModel struct {
	ID        uint      `gorm:"primaryKey"`
	Operation string    `gorm:"size:64;not null;index:failure_op_at,priority:1"`
	At        time.Time `gorm:"not null;index:failure_op_at,priority:2"`
	ItemID    string    `gorm:"size:64;not null"`
	Error     string    `gorm:"type:text"`
}

func (FailureModel) TableName() string {
	return "failures"
}

func (s *GormStore) Init(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&OutcomeModel{}, &SelectionModel{}, &FailureModel{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *GormStore) SaveOutcome(ctx context.Context, runDate string, o models.BatchOutcome) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	m := OutcomeModel{RunDate: runDate, BatchIndex: o.BatchIndex, Payload: string(payload), UpdatedAt: time.Now().UTC()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_date"}, {Name: "batch_index"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("save outcome: %w", err)
	}
	return nil
}

func (s *GormStore) ListOutcomes(ctx context.Context, runDate string) ([]models.BatchOutcome, error) {
	var rows []OutcomeModel
	if err := s.db.WithContext(ctx).
		Where("run_date = ?", runDate).
		Order("batch_index ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	out := make([]models.BatchOutcome, 0, len(rows))
	for _, r := range rows {
		var o models.BatchOutcome
		if err := json.Unmarshal([]byte(r.Payload), &o); err != nil {
			return nil, fmt.Errorf("decode outcome %d: %w", r.BatchIndex, err)
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *GormStore) SaveSelection(ctx context.Context, sel models.SelectionResult) error {
	payload, err := json.Marshal(sel)
	if err != nil {
		return fmt.Errorf("encode selection: %w", err)
	}
	m := SelectionModel{RunDate: sel.RunDate, RunID: sel.RunID, Payload: string(payload), SelectedAt: sel.SelectedAt.UTC()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"run_id", "payload", "selected_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("save selection: %w", err)
	}
	return nil
}

func (s *GormStore) LatestSelection(ctx context.Context) (*models.SelectionResult, error) {
	var m SelectionModel
	err := s.db.WithContext(ctx).Order("run_date DESC").Order("selected_at DESC").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest selection: %w", err)
	}
	var sel models.SelectionResult
	if err := json.Unmarshal([]byte(m.Payload), &sel); err != nil {
		return nil, fmt.Errorf("decode selection: %w", err)
	}
	return &sel, nil
}

func (s *GormStore) SaveFailures(ctx context.Context, operation string, at time.Time, records []models.FailureRecord) error {
	if len(records) == 0 {
		return nil
	}
	ms := make([]FailureModel, 0, len(records))
	for _, r := range records {
		ms = append(ms, FailureModel{Operation: operation, At: at.UTC(), ItemID: r.ItemID, Error: r.ErrorMessage})
	}
	if err := s.db.WithContext(ctx).CreateInBatches(&ms, 500).Error; err != nil {
		return fmt.Errorf("save failures: %w", err)
	}
	return nil
}

func (s *GormStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
