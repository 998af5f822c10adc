package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"PickFlow/internal/domain/models"
	domrepo "PickFlow/internal/domain/repository"
	pkgch "PickFlow/pkg/clickhouse"
	applogger "PickFlow/pkg/logger"
)

// ClickHouseStore persists outcomes, selections and failure lists in ClickHouse.
// Rows are kept as JSON payloads keyed by run date; ReplacingMergeTree makes
// repeated writes for the same key converge to the latest version.
type ClickHouseStore struct {
	db       *sql.DB
	database string
	l        *applogger.Logger
	now      func() time.Time
}

var _ domrepo.Store = (*ClickHouseStore)(nil)

func NewClickHouseStore(ch *pkgch.Client, database string) *ClickHouseStore {
	if database == "" {
		database = "pickflow"
	}
	return &ClickHouseStore{db: ch.DB(), database: database, l: applogger.Nop(), now: time.Now}
}

// SetLogger injects a structured logger.
func (s *ClickHouseStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

// SchemaStatements returns the DDL applied by Init.
func SchemaStatements(database string) []string {
	return []string{
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, database),
		fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s.batch_outcomes (
            run_date    String,
            batch_index Int32,
            payload     String,
            updated_at  DateTime64(3, 'UTC')
        ) ENGINE = ReplacingMergeTree(updated_at)
        ORDER BY (run_date, batch_index)`, database),
		fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s.selections (
            run_date    String,
            run_id      String,
            payload     String,
            selected_at DateTime64(3, 'UTC')
        ) ENGINE = ReplacingMergeTree(selected_at)
        ORDER BY run_date`, database),
		fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s.failures (
            operation String,
            at        DateTime64(3, 'UTC'),
            item_id   String,
            error     String
        ) ENGINE = MergeTree
        ORDER BY (operation, at, item_id)`, database),
	}
}

func (s *ClickHouseStore) Init(ctx context.Context) error {
	for _, stmt := range SchemaStatements(s.database) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.l.Error("clickhouse init schema error", applogger.String("database", s.database), applogger.Error(err))
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseStore) SaveOutcome(ctx context.Context, runDate string, o models.BatchOutcome) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	q := fmt.Sprintf(`INSERT INTO %s.batch_outcomes (run_date, batch_index, payload, updated_at) VALUES (?, ?, ?, ?)`, s.database)
	if _, err := s.db.ExecContext(ctx, q, runDate, int32(o.BatchIndex), string(payload), s.now().UTC()); err != nil {
		s.l.Error("clickhouse save_outcome error",
			applogger.String("run_date", runDate),
			applogger.Int("batch_index", o.BatchIndex),
			applogger.Error(err),
		)
		return fmt.Errorf("save outcome: %w", err)
	}
	return nil
}

func (s *ClickHouseStore) ListOutcomes(ctx context.Context, runDate string) ([]models.BatchOutcome, error) {
	start := time.Now()
	q := fmt.Sprintf(`
        SELECT payload
        FROM %s.batch_outcomes FINAL
        WHERE run_date = ?
        ORDER BY batch_index ASC
    `, s.database)
	rows, err := s.db.QueryContext(ctx, q, runDate)
	if err != nil {
		s.l.Error("clickhouse list_outcomes query error", applogger.String("run_date", runDate), applogger.Error(err))
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	out := make([]models.BatchOutcome, 0, 32)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			s.l.Error("clickhouse list_outcomes scan error", applogger.String("run_date", runDate), applogger.Error(err))
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		var o models.BatchOutcome
		if err := json.Unmarshal([]byte(payload), &o); err != nil {
			return nil, fmt.Errorf("decode outcome: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list outcomes rows: %w", err)
	}
	s.l.Debug("clickhouse list_outcomes ok",
		applogger.String("run_date", runDate),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func (s *ClickHouseStore) SaveSelection(ctx context.Context, sel models.SelectionResult) error {
	payload, err := json.Marshal(sel)
	if err != nil {
		return fmt.Errorf("encode selection: %w", err)
	}
	q := fmt.Sprintf(`INSERT INTO %s.selections (run_date, run_id, payload, selected_at) VALUES (?, ?, ?, ?)`, s.database)
	if _, err := s.db.ExecContext(ctx, q, sel.RunDate, sel.RunID, string(payload), sel.SelectedAt.UTC()); err != nil {
		s.l.Error("clickhouse save_selection error",
			applogger.String("run_date", sel.RunDate),
			applogger.String("run_id", sel.RunID),
			applogger.Error(err),
		)
		return fmt.Errorf("save selection: %w", err)
	}
	return nil
}

func (s *ClickHouseStore) LatestSelection(ctx context.Context) (*models.SelectionResult, error) {
	q := fmt.Sprintf(`
        SELECT payload
        FROM %s.selections FINAL
        ORDER BY run_date DESC, selected_at DESC
        LIMIT 1
    `, s.database)
	var payload string
	if err := s.db.QueryRowContext(ctx, q).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		s.l.Error("clickhouse latest_selection error", applogger.Error(err))
		return nil, fmt.Errorf("latest selection: %w", err)
	}
	var sel models.SelectionResult
	if err := json.Unmarshal([]byte(payload), &sel); err != nil {
		return nil, fmt.Errorf("decode selection: %w", err)
	}
	return &sel, nil
}

func (s *ClickHouseStore) SaveFailures(ctx context.Context, operation string, at time.Time, records []models.FailureRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save failures begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s.failures (operation, at, item_id, error) VALUES (?, ?, ?, ?)`, s.database))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("save failures prepare: %w", err)
	}
	defer stmt.Close()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, operation, at.UTC(), r.ItemID, r.ErrorMessage); err != nil {
			_ = tx.Rollback()
			s.l.Error("clickhouse save_failures error", applogger.String("operation", operation), applogger.Error(err))
			return fmt.Errorf("save failures: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save failures commit: %w", err)
	}
	return nil
}

func (s *ClickHouseStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool is owned by pkg/clickhouse.
func (s *ClickHouseStore) Close() error {
	return nil
}
