package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/nbarak/shekelbot/internal/common"
	"github.com/nbarak/shekelbot/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements service.RecordStore on a local SQLite file.
// Records are stored schemalessly as (table, id, fields-JSON), matching
// the keyed-record contract; filters are evaluated in Go. Used for
// local runs and as the canonical backend in tests.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (and if necessary creates) a local record store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("%w: db path is required", common.ErrMissingConfig)
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS records (
			tbl        TEXT NOT NULL,
			id         TEXT NOT NULL,
			fields     TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (tbl, id)
		);
		CREATE INDEX IF NOT EXISTS idx_records_tbl ON records(tbl);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// Create inserts a single record and returns its generated id.
func (s *SQLiteStore) Create(ctx context.Context, table string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	encoded, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO records (tbl, id, fields) VALUES (?, ?, ?)",
		table, id, string(encoded))
	if err != nil {
		return "", fmt.Errorf("failed to insert record: %w", err)
	}
	return id, nil
}

// CreateBatch inserts up to MaxBatchSize records in one call.
func (s *SQLiteStore) CreateBatch(ctx context.Context, table string, batch []map[string]any) ([]string, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	if len(batch) > service.MaxBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds store limit of %d", len(batch), service.MaxBatchSize)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]string, 0, len(batch))
	for _, fields := range batch {
		id := uuid.NewString()
		encoded, encErr := json.Marshal(fields)
		if encErr != nil {
			return nil, fmt.Errorf("failed to encode fields: %w", encErr)
		}
		if _, execErr := tx.ExecContext(ctx,
			"INSERT INTO records (tbl, id, fields) VALUES (?, ?, ?)",
			table, id, string(encoded)); execErr != nil {
			return nil, fmt.Errorf("failed to insert record: %w", execErr)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}
	return ids, nil
}

// Update merges the given fields into an existing record.
func (s *SQLiteStore) Update(ctx context.Context, table, id string, fields map[string]any) error {
	existing, err := s.Find(ctx, table, id)
	if err != nil {
		return err
	}
	for k, v := range fields {
		existing.Fields[k] = v
	}
	encoded, err := json.Marshal(existing.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE records SET fields = ? WHERE tbl = ? AND id = ?",
		string(encoded), table, id)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	return nil
}

// Find fetches one record by id.
func (s *SQLiteStore) Find(ctx context.Context, table, id string) (*service.Record, error) {
	var encoded string
	err := s.db.QueryRowContext(ctx,
		"SELECT fields FROM records WHERE tbl = ? AND id = ?",
		table, id).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find record: %w", err)
	}

	fields := make(map[string]any)
	if err := json.Unmarshal([]byte(encoded), &fields); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &service.Record{ID: id, Fields: fields}, nil
}

// Query lists records matching the filter.
func (s *SQLiteStore) Query(ctx context.Context, table string, q service.Query) ([]service.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, fields FROM records WHERE tbl = ? ORDER BY created_at",
		table)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []service.Record
	for rows.Next() {
		var id, encoded string
		if err := rows.Scan(&id, &encoded); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		fields := make(map[string]any)
		if err := json.Unmarshal([]byte(encoded), &fields); err != nil {
			return nil, fmt.Errorf("failed to decode record %s: %w", id, err)
		}
		rec := service.Record{ID: id, Fields: fields}
		if matches(rec, q.Filter) {
			records = append(records, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}

	return applyQuery(records, q), nil
}

// Destroy deletes records by id.
func (s *SQLiteStore) Destroy(ctx context.Context, table string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, table)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM records WHERE tbl = ? AND id IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("failed to destroy records: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
