package operator

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/flashbots/zkml-operator/config"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// SQLHistory implements HistoryStore on PostgreSQL or MySQL.
type SQLHistory struct {
	db      *sql.DB
	dialect string
}

// NewSQLHistory connects to the configured database and creates the
// operations table if needed.
func NewSQLHistory(cfg *config.DatabaseConfig) (*SQLHistory, error) {
	dsn, err := cfg.DataSourceName()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &SQLHistory{db: db, dialect: cfg.Driver}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return store, nil
}

func (s *SQLHistory) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS zkml_operations (
		id VARCHAR(36) PRIMARY KEY,
		request_id VARCHAR(256) NOT NULL,
		operation VARCHAR(16) NOT NULL,
		code INTEGER NOT NULL,
		result TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		duration_ns BIGINT NOT NULL
	)`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// rebind rewrites ? placeholders into the dialect's form.
func rebind(dialect, query string) string {
	if dialect != config.DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLHistory) Record(ctx context.Context, rec Record) error {
	query := rebind(s.dialect, `
		INSERT INTO zkml_operations (id, request_id, operation, code, result, started_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.RequestID, rec.Operation, rec.Code, truncateResult(rec.Result),
		rec.StartedAt.UTC(), int64(rec.Duration))
	if err != nil {
		return fmt.Errorf("recording operation %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLHistory) Recent(ctx context.Context, limit int) ([]Record, error) {
	query := rebind(s.dialect, `
		SELECT id, request_id, operation, code, result, started_at, duration_ns
		FROM zkml_operations
		ORDER BY started_at DESC
		LIMIT ?`)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying operations: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// rowScanner is the part of *sql.Rows that scanRecords needs.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// scanRecords reads every row into a record. No rows yields an empty,
// non-nil slice so the API reports [] rather than null.
func scanRecords(rows rowScanner) ([]Record, error) {
	records := []Record{}
	for rows.Next() {
		var (
			rec        Record
			durationNs int64
		)
		if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.Operation, &rec.Code,
			&rec.Result, &rec.StartedAt, &durationNs); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		rec.Duration = time.Duration(durationNs)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLHistory) Close() error {
	return s.db.Close()
}
