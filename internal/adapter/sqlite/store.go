// Package sqlite persists joined monthly rows to a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/couchcryptid/dengue-rain-etl/internal/domain"

	_ "modernc.org/sqlite"
)

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;

CREATE TABLE IF NOT EXISTS monthly_summary (
    uf TEXT NOT NULL,
    ano TEXT NOT NULL,
    mes TEXT NOT NULL,
    chuva REAL NOT NULL,
    dengue INTEGER NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (uf, ano, mes)
);
`

const upsertRow = `
INSERT INTO monthly_summary (uf, ano, mes, chuva, dengue)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (uf, ano, mes) DO UPDATE SET
    chuva = excluded.chuva,
    dengue = excluded.dengue,
    updated_at = CURRENT_TIMESTAMP
`

// Store writes output rows to the monthly_summary table.
// It implements pipeline.BatchLoader.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and ensures the schema exists.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close() // schema error is the one worth reporting
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Name identifies the sink in metrics and logs.
func (s *Store) Name() string { return "sqlite" }

// LoadBatch upserts all rows in one transaction. Re-running a job replaces
// the totals of every key it produces.
func (s *Store) LoadBatch(ctx context.Context, rows []domain.OutputRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, upsertRow)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		chuva, err := strconv.ParseFloat(row.Chuva, 64)
		if err != nil {
			return fmt.Errorf("row %s: chuva %q: %w", row.Key(), row.Chuva, err)
		}
		dengue, err := strconv.ParseInt(row.Dengue, 10, 64)
		if err != nil {
			return fmt.Errorf("row %s: dengue %q: %w", row.Key(), row.Dengue, err)
		}
		if _, err := stmt.ExecContext(ctx, row.UF, row.Year, row.Month, chuva, dengue); err != nil {
			return fmt.Errorf("upsert %s: %w", row.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rows returns every stored row ordered by key.
func (s *Store) Rows(ctx context.Context) ([]domain.OutputRow, error) {
	rs, err := s.db.QueryContext(ctx,
		`SELECT uf, ano, mes, chuva, dengue FROM monthly_summary ORDER BY uf, ano, mes`)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rs.Close()

	var rows []domain.OutputRow
	for rs.Next() {
		var (
			row    domain.OutputRow
			chuva  float64
			dengue int64
		)
		if err := rs.Scan(&row.UF, &row.Year, &row.Month, &chuva, &dengue); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row.Chuva = domain.FormatRainfall(chuva)
		row.Dengue = strconv.FormatInt(dengue, 10)
		rows = append(rows, row)
	}
	return rows, rs.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
