// Package db is the relational sink. It appends validated observation rows
// to the destination table; deduplication across runs is deliberately out
// of scope, repeated ingestion of overlapping ranges accumulates rows.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vmeireles/inmet-pipeline/internal/pipeline"
)

// ErrAppend means the bulk append failed; the transaction is rolled back,
// so no partial batch reaches the table.
var ErrAppend = errors.New("relational append failed")

// Store wraps database access for the ingestion sink.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by a pgx pool.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

var sinkColumns = []string{"data_hora_utc", "temperatura_c", "pressao_mb", "radiacao_kj_m2", "umidade_relativa_pct"}

// AppendRows bulk-appends the dataset to the named table inside a single
// transaction: all rows land or none do. Returns the number of rows
// written.
func (s *Store) AppendRows(ctx context.Context, table string, rows pipeline.Dataset) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", ErrAppend, err)
	}
	defer tx.Rollback(ctx)

	n, err := tx.CopyFrom(ctx, pgx.Identifier{table}, sinkColumns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			row := rows[i]
			return []any{row.Timestamp, row.Temperature, row.Pressure, row.Radiation, row.Humidity}, nil
		}))
	if err != nil {
		return 0, fmt.Errorf("%w: copy into %s: %v", ErrAppend, table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", ErrAppend, err)
	}
	return n, nil
}

// CountRange reports how many rows the table holds in [from, to]. Exposed
// as a post-load diagnostic so operators can spot overlap between runs.
func (s *Store) CountRange(ctx context.Context, table string, from, to time.Time) (int64, error) {
	sql := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE data_hora_utc BETWEEN $1 AND $2`, pgx.Identifier{table}.Sanitize())

	var count int64
	if err := s.pool.QueryRow(ctx, sql, from, to).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
