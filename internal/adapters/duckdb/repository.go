package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"
)

// Repository is the DuckDB-backed store. An empty path opens an in-memory database.
type Repository struct {
	db *sql.DB
}

func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %q: %w", path, err)
	}
	// DuckDB allows a single writer per process.
	db.SetMaxOpenConns(1)

	r := &Repository{db: db}
	if err := r.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS results (
			seq          BIGINT PRIMARY KEY,
			job_id       VARCHAR NOT NULL,
			original     VARCHAR NOT NULL,
			filtered     VARCHAR NOT NULL,
			processed_by VARCHAR NOT NULL,
			submitted_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}
