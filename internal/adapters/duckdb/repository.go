package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/manthysbr/umbrella/internal/core/ports"
)

type Repository struct {
	db *sql.DB
}

// NewRepository opens (or creates) the database at path. An empty path
// gives a private in-memory database.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	// DuckDB allows one writer per process; keep a single connection so
	// in-memory databases are shared by every query.
	db.SetMaxOpenConns(1)

	r := &Repository{db: db}
	if err := r.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Ensure Repository implements JobRepository interface
var _ ports.JobRepository = (*Repository)(nil)

func (r *Repository) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS jobs (
		id VARCHAR PRIMARY KEY,
		type VARCHAR NOT NULL,
		content JSON,
		context JSON,
		status VARCHAR NOT NULL,
		correlation_id VARCHAR NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		subtasks JSON,
		result JSON,
		error JSON,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to migrate jobs table: %w", err)
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}
