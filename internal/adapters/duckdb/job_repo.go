package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/manthysbr/umbrella/internal/core/domain"
)

const jobColumns = `id, type, CAST(content AS TEXT), CAST(context AS TEXT), status, correlation_id, progress,
	CAST(subtasks AS TEXT), CAST(result AS TEXT), CAST(error AS TEXT), created_at, updated_at`

func (r *Repository) SaveJob(ctx context.Context, job domain.Job) error {
	contentJSON, err := json.Marshal(job.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal content: %w", err)
	}
	contextJSON, err := json.Marshal(job.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}
	subtasksJSON, err := json.Marshal(job.Subtasks)
	if err != nil {
		return fmt.Errorf("failed to marshal subtasks: %w", err)
	}
	resultJSON, err := json.Marshal(job.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	errorJSON, err := json.Marshal(job.Error)
	if err != nil {
		return fmt.Errorf("failed to marshal error: %w", err)
	}

	query := `
	INSERT INTO jobs (id, type, content, context, status, correlation_id, progress, subtasks, result, error, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		status = excluded.status,
		progress = excluded.progress,
		subtasks = excluded.subtasks,
		result = excluded.result,
		error = excluded.error,
		updated_at = excluded.updated_at;
	`
	_, err = r.db.ExecContext(ctx, query,
		string(job.ID), job.Type, string(contentJSON), string(contextJSON),
		string(job.Status), string(job.CorrelationID), job.Progress,
		string(subtasksJSON), string(resultJSON), string(errorJSON),
		job.CreatedAt.UTC(), job.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var job domain.Job
	var idStr, statusStr, cidStr string
	var contentJSON, contextJSON, subtasksJSON, resultJSON, errorJSON sql.NullString

	if err := row.Scan(&idStr, &job.Type, &contentJSON, &contextJSON, &statusStr, &cidStr, &job.Progress,
		&subtasksJSON, &resultJSON, &errorJSON, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return domain.Job{}, err
	}
	job.ID = domain.JobID(idStr)
	job.Status = domain.JobStatus(statusStr)
	job.CorrelationID = domain.CorrelationID(cidStr)

	for _, col := range []struct {
		name string
		raw  sql.NullString
		dst  any
	}{
		{"content", contentJSON, &job.Content},
		{"context", contextJSON, &job.Context},
		{"subtasks", subtasksJSON, &job.Subtasks},
		{"result", resultJSON, &job.Result},
		{"error", errorJSON, &job.Error},
	} {
		if !col.raw.Valid || col.raw.String == "" {
			continue
		}
		if err := json.Unmarshal([]byte(col.raw.String), col.dst); err != nil {
			return domain.Job{}, fmt.Errorf("failed to unmarshal %s for job %s: %w", col.name, idStr, err)
		}
	}
	return job, nil
}

func (r *Repository) GetJob(ctx context.Context, id domain.JobID) (domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, string(id))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, domain.ErrJobNotFound
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

func (r *Repository) ListJobs(ctx context.Context) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *Repository) DeleteJob(ctx context.Context, id domain.JobID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}
