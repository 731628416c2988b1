package duckdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/umbrella/internal/core/domain"
)

func TestRepository_Jobs(t *testing.T) {
	repo, err := NewRepository(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()

	// 1. Save Job
	jobID := domain.JobID("job-1")
	created := time.Now().UTC().Truncate(time.Microsecond)
	job := domain.Job{
		ID:            jobID,
		Type:          "document_analysis",
		Content:       map[string]any{"file": "x.pdf"},
		Context:       map[string]any{"priority": 2.0},
		Status:        domain.JobStatusPending,
		CorrelationID: "cid-1",
		CreatedAt:     created,
		UpdatedAt:     created,
	}
	require.NoError(t, repo.SaveJob(ctx, job))

	// 2. Get Job
	fetched, err := repo.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, fetched.ID)
	assert.Equal(t, domain.JobStatusPending, fetched.Status)
	assert.Equal(t, "x.pdf", fetched.Content["file"])
	assert.Equal(t, domain.CorrelationID("cid-1"), fetched.CorrelationID)
	assert.Nil(t, fetched.Error)

	// 3. Update Job
	msg := "remote service pdf_extraction/extract failed"
	job.Status = domain.JobStatusFailed
	job.Progress = 100
	job.Subtasks = []domain.SubtaskRecord{
		{ID: "extract", Service: domain.ServicePDFExtraction, Action: "extract", State: domain.SubtaskStateFailed, Error: &msg},
		{ID: "analyze", Service: domain.ServiceSentiment, Action: "analyze", State: domain.SubtaskStateSkipped},
	}
	job.Error = &domain.JobError{Message: msg, SubtaskID: "extract", Skipped: []domain.SubtaskID{"analyze"}}
	job.UpdatedAt = created.Add(time.Second)
	require.NoError(t, repo.SaveJob(ctx, job))

	fetched, err = repo.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, fetched.Status)
	assert.Equal(t, 100, fetched.Progress)
	require.Len(t, fetched.Subtasks, 2)
	assert.Equal(t, domain.SubtaskStateSkipped, fetched.Subtasks[1].State)
	require.NotNil(t, fetched.Error)
	assert.Equal(t, domain.SubtaskID("extract"), fetched.Error.SubtaskID)

	// 4. List Jobs
	later := job
	later.ID = "job-2"
	later.CreatedAt = created.Add(time.Minute)
	require.NoError(t, repo.SaveJob(ctx, later))

	jobs, err := repo.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, domain.JobID("job-2"), jobs[0].ID)

	// 5. Delete Job
	require.NoError(t, repo.DeleteJob(ctx, jobID))
	_, err = repo.GetJob(ctx, jobID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	assert.ErrorIs(t, repo.DeleteJob(ctx, jobID), domain.ErrJobNotFound)
}

func TestRepository_InMemory(t *testing.T) {
	repo, err := NewRepository("")
	require.NoError(t, err)
	defer repo.Close()

	_, err = repo.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}
