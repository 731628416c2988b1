package badger

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/umbrella/internal/core/domain"
)

func newTestStore(t *testing.T) *DeadLetterStore {
	t.Helper()
	db, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewDeadLetterStore(db, slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func deadLetter(body string, retries int, age time.Duration) domain.DeadLetter {
	env := domain.NewEnvelope("jobs.submitted", json.RawMessage(body), 2, "cid-1")
	env.RetryCount = retries
	now := time.Now().UTC().Add(-age)
	return domain.DeadLetter{
		Envelope:     env,
		Reason:       "handler failed",
		DeadLetterAt: now,
		ExpiresAt:    now.Add(24 * time.Hour),
	}
}

func TestDeadLetterStore_PutGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dl := deadLetter(`{"job_id":"j1"}`, 4, 0)

	require.NoError(t, s.Put(ctx, dl))

	got, err := s.Get(ctx, dl.Envelope.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Envelope.RetryCount)
	assert.JSONEq(t, `{"job_id":"j1"}`, string(got.Envelope.Body))
	assert.Equal(t, domain.CorrelationID("cid-1"), got.Envelope.CorrelationID)
	assert.Equal(t, "handler failed", got.Reason)
}

func TestDeadLetterStore_BodyStoredVerbatim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	body := "{\n  \"note\": \"<b>fish & chips</b>\",\n  \"n\": 1.50\n}"
	dl := deadLetter(body, 1, 0)

	require.NoError(t, s.Put(ctx, dl))

	got, err := s.Get(ctx, dl.Envelope.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte(body), []byte(got.Envelope.Body))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []byte(body), []byte(list[0].Envelope.Body))
}

func TestDeadLetterStore_ListOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	newer := deadLetter(`{"n":2}`, 4, time.Minute)
	older := deadLetter(`{"n":1}`, 4, time.Hour)
	require.NoError(t, s.Put(ctx, newer))
	require.NoError(t, s.Put(ctx, older))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, older.Envelope.ID, list[0].Envelope.ID)
	assert.Equal(t, newer.Envelope.ID, list[1].Envelope.ID)
}

func TestDeadLetterStore_ExpiredIsNotStored(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dl := deadLetter(`{}`, 4, 25*time.Hour)

	require.NoError(t, s.Put(ctx, dl))

	_, err := s.Get(ctx, dl.Envelope.ID)
	assert.ErrorIs(t, err, domain.ErrDeadLetterNotFound)
}

func TestDeadLetterStore_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dl := deadLetter(`{}`, 4, 0)
	require.NoError(t, s.Put(ctx, dl))

	require.NoError(t, s.Delete(ctx, dl.Envelope.ID))
	assert.ErrorIs(t, s.Delete(ctx, dl.Envelope.ID), domain.ErrDeadLetterNotFound)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	ctx := context.Background()
	dl := deadLetter(`{"keep":true}`, 4, 0)

	db, err := Open(Config{Path: dir, SyncWrites: true, Logger: logger})
	require.NoError(t, err)
	require.NoError(t, NewDeadLetterStore(db, logger).Put(ctx, dl))
	require.NoError(t, db.Close())

	db, err = Open(Config{Path: dir, Logger: logger})
	require.NoError(t, err)
	defer db.Close()

	got, err := NewDeadLetterStore(db, logger).Get(ctx, dl.Envelope.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"keep":true}`, string(got.Envelope.Body))
}
