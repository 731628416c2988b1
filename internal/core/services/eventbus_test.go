package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/umbrella/internal/core/domain"
)

func TestEventBus_PubSub(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	bus := NewEventBus(logger)

	jobID := domain.JobID("job-123")

	// 1. Subscribe
	ch, unsub := bus.Subscribe(jobID)
	defer unsub()

	// 2. Publish
	event := Event{
		JobID:     jobID,
		Type:      EventTypeStatus,
		Data:      `{"status":"running"}`,
		Timestamp: time.Now().UnixMilli(),
	}
	bus.Publish(event)

	// 3. Verify
	select {
	case received := <-ch:
		assert.Equal(t, event.JobID, received.JobID)
		assert.Equal(t, event.Data, received.Data)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	bus := NewEventBus(logger)
	jobID := domain.JobID("job-456")

	ch, unsub := bus.Subscribe(jobID)
	unsub()
	unsub() // second call is a no-op

	bus.Publish(Event{JobID: jobID, Type: EventTypeStatus, Data: "should not receive"})

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestEventBus_GlobalSubscriber(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	bus := NewEventBus(logger)

	globalCh, unsub := bus.SubscribeGlobal()
	defer unsub()

	bus.Publish(Event{JobID: "job-a", Type: EventTypeStatus})
	bus.Publish(Event{JobID: "job-b", Type: EventTypeStatus})

	for _, want := range []domain.JobID{"job-a", "job-b"} {
		select {
		case evt := <-globalCh:
			assert.Equal(t, want, evt.JobID)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for global event")
		}
	}
}

func TestEventBus_HandleEnvelope(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	bus := NewEventBus(logger)
	ch, unsub := bus.Subscribe("job-9")
	defer unsub()

	body, _ := json.Marshal(map[string]any{"type": "subtask.completed", "job_id": "job-9", "subtask_id": "extract"})
	env := domain.NewEnvelope(domain.TopicJobsEvents, body, domain.DefaultPriority, "cid-9")
	require.NoError(t, bus.HandleEnvelope(context.Background(), env))

	select {
	case evt := <-ch:
		assert.Equal(t, EventTypeSubtaskCompleted, evt.Type)
		assert.Equal(t, domain.CorrelationID("cid-9"), evt.CorrelationID)
		assert.Contains(t, evt.Data, `"subtask_id":"extract"`)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for bridged event")
	}

	bad := domain.NewEnvelope(domain.TopicJobsEvents, json.RawMessage(`not-json`), 5, "cid")
	assert.Error(t, bus.HandleEnvelope(context.Background(), bad))
}
