package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/manthysbr/umbrella/internal/core/domain"
)

type EventType string

const (
	EventTypeStatus           EventType = "job.status"
	EventTypeSubtaskCompleted EventType = "subtask.completed"
	EventTypeSubtaskFailed    EventType = "subtask.failed"
)

type Event struct {
	JobID         domain.JobID         `json:"job_id"`
	Type          EventType            `json:"type"`
	Data          string               `json:"data"` // JSON payload
	CorrelationID domain.CorrelationID `json:"correlation_id,omitempty"`
	Timestamp     int64                `json:"timestamp"`
}

// EventBus fans job events out to live subscribers (SSE streams). Slow
// subscribers lose events rather than block publishers.
type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[domain.JobID][]chan Event
	global []chan Event
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[domain.JobID][]chan Event),
	}
}

// Subscribe returns a channel that receives events for a specific job
func (b *EventBus) Subscribe(jobID domain.JobID) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100) // Buffer to prevent blocking publisher
	b.subs[jobID] = append(b.subs[jobID], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subscribers := b.subs[jobID]
			for i, sub := range subscribers {
				if sub == ch {
					close(ch)
					b.subs[jobID] = append(subscribers[:i], subscribers[i+1:]...)
					break
				}
			}
			if len(b.subs[jobID]) == 0 {
				delete(b.subs, jobID)
			}
		})
	}

	return ch, unsub
}

// SubscribeGlobal receives events for every job.
func (b *EventBus) SubscribeGlobal() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100)
	b.global = append(b.global, ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, sub := range b.global {
				if sub == ch {
					close(ch)
					b.global = append(b.global[:i], b.global[i+1:]...)
					break
				}
			}
		})
	}
	return ch, unsub
}

// Publish sends an event to all subscribers of the job
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[e.JobID] {
		b.send(ch, e)
	}
	for _, ch := range b.global {
		b.send(ch, e)
	}
}

func (b *EventBus) send(ch chan Event, e Event) {
	select {
	case ch <- e:
	default:
		// If channel is full, drop event to prevent blocking application
		b.logger.Warn("event bus channel full, dropping event", "job_id", e.JobID, "type", e.Type)
	}
}

// HandleEnvelope bridges a jobs.events message onto the bus. It has the
// MessageHandler signature so it can be subscribed directly.
func (b *EventBus) HandleEnvelope(_ context.Context, env domain.Envelope) error {
	var head struct {
		Type  string       `json:"type"`
		JobID domain.JobID `json:"job_id"`
	}
	if err := json.Unmarshal(env.Body, &head); err != nil {
		return fmt.Errorf("failed to decode event envelope: %w", err)
	}
	if head.JobID == "" {
		// Nothing to route on; retrying will not change that.
		b.logger.Warn("dropping event without job_id", "message_id", env.ID)
		return nil
	}
	b.Publish(Event{
		JobID:         head.JobID,
		Type:          EventType(head.Type),
		Data:          string(env.Body),
		CorrelationID: env.CorrelationID,
		Timestamp:     time.Now().UnixMilli(),
	})
	return nil
}
