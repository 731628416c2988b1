package domain

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	MinPriority = 0 // highest
	MaxPriority = 9 // lowest

	DefaultPriority = 5
)

// Wire header names carried alongside the JSON body.
const (
	HeaderCorrelationID = "correlation-id"
	HeaderPriority      = "priority"
	HeaderRetryCount    = "retry-count"
)

// Topics used by the orchestrator itself.
const (
	TopicJobsSubmitted = "jobs.submitted"
	TopicJobsEvents    = "jobs.events"
)

type MessageID string

// Envelope is one message in flight on the channel.
type Envelope struct {
	ID            MessageID       `json:"id"`
	Topic         string          `json:"topic"`
	RoutingKey    string          `json:"routing_key,omitempty"`
	Body          json.RawMessage `json:"body"`
	CorrelationID CorrelationID   `json:"correlation_id"`
	Priority      int             `json:"priority"`
	RetryCount    int             `json:"retry_count"`
	PublishedAt   time.Time       `json:"published_at"`
}

func NewEnvelope(topic string, body json.RawMessage, priority int, cid CorrelationID) Envelope {
	return Envelope{
		ID:            MessageID(uuid.New().String()),
		Topic:         topic,
		RoutingKey:    topic,
		Body:          body,
		CorrelationID: cid,
		Priority:      ClampPriority(priority),
		PublishedAt:   time.Now().UTC(),
	}
}

// Headers returns the wire headers for the envelope.
func (e Envelope) Headers() map[string]string {
	return map[string]string{
		HeaderCorrelationID: string(e.CorrelationID),
		HeaderPriority:      strconv.Itoa(e.Priority),
		HeaderRetryCount:    strconv.Itoa(e.RetryCount),
	}
}

// ClampPriority forces p into [MinPriority, MaxPriority].
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// DeadLetter is an envelope that exhausted its redeliveries, kept verbatim.
type DeadLetter struct {
	Envelope     Envelope  `json:"envelope"`
	Reason       string    `json:"reason"`
	DeadLetterAt time.Time `json:"dead_lettered_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}
