package services

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/manthysbr/umbrella/internal/core/domain"
	"github.com/manthysbr/umbrella/internal/core/ports"
	"github.com/manthysbr/umbrella/internal/observability"
)

// MessageHandler processes one delivery. A non-nil error triggers redelivery.
type MessageHandler func(ctx context.Context, env domain.Envelope) error

// ReplayHook runs before a dead letter is re-enqueued. An error aborts the
// replay and leaves the dead letter in place.
type ReplayHook func(ctx context.Context, env domain.Envelope) error

// MessageChannel is an in-process, at-least-once, priority-ordered message
// channel. Messages that keep failing are moved to a DeadLetterStore.
type MessageChannel struct {
	logger  *slog.Logger
	store   ports.DeadLetterStore
	metrics *observability.Metrics // optional; nil-safe
	cfg     domain.ChannelConfig

	mu           sync.Mutex
	topics       map[string]*topicQueue
	deadHandlers map[string][]func(domain.DeadLetter)
	replayHooks  map[string][]ReplayHook
}

type queued struct {
	env domain.Envelope
	seq uint64
}

// envelopeHeap orders by priority (0 first), then publish order.
type envelopeHeap []queued

func (h envelopeHeap) Len() int { return len(h) }
func (h envelopeHeap) Less(i, j int) bool {
	if h[i].env.Priority != h[j].env.Priority {
		return h[i].env.Priority < h[j].env.Priority
	}
	return h[i].seq < h[j].seq
}
func (h envelopeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *envelopeHeap) Push(x any)   { *h = append(*h, x.(queued)) }
func (h *envelopeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type topicQueue struct {
	items  envelopeHeap
	seq    uint64
	signal chan struct{}
}

func NewMessageChannel(logger *slog.Logger, store ports.DeadLetterStore, metrics *observability.Metrics, cfg domain.ChannelConfig) *MessageChannel {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Consumers <= 0 {
		cfg.Consumers = 1
	}
	if cfg.DeadLetterRetention <= 0 {
		cfg.DeadLetterRetention = 24 * time.Hour
	}
	return &MessageChannel{
		logger:       logger,
		store:        store,
		metrics:      metrics,
		cfg:          cfg,
		topics:       make(map[string]*topicQueue),
		deadHandlers: make(map[string][]func(domain.DeadLetter)),
		replayHooks:  make(map[string][]ReplayHook),
	}
}

func (c *MessageChannel) queue(topic string) *topicQueue {
	q, ok := c.topics[topic]
	if !ok {
		q = &topicQueue{signal: make(chan struct{}, 1)}
		c.topics[topic] = q
	}
	return q
}

// Publish enqueues body on topic. body is JSON-encoded unless it already is
// a json.RawMessage. Priority is clamped to 0..9.
func (c *MessageChannel) Publish(ctx context.Context, topic string, body any, priority int, cid domain.CorrelationID) error {
	if topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	var raw json.RawMessage
	switch b := body.(type) {
	case json.RawMessage:
		raw = b
	case []byte:
		raw = json.RawMessage(b)
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode message body: %w", err)
		}
		raw = data
	}

	env := domain.NewEnvelope(topic, raw, priority, cid)
	c.enqueue(env)
	c.logger.Debug("message published", "topic", topic, "message_id", env.ID, "priority", env.Priority, "correlation_id", string(cid))
	return nil
}

func (c *MessageChannel) enqueue(env domain.Envelope) {
	c.mu.Lock()
	q := c.queue(env.Topic)
	q.seq++
	heap.Push(&q.items, queued{env: env, seq: q.seq})
	depth := q.items.Len()
	c.mu.Unlock()

	c.metrics.SetQueueDepth(env.Topic, depth)
	notify(q.signal)
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (c *MessageChannel) pop(topic string) (domain.Envelope, *topicQueue, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.queue(topic)
	if q.items.Len() == 0 {
		return domain.Envelope{}, q, false
	}
	item := heap.Pop(&q.items).(queued)
	if q.items.Len() > 0 {
		// Wake another consumer for the rest.
		notify(q.signal)
	}
	c.metrics.SetQueueDepth(topic, q.items.Len())
	return item.env, q, true
}

// Pending returns the number of queued messages on topic.
func (c *MessageChannel) Pending(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if q, ok := c.topics[topic]; ok {
		return q.items.Len()
	}
	return 0
}

// OnDeadLetter registers fn to observe envelopes dead-lettered from topic.
func (c *MessageChannel) OnDeadLetter(topic string, fn func(domain.DeadLetter)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadHandlers[topic] = append(c.deadHandlers[topic], fn)
}

// OnReplay registers fn to prepare envelopes replayed onto topic.
func (c *MessageChannel) OnReplay(topic string, fn ReplayHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replayHooks[topic] = append(c.replayHooks[topic], fn)
}

// Subscribe starts the configured number of consumers for topic. They run
// until ctx is cancelled.
func (c *MessageChannel) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	if topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	for i := 0; i < c.cfg.Consumers; i++ {
		go c.consume(ctx, topic, handler)
	}
	c.logger.Info("subscribed", "topic", topic, "consumers", c.cfg.Consumers)
	return nil
}

func (c *MessageChannel) consume(ctx context.Context, topic string, handler MessageHandler) {
	for {
		if ctx.Err() != nil {
			return
		}
		env, q, ok := c.pop(topic)
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.signal:
				continue
			}
		}
		c.deliver(ctx, env, handler)
	}
}

func (c *MessageChannel) deliver(ctx context.Context, env domain.Envelope, handler MessageHandler) {
	logger := c.logger.With("topic", env.Topic, "message_id", env.ID, "correlation_id", string(env.CorrelationID))

	err := safeHandle(ctx, handler, env)
	if err == nil {
		c.metrics.MessageDelivered(env.Topic, "acked")
		return
	}
	if ctx.Err() != nil {
		// Shutting down: put it back without spending a retry.
		logger.Info("consumer stopped mid-delivery, requeueing", "error", err)
		c.enqueue(env)
		return
	}

	env.RetryCount++
	if env.RetryCount > c.cfg.MaxRetries {
		c.deadLetter(ctx, env, err)
		return
	}

	c.metrics.MessageDelivered(env.Topic, "redelivered")
	logger.Warn("message handling failed, redelivering", "retry_count", env.RetryCount, "error", err)
	if c.cfg.RedeliveryDelay > 0 {
		time.AfterFunc(c.cfg.RedeliveryDelay, func() { c.enqueue(env) })
		return
	}
	c.enqueue(env)
}

func safeHandle(ctx context.Context, handler MessageHandler, env domain.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, env)
}

func (c *MessageChannel) deadLetter(ctx context.Context, env domain.Envelope, cause error) {
	now := time.Now().UTC()
	dl := domain.DeadLetter{
		Envelope:     env,
		Reason:       cause.Error(),
		DeadLetterAt: now,
		ExpiresAt:    now.Add(c.cfg.DeadLetterRetention),
	}

	c.logger.Warn("message dead-lettered",
		"topic", env.Topic,
		"message_id", env.ID,
		"correlation_id", string(env.CorrelationID),
		"retry_count", env.RetryCount,
		"reason", dl.Reason,
	)
	c.metrics.MessageDelivered(env.Topic, "dead_lettered")

	if err := c.store.Put(context.WithoutCancel(ctx), dl); err != nil {
		c.logger.Error("failed to persist dead letter", "message_id", env.ID, "error", err)
	}

	c.mu.Lock()
	hooks := append([]func(domain.DeadLetter){}, c.deadHandlers[env.Topic]...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn(dl)
	}
}

// DeadLetters lists retained dead letters.
func (c *MessageChannel) DeadLetters(ctx context.Context) ([]domain.DeadLetter, error) {
	dls, err := c.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	return dls, nil
}

// Replay republishes a dead letter with its retry count reset and removes it
// from the store.
func (c *MessageChannel) Replay(ctx context.Context, id domain.MessageID) (domain.Envelope, error) {
	dl, err := c.store.Get(ctx, id)
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("failed to load dead letter %s: %w", id, err)
	}

	c.mu.Lock()
	hooks := append([]ReplayHook{}, c.replayHooks[dl.Envelope.Topic]...)
	c.mu.Unlock()
	for _, fn := range hooks {
		if err := fn(ctx, dl.Envelope); err != nil {
			return domain.Envelope{}, fmt.Errorf("failed to replay dead letter %s: %w", id, err)
		}
	}

	if err := c.store.Delete(ctx, id); err != nil {
		return domain.Envelope{}, fmt.Errorf("failed to remove dead letter %s: %w", id, err)
	}

	env := dl.Envelope
	env.RetryCount = 0
	c.enqueue(env)
	c.logger.Info("dead letter replayed", "topic", env.Topic, "message_id", env.ID, "correlation_id", string(env.CorrelationID))
	return env, nil
}
