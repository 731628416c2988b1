package services

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/stretchr/testify/mock"

	"github.com/manthysbr/umbrella/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type callRecord struct {
	Service domain.ServiceName
	Action  string
	Body    map[string]any
	CID     domain.CorrelationID
	Start   int64
	End     int64
}

// fakeCaller records calls with a shared sequence counter so tests can
// assert happens-before without relying on wall-clock timestamps.
type fakeCaller struct {
	seq  atomic.Int64
	fn   func(ctx context.Context, service domain.ServiceName, action string, body map[string]any) (map[string]any, error)
	mu   sync.Mutex
	recs []callRecord
}

func (f *fakeCaller) Call(ctx context.Context, service domain.ServiceName, action string, body map[string]any, cid domain.CorrelationID, _ domain.RetryPolicy) (map[string]any, error) {
	start := f.seq.Add(1)
	var out map[string]any
	var err error
	if f.fn != nil {
		out, err = f.fn(ctx, service, action, body)
	} else {
		out = map[string]any{"ok": true}
	}
	end := f.seq.Add(1)

	f.mu.Lock()
	f.recs = append(f.recs, callRecord{Service: service, Action: action, Body: body, CID: cid, Start: start, End: end})
	f.mu.Unlock()
	return out, err
}

func (f *fakeCaller) Health(ctx context.Context, service domain.ServiceName, cid domain.CorrelationID) domain.ServiceHealth {
	return domain.ServiceHealth{Service: service, Status: domain.HealthStatusHealthy}
}

func (f *fakeCaller) calls() []callRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]callRecord(nil), f.recs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func (f *fakeCaller) byAction(action string) (callRecord, bool) {
	for _, c := range f.calls() {
		if c.Action == action {
			return c, true
		}
	}
	return callRecord{}, false
}

// MockCaller is a testify mock of ports.RemoteCaller.
type MockCaller struct {
	mock.Mock
}

func (m *MockCaller) Call(ctx context.Context, service domain.ServiceName, action string, body map[string]any, cid domain.CorrelationID, policy domain.RetryPolicy) (map[string]any, error) {
	args := m.Called(ctx, service, action, body, cid, policy)
	out, _ := args.Get(0).(map[string]any)
	return out, args.Error(1)
}

func (m *MockCaller) Health(ctx context.Context, service domain.ServiceName, cid domain.CorrelationID) domain.ServiceHealth {
	args := m.Called(ctx, service, cid)
	return args.Get(0).(domain.ServiceHealth)
}

type publishedMessage struct {
	Topic    string
	Body     any
	Priority int
	CID      domain.CorrelationID
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []publishedMessage
}

func (p *fakePublisher) Publish(_ context.Context, topic string, body any, priority int, cid domain.CorrelationID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, publishedMessage{Topic: topic, Body: body, Priority: priority, CID: cid})
	return nil
}

func (p *fakePublisher) messages() []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedMessage(nil), p.msgs...)
}

// memoryDeadLetters is an in-memory ports.DeadLetterStore.
type memoryDeadLetters struct {
	mu    sync.Mutex
	items map[domain.MessageID]domain.DeadLetter
	order []domain.MessageID
}

func newMemoryDeadLetters() *memoryDeadLetters {
	return &memoryDeadLetters{items: make(map[domain.MessageID]domain.DeadLetter)}
}

func (m *memoryDeadLetters) Put(_ context.Context, dl domain.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[dl.Envelope.ID]; !ok {
		m.order = append(m.order, dl.Envelope.ID)
	}
	m.items[dl.Envelope.ID] = dl
	return nil
}

func (m *memoryDeadLetters) Get(_ context.Context, id domain.MessageID) (domain.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dl, ok := m.items[id]
	if !ok {
		return domain.DeadLetter{}, domain.ErrDeadLetterNotFound
	}
	return dl, nil
}

func (m *memoryDeadLetters) List(_ context.Context) ([]domain.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.DeadLetter, 0, len(m.order))
	for _, id := range m.order {
		if dl, ok := m.items[id]; ok {
			out = append(out, dl)
		}
	}
	return out, nil
}

func (m *memoryDeadLetters) Delete(_ context.Context, id domain.MessageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return domain.ErrDeadLetterNotFound
	}
	delete(m.items, id)
	return nil
}
