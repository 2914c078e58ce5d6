// Package mocks provides hand-rolled fakes for the domain ports.
package mocks

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/user/market-ingestor/internal/domain"
)

// MockEventLog is a mock implementation of domain.EventLog. Fetch pops
// records from Queue and reports io.EOF once the queue is empty, mimicking a
// closed reader.
type MockEventLog struct {
	mu        sync.Mutex
	Queue     []domain.Record
	Committed []domain.Record
	FetchErr  error
	CommitErr error
}

func (m *MockEventLog) Fetch(ctx context.Context) (domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FetchErr != nil {
		return domain.Record{}, m.FetchErr
	}
	if len(m.Queue) == 0 {
		return domain.Record{}, io.EOF
	}
	rec := m.Queue[0]
	m.Queue = m.Queue[1:]
	return rec, nil
}

func (m *MockEventLog) Commit(ctx context.Context, rec domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CommitErr != nil {
		return m.CommitErr
	}
	m.Committed = append(m.Committed, rec)
	return nil
}

// MockSink is a mock implementation of domain.SinkAdapter. FailTimes makes
// the first N writes fail; WriteErr makes every write fail. Repeated ids
// report SinkSkippedDuplicate like a real idempotent sink.
type MockSink struct {
	mu        sync.Mutex
	NameValue string
	FailTimes int
	WriteErr  error
	Written   []domain.Event
	seen      map[string]bool
}

func (m *MockSink) Name() string {
	if m.NameValue == "" {
		return "mock"
	}
	return m.NameValue
}

func (m *MockSink) Write(ctx context.Context, event domain.Event) (domain.SinkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return domain.SinkFailed, m.WriteErr
	}
	if m.FailTimes > 0 {
		m.FailTimes--
		return domain.SinkFailed, errSinkUnavailable
	}
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if m.seen[event.ID] {
		return domain.SinkSkippedDuplicate, nil
	}
	m.seen[event.ID] = true
	m.Written = append(m.Written, event)
	return domain.SinkWritten, nil
}

var errSinkUnavailable = &sinkError{"sink unavailable"}

type sinkError struct{ msg string }

func (e *sinkError) Error() string { return e.msg }

// DeadLetterEntry captures one Send call.
type DeadLetterEntry struct {
	Rec    domain.Record
	Reason string
	Cause  error
}

// MockDeadLetter is a mock implementation of domain.DeadLetter.
type MockDeadLetter struct {
	mu      sync.Mutex
	Entries []DeadLetterEntry
	SendErr error
}

func (m *MockDeadLetter) Send(ctx context.Context, rec domain.Record, reason string, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.Entries = append(m.Entries, DeadLetterEntry{Rec: rec, Reason: reason, Cause: cause})
	return nil
}

// MockPublisher is a mock implementation of domain.EventPublisher.
type MockPublisher struct {
	mu     sync.Mutex
	Events []domain.Event
	Status domain.PublishStatus
	Err    error
}

func (m *MockPublisher) Publish(ctx context.Context, event domain.Event) (domain.PublishStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Status, m.Err
	}
	m.Events = append(m.Events, event)
	return m.Status, nil
}

// Published returns a copy of the captured events.
func (m *MockPublisher) Published() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Event, len(m.Events))
	copy(out, m.Events)
	return out
}

// MockCollector is a mock implementation of domain.Collector.
type MockCollector struct {
	mu       sync.Mutex
	Src      domain.Source
	Payloads []domain.RawPayload
	Failures []domain.UnitFailure
	Windows  []domain.Window
}

func (m *MockCollector) Source() domain.Source { return m.Src }

func (m *MockCollector) Fetch(ctx context.Context, window domain.Window) ([]domain.RawPayload, []domain.UnitFailure) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Windows = append(m.Windows, window)
	return m.Payloads, m.Failures
}

// MockDedupStore is a mock implementation of domain.DedupStore.
type MockDedupStore struct {
	mu        sync.Mutex
	SeenIDs   map[string]bool
	Recorded  map[string]time.Time
	SeenErr   error
	RecordErr error
}

func (m *MockDedupStore) Seen(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SeenErr != nil {
		return false, m.SeenErr
	}
	return m.SeenIDs[eventID], nil
}

func (m *MockDedupStore) Record(ctx context.Context, eventID string, firstSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RecordErr != nil {
		return m.RecordErr
	}
	if m.Recorded == nil {
		m.Recorded = make(map[string]time.Time)
	}
	m.Recorded[eventID] = firstSeen
	return nil
}

// MockCatalog is a mock implementation of domain.SymbolCatalog.
type MockCatalog struct {
	SymbolsList []string
	Err         error
}

func (m *MockCatalog) Symbols(ctx context.Context) ([]string, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.SymbolsList, nil
}
