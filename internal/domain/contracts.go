package domain

import (
	"context"
	"time"
)

// Window is the half-open time range [Start, End) one ingestion cycle covers.
// A datum stamped exactly at End belongs to the next cycle.
type Window struct {
	Start time.Time
	End   time.Time
}

// RawPayload is one fetched, not-yet-parsed upstream response.
type RawPayload struct {
	Source    Source
	Unit      string // the symbol or news category the request covered
	Body      []byte
	FetchedAt time.Time
}

// UnitFailure records one unit of work a collector could not fetch this
// cycle. Deferred failures were denied by the rate gate and carry no error.
type UnitFailure struct {
	Unit     string
	Deferred bool
	Err      error
}

// Collector pulls raw payloads for one upstream source.
type Collector interface {
	// Source identifies the feed this collector serves.
	Source() Source

	// Fetch retrieves raw payloads for the window. Per-unit failures are
	// returned alongside the successes; Fetch itself never aborts the cycle.
	Fetch(ctx context.Context, window Window) ([]RawPayload, []UnitFailure)
}

// RateGate grants or defers upstream request slots per source.
type RateGate interface {
	// Acquire asks for one request slot. It never blocks: either the slot is
	// granted now, or wait tells the caller when trying again will succeed.
	Acquire(source Source) (granted bool, wait time.Duration)
}

// PublishStatus reports how a publish attempt was absorbed.
type PublishStatus int

const (
	// PublishAcked means the broker accepted the event.
	PublishAcked PublishStatus = iota
	// PublishBuffered means the broker was unreachable and the event sits in
	// the local bounded buffer awaiting flush.
	PublishBuffered
)

// EventPublisher appends events to the partitioned event log.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) (PublishStatus, error)
}

// Record is one raw entry fetched from the event log. Topic, Partition and
// Offset identify it for commit and dead-letter bookkeeping.
type Record struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
}

// EventLog is the consumer-side view of the partitioned log.
type EventLog interface {
	// Fetch blocks for the next record from the partitions assigned to this
	// consumer. It does not advance the consumer's committed position.
	Fetch(ctx context.Context) (Record, error)

	// Commit marks rec processed. Offsets at or below rec's are never
	// redelivered to this consumer group.
	Commit(ctx context.Context, rec Record) error
}

// DedupStore remembers recently processed event identities for the length of
// the retention window.
type DedupStore interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, eventID string, firstSeen time.Time) error
}

// SinkResult is the outcome of one sink write.
type SinkResult int

const (
	SinkWritten SinkResult = iota
	SinkSkippedDuplicate
	SinkFailed
)

func (r SinkResult) String() string {
	switch r {
	case SinkWritten:
		return "written"
	case SinkSkippedDuplicate:
		return "skipped_duplicate"
	case SinkFailed:
		return "failed"
	}
	return "unknown"
}

// SinkAdapter applies one idempotent write per event to a destination.
// Writing the same event twice must report SinkSkippedDuplicate, not error.
type SinkAdapter interface {
	Name() string
	Write(ctx context.Context, event Event) (SinkResult, error)
}

// DeadLetter receives records that exhausted their processing retries or can
// never be processed.
type DeadLetter interface {
	Send(ctx context.Context, rec Record, reason string, cause error) error
}

// SymbolCatalog yields the symbol universe the price collectors iterate.
type SymbolCatalog interface {
	Symbols(ctx context.Context) ([]string, error)
}

// CycleSummary aggregates one ingestion cycle.
type CycleSummary struct {
	Fetched   int // raw payloads fetched from upstreams
	Published int // events acked by the broker
	Buffered  int // events parked in the local buffer
	Failed    int // fetch units or publishes that failed
	Deferred  int // fetch units denied by the rate gate this cycle
	Defects   int // payload items rejected during normalization
}

// Merge combines two summaries field-wise.
func (s CycleSummary) Merge(o CycleSummary) CycleSummary {
	return CycleSummary{
		Fetched:   s.Fetched + o.Fetched,
		Published: s.Published + o.Published,
		Buffered:  s.Buffered + o.Buffered,
		Failed:    s.Failed + o.Failed,
		Deferred:  s.Deferred + o.Deferred,
		Defects:   s.Defects + o.Defects,
	}
}
