package core

import (
	"context"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// InboundRequest is a transport-neutral view of an incoming webhook call.
// Body carries the raw, un-decoded bytes; signature verification must run
// against these bytes, never against a re-serialized payload.
type InboundRequest struct {
	EventType string
	Headers   map[string]string
	Body      []byte
	Metadata  map[string]any
}

type InboundResult struct {
	Accepted   bool
	StatusCode int
	Duplicate  bool
	Payload    map[string]any
	Metadata   map[string]any
}

// DispatchRecord is the durable audit row behind the webhook_logs table.
// Attempts only grows; Error is nil iff the most recent attempt succeeded.
type DispatchRecord struct {
	ID        string
	EventType string
	Payload   map[string]any
	Attempts  int
	Error     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DeadLettered reports whether the record exhausted its retry budget and is
// parked for manual inspection or out-of-band replay.
func (r DispatchRecord) DeadLettered(maxAttempts int) bool {
	return r.Error != nil && r.Attempts >= maxAttempts
}

type TrackingEvent struct {
	ID             string
	ActorUserID    *string
	SubjectType    string
	SubjectID      *string
	EventType      string
	Metadata       map[string]any
	IdempotencyKey string
	CreatedAt      time.Time
}

type MessageStatus string

const (
	MessageStatusQueued    MessageStatus = "queued"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusFailed    MessageStatus = "failed"
)

// statusRank orders the delivery lifecycle. failed is terminal and outranks
// every non-terminal status so a late "sent" can never resurrect a dead send.
func (s MessageStatus) Rank() int {
	switch s {
	case MessageStatusQueued:
		return 1
	case MessageStatusSent:
		return 2
	case MessageStatusDelivered:
		return 3
	case MessageStatusFailed:
		return 4
	default:
		return 0
	}
}

func (s MessageStatus) Known() bool {
	return s.Rank() > 0
}

func ParseMessageStatus(raw string) MessageStatus {
	return MessageStatus(strings.TrimSpace(strings.ToLower(raw)))
}

type MessageStatusRecord struct {
	MessageSID   string
	Status       MessageStatus
	ErrorCode    string
	ErrorMessage string
	UpdatedAt    time.Time
}

// IdempotencyStore claims caller-supplied idempotency keys. Claim must be
/// atomic at the storage layer: under concurrent delivery of the same key at
// most one caller observes claimed=true. A read-then-write implementation is
// not a valid implementation of this contract.
type IdempotencyStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	PurgeExpired(ctx context.Context) (int, error)
}

type DispatchLog interface {
	Create(ctx context.Context, eventType string, payload map[string]any) (DispatchRecord, error)
	RecordAttempt(ctx context.Context, id string, attempts int, attemptErr error) error
	MarkDelivered(ctx context.Context, id string, attempts int) error
	Get(ctx context.Context, id string) (DispatchRecord, error)
	ListDeadLetters(ctx context.Context, maxAttempts int, limit int) ([]DispatchRecord, error)
}

// TrackingLog is the append-only audit trail. Record must tolerate duplicate
// idempotency keys by dropping the duplicate row, not by failing.
type TrackingLog interface {
	Record(ctx context.Context, event TrackingEvent) error
}

type MessageStatusStore interface {
	Get(ctx context.Context, messageSID string) (MessageStatusRecord, bool, error)
	// Apply persists the record only when it advances the stored status.
	// It reports whether the write happened.
	Apply(ctx context.Context, record MessageStatusRecord) (bool, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// Job contracts shared with the go-job queue adapters. Maintenance work
// (dead-letter sweeps, idempotency purges) flows through these.

type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}
