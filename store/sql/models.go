package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type dispatchLogRecord struct {
	bun.BaseModel `bun:"table:webhook_logs,alias:wl"`

	ID        string         `bun:"id,pk"`
	EventType string         `bun:"event_type,notnull"`
	Payload   map[string]any `bun:"payload,type:jsonb,notnull"`
	Attempts  int            `bun:"attempts,notnull"`
	Error     *string        `bun:"error"`
	CreatedAt time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type idempotencyKeyRecord struct {
	bun.BaseModel `bun:"table:webhook_idempotency_keys,alias:wik"`

	ID          string    `bun:"id,pk"`
	Key         string    `bun:"key,notnull"`
	FirstSeenAt time.Time `bun:"first_seen_at,nullzero,notnull"`
	ExpiresAt   time.Time `bun:"expires_at,nullzero,notnull"`
}

type trackingEventRecord struct {
	bun.BaseModel `bun:"table:tracking_events,alias:te"`

	ID             string         `bun:"id,pk"`
	ActorUserID    *string        `bun:"actor_user_id"`
	SubjectType    string         `bun:"subject_type,notnull"`
	SubjectID      *string        `bun:"subject_id"`
	EventType      string         `bun:"event_type,notnull"`
	Metadata       map[string]any `bun:"metadata,type:jsonb,notnull"`
	IdempotencyKey string         `bun:"idempotency_key,notnull"`
	CreatedAt      time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type messageStatusRecord struct {
	bun.BaseModel `bun:"table:message_statuses,alias:ms"`

	MessageSID   string    `bun:"message_sid,pk"`
	Status       string    `bun:"status,notnull"`
	ErrorCode    string    `bun:"error_code,notnull"`
	ErrorMessage string    `bun:"error_message,notnull"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
