package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/contractlane/go-webhooks/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TrackingEventStore appends audit rows to tracking_events. The UNIQUE
// constraint on idempotency_key keeps the trail at one row per logical event;
// a duplicate insert is absorbed, never surfaced as an error.
type TrackingEventStore struct {
	repo repository.Repository[*trackingEventRecord]
	now  func() time.Time
}

func NewTrackingEventStore(db *bun.DB) *TrackingEventStore {
	return &TrackingEventStore{
		repo: repository.NewRepository[*trackingEventRecord](db, trackingEventHandlers()),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *TrackingEventStore) Record(ctx context.Context, event core.TrackingEvent) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: tracking event store is not initialized")
	}
	key := strings.TrimSpace(event.IdempotencyKey)
	if key == "" {
		return fmt.Errorf("sqlstore: tracking event idempotency key is required")
	}
	eventType := strings.TrimSpace(event.EventType)
	if eventType == "" {
		return fmt.Errorf("sqlstore: tracking event type is required")
	}

	id := strings.TrimSpace(event.ID)
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.clock()
	}

	row := &trackingEventRecord{
		ID:             id,
		ActorUserID:    copyStringPtr(event.ActorUserID),
		SubjectType:    strings.TrimSpace(event.SubjectType),
		SubjectID:      copyStringPtr(event.SubjectID),
		EventType:      eventType,
		Metadata:       copyAnyMap(event.Metadata),
		IdempotencyKey: key,
		CreatedAt:      createdAt,
	}

	if _, err := s.repo.Create(ctx, row); err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("sqlstore: record tracking event: %w", err)
	}
	return nil
}

func (s *TrackingEventStore) clock() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

func copyStringPtr(src *string) *string {
	if src == nil {
		return nil
	}
	value := *src
	return &value
}
