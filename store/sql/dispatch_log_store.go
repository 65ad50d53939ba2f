package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/contractlane/go-webhooks/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DispatchLogStore persists DispatchRecords in webhook_logs. Every outbound
// attempt is recorded before any backoff sleep so the trail survives a crash
// mid-retry.
type DispatchLogStore struct {
	db   bun.IDB
	repo repository.Repository[*dispatchLogRecord]
	now  func() time.Time
}

func NewDispatchLogStore(db *bun.DB) *DispatchLogStore {
	return &DispatchLogStore{
		db:   db,
		repo: repository.NewRepository[*dispatchLogRecord](db, dispatchLogHandlers()),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *DispatchLogStore) Create(ctx context.Context, eventType string, payload map[string]any) (core.DispatchRecord, error) {
	if s == nil || s.db == nil {
		return core.DispatchRecord{}, fmt.Errorf("sqlstore: dispatch log store is not initialized")
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return core.DispatchRecord{}, fmt.Errorf("sqlstore: event type is required")
	}
	if payload == nil {
		payload = map[string]any{}
	}

	now := s.clock()
	record := &dispatchLogRecord{
		ID:        uuid.NewString(),
		EventType: eventType,
		Payload:   copyAnyMap(payload),
		Attempts:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.DispatchRecord{}, fmt.Errorf("sqlstore: create dispatch record: %w", err)
	}
	return dispatchRecordFromRow(created), nil
}

// RecordAttempt stores the attempt count and latest error for a failed
// attempt. The error column stays set until a later attempt succeeds.
func (s *DispatchLogStore) RecordAttempt(ctx context.Context, id string, attempts int, attemptErr error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: dispatch log store is not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: dispatch record id is required")
	}
	message := ""
	if attemptErr != nil {
		message = attemptErr.Error()
	}

	res, err := s.db.NewUpdate().
		Model((*dispatchLogRecord)(nil)).
		Set("attempts = ?", attempts).
		Set("error = ?", message).
		Set("updated_at = ?", s.clock()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sqlstore: record dispatch attempt: %w", err)
	}
	return requireOneRow(res, "dispatch record", id)
}

// MarkDelivered finalizes a successful dispatch, clearing any error left by
// earlier failed attempts.
func (s *DispatchLogStore) MarkDelivered(ctx context.Context, id string, attempts int) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: dispatch log store is not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: dispatch record id is required")
	}

	res, err := s.db.NewUpdate().
		Model((*dispatchLogRecord)(nil)).
		Set("attempts = ?", attempts).
		Set("error = NULL").
		Set("updated_at = ?", s.clock()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sqlstore: mark dispatch delivered: %w", err)
	}
	return requireOneRow(res, "dispatch record", id)
}

func (s *DispatchLogStore) Get(ctx context.Context, id string) (core.DispatchRecord, error) {
	if s == nil || s.db == nil {
		return core.DispatchRecord{}, fmt.Errorf("sqlstore: dispatch log store is not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.DispatchRecord{}, fmt.Errorf("sqlstore: dispatch record id is required")
	}

	row := new(dispatchLogRecord)
	err := s.db.NewSelect().
		Model(row).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.DispatchRecord{}, fmt.Errorf("sqlstore: dispatch record %q not found", id)
		}
		return core.DispatchRecord{}, fmt.Errorf("sqlstore: get dispatch record: %w", err)
	}
	return dispatchRecordFromRow(row), nil
}

// ListDeadLetters returns records whose attempts are exhausted and whose
// error is still set, oldest first.
func (s *DispatchLogStore) ListDeadLetters(ctx context.Context, maxAttempts int, limit int) ([]core.DispatchRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: dispatch log store is not initialized")
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if limit <= 0 {
		limit = 100
	}

	var rows []*dispatchLogRecord
	err := s.db.NewSelect().
		Model(&rows).
		Where("error IS NOT NULL").
		Where("attempts >= ?", maxAttempts).
		Order("created_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list dead letters: %w", err)
	}

	out := make([]core.DispatchRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, dispatchRecordFromRow(row))
	}
	return out, nil
}

func (s *DispatchLogStore) clock() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

func dispatchRecordFromRow(row *dispatchLogRecord) core.DispatchRecord {
	if row == nil {
		return core.DispatchRecord{}
	}
	record := core.DispatchRecord{
		ID:        row.ID,
		EventType: row.EventType,
		Payload:   copyAnyMap(row.Payload),
		Attempts:  row.Attempts,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.Error != nil {
		value := *row.Error
		record.Error = &value
	}
	return record
}

func requireOneRow(res sql.Result, kind string, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: update %s: %w", kind, err)
	}
	if affected == 0 {
		return fmt.Errorf("sqlstore: %s %q not found", kind, id)
	}
	return nil
}

func copyAnyMap(src map[string]any) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(src))
	for key, value := range src {
		out[key] = value
	}
	return out
}
