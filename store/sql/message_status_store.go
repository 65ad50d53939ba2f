package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/contractlane/go-webhooks/core"
	"github.com/uptrace/bun"
)

// statusRankCase maps a status column to its lifecycle rank inside SQL so the
// monotonic guard can run in a single UPDATE without a prior read.
const statusRankCase = "CASE status " +
	"WHEN 'queued' THEN 1 " +
	"WHEN 'sent' THEN 2 " +
	"WHEN 'delivered' THEN 3 " +
	"WHEN 'failed' THEN 4 " +
	"ELSE 0 END"

// MessageStatusStore persists delivery statuses in message_statuses. The
// lifecycle only moves forward (queued < sent < delivered) and failed is
// terminal; the guard is enforced in the UPDATE itself.
type MessageStatusStore struct {
	db  bun.IDB
	now func() time.Time
}

func NewMessageStatusStore(db bun.IDB) *MessageStatusStore {
	return &MessageStatusStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *MessageStatusStore) Get(ctx context.Context, messageSID string) (core.MessageStatusRecord, bool, error) {
	if s == nil || s.db == nil {
		return core.MessageStatusRecord{}, false, fmt.Errorf("sqlstore: message status store is not initialized")
	}
	messageSID = strings.TrimSpace(messageSID)
	if messageSID == "" {
		return core.MessageStatusRecord{}, false, fmt.Errorf("sqlstore: message sid is required")
	}

	row := new(messageStatusRecord)
	err := s.db.NewSelect().
		Model(row).
		Where("message_sid = ?", messageSID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.MessageStatusRecord{}, false, nil
		}
		return core.MessageStatusRecord{}, false, fmt.Errorf("sqlstore: get message status: %w", err)
	}
	return messageStatusFromRow(row), true, nil
}

// Apply writes the status only when it advances the stored one. The guarded
// UPDATE runs first; zero affected rows with no stored record means the sid
// is new and an INSERT follows. It reports whether a write happened.
func (s *MessageStatusStore) Apply(ctx context.Context, record core.MessageStatusRecord) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: message status store is not initialized")
	}
	sid := strings.TrimSpace(record.MessageSID)
	if sid == "" {
		return false, fmt.Errorf("sqlstore: message sid is required")
	}
	status := core.MessageStatus(strings.TrimSpace(string(record.Status)))
	if !status.Known() {
		return false, fmt.Errorf("sqlstore: unknown message status %q", record.Status)
	}

	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.clock()
	}

	res, err := s.db.NewUpdate().
		Model((*messageStatusRecord)(nil)).
		Set("status = ?", string(status)).
		Set("error_code = ?", record.ErrorCode).
		Set("error_message = ?", record.ErrorMessage).
		Set("updated_at = ?", updatedAt).
		Where("message_sid = ?", sid).
		Where("status != 'failed'").
		Where("("+statusRankCase+") < ?", status.Rank()).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("sqlstore: apply message status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlstore: apply message status: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	// No row advanced. Either the stored status is already at or past this
	// one, or the sid has never been seen. Only the latter inserts.
	exists, err := s.db.NewSelect().
		Model((*messageStatusRecord)(nil)).
		Where("message_sid = ?", sid).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("sqlstore: apply message status: %w", err)
	}
	if exists {
		return false, nil
	}

	row := &messageStatusRecord{
		MessageSID:   sid,
		Status:       string(status),
		ErrorCode:    record.ErrorCode,
		ErrorMessage: record.ErrorMessage,
		UpdatedAt:    updatedAt,
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		// A concurrent writer inserted first; their status stands.
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("sqlstore: insert message status: %w", err)
	}
	return true, nil
}

func (s *MessageStatusStore) clock() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

func messageStatusFromRow(row *messageStatusRecord) core.MessageStatusRecord {
	if row == nil {
		return core.MessageStatusRecord{}
	}
	return core.MessageStatusRecord{
		MessageSID:   row.MessageSID,
		Status:       core.MessageStatus(row.Status),
		ErrorCode:    row.ErrorCode,
		ErrorMessage: row.ErrorMessage,
		UpdatedAt:    row.UpdatedAt,
	}
}
