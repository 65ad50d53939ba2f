package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// IdempotencyKeyStore claims idempotency keys through the UNIQUE constraint
// on webhook_idempotency_keys.key. A claim is a single INSERT; callers never
// read before writing.
type IdempotencyKeyStore struct {
	db  bun.IDB
	now func() time.Time
}

func NewIdempotencyKeyStore(db bun.IDB) *IdempotencyKeyStore {
	return &IdempotencyKeyStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Claim inserts the key and reports whether this caller won it. A unique
// violation means a live claim already exists, unless the stored claim has
// expired, in which case the row is replaced and the claim granted.
func (s *IdempotencyKeyStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: idempotency key store is not initialized")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("sqlstore: idempotency key is required")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("sqlstore: idempotency ttl must be positive")
	}

	now := s.clock()
	record := &idempotencyKeyRecord{
		ID:          uuid.NewString(),
		Key:         key,
		FirstSeenAt: now,
		ExpiresAt:   now.Add(ttl),
	}

	_, err := s.db.NewInsert().Model(record).Exec(ctx)
	if err == nil {
		return true, nil
	}
	if !isUniqueViolation(err) {
		return false, fmt.Errorf("sqlstore: claim idempotency key: %w", err)
	}

	// The existing claim may have expired without being purged yet. Delete
	// only the expired row, then retry the insert exactly once; a concurrent
	// claimer can still win the race, which reads as a duplicate.
	res, err := s.db.NewDelete().
		Model((*idempotencyKeyRecord)(nil)).
		Where("key = ?", key).
		Where("expires_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("sqlstore: reap expired idempotency key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlstore: reap expired idempotency key: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("sqlstore: reclaim idempotency key: %w", err)
	}
	return true, nil
}

// PurgeExpired removes claims whose expiry has passed and returns how many
// rows were deleted.
func (s *IdempotencyKeyStore) PurgeExpired(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: idempotency key store is not initialized")
	}
	res, err := s.db.NewDelete().
		Model((*idempotencyKeyRecord)(nil)).
		Where("expires_at <= ?", s.clock()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: purge expired idempotency keys: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlstore: purge expired idempotency keys: %w", err)
	}
	return int(affected), nil
}

func (s *IdempotencyKeyStore) clock() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
