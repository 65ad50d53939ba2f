package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultIdempotencyLedgerTTL = 24 * time.Hour
const defaultIdempotencyLedgerMaxEntries = 16384

// MemoryIdempotencyLedger is a process-local IdempotencyStore. It backs tests
// and single-instance deployments; multi-instance deployments use the SQL
// store so claims stay atomic across processes.
type MemoryIdempotencyLedger struct {
	mu         sync.Mutex
	defaultTTL time.Duration
	maxEntries int
	entries    map[string]time.Time
	Now        func() time.Time
}

func NewMemoryIdempotencyLedger(defaultTTL time.Duration) *MemoryIdempotencyLedger {
	return NewMemoryIdempotencyLedgerWithLimits(defaultTTL, defaultIdempotencyLedgerMaxEntries)
}

func NewMemoryIdempotencyLedgerWithLimits(defaultTTL time.Duration, maxEntries int) *MemoryIdempotencyLedger {
	if defaultTTL <= 0 {
		defaultTTL = defaultIdempotencyLedgerTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultIdempotencyLedgerMaxEntries
	}
	return &MemoryIdempotencyLedger{
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		entries:    map[string]time.Time{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (l *MemoryIdempotencyLedger) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if l == nil {
		return false, fmt.Errorf("core: idempotency ledger is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("core: idempotency key is required")
	}
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneExpiredLocked(now)
	if expiresAt, ok := l.entries[key]; ok {
		if now.Before(expiresAt) {
			return false, nil
		}
		delete(l.entries, key)
	}
	l.enforceCapacityLocked(1)
	l.entries[key] = now.Add(ttl)
	return true, nil
}

func (l *MemoryIdempotencyLedger) PurgeExpired(_ context.Context) (int, error) {
	if l == nil {
		return 0, fmt.Errorf("core: idempotency ledger is not configured")
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	pruned := 0
	for key, expiresAt := range l.entries {
		if !now.Before(expiresAt) {
			delete(l.entries, key)
			pruned++
		}
	}
	return pruned, nil
}

func (l *MemoryIdempotencyLedger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *MemoryIdempotencyLedger) pruneExpiredLocked(now time.Time) {
	for key, expiresAt := range l.entries {
		if !now.Before(expiresAt) {
			delete(l.entries, key)
		}
	}
}

func (l *MemoryIdempotencyLedger) enforceCapacityLocked(incoming int) {
	if l.maxEntries <= 0 {
		return
	}
	target := l.maxEntries - incoming
	if target < 0 {
		target = 0
	}
	for len(l.entries) > target {
		l.evictOldestLocked()
	}
}

func (l *MemoryIdempotencyLedger) evictOldestLocked() {
	var oldestKey string
	var oldestExpiry time.Time
	for key, expiry := range l.entries {
		if oldestKey == "" || expiry.Before(oldestExpiry) {
			oldestKey = key
			oldestExpiry = expiry
		}
	}
	if oldestKey != "" {
		delete(l.entries, oldestKey)
		return
	}
	for key := range l.entries {
		delete(l.entries, key)
		break
	}
}
