package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/contractlane/go-webhooks/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const messageStatusCacheKeyPrefix = "go-webhooks::message_status::v1"

type messageStatusEntry struct {
	Record core.MessageStatusRecord
	Found  bool
}

// CachedMessageStatusStore fronts a MessageStatusStore with a read-through
// cache. Status callbacks for the same message sid arrive in bursts; the
// cache keeps the monotonic pre-check off the database, and every applied
// write invalidates the entry.
type CachedMessageStatusStore struct {
	base  core.MessageStatusStore
	cache repositorycache.CacheService
}

func NewCachedMessageStatusStore(
	base core.MessageStatusStore,
	cacheService repositorycache.CacheService,
) (*CachedMessageStatusStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base message status store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: message status cache service is required")
	}
	return &CachedMessageStatusStore{base: base, cache: cacheService}, nil
}

// MessageStatusCacheKey returns the deterministic cache key contract for
// status reads: go-webhooks::message_status::v1::<message_sid> with the sid
// URL-path escaped after trimming.
func MessageStatusCacheKey(messageSID string) (string, error) {
	messageSID = strings.TrimSpace(messageSID)
	if messageSID == "" {
		return "", fmt.Errorf("sqlstore: message sid is required")
	}
	return messageStatusCacheKeyPrefix + "::" + url.PathEscape(messageSID), nil
}

func (s *CachedMessageStatusStore) Get(ctx context.Context, messageSID string) (core.MessageStatusRecord, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.MessageStatusRecord{}, false, fmt.Errorf("sqlstore: cached message status store is not configured")
	}
	cacheKey, err := MessageStatusCacheKey(messageSID)
	if err != nil {
		return core.MessageStatusRecord{}, false, err
	}

	entry, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (messageStatusEntry, error) {
		record, found, fetchErr := s.base.Get(ctx, strings.TrimSpace(messageSID))
		if fetchErr != nil {
			return messageStatusEntry{}, fetchErr
		}
		return messageStatusEntry{Record: record, Found: found}, nil
	})
	if err != nil {
		return core.MessageStatusRecord{}, false, err
	}
	return entry.Record, entry.Found, nil
}

func (s *CachedMessageStatusStore) Apply(ctx context.Context, record core.MessageStatusRecord) (bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return false, fmt.Errorf("sqlstore: cached message status store is not configured")
	}
	cacheKey, err := MessageStatusCacheKey(record.MessageSID)
	if err != nil {
		return false, err
	}

	applied, err := s.base.Apply(ctx, record)
	if err != nil {
		return applied, err
	}
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		return applied, err
	}
	return applied, nil
}

var _ core.MessageStatusStore = (*CachedMessageStatusStore)(nil)
