package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/contractlane/go-webhooks/core"
)

// MemoryStatusStore is a process-local core.MessageStatusStore. Apply
// re-checks the monotonic guard under the lock, mirroring the guarded UPDATE
// the SQL store issues, so racing callbacks cannot interleave a regression.
type MemoryStatusStore struct {
	mu      sync.Mutex
	records map[string]core.MessageStatusRecord
}

func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{records: map[string]core.MessageStatusRecord{}}
}

func (s *MemoryStatusStore) Get(_ context.Context, messageSID string) (core.MessageStatusRecord, bool, error) {
	if s == nil {
		return core.MessageStatusRecord{}, false, fmt.Errorf("messaging: status store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[strings.TrimSpace(messageSID)]
	return record, ok, nil
}

func (s *MemoryStatusStore) Apply(_ context.Context, record core.MessageStatusRecord) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("messaging: status store is not configured")
	}
	sid := strings.TrimSpace(record.MessageSID)
	if sid == "" {
		return false, fmt.Errorf("messaging: message sid is required")
	}
	record.MessageSID = sid

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[sid]
	if ok {
		if current.Status == core.MessageStatusFailed {
			return false, nil
		}
		if record.Status.Rank() <= current.Status.Rank() {
			return false, nil
		}
	}
	s.records[sid] = record
	return true, nil
}

var _ core.MessageStatusStore = (*MemoryStatusStore)(nil)
