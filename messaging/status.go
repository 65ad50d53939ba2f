package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/contractlane/go-webhooks/core"
	glog "github.com/goliatone/go-logger/glog"
)

type StatusUpdate struct {
	MessageSID   string
	Status       string
	ErrorCode    string
	ErrorMessage string
}

// StatusHandler applies provider callbacks under the monotonic status
// invariant: queued < sent < delivered, failed terminal. Stale duplicates
// and regressions are dropped, never written.
type StatusHandler struct {
	Store  core.MessageStatusStore
	Logger core.Logger
	Now    func() time.Time
}

func NewStatusHandler(store core.MessageStatusStore) *StatusHandler {
	return &StatusHandler{
		Store: store,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Apply reports whether the update advanced stored state. Callers always ack
// the provider regardless; a provider retry cannot fix a stale or unknown
// update, so surfacing errors upstream only invites retry storms.
func (h *StatusHandler) Apply(ctx context.Context, update StatusUpdate) (bool, error) {
	if h == nil || h.Store == nil {
		return false, fmt.Errorf("messaging: status handler requires a store")
	}

	sid := strings.TrimSpace(update.MessageSID)
	if sid == "" {
		h.logger().Info("status callback missing message sid, ignoring")
		return false, nil
	}

	status := core.ParseMessageStatus(update.Status)
	if !status.Known() {
		h.logger().Info("status callback with unrecognized status, ignoring",
			"message_sid", sid,
			"status", update.Status,
		)
		return false, nil
	}

	current, found, err := h.Store.Get(ctx, sid)
	if err != nil {
		return false, err
	}
	if found {
		if current.Status == core.MessageStatusFailed {
			h.logger().Info("status callback for terminally failed message, ignoring",
				"message_sid", sid,
				"status", string(status),
			)
			return false, nil
		}
		if status.Rank() <= current.Status.Rank() {
			h.logger().Info("stale status callback, ignoring",
				"message_sid", sid,
				"stored", string(current.Status),
				"incoming", string(status),
			)
			return false, nil
		}
	}

	record := core.MessageStatusRecord{
		MessageSID:   sid,
		Status:       status,
		ErrorCode:    strings.TrimSpace(update.ErrorCode),
		ErrorMessage: strings.TrimSpace(update.ErrorMessage),
		UpdatedAt:    h.now(),
	}
	applied, err := h.Store.Apply(ctx, record)
	if err != nil {
		return false, err
	}

	if applied && status == core.MessageStatusFailed {
		// Operator follow-up signal; no automatic cross-channel retry.
		h.logger().Error("message delivery failed",
			"message_sid", sid,
			"error_code", record.ErrorCode,
			"error_message", record.ErrorMessage,
		)
	}
	return applied, nil
}

// ApplyRecord adapts a pre-parsed status record onto Apply. The command layer
// uses it to drive status updates without knowing the callback form encoding.
func (h *StatusHandler) ApplyRecord(ctx context.Context, record core.MessageStatusRecord) (bool, error) {
	return h.Apply(ctx, StatusUpdate{
		MessageSID:   record.MessageSID,
		Status:       string(record.Status),
		ErrorCode:    record.ErrorCode,
		ErrorMessage: record.ErrorMessage,
	})
}

func (h *StatusHandler) now() time.Time {
	if h != nil && h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

func (h *StatusHandler) logger() core.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return glog.Nop()
}
