package command

import (
	"fmt"
	"strings"

	"github.com/contractlane/go-webhooks/core"
)

const (
	TypeDispatchEvent      = "webhooks.command.dispatch"
	TypeReplayDeadLetter   = "webhooks.command.deadletter.replay"
	TypePurgeIdempotency   = "webhooks.command.idempotency.purge"
	TypeApplyMessageStatus = "webhooks.command.message_status.apply"
)

type DispatchEventMessage struct {
	EventType      string
	Payload        map[string]any
	IdempotencyKey string
}

func (DispatchEventMessage) Type() string { return TypeDispatchEvent }

func (m DispatchEventMessage) Validate() error {
	if strings.TrimSpace(m.EventType) == "" {
		return fmt.Errorf("command: event type is required")
	}
	if strings.TrimSpace(m.IdempotencyKey) == "" {
		return fmt.Errorf("command: idempotency key is required")
	}
	return nil
}

type ReplayDeadLetterMessage struct {
	DispatchID     string
	IdempotencyKey string
}

func (ReplayDeadLetterMessage) Type() string { return TypeReplayDeadLetter }

func (m ReplayDeadLetterMessage) Validate() error {
	if strings.TrimSpace(m.DispatchID) == "" {
		return fmt.Errorf("command: dispatch id is required")
	}
	if strings.TrimSpace(m.IdempotencyKey) == "" {
		return fmt.Errorf("command: idempotency key is required")
	}
	return nil
}

type PurgeIdempotencyMessage struct{}

func (PurgeIdempotencyMessage) Type() string { return TypePurgeIdempotency }

func (PurgeIdempotencyMessage) Validate() error { return nil }

type ApplyMessageStatusMessage struct {
	Update core.MessageStatusRecord
}

func (ApplyMessageStatusMessage) Type() string { return TypeApplyMessageStatus }

func (m ApplyMessageStatusMessage) Validate() error {
	if strings.TrimSpace(m.Update.MessageSID) == "" {
		return fmt.Errorf("command: message sid is required")
	}
	if !m.Update.Status.Known() {
		return fmt.Errorf("command: unknown message status %q", m.Update.Status)
	}
	return nil
}
