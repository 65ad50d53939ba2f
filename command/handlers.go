package command

import (
	"context"
	"strings"

	"github.com/contractlane/go-webhooks/core"
	gocmd "github.com/goliatone/go-command"
)

// DispatchService is the outbound side the commands drive. The dispatcher in
// the dispatch package satisfies it.
type DispatchService interface {
	Dispatch(ctx context.Context, eventType string, payload map[string]any, idempotencyKey string) (core.DispatchRecord, error)
}

// StatusService applies a delivery-status callback. The messaging status
// handler satisfies it.
type StatusService interface {
	ApplyRecord(ctx context.Context, record core.MessageStatusRecord) (bool, error)
}

type DispatchEventCommand struct {
	service DispatchService
}

func NewDispatchEventCommand(service DispatchService) *DispatchEventCommand {
	return &DispatchEventCommand{service: service}
}

func (c *DispatchEventCommand) Execute(ctx context.Context, msg DispatchEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dispatch service is required")
	}
	out, err := c.service.Dispatch(ctx, msg.EventType, msg.Payload, msg.IdempotencyKey)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

// ReplayDeadLetterCommand re-runs delivery for a dead-lettered record under a
// fresh idempotency key. The original record keeps its failure trail; the
// replay produces a new one.
type ReplayDeadLetterCommand struct {
	log     core.DispatchLog
	service DispatchService
}

func NewReplayDeadLetterCommand(log core.DispatchLog, service DispatchService) *ReplayDeadLetterCommand {
	return &ReplayDeadLetterCommand{log: log, service: service}
}

func (c *ReplayDeadLetterCommand) Execute(ctx context.Context, msg ReplayDeadLetterMessage) error {
	if c == nil || c.log == nil || c.service == nil {
		return commandDependencyError("command: replay dependencies are required")
	}
	record, err := c.log.Get(ctx, strings.TrimSpace(msg.DispatchID))
	if err != nil {
		return err
	}
	if record.Error == nil {
		return commandInvalidInputError("command: dispatch record has no failure to replay")
	}
	out, err := c.service.Dispatch(ctx, record.EventType, record.Payload, msg.IdempotencyKey)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type PurgeIdempotencyCommand struct {
	store core.IdempotencyStore
}

func NewPurgeIdempotencyCommand(store core.IdempotencyStore) *PurgeIdempotencyCommand {
	return &PurgeIdempotencyCommand{store: store}
}

func (c *PurgeIdempotencyCommand) Execute(ctx context.Context, msg PurgeIdempotencyMessage) error {
	if c == nil || c.store == nil {
		return commandDependencyError("command: idempotency store is required")
	}
	purged, err := c.store.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, purged)
	return nil
}

type ApplyMessageStatusCommand struct {
	service StatusService
}

func NewApplyMessageStatusCommand(service StatusService) *ApplyMessageStatusCommand {
	return &ApplyMessageStatusCommand{service: service}
}

func (c *ApplyMessageStatusCommand) Execute(ctx context.Context, msg ApplyMessageStatusMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: status service is required")
	}
	applied, err := c.service.ApplyRecord(ctx, msg.Update)
	if err != nil {
		return err
	}
	storeResult(ctx, applied)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
