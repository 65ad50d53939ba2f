package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/contractlane/go-webhooks/core"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

const defaultClaimTTL = 24 * time.Hour

type Handler interface {
	Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error)
}

type HandlerFunc func(ctx context.Context, req core.InboundRequest) (core.InboundResult, error)

func (f HandlerFunc) Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	return f(ctx, req)
}

// Processor runs the inbound pipeline: verify, claim the idempotency key,
// parse and validate the payload, then hand off to the handler. Duplicates
// short-circuit to success before any parsing or side effects.
type Processor struct {
	Verifier          Verifier
	Registry          *Registry
	Store             core.IdempotencyStore
	Handler           Handler
	Burst             BurstController
	IdempotencyHeader string
	ClaimTTL          time.Duration
	Logger            core.Logger
	Now               func() time.Time
}

func NewProcessor(verifier Verifier, registry *Registry, store core.IdempotencyStore, handler Handler) *Processor {
	return &Processor{
		Verifier:          verifier,
		Registry:          registry,
		Store:             store,
		Handler:           handler,
		IdempotencyHeader: "x-idempotency-key",
		ClaimTTL:          defaultClaimTTL,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (p *Processor) Process(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if p == nil || p.Handler == nil || p.Store == nil || p.Registry == nil {
		return core.InboundResult{}, fmt.Errorf("webhooks: processor requires registry, store, and handler")
	}

	eventType := strings.TrimSpace(req.EventType)
	if eventType == "" {
		return core.InboundResult{}, core.NewWebhookError(
			"webhooks: event type is required",
			goerrors.CategoryBadInput,
			core.WebhookErrorBadInput,
		)
	}
	req.EventType = eventType

	if p.Verifier != nil {
		if err := p.Verifier.Verify(ctx, req); err != nil {
			// Log without body bytes so secrets never reach the log stream.
			p.logger().Error("webhook verification rejected",
				"event_type", eventType,
				"error", err.Error(),
			)
			return core.InboundResult{
				Accepted:   false,
				StatusCode: http.StatusUnauthorized,
				Metadata: map[string]any{
					"event_type": eventType,
					"rejected":   true,
				},
			}, core.NewWebhookError(err.Error(), goerrors.CategoryAuth, core.WebhookErrorUnauthorized)
		}
	}

	key, err := p.idempotencyKey(req)
	if err != nil {
		return core.InboundResult{}, err
	}

	claimed, err := p.Store.Claim(ctx, key, p.claimTTL())
	if err != nil {
		return core.InboundResult{}, err
	}
	if !claimed {
		return core.InboundResult{
			Accepted:   true,
			StatusCode: http.StatusOK,
			Duplicate:  true,
			Metadata: map[string]any{
				"event_type":      eventType,
				"idempotency_key": key,
				"deduped":         true,
			},
		}, nil
	}

	if p.Burst != nil {
		decision, burstErr := p.Burst.Allow(ctx, req)
		if burstErr != nil {
			return core.InboundResult{}, burstErr
		}
		if !decision.Allow {
			metadata := ensureMetadata(decision.Metadata)
			metadata["event_type"] = eventType
			metadata["idempotency_key"] = key
			return core.InboundResult{
				Accepted:   true,
				StatusCode: http.StatusOK,
				Metadata:   metadata,
			}, nil
		}
	}

	if _, ok := p.Registry.TypeOf(eventType); !ok {
		return core.InboundResult{}, core.NewWebhookError(
			fmt.Sprintf("webhooks: unknown webhook type %q", eventType),
			goerrors.CategoryBadInput,
			core.WebhookErrorBadInput,
		)
	}

	var payload map[string]any
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return core.InboundResult{}, core.NewWebhookError(
			fmt.Sprintf("webhooks: invalid JSON body: %v", err),
			goerrors.CategoryValidation,
			core.WebhookErrorValidationFailed,
		)
	}
	if err := p.Registry.Validate(eventType, payload); err != nil {
		return core.InboundResult{}, err
	}

	req.Metadata = ensureMetadata(req.Metadata)
	req.Metadata["idempotency_key"] = key

	result, err := p.Handler.Handle(ctx, req)
	if err != nil {
		return result, err
	}
	result.Payload = payload
	result.Metadata = ensureMetadata(result.Metadata)
	result.Metadata["event_type"] = eventType
	result.Metadata["idempotency_key"] = key
	if result.StatusCode == 0 {
		result.StatusCode = http.StatusOK
		result.Accepted = true
	}
	return result, nil
}

func (p *Processor) idempotencyKey(req core.InboundRequest) (string, error) {
	header := strings.TrimSpace(p.IdempotencyHeader)
	if header == "" {
		header = "x-idempotency-key"
	}
	if req.Metadata != nil {
		if value := strings.TrimSpace(fmt.Sprint(req.Metadata["idempotency_key"])); value != "" && value != "<nil>" {
			return value, nil
		}
	}
	if value := strings.TrimSpace(headerValue(req.Headers, header)); value != "" {
		return value, nil
	}
	return "", core.NewWebhookError(
		fmt.Sprintf("webhooks: %s header is required", header),
		goerrors.CategoryBadInput,
		core.WebhookErrorBadInput,
	)
}

func (p *Processor) claimTTL() time.Duration {
	if p != nil && p.ClaimTTL > 0 {
		return p.ClaimTTL
	}
	return defaultClaimTTL
}

func (p *Processor) logger() core.Logger {
	if p != nil && p.Logger != nil {
		return p.Logger
	}
	return glog.Nop()
}

func ensureMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}
	return metadata
}
