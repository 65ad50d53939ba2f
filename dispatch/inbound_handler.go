package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/contractlane/go-webhooks/core"
	"github.com/contractlane/go-webhooks/webhooks"
)

// InboundHandler bridges the inbound processor to the dispatcher: a verified,
// first-seen webhook is forwarded to the automation endpoint. When FailOpen
// is set, an exhausted dispatch still acks the upstream caller once the
// dead-letter record is durably written, so upstream retries cannot storm an
// endpoint that is already down.
type InboundHandler struct {
	Dispatcher *Dispatcher
	FailOpen   bool
}

func NewInboundHandler(dispatcher *Dispatcher, failOpen bool) *InboundHandler {
	return &InboundHandler{Dispatcher: dispatcher, FailOpen: failOpen}
}

func (h *InboundHandler) Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if h == nil || h.Dispatcher == nil {
		return core.InboundResult{}, fmt.Errorf("dispatch: inbound handler requires a dispatcher")
	}

	var payload map[string]any
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return core.InboundResult{}, fmt.Errorf("dispatch: decode inbound payload: %w", err)
	}

	idempotencyKey := ""
	if req.Metadata != nil {
		idempotencyKey = strings.TrimSpace(fmt.Sprint(req.Metadata["idempotency_key"]))
		if idempotencyKey == "<nil>" {
			idempotencyKey = ""
		}
	}

	record, err := h.Dispatcher.Dispatch(ctx, req.EventType, payload, idempotencyKey)
	if err != nil {
		if h.FailOpen && record.DeadLettered(h.Dispatcher.maxAttempts()) {
			return core.InboundResult{
				Accepted:   true,
				StatusCode: http.StatusOK,
				Metadata: map[string]any{
					"dispatch_id":   record.ID,
					"dead_lettered": true,
					"attempts":      record.Attempts,
				},
			}, nil
		}
		return core.InboundResult{}, err
	}

	return core.InboundResult{
		Accepted:   true,
		StatusCode: http.StatusOK,
		Metadata: map[string]any{
			"dispatch_id": record.ID,
			"attempts":    record.Attempts,
		},
	}, nil
}

var _ webhooks.Handler = (*InboundHandler)(nil)
