package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/contractlane/go-webhooks/core"
	"github.com/contractlane/go-webhooks/messaging"
	"github.com/go-chi/chi/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const maxInboundBodyBytes = 1 << 20

type successResponse struct {
	Success   bool `json:"success"`
	Duplicate bool `json:"duplicate,omitempty"`
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	if a.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.DB.PingContext(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"ok":    false,
				"error": "datastore unreachable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *App) inboundWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if a == nil || a.Processor == nil {
		renderError(w, fmt.Errorf("httpapi: inbound processor is not configured"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxInboundBodyBytes))
	if err != nil {
		renderError(w, core.NewWebhookError(
			"httpapi: request body unreadable or too large",
			goerrors.CategoryBadInput,
			core.WebhookErrorBadInput,
		))
		return
	}

	req := core.InboundRequest{
		EventType: chi.URLParam(r, "type"),
		Headers:   flattenHeaders(r.Header),
		Body:      body,
	}

	result, err := a.Processor.Process(r.Context(), req)
	if err != nil {
		renderError(w, err)
		return
	}

	status := result.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, successResponse{
		Success:   result.Accepted,
		Duplicate: result.Duplicate,
	})
}

// statusCallbackHandler always acks 200. A provider retry cannot fix a stale
// or unknown update, and a non-2xx only invites retry storms.
func (a *App) statusCallbackHandler(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	if err := r.ParseForm(); err != nil {
		a.logger().Error("status callback with unparseable form",
			"provider", provider,
			"error", err.Error(),
		)
		writeJSON(w, http.StatusOK, successResponse{Success: true})
		return
	}

	update := messaging.StatusUpdate{
		MessageSID:   r.PostFormValue("MessageSid"),
		Status:       r.PostFormValue("MessageStatus"),
		ErrorCode:    r.PostFormValue("ErrorCode"),
		ErrorMessage: r.PostFormValue("ErrorMessage"),
	}

	if a.Status != nil {
		if _, err := a.Status.Apply(r.Context(), update); err != nil {
			a.logger().Error("status callback apply failed",
				"provider", provider,
				"message_sid", update.MessageSID,
				"error", err.Error(),
			)
		}
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// lifecycleCallbackHandler authenticates with the shared lifecycle secret,
// then durably records the callback before acking. The 200 is issued once the
// tracking row committed, even if later business-state work fails, so the
// external caller never retries forever.
func (a *App) lifecycleCallbackHandler(w http.ResponseWriter, r *http.Request) {
	lifecycleEvent := strings.TrimSpace(chi.URLParam(r, "lifecycleEvent"))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxInboundBodyBytes))
	if err != nil {
		renderError(w, core.NewWebhookError(
			"httpapi: request body unreadable or too large",
			goerrors.CategoryBadInput,
			core.WebhookErrorBadInput,
		))
		return
	}

	req := core.InboundRequest{
		EventType: lifecycleEvent,
		Headers:   flattenHeaders(r.Header),
		Body:      body,
	}

	if a.Lifecycle != nil {
		if err := a.Lifecycle.Verify(r.Context(), req); err != nil {
			a.logger().Error("lifecycle callback rejected",
				"lifecycle_event", lifecycleEvent,
				"error", err.Error(),
			)
			renderError(w, core.NewWebhookError(
				"httpapi: lifecycle secret verification failed",
				goerrors.CategoryAuth,
				core.WebhookErrorUnauthorized,
			))
			return
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		renderError(w, core.NewWebhookError(
			fmt.Sprintf("httpapi: invalid JSON body: %v", err),
			goerrors.CategoryValidation,
			core.WebhookErrorValidationFailed,
		))
		return
	}

	subjectID := strings.TrimSpace(fmt.Sprint(payload["subject_id"]))
	if subjectID == "" || subjectID == "<nil>" {
		renderError(w, goerrors.NewValidation(
			"httpapi: lifecycle callback validation failed",
			goerrors.FieldError{Field: "subject_id", Message: "subject_id is required"},
		).WithCode(http.StatusBadRequest).WithTextCode(core.WebhookErrorValidationFailed))
		return
	}

	if a.Tracking != nil {
		key := strings.TrimSpace(r.Header.Get("x-idempotency-key"))
		if key == "" {
			key = "lifecycle_" + lifecycleEvent + "_" + subjectID
		}
		event := core.TrackingEvent{
			ID:          uuid.NewString(),
			SubjectType: "lifecycle",
			SubjectID:   &subjectID,
			EventType:   "lifecycle." + lifecycleEvent,
			Metadata: map[string]any{
				"lifecycle_event": lifecycleEvent,
				"payload":         payload,
			},
			IdempotencyKey: key,
		}
		if err := a.Tracking.Record(r.Context(), event); err != nil {
			// Without the durable row the ack would be a lie; let the
			// caller retry.
			renderError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) == 0 {
			continue
		}
		out[key] = values[0]
	}
	return out
}
