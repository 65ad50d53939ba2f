package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/contractlane/go-webhooks/core"
	"github.com/contractlane/go-webhooks/webhooks"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

const (
	defaultMaxAttempts = 3
	defaultTimeout     = 10 * time.Second
)

// HTTPDoer is the slice of http.Client the dispatcher needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Dispatcher posts JSON-encoded events to the automation endpoint. Every
// attempt is persisted before the next one starts, so a crash mid-retry
// leaves an accurate audit trail instead of a silently lost event.
type Dispatcher struct {
	Registry    *webhooks.Registry
	Log         core.DispatchLog
	Tracker     core.TrackingLog
	Endpoints   EndpointResolver
	Client      HTTPDoer
	Policy      BackoffPolicy
	MaxAttempts int
	Timeout     time.Duration
	Logger      core.Logger
	Sleep       func(ctx context.Context, d time.Duration) error
	Now         func() time.Time
}

func NewDispatcher(registry *webhooks.Registry, log core.DispatchLog, tracker core.TrackingLog, endpoints EndpointResolver) *Dispatcher {
	return &Dispatcher{
		Registry:    registry,
		Log:         log,
		Tracker:     tracker,
		Endpoints:   endpoints,
		Client:      &http.Client{},
		Policy:      DefaultBackoffPolicy(),
		MaxAttempts: defaultMaxAttempts,
		Timeout:     defaultTimeout,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Dispatch validates the payload, then posts it with bounded retries. The
// returned record reflects the final persisted state, including the terminal
// dead-letter state when every attempt failed.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, payload map[string]any, idempotencyKey string) (core.DispatchRecord, error) {
	if d == nil || d.Log == nil || d.Registry == nil || d.Endpoints == nil {
		return core.DispatchRecord{}, fmt.Errorf("dispatch: dispatcher requires registry, log, and endpoints")
	}

	eventType = strings.TrimSpace(eventType)
	if err := d.Registry.Validate(eventType, payload); err != nil {
		return core.DispatchRecord{}, err
	}

	endpoint, err := d.Endpoints.Resolve(eventType)
	if err != nil {
		return core.DispatchRecord{}, core.NewWebhookError(err.Error(), goerrors.CategoryOperation, core.WebhookErrorDispatchFailed)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return core.DispatchRecord{}, core.NewWebhookError(
			fmt.Sprintf("dispatch: encode payload: %v", err),
			goerrors.CategoryBadInput,
			core.WebhookErrorBadInput,
		)
	}

	record, err := d.Log.Create(ctx, eventType, payload)
	if err != nil {
		return core.DispatchRecord{}, err
	}

	maxAttempts := d.maxAttempts()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = d.post(ctx, endpoint, body)
		if lastErr == nil {
			if err := d.Log.MarkDelivered(ctx, record.ID, attempt); err != nil {
				return record, err
			}
			record.Attempts = attempt
			record.Error = nil
			if err := d.track(ctx, eventType, payload, idempotencyKey); err != nil {
				return record, err
			}
			return record, nil
		}

		if err := d.Log.RecordAttempt(ctx, record.ID, attempt, lastErr); err != nil {
			return record, err
		}
		record.Attempts = attempt
		msg := lastErr.Error()
		record.Error = &msg

		d.logger().Error("webhook dispatch attempt failed",
			"event_type", eventType,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"error", msg,
		)

		if attempt == maxAttempts {
			break
		}
		if err := d.sleep(ctx, d.Policy.Delay(attempt)); err != nil {
			return record, err
		}
	}

	return record, core.NewWebhookError(
		fmt.Sprintf("dispatch: retry budget exhausted after %d attempts: %v", maxAttempts, lastErr),
		goerrors.CategoryOperation,
		core.WebhookErrorDispatchFailed,
	)
}

func (d *Dispatcher) post(ctx context.Context, endpoint string, body []byte) error {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("dispatch: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch: post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("dispatch: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// track appends the audit row. The tracking log drops duplicate idempotency
// keys, so redelivered events do not double up the audit trail.
func (d *Dispatcher) track(ctx context.Context, eventType string, payload map[string]any, idempotencyKey string) error {
	if d.Tracker == nil {
		return nil
	}
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	subjectType, subjectID := subjectOf(eventType, payload)
	event := core.TrackingEvent{
		ID:             uuid.NewString(),
		SubjectType:    subjectType,
		SubjectID:      subjectID,
		EventType:      eventType,
		Metadata:       payload,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      d.now(),
	}
	return d.Tracker.Record(ctx, event)
}

func subjectOf(eventType string, payload map[string]any) (string, *string) {
	keys := map[string]string{
		webhooks.TypeServiceCreation:   "service_id",
		webhooks.TypeBookingCreated:    "booking_id",
		webhooks.TypeTrackingUpdated:   "tracking_id",
		webhooks.TypePaymentSucceeded:  "payment_id",
		webhooks.TypeContractSigned:    "contract_id",
		webhooks.TypeDocumentGenerated: "document_id",
	}
	key, ok := keys[eventType]
	if !ok {
		return eventType, nil
	}
	value := strings.TrimSpace(fmt.Sprint(payload[key]))
	if value == "" || value == "<nil>" {
		return strings.TrimSuffix(key, "_id"), nil
	}
	return strings.TrimSuffix(key, "_id"), &value
}

func (d *Dispatcher) sleep(ctx context.Context, delay time.Duration) error {
	if d.Sleep != nil {
		return d.Sleep(ctx, delay)
	}
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (d *Dispatcher) maxAttempts() int {
	if d != nil && d.MaxAttempts > 0 {
		return d.MaxAttempts
	}
	return defaultMaxAttempts
}

func (d *Dispatcher) now() time.Time {
	if d != nil && d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Dispatcher) logger() core.Logger {
	if d != nil && d.Logger != nil {
		return d.Logger
	}
	return glog.Nop()
}
