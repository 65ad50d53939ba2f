package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/contractlane/go-webhooks/core"
	"github.com/contractlane/go-webhooks/webhooks"
	goerrors "github.com/goliatone/go-errors"
)

type memDispatchLog struct {
	mu      sync.Mutex
	seq     int
	records map[string]*core.DispatchRecord
}

func newMemDispatchLog() *memDispatchLog {
	return &memDispatchLog{records: map[string]*core.DispatchRecord{}}
}

func (l *memDispatchLog) Create(_ context.Context, eventType string, payload map[string]any) (core.DispatchRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	id := fmt.Sprintf("log_%d", l.seq)
	record := &core.DispatchRecord{ID: id, EventType: eventType, Payload: payload}
	l.records[id] = record
	return *record, nil
}

func (l *memDispatchLog) RecordAttempt(_ context.Context, id string, attempts int, attemptErr error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[id]
	if !ok {
		return fmt.Errorf("record %q not found", id)
	}
	record.Attempts = attempts
	msg := attemptErr.Error()
	record.Error = &msg
	return nil
}

func (l *memDispatchLog) MarkDelivered(_ context.Context, id string, attempts int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[id]
	if !ok {
		return fmt.Errorf("record %q not found", id)
	}
	record.Attempts = attempts
	record.Error = nil
	return nil
}

func (l *memDispatchLog) Get(_ context.Context, id string) (core.DispatchRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[id]
	if !ok {
		return core.DispatchRecord{}, fmt.Errorf("record %q not found", id)
	}
	return *record, nil
}

func (l *memDispatchLog) ListDeadLetters(_ context.Context, maxAttempts int, limit int) ([]core.DispatchRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []core.DispatchRecord
	for _, record := range l.records {
		if record.DeadLettered(maxAttempts) {
			out = append(out, *record)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

type memTrackingLog struct {
	mu     sync.Mutex
	events []core.TrackingEvent
}

func (l *memTrackingLog) Record(_ context.Context, event core.TrackingEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.events {
		if existing.IdempotencyKey == event.IdempotencyKey {
			return nil
		}
	}
	l.events = append(l.events, event)
	return nil
}

type countingDoer struct {
	mu    sync.Mutex
	calls int
	do    func(req *http.Request) (*http.Response, error)
}

func (c *countingDoer) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.do(req)
}

func newTestDispatcher(log *memDispatchLog, tracker *memTrackingLog, endpoint string) *Dispatcher {
	d := NewDispatcher(webhooks.NewRegistry(), log, tracker, StaticEndpoint(endpoint))
	d.Policy.Rand = func() float64 { return 0 }
	d.Sleep = func(context.Context, time.Duration) error { return nil }
	return d
}

func bookingPayload() map[string]any {
	return map[string]any{
		"booking_id":   "b_1",
		"service_id":   "s_1",
		"customer_id":  "u_1",
		"scheduled_at": "2026-09-02T10:00:00Z",
	}
}

func TestDispatcher_InvalidPayloadNeverHitsTransport(t *testing.T) {
	log := newMemDispatchLog()
	doer := &countingDoer{do: func(*http.Request) (*http.Response, error) {
		t.Fatalf("transport must not be called for invalid payloads")
		return nil, nil
	}}
	d := newTestDispatcher(log, &memTrackingLog{}, "https://automation.example.com/hook")
	d.Client = doer

	_, err := d.Dispatch(context.Background(), webhooks.TypeBookingCreated, map[string]any{"booking_id": "b_1"}, "evt_p4")
	if err == nil {
		t.Fatalf("expected validation error")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if doer.calls != 0 {
		t.Fatalf("expected no outbound calls, got %d", doer.calls)
	}
	if len(log.records) != 0 {
		t.Fatalf("validation failure must not create a dispatch record")
	}
}

func TestDispatcher_SuccessFirstAttempt(t *testing.T) {
	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected json content type, got %q", ct)
		}
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	log := newMemDispatchLog()
	tracker := &memTrackingLog{}
	d := newTestDispatcher(log, tracker, server.URL)

	record, err := d.Dispatch(context.Background(), webhooks.TypeBookingCreated, bookingPayload(), "evt_a")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if record.Attempts != 1 {
		t.Fatalf("expected attempts=1, got %d", record.Attempts)
	}
	if record.Error != nil {
		t.Fatalf("expected nil error on success, got %q", *record.Error)
	}
	if !strings.Contains(string(received), "b_1") {
		t.Fatalf("expected payload to reach the endpoint, got %q", received)
	}
	if len(tracker.events) != 1 {
		t.Fatalf("expected one tracking event, got %d", len(tracker.events))
	}
	if tracker.events[0].IdempotencyKey != "evt_a" {
		t.Fatalf("expected tracking event keyed by idempotency key, got %q", tracker.events[0].IdempotencyKey)
	}
	if tracker.events[0].SubjectType != "booking" {
		t.Fatalf("expected booking subject, got %q", tracker.events[0].SubjectType)
	}
}

func TestDispatcher_DeadLettersAfterBudgetExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	log := newMemDispatchLog()
	tracker := &memTrackingLog{}
	d := newTestDispatcher(log, tracker, server.URL)

	record, err := d.Dispatch(context.Background(), webhooks.TypeBookingCreated, bookingPayload(), "evt_d")
	if err == nil {
		t.Fatalf("expected dispatch failure")
	}
	if record.Attempts != 3 {
		t.Fatalf("expected attempts=3, got %d", record.Attempts)
	}
	if record.Error == nil {
		t.Fatalf("expected non-null error on dead letter")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.TextCode != core.WebhookErrorDispatchFailed {
		t.Fatalf("expected dispatch failed code, got %q", rich.TextCode)
	}
	if len(tracker.events) != 0 {
		t.Fatalf("failed dispatch must not write tracking events")
	}

	dead, listErr := log.ListDeadLetters(context.Background(), 3, 10)
	if listErr != nil {
		t.Fatalf("list dead letters: %v", listErr)
	}
	if len(dead) != 1 {
		t.Fatalf("expected dead letter to be retrievable, got %d", len(dead))
	}
}

func TestDispatcher_RecoversOnLaterAttempt(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	log := newMemDispatchLog()
	tracker := &memTrackingLog{}
	d := newTestDispatcher(log, tracker, server.URL)

	record, err := d.Dispatch(context.Background(), webhooks.TypeBookingCreated, bookingPayload(), "evt_recover")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if record.Attempts != 3 {
		t.Fatalf("expected success on attempt 3, got %d", record.Attempts)
	}
	if record.Error != nil {
		t.Fatalf("expected error cleared on success, got %q", *record.Error)
	}
	if len(tracker.events) != 1 {
		t.Fatalf("expected one tracking event, got %d", len(tracker.events))
	}
}

func TestDispatcher_TrackingDedupedAcrossRedelivery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	log := newMemDispatchLog()
	tracker := &memTrackingLog{}
	d := newTestDispatcher(log, tracker, server.URL)

	for i := 0; i < 2; i++ {
		if _, err := d.Dispatch(context.Background(), webhooks.TypeBookingCreated, bookingPayload(), "evt_same"); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}
	if len(tracker.events) != 1 {
		t.Fatalf("expected one tracking event across redeliveries, got %d", len(tracker.events))
	}
}

func TestBackoffPolicy_CapsAndScales(t *testing.T) {
	policy := BackoffPolicy{
		Initial: 500 * time.Millisecond,
		Max:     5 * time.Second,
		Rand:    func() float64 { return 1 },
	}

	if got := policy.Delay(1); got != 500*time.Millisecond {
		t.Fatalf("expected 500ms for attempt 1, got %v", got)
	}
	if got := policy.Delay(2); got != time.Second {
		t.Fatalf("expected 1s for attempt 2, got %v", got)
	}
	if got := policy.Delay(8); got != 5*time.Second {
		t.Fatalf("expected cap at 5s, got %v", got)
	}
}

func TestBackoffPolicy_JitterStaysInRange(t *testing.T) {
	policy := BackoffPolicy{
		Initial: 500 * time.Millisecond,
		Max:     5 * time.Second,
		Rand:    func() float64 { return 0.5 },
	}
	if got := policy.Delay(1); got != 250*time.Millisecond {
		t.Fatalf("expected jittered 250ms, got %v", got)
	}
}

func TestInboundHandler_FailOpenAcksAfterDeadLetter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	log := newMemDispatchLog()
	d := newTestDispatcher(log, &memTrackingLog{}, server.URL)
	handler := NewInboundHandler(d, true)

	body := []byte(`{"booking_id":"b_1","service_id":"s_1","customer_id":"u_1","scheduled_at":"2026-09-02T10:00:00Z"}`)
	result, err := handler.Handle(context.Background(), core.InboundRequest{
		EventType: webhooks.TypeBookingCreated,
		Body:      body,
		Metadata:  map[string]any{"idempotency_key": "evt_failopen"},
	})
	if err != nil {
		t.Fatalf("fail-open handler must not surface the dispatch error: %v", err)
	}
	if !result.Accepted || result.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 ack, got %#v", result)
	}
	if result.Metadata["dead_lettered"] != true {
		t.Fatalf("expected dead letter metadata, got %#v", result.Metadata)
	}
}

func TestInboundHandler_FailClosedSurfacesError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	log := newMemDispatchLog()
	d := newTestDispatcher(log, &memTrackingLog{}, server.URL)
	handler := NewInboundHandler(d, false)

	body := []byte(`{"booking_id":"b_1","service_id":"s_1","customer_id":"u_1","scheduled_at":"2026-09-02T10:00:00Z"}`)
	_, err := handler.Handle(context.Background(), core.InboundRequest{
		EventType: webhooks.TypeBookingCreated,
		Body:      body,
		Metadata:  map[string]any{"idempotency_key": "evt_failclosed"},
	})
	if err == nil {
		t.Fatalf("expected dispatch error to surface")
	}
}
