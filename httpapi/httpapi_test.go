package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/contractlane/go-webhooks/core"
	"github.com/contractlane/go-webhooks/dispatch"
	"github.com/contractlane/go-webhooks/messaging"
	"github.com/contractlane/go-webhooks/webhooks"
	"github.com/go-chi/chi/v5"
)

const (
	testSigningSecret   = "signing-secret"
	testLifecycleSecret = "lifecycle-secret"
)

var testNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

type memDispatchLog struct {
	mu      sync.Mutex
	seq     int
	records map[string]core.DispatchRecord
}

func newMemDispatchLog() *memDispatchLog {
	return &memDispatchLog{records: map[string]core.DispatchRecord{}}
}

func (m *memDispatchLog) Create(_ context.Context, eventType string, payload map[string]any) (core.DispatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	record := core.DispatchRecord{
		ID:        fmt.Sprintf("disp_%d", m.seq),
		EventType: eventType,
		Payload:   payload,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
	m.records[record.ID] = record
	return record, nil
}

func (m *memDispatchLog) RecordAttempt(_ context.Context, id string, attempts int, attemptErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return fmt.Errorf("record %q not found", id)
	}
	record.Attempts = attempts
	msg := ""
	if attemptErr != nil {
		msg = attemptErr.Error()
	}
	record.Error = &msg
	m.records[id] = record
	return nil
}

func (m *memDispatchLog) MarkDelivered(_ context.Context, id string, attempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return fmt.Errorf("record %q not found", id)
	}
	record.Attempts = attempts
	record.Error = nil
	m.records[id] = record
	return nil
}

func (m *memDispatchLog) Get(_ context.Context, id string) (core.DispatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return core.DispatchRecord{}, fmt.Errorf("record %q not found", id)
	}
	return record, nil
}

func (m *memDispatchLog) ListDeadLetters(_ context.Context, maxAttempts int, limit int) ([]core.DispatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.DispatchRecord
	for _, record := range m.records {
		if record.DeadLettered(maxAttempts) {
			out = append(out, record)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memDispatchLog) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type memTrackingLog struct {
	mu     sync.Mutex
	events map[string]core.TrackingEvent
}

func newMemTrackingLog() *memTrackingLog {
	return &memTrackingLog{events: map[string]core.TrackingEvent{}}
}

func (m *memTrackingLog) Record(_ context.Context, event core.TrackingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.events[event.IdempotencyKey]; exists {
		return nil
	}
	m.events[event.IdempotencyKey] = event
	return nil
}

func (m *memTrackingLog) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type testEnv struct {
	router      chi.Router
	log         *memDispatchLog
	tracking    *memTrackingLog
	statusStore *messaging.MemoryStatusStore
	verifier    webhooks.SignatureVerifier
}

func newTestEnv(t *testing.T, endpointURL string, failOpen bool) *testEnv {
	t.Helper()

	registry := webhooks.NewRegistry()
	log := newMemDispatchLog()
	tracking := newMemTrackingLog()

	dispatcher := dispatch.NewDispatcher(registry, log, tracking, dispatch.StaticEndpoint(endpointURL))
	dispatcher.Sleep = func(context.Context, time.Duration) error { return nil }
	dispatcher.Policy.Rand = func() float64 { return 0 }
	dispatcher.Now = func() time.Time { return testNow }

	verifier := webhooks.SignatureVerifier{
		Secret: testSigningSecret,
		Now:    func() time.Time { return testNow },
	}

	processor := webhooks.NewProcessor(
		verifier,
		registry,
		core.NewMemoryIdempotencyLedger(24*time.Hour),
		dispatch.NewInboundHandler(dispatcher, failOpen),
	)
	processor.Now = func() time.Time { return testNow }

	statusStore := messaging.NewMemoryStatusStore()
	statusHandler := messaging.NewStatusHandler(statusStore)

	app := NewApp(processor, statusHandler, webhooks.SecretVerifier{Secret: testLifecycleSecret}, tracking)

	router := chi.NewRouter()
	RegisterRoutes(router, app)

	return &testEnv{
		router:      router,
		log:         log,
		tracking:    tracking,
		statusStore: statusStore,
		verifier:    verifier,
	}
}

func (env *testEnv) signedWebhookRequest(t *testing.T, eventType string, body string, idempotencyKey string) *http.Request {
	t.Helper()
	timestamp := testNow.Format(time.RFC3339)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+eventType, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-signature", env.verifier.Sign(timestamp, []byte(body)))
	req.Header.Set("x-timestamp", timestamp)
	req.Header.Set("x-idempotency-key", idempotencyKey)
	return req
}

func bookingBody() string {
	return `{"booking_id":"bk_1001","service_id":"svc_7","customer_id":"cust_9","scheduled_at":"2026-09-02T10:00:00Z"}`
}

func TestInboundWebhookSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	env := newTestEnv(t, upstream.URL, false)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, env.signedWebhookRequest(t, "bookingCreated", bookingBody(), "evt_scenario_a"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp successResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success response")
	}
	if env.log.count() != 1 {
		t.Fatalf("expected one dispatch record, got %d", env.log.count())
	}
	record, err := env.log.Get(context.Background(), "disp_1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.Attempts != 1 || record.Error != nil {
		t.Fatalf("expected attempts=1 error=nil, got attempts=%d error=%v", record.Attempts, record.Error)
	}
	if env.tracking.count() != 1 {
		t.Fatalf("expected one tracking event, got %d", env.tracking.count())
	}
}

func TestInboundWebhookReplayedKeyShortCircuits(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	env := newTestEnv(t, upstream.URL, false)

	first := httptest.NewRecorder()
	env.router.ServeHTTP(first, env.signedWebhookRequest(t, "bookingCreated", bookingBody(), "evt_scenario_b"))
	if first.Code != http.StatusOK {
		t.Fatalf("first call: expected 200, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	env.router.ServeHTTP(second, env.signedWebhookRequest(t, "bookingCreated", bookingBody(), "evt_scenario_b"))
	if second.Code != http.StatusOK {
		t.Fatalf("replay: expected 200, got %d", second.Code)
	}
	var resp successResponse
	if err := json.Unmarshal(second.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode replay response: %v", err)
	}
	if !resp.Duplicate {
		t.Fatalf("expected replay to report duplicate")
	}
	if env.log.count() != 1 {
		t.Fatalf("expected a single dispatch record after replay, got %d", env.log.count())
	}
	if env.tracking.count() != 1 {
		t.Fatalf("expected a single tracking event after replay, got %d", env.tracking.count())
	}
}

func TestInboundWebhookBadSignature(t *testing.T) {
	env := newTestEnv(t, "http://127.0.0.1:0", false)

	body := bookingBody()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/bookingCreated", strings.NewReader(body))
	req.Header.Set("x-signature", strings.Repeat("ab", 32))
	req.Header.Set("x-timestamp", testNow.Format(time.RFC3339))
	req.Header.Set("x-idempotency-key", "evt_bad_sig")

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if env.log.count() != 0 {
		t.Fatalf("expected no dispatch record on auth failure")
	}
}

func TestInboundWebhookSchemaErrorsListEveryField(t *testing.T) {
	env := newTestEnv(t, "http://127.0.0.1:0", false)

	body := `{"booking_id":"bk_1"}`
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, env.signedWebhookRequest(t, "bookingCreated", body, "evt_schema"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if len(resp.Error.Fields) != 3 {
		t.Fatalf("expected all three missing fields reported, got %d: %+v", len(resp.Error.Fields), resp.Error.Fields)
	}
	if env.log.count() != 0 {
		t.Fatalf("expected no dispatch record on validation failure")
	}
}

func TestInboundWebhookDispatchExhaustion(t *testing.T) {
	var calls int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	env := newTestEnv(t, upstream.URL, false)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, env.signedWebhookRequest(t, "bookingCreated", bookingBody(), "evt_scenario_d"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after exhausted retries, got %d: %s", rec.Code, rec.Body.String())
	}
	if calls != 3 {
		t.Fatalf("expected three attempts, got %d", calls)
	}

	record, err := env.log.Get(context.Background(), "disp_1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.Attempts != 3 || record.Error == nil {
		t.Fatalf("expected attempts=3 with error, got attempts=%d error=%v", record.Attempts, record.Error)
	}

	letters, err := env.log.ListDeadLetters(context.Background(), 3, 10)
	if err != nil {
		t.Fatalf("list dead letters: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("expected the record to be retrievable as a dead letter, got %d", len(letters))
	}
	if env.tracking.count() != 0 {
		t.Fatalf("expected no tracking event for a failed dispatch")
	}
}

func TestInboundWebhookDispatchExhaustionFailOpen(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	env := newTestEnv(t, upstream.URL, true)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, env.signedWebhookRequest(t, "bookingCreated", bookingBody(), "evt_fail_open"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected fail-open ack 200 after durable dead letter, got %d", rec.Code)
	}
	record, err := env.log.Get(context.Background(), "disp_1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if !record.DeadLettered(3) {
		t.Fatalf("expected durable dead letter before the ack")
	}
}

func TestStatusCallbackAlwaysAcks(t *testing.T) {
	env := newTestEnv(t, "http://127.0.0.1:0", false)

	form := url.Values{}
	form.Set("MessageSid", "SM900")
	form.Set("MessageStatus", "sent")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	record, found, err := env.statusStore.Get(context.Background(), "SM900")
	if err != nil || !found {
		t.Fatalf("expected stored status: found=%v err=%v", found, err)
	}
	if record.Status != core.MessageStatusSent {
		t.Fatalf("expected sent, got %s", record.Status)
	}

	// Unknown sids and garbage statuses still ack.
	form = url.Values{}
	form.Set("MessageSid", "")
	form.Set("MessageStatus", "bounced")
	req = httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for ignorable callback, got %d", rec.Code)
	}
}

func TestStatusCallbackStaleUpdateIgnored(t *testing.T) {
	env := newTestEnv(t, "http://127.0.0.1:0", false)

	post := func(status string) {
		form := url.Values{}
		form.Set("MessageSid", "SM901")
		form.Set("MessageStatus", status)
		req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d", status, rec.Code)
		}
	}

	post("queued")
	post("delivered")
	post("queued")

	record, found, err := env.statusStore.Get(context.Background(), "SM901")
	if err != nil || !found {
		t.Fatalf("expected stored status: found=%v err=%v", found, err)
	}
	if record.Status != core.MessageStatusDelivered {
		t.Fatalf("expected delivered to stand against stale queued, got %s", record.Status)
	}
}

func TestLifecycleCallbackSecretMismatch(t *testing.T) {
	env := newTestEnv(t, "http://127.0.0.1:0", false)

	req := httptest.NewRequest(http.MethodPatch, "/webhook/document-generated", strings.NewReader(`{"subject_id":"doc_1"}`))
	req.Header.Set("x-webhook-secret", "wrong-secret")

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if env.tracking.count() != 0 {
		t.Fatalf("expected no mutation on secret mismatch")
	}
}

func TestLifecycleCallbackSuccess(t *testing.T) {
	env := newTestEnv(t, "http://127.0.0.1:0", false)

	req := httptest.NewRequest(http.MethodPatch, "/webhook/document-generated", strings.NewReader(`{"subject_id":"doc_1","url":"https://cdn.example.com/doc_1.pdf"}`))
	req.Header.Set("x-webhook-secret", testLifecycleSecret)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if env.tracking.count() != 1 {
		t.Fatalf("expected a durable tracking row, got %d", env.tracking.count())
	}

	// Redelivery of the same lifecycle event keeps one audit row.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPatch, "/webhook/document-generated", strings.NewReader(`{"subject_id":"doc_1","url":"https://cdn.example.com/doc_1.pdf"}`))
	req.Header.Set("x-webhook-secret", testLifecycleSecret)
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on redelivery, got %d", rec.Code)
	}
	if env.tracking.count() != 1 {
		t.Fatalf("expected redelivery to keep a single audit row, got %d", env.tracking.count())
	}
}

func TestLifecycleCallbackMissingSubject(t *testing.T) {
	env := newTestEnv(t, "http://127.0.0.1:0", false)

	req := httptest.NewRequest(http.MethodPatch, "/webhook/document-generated", strings.NewReader(`{"url":"https://cdn.example.com/doc.pdf"}`))
	req.Header.Set("x-webhook-secret", testLifecycleSecret)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing subject_id, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, "http://127.0.0.1:0", false)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRecoverMiddlewareConvertsPanics(t *testing.T) {
	app := NewApp(panickingProcessor{}, nil, nil, nil)
	router := chi.NewRouter()
	RegisterRoutes(router, app)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/bookingCreated", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 from recovered panic, got %d", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Error.Code != core.WebhookErrorInternal {
		t.Fatalf("expected internal error code, got %q", resp.Error.Code)
	}
}

type panickingProcessor struct{}

func (panickingProcessor) Process(context.Context, core.InboundRequest) (core.InboundResult, error) {
	panic(errors.New("boom"))
}
