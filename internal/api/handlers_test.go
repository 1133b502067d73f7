package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"smsgateway/internal/admin"
	"smsgateway/internal/auth"
	"smsgateway/internal/distribution"
	"smsgateway/internal/domain"
	"smsgateway/internal/health"
	"smsgateway/internal/intake"
	"smsgateway/internal/kv"
	"smsgateway/internal/queue"
	"smsgateway/internal/ratelimit"
	"smsgateway/internal/store"
)

type fakeRequestStore struct {
	created []*domain.Request
}

func (f *fakeRequestStore) CreateRequest(_ context.Context, req *domain.Request) error {
	f.created = append(f.created, req)
	return nil
}

type fakeRequestReader struct {
	requests map[uuid.UUID]*domain.Request
}

func (f *fakeRequestReader) GetRequest(_ context.Context, id uuid.UUID) (*domain.Request, error) {
	req, ok := f.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return req, nil
}

func (f *fakeRequestReader) ListRequests(_ context.Context, _ store.ListFilter) ([]*domain.Request, error) {
	var out []*domain.Request
	for _, r := range f.requests {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRequestReader) ListAttempts(_ context.Context, _ uuid.UUID) ([]*domain.Attempt, error) {
	return nil, nil
}

type fakeEnqueuer struct {
	enqueued []queue.Task
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, task queue.Task) error {
	f.enqueued = append(f.enqueued, task)
	return nil
}

const testAdminKey = "admin-test-key"

func newTestApp(t *testing.T, globalLimit int64) (*fiber.App, *fakeRequestStore, *fakeRequestReader) {
	t.Helper()
	logger := zap.NewNop()
	kvStore := kv.NewMemoryStore()

	providers := []domain.Provider{
		{ID: "provider1", URL: "http://unused.invalid", Weight: 1, PerSecondLimit: 50},
		{ID: "provider2", URL: "http://unused.invalid", Weight: 1, PerSecondLimit: 50},
	}

	limiter := ratelimit.New(kvStore, logger, 1)
	tracker := health.New(kvStore, logger, 300, 10, 0.7)
	engine := distribution.New(providers, tracker, limiter, kvStore, logger)

	rs := &fakeRequestStore{}
	reader := &fakeRequestReader{requests: map[uuid.UUID]*domain.Request{}}
	eq := &fakeEnqueuer{}

	intakeAdapter := intake.New(limiter, rs, eq, logger, globalLimit)
	adminAdapter := admin.New(limiter, tracker, engine, kvStore, reader, providers, globalLimit)

	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminKey), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash admin key: %v", err)
	}
	authService := auth.New(string(hash), logger)

	handlers := NewHandlers(logger, intakeAdapter, adminAdapter)

	app := fiber.New()
	SetupRoutes(app, logger, nil, handlers, authService)
	return app, rs, reader
}

func postJSON(t *testing.T, app *fiber.App, path string, body interface{}, headers map[string]string) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	return resp
}

func TestSendMessageQueues(t *testing.T) {
	app, rs, _ := newTestApp(t, 200)

	resp := postJSON(t, app, "/v1/messages", SendRequest{Phone: "+15551234567", Text: "hello"}, nil)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var out SendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !out.Queued || out.RequestID == "" {
		t.Fatalf("expected queued response with request id, got %+v", out)
	}
	if len(rs.created) != 1 {
		t.Fatalf("expected one persisted request, got %d", len(rs.created))
	}
}

func TestSendMessageRejectsBadPayload(t *testing.T) {
	app, _, _ := newTestApp(t, 200)

	cases := []SendRequest{
		{Phone: "", Text: "hello"},
		{Phone: "not-a-phone", Text: "hello"},
		{Phone: "+15551234567", Text: ""},
	}
	for _, c := range cases {
		resp := postJSON(t, app, "/v1/messages", c, nil)
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("payload %+v: expected 400, got %d", c, resp.StatusCode)
		}
	}
}

func TestSendMessageGlobalRateLimit(t *testing.T) {
	app, rs, _ := newTestApp(t, 1)

	first := postJSON(t, app, "/v1/messages", SendRequest{Phone: "+15551234567", Text: "one"}, nil)
	if first.StatusCode != fiber.StatusAccepted {
		t.Fatalf("first request: expected 202, got %d", first.StatusCode)
	}
	second := postJSON(t, app, "/v1/messages", SendRequest{Phone: "+15551234567", Text: "two"}, nil)
	if second.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("second request past the cap: expected 429, got %d", second.StatusCode)
	}
	// The rejected request must not be persisted.
	if len(rs.created) != 1 {
		t.Fatalf("expected exactly one persisted request, got %d", len(rs.created))
	}
}

func TestRateLimitsView(t *testing.T) {
	app, _, _ := newTestApp(t, 200)

	req := httptest.NewRequest(http.MethodGet, "/v1/rate-limits", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out struct {
		RateLimits []struct {
			Scope string `json:"scope"`
			Limit int64  `json:"limit"`
		} `json:"rate_limits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	// global plus two providers
	if len(out.RateLimits) != 3 {
		t.Fatalf("expected 3 scopes, got %d", len(out.RateLimits))
	}
	if out.RateLimits[0].Scope != "global" {
		t.Fatalf("expected global scope first, got %s", out.RateLimits[0].Scope)
	}
}

func TestHealthResetRequiresAPIKey(t *testing.T) {
	app, _, _ := newTestApp(t, 200)

	unauthed := postJSON(t, app, "/v1/health/provider1/reset", fiber.Map{}, nil)
	if unauthed.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", unauthed.StatusCode)
	}

	authed := postJSON(t, app, "/v1/health/provider1/reset", fiber.Map{}, map[string]string{"X-API-Key": testAdminKey})
	if authed.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 with key, got %d", authed.StatusCode)
	}
}

func TestGetRequestNotFound(t *testing.T) {
	app, _, _ := newTestApp(t, 200)

	req := httptest.NewRequest(http.MethodGet, "/v1/requests/"+uuid.NewString(), nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	bad := httptest.NewRequest(http.MethodGet, "/v1/requests/not-a-uuid", nil)
	resp, err = app.Test(bad, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for a malformed id, got %d", resp.StatusCode)
	}
}
