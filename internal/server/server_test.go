package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"meetingsync/internal/intake"
	"meetingsync/internal/models"
	"meetingsync/internal/queue"
	"meetingsync/internal/store"
)

type fakeStore struct {
	recordings map[string]models.Recording
	active     map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{recordings: make(map[string]models.Recording), active: make(map[string]bool)}
}

func (s *fakeStore) Ping(context.Context) error { return nil }

func (s *fakeStore) UpsertRecording(_ context.Context, r models.Recording) (models.Recording, error) {
	s.recordings[r.UUID] = r
	return r, nil
}

func (s *fakeStore) GetRecording(_ context.Context, uuid string) (models.Recording, error) {
	r, ok := s.recordings[uuid]
	if !ok {
		return models.Recording{}, errors.New("not found")
	}
	return r, nil
}

func (s *fakeStore) HasActiveWebhookIngest(_ context.Context, uuid string) (bool, error) {
	return s.active[uuid], nil
}

func (s *fakeStore) CreateIngest(_ context.Context, params store.CreateIngestParams) (int64, error) {
	s.recordings[params.Recording.UUID] = params.Recording
	if params.IsWebhook {
		s.active[params.Recording.UUID] = true
	}
	return int64(len(s.recordings)), nil
}

func (s *fakeStore) GetIngest(context.Context, int64) (models.Ingest, error) {
	return models.Ingest{}, nil
}

func (s *fakeStore) TransitionIngest(context.Context, int64, []models.Status, models.Status) (bool, error) {
	return true, nil
}
func (s *fakeStore) FinishIngest(context.Context, int64, models.Status, string, string) error {
	return nil
}
func (s *fakeStore) ReturnToNew(context.Context, int64) error { return nil }
func (s *fakeStore) ListStale(context.Context, time.Time) ([]models.Ingest, error) {
	return nil, nil
}
func (s *fakeStore) CancelIngest(context.Context, int64) error     { return nil }
func (s *fakeStore) UpsertUser(context.Context, models.User) error { return nil }
func (s *fakeStore) GetUser(context.Context, string) (models.User, error) {
	return models.User{}, nil
}

type fakeQueue struct{}

func (fakeQueue) Publish(context.Context, queue.Job) error { return nil }
func (fakeQueue) Subscribe() queue.Subscription            { return nil }
func (fakeQueue) Ping(context.Context) error               { return nil }

func newTestHandler(t *testing.T) *intake.Handler {
	t.Helper()
	in, err := intake.New(intake.Config{
		Store:              newFakeStore(),
		Queue:              fakeQueue{},
		Logger:             slog.Default(),
		MinDurationMinutes: 5,
		TopicRegex:         ".*",
		DefaultWorkflowID:  "wf-default",
		DefaultSeriesID:    "series-default",
		DefaultACLID:       "acl-default",
	})
	if err != nil {
		t.Fatalf("intake.New error: %v", err)
	}
	return intake.NewHandler(in)
}

func TestNewReturnsErrorWhenHandlerNil(t *testing.T) {
	t.Parallel()

	srv, err := New(nil, Config{})
	if err == nil {
		t.Fatalf("expected error when handler is nil, got server: %#v", srv)
	}
}

func TestServerRoutesHealthz(t *testing.T) {
	handler := newTestHandler(t)
	srv, err := New(handler, Config{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestServerRoutesMetrics(t *testing.T) {
	handler := newTestHandler(t)
	srv, err := New(handler, Config{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct == "" {
		t.Fatal("expected content type on metrics response")
	}
}

func TestServerRoutesWebhookMethodNotAllowed(t *testing.T) {
	handler := newTestHandler(t)
	srv, err := New(handler, Config{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rec.Code)
	}
}

func TestServerRoutesBulkDecodeError(t *testing.T) {
	handler := newTestHandler(t)
	srv, err := New(handler, Config{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/bulk", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestClientIPResolverIgnoresForwardedByDefault(t *testing.T) {
	resolver, err := newClientIPResolver(RateLimitConfig{})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.10:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	ip, source := resolver.ClientIPFromRequest(req)
	if ip != "198.51.100.10" {
		t.Fatalf("expected remote addr, got %q", ip)
	}
	if source != ipSourceRemoteAddr {
		t.Fatalf("expected source %q, got %q", ipSourceRemoteAddr, source)
	}
}

func TestClientIPResolverTrustsForwardedWhenEnabled(t *testing.T) {
	resolver, err := newClientIPResolver(RateLimitConfig{TrustForwardedHeaders: true})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:1111"
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	ip, source := resolver.ClientIPFromRequest(req)
	if ip != "203.0.113.5" {
		t.Fatalf("expected first forwarded ip, got %q", ip)
	}
	if source != ipSourceXForwardedFor {
		t.Fatalf("expected source %q, got %q", ipSourceXForwardedFor, source)
	}
}

func TestClientIPResolverTrustedProxyCIDR(t *testing.T) {
	resolver, err := newClientIPResolver(RateLimitConfig{TrustedProxies: []string{"10.0.0.0/8"}})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	req.Header.Set("X-Real-IP", "203.0.113.10")
	ip, source := resolver.ClientIPFromRequest(req)
	if ip != "203.0.113.10" {
		t.Fatalf("expected real ip header, got %q", ip)
	}
	if source != ipSourceXRealIP {
		t.Fatalf("expected source %q, got %q", ipSourceXRealIP, source)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.RemoteAddr = "198.51.100.20:4444"
	req2.Header.Set("X-Forwarded-For", "203.0.113.11")
	ip2, source2 := resolver.ClientIPFromRequest(req2)
	if ip2 != "198.51.100.20" {
		t.Fatalf("expected remote addr for untrusted proxy, got %q", ip2)
	}
	if source2 != ipSourceRemoteAddr {
		t.Fatalf("expected source %q, got %q", ipSourceRemoteAddr, source2)
	}
}

func TestRateLimitMiddlewareThrottlesWebhookPath(t *testing.T) {
	rl, err := newRateLimiter(RateLimitConfig{WebhookLimit: 1, WebhookWindow: time.Minute})
	if err != nil {
		t.Fatalf("newRateLimiter error: %v", err)
	}
	resolver, err := newClientIPResolver(RateLimitConfig{})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}
	handler := rateLimitMiddleware(rl, resolver, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req1 := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req1.RemoteAddr = "198.51.100.1:1234"
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusNoContent {
		t.Fatalf("expected first request to succeed, got %d", rec1.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req2.RemoteAddr = "198.51.100.1:5678"
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be throttled, got %d", rec2.Code)
	}
}

func TestRateLimitMiddlewareHonorsTrustedForwardedHeaders(t *testing.T) {
	rl, err := newRateLimiter(RateLimitConfig{WebhookLimit: 1, WebhookWindow: time.Minute})
	if err != nil {
		t.Fatalf("newRateLimiter error: %v", err)
	}
	resolver, err := newClientIPResolver(RateLimitConfig{TrustedProxies: []string{"10.0.0.0/8"}})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}
	handler := rateLimitMiddleware(rl, resolver, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req1 := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req1.RemoteAddr = "10.1.2.3:9999"
	req1.Header.Set("X-Forwarded-For", "203.0.113.50")
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusNoContent {
		t.Fatalf("expected first request to succeed, got %d", rec1.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req2.RemoteAddr = "10.1.2.3:10000"
	req2.Header.Set("X-Forwarded-For", "203.0.113.50")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be throttled, got %d", rec2.Code)
	}
}

func TestHealthzNotRateLimitedByWebhookBucket(t *testing.T) {
	rl, err := newRateLimiter(RateLimitConfig{WebhookLimit: 1, WebhookWindow: time.Minute})
	if err != nil {
		t.Fatalf("newRateLimiter error: %v", err)
	}
	resolver, err := newClientIPResolver(RateLimitConfig{})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}
	handler := rateLimitMiddleware(rl, resolver, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "198.51.100.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected healthz request %d to succeed, got %d", i, rec.Code)
		}
	}
}
