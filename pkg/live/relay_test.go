package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/velora-health/velora/pkg/errorsx"
	"github.com/velora-health/velora/pkg/resilience"
)

func singleResponse() []FunctionResponse {
	return []FunctionResponse{{
		ID:       "call-1",
		Name:     "show_breathing_exercise",
		Response: map[string]any{"status": "completed"},
	}}
}

func TestSubmitToolResponsesPostsSecretInHeader(t *testing.T) {
	var gotBody toolResponseBody
	var gotSecret string
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get(headerSessionSecret)
		gotQuery = r.URL.RawQuery
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rc := NewRelayClient(RelayConfig{Endpoint: srv.URL})
	if err := rc.SubmitToolResponses(context.Background(), "s-7", "s3cr3t", singleResponse()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if gotSecret != "s3cr3t" {
		t.Fatalf("secret not in header, got %q", gotSecret)
	}
	if gotQuery != "" {
		t.Fatalf("secret must not leak into query: %q", gotQuery)
	}
	if gotBody.SessionID != "s-7" || len(gotBody.FunctionResponses) != 1 {
		t.Fatalf("unexpected body: %+v", gotBody)
	}
	if gotBody.FunctionResponses[0].Name != "show_breathing_exercise" {
		t.Fatalf("unexpected function response: %+v", gotBody.FunctionResponses[0])
	}
}

func TestSubmitToolResponsesBadRequestNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	rc := NewRelayClient(RelayConfig{Endpoint: srv.URL, Retry: resilience.NewRetryPolicy(3, time.Millisecond)})
	err := rc.SubmitToolResponses(context.Background(), "s-7", "secret", singleResponse())
	if err == nil {
		t.Fatalf("expected error for 400")
	}
	if !errorsx.HasReason(err, errorsx.ReasonRelaySubmit) {
		t.Fatalf("expected submit reason, got %v", errorsx.Reason(err))
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("400 must not be retried, got %d calls", n)
	}
}

func TestSubmitToolResponsesUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	rc := NewRelayClient(RelayConfig{Endpoint: srv.URL, Retry: resilience.NewRetryPolicy(1, time.Millisecond)})
	err := rc.SubmitToolResponses(context.Background(), "s-7", "wrong", singleResponse())
	if err == nil {
		t.Fatalf("expected error for 401")
	}
	if !errorsx.HasReason(err, errorsx.ReasonRelaySubmit) {
		t.Fatalf("expected submit reason, got %v", errorsx.Reason(err))
	}
}

func TestSubmitToolResponsesRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	rc := NewRelayClient(RelayConfig{Endpoint: srv.URL, Retry: resilience.NewRetryPolicy(1, time.Millisecond)})
	err := rc.SubmitToolResponses(context.Background(), "s-7", "secret", singleResponse())
	if err == nil {
		t.Fatalf("expected error for 429")
	}
	if !errorsx.HasReason(err, errorsx.ReasonRelayRateLimit) {
		t.Fatalf("expected rate limit reason, got %v", errorsx.Reason(err))
	}
	if !resilience.IsRateLimit(err) {
		t.Fatalf("expected RateLimitError in chain")
	}
}

func TestSubmitToolResponsesRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rc := NewRelayClient(RelayConfig{Endpoint: srv.URL, Retry: resilience.NewRetryPolicy(2, time.Millisecond)})
	if err := rc.SubmitToolResponses(context.Background(), "s-7", "secret", singleResponse()); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("expected 2 calls, got %d", n)
	}
}

func TestBreakerOpensAfterRepeatedRateLimits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	rc := NewRelayClient(RelayConfig{Endpoint: srv.URL, Retry: resilience.NewRetryPolicy(1, time.Millisecond)})
	for i := 0; i < 3; i++ {
		_ = rc.SubmitToolResponses(context.Background(), "s-7", "secret", singleResponse())
	}
	before := calls.Load()
	err := rc.SubmitToolResponses(context.Background(), "s-7", "secret", singleResponse())
	if err == nil {
		t.Fatalf("expected error while breaker open")
	}
	if !errorsx.HasReason(err, errorsx.ReasonRelayRateLimit) {
		t.Fatalf("expected rate limit reason, got %v", errorsx.Reason(err))
	}
	if calls.Load() != before {
		t.Fatalf("breaker open must not hit the endpoint")
	}
}
