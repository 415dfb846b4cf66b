package live

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/velora-health/velora/pkg/errorsx"
	"github.com/velora-health/velora/pkg/logging"
	"github.com/velora-health/velora/pkg/resilience"
)

// FunctionResponse is the result of a client-side tool invocation handed back
// to the model out of band.
type FunctionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type RelayConfig struct {
	// Endpoint is the tool-response submission URL.
	Endpoint string
	Timeout  time.Duration
	Retry    resilience.RetryPolicy
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry = resilience.NewRetryPolicy(2, 200*time.Millisecond)
	}
	return c
}

// RelayClient submits tool responses over HTTP, beside the websocket channel.
// Rate limit responses trip a circuit breaker so a throttled relay is not
// hammered.
type RelayClient struct {
	cfg     RelayConfig
	http    *http.Client
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

func NewRelayClient(cfg RelayConfig) *RelayClient {
	cfg = cfg.withDefaults()
	return &RelayClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: resilience.NewCircuitBreaker(3, 30*time.Second),
		logger:  logging.NewComponentLogger(slog.Default(), "relay_client"),
	}
}

type toolResponseBody struct {
	SessionID         string             `json:"sessionId"`
	FunctionResponses []FunctionResponse `json:"functionResponses"`
}

// SubmitToolResponses posts function results for the given session. The
// session secret travels in a header only. Transient failures are retried;
// 4xx responses are not.
func (r *RelayClient) SubmitToolResponses(ctx context.Context, sessionID, secret string, responses []FunctionResponse) error {
	if !r.breaker.Allow() {
		return errorsx.Wrap(resilience.RateLimitError{Endpoint: r.cfg.Endpoint, Message: "relay circuit open"}, errorsx.ReasonRelayRateLimit)
	}

	body, err := json.Marshal(toolResponseBody{SessionID: sessionID, FunctionResponses: responses})
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("tool response marshal failed: %w", err), errorsx.ReasonRelaySubmit)
	}

	err = r.cfg.Retry.Do(func() error {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(body))
		if rerr != nil {
			return resilience.Permanent(rerr)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(headerSessionSecret, secret)

		resp, rerr := r.http.Do(req)
		if rerr != nil {
			return rerr
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		switch {
		case resp.StatusCode == http.StatusOK:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			return resilience.Permanent(resilience.RateLimitError{Endpoint: r.cfg.Endpoint, Message: "relay rate limited"})
		case resp.StatusCode == http.StatusUnauthorized:
			return resilience.Permanent(fmt.Errorf("relay rejected session secret"))
		case resp.StatusCode == http.StatusBadRequest:
			return resilience.Permanent(fmt.Errorf("relay rejected tool response payload"))
		case resp.StatusCode >= 500:
			return fmt.Errorf("relay unavailable: status %d", resp.StatusCode)
		default:
			return resilience.Permanent(fmt.Errorf("relay returned status %d", resp.StatusCode))
		}
	})
	if err != nil {
		r.breaker.OnError(err)
		if resilience.IsRateLimit(err) {
			return errorsx.Wrap(err, errorsx.ReasonRelayRateLimit)
		}
		r.logger.Warn("relay_submit_failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		return errorsx.Wrap(err, errorsx.ReasonRelaySubmit)
	}
	r.breaker.OnSuccess()
	return nil
}
