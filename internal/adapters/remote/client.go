package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/manthysbr/umbrella/internal/core/domain"
	"github.com/manthysbr/umbrella/internal/observability"
)

const healthTimeout = 5 * time.Second

var errMalformedResponse = errors.New("malformed response body")

// Client calls collaborator services over HTTP. It is safe for concurrent use.
type Client struct {
	logger   *slog.Logger
	registry *domain.ServiceRegistry
	client   *http.Client
	cfg      domain.RemoteConfig
	metrics  *observability.Metrics // optional; nil-safe
}

func NewClient(logger *slog.Logger, registry *domain.ServiceRegistry, cfg domain.RemoteConfig, metrics *observability.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = 10 * cfg.InitialBackoff
	}
	return &Client{
		logger:   logger,
		registry: registry,
		// Per-attempt deadlines come from the request context.
		client:  &http.Client{},
		cfg:     cfg,
		metrics: metrics,
	}
}

// Call posts body to {base}/{action}. Timeouts, transport errors and 5xx
// responses are retried with exponential backoff; 4xx fails immediately.
func (c *Client) Call(ctx context.Context, service domain.ServiceName, action string, body map[string]any, cid domain.CorrelationID, policy domain.RetryPolicy) (map[string]any, error) {
	base, err := c.registry.BaseURL(service)
	if err != nil {
		return nil, err
	}
	logger := c.logger.With("correlation_id", string(cid), "service", service, "action", action)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &domain.RemoteServiceError{Service: service, Action: action, Err: fmt.Errorf("failed to encode request: %w", err)}
	}
	url := base + "/" + strings.TrimLeft(action, "/")

	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = c.cfg.InitialBackoff
	}

	var (
		result     map[string]any
		attempts   int
		lastStatus int
		transient  bool
	)
	op := func() error {
		attempts++
		out, status, err := c.attempt(ctx, url, payload, cid)
		lastStatus = status
		if err == nil {
			result = out
			c.metrics.RemoteAttempt(string(service), "success")
			return nil
		}
		transient = isTransient(ctx, status, err)
		if !transient {
			c.metrics.RemoteAttempt(string(service), "permanent")
			return backoff.Permanent(err)
		}
		c.metrics.RemoteAttempt(string(service), "retry")
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("remote call failed, retrying", "attempt", attempts, "backoff", wait, "error", err)
	}

	if err := backoff.RetryNotify(op, c.backoffFor(ctx, policy), notify); err != nil {
		logger.Error("remote call failed", "attempts", attempts, "status", lastStatus, "error", err)
		return nil, &domain.RemoteServiceError{
			Service:    service,
			Action:     action,
			StatusCode: lastStatus,
			Attempts:   attempts,
			Transient:  transient,
			Err:        err,
		}
	}
	logger.Debug("remote call succeeded", "attempts", attempts)
	return result, nil
}

func (c *Client) backoffFor(ctx context.Context, policy domain.RetryPolicy) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.cfg.MaxBackoff
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(policy.MaxRetries)), ctx)
}

// attempt performs one HTTP round trip. status is 0 when no response arrived.
func (c *Client) attempt(ctx context.Context, url string, payload []byte, cid domain.CorrelationID) (map[string]any, int, error) {
	actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(domain.CorrelationHeader, string(cid))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, resp.StatusCode, fmt.Errorf("returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, resp.StatusCode, nil
		}
		return nil, resp.StatusCode, fmt.Errorf("%w: %v", errMalformedResponse, err)
	}
	return out, resp.StatusCode, nil
}

func isTransient(ctx context.Context, status int, err error) bool {
	if ctx.Err() != nil {
		// The caller gave up; retrying cannot help.
		return false
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) || errors.Is(err, errMalformedResponse) {
		return false
	}
	if status == 0 {
		return true
	}
	return status >= 500
}

type healthResponse struct {
	Status       string         `json:"status"`
	Dependencies map[string]any `json:"dependencies"`
}

// Health probes GET {base}/health once.
func (c *Client) Health(ctx context.Context, service domain.ServiceName, cid domain.CorrelationID) domain.ServiceHealth {
	h := domain.ServiceHealth{Service: service, CheckedAt: time.Now().UTC()}

	base, err := c.registry.BaseURL(service)
	if err != nil {
		h.Status = domain.HealthStatusUnreachable
		h.Error = err.Error()
		return h
	}

	timeout := healthTimeout
	if c.cfg.Timeout < timeout {
		timeout = c.cfg.Timeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(hctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		h.Status = domain.HealthStatusUnreachable
		h.Error = err.Error()
		return h
	}
	req.Header.Set(domain.CorrelationHeader, string(cid))

	start := time.Now()
	resp, err := c.client.Do(req)
	h.Latency = time.Since(start).String()
	if err != nil {
		h.Status = domain.HealthStatusUnreachable
		h.Error = err.Error()
		return h
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		h.Status = domain.HealthStatusUnhealthy
		h.Error = fmt.Sprintf("health returned status %d", resp.StatusCode)
		return h
	}

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Status != "" && body.Status != string(domain.HealthStatusHealthy) {
		h.Status = domain.HealthStatusUnhealthy
		h.Error = "reported status " + body.Status
		return h
	}
	h.Status = domain.HealthStatusHealthy
	return h
}
