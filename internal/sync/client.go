// Package sync provides the check-in server client and connectivity
// detection used to reconcile offline scans.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/lightera/checkin-station/internal/errors"
	"github.com/lightera/checkin-station/internal/logging"
	"github.com/lightera/checkin-station/internal/models"
	"github.com/lightera/checkin-station/internal/sync/queue"
)

// Check-in server endpoints.
const (
	PathValidate      = "/api/validate_qr"
	PathManualCheckin = "/api/manual_checkin"
	PathSearch        = "/api/search_participant"
	PathDashboard     = "/api/dashboard_stats"
	PathHealth        = "/health"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 1 << 20

// ClientConfig holds check-in server connection configuration.
type ClientConfig struct {
	BaseURL         string
	Timeout         time.Duration // Per request (default: 10s)
	RateLimitPerSec float64       // Outbound request rate, 0 = unlimited
	RateBurst       int
	CacheTTL        time.Duration // How long GET responses are kept for offline fallback
}

// DefaultClientConfig returns default client configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:         "http://localhost:5000",
		Timeout:         10 * time.Second,
		RateLimitPerSec: 5,
		RateBurst:       5,
		CacheTTL:        10 * time.Minute,
	}
}

// Client talks HTTP/JSON to the check-in server.
type Client struct {
	config     *ClientConfig
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	responses  *cache.Cache
}

// NewClient creates a new Client.
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		config = DefaultClientConfig()
	}
	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Wrap(errors.ErrConfig, fmt.Sprintf("invalid server url %q", config.BaseURL), err)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := config.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	limit := rate.Inf
	if config.RateLimitPerSec > 0 {
		limit = rate.Limit(config.RateLimitPerSec)
	}
	burst := config.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		config:  config,
		baseURL: base,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		limiter:   rate.NewLimiter(limit, burst),
		responses: cache.New(ttl, 2*ttl),
	}, nil
}

// ValidateScan submits a scanned code for check-in. A refusal by the
// server (unknown code, duplicate check-in) returns the decoded response
// together with a VALIDATION_REJECTED error carrying the server message.
// Any failure to get an answer returns VALIDATION_NETWORK_ERROR.
func (c *Client) ValidateScan(ctx context.Context, req models.ValidationRequest) (*models.ValidationResponse, error) {
	return c.postCheckin(ctx, PathValidate, req)
}

// ManualCheckin checks in a participant picked from search results.
func (c *Client) ManualCheckin(ctx context.Context, req models.ManualCheckinRequest) (*models.ValidationResponse, error) {
	return c.postCheckin(ctx, PathManualCheckin, req)
}

// Validator adapts ValidateScan for the offline queue.
func (c *Client) Validator() queue.ValidateFunc {
	return c.ValidateScan
}

func (c *Client) postCheckin(ctx context.Context, path string, body interface{}) (*models.ValidationResponse, error) {
	status, data, err := c.do(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return nil, err
	}

	if status >= http.StatusInternalServerError {
		return nil, errors.New(errors.ErrValidationNetwork, fmt.Sprintf("server error: %d %s", status, http.StatusText(status)))
	}

	var resp models.ValidationResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		if status >= http.StatusBadRequest {
			return nil, errors.New(errors.ErrValidationRejected, fmt.Sprintf("%d %s", status, http.StatusText(status)))
		}
		return nil, errors.Wrap(errors.ErrValidationNetwork, "invalid response from server", err)
	}

	if status >= http.StatusBadRequest || !resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "validation rejected"
		}
		return &resp, errors.New(errors.ErrValidationRejected, msg)
	}

	return &resp, nil
}

// SearchParticipants searches participants by name. Queries shorter than
// two characters return no results without a request. When the server is
// unreachable a cached result for the same query is returned with
// stale=true.
func (c *Client) SearchParticipants(ctx context.Context, query string) (results []models.ParticipantSummary, stale bool, err error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < 2 {
		return []models.ParticipantSummary{}, false, nil
	}

	stale, err = c.getCached(ctx, PathSearch, url.Values{"q": {query}}, &results)
	if results == nil && err == nil {
		results = []models.ParticipantSummary{}
	}
	return results, stale, err
}

// DashboardStats fetches event-wide check-in totals, falling back to the
// last cached copy when offline.
func (c *Client) DashboardStats(ctx context.Context) (*models.DashboardStats, bool, error) {
	var stats models.DashboardStats
	stale, err := c.getCached(ctx, PathDashboard, nil, &stats)
	if err != nil {
		return nil, false, err
	}
	return &stats, stale, nil
}

// Health probes the server's health endpoint. It bypasses the rate
// limiter so connectivity checks are never delayed behind queued calls.
func (c *Client) Health(ctx context.Context) (*models.HealthStatus, error) {
	req, err := c.newRequest(ctx, http.MethodGet, PathHealth, nil, nil)
	if err != nil {
		return nil, err
	}
	status, data, err := c.send(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, errors.New(errors.ErrValidationNetwork, fmt.Sprintf("health check returned %d", status))
	}

	var health models.HealthStatus
	if err := json.Unmarshal(data, &health); err != nil {
		return nil, errors.Wrap(errors.ErrValidationNetwork, "invalid health response", err)
	}
	return &health, nil
}

// getCached implements network-first GET: a fresh 200 response is cached,
// and on failure the cached body for the same URL is served instead.
func (c *Client) getCached(ctx context.Context, path string, query url.Values, out interface{}) (bool, error) {
	key := path
	if len(query) > 0 {
		key += "?" + query.Encode()
	}

	status, data, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err == nil && status != http.StatusOK {
		err = errors.New(errors.ErrValidationNetwork, fmt.Sprintf("GET %s returned %d", path, status))
	}
	if err == nil {
		if decodeErr := json.Unmarshal(data, out); decodeErr != nil {
			return false, errors.Wrap(errors.ErrValidationNetwork, "invalid response from server", decodeErr)
		}
		c.responses.Set(key, data, cache.DefaultExpiration)
		return false, nil
	}

	cached, found := c.responses.Get(key)
	if !found {
		return false, err
	}
	if decodeErr := json.Unmarshal(cached.([]byte), out); decodeErr != nil {
		return false, err
	}
	logging.Debug("Serving cached response", map[string]interface{}{"key": key, "cause": err.Error()})
	return true, nil
}

// do waits for the rate limiter and executes a request.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, errors.Wrap(errors.ErrValidationNetwork, "request not sent", err)
	}

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return 0, nil, err
	}
	return c.send(req)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body interface{}) (*http.Request, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(errors.ErrInvalid, "failed to encode request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) send(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, errors.Wrap(errors.ErrValidationNetwork, fmt.Sprintf("%s %s failed", req.Method, req.URL.Path), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, errors.Wrap(errors.ErrValidationNetwork, "failed to read response", err)
	}
	return resp.StatusCode, data, nil
}
