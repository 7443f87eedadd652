package partner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrBadResponse marks a 2xx answer the scheduler cannot use.
var ErrBadResponse = errors.New("partner returned an unusable response")

// StatusError is returned for non-2xx answers.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("partner returned status %d: %s", e.StatusCode, e.Body)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RateLimit  float64 // requests per second; 0 disables limiting
	Burst      int
	HTTPClient *http.Client
	Validator  *validatorv10.Validate
}

// Client places orders with the delivery partner.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	limiter  *rate.Limiter
	validate *validatorv10.Validate
}

// NewClient returns a partner API client configured by opts.
func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	v := opts.Validator
	if v == nil {
		v = validatorv10.New()
	}
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		apiKey:   opts.APIKey,
		http:     hc,
		limiter:  limiter,
		validate: v,
	}
}

// CreateOrder posts req to {base}/orders. The raw success body is returned
// alongside the decoded response so callers can store it for replay.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*OrderResponse, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("rate limit wait: %w", err)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal order request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("post order: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"flow_id":     req.FlowID,
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("partner order request finished")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
	}

	var out OrderResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, nil, fmt.Errorf("%w: decode: %v", ErrBadResponse, err)
	}
	if err := c.validate.Struct(out); err != nil {
		return nil, nil, fmt.Errorf("%w: missing externalOrderId", ErrBadResponse)
	}
	return &out, body, nil
}

// ParseEstimatedDelivery parses the partner's estimate. Unparseable or empty
// values yield nil.
func ParseEstimatedDelivery(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
