// Package graph is a small Facebook Graph / Marketing API client. Responses
// are reshaped into camelCase structs; failures come back as *Error.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PortNumber53/adlens/backend/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://graph.facebook.com"
	DefaultVersion = "v23.0"

	maxResponseBytes = 10 << 20
)

type Options struct {
	BaseURL string
	Version string
	HTTP    *http.Client
	Getenv  func(string) string
	Quota   QuotaFunc
	Metrics *metrics.Metrics
	Logger  *log.Logger
}

type Client struct {
	baseURL string
	version string
	http    *http.Client
	quota   QuotaFunc
	metrics *metrics.Metrics
	logger  *log.Logger

	limiters map[Family]*rate.Limiter
	limits   map[Family]RateLimitConfig
	now      func() time.Time
}

func NewClient(opts Options) *Client {
	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		version: opts.Version,
		http:    opts.HTTP,
		quota:   opts.Quota,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.version == "" {
		c.version = DefaultVersion
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 20 * time.Second}
	}
	if c.logger == nil {
		c.logger = log.Default()
	}
	c.limiters, c.limits = newLimiters(opts.Getenv)
	return c
}

func (c *Client) Version() string { return c.version }

// HTTPClient is shared with callers that fetch Facebook CDN assets.
func (c *Client) HTTPClient() *http.Client { return c.http }

func (c *Client) endpoint(path string) string {
	return c.baseURL + "/" + c.version + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) wait(ctx context.Context, fam Family) error {
	if lim := c.limiters[fam]; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}
	cfg := c.limits[fam]
	if c.quota == nil || cfg.DailyRequestsMax <= 0 {
		return nil
	}
	ok, used, err := c.quota(ctx, string(fam), 1, cfg.DailyRequestsMax, c.now())
	if err != nil {
		// Quota bookkeeping errors never fail the call.
		c.logger.Printf("[Graph][Quota] consume failed family=%s err=%v", fam, err)
		return nil
	}
	if !ok {
		return &Error{Kind: KindRateLimited, Status: http.StatusTooManyRequests,
			Message: fmt.Sprintf("daily Graph API quota exhausted for %s (%d/%d)", fam, used, cfg.DailyRequestsMax)}
	}
	return nil
}

// get issues GET BaseURL/Version/path and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, fam Family, path string, params url.Values, token string, out any) error {
	body, err := c.getRaw(ctx, fam, path, params, token)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.metrics.GraphCall(string(fam), "decode_error")
		return &Error{Kind: KindUpstream, Status: http.StatusBadGateway, Message: "invalid JSON from Facebook: " + err.Error()}
	}
	return nil
}

func (c *Client) getRaw(ctx context.Context, fam Family, path string, params url.Values, token string) ([]byte, error) {
	if strings.TrimSpace(token) == "" {
		return nil, &Error{Kind: KindBadRequest, Status: http.StatusBadRequest, Message: "accessToken is required"}
	}
	if err := c.wait(ctx, fam); err != nil {
		c.metrics.GraphCall(string(fam), "throttled")
		return nil, err
	}
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("access_token", token)
	u := c.endpoint(path) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.GraphCall(string(fam), "transport_error")
		return nil, &Error{Kind: KindUpstream, Status: http.StatusBadGateway, Message: err.Error()}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.metrics.GraphCall(string(fam), "transport_error")
		return nil, &Error{Kind: KindUpstream, Status: http.StatusBadGateway, Message: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ge := parseError(resp.StatusCode, body)
		c.metrics.GraphCall(string(fam), ge.Kind.String())
		c.logger.Printf("[Graph][%s] path=%s status=%d code=%d err=%s", fam, path, resp.StatusCode, ge.Code, ge.Message)
		return nil, ge
	}
	c.metrics.GraphCall(string(fam), "ok")
	return body, nil
}

// Paging is the cursor block Facebook returns on list endpoints.
type Paging struct {
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
	Next   string `json:"next,omitempty"`
}

type rawPaging struct {
	Cursors struct {
		Before string `json:"before"`
		After  string `json:"after"`
	} `json:"cursors"`
	Next string `json:"next"`
}

func (p rawPaging) shape() Paging {
	return Paging{Before: p.Cursors.Before, After: p.Cursors.After, Next: p.Next}
}

// NormalizeAccountID adds the act_ prefix the Marketing API expects.
func NormalizeAccountID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.HasPrefix(id, "act_") {
		return id
	}
	return "act_" + id
}

func clampLimit(n, def, max int) int {
	if n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
