// Package imageproxy fetches Facebook and Instagram CDN images on behalf of
// the browser, which cannot load them cross-origin with a token.
package imageproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrHostNotAllowed = errors.New("URL host is not an allowed Facebook/Instagram CDN")
	ErrNotImage       = errors.New("upstream content is not an image")
)

// AllowedDomains are matched against the host itself or any subdomain of it.
var AllowedDomains = []string{
	"fbcdn.net",
	"facebook.com",
	"fbsbx.com",
	"cdninstagram.com",
	"instagram.com",
}

const (
	CacheControl   = "public, max-age=3600"
	MaxImageBytes  = 20 << 20
	DefaultTimeout = 15 * time.Second
)

// UpstreamError is a non-2xx answer from the CDN.
type UpstreamError struct {
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Status)
}

// Allowed parses raw and checks it against AllowedDomains.
func Allowed(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid url: %w", ErrHostNotAllowed)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ErrHostNotAllowed
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range AllowedDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return u, nil
		}
	}
	return nil, ErrHostNotAllowed
}

type Proxy struct {
	Client *http.Client
}

const maxRedirects = 10

// New copies client and makes it re-check every redirect hop against the allow-list.
func New(client *http.Client) *Proxy {
	c := http.Client{Timeout: DefaultTimeout}
	if client != nil {
		c = *client
	}
	c.CheckRedirect = checkRedirect
	return &Proxy{Client: &c}
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if _, err := Allowed(req.URL.String()); err != nil {
		return fmt.Errorf("redirect to %s: %w", req.URL.Hostname(), err)
	}
	return nil
}

// Image is an open upstream body; callers must Close it.
type Image struct {
	ContentType   string
	ContentLength int64
	Body          io.ReadCloser
}

func (i *Image) Close() error {
	if i == nil || i.Body == nil {
		return nil
	}
	return i.Body.Close()
}

// Fetch GETs an allow-listed URL. token, when set, is appended as access_token.
func (p *Proxy) Fetch(ctx context.Context, raw, token string) (*Image, error) {
	u, err := Allowed(raw)
	if err != nil {
		return nil, err
	}
	if token != "" {
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "image/*")
	resp, err := p.Client.Do(req)
	if err != nil {
		if errors.Is(err, ErrHostNotAllowed) {
			return nil, ErrHostNotAllowed
		}
		return nil, &UpstreamError{Status: http.StatusBadGateway}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &UpstreamError{Status: resp.StatusCode}
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(ct)), "image/") {
		resp.Body.Close()
		return nil, ErrNotImage
	}
	return &Image{
		ContentType:   ct,
		ContentLength: resp.ContentLength,
		Body:          &limitedBody{r: io.LimitReader(resp.Body, MaxImageBytes), c: resp.Body},
	}, nil
}

type limitedBody struct {
	r io.Reader
	c io.Closer
}

func (b *limitedBody) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b *limitedBody) Close() error               { return b.c.Close() }

// HTTPStatus maps Fetch errors to the proxy route's status codes.
func HTTPStatus(err error) int {
	var up *UpstreamError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrHostNotAllowed):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotImage):
		return http.StatusUnprocessableEntity
	case errors.As(err, &up):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
