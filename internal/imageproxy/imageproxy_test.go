package imageproxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

type stubTransport struct {
	fn func(*http.Request) (*http.Response, error)
}

func (t stubTransport) RoundTrip(r *http.Request) (*http.Response, error) { return t.fn(r) }

func httpBody(status int, contentType, body string) *http.Response {
	h := make(http.Header)
	h.Set("Content-Type", contentType)
	return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(strings.NewReader(body)), ContentLength: int64(len(body))}
}

func TestAllowed(t *testing.T) {
	ok := []string{
		"https://scontent.xx.fbcdn.net/v/t45/img.jpg",
		"https://fbcdn.net/a.png",
		"https://www.facebook.com/ads/image/?d=1",
		"https://lookaside.fbsbx.com/x",
		"https://scontent.cdninstagram.com/v/a.jpg",
		"http://instagram.com/p.jpg",
	}
	for _, u := range ok {
		if _, err := Allowed(u); err != nil {
			t.Fatalf("expected %s allowed got %v", u, err)
		}
	}
	bad := []string{
		"https://evil.com/a.jpg",
		"https://fbcdn.net.evil.com/a.jpg",
		"https://notfacebook.com/a.jpg",
		"ftp://fbcdn.net/a.jpg",
		"not a url",
		"",
	}
	for _, u := range bad {
		if _, err := Allowed(u); !errors.Is(err, ErrHostNotAllowed) {
			t.Fatalf("expected %q rejected got %v", u, err)
		}
		if HTTPStatus(ErrHostNotAllowed) != http.StatusBadRequest {
			t.Fatalf("expected 400 mapping")
		}
	}
}

func TestFetch_StreamsImage(t *testing.T) {
	p := New(&http.Client{Transport: stubTransport{fn: func(r *http.Request) (*http.Response, error) {
		if r.URL.Query().Get("access_token") != "tok" {
			return httpBody(401, "text/plain", "no token"), nil
		}
		return httpBody(200, "image/jpeg", "JPEGDATA"), nil
	}}})
	img, err := p.Fetch(context.Background(), "https://scontent.xx.fbcdn.net/img.jpg?oh=1", "tok")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	defer img.Close()
	b, _ := io.ReadAll(img.Body)
	if string(b) != "JPEGDATA" || img.ContentType != "image/jpeg" {
		t.Fatalf("unexpected image %q %q", b, img.ContentType)
	}
}

func TestFetch_NotImageAndUpstreamErrors(t *testing.T) {
	p := New(&http.Client{Transport: stubTransport{fn: func(r *http.Request) (*http.Response, error) {
		if strings.HasSuffix(r.URL.Path, "/page.html") {
			return httpBody(200, "text/html; charset=utf-8", "<html>"), nil
		}
		return httpBody(404, "text/plain", "gone"), nil
	}}})

	_, err := p.Fetch(context.Background(), "https://www.facebook.com/page.html", "")
	if !errors.Is(err, ErrNotImage) || HTTPStatus(err) != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 not image got %v", err)
	}

	_, err = p.Fetch(context.Background(), "https://www.facebook.com/missing.jpg", "")
	var up *UpstreamError
	if !errors.As(err, &up) || up.Status != 404 || HTTPStatus(err) != http.StatusBadGateway {
		t.Fatalf("expected upstream 404 mapped to 502 got %v", err)
	}

	if _, err := p.Fetch(context.Background(), "https://example.com/a.jpg", ""); HTTPStatus(err) != http.StatusBadRequest {
		t.Fatalf("expected 400 for disallowed host got %v", err)
	}
}

func TestFetch_RedirectsStayOnAllowList(t *testing.T) {
	var hosts []string
	p := New(&http.Client{Transport: stubTransport{fn: func(r *http.Request) (*http.Response, error) {
		hosts = append(hosts, r.URL.Host)
		switch r.URL.Path {
		case "/away.jpg":
			resp := httpBody(http.StatusFound, "text/plain", "")
			resp.Header.Set("Location", "https://evil.example/x.png")
			return resp, nil
		case "/moved.jpg":
			resp := httpBody(http.StatusFound, "text/plain", "")
			resp.Header.Set("Location", "https://scontent.xx.fbcdn.net/final.jpg")
			return resp, nil
		}
		return httpBody(200, "image/jpeg", "JPEG"), nil
	}}})

	_, err := p.Fetch(context.Background(), "https://www.facebook.com/away.jpg", "")
	if !errors.Is(err, ErrHostNotAllowed) || HTTPStatus(err) != http.StatusBadRequest {
		t.Fatalf("expected redirect off the allow-list to be refused got %v", err)
	}
	for _, h := range hosts {
		if h == "evil.example" {
			t.Fatalf("expected evil.example never fetched, hosts=%v", hosts)
		}
	}

	img, err := p.Fetch(context.Background(), "https://www.facebook.com/moved.jpg", "")
	if err != nil {
		t.Fatalf("expected allowed redirect to succeed got %v", err)
	}
	defer img.Close()
	if img.ContentType != "image/jpeg" {
		t.Fatalf("expected image/jpeg got %q", img.ContentType)
	}
}
