// Package middleware wraps the router with request metrics, panic recovery
// and optional Sentry reporting.
package middleware

import (
	"bufio"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/PortNumber53/adlens/backend/internal/metrics"
	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/gorilla/mux"
)

// statusRecorder remembers the status code written by the wrapped handler.
// It forwards Hijack and Flush so websocket and streaming routes keep working.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.wroteHeader {
		s.status = http.StatusOK
		s.wroteHeader = true
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	s.wroteHeader = true
	return hj.Hijack()
}

// RouteTemplate returns the mux path template for r, or "unmatched".
func RouteTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// Observe records a request counter and latency histogram per route template.
// Server errors are logged with the route and latency.
func Observe(m *metrics.Metrics, logger *log.Logger) mux.MiddlewareFunc {
	if logger == nil {
		logger = log.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)
			route := RouteTemplate(r)
			m.ObserveHTTP(route, r.Method, rec.status, elapsed)
			if rec.status >= 500 {
				logger.Printf("[HTTP] %s %s route=%s status=%d latency=%s", r.Method, r.URL.Path, route, rec.status, elapsed)
			}
		})
	}
}

// Recover turns a handler panic into a JSON 500 response.
func Recover(logger *log.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Printf("[HTTP] panic method=%s path=%s err=%v", r.Method, r.URL.Path, rec)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Sentry attaches a per-request hub and reports panics before re-raising them
// for Recover. It is a pass-through when the SDK has no client.
func Sentry(next http.Handler) http.Handler {
	if sentry.CurrentHub().Client() == nil {
		return next
	}
	return sentryhttp.New(sentryhttp.Options{Repanic: true, Timeout: 2 * time.Second}).Handle(next)
}

// CaptureError reports err on the request's hub when one is attached.
func CaptureError(r *http.Request, err error) {
	if err == nil || r == nil {
		return
	}
	if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
		hub.CaptureException(err)
	}
}
