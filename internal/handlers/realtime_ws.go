package handlers

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

const (
	wsHeartbeat  = 30 * time.Second
	wsQueueDepth = 16

	internalSecretHeader = "X-Internal-WS-Secret"
)

type realtimeEvent struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Payload any    `json:"payload,omitempty"`
	Now     string `json:"now,omitempty"`
	At      string `json:"at"`
}

func newEvent(typ, channel string, payload any) realtimeEvent {
	return realtimeEvent{Type: typ, Channel: channel, Payload: payload, At: time.Now().UTC().Format(time.RFC3339)}
}

// subscriber owns one socket. Only its writer goroutine writes to conn.
type subscriber struct {
	conn  *websocket.Conn
	queue chan []byte
	gone  chan struct{}
	once  sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.gone)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

// realtimeHub routes events by channel: a user id for billing, an ad account
// id for creative scores.
type realtimeHub struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

func newRealtimeHub() *realtimeHub {
	return &realtimeHub{subs: make(map[string]map[*subscriber]struct{})}
}

func (h *realtimeHub) join(channel string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[channel]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[channel] = set
	}
	set[s] = struct{}{}
}

func (h *realtimeHub) leave(channel string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[channel]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, channel)
		}
	}
}

// publish queues msg for every subscriber of channel and reports how many got
// it. A subscriber whose queue is full is dropped.
func (h *realtimeHub) publish(channel string, msg []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	sent := 0
	for s := range h.subs[channel] {
		select {
		case s.queue <- msg:
			sent++
		default:
			log.Printf("[Realtime] dropping slow subscriber channel=%s", channel)
			delete(h.subs[channel], s)
			s.close()
		}
	}
	return sent
}

func (h *realtimeHub) count(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[channel])
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// internalCaller reports whether r comes from our own frontend server: a
// loopback peer, or a peer presenting INTERNAL_WS_SECRET.
func internalCaller(r *http.Request, secret string) bool {
	if isLoopback(r.RemoteAddr) {
		return true
	}
	secret = strings.TrimSpace(secret)
	return secret != "" && strings.TrimSpace(r.Header.Get(internalSecretHeader)) == secret
}

func internalAuthReport(r *http.Request, secret string) map[string]any {
	secret = strings.TrimSpace(secret)
	presented := strings.TrimSpace(r.Header.Get(internalSecretHeader))
	return map[string]any{
		"remote":      r.RemoteAddr,
		"host":        r.Host,
		"loopback":    isLoopback(r.RemoteAddr),
		"secSet":      secret != "",
		"hasHeader":   presented != "",
		"headerMatch": secret != "" && presented == secret,
	}
}

func (h *Handler) wsSecret() string {
	if h == nil || h.cfg == nil {
		return ""
	}
	return h.cfg.InternalWSSecret
}

// EventsPing reports how the caller was judged by the internal auth check.
// URL: GET /api/events/ping
func (h *Handler) EventsPing(w http.ResponseWriter, r *http.Request) {
	report := internalAuthReport(r, h.wsSecret())
	ok := internalCaller(r, h.wsSecret())
	report["ok"] = ok
	status := http.StatusOK
	if !ok {
		status = http.StatusForbidden
	}
	writeJSON(w, status, report)
}

// EventsWebSocket subscribes an internal caller to one channel.
// URL: GET /api/events/ws?channel= (userId or adAccountId also accepted)
func (h *Handler) EventsWebSocket(w http.ResponseWriter, r *http.Request) {
	if !internalCaller(r, h.wsSecret()) {
		log.Printf("[Realtime] forbidden remote=%s", r.RemoteAddr)
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	var channel string
	for _, key := range []string{"channel", "userId", "adAccountId"} {
		if channel = queryParam(r, key); channel != "" {
			break
		}
	}
	if channel == "" {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}

	srv := websocket.Server{
		// Origin is not checked; internalCaller already gated the request.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler: func(c *websocket.Conn) {
			s := &subscriber{conn: c, queue: make(chan []byte, wsQueueDepth), gone: make(chan struct{})}
			if hello, err := json.Marshal(newEvent("hello", channel, nil)); err == nil {
				s.queue <- hello
			}
			h.rt.join(channel, s)
			log.Printf("[Realtime] subscribe channel=%s remote=%s", channel, r.RemoteAddr)
			defer func() {
				h.rt.leave(channel, s)
				s.close()
				log.Printf("[Realtime] unsubscribe channel=%s remote=%s", channel, r.RemoteAddr)
			}()

			go writeLoop(s, channel)

			// Inbound frames are ignored; reading detects the close.
			var discard string
			for websocket.Message.Receive(c, &discard) == nil {
			}
		},
	}
	srv.ServeHTTP(w, r)
}

func writeLoop(s *subscriber, channel string) {
	ticker := time.NewTicker(wsHeartbeat)
	defer ticker.Stop()
	for {
		var msg []byte
		select {
		case <-s.gone:
			return
		case msg = <-s.queue:
		case t := <-ticker.C:
			ev := newEvent("heartbeat", channel, nil)
			ev.Now = t.UTC().Format("15:04:05")
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			msg = b
		}
		if err := websocket.Message.Send(s.conn, string(msg)); err != nil {
			s.close()
			return
		}
	}
}

// notify is handed to the billing and creative-score services.
func (h *Handler) notify(channel, event string, payload any) {
	channel = strings.TrimSpace(channel)
	if h == nil || h.rt == nil || channel == "" {
		return
	}
	b, err := json.Marshal(newEvent(event, channel, payload))
	if err != nil {
		log.Printf("[Realtime] marshal failed channel=%s err=%v", channel, err)
		return
	}
	if n := h.rt.publish(channel, b); n > 0 {
		log.Printf("[Realtime] emit channel=%s type=%s subs=%d", channel, event, n)
	}
}
