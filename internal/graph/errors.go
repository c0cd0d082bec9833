package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Kind int

const (
	KindUpstream Kind = iota
	KindInvalidToken
	KindPermission
	KindRateLimited
	KindNotFound
	KindBadRequest
)

func (k Kind) String() string {
	switch k {
	case KindInvalidToken:
		return "invalid_token"
	case KindPermission:
		return "permission"
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindBadRequest:
		return "bad_request"
	}
	return "upstream"
}

// Error is a failed Graph API call.
type Error struct {
	Kind      Kind
	Status    int
	Code      int
	Subcode   int
	Type      string
	Message   string
	FBTraceID string
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("graph %s (status=%d code=%d): %s", e.Kind, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("graph %s (status=%d): %s", e.Kind, e.Status, e.Message)
}

// PublicMessage is the message returned to API clients.
func (e *Error) PublicMessage() string {
	switch e.Kind {
	case KindInvalidToken:
		return "Invalid or expired Facebook access token"
	case KindPermission:
		return "Missing required Facebook permission"
	case KindRateLimited:
		return "Facebook API rate limit reached, try again later"
	case KindNotFound:
		if e.Message != "" {
			return e.Message
		}
		return "Not found"
	}
	if e.Message != "" {
		return e.Message
	}
	return "Facebook API error"
}

// HTTPStatus maps err to the status a handler should answer with.
func HTTPStatus(err error) int {
	var ge *Error
	if !errors.As(err, &ge) {
		return http.StatusInternalServerError
	}
	switch ge.Kind {
	case KindInvalidToken:
		return http.StatusUnauthorized
	case KindPermission:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

func IsKind(err error, k Kind) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == k
}

type errorEnvelope struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		FBTraceID    string `json:"fbtrace_id"`
	} `json:"error"`
}

// parseError classifies a non-2xx Graph response. Facebook often answers 400
// for token and throttling problems, so the error code wins over the status.
func parseError(status int, body []byte) *Error {
	e := &Error{Status: status}
	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil {
		e.Code = env.Error.Code
		e.Subcode = env.Error.ErrorSubcode
		e.Type = env.Error.Type
		e.Message = env.Error.Message
		e.FBTraceID = env.Error.FBTraceID
	}
	if e.Message == "" {
		e.Message = truncate(strings.TrimSpace(string(body)), 400)
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	e.Kind = classify(status, e.Code)
	return e
}

func classify(status, code int) Kind {
	switch {
	case code == 190 || code == 102 || status == http.StatusUnauthorized:
		return KindInvalidToken
	case code == 4 || code == 17 || code == 32 || code == 613 || code == 80004 || status == http.StatusTooManyRequests:
		return KindRateLimited
	case code == 10 || (code >= 200 && code <= 299) || status == http.StatusForbidden:
		return KindPermission
	case code == 803 || status == http.StatusNotFound:
		return KindNotFound
	case status >= 400 && status < 500:
		return KindBadRequest
	}
	return KindUpstream
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
