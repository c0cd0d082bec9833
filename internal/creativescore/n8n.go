package creativescore

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

	"github.com/google/uuid"
)

var ErrForwarderDisabled = errors.New("N8N_WEBHOOK_URL not configured")

const (
	EnvelopeSource   = "adlens-api"
	DefaultBatchSize = 10
	MaxBatchSize     = 50
	ForwardTimeout   = 30 * time.Second
)

type DateRange struct {
	Since string `json:"since,omitempty"`
	Until string `json:"until,omitempty"`
}

// AnalysisRequest is what callers send to start a scoring run.
type AnalysisRequest struct {
	AccessToken         string    `json:"accessToken" validate:"required"`
	AdAccountID         string    `json:"adAccountId" validate:"required"`
	DateRange           DateRange `json:"dateRange"`
	BatchSize           int       `json:"batchSize" validate:"omitempty,min=1,max=50"`
	SelectedCreativeIDs []string  `json:"selectedCreativeIds"`
}

// Envelope is the fixed JSON body the n8n workflow expects.
type Envelope struct {
	AccessToken         string    `json:"accessToken"`
	AdAccountID         string    `json:"adAccountId"`
	DateRange           DateRange `json:"dateRange"`
	BatchSize           int       `json:"batchSize"`
	SelectedCreativeIDs []string  `json:"selectedCreativeIds"`
	RequestID           string    `json:"requestId"`
	Timestamp           string    `json:"timestamp"`
	Source              string    `json:"source"`
}

type ForwardResult struct {
	RequestID string          `json:"requestId"`
	Status    int             `json:"status"`
	Response  json.RawMessage `json:"response,omitempty"`
}

// ForwardError is a non-2xx answer from the workflow.
type ForwardError struct {
	Status int
	Body   string
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("n8n webhook returned status %d: %s", e.Status, e.Body)
}

type Forwarder struct {
	URL    string
	Client *http.Client
	now    func() time.Time
	newID  func() string
}

func NewForwarder(webhookURL string, client *http.Client) *Forwarder {
	if client == nil {
		client = &http.Client{Timeout: ForwardTimeout}
	}
	return &Forwarder{URL: strings.TrimSpace(webhookURL), Client: client}
}

func (f *Forwarder) Enabled() bool { return f != nil && f.URL != "" }

// BuildEnvelope fills defaults and stamps the request id and timestamp.
func (f *Forwarder) BuildEnvelope(req AnalysisRequest) Envelope {
	now := time.Now().UTC()
	if f.now != nil {
		now = f.now()
	}
	id := ""
	if f.newID != nil {
		id = f.newID()
	} else {
		id = uuid.NewString()
	}
	size := req.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	if size > MaxBatchSize {
		size = MaxBatchSize
	}
	ids := req.SelectedCreativeIDs
	if ids == nil {
		ids = []string{}
	}
	return Envelope{
		AccessToken:         req.AccessToken,
		AdAccountID:         req.AdAccountID,
		DateRange:           req.DateRange,
		BatchSize:           size,
		SelectedCreativeIDs: ids,
		RequestID:           id,
		Timestamp:           now.Format(time.RFC3339),
		Source:              EnvelopeSource,
	}
}

func (f *Forwarder) Forward(ctx context.Context, req AnalysisRequest) (ForwardResult, error) {
	if !f.Enabled() {
		return ForwardResult{}, ErrForwarderDisabled
	}
	env := f.BuildEnvelope(req)
	body, err := json.Marshal(env)
	if err != nil {
		return ForwardResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, ForwardTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.URL, bytes.NewReader(body))
	if err != nil {
		return ForwardResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := f.Client.Do(httpReq)
	if err != nil {
		return ForwardResult{}, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(respBody))
		if len(msg) > 400 {
			msg = msg[:400]
		}
		return ForwardResult{}, &ForwardError{Status: resp.StatusCode, Body: msg}
	}
	out := ForwardResult{RequestID: env.RequestID, Status: resp.StatusCode}
	if len(respBody) > 0 && json.Valid(respBody) {
		out.Response = respBody
	}
	return out, nil
}
