package creativescore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/PortNumber53/adlens/backend/internal/store"
)

const validPayload = `{
	"adAccountId": "act_1",
	"creativeId": "cr_1",
	"imageHash": "abc",
	"model": "gpt-4o",
	"score": {"overall": 82.5, "dimensions": {"clarity": 80, "text_density": 70, "brand": 90, "value_prop": 75, "cta": 60, "contrast": 88, "thumbnail": 77}},
	"insights": {"strengths": ["bold headline"], "weaknesses": [], "recommendations": ["shorter copy"]},
	"complianceFlags": ["text_over_20_percent"]
}`

func mutate(t *testing.T, fn func(doc map[string]any)) []byte {
	t.Helper()
	var doc map[string]any
	if err := json.Unmarshal([]byte(validPayload), &doc); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	fn(doc)
	b, _ := json.Marshal(doc)
	return b
}

func TestValidate_OK(t *testing.T) {
	p, err := Validate([]byte(validPayload))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if p.CreativeID != "cr_1" || p.Overall != 82.5 || p.Dimensions.Contrast != 88 || p.Dimensions.TextDensity != 70 {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if len(p.ComplianceFlags) != 1 || p.Insights.Weaknesses == nil {
		t.Fatalf("unexpected lists: %+v", p)
	}
}

func TestValidate_EachMissingDimensionIsNamed(t *testing.T) {
	for _, key := range DimensionKeys {
		raw := mutate(t, func(doc map[string]any) {
			dims := doc["score"].(map[string]any)["dimensions"].(map[string]any)
			delete(dims, key)
		})
		_, err := Validate(raw)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("missing %s: expected ValidationError got %v", key, err)
		}
		if !strings.Contains(ve.Message, key) || ve.Field != "score.dimensions."+key {
			t.Fatalf("missing %s: message should name it, got %q", key, ve.Message)
		}
	}
}

func TestValidate_FirstViolationWins(t *testing.T) {
	raw := mutate(t, func(doc map[string]any) {
		dims := doc["score"].(map[string]any)["dimensions"].(map[string]any)
		delete(dims, "brand")
		delete(dims, "thumbnail")
		delete(doc, "insights")
	})
	_, err := Validate(raw)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "score.dimensions.brand" {
		t.Fatalf("expected brand to be reported first got %v", err)
	}
}

func TestValidate_Violations(t *testing.T) {
	cases := map[string]struct {
		fn    func(doc map[string]any)
		field string
	}{
		"no creative":      {func(d map[string]any) { delete(d, "creativeId") }, "creativeId"},
		"blank creative":   {func(d map[string]any) { d["creativeId"] = "  " }, "creativeId"},
		"no score":         {func(d map[string]any) { delete(d, "score") }, "score"},
		"overall too high": {func(d map[string]any) { d["score"].(map[string]any)["overall"] = 101 }, "score.overall"},
		"overall string":   {func(d map[string]any) { d["score"].(map[string]any)["overall"] = "90" }, "score.overall"},
		"no dimensions":    {func(d map[string]any) { delete(d["score"].(map[string]any), "dimensions") }, "score.dimensions"},
		"negative cta": {func(d map[string]any) {
			d["score"].(map[string]any)["dimensions"].(map[string]any)["cta"] = -1
		}, "score.dimensions.cta"},
		"insights array":     {func(d map[string]any) { d["insights"] = []any{} }, "insights"},
		"strengths missing":  {func(d map[string]any) { delete(d["insights"].(map[string]any), "strengths") }, "insights.strengths"},
		"weaknesses numbers": {func(d map[string]any) { d["insights"].(map[string]any)["weaknesses"] = []any{1} }, "insights.weaknesses"},
		"flags object":       {func(d map[string]any) { d["complianceFlags"] = map[string]any{} }, "complianceFlags"},
		"model number":       {func(d map[string]any) { d["model"] = 4 }, "model"},
	}
	for name, tc := range cases {
		_, err := Validate(mutate(t, tc.fn))
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != tc.field {
			t.Fatalf("%s: expected violation on %s got %v", name, tc.field, err)
		}
	}
	if _, err := Validate([]byte(`[1,2]`)); err == nil {
		t.Fatalf("expected non-object body to fail")
	}
}

func TestValidate_FlagsOptional(t *testing.T) {
	p, err := Validate(mutate(t, func(d map[string]any) { delete(d, "complianceFlags") }))
	if err != nil || p.ComplianceFlags == nil || len(p.ComplianceFlags) != 0 {
		t.Fatalf("expected empty flags got %+v err=%v", p.ComplianceFlags, err)
	}
}

func TestService_SaveNotifiesAndGetMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = db.Close() }()
	now := time.Now().UTC()

	var events []string
	svc := &Service{Store: store.New(db), Notify: func(ch, ev string, _ any) { events = append(events, ch+":"+ev) }}
	p, _ := Validate([]byte(validPayload))

	cols := []string{"id", "ad_account_id", "creative_id", "image_hash", "model", "score_overall",
		"scores_json", "insights_json", "compliance_flags", "request_id", "created_at", "updated_at"}
	mock.ExpectQuery(`INSERT INTO public\.creative_scores`).
		WithArgs(sqlmock.AnyArg(), "act_1", "cr_1", "abc", "gpt-4o", 82.5,
			`{"clarity":80,"text_density":70,"brand":90,"value_prop":75,"cta":60,"contrast":88,"thumbnail":77}`,
			`{"strengths":["bold headline"],"weaknesses":[],"recommendations":["shorter copy"]}`,
			`["text_over_20_percent"]`, nil).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("id1", "act_1", "cr_1", "abc", "gpt-4o", 82.5,
			[]byte(`{}`), []byte(`{}`), []byte(`["text_over_20_percent"]`), nil, now, now))

	saved, err := svc.Save(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if saved.ID != "id1" || len(events) != 1 || events[0] != "act_1:creative_score.saved" {
		t.Fatalf("unexpected save result %+v events=%v", saved, events)
	}

	mock.ExpectQuery(`FROM public\.creative_scores`).
		WithArgs("cr_missing", "").
		WillReturnRows(sqlmock.NewRows(cols))
	got, err := svc.Get(context.Background(), "cr_missing", "")
	if err != nil || got != nil {
		t.Fatalf("expected nil score without error got %+v %v", got, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestParseIDList(t *testing.T) {
	got := ParseIDList(" a, b,,a ,c ")
	if strings.Join(got, "|") != "a|b|c" {
		t.Fatalf("unexpected ids %v", got)
	}
	if ParseIDList("") != nil {
		t.Fatalf("expected nil for empty list")
	}
}

type stubTransport struct {
	fn func(*http.Request) (*http.Response, error)
}

func (t stubTransport) RoundTrip(r *http.Request) (*http.Response, error) { return t.fn(r) }

func httpJSON(status int, body string) *http.Response {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(strings.NewReader(body))}
}

func TestForwarder_SendsEnvelope(t *testing.T) {
	var got Envelope
	f := NewForwarder("https://n8n.example.com/webhook/creative", &http.Client{Transport: stubTransport{fn: func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			return httpJSON(400, `{"error":"bad request"}`), nil
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		return httpJSON(200, `{"accepted":true}`), nil
	}}})
	f.now = func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC) }
	f.newID = func() string { return "req-1" }

	res, err := f.Forward(context.Background(), AnalysisRequest{
		AccessToken: "tok", AdAccountID: "act_1", BatchSize: 500,
		DateRange: DateRange{Since: "2026-01-01", Until: "2026-01-31"},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.RequestID != "req-1" || string(res.Response) != `{"accepted":true}` {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got.BatchSize != MaxBatchSize || got.Source != EnvelopeSource || got.Timestamp != "2026-02-03T04:05:06Z" {
		t.Fatalf("unexpected envelope: %+v", got)
	}
	if got.SelectedCreativeIDs == nil || got.AccessToken != "tok" || got.DateRange.Until != "2026-01-31" {
		t.Fatalf("unexpected envelope fields: %+v", got)
	}
}

func TestForwarder_ErrorsAndDisabled(t *testing.T) {
	if _, err := NewForwarder("", nil).Forward(context.Background(), AnalysisRequest{}); !errors.Is(err, ErrForwarderDisabled) {
		t.Fatalf("expected ErrForwarderDisabled got %v", err)
	}
	f := NewForwarder("https://n8n.example.com/hook", &http.Client{Transport: stubTransport{fn: func(r *http.Request) (*http.Response, error) {
		return httpJSON(500, `workflow crashed`), nil
	}}})
	_, err := f.Forward(context.Background(), AnalysisRequest{AccessToken: "t", AdAccountID: "a"})
	var fe *ForwardError
	if !errors.As(err, &fe) || fe.Status != 500 || fe.Body != "workflow crashed" {
		t.Fatalf("expected ForwardError got %v", err)
	}
}
