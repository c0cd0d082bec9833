package handlers

import (
	"database/sql/driver"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var subCols = []string{
	"id", "user_id", "ad_account_id", "ad_account_name", "stripe_subscription_id",
	"stripe_price_id", "plan_id", "billing_cycle", "amount_cents", "status",
	"current_period_start", "current_period_end", "canceled_at", "created_at", "updated_at",
}

var userCols = []string{
	"id", "email", "first_name", "last_name", "current_plan_id", "current_plan_name",
	"current_billing_cycle", "subscription_status", "created_at",
}

var scoreCols = []string{
	"id", "ad_account_id", "creative_id", "image_hash", "model", "score_overall",
	"scores_json", "insights_json", "compliance_flags", "request_id", "created_at", "updated_at",
}

func decodeBody(t *testing.T, body string) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		t.Fatalf("expected JSON body, got %q: %v", body, err)
	}
	return out
}

func TestHealth(t *testing.T) {
	_, r := newTestHandler(t, testDeps{})
	rr := serve(r, "GET", "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := decodeBody(t, rr.Body.String()); got["ok"] != true {
		t.Fatalf("expected ok=true, got %v", got)
	}
}

func TestCreateUser_BadJSON(t *testing.T) {
	_, r := newTestHandler(t, testDeps{})
	rr := serve(r, "POST", "/api/users", "{not json")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if !strings.Contains(decodeBody(t, rr.Body.String())["error"].(string), "invalid JSON") {
		t.Fatalf("expected invalid JSON error, got %s", rr.Body.String())
	}
}

func TestCreateUser_MissingID(t *testing.T) {
	_, r := newTestHandler(t, testDeps{})
	rr := serve(r, "POST", "/api/users", `{"email":"a@example.com"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if got := decodeBody(t, rr.Body.String())["error"]; got != "id is required" {
		t.Fatalf("expected id is required, got %v", got)
	}
}

func TestCreateUser_Upserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	now := time.Now()
	mock.ExpectQuery(`INSERT INTO public\.users \(id, email, first_name, last_name`).
		WithArgs("u1", "a@example.com", "Ada", nil).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("u1", "a@example.com", "Ada", nil, nil, nil, nil, nil, now))

	_, r := newTestHandler(t, testDeps{db: db})
	rr := serve(r, "POST", "/api/users", `{"id":"u1","email":"a@example.com","firstName":"Ada"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if got := decodeBody(t, rr.Body.String())["id"]; got != "u1" {
		t.Fatalf("expected id u1, got %v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetUser_NotFoundIsJSON(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectQuery(`FROM public\.users WHERE id = \$1`).WithArgs("ghost").WillReturnRows(sqlmock.NewRows(userCols))

	_, r := newTestHandler(t, testDeps{db: db})
	rr := serve(r, "GET", "/api/users/ghost", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("expected JSON content type, got %q", ct)
	}
	if got := decodeBody(t, rr.Body.String())["error"]; got != "User not found" {
		t.Fatalf("expected User not found, got %v", got)
	}
}

func TestAccounts_AddLocalThenSummary(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	now := time.Now()

	mock.ExpectExec(`INSERT INTO public\.users \(id, email, created_at, updated_at\)`).
		WithArgs("u1", "").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO public\.ad_account_subscriptions`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("s1", now, now))

	_, r := newTestHandler(t, testDeps{db: db})
	rr := serve(r, "POST", "/api/accounts", `{"userId":"u1","adAccountId":"act_1","accountName":"Main"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if got := decodeBody(t, rr.Body.String())["status"]; got != "created" {
		t.Fatalf("expected created, got %v", got)
	}

	mock.ExpectQuery(`ORDER BY created_at ASC`).WithArgs("u1").WillReturnRows(sqlmock.NewRows(subCols).
		AddRow("s1", "u1", "act_1", "Main", nil, nil, "starter", "monthly", int64(2900), "active", nil, nil, nil, now, now).
		AddRow("s2", "u1", "act_2", nil, nil, nil, "starter", "monthly", int64(2900), "active", nil, nil, nil, now, now).
		AddRow("s3", "u1", "act_3", nil, nil, nil, "starter", "monthly", int64(2900), "canceled", nil, nil, now, now, now))
	mock.ExpectQuery(`FROM public\.users WHERE id = \$1`).WithArgs("u1").WillReturnRows(sqlmock.NewRows(userCols))

	rr = serve(r, "GET", "/api/accounts?userId=u1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	sum := decodeBody(t, rr.Body.String())
	if sum["totalAccounts"] != float64(2) || sum["activeAccounts"] != float64(2) {
		t.Fatalf("expected 2 total / 2 active, got %v / %v", sum["totalAccounts"], sum["activeAccounts"])
	}
	if sum["nextChargeCents"] != float64(5800) {
		t.Fatalf("expected nextChargeCents 5800, got %v", sum["nextChargeCents"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAccounts_AddValidation(t *testing.T) {
	_, r := newTestHandler(t, testDeps{})
	rr := serve(r, "POST", "/api/accounts", `{"userId":"u1"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if got := decodeBody(t, rr.Body.String())["error"]; got != "adAccountId or accountName is required" {
		t.Fatalf("expected adAccountId or accountName is required, got %v", got)
	}
}

// captureArg matches any value and remembers it.
type captureArg struct{ v *string }

func (c captureArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	*c.v = s
	return ok
}

func TestAccounts_AddByNameThenList(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	now := time.Now()
	var acctID string

	mock.ExpectExec(`INSERT INTO public\.users \(id, email, created_at, updated_at\)`).
		WithArgs("u1", "").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO public\.ad_account_subscriptions`).
		WithArgs(sqlmock.AnyArg(), "u1", captureArg{&acctID}, "Main Brand", nil, nil, "starter", "monthly", int64(2900), "active", nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("s1", now, now))

	_, r := newTestHandler(t, testDeps{db: db})
	rr := serve(r, "POST", "/api/accounts", `{"userId":"u1","accountName":"Main Brand"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	created := decodeBody(t, rr.Body.String())
	if !strings.HasPrefix(acctID, "local_") || created["adAccountId"] != acctID {
		t.Fatalf("expected generated local_ id, got stored=%q returned=%v", acctID, created["adAccountId"])
	}

	mock.ExpectQuery(`ORDER BY created_at ASC`).WithArgs("u1").WillReturnRows(sqlmock.NewRows(subCols).
		AddRow("s1", "u1", acctID, "Main Brand", nil, nil, "starter", "monthly", int64(2900), "active", nil, nil, nil, now, now))
	mock.ExpectQuery(`FROM public\.users WHERE id = \$1`).WithArgs("u1").WillReturnRows(sqlmock.NewRows(userCols))

	rr = serve(r, "GET", "/api/accounts?userId=u1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	accounts, _ := decodeBody(t, rr.Body.String())["accounts"].([]any)
	if len(accounts) != 1 {
		t.Fatalf("expected 1 account, got %v", accounts)
	}
	first, _ := accounts[0].(map[string]any)
	if first["adAccountId"] != acctID || first["adAccountName"] != "Main Brand" {
		t.Fatalf("unexpected listed account: %v", first)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAccounts_RemoveUnknownIs404(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectQuery(`FROM public\.ad_account_subscriptions\s+WHERE user_id = \$1 AND ad_account_id = \$2`).
		WithArgs("u1", "act_9").WillReturnRows(sqlmock.NewRows(subCols))

	_, r := newTestHandler(t, testDeps{db: db})
	rr := serve(r, "DELETE", "/api/accounts?userId=u1&adAccountId=act_9", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestBillingAccounts_RejectsEmail(t *testing.T) {
	_, r := newTestHandler(t, testDeps{})
	rr := serve(r, "GET", "/api/billing/accounts?userId=a@example.com", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	rr = serve(r, "GET", "/api/billing/accounts", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without userId, got %d", rr.Code)
	}
}

func TestBillingPlans_ReportsStripeState(t *testing.T) {
	_, r := newTestHandler(t, testDeps{})
	rr := serve(r, "GET", "/api/billing/plans", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	got := decodeBody(t, rr.Body.String())
	if got["stripeEnabled"] != false {
		t.Fatalf("expected stripeEnabled=false, got %v", got["stripeEnabled"])
	}
	if plans, _ := got["plans"].([]any); len(plans) != 3 {
		t.Fatalf("expected 3 plans, got %v", got["plans"])
	}
}

func TestPerAccountSubscriptions_DisabledStripe(t *testing.T) {
	_, r := newTestHandler(t, testDeps{})
	rr := serve(r, "POST", "/api/per-account-subscriptions", `{"userId":"u1","adAccounts":[{"id":"act_1"}]}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestPerAccountSubscriptions_EmptyBatch(t *testing.T) {
	_, r := newTestHandler(t, testDeps{gateway: &fakeGateway{}})
	rr := serve(r, "POST", "/api/per-account-subscriptions", `{"userId":"u1","adAccounts":[]}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestPerAccountSubscriptions_AlreadyExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	now := time.Now()
	mock.ExpectExec(`INSERT INTO public\.users`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM public\.stripe_customers`).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "stripe_customer_id", "usage_subscription_item_id"}).AddRow("u1", "cus_1", nil))
	mock.ExpectQuery(`FROM public\.ad_account_subscriptions\s+WHERE user_id = \$1 AND ad_account_id = \$2`).
		WithArgs("u1", "act_1").
		WillReturnRows(sqlmock.NewRows(subCols).
			AddRow("s1", "u1", "act_1", nil, "sub_1", "price_sm", "starter", "monthly", int64(2900), "active", nil, nil, nil, now, now))

	gw := &fakeGateway{}
	_, r := newTestHandler(t, testDeps{db: db, gateway: gw})
	rr := serve(r, "POST", "/api/per-account-subscriptions", `{"userId":"u1","adAccounts":[{"id":"act_1"}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var res struct {
		Results []struct {
			Status         string `json:"status"`
			SubscriptionID string `json:"subscriptionId"`
		} `json:"results"`
		Summary struct {
			AlreadyExists int `json:"alreadyExists"`
		} `json:"summary"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Results) != 1 || res.Results[0].Status != "already_exists" || res.Results[0].SubscriptionID != "s1" {
		t.Fatalf("expected one already_exists result for s1, got %+v", res.Results)
	}
	if len(gw.created) != 0 {
		t.Fatalf("expected no Stripe subscription, got %d", len(gw.created))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStripeWebhook_InvalidJSON(t *testing.T) {
	_, r := newTestHandler(t, testDeps{})
	rr := serve(r, "POST", "/webhook/stripe", "not json")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestStripeWebhook_MissingSignature(t *testing.T) {
	_, r := newTestHandler(t, testDeps{settings: map[string]string{"STRIPE_WEBHOOK_SECRET": "whsec_test"}})
	rr := serve(r, "POST", "/webhook/stripe", `{"id":"evt_1","type":"invoice.paid"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if got := decodeBody(t, rr.Body.String())["error"]; got != "Missing signature" {
		t.Fatalf("expected Missing signature, got %v", got)
	}
}

func TestStripeWebhook_DuplicateEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectExec(`INSERT INTO public\.stripe_events`).WillReturnResult(sqlmock.NewResult(0, 0))

	_, r := newTestHandler(t, testDeps{db: db})
	rr := serve(r, "POST", "/webhook/stripe", `{"id":"evt_1","type":"customer.subscription.updated","data":{"object":{"id":"sub_1"}}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	got := decodeBody(t, rr.Body.String())
	if got["duplicate"] != true || got["handled"] != false {
		t.Fatalf("expected duplicate and unhandled, got %v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreativeScore_MissingDimensionNamed(t *testing.T) {
	_, r := newTestHandler(t, testDeps{})
	body := `{"adAccountId":"act_1","creativeId":"cr_1","score":{"overall":80,"dimensions":{"clarity":80}},
		"insights":{"strengths":[],"weaknesses":[],"recommendations":[]}}`
	rr := serve(r, "POST", "/api/ai/creative-score", body)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	if msg := decodeBody(t, rr.Body.String())["error"].(string); !strings.Contains(msg, "text_density") {
		t.Fatalf("expected message naming text_density, got %q", msg)
	}
}

func TestCreativeScore_BatchReturnsSubset(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	now := time.Now()
	mock.ExpectQuery(`WHERE creative_id = ANY\(\$1\)`).WillReturnRows(sqlmock.NewRows(scoreCols).
		AddRow("id1", "act_1", "cr_1", nil, "gpt-4o", 82.5, []byte(`{}`), []byte(`{}`), []byte(`[]`), nil, now, now))

	_, r := newTestHandler(t, testDeps{db: db})
	rr := serve(r, "GET", "/api/ai/creative-score?creativeIds=cr_1,cr_2,,cr_1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	got := decodeBody(t, rr.Body.String())
	if got["count"] != float64(1) {
		t.Fatalf("expected count 1, got %v", got["count"])
	}
	scores := got["scores"].(map[string]any)
	if _, ok := scores["cr_2"]; ok {
		t.Fatalf("expected cr_2 to be absent, got %v", scores)
	}
	if _, ok := scores["cr_1"]; !ok {
		t.Fatalf("expected cr_1 present, got %v", scores)
	}
}

func TestCreativeScore_SingleMissIsNull(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectQuery(`FROM public\.creative_scores\s+WHERE creative_id = \$1`).
		WithArgs("cr_404", "").WillReturnRows(sqlmock.NewRows(scoreCols))

	_, r := newTestHandler(t, testDeps{db: db})
	rr := serve(r, "GET", "/api/ai/creative-score?creativeId=cr_404", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	got := decodeBody(t, rr.Body.String())
	if got["score"] != nil || got["found"] != false {
		t.Fatalf("expected null score, got %v", got)
	}

	rr = serve(r, "GET", "/api/ai/creative-score", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without ids, got %d", rr.Code)
	}
}

func TestCreativeAnalysis_Disabled(t *testing.T) {
	_, r := newTestHandler(t, testDeps{})
	rr := serve(r, "POST", "/api/webhook/creative-analysis", `{"accessToken":"t","adAccountId":"act_1"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestCreativeAnalysis_Forwards(t *testing.T) {
	var sent map[string]any
	_, r := newTestHandler(t, testDeps{
		n8nURL: "https://n8n.test/webhook/score",
		n8nFn: func(req *http.Request) (*http.Response, error) {
			_ = json.NewDecoder(req.Body).Decode(&sent)
			return httpJSON(200, `{"queued":true}`), nil
		},
	})
	rr := serve(r, "POST", "/api/webhook/creative-analysis", `{"adAccountId":"act_1","batchSize":5}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a token, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = serve(r, "POST", "/api/webhook/creative-analysis?accessToken=tok", `{"adAccountId":"act_1","batchSize":5}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%s", rr.Code, rr.Body.String())
	}
	if sent["accessToken"] != "tok" || sent["batchSize"] != float64(5) || sent["source"] != "adlens-api" {
		t.Fatalf("unexpected envelope %v", sent)
	}
	got := decodeBody(t, rr.Body.String())
	if got["requestId"] != sent["requestId"] {
		t.Fatalf("expected requestId %v, got %v", sent["requestId"], got["requestId"])
	}
}

func TestCreativeAnalysis_UpstreamFailure(t *testing.T) {
	_, r := newTestHandler(t, testDeps{
		n8nURL: "https://n8n.test/webhook/score",
		n8nFn: func(req *http.Request) (*http.Response, error) {
			return httpJSON(500, `workflow crashed`), nil
		},
	})
	rr := serve(r, "POST", "/api/webhook/creative-analysis", `{"accessToken":"t","adAccountId":"act_1"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
	got := decodeBody(t, rr.Body.String())
	if got["status"] != float64(500) || got["details"] != "workflow crashed" {
		t.Fatalf("unexpected body %v", got)
	}
}
