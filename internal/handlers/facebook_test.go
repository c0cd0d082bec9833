package handlers

import (
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestAdsLibrarySearch_EmptyQuery(t *testing.T) {
	called := false
	_, r := newTestHandler(t, testDeps{graphFn: func(req *http.Request) (*http.Response, error) {
		called = true
		return httpJSON(200, `{"data":[]}`), nil
	}})
	rr := serve(r, "POST", "/api/facebook/ads-library/search", `{"accessToken":"tok","searchQuery":"   "}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if got := decodeBody(t, rr.Body.String())["error"]; got != "searchQuery is required" {
		t.Fatalf("expected searchQuery is required, got %v", got)
	}
	if called {
		t.Fatalf("expected no Graph call for an empty search")
	}
}

func TestAdsLibrarySearch_PermissionNamed(t *testing.T) {
	_, r := newTestHandler(t, testDeps{graphFn: func(req *http.Request) (*http.Response, error) {
		return httpJSON(400, `{"error":{"message":"Application does not have permission","code":10}}`), nil
	}})
	rr := serve(r, "POST", "/api/facebook/ads-library/search", `{"accessToken":"tok","searchQuery":"shoes"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d body=%s", rr.Code, rr.Body.String())
	}
	got := decodeBody(t, rr.Body.String())
	if !strings.Contains(got["error"].(string), "ads_read") {
		t.Fatalf("expected message naming ads_read, got %v", got["error"])
	}
	if got["code"] != float64(10) {
		t.Fatalf("expected code 10, got %v", got["code"])
	}
}

func TestAdsLibrarySearch_InvalidToken(t *testing.T) {
	_, r := newTestHandler(t, testDeps{graphFn: func(req *http.Request) (*http.Response, error) {
		return httpJSON(400, `{"error":{"message":"Error validating access token","type":"OAuthException","code":190}}`), nil
	}})
	rr := serve(r, "POST", "/api/facebook/ads-library/search", `{"accessToken":"expired","searchQuery":"shoes"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestAdsLibrarySearch_ShapesPage(t *testing.T) {
	var gotQuery string
	_, r := newTestHandler(t, testDeps{graphFn: func(req *http.Request) (*http.Response, error) {
		gotQuery = req.URL.RawQuery
		if !strings.HasSuffix(req.URL.Path, "/ads_archive") {
			t.Errorf("expected ads_archive path, got %s", req.URL.Path)
		}
		return httpJSON(200, `{"data":[{"id":"1","ad_archive_id":"991","page_name":"Shoe Co","ad_creative_bodies":["Run fast"]}],
			"paging":{"cursors":{"after":"c1"},"next":"https://graph.test/next"}}`), nil
	}})
	rr := serve(r, "POST", "/api/facebook/ads-library/search", `{"accessToken":"tok","searchQuery":"shoes","countries":["us","ca"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(gotQuery, "search_terms=shoes") || !strings.Contains(gotQuery, "access_token=tok") {
		t.Fatalf("unexpected query %s", gotQuery)
	}
	body := decodeBody(t, rr.Body.String())
	ads := body["ads"].([]any)
	if len(ads) != 1 || ads[0].(map[string]any)["id"] != "991" {
		t.Fatalf("expected archive id 991, got %v", ads)
	}
}

func TestAdsLibraryExport_CSV(t *testing.T) {
	calls := 0
	_, r := newTestHandler(t, testDeps{graphFn: func(req *http.Request) (*http.Response, error) {
		calls++
		if req.URL.Query().Get("after") == "" {
			return httpJSON(200, `{"data":[{"ad_archive_id":"1","page_name":"A, Inc","ad_creative_bodies":["x"],"publisher_platforms":["facebook","instagram"]}],
				"paging":{"cursors":{"after":"c1"},"next":"https://graph.test/next"}}`), nil
		}
		return httpJSON(200, `{"data":[{"ad_archive_id":"2","page_name":"B","spend":{"lower_bound":"100","upper_bound":"199"}}],"paging":{}}`), nil
	}})
	rr := serve(r, "POST", "/api/facebook/ads-library/export", `{"accessToken":"tok","searchQuery":"shoes"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/csv; charset=utf-8" {
		t.Fatalf("expected text/csv, got %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, `attachment; filename="ads-library-`) {
		t.Fatalf("unexpected Content-Disposition %q", cd)
	}
	if calls != 2 {
		t.Fatalf("expected 2 page fetches, got %d", calls)
	}
	records, err := csv.NewReader(strings.NewReader(rr.Body.String())).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(records))
	}
	if records[0][0] != "id" || records[1][2] != "A, Inc" || records[1][9] != "facebook;instagram" {
		t.Fatalf("unexpected rows %v", records)
	}
	if records[2][13] != "100" || records[2][14] != "199" {
		t.Fatalf("expected spend bounds, got %v", records[2])
	}
}

func TestAdsLibraryExport_NoTokenIs400(t *testing.T) {
	_, r := newTestHandler(t, testDeps{})
	rr := serve(r, "POST", "/api/facebook/ads-library/export", `{"searchQuery":"shoes"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if got := decodeBody(t, rr.Body.String())["error"]; got != "accessToken is required" {
		t.Fatalf("expected accessToken is required, got %v", got)
	}
}

func TestAccessToken_FallsBackToSession(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectQuery(`FROM public\.facebook_sessions`).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "access_token", "ad_account_id", "updated_at"}).
			AddRow("u1", "stored-token", "act_1", time.Now()))

	var gotToken string
	_, r := newTestHandler(t, testDeps{db: db, settings: map[string]string{"INTERNAL_WS_SECRET": "s3cret"},
		graphFn: func(req *http.Request) (*http.Response, error) {
			gotToken = req.URL.Query().Get("access_token")
			return httpJSON(200, `{"data":[{"id":"act_1","name":"Main","account_status":1}]}`), nil
		}})
	req := httptest.NewRequest("GET", "/api/facebook/accounts?userId=u1", nil)
	req.Header.Set("X-Internal-WS-Secret", "s3cret")
	rr := serveRequest(r, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if gotToken != "stored-token" {
		t.Fatalf("expected stored token, got %q", gotToken)
	}
}

func TestAccessToken_SessionNeedsInternalCaller(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	graphCalled := false
	_, r := newTestHandler(t, testDeps{db: db, settings: map[string]string{"INTERNAL_WS_SECRET": "s3cret"},
		graphFn: func(req *http.Request) (*http.Response, error) {
			graphCalled = true
			return httpJSON(200, `{"data":[]}`), nil
		}})
	req := httptest.NewRequest("GET", "/api/facebook/accounts?userId=u1", nil)
	req.RemoteAddr = "203.0.113.9:5000"
	req.Header.Set("X-Internal-WS-Secret", "wrong")
	rr := serveRequest(r, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	if got := decodeBody(t, rr.Body.String())["error"]; got != "accessToken is required" {
		t.Fatalf("expected accessToken is required, got %v", got)
	}
	if graphCalled {
		t.Fatalf("expected no graph call without a token")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expected no session lookup: %v", err)
	}
}

func TestAccessToken_BearerHeader(t *testing.T) {
	var gotToken string
	_, r := newTestHandler(t, testDeps{graphFn: func(req *http.Request) (*http.Response, error) {
		gotToken = req.URL.Query().Get("access_token")
		return httpJSON(200, `{"data":[]}`), nil
	}})
	req, _ := http.NewRequest("GET", "/api/facebook/campaigns?adAccountId=act_1", nil)
	req.Header.Set("Authorization", "Bearer header-token")
	rr := serveRequest(r, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if gotToken != "header-token" {
		t.Fatalf("expected header token, got %q", gotToken)
	}
}

func TestListCampaigns_RequiresAccount(t *testing.T) {
	_, r := newTestHandler(t, testDeps{})
	rr := serve(r, "GET", "/api/facebook/campaigns?accessToken=tok", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestFacebookAuth_SavesSession(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectExec(`INSERT INTO public\.users`).WithArgs("u1", "ada@example.com").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO public\.facebook_sessions`).WithArgs("u1", "tok", "act_7").WillReturnResult(sqlmock.NewResult(0, 1))

	_, r := newTestHandler(t, testDeps{db: db, graphFn: func(req *http.Request) (*http.Response, error) {
		if strings.HasSuffix(req.URL.Path, "/me/adaccounts") {
			return httpJSON(200, `{"data":[{"id":"act_7","name":"Brand"}]}`), nil
		}
		return httpJSON(200, `{"id":"fb1","name":"Ada","email":"ada@example.com"}`), nil
	}})
	rr := serve(r, "POST", "/api/auth/facebook", `{"accessToken":"tok","userId":"u1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	got := decodeBody(t, rr.Body.String())
	if accts := got["adAccounts"].([]any); len(accts) != 1 {
		t.Fatalf("expected one ad account, got %v", accts)
	}
	if _, ok := got["subscriptions"]; ok {
		t.Fatalf("expected no subscriptions without subscribe=true")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestImageProxy(t *testing.T) {
	cases := []struct {
		name   string
		target string
		resp   *http.Response
		status int
	}{
		{"missing url", "", nil, http.StatusBadRequest},
		{"foreign host", "https://evil.example.com/a.jpg", nil, http.StatusBadRequest},
		{"lookalike host", "https://notfbcdn.net/a.jpg", nil, http.StatusBadRequest},
		{"not an image", "https://scontent.xx.fbcdn.net/a.jpg", httpBody(200, "text/html", "<html>"), http.StatusUnprocessableEntity},
		{"upstream 404", "https://scontent.xx.fbcdn.net/a.jpg", httpBody(404, "text/plain", "nope"), http.StatusBadGateway},
		{"image", "https://scontent.xx.fbcdn.net/a.jpg", httpBody(200, "image/jpeg", "JPEGDATA"), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, r := newTestHandler(t, testDeps{imageFn: func(req *http.Request) (*http.Response, error) {
				if tc.resp == nil {
					t.Fatalf("unexpected upstream call to %s", req.URL)
				}
				return tc.resp, nil
			}})
			target := "/api/facebook/image-proxy"
			if tc.target != "" {
				target += "?url=" + tc.target
			}
			rr := serve(r, "GET", target, "")
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d body=%s", tc.status, rr.Code, rr.Body.String())
			}
			if tc.status == http.StatusOK {
				if rr.Header().Get("Content-Type") != "image/jpeg" || rr.Body.String() != "JPEGDATA" {
					t.Fatalf("expected streamed image, got %q %q", rr.Header().Get("Content-Type"), rr.Body.String())
				}
				if rr.Header().Get("Cache-Control") != "public, max-age=3600" {
					t.Fatalf("expected cache header, got %q", rr.Header().Get("Cache-Control"))
				}
			}
		})
	}
}
