package handlers

import (
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/PortNumber53/adlens/backend/internal/graph"
	"github.com/PortNumber53/adlens/backend/internal/imageproxy"
)

type previewRequest struct {
	AccessToken string `json:"accessToken"`
	UserID      string `json:"userId"`
	AdID        string `json:"adId"`
	CreativeID  string `json:"creativeId"`
	AdFormat    string `json:"adFormat"`
}

// AdPreview renders an ad, falling back across formats.
// URL: POST /api/facebook/ad-preview
func (h *Handler) AdPreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	id := req.AdID
	if id == "" {
		id = req.CreativeID
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "adId or creativeId is required")
		return
	}
	p, err := h.graph.AdPreview(r.Context(), h.accessToken(r, req.AccessToken, req.UserID), id, req.AdFormat)
	if err != nil {
		h.writeGraphError(w, r, "AdPreview", err, "ads_read")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CreativePreview returns a creative's fields and, when adFormat is set, its rendering.
// URL: POST /api/facebook/creative-preview
func (h *Handler) CreativePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.CreativeID == "" {
		writeError(w, http.StatusBadRequest, "creativeId is required")
		return
	}
	cr, err := h.graph.CreativePreview(r.Context(), h.accessToken(r, req.AccessToken, req.UserID), req.CreativeID, req.AdFormat)
	if err != nil {
		h.writeGraphError(w, r, "CreativePreview", err, "ads_read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"creative": cr})
}

type marketingAPIRequest struct {
	AccessToken string            `json:"accessToken"`
	UserID      string            `json:"userId"`
	Endpoint    string            `json:"endpoint" validate:"required"`
	Params      map[string]string `json:"params"`
}

// MarketingAPI is a guarded passthrough for read-only Graph endpoints.
// URL: POST /api/facebook/marketing-api
func (h *Handler) MarketingAPI(w http.ResponseWriter, r *http.Request) {
	var req marketingAPIRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	body, err := h.graph.Fetch(r.Context(), h.accessToken(r, req.AccessToken, req.UserID), req.Endpoint, req.Params)
	if err != nil {
		h.writeGraphError(w, r, "MarketingAPI", err, "ads_read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": body})
}

// ListAdAccounts lists the ad accounts visible to the token.
// URL: GET /api/facebook/accounts
func (h *Handler) ListAdAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.graph.AdAccounts(r.Context(), h.accessToken(r, "", ""), parseLimit(r, 100, 1, 500))
	if err != nil {
		h.writeGraphError(w, r, "Accounts", err, "ads_read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

// ListCampaigns lists campaigns of ?adAccountId=.
// URL: GET /api/facebook/campaigns
func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	acct := queryParam(r, "adAccountId")
	if acct == "" {
		writeError(w, http.StatusBadRequest, "adAccountId is required")
		return
	}
	page, err := h.graph.Campaigns(r.Context(), h.accessToken(r, "", ""), acct, parseLimit(r, 50, 1, 200), queryParam(r, "after"))
	if err != nil {
		h.writeGraphError(w, r, "Campaigns", err, "ads_read")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// ListAds lists ads under ?campaignId=, ?adsetId= or ?adAccountId=.
// URL: GET /api/facebook/ads
func (h *Handler) ListAds(w http.ResponseWriter, r *http.Request) {
	parent := queryParam(r, "campaignId")
	if parent == "" {
		parent = queryParam(r, "adsetId")
	}
	if parent == "" {
		if acct := queryParam(r, "adAccountId"); acct != "" {
			parent = graph.NormalizeAccountID(acct)
		}
	}
	if parent == "" {
		writeError(w, http.StatusBadRequest, "adAccountId or campaignId is required")
		return
	}
	page, err := h.graph.Ads(r.Context(), h.accessToken(r, "", ""), parent, parseLimit(r, 50, 1, 200), queryParam(r, "after"))
	if err != nil {
		h.writeGraphError(w, r, "Ads", err, "ads_read")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GetInsights returns performance rows for ?objectId= (or ?adAccountId=).
// URL: GET /api/facebook/insights
func (h *Handler) GetInsights(w http.ResponseWriter, r *http.Request) {
	obj := queryParam(r, "objectId")
	if obj == "" {
		if acct := queryParam(r, "adAccountId"); acct != "" {
			obj = graph.NormalizeAccountID(acct)
		}
	}
	if obj == "" {
		writeError(w, http.StatusBadRequest, "objectId or adAccountId is required")
		return
	}
	rows, err := h.graph.Insights(r.Context(), h.accessToken(r, "", ""), obj, graph.InsightsQuery{
		DatePreset: queryParam(r, "datePreset"),
		Since:      queryParam(r, "since"),
		Until:      queryParam(r, "until"),
		Level:      queryParam(r, "level"),
		TimeInc:    queryParam(r, "timeIncrement"),
	})
	if err != nil {
		h.writeGraphError(w, r, "Insights", err, "ads_read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"insights": rows, "count": len(rows)})
}

type tokenRequest struct {
	AccessToken string `json:"accessToken"`
	UserID      string `json:"userId"`
}

// FacebookHealth checks the token and the scopes the app needs.
// URL: POST /api/facebook/health
func (h *Handler) FacebookHealth(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}
	rep, err := h.graph.Health(r.Context(), h.accessToken(r, req.AccessToken, req.UserID))
	if err != nil {
		h.writeGraphError(w, r, "Health", err, "")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ImageProxy streams an allow-listed Facebook CDN image.
// URL: GET /api/facebook/image-proxy?url=...&accessToken=...
func (h *Handler) ImageProxy(w http.ResponseWriter, r *http.Request) {
	target := queryParam(r, "url")
	if target == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	img, err := h.images.Fetch(r.Context(), target, queryParam(r, "accessToken"))
	if err != nil {
		status := imageproxy.HTTPStatus(err)
		if status >= 500 {
			log.Printf("[Facebook][ImageProxy] fetch failed url=%s err=%v", truncate(target, 200), err)
		}
		writeError(w, status, err.Error())
		return
	}
	defer img.Close()

	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Cache-Control", imageproxy.CacheControl)
	if img.ContentLength > 0 && img.ContentLength <= imageproxy.MaxImageBytes {
		w.Header().Set("Content-Length", strconv.FormatInt(img.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, img.Body); err != nil {
		log.Printf("[Facebook][ImageProxy] stream interrupted: %v", err)
	}
}
