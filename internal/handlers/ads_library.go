package handlers

import (
	"encoding/csv"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/PortNumber53/adlens/backend/internal/graph"
)

const (
	defaultExportAds = 500
	maxExportAds     = 2000
)

type adsLibraryRequest struct {
	AccessToken string `json:"accessToken"`
	UserID      string `json:"userId"`
	MaxAds      int    `json:"maxAds"`
	graph.AdsLibraryQuery
}

// SearchAdsLibrary runs one page of an Ads Library search.
// URL: POST /api/facebook/ads-library/search
func (h *Handler) SearchAdsLibrary(w http.ResponseWriter, r *http.Request) {
	var req adsLibraryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.SearchTerms) == "" {
		writeError(w, http.StatusBadRequest, "searchQuery is required")
		return
	}
	token := h.accessToken(r, req.AccessToken, req.UserID)
	page, err := h.graph.SearchAdsLibrary(r.Context(), token, req.AdsLibraryQuery)
	if err != nil {
		h.writeGraphError(w, r, "AdsLibrarySearch", err, "ads_read")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

var exportHeader = []string{
	"id", "page_id", "page_name", "body", "link_title", "link_description", "snapshot_url",
	"start_date", "stop_date", "platforms", "languages",
	"impressions_lower", "impressions_upper", "spend_lower", "spend_upper", "currency",
}

func exportRow(ad graph.LibraryAd) []string {
	var impLo, impHi, spendLo, spendHi string
	if ad.Impressions != nil {
		impLo, impHi = ad.Impressions.LowerBound, ad.Impressions.UpperBound
	}
	if ad.Spend != nil {
		spendLo, spendHi = ad.Spend.LowerBound, ad.Spend.UpperBound
	}
	return []string{
		ad.ID, ad.PageID, ad.PageName,
		strings.Join(ad.Bodies, " | "),
		strings.Join(ad.LinkTitles, " | "),
		strings.Join(ad.LinkDescriptions, " | "),
		ad.SnapshotURL, ad.StartDate, ad.StopDate,
		strings.Join(ad.PublisherPlatforms, ";"),
		strings.Join(ad.Languages, ";"),
		impLo, impHi, spendLo, spendHi, ad.Currency,
	}
}

// ExportAdsLibrary walks the search cursors and answers with a CSV attachment.
// URL: POST /api/facebook/ads-library/export
func (h *Handler) ExportAdsLibrary(w http.ResponseWriter, r *http.Request) {
	var req adsLibraryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.SearchTerms) == "" {
		writeError(w, http.StatusBadRequest, "searchQuery is required")
		return
	}
	maxAds := req.MaxAds
	if maxAds <= 0 {
		maxAds = defaultExportAds
	}
	if maxAds > maxExportAds {
		maxAds = maxExportAds
	}
	req.Limit = 100
	token := h.accessToken(r, req.AccessToken, req.UserID)
	ads, err := h.graph.SearchAdsLibraryAll(r.Context(), token, req.AdsLibraryQuery, maxAds)
	if err != nil && len(ads) == 0 {
		h.writeGraphError(w, r, "AdsLibraryExport", err, "ads_read")
		return
	}
	if err != nil {
		log.Printf("[Facebook][AdsLibraryExport] partial export ads=%d err=%v", len(ads), err)
	}

	filename := fmt.Sprintf("ads-library-%s.csv", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	cw := csv.NewWriter(w)
	_ = cw.Write(exportHeader)
	for _, ad := range ads {
		_ = cw.Write(exportRow(ad))
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		log.Printf("[Facebook][AdsLibraryExport] write failed: %v", err)
	}
}

// GetLibraryAd returns one archived ad.
// URL: GET /api/facebook/ads-library/ad?adId=...&accessToken=...
func (h *Handler) GetLibraryAd(w http.ResponseWriter, r *http.Request) {
	adID := queryParam(r, "adId")
	if adID == "" {
		writeError(w, http.StatusBadRequest, "adId is required")
		return
	}
	ad, err := h.graph.GetLibraryAd(r.Context(), h.accessToken(r, "", ""), adID)
	if err != nil {
		h.writeGraphError(w, r, "AdsLibraryAd", err, "ads_read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ad": ad})
}
