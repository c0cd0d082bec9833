package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const adsLibraryFields = "id,ad_archive_id,page_id,page_name,ad_creative_bodies,ad_creative_link_titles," +
	"ad_creative_link_descriptions,ad_creative_link_captions,ad_snapshot_url,ad_delivery_start_time," +
	"ad_delivery_stop_time,publisher_platforms,languages,impressions,spend,currency,bylines"

type AdsLibraryQuery struct {
	SearchTerms  string   `json:"searchQuery"`
	Countries    []string `json:"countries"`
	AdType       string   `json:"adType"`
	ActiveStatus string   `json:"activeStatus"`
	MediaType    string   `json:"mediaType"`
	Platforms    []string `json:"platforms"`
	PageIDs      []string `json:"pageIds"`
	Limit        int      `json:"limit"`
	After        string   `json:"after"`
}

type Range struct {
	LowerBound string `json:"lowerBound,omitempty"`
	UpperBound string `json:"upperBound,omitempty"`
}

type LibraryAd struct {
	ID                 string   `json:"id"`
	PageID             string   `json:"pageId"`
	PageName           string   `json:"pageName"`
	Bodies             []string `json:"bodies"`
	LinkTitles         []string `json:"linkTitles"`
	LinkDescriptions   []string `json:"linkDescriptions"`
	LinkCaptions       []string `json:"linkCaptions"`
	SnapshotURL        string   `json:"snapshotUrl"`
	StartDate          string   `json:"startDate,omitempty"`
	StopDate           string   `json:"stopDate,omitempty"`
	PublisherPlatforms []string `json:"publisherPlatforms"`
	Languages          []string `json:"languages"`
	Impressions        *Range   `json:"impressions,omitempty"`
	Spend              *Range   `json:"spend,omitempty"`
	Currency           string   `json:"currency,omitempty"`
	Bylines            string   `json:"bylines,omitempty"`
}

type AdsLibraryPage struct {
	Ads    []LibraryAd `json:"ads"`
	Paging Paging      `json:"paging"`
	Total  int         `json:"total"`
}

type rawRange struct {
	LowerBound string `json:"lower_bound"`
	UpperBound string `json:"upper_bound"`
}

func (r *rawRange) shape() *Range {
	if r == nil {
		return nil
	}
	return &Range{LowerBound: r.LowerBound, UpperBound: r.UpperBound}
}

type rawLibraryAd struct {
	ID                         string    `json:"id"`
	AdArchiveID                string    `json:"ad_archive_id"`
	PageID                     string    `json:"page_id"`
	PageName                   string    `json:"page_name"`
	AdCreativeBodies           []string  `json:"ad_creative_bodies"`
	AdCreativeLinkTitles       []string  `json:"ad_creative_link_titles"`
	AdCreativeLinkDescriptions []string  `json:"ad_creative_link_descriptions"`
	AdCreativeLinkCaptions     []string  `json:"ad_creative_link_captions"`
	AdSnapshotURL              string    `json:"ad_snapshot_url"`
	AdDeliveryStartTime        string    `json:"ad_delivery_start_time"`
	AdDeliveryStopTime         string    `json:"ad_delivery_stop_time"`
	PublisherPlatforms         []string  `json:"publisher_platforms"`
	Languages                  []string  `json:"languages"`
	Impressions                *rawRange `json:"impressions"`
	Spend                      *rawRange `json:"spend"`
	Currency                   string    `json:"currency"`
	Bylines                    string    `json:"bylines"`
}

func (r rawLibraryAd) shape() LibraryAd {
	id := r.AdArchiveID
	if id == "" {
		id = r.ID
	}
	return LibraryAd{
		ID:                 id,
		PageID:             r.PageID,
		PageName:           r.PageName,
		Bodies:             nonNil(r.AdCreativeBodies),
		LinkTitles:         nonNil(r.AdCreativeLinkTitles),
		LinkDescriptions:   nonNil(r.AdCreativeLinkDescriptions),
		LinkCaptions:       nonNil(r.AdCreativeLinkCaptions),
		SnapshotURL:        r.AdSnapshotURL,
		StartDate:          r.AdDeliveryStartTime,
		StopDate:           r.AdDeliveryStopTime,
		PublisherPlatforms: nonNil(r.PublisherPlatforms),
		Languages:          nonNil(r.Languages),
		Impressions:        r.Impressions.shape(),
		Spend:              r.Spend.shape(),
		Currency:           r.Currency,
		Bylines:            r.Bylines,
	}
}

// SearchAdsLibrary queries /ads_archive. An empty search is rejected before any call.
func (c *Client) SearchAdsLibrary(ctx context.Context, token string, q AdsLibraryQuery) (AdsLibraryPage, error) {
	terms := strings.TrimSpace(q.SearchTerms)
	if terms == "" && len(q.PageIDs) == 0 {
		return AdsLibraryPage{}, &Error{Kind: KindBadRequest, Status: http.StatusBadRequest, Message: "searchQuery is required"}
	}
	countries := q.Countries
	if len(countries) == 0 {
		countries = []string{"US"}
	}
	params := url.Values{}
	params.Set("fields", adsLibraryFields)
	if terms != "" {
		params.Set("search_terms", terms)
	}
	params.Set("ad_reached_countries", jsonList(upperAll(countries)))
	params.Set("ad_type", defaultString(strings.ToUpper(q.AdType), "ALL"))
	params.Set("ad_active_status", defaultString(strings.ToUpper(q.ActiveStatus), "ALL"))
	if q.MediaType != "" {
		params.Set("media_type", strings.ToUpper(q.MediaType))
	}
	if len(q.Platforms) > 0 {
		params.Set("publisher_platforms", jsonList(lowerAll(q.Platforms)))
	}
	if len(q.PageIDs) > 0 {
		params.Set("search_page_ids", strings.Join(q.PageIDs, ","))
	}
	params.Set("limit", strconv.Itoa(clampLimit(q.Limit, 25, 100)))
	if q.After != "" {
		params.Set("after", q.After)
	}

	var raw struct {
		Data   []rawLibraryAd `json:"data"`
		Paging rawPaging      `json:"paging"`
	}
	if err := c.get(ctx, FamilyAdsLibrary, "ads_archive", params, token, &raw); err != nil {
		return AdsLibraryPage{}, err
	}
	out := AdsLibraryPage{Ads: make([]LibraryAd, 0, len(raw.Data)), Paging: raw.Paging.shape()}
	for _, r := range raw.Data {
		out.Ads = append(out.Ads, r.shape())
	}
	out.Total = len(out.Ads)
	return out, nil
}

// SearchAdsLibraryAll follows cursors until maxAds ads are collected or the pages run out.
func (c *Client) SearchAdsLibraryAll(ctx context.Context, token string, q AdsLibraryQuery, maxAds int) ([]LibraryAd, error) {
	if maxAds <= 0 {
		maxAds = 500
	}
	var all []LibraryAd
	for {
		page, err := c.SearchAdsLibrary(ctx, token, q)
		if err != nil {
			return all, err
		}
		all = append(all, page.Ads...)
		if len(all) >= maxAds {
			return all[:maxAds], nil
		}
		if page.Paging.Next == "" || page.Paging.After == "" || len(page.Ads) == 0 {
			return all, nil
		}
		q.After = page.Paging.After
	}
}

// GetLibraryAd fetches one archived ad by id.
func (c *Client) GetLibraryAd(ctx context.Context, token, adID string) (LibraryAd, error) {
	adID = strings.TrimSpace(adID)
	if adID == "" {
		return LibraryAd{}, &Error{Kind: KindBadRequest, Status: http.StatusBadRequest, Message: "adId is required"}
	}
	params := url.Values{}
	params.Set("fields", adsLibraryFields)
	var raw rawLibraryAd
	if err := c.get(ctx, FamilyAdsLibrary, url.PathEscape(adID), params, token, &raw); err != nil {
		return LibraryAd{}, err
	}
	if raw.ID == "" && raw.AdArchiveID == "" {
		return LibraryAd{}, &Error{Kind: KindNotFound, Status: http.StatusNotFound, Message: "Ad not found"}
	}
	return raw.shape(), nil
}

func jsonList(v []string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func upperAll(v []string) []string {
	out := make([]string, 0, len(v))
	for _, s := range v {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToUpper(s))
		}
	}
	return out
}

func lowerAll(v []string) []string {
	out := make([]string, 0, len(v))
	for _, s := range v {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToLower(s))
		}
	}
	return out
}

func defaultString(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
