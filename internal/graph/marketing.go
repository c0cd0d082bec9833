package graph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

type AdAccount struct {
	ID            string  `json:"id"`
	AccountID     string  `json:"accountId"`
	Name          string  `json:"name"`
	AccountStatus int     `json:"accountStatus"`
	Currency      string  `json:"currency,omitempty"`
	Timezone      string  `json:"timezone,omitempty"`
	AmountSpent   float64 `json:"amountSpent"`
	BusinessName  string  `json:"businessName,omitempty"`
}

type rawAdAccount struct {
	ID            string `json:"id"`
	AccountID     string `json:"account_id"`
	Name          string `json:"name"`
	AccountStatus int    `json:"account_status"`
	Currency      string `json:"currency"`
	TimezoneName  string `json:"timezone_name"`
	AmountSpent   string `json:"amount_spent"`
	Business      *struct {
		Name string `json:"name"`
	} `json:"business"`
}

func (r rawAdAccount) shape() AdAccount {
	a := AdAccount{
		ID:            r.ID,
		AccountID:     r.AccountID,
		Name:          r.Name,
		AccountStatus: r.AccountStatus,
		Currency:      r.Currency,
		Timezone:      r.TimezoneName,
		AmountSpent:   parseFloat(r.AmountSpent) / 100,
	}
	if r.Business != nil {
		a.BusinessName = r.Business.Name
	}
	return a
}

// AdAccounts lists the ad accounts the token can see.
func (c *Client) AdAccounts(ctx context.Context, token string, limit int) ([]AdAccount, error) {
	params := url.Values{}
	params.Set("fields", "id,account_id,name,account_status,currency,timezone_name,amount_spent,business{name}")
	params.Set("limit", strconv.Itoa(clampLimit(limit, 100, 500)))
	var raw struct {
		Data []rawAdAccount `json:"data"`
	}
	if err := c.get(ctx, FamilyMarketing, "me/adaccounts", params, token, &raw); err != nil {
		return nil, err
	}
	out := make([]AdAccount, 0, len(raw.Data))
	for _, r := range raw.Data {
		out = append(out, r.shape())
	}
	return out, nil
}

type Campaign struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Status         string  `json:"status"`
	Objective      string  `json:"objective,omitempty"`
	DailyBudget    float64 `json:"dailyBudget,omitempty"`
	LifetimeBudget float64 `json:"lifetimeBudget,omitempty"`
	CreatedTime    string  `json:"createdTime,omitempty"`
}

type CampaignPage struct {
	Campaigns []Campaign `json:"campaigns"`
	Paging    Paging     `json:"paging"`
}

func (c *Client) Campaigns(ctx context.Context, token, accountID string, limit int, after string) (CampaignPage, error) {
	accountID = NormalizeAccountID(accountID)
	if accountID == "" {
		return CampaignPage{}, &Error{Kind: KindBadRequest, Status: http.StatusBadRequest, Message: "adAccountId is required"}
	}
	params := url.Values{}
	params.Set("fields", "id,name,status,objective,daily_budget,lifetime_budget,created_time")
	params.Set("limit", strconv.Itoa(clampLimit(limit, 50, 200)))
	if after != "" {
		params.Set("after", after)
	}
	var raw struct {
		Data []struct {
			ID             string `json:"id"`
			Name           string `json:"name"`
			Status         string `json:"status"`
			Objective      string `json:"objective"`
			DailyBudget    string `json:"daily_budget"`
			LifetimeBudget string `json:"lifetime_budget"`
			CreatedTime    string `json:"created_time"`
		} `json:"data"`
		Paging rawPaging `json:"paging"`
	}
	if err := c.get(ctx, FamilyMarketing, accountID+"/campaigns", params, token, &raw); err != nil {
		return CampaignPage{}, err
	}
	out := CampaignPage{Campaigns: make([]Campaign, 0, len(raw.Data)), Paging: raw.Paging.shape()}
	for _, r := range raw.Data {
		out.Campaigns = append(out.Campaigns, Campaign{
			ID: r.ID, Name: r.Name, Status: r.Status, Objective: r.Objective,
			DailyBudget:    parseFloat(r.DailyBudget) / 100,
			LifetimeBudget: parseFloat(r.LifetimeBudget) / 100,
			CreatedTime:    r.CreatedTime,
		})
	}
	return out, nil
}

type Ad struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	CampaignID string    `json:"campaignId,omitempty"`
	AdsetID    string    `json:"adsetId,omitempty"`
	Creative   *Creative `json:"creative,omitempty"`
}

type AdPage struct {
	Ads    []Ad   `json:"ads"`
	Paging Paging `json:"paging"`
}

// Ads lists ads under an ad account, campaign or ad set.
func (c *Client) Ads(ctx context.Context, token, parentID string, limit int, after string) (AdPage, error) {
	parentID = strings.TrimSpace(parentID)
	if parentID == "" {
		return AdPage{}, &Error{Kind: KindBadRequest, Status: http.StatusBadRequest, Message: "adAccountId or campaignId is required"}
	}
	params := url.Values{}
	params.Set("fields", "id,name,status,campaign_id,adset_id,creative{"+creativeFields+"}")
	params.Set("limit", strconv.Itoa(clampLimit(limit, 50, 200)))
	if after != "" {
		params.Set("after", after)
	}
	var raw struct {
		Data []struct {
			ID         string       `json:"id"`
			Name       string       `json:"name"`
			Status     string       `json:"status"`
			CampaignID string       `json:"campaign_id"`
			AdsetID    string       `json:"adset_id"`
			Creative   *rawCreative `json:"creative"`
		} `json:"data"`
		Paging rawPaging `json:"paging"`
	}
	if err := c.get(ctx, FamilyMarketing, url.PathEscape(parentID)+"/ads", params, token, &raw); err != nil {
		return AdPage{}, err
	}
	out := AdPage{Ads: make([]Ad, 0, len(raw.Data)), Paging: raw.Paging.shape()}
	for _, r := range raw.Data {
		ad := Ad{ID: r.ID, Name: r.Name, Status: r.Status, CampaignID: r.CampaignID, AdsetID: r.AdsetID}
		if r.Creative != nil {
			cr := r.Creative.shape()
			ad.Creative = &cr
		}
		out.Ads = append(out.Ads, ad)
	}
	return out, nil
}

type InsightsQuery struct {
	DatePreset string
	Since      string
	Until      string
	Level      string
	TimeInc    string
}

type Action struct {
	Type  string  `json:"type"`
	Value float64 `json:"value"`
}

type InsightRow struct {
	DateStart   string   `json:"dateStart"`
	DateStop    string   `json:"dateStop"`
	ObjectID    string   `json:"objectId,omitempty"`
	ObjectName  string   `json:"objectName,omitempty"`
	Impressions int64    `json:"impressions"`
	Reach       int64    `json:"reach"`
	Clicks      int64    `json:"clicks"`
	Spend       float64  `json:"spend"`
	CTR         float64  `json:"ctr"`
	CPC         float64  `json:"cpc"`
	CPM         float64  `json:"cpm"`
	Frequency   float64  `json:"frequency"`
	Actions     []Action `json:"actions"`
}

const insightsFields = "campaign_id,campaign_name,ad_id,ad_name,impressions,reach,clicks,spend,ctr,cpc,cpm,frequency,actions,date_start,date_stop"

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

func (c *Client) Insights(ctx context.Context, token, objectID string, q InsightsQuery) ([]InsightRow, error) {
	objectID = strings.TrimSpace(objectID)
	if objectID == "" {
		return nil, &Error{Kind: KindBadRequest, Status: http.StatusBadRequest, Message: "objectId is required"}
	}
	params := url.Values{}
	params.Set("fields", insightsFields)
	switch {
	case q.Since != "" || q.Until != "":
		if !datePattern.MatchString(q.Since) || !datePattern.MatchString(q.Until) {
			return nil, &Error{Kind: KindBadRequest, Status: http.StatusBadRequest, Message: "since and until must be YYYY-MM-DD"}
		}
		tr, _ := json.Marshal(map[string]string{"since": q.Since, "until": q.Until})
		params.Set("time_range", string(tr))
	default:
		params.Set("date_preset", defaultString(q.DatePreset, "last_30d"))
	}
	if q.Level != "" {
		params.Set("level", q.Level)
	}
	if q.TimeInc != "" {
		params.Set("time_increment", q.TimeInc)
	}

	var raw struct {
		Data []struct {
			CampaignID   string `json:"campaign_id"`
			CampaignName string `json:"campaign_name"`
			AdID         string `json:"ad_id"`
			AdName       string `json:"ad_name"`
			Impressions  string `json:"impressions"`
			Reach        string `json:"reach"`
			Clicks       string `json:"clicks"`
			Spend        string `json:"spend"`
			CTR          string `json:"ctr"`
			CPC          string `json:"cpc"`
			CPM          string `json:"cpm"`
			Frequency    string `json:"frequency"`
			DateStart    string `json:"date_start"`
			DateStop     string `json:"date_stop"`
			Actions      []struct {
				ActionType string `json:"action_type"`
				Value      string `json:"value"`
			} `json:"actions"`
		} `json:"data"`
	}
	if err := c.get(ctx, FamilyInsights, url.PathEscape(objectID)+"/insights", params, token, &raw); err != nil {
		return nil, err
	}
	out := make([]InsightRow, 0, len(raw.Data))
	for _, r := range raw.Data {
		row := InsightRow{
			DateStart:   r.DateStart,
			DateStop:    r.DateStop,
			ObjectID:    defaultString(r.AdID, r.CampaignID),
			ObjectName:  defaultString(r.AdName, r.CampaignName),
			Impressions: parseInt(r.Impressions),
			Reach:       parseInt(r.Reach),
			Clicks:      parseInt(r.Clicks),
			Spend:       parseFloat(r.Spend),
			CTR:         parseFloat(r.CTR),
			CPC:         parseFloat(r.CPC),
			CPM:         parseFloat(r.CPM),
			Frequency:   parseFloat(r.Frequency),
			Actions:     []Action{},
		}
		for _, a := range r.Actions {
			row.Actions = append(row.Actions, Action{Type: a.ActionType, Value: parseFloat(a.Value)})
		}
		out = append(out, row)
	}
	return out, nil
}

var fetchPathPattern = regexp.MustCompile(`^[A-Za-z0-9_./{},-]+$`)

// Fetch is the generic marketing-api passthrough. path is relative to the
// versioned base; absolute URLs and parent segments are rejected.
func (c *Client) Fetch(ctx context.Context, token, path string, params map[string]string) (json.RawMessage, error) {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" || strings.Contains(path, "..") || strings.Contains(path, "://") || !fetchPathPattern.MatchString(path) {
		return nil, &Error{Kind: KindBadRequest, Status: http.StatusBadRequest, Message: "invalid endpoint path"}
	}
	q := url.Values{}
	for k, v := range params {
		if k == "access_token" {
			continue
		}
		q.Set(k, v)
	}
	body, err := c.getRaw(ctx, FamilyMarketing, path, q, token)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, &Error{Kind: KindUpstream, Status: http.StatusBadGateway, Message: "invalid JSON from Facebook"}
	}
	return json.RawMessage(body), nil
}

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

func (c *Client) Me(ctx context.Context, token string) (User, error) {
	params := url.Values{}
	params.Set("fields", "id,name,email")
	var u User
	if err := c.get(ctx, FamilyAuth, "me", params, token, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

type Permission struct {
	Permission string `json:"permission"`
	Status     string `json:"status"`
}

func (c *Client) Permissions(ctx context.Context, token string) ([]Permission, error) {
	var raw struct {
		Data []Permission `json:"data"`
	}
	if err := c.get(ctx, FamilyAuth, "me/permissions", nil, token, &raw); err != nil {
		return nil, err
	}
	if raw.Data == nil {
		return []Permission{}, nil
	}
	return raw.Data, nil
}

// RequiredPermissions are the scopes the analytics features depend on.
var RequiredPermissions = []string{"ads_read", "ads_management"}

type HealthReport struct {
	Valid    bool     `json:"valid"`
	User     *User    `json:"user,omitempty"`
	Granted  []string `json:"granted"`
	Declined []string `json:"declined"`
	Missing  []string `json:"missing"`
	Healthy  bool     `json:"healthy"`
	Error    string   `json:"error,omitempty"`
}

// Health checks the token and its scopes. An invalid token is reported in the
// body rather than as an error; other Graph failures are returned.
func (c *Client) Health(ctx context.Context, token string) (HealthReport, error) {
	rep := HealthReport{Granted: []string{}, Declined: []string{}, Missing: []string{}}
	me, err := c.Me(ctx, token)
	if err != nil {
		var ge *Error
		if errors.As(err, &ge) && ge.Kind == KindInvalidToken {
			rep.Error = ge.PublicMessage()
			rep.Missing = append(rep.Missing, RequiredPermissions...)
			return rep, nil
		}
		return rep, err
	}
	rep.Valid = true
	rep.User = &me

	perms, err := c.Permissions(ctx, token)
	if err != nil {
		return rep, err
	}
	granted := map[string]bool{}
	for _, p := range perms {
		switch p.Status {
		case "granted":
			granted[p.Permission] = true
			rep.Granted = append(rep.Granted, p.Permission)
		case "declined", "expired":
			rep.Declined = append(rep.Declined, p.Permission)
		}
	}
	for _, req := range RequiredPermissions {
		if !granted[req] {
			rep.Missing = append(rep.Missing, req)
		}
	}
	rep.Healthy = len(rep.Missing) == 0
	return rep, nil
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

func parseInt(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return int64(parseFloat(s))
	}
	return n
}
