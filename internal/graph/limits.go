package graph

import (
	"context"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Family groups Graph endpoints that share a rate limit and daily quota.
type Family string

const (
	FamilyAdsLibrary Family = "ads_library"
	FamilyPreviews   Family = "previews"
	FamilyMarketing  Family = "marketing"
	FamilyInsights   Family = "insights"
	FamilyAuth       Family = "auth"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	DailyRequestsMax  int64 // 0 means unlimited
}

// QuotaFunc records add requests for family on the given day and reports
// ok=false once dailyMax is exceeded. store.Store.ConsumeGraphRequests fits.
type QuotaFunc func(ctx context.Context, family string, add, dailyMax int64, now time.Time) (ok bool, used int64, err error)

func DefaultRateLimits() map[Family]RateLimitConfig {
	// Conservative defaults; Marketing API throttling is per app and per ad account.
	return map[Family]RateLimitConfig{
		FamilyAdsLibrary: {RequestsPerSecond: 2, Burst: 4},
		FamilyPreviews:   {RequestsPerSecond: 4, Burst: 6},
		FamilyMarketing:  {RequestsPerSecond: 4, Burst: 8},
		FamilyInsights:   {RequestsPerSecond: 2, Burst: 4},
		FamilyAuth:       {RequestsPerSecond: 10, Burst: 10},
	}
}

// rateLimitFromEnv applies overrides such as
// GRAPH_ADS_LIBRARY_RPS=0.5, GRAPH_ADS_LIBRARY_BURST=2, GRAPH_ADS_LIBRARY_DAILY_MAX=4800.
func rateLimitFromEnv(getenv func(string) string, family Family, def RateLimitConfig) RateLimitConfig {
	if getenv == nil {
		return def
	}
	prefix := "GRAPH_" + envName(string(family)) + "_"
	if v := getenv(prefix + "RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			def.RequestsPerSecond = f
		}
	}
	if v := getenv(prefix + "BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			def.Burst = n
		}
	}
	if v := getenv(prefix + "DAILY_MAX"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			def.DailyRequestsMax = n
		}
	}
	return def
}

func envName(s string) string {
	return strings.ToUpper(strings.ReplaceAll(s, "-", "_"))
}

func newLimiters(getenv func(string) string) (map[Family]*rate.Limiter, map[Family]RateLimitConfig) {
	lims := map[Family]*rate.Limiter{}
	cfgs := map[Family]RateLimitConfig{}
	for fam, def := range DefaultRateLimits() {
		cfg := rateLimitFromEnv(getenv, fam, def)
		cfgs[fam] = cfg
		lims[fam] = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	return lims, cfgs
}
