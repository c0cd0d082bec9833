package billing

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnknownPlan        = errors.New("unknown plan or billing cycle")
	ErrPriceNotConfigured = errors.New("stripe price not configured for plan")
)

const (
	CycleMonthly = "monthly"
	CycleYearly  = "yearly"

	DefaultPlanID = "starter"
)

// Plan is one row of the static per-ad-account price table.
type Plan struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	MonthlyCents      int64    `json:"monthlyCents"`
	YearlyCents       int64    `json:"yearlyCents"`
	Features          []string `json:"features"`
	MaxCreativeScores int      `json:"maxCreativeScores"`
}

// PlanPrice is a plan resolved for one billing cycle.
type PlanPrice struct {
	PlanID        string `json:"planId"`
	Name          string `json:"name"`
	Cycle         string `json:"billingCycle"`
	AmountCents   int64  `json:"amountCents"`
	StripePriceID string `json:"stripePriceId"`
}

var defaultPlans = []Plan{
	{
		ID: "starter", Name: "Starter", Description: "Ads library research and previews for a single brand",
		MonthlyCents: 2900, YearlyCents: 29000, MaxCreativeScores: 100,
		Features: []string{"ads_library", "ad_previews", "insights"},
	},
	{
		ID: "growth", Name: "Growth", Description: "Creative scoring and exports for growing teams",
		MonthlyCents: 4900, YearlyCents: 49000, MaxCreativeScores: 1000,
		Features: []string{"ads_library", "ad_previews", "insights", "creative_scores", "csv_export"},
	},
	{
		ID: "agency", Name: "Agency", Description: "Unlimited scoring across client ad accounts",
		MonthlyCents: 9900, YearlyCents: 99000, MaxCreativeScores: 0,
		Features: []string{"ads_library", "ad_previews", "insights", "creative_scores", "csv_export", "priority_support"},
	},
}

// PlanCatalog maps plans to Stripe prices. Price ids are keyed "<plan>_<cycle>".
type PlanCatalog struct {
	plans    map[string]Plan
	priceIDs map[string]string
}

func NewPlanCatalog(priceIDs map[string]string) *PlanCatalog {
	c := &PlanCatalog{plans: map[string]Plan{}, priceIDs: map[string]string{}}
	for _, p := range defaultPlans {
		c.plans[p.ID] = p
	}
	for k, v := range priceIDs {
		c.priceIDs[k] = v
	}
	return c
}

func (c *PlanCatalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MonthlyCents < out[j].MonthlyCents })
	return out
}

func normalizeCycle(cycle string) string {
	switch strings.ToLower(strings.TrimSpace(cycle)) {
	case "", "month", CycleMonthly:
		return CycleMonthly
	case "year", "annual", CycleYearly:
		return CycleYearly
	}
	return ""
}

// Lookup resolves a plan and cycle without requiring a Stripe price id.
func (c *PlanCatalog) Lookup(planID, cycle string) (PlanPrice, error) {
	p, ok := c.plans[strings.ToLower(strings.TrimSpace(planID))]
	cyc := normalizeCycle(cycle)
	if !ok || cyc == "" {
		return PlanPrice{}, fmt.Errorf("%w: %q/%q", ErrUnknownPlan, planID, cycle)
	}
	pp := PlanPrice{PlanID: p.ID, Name: p.Name, Cycle: cyc, AmountCents: p.MonthlyCents}
	if cyc == CycleYearly {
		pp.AmountCents = p.YearlyCents
	}
	pp.StripePriceID = c.priceIDs[p.ID+"_"+cyc]
	return pp, nil
}

// Resolve is Lookup plus the requirement that a Stripe price is configured.
func (c *PlanCatalog) Resolve(planID, cycle string) (PlanPrice, error) {
	pp, err := c.Lookup(planID, cycle)
	if err != nil {
		return PlanPrice{}, err
	}
	if pp.StripePriceID == "" {
		return PlanPrice{}, fmt.Errorf("%w: %s_%s", ErrPriceNotConfigured, pp.PlanID, pp.Cycle)
	}
	return pp, nil
}

// PlanForPrice maps a Stripe price id back to the catalog entry.
func (c *PlanCatalog) PlanForPrice(priceID string) (PlanPrice, bool) {
	if priceID == "" {
		return PlanPrice{}, false
	}
	for key, id := range c.priceIDs {
		if id != priceID {
			continue
		}
		planID, cycle, ok := strings.Cut(key, "_")
		if !ok {
			continue
		}
		pp, err := c.Lookup(planID, cycle)
		if err == nil {
			pp.StripePriceID = id
			return pp, true
		}
	}
	return PlanPrice{}, false
}

// FlatPricePerAccountCents is the per-account price used for billing totals
// when the user has no plan on record.
func (c *PlanCatalog) FlatPricePerAccountCents(cycle string) int64 {
	pp, err := c.Lookup(DefaultPlanID, cycle)
	if err != nil {
		pp, _ = c.Lookup(DefaultPlanID, CycleMonthly)
	}
	return pp.AmountCents
}
