package handlers

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes wires every endpoint onto r.
func RegisterRoutes(h *Handler, r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/metrics", h.Metrics).Methods("GET")

	r.HandleFunc("/api/users", h.CreateUser).Methods("POST")
	r.HandleFunc("/api/users/{id}", h.GetUser).Methods("GET")

	r.HandleFunc("/api/accounts", h.ListAccounts).Methods("GET")
	r.HandleFunc("/api/accounts", h.AddAccount).Methods("POST")
	r.HandleFunc("/api/accounts", h.RemoveAccount).Methods("DELETE")

	RegisterBillingRoutes(h, r)

	r.HandleFunc("/api/auth/facebook", h.FacebookAuth).Methods("POST")
	r.HandleFunc("/api/facebook/session", h.SaveFacebookSession).Methods("POST")
	r.HandleFunc("/api/facebook/ads-library/search", h.SearchAdsLibrary).Methods("POST")
	r.HandleFunc("/api/facebook/ads-library/export", h.ExportAdsLibrary).Methods("POST")
	r.HandleFunc("/api/facebook/ads-library/ad", h.GetLibraryAd).Methods("GET")
	r.HandleFunc("/api/facebook/ad-preview", h.AdPreview).Methods("POST")
	r.HandleFunc("/api/facebook/creative-preview", h.CreativePreview).Methods("POST")
	r.HandleFunc("/api/facebook/marketing-api", h.MarketingAPI).Methods("POST")
	r.HandleFunc("/api/facebook/accounts", h.ListAdAccounts).Methods("GET")
	r.HandleFunc("/api/facebook/campaigns", h.ListCampaigns).Methods("GET")
	r.HandleFunc("/api/facebook/ads", h.ListAds).Methods("GET")
	r.HandleFunc("/api/facebook/insights", h.GetInsights).Methods("GET")
	r.HandleFunc("/api/facebook/health", h.FacebookHealth).Methods("POST")
	r.HandleFunc("/api/facebook/image-proxy", h.ImageProxy).Methods("GET")

	r.HandleFunc("/api/ai/creative-score", h.SaveCreativeScore).Methods("POST")
	r.HandleFunc("/api/ai/creative-score", h.GetCreativeScore).Methods("GET")
	r.HandleFunc("/api/webhook/creative-analysis", h.StartCreativeAnalysis).Methods("POST")

	r.HandleFunc("/api/events/ws", h.EventsWebSocket).Methods("GET")
	r.HandleFunc("/api/events/ping", h.EventsPing).Methods("GET")
}

// RegisterBillingRoutes registers all billing-related routes
func RegisterBillingRoutes(h *Handler, r *mux.Router) {
	r.HandleFunc("/api/billing", h.GetBillingSummary).Methods("GET")
	r.HandleFunc("/api/billing/plans", h.GetBillingPlans).Methods("GET")
	r.HandleFunc("/api/billing/accounts", h.GetBillingAccounts).Methods("GET")
	r.HandleFunc("/api/billing/history", h.GetBillingHistory).Methods("GET")
	r.HandleFunc("/api/billing/checkout", h.CreateCheckoutSession).Methods("POST")
	r.HandleFunc("/api/billing/report-usage", h.ReportUsage).Methods("POST")

	r.HandleFunc("/api/per-account-subscriptions", h.ListPerAccountSubscriptions).Methods("GET")
	r.HandleFunc("/api/per-account-subscriptions", h.CreatePerAccountSubscriptions).Methods("POST")
	r.HandleFunc("/api/per-account-subscriptions/verify", h.VerifySubscriptions).Methods("POST")
	r.HandleFunc("/api/per-account-subscriptions/{adAccountId}", h.UpdatePerAccountSubscription).Methods("PUT")
	r.HandleFunc("/api/per-account-subscriptions/{adAccountId}", h.CancelPerAccountSubscription).Methods("DELETE")

	r.HandleFunc("/webhook/stripe", h.StripeWebhook).Methods("POST")
}
