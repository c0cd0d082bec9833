package handlers

import (
	"net/http"
	"strings"

	"github.com/PortNumber53/adlens/backend/internal/billing"
	"github.com/google/uuid"
)

// localAccountPrefix marks ids minted for accounts added by name only.
const localAccountPrefix = "local_"

// ListAccounts returns the user's connected ad accounts with billing totals.
// URL: GET /api/accounts?userId=...
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	h.GetBillingSummary(w, r)
}

type addAccountRequest struct {
	UserID      string `json:"userId" validate:"required"`
	Email       string `json:"email" validate:"omitempty,email"`
	AdAccountID string `json:"adAccountId"`
	AccountName string `json:"accountName"`
	Plan        string `json:"plan"`
	Cycle       string `json:"billingCycle"`
}

// AddAccount connects an ad account and starts billing for it. An account
// given only by name gets a generated local_ id.
// URL: POST /api/accounts
func (h *Handler) AddAccount(w http.ResponseWriter, r *http.Request) {
	var req addAccountRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.AdAccountID = strings.TrimSpace(req.AdAccountID)
	req.AccountName = strings.TrimSpace(req.AccountName)
	if req.AdAccountID == "" {
		if req.AccountName == "" {
			writeError(w, http.StatusBadRequest, "adAccountId or accountName is required")
			return
		}
		req.AdAccountID = localAccountPrefix + uuid.NewString()
	}
	if err := h.store.EnsureUser(r.Context(), req.UserID, req.Email); err != nil {
		h.writeBillingError(w, r, "AddAccount", err)
		return
	}
	res, err := h.billing.AddAccount(r.Context(), billing.AddAccountRequest{
		UserID:  req.UserID,
		Email:   req.Email,
		Plan:    req.Plan,
		Cycle:   req.Cycle,
		Account: billing.AccountRef{ID: req.AdAccountID, Name: req.AccountName},
	})
	if err != nil {
		h.writeBillingError(w, r, "AddAccount", err)
		return
	}
	status := http.StatusCreated
	switch res.Status {
	case billing.ResultAlreadyExists:
		status = http.StatusOK
	case billing.ResultError:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

// RemoveAccount stops billing for an ad account.
// URL: DELETE /api/accounts?userId=...&adAccountId=...
func (h *Handler) RemoveAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	adAccountID := queryParam(r, "adAccountId")
	if adAccountID == "" {
		writeError(w, http.StatusBadRequest, "adAccountId is required")
		return
	}
	sub, err := h.billing.Cancel(r.Context(), userID, adAccountID)
	if err != nil {
		h.writeBillingError(w, r, "RemoveAccount", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": true, "subscription": sub})
}
