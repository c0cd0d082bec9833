package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/PortNumber53/adlens/backend/internal/billing"
	"github.com/PortNumber53/adlens/backend/internal/graph"
	"github.com/PortNumber53/adlens/backend/internal/middleware"
	"github.com/PortNumber53/adlens/backend/internal/models"
)

const (
	authMeTimeout       = 6 * time.Second
	authAccountsTimeout = 8 * time.Second
)

// accessToken picks the Facebook token from the body, the query string or a
// bearer header. The stored session of userId is used only for internal
// callers, since userId alone proves nothing about the caller.
func (h *Handler) accessToken(r *http.Request, fromBody, userID string) string {
	if t := strings.TrimSpace(fromBody); t != "" {
		return t
	}
	if t := queryParam(r, "accessToken"); t != "" {
		return t
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if t := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")); t != "" {
			return t
		}
	}
	if h.db == nil || !internalCaller(r, h.wsSecret()) {
		return ""
	}
	if userID == "" {
		userID = queryParam(r, "userId")
	}
	if userID != "" {
		if sess, err := h.store.GetFacebookSession(r.Context(), userID); err == nil {
			return sess.AccessToken
		}
	}
	return ""
}

// writeGraphError maps a Graph failure to its status. permission, when set,
// is named in the 403 message.
func (h *Handler) writeGraphError(w http.ResponseWriter, r *http.Request, op string, err error, permission string) {
	var ge *graph.Error
	if !errors.As(err, &ge) {
		if errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusGatewayTimeout, "Facebook request timed out")
			return
		}
		log.Printf("[Facebook][%s] error: %v", op, err)
		middleware.CaptureError(r, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	msg := ge.PublicMessage()
	if ge.Kind == graph.KindPermission && permission != "" {
		msg = "Missing required Facebook permission: " + permission
	}
	if ge.Kind == graph.KindUpstream {
		log.Printf("[Facebook][%s] upstream error: %v", op, err)
	}
	writeJSON(w, graph.HTTPStatus(err), map[string]any{
		"error": msg,
		"type":  ge.Kind.String(),
		"code":  ge.Code,
	})
}

type facebookAuthRequest struct {
	AccessToken string `json:"accessToken" validate:"required"`
	UserID      string `json:"userId" validate:"required"`
	Email       string `json:"email" validate:"omitempty,email"`
	Subscribe   bool   `json:"subscribe"`
	Plan        string `json:"plan"`
	Cycle       string `json:"billingCycle"`
}

// FacebookAuth validates a freshly issued token, lists its ad accounts, saves
// the session for userId and optionally subscribes every account.
// URL: POST /api/auth/facebook
func (h *Handler) FacebookAuth(w http.ResponseWriter, r *http.Request) {
	var req facebookAuthRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	meCtx, cancel := context.WithTimeout(r.Context(), authMeTimeout)
	me, err := h.graph.Me(meCtx, req.AccessToken)
	cancel()
	if err != nil {
		h.writeGraphError(w, r, "Auth", err, "")
		return
	}

	acctCtx, cancel := context.WithTimeout(r.Context(), authAccountsTimeout)
	accounts, err := h.graph.AdAccounts(acctCtx, req.AccessToken, 100)
	cancel()
	if err != nil {
		h.writeGraphError(w, r, "Auth", err, "ads_read")
		return
	}

	email := req.Email
	if email == "" {
		email = me.Email
	}
	if err := h.store.EnsureUser(r.Context(), req.UserID, email); err != nil {
		log.Printf("[Facebook][Auth] ensure user failed userId=%s err=%v", req.UserID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sess := models.FacebookSession{UserID: req.UserID, AccessToken: req.AccessToken}
	if len(accounts) > 0 {
		sess.AdAccountID = &accounts[0].ID
	}
	if err := h.store.SaveFacebookSession(r.Context(), sess); err != nil {
		log.Printf("[Facebook][Auth] save session failed userId=%s err=%v", req.UserID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{"user": me, "adAccounts": accounts}
	if req.Subscribe && len(accounts) > 0 {
		refs := make([]billing.AccountRef, 0, len(accounts))
		for _, a := range accounts {
			refs = append(refs, billing.AccountRef{ID: a.ID, Name: a.Name})
		}
		plan := req.Plan
		if plan == "" {
			plan = billing.DefaultPlanID
		}
		res, err := h.billing.CreateForAccounts(r.Context(), billing.CreateRequest{
			UserID: req.UserID, Email: email, Plan: plan, Cycle: req.Cycle, Accounts: refs,
		})
		if err != nil {
			// The login itself succeeded; report the billing failure alongside it.
			log.Printf("[Facebook][Auth] subscription creation failed userId=%s err=%v", req.UserID, err)
			resp["subscriptionError"] = err.Error()
		} else {
			resp["subscriptions"] = res
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type facebookSessionRequest struct {
	UserID      string `json:"userId" validate:"required"`
	AccessToken string `json:"accessToken" validate:"required"`
	AdAccountID string `json:"adAccountId"`
}

// SaveFacebookSession stores the latest token for a user.
// URL: POST /api/facebook/session
func (h *Handler) SaveFacebookSession(w http.ResponseWriter, r *http.Request) {
	var req facebookSessionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.EnsureUser(r.Context(), req.UserID, ""); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sess := models.FacebookSession{UserID: req.UserID, AccessToken: req.AccessToken}
	if req.AdAccountID != "" {
		acct := graph.NormalizeAccountID(req.AdAccountID)
		sess.AdAccountID = &acct
	}
	if err := h.store.SaveFacebookSession(r.Context(), sess); err != nil {
		log.Printf("[Facebook][Session] save failed userId=%s err=%v", req.UserID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
