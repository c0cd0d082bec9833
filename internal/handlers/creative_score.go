package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/PortNumber53/adlens/backend/internal/creativescore"
	"github.com/PortNumber53/adlens/backend/internal/middleware"
)

// SaveCreativeScore ingests one AI score. The payload is checked field by
// field and the first violation is returned as a 400.
// URL: POST /api/ai/creative-score
func (h *Handler) SaveCreativeScore(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	payload, err := creativescore.Validate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	saved, err := h.scores.Save(r.Context(), payload)
	if err != nil {
		log.Printf("[CreativeScore][Save] creativeId=%s err=%v", payload.CreativeID, err)
		middleware.CaptureError(r, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "score": saved})
}

// GetCreativeScore looks up ?creativeId= (with optional &imageHash=) or a
// batch via ?creativeIds=a,b,c. A single miss answers {"score": null}.
// URL: GET /api/ai/creative-score
func (h *Handler) GetCreativeScore(w http.ResponseWriter, r *http.Request) {
	if rawIDs := queryParam(r, "creativeIds"); rawIDs != "" {
		ids := creativescore.ParseIDList(rawIDs)
		scores, err := h.scores.GetBatch(r.Context(), ids)
		if err != nil {
			log.Printf("[CreativeScore][Batch] ids=%d err=%v", len(ids), err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"scores": scores, "count": len(scores)})
		return
	}

	creativeID := queryParam(r, "creativeId")
	if creativeID == "" {
		writeError(w, http.StatusBadRequest, "creativeId or creativeIds is required")
		return
	}
	score, err := h.scores.Get(r.Context(), creativeID, queryParam(r, "imageHash"))
	if err != nil {
		log.Printf("[CreativeScore][Get] creativeId=%s err=%v", creativeID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"score": score, "found": score != nil})
}

// StartCreativeAnalysis forwards a scoring run to the n8n workflow.
// URL: POST /api/webhook/creative-analysis
func (h *Handler) StartCreativeAnalysis(w http.ResponseWriter, r *http.Request) {
	if !h.n8n.Enabled() {
		writeError(w, http.StatusServiceUnavailable, creativescore.ErrForwarderDisabled.Error())
		return
	}
	var req creativescore.AnalysisRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.AccessToken == "" {
		req.AccessToken = h.accessToken(r, "", "")
	}
	if err := validationMessage(validate.Struct(&req)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.n8n.Forward(r.Context(), req)
	if err != nil {
		var fe *creativescore.ForwardError
		if errors.As(err, &fe) {
			log.Printf("[CreativeScore][Forward] n8n status=%d body=%s", fe.Status, truncate(fe.Body, 200))
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": "n8n webhook failed", "status": fe.Status, "details": fe.Body})
			return
		}
		log.Printf("[CreativeScore][Forward] err=%v", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "requestId": res.RequestID, "response": res.Response})
}
