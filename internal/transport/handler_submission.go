package transport

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/countersignhq/countersign/internal/workflow"
	"github.com/countersignhq/countersign/model"
)

// Request bodies larger than this are rejected outright.
const maxBodyBytes = 1 << 20

// handlers bundles the dependencies every request handler needs.
type handlers struct {
	orch       *workflow.Orchestrator
	dispatcher *workflow.Dispatcher
	logger     *zap.Logger
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return model.NewBadRequestError("Malformed JSON body")
	}
	return nil
}

type createSubmissionRequest struct {
	TemplateID       string                 `json:"template_id"`
	Submitters       []workflow.SignerInput `json:"submitters"`
	Source           string                 `json:"source,omitempty"`
	ExpireAt         *time.Time             `json:"expire_at,omitempty"`
	SendDelaySeconds int                    `json:"send_delay_seconds,omitempty"`
	MarkAsSent       bool                   `json:"mark_as_sent,omitempty"`
}

func (h *handlers) createSubmission(w http.ResponseWriter, r *http.Request) {
	var req createSubmissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.TemplateID == "" {
		respondError(w, r, model.NewBadRequestError("template_id is required"))
		return
	}

	rctx := model.MustRequestContext(r.Context())
	sub, effects, err := h.orch.CreateSubmission(r.Context(), rctx, req.TemplateID, req.Submitters,
		workflow.CreateOptions{
			Source:           req.Source,
			ExpireAt:         req.ExpireAt,
			SendDelaySeconds: req.SendDelaySeconds,
			MarkAsSent:       req.MarkAsSent,
		})
	if err != nil {
		respondError(w, r, err)
		return
	}

	h.dispatch(r, effects)
	WriteJSON(w, http.StatusCreated, sub)
}

type createFromEmailsRequest struct {
	TemplateID       string `json:"template_id"`
	Emails           string `json:"emails"`
	SendDelaySeconds int    `json:"send_delay_seconds,omitempty"`
	MarkAsSent       bool   `json:"mark_as_sent,omitempty"`
}

func (h *handlers) createFromEmails(w http.ResponseWriter, r *http.Request) {
	var req createFromEmailsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.TemplateID == "" {
		respondError(w, r, model.NewBadRequestError("template_id is required"))
		return
	}

	rctx := model.MustRequestContext(r.Context())
	subs, effects, err := h.orch.CreateFromEmails(r.Context(), rctx, req.TemplateID, req.Emails,
		workflow.CreateOptions{
			SendDelaySeconds: req.SendDelaySeconds,
			MarkAsSent:       req.MarkAsSent,
		})
	if err != nil {
		respondError(w, r, err)
		return
	}

	h.dispatch(r, effects)
	WriteJSON(w, http.StatusCreated, map[string]any{"submissions": subs})
}

func (h *handlers) listSubmissions(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())

	filters := workflow.ListFilters{
		TemplateID: r.URL.Query().Get("template_id"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filters.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filters.Offset = n
		}
	}

	subs, err := h.orch.ListSubmissions(r.Context(), rctx, filters)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if subs == nil {
		subs = []model.Submission{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"submissions": subs})
}

func (h *handlers) getSubmission(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	sub, err := h.orch.GetSubmission(r.Context(), rctx, chi.URLParam(r, "submissionId"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, sub)
}

func (h *handlers) archiveSubmission(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	sub, err := h.orch.Archive(r.Context(), rctx, chi.URLParam(r, "submissionId"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, sub)
}

func (h *handlers) advanceWorkflow(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	wave, effects, err := h.orch.AdvanceWorkflow(r.Context(), rctx, chi.URLParam(r, "submissionId"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	// Advance is the explicit "resend" operation, so a delivery failure here
	// surfaces instead of being deferred.
	if err := h.dispatcher.Dispatch(r.Context(), effects); err != nil {
		respondError(w, r, err)
		return
	}
	if wave == nil {
		wave = []model.Submitter{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"wave": wave})
}

func (h *handlers) visibleDocuments(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	docs, err := h.orch.VisibleDocuments(r.Context(), rctx, chi.URLParam(r, "submissionId"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if docs == nil {
		docs = []model.DocumentSchemaEntry{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// dispatch runs notify effects whose failure should not fail the request.
// The waves stay recomputable, so a later advance retries them.
func (h *handlers) dispatch(r *http.Request, effects []workflow.NotifyEffect) {
	if len(effects) == 0 {
		return
	}
	if err := h.dispatcher.Dispatch(r.Context(), effects); err != nil {
		h.logger.Warn("notify dispatch failed",
			zap.Int("effects", len(effects)),
			zap.Error(err),
		)
	}
}
