package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/countersignhq/countersign/model"
)

// Handlers for the per-submitter signing flow: field visibility, default
// pre-fill, opening, value capture, completion, and decline.

func (h *handlers) visibleFields(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	fields, err := h.orch.VisibleFields(r.Context(), rctx,
		chi.URLParam(r, "submissionId"), chi.URLParam(r, "submitterId"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if fields == nil {
		fields = []model.FieldDefinition{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"fields": fields})
}

func (h *handlers) fillDefaults(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	force := r.URL.Query().Get("force") == "true"
	sm, err := h.orch.FillDefaults(r.Context(), rctx,
		chi.URLParam(r, "submissionId"), chi.URLParam(r, "submitterId"), force)
	if err != nil {
		respondError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, sm)
}

func (h *handlers) markOpened(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	sm, err := h.orch.MarkOpened(r.Context(), rctx,
		chi.URLParam(r, "submissionId"), chi.URLParam(r, "submitterId"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, sm)
}

type submitValuesRequest struct {
	Values map[string]any `json:"values"`
}

func (h *handlers) submitValues(w http.ResponseWriter, r *http.Request) {
	var req submitValuesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if len(req.Values) == 0 {
		respondError(w, r, model.NewBadRequestError("values is required"))
		return
	}

	rctx := model.MustRequestContext(r.Context())
	sm, err := h.orch.SubmitValues(r.Context(), rctx,
		chi.URLParam(r, "submissionId"), chi.URLParam(r, "submitterId"), req.Values)
	if err != nil {
		respondError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, sm)
}

func (h *handlers) complete(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	sub, effects, err := h.orch.Complete(r.Context(), rctx,
		chi.URLParam(r, "submissionId"), chi.URLParam(r, "submitterId"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	h.dispatch(r, effects)
	WriteJSON(w, http.StatusOK, sub)
}

type declineRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *handlers) decline(w http.ResponseWriter, r *http.Request) {
	var req declineRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, err)
			return
		}
	}

	rctx := model.MustRequestContext(r.Context())
	sub, effects, err := h.orch.Decline(r.Context(), rctx,
		chi.URLParam(r, "submissionId"), chi.URLParam(r, "submitterId"), req.Reason)
	if err != nil {
		respondError(w, r, err)
		return
	}

	h.dispatch(r, effects)
	WriteJSON(w, http.StatusOK, sub)
}
