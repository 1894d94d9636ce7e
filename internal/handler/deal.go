package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/revtrack/internal/model"
	"github.com/sakif/revtrack/internal/service"
)

// DealHandler serves the pipeline: table view, kanban board and deal CRUD.
// Every route is scoped to the authenticated user; another user's deal
// answers 404, never 403, so ids cannot be enumerated.
type DealHandler struct {
	deals  *service.DealService
	logger *slog.Logger
}

func NewDealHandler(deals *service.DealService, logger *slog.Logger) *DealHandler {
	return &DealHandler{deals: deals, logger: logger}
}

type moveStageRequest struct {
	Stage model.Stage `json:"stage"`
}

// HandleList handles GET /api/deals?stage=&limit=&offset=.
func (h *DealHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	limit, err := intQuery(r, "limit")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	offset, err := intQuery(r, "offset")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	stage := model.Stage(r.URL.Query().Get("stage"))
	deals, err := h.deals.List(r.Context(), userID, stage, limit, offset)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if deals == nil {
		deals = []model.Deal{}
	}
	writeJSON(w, http.StatusOK, deals)
}

// HandlePipeline handles GET /api/pipeline.
func (h *DealHandler) HandlePipeline(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	columns, err := h.deals.Pipeline(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, columns)
}

// HandleCreate handles POST /api/deals.
func (h *DealHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var in service.DealInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	deal, err := h.deals.Create(r.Context(), userID, in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, deal)
}

// HandleGet handles GET /api/deals/{id}.
func (h *DealHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	deal, err := h.deals.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, deal)
}

// HandleUpdate handles PUT /api/deals/{id}.
func (h *DealHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var in service.DealInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	deal, err := h.deals.Update(r.Context(), userID, chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, deal)
}

// HandleMoveStage handles PATCH /api/deals/{id}/stage.
func (h *DealHandler) HandleMoveStage(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req moveStageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	deal, err := h.deals.MoveStage(r.Context(), userID, chi.URLParam(r, "id"), req.Stage)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, deal)
}

// HandleDelete handles DELETE /api/deals/{id}.
func (h *DealHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUserID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.deals.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
