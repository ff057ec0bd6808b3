/*
handlers.go - HTTP API handlers for the stock reconstruction pipeline

PURPOSE:
  Exposes the pipeline via REST. Handles HTTP request/response, JSON
  serialization, and delegates to the runner and stores.

ENDPOINTS:
  Stores:
    GET  /api/stores                      List stores with their cursors
    GET  /api/stores/{id}/points          Snapshot points in a date range
    GET  /api/stores/{id}/balance         Forward-filled balance lookup

  Runs:
    GET  /api/runs                        Recent run results (newest first)
    POST /api/runs/update                 Trigger an incremental run now
    POST /api/runs/seed                   Full rebuild of one store

  Exclusions:
    GET  /api/exclusions                  The exclusion log

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Unknown store
  - 500: Internal errors

SECURITY NOTE:
  No authentication. The server is meant to sit on an internal network.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - pipeline/runner.go: The work the POST endpoints trigger
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/osmart/stock-ledger/exclusions"
	"github.com/osmart/stock-ledger/ledger"
	"github.com/osmart/stock-ledger/pipeline"
)

// historyCap bounds the in-memory run history.
const historyCap = 200

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Runner     *pipeline.Runner
	Sources    []pipeline.Source
	Exclusions *exclusions.Log
	Log        zerolog.Logger

	mu      sync.Mutex
	history []pipeline.RunResult // newest first
}

// NewHandler creates a new handler.
func NewHandler(runner *pipeline.Runner, sources []pipeline.Source, excl *exclusions.Log, log zerolog.Logger) *Handler {
	return &Handler{
		Runner:     runner,
		Sources:    sources,
		Exclusions: excl,
		Log:        log,
	}
}

func (h *Handler) sourceByID(storeID int) (pipeline.Source, bool) {
	for _, s := range h.Sources {
		if s.StoreID == storeID {
			return s, true
		}
	}
	return pipeline.Source{}, false
}

func (h *Handler) sourceByName(name string) (pipeline.Source, bool) {
	for _, s := range h.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return pipeline.Source{}, false
}

func (h *Handler) record(results ...pipeline.RunResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, res := range results {
		h.history = append([]pipeline.RunResult{res}, h.history...)
	}
	if len(h.history) > historyCap {
		h.history = h.history[:historyCap]
	}
}

// =============================================================================
// STORE HANDLERS
// =============================================================================

// ListStores returns the configured stores and their progress cursors.
func (h *Handler) ListStores(w http.ResponseWriter, r *http.Request) {
	dtos := make([]StoreDTO, 0, len(h.Sources))
	for _, src := range h.Sources {
		dto := StoreDTO{Name: src.Name, StoreID: src.StoreID}
		cp, err := h.Runner.Checkpoints.Get(r.Context(), src.Name)
		if err == nil {
			dto.LastEventAt = cp.LastEventAt.Format("2006-01-02T15:04:05Z")
			dto.LastDate = cp.LastDate.String()
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPoints returns snapshot points for a store in [from, to].
// Defaults: from = epoch, to = today.
func (h *Handler) GetPoints(w http.ResponseWriter, r *http.Request) {
	storeID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid store id", err)
		return
	}
	if _, ok := h.sourceByID(storeID); !ok {
		writeError(w, http.StatusNotFound, "Unknown store", nil)
		return
	}

	from := h.Runner.Epoch
	to := ledger.Today()
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = ledger.ParseDay(v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from date (use YYYY-MM-DD)", err)
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = ledger.ParseDay(v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to date (use YYYY-MM-DD)", err)
			return
		}
	}

	points, err := h.Runner.Points.PointsInRange(r.Context(), storeID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load points", err)
		return
	}

	dtos := make([]PointDTO, len(points))
	for i, p := range points {
		dtos[i] = PointDTO{
			ProductID:  p.ProductID,
			Date:       p.Date.String(),
			StartOfDay: p.StartOfDay,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBalance forward-fills one product's balance on a date.
// Query: product (required), date (default today).
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	storeID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid store id", err)
		return
	}
	if _, ok := h.sourceByID(storeID); !ok {
		writeError(w, http.StatusNotFound, "Unknown store", nil)
		return
	}

	productID, err := strconv.Atoi(r.URL.Query().Get("product"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing or invalid product", err)
		return
	}
	on := ledger.Today()
	if v := r.URL.Query().Get("date"); v != "" {
		if on, err = ledger.ParseDay(v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
			return
		}
	}

	v, known, err := h.Runner.Points.BalanceOn(r.Context(), storeID, productID, on)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve balance", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		StoreID:   storeID,
		ProductID: productID,
		Date:      on.String(),
		Balance:   v,
		Known:     known,
	})
}

// =============================================================================
// RUN HANDLERS
// =============================================================================

// ListRuns returns recent run results, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	out := make([]pipeline.RunResult, len(h.history))
	copy(out, h.history)
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

// TriggerUpdate runs an incremental pass over every store and returns the
// per-store results. Synchronous: the response carries the outcome.
func (h *Handler) TriggerUpdate(w http.ResponseWriter, r *http.Request) {
	results := h.Runner.RunUpdate(r.Context(), h.Sources)
	h.record(results...)
	writeJSON(w, http.StatusOK, results)
}

// TriggerSeed rebuilds one store from the epoch.
func (h *Handler) TriggerSeed(w http.ResponseWriter, r *http.Request) {
	var req SeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	src, ok := h.sourceByName(req.Store)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown store", nil)
		return
	}

	res := h.Runner.RunSeed(r.Context(), src)
	h.record(res)
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// EXCLUSION HANDLERS
// =============================================================================

// ListExclusions returns the full exclusion log.
func (h *Handler) ListExclusions(w http.ResponseWriter, r *http.Request) {
	records, err := h.Exclusions.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read exclusion log", err)
		return
	}

	dtos := make([]ExclusionDTO, len(records))
	for i, rec := range records {
		dtos[i] = ExclusionDTO{
			StoreID:       rec.StoreID,
			ProductID:     rec.ProductID,
			RecordID:      rec.RecordID,
			EffectiveDate: rec.EffectiveDate,
			Reason:        string(rec.Reason),
			Detail:        rec.Detail,
			DetectedAt:    rec.DetectedAt,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}
