package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/bidwatch/go/clients"
	"github.com/mcdev12/bidwatch/go/internal/bidding/metrics"
	"github.com/mcdev12/bidwatch/go/internal/bidding/projector"
	"github.com/mcdev12/bidwatch/go/internal/bidding/subscription"
	"github.com/mcdev12/bidwatch/go/internal/models"
)

// LotTracker is the part of Tracker the HTTP handler needs.
type LotTracker interface {
	Views() []projector.View
	View(lotID string) (projector.View, bool)
	Track(ctx context.Context, lotID string) error
	Untrack(ctx context.Context, lotID string) error
	PlaceBid(ctx context.Context, lotID string, amount models.Amount) (*clients.BidReceipt, error)
}

// ConnectionStatus reports the push channel state.
type ConnectionStatus interface {
	State() subscription.State
	Degraded() bool
}

// StatsResponse is returned by GET /api/stats
type StatsResponse struct {
	Connection subscription.State `json:"connection"`
	Degraded   bool               `json:"degraded"`
	Lots       int                `json:"lots"`
	Metrics    metrics.Stats      `json:"metrics"`
}

// HealthStatus is returned by GET /health
type HealthStatus struct {
	Healthy    bool               `json:"healthy"`
	Connection subscription.State `json:"connection"`
	Lots       int                `json:"lots"`
	Errors     []string           `json:"errors"`
}

type trackRequest struct {
	LotID string `json:"lot_id"`
}

type bidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type bidResponse struct {
	BidID          string `json:"bid_id"`
	LotID          string `json:"lot_id"`
	CurrentPrice   string `json:"current_price"`
	IdempotencyKey string `json:"idempotency_key"`
}

type errorResponse struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Handler serves the tracker's status and command endpoints
type Handler struct {
	tracker    LotTracker
	connection ConnectionStatus
	counters   *metrics.Counters
	// displayScale converts user-entered major units to minor units and back.
	displayScale int32
}

// NewHandler creates a new tracker HTTP handler
func NewHandler(tracker LotTracker, connection ConnectionStatus, counters *metrics.Counters, displayScale int32) *Handler {
	return &Handler{
		tracker:    tracker,
		connection: connection,
		counters:   counters,
		displayScale: displayScale,
	}
}

// RegisterRoutes registers the tracker routes on mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /api/lots", h.HandleListLots)
	mux.HandleFunc("POST /api/lots", h.HandleTrackLot)
	mux.HandleFunc("GET /api/lots/{id}", h.HandleGetLot)
	mux.HandleFunc("DELETE /api/lots/{id}", h.HandleUntrackLot)
	mux.HandleFunc("POST /api/lots/{id}/bids", h.HandlePlaceBid)
	mux.HandleFunc("GET /api/stats", h.HandleStats)
}

// HandleHealth handles GET /health. It reports unhealthy while live updates are unavailable.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Healthy:    true,
		Connection: h.connection.State(),
		Lots:       len(h.tracker.Views()),
		Errors:     []string{},
	}
	if h.connection.Degraded() {
		status.Healthy = false
		status.Errors = append(status.Errors, "live updates unavailable, showing last known state")
	}

	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// HandleListLots handles GET /api/lots
func (h *Handler) HandleListLots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tracker.Views())
}

// HandleGetLot handles GET /api/lots/{id}
func (h *Handler) HandleGetLot(w http.ResponseWriter, r *http.Request) {
	view, ok := h.tracker.View(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "", "lot not tracked")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleTrackLot handles POST /api/lots
func (h *Handler) HandleTrackLot(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LotID == "" {
		writeError(w, http.StatusBadRequest, "", "lot_id is required")
		return
	}

	if err := h.tracker.Track(r.Context(), req.LotID); err != nil {
		if errors.Is(err, clients.ErrLotNotFound) {
			writeError(w, http.StatusNotFound, "", "lot not found")
			return
		}
		log.Error().Err(err).Str("lot_id", req.LotID).Msg("failed to track lot")
		writeError(w, http.StatusBadGateway, "", "failed to load lot")
		return
	}

	view, _ := h.tracker.View(req.LotID)
	writeJSON(w, http.StatusCreated, view)
}

// HandleUntrackLot handles DELETE /api/lots/{id}
func (h *Handler) HandleUntrackLot(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.Untrack(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, ErrNotTracked) {
			writeError(w, http.StatusNotFound, "", "lot not tracked")
			return
		}
		writeError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandlePlaceBid handles POST /api/lots/{id}/bids
func (h *Handler) HandlePlaceBid(w http.ResponseWriter, r *http.Request) {
	lotID := r.PathValue("id")

	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "", "amount is required")
		return
	}
	amount, err := models.AmountFromDecimal(req.Amount, h.displayScale)
	if err != nil || amount <= 0 {
		writeError(w, http.StatusBadRequest, "", "invalid amount")
		return
	}

	receipt, err := h.tracker.PlaceBid(r.Context(), lotID, amount)
	if err != nil {
		var rejected *clients.BidRejectedError
		switch {
		case errors.As(err, &rejected):
			writeError(w, http.StatusConflict, rejected.Code, rejected.Error())
		case errors.Is(err, ErrNotTracked), errors.Is(err, clients.ErrLotNotFound):
			writeError(w, http.StatusNotFound, "", "lot not tracked")
		default:
			writeError(w, http.StatusBadGateway, "", "bid could not be placed")
		}
		return
	}

	writeJSON(w, http.StatusCreated, bidResponse{
		BidID:          receipt.BidID,
		LotID:          lotID,
		CurrentPrice:   receipt.CurrentPrice.Format(h.displayScale),
		IdempotencyKey: receipt.IdempotencyKey,
	})
}

// HandleStats handles GET /api/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Connection: h.connection.State(),
		Degraded:   h.connection.Degraded(),
		Lots:       len(h.tracker.Views()),
	}
	if h.counters != nil {
		resp.Metrics = h.counters.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
