package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/notify"
	"github.com/opensource-finance/kestrel/internal/risk"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	store    domain.GraphStore
	alertLog domain.AlertLog
	scorer   *risk.Scorer
	recorder *metrics.Recorder
	notifier *notify.Notifier
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(
	store domain.GraphStore,
	alertLog domain.AlertLog,
	scorer *risk.Scorer,
	recorder *metrics.Recorder,
	notifier *notify.Notifier,
	version string,
) *Handler {
	return &Handler{
		store:    store,
		alertLog: alertLog,
		scorer:   scorer,
		recorder: recorder,
		notifier: notifier,
		version:  version,
	}
}

// TransactionRequest is the request body for POST /transactions.
type TransactionRequest struct {
	From      string     `json:"from"`
	To        string     `json:"to"`
	Amount    float64    `json:"amount"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// TransactionResponse is the response for POST /transactions.
type TransactionResponse struct {
	Transaction     domain.Transaction  `json:"transaction"`
	Alerts          []risk.AlertOutcome `json:"alerts"`
	ImpactedNodeIDs []string            `json:"impactedNodeIds"`
	TraceID         string              `json:"traceId,omitempty"`
}

// CreateTransaction handles POST /transactions. It records the edge,
// runs the evaluation pipeline, and broadcasts the enriched update.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.From == "" || req.To == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "from and to are required",
		})
		return
	}
	if req.Amount < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must not be negative",
		})
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}

	tx := domain.Transaction{
		From:      req.From,
		To:        req.To,
		Amount:    req.Amount,
		Timestamp: ts,
	}

	if err := h.store.CreateEdge(ctx, tx); err != nil {
		slog.Error("failed to persist transaction",
			"from", tx.From,
			"to", tx.To,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to persist transaction",
		})
		return
	}

	result := h.scorer.EvaluateAndUpdate(ctx, tx)

	// Broadcast failure does not fail the ingest; the transaction and
	// alerts are already durable.
	if err := h.notifier.PublishUpdate(ctx, tx, result); err != nil {
		slog.Error("failed to broadcast update",
			"from", tx.From,
			"to", tx.To,
			"error", err,
		)
	}

	writeJSON(w, http.StatusCreated, TransactionResponse{
		Transaction:     tx,
		Alerts:          result.Alerts,
		ImpactedNodeIDs: result.ImpactedNodeIDs,
		TraceID:         GetTraceID(ctx),
	})
}

// ListTransactions handles GET /transactions with optional filters:
// from, to, start, end (RFC 3339), minAmount, maxAmount.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := domain.EdgeFilter{
		From: q.Get("from"),
		To:   q.Get("to"),
	}

	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "start must be RFC 3339",
			})
			return
		}
		filter.Start = &t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "end must be RFC 3339",
			})
			return
		}
		filter.End = &t
	}
	if v := q.Get("minAmount"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "minAmount must be a number",
			})
			return
		}
		filter.MinAmount = &f
	}
	if v := q.Get("maxAmount"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "maxAmount must be a number",
			})
			return
		}
		filter.MaxAmount = &f
	}

	txs, err := h.store.FindFilteredEdges(ctx, filter)
	if err != nil {
		slog.Error("failed to list transactions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list transactions",
		})
		return
	}

	if txs == nil {
		txs = []domain.Transaction{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
	})
}

// GetGraph handles GET /graph, returning the enriched snapshot.
func (h *Handler) GetGraph(w http.ResponseWriter, r *http.Request) {
	update, err := h.notifier.Snapshot(r.Context())
	if err != nil {
		slog.Error("failed to compose graph snapshot", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compose graph snapshot",
		})
		return
	}

	writeJSON(w, http.StatusOK, update)
}

// ListAlerts handles GET /alerts?limit=N, most recent first.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a non-negative integer",
			})
			return
		}
		limit = n
	}

	alerts, err := h.alertLog.FindRecentAlerts(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	if alerts == nil {
		alerts = []domain.Alert{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetMetrics handles GET /metrics, returning the running rollup.
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.recorder.Rollup())
}

// Health returns the health status of the server and its dependencies.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.alertLog != nil {
		if err := h.alertLog.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
