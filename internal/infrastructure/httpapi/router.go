// Package httpapi exposes the read-only REST surface, liveness, metrics and
// the subscriber websocket endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"bitcoin-tx-monitor/internal/domain/entity"
	"bitcoin-tx-monitor/internal/domain/service"
	"bitcoin-tx-monitor/internal/infrastructure/logger"
	"bitcoin-tx-monitor/internal/infrastructure/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Query defaults
const (
	defaultTransactionsLimit = 50
	defaultHighValueMin      = 10 * entity.SatoshisPerCoin
	defaultSuspiciousMinRisk = 50
	listLimit                = 20
	requestTimeout           = 5 * time.Second
)

// Options selects the optional routes
type Options struct {
	WebSocket      http.Handler
	MetricsEnabled bool
}

type handler struct {
	monitor service.MonitorService
	logger  *logger.Logger
}

// NewRouter builds the HTTP handler
func NewRouter(monitor service.MonitorService, opts Options, logger *logger.Logger) http.Handler {
	h := &handler{
		monitor: monitor,
		logger:  logger.WithComponent("http-api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	r.Get("/health", h.health)
	r.Route("/api/bitcoin", func(r chi.Router) {
		r.Get("/transactions", h.transactions)
		r.Get("/stats", h.stats)
		r.Get("/high-value", h.highValue)
		r.Get("/suspicious", h.suspicious)
	})

	if opts.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}
	if opts.WebSocket != nil {
		r.Method(http.MethodGet, "/ws", opts.WebSocket)
	}

	return r
}

type transactionsResponse struct {
	Transactions []*entity.EnrichedTransaction `json:"transactions"`
	Total        int                           `json:"total"`
	Stats        entity.AggregateStats         `json:"stats"`
	Performance  entity.PerformanceMetrics     `json:"performance"`
}

func (h *handler) transactions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	q := r.URL.Query()
	filter := entity.TransactionFilter{
		Priority: entity.Priority(q.Get("priority")),
		Category: entity.Category(q.Get("category")),
		Limit:    intParam(q.Get("limit"), defaultTransactionsLimit),
	}

	result, err := h.monitor.Query(ctx, filter)
	if err != nil {
		h.fail(w, "query transactions", err)
		return
	}
	report, err := h.monitor.Stats(ctx)
	if err != nil {
		h.fail(w, "read stats", err)
		return
	}

	writeJSON(w, http.StatusOK, transactionsResponse{
		Transactions: nonNil(result.Transactions),
		Total:        result.Count,
		Stats:        report.Stats,
		Performance:  report.Performance,
	})
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	report, err := h.monitor.Stats(ctx)
	if err != nil {
		h.fail(w, "read stats", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handler) highValue(w http.ResponseWriter, r *http.Request) {
	minValue := int64(intParam(r.URL.Query().Get("minValue"), int(defaultHighValueMin)))
	h.list(w, r, entity.TransactionFilter{MinValue: minValue, Limit: listLimit})
}

func (h *handler) suspicious(w http.ResponseWriter, r *http.Request) {
	minRisk := intParam(r.URL.Query().Get("minRisk"), defaultSuspiciousMinRisk)
	h.list(w, r, entity.TransactionFilter{MinRiskScore: minRisk, Limit: listLimit})
}

func (h *handler) list(w http.ResponseWriter, r *http.Request, filter entity.TransactionFilter) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, err := h.monitor.Query(ctx, filter)
	if err != nil {
		h.fail(w, "query transactions", err)
		return
	}
	result.Transactions = nonNil(result.Transactions)
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	report, err := h.monitor.Health(ctx)
	if err != nil {
		h.fail(w, "build health report", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handler) fail(w http.ResponseWriter, action string, err error) {
	h.logger.Error("Request failed", zap.String("action", action), zap.Error(err))
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "failed to " + action})
}

func (h *handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		h.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

// intParam parses a positive integer query value, falling back to def
func intParam(raw string, def int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func nonNil(txs []*entity.EnrichedTransaction) []*entity.EnrichedTransaction {
	if txs == nil {
		return []*entity.EnrichedTransaction{}
	}
	return txs
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
