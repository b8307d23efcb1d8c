package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"bitcoin-tx-monitor/internal/domain/entity"
	"bitcoin-tx-monitor/internal/domain/repository"
	"bitcoin-tx-monitor/internal/domain/service"
	"bitcoin-tx-monitor/internal/infrastructure/logger"
	"bitcoin-tx-monitor/internal/infrastructure/metrics"

	"go.uber.org/zap"
)

// ErrMonitorStopped is returned for requests submitted after the monitor stopped
var ErrMonitorStopped = errors.New("monitor stopped")

// MonitorConfig holds the monitor settings
type MonitorConfig struct {
	Tracker                TrackerConfig
	PerformanceLogInterval time.Duration
}

// MonitorApplicationService implements MonitorService interface.
// It owns the transaction store and the aggregate tracker: every request runs
// as a closure on the goroutine started by Run, one at a time.
type MonitorApplicationService struct {
	scorer  *service.RiskScorer
	repo    repository.TransactionRepository
	tracker *AggregateTracker
	cfg     MonitorConfig

	requests chan func()
	stopped  chan struct{}

	perf        entity.PerformanceMetrics
	subscribers atomic.Int64

	mu        sync.RWMutex
	sinks     []service.UpdateSink
	feedState service.FeedStateReporter

	now    func() time.Time
	logger *logger.Logger
}

// NewMonitorApplicationService creates a new monitor application service
func NewMonitorApplicationService(
	repo repository.TransactionRepository,
	scorer *service.RiskScorer,
	cfg MonitorConfig,
	logger *logger.Logger,
) *MonitorApplicationService {
	if cfg.PerformanceLogInterval <= 0 {
		cfg.PerformanceLogInterval = 30 * time.Second
	}
	s := &MonitorApplicationService{
		scorer:   scorer,
		repo:     repo,
		tracker:  NewAggregateTracker(repo, cfg.Tracker, logger),
		cfg:      cfg,
		requests: make(chan func()),
		stopped:  make(chan struct{}),
		now:      time.Now,
		logger:   logger.WithComponent("monitor-service"),
	}
	s.tracker.now = func() time.Time { return s.now() }
	s.perf.UptimeStart = s.now()
	return s
}

// RegisterSink adds a receiver for every transaction and block update
func (s *MonitorApplicationService) RegisterSink(sink service.UpdateSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// SetFeedStateReporter sets the source of the feed state shown in health reports
func (s *MonitorApplicationService) SetFeedStateReporter(r service.FeedStateReporter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedState = r
}

// SetSubscriberCount records the number of connected subscribers
func (s *MonitorApplicationService) SetSubscriberCount(n int) {
	s.subscribers.Store(int64(n))
}

// Run executes submitted requests until ctx is cancelled
func (s *MonitorApplicationService) Run(ctx context.Context) error {
	defer close(s.stopped)

	ticker := time.NewTicker(s.cfg.PerformanceLogInterval)
	defer ticker.Stop()

	s.logger.Info("Monitor started",
		zap.Int("buffer_capacity", s.repo.Capacity()),
		zap.Duration("rate_window", s.tracker.cfg.RateWindow))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Monitor stopped",
				zap.Int64("transactions_processed", s.perf.TotalDataProcessed))
			return nil
		case fn := <-s.requests:
			fn()
		case <-ticker.C:
			s.logPerformance()
		}
	}
}

// submit runs fn on the monitor goroutine and waits for it to finish.
// The requests channel is unbuffered, so a request that was handed over is
// always executed.
func (s *MonitorApplicationService) submit(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	req := func() {
		defer close(done)
		fn()
	}

	select {
	case s.requests <- req:
	case <-s.stopped:
		return ErrMonitorStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	<-done
	return nil
}

// IngestTransaction scores, stores and broadcasts a raw transaction
func (s *MonitorApplicationService) IngestTransaction(ctx context.Context, raw *entity.RawTransaction) (*entity.EnrichedTransaction, error) {
	var enriched *entity.EnrichedTransaction

	err := s.submit(ctx, func() {
		start := s.now()

		enriched = s.scorer.Enrich(raw, start)
		s.repo.Insert(enriched)
		s.tracker.OnTransaction(enriched)

		elapsed := s.now().Sub(start)
		s.perf.DataProcessingTime = elapsed.Milliseconds()
		s.perf.TotalDataProcessed++

		metrics.TransactionsProcessed.WithLabelValues(string(enriched.Priority)).Inc()
		metrics.ProcessingDuration.Observe(elapsed.Seconds())

		if enriched.Priority == entity.PriorityCritical {
			s.logger.Info("Critical transaction observed",
				zap.String("hash", enriched.Hash),
				zap.String("value", enriched.ValueCoins().String()),
				zap.Int("risk_score", enriched.RiskScore),
				zap.String("category", string(enriched.Category)))
		}

		update := &entity.TransactionUpdate{
			Transaction: enriched,
			Stats:       s.tracker.Stats(),
			Performance: s.performance(),
			Timestamp:   s.now().UnixMilli(),
		}
		for _, sink := range s.sinkList() {
			sink.PublishTransaction(update)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ingest transaction: %w", err)
	}

	return enriched, nil
}

// IngestBlock records and broadcasts a new-block event
func (s *MonitorApplicationService) IngestBlock(ctx context.Context, block *entity.Block) error {
	if block == nil {
		return nil
	}

	err := s.submit(ctx, func() {
		s.tracker.OnBlock(block)
		metrics.BlocksProcessed.Inc()

		s.logger.Info("New block",
			zap.Int64("height", block.Height),
			zap.String("hash", block.Hash),
			zap.Int64("tx_count", block.NTx))

		update := &entity.BlockUpdate{
			Height:    block.Height,
			Hash:      block.Hash,
			Time:      time.Unix(block.Time, 0).UTC(),
			TxCount:   block.NTx,
			Size:      block.Size,
			Timestamp: s.now().UnixMilli(),
		}
		for _, sink := range s.sinkList() {
			sink.PublishBlock(update)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to ingest block: %w", err)
	}

	return nil
}

// ApplyRefresh merges an external stats refresh that took latency to fetch
func (s *MonitorApplicationService) ApplyRefresh(ctx context.Context, snapshot *entity.ExternalSnapshot, latency time.Duration) error {
	err := s.submit(ctx, func() {
		s.perf.APILatency = latency.Milliseconds()
		s.tracker.OnExternalRefresh(snapshot)
	})
	if err != nil {
		return fmt.Errorf("failed to apply stats refresh: %w", err)
	}

	return nil
}

// Snapshot returns the most recent limit transactions with current stats
func (s *MonitorApplicationService) Snapshot(ctx context.Context, limit int) (*entity.Snapshot, error) {
	var snap *entity.Snapshot

	err := s.submit(ctx, func() {
		snap = &entity.Snapshot{
			Transactions: s.repo.Recent(limit),
			Stats:        s.tracker.Stats(),
			Performance:  s.performance(),
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to take snapshot: %w", err)
	}

	return snap, nil
}

// Query runs a one-shot filtered read. A zero limit returns every match.
func (s *MonitorApplicationService) Query(ctx context.Context, filter entity.TransactionFilter) (*entity.FilterResult, error) {
	var result *entity.FilterResult

	err := s.submit(ctx, func() {
		txs, total := s.repo.Filter(filter, filter.Limit)
		result = &entity.FilterResult{Transactions: txs, Count: total}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}

	return result, nil
}

// Stats returns the current statistics and performance figures
func (s *MonitorApplicationService) Stats(ctx context.Context) (*entity.StatsReport, error) {
	var report *entity.StatsReport

	err := s.submit(ctx, func() {
		perf := s.performance()
		report = &entity.StatsReport{
			Stats:       s.tracker.Stats(),
			Performance: perf,
			Uptime:      s.now().Sub(perf.UptimeStart).Milliseconds(),
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}

	return report, nil
}

// Health returns the liveness report
func (s *MonitorApplicationService) Health(ctx context.Context) (*entity.HealthReport, error) {
	var report *entity.HealthReport

	err := s.submit(ctx, func() {
		perf := s.performance()
		report = &entity.HealthReport{
			Status:                "healthy",
			Uptime:                s.now().Sub(perf.UptimeStart).Milliseconds(),
			Connections:           perf.WebsocketConnections,
			TransactionsProcessed: perf.TotalDataProcessed,
			AvgLatency:            perf.APILatency,
			AvgProcessingTime:     perf.DataProcessingTime,
			FeedState:             s.currentFeedState(),
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build health report: %w", err)
	}

	return report, nil
}

func (s *MonitorApplicationService) performance() entity.PerformanceMetrics {
	perf := s.perf
	perf.WebsocketConnections = s.subscribers.Load()
	return perf
}

func (s *MonitorApplicationService) sinkList() []service.UpdateSink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sinks
}

func (s *MonitorApplicationService) currentFeedState() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.feedState == nil {
		return ""
	}
	return s.feedState.State()
}

func (s *MonitorApplicationService) logPerformance() {
	perf := s.performance()
	stats := s.tracker.Stats()

	s.logger.Info("Performance metrics",
		zap.Int64("connections", perf.WebsocketConnections),
		zap.Int64("transactions_processed", perf.TotalDataProcessed),
		zap.Int64("api_latency_ms", perf.APILatency),
		zap.Int64("processing_time_ms", perf.DataProcessingTime),
		zap.Float64("tps", stats.TransactionsPerSecond),
		zap.Int("buffered", s.repo.Len()),
		zap.String("feed_state", s.currentFeedState()))
}

var _ service.MonitorService = (*MonitorApplicationService)(nil)
