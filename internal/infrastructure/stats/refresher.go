package stats

import (
	"context"
	"fmt"
	"time"

	"bitcoin-tx-monitor/internal/domain/entity"
	"bitcoin-tx-monitor/internal/infrastructure/logger"
	"bitcoin-tx-monitor/internal/infrastructure/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Applier merges a refresh into the aggregate statistics
type Applier interface {
	ApplyRefresh(ctx context.Context, snapshot *entity.ExternalSnapshot, latency time.Duration) error
}

// Fetcher is the set of network stats lookups
type Fetcher interface {
	Mempool(ctx context.Context) (*MempoolInfo, error)
	TipHeight(ctx context.Context) (int64, error)
	Hashrate(ctx context.Context) (float64, error)
}

// Refresher periodically fetches network stats and hands them to the applier.
// Each lookup fails independently of the others.
type Refresher struct {
	fetcher  Fetcher
	applier  Applier
	interval time.Duration
	timeout  time.Duration
	logger   *logger.Logger
}

// NewRefresher creates a new stats refresher
func NewRefresher(fetcher Fetcher, applier Applier, interval, timeout time.Duration, logger *logger.Logger) *Refresher {
	return &Refresher{
		fetcher:  fetcher,
		applier:  applier,
		interval: interval,
		timeout:  timeout,
		logger:   logger.WithComponent("stats-refresher"),
	}
}

// Run refreshes immediately and then on every tick until ctx is cancelled
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("Starting stats refresher", zap.Duration("interval", r.interval))
	r.refresh(ctx)

	for {
		select {
		case <-ticker.C:
			r.refresh(ctx)
		case <-ctx.Done():
			r.logger.Info("Stats refresher stopped")
			return nil
		}
	}
}

// Fetch runs the three lookups in parallel. Failed lookups leave their fields
// nil; the returned error is the first failure, if any.
func (r *Refresher) Fetch(ctx context.Context) (*entity.ExternalSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var snapshot entity.ExternalSnapshot
	var g errgroup.Group

	// A failing lookup must not cancel the others, so the group has no shared context
	g.Go(func() error {
		info, err := r.fetcher.Mempool(ctx)
		if err := r.record(EndpointMempool, err); err != nil {
			return err
		}
		snapshot.MempoolSize = &info.Count
		snapshot.AvgFeeRate = info.AvgFeeRate
		return nil
	})
	g.Go(func() error {
		height, err := r.fetcher.TipHeight(ctx)
		if err := r.record(EndpointTipHeight, err); err != nil {
			return err
		}
		snapshot.TipHeight = &height
		return nil
	})
	g.Go(func() error {
		hashrate, err := r.fetcher.Hashrate(ctx)
		if err := r.record(EndpointHashrate, err); err != nil {
			return err
		}
		snapshot.NetworkHashrate = &hashrate
		return nil
	})

	err := g.Wait()
	return &snapshot, err
}

func (r *Refresher) refresh(ctx context.Context) {
	start := time.Now()
	snapshot, err := r.Fetch(ctx)
	latency := time.Since(start)
	if err != nil && ctx.Err() == nil {
		r.logger.Warn("Stats refresh incomplete, keeping last known values for failed lookups",
			zap.Bool("all_failed", snapshot.IsEmpty()),
			zap.Error(err))
	}

	if err := r.applier.ApplyRefresh(ctx, snapshot, latency); err != nil && ctx.Err() == nil {
		r.logger.Error("Failed to apply stats refresh", zap.Error(err))
		return
	}

	r.logger.Debug("Stats refreshed", zap.Duration("latency", latency))
}

// record counts the outcome of a lookup and tags a failure with its endpoint
func (r *Refresher) record(endpoint string, err error) error {
	if err != nil {
		metrics.StatsFetches.WithLabelValues(endpoint, "error").Inc()
		r.logger.Debug("Stats fetch failed", zap.String("endpoint", endpoint), zap.Error(err))
		return fmt.Errorf("%s lookup: %w", endpoint, err)
	}
	metrics.StatsFetches.WithLabelValues(endpoint, "ok").Inc()
	return nil
}
