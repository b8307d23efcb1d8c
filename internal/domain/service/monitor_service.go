package service

import (
	"context"
	"time"

	"bitcoin-tx-monitor/internal/domain/entity"
)

// MonitorService defines the interface of the state owner of the monitoring pipeline
type MonitorService interface {
	// IngestTransaction scores, stores and broadcasts a raw transaction
	IngestTransaction(ctx context.Context, raw *entity.RawTransaction) (*entity.EnrichedTransaction, error)

	// IngestBlock records and broadcasts a new-block event
	IngestBlock(ctx context.Context, block *entity.Block) error

	// ApplyRefresh merges an external stats refresh that took latency to fetch
	ApplyRefresh(ctx context.Context, snapshot *entity.ExternalSnapshot, latency time.Duration) error

	// Snapshot returns the most recent limit transactions with current stats
	Snapshot(ctx context.Context, limit int) (*entity.Snapshot, error)

	// Query runs a one-shot filtered read against the recent transactions
	Query(ctx context.Context, filter entity.TransactionFilter) (*entity.FilterResult, error)

	// Stats returns the current statistics and performance figures
	Stats(ctx context.Context) (*entity.StatsReport, error)

	// Health returns the liveness report
	Health(ctx context.Context) (*entity.HealthReport, error)
}

// UpdateSink receives every enriched update produced by the monitor.
// Implementations must not block.
type UpdateSink interface {
	PublishTransaction(update *entity.TransactionUpdate)
	PublishBlock(update *entity.BlockUpdate)
}

// FeedStateReporter exposes the current upstream connection state
type FeedStateReporter interface {
	State() string
}
