package service

import (
	"math"
	"time"

	"bitcoin-tx-monitor/internal/domain/entity"
	"bitcoin-tx-monitor/internal/domain/repository"
	"bitcoin-tx-monitor/internal/infrastructure/logger"

	"github.com/axiomhq/hyperloglog"
	"go.uber.org/zap"
)

// TrackerConfig holds the thresholds used by the aggregate tracker
type TrackerConfig struct {
	HighValueThreshold  int64 // satoshis
	SuspiciousRiskScore int
	RateWindow          time.Duration
}

// DefaultTrackerConfig returns the default tracker thresholds
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		HighValueThreshold:  entity.Coins(100),
		SuspiciousRiskScore: 50,
		RateWindow:          time.Minute,
	}
}

// AggregateTracker maintains running statistics over the enriched transaction stream.
// It is not safe for concurrent use; the monitor service owns it.
type AggregateTracker struct {
	repo      repository.TransactionRepository
	cfg       TrackerConfig
	stats     entity.AggregateStats
	addresses *hyperloglog.Sketch
	now       func() time.Time
	logger    *logger.Logger
}

// NewAggregateTracker creates a new aggregate tracker reading rates from repo
func NewAggregateTracker(repo repository.TransactionRepository, cfg TrackerConfig, logger *logger.Logger) *AggregateTracker {
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	return &AggregateTracker{
		repo:      repo,
		cfg:       cfg,
		addresses: hyperloglog.New14(),
		now:       time.Now,
		logger:    logger.WithComponent("aggregate-tracker"),
	}
}

// OnTransaction updates counters and the transaction rate for a stored transaction
func (t *AggregateTracker) OnTransaction(tx *entity.EnrichedTransaction) {
	if tx == nil {
		return
	}

	t.stats.TotalTransactions++
	t.stats.TotalVolume += tx.Value
	t.stats.TransactionsPerSecond = t.rate()

	if tx.Value > t.cfg.HighValueThreshold {
		t.stats.HighValueCount++
	}
	if tx.RiskScore > t.cfg.SuspiciousRiskScore {
		t.stats.SuspiciousCount++
	}

	for _, addr := range tx.Addresses.From {
		t.addresses.Insert([]byte(addr))
	}
	for _, addr := range tx.Addresses.To {
		t.addresses.Insert([]byte(addr))
	}
	t.stats.UniqueAddresses = t.addresses.Estimate()
}

// OnBlock records the height and time of a new block
func (t *AggregateTracker) OnBlock(block *entity.Block) {
	if block == nil {
		return
	}
	t.stats.LastBlockHeight = block.Height
	t.stats.LastBlockTime = time.Unix(block.Time, 0).UTC()
}

// OnExternalRefresh applies the fields of a refresh whose fetch succeeded.
// Failed fetches leave the previous values in place. It reports whether
// anything was applied.
func (t *AggregateTracker) OnExternalRefresh(snapshot *entity.ExternalSnapshot) bool {
	if snapshot.IsEmpty() {
		t.logger.Debug("Ignoring empty stats refresh, keeping last known values")
		return false
	}

	if snapshot.MempoolSize != nil {
		t.stats.MempoolSize = *snapshot.MempoolSize
	}
	if snapshot.AvgFeeRate != nil {
		t.stats.AvgFeeRate = *snapshot.AvgFeeRate
	}
	// The tip height never moves the last block height backwards
	if snapshot.TipHeight != nil && *snapshot.TipHeight > t.stats.LastBlockHeight {
		t.stats.LastBlockHeight = *snapshot.TipHeight
	}
	if snapshot.NetworkHashrate != nil {
		t.stats.NetworkHashrate = *snapshot.NetworkHashrate
	}

	t.logger.Debug("Applied stats refresh",
		zap.Int64("mempool_size", t.stats.MempoolSize),
		zap.Float64("avg_fee_rate", t.stats.AvgFeeRate),
		zap.Int64("last_block_height", t.stats.LastBlockHeight),
		zap.Float64("network_hashrate", t.stats.NetworkHashrate))
	return true
}

// Stats returns a copy of the current statistics
func (t *AggregateTracker) Stats() entity.AggregateStats {
	return t.stats
}

// rate counts stored transactions observed within the trailing window, per second,
// rounded to one decimal
func (t *AggregateTracker) rate() float64 {
	window := t.cfg.RateWindow
	recent := t.repo.CountSince(t.now().Add(-window))
	return math.Round(float64(recent)/window.Seconds()*10) / 10
}
