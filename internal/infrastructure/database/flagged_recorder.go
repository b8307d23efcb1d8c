package database

import (
	"context"
	"time"

	"bitcoin-tx-monitor/internal/domain/entity"
	"bitcoin-tx-monitor/internal/domain/repository"
	"bitcoin-tx-monitor/internal/infrastructure/logger"
	"bitcoin-tx-monitor/internal/infrastructure/metrics"

	"go.uber.org/zap"
)

// FlaggedRecorder exports high-risk transactions to a repository on a
// background worker. Recording is best effort: a full queue drops the record.
type FlaggedRecorder struct {
	repo         repository.FlaggedTransactionRepository
	minRiskScore int
	writeTimeout time.Duration
	queue        chan *entity.EnrichedTransaction
	logger       *logger.Logger
}

// NewFlaggedRecorder creates a new flagged transaction recorder
func NewFlaggedRecorder(
	repo repository.FlaggedTransactionRepository,
	minRiskScore, queueSize int,
	writeTimeout time.Duration,
	logger *logger.Logger,
) *FlaggedRecorder {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &FlaggedRecorder{
		repo:         repo,
		minRiskScore: minRiskScore,
		writeTimeout: writeTimeout,
		queue:        make(chan *entity.EnrichedTransaction, queueSize),
		logger:       logger.WithComponent("flagged-recorder"),
	}
}

// PublishTransaction queues the transaction when its risk score reaches the threshold
func (r *FlaggedRecorder) PublishTransaction(update *entity.TransactionUpdate) {
	tx := update.Transaction
	if tx == nil || tx.RiskScore < r.minRiskScore {
		return
	}

	select {
	case r.queue <- tx:
	default:
		metrics.DroppedMessages.WithLabelValues("flagged_recorder").Inc()
		r.logger.Warn("Flagged queue is full, dropping record", zap.String("hash", tx.Hash))
	}
}

// PublishBlock is a no-op; only transactions are recorded
func (r *FlaggedRecorder) PublishBlock(*entity.BlockUpdate) {}

// Run writes queued records until ctx is cancelled
func (r *FlaggedRecorder) Run(ctx context.Context) error {
	r.logger.Info("Flagged recorder started", zap.Int("min_risk_score", r.minRiskScore))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Flagged recorder stopped", zap.Int("pending", len(r.queue)))
			return nil
		case tx := <-r.queue:
			r.write(ctx, tx)
		}
	}
}

func (r *FlaggedRecorder) write(ctx context.Context, tx *entity.EnrichedTransaction) {
	writeCtx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	if err := r.repo.RecordFlagged(writeCtx, tx); err != nil {
		r.logger.Error("Failed to record flagged transaction",
			zap.String("hash", tx.Hash),
			zap.Int("risk_score", tx.RiskScore),
			zap.Error(err))
		return
	}

	r.logger.Debug("Recorded flagged transaction", zap.String("hash", tx.Hash), zap.Int("risk_score", tx.RiskScore))
}
