package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bitcoin-tx-monitor/internal/domain/entity"
	"bitcoin-tx-monitor/internal/infrastructure/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFlaggedRepo struct {
	mu       sync.Mutex
	hashes   []string
	attempts int
	err      error
}

func (f *fakeFlaggedRepo) RecordFlagged(_ context.Context, tx *entity.EnrichedTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.err != nil {
		return f.err
	}
	f.hashes = append(f.hashes, tx.Hash)
	return nil
}

func (f *fakeFlaggedRepo) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.hashes...)
}

func update(hash string, score int) *entity.TransactionUpdate {
	return &entity.TransactionUpdate{Transaction: &entity.EnrichedTransaction{Hash: hash, RiskScore: score}}
}

func TestFlaggedRecorder_RecordsOnlyAboveThreshold(t *testing.T) {
	repo := &fakeFlaggedRepo{}
	recorder := NewFlaggedRecorder(repo, 70, 8, time.Second, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- recorder.Run(ctx) }()

	recorder.PublishTransaction(update("low", 69))
	recorder.PublishTransaction(update("edge", 70))
	recorder.PublishTransaction(update("high", 95))
	recorder.PublishTransaction(&entity.TransactionUpdate{})
	recorder.PublishBlock(&entity.BlockUpdate{Height: 1})

	require.Eventually(t, func() bool { return len(repo.recorded()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"edge", "high"}, repo.recorded())

	cancel()
	require.NoError(t, <-done)
}

func TestFlaggedRecorder_DropsWhenQueueFull(t *testing.T) {
	recorder := NewFlaggedRecorder(&fakeFlaggedRepo{}, 0, 1, time.Second, logger.NewNopLogger())

	// Not running, so the second record cannot be queued
	recorder.PublishTransaction(update("a", 80))
	recorder.PublishTransaction(update("b", 80))
	assert.Len(t, recorder.queue, 1)
}

func TestFlaggedRecorder_WriteErrorsDoNotStopTheWorker(t *testing.T) {
	repo := &fakeFlaggedRepo{err: errors.New("neo4j unavailable")}
	recorder := NewFlaggedRecorder(repo, 0, 4, time.Second, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- recorder.Run(ctx) }()

	recorder.PublishTransaction(update("a", 80))
	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return repo.attempts == 1
	}, time.Second, 5*time.Millisecond)

	repo.mu.Lock()
	repo.err = nil
	repo.mu.Unlock()
	recorder.PublishTransaction(update("b", 80))
	require.Eventually(t, func() bool { return len(repo.recorded()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"b"}, repo.recorded())

	cancel()
	require.NoError(t, <-done)
}

func TestFlaggedParams(t *testing.T) {
	observed := time.UnixMilli(1_700_000_000_123)
	params := flaggedParams(&entity.EnrichedTransaction{
		Hash:       "h",
		Value:      entity.Coins(2),
		RiskScore:  88,
		Priority:   entity.PriorityCritical,
		Category:   entity.CategoryBatchPayment,
		ObservedAt: observed,
		Addresses: entity.Addresses{
			From: []string{"a", "a", "b"},
			To:   []string{"c"},
		},
	})

	assert.Equal(t, "h", params["hash"])
	assert.Equal(t, int64(88), params["risk_score"])
	assert.Equal(t, "CRITICAL", params["priority"])
	assert.Equal(t, int64(1_700_000_000_123), params["observed_at"])
	assert.Equal(t, []string{"a", "b"}, params["from"])
	assert.Equal(t, []string{"c"}, params["to"])
}
