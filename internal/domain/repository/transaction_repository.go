package repository

import (
	"context"
	"time"

	"bitcoin-tx-monitor/internal/domain/entity"
)

// TransactionRepository defines the interface for the recent-transaction store
type TransactionRepository interface {
	// Insert stores a transaction, evicting the oldest one when full
	Insert(tx *entity.EnrichedTransaction)

	// Recent returns up to limit transactions, most recent first
	Recent(limit int) []*entity.EnrichedTransaction

	// Filter returns up to limit matching transactions, most recent first,
	// together with the total number of matches
	Filter(filter entity.TransactionFilter, limit int) ([]*entity.EnrichedTransaction, int)

	// CountSince counts transactions observed strictly after t
	CountSince(t time.Time) int

	// Len returns the number of stored transactions
	Len() int

	// Capacity returns the maximum number of stored transactions
	Capacity() int
}

// FlaggedTransactionRepository defines the interface for exporting suspicious transaction flows
type FlaggedTransactionRepository interface {
	// RecordFlagged records a flagged transaction with its address flow
	RecordFlagged(ctx context.Context, tx *entity.EnrichedTransaction) error
}
