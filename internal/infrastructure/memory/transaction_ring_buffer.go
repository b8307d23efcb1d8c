package memory

import (
	"time"

	"bitcoin-tx-monitor/internal/domain/entity"
	"bitcoin-tx-monitor/internal/domain/repository"
)

// DefaultCapacity is the number of transactions retained when none is configured
const DefaultCapacity = 1000

// TransactionRingBuffer implements TransactionRepository as a fixed-capacity
// ring. It is not safe for concurrent use; callers serialize access.
type TransactionRingBuffer struct {
	items []*entity.EnrichedTransaction
	head  int // next write position
	size  int
}

// NewTransactionRingBuffer creates a new ring buffer holding at most capacity transactions
func NewTransactionRingBuffer(capacity int) repository.TransactionRepository {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &TransactionRingBuffer{
		items: make([]*entity.EnrichedTransaction, capacity),
	}
}

// Insert stores a transaction, overwriting the oldest one when full
func (b *TransactionRingBuffer) Insert(tx *entity.EnrichedTransaction) {
	if tx == nil {
		return
	}
	b.items[b.head] = tx
	b.head = (b.head + 1) % len(b.items)
	if b.size < len(b.items) {
		b.size++
	}
}

// Recent returns up to limit transactions, most recent first
func (b *TransactionRingBuffer) Recent(limit int) []*entity.EnrichedTransaction {
	if limit <= 0 || limit > b.size {
		limit = b.size
	}
	out := make([]*entity.EnrichedTransaction, 0, limit)
	b.each(func(tx *entity.EnrichedTransaction) bool {
		out = append(out, tx)
		return len(out) < limit
	})
	return out
}

// Filter returns up to limit matching transactions, most recent first,
// and the total number of matches in the buffer
func (b *TransactionRingBuffer) Filter(filter entity.TransactionFilter, limit int) ([]*entity.EnrichedTransaction, int) {
	out := make([]*entity.EnrichedTransaction, 0)
	total := 0
	b.each(func(tx *entity.EnrichedTransaction) bool {
		if filter.Matches(tx) {
			total++
			if limit <= 0 || len(out) < limit {
				out = append(out, tx)
			}
		}
		return true
	})
	return out, total
}

// CountSince counts transactions observed strictly after t
func (b *TransactionRingBuffer) CountSince(t time.Time) int {
	n := 0
	b.each(func(tx *entity.EnrichedTransaction) bool {
		if tx.ObservedAt.After(t) {
			n++
		}
		return true
	})
	return n
}

// Len returns the number of stored transactions
func (b *TransactionRingBuffer) Len() int {
	return b.size
}

// Capacity returns the maximum number of stored transactions
func (b *TransactionRingBuffer) Capacity() int {
	return len(b.items)
}

// each walks the buffer from newest to oldest until fn returns false
func (b *TransactionRingBuffer) each(fn func(tx *entity.EnrichedTransaction) bool) {
	n := len(b.items)
	for i := 1; i <= b.size; i++ {
		if !fn(b.items[(b.head-i+n)%n]) {
			return
		}
	}
}
