package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// SatoshisPerCoin is the number of smallest units in one whole bitcoin.
// Every coin-denominated threshold is expressed as a multiple of it.
const SatoshisPerCoin int64 = 100_000_000

// Coins converts a whole-coin amount into satoshis
func Coins(n int64) int64 {
	return n * SatoshisPerCoin
}

// SatoshisToCoins converts a satoshi amount into an exact decimal coin amount
func SatoshisToCoins(sats int64) decimal.Decimal {
	return decimal.New(sats, -8)
}

// Priority represents the display priority of an enriched transaction
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// IsValid reports whether the priority is one of the known values
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Category represents the structural shape of a transaction
type Category string

const (
	CategorySimpleTransfer   Category = "SIMPLE_TRANSFER"
	CategoryConsolidation    Category = "CONSOLIDATION"
	CategoryBatchPayment     Category = "BATCH_PAYMENT"
	CategoryWhaleTransaction Category = "WHALE_TRANSACTION"
	CategoryLowFee           Category = "LOW_FEE"
	CategoryStandard         Category = "STANDARD"
)

// PrevOut is the previous output referenced by a transaction input
type PrevOut struct {
	Addr  string `json:"addr"`
	Value int64  `json:"value"`
}

// TxInput is a single input of a raw transaction
type TxInput struct {
	PrevOut *PrevOut `json:"prev_out"`
}

// TxOutput is a single output of a raw transaction
type TxOutput struct {
	Value int64  `json:"value"`
	Addr  string `json:"addr"`
}

// RawTransaction is an unconfirmed transaction as delivered by the upstream feed
type RawTransaction struct {
	Hash   string     `json:"hash"`
	Out    []TxOutput `json:"out"`
	Inputs []TxInput  `json:"inputs"`
	Size   int64      `json:"size"`
	Fee    int64      `json:"fee"`
	Time   int64      `json:"time"`
}

// TotalValue returns the sum of all output amounts
func (r *RawTransaction) TotalValue() int64 {
	var total int64
	for _, out := range r.Out {
		total += out.Value
	}
	return total
}

// Addresses represents the input and output addresses of a transaction
type Addresses struct {
	From []string `json:"from"`
	To   []string `json:"to"`
}

// EnrichedTransaction is a raw transaction augmented with risk classification.
// It is never mutated after it has been stored.
type EnrichedTransaction struct {
	ID         string    `json:"id"`
	Hash       string    `json:"hash"`
	Value      int64     `json:"value"`
	Fee        int64     `json:"fee"`
	Size       int64     `json:"size"`
	Time       time.Time `json:"time"`
	Inputs     int       `json:"inputs"`
	Outputs    int       `json:"outputs"`
	Addresses  Addresses `json:"addresses"`
	RiskScore  int       `json:"riskScore"`
	Priority   Priority  `json:"priority"`
	Category   Category  `json:"category"`
	ObservedAt time.Time `json:"observedAt"`
}

// ValueCoins returns the transaction value in whole coins
func (t *EnrichedTransaction) ValueCoins() decimal.Decimal {
	return SatoshisToCoins(t.Value)
}

// Block represents a new-block event from the upstream feed
type Block struct {
	Height int64  `json:"height"`
	Hash   string `json:"hash"`
	Time   int64  `json:"time"`
	NTx    int64  `json:"n_tx"`
	Size   int64  `json:"size"`
}
