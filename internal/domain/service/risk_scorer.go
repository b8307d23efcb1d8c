package service

import (
	"time"

	"bitcoin-tx-monitor/internal/domain/entity"
)

// Value tiers, in satoshis
var (
	tierLarge  = entity.Coins(500)
	tierMedium = entity.Coins(100)
	tierSmall  = entity.Coins(10)
)

const (
	maxRiskScore = 100

	// minimalFee is the absolute fee, in satoshis, below which a transaction is LOW_FEE
	minimalFee int64 = 1000

	roundOutputWeight = 3
)

// Assessment is the risk classification of a single raw transaction
type Assessment struct {
	RiskScore int
	Priority  entity.Priority
	Category  entity.Category
}

// RiskScorer classifies raw transactions with additive heuristics.
// It holds no state; every method is deterministic.
type RiskScorer struct{}

// NewRiskScorer creates a new risk scorer
func NewRiskScorer() *RiskScorer {
	return &RiskScorer{}
}

// Score computes the risk score, priority and category of a raw transaction
func (s *RiskScorer) Score(raw *entity.RawTransaction) Assessment {
	if raw == nil {
		raw = &entity.RawTransaction{}
	}
	value := raw.TotalValue()
	score := riskScore(raw, value)

	return Assessment{
		RiskScore: score,
		Priority:  priority(value, score),
		Category:  category(raw, value),
	}
}

// Enrich builds the enriched record for a raw transaction observed at the given time
func (s *RiskScorer) Enrich(raw *entity.RawTransaction, observedAt time.Time) *entity.EnrichedTransaction {
	if raw == nil {
		raw = &entity.RawTransaction{}
	}
	a := s.Score(raw)

	return &entity.EnrichedTransaction{
		ID:         raw.Hash,
		Hash:       raw.Hash,
		Value:      raw.TotalValue(),
		Fee:        raw.Fee,
		Size:       raw.Size,
		Time:       time.Unix(raw.Time, 0).UTC(),
		Inputs:     len(raw.Inputs),
		Outputs:    len(raw.Out),
		Addresses:  addresses(raw),
		RiskScore:  a.RiskScore,
		Priority:   a.Priority,
		Category:   a.Category,
		ObservedAt: observedAt,
	}
}

func riskScore(raw *entity.RawTransaction, value int64) int {
	score := 0

	// High value
	switch {
	case value > tierLarge:
		score += 40
	case value > tierMedium:
		score += 30
	case value > tierSmall:
		score += 20
	}

	// Many inputs or outputs (mixing patterns)
	inputs, outputs := len(raw.Inputs), len(raw.Out)
	switch {
	case inputs > 20:
		score += 25
	case inputs > 10:
		score += 15
	}
	switch {
	case outputs > 50:
		score += 20
	case outputs > 20:
		score += 10
	}

	// Low fee rate, only meaningful with a known size
	if raw.Size > 0 {
		feeRate := float64(raw.Fee) / float64(raw.Size)
		switch {
		case feeRate < 1:
			score += 30
		case feeRate < 10:
			score += 15
		}
	}

	// Round whole-coin outputs
	distinct := make(map[int64]struct{}, outputs)
	for _, out := range raw.Out {
		if out.Value != 0 && out.Value%entity.SatoshisPerCoin == 0 {
			score += roundOutputWeight
		}
		distinct[out.Value] = struct{}{}
	}

	// Repeated output amounts
	if float64(len(distinct)) < float64(outputs)/2 {
		score += 15
	}

	if score > maxRiskScore {
		return maxRiskScore
	}
	if score < 0 {
		return 0
	}
	return score
}

func priority(value int64, score int) entity.Priority {
	switch {
	case value > tierLarge || score > 80:
		return entity.PriorityCritical
	case value > tierMedium || score > 60:
		return entity.PriorityHigh
	case value > tierSmall || score > 30:
		return entity.PriorityMedium
	default:
		return entity.PriorityLow
	}
}

func category(raw *entity.RawTransaction, value int64) entity.Category {
	inputs, outputs := len(raw.Inputs), len(raw.Out)

	switch {
	case outputs > 50:
		return entity.CategoryBatchPayment
	case inputs > 20:
		return entity.CategoryConsolidation
	case outputs == 2 && inputs == 1:
		return entity.CategorySimpleTransfer
	case value > tierMedium:
		return entity.CategoryWhaleTransaction
	case raw.Fee < minimalFee:
		return entity.CategoryLowFee
	default:
		return entity.CategoryStandard
	}
}

func addresses(raw *entity.RawTransaction) entity.Addresses {
	addrs := entity.Addresses{
		From: make([]string, 0, len(raw.Inputs)),
		To:   make([]string, 0, len(raw.Out)),
	}
	for _, in := range raw.Inputs {
		if in.PrevOut != nil && in.PrevOut.Addr != "" {
			addrs.From = append(addrs.From, in.PrevOut.Addr)
		}
	}
	for _, out := range raw.Out {
		if out.Addr != "" {
			addrs.To = append(addrs.To, out.Addr)
		}
	}
	return addrs
}
