package entity

import (
	"encoding/json"
)

// TransactionFilter selects enriched transactions. All set criteria must match.
type TransactionFilter struct {
	Priority     Priority `json:"priority,omitempty"`
	Category     Category `json:"category,omitempty"`
	MinValue     int64    `json:"minValue,omitempty"`
	MinRiskScore int      `json:"minRiskScore,omitempty"`
	Limit        int      `json:"limit,omitempty"`
}

// UnmarshalJSON accepts "minRisk" as an alias of "minRiskScore"
func (f *TransactionFilter) UnmarshalJSON(data []byte) error {
	type plain TransactionFilter
	var aux struct {
		plain
		MinRisk *int `json:"minRisk"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*f = TransactionFilter(aux.plain)
	if aux.MinRisk != nil && f.MinRiskScore == 0 {
		f.MinRiskScore = *aux.MinRisk
	}
	return nil
}

// Matches reports whether the transaction satisfies every set criterion
func (f TransactionFilter) Matches(tx *EnrichedTransaction) bool {
	if tx == nil {
		return false
	}
	if f.Priority != "" && tx.Priority != f.Priority {
		return false
	}
	if f.Category != "" && tx.Category != f.Category {
		return false
	}
	if f.MinValue > 0 && tx.Value < f.MinValue {
		return false
	}
	if f.MinRiskScore > 0 && tx.RiskScore < f.MinRiskScore {
		return false
	}
	return true
}

// LimitOr returns the filter limit, or def when none was requested
func (f TransactionFilter) LimitOr(def int) int {
	if f.Limit > 0 {
		return f.Limit
	}
	return def
}
