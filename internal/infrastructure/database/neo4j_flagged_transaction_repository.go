package database

import (
	"context"
	"fmt"

	"bitcoin-tx-monitor/internal/domain/entity"
	"bitcoin-tx-monitor/internal/domain/repository"
	"bitcoin-tx-monitor/internal/infrastructure/logger"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const recordFlaggedQuery = `
	MERGE (t:FlaggedTransaction {hash: $hash})
	ON CREATE SET
		t.value = $value,
		t.fee = $fee,
		t.size = $size,
		t.risk_score = $risk_score,
		t.priority = $priority,
		t.category = $category,
		t.observed_at = $observed_at
	FOREACH (addr IN $from |
		MERGE (a:Address {address: addr})
		SET a.last_seen = $observed_at
		MERGE (a)-[:SPENT_IN]->(t))
	FOREACH (addr IN $to |
		MERGE (a:Address {address: addr})
		SET a.last_seen = $observed_at
		MERGE (t)-[:PAID]->(a))
`

// Neo4JFlaggedTransactionRepository implements FlaggedTransactionRepository interface
type Neo4JFlaggedTransactionRepository struct {
	client *Neo4JClient
	logger *logger.Logger
}

// NewNeo4JFlaggedTransactionRepository creates a new Neo4J flagged transaction repository
func NewNeo4JFlaggedTransactionRepository(client *Neo4JClient, logger *logger.Logger) repository.FlaggedTransactionRepository {
	return &Neo4JFlaggedTransactionRepository{
		client: client,
		logger: logger.WithComponent("neo4j-flagged-repo"),
	}
}

// RecordFlagged merges the transaction and links it to its input and output addresses
func (r *Neo4JFlaggedTransactionRepository) RecordFlagged(ctx context.Context, tx *entity.EnrichedTransaction) error {
	session := r.client.NewSession(ctx)
	defer session.Close(ctx)

	params := flaggedParams(tx)
	_, err := session.ExecuteWrite(ctx, func(t neo4j.ManagedTransaction) (any, error) {
		return t.Run(ctx, recordFlaggedQuery, params)
	})
	if err != nil {
		return fmt.Errorf("failed to record flagged transaction: %w", err)
	}

	return nil
}

func flaggedParams(tx *entity.EnrichedTransaction) map[string]interface{} {
	return map[string]interface{}{
		"hash":        tx.Hash,
		"value":       tx.Value,
		"fee":         tx.Fee,
		"size":        tx.Size,
		"risk_score":  int64(tx.RiskScore),
		"priority":    string(tx.Priority),
		"category":    string(tx.Category),
		"observed_at": tx.ObservedAt.UnixMilli(),
		"from":        uniqueStrings(tx.Addresses.From),
		"to":          uniqueStrings(tx.Addresses.To),
	}
}

// uniqueStrings returns values without duplicates, keeping first-seen order
func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
