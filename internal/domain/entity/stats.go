package entity

import (
	"time"
)

// AggregateStats represents the running statistics of the monitored feed.
// Counters only grow; gauges are overwritten by external refreshes.
type AggregateStats struct {
	TotalTransactions     int64     `json:"totalTransactions"`
	TotalVolume           int64     `json:"totalVolume"`
	TransactionsPerSecond float64   `json:"transactionsPerSecond"`
	AvgFeeRate            float64   `json:"avgFeeRate"`
	MempoolSize           int64     `json:"mempoolSize"`
	NetworkHashrate       float64   `json:"networkHashrate"`
	LastBlockHeight       int64     `json:"lastBlockHeight"`
	LastBlockTime         time.Time `json:"lastBlockTime"`
	HighValueCount        int64     `json:"highValueCount"`
	SuspiciousCount       int64     `json:"suspiciousCount"`
	UniqueAddresses       uint64    `json:"uniqueAddresses"`
}

// ExternalSnapshot carries the result of one periodic stats refresh.
// A nil field means the corresponding fetch failed and must not be applied.
type ExternalSnapshot struct {
	MempoolSize     *int64
	AvgFeeRate      *float64
	TipHeight       *int64
	NetworkHashrate *float64
}

// IsEmpty reports whether every fetch in the snapshot failed
func (s *ExternalSnapshot) IsEmpty() bool {
	return s == nil || (s.MempoolSize == nil && s.AvgFeeRate == nil && s.TipHeight == nil && s.NetworkHashrate == nil)
}

// PerformanceMetrics represents processing latency figures of the monitor
type PerformanceMetrics struct {
	APILatency           int64     `json:"apiLatency"`
	DataProcessingTime   int64     `json:"dataProcessingTime"`
	WebsocketConnections int64     `json:"websocketConnections"`
	UptimeStart          time.Time `json:"uptimeStart"`
	TotalDataProcessed   int64     `json:"totalDataProcessed"`
}

// TransactionUpdate is pushed to subscribers for every new transaction
type TransactionUpdate struct {
	Transaction *EnrichedTransaction `json:"transaction"`
	Stats       AggregateStats       `json:"stats"`
	Performance PerformanceMetrics   `json:"performance"`
	Timestamp   int64                `json:"timestamp"`
}

// BlockUpdate is pushed to subscribers for every new block
type BlockUpdate struct {
	Height    int64     `json:"height"`
	Hash      string    `json:"hash"`
	Time      time.Time `json:"time"`
	TxCount   int64     `json:"txCount"`
	Size      int64     `json:"size"`
	Timestamp int64     `json:"timestamp"`
}

// Snapshot is the state handed to a subscriber on connect
type Snapshot struct {
	Transactions []*EnrichedTransaction `json:"transactions"`
	Stats        AggregateStats         `json:"stats"`
	Performance  PerformanceMetrics     `json:"performance"`
}

// FilterResult is the answer to a one-shot filtered query
type FilterResult struct {
	Transactions []*EnrichedTransaction `json:"transactions"`
	Count        int                    `json:"count"`
}

// StatsReport is the current statistics with the process uptime in milliseconds
type StatsReport struct {
	Stats       AggregateStats     `json:"stats"`
	Performance PerformanceMetrics `json:"performance"`
	Uptime      int64              `json:"uptime"`
}

// HealthReport represents the liveness state of the process. Uptime is in milliseconds.
type HealthReport struct {
	Status                string `json:"status"`
	Uptime                int64  `json:"uptime"`
	Connections           int64  `json:"connections"`
	TransactionsProcessed int64  `json:"transactionsProcessed"`
	AvgLatency            int64  `json:"avgLatency"`
	AvgProcessingTime     int64  `json:"avgProcessingTime"`
	FeedState             string `json:"feedState,omitempty"`
}
