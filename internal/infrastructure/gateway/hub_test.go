package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bitcoin-tx-monitor/internal/domain/entity"
	"bitcoin-tx-monitor/internal/infrastructure/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu          sync.Mutex
	snapshot    *entity.Snapshot
	result      *entity.FilterResult
	filters     []entity.TransactionFilter
	subscribers int
	limits      []int
}

func (f *fakeSource) Snapshot(_ context.Context, limit int) (*entity.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, limit)
	return f.snapshot, nil
}

func (f *fakeSource) Query(_ context.Context, filter entity.TransactionFilter) (*entity.FilterResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)
	return f.result, nil
}

func (f *fakeSource) SetSubscriberCount(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribers = n
}

func (f *fakeSource) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribers
}

func testConfig() HubConfig {
	return HubConfig{
		InitialSnapshotSize: 10,
		DefaultPullLimit:    20,
		MaxClients:          2,
		SendBufferSize:      16,
		WriteTimeout:        time.Second,
		PongTimeout:         5 * time.Second,
		AllowedOrigins:      []string{"http://localhost:3000"},
	}
}

func startHub(t *testing.T, source *fakeSource, config HubConfig) (*Hub, string) {
	t.Helper()

	hub := NewHub(source, config, logger.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
		server.Close()
	})
	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func snapshotWith(hashes ...string) *entity.Snapshot {
	snap := &entity.Snapshot{Stats: entity.AggregateStats{TotalTransactions: int64(len(hashes))}}
	for _, h := range hashes {
		snap.Transactions = append(snap.Transactions, &entity.EnrichedTransaction{ID: h, Hash: h})
	}
	return snap
}

func TestHub_InitialDataIsFirstMessage(t *testing.T) {
	source := &fakeSource{snapshot: snapshotWith("c", "b", "a")}
	_, url := startHub(t, source, testConfig())

	conn := dial(t, url)
	msg := readMessage(t, conn)
	require.Equal(t, EventInitialData, msg.Event)

	var snap entity.Snapshot
	require.NoError(t, json.Unmarshal(msg.Data, &snap))
	require.Len(t, snap.Transactions, 3)
	assert.Equal(t, "c", snap.Transactions[0].Hash)
	assert.Equal(t, int64(3), snap.Stats.TotalTransactions)

	source.mu.Lock()
	assert.Equal(t, []int{10}, source.limits)
	source.mu.Unlock()
}

func TestHub_BroadcastsToEverySubscriber(t *testing.T) {
	source := &fakeSource{snapshot: snapshotWith()}
	hub, url := startHub(t, source, testConfig())

	first, second := dial(t, url), dial(t, url)
	readMessage(t, first)
	readMessage(t, second)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, source.subscriberCount())

	hub.PublishTransaction(&entity.TransactionUpdate{
		Transaction: &entity.EnrichedTransaction{Hash: "live", Priority: entity.PriorityLow},
		Timestamp:   1,
	})
	hub.PublishBlock(&entity.BlockUpdate{Height: 840_003, TxCount: 2})

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readMessage(t, conn)
		require.Equal(t, EventTransaction, msg.Event)
		var update entity.TransactionUpdate
		require.NoError(t, json.Unmarshal(msg.Data, &update))
		assert.Equal(t, "live", update.Transaction.Hash)

		msg = readMessage(t, conn)
		require.Equal(t, EventBlock, msg.Event)
		var block entity.BlockUpdate
		require.NoError(t, json.Unmarshal(msg.Data, &block))
		assert.Equal(t, int64(840_003), block.Height)
	}
}

func TestHub_PullRequestReturnsFilteredData(t *testing.T) {
	source := &fakeSource{
		snapshot: snapshotWith(),
		result: &entity.FilterResult{
			Transactions: []*entity.EnrichedTransaction{{Hash: "high", Priority: entity.PriorityHigh}},
			Count:        2,
		},
	}
	hub, url := startHub(t, source, testConfig())

	conn := dial(t, url)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"event": EventRequestFilteredData,
		"data":  map[string]any{"priority": "HIGH", "minRisk": 40},
	}))

	msg := readMessage(t, conn)
	require.Equal(t, EventFilteredData, msg.Event)
	var result entity.FilterResult
	require.NoError(t, json.Unmarshal(msg.Data, &result))
	assert.Equal(t, 2, result.Count)
	assert.Len(t, result.Transactions, 1)

	want := entity.TransactionFilter{Priority: entity.PriorityHigh, MinRiskScore: 40, Limit: 20}
	source.mu.Lock()
	require.Len(t, source.filters, 1)
	assert.Equal(t, want, source.filters[0])
	source.mu.Unlock()

	client := onlyClient(t, hub)
	require.NotNil(t, client.StandingFilter())
	assert.Equal(t, want, *client.StandingFilter())

	// A later pull replaces the standing filter
	require.NoError(t, conn.WriteJSON(map[string]any{
		"event": EventRequestFilteredData,
		"data":  map[string]any{"minValue": 500, "limit": 5},
	}))
	require.Equal(t, EventFilteredData, readMessage(t, conn).Event)
	assert.Equal(t, entity.TransactionFilter{MinValue: 500, Limit: 5}, *client.StandingFilter())

	// Pushes ignore the standing filter
	hub.PublishTransaction(&entity.TransactionUpdate{
		Transaction: &entity.EnrichedTransaction{Hash: "small", Value: 1, Priority: entity.PriorityLow},
	})
	msg = readMessage(t, conn)
	require.Equal(t, EventTransaction, msg.Event)
	var update entity.TransactionUpdate
	require.NoError(t, json.Unmarshal(msg.Data, &update))
	assert.Equal(t, "small", update.Transaction.Hash)
}

func onlyClient(t *testing.T, hub *Hub) *Client {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	for client := range hub.clients {
		return client
	}
	return nil
}

func TestNewHub_FallsBackToDefaultLimits(t *testing.T) {
	config := testConfig()
	config.InitialSnapshotSize = 0
	config.DefaultPullLimit = -1

	hub := NewHub(&fakeSource{}, config, logger.NewNopLogger())
	assert.Equal(t, DefaultInitialSnapshotSize, hub.config.InitialSnapshotSize)
	assert.Equal(t, DefaultPullLimit, hub.config.DefaultPullLimit)
}

func TestHub_InvalidMessageGetsErrorReply(t *testing.T) {
	source := &fakeSource{snapshot: snapshotWith()}
	_, url := startHub(t, source, testConfig())

	conn := dial(t, url)
	readMessage(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, EventError, readMessage(t, conn).Event)
}

func TestHub_RejectsBeyondMaxClients(t *testing.T) {
	source := &fakeSource{snapshot: snapshotWith()}
	hub, url := startHub(t, source, testConfig())

	dial(t, url)
	dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHub_DisconnectUpdatesCount(t *testing.T) {
	source := &fakeSource{snapshot: snapshotWith()}
	hub, url := startHub(t, source, testConfig())

	conn := dial(t, url)
	readMessage(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, source.subscriberCount())
}

func TestHub_CheckOrigin(t *testing.T) {
	hub := NewHub(&fakeSource{}, testConfig(), logger.NewNopLogger())

	tests := []struct {
		origin string
		want   bool
	}{
		{origin: "", want: true},
		{origin: "http://localhost:3000", want: true},
		{origin: "http://monitor.example:4000", want: true},
		{origin: "https://evil.example", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://monitor.example:4000/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, hub.checkOrigin(r))
		})
	}
}
