package stats

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"bitcoin-tx-monitor/internal/domain/entity"
	"bitcoin-tx-monitor/internal/infrastructure/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, hashrateStatus int) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/mempool", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"count":1000,"vsize":523000,"avgFee_10":12.5}`))
	})
	mux.HandleFunc("/api/blocks/tip/height", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("840010\n"))
	})
	mux.HandleFunc("/api/v1/mining/hashrate/1d", func(w http.ResponseWriter, r *http.Request) {
		if hashrateStatus != http.StatusOK {
			w.WriteHeader(hashrateStatus)
			return
		}
		w.Write([]byte(`{"currentHashrate":6.2e20,"currentDifficulty":8.6e13}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestClient(baseURL string) *Client {
	return NewClient(ClientConfig{
		BaseURL:       baseURL + "/api/",
		MempoolPath:   "/mempool",
		TipHeightPath: "/blocks/tip/height",
		HashratePath:  "/v1/mining/hashrate/1d",
		Timeout:       time.Second,
	})
}

func TestClient_Endpoints(t *testing.T) {
	server := newTestServer(t, http.StatusOK)
	client := newTestClient(server.URL)
	ctx := context.Background()

	info, err := client.Mempool(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), info.Count)
	require.NotNil(t, info.AvgFeeRate)
	assert.Equal(t, 12.5, *info.AvgFeeRate)

	height, err := client.TipHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(840010), height)

	hashrate, err := client.Hashrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6.2e20, hashrate)
}

func TestClient_ErrorStatus(t *testing.T) {
	server := newTestServer(t, http.StatusServiceUnavailable)

	_, err := newTestClient(server.URL).Hashrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

type recordingApplier struct {
	mu        sync.Mutex
	snapshots []*entity.ExternalSnapshot
}

func (r *recordingApplier) ApplyRefresh(_ context.Context, snapshot *entity.ExternalSnapshot, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, snapshot)
	return nil
}

func (r *recordingApplier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func TestRefresher_FailedLookupLeavesFieldUnset(t *testing.T) {
	server := newTestServer(t, http.StatusInternalServerError)
	refresher := NewRefresher(newTestClient(server.URL), &recordingApplier{}, time.Minute, time.Second, logger.NewNopLogger())

	snapshot, err := refresher.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), EndpointHashrate)
	require.NotNil(t, snapshot.MempoolSize)
	assert.Equal(t, int64(1000), *snapshot.MempoolSize)
	require.NotNil(t, snapshot.AvgFeeRate)
	require.NotNil(t, snapshot.TipHeight)
	assert.Equal(t, int64(840010), *snapshot.TipHeight)
	assert.Nil(t, snapshot.NetworkHashrate)
}

func TestRefresher_UnreachableUpstreamYieldsEmptySnapshot(t *testing.T) {
	refresher := NewRefresher(newTestClient("http://127.0.0.1:1"), &recordingApplier{}, time.Minute, time.Second, logger.NewNopLogger())

	snapshot, err := refresher.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, snapshot.IsEmpty())
}

func TestRefresher_FetchSucceeds(t *testing.T) {
	server := newTestServer(t, http.StatusOK)
	refresher := NewRefresher(newTestClient(server.URL), &recordingApplier{}, time.Minute, time.Second, logger.NewNopLogger())

	snapshot, err := refresher.Fetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snapshot.NetworkHashrate)
	assert.Equal(t, 6.2e20, *snapshot.NetworkHashrate)
}

func TestRefresher_RunFetchesImmediatelyAndOnTick(t *testing.T) {
	server := newTestServer(t, http.StatusOK)
	applier := &recordingApplier{}
	refresher := NewRefresher(newTestClient(server.URL), applier, 20*time.Millisecond, time.Second, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- refresher.Run(ctx) }()

	require.Eventually(t, func() bool { return applier.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	applier.mu.Lock()
	defer applier.mu.Unlock()
	first := applier.snapshots[0]
	require.NotNil(t, first.NetworkHashrate)
	assert.Equal(t, 6.2e20, *first.NetworkHashrate)
}
