package feed

import (
	"context"
	"errors"
	"io"
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

type recordingIngestor struct {
	mu     sync.Mutex
	txs    []string
	blocks []int64
}

func (r *recordingIngestor) IngestTransaction(_ context.Context, raw *entity.RawTransaction) (*entity.EnrichedTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs = append(r.txs, raw.Hash)
	return &entity.EnrichedTransaction{Hash: raw.Hash}, nil
}

func (r *recordingIngestor) IngestBlock(_ context.Context, block *entity.Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks = append(r.blocks, block.Height)
	return nil
}

func (r *recordingIngestor) hashes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.txs...)
}

// scriptedSource fails the first failures opens, then serves frames once and
// blocks on later sessions
type scriptedSource struct {
	mu       sync.Mutex
	failures int
	frames   [][]byte
	opens    int
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Open(ctx context.Context) (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.opens++
	if s.opens <= s.failures {
		return nil, errors.New("connection refused")
	}
	frames := s.frames
	s.frames = nil
	return &sliceStream{frames: frames}, nil
}

func (s *scriptedSource) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

type sliceStream struct {
	frames [][]byte
}

func (s *sliceStream) Next(ctx context.Context) ([]byte, error) {
	if len(s.frames) == 0 {
		if s.frames == nil {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return nil, io.EOF
	}
	frame := s.frames[0]
	s.frames = s.frames[1:]
	return frame, nil
}

func (s *sliceStream) Close() error { return nil }

func runConnector(t *testing.T, c *Connector) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("connector did not stop")
		}
		assert.Equal(t, StateDisconnected, c.State())
	})
	return cancel
}

func TestNewConnector_StartsDisconnected(t *testing.T) {
	c := NewConnector(&scriptedSource{}, &recordingIngestor{}, time.Second, logger.NewNopLogger())

	assert.Equal(t, StateDisconnected, c.State())
	require.NotNil(t, c.logger)
}

func TestConnector_ProcessesFramesAndSkipsMalformed(t *testing.T) {
	source := &scriptedSource{frames: [][]byte{
		[]byte(`{"op":"utx","x":{"hash":"a"}}`),
		[]byte(`garbage`),
		[]byte(`{"op":"status","x":{}}`),
		[]byte(`{"op":"block","x":{"height":840001}}`),
		[]byte(`{"op":"utx","x":{"hash":"b"}}`),
	}}
	ingestor := &recordingIngestor{}
	c := NewConnector(source, ingestor, 10*time.Millisecond, logger.NewNopLogger())
	assert.Equal(t, StateDisconnected, c.State())

	runConnector(t, c)

	require.Eventually(t, func() bool {
		return len(ingestor.hashes()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, ingestor.hashes())
	ingestor.mu.Lock()
	assert.Equal(t, []int64{840001}, ingestor.blocks)
	ingestor.mu.Unlock()
}

func TestConnector_ReconnectsAfterFailures(t *testing.T) {
	source := &scriptedSource{
		failures: 3,
		frames:   [][]byte{[]byte(`{"op":"utx","x":{"hash":"after-reconnect"}}`)},
	}
	ingestor := &recordingIngestor{}
	c := NewConnector(source, ingestor, 10*time.Millisecond, logger.NewNopLogger())

	runConnector(t, c)

	require.Eventually(t, func() bool {
		return len(ingestor.hashes()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, source.openCount())
}

func TestConnector_StreamEndTriggersReconnect(t *testing.T) {
	// An empty non-nil slice ends the first session with EOF
	source := &scriptedSource{frames: [][]byte{}}
	c := NewConnector(source, &recordingIngestor{}, 10*time.Millisecond, logger.NewNopLogger())

	runConnector(t, c)

	require.Eventually(t, func() bool {
		return source.openCount() >= 2 && c.State() == StateSubscribed
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConnector_CancelDuringReconnectWait(t *testing.T) {
	source := &scriptedSource{failures: 1000}
	c := NewConnector(source, &recordingIngestor{}, time.Hour, logger.NewNopLogger())

	cancel := runConnector(t, c)

	require.Eventually(t, func() bool {
		return c.State() == StateReconnectWait
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
}

func TestWebsocketSource_SendsHandshakeAndForwardsFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan string, 4)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for i := 0; i < 2; i++ {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- string(msg)
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"utx","x":{"hash":"ws-1"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"block","x":{"height":840002}}`))

		// Hold the connection until the client goes away
		conn.ReadMessage()
	}))
	t.Cleanup(server.Close)

	source := NewWebsocketSource(WebsocketSourceConfig{
		URL:              "ws" + strings.TrimPrefix(server.URL, "http"),
		SubscribeOps:     []string{"unconfirmed_sub", "blocks_sub"},
		HandshakeTimeout: time.Second,
		ReadTimeout:      5 * time.Second,
	}, logger.NewNopLogger())
	assert.Equal(t, "websocket", source.Name())

	ingestor := &recordingIngestor{}
	c := NewConnector(source, ingestor, 10*time.Millisecond, logger.NewNopLogger())
	runConnector(t, c)

	assert.JSONEq(t, `{"op":"unconfirmed_sub"}`, <-received)
	assert.JSONEq(t, `{"op":"blocks_sub"}`, <-received)

	require.Eventually(t, func() bool {
		ingestor.mu.Lock()
		defer ingestor.mu.Unlock()
		return len(ingestor.txs) == 1 && len(ingestor.blocks) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateSubscribed, c.State())
}

func TestWebsocketSource_DialFailure(t *testing.T) {
	source := NewWebsocketSource(WebsocketSourceConfig{
		URL:              "ws://127.0.0.1:1/inv",
		HandshakeTimeout: 100 * time.Millisecond,
	}, logger.NewNopLogger())

	_, err := source.Open(context.Background())
	assert.Error(t, err)
}

func TestSyntheticSource_StopsOnCancel(t *testing.T) {
	source := NewSyntheticSource(NewSyntheticGenerator(1), time.Millisecond)
	stream, err := source.Open(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	data, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	idle, err := NewSyntheticSource(NewSyntheticGenerator(1), time.Hour).Open(context.Background())
	require.NoError(t, err)
	defer idle.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = idle.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
