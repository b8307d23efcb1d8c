package feed

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"bitcoin-tx-monitor/internal/domain/entity"
	"bitcoin-tx-monitor/internal/infrastructure/logger"
	"bitcoin-tx-monitor/internal/infrastructure/metrics"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

// Connection states
const (
	StateDisconnected  = "DISCONNECTED"
	StateConnecting    = "CONNECTING"
	StateSubscribed    = "SUBSCRIBED"
	StateReconnectWait = "RECONNECT_WAIT"
)

// States lists every connection state
var States = []string{StateDisconnected, StateConnecting, StateSubscribed, StateReconnectWait}

// Ingestor receives decoded frames, one at a time
type Ingestor interface {
	IngestTransaction(ctx context.Context, raw *entity.RawTransaction) (*entity.EnrichedTransaction, error)
	IngestBlock(ctx context.Context, block *entity.Block) error
}

// Connector keeps a session with the upstream source open, reconnecting
// after a fixed delay for as long as it runs
type Connector struct {
	source         Source
	ingestor       Ingestor
	reconnectDelay time.Duration
	state          atomic.Value
	logger         *logger.Logger
}

// NewConnector creates a new feed connector
func NewConnector(source Source, ingestor Ingestor, reconnectDelay time.Duration, logger *logger.Logger) *Connector {
	c := &Connector{
		source:         source,
		ingestor:       ingestor,
		reconnectDelay: reconnectDelay,
		logger:         logger.WithComponent("feed-connector").WithFields(map[string]interface{}{"source": source.Name()}),
	}
	c.setState(StateDisconnected)
	return c
}

// State returns the current connection state
func (c *Connector) State() string {
	return c.state.Load().(string)
}

func (c *Connector) setState(state string) {
	c.state.Store(state)
	metrics.SetFeedState(state, States)
}

// Run connects and processes frames until ctx is cancelled
func (c *Connector) Run(ctx context.Context) error {
	defer c.setState(StateDisconnected)

	err := retry.Do(
		func() error {
			return c.session(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(c.reconnectDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.setState(StateReconnectWait)
			metrics.FeedReconnects.Inc()
			c.logger.Warn("Feed session ended, reconnecting",
				zap.Uint("attempt", n+1),
				zap.Duration("delay", c.reconnectDelay),
				zap.Error(err))
		}),
	)
	if ctx.Err() != nil {
		c.logger.Info("Feed connector stopped")
		return nil
	}
	return err
}

// session runs one connection from open to failure
func (c *Connector) session(ctx context.Context) error {
	c.setState(StateConnecting)
	c.logger.Info("Connecting to feed")

	stream, err := c.source.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return retry.Unrecoverable(ctx.Err())
		}
		return fmt.Errorf("failed to open feed: %w", err)
	}
	defer stream.Close()

	c.setState(StateSubscribed)
	c.logger.Info("Subscribed to feed")

	for {
		data, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Unrecoverable(ctx.Err())
			}
			return fmt.Errorf("feed stream failed: %w", err)
		}
		c.handle(ctx, data)
	}
}

// handle decodes one frame and hands it to the ingestor. Bad frames are dropped.
func (c *Connector) handle(ctx context.Context, data []byte) {
	frame, err := Decode(data)
	if err != nil {
		metrics.DecodeErrors.Inc()
		c.logger.Warn("Discarding malformed frame", zap.Int("bytes", len(data)), zap.Error(err))
		return
	}

	switch frame.Op {
	case OpTransaction:
		if _, err := c.ingestor.IngestTransaction(ctx, frame.Transaction); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("Failed to ingest transaction",
				zap.String("hash", frame.Transaction.Hash),
				zap.Error(err))
		}
	case OpBlock:
		if err := c.ingestor.IngestBlock(ctx, frame.Block); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("Failed to ingest block",
				zap.Int64("height", frame.Block.Height),
				zap.Error(err))
		}
	default:
		c.logger.Debug("Ignoring frame", zap.String("op", frame.Op))
	}
}
