package messaging

import (
	"context"
	"errors"
	"fmt"

	"bitcoin-tx-monitor/internal/infrastructure/config"
	"bitcoin-tx-monitor/internal/infrastructure/feed"
	"bitcoin-tx-monitor/internal/infrastructure/logger"
	"bitcoin-tx-monitor/internal/infrastructure/metrics"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ErrConnectionClosed is returned by a NATS stream whose connection closed
var ErrConnectionClosed = errors.New("nats connection closed")

// NATSSource receives raw feed frames from a core NATS queue subscription
type NATSSource struct {
	config *config.NATSConfig
	logger *logger.Logger
}

// NewNATSSource creates a new NATS feed source
func NewNATSSource(cfg *config.NATSConfig, logger *logger.Logger) *NATSSource {
	return &NATSSource{
		config: cfg,
		logger: logger.WithComponent("nats-source"),
	}
}

// Name returns the source kind
func (s *NATSSource) Name() string {
	return "nats"
}

// Open connects and subscribes to the raw frame subject
func (s *NATSSource) Open(ctx context.Context) (feed.Stream, error) {
	conn, err := connect(s.config, "bitcoin-tx-monitor", s.logger)
	if err != nil {
		return nil, err
	}

	stream := newNATSStream(s.config.MaxPendingFrames, s.logger)
	conn.SetClosedHandler(func(*nats.Conn) {
		stream.fail(ErrConnectionClosed)
	})

	subject := Subject(s.config.SubjectPrefix, SubjectRaw)
	sub, err := conn.QueueSubscribe(subject, s.config.ConsumerGroup, stream.handleMessage)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	stream.conn, stream.sub = conn, sub

	s.logger.Info("Subscribed to NATS feed",
		zap.String("subject", subject),
		zap.String("queue_group", s.config.ConsumerGroup))

	return stream, nil
}

type natsStream struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	frames chan []byte
	failed chan error
	logger *logger.Logger
}

func newNATSStream(pending int, logger *logger.Logger) *natsStream {
	if pending <= 0 {
		pending = 1
	}
	return &natsStream{
		frames: make(chan []byte, pending),
		failed: make(chan error, 1),
		logger: logger,
	}
}

// handleMessage queues a frame, dropping it when the queue is full
func (s *natsStream) handleMessage(msg *nats.Msg) {
	select {
	case s.frames <- msg.Data:
	default:
		metrics.DroppedMessages.WithLabelValues("nats_source").Inc()
		s.logger.Warn("Frame queue is full, dropping frame", zap.String("subject", msg.Subject))
	}
}

func (s *natsStream) fail(err error) {
	select {
	case s.failed <- err:
	default:
	}
}

func (s *natsStream) Next(ctx context.Context) ([]byte, error) {
	// Drain queued frames before reporting a failure
	select {
	case data := <-s.frames:
		return data, nil
	default:
	}

	select {
	case data := <-s.frames:
		return data, nil
	case err := <-s.failed:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *natsStream) Close() error {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}
