package messaging

import (
	"fmt"

	"bitcoin-tx-monitor/internal/infrastructure/config"
	"bitcoin-tx-monitor/internal/infrastructure/logger"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subject suffixes under the configured prefix
const (
	SubjectRaw      = "raw"
	SubjectEnriched = "enriched"
	SubjectBlocks   = "blocks"
)

// Subject builds a full subject name
func Subject(prefix, suffix string) string {
	if prefix == "" {
		return suffix
	}
	return fmt.Sprintf("%s.%s", prefix, suffix)
}

// connect opens a NATS connection with the shared reconnect and logging options
func connect(cfg *config.NATSConfig, name string, log *logger.Logger) (*nats.Conn, error) {
	log.Info("Connecting to NATS server", zap.String("url", cfg.URL))

	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectDelay),
		nats.MaxReconnects(cfg.ReconnectAttempts),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}
