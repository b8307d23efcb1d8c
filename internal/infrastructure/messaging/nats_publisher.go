package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"bitcoin-tx-monitor/internal/domain/entity"
	"bitcoin-tx-monitor/internal/infrastructure/config"
	"bitcoin-tx-monitor/internal/infrastructure/logger"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher is the subset of a NATS connection used for publishing
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher republishes enriched updates and raw frames on NATS
type NATSPublisher struct {
	config *config.NATSConfig
	conn   *nats.Conn
	pub    Publisher
	logger *logger.Logger
}

// NewNATSPublisher creates a new NATS publisher
func NewNATSPublisher(cfg *config.NATSConfig, logger *logger.Logger) *NATSPublisher {
	return &NATSPublisher{
		config: cfg,
		logger: logger.WithComponent("nats-publisher"),
	}
}

// Connect opens the NATS connection
func (p *NATSPublisher) Connect(ctx context.Context) error {
	conn, err := connect(p.config, "bitcoin-tx-monitor-publisher", p.logger)
	if err != nil {
		return err
	}
	p.conn, p.pub = conn, conn
	return nil
}

// Close flushes pending messages and closes the connection
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Flush(); err != nil {
		p.logger.Warn("Failed to flush NATS connection", zap.Error(err))
	}
	p.conn.Close()
	p.conn, p.pub = nil, nil
	return nil
}

// PublishTransaction publishes an enriched transaction update
func (p *NATSPublisher) PublishTransaction(update *entity.TransactionUpdate) {
	p.publishJSON(SubjectEnriched, update)
}

// PublishBlock publishes a block update
func (p *NATSPublisher) PublishBlock(update *entity.BlockUpdate) {
	p.publishJSON(SubjectBlocks, update)
}

// PublishRaw publishes a raw upstream frame for NATS feed consumers
func (p *NATSPublisher) PublishRaw(frame []byte) error {
	if p.pub == nil {
		return fmt.Errorf("publisher is not connected")
	}
	if err := p.pub.Publish(Subject(p.config.SubjectPrefix, SubjectRaw), frame); err != nil {
		return fmt.Errorf("failed to publish raw frame: %w", err)
	}
	return nil
}

func (p *NATSPublisher) publishJSON(suffix string, v any) {
	if p.pub == nil {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("Failed to encode update", zap.String("subject", suffix), zap.Error(err))
		return
	}

	subject := Subject(p.config.SubjectPrefix, suffix)
	if err := p.pub.Publish(subject, data); err != nil {
		p.logger.Warn("Failed to publish update", zap.String("subject", subject), zap.Error(err))
	}
}
