package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bitcoin-tx-monitor/internal/infrastructure/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebsocketSourceConfig configures the upstream websocket client
type WebsocketSourceConfig struct {
	URL              string
	SubscribeOps     []string
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	WriteTimeout     time.Duration
}

// WebsocketSource dials the upstream websocket feed and sends the
// subscription handshake on every new session
type WebsocketSource struct {
	config WebsocketSourceConfig
	dialer *websocket.Dialer
	logger *logger.Logger
}

// NewWebsocketSource creates a new websocket source
func NewWebsocketSource(config WebsocketSourceConfig, logger *logger.Logger) *WebsocketSource {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	return &WebsocketSource{
		config: config,
		dialer: &websocket.Dialer{HandshakeTimeout: config.HandshakeTimeout},
		logger: logger.WithComponent("websocket-source"),
	}
}

// Name returns the source kind
func (s *WebsocketSource) Name() string {
	return "websocket"
}

// Open dials the feed and subscribes to every configured op
func (s *WebsocketSource) Open(ctx context.Context) (Stream, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	for _, op := range s.config.SubscribeOps {
		conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		if err := conn.WriteJSON(Envelope{Op: op}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to send %s subscription: %w", op, err)
		}
	}

	s.logger.Debug("Sent subscription handshake",
		zap.String("url", s.config.URL),
		zap.Strings("ops", s.config.SubscribeOps))

	stream := &websocketStream{
		conn:        conn,
		readTimeout: s.config.ReadTimeout,
		done:        make(chan struct{}),
	}
	conn.SetPongHandler(func(string) error {
		stream.extendDeadline()
		return nil
	})

	go stream.watch(ctx)
	if s.config.PingInterval > 0 {
		go stream.pingLoop(s.config.PingInterval, s.config.WriteTimeout)
	}

	return stream, nil
}

type websocketStream struct {
	conn        *websocket.Conn
	readTimeout time.Duration
	done        chan struct{}
	closeOnce   sync.Once
}

// Next reads the next text frame
func (s *websocketStream) Next(ctx context.Context) ([]byte, error) {
	for {
		s.extendDeadline()
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (s *websocketStream) extendDeadline() {
	if s.readTimeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	}
}

// watch closes the connection when ctx ends so a blocked read returns
func (s *websocketStream) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		s.Close()
	case <-s.done:
	}
}

func (s *websocketStream) pingLoop(interval, writeTimeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

// Close closes the connection
func (s *websocketStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}
