package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"bitcoin-tx-monitor/internal/domain/entity"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxInboundMessageSize = 64 * 1024

// normalCloseCodes are close codes of an expected disconnect
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

// Client is one connected subscriber
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
	filter *entity.TransactionFilter
}

// ID returns the subscriber id
func (c *Client) ID() string {
	return c.id
}

// StandingFilter returns the filter of the last pull request, if any
func (c *Client) StandingFilter() *entity.TransactionFilter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.filter == nil {
		return nil
	}
	f := *c.filter
	return &f
}

// enqueue queues a message without blocking. It reports false when the
// client is gone or its queue is full.
func (c *Client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close stops the write pump. Only the hub calls it.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump handles pull requests until the connection fails
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	pongTimeout := c.hub.config.PongTimeout
	c.conn.SetReadLimit(maxInboundMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Debug("Subscriber read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(EventError, errorData{Message: "invalid message"})
			continue
		}

		switch msg.Event {
		case EventRequestFilteredData:
			c.handlePull(msg.Data)
		default:
			c.hub.logger.Debug("Ignoring subscriber event",
				zap.String("client_id", c.id),
				zap.String("event", msg.Event))
		}
	}
}

// handlePull answers a one-shot filtered request and keeps the filter as
// the standing filter. Pushes are not affected by it.
func (c *Client) handlePull(data json.RawMessage) {
	var filter entity.TransactionFilter
	if len(data) > 0 {
		if err := json.Unmarshal(data, &filter); err != nil {
			c.reply(EventError, errorData{Message: "invalid filter"})
			return
		}
	}
	filter.Limit = filter.LimitOr(c.hub.config.DefaultPullLimit)

	c.mu.Lock()
	c.filter = &filter
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.hub.config.WriteTimeout)
	defer cancel()

	result, err := c.hub.source.Query(ctx, filter)
	if err != nil {
		c.hub.logger.Warn("Failed to answer pull request", zap.String("client_id", c.id), zap.Error(err))
		c.reply(EventError, errorData{Message: "query failed"})
		return
	}
	c.reply(EventFilteredData, result)
}

func (c *Client) reply(event string, data any) {
	msg, err := encode(event, data)
	if err != nil {
		c.hub.logger.Error("Failed to encode reply", zap.String("event", event), zap.Error(err))
		return
	}
	if !c.enqueue(msg) {
		c.hub.drop(c)
	}
}

// writePump writes queued messages and keepalive pings
func (c *Client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	writeTimeout := c.hub.config.WriteTimeout
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("Subscriber write error", zap.String("client_id", c.id), zap.Error(err))
				c.hub.remove(c)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.remove(c)
				return
			}
		}
	}
}
