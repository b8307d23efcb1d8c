// Package gateway fans enriched updates out to websocket subscribers and
// answers their filtered pull requests.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"bitcoin-tx-monitor/internal/domain/entity"
	"bitcoin-tx-monitor/internal/infrastructure/logger"
	"bitcoin-tx-monitor/internal/infrastructure/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Defaults for unset snapshot and pull sizes
const (
	DefaultInitialSnapshotSize = 10
	DefaultPullLimit           = 20
)

// ErrTooManyClients is returned when the subscriber cap is reached
var ErrTooManyClients = errors.New("too many connections")

// Source is the state the gateway reads from
type Source interface {
	Snapshot(ctx context.Context, limit int) (*entity.Snapshot, error)
	Query(ctx context.Context, filter entity.TransactionFilter) (*entity.FilterResult, error)
	SetSubscriberCount(n int)
}

// HubConfig configures the subscriber gateway
type HubConfig struct {
	InitialSnapshotSize int
	DefaultPullLimit    int
	MaxClients          int
	SendBufferSize      int
	WriteTimeout        time.Duration
	PongTimeout         time.Duration
	AllowedOrigins      []string
}

// Hub manages subscriber connections
type Hub struct {
	source   Source
	config   HubConfig
	upgrader websocket.Upgrader

	clients   map[*Client]struct{}
	mu        sync.RWMutex
	broadcast chan []byte
	done      chan struct{}

	totalEvents  atomic.Int64
	totalClients atomic.Int64

	logger *logger.Logger
}

// NewHub creates a new subscriber hub
func NewHub(source Source, config HubConfig, logger *logger.Logger) *Hub {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = 60 * time.Second
	}
	if config.InitialSnapshotSize <= 0 {
		config.InitialSnapshotSize = DefaultInitialSnapshotSize
	}
	if config.DefaultPullLimit <= 0 {
		config.DefaultPullLimit = DefaultPullLimit
	}
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = 256
	}

	h := &Hub{
		source:    source,
		config:    config,
		clients:   make(map[*Client]struct{}),
		broadcast: make(chan []byte, config.SendBufferSize),
		done:      make(chan struct{}),
		logger:    logger.WithComponent("gateway-hub"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Run delivers broadcasts until ctx is cancelled, then closes every subscriber
func (h *Hub) Run(ctx context.Context) error {
	h.logger.Info("Subscriber hub started", zap.Int("max_clients", h.config.MaxClients))
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.updateCount(0)
			h.logger.Info("Subscriber hub stopped", zap.Int64("events", h.totalEvents.Load()))
			return nil

		case msg := <-h.broadcast:
			h.totalEvents.Add(1)
			h.mu.RLock()
			var slow []*Client
			for client := range h.clients {
				if !client.enqueue(msg) {
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()

			for _, client := range slow {
				h.drop(client)
			}
		}
	}
}

// PublishTransaction pushes a transaction update to every subscriber
func (h *Hub) PublishTransaction(update *entity.TransactionUpdate) {
	h.publish(EventTransaction, update)
}

// PublishBlock pushes a block update to every subscriber
func (h *Hub) PublishBlock(update *entity.BlockUpdate) {
	h.publish(EventBlock, update)
}

func (h *Hub) publish(event string, data any) {
	msg, err := encode(event, data)
	if err != nil {
		h.logger.Error("Failed to encode broadcast", zap.String("event", event), zap.Error(err))
		return
	}

	select {
	case h.broadcast <- msg:
	default:
		metrics.DroppedMessages.WithLabelValues("gateway").Inc()
		h.logger.Warn("Broadcast queue full, dropping event", zap.String("event", event))
	}
}

// ClientCount returns the number of connected subscribers
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and registers the subscriber
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	if h.ClientCount() >= h.config.MaxClients {
		http.Error(w, ErrTooManyClients.Error(), http.StatusServiceUnavailable)
		return
	}

	snapshot, err := h.source.Snapshot(r.Context(), h.config.InitialSnapshotSize)
	if err != nil {
		h.logger.Error("Failed to take initial snapshot", zap.Error(err))
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	initial, err := encode(EventInitialData, snapshot)
	if err != nil {
		h.logger.Error("Failed to encode initial snapshot", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.config.SendBufferSize),
	}
	// The snapshot is queued before registration so it is always the first message
	client.send <- initial

	if err := h.add(client); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	go client.writePump(h.config.PongTimeout * 9 / 10)
	go client.readPump()
}

func (h *Hub) add(client *Client) error {
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		return errors.New("hub stopped")
	default:
	}
	if len(h.clients) >= h.config.MaxClients {
		h.mu.Unlock()
		return ErrTooManyClients
	}
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.totalClients.Add(1)
	h.updateCount(n)
	h.logger.Info("Subscriber connected", zap.String("client_id", client.id), zap.Int("total", n))
	return nil
}

// remove unregisters a subscriber and stops its write pump
func (h *Hub) remove(client *Client) bool {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		client.close()
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.updateCount(n)
		h.logger.Info("Subscriber disconnected", zap.String("client_id", client.id), zap.Int("total", n))
	}
	return ok
}

// drop removes a subscriber that cannot keep up
func (h *Hub) drop(client *Client) {
	if h.remove(client) {
		metrics.DroppedMessages.WithLabelValues("subscriber").Inc()
		h.logger.Warn("Dropping slow subscriber", zap.String("client_id", client.id))
	}
}

func (h *Hub) updateCount(n int) {
	metrics.ActiveSubscribers.Set(float64(n))
	h.source.SetSubscriberCount(n)
}

// checkOrigin allows non-browser clients, same-host pages and configured origins
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}
