// Package broadcast assembles state snapshots and fans them out to every
// connected websocket client.
package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nrsilver/venue/internal/models"
	"github.com/nrsilver/venue/internal/store"
)

const writeTimeout = 10 * time.Second

// PriceReader exposes the engine state the snapshot needs
type PriceReader interface {
	CurrentPrice() float64
	History() []models.PricePoint
}

// message is the single outbound frame type
type message struct {
	Type string           `json:"type"`
	Data *models.Snapshot `json:"data"`
}

// client is one websocket connection with a bounded send queue. A full
// queue drops the oldest snapshot: a newer full snapshot supersedes it,
// so per-client freshness stays monotonic.
type client struct {
	conn *websocket.Conn
	send chan []byte
	log  *zap.Logger
}

// enqueue never blocks the caller. On overflow the oldest queued frame is
// discarded to make room.
func (c *client) enqueue(msg []byte) {
	select {
	case c.send <- msg:
	default:
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- msg:
		default:
		}
	}
}

// writePump drains the send queue onto the connection
func (c *client) writePump() {
	for msg := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			c.log.Debug("failed to set write deadline", zap.Error(err))
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Hub tracks connected clients and pushes a fresh snapshot to all of them
// after every state mutation. Fan-out is fire-and-forget: a slow client
// never blocks the mutation path or other clients.
type Hub struct {
	ledger    store.Ledger
	prices    PriceReader
	queueSize int
	log       *zap.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates a hub with no connected clients
func NewHub(ledger store.Ledger, prices PriceReader, queueSize int, log *zap.Logger) *Hub {
	return &Hub{
		ledger:    ledger,
		prices:    prices,
		queueSize: queueSize,
		log:       log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWS upgrades the connection, sends the initial snapshot and keeps
// the client registered until it disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.queueSize), log: h.log}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go c.writePump()

	// initial snapshot for this connection only
	if data, err := h.marshalSnapshot(r.Context()); err == nil {
		c.enqueue(data)
	} else {
		h.log.Warn("failed to build initial snapshot", zap.Error(err))
	}

	// drain reads to detect disconnect
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(c.send)
	conn.Close()
}

// Broadcast rebuilds the snapshot and enqueues it for every client
func (h *Hub) Broadcast() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := h.marshalSnapshot(ctx)
	if err != nil {
		h.log.Warn("failed to build snapshot", zap.Error(err))
		return
	}

	h.mu.Lock()
	for c := range h.clients {
		c.enqueue(data)
	}
	h.mu.Unlock()
}

func (h *Hub) marshalSnapshot(ctx context.Context) ([]byte, error) {
	snap, err := BuildSnapshot(ctx, h.ledger, h.prices.CurrentPrice(), h.prices.History())
	if err != nil {
		return nil, err
	}
	return json.Marshal(message{Type: "stateUpdate", Data: snap})
}
