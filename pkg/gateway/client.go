package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/telescribe/telescribe/pkg/broadcast"
	"github.com/telescribe/telescribe/pkg/errorsx"
)

// Hub holds the subscriber websocket connections hosted by this process
// and delivers transcript text to them. It is the direct-mode counterpart
// of the remote management API.
type Hub struct {
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]*clientConn
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		conns:  make(map[string]*clientConn),
	}
}

// Has reports whether the hub hosts a connection locally.
func (h *Hub) Has(connectionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.conns[connectionID]
	return ok
}

// Deliver enqueues one text frame onto a hosted connection's send channel.
func (h *Hub) Deliver(_ context.Context, connectionID, text string) error {
	h.mu.Lock()
	c := h.conns[connectionID]
	h.mu.Unlock()
	if c == nil {
		return errorsx.Wrap(errors.New("no client connection "+connectionID), errorsx.ReasonDeliverySend)
	}
	c.enqueue([]byte(text))
	return nil
}

// Kill closes a hosted connection.
func (h *Hub) Kill(_ context.Context, connectionID string) error {
	h.mu.Lock()
	c := h.conns[connectionID]
	delete(h.conns, connectionID)
	h.mu.Unlock()
	if c == nil {
		return errorsx.Wrap(errors.New("no client connection "+connectionID), errorsx.ReasonDeliveryKill)
	}
	return c.close()
}

func (h *Hub) add(id string, c *clientConn) {
	h.mu.Lock()
	h.conns[id] = c
	h.mu.Unlock()
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	c := h.conns[id]
	delete(h.conns, id)
	h.mu.Unlock()
	if c != nil {
		_ = c.close()
	}
}

// Close tears down every hosted connection.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]*clientConn)
	h.mu.Unlock()
	for _, c := range conns {
		_ = c.close()
	}
}

type clientConn struct {
	conn   *websocket.Conn
	sendCh chan []byte
	closed atomic.Bool
}

func (c *clientConn) enqueue(b []byte) {
	select {
	case c.sendCh <- b:
	default:
	}
}

func (c *clientConn) loop() {
	for msg := range c.sendCh {
		_ = c.conn.WriteMessage(websocket.TextMessage, msg)
	}
}

func (c *clientConn) close() error {
	if c.closed.CompareAndSwap(false, true) {
		close(c.sendCh)
	}
	return c.conn.Close()
}

// clientAction is what subscribers send on their websocket.
type clientAction struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
	Payload string `json:"payload"`
}

// handleClient hosts one subscriber websocket: register with the router,
// honor subscribe/send actions, purge on disconnect.
func (g *Gateway) handleClient(w http.ResponseWriter, r *http.Request) {
	if g.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	id := uuid.NewString()
	c := &clientConn{
		conn:   conn,
		sendCh: make(chan []byte, 256),
	}
	g.hub.add(id, c)
	g.router.Connect(id)
	go c.loop()
	g.logger.Debug("client connected", slog.String("connection_id", id))

	defer func() {
		g.router.Disconnect(id)
		g.hub.remove(id)
		g.logger.Debug("client disconnected", slog.String("connection_id", id))
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var action clientAction
		if err := json.Unmarshal(msg, &action); err != nil {
			c.enqueue([]byte(`{"error":"bad message"}`))
			continue
		}
		switch action.Action {
		case "subscribe", "sub":
			ch, err := broadcast.ParseChannel(action.Channel)
			if err != nil {
				c.enqueue([]byte(`{"error":"unknown channel"}`))
				continue
			}
			if err := g.router.Subscribe(ch, id); err != nil {
				c.enqueue([]byte(`{"error":"unknown channel"}`))
				continue
			}
			c.enqueue([]byte(`{"subscribed":"` + string(ch) + `"}`))
		case "send":
			g.router.Broadcast(r.Context(), action.Payload)
		default:
			c.enqueue([]byte(`{"error":"unknown action"}`))
		}
	}
}
