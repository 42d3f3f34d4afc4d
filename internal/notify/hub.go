package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/opensource-finance/kestrel/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsEnvelope frames every message sent to websocket clients.
type wsEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// wsRequest is a client-to-server control message.
type wsRequest struct {
	Action string `json:"action"`
}

type client struct {
	id     string
	conn   *websocket.Conn
	sendCh chan wsEnvelope
}

// Hub fans bus messages out to websocket subscribers. Each connected
// client receives the cached snapshot on attach, then every graph
// update and filtered alert as it is published.
type Hub struct {
	mu       sync.RWMutex
	notifier *Notifier
	bus      domain.EventBus
	clients  map[string]*client
	subs     []domain.Subscription
}

// NewHub creates a hub backed by the given notifier and bus.
func NewHub(notifier *Notifier, bus domain.EventBus) *Hub {
	return &Hub{
		notifier: notifier,
		bus:      bus,
		clients:  make(map[string]*client),
	}
}

// Start subscribes the hub to the broadcast topics. Must be called
// before serving websocket connections.
func (h *Hub) Start(ctx context.Context) error {
	topics := map[string]string{
		domain.TopicGraphUpdate: "graphUpdate",
		domain.TopicAlert:       "alert",
	}

	for topic, msgType := range topics {
		mt := msgType
		sub, err := h.bus.Subscribe(ctx, topic, func(ctx context.Context, msg *domain.Message) error {
			h.broadcast(wsEnvelope{Type: mt, Payload: msg.Payload})
			return nil
		})
		if err != nil {
			return err
		}
		h.subs = append(h.subs, sub)
	}

	return nil
}

// Stop unsubscribes from the bus and disconnects all clients.
func (h *Hub) Stop() {
	for _, sub := range h.subs {
		_ = sub.Unsubscribe()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		close(c.sendCh)
		_ = c.conn.Close()
	}
	h.clients = make(map[string]*client)
}

// ClientCount returns the number of attached websocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the connection and attaches the client to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed",
			"remote_addr", r.RemoteAddr,
			"error", err,
		)
		return
	}

	c := &client{
		id:     uuid.New().String(),
		conn:   conn,
		sendCh: make(chan wsEnvelope, 64),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	slog.Info("websocket client connected",
		"client_id", c.id,
		"remote_addr", r.RemoteAddr,
	)

	// Initial state so the client renders without waiting for the
	// next transaction.
	h.sendSnapshot(r.Context(), c)

	go h.writeLoop(c)
	h.readLoop(r.Context(), c)
}

func (h *Hub) sendSnapshot(ctx context.Context, c *client) {
	update, err := h.notifier.CachedSnapshot(ctx)
	if err != nil {
		slog.Error("failed to compose snapshot for client",
			"client_id", c.id,
			"error", err,
		)
		return
	}

	payload, err := json.Marshal(update)
	if err != nil {
		slog.Error("failed to marshal snapshot",
			"client_id", c.id,
			"error", err,
		)
		return
	}

	select {
	case c.sendCh <- wsEnvelope{Type: "snapshot", Payload: payload}:
	default:
	}
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	defer h.detach(c)

	for {
		var req wsRequest
		if err := c.conn.ReadJSON(&req); err != nil {
			slog.Info("websocket client disconnected",
				"client_id", c.id,
			)
			return
		}

		switch req.Action {
		case "requestSnapshot":
			h.sendSnapshot(ctx, c)
		case "":
			// Ignore frames without an action.
		default:
			slog.Warn("unknown websocket action",
				"client_id", c.id,
				"action", req.Action,
			)
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	for env := range c.sendCh {
		if err := c.conn.WriteJSON(env); err != nil {
			slog.Warn("websocket write failed",
				"client_id", c.id,
				"error", err,
			)
			return
		}
	}
}

func (h *Hub) broadcast(env wsEnvelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		select {
		case c.sendCh <- env:
		default:
			// Slow client, drop the frame rather than block the bus.
		}
	}
}

func (h *Hub) detach(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.sendCh)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}
