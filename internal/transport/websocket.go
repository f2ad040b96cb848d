package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mcp-jive/jive/internal/events"
	"github.com/mcp-jive/jive/internal/metrics"
	"github.com/mcp-jive/jive/internal/namespace"
	"github.com/mcp-jive/jive/internal/protocol"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent.
	pongWait = 90 * time.Second
	// pingPeriod is the server-side keepalive interval.
	pingPeriod = 30 * time.Second
)

// eventMethod is the notification method for pushed lifecycle events.
const eventMethod = "jive/event"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub manages WebSocket connections. Each connection speaks the same
// JSON-RPC surface as stdio and HTTP, and additionally receives bus
// events as jive/event notifications.
type Hub struct {
	handler  *protocol.Handler
	bus      *events.Bus
	maxConns int
	logger   *zap.Logger

	mu    sync.Mutex
	conns map[string]*wsClient
}

type wsClient struct {
	id        string
	conn      *websocket.Conn
	pathNS    string
	headerNS  string
	headerSet bool
	done      chan struct{}

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewHub creates the WebSocket hub. bus may be nil to disable event push.
func NewHub(handler *protocol.Handler, bus *events.Bus, maxConns int, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxConns < 1 {
		maxConns = 64
	}
	return &Hub{
		handler:  handler,
		bus:      bus,
		maxConns: maxConns,
		logger:   logger.Named("websocket"),
		conns:    make(map[string]*wsClient),
	}
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Serve upgrades the request and runs the connection until it closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if len(h.conns) >= h.maxConns {
		h.mu.Unlock()
		http.Error(w, "connection limit reached", http.StatusServiceUnavailable)
		return
	}
	h.mu.Unlock()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{
		id:        uuid.NewString(),
		conn:      conn,
		pathNS:    r.PathValue("namespace"),
		headerNS:  r.Header.Get(namespace.Header),
		headerSet: len(r.Header.Values(namespace.Header)) > 0,
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	metrics.ConnectionOpened()
	h.logger.Info("connection opened",
		zap.String("conn_id", c.id),
		zap.String("remote", r.RemoteAddr),
		zap.String("path_namespace", c.pathNS))

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go h.pingLoop(c)
	if h.bus != nil {
		go h.forwardEvents(c)
	}

	h.readLoop(r.Context(), c)
	h.drop(c)
}

func (h *Hub) readLoop(ctx context.Context, c *wsClient) {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("read failed", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}
		c.wg.Add(1)
		go func(frame []byte) {
			defer c.wg.Done()
			out := h.handler.HandleMessage(ctx, frame, protocol.Binding{
				Transport:       "websocket",
				PathNamespace:   c.pathNS,
				HeaderNamespace: c.headerNS,
				HeaderSet:       c.headerSet,
			})
			if out != nil {
				h.send(c, out)
			}
		}(raw)
	}
}

func (h *Hub) pingLoop(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// forwardEvents pushes bus events to the client as notifications. A
// connection bound to a path namespace only sees that namespace.
func (h *Hub) forwardEvents(c *wsClient) {
	ch := h.bus.Subscribe(c.id)
	defer h.bus.Unsubscribe(c.id)
	for {
		select {
		case <-c.done:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if c.pathNS != "" && evt.Namespace != c.pathNS {
				continue
			}
			frame, err := json.Marshal(map[string]any{
				"jsonrpc": protocol.Version,
				"method":  eventMethod,
				"params":  evt,
			})
			if err != nil {
				continue
			}
			h.send(c, frame)
		}
	}
}

func (h *Hub) send(c *wsClient, frame []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		h.logger.Debug("write failed", zap.String("conn_id", c.id), zap.Error(err))
	}
}

func (h *Hub) drop(c *wsClient) {
	h.mu.Lock()
	_, present := h.conns[c.id]
	delete(h.conns, c.id)
	h.mu.Unlock()
	if !present {
		return
	}
	close(c.done)
	c.wg.Wait()
	_ = c.conn.Close()
	metrics.ConnectionClosed()
	h.logger.Info("connection closed", zap.String("conn_id", c.id))
}

// CloseAll disconnects every client, for shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.conns))
	for _, c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		h.drop(c)
	}
}
