package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"tokenexchange/src/metrics"
	"tokenexchange/src/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS is handled by the router
		return true
	},
}

// Hub fans newly recorded trades out to websocket subscribers. A client may
// restrict itself to one asset with ?asset=ID. Slow clients are dropped.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
	metrics *metrics.Metrics
}

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	assetID string
	id      string
}

func NewHub() *Hub {
	return &Hub{clients: map[*client]struct{}{}}
}

func (h *Hub) WithMetrics(m *metrics.Metrics) *Hub {
	h.metrics = m
	return h
}

// Run blocks until ctx ends, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.metrics.SetStreamClients(0)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.metrics.SetStreamClients(len(h.clients))
	logger.WithFields(map[string]interface{}{
		"component": "TradeStream",
		"client":    c.id,
		"asset_id":  c.assetID,
		"total":     len(h.clients),
	}).Info("Stream client connected")
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.metrics.SetStreamClients(len(h.clients))
	logger.WithFields(map[string]interface{}{
		"component": "TradeStream",
		"client":    c.id,
		"total":     len(h.clients),
	}).Info("Stream client disconnected")
}

// PublishTrade implements the recorder's publisher hook. It never blocks on
// a client.
func (h *Hub) PublishTrade(ctx context.Context, trade model.Trade) error {
	message, err := json.Marshal(trade)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.assetID != "" && c.assetID != trade.AssetID {
			continue
		}
		select {
		case c.send <- message:
		default:
			delete(h.clients, c)
			close(c.send)
			logger.WithField("client", c.id).Warn("Dropping slow stream client")
		}
	}
	h.metrics.SetStreamClients(len(h.clients))
	h.metrics.ObservePublish("websocket", nil)
	return nil
}

// ServeWS upgrades the request and streams trades until the peer leaves.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	c := &client{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		assetID: r.URL.Query().Get("asset"),
		id:      conn.RemoteAddr().String(),
	}
	if !h.register(c) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// readPump only services control frames; clients do not send data.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.WithField("client", c.id).WithError(err).Debug("Stream read error")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
