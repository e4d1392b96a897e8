package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"skillcoach-engine/pkg/errors"
	"skillcoach-engine/pkg/live"
	"skillcoach-engine/pkg/metrics"
	"skillcoach-engine/pkg/tracker"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// SessionFeed is the part of the registry the live feed reads from
type SessionFeed interface {
	Subscribe(sessionID string, buffer int) (<-chan tracker.Event, func(), error)
	Live(sessionID string) (live.Snapshot, error)
}

// MessageSnapshot is the type of periodic visualization pushes; the other
// message types mirror tracker event types.
const MessageSnapshot = "snapshot"

// LiveMessage is one frame of the live feed
type LiveMessage struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Event     *tracker.Event `json:"event,omitempty"`
	Live      *live.Snapshot `json:"live,omitempty"`
	Time      time.Time      `json:"time"`
}

const (
	clientBuffer  = 64
	writeWait     = 10 * time.Second
	pingInterval  = 30 * time.Second
	maxClientRead = 4096
)

// WebSocketUpgrader configures the WebSocket connection
var WebSocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Internal surface; the embedding system fronts it
		return true
	},
}

type liveClient struct {
	hub       *LiveHub
	conn      *websocket.Conn
	sessionID string
	send      chan []byte
	done      chan struct{}
}

// LiveHub streams tracker events and visualization snapshots of a session
// to its WebSocket subscribers
type LiveHub struct {
	logger   *logrus.Logger
	sessions SessionFeed
	interval time.Duration

	mutex   sync.RWMutex
	clients map[*liveClient]struct{}
	closed  bool

	stop     chan struct{}
	stopOnce sync.Once
}

// NewLiveHub creates a hub pushing snapshots every interval
func NewLiveHub(logger *logrus.Logger, sessions SessionFeed, interval time.Duration) *LiveHub {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &LiveHub{
		logger:   logger,
		sessions: sessions,
		interval: interval,
		clients:  make(map[*liveClient]struct{}),
		stop:     make(chan struct{}),
	}
}

// ServeWs subscribes the caller to a session's live feed. The feed ends
// after the session_closed event.
func (h *LiveHub) ServeWs(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	events, cancel, err := h.sessions.Subscribe(sessionID, clientBuffer)
	if err != nil {
		errors.WriteError(w, err)
		return
	}

	conn, err := WebSocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		h.logger.WithError(err).Error("Failed to upgrade connection to WebSocket")
		return
	}

	client := &liveClient{
		hub:       h,
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, clientBuffer),
		done:      make(chan struct{}),
	}
	if !h.register(client) {
		cancel()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
	go client.feed(events, cancel)
}

func (h *LiveHub) register(c *liveClient) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	metrics.SetWebSocketClients(len(h.clients))
	h.logger.WithField("session_id", c.sessionID).Info("Client subscribed to live feed")
	return true
}

func (h *LiveHub) unregister(c *liveClient) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.SetWebSocketClients(len(h.clients))
	h.logger.WithField("session_id", c.sessionID).Info("Client left live feed")
}

// ClientCount returns the number of connected clients
func (h *LiveHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Close ends every feed and rejects new subscribers
func (h *LiveHub) Close() {
	h.mutex.Lock()
	h.closed = true
	h.mutex.Unlock()
	h.stopOnce.Do(func() { close(h.stop) })
}

// feed is the only sender on c.send
func (c *liveClient) feed(events <-chan tracker.Event, cancel func()) {
	defer cancel()
	defer c.hub.unregister(c)

	if !c.pushSnapshot() {
		return
	}
	ticker := time.NewTicker(c.hub.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.hub.stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.pushEvent(ev)
			if ev.Type == tracker.EventSessionClosed {
				return
			}
		case <-ticker.C:
			if !c.pushSnapshot() {
				// session is gone; deliver what it emitted before closing
				c.drain(events)
				return
			}
		}
	}
}

func (c *liveClient) pushEvent(ev tracker.Event) {
	c.enqueue(LiveMessage{
		Type:      string(ev.Type),
		SessionID: c.sessionID,
		Event:     &ev,
		Time:      ev.Time,
	})
}

func (c *liveClient) drain(events <-chan tracker.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.pushEvent(ev)
		default:
			return
		}
	}
}

func (c *liveClient) pushSnapshot() bool {
	snapshot, err := c.hub.sessions.Live(c.sessionID)
	if err != nil {
		return false
	}
	c.enqueue(LiveMessage{
		Type:      MessageSnapshot,
		SessionID: c.sessionID,
		Live:      &snapshot,
		Time:      snapshot.TakenAt,
	})
	return true
}

// enqueue drops the message when the client cannot keep up
func (c *liveClient) enqueue(msg LiveMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.WithError(err).Error("Failed to marshal live message")
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.logger.WithFields(logrus.Fields{
			"session_id": c.sessionID,
			"type":       msg.Type,
		}).Debug("Live feed client too slow, dropping message")
	}
}

func (c *liveClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and notices disconnects
func (c *liveClient) readPump() {
	defer close(c.done)
	c.conn.SetReadLimit(maxClientRead)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
