package api

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-pdu/internal/auth"
	"github.com/nerrad567/gray-logic-pdu/internal/bridge"
	"github.com/nerrad567/gray-logic-pdu/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-pdu/internal/infrastructure/logging"
)

const (
	// clientQueueSize is the number of events buffered per client.
	clientQueueSize = 256

	// maxDroppedEvents disconnects a client that keeps falling behind.
	maxDroppedEvents = 64
)

// eventChannels are the channels a client may subscribe to. "outlet.*"
// and "*" are accepted as wildcards.
var eventChannels = map[string]struct{}{
	bridge.EventStateChanged: {},
	bridge.EventTelemetry:    {},
	bridge.EventRemoved:      {},
	bridge.EventDiscovery:    {},
}

// validChannel reports whether a subscription channel is known.
func validChannel(ch string) bool {
	if ch == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(ch, ".*"); ok {
		for known := range eventChannels {
			if strings.HasPrefix(known, prefix+".") {
				return true
			}
		}
		return false
	}
	_, ok := eventChannels[ch]
	return ok
}

// channelMatches reports whether a subscription channel covers eventType.
func channelMatches(ch, eventType string) bool {
	if ch == "*" || ch == eventType {
		return true
	}
	prefix, ok := strings.CutSuffix(ch, ".*")
	return ok && strings.HasPrefix(eventType, prefix+".")
}

// Hub fans bridge events out to WebSocket clients. Each client chooses
// channels and, optionally, the outlets it cares about.
type Hub struct {
	logger   *logging.Logger
	maxRead  int64
	pingWait time.Duration
	pongWait time.Duration

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// NewHub creates a hub. Zero settings take the defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 8192
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 10
	}
	return &Hub{
		logger:   logger,
		maxRead:  int64(cfg.MaxMessageSize),
		pingWait: time.Duration(cfg.PingInterval) * time.Second,
		pongWait: time.Duration(cfg.PongTimeout) * time.Second,
		clients:  make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.shutdown()
	}
}

// Register adds a client.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n, "subject", c.subject)
}

// Unregister removes a client and closes its queue. Safe to call twice.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.closeQueue()
	h.logger.Debug("websocket client disconnected", "clients", n, "subject", c.subject)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish delivers a bridge event to every interested client. It is a
// bridge.Listener and never blocks on a slow client.
func (h *Hub) Publish(ev bridge.Event) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: ev.Type,
		DeviceID:  ev.DeviceID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   ev.Payload,
	})
	if err != nil {
		h.logger.Error("encoding websocket event failed", "type", ev.Type, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		if c.wants(ev.Type, ev.DeviceID) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(data) {
			h.logger.Warn("websocket client too slow, disconnecting", "subject", c.subject)
			c.shutdown()
		}
	}
}

// WSClient is one connected event stream consumer.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn

	// Identity propagated from the ticket; empty when auth is disabled.
	subject string
	role    auth.Role

	mu      sync.Mutex
	queue   chan []byte
	closed  bool
	dropped int

	// channel → outlet identities; an empty set means every outlet.
	subs map[string]map[string]struct{}
}

func newWSClient(h *Hub, conn *websocket.Conn, entry ticketEntry) *WSClient {
	return &WSClient{
		hub:     h,
		conn:    conn,
		subject: entry.subject,
		role:    entry.role,
		queue:   make(chan []byte, clientQueueSize),
		subs:    make(map[string]map[string]struct{}),
	}
}

// subscribe adds channels, optionally narrowed to some outlets. A channel
// subscribed without outlets again widens back to every outlet.
func (c *WSClient) subscribe(channels, deviceIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		if len(deviceIDs) == 0 {
			c.subs[ch] = map[string]struct{}{}
			continue
		}
		set, ok := c.subs[ch]
		if ok && len(set) == 0 {
			continue
		}
		if !ok {
			set = make(map[string]struct{}, len(deviceIDs))
			c.subs[ch] = set
		}
		for _, id := range deviceIDs {
			set[id] = struct{}{}
		}
	}
}

// unsubscribe removes channels, or only the listed outlets from them.
func (c *WSClient) unsubscribe(channels, deviceIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		set, ok := c.subs[ch]
		if !ok {
			continue
		}
		if len(deviceIDs) == 0 {
			delete(c.subs, ch)
			continue
		}
		for _, id := range deviceIDs {
			delete(set, id)
		}
		if len(set) == 0 {
			delete(c.subs, ch)
		}
	}
}

// wants reports whether an event matches any subscription.
func (c *WSClient) wants(eventType, deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch, devices := range c.subs {
		if !channelMatches(ch, eventType) {
			continue
		}
		if len(devices) == 0 {
			return true
		}
		if _, ok := devices[deviceID]; ok {
			return true
		}
	}
	return false
}

// enqueue queues data for the writer. It returns false once the client
// has dropped too many events to be worth keeping.
func (c *WSClient) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.queue <- data:
		c.dropped = 0
		return true
	default:
		c.dropped++
		return c.dropped < maxDroppedEvents
	}
}

// closeQueue stops the writer. Idempotent.
func (c *WSClient) closeQueue() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
}

// shutdown closes the queue and the connection; the read loop then
// unregisters the client.
func (c *WSClient) shutdown() {
	c.closeQueue()
	if c.conn != nil {
		c.conn.Close()
	}
}
