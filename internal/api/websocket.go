package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// WSMessage is the envelope of every frame in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe.
// Channels are bridge event types ("outlet.state_changed"), "outlet.*" or
// "*". DeviceIDs narrows the channels to some outlets.
type WSSubscribePayload struct {
	Channels  []string `json:"channels"`
	DeviceIDs []string `json:"device_ids,omitempty"`
}

// wsInbound defers payload decoding until the type is known.
type wsInbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Access is gated by tickets, not origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades to the event stream. With auth enabled a
// ticket from POST /api/v1/ws-ticket is required.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var entry ticketEntry
	if s.authEnabled() {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeUnauthorized(w, "ticket query parameter is required")
			return
		}
		var ok bool
		if entry, ok = s.tickets.consume(ticket); !ok {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newWSClient(s.hub, conn, entry)
	s.hub.Register(c)
	go c.writeLoop()
	go c.readLoop()
}

// readLoop handles client frames until the connection fails, then
// unregisters the client.
func (c *WSClient) readLoop() {
	h := c.hub
	defer func() {
		h.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(h.maxRead)
	extend := func() error {
		return c.conn.SetReadDeadline(time.Now().Add(h.pingWait + h.pongWait))
	}
	_ = extend() //nolint:errcheck // failure surfaces on the first read
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", "subject", c.subject, "error", err)
			}
			return
		}
		_ = extend() //nolint:errcheck // failure surfaces on the next read
		c.dispatch(frame)
	}
}

// writeLoop drains the queue and keeps the connection alive with pings.
func (c *WSClient) writeLoop() {
	h := c.hub
	ping := time.NewTicker(h.pingWait)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(h.pongWait)) //nolint:errcheck // write reports it
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.queue:
			if !ok {
				_ = write(websocket.CloseMessage, nil) //nolint:errcheck // best effort
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch handles one client frame.
func (c *WSClient) dispatch(frame []byte) {
	var in wsInbound
	if err := json.Unmarshal(frame, &in); err != nil {
		c.reply("", WSTypeError, errorPayload("invalid JSON message"))
		return
	}

	switch in.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.changeSubscription(in)
	case WSTypePing:
		c.reply(in.ID, WSTypePong, nil)
	default:
		c.reply(in.ID, WSTypeError, errorPayload("unknown message type: "+in.Type))
	}
}

// changeSubscription applies a subscribe or unsubscribe frame.
func (c *WSClient) changeSubscription(in wsInbound) {
	var p WSSubscribePayload
	if len(in.Payload) == 0 || json.Unmarshal(in.Payload, &p) != nil || len(p.Channels) == 0 {
		c.reply(in.ID, WSTypeError, errorPayload(in.Type+" requires a channels list"))
		return
	}
	for _, ch := range p.Channels {
		if !validChannel(ch) {
			c.reply(in.ID, WSTypeError, errorPayload(fmt.Sprintf("unknown channel: %s", ch)))
			return
		}
	}

	key := "subscribed"
	if in.Type == WSTypeSubscribe {
		c.subscribe(p.Channels, p.DeviceIDs)
		c.hub.logger.Debug("websocket subscription",
			"subject", c.subject, "channels", p.Channels, "device_ids", p.DeviceIDs)
	} else {
		key = "unsubscribed"
		c.unsubscribe(p.Channels, p.DeviceIDs)
	}

	body := map[string]any{key: p.Channels}
	if len(p.DeviceIDs) > 0 {
		body["device_ids"] = p.DeviceIDs
	}
	c.reply(in.ID, WSTypeResponse, body)
}

// reply queues a direct answer to the client.
func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}
