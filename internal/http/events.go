package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/framegrab/internal/bus"
	"github.com/nextlevelbuilder/framegrab/pkg/protocol"
)

const (
	// Subscribers only receive; anything larger than a ping is dropped.
	maxEventClientMessage = 4 << 10
	eventPongWait         = 60 * time.Second
	eventPingPeriod       = 30 * time.Second
	eventWriteWait        = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Tokens gate access; origins are as open as the CORS policy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// eventClient is one /events subscriber.
type eventClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("events upgrade failed", "error", err)
		return
	}

	c := &eventClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 32),
	}

	// Prime with the current status so the UI renders without waiting.
	c.enqueue(protocol.EventStatus, mustJSON(s.deps.Status.Snapshot()))

	s.deps.Bus.Subscribe(c.id, func(ev bus.Event) {
		c.enqueue(ev.Name, ev.Raw)
	})
	slog.Debug("events client connected", "client", c.id)

	go c.writePump()
	c.readPump()

	s.deps.Bus.Unsubscribe(c.id)
	close(c.send)
	slog.Debug("events client disconnected", "client", c.id)
}

func (c *eventClient) enqueue(name string, payload json.RawMessage) {
	data, err := json.Marshal(protocol.EventFrame{
		Type:    protocol.FrameTypeEvent,
		Event:   name,
		Payload: payload,
	})
	if err != nil {
		slog.Error("marshal event failed", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("events client buffer full, dropping event", "client", c.id, "event", name)
	}
}

// readPump discards client messages and returns when the socket closes.
func (c *eventClient) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxEventClientMessage)
	c.conn.SetReadDeadline(time.Now().Add(eventPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(eventPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("events read error", "client", c.id, "error", err)
			}
			return
		}
	}
}

func (c *eventClient) writePump() {
	ticker := time.NewTicker(eventPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func mustJSON(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return raw
}
