package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kitchen-voice/internal/application"
	"kitchen-voice/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

// Event types broadcast on /events.
const (
	EventWake          = "wake"
	EventStatus        = "status"
	EventCommand       = "command"
	EventRejected      = "rejected"
	EventError         = "error"
	EventState         = "state"
	EventSession       = "session"
	EventWakeRestarted = "wake_restarted"
)

type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

type stateChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// EventSource is the callback surface of the engine.
type EventSource interface {
	OnWakeWord(fn func())
	OnStatusChanged(fn func(string))
	OnErrorOccurred(fn func(string))
}

// Hub broadcasts engine events to websocket subscribers. Publishing never
// blocks: a subscriber whose buffer is full is disconnected.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*subscriber]struct{}
	closed  bool
	wg      sync.WaitGroup
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*subscriber]struct{}),
	}
}

// Attach subscribes the hub to the engine callbacks. Commands and state
// changes arrive through the Observer methods instead.
func (h *Hub) Attach(src EventSource) {
	src.OnWakeWord(func() { h.Publish(EventWake, nil) })
	src.OnStatusChanged(func(msg string) { h.Publish(EventStatus, msg) })
	src.OnErrorOccurred(func(msg string) { h.Publish(EventError, msg) })
}

func (h *Hub) StateChanged(from, to domain.EngineState) {
	h.Publish(EventState, stateChange{From: from.String(), To: to.String()})
}

func (h *Hub) SessionStarted(sessionID string) {
	h.Publish(EventSession, sessionID)
}

func (h *Hub) CommandDispatched(cmd domain.VoiceCommand) {
	h.Publish(EventCommand, cmd)
}

func (h *Hub) CommandRejected(reason string) {
	h.Publish(EventRejected, reason)
}

func (h *Hub) WakeRestarted(backend string) {
	h.Publish(EventWakeRestarted, backend)
}

func (h *Hub) Publish(typ string, data any) {
	msg, err := json.Marshal(Event{Type: typ, Time: time.Now().UTC(), Data: data})
	if err != nil {
		h.logger.Error("marshaling event", "type", typ, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("event subscriber too slow, disconnecting", "remote_addr", c.conn.RemoteAddr().String())
			h.dropLocked(c)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &subscriber{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()

	h.logger.Debug("event subscriber connected", "remote_addr", conn.RemoteAddr().String())

	go h.writePump(c)
	go h.readPump(c)
}

// Close disconnects every subscriber and waits for their goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		h.dropLocked(c)
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) drop(c *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *subscriber) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) writePump(c *subscriber) {
	defer h.wg.Done()
	defer c.conn.Close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.drop(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(c)
				return
			}
		}
	}
}

// readPump only services control frames; subscribers never send data.
func (h *Hub) readPump(c *subscriber) {
	defer h.wg.Done()
	defer h.drop(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("event subscriber read error", "error", err)
			}
			return
		}
	}
}

var _ application.Observer = (*Hub)(nil)
