package narration

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024

	MessageTypeSpeak  = "speak"
	MessageTypeCancel = "cancel"
	MessageTypeSpoken = "spoken"

	defaultWordsPerSecond = 2.5
	minSpeakDuration      = time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message is the websocket wire format. The daemon sends speak and cancel; a listener
// may answer spoken once it finished voicing a line.
type Message struct {
	Type string `json:"type"`
	Line *Line  `json:"line,omitempty"`
	ID   string `json:"id,omitempty"`
}

// Hub is a Speaker that hands lines to connected browser or phone listeners, which voice
// them with their own speech synthesis. With no listener connected a line is only logged.
type Hub struct {
	clock          clock.Clock
	logger         *slog.Logger
	wordsPerSecond float64

	mu    sync.RWMutex
	conns map[*hubConn]struct{}
	acks  map[string]chan struct{}
}

func NewHub(clk clock.Clock, logger *slog.Logger) *Hub {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clock:          clk,
		logger:         logger.With("component", "narration-hub"),
		wordsPerSecond: defaultWordsPerSecond,
		conns:          make(map[*hubConn]struct{}),
		acks:           make(map[string]chan struct{}),
	}
}

func (h *Hub) RegisterRoutes(g *echo.Group) {
	g.GET("/narration/ws", h.HandleWebSocket)
}

func (h *Hub) Listeners() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Speak broadcasts the line and waits until a listener acknowledges it or the estimated
// speaking time runs out.
func (h *Hub) Speak(ctx context.Context, line Line) error {
	h.logger.Info("narration", "priority", line.Priority.String(), "text", line.Text)
	if h.Listeners() == 0 {
		return nil
	}

	ack := make(chan struct{})
	h.mu.Lock()
	h.acks[line.ID] = ack
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.acks, line.ID)
		h.mu.Unlock()
	}()

	h.broadcast(&Message{Type: MessageTypeSpeak, Line: &line})

	timer := h.clock.Timer(h.estimate(line.Text))
	defer timer.Stop()

	select {
	case <-ack:
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		h.broadcast(&Message{Type: MessageTypeCancel, ID: line.ID})
		return ctx.Err()
	}
}

func (h *Hub) estimate(text string) time.Duration {
	words := len(strings.Fields(text))
	d := time.Duration(float64(words) / h.wordsPerSecond * float64(time.Second))
	if d < minSpeakDuration {
		d = minSpeakDuration
	}
	return d
}

func (h *Hub) broadcast(msg *Message) {
	h.mu.RLock()
	conns := make([]*hubConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.send(msg)
	}
}

func (h *Hub) acknowledge(id string) {
	h.mu.Lock()
	ack, ok := h.acks[id]
	if ok {
		delete(h.acks, id)
	}
	h.mu.Unlock()
	if ok {
		close(ack)
	}
}

func (h *Hub) register(c *hubConn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	total := len(h.conns)
	h.mu.Unlock()
	h.logger.Info("listener connected", "listeners", total)
}

func (h *Hub) unregister(c *hubConn) {
	h.mu.Lock()
	delete(h.conns, c)
	total := len(h.conns)
	h.mu.Unlock()
	h.logger.Info("listener disconnected", "listeners", total)
}

func (h *Hub) HandleWebSocket(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return err
	}

	conn := newHubConn(ws, h.logger)
	h.register(conn)

	ctx := c.Request().Context()
	go conn.writePump(ctx)
	conn.readPump(ctx, h)

	h.unregister(conn)
	return nil
}

type hubConn struct {
	ws     *websocket.Conn
	logger *slog.Logger
	out    chan *Message

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newHubConn(ws *websocket.Conn, logger *slog.Logger) *hubConn {
	return &hubConn{
		ws:     ws,
		logger: logger.With("remote", ws.RemoteAddr().String()),
		out:    make(chan *Message, 32),
		done:   make(chan struct{}),
	}
}

func (c *hubConn) send(msg *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.out <- msg:
	default:
		c.logger.Warn("send buffer full, dropping message")
	}
}

func (c *hubConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	_ = c.ws.Close()
}

func (c *hubConn) readPump(ctx context.Context, h *Hub) {
	defer c.close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if ctx.Err() != nil {
			return
		}

		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("ignoring malformed message", "error", err)
			continue
		}
		if msg.Type == MessageTypeSpoken && msg.ID != "" {
			h.acknowledge(msg.ID)
		}
	}
}

func (c *hubConn) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case msg := <-c.out:
			data, err := json.Marshal(msg)
			if err != nil {
				c.logger.Error("failed to marshal message", "error", err)
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("websocket write error", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
