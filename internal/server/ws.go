package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"gocv.io/x/gocv"

	"github.com/ayusman/beabled/internal/app"
	"github.com/ayusman/beabled/internal/region"
)

const (
	writeWait      = 2 * time.Second
	clientQueueLen = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// captionMessage is the JSON pushed to websocket clients for each frame
// whose caption display changed.
type captionMessage struct {
	Type       string              `json:"type"`
	SessionID  string              `json:"session_id"`
	Frame      uint64              `json:"frame"`
	Phase      string              `json:"phase"`
	Caption    string              `json:"caption"`
	History    []string            `json:"history"`
	Box        *region.BoundingBox `json:"box,omitempty"`
	Label      string              `json:"label,omitempty"`
	Confidence float64             `json:"confidence,omitempty"`
	Degraded   bool                `json:"degraded,omitempty"`
	LatencyMS  float64             `json:"latency_ms"`
	Timestamp  int64               `json:"timestamp"`
}

// CaptionHub broadcasts caption output to websocket clients. It implements
// app.Renderer.
type CaptionHub struct {
	logger *slog.Logger
	// EveryFrame sends every frame, not only those whose caption, history or
	// box presence changed.
	EveryFrame bool

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	last    []byte
	lastOut app.Output
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewCaptionHub returns an empty hub.
func NewCaptionHub(logger *slog.Logger) *CaptionHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &CaptionHub{
		logger:  logger,
		clients: make(map[*hubClient]struct{}),
	}
}

// Clients returns the number of connected clients.
func (h *CaptionHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Render encodes out and queues it for every client. Slow clients drop
// messages instead of blocking the frame loop.
func (h *CaptionHub) Render(_ *gocv.Mat, out app.Output) {
	h.mu.Lock()
	changed := h.EveryFrame || h.last == nil || displayChanged(h.lastOut, out)
	h.lastOut = out
	if !changed {
		h.mu.Unlock()
		return
	}

	msg, err := json.Marshal(toMessage(out))
	if err != nil {
		h.mu.Unlock()
		h.logger.Warn("failed to encode caption", "err", err)
		return
	}
	h.last = msg

	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

func displayChanged(prev, next app.Output) bool {
	if prev.SessionID != next.SessionID || prev.Caption != next.Caption || prev.Phase != next.Phase {
		return true
	}
	if (prev.Box == nil) != (next.Box == nil) || prev.Degraded != next.Degraded {
		return true
	}
	if len(prev.History) != len(next.History) {
		return true
	}
	for i := range prev.History {
		if prev.History[i] != next.History[i] {
			return true
		}
	}
	return false
}

func toMessage(out app.Output) captionMessage {
	msg := captionMessage{
		Type:       "caption",
		SessionID:  out.SessionID,
		Frame:      out.Frame,
		Phase:      string(out.Phase),
		Caption:    out.Caption,
		History:    out.History,
		Box:        out.Box,
		Label:      out.Label,
		Confidence: out.Confidence,
		Degraded:   out.Degraded,
		LatencyMS:  float64(out.Latency) / float64(time.Millisecond),
		Timestamp:  out.Timestamp.UnixMilli(),
	}
	if msg.History == nil {
		msg.History = []string{}
	}
	return msg
}

// ServeHTTP upgrades the request and streams captions until the client
// disconnects. A newly connected client receives the latest caption first.
func (h *CaptionHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade error", "err", err)
		return
	}

	c := &hubClient{conn: conn, send: make(chan []byte, clientQueueLen)}

	h.mu.Lock()
	if h.last != nil {
		c.send <- h.last
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	done := make(chan struct{})
	go h.writeLoop(c, done)

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(done)
	conn.Close()
}

func (h *CaptionHub) writeLoop(c *hubClient, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}
