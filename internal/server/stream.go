package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"

	"github.com/ayusman/beabled/internal/app"
	"github.com/ayusman/beabled/internal/overlay"
)

// StreamHandler serves an MJPEG preview of the session with the caption
// overlay drawn on. It implements app.Renderer; frames are only encoded
// while at least one client is watching.
type StreamHandler struct {
	logger  *slog.Logger
	watched atomic.Int32

	mu    sync.Mutex
	cond  *sync.Cond
	jpeg  []byte
	seq   uint64
	close bool
}

// NewStreamHandler creates a StreamHandler with no frame yet.
func NewStreamHandler(logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &StreamHandler{logger: logger}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Render draws the overlay on a copy of frame and publishes it as JPEG.
func (h *StreamHandler) Render(frame *gocv.Mat, out app.Output) {
	if h.watched.Load() == 0 || frame == nil || frame.Empty() {
		return
	}

	img := frame.Clone()
	defer img.Close()

	overlay.Draw(&img, overlay.Scene{
		Box:     out.Box,
		Hand:    out.Hand,
		Caption: out.Caption,
		History: out.History,
	})

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		h.logger.Debug("jpeg encode failed", "err", err)
		return
	}
	data := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	h.publish(data)
}

func (h *StreamHandler) publish(jpeg []byte) {
	h.mu.Lock()
	h.jpeg = jpeg
	h.seq++
	h.mu.Unlock()
	h.cond.Broadcast()
}

// Close wakes and disconnects every client.
func (h *StreamHandler) Close() {
	h.mu.Lock()
	h.close = true
	h.mu.Unlock()
	h.cond.Broadcast()
}

// next blocks until a frame newer than seq is published, the handler closes
// or done fires.
func (h *StreamHandler) next(seq uint64, done <-chan struct{}) ([]byte, uint64, bool) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-done:
			h.mu.Lock()
			h.mu.Unlock()
			h.cond.Broadcast()
		case <-stop:
		}
	}()

	h.mu.Lock()
	defer h.mu.Unlock()
	for h.seq == seq && !h.close {
		select {
		case <-done:
			return nil, seq, false
		default:
		}
		h.cond.Wait()
	}
	if h.close {
		return nil, seq, false
	}
	return h.jpeg, h.seq, true
}

// ServeHTTP streams MJPEG frames to connected clients.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.watched.Add(1)
	defer h.watched.Add(-1)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	var seq uint64
	for {
		frame, next, ok := h.next(seq, r.Context().Done())
		if !ok {
			return
		}
		seq = next

		// Write MJPEG frame
		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame))
		if _, err := w.Write(frame); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}
