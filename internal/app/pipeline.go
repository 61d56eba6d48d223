package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/beabled/internal/capture"
)

// Renderer displays per-frame output. frame is only valid during the call.
type Renderer interface {
	Render(frame *gocv.Mat, out Output)
}

// RenderFunc adapts a function to Renderer.
type RenderFunc func(frame *gocv.Mat, out Output)

// Render calls f.
func (f RenderFunc) Render(frame *gocv.Mat, out Output) { f(frame, out) }

// Renderers fans output out to several renderers in order.
type Renderers []Renderer

// Render calls every renderer.
func (rs Renderers) Render(frame *gocv.Mat, out Output) {
	for _, r := range rs {
		if r != nil {
			r.Render(frame, out)
		}
	}
}

// SwitchRenderer forwards to a renderer that can be replaced at runtime.
type SwitchRenderer struct {
	mu sync.RWMutex
	r  Renderer
}

// Set replaces the target. A nil target drops output.
func (s *SwitchRenderer) Set(r Renderer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.r = r
}

// Render forwards to the current target.
func (s *SwitchRenderer) Render(frame *gocv.Mat, out Output) {
	s.mu.RLock()
	r := s.r
	s.mu.RUnlock()
	if r != nil {
		r.Render(frame, out)
	}
}

// Run reads one frame per tick at fps and processes it synchronously until
// ctx is cancelled, the session ends or a file source is exhausted. A tick
// that arrives while a frame is still being processed waits; no frame is
// skipped to catch up.
func (s *Session) Run(ctx context.Context, camera capture.Camera, renderer Renderer, fps int) error {
	if fps <= 0 {
		fps = capture.DefaultFPS
	}

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	readWarn := newWarnLimiter(s.cfg.WarnInterval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-ticker.C:
		}

		frame, err := camera.ReadFrame()
		if err != nil {
			if errors.Is(err, capture.ErrEndOfStream) {
				s.logger.Info("capture source exhausted")
				return nil
			}
			if readWarn.Allow() {
				s.logger.Warn("error reading frame", "err", err)
			}
			continue
		}

		out, err := s.ProcessFrame(ctx, frame)
		if err != nil {
			frame.Close()
			if errors.Is(err, ErrSessionEnded) {
				return nil
			}
			return err
		}

		if renderer != nil {
			renderer.Render(frame, out)
		}
		frame.Close()
	}
}
