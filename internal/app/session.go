package app

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"golang.org/x/time/rate"

	"github.com/ayusman/beabled/internal/caption"
	"github.com/ayusman/beabled/internal/classifier"
	"github.com/ayusman/beabled/internal/detector"
	"github.com/ayusman/beabled/internal/region"
)

// ErrSessionEnded is returned for frames submitted to, or still in flight
// when, a session ends. Their results are discarded.
var ErrSessionEnded = errors.New("session ended")

// Classifier labels a cropped hand image. *classifier.Adapter implements it.
type Classifier interface {
	Classify(ctx context.Context, crop gocv.Mat) (classifier.Result, error)
}

// Output is the per-frame result handed to renderers.
type Output struct {
	SessionID string              `json:"session_id"`
	Frame     uint64              `json:"frame"`
	Phase     caption.Phase       `json:"phase"`
	Caption   string              `json:"caption"`
	History   []string            `json:"history"`
	Box       *region.BoundingBox `json:"box,omitempty"`
	// Label and Confidence describe this frame's accepted detection, if any.
	Label      string             `json:"label,omitempty"`
	Confidence float64            `json:"confidence,omitempty"`
	Transition caption.Transition `json:"transition"`
	Degraded   bool               `json:"degraded,omitempty"`
	Latency    time.Duration      `json:"latency"`
	Timestamp  time.Time          `json:"timestamp"`

	// Hand is the detected skeleton in normalized coordinates, for overlays.
	Hand *detector.HandLandmarks `json:"-"`
}

// Stats counts what a session has processed.
type Stats struct {
	Frames             int           `json:"frames"`
	Hands              int           `json:"hands"`
	Detections         int           `json:"detections"`
	Captions           int           `json:"captions"`
	ClassifierFailures int           `json:"classifier_failures"`
	DetectorFailures   int           `json:"detector_failures"`
	ClassifierDisabled bool          `json:"classifier_disabled"`
	LastLatency        time.Duration `json:"last_latency"`
	MaxLatency         time.Duration `json:"max_latency"`
	TotalLatency       time.Duration `json:"total_latency"`
}

// AvgLatency returns the mean per-frame latency.
func (s Stats) AvgLatency() time.Duration {
	if s.Frames == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Frames)
}

// CaptionEvent is emitted when a caption is appended to history.
type CaptionEvent struct {
	SessionID  string
	Label      string
	Confidence float64
	History    []string
	Time       time.Time
}

// SessionConfig holds the collaborators and tuning of a Session.
type SessionConfig struct {
	ID         string
	Detector   detector.Detector
	Classifier Classifier
	Padding    region.Padding
	Timeout    time.Duration
	// WarnInterval limits repeated degradation warnings. Zero logs every one.
	WarnInterval time.Duration
	// MaxClassifierFailures disables classification after that many
	// consecutive failures. Zero never disables it.
	MaxClassifierFailures int
	// OnCaption is called, outside the session lock, for every appended caption.
	OnCaption func(CaptionEvent)
	Logger    *slog.Logger
	// Clock returns the frame timestamp. Defaults to time.Now.
	Clock func() time.Time
}

// Session owns the caption state of one call and processes frames in order.
type Session struct {
	cfg     SessionConfig
	logger  *slog.Logger
	enabled atomic.Bool

	detectWarn   *rate.Limiter
	classifyWarn *rate.Limiter

	mu       sync.Mutex
	state    caption.State
	stats    Stats
	failures int
	disabled bool
	ended    bool
	done     chan struct{}
}

// NewSession returns a Session in the idle state with detection enabled.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Detector == nil {
		return nil, errors.New("session requires a detector")
	}
	if cfg.Classifier == nil {
		return nil, errors.New("session requires a classifier")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Session{
		cfg:          cfg,
		logger:       cfg.Logger.With("session", cfg.ID),
		detectWarn:   newWarnLimiter(cfg.WarnInterval),
		classifyWarn: newWarnLimiter(cfg.WarnInterval),
		state:        caption.New(cfg.Timeout),
		done:         make(chan struct{}),
	}
	s.enabled.Store(true)
	return s, nil
}

func newWarnLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.cfg.ID
}

// SetEnabled turns detection on or off. While disabled, frames still advance
// the caption state so a shown caption times out.
func (s *Session) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
}

// IsEnabled reports whether detection is on.
func (s *Session) IsEnabled() bool {
	return s.enabled.Load()
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Ended reports whether End has been called.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// State returns a copy of the current caption state.
func (s *Session) State() caption.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// End stops the session, clears its caption state and returns the final
// counters. Calling End more than once is harmless.
func (s *Session) End() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ended {
		s.ended = true
		s.state = s.state.Reset()
		close(s.done)
		s.logger.Info("session ended",
			"frames", s.stats.Frames,
			"captions", s.stats.Captions,
			"avg_latency", s.stats.AvgLatency())
	}
	return s.stats
}

// inference is what the blocking stages produced for one frame.
type inference struct {
	hand  *detector.HandLandmarks
	box   *region.BoundingBox
	event *caption.Event
	err   bool
}

// ProcessFrame runs detection, region extraction and classification on frame,
// then advances the caption state exactly once, with no event when any stage
// yields nothing. Per-frame failures degrade to a no-event frame. The only
// errors are ErrSessionEnded and ctx cancellation; in both cases the caption
// state is left untouched.
func (s *Session) ProcessFrame(ctx context.Context, frame *gocv.Mat) (Output, error) {
	if s.Ended() {
		return Output{}, ErrSessionEnded
	}
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	start := time.Now()
	inf := s.infer(ctx, frame)

	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return Output{}, ErrSessionEnded
	}

	now := s.cfg.Clock()
	var tr caption.Transition
	s.state, tr = caption.Advance(s.state, now, inf.event)

	latency := time.Since(start)
	s.stats.Frames++
	if inf.hand != nil {
		s.stats.Hands++
	}
	if inf.event != nil {
		s.stats.Detections++
	}
	if tr.Appended {
		s.stats.Captions++
	}
	s.stats.LastLatency = latency
	s.stats.TotalLatency += latency
	if latency > s.stats.MaxLatency {
		s.stats.MaxLatency = latency
	}

	out := Output{
		SessionID:  s.cfg.ID,
		Frame:      uint64(s.stats.Frames),
		Phase:      s.state.Phase,
		Caption:    s.state.Current,
		History:    s.state.History(),
		Box:        inf.box,
		Hand:       inf.hand,
		Transition: tr,
		Degraded:   s.disabled || inf.err,
		Latency:    latency,
		Timestamp:  now,
	}
	if inf.event != nil {
		out.Label = inf.event.Label
		out.Confidence = inf.event.Confidence
	}
	timeout := s.state.Timeout
	s.mu.Unlock()

	s.logger.Debug("frame processed",
		"frame", out.Frame,
		"phase", out.Phase,
		"label", out.Label,
		"latency", latency)

	switch {
	case tr.Changed:
		s.logger.Info("caption", "label", out.Caption, "confidence", out.Confidence, "appended", tr.Appended)
	case tr.TimedOut:
		s.logger.Info("caption cleared", "idle_after", timeout)
	}

	if tr.Appended && s.cfg.OnCaption != nil {
		s.cfg.OnCaption(CaptionEvent{
			SessionID:  s.cfg.ID,
			Label:      out.Caption,
			Confidence: out.Confidence,
			History:    out.History,
			Time:       now,
		})
	}

	return out, nil
}

// infer runs the blocking stages without holding the session lock.
func (s *Session) infer(ctx context.Context, frame *gocv.Mat) inference {
	var inf inference

	if !s.IsEnabled() || frame == nil || frame.Empty() {
		return inf
	}

	hand, err := s.cfg.Detector.Detect(frame)
	if err != nil {
		s.mu.Lock()
		s.stats.DetectorFailures++
		s.mu.Unlock()
		if s.detectWarn.Allow() {
			s.logger.Warn("hand detection failed, treating frame as empty", "err", err)
		}
		inf.err = true
		return inf
	}
	if hand == nil {
		return inf
	}
	inf.hand = hand

	box, ok := region.Extract(frame.Cols(), frame.Rows(), hand, s.cfg.Padding)
	if !ok {
		return inf
	}
	inf.box = &box

	if s.classifierDisabled() {
		return inf
	}

	crop, ok := region.Crop(*frame, box)
	if !ok {
		return inf
	}
	res, err := s.cfg.Classifier.Classify(ctx, crop)
	crop.Close()

	if err != nil {
		if ctx.Err() == nil {
			s.classifierFailed(err)
			inf.err = true
		}
		return inf
	}
	s.classifierSucceeded()

	if res.OK {
		inf.event = &caption.Event{Label: res.Label, Confidence: res.Confidence}
	}
	return inf
}

func (s *Session) classifierDisabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled
}

func (s *Session) classifierFailed(err error) {
	s.mu.Lock()
	s.stats.ClassifierFailures++
	s.failures++
	disable := s.cfg.MaxClassifierFailures > 0 && s.failures >= s.cfg.MaxClassifierFailures && !s.disabled
	if disable {
		s.disabled = true
		s.stats.ClassifierDisabled = true
	}
	s.mu.Unlock()

	if disable {
		s.logger.Warn("classifier disabled for this session", "consecutive_failures", s.cfg.MaxClassifierFailures, "err", err)
		return
	}
	if s.classifyWarn.Allow() {
		s.logger.Warn("classifier unavailable, treating frame as empty", "err", err)
	}
}

func (s *Session) classifierSucceeded() {
	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()
}
