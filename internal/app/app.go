// Package app runs caption sessions: it wires capture, hand detection, the
// gesture classifier and the caption state machine into a per-frame loop.
package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ayusman/beabled/internal/capture"
	"github.com/ayusman/beabled/internal/classifier"
	"github.com/ayusman/beabled/internal/config"
	"github.com/ayusman/beabled/internal/detector"
	"github.com/ayusman/beabled/internal/store"
)

var (
	// ErrSessionActive is returned by Start while a session is running.
	ErrSessionActive = errors.New("a session is already active")
	// ErrNoSession is returned by Stop when nothing is running.
	ErrNoSession = errors.New("no active session")
)

// LoadFunc opens the classifier for a new session.
type LoadFunc func(classifier.LoadConfig) (Classifier, classifier.Model, error)

// Options holds the collaborators of an App.
type Options struct {
	Config *config.Config
	// Store persists sessions and transcripts. Optional.
	Store    *store.Store
	Camera   capture.Camera
	Detector detector.Detector
	// Load defaults to classifier.Load.
	Load     LoadFunc
	Renderer Renderer
	// OnCaption is called after each appended caption is recorded.
	OnCaption func(CaptionEvent)
	Logger    *slog.Logger
}

// App owns the camera and detector and runs at most one Session at a time.
type App struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	active  *running
	enabled bool
	last    Stats
}

// running is a started session and the resources it holds.
type running struct {
	session *Session
	record  *store.Session
	model   classifier.Model
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	once    sync.Once
}

// New creates an App. A nil Camera is built from the config; a nil Detector
// falls back to a MockDetector that never sees a hand.
func New(opts Options) *App {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Camera == nil {
		opts.Camera = capture.New(capture.Options{
			DeviceID: opts.Config.CameraID,
			Mirror:   opts.Config.Mirror,
			FPS:      opts.Config.FPS,
		})
	}
	if opts.Detector == nil {
		opts.Logger.Warn("no hand detector configured, using mock detector")
		opts.Detector = detector.NewMockDetector()
	}
	if opts.Load == nil {
		opts.Load = func(lc classifier.LoadConfig) (Classifier, classifier.Model, error) {
			adapter, model, err := classifier.Load(lc)
			if err != nil {
				return nil, nil, err
			}
			return adapter, model, nil
		}
	}

	return &App{
		opts:    opts,
		logger:  opts.Logger,
		enabled: true,
	}
}

// Config returns a copy of the configuration used for new sessions.
func (a *App) Config() config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return *a.opts.Config
}

// Configure applies settings overrides to the configuration. They take
// effect when the next session starts. On error nothing changes.
func (a *App) Configure(values map[string]string) (config.Config, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := *a.opts.Config
	if err := next.Apply(values); err != nil {
		return config.Config{}, err
	}
	if err := next.Validate(); err != nil {
		return config.Config{}, err
	}
	a.opts.Config = &next
	return next, nil
}

// Camera returns the capture source.
func (a *App) Camera() capture.Camera {
	return a.opts.Camera
}

// Detector returns the hand detector.
func (a *App) Detector() detector.Detector {
	return a.opts.Detector
}

// SetEnabled enables or disables gesture detection, for the running session
// and for sessions started later.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
	if a.active != nil {
		a.active.session.SetEnabled(enabled)
	}
}

// IsEnabled returns whether gesture detection is currently enabled.
func (a *App) IsEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// Active returns the running session, or nil.
func (a *App) Active() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		return nil
	}
	return a.active.session
}

// LastStats returns the counters of the most recently finished session.
func (a *App) LastStats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Start loads the classifier, opens the camera and begins the frame loop.
// A missing or corrupt model or label file fails with
// classifier.ErrModelLoad and no session is started.
func (a *App) Start(ctx context.Context) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active != nil {
		return nil, ErrSessionActive
	}

	cfg := a.opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	padding, err := cfg.PaddingPolicy()
	if err != nil {
		return nil, err
	}

	clf, model, err := a.opts.Load(cfg.ClassifierLoad())
	if err != nil {
		return nil, err
	}

	if err := a.opts.Camera.Open(); err != nil {
		model.Close()
		return nil, errors.Wrap(err, "open camera")
	}
	a.opts.Camera.SetFPS(cfg.FPS)

	record := &store.Session{}
	if a.opts.Store != nil {
		if err := a.opts.Store.Sessions().Create(record); err != nil {
			a.opts.Camera.Close()
			model.Close()
			return nil, errors.Wrap(err, "record session")
		}
	} else {
		record.ID = newSessionID()
	}

	session, err := NewSession(SessionConfig{
		ID:                    record.ID,
		Detector:              a.opts.Detector,
		Classifier:            clf,
		Padding:               padding,
		Timeout:               cfg.CaptionTimeout,
		WarnInterval:          cfg.WarnInterval,
		MaxClassifierFailures: cfg.MaxClassifierFailures,
		OnCaption:             a.recordCaption,
		Logger:                a.logger,
	})
	if err != nil {
		a.opts.Camera.Close()
		model.Close()
		return nil, err
	}
	session.SetEnabled(a.enabled)

	runCtx, cancel := context.WithCancel(ctx)
	r := &running{
		session: session,
		record:  record,
		model:   model,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	a.active = r

	fps := cfg.FPS
	go func() {
		r.err = session.Run(runCtx, a.opts.Camera, a.opts.Renderer, fps)
		close(r.done)
		a.finish(r)
	}()

	a.logger.Info("session started", "session", record.ID, "fps", cfg.FPS, "backend", cfg.Backend)
	return session, nil
}

// Stop ends the running session, waits for its loop to exit and releases the
// camera and model.
func (a *App) Stop() (Stats, error) {
	a.mu.Lock()
	r := a.active
	a.mu.Unlock()

	if r == nil {
		return Stats{}, ErrNoSession
	}

	r.session.End()
	r.cancel()
	<-r.done
	a.finish(r)

	return r.session.Stats(), nil
}

// Wait blocks until the running session's loop exits and returns its error.
func (a *App) Wait() error {
	a.mu.Lock()
	r := a.active
	a.mu.Unlock()

	if r == nil {
		return nil
	}
	<-r.done
	a.finish(r)
	if errors.Is(r.err, context.Canceled) {
		return nil
	}
	return r.err
}

// Close stops any running session and shuts the detector down.
func (a *App) Close() error {
	if _, err := a.Stop(); err != nil && !errors.Is(err, ErrNoSession) {
		return err
	}
	return a.opts.Detector.Close()
}

// finish releases the resources of r exactly once.
func (a *App) finish(r *running) {
	r.once.Do(func() {
		stats := r.session.End()
		r.cancel()

		if err := a.opts.Camera.Close(); err != nil {
			a.logger.Warn("error closing camera", "err", err)
		}
		if err := r.model.Close(); err != nil {
			a.logger.Warn("error closing classifier model", "err", err)
		}

		if a.opts.Store != nil {
			r.record.Frames = stats.Frames
			r.record.Detections = stats.Detections
			r.record.ClassifierFailures = stats.ClassifierFailures
			if err := a.opts.Store.Sessions().End(r.record); err != nil {
				a.logger.Warn("failed to record session end", "session", r.record.ID, "err", err)
			}
		}

		a.mu.Lock()
		if a.active == r {
			a.active = nil
		}
		a.last = stats
		a.mu.Unlock()
	})
}

func (a *App) recordCaption(ev CaptionEvent) {
	if a.opts.OnCaption != nil {
		defer a.opts.OnCaption(ev)
	}
	if a.opts.Store == nil {
		return
	}
	err := a.opts.Store.Captions().Append(&store.Caption{
		SessionID:  ev.SessionID,
		Label:      ev.Label,
		Confidence: ev.Confidence,
		CreatedAt:  ev.Time,
	})
	if err != nil {
		a.logger.Warn("failed to record caption", "session", ev.SessionID, "label", ev.Label, "err", err)
	}
}

func newSessionID() string {
	return uuid.New().String()
}
