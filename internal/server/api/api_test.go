package api

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"gocv.io/x/gocv"

	"github.com/ayusman/beabled/internal/app"
	"github.com/ayusman/beabled/internal/classifier"
	"github.com/ayusman/beabled/internal/config"
	"github.com/ayusman/beabled/internal/detector"
	"github.com/ayusman/beabled/internal/region"
	"github.com/ayusman/beabled/internal/store"
)

// newTestStore creates a Store backed by a temporary database.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type nopClassifier struct{}

func (nopClassifier) Classify(context.Context, gocv.Mat) (classifier.Result, error) {
	return classifier.Result{}, nil
}

// fakeController records calls and hands out real, idle sessions.
type fakeController struct {
	mu       sync.Mutex
	active   *app.Session
	enabled  bool
	startErr error
	cfg      config.Config
}

func newFakeController() *fakeController {
	return &fakeController{enabled: true, cfg: *config.Default()}
}

func (c *fakeController) Start(context.Context) (*app.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return nil, c.startErr
	}
	if c.active != nil {
		return nil, app.ErrSessionActive
	}
	s, err := app.NewSession(app.SessionConfig{
		ID:         "session-1",
		Detector:   detector.NewMockDetector(),
		Classifier: nopClassifier{},
		Padding:    region.FixedMargin(region.DefaultMarginPixels),
	})
	if err != nil {
		return nil, err
	}
	c.active = s
	return s, nil
}

func (c *fakeController) Stop() (app.Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return app.Stats{}, app.ErrNoSession
	}
	stats := c.active.End()
	c.active = nil
	return stats, nil
}

func (c *fakeController) Active() *app.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *fakeController) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	if c.active != nil {
		c.active.SetEnabled(enabled)
	}
}

func (c *fakeController) IsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *fakeController) Config() config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func (c *fakeController) Configure(values map[string]string) (config.Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.cfg
	if err := next.Apply(values); err != nil {
		return config.Config{}, err
	}
	if err := next.Validate(); err != nil {
		return config.Config{}, err
	}
	c.cfg = next
	return next, nil
}
