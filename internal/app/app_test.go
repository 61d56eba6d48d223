package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/beabled/internal/capture"
	"github.com/ayusman/beabled/internal/classifier"
	"github.com/ayusman/beabled/internal/config"
	"github.com/ayusman/beabled/internal/store"
)

type collectRenderer struct {
	mu   sync.Mutex
	outs []Output
}

func (r *collectRenderer) Render(_ *gocv.Mat, out Output) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outs = append(r.outs, out)
}

func (r *collectRenderer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outs)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.FPS = 100
	return cfg
}

func TestApp_StartFailsOnModelLoad(t *testing.T) {
	cfg := testConfig()
	cfg.LabelsPath = filepath.Join(t.TempDir(), "missing.json")

	cam := capture.NewMockCamera(nil, true)
	a := New(Options{Config: cfg, Camera: cam})

	_, err := a.Start(context.Background())
	if !errors.Is(err, classifier.ErrModelLoad) {
		t.Fatalf("Start() error = %v, want ErrModelLoad", err)
	}
	if a.Active() != nil {
		t.Error("no session should be active after a load failure")
	}
	if cam.IsOpen() {
		t.Error("camera should not be opened when the model fails to load")
	}
}

func TestApp_StartRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Threshold = 2

	a := New(Options{Config: cfg, Camera: capture.NewMockCamera(nil, true)})
	if _, err := a.Start(context.Background()); err == nil {
		t.Error("Start() should reject an invalid config")
	}
}

func TestApp_StopWithoutSession(t *testing.T) {
	a := New(Options{Config: testConfig(), Camera: capture.NewMockCamera(nil, true)})
	if _, err := a.Stop(); !errors.Is(err, ErrNoSession) {
		t.Errorf("Stop() error = %v, want ErrNoSession", err)
	}
}

func TestApp_SessionLifecycle(t *testing.T) {
	frame := newFrame(t)

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	model := classifier.NewMockModel()
	renderer := &collectRenderer{}
	cam := capture.NewMockCamera([]*gocv.Mat{frame}, true)

	a := New(Options{
		Config:   testConfig(),
		Store:    s,
		Camera:   cam,
		Detector: palmDetector(),
		Renderer: renderer,
		Load: func(classifier.LoadConfig) (Classifier, classifier.Model, error) {
			return labelled("HELLO", 0.9), model, nil
		},
	})

	session, err := a.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := a.Start(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Errorf("second Start() error = %v, want ErrSessionActive", err)
	}
	if a.Active() != session {
		t.Error("Active() should return the started session")
	}

	deadline := time.Now().Add(5 * time.Second)
	for renderer.Len() < 5 {
		if time.Now().After(deadline) {
			t.Fatal("session rendered no frames")
		}
		time.Sleep(10 * time.Millisecond)
	}

	stats, err := a.Stop()
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if stats.Frames < 5 {
		t.Errorf("Frames = %d, want at least 5", stats.Frames)
	}
	if a.Active() != nil {
		t.Error("Active() should be nil after Stop")
	}
	if cam.IsOpen() {
		t.Error("camera should be closed after Stop")
	}
	if !model.Closed() {
		t.Error("model should be closed after Stop")
	}

	rec, err := s.Sessions().GetByID(session.ID())
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if rec.EndedAt == nil || rec.Frames != stats.Frames {
		t.Errorf("stored session = %+v, want ended with %d frames", rec, stats.Frames)
	}

	captions, err := s.Captions().ListBySession(session.ID())
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(captions) != 1 || captions[0].Label != "HELLO" {
		t.Errorf("transcript = %+v, want one HELLO", captions)
	}
}

func TestApp_SourceExhaustedReleasesSession(t *testing.T) {
	frame := newFrame(t)

	model := classifier.NewMockModel()
	cam := capture.NewMockCamera([]*gocv.Mat{frame, frame}, false)

	a := New(Options{
		Config:   testConfig(),
		Camera:   cam,
		Detector: palmDetector(),
		Load: func(classifier.LoadConfig) (Classifier, classifier.Model, error) {
			return labelled("YES", 0.8), model, nil
		},
	})

	if _, err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := a.Wait(); err != nil {
		t.Errorf("Wait() error = %v", err)
	}

	if a.Active() != nil {
		t.Error("session should be released once the source is exhausted")
	}
	if got := a.LastStats().Frames; got != 2 {
		t.Errorf("LastStats().Frames = %d, want 2", got)
	}
	if !model.Closed() {
		t.Error("model should be closed")
	}
}

func TestApp_SetEnabled(t *testing.T) {
	frame := newFrame(t)

	det := palmDetector()
	a := New(Options{
		Config:   testConfig(),
		Camera:   capture.NewMockCamera([]*gocv.Mat{frame}, true),
		Detector: det,
		Load: func(classifier.LoadConfig) (Classifier, classifier.Model, error) {
			return labelled("YES", 0.8), classifier.NewMockModel(), nil
		},
	})

	a.SetEnabled(false)
	session, err := a.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer a.Close()

	if session.IsEnabled() {
		t.Error("session should inherit the disabled flag")
	}
	a.SetEnabled(true)
	if !session.IsEnabled() || !a.IsEnabled() {
		t.Error("SetEnabled(true) should reach the active session")
	}
}

func TestApp_Configure(t *testing.T) {
	a := New(Options{Config: testConfig(), Camera: capture.NewMockCamera(nil, true)})

	cfg, err := a.Configure(map[string]string{"threshold": "0.8", "caption_timeout": "3s"})
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if cfg.Threshold != 0.8 || a.Config().CaptionTimeout != 3*time.Second {
		t.Errorf("config not applied: %+v", a.Config())
	}

	if _, err := a.Configure(map[string]string{"threshold": "1.5"}); err == nil {
		t.Error("Configure() should reject out-of-range values")
	}
	if a.Config().Threshold != 0.8 {
		t.Errorf("failed Configure() changed threshold to %v", a.Config().Threshold)
	}

	if _, err := a.Configure(map[string]string{"bogus": "1"}); err == nil {
		t.Error("Configure() should reject unknown keys")
	}
}

func TestApp_OnCaption(t *testing.T) {
	frame := newFrame(t)

	var mu sync.Mutex
	var events []CaptionEvent
	a := New(Options{
		Config:   testConfig(),
		Camera:   capture.NewMockCamera([]*gocv.Mat{frame, frame, frame}, false),
		Detector: palmDetector(),
		Load: func(classifier.LoadConfig) (Classifier, classifier.Model, error) {
			return labelled("HELLO", 0.9), classifier.NewMockModel(), nil
		},
		OnCaption: func(ev CaptionEvent) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, ev)
		},
	})

	session, err := a.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := a.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("got %d caption events, want 1", len(events))
	}
	ev := events[0]
	if ev.SessionID != session.ID() || ev.Label != "HELLO" || len(ev.History) != 1 {
		t.Errorf("unexpected event %+v", ev)
	}
}
