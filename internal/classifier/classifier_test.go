package classifier

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

func newTestAdapter(t *testing.T, model Model) *Adapter {
	t.Helper()
	a, err := NewAdapter(model, NewLabels("A", "B", "HELLO"), DefaultConfig())
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	return a
}

func TestAdapter_Decide(t *testing.T) {
	a := newTestAdapter(t, NewMockModel())

	tests := []struct {
		name      string
		probs     []float32
		wantLabel string
		wantOK    bool
		wantIndex int
		wantConf  float64
	}{
		{name: "confident", probs: []float32{0.05, 0.05, 0.9}, wantLabel: "HELLO", wantOK: true, wantIndex: 2, wantConf: 0.9},
		{name: "below threshold", probs: []float32{0.5, 0.3, 0.2}, wantIndex: 0, wantConf: 0.5},
		{name: "exactly threshold passes", probs: []float32{0.15, 0.7, 0.15}, wantLabel: "B", wantOK: true, wantIndex: 1, wantConf: 0.7},
		{name: "unmapped index", probs: []float32{0.0, 0.0, 0.0, 0.95}, wantIndex: 3, wantConf: 0.95},
		{name: "ties keep first", probs: []float32{0.8, 0.8, 0.0}, wantLabel: "A", wantOK: true, wantIndex: 0, wantConf: 0.8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := a.Decide(tt.probs)
			if err != nil {
				t.Fatalf("Decide() error = %v", err)
			}
			if res.OK != tt.wantOK || res.Label != tt.wantLabel {
				t.Errorf("Decide() = %+v, want label %q ok %v", res, tt.wantLabel, tt.wantOK)
			}
			if res.Index != tt.wantIndex {
				t.Errorf("Index = %d, want %d", res.Index, tt.wantIndex)
			}
			if math.Abs(res.Confidence-tt.wantConf) > 1e-6 {
				t.Errorf("Confidence = %f, want %f", res.Confidence, tt.wantConf)
			}
		})
	}

	t.Run("empty distribution is unavailable", func(t *testing.T) {
		_, err := a.Decide(nil)
		if !errors.Is(err, ErrClassifierUnavailable) {
			t.Errorf("Decide(nil) error = %v, want ErrClassifierUnavailable", err)
		}
	})
}

func TestNewAdapter(t *testing.T) {
	if _, err := NewAdapter(nil, NewLabels("A"), DefaultConfig()); !errors.Is(err, ErrModelLoad) {
		t.Errorf("nil model: error = %v, want ErrModelLoad", err)
	}
	if _, err := NewAdapter(NewMockModel(), NewLabels(), DefaultConfig()); !errors.Is(err, ErrModelLoad) {
		t.Errorf("empty labels: error = %v, want ErrModelLoad", err)
	}

	a, err := NewAdapter(NewMockModel(), NewLabels("A"), Config{Threshold: 0.5})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	if a.config.InputSize != DefaultInputSize {
		t.Errorf("InputSize = %d, want default %d", a.config.InputSize, DefaultInputSize)
	}
}

// blockingModel waits for the context to end.
type blockingModel struct{}

func (blockingModel) Predict(ctx context.Context, in Input) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingModel) Close() error { return nil }

func TestAdapter_Classify(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	crop := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 51, 0), 90, 60, gocv.MatTypeCV8UC3)
	defer crop.Close()

	t.Run("resizes and normalizes", func(t *testing.T) {
		model := NewMockModel(0.1, 0.1, 0.8)
		a := newTestAdapter(t, model)

		res, err := a.Classify(context.Background(), crop)
		if err != nil {
			t.Fatalf("Classify() error = %v", err)
		}
		if !res.OK || res.Label != "HELLO" {
			t.Errorf("Classify() = %+v, want HELLO", res)
		}

		in := model.LastInput()
		if in.Width != 160 || in.Height != 160 || in.Channels != 3 {
			t.Fatalf("input shape = %dx%dx%d, want 160x160x3", in.Width, in.Height, in.Channels)
		}
		if len(in.Data) != 160*160*3 {
			t.Fatalf("input has %d values", len(in.Data))
		}
		// BGR order preserved: first pixel is (1.0, 0.0, 0.2).
		if math.Abs(float64(in.Data[0])-1.0) > 1e-6 || in.Data[1] != 0 || math.Abs(float64(in.Data[2])-0.2) > 1e-6 {
			t.Errorf("first pixel = %v, want [1 0 0.2]", in.Data[:3])
		}
		for _, v := range in.Data {
			if v < 0 || v > 1 {
				t.Fatalf("value %f outside [0,1]", v)
			}
		}
		if model.Calls() != 1 {
			t.Errorf("model called %d times, want 1", model.Calls())
		}
	})

	t.Run("swap RB", func(t *testing.T) {
		model := NewMockModel(1, 0, 0)
		a, err := NewAdapter(model, NewLabels("A"), Config{Threshold: 0.7, SwapRB: true})
		if err != nil {
			t.Fatal(err)
		}

		if _, err := a.Classify(context.Background(), crop); err != nil {
			t.Fatalf("Classify() error = %v", err)
		}
		in := model.LastInput()
		if math.Abs(float64(in.Data[0])-0.2) > 1e-6 || math.Abs(float64(in.Data[2])-1.0) > 1e-6 {
			t.Errorf("first pixel = %v, want [0.2 0 1]", in.Data[:3])
		}
	})

	t.Run("low confidence carries no label", func(t *testing.T) {
		a := newTestAdapter(t, NewMockModel(0.5, 0.25, 0.25))

		res, err := a.Classify(context.Background(), crop)
		if err != nil {
			t.Fatalf("Classify() error = %v", err)
		}
		if res.OK || res.Label != "" {
			t.Errorf("Classify() = %+v, want no label", res)
		}
		if math.Abs(res.Confidence-0.5) > 1e-6 {
			t.Errorf("Confidence = %f, want 0.5 for diagnostics", res.Confidence)
		}
	})

	t.Run("model error is unavailable", func(t *testing.T) {
		model := NewMockModel()
		model.SetError(errors.New("runtime exploded"))
		a := newTestAdapter(t, model)

		_, err := a.Classify(context.Background(), crop)
		if !errors.Is(err, ErrClassifierUnavailable) {
			t.Errorf("Classify() error = %v, want ErrClassifierUnavailable", err)
		}
	})

	t.Run("timeout is unavailable", func(t *testing.T) {
		a, err := NewAdapter(blockingModel{}, NewLabels("A"), Config{Threshold: 0.7, Timeout: 20 * time.Millisecond})
		if err != nil {
			t.Fatal(err)
		}

		start := time.Now()
		_, err = a.Classify(context.Background(), crop)
		if !errors.Is(err, ErrClassifierUnavailable) {
			t.Errorf("Classify() error = %v, want ErrClassifierUnavailable", err)
		}
		if time.Since(start) > time.Second {
			t.Error("timeout was not applied")
		}
	})

	t.Run("empty crop", func(t *testing.T) {
		a := newTestAdapter(t, NewMockModel(1, 0, 0))
		empty := gocv.NewMat()
		defer empty.Close()

		if _, err := a.Classify(context.Background(), empty); err == nil {
			t.Error("expected error for empty crop")
		}
	})
}
