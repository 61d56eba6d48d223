// Package classifier turns a cropped hand image into a gesture label using a
// pluggable model. Every call is independent of previous frames.
package classifier

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

var (
	// ErrClassifierUnavailable is returned when the model cannot produce a
	// prediction for a frame.
	ErrClassifierUnavailable = errors.New("classifier unavailable")

	// ErrModelLoad is returned when the model or label artifacts cannot be
	// loaded at session start.
	ErrModelLoad = errors.New("model load failure")
)

// Defaults matching the exported MobileNetV2 gesture model.
const (
	DefaultThreshold = 0.7
	DefaultInputSize = 160
)

// Input is a normalized image tensor in height-width-channel order with
// values in [0,1].
type Input struct {
	Width    int
	Height   int
	Channels int
	Data     []float32
}

// Model produces a probability distribution over the label vocabulary.
type Model interface {
	Predict(ctx context.Context, in Input) ([]float32, error)
	Close() error
}

// Result is the outcome of classifying one crop.
type Result struct {
	Label      string  `json:"label,omitempty"`
	Index      int     `json:"index"`
	Confidence float64 `json:"confidence"`
	// OK is false when the confidence is below threshold or the index has
	// no label. Confidence is still filled in.
	OK bool `json:"ok"`
}

// Config holds options for the classifier adapter.
type Config struct {
	Threshold float64
	InputSize int
	// SwapRB converts crops from BGR to RGB before normalization.
	SwapRB bool
	// Timeout bounds a single prediction. Zero means no limit.
	Timeout time.Duration
}

// DefaultConfig returns a Config with reference defaults.
func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
		InputSize: DefaultInputSize,
	}
}

// Adapter prepares crops for a Model and applies the confidence gate.
type Adapter struct {
	model  Model
	labels *Labels
	config Config
}

// NewAdapter creates an Adapter. Labels must be non-empty.
func NewAdapter(model Model, labels *Labels, config Config) (*Adapter, error) {
	if model == nil {
		return nil, errors.Wrap(ErrModelLoad, "no model")
	}
	if labels == nil || labels.Len() == 0 {
		return nil, errors.Wrap(ErrModelLoad, "no labels")
	}
	if config.InputSize <= 0 {
		config.InputSize = DefaultInputSize
	}

	return &Adapter{
		model:  model,
		labels: labels,
		config: config,
	}, nil
}

// Labels returns the vocabulary used by the adapter.
func (a *Adapter) Labels() *Labels {
	return a.labels
}

// Classify resizes and normalizes crop, runs the model once and returns the
// gated arg-max result. Model failures are reported as ErrClassifierUnavailable.
func (a *Adapter) Classify(ctx context.Context, crop gocv.Mat) (Result, error) {
	in, err := a.Prepare(crop)
	if err != nil {
		return Result{}, err
	}

	if a.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
	}

	probs, err := a.model.Predict(ctx, in)
	if err != nil {
		if errors.Is(err, ErrClassifierUnavailable) {
			return Result{}, err
		}
		return Result{}, errors.Wrapf(ErrClassifierUnavailable, "predict: %v", err)
	}

	return a.Decide(probs)
}

// Prepare converts a crop into the model input tensor.
func (a *Adapter) Prepare(crop gocv.Mat) (Input, error) {
	if crop.Empty() {
		return Input{}, errors.New("empty crop")
	}

	size := a.config.InputSize

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(crop, &resized, image.Point{X: size, Y: size}, 0, 0, gocv.InterpolationLinear)

	color := gocv.NewMat()
	defer color.Close()
	switch {
	case resized.Channels() == 1:
		gocv.CvtColor(resized, &color, gocv.ColorGrayToBGR)
	case resized.Channels() == 4:
		gocv.CvtColor(resized, &color, gocv.ColorBGRAToBGR)
	default:
		resized.CopyTo(&color)
	}
	if a.config.SwapRB {
		gocv.CvtColor(color, &color, gocv.ColorBGRToRGB)
	}

	normalized := gocv.NewMat()
	defer normalized.Close()
	color.ConvertToWithParams(&normalized, gocv.MatTypeCV32FC3, 1.0/255.0, 0)

	data, err := normalized.DataPtrFloat32()
	if err != nil {
		return Input{}, errors.Wrap(err, "read normalized crop")
	}

	return Input{
		Width:    size,
		Height:   size,
		Channels: 3,
		Data:     append([]float32(nil), data...),
	}, nil
}

// Decide picks the arg-max of a distribution and applies the threshold.
func (a *Adapter) Decide(probs []float32) (Result, error) {
	if len(probs) == 0 {
		return Result{}, errors.Wrap(ErrClassifierUnavailable, "empty distribution")
	}

	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}

	res := Result{
		Index:      best,
		Confidence: float64(probs[best]),
	}

	label, known := a.labels.Label(best)
	// Compare in float32 so a threshold of 0.7 accepts a model output of 0.7.
	if !known || probs[best] < float32(a.config.Threshold) {
		return res, nil
	}

	res.Label = label
	res.OK = true
	return res, nil
}
