// Package config holds runtime configuration for the caption pipeline.
package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/ayusman/beabled/internal/caption"
	"github.com/ayusman/beabled/internal/classifier"
	"github.com/ayusman/beabled/internal/region"
	"github.com/spf13/cast"
)

// Config holds the full application configuration.
type Config struct {
	// Capture
	CameraID int
	FPS      int
	Mirror   bool

	// Hand region
	Padding      string
	MarginPixels int
	MarginRatio  float64

	// Classifier
	Backend           string
	ModelPath         string
	Layout            string
	Endpoint          string
	RemoteTimeout     time.Duration
	LabelsPath        string
	Threshold         float64
	InputSize         int
	SwapRB            bool
	ClassifierTimeout time.Duration

	// Caption
	CaptionTimeout time.Duration

	// Degradation
	WarnInterval          time.Duration
	MaxClassifierFailures int

	// Service
	ListenAddr string
	DataDir    string
}

// Default returns a Config with the reference defaults.
func Default() *Config {
	return &Config{
		CameraID:       0,
		FPS:            30,
		Mirror:         true,
		Padding:        string(region.PaddingFixed),
		MarginPixels:   region.DefaultMarginPixels,
		MarginRatio:    region.DefaultMarginRatio,
		Backend:        string(classifier.BackendDNN),
		ModelPath:      "gesture_mobilenet.onnx",
		Layout:         string(classifier.LayoutNHWC),
		RemoteTimeout:  classifier.DefaultRemoteTimeout,
		LabelsPath:     "class_indices.json",
		Threshold:      classifier.DefaultThreshold,
		InputSize:      classifier.DefaultInputSize,
		CaptionTimeout: caption.DefaultTimeout,
		WarnInterval:   10 * time.Second,
		ListenAddr:     ":8080",
		DataDir:        ".beabled",
	}
}

// Validate reports the first out-of-range value.
func (c *Config) Validate() error {
	if c.FPS <= 0 || c.FPS > 120 {
		return fmt.Errorf("fps must be in 1..120, got %d", c.FPS)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be in [0,1], got %v", c.Threshold)
	}
	if c.InputSize <= 0 {
		return fmt.Errorf("input size must be positive, got %d", c.InputSize)
	}
	if c.CaptionTimeout <= 0 {
		return fmt.Errorf("caption timeout must be positive, got %v", c.CaptionTimeout)
	}
	if c.MaxClassifierFailures < 0 {
		return fmt.Errorf("max classifier failures must not be negative, got %d", c.MaxClassifierFailures)
	}
	if _, err := c.PaddingPolicy(); err != nil {
		return err
	}
	switch classifier.Backend(c.Backend) {
	case classifier.BackendDNN:
		if c.ModelPath == "" {
			return fmt.Errorf("model path is required for the dnn backend")
		}
	case classifier.BackendRemote:
		if c.Endpoint == "" {
			return fmt.Errorf("endpoint is required for the remote backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	switch classifier.Layout(c.Layout) {
	case classifier.LayoutNHWC, classifier.LayoutNCHW:
	default:
		return fmt.Errorf("unknown layout %q", c.Layout)
	}
	if c.LabelsPath == "" {
		return fmt.Errorf("labels path is required")
	}
	return nil
}

// PaddingPolicy returns the configured hand region padding.
func (c *Config) PaddingPolicy() (region.Padding, error) {
	switch region.PaddingKind(c.Padding) {
	case region.PaddingProportional:
		return region.ParsePadding(c.Padding, c.MarginRatio)
	default:
		return region.ParsePadding(c.Padding, float64(c.MarginPixels))
	}
}

// ClassifierLoad returns the artifact description for classifier.Load.
func (c *Config) ClassifierLoad() classifier.LoadConfig {
	return classifier.LoadConfig{
		Backend:       classifier.Backend(c.Backend),
		ModelPath:     c.ModelPath,
		Layout:        classifier.Layout(c.Layout),
		Endpoint:      c.Endpoint,
		RemoteTimeout: c.RemoteTimeout,
		LabelsPath:    c.LabelsPath,
		Adapter: classifier.Config{
			Threshold: c.Threshold,
			InputSize: c.InputSize,
			SwapRB:    c.SwapRB,
			Timeout:   c.ClassifierTimeout,
		},
	}
}

// DBPath returns the SQLite file location inside DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "beabled.db")
}

// setting binds a persisted key to a Config field.
type setting struct {
	get func(c *Config) any
	set func(c *Config, v string) error
}

var settings = map[string]setting{
	"camera_id": {
		get: func(c *Config) any { return c.CameraID },
		set: func(c *Config, v string) (err error) { c.CameraID, err = cast.ToIntE(v); return },
	},
	"fps": {
		get: func(c *Config) any { return c.FPS },
		set: func(c *Config, v string) (err error) { c.FPS, err = cast.ToIntE(v); return },
	},
	"mirror": {
		get: func(c *Config) any { return c.Mirror },
		set: func(c *Config, v string) (err error) { c.Mirror, err = cast.ToBoolE(v); return },
	},
	"padding": {
		get: func(c *Config) any { return c.Padding },
		set: func(c *Config, v string) error { c.Padding = v; return nil },
	},
	"margin_pixels": {
		get: func(c *Config) any { return c.MarginPixels },
		set: func(c *Config, v string) (err error) { c.MarginPixels, err = cast.ToIntE(v); return },
	},
	"margin_ratio": {
		get: func(c *Config) any { return c.MarginRatio },
		set: func(c *Config, v string) (err error) { c.MarginRatio, err = cast.ToFloat64E(v); return },
	},
	"backend": {
		get: func(c *Config) any { return c.Backend },
		set: func(c *Config, v string) error { c.Backend = v; return nil },
	},
	"model_path": {
		get: func(c *Config) any { return c.ModelPath },
		set: func(c *Config, v string) error { c.ModelPath = v; return nil },
	},
	"layout": {
		get: func(c *Config) any { return c.Layout },
		set: func(c *Config, v string) error { c.Layout = v; return nil },
	},
	"endpoint": {
		get: func(c *Config) any { return c.Endpoint },
		set: func(c *Config, v string) error { c.Endpoint = v; return nil },
	},
	"remote_timeout": {
		get: func(c *Config) any { return c.RemoteTimeout },
		set: func(c *Config, v string) (err error) { c.RemoteTimeout, err = cast.ToDurationE(v); return },
	},
	"labels_path": {
		get: func(c *Config) any { return c.LabelsPath },
		set: func(c *Config, v string) error { c.LabelsPath = v; return nil },
	},
	"threshold": {
		get: func(c *Config) any { return c.Threshold },
		set: func(c *Config, v string) (err error) { c.Threshold, err = cast.ToFloat64E(v); return },
	},
	"input_size": {
		get: func(c *Config) any { return c.InputSize },
		set: func(c *Config, v string) (err error) { c.InputSize, err = cast.ToIntE(v); return },
	},
	"swap_rb": {
		get: func(c *Config) any { return c.SwapRB },
		set: func(c *Config, v string) (err error) { c.SwapRB, err = cast.ToBoolE(v); return },
	},
	"classifier_timeout": {
		get: func(c *Config) any { return c.ClassifierTimeout },
		set: func(c *Config, v string) (err error) { c.ClassifierTimeout, err = cast.ToDurationE(v); return },
	},
	"caption_timeout": {
		get: func(c *Config) any { return c.CaptionTimeout },
		set: func(c *Config, v string) (err error) { c.CaptionTimeout, err = cast.ToDurationE(v); return },
	},
	"warn_interval": {
		get: func(c *Config) any { return c.WarnInterval },
		set: func(c *Config, v string) (err error) { c.WarnInterval, err = cast.ToDurationE(v); return },
	},
	"max_classifier_failures": {
		get: func(c *Config) any { return c.MaxClassifierFailures },
		set: func(c *Config, v string) (err error) { c.MaxClassifierFailures, err = cast.ToIntE(v); return },
	},
}

// Keys returns the names accepted by Apply, sorted.
func Keys() []string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Apply overrides fields from persisted string settings. Durations need a
// unit ("2s", "500ms"). Unknown keys and unparsable values are errors; on
// error c is left unchanged.
func (c *Config) Apply(values map[string]string) error {
	next := *c
	for _, key := range sortedKeys(values) {
		s, ok := settings[key]
		if !ok {
			return fmt.Errorf("unknown setting %q", key)
		}
		if err := s.set(&next, values[key]); err != nil {
			return fmt.Errorf("setting %s=%q: %w", key, values[key], err)
		}
	}
	*c = next
	return nil
}

// Settings returns the persisted form of every configurable field.
func (c *Config) Settings() map[string]string {
	out := make(map[string]string, len(settings))
	for key, s := range settings {
		out[key] = cast.ToString(s.get(c))
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
