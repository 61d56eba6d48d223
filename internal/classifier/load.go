package classifier

import (
	"time"

	"github.com/pkg/errors"
)

// Backend names a Model implementation.
type Backend string

const (
	// BackendDNN runs the model in-process with OpenCV dnn.
	BackendDNN Backend = "dnn"
	// BackendRemote forwards tensors to a ZeroMQ inference sidecar.
	BackendRemote Backend = "remote"
)

// LoadConfig describes the artifacts a session needs.
type LoadConfig struct {
	Backend       Backend
	ModelPath     string
	Layout        Layout
	Endpoint      string
	RemoteTimeout time.Duration
	LabelsPath    string
	Adapter       Config
}

// Load reads the label mapping, opens the model and returns a ready Adapter
// together with the model so the caller can close it. Nothing is returned
// half-initialized: any failure closes what was opened and reports ErrModelLoad.
func Load(config LoadConfig) (*Adapter, Model, error) {
	labels, err := LoadLabels(config.LabelsPath)
	if err != nil {
		return nil, nil, err
	}

	var model Model
	switch config.Backend {
	case BackendDNN, "":
		dnn, err := NewDNNModel(config.ModelPath, config.Layout)
		if err != nil {
			return nil, nil, err
		}
		model = dnn
	case BackendRemote:
		remote, err := NewRemoteModel(RemoteConfig{
			Endpoint: config.Endpoint,
			Timeout:  config.RemoteTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		if remote.Classes() != labels.Len() {
			remote.Close()
			return nil, nil, errors.Wrapf(ErrModelLoad, "sidecar has %d classes, labels have %d", remote.Classes(), labels.Len())
		}
		model = remote
	default:
		return nil, nil, errors.Wrapf(ErrModelLoad, "unknown backend %q", config.Backend)
	}

	adapter, err := NewAdapter(model, labels, config.Adapter)
	if err != nil {
		model.Close()
		return nil, nil, err
	}

	return adapter, model, nil
}
