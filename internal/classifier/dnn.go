package classifier

import (
	"context"
	"encoding/binary"
	"image"
	"math"
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Layout is the tensor layout a network expects.
type Layout string

const (
	// LayoutNHWC is the Keras/TensorFlow default (tf2onnx exports keep it).
	LayoutNHWC Layout = "nhwc"
	// LayoutNCHW is the OpenCV/PyTorch convention.
	LayoutNCHW Layout = "nchw"
)

// DNNModel runs an exported network (ONNX, TensorFlow .pb, ...) through the
// OpenCV dnn module.
type DNNModel struct {
	mu     sync.Mutex
	net    gocv.Net
	layout Layout
	path   string
}

// NewDNNModel loads a network from disk. Missing or unreadable files are
// reported as ErrModelLoad.
func NewDNNModel(path string, layout Layout) (*DNNModel, error) {
	if layout == "" {
		layout = LayoutNHWC
	}
	if layout != LayoutNHWC && layout != LayoutNCHW {
		return nil, errors.Wrapf(ErrModelLoad, "unknown tensor layout %q", layout)
	}

	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(ErrModelLoad, "model %s: %v", path, err)
	}

	net := gocv.ReadNet(path, "")
	if net.Empty() {
		net.Close()
		return nil, errors.Wrapf(ErrModelLoad, "model %s could not be parsed", path)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, errors.Wrapf(ErrModelLoad, "set backend: %v", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, errors.Wrapf(ErrModelLoad, "set target: %v", err)
	}

	return &DNNModel{
		net:    net,
		layout: layout,
		path:   path,
	}, nil
}

// Predict runs one forward pass and returns the output distribution.
func (m *DNNModel) Predict(ctx context.Context, in Input) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(ErrClassifierUnavailable, "%v", err)
	}
	if len(in.Data) != in.Width*in.Height*in.Channels {
		return nil, errors.Errorf("input has %d values, want %dx%dx%d", len(in.Data), in.Width, in.Height, in.Channels)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	raw := float32Bytes(in.Data)

	blob, err := m.blob(in, raw)
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	m.net.SetInput(blob, "")
	out := m.net.Forward("")
	defer out.Close()
	runtime.KeepAlive(raw)

	if out.Empty() {
		return nil, errors.Wrap(ErrClassifierUnavailable, "forward returned no output")
	}

	probs, err := out.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "read output")
	}

	return append([]float32(nil), probs...), nil
}

func (m *DNNModel) blob(in Input, raw []byte) (gocv.Mat, error) {
	if m.layout == LayoutNHWC {
		blob, err := gocv.NewMatWithSizesFromBytes([]int{1, in.Height, in.Width, in.Channels}, gocv.MatTypeCV32F, raw)
		if err != nil {
			return gocv.Mat{}, errors.Wrap(err, "build nhwc blob")
		}
		return blob, nil
	}

	img, err := gocv.NewMatFromBytes(in.Height, in.Width, gocv.MatTypeCV32FC3, raw)
	if err != nil {
		return gocv.Mat{}, errors.Wrap(err, "build input image")
	}
	defer img.Close()

	return gocv.BlobFromImage(img, 1.0, image.Point{X: in.Width, Y: in.Height}, gocv.NewScalar(0, 0, 0, 0), false, false), nil
}

// Close releases the network.
func (m *DNNModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.Close()
}

func float32Bytes(data []float32) []byte {
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}
