package classifier

import (
	"context"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	zmq "github.com/pebbe/zmq4"
	"github.com/pkg/errors"
)

// DefaultRemoteTimeout bounds a round trip to the inference sidecar.
const DefaultRemoteTimeout = 500 * time.Millisecond

// Sidecar operations.
const (
	opInfo    = "info"
	opPredict = "predict"
)

// remoteRequest is the CBOR message sent to the inference sidecar.
type remoteRequest struct {
	Op    string    `cbor:"op"`
	Shape []int     `cbor:"shape,omitempty"`
	Data  []float32 `cbor:"data,omitempty"`
}

// remoteResponse is the sidecar reply. Info replies carry Classes, predict
// replies carry Probabilities.
type remoteResponse struct {
	Classes       int       `cbor:"classes,omitempty"`
	Probabilities []float32 `cbor:"probabilities,omitempty"`
	Error         string    `cbor:"error,omitempty"`
}

// RemoteConfig configures a RemoteModel.
type RemoteConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// RemoteModel talks to an out-of-process inference server over a ZeroMQ
// REQ socket. A timed-out REQ socket cannot be reused, so it is replaced
// after every failed round trip.
type RemoteModel struct {
	mu      sync.Mutex
	config  RemoteConfig
	sock    *zmq.Socket
	classes int
}

// NewRemoteModel connects to the sidecar and asks for its metadata, so an
// unreachable server fails session start with ErrModelLoad.
func NewRemoteModel(config RemoteConfig) (*RemoteModel, error) {
	if config.Endpoint == "" {
		return nil, errors.Wrap(ErrModelLoad, "no inference endpoint")
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultRemoteTimeout
	}

	m := &RemoteModel{config: config}
	if err := m.connect(); err != nil {
		return nil, errors.Wrapf(ErrModelLoad, "connect %s: %v", config.Endpoint, err)
	}

	resp, err := m.roundTrip(context.Background(), remoteRequest{Op: opInfo})
	if err != nil {
		m.Close()
		return nil, errors.Wrapf(ErrModelLoad, "query %s: %v", config.Endpoint, err)
	}
	if resp.Classes <= 0 {
		m.Close()
		return nil, errors.Wrapf(ErrModelLoad, "%s reported %d classes", config.Endpoint, resp.Classes)
	}
	m.classes = resp.Classes

	return m, nil
}

// Classes returns the vocabulary size reported by the sidecar.
func (m *RemoteModel) Classes() int {
	return m.classes
}

// Predict sends the tensor to the sidecar and waits for the distribution.
func (m *RemoteModel) Predict(ctx context.Context, in Input) ([]float32, error) {
	resp, err := m.roundTrip(ctx, remoteRequest{
		Op:    opPredict,
		Shape: []int{1, in.Height, in.Width, in.Channels},
		Data:  in.Data,
	})
	if err != nil {
		return nil, errors.Wrapf(ErrClassifierUnavailable, "%v", err)
	}
	return resp.Probabilities, nil
}

// Close releases the socket.
func (m *RemoteModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sock == nil {
		return nil
	}
	err := m.sock.Close()
	m.sock = nil
	return err
}

func (m *RemoteModel) connect() error {
	sock, err := zmq.NewSocket(zmq.REQ)
	if err != nil {
		return err
	}
	if err := sock.SetLinger(0); err != nil {
		sock.Close()
		return err
	}
	if err := sock.Connect(m.config.Endpoint); err != nil {
		sock.Close()
		return err
	}
	m.sock = sock
	return nil
}

func (m *RemoteModel) roundTrip(ctx context.Context, req remoteRequest) (*remoteResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payload, err := cbor.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "encode request")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sock == nil {
		if err := m.connect(); err != nil {
			return nil, errors.Wrap(err, "reconnect")
		}
	}

	timeout := m.config.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	m.sock.SetSndtimeo(timeout)
	m.sock.SetRcvtimeo(timeout)

	if _, err := m.sock.SendBytes(payload, 0); err != nil {
		m.reset()
		return nil, errors.Wrap(err, "send")
	}

	reply, err := m.sock.RecvBytes(0)
	if err != nil {
		m.reset()
		return nil, errors.Wrap(err, "receive")
	}

	resp, err := decodeResponse(reply)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// reset drops a socket left in a broken REQ state.
func (m *RemoteModel) reset() {
	if m.sock != nil {
		m.sock.Close()
		m.sock = nil
	}
}

func decodeResponse(reply []byte) (*remoteResponse, error) {
	var resp remoteResponse
	if err := cbor.Unmarshal(reply, &resp); err != nil {
		return nil, errors.Wrap(err, "decode reply")
	}
	if resp.Error != "" {
		return nil, errors.Errorf("sidecar: %s", resp.Error)
	}
	return &resp, nil
}
