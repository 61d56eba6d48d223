package classifier

import (
	"context"
	"sync"
)

// MockModel is a deterministic Model for tests.
type MockModel struct {
	mu     sync.Mutex
	probs  []float32
	err    error
	calls  int
	last   Input
	closed bool
}

// NewMockModel returns a mock that answers with probs.
func NewMockModel(probs ...float32) *MockModel {
	return &MockModel{probs: probs}
}

// SetProbabilities replaces the distribution returned by Predict.
func (m *MockModel) SetProbabilities(probs ...float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probs = probs
}

// SetError makes Predict fail with err. Nil restores normal answers.
func (m *MockModel) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Predict returns the configured distribution or error.
func (m *MockModel) Predict(ctx context.Context, in Input) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.last = in
	if m.err != nil {
		return nil, m.err
	}
	return append([]float32(nil), m.probs...), nil
}

// Calls returns the number of Predict invocations.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastInput returns the most recent tensor passed to Predict.
func (m *MockModel) LastInput() Input {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Close marks the mock closed.
func (m *MockModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockModel) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
