// Package caption debounces a per-frame gesture stream into a displayed
// caption with a short history of recent distinct gestures.
//
// State is a value. Advance never modifies its argument, so the owner keeps
// exactly one mutable copy and replaces it with each result.
package caption

import "time"

// Defaults for caption behaviour.
const (
	// DefaultTimeout is how long a caption stays visible without a detection.
	DefaultTimeout = 2 * time.Second
	// HistorySize is the number of distinct captions retained.
	HistorySize = 5
)

// Phase is whether a caption is currently displayed.
type Phase string

const (
	Idle   Phase = "idle"
	Active Phase = "active"
)

// Event is a labelled detection for one frame.
type Event struct {
	Label      string
	Confidence float64
}

// Transition reports what an Advance call did.
type Transition struct {
	TimedOut  bool // the caption was cleared by the timeout check
	Changed   bool // a new caption became current
	Appended  bool // the new caption was added to history
	Refreshed bool // the current caption was detected again
}

// State is the debounced caption and its recent history.
type State struct {
	Phase      Phase
	Current    string
	LastUpdate time.Time
	Timeout    time.Duration
	history    []string
}

// New returns an idle State. A non-positive timeout selects DefaultTimeout.
func New(timeout time.Duration) State {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return State{Phase: Idle, Timeout: timeout}
}

// History returns a copy of the recent captions, oldest first.
func (s State) History() []string {
	return append([]string{}, s.history...)
}

// Reset returns an idle State with the same timeout and no history.
func (s State) Reset() State {
	return New(s.Timeout)
}

// Advance applies one frame tick at time now. ev is nil, or has an empty
// label, when the frame produced no detection.
//
// The timeout check runs first and on every tick. A detection of the current
// label only refreshes LastUpdate; any other label becomes current and is
// appended to history, evicting the oldest entry beyond HistorySize. A label
// equal to the newest history entry is not appended twice after a timeout.
func Advance(s State, now time.Time, ev *Event) (State, Transition) {
	var tr Transition

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if s.Phase == "" {
		s.Phase = Idle
	}

	if s.Phase == Active && now.Sub(s.LastUpdate) > timeout {
		s.Phase = Idle
		s.Current = ""
		tr.TimedOut = true
	}

	if ev == nil || ev.Label == "" {
		return s, tr
	}

	if s.Phase == Active && ev.Label == s.Current {
		s.LastUpdate = now
		tr.Refreshed = true
		return s, tr
	}

	s.Phase = Active
	s.Current = ev.Label
	s.LastUpdate = now
	tr.Changed = true

	if n := len(s.history); n == 0 || s.history[n-1] != ev.Label {
		s.history = appendBounded(s.history, ev.Label)
		tr.Appended = true
	}

	return s, tr
}

// appendBounded returns a new slice with label appended, keeping at most
// HistorySize entries. The input slice is never written.
func appendBounded(history []string, label string) []string {
	start := 0
	if len(history) >= HistorySize {
		start = len(history) - HistorySize + 1
	}

	out := make([]string, 0, HistorySize)
	out = append(out, history[start:]...)
	return append(out, label)
}
