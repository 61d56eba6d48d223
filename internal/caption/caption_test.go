package caption

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"time"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return t0.Add(time.Duration(sec * float64(time.Second)))
}

func ev(label string) *Event {
	return &Event{Label: label, Confidence: 0.9}
}

func equalHistory(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestAdvance_TimeoutClearsCaption(t *testing.T) {
	s := New(2 * time.Second)

	s, tr := Advance(s, at(0), ev("HELLO"))
	if s.Current != "HELLO" || s.Phase != Active {
		t.Fatalf("after detection: current=%q phase=%s", s.Current, s.Phase)
	}
	if !tr.Changed || !tr.Appended {
		t.Errorf("transition = %+v, want changed and appended", tr)
	}
	if !equalHistory(s.History(), []string{"HELLO"}) {
		t.Fatalf("history = %v", s.History())
	}

	s, tr = Advance(s, at(2.1), nil)
	if s.Current != "" || s.Phase != Idle {
		t.Errorf("after timeout: current=%q phase=%s, want empty idle", s.Current, s.Phase)
	}
	if !tr.TimedOut {
		t.Error("expected TimedOut transition")
	}
	if !equalHistory(s.History(), []string{"HELLO"}) {
		t.Errorf("history = %v, want [HELLO] unchanged", s.History())
	}
}

func TestAdvance_GapShorterThanTimeout(t *testing.T) {
	s := New(2 * time.Second)
	s, _ = Advance(s, at(0), ev("A"))

	for _, sec := range []float64{0.5, 1.0, 1.9, 2.0} {
		s, _ = Advance(s, at(sec), nil)
		if s.Current != "A" {
			t.Fatalf("caption dropped at t=%.1f although timeout not exceeded", sec)
		}
	}

	s, _ = Advance(s, at(2.01), nil)
	if s.Current != "" {
		t.Errorf("caption should clear once gap exceeds the timeout")
	}
}

func TestAdvance_RepeatRefreshesWithoutGrowth(t *testing.T) {
	s := New(2 * time.Second)
	s, _ = Advance(s, at(0), ev("A"))

	for i := 1; i <= 10; i++ {
		var tr Transition
		s, tr = Advance(s, at(float64(i)*1.5), ev("A"))
		if !tr.Refreshed || tr.Changed {
			t.Fatalf("repeat %d: transition = %+v, want refresh only", i, tr)
		}
	}

	if !s.LastUpdate.Equal(at(15)) {
		t.Errorf("LastUpdate = %v, want %v", s.LastUpdate, at(15))
	}
	if !equalHistory(s.History(), []string{"A"}) {
		t.Errorf("history = %v, want [A]", s.History())
	}
	if s.Current != "A" {
		t.Errorf("current = %q, want A (kept alive past the original timeout)", s.Current)
	}
}

func TestAdvance_LabelChange(t *testing.T) {
	s := New(2 * time.Second)
	s, _ = Advance(s, at(0), ev("A"))
	s, _ = Advance(s, at(0.5), ev("A"))
	s, _ = Advance(s, at(0.9), ev("B"))

	if s.Current != "B" {
		t.Errorf("current = %q, want B", s.Current)
	}
	if !equalHistory(s.History(), []string{"A", "B"}) {
		t.Errorf("history = %v, want [A B]", s.History())
	}
}

func TestAdvance_EvictsOldest(t *testing.T) {
	s := New(2 * time.Second)
	for i := 1; i <= 6; i++ {
		s, _ = Advance(s, at(float64(i)), ev(fmt.Sprintf("L%d", i)))
	}

	want := []string{"L2", "L3", "L4", "L5", "L6"}
	if !equalHistory(s.History(), want) {
		t.Errorf("history = %v, want %v", s.History(), want)
	}
	if s.Current != "L6" {
		t.Errorf("current = %q, want L6", s.Current)
	}
}

func TestAdvance_EmptyLabelIsNoEvent(t *testing.T) {
	s := New(2 * time.Second)
	s, _ = Advance(s, at(0), ev("A"))

	next, tr := Advance(s, at(0.5), &Event{Label: "", Confidence: 0.5})
	if !reflect.DeepEqual(next, s) {
		t.Errorf("empty label changed state: %+v -> %+v", s, next)
	}
	if tr != (Transition{}) {
		t.Errorf("transition = %+v, want none", tr)
	}
}

func TestAdvance_SameLabelAfterTimeout(t *testing.T) {
	s := New(2 * time.Second)
	s, _ = Advance(s, at(0), ev("A"))
	s, tr := Advance(s, at(3), ev("A"))

	if !tr.TimedOut || !tr.Changed {
		t.Errorf("transition = %+v, want timeout then change", tr)
	}
	if tr.Appended {
		t.Error("a label equal to the newest history entry must not be appended again")
	}
	if s.Current != "A" || s.Phase != Active {
		t.Errorf("current=%q phase=%s, want A active", s.Current, s.Phase)
	}
	if !equalHistory(s.History(), []string{"A"}) {
		t.Errorf("history = %v, want [A]", s.History())
	}
}

func TestAdvance_DoesNotMutateInput(t *testing.T) {
	s := New(2 * time.Second)
	for i := 1; i <= 5; i++ {
		s, _ = Advance(s, at(float64(i)), ev(fmt.Sprintf("L%d", i)))
	}
	before := s.History()

	a, _ := Advance(s, at(6), ev("X"))
	b, _ := Advance(s, at(6), ev("Y"))

	if !equalHistory(s.History(), before) {
		t.Errorf("input history changed: %v -> %v", before, s.History())
	}
	if a.History()[4] != "X" || b.History()[4] != "Y" {
		t.Errorf("branches share storage: a=%v b=%v", a.History(), b.History())
	}

	h := a.History()
	h[0] = "mutated"
	if a.History()[0] == "mutated" {
		t.Error("History() must return a copy")
	}
}

func TestAdvance_Deterministic(t *testing.T) {
	base := New(2 * time.Second)
	base, _ = Advance(base, at(0), ev("A"))
	base, _ = Advance(base, at(1), ev("B"))

	inputs := []struct {
		now time.Time
		ev  *Event
	}{
		{at(1.5), nil},
		{at(1.5), ev("B")},
		{at(1.5), ev("C")},
		{at(5), nil},
		{at(5), ev("A")},
	}

	for _, in := range inputs {
		copy1 := base
		copy2 := base

		r1, t1 := Advance(copy1, in.now, in.ev)
		r2, t2 := Advance(copy2, in.now, in.ev)

		if !reflect.DeepEqual(r1, r2) || t1 != t2 {
			t.Errorf("Advance not deterministic for %v: %+v vs %+v", in, r1, r2)
		}
	}
}

func TestAdvance_Invariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	vocab := []string{"A", "B", "C", "HELLO", "THANKS", "YES", "NO"}

	for run := 0; run < 200; run++ {
		s := New(time.Duration(1+rng.Intn(3)) * time.Second)
		now := t0

		for step := 0; step < 300; step++ {
			now = now.Add(time.Duration(rng.Intn(800)) * time.Millisecond)

			var e *Event
			if rng.Intn(3) > 0 {
				e = ev(vocab[rng.Intn(len(vocab))])
			}

			prev := s
			s, _ = Advance(s, now, e)
			h := s.History()

			if len(h) > HistorySize {
				t.Fatalf("run %d step %d: history has %d entries", run, step, len(h))
			}
			for i := 1; i < len(h); i++ {
				if h[i] == h[i-1] {
					t.Fatalf("run %d step %d: consecutive duplicates in %v", run, step, h)
				}
			}
			if s.Phase == Active && (len(h) == 0 || h[len(h)-1] != s.Current) {
				t.Fatalf("run %d step %d: current %q is not newest history entry %v", run, step, s.Current, h)
			}
			if s.Phase == Idle && s.Current != "" {
				t.Fatalf("run %d step %d: idle with caption %q", run, step, s.Current)
			}
			if prev.Phase == Active && e == nil && now.Sub(prev.LastUpdate) > s.Timeout && s.Current != "" {
				t.Fatalf("run %d step %d: caption survived timeout", run, step)
			}
		}
	}
}

func TestState_Reset(t *testing.T) {
	s := New(3 * time.Second)
	s, _ = Advance(s, at(0), ev("A"))

	r := s.Reset()
	if r.Phase != Idle || r.Current != "" || len(r.History()) != 0 {
		t.Errorf("Reset() = %+v, want empty idle state", r)
	}
	if r.Timeout != 3*time.Second {
		t.Errorf("Reset() timeout = %v, want 3s", r.Timeout)
	}
}

func TestZeroState(t *testing.T) {
	var s State

	s, _ = Advance(s, at(0), ev("A"))
	s, _ = Advance(s, at(1.5), nil)
	if s.Current != "A" {
		t.Errorf("zero State should use the default timeout, caption cleared early")
	}
	s, _ = Advance(s, at(2.5), nil)
	if s.Current != "" {
		t.Errorf("zero State should use the default timeout, caption kept")
	}
}
