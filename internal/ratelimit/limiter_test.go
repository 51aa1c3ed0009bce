package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestAdmitThenRejectWithinThreshold(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: time.Unix(1000, 0)}
	l := New(2*time.Second, WithClock(clk.now))

	if !l.TryAdmit(1) {
		t.Fatal("first action should be admitted")
	}
	clk.advance(1 * time.Second)
	if l.TryAdmit(1) {
		t.Fatal("action within threshold should be rejected")
	}
}

func TestAdmitAfterThreshold(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: time.Unix(1000, 0)}
	l := New(2*time.Second, WithClock(clk.now))

	if !l.TryAdmit(1) {
		t.Fatal("first action should be admitted")
	}
	clk.advance(2 * time.Second)
	if !l.TryAdmit(1) {
		t.Fatal("action at threshold should be admitted")
	}
}

func TestRejectionDoesNotSlideWindow(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: time.Unix(1000, 0)}
	l := New(2*time.Second, WithClock(clk.now))

	l.TryAdmit(1)
	clk.advance(1500 * time.Millisecond)
	if l.TryAdmit(1) {
		t.Fatal("should reject at 1.5s")
	}
	// 2s after the ADMITTED action, not after the rejected attempt.
	clk.advance(500 * time.Millisecond)
	if !l.TryAdmit(1) {
		t.Fatal("rejection must not reset the window")
	}
}

func TestUsersAreIndependent(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: time.Unix(1000, 0)}
	l := New(2*time.Second, WithClock(clk.now))

	if !l.TryAdmit(1) || !l.TryAdmit(2) {
		t.Fatal("distinct users must not throttle each other")
	}
}

func TestStaleEntriesSwept(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: time.Unix(1000, 0)}
	l := New(2*time.Second, WithClock(clk.now))
	l.sweepEvery = 1

	l.TryAdmit(1)
	clk.advance(time.Hour)
	l.TryAdmit(2)
	if got := l.Size(); got != 1 {
		t.Fatalf("Size = %d after sweep, want 1", got)
	}
}
