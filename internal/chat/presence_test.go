package chat

import (
	"testing"
	"time"

	"github.com/raulk/clock"
)

type presenceHarness struct {
	t       *testing.T
	clock   *clock.Mock
	ops     chan func()
	changes int
	p       *PresenceTracker
}

func newPresenceHarness(t *testing.T) *presenceHarness {
	h := &presenceHarness{t: t, clock: clock.NewMock(), ops: make(chan func(), 16)}
	h.p = NewPresenceTracker(h.clock, 3*time.Second, func(fn func()) { h.ops <- fn }, func() { h.changes++ })
	return h
}

// drain runs one posted expiry.
func (h *presenceHarness) drain() {
	h.t.Helper()
	select {
	case fn := <-h.ops:
		fn()
	case <-time.After(time.Second):
		h.t.Fatal("no expiry posted")
	}
}

func (h *presenceHarness) idle() {
	h.t.Helper()
	select {
	case <-h.ops:
		h.t.Fatal("unexpected expiry posted")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestTypingExpiresAfterWindow(t *testing.T) {
	h := newPresenceHarness(t)
	h.p.OnTyping("B", "Bob")
	if got := h.p.Snapshot(); got["B"] != "Bob" {
		t.Fatalf("snapshot = %v", got)
	}

	h.clock.Add(3 * time.Second)
	h.drain()
	if len(h.p.Snapshot()) != 0 {
		t.Fatalf("snapshot = %v after window", h.p.Snapshot())
	}
	if h.changes != 2 {
		t.Fatalf("changes = %d, want 2", h.changes)
	}
}

func TestTypingRefreshExtendsWindow(t *testing.T) {
	h := newPresenceHarness(t)
	h.p.OnTyping("B", "Bob")
	h.clock.Add(2 * time.Second)
	h.p.OnTyping("B", "Bob")
	h.clock.Add(2 * time.Second)
	h.idle()
	if len(h.p.Snapshot()) != 1 {
		t.Fatal("refreshed typist expired early")
	}

	h.clock.Add(time.Second)
	h.drain()
	if len(h.p.Snapshot()) != 0 {
		t.Fatal("typist did not expire")
	}
	if h.changes != 2 {
		t.Fatalf("changes = %d, want 2", h.changes)
	}
}

func TestStaleExpiryIgnored(t *testing.T) {
	h := newPresenceHarness(t)
	h.p.OnTyping("B", "Bob")
	old := h.p.typists["B"].seq
	h.p.OnTyping("B", "Bob")

	h.p.expire("B", old)
	if len(h.p.Snapshot()) != 1 {
		t.Fatal("stale expiry removed a refreshed typist")
	}
}

func TestStopTypingRemovesImmediately(t *testing.T) {
	h := newPresenceHarness(t)
	h.p.OnTyping("B", "Bob")
	h.p.OnTyping("C", "Carol")
	h.p.OnStopTyping("B")

	got := h.p.Snapshot()
	if _, ok := got["B"]; ok || got["C"] != "Carol" {
		t.Fatalf("snapshot = %v", got)
	}
	h.p.OnStopTyping("B")
	if h.changes != 3 {
		t.Fatalf("changes = %d, want 3", h.changes)
	}
}

func TestResetClearsAll(t *testing.T) {
	h := newPresenceHarness(t)
	h.p.OnTyping("B", "Bob")
	h.p.OnTyping("C", "Carol")
	h.p.Reset()
	if len(h.p.Snapshot()) != 0 {
		t.Fatal("reset left typists")
	}
	h.clock.Add(5 * time.Second)
	h.idle()
}
