package chat

import (
	"time"

	"github.com/raulk/clock"
)

// DefaultTypingWindow is how long a typing indicator lives without a refresh.
const DefaultTypingWindow = 3 * time.Second

type typist struct {
	name  string
	seq   uint64
	timer *clock.Timer
}

// PresenceTracker tracks remote users typing in the open conversation.
// Expiry callbacks are handed to post so that they run on the owner's loop;
// the tracker itself is not safe for concurrent use.
type PresenceTracker struct {
	clock   clock.Clock
	window  time.Duration
	post    func(func())
	changed func()
	seq     uint64
	typists map[string]*typist
}

// NewPresenceTracker returns a tracker whose entries expire after window.
// changed, when non-nil, runs after every visible change.
func NewPresenceTracker(clk clock.Clock, window time.Duration, post func(func()), changed func()) *PresenceTracker {
	if clk == nil {
		clk = clock.New()
	}
	if window <= 0 {
		window = DefaultTypingWindow
	}
	if changed == nil {
		changed = func() {}
	}
	return &PresenceTracker{
		clock:   clk,
		window:  window,
		post:    post,
		changed: changed,
		typists: make(map[string]*typist),
	}
}

// OnTyping inserts or refreshes userID and restarts its expiry timer.
func (p *PresenceTracker) OnTyping(userID, name string) {
	if userID == "" {
		return
	}
	p.seq++
	seq := p.seq
	t, ok := p.typists[userID]
	if ok {
		t.timer.Stop()
	} else {
		t = &typist{}
		p.typists[userID] = t
	}
	renamed := t.name != name
	t.name = name
	t.seq = seq
	t.timer = p.clock.AfterFunc(p.window, func() {
		p.post(func() { p.expire(userID, seq) })
	})
	if !ok || renamed {
		p.changed()
	}
}

// OnStopTyping removes userID immediately.
func (p *PresenceTracker) OnStopTyping(userID string) {
	t, ok := p.typists[userID]
	if !ok {
		return
	}
	t.timer.Stop()
	delete(p.typists, userID)
	p.changed()
}

// expire drops userID unless it was refreshed after the timer was armed.
func (p *PresenceTracker) expire(userID string, seq uint64) {
	t, ok := p.typists[userID]
	if !ok || t.seq != seq {
		return
	}
	delete(p.typists, userID)
	p.changed()
}

// Reset drops every entry, e.g. when the open conversation changes.
func (p *PresenceTracker) Reset() {
	if len(p.typists) == 0 {
		return
	}
	for id, t := range p.typists {
		t.timer.Stop()
		delete(p.typists, id)
	}
	p.changed()
}

// Snapshot returns user id → display name for everyone currently typing.
func (p *PresenceTracker) Snapshot() map[string]string {
	out := make(map[string]string, len(p.typists))
	for id, t := range p.typists {
		out[id] = t.name
	}
	return out
}
