package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/paperchat/internal/bus"
	"github.com/matheus3301/paperchat/internal/status"
	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type published struct {
	event   string
	payload any
}

type fakeLive struct {
	mu          sync.Mutex
	handlers    map[string]func(json.RawMessage)
	published   []published
	connects    int
	disconnects int
	state       status.State
}

func newFakeLive() *fakeLive {
	return &fakeLive{handlers: make(map[string]func(json.RawMessage)), state: status.Disconnected}
}

func (f *fakeLive) Connect(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.state = status.Connected
}

func (f *fakeLive) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.state = status.Disconnected
}

func (f *fakeLive) Publish(event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{event, payload})
}

func (f *fakeLive) Subscribe(event string, h func(json.RawMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = h
}

func (f *fakeLive) Unsubscribe(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, event)
}

func (f *fakeLive) State() status.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeLive) deliver(t *testing.T, event string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	f.mu.Lock()
	h := f.handlers[event]
	f.mu.Unlock()
	require.NotNil(t, h, "no handler for %s", event)
	h(data)
}

func (f *fakeLive) sent(event string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, p := range f.published {
		if p.event == event {
			out = append(out, p.payload)
		}
	}
	return out
}

type fakeDurable struct {
	mu      sync.Mutex
	token   string
	history map[string][]Message
	gates   map[string]chan struct{}
	err     error
	unread  int
	convs   []Conversation
	read    []string
	deleted []string
	cleared []string
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{history: make(map[string][]Message), gates: make(map[string]chan struct{})}
}

func (f *fakeDurable) SetToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

func (f *fakeDurable) FetchHistory(ctx context.Context, id string) ([]Message, error) {
	f.mu.Lock()
	gate := f.gates[id]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.history[id]...), nil
}

func (f *fakeDurable) MarkRead(_ context.Context, _ string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read = append(f.read, ids...)
	return f.err
}

func (f *fakeDurable) DeleteMessage(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeDurable) Clear(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.cleared = append(f.cleared, id)
	return nil
}

func (f *fakeDurable) UnreadCount(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread, nil
}

func (f *fakeDurable) Conversations(context.Context) ([]Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]Conversation(nil), f.convs...), nil
}

type fakeOutbox struct {
	mu        sync.Mutex
	queued    []Message
	discarded []string
	unsent    []Message
	err       error
}

func (f *fakeOutbox) Queue(m Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, m)
	return f.err
}

func (f *fakeOutbox) Retry(string) error { return nil }

func (f *fakeOutbox) Discard(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, id)
	return nil
}

func (f *fakeOutbox) Unsent(id string) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Message
	for _, m := range f.unsent {
		if m.ConversationID == id {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeOutbox) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queued)
}

type harness struct {
	t       *testing.T
	engine  *Engine
	live    *fakeLive
	durable *fakeDurable
	outbox  *fakeOutbox
	bus     *bus.Bus
	clock   *clock.Mock
}

var alice = User{ID: "A", Name: "Alice"}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		live:    newFakeLive(),
		durable: newFakeDurable(),
		outbox:  &fakeOutbox{},
		bus:     bus.New(),
		clock:   clock.NewMock(),
	}
	h.engine = NewEngine(Config{TypingWindow: 3 * time.Second, RequestTimeout: time.Second},
		h.live, h.durable, h.outbox, h.bus, zap.NewNop(), WithClock(h.clock))
	h.engine.Start(context.Background())
	t.Cleanup(h.engine.Stop)
	require.NoError(t, h.engine.Init(Session{User: alice, Token: "tok"}))
	return h
}

func (h *harness) open(peer User) string {
	h.t.Helper()
	id, err := h.engine.Open(peer)
	require.NoError(h.t, err)
	return id
}

func (h *harness) snapshot() Snapshot {
	h.t.Helper()
	s, err := h.engine.Snapshot()
	require.NoError(h.t, err)
	return s
}

func (h *harness) eventually(cond func(s Snapshot) bool, msg string) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return cond(h.snapshot()) }, 2*time.Second, 5*time.Millisecond, msg)
}

func TestInitConnectsAndForwardsToken(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, 1, h.live.connects)
	assert.Equal(t, "tok", h.durable.token)
	assert.Equal(t, status.Connected, h.engine.ConnectionState())
	assert.Equal(t, alice, h.snapshot().Self)
}

func TestInitTwiceReplacesSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Init(Session{User: alice, Token: "tok2"}))

	assert.Equal(t, 2, h.live.connects)
	assert.Equal(t, 1, h.live.disconnects)
	assert.Len(t, h.live.handlers, len(inboundEvents))
	assert.Equal(t, "tok2", h.durable.token)
}

func TestOpenLoadsHistory(t *testing.T) {
	h := newHarness(t)
	h.durable.history["A-B"] = []Message{
		{ID: "1", ConversationID: "A-B", SenderID: "B", Body: "hi"},
		{ID: "2", ConversationID: "A-B", SenderID: "A", Body: "hey"},
	}
	id := h.open(User{ID: "B", Name: "Bob"})
	assert.Equal(t, "A-B", id)
	assert.Equal(t, []any{"A-B"}, h.live.sent(EventJoin))

	h.eventually(func(s Snapshot) bool { return len(s.Messages) == 2 }, "history not applied")
	assert.Equal(t, "Bob", h.snapshot().Peer.Name)
}

func TestSendIsOptimistic(t *testing.T) {
	h := newHarness(t)
	h.open(User{ID: "B", Name: "Bob"})

	m, err := h.engine.Send("  hello  ", nil)
	require.NoError(t, err)
	assert.True(t, m.IsPending())
	assert.Equal(t, "hello", m.Body)
	assert.Equal(t, m.ID, m.ClientID)

	s := h.snapshot()
	require.Len(t, s.Messages, 1)
	assert.Equal(t, StatusPending, s.Messages[0].Status)

	reqs := h.live.sent(EventSendMessage)
	require.Len(t, reqs, 1)
	assert.Equal(t, m.ID, reqs[0].(SendRequest).ClientID)
	require.Eventually(t, func() bool { return h.outbox.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSendRejectsEmptyAndClosed(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Send("hi", nil)
	assert.ErrorIs(t, err, ErrNoConversation)

	h.open(User{ID: "B"})
	_, err = h.engine.Send("   ", nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, h.snapshot().Messages)
}

func TestSendBeforeInit(t *testing.T) {
	e := NewEngine(Config{}, newFakeLive(), newFakeDurable(), &fakeOutbox{}, nil, nil)
	e.Start(context.Background())
	defer e.Stop()
	_, err := e.Send("hi", nil)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestLivePushThenAckYieldsOneMessage(t *testing.T) {
	h := newHarness(t)
	h.open(User{ID: "B"})
	h.engine.Send("first", nil)
	m, _ := h.engine.Send("second", nil)
	h.engine.Send("third", nil)

	confirmed := Message{ID: "srv-2", ClientID: m.ID, ConversationID: "A-B", SenderID: "A", Body: "second"}
	h.live.deliver(t, EventMessageReceived, confirmed)
	h.bus.Emit(bus.KindSendAck, SendAck{TempID: m.ID, Message: confirmed})

	h.eventually(func(s Snapshot) bool {
		return len(s.Messages) == 3 && s.Messages[1].ID == "srv-2"
	}, "confirmed message not swapped in place")
	time.Sleep(20 * time.Millisecond)
	s := h.snapshot()
	require.Len(t, s.Messages, 3)
	assert.Equal(t, StatusSent, s.Messages[1].Status)
	assert.True(t, s.Messages[0].IsPending())
	assert.True(t, s.Messages[2].IsPending())
}

func TestAckThenLivePushYieldsOneMessage(t *testing.T) {
	h := newHarness(t)
	h.open(User{ID: "B"})
	m, _ := h.engine.Send("hello", nil)

	confirmed := Message{ID: "srv-1", ConversationID: "A-B", SenderID: "A", Body: "hello"}
	h.bus.Emit(bus.KindSendAck, SendAck{TempID: m.ID, Message: confirmed})
	h.eventually(func(s Snapshot) bool {
		return len(s.Messages) == 1 && s.Messages[0].ID == "srv-1"
	}, "ack not applied")

	h.live.deliver(t, EventMessageReceived, confirmed)
	s := h.snapshot()
	require.Len(t, s.Messages, 1)
	assert.Equal(t, "srv-1", s.Messages[0].ID)
}

func TestDurableFailureMarksMessage(t *testing.T) {
	h := newHarness(t)
	warnings, unsub := h.bus.Subscribe(bus.KindWarning, 4)
	defer unsub()
	h.open(User{ID: "B"})
	m, _ := h.engine.Send("hello", nil)

	h.bus.Emit(bus.KindSendFailed, SendFailure{TempID: m.ID, ConversationID: "A-B", Err: errors.New("boom")})
	h.eventually(func(s Snapshot) bool {
		return len(s.Messages) == 1 && s.Messages[0].Status == StatusFailed
	}, "message not marked failed")

	select {
	case evt := <-warnings:
		w := evt.Payload.(Warning)
		assert.Equal(t, m.ID, w.MessageID)
		assert.Equal(t, "boom", w.Err)
	case <-time.After(time.Second):
		t.Fatal("no warning published")
	}
}

func TestStaleHistoryNeverOverwritesNewConversation(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.durable.gates["A-B"] = gate
	h.durable.history["A-B"] = []Message{{ID: "b1", ConversationID: "A-B", SenderID: "B", Body: "from B"}}
	h.durable.history["A-C"] = []Message{{ID: "c1", ConversationID: "A-C", SenderID: "C", Body: "from C"}}

	h.open(User{ID: "B"})
	h.open(User{ID: "C"})
	h.eventually(func(s Snapshot) bool { return len(s.Messages) == 1 }, "A-C history not applied")

	close(gate)
	time.Sleep(50 * time.Millisecond)
	s := h.snapshot()
	assert.Equal(t, "A-C", s.ConversationID)
	require.Len(t, s.Messages, 1)
	assert.Equal(t, "c1", s.Messages[0].ID)
	assert.Equal(t, []any{"A-B"}, h.live.sent(EventLeave))
}

func TestOtherConversationIsRouted(t *testing.T) {
	h := newHarness(t)
	h.open(User{ID: "B"})

	m := Message{ID: "c1", ConversationID: "A-C", SenderID: "C", SenderName: "Carol", RecipientID: "A", Body: "psst"}
	h.live.deliver(t, EventMessageReceived, m)
	h.live.deliver(t, EventMessageNotification, m)

	s := h.snapshot()
	assert.Empty(t, s.Messages)
	assert.Equal(t, 1, s.Unread)
	require.Len(t, s.Notifications, 1)

	conv, err := h.engine.OpenNotification("c1")
	require.NoError(t, err)
	assert.Equal(t, "A-C", conv)
	s = h.snapshot()
	assert.Equal(t, "A-C", s.ConversationID)
	assert.Equal(t, "Carol", s.Peer.Name)
	assert.Zero(t, s.Unread)
	assert.Empty(t, s.Notifications)
}

func TestDismissNotification(t *testing.T) {
	h := newHarness(t)
	h.live.deliver(t, EventMessageNotification, Message{ID: "c1", ConversationID: "A-C", SenderID: "C"})
	h.live.deliver(t, EventMessageNotification, Message{ID: "d1", ConversationID: "A-D", SenderID: "D"})

	require.NoError(t, h.engine.DismissNotification("c1"))
	assert.ErrorIs(t, h.engine.DismissNotification("c1"), ErrNotFound)
	require.NoError(t, h.engine.DismissAt(0))
	assert.ErrorIs(t, h.engine.DismissAt(0), ErrNotFound)
	assert.Zero(t, h.engine.Unread())
}

func TestUnreadSeededFromServer(t *testing.T) {
	h := &harness{t: t, live: newFakeLive(), durable: newFakeDurable(), outbox: &fakeOutbox{}, bus: bus.New()}
	h.durable.unread = 7
	h.engine = NewEngine(Config{}, h.live, h.durable, h.outbox, h.bus, nil)
	h.engine.Start(context.Background())
	t.Cleanup(h.engine.Stop)
	require.NoError(t, h.engine.Init(Session{User: alice}))

	h.eventually(func(s Snapshot) bool { return s.Unread == 7 }, "unread not seeded")
}

func TestTypingIndicatorExpires(t *testing.T) {
	h := newHarness(t)
	h.open(User{ID: "B"})

	h.live.deliver(t, EventUserTyping, TypingPayload{ConversationID: "A-B", UserID: "B", UserName: "Bob"})
	h.live.deliver(t, EventUserTyping, TypingPayload{ConversationID: "A-C", UserID: "C", UserName: "Carol"})
	h.live.deliver(t, EventUserTyping, TypingPayload{ConversationID: "A-B", UserID: "A", UserName: "Alice"})
	assert.Equal(t, map[string]string{"B": "Bob"}, h.engine.Typing())

	h.clock.Add(3 * time.Second)
	h.eventually(func(s Snapshot) bool { return len(s.Typing) == 0 }, "typing did not expire")
}

func TestStopTypingAndSwitchClearPresence(t *testing.T) {
	h := newHarness(t)
	h.open(User{ID: "B"})
	h.live.deliver(t, EventUserTyping, TypingPayload{ConversationID: "A-B", UserID: "B", UserName: "Bob"})
	h.live.deliver(t, EventUserStoppedTyping, TypingPayload{ConversationID: "A-B", UserID: "B"})
	assert.Empty(t, h.engine.Typing())

	h.live.deliver(t, EventUserTyping, TypingPayload{ConversationID: "A-B", UserID: "B", UserName: "Bob"})
	h.open(User{ID: "C"})
	assert.Empty(t, h.engine.Typing())
}

func TestNotifyTypingStopsAfterWindow(t *testing.T) {
	h := newHarness(t)
	h.open(User{ID: "B"})

	require.NoError(t, h.engine.NotifyTyping())
	require.Len(t, h.live.sent(EventTyping), 1)
	assert.Empty(t, h.live.sent(EventStopTyping))

	h.clock.Add(3 * time.Second)
	require.Eventually(t, func() bool { return len(h.live.sent(EventStopTyping)) == 1 },
		time.Second, 5*time.Millisecond)
}

func TestReconnectRejoinsOpenConversation(t *testing.T) {
	h := newHarness(t)
	h.open(User{ID: "B"})
	h.bus.Emit(bus.KindStatusChanged, status.StatusChange{From: status.Reconnecting, To: status.Connected})

	require.Eventually(t, func() bool { return len(h.live.sent(EventJoin)) == 2 },
		time.Second, 5*time.Millisecond)
}

func TestReadReceiptsAndMarkRead(t *testing.T) {
	h := newHarness(t)
	h.durable.history["A-B"] = []Message{
		{ID: "1", ConversationID: "A-B", SenderID: "A"},
		{ID: "2", ConversationID: "A-B", SenderID: "B"},
	}
	h.open(User{ID: "B"})
	h.eventually(func(s Snapshot) bool { return len(s.Messages) == 2 }, "history not applied")

	h.live.deliver(t, EventMessagesRead, ReadPayload{ConversationID: "A-B", MessageIDs: []string{"1"}})
	assert.True(t, h.snapshot().Messages[0].IsRead)

	h.durable.err = errors.New("offline")
	err := h.engine.MarkRead(context.Background(), []string{"2"})
	require.Error(t, err)
	assert.True(t, h.snapshot().Messages[1].IsRead)
	assert.Len(t, h.live.sent(EventMarkAsRead), 1)
}

func TestDeleteAndClearAreDurableFirst(t *testing.T) {
	h := newHarness(t)
	h.durable.history["A-B"] = []Message{
		{ID: "1", ConversationID: "A-B", SenderID: "A"},
		{ID: "2", ConversationID: "A-B", SenderID: "B"},
	}
	h.open(User{ID: "B"})
	h.eventually(func(s Snapshot) bool { return len(s.Messages) == 2 }, "history not applied")

	h.durable.err = errors.New("offline")
	require.Error(t, h.engine.Delete(context.Background(), "1"))
	require.Error(t, h.engine.Clear(context.Background()))
	assert.Len(t, h.snapshot().Messages, 2)

	h.durable.mu.Lock()
	h.durable.err = nil
	h.durable.mu.Unlock()
	require.NoError(t, h.engine.Delete(context.Background(), "1"))
	assert.Len(t, h.snapshot().Messages, 1)
	require.NoError(t, h.engine.Clear(context.Background()))
	assert.Empty(t, h.snapshot().Messages)
	assert.Equal(t, []string{"A-B"}, h.durable.cleared)
}

func TestUnsentOutboxReshownOnOpen(t *testing.T) {
	h := newHarness(t)
	h.outbox.unsent = []Message{{ID: "temp-q", ConversationID: "A-B", SenderID: "A", Body: "queued", Status: StatusFailed}}
	h.open(User{ID: "B"})
	h.eventually(func(s Snapshot) bool {
		return len(s.Messages) == 1 && s.Messages[0].Status == StatusFailed
	}, "unsent message not shown")

	require.NoError(t, h.engine.Retry("temp-q"))
	assert.Equal(t, StatusPending, h.snapshot().Messages[0].Status)
	assert.Len(t, h.live.sent(EventSendMessage), 1)
}

func TestTeardownClearsState(t *testing.T) {
	h := newHarness(t)
	h.open(User{ID: "B"})
	h.live.deliver(t, EventMessageNotification, Message{ID: "c1", ConversationID: "A-C", SenderID: "C"})

	require.NoError(t, h.engine.Teardown())
	s := h.snapshot()
	assert.Empty(t, s.ConversationID)
	assert.Zero(t, s.Unread)
	assert.Empty(t, h.live.handlers)
	assert.Equal(t, status.Disconnected, s.State)
}

func TestStoppedEngineRejectsCommands(t *testing.T) {
	h := newHarness(t)
	h.engine.Stop()
	_, err := h.engine.Send("hi", nil)
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, h.engine.Close(), ErrStopped)
}

func TestSendDuringHistoryFetchYieldsOneMessage(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.durable.gates["A-B"] = gate
	h.durable.history["A-B"] = []Message{{ID: "srv-1", ConversationID: "A-B", SenderID: "A", Body: "hello"}}
	h.open(User{ID: "B"})

	m, err := h.engine.Send("hello", nil)
	require.NoError(t, err)
	close(gate)
	h.eventually(func(s Snapshot) bool {
		return len(s.Messages) == 1 && s.Messages[0].ID == "srv-1"
	}, "history did not absorb the pending copy")

	// both confirmations of the same send arrive after the history
	pushed := Message{ID: "srv-1", ConversationID: "A-B", SenderID: "A", Body: "hello"}
	h.live.deliver(t, EventMessageReceived, pushed)
	h.bus.Emit(bus.KindSendAck, SendAck{TempID: m.ID, Message: pushed})
	time.Sleep(20 * time.Millisecond)

	s := h.snapshot()
	require.Len(t, s.Messages, 1)
	assert.Equal(t, "srv-1", s.Messages[0].ID)
}

func TestRapidSendsQueueInOrder(t *testing.T) {
	h := newHarness(t)
	h.open(User{ID: "B"})

	const n = 200
	var want []string
	for i := 0; i < n; i++ {
		m, err := h.engine.Send(fmt.Sprintf("msg %d", i), nil)
		require.NoError(t, err)
		want = append(want, m.ID)
	}
	require.Eventually(t, func() bool { return h.outbox.count() == n }, 2*time.Second, 5*time.Millisecond)

	h.outbox.mu.Lock()
	defer h.outbox.mu.Unlock()
	got := make([]string, len(h.outbox.queued))
	for i, m := range h.outbox.queued {
		got[i] = m.ID
	}
	assert.Equal(t, want, got)
}

func TestDiscardFollowsQueuedWrite(t *testing.T) {
	h := newHarness(t)
	h.open(User{ID: "B"})

	m, err := h.engine.Send("oops", nil)
	require.NoError(t, err)
	require.NoError(t, h.engine.Delete(context.Background(), m.ID))

	h.outbox.mu.Lock()
	defer h.outbox.mu.Unlock()
	require.Len(t, h.outbox.queued, 1)
	assert.Equal(t, []string{m.ID}, h.outbox.discarded)
	assert.Empty(t, h.snapshot().Messages)
}

func TestSwitchBackIgnoresLeftConversation(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.durable.gates["A-C"] = gate
	h.durable.history["A-B"] = []Message{{ID: "b1", ConversationID: "A-B", SenderID: "B", Body: "from B"}}
	h.durable.history["A-C"] = []Message{{ID: "c1", ConversationID: "A-C", SenderID: "C", Body: "from C"}}

	h.open(User{ID: "B"})
	h.open(User{ID: "C"})
	h.open(User{ID: "B"})
	h.eventually(func(s Snapshot) bool {
		return s.ConversationID == "A-B" && len(s.Messages) == 1
	}, "A-B history not applied after switching back")

	// everything below belongs to the conversation that was left
	close(gate)
	h.live.deliver(t, EventUserTyping, TypingPayload{ConversationID: "A-C", UserID: "C", UserName: "Carol"})
	h.live.deliver(t, EventMessageReceived, Message{ID: "c2", ConversationID: "A-C", SenderID: "C", Body: "late"})
	time.Sleep(50 * time.Millisecond)

	s := h.snapshot()
	assert.Equal(t, "A-B", s.ConversationID)
	require.Len(t, s.Messages, 1)
	assert.Equal(t, "b1", s.Messages[0].ID)
	assert.Empty(t, s.Typing)
	require.Len(t, s.Notifications, 1)
	assert.Equal(t, "c2", s.Notifications[0].ID)
	assert.Equal(t, []any{"A-B", "A-C"}, h.live.sent(EventLeave))
}

func TestConversationsLoadedAtInit(t *testing.T) {
	h := &harness{t: t, live: newFakeLive(), durable: newFakeDurable(), outbox: &fakeOutbox{}, bus: bus.New()}
	h.durable.convs = []Conversation{
		{ID: "A-B", Peer: User{ID: "B", Name: "Bob"}, UnreadCount: 2, LastMessage: &Message{ID: "b9", Body: "later?"}},
		{ID: "A-C", Peer: User{ID: "C", Name: "Carol"}},
	}
	h.engine = NewEngine(Config{}, h.live, h.durable, h.outbox, h.bus, nil)
	h.engine.Start(context.Background())
	t.Cleanup(h.engine.Stop)
	require.NoError(t, h.engine.Init(Session{User: alice}))

	h.eventually(func(s Snapshot) bool { return len(s.Conversations) == 2 }, "conversations not loaded")
	convs := h.engine.Conversations()
	assert.Equal(t, "Bob", convs[0].Peer.Name)
	convs[0].LastMessage.Body = "changed"
	assert.Equal(t, "later?", h.engine.Conversations()[0].LastMessage.Body)

	h.durable.mu.Lock()
	h.durable.convs = h.durable.convs[:1]
	h.durable.mu.Unlock()
	got, err := h.engine.RefreshConversations(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)
	h.eventually(func(s Snapshot) bool { return len(s.Conversations) == 1 }, "refresh not applied")

	require.NoError(t, h.engine.Teardown())
	assert.Empty(t, h.engine.Conversations())
	_, err = h.engine.RefreshConversations(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}
