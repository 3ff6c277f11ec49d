package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/paperchat/internal/bus"
	"github.com/matheus3301/paperchat/internal/status"
	"github.com/raulk/clock"
	"go.uber.org/zap"
)

var (
	ErrNoSession      = errors.New("no active session")
	ErrNoConversation = errors.New("no open conversation")
	ErrEmptyMessage   = errors.New("message cannot be empty")
	ErrNotFound       = errors.New("not found")
	ErrStopped        = errors.New("engine stopped")
)

// Live is the publish/subscribe surface of the persistent connection.
type Live interface {
	Connect(token string)
	Disconnect()
	Publish(event string, payload any)
	Subscribe(event string, handler func(data json.RawMessage))
	Unsubscribe(event string)
	State() status.State
}

// Durable is the request/response store used for history and for the
// non-send writes. Sends go through the Outbox.
type Durable interface {
	SetToken(token string)
	FetchHistory(ctx context.Context, conversationID string) ([]Message, error)
	MarkRead(ctx context.Context, conversationID string, messageIDs []string) error
	DeleteMessage(ctx context.Context, id string) error
	Clear(ctx context.Context, conversationID string) error
	UnreadCount(ctx context.Context) (int, error)
	Conversations(ctx context.Context) ([]Conversation, error)
}

// Outbox queues durable writes of local sends. Results come back on the bus
// as SendAck and SendFailure events.
type Outbox interface {
	Queue(m Message) error
	Retry(tempID string) error
	Discard(tempID string) error
	Unsent(conversationID string) ([]Message, error)
}

// Cache keeps a local copy of confirmed messages for offline viewing.
type Cache interface {
	SaveMessages(msgs []Message) error
	CachedHistory(conversationID string, limit int) ([]Message, error)
	DeleteCachedMessage(id string) error
	ClearCachedConversation(conversationID string) error
}

// Config tunes the engine.
type Config struct {
	TypingWindow   time.Duration
	RequestTimeout time.Duration
	HistoryLimit   int
}

func (c *Config) defaults() {
	if c.TypingWindow <= 0 {
		c.TypingWindow = DefaultTypingWindow
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 15 * time.Second
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 200
	}
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithCache enables the offline history cache.
func WithCache(c Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// Snapshot is a consistent read of everything the presentation layer shows.
type Snapshot struct {
	Self           User
	ConversationID string
	Peer           User
	Messages       []Message
	Typing         map[string]string
	Notifications  []Message
	Unread         int
	Conversations  []Conversation
	State          status.State
}

var inboundEvents = []string{
	EventMessageReceived,
	EventMessageNotification,
	EventUserTyping,
	EventUserStoppedTyping,
	EventMessagesRead,
}

// Engine keeps the open conversation consistent across the live push, the
// durable store and optimistic local sends. All state below the ops channel
// is owned by the loop goroutine; everything else reaches it through post.
type Engine struct {
	cfg     Config
	live    Live
	durable Durable
	outbox  Outbox
	cache   Cache
	bus     *bus.Bus
	clock   clock.Clock
	logger  *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	ops     chan func()
	writes  chan func()
	stopped chan struct{}

	session       *Session
	conversations []Conversation
	store         *ConversationStore
	notes       *NotificationRouter
	reconciler  *Reconciler
	presence    *PresenceTracker
	typingTimer *clock.Timer
	typingSeq   uint64
}

// NewEngine creates an engine. Start must be called before any command.
func NewEngine(cfg Config, live Live, durable Durable, outbox Outbox, b *bus.Bus, logger *zap.Logger, opts ...Option) *Engine {
	cfg.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if b == nil {
		b = bus.New()
	}
	e := &Engine{
		cfg:     cfg,
		live:    live,
		durable: durable,
		outbox:  outbox,
		bus:     b,
		clock:   clock.New(),
		logger:  logger,
		ops:     make(chan func(), 256),
		writes:  make(chan func(), 256),
		stopped: make(chan struct{}),
		store:   NewConversationStore(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.notes = NewNotificationRouter(e.store)
	e.presence = NewPresenceTracker(e.clock, cfg.TypingWindow, e.post, e.typingChanged)
	return e
}

// Start runs the engine loop until ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	acks, unsubAcks := e.bus.Subscribe("outbox.", 256)
	states, unsubStates := e.bus.Subscribe(bus.KindStatusChanged, 16)

	go e.writeOutbox()
	go func() {
		defer close(e.stopped)
		defer unsubStates()
		defer unsubAcks()
		for {
			select {
			case fn := <-e.ops:
				fn()
			case evt := <-acks:
				e.handleOutboxEvent(evt)
			case evt := <-states:
				e.handleStatus(evt)
			case <-e.ctx.Done():
				e.teardown()
				return
			}
		}
	}()
}

// Stop tears the session down and waits for the loop to exit.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.stopped
}

// writeOutbox runs outbox writes one at a time in the order the loop
// enqueued them, so the durable path sees sends in display order.
func (e *Engine) writeOutbox() {
	for {
		select {
		case fn := <-e.writes:
			fn()
		case <-e.ctx.Done():
			for {
				select {
				case fn := <-e.writes:
					fn()
				default:
					return
				}
			}
		}
	}
}

// enqueueWrite hands fn to the outbox writer. Loop only.
func (e *Engine) enqueueWrite(fn func()) {
	select {
	case e.writes <- fn:
	case <-e.ctx.Done():
	}
}

// post schedules fn on the loop without waiting for it.
func (e *Engine) post(fn func()) {
	select {
	case e.ops <- fn:
	case <-e.stopped:
	}
}

// do runs fn on the loop and waits for it to finish.
func (e *Engine) do(fn func()) error {
	done := make(chan struct{})
	select {
	case e.ops <- func() { fn(); close(done) }:
	case <-e.stopped:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-e.stopped:
		return ErrStopped
	}
}

// Init starts a session: one live connection authenticated with s.Token.
// An existing session is torn down first.
func (e *Engine) Init(s Session) error {
	if s.User.ID == "" {
		return errors.New("init session: missing user id")
	}
	return e.do(func() { e.init(s) })
}

// Teardown ends the session, e.g. on logout.
func (e *Engine) Teardown() error {
	return e.do(e.teardown)
}

func (e *Engine) init(s Session) {
	if e.session != nil {
		e.teardown()
	}
	e.session = &s
	e.reconciler = NewReconciler(s.User.ID, e.store, e.notes)
	e.durable.SetToken(s.Token)
	e.subscribe()
	e.live.Connect(s.Token)
	e.logger.Info("session initialized", zap.String("user_id", s.User.ID))
	go e.seedUnread(s.User.ID)
	go e.loadConversations(s.User.ID)
}

func (e *Engine) teardown() {
	if e.session == nil {
		return
	}
	e.close()
	for _, ev := range inboundEvents {
		e.live.Unsubscribe(ev)
	}
	e.live.Disconnect()
	e.notes.Clear()
	e.notifyChanged()
	e.conversations = nil
	e.logger.Info("session torn down", zap.String("user_id", e.session.User.ID))
	e.session = nil
	e.reconciler = nil
}

func (e *Engine) seedUnread(userID string) {
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.RequestTimeout)
	defer cancel()
	n, err := e.durable.UnreadCount(ctx)
	if err != nil {
		e.logger.Warn("fetch unread count failed", zap.Error(err))
		return
	}
	e.post(func() {
		if e.session == nil || e.session.User.ID != userID {
			return
		}
		e.notes.Seed(n)
		e.notifyChanged()
	})
}

func (e *Engine) loadConversations(userID string) {
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.RequestTimeout)
	defer cancel()
	if _, err := e.fetchConversations(ctx, userID); err != nil {
		e.logger.Warn("fetch conversations failed", zap.Error(err))
	}
}

func (e *Engine) fetchConversations(ctx context.Context, userID string) ([]Conversation, error) {
	convs, err := e.durable.Conversations(ctx)
	if err != nil {
		return nil, err
	}
	e.post(func() {
		if e.session == nil || e.session.User.ID != userID {
			return
		}
		e.conversations = convs
		e.bus.Emit(bus.KindConversations, len(convs))
	})
	return cloneConversations(convs), nil
}

// RefreshConversations reloads the conversation list from the server.
func (e *Engine) RefreshConversations(ctx context.Context) ([]Conversation, error) {
	var userID string
	if err := e.do(func() {
		if e.session != nil {
			userID = e.session.User.ID
		}
	}); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, ErrNoSession
	}
	convs, err := e.fetchConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// subscribe registers one handler per inbound event. Re-subscribing replaces
// the previous handler, so repeated Init calls never stack deliveries.
func (e *Engine) subscribe() {
	handle(e, EventMessageReceived, e.onLiveMessage)
	handle(e, EventMessageNotification, e.onNotification)
	handle(e, EventUserTyping, e.onTyping)
	handle(e, EventUserStoppedTyping, e.onStopTyping)
	handle(e, EventMessagesRead, e.onRead)
}

func handle[T any](e *Engine, event string, fn func(T)) {
	e.live.Subscribe(event, func(data json.RawMessage) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			e.logger.Warn("dropping malformed live event", zap.String("event", event), zap.Error(err))
			return
		}
		e.post(func() {
			if e.session != nil {
				fn(v)
			}
		})
	})
}

func (e *Engine) onLiveMessage(m Message) {
	out := e.reconciler.Confirm(m)
	e.logger.Debug("live message",
		zap.String("msg_id", m.ID),
		zap.String("conversation_id", m.ConversationID),
		zap.Stringer("outcome", out))
	e.afterConfirm(out, m)
}

func (e *Engine) onNotification(m Message) {
	if e.notes.Route(m, m.SenderID != e.session.User.ID) {
		e.notifyChanged()
	}
}

func (e *Engine) onTyping(p TypingPayload) {
	if !e.presenceApplies(p) {
		return
	}
	e.presence.OnTyping(p.UserID, p.UserName)
}

func (e *Engine) onStopTyping(p TypingPayload) {
	if !e.presenceApplies(p) {
		return
	}
	e.presence.OnStopTyping(p.UserID)
}

func (e *Engine) presenceApplies(p TypingPayload) bool {
	if p.UserID == "" || p.UserID == e.session.User.ID || e.store.Active() == "" {
		return false
	}
	return p.ConversationID == "" || e.store.IsOpen(p.ConversationID)
}

func (e *Engine) onRead(p ReadPayload) {
	id := p.ConversationID
	if id == "" {
		id = e.store.Active()
	}
	if e.reconciler.MarkRead(id, p.MessageIDs) > 0 {
		e.messagesChanged()
	}
}

func (e *Engine) handleOutboxEvent(evt bus.Event) {
	if e.session == nil {
		return
	}
	switch p := evt.Payload.(type) {
	case SendAck:
		out := e.reconciler.ConfirmSend(p.TempID, p.Message)
		e.logger.Debug("durable ack",
			zap.String("temp_id", p.TempID),
			zap.String("msg_id", p.Message.ID),
			zap.Stringer("outcome", out))
		e.afterConfirm(out, p.Message)
	case SendFailure:
		if e.reconciler.Fail(p.TempID) {
			e.messagesChanged()
			e.warn("send", p.TempID, p.Err)
			return
		}
		e.logger.Info("durable write failed for a message not on screen",
			zap.String("temp_id", p.TempID), zap.Error(p.Err))
	}
}

func (e *Engine) handleStatus(evt bus.Event) {
	change, ok := evt.Payload.(status.StatusChange)
	if !ok || change.To != status.Connected || e.session == nil {
		return
	}
	if id := e.store.Active(); id != "" {
		e.live.Publish(EventJoin, id)
	}
}

func (e *Engine) afterConfirm(out Outcome, m Message) {
	switch out {
	case Replaced, Appended:
		e.messagesChanged()
		e.cacheMessages(m)
	case Merged:
		e.messagesChanged()
	case Routed:
		e.notifyChanged()
		e.cacheMessages(m)
	}
}

// Open opens the conversation with peer and returns its id.
func (e *Engine) Open(peer User) (string, error) {
	var id string
	var err error
	if doErr := e.do(func() {
		if e.session == nil {
			err = ErrNoSession
			return
		}
		id = ConversationID(e.session.User.ID, peer.ID)
		e.openAndClear(id, peer)
	}); doErr != nil {
		return "", doErr
	}
	return id, err
}

// OpenConversation opens a conversation by id. It is also the switch
// operation: the previous conversation is left before the new one is joined.
func (e *Engine) OpenConversation(id string, peer User) error {
	var err error
	if doErr := e.do(func() {
		if e.session == nil {
			err = ErrNoSession
			return
		}
		e.openAndClear(id, peer)
	}); doErr != nil {
		return doErr
	}
	return err
}

// Close leaves the open conversation and clears it locally.
func (e *Engine) Close() error {
	return e.do(e.close)
}

func (e *Engine) openAndClear(id string, peer User) {
	e.notes.OpenAndClear(id, func(id string) { e.open(id, peer) })
	e.notifyChanged()
}

func (e *Engine) open(id string, peer User) {
	e.close()
	gen := e.store.Open(id, peer)
	e.live.Publish(EventJoin, id)
	e.messagesChanged()
	e.logger.Debug("conversation opened", zap.String("conversation_id", id))
	go e.fetchHistory(gen, id)
}

func (e *Engine) close() {
	prev := e.store.Active()
	if prev == "" {
		return
	}
	e.stopOutboundTyping(true)
	e.live.Publish(EventLeave, prev)
	e.store.Close()
	e.presence.Reset()
	e.messagesChanged()
}

func (e *Engine) fetchHistory(gen uint64, id string) {
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.RequestTimeout)
	defer cancel()

	history, err := e.durable.FetchHistory(ctx, id)
	if err != nil && e.cache != nil {
		if cached, cerr := e.cache.CachedHistory(id, e.cfg.HistoryLimit); cerr == nil {
			history = cached
		} else {
			e.logger.Warn("read cached history failed", zap.String("conversation_id", id), zap.Error(cerr))
		}
	} else if err == nil && e.cache != nil && len(history) > 0 {
		if cerr := e.cache.SaveMessages(history); cerr != nil {
			e.logger.Warn("cache history failed", zap.String("conversation_id", id), zap.Error(cerr))
		}
	}
	unsent, uerr := e.outbox.Unsent(id)
	if uerr != nil {
		e.logger.Warn("read unsent outbox failed", zap.String("conversation_id", id), zap.Error(uerr))
	}

	e.post(func() {
		if !e.store.ApplyHistory(gen, id, history, unsent) {
			e.logger.Debug("discarding stale history", zap.String("conversation_id", id))
			return
		}
		if err != nil {
			e.warn("history", "", err)
		}
		e.messagesChanged()
	})
}

// Send appends an optimistic text message and starts both writes.
func (e *Engine) Send(text string, replyTo *ReplyRef) (Message, error) {
	return e.sendKind(KindText, text, replyTo)
}

// SendFile sends a reference to an uploaded file.
func (e *Engine) SendFile(ref string) (Message, error) {
	return e.sendKind(KindFile, ref, nil)
}

func (e *Engine) sendKind(kind, body string, replyTo *ReplyRef) (Message, error) {
	var m Message
	var err error
	if doErr := e.do(func() { m, err = e.send(kind, body, replyTo) }); doErr != nil {
		return Message{}, doErr
	}
	return m, err
}

func (e *Engine) send(kind, body string, replyTo *ReplyRef) (Message, error) {
	if e.session == nil {
		return Message{}, ErrNoSession
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return Message{}, ErrEmptyMessage
	}
	id := e.store.Active()
	if id == "" {
		return Message{}, ErrNoConversation
	}
	if replyTo != nil {
		ref := *replyTo
		replyTo = &ref
	}
	peer := e.store.Peer()
	self := e.session.User
	m := Message{
		ID:             NewTempID(),
		ConversationID: id,
		SenderID:       self.ID,
		SenderName:     self.Name,
		RecipientID:    peer.ID,
		RecipientName:  peer.Name,
		Body:           body,
		Kind:           kind,
		CreatedAt:      e.clock.Now(),
		ReplyTo:        replyTo,
		Status:         StatusPending,
	}
	m.ClientID = m.ID

	e.store.AppendLocal(m)
	e.stopOutboundTyping(true)
	e.live.Publish(EventSendMessage, NewSendRequest(m))
	e.enqueueWrite(func() {
		if err := e.outbox.Queue(m); err != nil {
			go e.post(func() { e.failLocal(m.ID, fmt.Errorf("queue durable write: %w", err)) })
		}
	})
	e.messagesChanged()
	return m, nil
}

// Retry re-sends a pending or failed message on both paths.
func (e *Engine) Retry(tempID string) error {
	var err error
	if doErr := e.do(func() {
		if e.session == nil {
			err = ErrNoSession
			return
		}
		if !strings.HasPrefix(tempID, TempPrefix) {
			err = fmt.Errorf("retry %s: %w", tempID, ErrNotFound)
			return
		}
		if i := e.store.Index(tempID); i >= 0 {
			e.store.Update(tempID, func(m *Message) { m.Status = StatusPending })
			e.live.Publish(EventSendMessage, NewSendRequest(e.store.At(i)))
			e.messagesChanged()
		}
		e.enqueueWrite(func() {
			if err := e.outbox.Retry(tempID); err != nil {
				go e.post(func() { e.failLocal(tempID, fmt.Errorf("requeue durable write: %w", err)) })
			}
		})
	}); doErr != nil {
		return doErr
	}
	return err
}

func (e *Engine) failLocal(tempID string, err error) {
	if e.reconciler != nil && e.reconciler.Fail(tempID) {
		e.messagesChanged()
	}
	e.warn("send", tempID, err)
}

// NotifyTyping tells the peer the local user is typing. A stopTyping event
// follows automatically when no further call arrives within the window.
func (e *Engine) NotifyTyping() error {
	return e.do(func() {
		if e.session == nil {
			return
		}
		id := e.store.Active()
		if id == "" {
			return
		}
		e.live.Publish(EventTyping, TypingPayload{
			ConversationID: id,
			UserID:         e.session.User.ID,
			UserName:       e.session.User.Name,
		})
		if e.typingTimer != nil {
			e.typingTimer.Stop()
		}
		e.typingSeq++
		seq := e.typingSeq
		e.typingTimer = e.clock.AfterFunc(e.cfg.TypingWindow, func() {
			e.post(func() {
				if e.typingSeq == seq {
					e.stopOutboundTyping(true)
				}
			})
		})
	})
}

func (e *Engine) stopOutboundTyping(publish bool) {
	if e.typingTimer == nil {
		return
	}
	e.typingTimer.Stop()
	e.typingTimer = nil
	e.typingSeq++
	if publish {
		e.live.Publish(EventStopTyping, e.store.Active())
	}
}

// MarkRead marks messages of the open conversation read locally and on both
// paths. A durable failure is returned but the local flag stays.
func (e *Engine) MarkRead(ctx context.Context, ids []string) error {
	var id string
	var err error
	if doErr := e.do(func() {
		if e.session == nil {
			err = ErrNoSession
			return
		}
		id = e.store.Active()
		if id == "" {
			err = ErrNoConversation
			return
		}
		if e.reconciler.MarkRead(id, ids) > 0 {
			e.messagesChanged()
		}
		e.live.Publish(EventMarkAsRead, ReadPayload{ConversationID: id, MessageIDs: ids})
	}); doErr != nil {
		return doErr
	}
	if err != nil {
		return err
	}
	if err := e.durable.MarkRead(ctx, id, ids); err != nil {
		e.post(func() { e.warn("mark_read", "", err) })
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// Delete removes one message. Confirmed messages are deleted durably first
// and only then locally; unconfirmed ones are dropped from the outbox.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if strings.HasPrefix(id, TempPrefix) {
		if err := e.discard(ctx, id); err != nil {
			return fmt.Errorf("discard %s: %w", id, err)
		}
	} else if err := e.durable.DeleteMessage(ctx, id); err != nil {
		return fmt.Errorf("delete message %s: %w", id, err)
	}
	return e.do(func() {
		if e.store.Remove(id) {
			e.messagesChanged()
		}
		if e.cache != nil {
			go func() {
				if err := e.cache.DeleteCachedMessage(id); err != nil {
					e.logger.Warn("evict cached message failed", zap.String("msg_id", id), zap.Error(err))
				}
			}()
		}
	})
}

// discard drops the outbox entry of tempID behind any write still queued
// for it.
func (e *Engine) discard(ctx context.Context, tempID string) error {
	errc := make(chan error, 1)
	if err := e.do(func() {
		e.enqueueWrite(func() { errc <- e.outbox.Discard(tempID) })
	}); err != nil {
		return err
	}
	select {
	case err := <-errc:
		return err
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clear deletes every message of the open conversation, durably first.
func (e *Engine) Clear(ctx context.Context) error {
	var id string
	if err := e.do(func() { id = e.store.Active() }); err != nil {
		return err
	}
	if id == "" {
		return ErrNoConversation
	}
	if err := e.durable.Clear(ctx, id); err != nil {
		return fmt.Errorf("clear conversation %s: %w", id, err)
	}
	return e.do(func() {
		if e.store.Truncate(id) {
			e.messagesChanged()
		}
		if e.cache != nil {
			go func() {
				if err := e.cache.ClearCachedConversation(id); err != nil {
					e.logger.Warn("clear cached conversation failed", zap.String("conversation_id", id), zap.Error(err))
				}
			}()
		}
	})
}

// DismissNotification removes the queued notification for message id.
func (e *Engine) DismissNotification(id string) error {
	var err error
	if doErr := e.do(func() {
		if !e.notes.DismissID(id) {
			err = fmt.Errorf("notification %s: %w", id, ErrNotFound)
			return
		}
		e.notifyChanged()
	}); doErr != nil {
		return doErr
	}
	return err
}

// DismissAt removes the queued notification at index.
func (e *Engine) DismissAt(index int) error {
	var err error
	if doErr := e.do(func() {
		if !e.notes.Dismiss(index) {
			err = fmt.Errorf("notification #%d: %w", index, ErrNotFound)
			return
		}
		e.notifyChanged()
	}); doErr != nil {
		return doErr
	}
	return err
}

// OpenNotification opens the conversation of a queued notification,
// clearing the queue.
func (e *Engine) OpenNotification(id string) (string, error) {
	var conv string
	var err error
	if doErr := e.do(func() {
		if e.session == nil {
			err = ErrNoSession
			return
		}
		m, ok := e.notes.Find(id)
		if !ok {
			err = fmt.Errorf("notification %s: %w", id, ErrNotFound)
			return
		}
		conv = m.ConversationID
		e.openAndClear(conv, m.Peer(e.session.User.ID))
	}); doErr != nil {
		return "", doErr
	}
	return conv, err
}

// Snapshot returns the current observable state.
func (e *Engine) Snapshot() (Snapshot, error) {
	var s Snapshot
	err := e.do(func() {
		if e.session != nil {
			s.Self = e.session.User
		}
		s.ConversationID = e.store.Active()
		s.Peer = e.store.Peer()
		s.Messages = e.store.Messages()
		s.Typing = e.presence.Snapshot()
		s.Notifications = e.notes.Queue()
		s.Unread = e.notes.Unread()
		s.Conversations = cloneConversations(e.conversations)
	})
	s.State = e.live.State()
	return s, err
}

// Messages returns the open conversation's list.
func (e *Engine) Messages() []Message {
	s, _ := e.Snapshot()
	return s.Messages
}

// Typing returns who is typing in the open conversation.
func (e *Engine) Typing() map[string]string {
	s, _ := e.Snapshot()
	return s.Typing
}

// Notifications returns the queued notifications, most recent first.
func (e *Engine) Notifications() []Message {
	s, _ := e.Snapshot()
	return s.Notifications
}

// Unread returns the unread counter.
func (e *Engine) Unread() int {
	s, _ := e.Snapshot()
	return s.Unread
}

// Conversations returns the conversation list loaded at login.
func (e *Engine) Conversations() []Conversation {
	s, _ := e.Snapshot()
	return s.Conversations
}

// ConnectionState returns the live connection state.
func (e *Engine) ConnectionState() status.State {
	return e.live.State()
}

// Bus returns the bus the engine publishes its observable changes on.
func (e *Engine) Bus() *bus.Bus { return e.bus }

func (e *Engine) messagesChanged() {
	e.bus.Emit(bus.KindMessagesChanged, MessagesChanged{ConversationID: e.store.Active(), Count: e.store.Len()})
}

func (e *Engine) typingChanged() {
	e.bus.Emit(bus.KindTypingChanged, e.presence.Snapshot())
}

func (e *Engine) notifyChanged() {
	e.bus.Emit(bus.KindNotifyChanged, NotifyChanged{Queued: len(e.notes.queue), Unread: e.notes.Unread()})
}

func (e *Engine) warn(op, msgID string, err error) {
	e.logger.Warn("soft failure", zap.String("op", op), zap.String("msg_id", msgID), zap.Error(err))
	e.bus.Emit(bus.KindWarning, Warning{Op: op, MessageID: msgID, Err: err.Error()})
}

func (e *Engine) cacheMessages(msgs ...Message) {
	if e.cache == nil {
		return
	}
	go func() {
		if err := e.cache.SaveMessages(msgs); err != nil {
			e.logger.Warn("cache messages failed", zap.Int("count", len(msgs)), zap.Error(err))
		}
	}()
}
