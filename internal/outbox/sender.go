package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/paperchat/internal/bus"
	"github.com/matheus3301/paperchat/internal/chat"
	"github.com/matheus3301/paperchat/internal/store"
	"go.uber.org/zap"
)

// Writer is the durable write path for one message.
type Writer interface {
	Send(ctx context.Context, req chat.SendRequest) (chat.Message, error)
}

// Config tunes the sender loop.
type Config struct {
	// Interval between outbox scans when nothing kicks the loop.
	Interval time.Duration
	// Timeout of a single durable write.
	Timeout time.Duration
}

// Sender drains the outbox through the durable channel and reports each
// result on the bus as outbox.send_ack or outbox.send_failed.
type Sender struct {
	db     *store.DB
	writer Writer
	bus    *bus.Bus
	cfg    Config
	logger *zap.Logger
	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, w Writer, b *bus.Bus, cfg Config, logger *zap.Logger) *Sender {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:     db,
		writer: w,
		bus:    b,
		cfg:    cfg,
		logger: logger,
		kick:   make(chan struct{}, 1),
	}
}

// Queue persists the durable write of m and wakes the loop.
func (s *Sender) Queue(m chat.Message) error {
	if err := s.db.QueueOutbox(m); err != nil {
		return fmt.Errorf("queue %s: %w", m.ID, err)
	}
	s.wake()
	return nil
}

// Retry requeues a failed write. Entries already in flight or delivered are
// left alone.
func (s *Sender) Retry(tempID string) error {
	err := s.db.RequeueOutbox(tempID)
	if errors.Is(err, store.ErrNotFound) {
		e, gerr := s.db.GetOutbox(tempID)
		if gerr != nil {
			return gerr
		}
		if e != nil && (e.Status == store.OutboxSending || e.Status == store.OutboxSent) {
			return nil
		}
	}
	if err != nil {
		return err
	}
	s.wake()
	return nil
}

// Discard drops a write that has not been delivered.
func (s *Sender) Discard(tempID string) error {
	return s.db.DiscardOutbox(tempID)
}

// Unsent returns the undelivered sends of a conversation.
func (s *Sender) Unsent(conversationID string) ([]chat.Message, error) {
	return s.db.UnsentOutbox(conversationID)
}

// Start recovers entries interrupted mid-send and begins draining.
func (s *Sender) Start(ctx context.Context) {
	if n, err := s.db.ResetSending(); err != nil {
		s.logger.Error("failed to reset interrupted sends", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("requeued interrupted sends", zap.Int64("count", n))
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the sender loop and waits for the current pass to finish.
func (s *Sender) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Sender) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-s.kick:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}
	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		s.deliver(ctx, entry)
	}
}

func (s *Sender) deliver(ctx context.Context, entry store.OutboxEntry) {
	tempID := entry.Message.ID
	if err := s.db.MarkOutboxSending(tempID); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("temp_id", tempID))
		}
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	msg, err := s.writer.Send(sendCtx, chat.NewSendRequest(entry.Message))
	cancel()
	if err != nil {
		s.logger.Error("failed to send message", zap.Error(err), zap.String("temp_id", tempID),
			zap.Int("attempt", entry.Attempts+1))
		if merr := s.db.MarkOutboxFailed(tempID, err.Error()); merr != nil {
			s.logger.Error("failed to mark failed", zap.Error(merr), zap.String("temp_id", tempID))
		}
		s.bus.Emit(bus.KindSendFailed, chat.SendFailure{
			TempID:         tempID,
			ConversationID: entry.Message.ConversationID,
			Err:            err,
		})
		return
	}

	if err := s.db.MarkOutboxSent(tempID, msg.ID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("temp_id", tempID))
	}
	if msg.ClientID == "" {
		msg.ClientID = tempID
	}
	if msg.ConversationID == "" {
		msg.ConversationID = entry.Message.ConversationID
	}
	s.logger.Info("message sent", zap.String("temp_id", tempID), zap.String("msg_id", msg.ID))
	s.bus.Emit(bus.KindSendAck, chat.SendAck{TempID: tempID, Message: msg})
}
