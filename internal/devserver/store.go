package devserver

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/paperchat/internal/chat"
)

var (
	errEmptyBody   = errors.New("message cannot be empty")
	errNoRecipient = errors.New("recipientId is required")
	errUnknownMsg  = errors.New("message not found")
	errNotSender   = errors.New("only the sender can delete a message")
	errNotMember   = errors.New("not a participant of this conversation")
)

// memStore is the dev server's message table. Sends are keyed by client id
// so the live and the REST write of one message produce one row.
type memStore struct {
	mu       sync.Mutex
	convs    map[string][]chat.Message
	byClient map[string]chat.Message
	now      func() time.Time
}

func newMemStore() *memStore {
	return &memStore{
		convs:    make(map[string][]chat.Message),
		byClient: make(map[string]chat.Message),
		now:      time.Now,
	}
}

// accept stores the message described by req. created is false when the
// client id was already seen, in which case the stored copy is returned.
func (s *memStore) accept(sender chat.User, recipient chat.User, req chat.SendRequest) (chat.Message, bool, error) {
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return chat.Message{}, false, errEmptyBody
	}
	if recipient.ID == "" {
		return chat.Message{}, false, errNoRecipient
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if req.ClientID != "" {
		if m, ok := s.byClient[req.ClientID]; ok {
			return m, false, nil
		}
	}
	kind := req.Kind
	if kind == "" {
		kind = chat.KindText
	}
	conv := req.ConversationID
	if conv == "" {
		conv = chat.ConversationID(sender.ID, recipient.ID)
	}
	m := chat.Message{
		ID:             uuid.NewString(),
		ClientID:       req.ClientID,
		ConversationID: conv,
		SenderID:       sender.ID,
		SenderName:     sender.Name,
		RecipientID:    recipient.ID,
		RecipientName:  recipient.Name,
		Body:           body,
		Kind:           kind,
		CreatedAt:      s.now().UTC(),
		ReplyTo:        req.ReplyTo,
	}
	s.convs[conv] = append(s.convs[conv], m)
	if req.ClientID != "" {
		s.byClient[req.ClientID] = m
	}
	return m, true, nil
}

func (s *memStore) history(conv string) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.convs[conv])
}

// markRead flags messages addressed to reader and returns the ids that
// changed. No ids means every message of the conversation.
func (s *memStore) markRead(conv, reader string, ids []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed []string
	msgs := s.convs[conv]
	for i := range msgs {
		m := &msgs[i]
		if m.IsRead || m.RecipientID != reader {
			continue
		}
		if len(ids) > 0 && !slices.Contains(ids, m.ID) {
			continue
		}
		m.IsRead = true
		changed = append(changed, m.ID)
	}
	return changed
}

func (s *memStore) remove(id, requester string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conv, msgs := range s.convs {
		for i, m := range msgs {
			if m.ID != id {
				continue
			}
			if m.SenderID != requester {
				return errNotSender
			}
			s.convs[conv] = slices.Delete(msgs, i, i+1)
			return nil
		}
	}
	return errUnknownMsg
}

func (s *memStore) clear(conv, requester string) error {
	if !isParticipant(conv, requester) {
		return errNotMember
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, conv)
	return nil
}

func (s *memStore) unread(user string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, msgs := range s.convs {
		for _, m := range msgs {
			if m.RecipientID == user && !m.IsRead {
				n++
			}
		}
	}
	return n
}

// conversations lists the non-empty conversations user takes part in, most
// recently active first. Peer names come from the stored messages.
func (s *memStore) conversations(user string) []chat.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []chat.Conversation{}
	for conv, msgs := range s.convs {
		if len(msgs) == 0 || !isParticipant(conv, user) {
			continue
		}
		last := msgs[len(msgs)-1]
		c := chat.Conversation{ID: conv, LastMessage: &last, UpdatedAt: last.CreatedAt}
		if last.SenderID == user {
			c.Peer = chat.User{ID: last.RecipientID, Name: last.RecipientName}
		} else {
			c.Peer = chat.User{ID: last.SenderID, Name: last.SenderName}
		}
		for _, m := range msgs {
			if m.RecipientID == user && !m.IsRead {
				c.UnreadCount++
			}
		}
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b chat.Conversation) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// isParticipant reports whether user is one side of a pair conversation id.
func isParticipant(conv, user string) bool {
	return user != "" && (strings.HasPrefix(conv, user+"-") || strings.HasSuffix(conv, "-"+user))
}
