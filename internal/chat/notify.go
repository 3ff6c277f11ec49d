package chat

// NotificationRouter queues messages that arrive for conversations other
// than the open one. It is owned by the engine loop.
type NotificationRouter struct {
	store  *ConversationStore
	queue  []Message
	unread int
}

// NewNotificationRouter returns an empty router that consults store for the
// open conversation.
func NewNotificationRouter(store *ConversationStore) *NotificationRouter {
	return &NotificationRouter{store: store}
}

// Route queues m most-recent-first and bumps the unread counter. Messages
// from the local user, messages for the open conversation and messages
// already queued are ignored.
func (n *NotificationRouter) Route(m Message, fromOther bool) bool {
	if !fromOther || n.store.IsOpen(m.ConversationID) {
		return false
	}
	for _, q := range n.queue {
		if q.ID == m.ID {
			return false
		}
	}
	n.queue = append([]Message{m}, n.queue...)
	n.unread++
	return true
}

// Dismiss removes the entry at index.
func (n *NotificationRouter) Dismiss(index int) bool {
	if index < 0 || index >= len(n.queue) {
		return false
	}
	n.queue = append(n.queue[:index], n.queue[index+1:]...)
	if n.unread > 0 {
		n.unread--
	}
	return true
}

// DismissID removes the entry for message id.
func (n *NotificationRouter) DismissID(id string) bool {
	for i, m := range n.queue {
		if m.ID == id {
			return n.Dismiss(i)
		}
	}
	return false
}

// Find returns the queued message with id.
func (n *NotificationRouter) Find(id string) (Message, bool) {
	for _, m := range n.queue {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// OpenAndClear drains the queue, resets the counter and then opens
// conversationID through open.
func (n *NotificationRouter) OpenAndClear(conversationID string, open func(id string)) {
	n.Clear()
	open(conversationID)
}

// Clear drops every entry and resets the counter.
func (n *NotificationRouter) Clear() {
	n.queue = nil
	n.unread = 0
}

// Seed sets the counter from the server-side unread count when nothing has
// been routed locally yet.
func (n *NotificationRouter) Seed(count int) {
	if len(n.queue) == 0 && count >= 0 {
		n.unread = count
	}
}

// Unread returns the counter.
func (n *NotificationRouter) Unread() int { return n.unread }

// Queue returns a copy of the queue, most recent first.
func (n *NotificationRouter) Queue() []Message {
	return cloneMessages(n.queue)
}
