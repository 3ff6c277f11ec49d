package chat

// Outcome describes what reconciling one confirmed message did.
type Outcome int

const (
	// Ignored: the message was for another conversation and needs no badge.
	Ignored Outcome = iota
	// Duplicate: a message with the same id is already listed.
	Duplicate
	// Replaced: the optimistic copy was swapped for the confirmed one in place.
	Replaced
	// Appended: the message had no local copy and was added at the end.
	Appended
	// Routed: the message went to the notification queue.
	Routed
	// Merged: the message was already listed and a leftover optimistic copy
	// of it was removed.
	Merged
)

func (o Outcome) String() string {
	switch o {
	case Duplicate:
		return "duplicate"
	case Replaced:
		return "replaced"
	case Appended:
		return "appended"
	case Routed:
		return "routed"
	case Merged:
		return "merged"
	default:
		return "ignored"
	}
}

// Reconciler merges confirmed messages from the live push and the durable
// write into the open list. Both paths report the same logical send; the
// first to arrive replaces or appends and the second is absorbed by id.
type Reconciler struct {
	self  string
	store *ConversationStore
	notes *NotificationRouter
}

// NewReconciler returns a reconciler acting for the local user self.
func NewReconciler(self string, store *ConversationStore, notes *NotificationRouter) *Reconciler {
	return &Reconciler{self: self, store: store, notes: notes}
}

// Confirm applies a server-confirmed message.
func (r *Reconciler) Confirm(m Message) Outcome {
	fromOther := m.SenderID != r.self
	if !r.store.IsOpen(m.ConversationID) {
		if r.notes.Route(m, fromOther) {
			return Routed
		}
		return Ignored
	}
	if i := r.store.Index(m.ID); i >= 0 {
		if r.retireTwin(i, m) {
			return Merged
		}
		return Duplicate
	}
	m.Status = StatusSent
	if fromOther {
		m.IsRead = true
	}
	if i := r.store.FindPending(m.ClientID, m.SenderID, m.Body); i >= 0 {
		tempID := r.store.At(i).ID
		if m.ClientID == "" {
			m.ClientID = tempID
		}
		r.store.Replace(tempID, m)
		return Replaced
	}
	r.store.AppendLocal(m)
	return Appended
}

// retireTwin removes the optimistic copy of the already listed message at
// position listed. A listed entry that arrived without a client id (from
// history) may still have one; a client id match is always taken, a
// sender and body match only while the listed entry has absorbed nothing.
func (r *Reconciler) retireTwin(listed int, m Message) bool {
	existing := r.store.At(listed)
	twin := -1
	if m.ClientID != "" {
		if j := r.store.Index(m.ClientID); j >= 0 && r.store.At(j).IsPending() {
			twin = j
		}
	}
	if twin < 0 && existing.ClientID == "" && m.SenderID == r.self {
		twin = r.store.FindPending("", m.SenderID, m.Body)
	}
	if twin < 0 {
		return false
	}
	tempID := r.store.At(twin).ID
	r.store.Update(existing.ID, func(e *Message) { e.ClientID = tempID })
	r.store.Remove(tempID)
	return true
}

// ConfirmSend applies the durable acknowledgement of the local send tempID.
func (r *Reconciler) ConfirmSend(tempID string, m Message) Outcome {
	if m.ClientID == "" {
		m.ClientID = tempID
	}
	if m.ConversationID == "" {
		if i := r.store.Index(tempID); i >= 0 {
			m.ConversationID = r.store.At(i).ConversationID
		}
	}
	return r.Confirm(m)
}

// Fail marks the optimistic copy of tempID as failed. The entry stays
// visible so the user can retry it.
func (r *Reconciler) Fail(tempID string) bool {
	return r.store.Update(tempID, func(m *Message) {
		if m.IsPending() {
			m.Status = StatusFailed
		}
	})
}

// MarkRead flags the listed messages of conversationID as read.
func (r *Reconciler) MarkRead(conversationID string, ids []string) int {
	if !r.store.IsOpen(conversationID) {
		return 0
	}
	n := 0
	for _, id := range ids {
		if r.store.Update(id, func(m *Message) { m.IsRead = true }) {
			n++
		}
	}
	return n
}
