package chat

// ConversationStore holds the open conversation and its ordered message
// list. It is owned by the engine loop and is not safe for concurrent use.
// Insertion order is display order; nothing is ever re-sorted.
type ConversationStore struct {
	active   string
	peer     User
	gen      uint64
	messages []Message
	peers    map[string]string
}

// NewConversationStore returns an empty store with no open conversation.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{peers: make(map[string]string)}
}

// Open makes id the active conversation with an empty list and returns the
// generation a history response must present to be applied.
func (s *ConversationStore) Open(id string, peer User) uint64 {
	s.active = id
	s.peer = peer
	s.messages = nil
	s.gen++
	if peer.ID != "" {
		s.peers[peer.ID] = id
	}
	return s.gen
}

// Close clears the active conversation locally and returns the id that was
// open, or "" when nothing was.
func (s *ConversationStore) Close() string {
	prev := s.active
	s.active = ""
	s.peer = User{}
	s.messages = nil
	s.gen++
	return prev
}

// Active returns the open conversation id.
func (s *ConversationStore) Active() string { return s.active }

// Peer returns the other participant of the open conversation.
func (s *ConversationStore) Peer() User { return s.peer }

// IsOpen reports whether id is the open conversation.
func (s *ConversationStore) IsOpen(id string) bool {
	return id != "" && id == s.active
}

// ConversationFor returns the conversation last opened with a peer.
func (s *ConversationStore) ConversationFor(peerID string) (string, bool) {
	id, ok := s.peers[peerID]
	return id, ok
}

// AppendLocal appends m when it belongs to the open conversation.
func (s *ConversationStore) AppendLocal(m Message) bool {
	if !s.IsOpen(m.ConversationID) {
		return false
	}
	s.messages = append(s.messages, m)
	return true
}

// Replace swaps the entry with tempID for confirmed, keeping its position.
func (s *ConversationStore) Replace(tempID string, confirmed Message) bool {
	if !s.IsOpen(confirmed.ConversationID) {
		return false
	}
	i := s.Index(tempID)
	if i < 0 {
		return false
	}
	s.messages[i] = confirmed
	return true
}

// ApplyHistory installs a fetched history for the open conversation. The
// response is dropped when the conversation was closed or reopened since
// the fetch started. Entries that arrived while the fetch was in flight are
// kept after the history unless the history already holds them. unsent
// outbox entries are re-shown as pending when the server has not seen them.
//
// A pending entry is held by the history when an entry echoes its client id
// or, failing that, when an unclaimed entry has the same sender and body.
// Each history entry absorbs at most one pending entry; the most recent
// candidates are tried first.
func (s *ConversationStore) ApplyHistory(gen uint64, id string, history, unsent []Message) bool {
	if gen != s.gen || !s.IsOpen(id) {
		return false
	}
	merged := make([]Message, 0, len(history)+len(s.messages)+len(unsent))
	pos := make(map[string]int, len(history))
	for _, m := range history {
		if m.ConversationID != "" && m.ConversationID != id {
			continue
		}
		if _, dup := pos[m.ID]; dup {
			continue
		}
		pos[m.ID] = len(merged)
		merged = append(merged, m)
	}
	n := len(merged)

	claimed := make([]bool, n)
	clients := make(map[string]bool)
	claim := func(i int, clientID string) {
		claimed[i] = true
		merged[i].ClientID = clientID
		clients[clientID] = true
	}
	for i, m := range merged {
		if m.ClientID != "" {
			claim(i, m.ClientID)
		}
	}
	// confirmed entries already on screen keep the local copy they absorbed
	for _, m := range s.messages {
		if i, ok := pos[m.ID]; ok && m.ClientID != "" && !claimed[i] {
			claim(i, m.ClientID)
		}
	}
	absorbed := func(p Message) bool {
		if clients[p.ID] {
			return true
		}
		for i := n - 1; i >= 0; i-- {
			h := merged[i]
			if !claimed[i] && h.SenderID == p.SenderID && h.Body == p.Body {
				claim(i, p.ID)
				return true
			}
		}
		return false
	}

	keep := func(m Message) {
		if _, ok := pos[m.ID]; ok {
			return
		}
		if m.IsPending() && absorbed(m) {
			return
		}
		pos[m.ID] = len(merged)
		merged = append(merged, m)
	}
	for _, m := range s.messages {
		keep(m)
	}
	for _, m := range unsent {
		if m.ConversationID == id {
			keep(m)
		}
	}
	s.messages = merged
	return true
}

// Index returns the position of the message with id, or -1.
func (s *ConversationStore) Index(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// FindPending locates the optimistic copy of a confirmed message. An exact
// client id wins; otherwise the first pending entry with the same sender
// and body is taken.
func (s *ConversationStore) FindPending(clientID, senderID, body string) int {
	if clientID != "" {
		if i := s.Index(clientID); i >= 0 && s.messages[i].IsPending() {
			return i
		}
	}
	for i, m := range s.messages {
		if m.IsPending() && m.SenderID == senderID && m.Body == body {
			return i
		}
	}
	return -1
}

// At returns the message at position i.
func (s *ConversationStore) At(i int) Message { return s.messages[i] }

// Update applies fn to the message with id in place.
func (s *ConversationStore) Update(id string, fn func(*Message)) bool {
	i := s.Index(id)
	if i < 0 {
		return false
	}
	fn(&s.messages[i])
	return true
}

// Remove deletes the message with id.
func (s *ConversationStore) Remove(id string) bool {
	i := s.Index(id)
	if i < 0 {
		return false
	}
	s.messages = append(s.messages[:i], s.messages[i+1:]...)
	return true
}

// Truncate empties the list of conversation id if it is still open.
func (s *ConversationStore) Truncate(id string) bool {
	if !s.IsOpen(id) {
		return false
	}
	s.messages = nil
	return true
}

// Len returns the number of messages in the open conversation.
func (s *ConversationStore) Len() int { return len(s.messages) }

// Messages returns a copy of the list for readers outside the loop.
func (s *ConversationStore) Messages() []Message {
	return cloneMessages(s.messages)
}
