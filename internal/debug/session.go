package debug

import (
	"sync"
	"time"

	"github.com/arkova/pipechat/internal/chat"
)

// SessionKind is the kind of conversation a debug session simulates.
type SessionKind string

const (
	// KindPerson simulates a one-on-one conversation.
	KindPerson SessionKind = "person"
	// KindGroup simulates a group conversation.
	KindGroup SessionKind = "group"
)

// Session holds the reconciled message state of one debug conversation.
// One Session exists per client; it is created on Connect and survives
// reconnections of the same client.
//
// It is safe for concurrent use.
type Session struct {
	PipelineID string
	Kind       SessionKind

	mu           sync.Mutex
	connectionID string
	messages     []*chat.Message
	// pending maps client-generated message ids to their provisional
	// messages (id -1) until the server acknowledges the send.
	pending map[string]*chat.Message
	// terminal records message ids whose reply reached a terminal event
	// (complete, error or interrupted). Later mutation events for these
	// ids are stale and ignored.
	terminal map[int64]struct{}
	hasMore  bool
}

func newSession(pipelineID string, kind SessionKind) *Session {
	return &Session{
		PipelineID: pipelineID,
		Kind:       kind,
		pending:    make(map[string]*chat.Message),
		terminal:   make(map[int64]struct{}),
	}
}

// ConnectionID returns the server-assigned connection id, or "" before the
// server has confirmed the session.
func (s *Session) ConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectionID
}

// Messages returns a snapshot copy of the session's message list.
func (s *Session) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]chat.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = *m
	}
	return out
}

// HasMore reports whether older history pages exist on the server.
func (s *Session) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// PendingCount returns the number of sends awaiting acknowledgement.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Session) setConnectionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectionID = id
}

// addProvisional appends a provisional user message (id -1) to the list and
// registers it in the pending map under the client message id.
func (s *Session) addProvisional(clientMessageID string, chain chat.Chain) chat.Message {
	msg := &chat.Message{
		ID:        chat.ProvisionalID,
		Role:      chat.RoleUser,
		Content:   chain.PlainText(),
		Chain:     chain,
		Timestamp: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	s.pending[clientMessageID] = msg
	return *msg
}

// dropProvisional undoes addProvisional after a failed send.
func (s *Session) dropProvisional(clientMessageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.pending[clientMessageID]
	if !ok {
		return
	}
	delete(s.pending, clientMessageID)
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i] == msg {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

// reconcile replaces a provisional message's id with the server-assigned one
// and removes the pending entry. Returns false when no pending entry matches
// the client id; such acknowledgements are duplicates or late and must not
// mutate anything.
func (s *Session) reconcile(clientMessageID string, serverMessageID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.pending[clientMessageID]
	if !ok {
		return false
	}
	msg.ID = serverMessageID
	delete(s.pending, clientMessageID)
	return true
}

// startReply appends an empty assistant placeholder which subsequent
// snapshot chunks will target. Returns false when a message with that id
// already exists (a replayed start must not create a second placeholder).
func (s *Session) startReply(messageID int64, role string, ts time.Time) (chat.Message, bool) {
	r := chat.Role(role)
	if r == "" {
		r = chat.RoleAssistant
	}
	msg := &chat.Message{
		ID:        messageID,
		Role:      r,
		Timestamp: ts,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.findLocked(messageID); existing != nil {
		return *existing, false
	}
	s.messages = append(s.messages, msg)
	return *msg, true
}

// applySnapshot replaces the content and chain of the message with the given
// id. Chunks are cumulative snapshots, never deltas, so replacement is the
// only correct operation. Returns false when the id is unknown (chunk raced
// ahead of message_start; dropped) or already terminal (stale event).
func (s *Session) applySnapshot(messageID int64, content string, chain chat.Chain) (chat.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, done := s.terminal[messageID]; done {
		return chat.Message{}, false
	}
	msg := s.findLocked(messageID)
	if msg == nil {
		return chat.Message{}, false
	}
	msg.Content = content
	if chain != nil {
		msg.Chain = chain
	}
	return *msg, true
}

// markTerminal records that no further mutation events are accepted for the
// given message id.
func (s *Session) markTerminal(messageID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminal[messageID] = struct{}{}
}

// isTerminal reports whether the id already saw a terminal event.
func (s *Session) isTerminal(messageID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, done := s.terminal[messageID]
	return done
}

// appendMessage appends an out-of-band message (plugin push).
func (s *Session) appendMessage(msg chat.Message) {
	m := msg
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, &m)
}

// mergeHistory prepends a page of prior messages, skipping ids already
// present (reconnects re-request history).
func (s *Session) mergeHistory(msgs []chat.Message, hasMore bool) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[int64]struct{}, len(s.messages))
	for _, m := range s.messages {
		if m.ID != chat.ProvisionalID {
			known[m.ID] = struct{}{}
		}
	}

	var fresh []*chat.Message
	var merged []chat.Message
	for i := range msgs {
		if _, dup := known[msgs[i].ID]; dup {
			continue
		}
		m := msgs[i]
		fresh = append(fresh, &m)
		merged = append(merged, m)
	}

	s.messages = append(fresh, s.messages...)
	s.hasMore = hasMore
	return merged
}

// oldestID returns the smallest non-provisional message id, used for history
// pagination. Returns 0 when the list holds no server-confirmed messages.
func (s *Session) oldestID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest int64
	for _, m := range s.messages {
		if m.ID == chat.ProvisionalID {
			continue
		}
		if oldest == 0 || m.ID < oldest {
			oldest = m.ID
		}
	}
	return oldest
}

// findLocked returns the message with the given id. Caller holds s.mu.
// Searched from the tail: streaming targets are almost always the newest
// message.
func (s *Session) findLocked(messageID int64) *chat.Message {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == messageID {
			return s.messages[i]
		}
	}
	return nil
}
