package chat

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ProvisionalID marks a message that has been sent but not yet acknowledged
// by the server. The debug client replaces it with the server-assigned id the
// moment the send is acknowledged.
const ProvisionalID int64 = -1

// Message is one unit of a debug conversation.
type Message struct {
	// ID is the server-assigned identifier, or ProvisionalID while the
	// message is awaiting acknowledgement.
	ID int64 `json:"id"`

	Role Role `json:"role"`

	// Content is the flattened text of the message.
	Content string `json:"content"`

	// Chain is the structured content. Content and Chain describe the same
	// message; Chain is authoritative.
	Chain Chain `json:"message_chain,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Provisional returns true while the message awaits server acknowledgement.
func (m *Message) Provisional() bool {
	return m.ID == ProvisionalID
}
