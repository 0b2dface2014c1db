package models

import (
	"encoding/json"
	"time"
)

// Message is an entry in the append-only message log. This subsystem never
// mutates or deletes messages; Payload is carried opaque to the subscriber.
type Message struct {
	ID             string
	AuthorID       string
	RecipientScope string
	ReplyToID      string
	CreatedAt      time.Time
	Payload        json.RawMessage
}

// ScopeKey is the identity value the message is filed under in the ordered
// log: the recipient scope when addressed, the author otherwise.
func (m *Message) ScopeKey() string {
	if m.RecipientScope != "" {
		return m.RecipientScope
	}
	return m.AuthorID
}

// IsReply reports whether the message is a thread reply rather than a
// top-level message.
func (m *Message) IsReply() bool {
	return m.ReplyToID != ""
}
