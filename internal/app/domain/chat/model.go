package chat

import "time"

// MessageType of a chat message.
type MessageType string

const (
	TypeText   MessageType = "text"
	TypeSystem MessageType = "system"
)

// Message is a chat message posted to the shared room.
type Message struct {
	ID        string
	SenderID  string
	Body      string
	Type      MessageType
	CreatedAt time.Time
}
