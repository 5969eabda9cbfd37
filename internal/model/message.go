package model

import "time"

// Message senders.
const (
	SenderUser  = "user"
	SenderAgent = "agent"
)

// Message is one turn in a conversation. The wire field for the body is
// "message". ClientID is assigned by the sending client and echoed back by
// the server; it may be empty for server-originated messages.
type Message struct {
	ClientID       string    `json:"clientId,omitempty"`
	Sender         string    `json:"sender"`
	Text           string    `json:"message"`
	ConversationID string    `json:"conversationId"`
	Timestamp      time.Time `json:"timestamp,omitempty"`
}
