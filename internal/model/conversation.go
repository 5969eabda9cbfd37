package model

import "time"

// Conversation is a named channel of chat messages between a user and the assistant.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}
