package chat

import (
	"context"
	"log/slog"
	"sync"

	"crmcli/internal/model"
)

// ConversationBackend is the slice of the REST client the controller uses.
type ConversationBackend interface {
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	CreateConversation(ctx context.Context, title string) (model.Conversation, error)
}

// Controller owns the conversation list and decides which conversation the
// chat client is joined to.
type Controller struct {
	backend ConversationBackend
	client  *Client
	logger  *slog.Logger

	mu            sync.Mutex
	conversations []model.Conversation
}

// NewController wires the controller to its backend and client.
func NewController(backend ConversationBackend, client *Client, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{backend: backend, client: client, logger: logger}
}

// Refresh reloads the conversation list. When nothing is joined yet and at
// least one conversation exists, the first one is auto-joined. An empty list
// creates nothing.
func (c *Controller) Refresh(ctx context.Context) error {
	conversations, err := c.backend.ListConversations(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conversations = conversations
	c.mu.Unlock()

	if len(conversations) > 0 && c.client.JoinedConversation() == "" {
		return c.client.Join(conversations[0].ID)
	}
	return nil
}

// Create starts a new conversation: it is prepended to the local list and
// immediately becomes the joined conversation, with an empty transcript.
func (c *Controller) Create(ctx context.Context, title string) (model.Conversation, error) {
	conversation, err := c.backend.CreateConversation(ctx, title)
	if err != nil {
		return model.Conversation{}, err
	}

	c.mu.Lock()
	c.conversations = append([]model.Conversation{conversation}, c.conversations...)
	c.mu.Unlock()

	if err := c.client.Join(conversation.ID); err != nil {
		return conversation, err
	}
	return conversation, nil
}

// Switch joins an existing conversation by id.
func (c *Controller) Switch(conversationID string) error {
	return c.client.Join(conversationID)
}

// Conversations returns a copy of the cached list in server order.
func (c *Controller) Conversations() []model.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := make([]model.Conversation, len(c.conversations))
	copy(copied, c.conversations)
	return copied
}
