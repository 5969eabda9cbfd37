package api

import (
	"context"
	"net/http"

	"crmcli/internal/model"
)

// ListConversations returns the user's conversations in server order,
// typically newest first.
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var conversations []model.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &conversations, true); err != nil {
		return nil, err
	}
	return conversations, nil
}

// CreateConversation starts a new conversation with the given title.
func (c *Client) CreateConversation(ctx context.Context, title string) (model.Conversation, error) {
	payload := map[string]string{"title": title}
	var conversation model.Conversation
	if err := c.do(ctx, http.MethodPost, "/api/conversations", payload, &conversation, true); err != nil {
		return model.Conversation{}, err
	}
	return conversation, nil
}
