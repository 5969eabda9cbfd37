package chat

import "encoding/json"

// Event names on the realtime channel. The client emits join-chat and
// send-message; the server pushes chat-history, new-message and ai-typing.
const (
	eventJoinChat    = "join-chat"
	eventSendMessage = "send-message"
	eventChatHistory = "chat-history"
	eventNewMessage  = "new-message"
	eventAITyping    = "ai-typing"
)

// envelope frames every event in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newEnvelope(event string, data any) (envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return envelope{}, err
	}
	return envelope{Event: event, Data: raw}, nil
}

// joinPayload announces interest in one conversation's stream.
type joinPayload struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

// sendPayload carries one outbound message. ClientID lets the client
// de-duplicate the server's echo.
type sendPayload struct {
	UserID         string `json:"userId"`
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
	ClientID       string `json:"clientId,omitempty"`
}
