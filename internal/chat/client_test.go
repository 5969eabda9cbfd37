package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"crmcli/internal/model"
)

type staticTokens string

func (s staticTokens) Token(context.Context) (string, error) { return string(s), nil }

// realtimeStub is a one-connection websocket server that records every
// envelope the client emits and lets tests push server events.
type realtimeStub struct {
	server   *httptest.Server
	received chan envelope

	mu       sync.Mutex
	conn     *websocket.Conn
	authSeen string
}

func newRealtimeStub(t *testing.T) *realtimeStub {
	t.Helper()

	stub := &realtimeStub{received: make(chan envelope, 32)}
	upgrader := websocket.Upgrader{}

	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		stub.mu.Lock()
		stub.conn = conn
		stub.authSeen = r.Header.Get("Authorization")
		stub.mu.Unlock()

		for {
			var env envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			stub.received <- env
		}
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *realtimeStub) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *realtimeStub) auth() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authSeen
}

// push sends one server event to the connected client.
func (s *realtimeStub) push(t *testing.T, event string, data any) {
	t.Helper()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		t.Fatal("no client connected")
	}
	env, err := newEnvelope(event, data)
	if err != nil {
		t.Fatalf("encode %s: %v", event, err)
	}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("push %s: %v", event, err)
	}
}

func (s *realtimeStub) dropClient() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// next waits for the client's next emitted envelope.
func (s *realtimeStub) next(t *testing.T) envelope {
	t.Helper()
	select {
	case env := <-s.received:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope arrived")
		return envelope{}
	}
}

func (s *realtimeStub) expectSilence(t *testing.T) {
	t.Helper()
	select {
	case env := <-s.received:
		t.Fatalf("unexpected envelope: %s %s", env.Event, env.Data)
	case <-time.After(100 * time.Millisecond):
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestClient(t *testing.T, stub *realtimeStub) *Client {
	t.Helper()
	client := NewClient(ClientConfig{
		SocketURL:   stub.url(),
		UserID:      "uid-1",
		Tokens:      staticTokens("token-1"),
		DialTimeout: 2 * time.Second,
		DialRetries: 1,
	})
	t.Cleanup(client.Close)
	return client
}

func TestConnectJoinHistoryFlow(t *testing.T) {
	stub := newRealtimeStub(t)
	client := newTestClient(t, stub)

	if client.State() != Disconnected {
		t.Fatalf("expected disconnected, got %s", client.State())
	}

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect err: %v", err)
	}
	if client.State() != Connected {
		t.Fatalf("expected connected, got %s", client.State())
	}
	if stub.auth() != "Bearer token-1" {
		t.Fatalf("unexpected Authorization header: %q", stub.auth())
	}

	if err := client.Join("c1"); err != nil {
		t.Fatalf("Join err: %v", err)
	}
	if client.State() != Joined || client.JoinedConversation() != "c1" {
		t.Fatalf("expected joined c1, got %s %q", client.State(), client.JoinedConversation())
	}

	env := stub.next(t)
	if env.Event != eventJoinChat {
		t.Fatalf("expected %s, got %s", eventJoinChat, env.Event)
	}
	if !strings.Contains(string(env.Data), `"conversationId":"c1"`) ||
		!strings.Contains(string(env.Data), `"userId":"uid-1"`) {
		t.Fatalf("unexpected join payload: %s", env.Data)
	}

	stub.push(t, eventChatHistory, []model.Message{
		{Sender: model.SenderUser, Text: "hello", ConversationID: "c1"},
		{Sender: model.SenderAgent, Text: "hi there", ConversationID: "c1"},
	})

	waitFor(t, func() bool { return len(client.Messages()) == 2 }, "history was not applied")
	messages := client.Messages()
	if messages[0].Text != "hello" || messages[1].Sender != model.SenderAgent {
		t.Fatalf("unexpected transcript: %+v", messages)
	}
}

func TestConnectTwiceRejected(t *testing.T) {
	stub := newRealtimeStub(t)
	client := newTestClient(t, stub)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect err: %v", err)
	}
	if err := client.Connect(context.Background()); err != ErrAlreadyConnected {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestConnectFailsWithoutServer(t *testing.T) {
	client := NewClient(ClientConfig{
		SocketURL:   "ws://127.0.0.1:1/ws/chat",
		UserID:      "uid-1",
		Tokens:      staticTokens("t"),
		DialRetries: 1,
	})

	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("expected a dial error")
	}
	if client.State() != Disconnected {
		t.Fatalf("expected disconnected after a failed dial, got %s", client.State())
	}
}

func TestJoinClearsTranscript(t *testing.T) {
	stub := newRealtimeStub(t)
	client := newTestClient(t, stub)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect err: %v", err)
	}

	if err := client.Join("c1"); err != nil {
		t.Fatalf("Join err: %v", err)
	}
	stub.next(t)
	stub.push(t, eventChatHistory, []model.Message{
		{Sender: model.SenderUser, Text: "old", ConversationID: "c1"},
	})
	waitFor(t, func() bool { return len(client.Messages()) == 1 }, "history was not applied")
	stub.push(t, eventAITyping, true)
	waitFor(t, func() bool { return client.Typing() }, "typing was not set")

	if err := client.Join("c2"); err != nil {
		t.Fatalf("Join err: %v", err)
	}
	stub.next(t)

	if len(client.Messages()) != 0 {
		t.Fatalf("expected an empty transcript after switching, got %+v", client.Messages())
	}
	if client.Typing() {
		t.Fatal("expected typing to reset on join")
	}
}

func TestStaleHistoryIgnored(t *testing.T) {
	stub := newRealtimeStub(t)
	client := newTestClient(t, stub)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect err: %v", err)
	}

	if err := client.Join("c1"); err != nil {
		t.Fatalf("Join err: %v", err)
	}
	stub.next(t)
	if err := client.Join("c2"); err != nil {
		t.Fatalf("Join err: %v", err)
	}
	stub.next(t)

	// The answer to the first join arrives after the switch.
	stub.push(t, eventChatHistory, []model.Message{
		{Sender: model.SenderUser, Text: "stale", ConversationID: "c1"},
	})
	stub.push(t, eventChatHistory, []model.Message{
		{Sender: model.SenderUser, Text: "current", ConversationID: "c2"},
	})

	waitFor(t, func() bool { return len(client.Messages()) == 1 }, "history was not applied")
	if client.Messages()[0].Text != "current" {
		t.Fatalf("stale history leaked into the transcript: %+v", client.Messages())
	}
}

func TestSendRules(t *testing.T) {
	stub := newRealtimeStub(t)
	client := newTestClient(t, stub)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect err: %v", err)
	}

	if err := client.Send("hello"); err != ErrNotJoined {
		t.Fatalf("expected ErrNotJoined before a join, got %v", err)
	}

	if err := client.Join("c1"); err != nil {
		t.Fatalf("Join err: %v", err)
	}
	stub.next(t)

	if err := client.Send("   \t  "); err != nil {
		t.Fatalf("whitespace send err: %v", err)
	}
	stub.expectSilence(t)
}

func TestSendEchoDeduplicated(t *testing.T) {
	stub := newRealtimeStub(t)
	client := newTestClient(t, stub)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect err: %v", err)
	}
	if err := client.Join("c1"); err != nil {
		t.Fatalf("Join err: %v", err)
	}
	stub.next(t)

	if err := client.Send("hi"); err != nil {
		t.Fatalf("Send err: %v", err)
	}

	env := stub.next(t)
	if env.Event != eventSendMessage {
		t.Fatalf("expected %s, got %s", eventSendMessage, env.Event)
	}
	var payload sendPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode send payload: %v", err)
	}
	if payload.Message != "hi" || payload.ConversationID != "c1" || payload.ClientID == "" {
		t.Fatalf("unexpected send payload: %+v", payload)
	}

	// No optimistic append: the transcript stays empty until the echo.
	if len(client.Messages()) != 0 {
		t.Fatalf("transcript mutated before the echo: %+v", client.Messages())
	}

	echo := model.Message{
		ClientID:       payload.ClientID,
		Sender:         model.SenderUser,
		Text:           "hi",
		ConversationID: "c1",
	}
	stub.push(t, eventNewMessage, echo)
	waitFor(t, func() bool { return len(client.Messages()) == 1 }, "echo was not appended")

	// A duplicate echo of the same clientId is dropped.
	stub.push(t, eventNewMessage, echo)
	stub.push(t, eventAITyping, true)
	waitFor(t, func() bool { return client.Typing() }, "typing was not set")
	if len(client.Messages()) != 1 {
		t.Fatalf("duplicate echo was appended: %+v", client.Messages())
	}
}

func TestMessageForOtherConversationDropped(t *testing.T) {
	stub := newRealtimeStub(t)
	client := newTestClient(t, stub)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect err: %v", err)
	}
	if err := client.Join("c1"); err != nil {
		t.Fatalf("Join err: %v", err)
	}
	stub.next(t)

	stub.push(t, eventNewMessage, model.Message{Sender: model.SenderAgent, Text: "elsewhere", ConversationID: "c2"})
	stub.push(t, eventNewMessage, model.Message{Sender: model.SenderAgent, Text: "here", ConversationID: "c1"})

	waitFor(t, func() bool { return len(client.Messages()) == 1 }, "message was not appended")
	if client.Messages()[0].Text != "here" {
		t.Fatalf("a message for another conversation leaked: %+v", client.Messages())
	}
}

func TestTypingFollowsEvents(t *testing.T) {
	stub := newRealtimeStub(t)
	client := newTestClient(t, stub)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect err: %v", err)
	}
	if err := client.Join("c1"); err != nil {
		t.Fatalf("Join err: %v", err)
	}
	stub.next(t)

	stub.push(t, eventAITyping, true)
	waitFor(t, func() bool { return client.Typing() }, "typing was not set")

	stub.push(t, eventAITyping, false)
	waitFor(t, func() bool { return !client.Typing() }, "typing was not cleared")
}

func TestServerCloseDisconnects(t *testing.T) {
	stub := newRealtimeStub(t)

	var changes int
	var changesMu sync.Mutex
	client := NewClient(ClientConfig{
		SocketURL:   stub.url(),
		UserID:      "uid-1",
		Tokens:      staticTokens("token-1"),
		DialRetries: 1,
		OnChange: func() {
			changesMu.Lock()
			changes++
			changesMu.Unlock()
		},
	})
	t.Cleanup(client.Close)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect err: %v", err)
	}
	if err := client.Join("c1"); err != nil {
		t.Fatalf("Join err: %v", err)
	}
	stub.next(t)

	stub.dropClient()

	waitFor(t, func() bool { return client.State() == Disconnected }, "client did not notice the drop")
	if client.JoinedConversation() != "" {
		t.Fatalf("expected the join to clear, got %q", client.JoinedConversation())
	}

	// No automatic reconnect: the client stays down until Connect is called.
	time.Sleep(100 * time.Millisecond)
	if client.State() != Disconnected {
		t.Fatalf("expected to stay disconnected, got %s", client.State())
	}

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect err: %v", err)
	}
	if client.State() != Connected {
		t.Fatalf("expected connected after an explicit reconnect, got %s", client.State())
	}

	changesMu.Lock()
	defer changesMu.Unlock()
	if changes == 0 {
		t.Fatal("expected OnChange notifications")
	}
}
