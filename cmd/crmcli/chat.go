package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"crmcli/internal/chat"
	"crmcli/internal/model"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive AI chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthenticated(runChat)
		},
	}
}

func runChat(ctx context.Context, a *app) error {
	snapshot := a.store.Snapshot()
	if snapshot.User == nil {
		return errors.New("not authenticated")
	}

	render := make(chan struct{}, 1)
	client := chat.NewClient(chat.ClientConfig{
		SocketURL:    a.cfg.Chat.SocketURL,
		UserID:       snapshot.User.UID,
		Tokens:       a.tokens,
		DialTimeout:  a.cfg.Chat.DialTimeout,
		DialRetries:  a.cfg.Chat.DialRetries,
		PingInterval: a.cfg.Chat.PingInterval,
		Logger:       logger,
		OnChange: func() {
			select {
			case render <- struct{}{}:
			default:
			}
		},
	})
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		return err
	}

	controller := chat.NewController(a.backend, client, logger)
	if err := controller.Refresh(ctx); err != nil {
		return err
	}

	go renderLoop(ctx, client, render)

	printConversations(controller.Conversations(), client.JoinedConversation())
	fmt.Println(`Type a message, or /new <title>, /switch <n>, /reconnect, /quit.`)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return nil

		case strings.HasPrefix(line, "/new"):
			title := strings.TrimSpace(strings.TrimPrefix(line, "/new"))
			if title == "" {
				title = "New Chat " + time.Now().Format("2006-01-02 15:04")
			}
			conversation, err := controller.Create(ctx, title)
			if err != nil {
				fmt.Println("create failed:", err)
				continue
			}
			fmt.Println("joined:", conversation.Title)

		case strings.HasPrefix(line, "/switch"):
			arg := strings.TrimSpace(strings.TrimPrefix(line, "/switch"))
			index, err := strconv.Atoi(arg)
			conversations := controller.Conversations()
			if err != nil || index < 1 || index > len(conversations) {
				printConversations(conversations, client.JoinedConversation())
				continue
			}
			if err := controller.Switch(conversations[index-1].ID); err != nil {
				fmt.Println("switch failed:", err)
			}

		case line == "/reconnect":
			client.Close()
			if err := client.Connect(ctx); err != nil {
				fmt.Println("reconnect failed:", err)
				continue
			}
			if err := controller.Refresh(ctx); err != nil {
				fmt.Println("refresh failed:", err)
			}

		default:
			if err := client.Send(line); err != nil {
				if errors.Is(err, chat.ErrNotJoined) {
					fmt.Println("no conversation joined; use /new <title>")
				} else {
					fmt.Println("send failed:", err)
				}
			}
		}
	}
	return scanner.Err()
}

// renderLoop redraws the transcript whenever the client reports a change.
func renderLoop(ctx context.Context, client *chat.Client, render <-chan struct{}) {
	var lastLen int
	var lastTyping bool
	for {
		select {
		case <-ctx.Done():
			return
		case <-render:
		}

		messages := client.Messages()
		if len(messages) < lastLen {
			lastLen = 0 // transcript was replaced, reprint everything
		}
		for _, msg := range messages[lastLen:] {
			printMessage(msg)
		}
		lastLen = len(messages)

		typing := client.Typing()
		if typing != lastTyping {
			if typing {
				fmt.Println("  … assistant is typing")
			}
			lastTyping = typing
		}

		if client.State() == chat.Disconnected {
			fmt.Println("connection lost; use /reconnect")
		}
	}
}

func printMessage(msg model.Message) {
	prefix := "you"
	if msg.Sender == model.SenderAgent {
		prefix = " ai"
	}
	fmt.Printf("%s> %s\n", prefix, msg.Text)
}

func printConversations(conversations []model.Conversation, joined string) {
	if len(conversations) == 0 {
		fmt.Println("no conversations yet; use /new <title>")
		return
	}
	for i, conversation := range conversations {
		marker := " "
		if conversation.ID == joined {
			marker = "*"
		}
		fmt.Printf("%s %2d. %s\n", marker, i+1, conversation.Title)
	}
}
