package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Backend.BaseURL != "http://localhost:5000" {
		t.Fatalf("unexpected backend URL: %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout != 15*time.Second {
		t.Fatalf("unexpected timeout: %v", cfg.Backend.Timeout)
	}
	if cfg.Chat.SocketURL != "ws://localhost:5000/ws/chat" {
		t.Fatalf("unexpected socket URL: %q", cfg.Chat.SocketURL)
	}
	if cfg.Chat.DialRetries != 3 {
		t.Fatalf("unexpected dial retries: %d", cfg.Chat.DialRetries)
	}
	if cfg.Identity.Enabled() {
		t.Fatal("identity should be disabled without credentials")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CRM_BACKEND_URL", "https://crm.example.com/")
	t.Setenv("CRM_REQUEST_TIMEOUT", "30")
	t.Setenv("CRM_SOCKET_DIAL_RETRIES", "5")
	t.Setenv("CRM_IDENTITY_URL", "https://identity.example.com")
	t.Setenv("CRM_IDENTITY_API_KEY", "key-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Backend.BaseURL != "https://crm.example.com" {
		t.Fatalf("expected the trailing slash to be trimmed, got %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout != 30*time.Second {
		t.Fatalf("unexpected timeout: %v", cfg.Backend.Timeout)
	}
	if cfg.Chat.SocketURL != "wss://crm.example.com/ws/chat" {
		t.Fatalf("unexpected socket URL: %q", cfg.Chat.SocketURL)
	}
	if cfg.Chat.DialRetries != 5 {
		t.Fatalf("unexpected dial retries: %d", cfg.Chat.DialRetries)
	}
	if !cfg.Identity.Enabled() {
		t.Fatal("identity should be enabled")
	}
}

func TestLoadExplicitSocketURL(t *testing.T) {
	t.Setenv("CRM_SOCKET_URL", "wss://realtime.example.com/chat")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Chat.SocketURL != "wss://realtime.example.com/chat" {
		t.Fatalf("unexpected socket URL: %q", cfg.Chat.SocketURL)
	}
}

func TestLoadRejectsInvalidInt(t *testing.T) {
	t.Setenv("CRM_REQUEST_TIMEOUT", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for a non-numeric timeout")
	}
}

func TestLoadRejectsNonPositiveTimeout(t *testing.T) {
	t.Setenv("CRM_REQUEST_TIMEOUT", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for a zero timeout")
	}
}

func TestDialRetriesFloorsAtOne(t *testing.T) {
	t.Setenv("CRM_SOCKET_DIAL_RETRIES", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Chat.DialRetries != 1 {
		t.Fatalf("expected the retry floor, got %d", cfg.Chat.DialRetries)
	}
}
