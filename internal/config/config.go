package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every setting the client needs.
type Config struct {
	Backend  BackendConfig
	Identity IdentityConfig
	Chat     ChatConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	backend, err := loadBackendConfig()
	if err != nil {
		return nil, err
	}

	identity, err := loadIdentityConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig(backend)
	if err != nil {
		return nil, err
	}

	return &Config{Backend: backend, Identity: identity, Chat: chat}, nil
}

// BackendConfig describes the CRM backend's REST endpoint.
type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
}

func loadBackendConfig() (BackendConfig, error) {
	baseURL := getEnvOrDefault("CRM_BACKEND_URL", "http://localhost:5000")
	baseURL = strings.TrimRight(baseURL, "/")

	timeoutSeconds := 15
	if override, err := parseOptionalIntEnv("CRM_REQUEST_TIMEOUT"); err != nil {
		return BackendConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return BackendConfig{}, fmt.Errorf("CRM_REQUEST_TIMEOUT must be positive, got %d", *override)
		}
		timeoutSeconds = *override
	}

	return BackendConfig{
		BaseURL: baseURL,
		Timeout: time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// IdentityConfig describes the identity service the token provider talks to.
type IdentityConfig struct {
	BaseURL           string
	APIKey            string
	OAuthClientID     string
	OAuthClientSecret string
	OAuthRedirectURL  string
}

func loadIdentityConfig() (IdentityConfig, error) {
	return IdentityConfig{
		BaseURL:           strings.TrimRight(getEnvOrDefault("CRM_IDENTITY_URL", ""), "/"),
		APIKey:            strings.TrimSpace(os.Getenv("CRM_IDENTITY_API_KEY")),
		OAuthClientID:     strings.TrimSpace(os.Getenv("CRM_OAUTH_CLIENT_ID")),
		OAuthClientSecret: strings.TrimSpace(os.Getenv("CRM_OAUTH_CLIENT_SECRET")),
		OAuthRedirectURL:  strings.TrimSpace(os.Getenv("CRM_OAUTH_REDIRECT_URL")),
	}, nil
}

// Enabled reports whether identity credentials were provided. Without them
// only the in-memory provider can be used.
func (c IdentityConfig) Enabled() bool {
	return c.BaseURL != "" && c.APIKey != ""
}

// ChatConfig describes the realtime connection.
type ChatConfig struct {
	SocketURL    string
	DialTimeout  time.Duration
	PingInterval time.Duration
	DialRetries  int
}

func loadChatConfig(backend BackendConfig) (ChatConfig, error) {
	socketURL := strings.TrimSpace(os.Getenv("CRM_SOCKET_URL"))
	if socketURL == "" {
		// The realtime endpoint lives on the same host as the REST API.
		socketURL = deriveSocketURL(backend.BaseURL)
	}

	dialTimeout := 10
	if override, err := parseOptionalIntEnv("CRM_SOCKET_DIAL_TIMEOUT"); err != nil {
		return ChatConfig{}, err
	} else if override != nil && *override > 0 {
		dialTimeout = *override
	}

	pingInterval := 30
	if override, err := parseOptionalIntEnv("CRM_SOCKET_PING_INTERVAL"); err != nil {
		return ChatConfig{}, err
	} else if override != nil && *override > 0 {
		pingInterval = *override
	}

	retries := 3
	if override, err := parseOptionalIntEnv("CRM_SOCKET_DIAL_RETRIES"); err != nil {
		return ChatConfig{}, err
	} else if override != nil {
		if *override < 1 {
			retries = 1
		} else {
			retries = *override
		}
	}

	return ChatConfig{
		SocketURL:    socketURL,
		DialTimeout:  time.Duration(dialTimeout) * time.Second,
		PingInterval: time.Duration(pingInterval) * time.Second,
		DialRetries:  retries,
	}, nil
}

// deriveSocketURL converts an http(s) base URL into the ws(s) chat endpoint.
func deriveSocketURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://") + "/ws/chat"
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://") + "/ws/chat"
	default:
		return baseURL + "/ws/chat"
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
