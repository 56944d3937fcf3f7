package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	envChatAPIKey        = "CHIME_API_KEY"
	envNATSURL           = "NATS_URL"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Chat      ChatConfig      `json:"chat"`
	Push      PushConfig      `json:"push"`
	Events    EventsConfig    `json:"events"`
	Images    ImagesConfig    `json:"images,omitempty"`
	Presenter PresenterConfig `json:"presenter"`
	Gateway   GatewayConfig   `json:"gateway"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// ChatConfig configures the chat backend API client.
type ChatConfig struct {
	BaseURL               string `json:"base_url"`
	APIKey                string `json:"api_key"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// PushConfig configures the out-of-process push channel (a NATS subject).
type PushConfig struct {
	Enabled     bool   `json:"enabled"`
	URL         string `json:"url"`
	Subject     string `json:"subject"`
	DeviceToken string `json:"device_token,omitempty"`
}

// EventsConfig configures the realtime event stream from the chat backend.
type EventsConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	APIKey  string `json:"api_key,omitempty"`
}

// ImagesConfig bounds the notification image fetch.
type ImagesConfig struct {
	TimeoutSeconds int   `json:"timeout_seconds,omitempty"`
	MaxSizeBytes   int64 `json:"max_size_bytes,omitempty"`
}

// PresenterConfig stores notification delivery settings.
type PresenterConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig configures the Telegram presenter.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	ChatID    string   `json:"chat_id"`
	AllowFrom []string `json:"allow_from"`
}

// GatewayConfig configures HTTP status server bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// LoadConfig resolves config.json, unmarshals it, and applies environment overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if key := strings.TrimSpace(os.Getenv(envChatAPIKey)); key != "" {
		cfg.Chat.APIKey = key
	}

	if url := strings.TrimSpace(os.Getenv(envNATSURL)); url != "" {
		cfg.Push.URL = url
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Presenter.Telegram.Token = token
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Presenter.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is CHIME_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv("CHIME_CONFIG")); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("CHIME_CONFIG does not point to a file: %s", value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
