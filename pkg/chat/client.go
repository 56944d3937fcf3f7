package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chime/pkg/config"
)

const defaultRequestTimeout = 10 * time.Second

// ErrNotFound is returned when the backend has no entity for the given id.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the chat backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat api: status %d: %s", e.Status, e.Message)
}

// Client talks to the chat backend HTTP API.
type Client struct {
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	requestTimeout time.Duration
	log            *slog.Logger
}

func New(cfg config.ChatConfig, log *slog.Logger) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("chat.base_url is required")
	}

	if log == nil {
		log = slog.Default()
	}

	requestTimeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	return &Client{
		baseURL:        baseURL,
		apiKey:         strings.TrimSpace(cfg.APIKey),
		httpClient:     &http.Client{},
		requestTimeout: requestTimeout,
		log:            log.With("component", "chat.client"),
	}, nil
}

type messageResponse struct {
	Message *Message `json:"message"`
}

// GetMessage fetches one message by id.
func (c *Client) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return nil, errors.New("message id is required")
	}

	var response messageResponse
	err := c.do(ctx, "get_message", http.MethodGet, "/messages/"+url.PathEscape(messageID), nil, &response)
	if err != nil {
		return nil, err
	}
	if response.Message == nil {
		return nil, errors.New("get message returned empty message")
	}

	return response.Message, nil
}

// SendMessage posts text to a channel and returns the created message.
func (c *Client) SendMessage(ctx context.Context, channelType, channelID, text string) (*Message, error) {
	channelType = strings.TrimSpace(channelType)
	channelID = strings.TrimSpace(channelID)
	if channelType == "" || channelID == "" {
		return nil, errors.New("channel type and id are required")
	}

	body := map[string]any{
		"message": map[string]any{"text": text},
	}
	path := "/channels/" + url.PathEscape(channelType) + "/" + url.PathEscape(channelID) + "/message"

	var response messageResponse
	if err := c.do(ctx, "send_message", http.MethodPost, path, body, &response); err != nil {
		return nil, err
	}
	if response.Message == nil {
		return nil, errors.New("send message returned empty message")
	}

	return response.Message, nil
}

// AddDevice registers a push delivery token for this process.
func (c *Client) AddDevice(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("device token is required")
	}

	body := map[string]any{"id": token, "push_provider": "nats"}
	return c.do(ctx, "add_device", http.MethodPost, "/devices", body, nil)
}

// RemoveDevice unregisters a previously registered push token.
func (c *Client) RemoveDevice(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("device token is required")
	}

	return c.do(ctx, "remove_device", http.MethodDelete, "/devices/"+url.PathEscape(token), nil, nil)
}

// Health probes the backend liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	if err := c.do(ctx, "health", http.MethodGet, "/healthz", nil, nil); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	return nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	log := c.log.With("operation", operation)
	startedAt := time.Now()
	log.Debug("chat request started", "method", method, "path", path)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		log.Debug("chat request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return fmt.Errorf("%s: %w", operation, err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		log.Debug("chat request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "status", response.StatusCode)
		return fmt.Errorf("%s: %w", operation, ErrNotFound)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		message := readErrorMessage(response.Body)
		log.Debug("chat request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "status", response.StatusCode, "error", message)
		return fmt.Errorf("%s: %w", operation, &APIError{Status: response.StatusCode, Message: message})
	}

	if out != nil {
		if err := json.NewDecoder(response.Body).Decode(out); err != nil {
			return fmt.Errorf("%s: decode response: %w", operation, err)
		}
	}

	log.Debug("chat request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "status", response.StatusCode)
	return nil
}

func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}

	var decoded struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Message != "" {
		return decoded.Message
	}

	return strings.TrimSpace(string(raw))
}
