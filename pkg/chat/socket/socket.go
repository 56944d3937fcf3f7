// Package socket reads realtime events from the chat backend websocket.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chime/pkg/chat"
	"chime/pkg/config"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Source maintains a websocket connection and delivers decoded events.
type Source struct {
	cfg config.EventsConfig
	log *slog.Logger
}

func NewSource(cfg config.EventsConfig, log *slog.Logger) (*Source, error) {
	rawURL := strings.TrimSpace(cfg.URL)
	if rawURL == "" {
		return nil, errors.New("events.url is required")
	}
	if _, err := url.Parse(rawURL); err != nil {
		return nil, errors.New("events.url is not a valid URL")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Source{
		cfg: cfg,
		log: log.With("component", "chat.socket"),
	}, nil
}

// Run connects and delivers events until ctx is canceled. Connection loss
// triggers a reconnect with capped backoff; backoff resets after a
// successful read.
func (s *Source) Run(ctx context.Context, deliver func(chat.Event)) error {
	if deliver == nil {
		return errors.New("deliver callback is required")
	}

	backoff := initialBackoff
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		err := s.readLoop(ctx, deliver, func() { backoff = initialBackoff })
		if ctx.Err() != nil {
			return nil
		}
		s.log.Warn("Event stream disconnected", "error", err, "retry_in", backoff.String())

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (s *Source) readLoop(ctx context.Context, deliver func(chat.Event), onEvent func()) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.log.Info("Event stream connected")

	// Unblock ReadMessage when ctx is canceled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var event chat.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			s.log.Debug("Ignoring undecodable event", "error", err)
			continue
		}

		onEvent()
		deliver(event)
	}
}

func (s *Source) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := url.Parse(strings.TrimSpace(s.cfg.URL))
	if err != nil {
		return nil, err
	}

	query := endpoint.Query()
	query.Set("connection_id", uuid.NewString())
	endpoint.RawQuery = query.Encode()

	header := http.Header{}
	if key := strings.TrimSpace(s.cfg.APIKey); key != "" {
		header.Set("Authorization", "Bearer "+key)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint.String(), header)
	return conn, err
}
