package socket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"chime/pkg/chat"
	"chime/pkg/config"

	"github.com/gorilla/websocket"
)

func TestNewSourceRequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := NewSource(config.EventsConfig{}, nil); err == nil {
		t.Fatal("expected error for missing url")
	}
}

func TestRunDeliversEvents(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("connection_id"); got == "" {
			t.Error("expected connection_id query parameter")
		}
		if got := r.Header.Get("Authorization"); got != "Bearer stream-key" {
			t.Errorf("authorization = %q", got)
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		events := []string{
			`{"type": "message.new", "message": {"id": "m1", "text": "hello"}}`,
			`{"type": "typing.start"}`,
			`not json`,
			`{"type": "message.new", "message": {"id": "m2", "text": "again"}}`,
		}
		for _, event := range events {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(event)); err != nil {
				return
			}
		}

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	source, err := NewSource(config.EventsConfig{URL: wsURL, APIKey: "stream-key"}, nil)
	if err != nil {
		t.Fatalf("NewSource error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []chat.Event
	delivered := make(chan struct{}, 8)

	runDone := make(chan error, 1)
	go func() {
		runDone <- source.Run(ctx, func(event chat.Event) {
			mu.Lock()
			got = append(got, event)
			mu.Unlock()
			delivered <- struct{}{}
		})
	}()

	deadline := time.After(3 * time.Second)
	for received := 0; received < 3; {
		select {
		case <-delivered:
			received++
		case <-deadline:
			t.Fatal("timed out waiting for events")
		}
	}

	cancel()
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) < 3 {
		t.Fatalf("delivered %d events, want at least 3", len(got))
	}
	if got[0].Type != chat.EventMessageNew || got[0].Message == nil || got[0].Message.ID != "m1" {
		t.Fatalf("first event = %+v", got[0])
	}
	if got[1].Type != "typing.start" {
		t.Fatalf("second event type = %q", got[1].Type)
	}
}
