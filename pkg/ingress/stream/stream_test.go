package stream

import (
	"context"
	"testing"

	"chime/pkg/bus"
	"chime/pkg/chat"
	"chime/pkg/config"
	"chime/pkg/notify"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()

	a, err := New(config.EventsConfig{URL: "ws://localhost:0/connect"}, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return a
}

func TestHandleEventForwardsNewMessage(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t)

	var got bus.Signal
	handler := func(_ context.Context, sig bus.Signal) error {
		got = sig
		return nil
	}

	event := chat.Event{
		Type:    chat.EventMessageNew,
		CID:     "messaging:general",
		Message: &chat.Message{ID: "m1", Text: "hello"},
	}
	if err := a.handleEvent(context.Background(), event, handler); err != nil {
		t.Fatalf("handleEvent error: %v", err)
	}

	if got.Source != "stream" {
		t.Fatalf("source = %q, want stream", got.Source)
	}
	if got.MessageID != "m1" {
		t.Fatalf("message id = %q, want m1", got.MessageID)
	}
	if got.Origin.Kind != notify.OriginEvent {
		t.Fatalf("origin = %q, want event", got.Origin.Kind)
	}
	if got.Origin.Event == nil || got.Origin.Event.CID != "messaging:general" {
		t.Fatal("event not carried on the signal")
	}
}

func TestHandleEventSkipsOtherTypes(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t)

	handler := func(context.Context, bus.Signal) error {
		t.Fatal("handler must not run for non-message events")
		return nil
	}

	event := chat.Event{Type: "typing.start", Message: &chat.Message{ID: "m1"}}
	if err := a.handleEvent(context.Background(), event, handler); err != nil {
		t.Fatalf("handleEvent error: %v", err)
	}
}

func TestHandleEventSkipsMissingMessage(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t)

	handler := func(context.Context, bus.Signal) error {
		t.Fatal("handler must not run without a message id")
		return nil
	}

	if err := a.handleEvent(context.Background(), chat.Event{Type: chat.EventMessageNew}, handler); err != nil {
		t.Fatalf("handleEvent error: %v", err)
	}
	event := chat.Event{Type: chat.EventMessageNew, Message: &chat.Message{}}
	if err := a.handleEvent(context.Background(), event, handler); err != nil {
		t.Fatalf("handleEvent error: %v", err)
	}
}

func TestNewRequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := New(config.EventsConfig{}, nil); err == nil {
		t.Fatal("expected error for missing url")
	}
}
