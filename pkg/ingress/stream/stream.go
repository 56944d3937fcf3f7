// Package stream turns realtime websocket events into new-message signals.
package stream

import (
	"context"
	"log/slog"

	"chime/pkg/bus"
	"chime/pkg/chat"
	"chime/pkg/chat/socket"
	"chime/pkg/config"
	"chime/pkg/ingress"
	"chime/pkg/notify"
)

const sourceName = "stream"

type Adapter struct {
	source *socket.Source
	log    *slog.Logger
}

func New(cfg config.EventsConfig, log *slog.Logger) (*Adapter, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "ingress.stream")

	source, err := socket.NewSource(cfg, log)
	if err != nil {
		return nil, err
	}

	return &Adapter{source: source, log: log}, nil
}

func (a *Adapter) Name() string { return sourceName }

// Run consumes the event stream and forwards new-message events to the
// handler until the context is canceled.
func (a *Adapter) Run(ctx context.Context, handler ingress.Handler) error {
	return a.source.Run(ctx, func(event chat.Event) {
		if err := a.handleEvent(ctx, event, handler); err != nil {
			a.log.Warn("Dropping event", "type", event.Type, "error", err)
		}
	})
}

// handleEvent filters for new-message events and publishes their signal.
// Other event types pass through silently.
func (a *Adapter) handleEvent(ctx context.Context, event chat.Event, handler ingress.Handler) error {
	if event.Type != chat.EventMessageNew {
		return nil
	}
	if event.Message == nil || event.Message.ID == "" {
		a.log.Debug("Ignoring new-message event without a message id", "cid", event.CID)
		return nil
	}

	return handler(ctx, bus.Signal{
		Source:    sourceName,
		MessageID: event.Message.ID,
		Origin:    notify.EventOrigin(&event),
	})
}
