// Package push receives push notification payloads over NATS and turns
// them into new-message signals.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"chime/pkg/bus"
	"chime/pkg/config"
	"chime/pkg/ingress"
	"chime/pkg/notify"
)

const sourceName = "push"

type Adapter struct {
	cfg config.PushConfig
	log *slog.Logger
}

func New(cfg config.PushConfig, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{cfg: cfg, log: log.With("component", "ingress.push")}
}

func (a *Adapter) Name() string { return sourceName }

// Run subscribes to the push subject and forwards each decoded envelope to
// the handler until the context is canceled or the connection closes.
func (a *Adapter) Run(ctx context.Context, handler ingress.Handler) error {
	closed := make(chan error, 1)

	nc, err := nats.Connect(a.cfg.URL,
		nats.Name("chime-push"),
		nats.ClosedHandler(func(conn *nats.Conn) {
			select {
			case closed <- conn.LastError():
			default:
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer nc.Close()

	sub, err := nc.Subscribe(a.cfg.Subject, func(msg *nats.Msg) {
		if err := a.handlePayload(ctx, msg.Data, handler); err != nil {
			a.log.Warn("Dropping push payload", "subject", msg.Subject, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %q: %w", a.cfg.Subject, err)
	}
	if err := nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flush subscription: %w", err)
	}

	a.log.Info("Push adapter listening", "url", nc.ConnectedUrl(), "subject", a.cfg.Subject)

	select {
	case <-ctx.Done():
		_ = sub.Unsubscribe()
		return nil
	case err := <-closed:
		if err != nil {
			return fmt.Errorf("nats connection closed: %w", err)
		}
		return fmt.Errorf("nats connection closed")
	}
}

// handlePayload decodes one push envelope and publishes its signal.
// Payloads without a message id are dropped.
func (a *Adapter) handlePayload(ctx context.Context, data []byte, handler ingress.Handler) error {
	var envelope notify.PushEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	messageID := envelope.MessageID()
	if messageID == "" {
		return fmt.Errorf("envelope has no %s", notify.PushMessageIDKey)
	}

	return handler(ctx, bus.Signal{
		Source:    sourceName,
		MessageID: messageID,
		Origin:    notify.PushOrigin(&envelope),
	})
}
