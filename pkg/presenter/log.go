package presenter

import (
	"context"
	"log/slog"
)

// LogPresenter writes notifications to the structured log. It is the
// fallback presenter when no delivery transport is configured.
type LogPresenter struct {
	log *slog.Logger
}

func NewLogPresenter(log *slog.Logger) *LogPresenter {
	if log == nil {
		log = slog.Default()
	}

	return &LogPresenter{log: log.With("component", "presenter.log")}
}

func (p *LogPresenter) Show(_ context.Context, notificationID int32, d Descriptor) error {
	p.log.Info("Notification",
		"notification_id", notificationID,
		"title", d.Title,
		"body", d.Body,
		"has_image", len(d.Image) > 0,
		"channel_id", d.Reply.ChannelID,
		"channel_type", d.Reply.ChannelType,
	)
	return nil
}

func (p *LogPresenter) Dismiss(_ context.Context, notificationID int32) error {
	p.log.Info("Notification dismissed", "notification_id", notificationID)
	return nil
}
