package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"chime/pkg/presenter"
)

// ReplyReceiver handles user reply text captured from a presented
// notification and round-trips it to the chat backend.
type ReplyReceiver struct {
	coordinator *Coordinator
	chat        ChatClient
	presenter   presenter.Presenter
	log         *slog.Logger
}

func NewReplyReceiver(coordinator *Coordinator, chatClient ChatClient, p presenter.Presenter, log *slog.Logger) *ReplyReceiver {
	if log == nil {
		log = slog.Default()
	}

	return &ReplyReceiver{
		coordinator: coordinator,
		chat:        chatClient,
		presenter:   p,
		log:         log.With("component", "notify.reply"),
	}
}

// HandleReply sends the reply text to the channel carried by the intent.
// On success the originating notification is dismissed; on failure it stays
// visible. Empty text is dismissed silently.
func (r *ReplyReceiver) HandleReply(ctx context.Context, intent presenter.ReplyIntent, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		r.log.Debug("Ignoring empty reply", "notification_id", intent.NotificationID)
		return nil
	}

	if _, err := r.chat.SendMessage(ctx, intent.ChannelType, intent.ChannelID, text); err != nil {
		r.log.Error("Failed to send reply",
			"notification_id", intent.NotificationID,
			"channel_id", intent.ChannelID,
			"channel_type", intent.ChannelType,
			"error", err,
		)
		return fmt.Errorf("send reply: %w", err)
	}

	if err := r.presenter.Dismiss(ctx, intent.NotificationID); err != nil {
		r.log.Warn("Failed to dismiss notification", "notification_id", intent.NotificationID, "error", err)
	}
	r.coordinator.ReleaseByNotificationID(intent.NotificationID)

	r.log.Info("Reply sent", "notification_id", intent.NotificationID, "channel_id", intent.ChannelID)
	return nil
}
