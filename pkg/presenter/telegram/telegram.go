// Package telegram presents notifications as Telegram messages and reads
// reply text from the chat back into the reply pipeline.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"chime/pkg/config"
	"chime/pkg/presenter"
)

const messagePreviewLimit = 240

// ReplyHandler receives the text a user typed in response to a presented
// notification.
type ReplyHandler interface {
	HandleReply(ctx context.Context, intent presenter.ReplyIntent, text string) error
}

// Presenter shows notifications in one Telegram chat. Each shown
// notification is tracked so a Telegram reply can be routed back to the
// channel it came from.
type Presenter struct {
	cfg       config.TelegramConfig
	allowFrom map[string]struct{}
	log       *slog.Logger
	bot       *telego.Bot
	chatID    int64

	mu             sync.Mutex
	intents        map[int]presenter.ReplyIntent
	byNotification map[int32]int
}

// New validates Telegram configuration and constructs a presenter instance.
func New(cfg config.TelegramConfig, log *slog.Logger) (*Presenter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("presenter.telegram.token is required")
	}

	chatID, err := strconv.ParseInt(strings.TrimSpace(cfg.ChatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("presenter.telegram.chat_id must be numeric: %w", err)
	}

	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}

	if log == nil {
		log = slog.Default()
	}

	return &Presenter{
		cfg:            cfg,
		allowFrom:      allowFromSet(cfg.AllowFrom),
		log:            log.With("component", "presenter.telegram"),
		bot:            bot,
		chatID:         chatID,
		intents:        make(map[int]presenter.ReplyIntent),
		byNotification: make(map[int32]int),
	}, nil
}

// Show sends the notification to the configured chat. The message carries a
// force-reply markup so typing in the chat answers this notification.
func (p *Presenter) Show(ctx context.Context, notificationID int32, d presenter.Descriptor) error {
	text := d.Title + "\n" + d.Body
	markup := &telego.ForceReply{ForceReply: true, InputFieldPlaceholder: "Reply"}

	var (
		sent *telego.Message
		err  error
	)
	if len(d.Image) > 0 {
		photo := tu.Photo(tu.ID(p.chatID), tu.File(tu.NameReader(bytes.NewReader(d.Image), "avatar.jpg"))).
			WithCaption(text).
			WithReplyMarkup(markup)
		sent, err = p.bot.SendPhoto(ctx, photo)
	} else {
		message := tu.Message(tu.ID(p.chatID), text).WithReplyMarkup(markup)
		sent, err = p.bot.SendMessage(ctx, message)
	}
	if err != nil {
		return fmt.Errorf("send telegram notification: %w", err)
	}

	p.track(sent.MessageID, notificationID, d.Reply)
	p.log.Info("Notification presented", "notification_id", notificationID, "telegram_message_id", sent.MessageID, "title", d.Title, "body", previewText(d.Body))
	return nil
}

// Dismiss deletes the Telegram message for a notification, if one is still
// tracked.
func (p *Presenter) Dismiss(ctx context.Context, notificationID int32) error {
	messageID, ok := p.untrackNotification(notificationID)
	if !ok {
		return nil
	}

	err := p.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    tu.ID(p.chatID),
		MessageID: messageID,
	})
	if err != nil {
		return fmt.Errorf("delete telegram message: %w", err)
	}
	return nil
}

// Run starts long polling and forwards replies to presented notifications
// until the context is canceled.
func (p *Presenter) Run(ctx context.Context, handler ReplyHandler) error {
	if handler == nil {
		return errors.New("reply handler is required")
	}

	updates, err := p.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	p.log.Info("Telegram presenter started", "chat_id", p.chatID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			p.handleUpdate(ctx, update, handler)
		}
	}
}

// handleUpdate routes one Telegram update. Only replies to tracked
// notification messages from allowed senders reach the handler.
func (p *Presenter) handleUpdate(ctx context.Context, update telego.Update, handler ReplyHandler) {
	message := update.Message
	if message == nil || message.ReplyToMessage == nil {
		return
	}

	text := strings.TrimSpace(message.Text)
	if text == "" {
		return
	}
	if message.From == nil {
		p.log.Debug("Ignoring reply without sender")
		return
	}

	senderID := strconv.FormatInt(message.From.ID, 10)
	if !p.senderAllowed(senderID) {
		p.log.Debug("Ignoring reply from unauthorized sender", "sender_id", senderID)
		return
	}

	intent, ok := p.lookup(message.ReplyToMessage.MessageID)
	if !ok {
		p.log.Debug("Ignoring reply to unknown message", "telegram_message_id", message.ReplyToMessage.MessageID)
		return
	}

	p.log.Info("Received reply", "notification_id", intent.NotificationID, "sender_id", senderID, "content", previewText(text))
	if err := handler.HandleReply(ctx, intent, text); err != nil {
		p.log.Error("Failed to process reply", "notification_id", intent.NotificationID, "error", err)
	}
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (p *Presenter) senderAllowed(senderID string) bool {
	if len(p.allowFrom) == 0 {
		return true
	}

	_, ok := p.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

func (p *Presenter) track(messageID int, notificationID int32, intent presenter.ReplyIntent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intents[messageID] = intent
	p.byNotification[notificationID] = messageID
}

func (p *Presenter) lookup(messageID int) (presenter.ReplyIntent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	intent, ok := p.intents[messageID]
	return intent, ok
}

func (p *Presenter) untrackNotification(notificationID int32) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	messageID, ok := p.byNotification[notificationID]
	if !ok {
		return 0, false
	}
	delete(p.byNotification, notificationID)
	delete(p.intents, messageID)
	return messageID, true
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}
