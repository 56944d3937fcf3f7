// Package notify coordinates new-message signals into at-most-one visible
// notification per message id.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chime/pkg/chat"
	"chime/pkg/presenter"
)

const defaultStageTimeout = 15 * time.Second

// ChatClient is the subset of the chat backend API the coordinator consumes.
type ChatClient interface {
	GetMessage(ctx context.Context, messageID string) (*chat.Message, error)
	SendMessage(ctx context.Context, channelType, channelID, text string) (*chat.Message, error)
	AddDevice(ctx context.Context, token string) error
}

// ImageFetcher loads the author avatar for a notification.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ForegroundSensor reports whether the application is user-visible right now.
type ForegroundSensor interface {
	IsForeground() bool
}

// DeviceRegisteredListener observes push token registration outcomes.
type DeviceRegisteredListener interface {
	OnDeviceRegisteredSuccess()
	OnDeviceRegisteredError(message string, code int)
}

// AdmitResult reports what an ingress signal did to the identity table.
type AdmitResult int

const (
	Rejected AdmitResult = iota
	Duplicate
	Admitted
)

func (r AdmitResult) String() string {
	switch r {
	case Admitted:
		return "admitted"
	case Duplicate:
		return "duplicate"
	default:
		return "rejected"
	}
}

// Options wires the coordinator's collaborators.
type Options struct {
	Chat       ChatClient
	Images     ImageFetcher
	Presenter  presenter.Presenter
	Intents    IntentProvider
	Foreground ForegroundSensor

	// Listener is optional; nil means registration outcomes are only logged.
	Listener DeviceRegisteredListener

	Log *slog.Logger

	// StageTimeout bounds each enrichment stage (metadata fetch, image
	// fetch) so a hung collaborator cannot leak a record.
	StageTimeout time.Duration
}

// Coordinator owns the identity table and runs the enrichment pipeline.
type Coordinator struct {
	registry   *registry
	chat       ChatClient
	images     ImageFetcher
	presenter  presenter.Presenter
	intents    IntentProvider
	foreground ForegroundSensor
	listener   DeviceRegisteredListener
	log        *slog.Logger

	stageTimeout time.Duration

	idMu   sync.Mutex
	lastID int32
	now    func() time.Time
}

func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Chat == nil {
		return nil, errors.New("chat client is required")
	}
	if opts.Images == nil {
		return nil, errors.New("image fetcher is required")
	}
	if opts.Presenter == nil {
		return nil, errors.New("presenter is required")
	}
	if opts.Foreground == nil {
		return nil, errors.New("foreground sensor is required")
	}

	intents := opts.Intents
	if intents == nil {
		intents = NewDefaultIntentProvider()
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	stageTimeout := opts.StageTimeout
	if stageTimeout <= 0 {
		stageTimeout = defaultStageTimeout
	}

	return &Coordinator{
		registry:     newRegistry(),
		chat:         opts.Chat,
		images:       opts.Images,
		presenter:    opts.Presenter,
		intents:      intents,
		foreground:   opts.Foreground,
		listener:     opts.Listener,
		log:          log.With("component", "notify.coordinator"),
		stageTimeout: stageTimeout,
		now:          time.Now,
	}, nil
}

// Admit records a new-message signal. The first signal for a message id wins
// and starts enrichment; later signals for the same id are no-ops.
func (c *Coordinator) Admit(ctx context.Context, messageID string, origin Origin) AdmitResult {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		c.log.Warn("Ignoring signal without message id", "origin", string(origin.Kind))
		return Rejected
	}

	rec := &record{
		notificationID: c.nextNotificationID(),
		origin:         origin,
	}
	if !c.registry.insert(messageID, rec) {
		c.log.Debug("Notification already pending", "message_id", messageID, "origin", string(origin.Kind))
		return Duplicate
	}

	c.log.Debug("Admitted message", "message_id", messageID, "origin", string(origin.Kind), "notification_id", rec.notificationID)
	go c.enrich(ctx, messageID)
	return Admitted
}

// enrich runs the two-stage pipeline for one admitted message id: metadata
// fetch, then image fetch, then presentation. Stages re-look-up the record
// by id so a concurrent release ends the pipeline cleanly.
func (c *Coordinator) enrich(ctx context.Context, messageID string) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.stageTimeout)
	msg, err := c.chat.GetMessage(fetchCtx, messageID)
	cancel()
	if err != nil {
		c.registry.remove(messageID)
		c.log.Error("Failed to load message", "message_id", messageID, "error", err)
		return
	}

	imageURL, ok := c.OnMetadata(messageID, msg)
	if !ok {
		return
	}

	imageCtx, cancel := context.WithTimeout(ctx, c.stageTimeout)
	image, err := c.images.Fetch(imageCtx, imageURL)
	cancel()
	if err != nil {
		c.log.Debug("Presenting without image", "message_id", messageID, "error", err)
		image = nil
	}

	c.OnImage(ctx, messageID, image)
}

// OnMetadata validates and applies the fetched message to the pending
// record. It returns the author image URL and whether the record is
// enrichment-eligible; ineligible records are released before returning.
func (c *Coordinator) OnMetadata(messageID string, msg *chat.Message) (string, bool) {
	rec, ok := c.registry.get(messageID)
	if !ok {
		return "", false
	}

	info, hasChannel := msg.ChannelInfo()
	if !hasChannel || info.Name == "" || msg.Text == "" {
		c.registry.remove(messageID)
		c.log.Error("Message is missing required fields",
			"message_id", messageID,
			"channel_name", info.Name,
			"has_text", msg.Text != "",
		)
		return "", false
	}

	rec.channelID = info.ID
	rec.channelType = info.Type
	rec.channelName = info.Name
	rec.messageText = msg.Text
	rec.replyIntent = presenter.ReplyIntent{
		NotificationID: rec.notificationID,
		ChannelID:      info.ID,
		ChannelType:    info.Type,
	}

	return msg.User.Image, true
}

// OnImage assembles the final descriptor and presents it unless the
// application is foreground. The record is always released.
func (c *Coordinator) OnImage(ctx context.Context, messageID string, image []byte) {
	rec, ok := c.registry.get(messageID)
	if !ok {
		return
	}
	defer c.registry.remove(messageID)

	if c.foreground.IsForeground() {
		c.log.Debug("Suppressing notification while foreground", "message_id", messageID)
		return
	}

	descriptor := c.buildDescriptor(rec, image)
	if err := c.presenter.Show(ctx, rec.notificationID, descriptor); err != nil {
		c.log.Error("Failed to present notification", "message_id", messageID, "notification_id", rec.notificationID, "error", err)
		return
	}

	c.log.Info("Notification shown", "message_id", messageID, "notification_id", rec.notificationID, "channel", rec.channelName)
}

func (c *Coordinator) buildDescriptor(rec *record, image []byte) presenter.Descriptor {
	var intent presenter.Intent
	switch rec.origin.Kind {
	case OriginEvent:
		intent = c.intents.IntentForEvent(rec.origin.Event)
	default:
		intent = c.intents.IntentForPush(rec.origin.Envelope)
	}

	return presenter.Descriptor{
		Title:         rec.channelName,
		Body:          rec.messageText,
		Priority:      presenter.PriorityHigh,
		Category:      presenter.CategoryMessage,
		Image:         image,
		Actions:       presenter.DefaultActions(),
		ContentIntent: intent,
		Reply:         rec.replyIntent,
	}
}

// RegisterPushToken registers a push delivery token with the chat backend
// and surfaces the outcome through the optional listener.
func (c *Coordinator) RegisterPushToken(ctx context.Context, token string) error {
	err := c.chat.AddDevice(ctx, token)
	if err != nil {
		code := 0
		var apiErr *chat.APIError
		if errors.As(err, &apiErr) {
			code = apiErr.Status
		}
		if c.listener != nil {
			c.listener.OnDeviceRegisteredError(err.Error(), code)
		}
		c.log.Error("Device registration failed", "error", err, "code", code)
		return err
	}

	if c.listener != nil {
		c.listener.OnDeviceRegisteredSuccess()
	}
	c.log.Info("Device registered")
	return nil
}

// ReleaseByNotificationID drops any residual record for a presented
// notification, using the reverse index.
func (c *Coordinator) ReleaseByNotificationID(notificationID int32) bool {
	return c.registry.removeByNotificationID(notificationID)
}

// Pending reports how many records are currently held in the identity table.
func (c *Coordinator) Pending() int {
	return c.registry.len()
}

// nextNotificationID derives a process-unique id from wall-clock millis,
// bumping on collision so simultaneous admissions stay distinct.
func (c *Coordinator) nextNotificationID() int32 {
	c.idMu.Lock()
	defer c.idMu.Unlock()

	id := int32(c.now().UnixMilli())
	if id <= c.lastID {
		id = c.lastID + 1
	}
	c.lastID = id
	return id
}
