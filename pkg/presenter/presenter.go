// Package presenter defines the surface that renders finalized notifications.
package presenter

import "context"

// TextReplyKey is the input key the reply action binds user-entered text to.
const TextReplyKey = "text_reply"

const (
	PriorityHigh    = "high"
	CategoryMessage = "message"
)

const (
	ActionRead  = "read"
	ActionReply = "reply"
)

// Intent is the opaque activation payload attached to a notification. Its
// shape depends on which ingress origin admitted the message.
type Intent struct {
	Action string
	Extras map[string]string
}

// Action is one button on a presented notification. A non-empty InputKey
// marks the action as an inline text input bound to that key.
type Action struct {
	Name     string
	Label    string
	InputKey string
}

// ReplyIntent is the presenter-scoped payload carried by the reply action.
type ReplyIntent struct {
	NotificationID int32  `json:"notification_id"`
	ChannelID      string `json:"channel_id"`
	ChannelType    string `json:"channel_type"`
}

// Descriptor is a fully enriched notification ready for display.
type Descriptor struct {
	Title    string
	Body     string
	Priority string
	Category string

	// Image is the author avatar, nil when none could be fetched.
	Image []byte

	Actions       []Action
	ContentIntent Intent
	Reply         ReplyIntent
}

// DefaultActions returns the standard read and reply actions.
func DefaultActions() []Action {
	return []Action{
		{Name: ActionRead, Label: "Read"},
		{Name: ActionReply, Label: "Reply", InputKey: TextReplyKey},
	}
}

// Presenter displays finalized notification descriptors.
type Presenter interface {
	Show(ctx context.Context, notificationID int32, d Descriptor) error
	Dismiss(ctx context.Context, notificationID int32) error
}
