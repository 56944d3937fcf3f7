package notify

import (
	"strings"
	"time"

	"chime/pkg/chat"
)

// PushMessageIDKey is the envelope data key carrying the new message id.
const PushMessageIDKey = "message_id"

// PushEnvelope is the payload delivered on the out-of-process push channel.
type PushEnvelope struct {
	Data   map[string]string `json:"data"`
	Sender string            `json:"sender,omitempty"`
	SentAt time.Time         `json:"sent_at,omitempty"`
}

// MessageID returns the trimmed message id from the envelope data map.
func (e *PushEnvelope) MessageID() string {
	if e == nil {
		return ""
	}

	return strings.TrimSpace(e.Data[PushMessageIDKey])
}

// OriginKind names which ingress path admitted a message id.
type OriginKind string

const (
	OriginPush  OriginKind = "push"
	OriginEvent OriginKind = "event"
)

// Origin tags an ingress signal with its source and carries the raw payload
// so the activation intent can be derived from it at presentation time.
type Origin struct {
	Kind     OriginKind
	Envelope *PushEnvelope
	Event    *chat.Event
}

// PushOrigin wraps a decoded push envelope as an admission origin.
func PushOrigin(envelope *PushEnvelope) Origin {
	return Origin{Kind: OriginPush, Envelope: envelope}
}

// EventOrigin wraps a realtime event as an admission origin.
func EventOrigin(event *chat.Event) Origin {
	return Origin{Kind: OriginEvent, Event: event}
}
