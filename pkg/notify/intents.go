package notify

import (
	"chime/pkg/chat"
	"chime/pkg/presenter"
)

// IntentProvider builds the origin-dependent activation intent attached to a
// presented notification.
type IntentProvider interface {
	IntentForPush(envelope *PushEnvelope) presenter.Intent
	IntentForEvent(event *chat.Event) presenter.Intent
}

type defaultIntentProvider struct{}

// NewDefaultIntentProvider returns an intent provider that encodes the
// origin payload into generic open intents.
func NewDefaultIntentProvider() IntentProvider {
	return defaultIntentProvider{}
}

func (defaultIntentProvider) IntentForPush(envelope *PushEnvelope) presenter.Intent {
	extras := make(map[string]string)
	if envelope != nil {
		for key, value := range envelope.Data {
			extras[key] = value
		}
	}

	return presenter.Intent{Action: "chime.open.push", Extras: extras}
}

func (defaultIntentProvider) IntentForEvent(event *chat.Event) presenter.Intent {
	extras := make(map[string]string)
	if event != nil {
		extras["event_type"] = event.Type
		if event.Message != nil {
			extras[PushMessageIDKey] = event.Message.ID
		}
	}

	return presenter.Intent{Action: "chime.open.event", Extras: extras}
}
