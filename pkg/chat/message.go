package chat

import "encoding/json"

// Well-known keys inside a message's extra data, set by the chat backend.
const (
	channelKey     = "channel"
	channelIDKey   = "id"
	channelTypeKey = "type"
	channelNameKey = "name"
)

// User is the author of a message.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Image string `json:"image,omitempty"`
}

// Message is one chat message as returned by the backend. Fields the backend
// sends beyond the declared ones are captured in ExtraData.
type Message struct {
	ID   string
	Text string
	User User

	ExtraData map[string]any
}

// ChannelInfo is the channel metadata nested under the "channel" extra-data key.
type ChannelInfo struct {
	ID   string
	Type string
	Name string
}

// ChannelInfo extracts the nested channel object from the message extra data.
// The second return is false when the backend sent no channel object.
func (m *Message) ChannelInfo() (ChannelInfo, bool) {
	raw, ok := m.ExtraData[channelKey]
	if !ok {
		return ChannelInfo{}, false
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return ChannelInfo{}, false
	}

	return ChannelInfo{
		ID:   stringField(obj, channelIDKey),
		Type: stringField(obj, channelTypeKey),
		Name: stringField(obj, channelNameKey),
	}, true
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var known struct {
		ID   string `json:"id"`
		Text string `json:"text"`
		User User   `json:"user"`
	}
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	delete(all, "id")
	delete(all, "text")
	delete(all, "user")

	m.ID = known.ID
	m.Text = known.Text
	m.User = known.User
	if len(all) > 0 {
		m.ExtraData = all
	}

	return nil
}

func stringField(obj map[string]any, key string) string {
	value, ok := obj[key].(string)
	if !ok {
		return ""
	}

	return value
}
