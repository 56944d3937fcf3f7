package chat

import "time"

// EventMessageNew is the realtime event type emitted when a message is posted.
const EventMessageNew = "message.new"

// Event is one realtime event read from the backend websocket.
type Event struct {
	Type      string    `json:"type"`
	CID       string    `json:"cid,omitempty"`
	Message   *Message  `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}
