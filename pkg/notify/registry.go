package notify

import (
	"sync"

	"chime/pkg/presenter"
)

// record is the per-message enrichment state held while a notification is
// pending. Fields past origin are populated once by the metadata callback.
type record struct {
	notificationID int32
	origin         Origin

	channelID   string
	channelType string
	channelName string
	messageText string
	replyIntent presenter.ReplyIntent
}

// registry is the identity table: at most one record per message id. The
// reverse index lets the reply path release records knowing only the
// notification id.
type registry struct {
	mu             sync.Mutex
	byMessage      map[string]*record
	byNotification map[int32]string
}

func newRegistry() *registry {
	return &registry{
		byMessage:      make(map[string]*record),
		byNotification: make(map[int32]string),
	}
}

// insert adds rec under messageID if no record exists for it yet, and
// reports whether the insert happened.
func (r *registry) insert(messageID string, rec *record) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byMessage[messageID]; exists {
		return false
	}

	r.byMessage[messageID] = rec
	r.byNotification[rec.notificationID] = messageID
	return true
}

func (r *registry) get(messageID string) (*record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byMessage[messageID]
	return rec, ok
}

// remove releases the record for messageID, if any.
func (r *registry) remove(messageID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byMessage[messageID]
	if !ok {
		return false
	}

	delete(r.byMessage, messageID)
	delete(r.byNotification, rec.notificationID)
	return true
}

// removeByNotificationID releases a record via the reverse index.
func (r *registry) removeByNotificationID(notificationID int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	messageID, ok := r.byNotification[notificationID]
	if !ok {
		return false
	}

	delete(r.byMessage, messageID)
	delete(r.byNotification, notificationID)
	return true
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.byMessage)
}
