package fcm

import (
	"strconv"
	"strings"
	"time"
)

// Notification is the display part of a push.
type Notification struct {
	Title string `json:"title,omitempty" yaml:"title,omitempty"`
	Body  string `json:"body,omitempty" yaml:"body,omitempty"`
}

// Message is a push delivered to this device. Notification is nil for
// data-only pushes.
type Message struct {
	ID           string            `json:"id,omitempty" yaml:"id,omitempty"`
	PersistentID string            `json:"persistentId,omitempty" yaml:"persistent_id,omitempty"`
	From         string            `json:"from,omitempty" yaml:"from,omitempty"`
	CollapseKey  string            `json:"collapseKey,omitempty" yaml:"collapse_key,omitempty"`
	SentAt       time.Time         `json:"sentAt,omitempty" yaml:"sent_at,omitempty"`
	Notification *Notification     `json:"notification,omitempty" yaml:"notification,omitempty"`
	Data         map[string]string `json:"data,omitempty" yaml:"data,omitempty"`
}

// Title returns the notification title or "".
func (m Message) Title() string {
	if m.Notification == nil {
		return ""
	}
	return m.Notification.Title
}

// Body returns the notification body or "".
func (m Message) Body() string {
	if m.Notification == nil {
		return ""
	}
	return m.Notification.Body
}

// App-data keys FCM uses on Android. The legacy gcm.notification.* and the
// compact gcm.n.* prefixes are both in use.
const (
	keyMessageType = "message_type"
	keyMessageID   = "google.message_id"
	keySentTime    = "google.sent_time"
	keyCollapseKey = "collapse_key"
	keyFrom        = "from"

	messageTypeDeleted = "deleted_messages"
)

var notificationPrefixes = []string{"gcm.notification.", "gcm.n."}

// isReserved reports keys that belong to FCM rather than the data payload.
func isReserved(key string) bool {
	return strings.HasPrefix(key, "google.") ||
		strings.HasPrefix(key, "gcm.") ||
		key == keyFrom ||
		key == keyCollapseKey ||
		key == keyMessageType
}

// isDeletedMessages reports whether the stanza is FCM's notice that pending
// messages were dropped server side.
func isDeletedMessages(s *dataMessageStanza) bool {
	for _, kv := range s.AppData {
		if kv.Key == keyMessageType && kv.Value == messageTypeDeleted {
			return true
		}
	}
	return false
}

// parseMessage converts a data stanza into a Message.
func parseMessage(s *dataMessageStanza) Message {
	msg := Message{
		ID:           s.ID,
		PersistentID: s.PersistentID,
		From:         s.From,
	}
	if s.Sent > 0 {
		msg.SentAt = time.UnixMilli(s.Sent)
	}

	var n Notification
	hasNotification := false

	for _, kv := range s.AppData {
		switch kv.Key {
		case keyMessageID:
			if msg.ID == "" {
				msg.ID = kv.Value
			}
			continue
		case keySentTime:
			if ms, err := strconv.ParseInt(kv.Value, 10, 64); err == nil && msg.SentAt.IsZero() {
				msg.SentAt = time.UnixMilli(ms)
			}
			continue
		case keyCollapseKey:
			msg.CollapseKey = kv.Value
			continue
		case keyFrom:
			if msg.From == "" {
				msg.From = kv.Value
			}
			continue
		}

		for _, prefix := range notificationPrefixes {
			field, ok := strings.CutPrefix(kv.Key, prefix)
			if !ok {
				continue
			}
			switch field {
			case "title":
				n.Title = kv.Value
				hasNotification = true
			case "body":
				n.Body = kv.Value
				hasNotification = true
			case "e":
				// gcm.n.e=1 marks a display notification even without text.
				hasNotification = hasNotification || kv.Value == "1"
			}
		}

		if isReserved(kv.Key) {
			continue
		}
		if msg.Data == nil {
			msg.Data = make(map[string]string)
		}
		msg.Data[kv.Key] = kv.Value
	}

	if hasNotification {
		msg.Notification = &n
	}
	return msg
}
