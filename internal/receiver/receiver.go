// Package receiver is the background side of the app: the handler the
// device's push client calls while no UI is running. It only logs, and it
// never lets a failure escape into the host process.
package receiver

import (
	"fmt"
	"log/slog"

	"github.com/slush-dev/fcm-demo/fcm"
)

// Receiver handles push lifecycle events in the background process.
type Receiver struct {
	logger *slog.Logger
	// display, when set, is called for messages carrying a notification so
	// it can be shown to the user.
	display func(fcm.Message) error
}

// New creates a Receiver. display may be nil.
func New(logger *slog.Logger, display func(fcm.Message) error) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{logger: logger.With("component", "receiver"), display: display}
}

// OnMessageReceived logs the sender, the notification and the data payload.
func (r *Receiver) OnMessageReceived(msg fcm.Message) {
	defer r.recover("processing message")

	r.logger.Debug("message received", "from", msg.From, "id", msg.ID)
	if msg.Notification != nil {
		r.logger.Info("message notification", "title", msg.Notification.Title, "body", msg.Notification.Body)
	}
	if len(msg.Data) > 0 {
		r.logger.Info("message data", "data", msg.Data)
	}

	if r.display != nil && msg.Notification != nil {
		if err := r.display(msg); err != nil {
			r.logger.Error("failed to display notification", "error", err)
		}
	}
}

// OnNewToken logs a refreshed registration token.
func (r *Receiver) OnNewToken(token string) {
	defer r.recover("handling new token")
	r.logger.Info("refreshed registration token", "token", token)
}

// OnDeletedMessages logs that the server dropped pending messages.
func (r *Receiver) OnDeletedMessages() {
	defer r.recover("handling deleted messages")
	r.logger.Info("deleted messages on server")
}

// Attach registers the receiver's callbacks on client.
func (r *Receiver) Attach(client *fcm.Client) {
	client.OnMessage(r.OnMessageReceived)
	client.OnTokenRefresh(r.OnNewToken)
	client.OnDeletedMessages(r.OnDeletedMessages)
	client.OnError(func(err error) {
		r.logger.Warn("push client error", "error", err)
	})
}

func (r *Receiver) recover(op string) {
	if v := recover(); v != nil {
		r.logger.Error("error "+op, "error", fmt.Errorf("panic: %v", v))
	}
}
