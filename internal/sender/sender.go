// Package sender sends test pushes through the Firebase Admin API so a
// token shown by the app can be exercised end to end.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

var (
	// ErrNoToken is returned by Send for an empty registration token.
	ErrNoToken = errors.New("registration token is required")

	// ErrUnregistered means the token is no longer valid; the app must
	// fetch a new one.
	ErrUnregistered = errors.New("registration token is not registered")
)

// Notification is the push to send.
type Notification struct {
	Title       string
	Body        string
	Data        map[string]string
	CollapseKey string
}

// messagingClient is the part of *messaging.Client used here.
type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Sender wraps the Firebase messaging client.
type Sender struct {
	client messagingClient
	logger *slog.Logger
}

// New initializes a Firebase app from credentialsFile, or from the
// application default credentials when it is empty.
func New(ctx context.Context, credentialsFile string, logger *slog.Logger) (*Sender, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}
	return newWithClient(client, logger), nil
}

func newWithClient(client messagingClient, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{client: client, logger: logger}
}

// Send delivers n to the device holding token and returns the message name
// assigned by FCM.
func (s *Sender) Send(ctx context.Context, token string, n Notification) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrNoToken
	}

	name, err := s.client.Send(ctx, buildMessage(token, n))
	if err != nil {
		if messaging.IsUnregistered(err) {
			return "", fmt.Errorf("%w: %w", ErrUnregistered, err)
		}
		return "", fmt.Errorf("failed to send FCM message: %w", err)
	}
	s.logger.Info("message sent", "name", name)
	return name, nil
}

func buildMessage(token string, n Notification) *messaging.Message {
	msg := &messaging.Message{
		Token: token,
		Data:  n.Data,
		Android: &messaging.AndroidConfig{
			Priority:    "high",
			CollapseKey: n.CollapseKey,
		},
	}
	// Data-only when there is nothing to display.
	if n.Title != "" || n.Body != "" {
		msg.Notification = &messaging.Notification{Title: n.Title, Body: n.Body}
	}
	return msg
}

// ParseData turns key=value pairs into a data payload.
func ParseData(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	data := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid data %q, want key=value", p)
		}
		if isReserved(k) {
			return nil, fmt.Errorf("data key %q is reserved", k)
		}
		data[k] = v
	}
	return data, nil
}

// isReserved mirrors the keys FCM rejects in a data payload.
func isReserved(key string) bool {
	return key == "from" || key == "message_type" || key == "collapse_key" ||
		strings.HasPrefix(key, "google.") || strings.HasPrefix(key, "gcm.")
}
