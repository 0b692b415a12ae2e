package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/slush-dev/fcm-demo/fcm"
	"github.com/slush-dev/fcm-demo/internal/tray"
)

var (
	// ErrPermissionNotGranted is returned by Token when notifications are
	// not enabled.
	ErrPermissionNotGranted = errors.New("notification permission not granted")

	// ErrTokenUnavailable wraps every registration failure.
	ErrTokenUnavailable = errors.New("registration token unavailable")
)

// AppState decides which delivery channel an incoming push takes.
type AppState int

const (
	Foreground AppState = iota
	Background
)

func (s AppState) String() string {
	if s == Background {
		return "background"
	}
	return "foreground"
}

// ParseAppState parses "foreground" or "background".
func ParseAppState(s string) (AppState, error) {
	switch s {
	case "foreground":
		return Foreground, nil
	case "background":
		return Background, nil
	}
	return Foreground, fmt.Errorf("unknown app state %q", s)
}

// Messaging is the push SDK. *fcm.Client satisfies it.
type Messaging interface {
	Register(ctx context.Context) (string, error)
}

// Tray is the OS notification tray. *tray.Tray satisfies it.
type Tray interface {
	Post(msg fcm.Message) (tray.Entry, error)
	Take(id string) (tray.Entry, error)
}

// Option configures a Facade.
type Option func(*Facade)

// WithLogger sets the facade logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Facade) {
		f.logger = logger
	}
}

// WithLaunchNotification marks the app as cold-started by a tap on the tray
// entry id. InitialNotification returns it once.
func WithLaunchNotification(id string) Option {
	return func(f *Facade) {
		f.launchID = id
	}
}

// WithBufferSize sets the per-subscription channel buffer.
func WithBufferSize(n int) Option {
	return func(f *Facade) {
		if n > 0 {
			f.bufferSize = n
		}
	}
}

// WithAppState sets the initial app state.
func WithAppState(state AppState) Option {
	return func(f *Facade) {
		f.state = state
	}
}

// Facade is the app's single access point to push messaging: permission,
// token and the three delivery channels (foreground, opened from
// background, cold start).
type Facade struct {
	messaging   Messaging
	permissions Permissions
	tray        Tray
	logger      *slog.Logger
	bufferSize  int

	mu         sync.Mutex
	state      AppState
	launchID   string
	launchDone bool
	nextID     int
	foreground map[int]chan fcm.Message
	opened     map[int]chan fcm.Message
}

// New creates a Facade. tray may be nil, in which case background pushes
// are only logged.
func New(messaging Messaging, permissions Permissions, t Tray, opts ...Option) *Facade {
	f := &Facade{
		messaging:   messaging,
		permissions: permissions,
		tray:        t,
		logger:      slog.Default(),
		bufferSize:  16,
		foreground:  make(map[int]chan fcm.Message),
		opened:      make(map[int]chan fcm.Message),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// RequestPermission prompts for permission when undetermined. It never
// fails: any platform error is logged and reported as Denied, unless the
// user did grant and only remembering the decision failed.
func (f *Facade) RequestPermission(ctx context.Context) PermissionState {
	state, err := f.permissions.Request(ctx)
	if err != nil && state.Enabled() {
		f.logger.Warn("permission granted but not saved; the next launch asks again", "state", state, "error", err)
		return state
	}
	if err != nil {
		f.logger.Warn("permission request failed", "error", err)
		return Denied
	}
	f.logger.Debug("permission status", "state", state)
	return state
}

// Token returns the registration token. It fails with
// ErrPermissionNotGranted before permission is enabled and with
// ErrTokenUnavailable when registration fails.
func (f *Facade) Token(ctx context.Context) (string, error) {
	state, err := f.permissions.Status(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPermissionNotGranted, err)
	}
	if !state.Enabled() {
		return "", ErrPermissionNotGranted
	}

	token, err := f.messaging.Register(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenUnavailable, err)
	}
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrTokenUnavailable)
	}
	return token, nil
}

// SubscribeForeground returns a channel of pushes received while the app is
// in the foreground and a function that ends the subscription.
func (f *Facade) SubscribeForeground() (<-chan fcm.Message, func()) {
	return f.subscribe(f.foreground)
}

// SubscribeOpened returns a channel of pushes whose notification the user
// tapped while the app was in the background.
func (f *Facade) SubscribeOpened() (<-chan fcm.Message, func()) {
	return f.subscribe(f.opened)
}

func (f *Facade) subscribe(subs map[int]chan fcm.Message) (<-chan fcm.Message, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	ch := make(chan fcm.Message, f.bufferSize)
	subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if c, ok := subs[id]; ok {
				delete(subs, id)
				close(c)
			}
		})
	}
}

// publish sends msg to every subscriber without blocking and returns how
// many took it. Caller holds f.mu.
func (f *Facade) publish(subs map[int]chan fcm.Message, channel string, msg fcm.Message) int {
	delivered := 0
	for id, ch := range subs {
		select {
		case ch <- msg:
			delivered++
		default:
			f.logger.Warn("subscriber not keeping up; dropping push", "channel", channel, "subscription", id)
		}
	}
	return delivered
}

// InitialNotification returns the notification whose tap launched the app,
// or nil. It is consumed by the first call.
func (f *Facade) InitialNotification() (*fcm.Message, error) {
	f.mu.Lock()
	id := f.launchID
	done := f.launchDone
	f.launchDone = true
	f.mu.Unlock()

	if id == "" || done {
		return nil, nil
	}
	if f.tray == nil {
		return nil, fmt.Errorf("launch notification %s: no tray", id)
	}
	entry, err := f.tray.Take(id)
	if err != nil {
		return nil, fmt.Errorf("launch notification %s: %w", id, err)
	}
	return &entry.Message, nil
}

// Deliver routes an incoming push by app state: to foreground subscribers
// when active, to the tray otherwise. Wire it to fcm.Client.OnMessage.
func (f *Facade) Deliver(msg fcm.Message) {
	f.mu.Lock()
	if f.state == Foreground {
		if f.publish(f.foreground, "foreground", msg) == 0 {
			f.logger.Debug("foreground push reached no subscriber", "id", msg.ID)
		}
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	if f.tray == nil {
		f.logger.Info("notification displayed", "title", msg.Title(), "body", msg.Body())
		return
	}
	entry, err := f.tray.Post(msg)
	if err != nil {
		f.logger.Error("failed to display notification", "error", err)
		return
	}
	f.logger.Info("notification displayed", "id", entry.ID, "title", msg.Title(), "body", msg.Body())
}

// Open handles a tap on a tray entry (newest when id is empty): the app
// comes to the foreground and the push is published to opened subscribers.
func (f *Facade) Open(id string) (tray.Entry, error) {
	if f.tray == nil {
		return tray.Entry{}, fmt.Errorf("no tray")
	}
	entry, err := f.tray.Take(id)
	if err != nil {
		return tray.Entry{}, err
	}

	f.mu.Lock()
	f.state = Foreground
	delivered := f.publish(f.opened, "opened", entry.Message)
	f.mu.Unlock()

	if delivered == 0 {
		f.logger.Warn("opened notification reached no subscriber",
			"id", entry.ID, "title", entry.Message.Title(), "body", entry.Message.Body())
	}
	return entry, nil
}

// SetAppState moves the app between foreground and background.
func (f *Facade) SetAppState(state AppState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != state {
		f.logger.Debug("app state changed", "state", state)
	}
	f.state = state
}

// AppState returns the current app state.
func (f *Facade) AppState() AppState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Close ends every subscription.
func (f *Facade) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.foreground {
		delete(f.foreground, id)
		close(ch)
	}
	for id, ch := range f.opened {
		delete(f.opened, id)
		close(ch)
	}
}
