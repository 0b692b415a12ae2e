// Package controller holds the app's presentation state: the registration
// token field with its idle/loading/ready/error machine and the last push
// received on any delivery channel.
//
// All state is owned by the Run loop. Token fetches run on their own
// goroutine and post the result back; other goroutines read through
// Snapshot.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slush-dev/fcm-demo/fcm"
	"github.com/slush-dev/fcm-demo/notify"
)

// DefaultFetchTimeout bounds a permission request plus token fetch.
const DefaultFetchTimeout = 30 * time.Second

// Alert texts.
const (
	AlertPermissionDenied     = "Permission Denied"
	AlertPermissionDeniedBody = "Notification permissions are required for this app to work properly."
	AlertError                = "Error"
	AlertErrorBody            = "Failed to get notification token"
	AlertNewMessage           = "New Message"
)

var errPermissionDenied = errors.New("notification permission denied")

// TokenState is the token field state.
type TokenState int

const (
	Idle TokenState = iota
	Loading
	Ready
	Error
)

func (s TokenState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Error:
		return "error"
	default:
		return "idle"
	}
}

func (s TokenState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Channel names the delivery channel a push arrived on.
type Channel string

const (
	ChannelForeground Channel = "foreground"
	ChannelOpened     Channel = "opened"
	ChannelInitial    Channel = "initial"
)

// LastMessage is the most recent push and where it came from.
type LastMessage struct {
	Message    fcm.Message `json:"message" yaml:"message"`
	Channel    Channel     `json:"channel" yaml:"channel"`
	ReceivedAt time.Time   `json:"receivedAt" yaml:"received_at"`
}

// Snapshot is a copy of the presentation state.
type Snapshot struct {
	State       TokenState   `json:"state" yaml:"state"`
	Token       string       `json:"token,omitempty" yaml:"token,omitempty"`
	Connected   bool         `json:"connected" yaml:"connected"`
	LastMessage *LastMessage `json:"lastMessage,omitempty" yaml:"last_message,omitempty"`
}

// Loading reports whether a fetch is in flight; the refresh action is
// disabled meanwhile.
func (s Snapshot) Loading() bool { return s.State == Loading }

// Facade is the subset of *notify.Facade the controller drives.
type Facade interface {
	RequestPermission(ctx context.Context) notify.PermissionState
	Token(ctx context.Context) (string, error)
	SubscribeForeground() (<-chan fcm.Message, func())
	SubscribeOpened() (<-chan fcm.Message, func())
	InitialNotification() (*fcm.Message, error)
}

// View renders the presentation state.
type View interface {
	Render(Snapshot)
}

// Alerter raises a blocking alert.
type Alerter interface {
	Alert(title, body string)
}

// Option configures a Controller.
type Option func(*Controller)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithFetchTimeout bounds each token fetch. Zero disables the bound.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Controller) { c.fetchTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

type fetchResult struct {
	token string
	err   error
}

// Controller is the presentation controller.
type Controller struct {
	facade       Facade
	view         View
	alerter      Alerter
	logger       *slog.Logger
	fetchTimeout time.Duration
	now          func() time.Time

	refresh chan struct{}
	ready   chan struct{}

	// connected is written by the push client; Run copies it into snap
	// when poked through connChanged.
	connected   atomic.Bool
	connChanged chan struct{}

	mu   sync.RWMutex
	snap Snapshot
}

// New creates a Controller. Nothing happens until Run.
func New(facade Facade, view View, alerter Alerter, opts ...Option) *Controller {
	c := &Controller{
		facade:       facade,
		view:         view,
		alerter:      alerter,
		logger:       slog.Default(),
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
		refresh:      make(chan struct{}, 1),
		ready:        make(chan struct{}, 1),
		connChanged:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns a copy of the current state. Safe for any goroutine.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.snap
	if s.LastMessage != nil {
		lm := *s.LastMessage
		s.LastMessage = &lm
	}
	return s
}

// Refresh asks for a new permission check and token fetch. It is ignored
// while a fetch is in flight.
func (c *Controller) Refresh() {
	select {
	case c.refresh <- struct{}{}:
	default:
	}
}

// Ready receives after each transition to Ready, so a dropped push
// connection can wait for the next successful refresh. One signal is
// buffered; further ones are merged into it.
func (c *Controller) Ready() <-chan struct{} {
	return c.ready
}

// SetConnected records whether the push connection is up. Safe for any
// goroutine; the change is applied by Run.
func (c *Controller) SetConnected(connected bool) {
	c.connected.Store(connected)
	select {
	case c.connChanged <- struct{}{}:
	default:
	}
}

// Run subscribes to the delivery channels, consumes the launch
// notification, starts the first token fetch and then serves events until
// ctx is cancelled. Subscriptions end when Run returns.
func (c *Controller) Run(ctx context.Context) error {
	foreground, unsubForeground := c.facade.SubscribeForeground()
	defer unsubForeground()
	opened, unsubOpened := c.facade.SubscribeOpened()
	defer unsubOpened()

	c.render()

	initial, err := c.facade.InitialNotification()
	if err != nil {
		c.logger.Warn("failed to read launch notification", "error", err)
	} else if initial != nil {
		c.logger.Info("app opened from quit state by notification", "id", initial.ID)
		c.setLastMessage(*initial, ChannelInitial)
	}

	results := make(chan fetchResult, 1)
	c.startFetch(ctx, results)

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-c.refresh:
			if ctx.Err() != nil {
				return nil
			}
			c.startFetch(ctx, results)

		case r := <-results:
			if ctx.Err() != nil {
				return nil
			}
			c.finishFetch(r)

		case <-c.connChanged:
			c.mu.Lock()
			c.snap.Connected = c.connected.Load()
			c.mu.Unlock()
			c.render()

		case msg, ok := <-foreground:
			if !ok {
				foreground = nil
				continue
			}
			// Nothing is applied once ctx is done, even when a message
			// was ready in the same select.
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Info("foreground message received", "id", msg.ID, "from", msg.From)
			c.setLastMessage(msg, ChannelForeground)
			c.alerter.Alert(foregroundAlert(msg))

		case msg, ok := <-opened:
			if !ok {
				opened = nil
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Info("notification caused app to open from background", "id", msg.ID)
			c.setLastMessage(msg, ChannelOpened)
		}
	}
}

func (c *Controller) startFetch(ctx context.Context, results chan<- fetchResult) {
	c.mu.Lock()
	if c.snap.State == Loading {
		c.mu.Unlock()
		c.logger.Debug("refresh ignored while loading")
		return
	}
	c.snap.State = Loading
	c.mu.Unlock()
	c.render()

	go func() {
		results <- c.fetch(ctx)
	}()
}

// fetch asks for permission and then the token, bounded by fetchTimeout
// even when the facade ignores cancellation.
func (c *Controller) fetch(ctx context.Context) fetchResult {
	if c.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()
	}

	done := make(chan fetchResult, 1)
	go func() {
		state := c.facade.RequestPermission(ctx)
		if !state.Enabled() {
			done <- fetchResult{err: errPermissionDenied}
			return
		}
		c.logger.Info("notification permission status", "state", state)
		token, err := c.facade.Token(ctx)
		done <- fetchResult{token: token, err: err}
	}()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		return fetchResult{err: fmt.Errorf("token fetch: %w", ctx.Err())}
	}
}

func (c *Controller) finishFetch(r fetchResult) {
	if r.err == nil {
		c.logger.Info("registration token", "token", r.token)
		c.mu.Lock()
		c.snap.State = Ready
		c.snap.Token = r.token
		c.mu.Unlock()
		c.render()
		select {
		case c.ready <- struct{}{}:
		default:
		}
		return
	}

	c.mu.Lock()
	c.snap.State = Error
	c.snap.Token = ""
	c.mu.Unlock()
	c.render()

	if errors.Is(r.err, errPermissionDenied) {
		c.logger.Warn("notification permission denied")
		c.alerter.Alert(AlertPermissionDenied, AlertPermissionDeniedBody)
	} else {
		c.logger.Error("failed to get registration token", "error", r.err)
		c.alerter.Alert(AlertError, AlertErrorBody)
	}

	c.mu.Lock()
	c.snap.State = Idle
	c.mu.Unlock()
	c.render()
}

func (c *Controller) setLastMessage(msg fcm.Message, ch Channel) {
	c.mu.Lock()
	c.snap.LastMessage = &LastMessage{Message: msg, Channel: ch, ReceivedAt: c.now()}
	c.mu.Unlock()
	c.render()
}

func (c *Controller) render() {
	c.view.Render(c.Snapshot())
}

// foregroundAlert returns the alert for a push received in the foreground:
// its title or "New Message", and its body or the whole message as JSON.
func foregroundAlert(msg fcm.Message) (string, string) {
	title := msg.Title()
	if title == "" {
		title = AlertNewMessage
	}
	body := msg.Body()
	if body == "" {
		data, err := json.Marshal(msg)
		if err != nil {
			body = fmt.Sprintf("%+v", msg)
		} else {
			body = string(data)
		}
	}
	return title, body
}
