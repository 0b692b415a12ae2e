package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slush-dev/fcm-demo/fcm"
	"github.com/slush-dev/fcm-demo/notify"
)

type fakeFacade struct {
	perm     notify.PermissionState
	token    string
	tokenErr error
	initial  *fcm.Message
	block    chan struct{}

	fg chan fcm.Message
	op chan fcm.Message

	permCalls  atomic.Int32
	tokenCalls atomic.Int32
	unsubs     atomic.Int32
}

func newFakeFacade() *fakeFacade {
	return &fakeFacade{
		perm:  notify.Granted,
		token: "tok-123",
		fg:    make(chan fcm.Message, 4),
		op:    make(chan fcm.Message, 4),
	}
}

func (f *fakeFacade) RequestPermission(context.Context) notify.PermissionState {
	f.permCalls.Add(1)
	if f.block != nil {
		<-f.block
	}
	return f.perm
}

func (f *fakeFacade) Token(context.Context) (string, error) {
	f.tokenCalls.Add(1)
	return f.token, f.tokenErr
}

func (f *fakeFacade) SubscribeForeground() (<-chan fcm.Message, func()) {
	return f.fg, func() { f.unsubs.Add(1) }
}

func (f *fakeFacade) SubscribeOpened() (<-chan fcm.Message, func()) {
	return f.op, func() { f.unsubs.Add(1) }
}

func (f *fakeFacade) InitialNotification() (*fcm.Message, error) {
	return f.initial, nil
}

type recordingView struct {
	mu     sync.Mutex
	states []TokenState
}

func (v *recordingView) Render(s Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if n := len(v.states); n == 0 || v.states[n-1] != s.State {
		v.states = append(v.states, s.State)
	}
}

func (v *recordingView) States() []TokenState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]TokenState(nil), v.states...)
}

type alert struct{ title, body string }

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []alert
}

func (a *recordingAlerter) Alert(title, body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert{title, body})
}

func (a *recordingAlerter) Alerts() []alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]alert(nil), a.alerts...)
}

type harness struct {
	facade  *fakeFacade
	view    *recordingView
	alerter *recordingAlerter
	ctrl    *Controller
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

func start(t *testing.T, facade *fakeFacade, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		facade:  facade,
		view:    &recordingView{},
		alerter: &recordingAlerter{},
		done:    make(chan struct{}),
	}
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time { return fixed })}, opts...)
	h.ctrl = New(facade, h.view, h.alerter, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.err = h.ctrl.Run(ctx)
		close(h.done)
	}()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
	}
}

func (h *harness) waitState(t *testing.T, want TokenState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.ctrl.Snapshot().State == want
	}, 2*time.Second, 5*time.Millisecond, "state never became %s", want)
}

func TestPermissionGrantedShowsToken(t *testing.T) {
	h := start(t, newFakeFacade())
	h.waitState(t, Ready)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, "tok-123", snap.Token)
	assert.Equal(t, "tok-123", snap.TokenText())
	assert.Equal(t, []TokenState{Idle, Loading, Ready}, h.view.States())
	assert.Empty(t, h.alerter.Alerts())
}

func TestProvisionalPermissionShowsToken(t *testing.T) {
	f := newFakeFacade()
	f.perm = notify.Provisional
	h := start(t, f)
	h.waitState(t, Ready)
	assert.Equal(t, "tok-123", h.ctrl.Snapshot().Token)
}

func TestPermissionDenied(t *testing.T) {
	f := newFakeFacade()
	f.perm = notify.Denied
	h := start(t, f)

	require.Eventually(t, func() bool { return len(h.alerter.Alerts()) == 1 }, 2*time.Second, 5*time.Millisecond)
	h.waitState(t, Idle)

	assert.Equal(t, []TokenState{Idle, Loading, Error, Idle}, h.view.States())
	assert.Equal(t, AlertPermissionDenied, h.alerter.Alerts()[0].title)
	snap := h.ctrl.Snapshot()
	assert.Empty(t, snap.Token)
	assert.Equal(t, "No token available", snap.TokenText())
	assert.Zero(t, f.tokenCalls.Load(), "no token fetch without permission")
}

func TestTokenFailure(t *testing.T) {
	f := newFakeFacade()
	f.tokenErr = errors.New("SERVICE_NOT_AVAILABLE")
	h := start(t, f)

	require.Eventually(t, func() bool { return len(h.alerter.Alerts()) == 1 }, 2*time.Second, 5*time.Millisecond)
	h.waitState(t, Idle)
	assert.Equal(t, alert{AlertError, AlertErrorBody}, h.alerter.Alerts()[0])
	assert.Contains(t, h.view.States(), Error)
}

func TestFailedRefreshClearsPreviousToken(t *testing.T) {
	f := newFakeFacade()
	h := start(t, f)
	h.waitState(t, Ready)

	f.tokenErr = errors.New("gone")
	h.ctrl.Refresh()

	require.Eventually(t, func() bool { return len(h.alerter.Alerts()) == 1 }, 2*time.Second, 5*time.Millisecond)
	h.waitState(t, Idle)
	assert.Empty(t, h.ctrl.Snapshot().Token)
}

func TestRefreshIgnoredWhileLoading(t *testing.T) {
	f := newFakeFacade()
	f.block = make(chan struct{})
	h := start(t, f)
	h.waitState(t, Loading)

	h.ctrl.Refresh()
	require.Eventually(t, func() bool { return len(h.ctrl.refresh) == 0 }, 2*time.Second, 5*time.Millisecond)
	h.ctrl.Refresh()
	require.Eventually(t, func() bool { return len(h.ctrl.refresh) == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, h.ctrl.Snapshot().Loading())

	close(f.block)
	h.waitState(t, Ready)
	assert.Equal(t, int32(1), f.permCalls.Load())

	h.ctrl.Refresh()
	require.Eventually(t, func() bool { return f.permCalls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	h.waitState(t, Ready)
}

func TestFetchTimeout(t *testing.T) {
	f := newFakeFacade()
	f.block = make(chan struct{})
	defer close(f.block)
	h := start(t, f, WithFetchTimeout(20*time.Millisecond))

	require.Eventually(t, func() bool { return len(h.alerter.Alerts()) == 1 }, 2*time.Second, 5*time.Millisecond)
	h.waitState(t, Idle)
	assert.Equal(t, AlertError, h.alerter.Alerts()[0].title)
}

func TestForegroundMessageAlertsOnce(t *testing.T) {
	f := newFakeFacade()
	h := start(t, f)
	h.waitState(t, Ready)

	f.fg <- fcm.Message{ID: "m1", Notification: &fcm.Notification{Title: "Hello", Body: "World"}}

	require.Eventually(t, func() bool { return h.ctrl.Snapshot().LastMessage != nil }, 2*time.Second, 5*time.Millisecond)
	lm := h.ctrl.Snapshot().LastMessage
	assert.Equal(t, ChannelForeground, lm.Channel)
	assert.Equal(t, "Hello", lm.TitleText())

	require.Eventually(t, func() bool { return len(h.alerter.Alerts()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, alert{"Hello", "World"}, h.alerter.Alerts()[0])
}

func TestForegroundDataOnlyAlert(t *testing.T) {
	f := newFakeFacade()
	h := start(t, f)
	h.waitState(t, Ready)

	f.fg <- fcm.Message{ID: "m2", Data: map[string]string{"k": "v"}}

	require.Eventually(t, func() bool { return len(h.alerter.Alerts()) == 1 }, 2*time.Second, 5*time.Millisecond)
	got := h.alerter.Alerts()[0]
	assert.Equal(t, AlertNewMessage, got.title)
	assert.Contains(t, got.body, `"id":"m2"`)
	assert.Contains(t, got.body, `"data":{"k":"v"}`)

	lm := h.ctrl.Snapshot().LastMessage
	require.NotNil(t, lm)
	assert.Equal(t, "No title", lm.TitleText())
	assert.Equal(t, "No body", lm.BodyText())
}

func TestOpenedMessageNoAlert(t *testing.T) {
	f := newFakeFacade()
	h := start(t, f)
	h.waitState(t, Ready)

	f.op <- fcm.Message{ID: "tap", Notification: &fcm.Notification{Title: "Tapped"}}

	require.Eventually(t, func() bool { return h.ctrl.Snapshot().LastMessage != nil }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, ChannelOpened, h.ctrl.Snapshot().LastMessage.Channel)
	assert.Empty(t, h.alerter.Alerts())
}

func TestInitialNotificationNoAlert(t *testing.T) {
	f := newFakeFacade()
	f.initial = &fcm.Message{ID: "cold", Notification: &fcm.Notification{Title: "Launch"}}
	h := start(t, f)
	h.waitState(t, Ready)

	lm := h.ctrl.Snapshot().LastMessage
	require.NotNil(t, lm)
	assert.Equal(t, ChannelInitial, lm.Channel)
	assert.Equal(t, "Launch", lm.TitleText())
	assert.Empty(t, h.alerter.Alerts())
}

func TestLastWriteWins(t *testing.T) {
	f := newFakeFacade()
	h := start(t, f)
	h.waitState(t, Ready)

	f.op <- fcm.Message{ID: "first"}
	require.Eventually(t, func() bool {
		lm := h.ctrl.Snapshot().LastMessage
		return lm != nil && lm.Message.ID == "first"
	}, 2*time.Second, 5*time.Millisecond)

	f.fg <- fcm.Message{ID: "second"}
	require.Eventually(t, func() bool {
		return h.ctrl.Snapshot().LastMessage.Message.ID == "second"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTeardownUnsubscribes(t *testing.T) {
	f := newFakeFacade()
	h := start(t, f)
	h.waitState(t, Ready)

	h.cancel()
	select {
	case <-h.done:
		assert.NoError(t, h.err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, int32(2), f.unsubs.Load())

	f.fg <- fcm.Message{ID: "stale"}
	f.op <- fcm.Message{ID: "stale"}
	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, h.ctrl.Snapshot().LastMessage)
	assert.Empty(t, h.alerter.Alerts())
}

type blockingAlerter struct {
	recordingAlerter
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (a *blockingAlerter) Alert(title, body string) {
	a.recordingAlerter.Alert(title, body)
	a.once.Do(func() {
		close(a.entered)
		<-a.release
	})
}

func TestNothingAppliedAfterCancel(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFakeFacade()
		alerter := &blockingAlerter{entered: make(chan struct{}), release: make(chan struct{})}
		ctrl := New(f, &recordingView{}, alerter)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- ctrl.Run(ctx) }()

		f.fg <- fcm.Message{ID: "first"}
		select {
		case <-alerter.entered:
		case <-time.After(2 * time.Second):
			t.Fatal("first message never alerted")
		}
		f.fg <- fcm.Message{ID: "second"}
		f.op <- fcm.Message{ID: "third"}
		cancel()
		close(alerter.release)

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return")
		}
		snap := ctrl.Snapshot()
		require.NotNil(t, snap.LastMessage)
		require.Equal(t, "first", snap.LastMessage.Message.ID, "iteration %d", i)
		require.Len(t, alerter.Alerts(), 1, "iteration %d", i)
	}
}

func TestReadySignalledOnEachSuccessfulFetch(t *testing.T) {
	h := start(t, newFakeFacade())

	waitReady := func() {
		t.Helper()
		select {
		case <-h.ctrl.Ready():
		case <-time.After(2 * time.Second):
			t.Fatal("no ready signal")
		}
	}
	waitReady()
	assert.Equal(t, Ready, h.ctrl.Snapshot().State)

	h.ctrl.Refresh()
	waitReady()
	assert.Equal(t, int32(2), h.facade.tokenCalls.Load())
}

func TestNoReadySignalOnFailure(t *testing.T) {
	f := newFakeFacade()
	f.perm = notify.Denied
	h := start(t, f)

	require.Eventually(t, func() bool { return len(h.alerter.Alerts()) == 1 }, 2*time.Second, 5*time.Millisecond)
	h.waitState(t, Idle)
	select {
	case <-h.ctrl.Ready():
		t.Fatal("ready signalled after a denied fetch")
	default:
	}
}

func TestSetConnected(t *testing.T) {
	h := start(t, newFakeFacade())
	h.waitState(t, Ready)
	assert.False(t, h.ctrl.Snapshot().Connected)

	h.ctrl.SetConnected(true)
	require.Eventually(t, func() bool { return h.ctrl.Snapshot().Connected }, 2*time.Second, 5*time.Millisecond)

	h.ctrl.SetConnected(false)
	require.Eventually(t, func() bool { return !h.ctrl.Snapshot().Connected }, 2*time.Second, 5*time.Millisecond)
}

func TestFanOut(t *testing.T) {
	v1, v2 := &recordingView{}, &recordingView{}
	Views{v1, v2}.Render(Snapshot{State: Ready})
	assert.Equal(t, []TokenState{Ready}, v1.States())
	assert.Equal(t, []TokenState{Ready}, v2.States())

	a1, a2 := &recordingAlerter{}, &recordingAlerter{}
	Alerters{a1, a2}.Alert("t", "b")
	assert.Equal(t, []alert{{"t", "b"}}, a1.Alerts())
	assert.Equal(t, []alert{{"t", "b"}}, a2.Alerts())
}

func TestClosedChannelsDoNotSpin(t *testing.T) {
	f := newFakeFacade()
	h := start(t, f)
	h.waitState(t, Ready)

	close(f.fg)
	close(f.op)
	h.ctrl.Refresh()
	require.Eventually(t, func() bool { return f.permCalls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestFormat(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	out := Format(Snapshot{State: Loading})
	assert.Contains(t, out, "Fetching token...")
	assert.Contains(t, out, "refresh disabled")
	assert.Contains(t, out, "Push connection: down")
	assert.Contains(t, Format(Snapshot{State: Ready, Connected: true}), "Push connection: up")

	out = Format(Snapshot{
		State: Ready,
		Token: "abc",
		LastMessage: &LastMessage{
			Message:    fcm.Message{Notification: &fcm.Notification{Body: "b"}},
			Channel:    ChannelOpened,
			ReceivedAt: at,
		},
	})
	assert.Contains(t, out, "abc\n")
	assert.Contains(t, out, "No title\nb\n")
	assert.Contains(t, out, "Received at: 2026-01-02 03:04:05 (opened)")
}
