package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slush-dev/fcm-demo/fcm"
	"github.com/slush-dev/fcm-demo/internal/tray"
	"github.com/slush-dev/fcm-demo/notify"
)

type fakeActions struct {
	refreshes int
	states    []notify.AppState
	opened    []string
	openErr   error
}

func (f *fakeActions) Refresh() { f.refreshes++ }

func (f *fakeActions) SetAppState(s notify.AppState) { f.states = append(f.states, s) }

func (f *fakeActions) Open(id string) (tray.Entry, error) {
	f.opened = append(f.opened, id)
	if f.openErr != nil {
		return tray.Entry{}, f.openErr
	}
	return tray.Entry{ID: "entry-1", Message: fcm.Message{ID: id}}, nil
}

func TestHandleCommand(t *testing.T) {
	tests := []struct {
		line     string
		openErr  error
		wantQuit bool
		wantOut  string
		check    func(t *testing.T, f *fakeActions)
	}{
		{line: "r", check: func(t *testing.T, f *fakeActions) {
			if f.refreshes != 1 {
				t.Fatalf("expected 1 refresh, got %d", f.refreshes)
			}
		}},
		{line: "b", wantOut: "background", check: func(t *testing.T, f *fakeActions) {
			if len(f.states) != 1 || f.states[0] != notify.Background {
				t.Fatalf("expected background, got %v", f.states)
			}
		}},
		{line: "  f  ", wantOut: "foreground", check: func(t *testing.T, f *fakeActions) {
			if len(f.states) != 1 || f.states[0] != notify.Foreground {
				t.Fatalf("expected foreground, got %v", f.states)
			}
		}},
		{line: "o", wantOut: "Opened notification entry-1", check: func(t *testing.T, f *fakeActions) {
			if len(f.opened) != 1 || f.opened[0] != "" {
				t.Fatalf("expected newest open, got %v", f.opened)
			}
		}},
		{line: "o abc", check: func(t *testing.T, f *fakeActions) {
			if len(f.opened) != 1 || f.opened[0] != "abc" {
				t.Fatalf("expected open abc, got %v", f.opened)
			}
		}},
		{line: "o", openErr: tray.ErrNotFound, wantOut: "No such notification"},
		{line: "o", openErr: errors.New("locked"), wantOut: "Error: locked"},
		{line: "q", wantQuit: true},
		{line: "", wantOut: ""},
		{line: "zz", wantOut: "Unknown command"},
	}

	for _, tc := range tests {
		t.Run(tc.line, func(t *testing.T) {
			f := &fakeActions{openErr: tc.openErr}
			var out bytes.Buffer
			quit := handleCommand(tc.line, f, &out)
			if quit != tc.wantQuit {
				t.Fatalf("quit: got %v, want %v", quit, tc.wantQuit)
			}
			if !strings.Contains(out.String(), tc.wantOut) {
				t.Fatalf("output %q does not contain %q", out.String(), tc.wantOut)
			}
			if tc.check != nil {
				tc.check(t, f)
			}
		})
	}
}

type fakeLines struct {
	lines chan string
	done  chan struct{}
}

func (f *fakeLines) Lines() <-chan string  { return f.lines }
func (f *fakeLines) Done() <-chan struct{} { return f.done }

func TestServeCommandsQuit(t *testing.T) {
	src := &fakeLines{lines: make(chan string), done: make(chan struct{})}
	f := &fakeActions{}
	errc := make(chan error, 1)
	go func() { errc <- serveCommands(context.Background(), src, f, io.Discard) }()

	src.lines <- "r"
	src.lines <- "q"

	select {
	case err := <-errc:
		if !errors.Is(err, errQuit) {
			t.Fatalf("expected errQuit, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("serveCommands did not return")
	}
	if f.refreshes != 1 {
		t.Fatalf("expected 1 refresh, got %d", f.refreshes)
	}
}

func TestServeCommandsEndOfInputKeepsRunning(t *testing.T) {
	src := &fakeLines{lines: make(chan string), done: make(chan struct{})}
	close(src.done)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- serveCommands(ctx, src, &fakeActions{}, io.Discard) }()

	select {
	case err := <-errc:
		t.Fatalf("returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("expected nil on cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("serveCommands did not return after cancel")
	}
}

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestConsoleRoutesAnswerToPrompt(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	var out syncBuffer
	con := newConsole(pr, &out)

	type result struct {
		state notify.PermissionState
		err   error
	}
	res := make(chan result, 1)
	go func() {
		s, err := con.Prompt("com.mobileapp")(context.Background())
		res <- result{s, err}
	}()

	deadline := time.Now().Add(time.Second)
	for !strings.Contains(out.String(), "Allow com.mobileapp") {
		if time.Now().After(deadline) {
			t.Fatal("prompt was not shown")
		}
		time.Sleep(5 * time.Millisecond)
	}

	io.WriteString(pw, "p\n")
	r := <-res
	if r.err != nil || r.state != notify.Provisional {
		t.Fatalf("got %v, %v; want provisional", r.state, r.err)
	}

	go io.WriteString(pw, "r\n")
	select {
	case line := <-con.Lines():
		if line != "r" {
			t.Fatalf("expected command line r, got %q", line)
		}
	case <-time.After(time.Second):
		t.Fatal("command line not delivered")
	}
}

func TestConsolePromptEOF(t *testing.T) {
	con := newConsole(strings.NewReader(""), io.Discard)
	<-con.Done()
	_, err := con.Prompt("x")(context.Background())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestPromptFor(t *testing.T) {
	interactive := notify.Always(notify.Provisional)
	tests := []struct {
		mode string
		want notify.PermissionState
	}{
		{"grant", notify.Granted},
		{"deny", notify.Denied},
		{"prompt", notify.Provisional},
	}
	for _, tc := range tests {
		got, err := promptFor(tc.mode, interactive)(context.Background())
		if err != nil || got != tc.want {
			t.Fatalf("mode %s: got %v, %v; want %v", tc.mode, got, err, tc.want)
		}
	}
}
