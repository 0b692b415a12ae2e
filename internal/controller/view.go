package controller

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// TokenText is what the token field shows.
func (s Snapshot) TokenText() string {
	switch {
	case s.State == Loading:
		return "Fetching token..."
	case s.Token != "":
		return s.Token
	default:
		return "No token available"
	}
}

// TitleText is the displayed title of the last message.
func (m LastMessage) TitleText() string {
	if t := m.Message.Title(); t != "" {
		return t
	}
	return "No title"
}

// BodyText is the displayed body of the last message.
func (m LastMessage) BodyText() string {
	if b := m.Message.Body(); b != "" {
		return b
	}
	return "No body"
}

// TextView renders to a terminal. Identical consecutive frames are skipped.
type TextView struct {
	mu   sync.Mutex
	out  io.Writer
	last string
}

func NewTextView(out io.Writer) *TextView {
	return &TextView{out: out}
}

// Render implements View.
func (v *TextView) Render(s Snapshot) {
	frame := Format(s)
	v.mu.Lock()
	defer v.mu.Unlock()
	if frame == v.last {
		return
	}
	v.last = frame
	fmt.Fprint(v.out, frame)
}

// Format lays out a snapshot as text.
func Format(s Snapshot) string {
	out := "── FCM Token ──\n" + s.TokenText() + "\n"
	if s.Loading() {
		out += "(refresh disabled while loading)\n"
	}
	if s.Connected {
		out += "Push connection: up\n"
	} else {
		out += "Push connection: down\n"
	}
	if lm := s.LastMessage; lm != nil {
		out += "── Last Notification ──\n"
		out += lm.TitleText() + "\n"
		out += lm.BodyText() + "\n"
		out += fmt.Sprintf("Received at: %s (%s)\n", lm.ReceivedAt.Format(time.DateTime), lm.Channel)
	}
	return out
}

// TextAlerter prints alerts to a terminal.
type TextAlerter struct {
	mu  sync.Mutex
	out io.Writer
}

func NewTextAlerter(out io.Writer) *TextAlerter {
	return &TextAlerter{out: out}
}

// Alert implements Alerter.
func (a *TextAlerter) Alert(title, body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fmt.Fprintf(a.out, "[!] %s: %s\n", title, body)
}

// Views fans a render out to several views.
type Views []View

func (vs Views) Render(s Snapshot) {
	for _, v := range vs {
		v.Render(s)
	}
}

// Alerters fans an alert out to several alerters.
type Alerters []Alerter

func (as Alerters) Alert(title, body string) {
	for _, a := range as {
		a.Alert(title, body)
	}
}
