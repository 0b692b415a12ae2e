package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// PermissionState is the user's notification permission decision.
type PermissionState int

const (
	Undetermined PermissionState = iota
	Granted
	Provisional
	Denied
)

func (s PermissionState) String() string {
	switch s {
	case Granted:
		return "granted"
	case Provisional:
		return "provisional"
	case Denied:
		return "denied"
	default:
		return "undetermined"
	}
}

// Enabled reports whether notifications may be delivered: full or
// provisional authorization.
func (s PermissionState) Enabled() bool {
	return s == Granted || s == Provisional
}

// ParsePermissionState parses the String form.
func ParsePermissionState(s string) (PermissionState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "granted":
		return Granted, nil
	case "provisional":
		return Provisional, nil
	case "denied":
		return Denied, nil
	case "undetermined", "":
		return Undetermined, nil
	}
	return Undetermined, fmt.Errorf("unknown permission state %q", s)
}

func (s PermissionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *PermissionState) UnmarshalText(b []byte) error {
	v, err := ParsePermissionState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Permissions is the platform permission API.
type Permissions interface {
	// Status returns the current decision without prompting.
	Status(ctx context.Context) (PermissionState, error)
	// Request prompts when undetermined and returns the decision.
	Request(ctx context.Context) (PermissionState, error)
}

// Prompter asks the user for a decision. It is only called while the state
// is undetermined.
type Prompter func(ctx context.Context) (PermissionState, error)

// Always is a Prompter that answers state without asking.
func Always(state PermissionState) Prompter {
	return func(context.Context) (PermissionState, error) {
		return state, nil
	}
}

// LinePrompt asks on out and reads one answer line from in:
// y/yes grants, p/provisional grants provisionally, anything else denies.
func LinePrompt(in io.Reader, out io.Writer, appName string) Prompter {
	reader := bufio.NewReader(in)
	return func(ctx context.Context) (PermissionState, error) {
		fmt.Fprintf(out, "Allow %s to send you notifications? [y]es / [p]rovisional / [N]o: ", appName)
		line, err := reader.ReadString('\n')
		if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
			return Undetermined, fmt.Errorf("reading permission answer: %w", err)
		}
		return ParseAnswer(line), nil
	}
}

// ParseAnswer maps a prompt answer to a state.
func ParseAnswer(line string) PermissionState {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return Granted
	case "p", "provisional":
		return Provisional
	}
	return Denied
}

// permissionRecord is the persisted decision.
type permissionRecord struct {
	State     PermissionState `json:"state"`
	DecidedAt time.Time       `json:"decidedAt"`
}

// StoredPermissions persists the decision in the session directory, the
// way the OS remembers it per app: once decided, Request does not prompt
// again until Reset.
type StoredPermissions struct {
	path   string
	prompt Prompter

	mu sync.Mutex
}

// NewStoredPermissions keeps the decision in sessionDir/permission.json.
func NewStoredPermissions(sessionDir string, prompt Prompter) *StoredPermissions {
	return &StoredPermissions{
		path:   filepath.Join(sessionDir, "permission.json"),
		prompt: prompt,
	}
}

// Status implements Permissions.
func (p *StoredPermissions) Status(ctx context.Context) (PermissionState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load()
}

// Request implements Permissions.
func (p *StoredPermissions) Request(ctx context.Context) (PermissionState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, err := p.load()
	if err != nil {
		return Undetermined, err
	}
	if state != Undetermined {
		return state, nil
	}
	if p.prompt == nil {
		return Undetermined, fmt.Errorf("no permission prompt available")
	}

	state, err = p.prompt(ctx)
	if err != nil {
		return Undetermined, err
	}
	if state == Undetermined {
		return Undetermined, nil
	}
	if err := p.save(state); err != nil {
		return state, err
	}
	return state, nil
}

// Reset forgets the decision so the next Request prompts again.
func (p *StoredPermissions) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing permission decision: %w", err)
	}
	return nil
}

func (p *StoredPermissions) load() (PermissionState, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return Undetermined, nil
	}
	if err != nil {
		return Undetermined, fmt.Errorf("reading permission decision: %w", err)
	}
	var rec permissionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Undetermined, fmt.Errorf("parsing permission decision: %w", err)
	}
	return rec.State, nil
}

func (p *StoredPermissions) save(state PermissionState) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	data, err := json.MarshalIndent(permissionRecord{State: state, DecidedAt: time.Now()}, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing permission decision: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0o600); err != nil {
		return fmt.Errorf("writing permission decision: %w", err)
	}
	return nil
}
