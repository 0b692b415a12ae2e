package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		in   string
		want PermissionState
	}{
		{"y\n", Granted},
		{"YES", Granted},
		{"p", Provisional},
		{"provisional\n", Provisional},
		{"n", Denied},
		{"", Denied},
		{"maybe", Denied},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseAnswer(tt.in), "answer %q", tt.in)
	}
}

func TestPermissionStateText(t *testing.T) {
	for _, s := range []PermissionState{Undetermined, Granted, Provisional, Denied} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var got PermissionState
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, s, got)
	}

	_, err := ParsePermissionState("sometimes")
	assert.Error(t, err)
	assert.True(t, Provisional.Enabled())
	assert.False(t, Undetermined.Enabled())
}

func TestLinePrompt(t *testing.T) {
	var out strings.Builder
	prompt := LinePrompt(strings.NewReader("y\n"), &out, "Demo")

	state, err := prompt(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Granted, state)
	assert.Contains(t, out.String(), "Allow Demo to send you notifications?")
}

func TestLinePromptEOFWithoutNewline(t *testing.T) {
	prompt := LinePrompt(strings.NewReader("p"), &strings.Builder{}, "Demo")
	state, err := prompt(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Provisional, state)
}

func TestLinePromptEmptyInput(t *testing.T) {
	prompt := LinePrompt(strings.NewReader(""), &strings.Builder{}, "Demo")
	_, err := prompt(context.Background())
	assert.Error(t, err)
}

func TestStoredPermissionsPromptsOnce(t *testing.T) {
	dir := t.TempDir()
	asked := 0
	prompt := func(context.Context) (PermissionState, error) {
		asked++
		return Granted, nil
	}
	p := NewStoredPermissions(dir, prompt)
	ctx := context.Background()

	state, err := p.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, Undetermined, state)

	for i := 0; i < 3; i++ {
		state, err = p.Request(ctx)
		require.NoError(t, err)
		assert.Equal(t, Granted, state)
	}
	assert.Equal(t, 1, asked)

	// A second instance over the same directory sees the stored decision.
	other := NewStoredPermissions(dir, nil)
	state, err = other.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, Granted, state)
}

func TestStoredPermissionsReset(t *testing.T) {
	dir := t.TempDir()
	p := NewStoredPermissions(dir, Always(Denied))
	ctx := context.Background()

	state, err := p.Request(ctx)
	require.NoError(t, err)
	assert.Equal(t, Denied, state)

	require.NoError(t, p.Reset())
	require.NoError(t, p.Reset(), "reset twice is fine")

	state, err = p.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, Undetermined, state)
}

func TestStoredPermissionsPromptError(t *testing.T) {
	p := NewStoredPermissions(t.TempDir(), func(context.Context) (PermissionState, error) {
		return Undetermined, errors.New("dialog dismissed")
	})
	_, err := p.Request(context.Background())
	assert.Error(t, err)

	state, err := p.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Undetermined, state, "nothing persisted")
}

func TestStoredPermissionsNoPrompt(t *testing.T) {
	p := NewStoredPermissions(t.TempDir(), nil)
	_, err := p.Request(context.Background())
	assert.Error(t, err)
}
