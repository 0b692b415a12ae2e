package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slush-dev/fcm-demo/fcm"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir(), "")
	require.NoError(t, err)

	assert.Equal(t, fcm.DefaultAppPackage, cfg.AppPackage)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
	assert.Equal(t, PermissionPrompt, cfg.Permission)
	assert.Empty(t, cfg.SenderID)
	assert.Empty(t, cfg.File)
}

func TestSessionDirFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
sender_id: "123456789"
app_package: com.example.demo
fetch_timeout: 5s
permission: grant
`)

	cfg, err := Load(dir, "")
	require.NoError(t, err)
	assert.Equal(t, "123456789", cfg.SenderID)
	assert.Equal(t, "com.example.demo", cfg.AppPackage)
	assert.Equal(t, 5*time.Second, cfg.FetchTimeout)
	assert.Equal(t, PermissionGrant, cfg.Permission)
	assert.Equal(t, path, cfg.File)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "sender_id: from-file\n")
	t.Setenv("FCM_DEMO_SENDER_ID", "from-env")
	t.Setenv("FCM_DEMO_FETCH_TIMEOUT", "2m")

	cfg, err := Load(dir, "")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.SenderID)
	assert.Equal(t, 2*time.Minute, cfg.FetchTimeout)
}

func TestExplicitFile(t *testing.T) {
	other := t.TempDir()
	path := writeConfig(t, other, "app_version: \"42\"\n")

	cfg, err := Load(t.TempDir(), path)
	require.NoError(t, err)
	assert.Equal(t, "42", cfg.AppVersion)
}

func TestExplicitFileMissing(t *testing.T) {
	_, err := Load(t.TempDir(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"negative timeout", "fetch_timeout: -1s\n"},
		{"unknown permission", "permission: sometimes\n"},
		{"empty package", "app_package: \"\"\n"},
		{"malformed yaml", "sender_id: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)
			_, err := Load(dir, "")
			assert.Error(t, err)
		})
	}
}

func TestApp(t *testing.T) {
	cfg := &Config{SenderID: "1", AppPackage: "com.mobileapp", AppCert: "abc", AppVersion: "7"}
	app := cfg.App()
	assert.Equal(t, fcm.AppIdentity{Package: "com.mobileapp", SenderID: "1", CertSHA1: "abc", Version: "7"}, app)
	assert.NoError(t, app.Validate())
}
