package fcm

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// mcsAddr is the Google MCS endpoint.
const mcsAddr = "mtalk.google.com:5228"

// Credentials holds the persisted device registration.
type Credentials struct {
	Raw           json.RawMessage `json:"raw"` // gcmCredentials (androidId, securityToken)
	Token         string          `json:"token"`
	App           string          `json:"app,omitempty"`
	SenderID      string          `json:"senderId,omitempty"`
	PersistentIDs []string        `json:"persistent_ids"`
}

// Option configures Client.
type Option func(*Client)

// WithLogger sets a custom logger for Client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets the HTTP client used for checkin and registration.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithApp sets the app identity the device registers for.
func WithApp(app AppIdentity) Option {
	return func(c *Client) {
		c.app = app
	}
}

// Client registers this process as an Android FCM device and receives its
// pushes over MCS.
type Client struct {
	credentials *Credentials
	sessionDir  string
	app         AppIdentity
	device      AndroidDeviceInfo
	logger      *slog.Logger
	httpClient  *http.Client
	mu          sync.Mutex

	// dialMCS is overridable for testing (returns a conn to MCS server).
	dialMCS func(ctx context.Context) (io.ReadWriteCloser, error)

	onMessage         func(Message)
	onDeletedMessages func()
	onTokenRefresh    func(string)
	onConnected       func()
	onDisconnected    func()
	onError           func(error)
}

// NewClient creates a Client that keeps its credentials in sessionDir.
func NewClient(sessionDir string, opts ...Option) *Client {
	c := &Client{
		sessionDir: sessionDir,
		app:        AppIdentity{Package: DefaultAppPackage},
		device:     DefaultAndroidDevice(),
		logger:     slog.Default(),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the current token (empty if not registered).
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.credentials == nil {
		return ""
	}
	return c.credentials.Token
}

// Credentials returns a copy of the current credentials (nil if not registered).
func (c *Client) Credentials() *Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.credentials == nil {
		return nil
	}
	cpy := *c.credentials
	cpy.PersistentIDs = make([]string, len(c.credentials.PersistentIDs))
	copy(cpy.PersistentIDs, c.credentials.PersistentIDs)
	cpy.Raw = make(json.RawMessage, len(c.credentials.Raw))
	copy(cpy.Raw, c.credentials.Raw)
	return &cpy
}

// OnMessage registers the callback for incoming pushes.
// Must be called before Listen().
func (c *Client) OnMessage(fn func(Message)) { c.onMessage = fn }

// OnDeletedMessages registers the callback for FCM's deleted_messages notice.
// Must be called before Listen().
func (c *Client) OnDeletedMessages(fn func()) { c.onDeletedMessages = fn }

// OnTokenRefresh registers the callback invoked whenever a new token is issued,
// on first registration and on rotation.
func (c *Client) OnTokenRefresh(fn func(string)) { c.onTokenRefresh = fn }

// OnConnected registers a callback invoked when MCS connection is established.
// Must be called before Listen().
func (c *Client) OnConnected(fn func()) { c.onConnected = fn }

// OnDisconnected registers a callback invoked when MCS connection drops.
// Must be called before Listen().
func (c *Client) OnDisconnected(fn func()) { c.onDisconnected = fn }

// OnError registers a callback invoked for listener errors.
// Must be called before Listen().
func (c *Client) OnError(fn func(error)) { c.onError = fn }

// Register returns the device token, registering the device first if no
// credentials for the configured app exist yet.
func (c *Client) Register(ctx context.Context) (string, error) {
	token, fresh, err := c.register(ctx)
	if err != nil {
		return "", err
	}
	if fresh && c.onTokenRefresh != nil {
		c.onTokenRefresh(token)
	}
	return token, nil
}

func (c *Client) register(ctx context.Context) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.credentials != nil && c.credentials.Token != "" {
		return c.credentials.Token, false, nil
	}

	if err := c.loadCredentials(); err == nil && c.credentials != nil && c.credentials.Token != "" {
		if c.credentialsMatchApp() {
			c.logger.Debug("FCM credentials already exist, reusing token")
			return c.credentials.Token, false, nil
		}
		c.logger.Info("persisted FCM credentials belong to another app; registering again",
			"persisted_app", c.credentials.App, "app", c.app.Package)
		c.credentials = nil
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("failed to load persisted FCM credentials; attempting fresh registration", "error", err)
	}

	if err := c.app.Validate(); err != nil {
		return "", false, fmt.Errorf("FCM registration: %w", err)
	}

	c.logger.Debug("Starting FCM registration", "app", c.app.Package, "sender_id", c.app.SenderID)
	httpClient := c.loggingHTTPClient()

	gcm, err := gcmCheckin(ctx, httpClient, 0, 0, c.device)
	if err != nil {
		return "", false, fmt.Errorf("FCM registration failed (checkin): %w", err)
	}
	c.logger.Debug("GCM checkin complete", "androidId", gcm.AndroidID)

	token, err := gcmRegister(ctx, httpClient, gcm, c.app, c.device)
	if err != nil {
		return "", false, fmt.Errorf("FCM registration failed (register): %w", err)
	}
	if token == "" {
		return "", false, fmt.Errorf("FCM registration returned empty token")
	}

	rawCreds, err := json.Marshal(gcm)
	if err != nil {
		return "", false, fmt.Errorf("serializing GCM credentials: %w", err)
	}
	c.credentials = &Credentials{
		Raw:           rawCreds,
		Token:         token,
		App:           c.app.Package,
		SenderID:      c.app.SenderID,
		PersistentIDs: []string{},
	}
	if err := c.saveCredentials(); err != nil {
		c.logger.Error("Failed to save FCM credentials", "error", err)
	}

	c.logger.Info("FCM registration complete", "token_prefix", truncate(token, 20))
	return token, true, nil
}

// credentialsMatchApp reports whether loaded credentials were issued for the
// configured app. Credentials written before App was recorded match anything.
func (c *Client) credentialsMatchApp() bool {
	if c.credentials.App == "" && c.credentials.SenderID == "" {
		return true
	}
	return c.credentials.App == c.app.Package && c.credentials.SenderID == c.app.SenderID
}

// Rotate re-checks the existing device in and requests a new token. The
// token-refresh callback fires when the token changes.
func (c *Client) Rotate(ctx context.Context) (string, error) {
	if _, err := c.Register(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()
	var gcm gcmCredentials
	if err := json.Unmarshal(c.credentials.Raw, &gcm); err != nil {
		c.mu.Unlock()
		return "", fmt.Errorf("failed to parse GCM credentials: %w", err)
	}
	previous := c.credentials.Token
	c.mu.Unlock()

	if err := c.app.Validate(); err != nil {
		return "", fmt.Errorf("FCM rotation: %w", err)
	}

	httpClient := c.loggingHTTPClient()
	renewed, err := gcmCheckin(ctx, httpClient, gcm.AndroidID, gcm.SecurityToken, c.device)
	if err != nil {
		return "", fmt.Errorf("FCM rotation failed (checkin): %w", err)
	}
	token, err := gcmRegister(ctx, httpClient, renewed, c.app, c.device)
	if err != nil {
		return "", fmt.Errorf("FCM rotation failed (register): %w", err)
	}
	if token == "" {
		return "", fmt.Errorf("FCM rotation returned empty token")
	}

	rawCreds, err := json.Marshal(renewed)
	if err != nil {
		return "", fmt.Errorf("serializing GCM credentials: %w", err)
	}

	c.mu.Lock()
	c.credentials.Raw = rawCreds
	c.credentials.Token = token
	if err := c.saveCredentials(); err != nil {
		c.logger.Error("Failed to save FCM credentials", "error", err)
	}
	c.mu.Unlock()

	if token != previous && c.onTokenRefresh != nil {
		c.onTokenRefresh(token)
	}
	return token, nil
}

// Listen connects to MCS and dispatches pushes until ctx is cancelled.
// Call Register() first to ensure credentials exist.
func (c *Client) Listen(ctx context.Context) error {
	c.mu.Lock()
	if c.credentials == nil {
		c.mu.Unlock()
		return fmt.Errorf("no FCM credentials: call Register() first")
	}

	var gcm gcmCredentials
	if err := json.Unmarshal(c.credentials.Raw, &gcm); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to parse GCM credentials: %w", err)
	}

	persistentIDs := make([]string, len(c.credentials.PersistentIDs))
	copy(persistentIDs, c.credentials.PersistentIDs)
	c.mu.Unlock()

	conn, err := c.dialMCSConn(ctx)
	if err != nil {
		return fmt.Errorf("MCS connect: %w", err)
	}

	mcs := newMCSClient(conn, gcm, persistentIDs, c.logger)
	mcs.onConnected = func() {
		c.logger.Debug("MCS connected")
		if c.onConnected != nil {
			c.onConnected()
		}
	}
	mcs.onDisconnected = func(reason string) {
		c.logger.Debug("MCS disconnected", "reason", reason)
		if c.onDisconnected != nil {
			c.onDisconnected()
		}
	}
	mcs.onDataMessage = c.handleMCSMessage

	return mcs.connect(ctx)
}

// dialMCSConn dials MCS over TLS, or uses the test hook.
func (c *Client) dialMCSConn(ctx context.Context) (io.ReadWriteCloser, error) {
	if c.dialMCS != nil {
		return c.dialMCS(ctx)
	}
	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: 30 * time.Second}}
	return dialer.DialContext(ctx, "tcp", mcsAddr)
}

// handleMCSMessage dispatches a data stanza and records its persistent ID so
// the next login acknowledges it.
func (c *Client) handleMCSMessage(s *dataMessageStanza) {
	c.logger.Debug("MCS message received", "persistentId", s.PersistentID)

	if c.app.Package != "" && s.Category != "" && s.Category != c.app.Package {
		c.logger.Warn("MCS message for another app", "category", s.Category, "app", c.app.Package)
		if c.onError != nil {
			c.onError(fmt.Errorf("push for unexpected app %q", s.Category))
		}
		c.addPersistentID(s.PersistentID)
		return
	}

	if isDeletedMessages(s) {
		if c.onDeletedMessages != nil {
			c.onDeletedMessages()
		}
	} else if c.onMessage != nil {
		c.onMessage(parseMessage(s))
	}

	c.addPersistentID(s.PersistentID)
}

// maxPersistentIDs bounds the ack list carried in credentials and in the
// next LoginRequest.
const maxPersistentIDs = 200

// addPersistentID appends a persistent ID and saves credentials.
// If the list exceeds maxPersistentIDs, older entries are pruned.
func (c *Client) addPersistentID(id string) {
	if id == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.credentials == nil {
		return
	}
	c.credentials.PersistentIDs = append(c.credentials.PersistentIDs, id)
	if len(c.credentials.PersistentIDs) > maxPersistentIDs {
		c.credentials.PersistentIDs = c.credentials.PersistentIDs[len(c.credentials.PersistentIDs)-maxPersistentIDs:]
	}
	if err := c.saveCredentials(); err != nil {
		c.logger.Error("Failed to save persistent IDs", "error", err)
	}
}

// PersistentIDs returns the list of processed message IDs.
func (c *Client) PersistentIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.credentials == nil {
		return nil
	}
	ids := make([]string, len(c.credentials.PersistentIDs))
	copy(ids, c.credentials.PersistentIDs)
	return ids
}

// CredentialsPath returns the path of the credentials file in sessionDir.
func CredentialsPath(sessionDir string) string {
	return filepath.Join(sessionDir, "fcm_credentials.json")
}

// LoadCredentials reads the credentials persisted in sessionDir without
// registering. It returns an error wrapping os.ErrNotExist when the device
// was never registered.
func LoadCredentials(sessionDir string) (*Credentials, error) {
	data, err := os.ReadFile(CredentialsPath(sessionDir))
	if err != nil {
		return nil, err
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing FCM credentials: %w", err)
	}
	return &creds, nil
}

func (c *Client) credentialsPath() string {
	return CredentialsPath(c.sessionDir)
}

// loadCredentials reads credentials from disk. Caller holds c.mu.
func (c *Client) loadCredentials() error {
	creds, err := LoadCredentials(c.sessionDir)
	if err != nil {
		return err
	}
	c.credentials = creds
	return nil
}

// saveCredentials writes credentials to disk. Caller holds c.mu.
func (c *Client) saveCredentials() error {
	if c.credentials == nil {
		return fmt.Errorf("no credentials to save")
	}
	if err := os.MkdirAll(c.sessionDir, 0o755); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	data, err := json.MarshalIndent(c.credentials, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing FCM credentials: %w", err)
	}
	if err := os.WriteFile(c.credentialsPath(), data, 0o600); err != nil {
		return fmt.Errorf("writing FCM credentials: %w", err)
	}
	c.logger.Debug("Saved FCM credentials", "path", c.credentialsPath())
	return nil
}

// loggingHTTPClient wraps the HTTP client with request/response logging
// when the logger is at Debug level.
func (c *Client) loggingHTTPClient() *http.Client {
	if !c.logger.Enabled(context.Background(), slog.LevelDebug) {
		return c.httpClient
	}
	transport := c.httpClient.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &http.Client{
		Transport: &loggingRoundTripper{inner: transport, logger: c.logger},
		Timeout:   c.httpClient.Timeout,
	}
}

type loggingRoundTripper struct {
	inner  http.RoundTripper
	logger *slog.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	t.logger.Debug(">>> "+req.Method, "url", req.URL.String())
	for k, v := range req.Header {
		val := strings.Join(v, ", ")
		if k == "Authorization" {
			val = truncate(val, 16) + "..."
		}
		t.logger.Debug("  Request header", "key", k, "value", val)
	}
	if req.Body != nil && req.Body != http.NoBody {
		bodyBytes, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err == nil {
			t.logger.Debug("  Request body", "length", len(bodyBytes))
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	}

	resp, err := t.inner.RoundTrip(req)
	if err != nil {
		t.logger.Debug("<<< Error", "error", err)
		return nil, err
	}

	t.logger.Debug("<<< Response", "status", resp.StatusCode, "url", req.URL.String())
	respBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr == nil {
		t.logger.Debug("  Response body", "length", len(respBody), "data", truncate(string(respBody), 200))
		resp.Body = io.NopCloser(bytes.NewReader(respBody))
	}

	return resp, nil
}

// truncate returns the first maxLen bytes of s.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
