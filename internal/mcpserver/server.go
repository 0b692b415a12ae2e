package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/slush-dev/fcm-demo/fcm"
	"github.com/slush-dev/fcm-demo/internal/controller"
	"github.com/slush-dev/fcm-demo/internal/tray"
	"github.com/slush-dev/fcm-demo/notify"
)

const (
	statusURI = "push://status"
	trayURI   = "push://tray"
)

// App is the presentation controller as seen by MCP clients.
type App interface {
	Snapshot() controller.Snapshot
	Refresh()
}

// Device is the app-state and tray-tap side of the notification facade.
type Device interface {
	AppState() notify.AppState
	SetAppState(notify.AppState)
	Open(id string) (tray.Entry, error)
}

// TrayLister lists displayed notifications.
type TrayLister interface {
	List() ([]tray.Entry, error)
}

// alertRecord is the last alert raised by the controller.
type alertRecord struct {
	Title string    `json:"title"`
	Body  string    `json:"body"`
	At    time.Time `json:"at"`
}

// PushMCPServer exposes the demo app to MCP clients: status and tray as
// resources, the app's user actions as tools. It also serves as the
// controller's View and Alerter, turning renders and alerts into resource
// update notifications.
type PushMCPServer struct {
	server *mcp.Server
	logger *slog.Logger
	tray   TrayLister

	mu        sync.RWMutex
	app       App
	device    Device
	lastAlert *alertRecord
}

// New creates a PushMCPServer. The app is attached later with Bind because
// the controller renders through the server and the facade posts through
// WatchTray.
func New(version string, logger *slog.Logger, trayLister TrayLister) *PushMCPServer {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    "fcm-demo",
		Version: version,
	}, &mcp.ServerOptions{
		SubscribeHandler:   func(context.Context, *mcp.SubscribeRequest) error { return nil },
		UnsubscribeHandler: func(context.Context, *mcp.UnsubscribeRequest) error { return nil },
	})

	g := &PushMCPServer{
		server: s,
		logger: logger,
		tray:   trayLister,
	}

	g.registerResources()
	g.registerTools()

	return g
}

// Bind attaches the presentation controller and the facade.
func (g *PushMCPServer) Bind(app App, device Device) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.app = app
	g.device = device
}

// Run starts the MCP server on stdio and blocks until done.
func (g *PushMCPServer) Run(ctx context.Context) error {
	return g.server.Run(ctx, &mcp.StdioTransport{})
}

// RunWithTransport starts the MCP server on a custom transport (for testing).
func (g *PushMCPServer) RunWithTransport(ctx context.Context, t mcp.Transport) error {
	_, err := g.server.Connect(ctx, t, nil)
	return err
}

// Render implements controller.View.
func (g *PushMCPServer) Render(snap controller.Snapshot) {
	g.notify(statusURI, mcp.Meta{"type": "render", "state": snap.State.String()})
}

// Alert implements controller.Alerter.
func (g *PushMCPServer) Alert(title, body string) {
	g.mu.Lock()
	g.lastAlert = &alertRecord{Title: title, Body: body, At: time.Now()}
	g.mu.Unlock()
	g.notify(statusURI, mcp.Meta{"type": "alert", "title": title, "body": body})
}

// WatchTray wraps t so that posts and taps announce push://tray updates.
func (g *PushMCPServer) WatchTray(t notify.Tray) notify.Tray {
	return &watchedTray{inner: t, g: g}
}

type watchedTray struct {
	inner notify.Tray
	g     *PushMCPServer
}

func (w *watchedTray) Post(msg fcm.Message) (tray.Entry, error) {
	e, err := w.inner.Post(msg)
	if err == nil {
		w.g.notify(trayURI, mcp.Meta{"type": "posted", "id": e.ID})
	}
	return e, err
}

func (w *watchedTray) Take(id string) (tray.Entry, error) {
	e, err := w.inner.Take(id)
	if err == nil {
		w.g.notify(trayURI, mcp.Meta{"type": "taken", "id": e.ID})
	}
	return e, err
}

func (g *PushMCPServer) notify(uri string, meta mcp.Meta) {
	err := g.server.ResourceUpdated(context.Background(), &mcp.ResourceUpdatedNotificationParams{
		URI:  uri,
		Meta: meta,
	})
	if err != nil {
		g.logger.Debug("resource update not delivered", "uri", uri, "error", err)
	}
}

// current returns the bound controller and facade, or an error before Bind.
func (g *PushMCPServer) current() (App, Device, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.app == nil || g.device == nil {
		return nil, nil, fmt.Errorf("app is not running")
	}
	return g.app, g.device, nil
}

// jsonResult marshals v to JSON and returns it as a text CallToolResult.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil
}

// errorResult returns a CallToolResult with IsError=true.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}
