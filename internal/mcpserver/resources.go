package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/slush-dev/fcm-demo/internal/controller"
	"github.com/slush-dev/fcm-demo/internal/tray"
)

func (g *PushMCPServer) registerResources() {
	g.server.AddResource(&mcp.Resource{
		URI:         statusURI,
		Name:        "App Status",
		Description: "Registration token state, push connection, last notification, app state and last alert",
		MIMEType:    "application/json",
	}, g.handleStatusResource)

	g.server.AddResource(&mcp.Resource{
		URI:         trayURI,
		Name:        "Notification Tray",
		Description: "Notifications displayed while the app was in the background, oldest first",
		MIMEType:    "application/json",
	}, g.handleTrayResource)
}

type statusView struct {
	State       controller.TokenState   `json:"state"`
	Token       string                  `json:"token,omitempty"`
	TokenText   string                  `json:"token_text"`
	Loading     bool                    `json:"loading"`
	Connected   bool                    `json:"connected"`
	AppState    string                  `json:"app_state"`
	LastMessage *controller.LastMessage `json:"last_message,omitempty"`
	LastAlert   *alertRecord            `json:"last_alert,omitempty"`
}

func (g *PushMCPServer) status() (statusView, error) {
	app, device, err := g.current()
	if err != nil {
		return statusView{}, err
	}
	snap := app.Snapshot()

	g.mu.RLock()
	lastAlert := g.lastAlert
	g.mu.RUnlock()

	return statusView{
		State:       snap.State,
		Token:       snap.Token,
		TokenText:   snap.TokenText(),
		Loading:     snap.Loading(),
		Connected:   snap.Connected,
		AppState:    device.AppState().String(),
		LastMessage: snap.LastMessage,
		LastAlert:   lastAlert,
	}, nil
}

func (g *PushMCPServer) handleStatusResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	status, err := g.status()
	if err != nil {
		return nil, err
	}
	return jsonResource(req.Params.URI, status)
}

func (g *PushMCPServer) handleTrayResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	entries, err := g.tray.List()
	if err != nil {
		return nil, fmt.Errorf("listing tray: %w", err)
	}
	if entries == nil {
		entries = []tray.Entry{}
	}
	return jsonResource(req.Params.URI, entries)
}

// jsonResource marshals v to JSON and wraps it in a ReadResourceResult.
func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
