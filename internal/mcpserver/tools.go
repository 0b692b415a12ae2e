package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/slush-dev/fcm-demo/internal/tray"
	"github.com/slush-dev/fcm-demo/notify"
)

func (g *PushMCPServer) registerTools() {
	g.server.AddTool(refreshTokenTool(), g.handleRefreshToken)
	g.server.AddTool(setAppStateTool(), g.handleSetAppState)
	g.server.AddTool(openNotificationTool(), g.handleOpenNotification)
}

func refreshTokenTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "refresh_token",
		Description: "Ask for notification permission again and fetch a fresh registration token. Ignored while a fetch is in flight; watch push://status for the result.",
		InputSchema: json.RawMessage(`{"type": "object"}`),
	}
}

func (g *PushMCPServer) handleRefreshToken(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	app, _, err := g.current()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if app.Snapshot().Loading() {
		return jsonResult(map[string]any{"refreshing": false, "message": "already fetching a token"})
	}
	app.Refresh()
	return jsonResult(map[string]any{"refreshing": true})
}

func setAppStateTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "set_app_state",
		Description: "Move the app to the foreground or the background. Pushes received in the background go to the notification tray.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"state": {"type": "string", "enum": ["foreground", "background"]}
			},
			"required": ["state"]
		}`),
	}
}

func (g *PushMCPServer) handleSetAppState(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	state, err := notify.ParseAppState(args.State)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	_, device, err := g.current()
	if err != nil {
		return errorResult(err.Error()), nil
	}

	device.SetAppState(state)
	g.notify(statusURI, mcp.Meta{"type": "app_state", "app_state": state.String()})

	return jsonResult(map[string]any{"app_state": state.String()})
}

func openNotificationTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "open_notification",
		Description: "Tap a notification in the tray: the app comes to the foreground and receives it as opened. Taps the newest one when id is omitted.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {"type": "string", "description": "Tray entry ID from push://tray"}
			}
		}`),
	}
}

func (g *PushMCPServer) handleOpenNotification(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		ID string `json:"id"`
	}
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
	}

	_, device, err := g.current()
	if err != nil {
		return errorResult(err.Error()), nil
	}

	entry, err := device.Open(args.ID)
	if errors.Is(err, tray.ErrNotFound) {
		return errorResult("no such notification in the tray"), nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("opening notification: %v", err)), nil
	}

	g.notify(statusURI, mcp.Meta{"type": "app_state", "app_state": notify.Foreground.String()})
	return jsonResult(entry)
}
