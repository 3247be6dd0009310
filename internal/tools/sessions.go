package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/overrider/internal/session"
	"github.com/standardbeagle/overrider/internal/store"
)

// SessionsInput defines input for the sessions tool.
type SessionsInput struct {
	Action  string `json:"action" jsonschema:"Action: list, get, html"`
	Session string `json:"session,omitempty" jsonschema:"Session id (get, html); optional when only one page is connected"`
	URL     string `json:"url,omitempty" jsonschema:"For list: only sessions for this page URL"`
}

// SessionsOutput defines output for the sessions tool.
type SessionsOutput struct {
	// For list
	Sessions []session.Info `json:"sessions,omitempty"`
	Count    int            `json:"count,omitempty"`

	// For get, html
	Session *session.Info `json:"session,omitempty"`
	HTML    string        `json:"html,omitempty"`
}

// RegisterSessionsTool adds the sessions MCP tool to the server.
func RegisterSessionsTool(server *mcp.Server, t *Tools) {
	mcp.AddTool(server, &mcp.Tool{
		Name: "sessions",
		Description: `List pages connected to the overrider proxy.

Every browser tab that loads a page through the proxy opens one session.

Actions:
  list: List sessions, optionally only those for one page URL
  get: Show one session (selection, edited node count, message counters)
  html: Render the session's current page markup with all edits applied

Examples:
  sessions {action: "list"}
  sessions {action: "list", url: "http://localhost:3000/pricing"}
  sessions {action: "get", session: "6f1c..."}
  sessions {action: "html"}`,
	}, t.handleSessions)
}

func (t *Tools) handleSessions(ctx context.Context, req *mcp.CallToolRequest, input SessionsInput) (*mcp.CallToolResult, SessionsOutput, error) {
	switch input.Action {
	case "list":
		var infos []session.Info
		want := store.NormalizeURL(input.URL)
		for _, s := range t.Sessions.List() {
			if input.URL == "" || store.NormalizeURL(s.URL) == want {
				infos = append(infos, s.Info())
			}
		}
		return nil, SessionsOutput{Sessions: infos, Count: len(infos)}, nil

	case "get":
		sess, err := t.session(input.Session)
		if err != nil {
			return errorResult(err.Error()), SessionsOutput{}, nil
		}
		info := sess.Info()
		return nil, SessionsOutput{Session: &info}, nil

	case "html":
		sess, err := t.session(input.Session)
		if err != nil {
			return errorResult(err.Error()), SessionsOutput{}, nil
		}
		html, err := sess.HTML(ctx)
		if err != nil {
			return errorResult(err.Error()), SessionsOutput{}, nil
		}
		info := sess.Info()
		return nil, SessionsOutput{Session: &info, HTML: html}, nil

	default:
		return errorResult(fmt.Sprintf("unknown action %q. Use: list, get, html", input.Action)), SessionsOutput{}, nil
	}
}
