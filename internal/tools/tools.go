// Package tools exposes overrider sessions, stored overrides and proxies as
// MCP tools.
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/overrider/internal/proxy"
	"github.com/standardbeagle/overrider/internal/session"
	"github.com/standardbeagle/overrider/internal/store"
)

// Tools holds what the tool handlers operate on. Store and Proxies may be
// nil; the tools that need them then report an error.
type Tools struct {
	Sessions *session.Registry
	Store    store.Store
	Proxies  *proxy.Manager

	// ProxyDefaults seeds every proxy started through the proxy tool.
	ProxyDefaults proxy.Config
}

// Register adds every overrider tool to the server.
func Register(server *mcp.Server, t *Tools) {
	RegisterSessionsTool(server, t)
	RegisterNodeTool(server, t)
	RegisterOverridesTool(server, t)
	RegisterProxyTool(server, t)
}

// NewServer creates an MCP server with every overrider tool registered.
func NewServer(version string, t *Tools) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "overrider", Version: version}, nil)
	Register(server, t)
	return server
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}

// session resolves a session id; an empty id selects the only live session.
func (t *Tools) session(id string) (*session.Session, error) {
	if t.Sessions == nil {
		return nil, errors.New("no session registry")
	}
	sess, err := t.Sessions.Resolve(id)
	if err != nil {
		return nil, fmt.Errorf("%w (use sessions {action: \"list\"})", err)
	}
	return sess, nil
}

func (t *Tools) requireStore() error {
	if t.Store == nil {
		return errors.New("no override store configured")
	}
	return nil
}

func withStoreTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, storeTimeout)
}
