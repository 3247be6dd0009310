package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/overrider/internal/proxy"
)

// ProxyInput defines input for the proxy tool.
type ProxyInput struct {
	Action string `json:"action" jsonschema:"Action: start, stop, status, list"`
	ID     string `json:"id,omitempty" jsonschema:"Proxy id (stop, status); defaults to the target host"`
	Target string `json:"target,omitempty" jsonschema:"Target URL (start)"`
	Port   int    `json:"port,omitempty" jsonschema:"Listen port (start); 0 picks a free port"`
}

// ProxyOutput defines output for the proxy tool.
type ProxyOutput struct {
	Proxy   *proxy.Stats  `json:"proxy,omitempty"`
	Proxies []proxy.Stats `json:"proxies,omitempty"`
	URL     string        `json:"url,omitempty"`
	Message string        `json:"message,omitempty"`
}

// RegisterProxyTool adds the proxy MCP tool to the server.
func RegisterProxyTool(server *mcp.Server, t *Tools) {
	mcp.AddTool(server, &mcp.Tool{
		Name: "proxy",
		Description: `Start and stop editing proxies.

A proxy serves the target site with the overrider agent injected. Open the
returned URL in a browser to connect a page session.

Actions:
  start: Start a proxy for a target URL
  stop: Stop a proxy
  status: Show one proxy
  list: List running proxies

Examples:
  proxy {action: "start", target: "http://localhost:3000"}
  proxy {action: "start", target: "http://localhost:3000", port: 7777}
  proxy {action: "status", id: "localhost:3000"}
  proxy {action: "stop", id: "3000"}`,
	}, t.handleProxy)
}

func (t *Tools) handleProxy(ctx context.Context, req *mcp.CallToolRequest, input ProxyInput) (*mcp.CallToolResult, ProxyOutput, error) {
	if t.Proxies == nil {
		return errorResult("proxy management is not available"), ProxyOutput{}, nil
	}

	switch input.Action {
	case "start":
		if input.Target == "" {
			return errorResult("target required for start"), ProxyOutput{}, nil
		}
		cfg := t.ProxyDefaults
		cfg.ID = input.ID
		cfg.TargetURL = input.Target
		cfg.ListenPort = input.Port
		if cfg.Sessions == nil {
			cfg.Sessions = t.Sessions
		}
		if cfg.Store == nil {
			cfg.Store = t.Store
		}
		// The proxy outlives this call.
		srv, err := t.Proxies.Create(context.WithoutCancel(ctx), cfg)
		if err != nil {
			return errorResult(fmt.Sprintf("failed to start proxy: %v", err)), ProxyOutput{}, nil
		}
		stats := srv.Stats()
		return nil, ProxyOutput{Proxy: &stats, URL: srv.URL(), Message: fmt.Sprintf("open %s in a browser", srv.URL())}, nil

	case "stop":
		if input.ID == "" {
			return errorResult("id required for stop"), ProxyOutput{}, nil
		}
		if err := t.Proxies.Stop(ctx, input.ID); err != nil {
			return errorResult(err.Error()), ProxyOutput{}, nil
		}
		return nil, ProxyOutput{Message: "stopped"}, nil

	case "status":
		srv, err := t.Proxies.Get(input.ID)
		if err != nil {
			return errorResult(err.Error()), ProxyOutput{}, nil
		}
		stats := srv.Stats()
		return nil, ProxyOutput{Proxy: &stats, URL: srv.URL()}, nil

	case "list":
		out := ProxyOutput{Proxies: []proxy.Stats{}}
		for _, srv := range t.Proxies.List() {
			out.Proxies = append(out.Proxies, srv.Stats())
		}
		return nil, out, nil

	default:
		return errorResult(fmt.Sprintf("unknown action %q. Use: start, stop, status, list", input.Action)), ProxyOutput{}, nil
	}
}
