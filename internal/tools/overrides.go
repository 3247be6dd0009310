package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/overrider/internal/overrider"
	"github.com/standardbeagle/overrider/internal/store"
)

const storeTimeout = 5 * time.Second

// OverridesInput represents input for the overrides tool.
type OverridesInput struct {
	Action    string                               `json:"action" jsonschema:"Action: get, resolve, set, delete, list, apply"`
	Scope     string                               `json:"scope,omitempty" jsonschema:"Scope: global, folder, page (default: page)"`
	URL       string                               `json:"url,omitempty" jsonschema:"Page URL (required except for the global scope)"`
	Session   string                               `json:"session,omitempty" jsonschema:"For apply: session id; optional when only one page is connected"`
	Nodes     map[string]overrider.OverridePayload `json:"nodes,omitempty" jsonschema:"For set: overrides keyed by data-id"`
	GlobalCSS *string                              `json:"global_css,omitempty" jsonschema:"For set: page stylesheet"`
}

// OverridesOutput represents output from the overrides tool.
type OverridesOutput struct {
	Scope     string                               `json:"scope,omitempty"`
	Key       string                               `json:"key,omitempty"`
	Nodes     map[string]overrider.OverridePayload `json:"nodes,omitempty"`
	GlobalCSS *string                              `json:"global_css,omitempty"`
	Saves     int                                  `json:"saves,omitempty"`
	UpdatedAt *time.Time                           `json:"updated_at,omitempty"`

	// For list
	Keys  []string `json:"keys,omitempty"`
	Count int      `json:"count,omitempty"`

	// For apply
	Report *overrider.ApplyReport `json:"report,omitempty"`

	Message string `json:"message,omitempty"`
}

// RegisterOverridesTool registers the overrides MCP tool with the server.
func RegisterOverridesTool(server *mcp.Server, t *Tools) {
	mcp.AddTool(server, &mcp.Tool{
		Name: "overrides",
		Description: `Saved element overrides, scoped by page.

Actions:
  get: Show the record stored for one scope
  resolve: Show the merged global, folder and page overrides for a URL
  set: Store overrides for a scope
  delete: Remove a stored record
  list: List stored records in a scope
  apply: Apply the resolved overrides to a connected page

Scopes:
  global: Every page (url not needed)
  folder: Every page under the URL's directory
  page: One page, query and fragment ignored

Examples:
  overrides {action: "resolve", url: "http://localhost:3000/pricing"}
  overrides {action: "set", url: "http://localhost:3000/pricing", nodes: {"cta": {tagName: "button", customClasses: ["primary"]}}}
  overrides {action: "set", scope: "global", global_css: "body { margin: 0 }"}
  overrides {action: "list", scope: "page"}
  overrides {action: "apply"}

Pages loaded through the proxy get their resolved overrides applied automatically
when auto-apply is on.`,
	}, t.handleOverrides)
}

func (t *Tools) handleOverrides(ctx context.Context, req *mcp.CallToolRequest, input OverridesInput) (*mcp.CallToolResult, OverridesOutput, error) {
	if err := t.requireStore(); err != nil {
		return errorResult(err.Error()), OverridesOutput{}, nil
	}
	if input.Scope == "" {
		input.Scope = store.ScopePage
	}

	ctx, cancel := withStoreTimeout(ctx)
	defer cancel()

	var (
		out OverridesOutput
		err error
	)
	switch input.Action {
	case "get":
		out, err = t.overridesGet(ctx, input)
	case "resolve":
		out, err = t.overridesResolve(ctx, input.URL)
	case "set":
		out, err = t.overridesSet(ctx, input)
	case "delete":
		out, err = t.overridesDelete(ctx, input)
	case "list":
		out, err = t.overridesList(ctx, input.Scope)
	case "apply":
		out, err = t.overridesApply(ctx, input)
	default:
		return errorResult(fmt.Sprintf("unknown action: %s (use: get, resolve, set, delete, list, apply)", input.Action)), OverridesOutput{}, nil
	}
	if err != nil {
		return errorResult(err.Error()), OverridesOutput{}, nil
	}
	return nil, out, nil
}

func needURL(scope, url string) error {
	if scope != store.ScopeGlobal && url == "" {
		return fmt.Errorf("url required for scope %s", scope)
	}
	return nil
}

func recordOutput(rec *store.Record) OverridesOutput {
	updated := rec.UpdatedAt
	return OverridesOutput{
		Scope:     rec.Scope,
		Key:       rec.Key,
		Nodes:     rec.Overrides.Nodes,
		GlobalCSS: rec.Overrides.GlobalCSS,
		Saves:     rec.Saves,
		UpdatedAt: &updated,
	}
}

func (t *Tools) overridesGet(ctx context.Context, in OverridesInput) (OverridesOutput, error) {
	if err := needURL(in.Scope, in.URL); err != nil {
		return OverridesOutput{}, err
	}
	rec, err := t.Store.Get(ctx, in.Scope, in.URL)
	if err != nil {
		return OverridesOutput{}, err
	}
	return recordOutput(rec), nil
}

func (t *Tools) overridesResolve(ctx context.Context, url string) (OverridesOutput, error) {
	if url == "" {
		return OverridesOutput{}, errors.New("url required for resolve")
	}
	set, err := store.Resolve(ctx, t.Store, url)
	if err != nil {
		return OverridesOutput{}, err
	}
	return OverridesOutput{
		Key:       store.NormalizeURL(url),
		Nodes:     set.Nodes,
		GlobalCSS: set.GlobalCSS,
		Count:     set.Len(),
	}, nil
}

func (t *Tools) overridesSet(ctx context.Context, in OverridesInput) (OverridesOutput, error) {
	if err := needURL(in.Scope, in.URL); err != nil {
		return OverridesOutput{}, err
	}
	if len(in.Nodes) == 0 && in.GlobalCSS == nil {
		return OverridesOutput{}, errors.New("nodes or global_css required for set")
	}
	nodes := in.Nodes
	if nodes == nil {
		nodes = map[string]overrider.OverridePayload{}
	}
	rec, err := t.Store.Put(ctx, in.Scope, in.URL, overrider.OverrideSet{Nodes: nodes, GlobalCSS: in.GlobalCSS})
	if err != nil {
		return OverridesOutput{}, err
	}
	out := recordOutput(rec)
	out.Message = fmt.Sprintf("stored %d node overrides", rec.Overrides.Len())
	return out, nil
}

func (t *Tools) overridesDelete(ctx context.Context, in OverridesInput) (OverridesOutput, error) {
	if err := needURL(in.Scope, in.URL); err != nil {
		return OverridesOutput{}, err
	}
	if err := t.Store.Delete(ctx, in.Scope, in.URL); err != nil {
		return OverridesOutput{}, err
	}
	return OverridesOutput{Scope: in.Scope, Message: "deleted"}, nil
}

func (t *Tools) overridesList(ctx context.Context, scope string) (OverridesOutput, error) {
	recs, err := t.Store.List(ctx, scope)
	if err != nil {
		return OverridesOutput{}, err
	}
	out := OverridesOutput{Scope: scope, Keys: []string{}, Count: len(recs)}
	for _, r := range recs {
		out.Keys = append(out.Keys, r.Key)
	}
	return out, nil
}

func (t *Tools) overridesApply(ctx context.Context, in OverridesInput) (OverridesOutput, error) {
	sess, err := t.session(in.Session)
	if err != nil {
		return OverridesOutput{}, err
	}
	set, err := store.Resolve(ctx, t.Store, sess.URL)
	if err != nil {
		return OverridesOutput{}, err
	}
	var report overrider.ApplyReport
	err = sess.Exec(ctx, func(o *overrider.Overrider) error {
		report = o.ApplyOverrides(*set)
		return nil
	})
	if err != nil {
		return OverridesOutput{}, err
	}
	return OverridesOutput{
		Key:       store.NormalizeURL(sess.URL),
		Nodes:     set.Nodes,
		GlobalCSS: set.GlobalCSS,
		Report:    &report,
		Message:   fmt.Sprintf("applied %d, failed %d", len(report.Applied), len(report.Failed)),
	}, nil
}
