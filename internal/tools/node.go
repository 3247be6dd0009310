package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/overrider/internal/overrider"
)

// NodeInput defines input for the node tool.
type NodeInput struct {
	Action    string `json:"action" jsonschema:"Action: get, select, set-tag-name, set-html-content, set-inline-css, add-global-css, update-attribute-value, set-custom-attribute, remove-custom-attribute, add-css-class, remove-css-class, save-node, clear-selection, enable"`
	Session   string `json:"session,omitempty" jsonschema:"Session id; optional when only one page is connected"`
	ID        string `json:"id,omitempty" jsonschema:"data-id of the node (select)"`
	TagName   string `json:"tag_name,omitempty" jsonschema:"New tag name (set-tag-name)"`
	HTML      string `json:"html,omitempty" jsonschema:"Inner HTML (set-html-content)"`
	CSS       string `json:"css,omitempty" jsonschema:"Inline CSS (set-inline-css) or page stylesheet (add-global-css)"`
	Name      string `json:"name,omitempty" jsonschema:"Attribute name (update-attribute-value, set-custom-attribute, remove-custom-attribute)"`
	Value     string `json:"value,omitempty" jsonschema:"Attribute value (update-attribute-value, set-custom-attribute)"`
	ClassName string `json:"class_name,omitempty" jsonschema:"Class (add-css-class, remove-css-class)"`
}

// NodeOutput defines output for the node tool.
type NodeOutput struct {
	Session  string                  `json:"session"`
	Selected string                  `json:"selected,omitempty"`
	Node     *overrider.NodeSnapshot `json:"node,omitempty"`

	// For save-node
	Saved     map[string]overrider.NodeData `json:"saved,omitempty"`
	GlobalCSS string                        `json:"global_css,omitempty"`
}

// RegisterNodeTool adds the node MCP tool to the server.
func RegisterNodeTool(server *mcp.Server, t *Tools) {
	mcp.AddTool(server, &mcp.Tool{
		Name: "node",
		Description: `Inspect and edit elements of a connected page.

Nodes are addressed by their data-id attribute. Select a node first; every
edit applies to the current selection and is mirrored live in the browser.

Actions:
  get: Show the selected node
  select: Select a node by id
  set-tag-name: Rename the element, keeping attributes and children
  set-html-content: Replace the inner HTML
  set-inline-css: Replace the style attribute
  add-global-css: Set the page stylesheet (no selection needed)
  update-attribute-value: Change an attribute the element came with
  set-custom-attribute: Add or update an attribute you manage
  remove-custom-attribute: Remove an attribute you manage
  add-css-class / remove-css-class: Manage extra classes
  save-node: Persist and return every edited node
  clear-selection: Hide the selection box
  enable: Turn on hover and click selection in the page

Examples:
  node {action: "select", id: "hero-title"}
  node {action: "set-tag-name", tag_name: "h1"}
  node {action: "set-custom-attribute", name: "data-variant", value: "b"}
  node {action: "add-css-class", class_name: "highlight"}
  node {action: "add-global-css", css: "body { font-size: 18px }"}
  node {action: "save-node"}`,
	}, t.handleNode)
}

func (t *Tools) handleNode(ctx context.Context, req *mcp.CallToolRequest, input NodeInput) (*mcp.CallToolResult, NodeOutput, error) {
	cmd, err := nodeCommand(input)
	if err != nil {
		return errorResult(err.Error()), NodeOutput{}, nil
	}
	sess, err := t.session(input.Session)
	if err != nil {
		return errorResult(err.Error()), NodeOutput{}, nil
	}

	out := NodeOutput{Session: sess.ID}
	err = sess.Exec(ctx, func(o *overrider.Overrider) error {
		if cmd != nil {
			if err := o.Dispatch(cmd); err != nil {
				return err
			}
		}
		out.Selected = o.SelectedID()
		if snap, err := o.Snapshot(); err == nil {
			out.Node = &snap
		} else if input.Action == "get" {
			return err
		}
		if _, ok := cmd.(overrider.SaveNodeCmd); ok {
			dump := o.Dump()
			out.Saved = dump.Nodes
			out.GlobalCSS = dump.GlobalCSS
		}
		return nil
	})
	if err != nil {
		return errorResult(err.Error()), NodeOutput{}, nil
	}
	return nil, out, nil
}

// nodeCommand maps tool input to a command. get maps to no command.
func nodeCommand(in NodeInput) (overrider.Command, error) {
	need := func(field, value string) error {
		if value == "" {
			return fmt.Errorf("%s required for %s", field, in.Action)
		}
		return nil
	}
	attr := overrider.Attribute{Name: in.Name, Value: in.Value}

	switch in.Action {
	case "get":
		return nil, nil
	case "select":
		return overrider.SelectNodeCmd{ID: in.ID}, need("id", in.ID)
	case "set-tag-name":
		return overrider.SetTagNameCmd{TagName: in.TagName}, need("tag_name", in.TagName)
	case "set-html-content":
		return overrider.SetHTMLContentCmd{HTMLContent: in.HTML}, nil
	case "set-inline-css":
		return overrider.SetInlineCSSCmd{InlineCSS: in.CSS}, nil
	case "add-global-css":
		return overrider.AddGlobalCSSCmd{CSS: in.CSS}, nil
	case "update-attribute-value":
		return overrider.UpdateAttributeValueCmd{Attribute: attr}, need("name", in.Name)
	case "set-custom-attribute":
		return overrider.SetCustomAttributeCmd{Attribute: attr}, need("name", in.Name)
	case "remove-custom-attribute":
		return overrider.RemoveCustomAttributeCmd{AttributeName: in.Name}, need("name", in.Name)
	case "add-css-class":
		return overrider.AddCSSClassCmd{ClassName: in.ClassName}, need("class_name", in.ClassName)
	case "remove-css-class":
		return overrider.RemoveCSSClassCmd{ClassName: in.ClassName}, need("class_name", in.ClassName)
	case "save-node":
		return overrider.SaveNodeCmd{}, nil
	case "clear-selection":
		return overrider.ClearSelectionCmd{}, nil
	case "enable":
		return overrider.InitOverrideCmd{}, nil
	case "":
		return nil, errors.New("action required")
	default:
		return nil, fmt.Errorf("unknown action %q", in.Action)
	}
}
