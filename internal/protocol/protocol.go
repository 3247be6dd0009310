// Package protocol converts between wire messages and overrider commands and
// events.
//
// Host commands are objects with an "action" field; their arguments sit next
// to it or inside a nested "data" object. Page agent events use an "event"
// field instead.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/standardbeagle/overrider/internal/dom"
	"github.com/standardbeagle/overrider/internal/highlight"
	"github.com/standardbeagle/overrider/internal/overrider"
)

// Outbound action names.
const (
	ActionEditNode      = "edit-node"
	ActionSaveOverrides = "save-overrides"
	ActionApplyReport   = "apply-report"
	ActionBox           = "box"
	ActionPatch         = "patch"
	ActionEditing       = "editing"
	ActionError         = "error"
)

var (
	// ErrMalformed is returned for input that is not a JSON object.
	ErrMalformed = errors.New("malformed message")

	// ErrUnknownAction is returned for actions and events outside the protocol.
	// Callers ignore it.
	ErrUnknownAction = errors.New("unknown action")

	// ErrMissingField is returned when a command lacks its argument.
	ErrMissingField = errors.New("missing field")
)

// Message is one outbound wire message.
type Message struct {
	Action string `json:"action"`
	Data   any    `json:"data,omitempty"`
}

type fields struct {
	Action string          `json:"action"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`

	TagName       *string          `json:"tagName"`
	HTMLContent   *string          `json:"htmlContent"`
	InlineCSS     *string          `json:"inlineCSS"`
	CSS           *string          `json:"CSS"`
	Attribute     *dom.Attribute   `json:"attribute"`
	ClassName     *string          `json:"className"`
	AttributeName *string          `json:"attributeName"`
	Overrides     json.RawMessage  `json:"overrides"`
	ID            string           `json:"id"`
	Rect          *highlight.Rect  `json:"rect"`
	Scroll        *highlight.Point `json:"scroll"`
}

// Decode parses one inbound message into a command.
func Decode(raw []byte) (overrider.Command, error) {
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(f.Data) > 0 && f.Data[0] == '{' {
		if err := json.Unmarshal(f.Data, &f); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrMalformed, err)
		}
	}
	if f.Action == "" && f.Event != "" {
		return decodeEvent(f)
	}
	return decodeAction(f)
}

func decodeAction(f fields) (overrider.Command, error) {
	switch f.Action {
	case "initOverride":
		return overrider.InitOverrideCmd{}, nil
	case "component_overrides":
		if len(f.Overrides) == 0 {
			return nil, missing(f.Action, "overrides")
		}
		var set overrider.OverrideSet
		if err := json.Unmarshal(f.Overrides, &set); err != nil {
			return nil, fmt.Errorf("%w: overrides: %v", ErrMalformed, err)
		}
		return overrider.ComponentOverridesCmd{Overrides: set}, nil
	case "clear-selection":
		return overrider.ClearSelectionCmd{}, nil
	case "set-tag-name":
		if f.TagName == nil {
			return nil, missing(f.Action, "tagName")
		}
		return overrider.SetTagNameCmd{TagName: *f.TagName}, nil
	case "set-html-content":
		if f.HTMLContent == nil {
			return nil, missing(f.Action, "htmlContent")
		}
		return overrider.SetHTMLContentCmd{HTMLContent: *f.HTMLContent}, nil
	case "set-inline-css":
		if f.InlineCSS == nil {
			return nil, missing(f.Action, "inlineCSS")
		}
		return overrider.SetInlineCSSCmd{InlineCSS: *f.InlineCSS}, nil
	case "add-global-css":
		if f.CSS == nil {
			return nil, missing(f.Action, "CSS")
		}
		return overrider.AddGlobalCSSCmd{CSS: *f.CSS}, nil
	case "update-attribute-value":
		if f.Attribute == nil {
			return nil, missing(f.Action, "attribute")
		}
		return overrider.UpdateAttributeValueCmd{Attribute: *f.Attribute}, nil
	case "add-css-class":
		if f.ClassName == nil {
			return nil, missing(f.Action, "className")
		}
		return overrider.AddCSSClassCmd{ClassName: *f.ClassName}, nil
	case "remove-css-class":
		if f.ClassName == nil {
			return nil, missing(f.Action, "className")
		}
		return overrider.RemoveCSSClassCmd{ClassName: *f.ClassName}, nil
	case "set-custom-attribute":
		if f.Attribute == nil {
			return nil, missing(f.Action, "attribute")
		}
		return overrider.SetCustomAttributeCmd{Attribute: *f.Attribute}, nil
	case "update-custom-attribute":
		if f.Attribute == nil {
			return nil, missing(f.Action, "attribute")
		}
		return overrider.UpdateCustomAttributeCmd{Attribute: *f.Attribute}, nil
	case "remove-custom-attribute":
		if f.AttributeName == nil {
			return nil, missing(f.Action, "attributeName")
		}
		return overrider.RemoveCustomAttributeCmd{AttributeName: *f.AttributeName}, nil
	case "save-node":
		return overrider.SaveNodeCmd{}, nil
	case "select-node":
		return overrider.SelectNodeCmd{ID: f.ID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, f.Action)
	}
}

func decodeEvent(f fields) (overrider.Command, error) {
	switch f.Event {
	case "hover":
		tag := ""
		if f.TagName != nil {
			tag = *f.TagName
		}
		return overrider.HoverCmd{ID: f.ID, TagName: tag, Geometry: geometry(f)}, nil
	case "hover-out":
		return overrider.HoverOutCmd{}, nil
	case "click":
		return overrider.ClickCmd{ID: f.ID, Geometry: geometry(f)}, nil
	case "resize":
		return overrider.ResizeCmd{}, nil
	case "measure":
		g := geometry(f)
		if f.ID == "" || g == nil {
			return nil, missing(f.Event, "id and rect")
		}
		return overrider.MeasureCmd{ID: f.ID, Geometry: *g}, nil
	default:
		return nil, fmt.Errorf("%w: event %q", ErrUnknownAction, f.Event)
	}
}

func geometry(f fields) *highlight.Geometry {
	if f.Rect == nil {
		return nil
	}
	g := highlight.Geometry{Rect: *f.Rect}
	if f.Scroll != nil {
		g.Scroll = *f.Scroll
	}
	return &g
}

func missing(action, field string) error {
	return fmt.Errorf("%w: %s requires %s", ErrMissingField, action, field)
}

// Encode converts an overrider event into its outbound message.
func Encode(e overrider.Event) (Message, error) {
	switch ev := e.(type) {
	case overrider.EditNodeEvent:
		return Message{Action: ActionEditNode, Data: ev.Snapshot}, nil
	case overrider.SaveOverridesEvent:
		return Message{Action: ActionSaveOverrides, Data: ev.Dump}, nil
	case overrider.ApplyReportEvent:
		return Message{Action: ActionApplyReport, Data: ev.Report}, nil
	case overrider.BoxEvent:
		return Message{Action: ActionBox, Data: ev.Box}, nil
	case overrider.EditingEvent:
		return Message{Action: ActionEditing, Data: map[string]bool{"enabled": ev.Enabled}}, nil
	default:
		return Message{}, fmt.Errorf("protocol: unsupported event %T", e)
	}
}

// Patches wraps DOM patches for the page agent.
func Patches(ps []dom.Patch) Message {
	return Message{Action: ActionPatch, Data: ps}
}

// ErrorData is the payload of an error message.
type ErrorData struct {
	Command string `json:"command,omitempty"`
	Error   string `json:"error"`
}

// Error reports a failed command back to the host.
func Error(command string, err error) Message {
	return Message{Action: ActionError, Data: ErrorData{Command: command, Error: err.Error()}}
}

// ForHost reports whether a message is addressed to the host frame rather
// than consumed by the page agent itself.
func (m Message) ForHost() bool {
	switch m.Action {
	case ActionEditNode, ActionSaveOverrides, ActionApplyReport, ActionError:
		return true
	}
	return false
}
