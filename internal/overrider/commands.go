package overrider

import "github.com/standardbeagle/overrider/internal/highlight"

// Command is one inbound instruction for the reducer. The set is closed;
// Dispatch handles every type declared in this file.
type Command interface {
	// Action returns the wire action name.
	Action() string
	isCommand()
}

// Host commands.
type (
	InitOverrideCmd struct{}

	ComponentOverridesCmd struct {
		Overrides OverrideSet
	}

	ClearSelectionCmd struct{}

	SetTagNameCmd struct {
		TagName string
	}

	SetHTMLContentCmd struct {
		HTMLContent string
	}

	SetInlineCSSCmd struct {
		InlineCSS string
	}

	AddGlobalCSSCmd struct {
		CSS string
	}

	UpdateAttributeValueCmd struct {
		Attribute Attribute
	}

	AddCSSClassCmd struct {
		ClassName string
	}

	RemoveCSSClassCmd struct {
		ClassName string
	}

	SetCustomAttributeCmd struct {
		Attribute Attribute
	}

	UpdateCustomAttributeCmd struct {
		Attribute Attribute
	}

	RemoveCustomAttributeCmd struct {
		AttributeName string
	}

	SaveNodeCmd struct{}

	// SelectNodeCmd selects by id without a pointer event. Used by tools.
	SelectNodeCmd struct {
		ID string
	}
)

// Page agent events. Geometry is optional; without it boxes keep their
// previous position.
type (
	HoverCmd struct {
		ID       string
		TagName  string
		Geometry *highlight.Geometry
	}

	HoverOutCmd struct{}

	ClickCmd struct {
		ID       string
		Geometry *highlight.Geometry
	}

	ResizeCmd struct{}

	MeasureCmd struct {
		ID       string
		Geometry highlight.Geometry
	}
)

func (InitOverrideCmd) Action() string          { return "initOverride" }
func (ComponentOverridesCmd) Action() string    { return "component_overrides" }
func (ClearSelectionCmd) Action() string        { return "clear-selection" }
func (SetTagNameCmd) Action() string            { return "set-tag-name" }
func (SetHTMLContentCmd) Action() string        { return "set-html-content" }
func (SetInlineCSSCmd) Action() string          { return "set-inline-css" }
func (AddGlobalCSSCmd) Action() string          { return "add-global-css" }
func (UpdateAttributeValueCmd) Action() string  { return "update-attribute-value" }
func (AddCSSClassCmd) Action() string           { return "add-css-class" }
func (RemoveCSSClassCmd) Action() string        { return "remove-css-class" }
func (SetCustomAttributeCmd) Action() string    { return "set-custom-attribute" }
func (UpdateCustomAttributeCmd) Action() string { return "update-custom-attribute" }
func (RemoveCustomAttributeCmd) Action() string { return "remove-custom-attribute" }
func (SaveNodeCmd) Action() string              { return "save-node" }
func (SelectNodeCmd) Action() string            { return "select-node" }
func (HoverCmd) Action() string                 { return "hover" }
func (HoverOutCmd) Action() string              { return "hover-out" }
func (ClickCmd) Action() string                 { return "click" }
func (ResizeCmd) Action() string                { return "resize" }
func (MeasureCmd) Action() string               { return "measure" }

func (InitOverrideCmd) isCommand()          {}
func (ComponentOverridesCmd) isCommand()    {}
func (ClearSelectionCmd) isCommand()        {}
func (SetTagNameCmd) isCommand()            {}
func (SetHTMLContentCmd) isCommand()        {}
func (SetInlineCSSCmd) isCommand()          {}
func (AddGlobalCSSCmd) isCommand()          {}
func (UpdateAttributeValueCmd) isCommand()  {}
func (AddCSSClassCmd) isCommand()           {}
func (RemoveCSSClassCmd) isCommand()        {}
func (SetCustomAttributeCmd) isCommand()    {}
func (UpdateCustomAttributeCmd) isCommand() {}
func (RemoveCustomAttributeCmd) isCommand() {}
func (SaveNodeCmd) isCommand()              {}
func (SelectNodeCmd) isCommand()            {}
func (HoverCmd) isCommand()                 {}
func (HoverOutCmd) isCommand()              {}
func (ClickCmd) isCommand()                 {}
func (ResizeCmd) isCommand()                {}
func (MeasureCmd) isCommand()               {}
