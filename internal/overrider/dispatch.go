package overrider

import (
	"fmt"

	"github.com/standardbeagle/overrider/internal/highlight"
)

// Dispatch handles one command. Host mutations that fail return a
// *CommandError and leave state untouched.
func (o *Overrider) Dispatch(cmd Command) error {
	switch c := cmd.(type) {
	case InitOverrideCmd:
		o.editing = true
		o.emit(EditingEvent{Enabled: true})
		return nil

	case ComponentOverridesCmd:
		report := o.ApplyOverrides(c.Overrides)
		o.emit(ApplyReportEvent{Report: report})
		if o.selected != nil {
			o.refreshFixedBox()
		}
		return nil

	case ClearSelectionCmd:
		o.emitBox(o.boxes.ClearSelection())
		return nil

	case SetTagNameCmd:
		return o.mutate(c, func() error { return o.SetTagName(c.TagName) })
	case SetHTMLContentCmd:
		return o.mutate(c, func() error { return o.SetHTMLContent(c.HTMLContent) })
	case SetInlineCSSCmd:
		return o.mutate(c, func() error { return o.SetInlineCSS(c.InlineCSS) })
	case UpdateAttributeValueCmd:
		return o.mutate(c, func() error { return o.UpdateOriginalAttribute(c.Attribute) })
	case AddCSSClassCmd:
		return o.mutate(c, func() error { return o.AddCustomClass(c.ClassName) })
	case RemoveCSSClassCmd:
		return o.mutate(c, func() error { return o.RemoveCustomClass(c.ClassName) })
	case SetCustomAttributeCmd:
		return o.mutate(c, func() error { return o.SetCustomAttribute(c.Attribute) })
	case UpdateCustomAttributeCmd:
		return o.mutate(c, func() error { return o.SetCustomAttribute(c.Attribute) })
	case RemoveCustomAttributeCmd:
		return o.mutate(c, func() error { return o.RemoveCustomAttribute(c.AttributeName) })

	case AddGlobalCSSCmd:
		o.AddGlobalCSS(c.CSS)
		if o.selected != nil {
			o.notifySelection()
		}
		return nil

	case SaveNodeCmd:
		o.emit(SaveOverridesEvent{Dump: o.store.Dump()})
		return nil

	case SelectNodeCmd:
		if err := o.Select(c.ID); err != nil {
			return &CommandError{Action: c.Action(), Err: err}
		}
		o.notifySelection()
		return nil

	case HoverCmd:
		if !o.editing || c.ID == "" {
			return nil
		}
		label := c.TagName
		if el, ok := o.doc.Element(c.ID); ok {
			label = el.TagName()
		}
		g := o.remember(c.ID, c.Geometry)
		o.emitBox(o.boxes.Hover(c.ID, label, g))
		return nil

	case HoverOutCmd:
		if !o.editing {
			return nil
		}
		o.emitBox(o.boxes.HoverOut())
		return nil

	case ClickCmd:
		if !o.editing || c.ID == "" {
			return nil
		}
		o.remember(c.ID, c.Geometry)
		if err := o.Select(c.ID); err != nil {
			return &CommandError{Action: c.Action(), Err: err}
		}
		o.notifySelection()
		return nil

	case MeasureCmd:
		o.geometry[c.ID] = c.Geometry
		if c.ID != "" && c.ID == o.selectedID {
			o.refreshFixedBox()
		}
		return nil

	case ResizeCmd:
		clear(o.geometry)
		hover, fixed := o.boxes.Resize()
		o.emitBox(hover)
		o.emitBox(fixed)
		return nil

	default:
		return fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
}

// mutate runs a host mutation and, on success, sends the post-mutation
// notifications.
func (o *Overrider) mutate(cmd Command, fn func() error) error {
	if err := fn(); err != nil {
		return &CommandError{Action: cmd.Action(), Err: err}
	}
	o.notifySelection()
	o.emitBox(o.boxes.HoverOut())
	return nil
}

// notifySelection sends edit-node for the selection and redraws the fixed box.
func (o *Overrider) notifySelection() {
	_, nd, err := o.current()
	if err != nil {
		return
	}
	o.emit(EditNodeEvent{Snapshot: o.snapshot(o.selectedID, nd)})
	o.refreshFixedBox()
}

// refreshFixedBox moves the fixed box over the selection when its geometry
// is known, and relabels it in any case. Without geometry the box keeps its
// target id so the agent can measure it.
func (o *Overrider) refreshFixedBox() {
	if o.selected == nil {
		return
	}
	if g, ok := o.geometry[o.selectedID]; ok {
		o.emitBox(o.boxes.Select(o.selectedID, o.selected.TagName(), g))
		return
	}
	b := o.boxes.Relabel(o.selected.TagName())
	b.Target = o.selectedID
	o.emitBox(b)
}

func (o *Overrider) remember(id string, g *highlight.Geometry) highlight.Geometry {
	if g != nil {
		o.geometry[id] = *g
		return *g
	}
	return o.geometry[id]
}

func (o *Overrider) emitBox(b highlight.Box) {
	o.emit(BoxEvent{Box: b})
}
