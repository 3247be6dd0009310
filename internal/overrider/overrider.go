// Package overrider is the element editor reducer. It keeps a shadow record
// per edited node in step with the mutations it applies to a dom.Document,
// tracks the current selection and the two highlight boxes, and re-applies
// saved override sets.
//
// An Overrider is not safe for concurrent use; callers serialise commands.
package overrider

import (
	"fmt"
	"strings"

	"github.com/standardbeagle/overrider/internal/dom"
	"github.com/standardbeagle/overrider/internal/highlight"
)

// DefaultFilteredAttributes are never reported in edit-node original
// attributes. They stay in the DOM and in shadow state.
var DefaultFilteredAttributes = []string{
	"class",
	"style",
	"data-id",
	"anima-layer",
	"anima-container",
	"component",
	"anima-component-wrapper",
	"anima-not-ready",
	"anima-word-break",
	"anima-hidden",
	"anima-smart-layers-pointers",
	"id",
	"anima-show-on-scroll",
	"data-initial-state",
}

// Overrider applies editing commands to one document.
type Overrider struct {
	doc   dom.Document
	store *Store
	boxes *highlight.Manager

	selected   dom.Element
	selectedID string

	geometry map[string]highlight.Geometry
	filtered map[string]bool
	editing  bool
	emit     Emitter
}

// Option configures an Overrider.
type Option func(*Overrider)

// WithEmitter sets the receiver of outbound events.
func WithEmitter(fn Emitter) Option {
	return func(o *Overrider) {
		if fn != nil {
			o.emit = fn
		}
	}
}

// WithStore uses s instead of a fresh store.
func WithStore(s *Store) Option {
	return func(o *Overrider) {
		if s != nil {
			o.store = s
		}
	}
}

// WithFilteredAttributes hides extra attribute names from edit-node.
func WithFilteredAttributes(names ...string) Option {
	return func(o *Overrider) {
		for _, n := range names {
			o.filtered[strings.ToLower(n)] = true
		}
	}
}

// WithEditing starts the overrider with editing already enabled.
func WithEditing() Option {
	return func(o *Overrider) {
		o.editing = true
	}
}

// New returns an Overrider over doc. Every anchor href in doc is removed.
func New(doc dom.Document, opts ...Option) *Overrider {
	o := &Overrider{
		doc:      doc,
		store:    NewStore(),
		boxes:    highlight.NewManager(),
		geometry: make(map[string]highlight.Geometry),
		filtered: make(map[string]bool, len(DefaultFilteredAttributes)),
		emit:     func(Event) {},
	}
	for _, n := range DefaultFilteredAttributes {
		o.filtered[n] = true
	}
	for _, opt := range opts {
		opt(o)
	}
	doc.StripLinks()
	return o
}

// Store returns the shadow store.
func (o *Overrider) Store() *Store { return o.store }

// Editing reports whether pointer events are acted on.
func (o *Overrider) Editing() bool { return o.editing }

// SelectedID returns the id of the current selection, or "".
func (o *Overrider) SelectedID() string { return o.selectedID }

// Boxes returns the current hover and fixed boxes.
func (o *Overrider) Boxes() (hover, fixed highlight.Box) {
	return o.boxes.Hovered(), o.boxes.Fixed()
}

// Select makes the element with id the current selection, capturing its
// shadow record on first selection.
func (o *Overrider) Select(id string) error {
	el, ok := o.doc.Element(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	o.store.capture(id, el)
	o.selected = el
	o.selectedID = id
	return nil
}

// Deselect drops the current selection.
func (o *Overrider) Deselect() {
	o.selected = nil
	o.selectedID = ""
}

// Snapshot returns the edit-node view of the current selection.
func (o *Overrider) Snapshot() (NodeSnapshot, error) {
	_, nd, err := o.current()
	if err != nil {
		return NodeSnapshot{}, err
	}
	return o.snapshot(o.selectedID, nd), nil
}

// Dump returns a deep copy of every shadow record and the global CSS.
func (o *Overrider) Dump() Dump { return o.store.Dump() }

func (o *Overrider) snapshot(id string, nd *NodeData) NodeSnapshot {
	originals := make([]Attribute, 0, len(nd.OriginalAttributes))
	for _, a := range nd.OriginalAttributes {
		if o.filtered[a.Name] {
			continue
		}
		originals = append(originals, a)
	}
	return NodeSnapshot{
		ID:                 id,
		TagName:            nd.TagName,
		HTMLContent:        nd.HTMLContent,
		InlineCSS:          nd.InlineCSS,
		CustomClasses:      cloneStrings(nd.CustomClasses),
		OriginalAttributes: originals,
		CustomAttributes:   cloneAttrs(nd.CustomAttributes),
		GlobalCSS:          o.store.globalCSS,
	}
}

func (o *Overrider) current() (dom.Element, *NodeData, error) {
	if o.selected == nil {
		return nil, nil, ErrNoSelection
	}
	return o.selected, o.store.capture(o.selectedID, o.selected), nil
}

// SetTagName renames the selected element. The selection follows the
// replacement node.
func (o *Overrider) SetTagName(name string) error {
	el, nd, err := o.current()
	if err != nil {
		return err
	}
	next, err := setTagName(el, nd, name)
	if err != nil {
		return err
	}
	o.selected = next
	o.boxes.Relabel(nd.TagName)
	return nil
}

// SetHTMLContent replaces the selected element's inner markup.
func (o *Overrider) SetHTMLContent(markup string) error {
	el, nd, err := o.current()
	if err != nil {
		return err
	}
	return setHTMLContent(el, nd, markup)
}

// SetInlineCSS replaces the selected element's style attribute.
func (o *Overrider) SetInlineCSS(css string) error {
	el, nd, err := o.current()
	if err != nil {
		return err
	}
	setInlineCSS(el, nd, css)
	return nil
}

// UpdateOriginalAttribute writes an attribute that came with the element.
func (o *Overrider) UpdateOriginalAttribute(attr Attribute) error {
	el, nd, err := o.current()
	if err != nil {
		return err
	}
	return updateOriginalAttribute(el, nd, attr)
}

// SetCustomAttribute adds or updates a host-managed attribute.
func (o *Overrider) SetCustomAttribute(attr Attribute) error {
	el, nd, err := o.current()
	if err != nil {
		return err
	}
	return setCustomAttribute(el, nd, attr)
}

// RemoveCustomAttribute removes a host-managed attribute.
func (o *Overrider) RemoveCustomAttribute(name string) error {
	el, nd, err := o.current()
	if err != nil {
		return err
	}
	return removeCustomAttribute(el, nd, name)
}

// AddCustomClass adds a class to the selected element.
func (o *Overrider) AddCustomClass(name string) error {
	el, nd, err := o.current()
	if err != nil {
		return err
	}
	return addCustomClass(el, nd, name)
}

// RemoveCustomClass removes a class previously added as custom.
func (o *Overrider) RemoveCustomClass(name string) error {
	el, nd, err := o.current()
	if err != nil {
		return err
	}
	return removeCustomClass(el, nd, name)
}

// AddGlobalCSS sets the page-level stylesheet. It needs no selection.
func (o *Overrider) AddGlobalCSS(css string) {
	o.doc.SetGlobalStyle(css)
	o.store.globalCSS = css
}

func setTagName(el dom.Element, nd *NodeData, name string) (dom.Element, error) {
	if !dom.ValidTagName(name) {
		return el, fmt.Errorf("%w: %q", dom.ErrInvalidTag, name)
	}
	lower := strings.ToLower(name)
	if el.TagName() != lower {
		next, err := el.ReplaceTag(lower)
		if err != nil {
			return el, err
		}
		el = next
	}
	nd.TagName = lower
	nd.IsModified = true
	return el, nil
}

func setHTMLContent(el dom.Element, nd *NodeData, markup string) error {
	if err := el.SetInnerHTML(markup); err != nil {
		return err
	}
	nd.HTMLContent = markup
	nd.IsModified = true
	return nil
}

func setInlineCSS(el dom.Element, nd *NodeData, css string) {
	el.SetAttr("style", css)
	nd.InlineCSS = css
	nd.IsModified = true
}

func updateOriginalAttribute(el dom.Element, nd *NodeData, attr Attribute) error {
	name := strings.ToLower(attr.Name)
	if name == "" {
		return ErrEmptyName
	}
	el.SetAttr(name, attr.Value)
	for i := range nd.OriginalAttributes {
		if nd.OriginalAttributes[i].Name == name {
			nd.OriginalAttributes[i].Value = attr.Value
			break
		}
	}
	nd.UpdatedOriginalAttributes = append(nd.UpdatedOriginalAttributes, Attribute{Name: name, Value: attr.Value})
	if name == "style" {
		nd.InlineCSS = attr.Value
	}
	nd.IsModified = true
	return nil
}

func setCustomAttribute(el dom.Element, nd *NodeData, attr Attribute) error {
	name := strings.ToLower(attr.Name)
	if name == "" {
		return ErrEmptyName
	}
	el.SetAttr(name, attr.Value)

	found := false
	for i := range nd.CustomAttributes {
		if nd.CustomAttributes[i].Name == name {
			nd.CustomAttributes[i].Value = attr.Value
			found = true
			break
		}
	}
	if !found {
		nd.CustomAttributes = append(nd.CustomAttributes, Attribute{Name: name, Value: attr.Value})
	}
	nd.OriginalAttributes = removeAttr(nd.OriginalAttributes, name)
	nd.IsModified = true
	return nil
}

func removeCustomAttribute(el dom.Element, nd *NodeData, name string) error {
	name = strings.ToLower(name)
	if name == "" {
		return ErrEmptyName
	}
	el.RemoveAttr(name)
	nd.CustomAttributes = removeAttr(nd.CustomAttributes, name)
	nd.IsModified = true
	return nil
}

func addCustomClass(el dom.Element, nd *NodeData, name string) error {
	if name == "" {
		return ErrEmptyName
	}
	el.AddClass(name)
	nd.CustomClasses = append(nd.CustomClasses, name)
	nd.IsModified = true
	return nil
}

func removeCustomClass(el dom.Element, nd *NodeData, name string) error {
	if name == "" {
		return ErrEmptyName
	}
	el.RemoveClass(name)
	for i, c := range nd.CustomClasses {
		if c == name {
			nd.CustomClasses = append(nd.CustomClasses[:i], nd.CustomClasses[i+1:]...)
			break
		}
	}
	nd.IsModified = true
	return nil
}

func removeAttr(attrs []Attribute, name string) []Attribute {
	out := attrs[:0]
	for _, a := range attrs {
		if a.Name != name {
			out = append(out, a)
		}
	}
	return out
}
