// Package dom defines the target-handle abstraction the editor mutates, so the
// reducer never touches a concrete document directly.
package dom

import "errors"

// IDAttribute is the attribute that identifies editable nodes.
const IDAttribute = "data-id"

// GlobalStyleID is the id of the single page-level style element managed by
// SetGlobalStyle.
const GlobalStyleID = "overrides-global-css"

var (
	// ErrDetached is returned when an element has no parent to be replaced in.
	ErrDetached = errors.New("element is detached from the document")

	// ErrInvalidTag is returned for empty or malformed tag names.
	ErrInvalidTag = errors.New("invalid tag name")
)

// Attribute is a single name/value pair on an element.
type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Element is a handle on one live node.
type Element interface {
	// ID returns the data-id value, or "" when the node carries none.
	ID() string
	// TagName returns the lowercase tag name.
	TagName() string
	// Attributes returns every attribute in document order.
	Attributes() []Attribute
	Attr(name string) (string, bool)
	SetAttr(name, value string)
	RemoveAttr(name string)
	InnerHTML() string
	SetInnerHTML(markup string) error
	AddClass(name string)
	RemoveClass(name string)
	// ReplaceTag swaps the node for a new element named tag carrying the same
	// attributes and children. The returned handle replaces the receiver,
	// which must not be used afterwards.
	ReplaceTag(tag string) (Element, error)
}

// Document resolves elements and owns page-level state.
type Document interface {
	// Element finds the element whose data-id equals id.
	Element(id string) (Element, bool)
	// SetGlobalStyle creates or updates the single managed style element.
	SetGlobalStyle(css string)
	// StripLinks removes href from every anchor and returns how many changed.
	StripLinks() int
}
