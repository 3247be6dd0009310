// Package highlight computes the geometry of the two overlay boxes drawn over
// the page: the hover preview and the fixed selection box.
package highlight

import "math"

// Offscreen is where a reset box is parked.
const Offscreen = -20

// Kind names one of the two boxes.
type Kind string

const (
	KindHover Kind = "hover"
	KindFixed Kind = "fixed"
)

// Rect is an element's client rectangle, relative to the viewport.
type Rect struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Point is a document scroll offset.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Geometry is a rect together with the scroll offset it was measured at.
type Geometry struct {
	Rect   Rect  `json:"rect"`
	Scroll Point `json:"scroll"`
}

// Box is an absolutely positioned overlay rectangle in document coordinates.
type Box struct {
	Kind   Kind    `json:"kind"`
	Label  string  `json:"label,omitempty"`
	Target string  `json:"target,omitempty"`
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Visible reports whether the box is on screen.
func (b Box) Visible() bool {
	return b.Width > 0 || b.Height > 0
}

// Position places b over a target measured at g. Top and left are clamped
// at zero.
func Position(b *Box, g Geometry) {
	b.Width = g.Rect.Width
	b.Height = g.Rect.Height
	b.Top = math.Max(0, g.Rect.Top+g.Scroll.Y)
	b.Left = math.Max(0, g.Rect.Left+g.Scroll.X)
}

// Reset parks b off-screen with zero size.
func Reset(b *Box) {
	b.Top = Offscreen
	b.Left = Offscreen
	b.Width = 0
	b.Height = 0
	b.Target = ""
}

// Manager owns the hover and fixed boxes.
type Manager struct {
	hover Box
	fixed Box
}

// NewManager returns a manager with both boxes reset.
func NewManager() *Manager {
	m := &Manager{
		hover: Box{Kind: KindHover},
		fixed: Box{Kind: KindFixed},
	}
	Reset(&m.hover)
	Reset(&m.fixed)
	return m
}

// Hover positions the hover box over target.
func (m *Manager) Hover(target, label string, g Geometry) Box {
	m.hover.Label = label
	m.hover.Target = target
	Position(&m.hover, g)
	return m.hover
}

// HoverOut resets the hover box.
func (m *Manager) HoverOut() Box {
	Reset(&m.hover)
	return m.hover
}

// Select positions the fixed box over target.
func (m *Manager) Select(target, label string, g Geometry) Box {
	m.fixed.Label = label
	m.fixed.Target = target
	Position(&m.fixed, g)
	return m.fixed
}

// Relabel changes the fixed box label without moving it.
func (m *Manager) Relabel(label string) Box {
	m.fixed.Label = label
	return m.fixed
}

// ClearSelection hides the fixed box.
func (m *Manager) ClearSelection() Box {
	Reset(&m.fixed)
	return m.fixed
}

// Resize resets both boxes; absolute positions are stale after reflow.
func (m *Manager) Resize() (hover, fixed Box) {
	Reset(&m.hover)
	Reset(&m.fixed)
	return m.hover, m.fixed
}

// Hovered returns the current hover box.
func (m *Manager) Hovered() Box { return m.hover }

// Fixed returns the current fixed box.
func (m *Manager) Fixed() Box { return m.fixed }
