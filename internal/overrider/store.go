package overrider

import (
	"sort"

	"github.com/standardbeagle/overrider/internal/dom"
)

// baseline is what an element looked like the first time it was captured.
// Bulk apply rebuilds records from it so repeated applies converge.
type baseline struct {
	attrs []Attribute
}

// Store holds shadow records keyed by node id plus the page global CSS.
type Store struct {
	nodes     map[string]*NodeData
	baselines map[string]baseline
	globalCSS string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		nodes:     make(map[string]*NodeData),
		baselines: make(map[string]baseline),
	}
}

// Node returns a copy of the record for id.
func (s *Store) Node(id string) (NodeData, bool) {
	nd, ok := s.nodes[id]
	if !ok {
		return NodeData{}, false
	}
	return nd.Clone(), true
}

// IDs returns the ids of all records in sorted order.
func (s *Store) IDs() []string {
	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of records.
func (s *Store) Len() int { return len(s.nodes) }

// GlobalCSS returns the last global CSS written.
func (s *Store) GlobalCSS() string { return s.globalCSS }

// Dump deep-copies the whole store.
func (s *Store) Dump() Dump {
	d := Dump{
		Nodes:     make(map[string]NodeData, len(s.nodes)),
		GlobalCSS: s.globalCSS,
	}
	for id, nd := range s.nodes {
		d.Nodes[id] = nd.Clone()
	}
	return d
}

// capture returns the record for el's id, creating it from the live element
// on first sight.
func (s *Store) capture(id string, el dom.Element) *NodeData {
	if nd, ok := s.nodes[id]; ok {
		return nd
	}
	base := s.baseline(id, el)
	nd := &NodeData{
		TagName:                   el.TagName(),
		HTMLContent:               el.InnerHTML(),
		InlineCSS:                 styleOf(el),
		CustomClasses:             []string{},
		OriginalAttributes:        cloneAttrs(base.attrs),
		UpdatedOriginalAttributes: []Attribute{},
		CustomAttributes:          []Attribute{},
	}
	s.nodes[id] = nd
	return nd
}

func (s *Store) baseline(id string, el dom.Element) baseline {
	if b, ok := s.baselines[id]; ok {
		return b
	}
	b := baseline{attrs: el.Attributes()}
	s.baselines[id] = b
	return b
}

// reset replaces the record for id with a fresh, modified one built from the
// baseline, leaving out attribute names managed as custom attributes.
func (s *Store) reset(id string, el dom.Element, custom map[string]string) *NodeData {
	base := s.baseline(id, el)
	originals := make([]Attribute, 0, len(base.attrs))
	for _, a := range base.attrs {
		if _, managed := custom[a.Name]; managed {
			continue
		}
		originals = append(originals, a)
	}
	nd := &NodeData{
		IsModified:                true,
		TagName:                   el.TagName(),
		HTMLContent:               el.InnerHTML(),
		InlineCSS:                 styleOf(el),
		CustomClasses:             []string{},
		OriginalAttributes:        originals,
		UpdatedOriginalAttributes: []Attribute{},
		CustomAttributes:          []Attribute{},
	}
	s.nodes[id] = nd
	return nd
}

func styleOf(el dom.Element) string {
	css, _ := el.Attr("style")
	return css
}
