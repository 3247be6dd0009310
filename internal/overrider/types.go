package overrider

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/standardbeagle/overrider/internal/dom"
)

// GlobalCSSKey is the reserved wire key that carries global CSS inside the
// node map of save-overrides and component_overrides payloads.
const GlobalCSSKey = "globalCSS"

// Attribute is a name/value pair.
type Attribute = dom.Attribute

// NodeData is the shadow record kept for one edited node.
type NodeData struct {
	IsModified                bool        `json:"isModified"`
	TagName                   string      `json:"tagName"`
	HTMLContent               string      `json:"htmlContent"`
	InlineCSS                 string      `json:"inlineCSS"`
	CustomClasses             []string    `json:"customClasses"`
	OriginalAttributes        []Attribute `json:"originalAttributes"`
	UpdatedOriginalAttributes []Attribute `json:"updatedOriginalAttributes"`
	CustomAttributes          []Attribute `json:"customAttributes"`
}

// Clone returns a deep copy with non-nil slices.
func (n *NodeData) Clone() NodeData {
	return NodeData{
		IsModified:                n.IsModified,
		TagName:                   n.TagName,
		HTMLContent:               n.HTMLContent,
		InlineCSS:                 n.InlineCSS,
		CustomClasses:             cloneStrings(n.CustomClasses),
		OriginalAttributes:        cloneAttrs(n.OriginalAttributes),
		UpdatedOriginalAttributes: cloneAttrs(n.UpdatedOriginalAttributes),
		CustomAttributes:          cloneAttrs(n.CustomAttributes),
	}
}

// NodeSnapshot is the edit-node payload for the selected node.
type NodeSnapshot struct {
	ID                 string      `json:"id"`
	TagName            string      `json:"tagName"`
	HTMLContent        string      `json:"htmlContent"`
	InlineCSS          string      `json:"inlineCSS"`
	CustomClasses      []string    `json:"customClasses"`
	OriginalAttributes []Attribute `json:"originalAttributes"`
	CustomAttributes   []Attribute `json:"customAttributes"`
	GlobalCSS          string      `json:"globalCSS"`
}

// OverridePayload is the saved override for one node, as sent in
// component_overrides. Nil fields are left untouched.
type OverridePayload struct {
	TagName            *string           `json:"tagName,omitempty" yaml:"tagName,omitempty"`
	HTMLContent        *string           `json:"htmlContent,omitempty" yaml:"htmlContent,omitempty"`
	InlineCSS          *string           `json:"inlineCSS,omitempty" yaml:"inlineCSS,omitempty"`
	CustomClasses      []string          `json:"customClasses,omitempty" yaml:"customClasses,omitempty"`
	CustomAttributes   map[string]string `json:"customAttributes,omitempty" yaml:"customAttributes,omitempty"`
	OriginalAttributes map[string]string `json:"originalAttributes,omitempty" yaml:"originalAttributes,omitempty"`
}

// OverrideSet is a full bulk-apply input: per-node payloads plus optional
// global CSS. On the wire the global CSS sits under GlobalCSSKey next to the
// node ids.
type OverrideSet struct {
	GlobalCSS *string
	Nodes     map[string]OverridePayload
}

// IDs returns node ids in sorted order.
func (s OverrideSet) IDs() []string {
	ids := make([]string, 0, len(s.Nodes))
	for id := range s.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of node payloads.
func (s OverrideSet) Len() int { return len(s.Nodes) }

func (s OverrideSet) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Nodes)+1)
	for id, p := range s.Nodes {
		out[id] = p
	}
	if s.GlobalCSS != nil {
		out[GlobalCSSKey] = *s.GlobalCSS
	}
	return json.Marshal(out)
}

func (s *OverrideSet) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.GlobalCSS = nil
	s.Nodes = make(map[string]OverridePayload, len(raw))
	for key, value := range raw {
		if key == GlobalCSSKey {
			var css string
			if err := json.Unmarshal(value, &css); err != nil {
				return fmt.Errorf("overrides %s: %w", GlobalCSSKey, err)
			}
			s.GlobalCSS = &css
			continue
		}
		var p OverridePayload
		if err := json.Unmarshal(value, &p); err != nil {
			return fmt.Errorf("overrides %q: %w", key, err)
		}
		s.Nodes[key] = p
	}
	return nil
}

// Dump is the save-overrides payload: every shadow record plus global CSS.
type Dump struct {
	Nodes     map[string]NodeData
	GlobalCSS string
}

func (d Dump) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Nodes)+1)
	for id, nd := range d.Nodes {
		out[id] = nd
	}
	if d.GlobalCSS != "" {
		out[GlobalCSSKey] = d.GlobalCSS
	}
	return json.Marshal(out)
}

func (d *Dump) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.GlobalCSS = ""
	d.Nodes = make(map[string]NodeData, len(raw))
	for key, value := range raw {
		if key == GlobalCSSKey {
			if err := json.Unmarshal(value, &d.GlobalCSS); err != nil {
				return fmt.Errorf("dump %s: %w", GlobalCSSKey, err)
			}
			continue
		}
		var nd NodeData
		if err := json.Unmarshal(value, &nd); err != nil {
			return fmt.Errorf("dump %q: %w", key, err)
		}
		d.Nodes[key] = nd
	}
	return nil
}

// Overrides converts the modified records of a dump back into a bulk-apply
// input. Original attributes carry the last value written for each name.
func (d Dump) Overrides() OverrideSet {
	set := OverrideSet{Nodes: make(map[string]OverridePayload)}
	if d.GlobalCSS != "" {
		css := d.GlobalCSS
		set.GlobalCSS = &css
	}
	for id, nd := range d.Nodes {
		if !nd.IsModified {
			continue
		}
		tag, markup, css := nd.TagName, nd.HTMLContent, nd.InlineCSS
		p := OverridePayload{
			TagName:       &tag,
			HTMLContent:   &markup,
			InlineCSS:     &css,
			CustomClasses: cloneStrings(nd.CustomClasses),
		}
		if len(nd.CustomAttributes) > 0 {
			p.CustomAttributes = make(map[string]string, len(nd.CustomAttributes))
			for _, a := range nd.CustomAttributes {
				p.CustomAttributes[a.Name] = a.Value
			}
		}
		if len(nd.UpdatedOriginalAttributes) > 0 {
			p.OriginalAttributes = make(map[string]string, len(nd.UpdatedOriginalAttributes))
			for _, a := range nd.UpdatedOriginalAttributes {
				p.OriginalAttributes[a.Name] = a.Value
			}
		}
		set.Nodes[id] = p
	}
	return set
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneAttrs(in []Attribute) []Attribute {
	out := make([]Attribute, len(in))
	copy(out, in)
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
