package overrider

import (
	"fmt"
	"strings"

	"github.com/standardbeagle/overrider/internal/dom"
)

// ApplyReport lists which ids a bulk apply reached.
type ApplyReport struct {
	Applied []string          `json:"applied"`
	Failed  []string          `json:"failed"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// OK reports whether every entry applied.
func (r ApplyReport) OK() bool { return len(r.Failed) == 0 }

func (r *ApplyReport) fail(id string, err error) {
	r.Failed = append(r.Failed, id)
	if r.Errors == nil {
		r.Errors = make(map[string]string)
	}
	r.Errors[id] = err.Error()
}

// ApplyOverrides re-applies a saved override set. Global CSS goes first, then
// each node in id order. Entries whose element is missing, or whose tag is
// invalid, are reported and skipped. No edit-node notifications are sent and
// the previous selection is restored afterwards.
//
// Each touched record is rebuilt from the element's first captured
// attributes, so applying the same set twice yields the same state.
func (o *Overrider) ApplyOverrides(set OverrideSet) ApplyReport {
	report := ApplyReport{Applied: []string{}, Failed: []string{}}

	if set.GlobalCSS != nil {
		o.AddGlobalCSS(*set.GlobalCSS)
	}

	prevID := o.selectedID
	for _, id := range set.IDs() {
		if err := o.applyOne(id, set.Nodes[id]); err != nil {
			report.fail(id, err)
			continue
		}
		report.Applied = append(report.Applied, id)
	}

	o.Deselect()
	if prevID != "" {
		if el, ok := o.doc.Element(prevID); ok {
			o.selected = el
			o.selectedID = prevID
		}
	}
	return report
}

func (o *Overrider) applyOne(id string, p OverridePayload) error {
	el, ok := o.doc.Element(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	// A rejected entry leaves the element and its record untouched.
	if err := validatePayload(p); err != nil {
		return err
	}
	o.selected = el
	o.selectedID = id

	custom := make(map[string]string, len(p.CustomAttributes))
	for name, value := range p.CustomAttributes {
		custom[strings.ToLower(name)] = value
	}
	nd := o.store.reset(id, el, custom)

	for _, name := range sortedKeys(p.OriginalAttributes) {
		if err := updateOriginalAttribute(el, nd, Attribute{Name: name, Value: p.OriginalAttributes[name]}); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(custom) {
		if err := setCustomAttribute(el, nd, Attribute{Name: name, Value: custom[name]}); err != nil {
			return err
		}
	}
	for _, class := range p.CustomClasses {
		if err := addCustomClass(el, nd, class); err != nil {
			return err
		}
	}
	if p.HTMLContent != nil {
		if err := setHTMLContent(el, nd, *p.HTMLContent); err != nil {
			return err
		}
	}
	if p.InlineCSS != nil {
		setInlineCSS(el, nd, *p.InlineCSS)
	}
	if p.TagName != nil {
		next, err := setTagName(el, nd, *p.TagName)
		if err != nil {
			return err
		}
		o.selected = next
	}
	return nil
}

// validatePayload reports the first field applyOne would fail on.
func validatePayload(p OverridePayload) error {
	if p.TagName != nil && !dom.ValidTagName(*p.TagName) {
		return fmt.Errorf("%w: %q", dom.ErrInvalidTag, *p.TagName)
	}
	for name := range p.OriginalAttributes {
		if name == "" {
			return ErrEmptyName
		}
	}
	for name := range p.CustomAttributes {
		if name == "" {
			return ErrEmptyName
		}
	}
	for _, class := range p.CustomClasses {
		if class == "" {
			return ErrEmptyName
		}
	}
	return nil
}
