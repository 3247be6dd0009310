package overrider

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/standardbeagle/overrider/internal/dom"
)

const page = `<html><head></head><body>
<div data-id="n1" class="card" title="hello" anima-layer="7"><p>inner</p></div>
<section data-id="n2" style="color: red">two</section>
<a data-id="n3" href="/x">link</a>
<p>no id</p>
</body></html>`

func newTestOverrider(t *testing.T, opts ...Option) (*Overrider, *dom.HTMLDocument, *[]Event) {
	t.Helper()
	doc, err := dom.ParseHTMLString(page)
	if err != nil {
		t.Fatalf("ParseHTMLString: %v", err)
	}
	var events []Event
	opts = append([]Option{WithEmitter(func(e Event) { events = append(events, e) })}, opts...)
	return New(doc, opts...), doc, &events
}

func mustSelect(t *testing.T, o *Overrider, id string) {
	t.Helper()
	if err := o.Select(id); err != nil {
		t.Fatalf("Select(%q): %v", id, err)
	}
}

func node(t *testing.T, o *Overrider, id string) NodeData {
	t.Helper()
	nd, ok := o.Store().Node(id)
	if !ok {
		t.Fatalf("no record for %q", id)
	}
	return nd
}

func TestNew_StripsLinks(t *testing.T) {
	_, doc, _ := newTestOverrider(t)
	el, _ := doc.Element("n3")
	if _, ok := el.Attr("href"); ok {
		t.Error("expected href to be stripped on construction")
	}
}

func TestSelect_CapturesLiveAttributes(t *testing.T) {
	o, doc, _ := newTestOverrider(t)

	for _, id := range []string{"n1", "n2", "n3"} {
		mustSelect(t, o, id)
		el, _ := doc.Element(id)
		nd := node(t, o, id)
		if !reflect.DeepEqual(nd.OriginalAttributes, el.Attributes()) {
			t.Errorf("%s: OriginalAttributes = %v; want %v", id, nd.OriginalAttributes, el.Attributes())
		}
		if nd.IsModified {
			t.Errorf("%s: fresh capture must not be modified", id)
		}
		if nd.TagName != el.TagName() || nd.HTMLContent != el.InnerHTML() {
			t.Errorf("%s: capture mismatch %+v", id, nd)
		}
	}

	if got := node(t, o, "n2").InlineCSS; got != "color: red" {
		t.Errorf("InlineCSS = %q; want %q", got, "color: red")
	}
}

func TestSelect_Missing(t *testing.T) {
	o, _, _ := newTestOverrider(t)
	if err := o.Select("nope"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("Select(nope) = %v; want ErrNodeNotFound", err)
	}
	if o.SelectedID() != "" {
		t.Error("failed select must not change the selection")
	}
}

func TestMutations_RequireSelection(t *testing.T) {
	o, doc, _ := newTestOverrider(t)
	before, _ := doc.HTML()

	ops := map[string]func() error{
		"SetTagName":            func() error { return o.SetTagName("span") },
		"SetHTMLContent":        func() error { return o.SetHTMLContent("x") },
		"SetInlineCSS":          func() error { return o.SetInlineCSS("color: blue") },
		"UpdateOriginalAttr":    func() error { return o.UpdateOriginalAttribute(Attribute{Name: "title", Value: "x"}) },
		"SetCustomAttribute":    func() error { return o.SetCustomAttribute(Attribute{Name: "data-x", Value: "1"}) },
		"RemoveCustomAttribute": func() error { return o.RemoveCustomAttribute("data-x") },
		"AddCustomClass":        func() error { return o.AddCustomClass("hl") },
		"RemoveCustomClass":     func() error { return o.RemoveCustomClass("hl") },
	}
	for name, fn := range ops {
		if err := fn(); !errors.Is(err, ErrNoSelection) {
			t.Errorf("%s() = %v; want ErrNoSelection", name, err)
		}
	}

	after, _ := doc.HTML()
	if before != after {
		t.Error("document changed without a selection")
	}
	if o.Store().Len() != 0 {
		t.Error("store changed without a selection")
	}
}

func TestCustomAttribute_RoundTrip(t *testing.T) {
	o, doc, _ := newTestOverrider(t)
	mustSelect(t, o, "n1")
	if err := o.SetCustomAttribute(Attribute{Name: "data-keep", Value: "k"}); err != nil {
		t.Fatal(err)
	}
	prior := node(t, o, "n1").CustomAttributes

	if err := o.SetCustomAttribute(Attribute{Name: "data-x", Value: "1"}); err != nil {
		t.Fatal(err)
	}
	if err := o.RemoveCustomAttribute("data-x"); err != nil {
		t.Fatal(err)
	}

	if got := node(t, o, "n1").CustomAttributes; !reflect.DeepEqual(got, prior) {
		t.Errorf("CustomAttributes = %v; want %v", got, prior)
	}
	el, _ := doc.Element("n1")
	if _, ok := el.Attr("data-x"); ok {
		t.Error("data-x still on the element")
	}

	// Removing an absent attribute is a no-op.
	if err := o.RemoveCustomAttribute("data-missing"); err != nil {
		t.Errorf("RemoveCustomAttribute(missing) = %v", err)
	}
}

func TestSetCustomAttribute_UpdatesInPlaceAndMovesOriginal(t *testing.T) {
	o, _, _ := newTestOverrider(t)
	mustSelect(t, o, "n1")

	if err := o.SetCustomAttribute(Attribute{Name: "title", Value: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := o.SetCustomAttribute(Attribute{Name: "TITLE", Value: "b"}); err != nil {
		t.Fatal(err)
	}

	nd := node(t, o, "n1")
	want := []Attribute{{Name: "title", Value: "b"}}
	if !reflect.DeepEqual(nd.CustomAttributes, want) {
		t.Errorf("CustomAttributes = %v; want %v", nd.CustomAttributes, want)
	}
	for _, a := range nd.OriginalAttributes {
		if a.Name == "title" {
			t.Error("title must leave originalAttributes once managed as custom")
		}
	}
}

func TestUpdateOriginalAttribute_Twice(t *testing.T) {
	o, doc, _ := newTestOverrider(t)
	mustSelect(t, o, "n1")

	for _, v := range []string{"x", "y"} {
		if err := o.UpdateOriginalAttribute(Attribute{Name: "class", Value: v}); err != nil {
			t.Fatal(err)
		}
	}

	nd := node(t, o, "n1")
	count := 0
	for _, a := range nd.OriginalAttributes {
		if a.Name == "class" {
			count++
			if a.Value != "y" {
				t.Errorf("class = %q; want y", a.Value)
			}
		}
	}
	if count != 1 {
		t.Errorf("found %d class entries; want 1", count)
	}
	want := []Attribute{{Name: "class", Value: "x"}, {Name: "class", Value: "y"}}
	if !reflect.DeepEqual(nd.UpdatedOriginalAttributes, want) {
		t.Errorf("UpdatedOriginalAttributes = %v; want %v", nd.UpdatedOriginalAttributes, want)
	}
	el, _ := doc.Element("n1")
	if v, _ := el.Attr("class"); v != "y" {
		t.Errorf("DOM class = %q; want y", v)
	}
}

func TestSetTagName(t *testing.T) {
	o, doc, _ := newTestOverrider(t)
	mustSelect(t, o, "n1")
	el, _ := doc.Element("n1")
	attrs := el.Attributes()
	markup := el.InnerHTML()

	if err := o.SetTagName("ARTICLE"); err != nil {
		t.Fatal(err)
	}

	got, _ := doc.Element("n1")
	if got.TagName() != "article" {
		t.Errorf("TagName() = %q; want article", got.TagName())
	}
	if !reflect.DeepEqual(got.Attributes(), attrs) {
		t.Errorf("attributes = %v; want %v", got.Attributes(), attrs)
	}
	if got.InnerHTML() != markup {
		t.Errorf("InnerHTML() = %q; want %q", got.InnerHTML(), markup)
	}
	if node(t, o, "n1").TagName != "article" {
		t.Error("shadow tag not updated")
	}

	// The selection must follow the replacement.
	if err := o.SetInlineCSS("color: green"); err != nil {
		t.Fatal(err)
	}
	out, _ := doc.HTML()
	if !strings.Contains(out, `<article data-id="n1" class="card" title="hello" anima-layer="7" style="color: green">`) {
		t.Errorf("selection not re-pointed: %s", out)
	}

	if err := o.SetTagName("not valid"); !errors.Is(err, dom.ErrInvalidTag) {
		t.Errorf("SetTagName(invalid) = %v; want ErrInvalidTag", err)
	}
}

func TestSetTagName_SameTagKeepsElement(t *testing.T) {
	o, doc, _ := newTestOverrider(t)
	mustSelect(t, o, "n1")
	if err := o.SetTagName("DIV"); err != nil {
		t.Fatal(err)
	}
	out, _ := doc.HTML()
	if !strings.Contains(out, `<div data-id="n1"`) {
		t.Errorf("unexpected document: %s", out)
	}
	if !node(t, o, "n1").IsModified {
		t.Error("expected record marked modified")
	}
}

func TestCustomClass_Scenario(t *testing.T) {
	o, doc, _ := newTestOverrider(t)
	mustSelect(t, o, "n1")

	if err := o.AddCustomClass("hl"); err != nil {
		t.Fatal(err)
	}
	el, _ := doc.Element("n1")
	if v, _ := el.Attr("class"); !strings.Contains(" "+v+" ", " hl ") {
		t.Errorf("class list %q lacks hl", v)
	}
	if got := node(t, o, "n1").CustomClasses; !reflect.DeepEqual(got, []string{"hl"}) {
		t.Errorf("CustomClasses = %v; want [hl]", got)
	}

	if err := o.RemoveCustomClass("hl"); err != nil {
		t.Fatal(err)
	}
	if v, _ := el.Attr("class"); strings.Contains(" "+v+" ", " hl ") {
		t.Errorf("class list %q still has hl", v)
	}
	if got := node(t, o, "n1").CustomClasses; len(got) != 0 {
		t.Errorf("CustomClasses = %v; want []", got)
	}
}

func TestAddGlobalCSS_NoSelection(t *testing.T) {
	o, doc, _ := newTestOverrider(t)
	o.AddGlobalCSS("body { margin: 0 }")

	if o.Store().GlobalCSS() != "body { margin: 0 }" {
		t.Errorf("GlobalCSS() = %q", o.Store().GlobalCSS())
	}
	if css, ok := doc.GlobalStyle(); !ok || css != "body { margin: 0 }" {
		t.Errorf("GlobalStyle() = %q, %v", css, ok)
	}
}

func TestSnapshot_FiltersAttributes(t *testing.T) {
	o, _, _ := newTestOverrider(t, WithFilteredAttributes("TITLE"))
	if _, err := o.Snapshot(); !errors.Is(err, ErrNoSelection) {
		t.Fatalf("Snapshot() without selection = %v", err)
	}

	mustSelect(t, o, "n1")
	snap, err := o.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.OriginalAttributes) != 0 {
		t.Errorf("OriginalAttributes = %v; want none", snap.OriginalAttributes)
	}
	// Filtering is a view concern only.
	if len(node(t, o, "n1").OriginalAttributes) != 4 {
		t.Error("shadow state must keep filtered attributes")
	}
}

func TestSnapshot_DefaultFilter(t *testing.T) {
	doc, err := dom.ParseHTMLString(`<div data-id="n1" id="hero" class="c" style="x: y" anima-layer="x" anima-container="a" component="c" data-initial-state="s" title="t"></div>`)
	if err != nil {
		t.Fatal(err)
	}
	o := New(doc)
	mustSelect(t, o, "n1")
	snap, err := o.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	want := []Attribute{{Name: "title", Value: "t"}}
	if !reflect.DeepEqual(snap.OriginalAttributes, want) {
		t.Errorf("OriginalAttributes = %v; want %v", snap.OriginalAttributes, want)
	}
	if got := len(node(t, o, "n1").OriginalAttributes); got != 9 {
		t.Errorf("shadow OriginalAttributes has %d entries; want 9", got)
	}
}
