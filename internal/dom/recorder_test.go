package dom

import "testing"

func TestRecorder_EmitsPatchesInOrder(t *testing.T) {
	doc := mustParse(t, testPage)

	var patches []Patch
	rec := NewRecorder(doc, func(p Patch) { patches = append(patches, p) })

	el, ok := rec.Element("n1")
	if !ok {
		t.Fatal("expected n1")
	}

	el.SetAttr("data-x", "1")
	el.AddClass("hl")
	el.RemoveClass("hl")
	if err := el.SetInnerHTML("x"); err != nil {
		t.Fatal(err)
	}
	el.RemoveAttr("data-x")
	next, err := el.ReplaceTag("span")
	if err != nil {
		t.Fatal(err)
	}
	next.SetAttr("title", "after")
	rec.SetGlobalStyle("p{}")
	rec.StripLinks()

	want := []Patch{
		{Op: OpSetAttribute, ID: "n1", Name: "data-x", Value: "1"},
		{Op: OpAddClass, ID: "n1", Name: "hl"},
		{Op: OpRemoveClass, ID: "n1", Name: "hl"},
		{Op: OpSetHTML, ID: "n1", Value: "x"},
		{Op: OpRemoveAttribute, ID: "n1", Name: "data-x"},
		{Op: OpReplaceTag, ID: "n1", Name: "span"},
		{Op: OpSetAttribute, ID: "n1", Name: "title", Value: "after"},
		{Op: OpSetGlobalCSS, Value: "p{}"},
		{Op: OpStripLinks},
	}
	if len(patches) != len(want) {
		t.Fatalf("got %d patches; want %d: %+v", len(patches), len(want), patches)
	}
	for i := range want {
		if patches[i] != want[i] {
			t.Errorf("patch %d = %+v; want %+v", i, patches[i], want[i])
		}
	}

	// Mutations must reach the wrapped document.
	inner, _ := doc.Element("n1")
	if inner.TagName() != "span" {
		t.Errorf("wrapped document not mutated: %s", inner.TagName())
	}
}

func TestRecorder_ChangingIDUsesPreviousID(t *testing.T) {
	doc := mustParse(t, testPage)
	var got Patch
	rec := NewRecorder(doc, func(p Patch) { got = p })

	el, _ := rec.Element("n1")
	el.SetAttr(IDAttribute, "renamed")

	if got.ID != "n1" {
		t.Errorf("patch addressed %q; want n1", got.ID)
	}
	if _, ok := rec.Element("renamed"); !ok {
		t.Error("expected renamed element to resolve")
	}
}

func TestRecorder_FailedReplaceEmitsNothing(t *testing.T) {
	doc := mustParse(t, testPage)
	count := 0
	rec := NewRecorder(doc, func(Patch) { count++ })

	el, _ := rec.Element("n1")
	if _, err := el.ReplaceTag("not a tag"); err == nil {
		t.Fatal("expected error")
	}
	if count != 0 {
		t.Errorf("expected no patches, got %d", count)
	}
}
