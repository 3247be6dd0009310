package dom

// Patch operations replayed by the in-page agent.
const (
	OpSetAttribute    = "set-attribute"
	OpRemoveAttribute = "remove-attribute"
	OpSetHTML         = "set-html"
	OpAddClass        = "add-class"
	OpRemoveClass     = "remove-class"
	OpReplaceTag      = "replace-tag"
	OpSetGlobalCSS    = "set-global-css"
	OpStripLinks      = "strip-links"
)

// Patch is one DOM mutation addressed by data-id.
type Patch struct {
	Op    string `json:"op"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
}

// Recorder decorates a Document so every mutation made through it is also
// reported as a Patch. Reads pass straight through.
type Recorder struct {
	inner Document
	sink  func(Patch)
}

// NewRecorder wraps doc. sink is called synchronously, in mutation order.
func NewRecorder(doc Document, sink func(Patch)) *Recorder {
	if sink == nil {
		sink = func(Patch) {}
	}
	return &Recorder{inner: doc, sink: sink}
}

// Unwrap returns the wrapped document.
func (r *Recorder) Unwrap() Document {
	return r.inner
}

func (r *Recorder) Element(id string) (Element, bool) {
	el, ok := r.inner.Element(id)
	if !ok {
		return nil, false
	}
	return &recordedElement{inner: el, sink: r.sink}, true
}

func (r *Recorder) SetGlobalStyle(css string) {
	r.inner.SetGlobalStyle(css)
	r.sink(Patch{Op: OpSetGlobalCSS, Value: css})
}

func (r *Recorder) StripLinks() int {
	n := r.inner.StripLinks()
	r.sink(Patch{Op: OpStripLinks})
	return n
}

type recordedElement struct {
	inner Element
	sink  func(Patch)
}

func (e *recordedElement) ID() string                      { return e.inner.ID() }
func (e *recordedElement) TagName() string                 { return e.inner.TagName() }
func (e *recordedElement) Attributes() []Attribute         { return e.inner.Attributes() }
func (e *recordedElement) Attr(name string) (string, bool) { return e.inner.Attr(name) }
func (e *recordedElement) InnerHTML() string               { return e.inner.InnerHTML() }

func (e *recordedElement) SetAttr(name, value string) {
	// Address by the id held before the change so renaming data-id still
	// reaches the right node.
	id := e.inner.ID()
	e.inner.SetAttr(name, value)
	e.sink(Patch{Op: OpSetAttribute, ID: id, Name: name, Value: value})
}

func (e *recordedElement) RemoveAttr(name string) {
	id := e.inner.ID()
	e.inner.RemoveAttr(name)
	e.sink(Patch{Op: OpRemoveAttribute, ID: id, Name: name})
}

func (e *recordedElement) SetInnerHTML(markup string) error {
	if err := e.inner.SetInnerHTML(markup); err != nil {
		return err
	}
	e.sink(Patch{Op: OpSetHTML, ID: e.inner.ID(), Value: markup})
	return nil
}

func (e *recordedElement) AddClass(name string) {
	e.inner.AddClass(name)
	e.sink(Patch{Op: OpAddClass, ID: e.inner.ID(), Name: name})
}

func (e *recordedElement) RemoveClass(name string) {
	e.inner.RemoveClass(name)
	e.sink(Patch{Op: OpRemoveClass, ID: e.inner.ID(), Name: name})
}

func (e *recordedElement) ReplaceTag(tag string) (Element, error) {
	id := e.inner.ID()
	next, err := e.inner.ReplaceTag(tag)
	if err != nil {
		return nil, err
	}
	e.sink(Patch{Op: OpReplaceTag, ID: id, Name: next.TagName()})
	return &recordedElement{inner: next, sink: e.sink}, nil
}
