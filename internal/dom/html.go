package dom

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	idMatcher          = cascadia.MustCompile("[" + IDAttribute + "]")
	linkMatcher        = cascadia.MustCompile("a[href]")
	globalStyleMatcher = cascadia.MustCompile("style#" + GlobalStyleID)
)

// HTMLDocument is a Document backed by a parsed HTML tree.
type HTMLDocument struct {
	doc *goquery.Document
}

// ParseHTML parses a full HTML document.
func ParseHTML(r io.Reader) (*HTMLDocument, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &HTMLDocument{doc: doc}, nil
}

// ParseHTMLString parses HTML from a string.
func ParseHTMLString(s string) (*HTMLDocument, error) {
	return ParseHTML(strings.NewReader(s))
}

// Element finds the first element whose data-id equals id.
func (d *HTMLDocument) Element(id string) (Element, bool) {
	if id == "" {
		return nil, false
	}
	match := d.doc.FindMatcher(idMatcher).FilterFunction(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr(IDAttribute)
		return v == id
	})
	if match.Length() == 0 {
		return nil, false
	}
	return &htmlElement{node: match.Nodes[0]}, true
}

// IDs returns every data-id in document order.
func (d *HTMLDocument) IDs() []string {
	var ids []string
	d.doc.FindMatcher(idMatcher).Each(func(_ int, s *goquery.Selection) {
		if v, _ := s.Attr(IDAttribute); v != "" {
			ids = append(ids, v)
		}
	})
	return ids
}

// SetGlobalStyle creates the managed style element on first use and replaces
// its content afterwards.
func (d *HTMLDocument) SetGlobalStyle(css string) {
	if existing := d.doc.FindMatcher(globalStyleMatcher); existing.Length() > 0 {
		setText(existing.Nodes[0], css)
		return
	}

	style := &html.Node{
		Type:     html.ElementNode,
		Data:     "style",
		DataAtom: atom.Style,
		Attr:     []html.Attribute{{Key: "id", Val: GlobalStyleID}},
	}
	setText(style, css)

	for _, parent := range []string{"head", "body", "html"} {
		if sel := d.doc.Find(parent); sel.Length() > 0 {
			sel.Nodes[0].AppendChild(style)
			return
		}
	}
	d.doc.Nodes[0].AppendChild(style)
}

// GlobalStyle returns the content of the managed style element, if present.
func (d *HTMLDocument) GlobalStyle() (string, bool) {
	existing := d.doc.FindMatcher(globalStyleMatcher)
	if existing.Length() == 0 {
		return "", false
	}
	return existing.Text(), true
}

// StripLinks removes href from every anchor.
func (d *HTMLDocument) StripLinks() int {
	links := d.doc.FindMatcher(linkMatcher)
	links.RemoveAttr("href")
	return links.Length()
}

// HTML renders the whole document.
func (d *HTMLDocument) HTML() (string, error) {
	return d.doc.Html()
}

// Render writes the whole document to w.
func (d *HTMLDocument) Render(w io.Writer) error {
	return html.Render(w, d.doc.Nodes[0])
}

func setText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; c = n.FirstChild {
		n.RemoveChild(c)
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

// htmlElement wraps a single element node.
type htmlElement struct {
	node *html.Node
}

// sel builds a one-node selection so goquery's attribute and class helpers
// can be used even after the node has been moved.
func (e *htmlElement) sel() *goquery.Selection {
	return goquery.NewDocumentFromNode(e.node).Selection
}

func (e *htmlElement) ID() string {
	v, _ := e.Attr(IDAttribute)
	return v
}

func (e *htmlElement) TagName() string {
	return strings.ToLower(e.node.Data)
}

func (e *htmlElement) Attributes() []Attribute {
	attrs := make([]Attribute, 0, len(e.node.Attr))
	for _, a := range e.node.Attr {
		attrs = append(attrs, Attribute{Name: a.Key, Value: a.Val})
	}
	return attrs
}

func (e *htmlElement) Attr(name string) (string, bool) {
	name = strings.ToLower(name)
	for _, a := range e.node.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func (e *htmlElement) SetAttr(name, value string) {
	e.sel().SetAttr(strings.ToLower(name), value)
}

func (e *htmlElement) RemoveAttr(name string) {
	e.sel().RemoveAttr(strings.ToLower(name))
}

func (e *htmlElement) InnerHTML() string {
	markup, err := e.sel().Html()
	if err != nil {
		return ""
	}
	return markup
}

func (e *htmlElement) SetInnerHTML(markup string) error {
	e.sel().SetHtml(markup)
	return nil
}

func (e *htmlElement) AddClass(name string) {
	e.sel().AddClass(name)
}

func (e *htmlElement) RemoveClass(name string) {
	e.sel().RemoveClass(name)
}

func (e *htmlElement) ReplaceTag(tag string) (Element, error) {
	if !ValidTagName(tag) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTag, tag)
	}
	old := e.node
	parent := old.Parent
	if parent == nil {
		return nil, ErrDetached
	}

	name := strings.ToLower(tag)
	n := &html.Node{
		Type:      html.ElementNode,
		Data:      name,
		DataAtom:  atom.Lookup([]byte(name)),
		Namespace: old.Namespace,
		Attr:      append([]html.Attribute(nil), old.Attr...),
	}
	for c := old.FirstChild; c != nil; c = old.FirstChild {
		old.RemoveChild(c)
		n.AppendChild(c)
	}
	parent.InsertBefore(n, old)
	parent.RemoveChild(old)

	return &htmlElement{node: n}, nil
}

// ValidTagName reports whether tag is a usable element name: a letter
// followed by letters, digits or hyphens.
func ValidTagName(tag string) bool {
	if tag == "" {
		return false
	}
	for i, r := range tag {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '-'):
		default:
			return false
		}
	}
	return true
}
