// Package dom is a small element tree over golang.org/x/net/html with
// class, attribute and inline-style mutation plus DOM-style event dispatch
// (capture phase, target, bubble phase).
package dom

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
)

// Document owns the node tree. All element methods synchronize on it.
type Document struct {
	mu    sync.Mutex
	root  *html.Node
	elems map[*html.Node]*Element
}

// Element wraps one element node. Elements are memoized per node, so the same
// node always yields the same *Element.
type Element struct {
	doc       *Document
	node      *html.Node
	listeners []listener
}

func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	return &Document{root: root, elems: map[*html.Node]*Element{}}, nil
}

func ParseString(s string) (*Document, error) { return Parse(strings.NewReader(s)) }

// Body returns the <body> element.
func (d *Document) Body() *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	var find func(*html.Node) *html.Node
	find = func(n *html.Node) *html.Node {
		if n.Type == html.ElementNode && n.Data == "body" {
			return n
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if f := find(c); f != nil {
				return f
			}
		}
		return nil
	}
	if b := find(d.root); b != nil {
		return d.wrap(b)
	}
	return nil
}

// FindAll returns all elements in document order that satisfy pred.
func (d *Document) FindAll(pred func(*Element) bool) []*Element {
	b := d.Body()
	if b == nil {
		return nil
	}
	return b.FindAll(pred)
}

func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return html.Render(w, d.root)
}

func (d *Document) wrap(n *html.Node) *Element {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	if e, ok := d.elems[n]; ok {
		return e
	}
	e := &Element{doc: d, node: n}
	d.elems[n] = e
	return e
}

func (e *Element) Tag() string { return e.node.Data }

func (e *Element) Attr(key string) (string, bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return attr(e.node, key)
}

func (e *Element) SetAttr(key, val string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	setAttr(e.node, key, val)
}

func (e *Element) RemoveAttr(key string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	out := e.node.Attr[:0]
	for _, a := range e.node.Attr {
		if a.Key != key {
			out = append(out, a)
		}
	}
	e.node.Attr = out
}

func (e *Element) HasClass(c string) bool {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return hasClass(e.node, c)
}

func (e *Element) AddClass(c string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if hasClass(e.node, c) {
		return
	}
	v, _ := attr(e.node, "class")
	setAttr(e.node, "class", strings.TrimSpace(v+" "+c))
}

func (e *Element) RemoveClass(c string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	v, ok := attr(e.node, "class")
	if !ok {
		return
	}
	var keep []string
	for _, f := range strings.Fields(v) {
		if f != c {
			keep = append(keep, f)
		}
	}
	setAttr(e.node, "class", strings.Join(keep, " "))
}

// Parent returns the parent element, or nil at the top of the tree.
func (e *Element) Parent() *Element {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.doc.wrap(e.node.Parent)
}

// Children returns element children in order.
func (e *Element) Children() []*Element {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	var out []*Element
	for c := e.node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, e.doc.wrap(c))
		}
	}
	return out
}

// FindAll returns e and its descendants, in document order, that satisfy pred.
func (e *Element) FindAll(pred func(*Element) bool) []*Element {
	e.doc.mu.Lock()
	var all []*Element
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			all = append(all, e.doc.wrap(n))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(e.node)
	e.doc.mu.Unlock()

	var out []*Element
	for _, el := range all {
		if pred(el) {
			out = append(out, el)
		}
	}
	return out
}

// Closest walks from e up to and including stop and returns the first
// element satisfying pred.
func (e *Element) Closest(stop *Element, pred func(*Element) bool) *Element {
	for cur := e; cur != nil; cur = cur.Parent() {
		if pred(cur) {
			return cur
		}
		if cur == stop {
			return nil
		}
	}
	return nil
}

// Contains reports whether other is e or one of its descendants.
func (e *Element) Contains(other *Element) bool {
	for cur := other; cur != nil; cur = cur.Parent() {
		if cur == e {
			return true
		}
	}
	return false
}

// AppendHTML parses markup as children of e and returns the new top-level elements.
func (e *Element) AppendHTML(markup string) ([]*Element, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	nodes, err := html.ParseFragment(strings.NewReader(markup), e.node)
	if err != nil {
		return nil, err
	}
	var out []*Element
	for _, n := range nodes {
		e.node.AppendChild(n)
		if n.Type == html.ElementNode {
			out = append(out, e.doc.wrap(n))
		}
	}
	return out, nil
}

// OuterHTML renders e.
func (e *Element) OuterHTML() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	var b bytes.Buffer
	_ = html.Render(&b, e.node)
	return b.String()
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func hasClass(n *html.Node, c string) bool {
	v, _ := attr(n, "class")
	for _, f := range strings.Fields(v) {
		if f == c {
			return true
		}
	}
	return false
}
