package fold

import "strings"

// Attr is a single element attribute.
type Attr struct {
	Key string
	Val string
}

// Element is the in-memory Node used for browser snapshots, parsed HTML
// and fixtures.
type Element struct {
	tag       string
	attrs     []Attr
	layout    Layout
	layoutErr error
	measured  bool
	parent    *Element
	children  []*Element
	tree      *Tree
}

// Tree is the in-memory Document. It always has a body.
type Tree struct {
	body    *Element
	scrollX float64
	scrollY float64
	laidOut bool
	ids     map[string][]*Element
}

// NewTree returns a laid-out tree holding an empty, unmeasured body.
func NewTree() *Tree {
	t := &Tree{laidOut: true, ids: make(map[string][]*Element)}
	t.body = &Element{tag: "body", tree: t}
	return t
}

func (t *Tree) Body() Node {
	if t == nil || t.body == nil {
		return nil
	}
	return t.body
}

// BodyElement returns the body as a concrete element for building.
func (t *Tree) BodyElement() *Element { return t.body }

func (t *Tree) ScrollOffset() (float64, float64) { return t.scrollX, t.scrollY }

// SetScroll records how far the page was scrolled when it was measured.
func (t *Tree) SetScroll(x, y float64) {
	t.scrollX, t.scrollY = x, y
}

func (t *Tree) LaidOut() bool { return t.laidOut }

func (t *Tree) SetLaidOut(v bool) { t.laidOut = v }

func (t *Tree) CountID(id string) int {
	if id == "" {
		return 0
	}
	return len(t.ids[id])
}

// DuplicateID returns the smallest id shared by several elements.
func (t *Tree) DuplicateID() (string, bool) {
	var dup string
	for id, els := range t.ids {
		if len(els) > 1 && (dup == "" || id < dup) {
			dup = id
		}
	}
	return dup, dup != ""
}

func (t *Tree) ElementByID(id string) Node {
	els := t.ids[id]
	if len(els) == 0 {
		return nil
	}
	return els[0]
}

func (t *Tree) indexID(e *Element, id string) {
	if id != "" {
		t.ids[id] = append(t.ids[id], e)
	}
}

func (t *Tree) unindexID(e *Element, id string) {
	els := t.ids[id]
	for i, other := range els {
		if other == e {
			t.ids[id] = append(els[:i:i], els[i+1:]...)
			break
		}
	}
	if len(t.ids[id]) == 0 {
		delete(t.ids, id)
	}
}

// AppendChild adds a child element. attrs is a flat key, value list.
func (e *Element) AppendChild(tag string, attrs ...string) *Element {
	child := &Element{tag: strings.ToLower(tag), parent: e, tree: e.tree}
	e.children = append(e.children, child)
	for i := 0; i+1 < len(attrs); i += 2 {
		child.SetAttr(attrs[i], attrs[i+1])
	}
	return child
}

// SetAttr sets or replaces an attribute, keeping the id index current.
func (e *Element) SetAttr(key, val string) *Element {
	key = strings.ToLower(key)
	for i := range e.attrs {
		if e.attrs[i].Key == key {
			if key == "id" {
				e.tree.unindexID(e, e.attrs[i].Val)
				e.tree.indexID(e, val)
			}
			e.attrs[i].Val = val
			return e
		}
	}
	e.attrs = append(e.attrs, Attr{Key: key, Val: val})
	if key == "id" {
		e.tree.indexID(e, val)
	}
	return e
}

// SetLayout records the element's measured geometry.
func (e *Element) SetLayout(l Layout) *Element {
	e.layout = l
	e.measured = true
	e.layoutErr = nil
	return e
}

// SetLayoutError makes every geometry read on the element fail with err.
func (e *Element) SetLayoutError(err error) *Element {
	e.layoutErr = err
	return e
}

// Place lays the element out as a static block at page-absolute
// coordinates, offset from the body.
func (e *Element) Place(top, left, width, height float64) *Element {
	sx, sy := e.tree.ScrollOffset()
	l := Layout{
		ClientRect: &Rect{
			Top:    top - sy,
			Left:   left - sx,
			Bottom: top - sy + height,
			Right:  left - sx + width,
		},
		OffsetTop:    top,
		OffsetLeft:   left,
		OffsetWidth:  width,
		OffsetHeight: height,
		Position:     "static",
		Display:      "block",
	}
	if e != e.tree.body {
		l.OffsetParent = e.tree.body
	}
	return e.SetLayout(l)
}

func (e *Element) Tag() string { return e.tag }

func (e *Element) Attr(name string) (string, bool) {
	name = strings.ToLower(name)
	for _, a := range e.attrs {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// Attrs returns the attributes in insertion order.
func (e *Element) Attrs() []Attr {
	return append([]Attr(nil), e.attrs...)
}

func (e *Element) Parent() Node {
	if e.parent == nil {
		return nil
	}
	return e.parent
}

func (e *Element) Children() []Node {
	out := make([]Node, len(e.children))
	for i, c := range e.children {
		out[i] = c
	}
	return out
}

func (e *Element) Layout() (Layout, error) {
	if e.layoutErr != nil {
		return Layout{}, e.layoutErr
	}
	if !e.measured {
		return Layout{}, ErrNoLayout
	}
	return e.layout, nil
}
