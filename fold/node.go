// Package fold finds the parts of a rendered page that sit above the fold
// and packs them into size-bounded beacons.
package fold

import (
	"errors"
	"strings"
)

var (
	// ErrNoLayout is returned by Node.Layout when the node was never measured
	// (server-rendered copies, detached nodes, cross-origin frames).
	ErrNoLayout = errors.New("fold: node has no layout")
	// ErrDuplicateID marks a pass that met an id carried by more than one
	// element. Boundary addressing is not trusted for such documents.
	ErrDuplicateID = errors.New("fold: duplicate element id")
	// ErrPathNotFound is returned when a structural path does not resolve.
	ErrPathNotFound = errors.New("fold: path does not resolve")
	// ErrMalformedPath is returned for paths outside the segment grammar.
	ErrMalformedPath = errors.New("fold: malformed path")
	// ErrPassInFlight is returned when a beacon pass is already running.
	ErrPassInFlight = errors.New("fold: detection pass already in flight")
	// ErrHeaderTooLarge is returned when the options hash and nonce leave
	// no room in the payload for the result key.
	ErrHeaderTooLarge = errors.New("fold: beacon header exceeds payload limit")
)

// Viewport is the initial window size in CSS pixels.
type Viewport struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Rect is a page-absolute rectangle.
type Rect struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Bottom float64 `json:"bottom"`
	Right  float64 `json:"right"`
}

// Layout is what a node exposes about its rendering. ClientRect is relative
// to the viewport, as getBoundingClientRect reports it, and is nil when the
// engine has no such primitive.
type Layout struct {
	ClientRect   *Rect
	OffsetTop    float64
	OffsetLeft   float64
	OffsetWidth  float64
	OffsetHeight float64
	OffsetParent Node
	Position     string
	Display      string

	// Image sizes, zero for anything that is not a loaded <img>.
	Width         float64
	Height        float64
	NaturalWidth  float64
	NaturalHeight float64
}

// Node is a read-only handle to an element of a rendered tree.
type Node interface {
	Tag() string
	Attr(name string) (string, bool)
	Parent() Node
	Children() []Node
	Layout() (Layout, error)
}

// Document is the tree a pass runs over.
type Document interface {
	Body() Node
	ScrollOffset() (x, y float64)
	// LaidOut reports whether the first full layout has happened.
	LaidOut() bool
	CountID(id string) int
	ElementByID(id string) Node
	// DuplicateID returns an id carried by more than one element, if any.
	DuplicateID() (string, bool)
}

var excludedTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"link":     true,
}

// IsExcludedTag reports whether elements with this tag are ignored by
// classification and ordinal counting.
func IsExcludedTag(tag string) bool {
	return excludedTags[strings.ToLower(tag)]
}

func idOf(n Node) string {
	id, _ := n.Attr("id")
	return id
}

// ElementsByTag returns the elements under the body with one of the given
// tags, in document order.
func ElementsByTag(doc Document, tags ...string) []Node {
	if doc == nil || doc.Body() == nil {
		return nil
	}
	want := make(map[string]bool, len(tags))
	for _, t := range tags {
		want[strings.ToLower(t)] = true
	}
	var out []Node
	var visit func(Node)
	visit = func(n Node) {
		if want[strings.ToLower(n.Tag())] {
			out = append(out, n)
		}
		for _, c := range n.Children() {
			visit(c)
		}
	}
	visit(doc.Body())
	return out
}
