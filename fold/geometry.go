package fold

import "strings"

// maxOffsetChain bounds offsetParent walks over snapshot data.
const maxOffsetChain = 4096

// Position sums offsetTop/offsetLeft up the offsetParent chain. A read
// failure anywhere on the chain ends the sum there.
func Position(n Node) (top, left float64) {
	l, err := n.Layout()
	if err != nil {
		return 0, 0
	}
	return position(l)
}

func position(l Layout) (top, left float64) {
	top, left = l.OffsetTop, l.OffsetLeft
	p := l.OffsetParent
	for i := 0; p != nil && i < maxOffsetChain; i++ {
		pl, err := p.Layout()
		if err != nil {
			break
		}
		top += pl.OffsetTop
		left += pl.OffsetLeft
		p = pl.OffsetParent
	}
	return top, left
}

// BoundingRect returns the page-absolute rectangle of n. The client rect is
// preferred and shifted by the scroll offset; without one the offset box
// is used.
func BoundingRect(doc Document, n Node) (Rect, error) {
	l, err := n.Layout()
	if err != nil {
		return Rect{}, err
	}
	if cr := l.ClientRect; cr != nil {
		sx, sy := doc.ScrollOffset()
		return Rect{
			Top:    cr.Top + sy,
			Left:   cr.Left + sx,
			Bottom: cr.Bottom + sy,
			Right:  cr.Right + sx,
		}, nil
	}
	top, left := position(l)
	return Rect{
		Top:    top,
		Left:   left,
		Bottom: top + l.OffsetHeight,
		Right:  left + l.OffsetWidth,
	}, nil
}

// IntersectsViewport reports whether the top-left corner of r lies above
// and left of the viewport's bottom-right corner. Only the corner counts:
// an element starting inside the viewport is critical however far it
// extends below it.
func IntersectsViewport(r Rect, vp Viewport) bool {
	return r.Top < float64(vp.Height) && r.Left < float64(vp.Width)
}

// InViewport measures n and tests it against vp. Unmeasurable nodes are
// never in the viewport.
func InViewport(doc Document, n Node, vp Viewport) bool {
	r, err := BoundingRect(doc, n)
	if err != nil {
		return false
	}
	return IntersectsViewport(r, vp)
}

// IsVisible reports whether n takes part in rendering. Before the first
// full layout a zero-sized box still counts as possibly visible.
func IsVisible(doc Document, n Node) bool {
	l, err := n.Layout()
	if err != nil {
		return false
	}
	if strings.EqualFold(l.Display, "none") {
		return false
	}
	if doc.LaidOut() && l.OffsetWidth <= 0 && l.OffsetHeight <= 0 {
		return false
	}
	return l.OffsetParent != nil || n == doc.Body() || strings.EqualFold(l.Position, "fixed")
}
