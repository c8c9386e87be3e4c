package fold

import (
	"errors"
	"fmt"
)

// BoundaryPair is a maximal run of non-critical sibling subtrees. The run
// begins at the node at Start and stops at End, the critical sibling that
// closes it. An empty End runs to the last child of the parent.
type BoundaryPair struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

// String renders the pair as carried in a beacon: "start:end", or "start"
// when open-ended.
func (p BoundaryPair) String() string {
	if p.End == "" {
		return p.Start
	}
	return p.Start + boundarySeparator + p.End
}

// walkState carries one pass. Nothing in it outlives Walk; pairs travel
// up through the return values of classify.
type walkState struct {
	doc  Document
	vp   Viewport
	root Node
	err  error
}

// Walk classifies the body subtree of doc against vp and returns the
// non-critical boundary pairs in document order. An id shared by more
// than one element anywhere in doc, hidden or not, voids the whole pass
// with ErrDuplicateID.
func Walk(doc Document, vp Viewport) ([]BoundaryPair, error) {
	if doc == nil || doc.Body() == nil {
		return nil, nil
	}
	if id, ok := doc.DuplicateID(); ok {
		return nil, fmt.Errorf("%w: %q used by %d elements", ErrDuplicateID, id, doc.CountID(id))
	}
	w := &walkState{doc: doc, vp: vp, root: doc.Body()}
	_, pairs := w.classify(w.root)
	if w.err != nil {
		return nil, w.err
	}
	return pairs, nil
}

// NonCriticalPanelXPathPairs is Walk with failures folded into an empty
// result.
func NonCriticalPanelXPathPairs(doc Document, vp Viewport) []BoundaryPair {
	pairs, err := Walk(doc, vp)
	if err != nil || pairs == nil {
		return []BoundaryPair{}
	}
	return pairs
}

// Classify reports whether n or any visible descendant is critical.
func Classify(doc Document, vp Viewport, n Node) bool {
	w := &walkState{doc: doc, vp: vp, root: doc.Body()}
	critical, _ := w.classify(n)
	return critical
}

// classify returns whether n is critical and the pairs found below it, in
// document order.
func (w *walkState) classify(n Node) (bool, []BoundaryPair) {
	w.checkID(n)
	critical := InViewport(w.doc, n, w.vp)
	prevChildCritical := critical
	children := w.visibleChildren(n)
	if len(children) == 0 {
		return critical, nil
	}
	first := children[0]

	var pairs []BoundaryPair
	var start, end string
	for _, c := range children {
		childCritical, childPairs := w.classify(c)
		if childCritical != prevChildCritical {
			if childCritical {
				if !critical {
					// Every child so far was non-critical while the parent
					// was assumed non-critical as a whole; they become a run.
					critical = true
					if c != first {
						start = w.encode(first)
					}
				}
				end = w.encode(c)
				if end == "" {
					start = ""
				}
				if start != "" {
					pairs = append(pairs, BoundaryPair{Start: start, End: end})
					start = ""
				}
			} else {
				start = w.encode(c)
				end = ""
			}
		}
		// A run closed at c starts before anything inside c.
		pairs = append(pairs, childPairs...)
		prevChildCritical = childCritical
	}
	if start != "" {
		pairs = append(pairs, BoundaryPair{Start: start, End: end})
	}
	return critical, pairs
}

func (w *walkState) visibleChildren(n Node) []Node {
	var out []Node
	for _, c := range n.Children() {
		if IsExcludedTag(c.Tag()) || !IsVisible(w.doc, c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (w *walkState) checkID(n Node) {
	if w.err != nil {
		return
	}
	if id := idOf(n); id != "" {
		if count := w.doc.CountID(id); count > 1 {
			w.err = fmt.Errorf("%w: %q used by %d elements", ErrDuplicateID, id, count)
		}
	}
}

// encode returns "" when n cannot be addressed.
func (w *walkState) encode(n Node) string {
	path, err := EncodePath(w.doc, n, w.root)
	if err != nil {
		if errors.Is(err, ErrDuplicateID) && w.err == nil {
			w.err = err
		}
		return ""
	}
	return path
}
