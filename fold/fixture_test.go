package fold

import (
	"errors"
	"math/rand"
	"testing"
)

var testViewport = Viewport{Width: 600, Height: 800}

// newPage returns a laid-out tree whose body spans a long page.
func newPage() (*Tree, *Element) {
	t := NewTree()
	body := t.BodyElement()
	body.Place(0, 0, 600, 5000)
	return t, body
}

func block(parent *Element, tag string, top float64, attrs ...string) *Element {
	return parent.AppendChild(tag, attrs...).Place(top, 0, 600, 100)
}

func hidden(parent *Element, tag string, attrs ...string) *Element {
	return parent.AppendChild(tag, attrs...).SetLayout(Layout{Display: "none"})
}

func withImageSize(el *Element, rw, rh, ow, oh float64) *Element {
	l, err := el.Layout()
	if err != nil {
		panic(err)
	}
	l.Width, l.Height, l.NaturalWidth, l.NaturalHeight = rw, rh, ow, oh
	return el.SetLayout(l)
}

var errCrossOrigin = errors.New("cross-origin frame")

// randomPage builds a reproducible tree mixing critical, non-critical,
// hidden and excluded elements.
func randomPage(seed int64) *Tree {
	rng := rand.New(rand.NewSource(seed))
	tree, body := newPage()
	tops := []float64{0, 150, 700, 900, 2000, 4000}
	tags := []string{"div", "p", "span", "section", "script", "ul"}
	var grow func(parent *Element, depth int)
	grow = func(parent *Element, depth int) {
		if depth > 3 {
			return
		}
		for i, n := 0, rng.Intn(5); i < n; i++ {
			tag := tags[rng.Intn(len(tags))]
			var el *Element
			switch rng.Intn(8) {
			case 0:
				el = hidden(parent, tag)
			case 1:
				el = parent.AppendChild(tag).SetLayoutError(errCrossOrigin)
			default:
				el = block(parent, tag, tops[rng.Intn(len(tops))])
			}
			if rng.Intn(6) == 0 {
				el.SetAttr("id", "n"+string(rune('a'+depth))+string(rune('a'+i))+randSuffix(rng))
			}
			grow(el, depth+1)
		}
	}
	grow(body, 0)
	return tree
}

func randSuffix(rng *rand.Rand) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, 8)
	for i := range b {
		b[i] = letters[rng.Intn(len(letters))]
	}
	return string(b)
}

func preOrder(doc Document) ([]Node, map[Node]int) {
	var nodes []Node
	index := map[Node]int{}
	var visit func(Node)
	visit = func(n Node) {
		index[n] = len(nodes)
		nodes = append(nodes, n)
		for _, c := range n.Children() {
			visit(c)
		}
	}
	visit(doc.Body())
	return nodes, index
}

func mustPairs(t *testing.T, doc Document, vp Viewport) []BoundaryPair {
	t.Helper()
	pairs, err := Walk(doc, vp)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	return pairs
}
