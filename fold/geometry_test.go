package fold

import "testing"

func TestIntersectsViewport(t *testing.T) {
	t.Parallel()
	vp := Viewport{Width: 1024, Height: 768}
	cases := []struct {
		name string
		r    Rect
		want bool
	}{
		{"origin", Rect{}, true},
		{"starts inside extends below", Rect{Top: 700, Bottom: 5000}, true},
		{"top on the fold", Rect{Top: 768}, false},
		{"left on the edge", Rect{Left: 1024}, false},
		{"below", Rect{Top: 2000}, false},
		{"negative offsets", Rect{Top: -50, Left: -50}, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := IntersectsViewport(tc.r, vp); got != tc.want {
				t.Fatalf("IntersectsViewport(%+v) = %v, want %v", tc.r, got, tc.want)
			}
		})
	}
}

func TestBoundingRectUsesScroll(t *testing.T) {
	t.Parallel()
	tree, body := newPage()
	tree.SetScroll(10, 300)
	el := body.AppendChild("div").SetLayout(Layout{
		ClientRect:   &Rect{Top: 50, Left: 5, Bottom: 150, Right: 105},
		OffsetParent: body,
	})
	r, err := BoundingRect(tree, el)
	if err != nil {
		t.Fatalf("BoundingRect: %v", err)
	}
	want := Rect{Top: 350, Left: 15, Bottom: 450, Right: 115}
	if r != want {
		t.Fatalf("BoundingRect = %+v, want %+v", r, want)
	}
}

func TestBoundingRectFallsBackToOffsets(t *testing.T) {
	t.Parallel()
	tree, body := newPage()
	outer := body.AppendChild("div").SetLayout(Layout{OffsetTop: 100, OffsetLeft: 20, OffsetParent: body})
	inner := outer.AppendChild("div").SetLayout(Layout{
		OffsetTop:    40,
		OffsetLeft:   5,
		OffsetWidth:  200,
		OffsetHeight: 30,
		OffsetParent: outer,
	})
	r, err := BoundingRect(tree, inner)
	if err != nil {
		t.Fatalf("BoundingRect: %v", err)
	}
	want := Rect{Top: 140, Left: 25, Bottom: 170, Right: 225}
	if r != want {
		t.Fatalf("BoundingRect = %+v, want %+v", r, want)
	}
	if top, left := Position(inner); top != 140 || left != 25 {
		t.Fatalf("Position = %v,%v", top, left)
	}
}

func TestPositionStopsAtUnreadableParent(t *testing.T) {
	t.Parallel()
	_, body := newPage()
	frame := body.AppendChild("div").SetLayoutError(errCrossOrigin)
	el := frame.AppendChild("div").SetLayout(Layout{OffsetTop: 7, OffsetLeft: 3, OffsetParent: frame})
	if top, left := Position(el); top != 7 || left != 3 {
		t.Fatalf("Position = %v,%v, want 7,3", top, left)
	}
}

func TestIsVisible(t *testing.T) {
	t.Parallel()
	tree, body := newPage()
	cases := []struct {
		name string
		node Node
		want bool
	}{
		{"body", body, true},
		{"placed block", block(body, "div", 0), true},
		{"display none", hidden(body, "div"), false},
		{"zero box", body.AppendChild("div").SetLayout(Layout{OffsetParent: body}), false},
		{"detached", body.AppendChild("div").SetLayout(Layout{OffsetWidth: 10, OffsetHeight: 10}), false},
		{"fixed", body.AppendChild("div").SetLayout(Layout{OffsetWidth: 10, OffsetHeight: 10, Position: "fixed"}), true},
		{"unmeasured", body.AppendChild("div"), false},
		{"unreadable", body.AppendChild("div").SetLayoutError(errCrossOrigin), false},
	}
	for _, tc := range cases {
		if got := IsVisible(tree, tc.node); got != tc.want {
			t.Fatalf("%s: IsVisible = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestInViewportUnmeasurable(t *testing.T) {
	t.Parallel()
	tree, body := newPage()
	el := body.AppendChild("div").SetLayoutError(errCrossOrigin)
	if InViewport(tree, el, testViewport) {
		t.Fatalf("unmeasurable node reported in viewport")
	}
}
