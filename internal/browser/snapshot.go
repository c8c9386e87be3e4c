package browser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"critline/fold"
)

var (
	// ErrBadSnapshot is returned for snapshot JSON that does not describe a
	// tree rooted at <body>.
	ErrBadSnapshot = errors.New("browser: malformed snapshot")
	// ErrUnmeasurable is the layout error of nodes whose geometry could
	// not be read in the page.
	ErrUnmeasurable = errors.New("browser: node geometry unavailable")
)

// snapshotScript serialises the body subtree with the geometry the fold
// package reads. Nodes are listed in document order; parent and op are
// indexes into the list, -1 for none. An offsetParent outside the list
// is recorded as the body.
const snapshotScript = `(() => {
  const body = document.body;
  const out = {
    url: location.href,
    scrollX: window.pageXOffset || 0,
    scrollY: window.pageYOffset || 0,
    laidOut: document.readyState !== 'loading' && !!body && body.offsetWidth + body.offsetHeight > 0,
    nodes: []
  };
  if (!body) return JSON.stringify(out);
  const index = new Map();
  const stack = [[body, -1]];
  while (stack.length && out.nodes.length < %d) {
    const [el, parent] = stack.pop();
    const n = {tag: el.tagName.toLowerCase(), parent: parent, attrs: [], rect: null, op: -1};
    index.set(el, out.nodes.length);
    for (const a of Array.from(el.attributes || [])) n.attrs.push([a.name, a.value]);
    try {
      const r = el.getBoundingClientRect();
      n.rect = {top: r.top, left: r.left, bottom: r.bottom, right: r.right};
      n.ot = el.offsetTop || 0;
      n.ol = el.offsetLeft || 0;
      n.ow = el.offsetWidth || 0;
      n.oh = el.offsetHeight || 0;
      if (el.offsetParent) n.op = index.has(el.offsetParent) ? index.get(el.offsetParent) : 0;
      const cs = window.getComputedStyle(el);
      n.pos = cs ? cs.position : '';
      n.disp = cs ? cs.display : '';
    } catch (e) {
      n.err = true;
    }
    if (el.tagName === 'IMG') {
      n.w = el.width; n.h = el.height;
      n.nw = el.naturalWidth; n.nh = el.naturalHeight;
      n.src = el.currentSrc || el.src || '';
    }
    const self = out.nodes.length;
    out.nodes.push(n);
    const kids = Array.from(el.children || []);
    for (let i = kids.length - 1; i >= 0; i--) stack.push([kids[i], self]);
  }
  return JSON.stringify(out);
})()`

// maxSnapshotNodes bounds the serialised tree.
const maxSnapshotNodes = 200000

func script() string {
	return fmt.Sprintf(snapshotScript, maxSnapshotNodes)
}

type snapshot struct {
	URL     string     `json:"url"`
	ScrollX float64    `json:"scrollX"`
	ScrollY float64    `json:"scrollY"`
	LaidOut bool       `json:"laidOut"`
	Nodes   []snapNode `json:"nodes"`
}

type snapNode struct {
	Tag           string      `json:"tag"`
	Parent        int         `json:"parent"`
	Attrs         [][2]string `json:"attrs"`
	Rect          *fold.Rect  `json:"rect"`
	OffsetTop     float64     `json:"ot"`
	OffsetLeft    float64     `json:"ol"`
	OffsetWidth   float64     `json:"ow"`
	OffsetHeight  float64     `json:"oh"`
	OffsetParent  int         `json:"op"`
	Position      string      `json:"pos"`
	Display       string      `json:"disp"`
	Width         float64     `json:"w"`
	Height        float64     `json:"h"`
	NaturalWidth  float64     `json:"nw"`
	NaturalHeight float64     `json:"nh"`
	Src           string      `json:"src"`
	Unmeasurable  bool        `json:"err"`
}

// Image is an <img> from a snapshot with the URL it loaded.
type Image struct {
	Src     string
	Element *fold.Element
}

// DecodeSnapshot rebuilds a fold.Tree from the output of the snapshot
// script. It also returns the page URL and the images found.
func DecodeSnapshot(data []byte) (*fold.Tree, string, []Image, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, "", nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	tree := fold.NewTree()
	tree.SetScroll(snap.ScrollX, snap.ScrollY)
	tree.SetLaidOut(snap.LaidOut)
	if len(snap.Nodes) == 0 {
		return tree, snap.URL, nil, nil
	}
	if root := snap.Nodes[0]; root.Parent != -1 || !strings.EqualFold(root.Tag, "body") {
		return nil, "", nil, fmt.Errorf("%w: first node is %q, not body", ErrBadSnapshot, root.Tag)
	}

	els := make([]*fold.Element, len(snap.Nodes))
	els[0] = tree.BodyElement()
	var images []Image
	for i, n := range snap.Nodes {
		if i > 0 {
			if n.Parent < 0 || n.Parent >= i {
				return nil, "", nil, fmt.Errorf("%w: node %d has parent %d", ErrBadSnapshot, i, n.Parent)
			}
			if n.Tag == "" {
				return nil, "", nil, fmt.Errorf("%w: node %d has no tag", ErrBadSnapshot, i)
			}
			els[i] = els[n.Parent].AppendChild(n.Tag)
		}
		for _, a := range n.Attrs {
			els[i].SetAttr(a[0], a[1])
		}
		if n.Src != "" && strings.EqualFold(n.Tag, "img") {
			images = append(images, Image{Src: n.Src, Element: els[i]})
		}
	}
	for i, n := range snap.Nodes {
		if n.Unmeasurable {
			els[i].SetLayoutError(ErrUnmeasurable)
			continue
		}
		l := fold.Layout{
			ClientRect:    n.Rect,
			OffsetTop:     n.OffsetTop,
			OffsetLeft:    n.OffsetLeft,
			OffsetWidth:   n.OffsetWidth,
			OffsetHeight:  n.OffsetHeight,
			Position:      n.Position,
			Display:       n.Display,
			Width:         n.Width,
			Height:        n.Height,
			NaturalWidth:  n.NaturalWidth,
			NaturalHeight: n.NaturalHeight,
		}
		if op := n.OffsetParent; op >= 0 && op < len(els) && op != i {
			l.OffsetParent = els[op]
		}
		els[i].SetLayout(l)
	}
	return tree, snap.URL, images, nil
}
