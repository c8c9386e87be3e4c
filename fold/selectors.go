package fold

import (
	"context"
	"fmt"

	"github.com/andybalholm/cascadia"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// SelectorBatchSize is how many selectors are matched between
// cancellation checks.
const SelectorBatchSize = 250

// SelectorOutcome is the verdict for one candidate selector. A selector
// that does not compile carries Err and is never critical.
type SelectorOutcome struct {
	Selector string
	Critical bool
	Err      error
}

// AttrLister is implemented by nodes that can enumerate their attributes.
// Nodes that cannot are matched on id and class only.
type AttrLister interface {
	Attrs() []Attr
}

// mirror is an x/net/html copy of a Document used for selector matching.
type mirror struct {
	root  *html.Node
	nodes map[*html.Node]Node
}

func newMirror(doc Document) *mirror {
	m := &mirror{
		root:  &html.Node{Type: html.DocumentNode},
		nodes: make(map[*html.Node]Node),
	}
	top := &html.Node{Type: html.ElementNode, Data: "html", DataAtom: atom.Html}
	m.root.AppendChild(top)
	if body := doc.Body(); body != nil {
		m.add(top, body)
	}
	return m
}

func (m *mirror) add(parent *html.Node, n Node) {
	tag := n.Tag()
	h := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	if al, ok := n.(AttrLister); ok {
		for _, a := range al.Attrs() {
			h.Attr = append(h.Attr, html.Attribute{Key: a.Key, Val: a.Val})
		}
	} else {
		for _, key := range []string{"id", "class"} {
			if v, ok := n.Attr(key); ok {
				h.Attr = append(h.Attr, html.Attribute{Key: key, Val: v})
			}
		}
	}
	parent.AppendChild(h)
	m.nodes[h] = n
	for _, c := range n.Children() {
		m.add(h, c)
	}
}

func (m *mirror) check(doc Document, vp Viewport, selector string) SelectorOutcome {
	out := SelectorOutcome{Selector: selector}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		out.Err = fmt.Errorf("compile selector %q: %w", selector, err)
		return out
	}
	for _, h := range sel.MatchAll(m.root) {
		n, ok := m.nodes[h]
		if !ok {
			continue
		}
		if InViewport(doc, n, vp) {
			out.Critical = true
			break
		}
	}
	return out
}

// CheckSelectors matches every selector against doc in order, in batches
// of SelectorBatchSize. Cancellation is honoured between batches and the
// outcomes gathered so far are returned with the context error.
func CheckSelectors(ctx context.Context, doc Document, vp Viewport, selectors []string) ([]SelectorOutcome, error) {
	m := newMirror(doc)
	out := make([]SelectorOutcome, 0, len(selectors))
	for start := 0; start < len(selectors); start += SelectorBatchSize {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		end := start + SelectorBatchSize
		if end > len(selectors) {
			end = len(selectors)
		}
		for _, s := range selectors[start:end] {
			out = append(out, m.check(doc, vp, s))
		}
	}
	return out, nil
}

// CriticalCSSBeacon reports which candidate selectors match something in
// the initial viewport.
type CriticalCSSBeacon struct {
	cfg       BeaconConfig
	selectors []string
	sender    Sender
	log       *logrus.Entry
	guard     passGuard
}

func NewCriticalCSSBeacon(cfg BeaconConfig, selectors []string, sender Sender, log *logrus.Entry) *CriticalCSSBeacon {
	return &CriticalCSSBeacon{
		cfg:       cfg,
		selectors: append([]string(nil), selectors...),
		sender:    sender,
		log:       defaultEntry(log, "critical_css"),
	}
}

// Run checks the selectors and sends the cs beacon, which goes out even
// when nothing matched.
func (b *CriticalCSSBeacon) Run(ctx context.Context, doc Document, vp Viewport) (Report, error) {
	if err := b.guard.begin(); err != nil {
		return Report{}, err
	}
	defer b.guard.end()

	outcomes, err := CheckSelectors(ctx, doc, vp, b.selectors)
	if err != nil {
		return Report{}, err
	}
	var critical []string
	for _, o := range outcomes {
		if o.Err != nil {
			b.log.WithError(o.Err).Debug("skipping selector")
			continue
		}
		if o.Critical {
			critical = append(critical, o.Selector)
		}
	}

	buf, err := b.cfg.header(KeyCriticalCSS)
	if err != nil {
		b.log.WithError(err).Warn("critical css beacon not built")
		return Report{}, err
	}
	n := appendList(buf, KeyCriticalCSS, critical)
	rep := Report{Candidates: len(critical), Items: n, Truncated: n < len(critical)}
	b.cfg.markTruncated(buf, rep.Truncated)
	rep.Payload = buf.String()
	rep.Sent = deliver(ctx, b.sender, b.cfg, rep.Payload)
	b.log.WithFields(logrus.Fields{
		"checked":  len(outcomes),
		"critical": n,
		"bytes":    len(rep.Payload),
		"sent":     rep.Sent,
	}).Debug("critical css beacon built")
	return rep, nil
}
