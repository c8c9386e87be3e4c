package fold

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Sender hands a finished payload to the network. It returns false only
// when the request could not be dispatched at all.
type Sender interface {
	Send(ctx context.Context, beaconURL, htmlURL, payload string) bool
}

// BeaconConfig holds what every beacon copies into its payload or needs to
// deliver it.
type BeaconConfig struct {
	BeaconURL   string
	HTMLURL     string
	OptionsHash string
	Nonce       string
	// MaxBytes caps the payload; zero means MaxPostSize.
	MaxBytes int
	// MarkTruncated appends tr=1 when items were cut. Off by default so the
	// payload stays what existing servers expect.
	MarkTruncated bool
}

func (c BeaconConfig) maxBytes() int {
	if c.MaxBytes > 0 {
		return c.MaxBytes
	}
	return MaxPostSize
}

// header starts a payload whose first list is key. The fixed part is
// written unconditionally, so it has to fit on its own.
func (c BeaconConfig) header(key string) (*PayloadBuffer, error) {
	buf := newHeader(c.maxBytes(), c.OptionsHash, c.Nonce)
	if need := buf.Len() + len("&"+key+"="); need > c.maxBytes() {
		return nil, fmt.Errorf("%w: %d bytes before the first %s item, limit %d", ErrHeaderTooLarge, need, key, c.maxBytes())
	}
	return buf, nil
}

func (c BeaconConfig) markTruncated(buf *PayloadBuffer, truncated bool) {
	if c.MarkTruncated && truncated {
		buf.TryAppend("&" + KeyTruncated + "=1")
	}
}

// Report describes one finished pass.
type Report struct {
	Payload    string
	Candidates int
	Items      int
	Truncated  bool
	Sent       bool
}

// passGuard rejects a pass while another one is running.
type passGuard struct {
	inFlight atomic.Bool
}

func (g *passGuard) begin() error {
	if !g.inFlight.CompareAndSwap(false, true) {
		return ErrPassInFlight
	}
	return nil
}

func (g *passGuard) end() { g.inFlight.Store(false) }

func defaultEntry(log *logrus.Entry, beacon string) *logrus.Entry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return log.WithField("beacon", beacon)
}

func deliver(ctx context.Context, s Sender, cfg BeaconConfig, payload string) bool {
	if s == nil || cfg.BeaconURL == "" {
		return false
	}
	return s.Send(ctx, cfg.BeaconURL, cfg.HTMLURL, payload)
}

// SplitHTMLBeacon reports the non-critical boundary pairs of a page.
type SplitHTMLBeacon struct {
	cfg    BeaconConfig
	sender Sender
	log    *logrus.Entry
	guard  passGuard
}

func NewSplitHTMLBeacon(cfg BeaconConfig, sender Sender, log *logrus.Entry) *SplitHTMLBeacon {
	return &SplitHTMLBeacon{cfg: cfg, sender: sender, log: defaultEntry(log, "split_html")}
}

// Run walks doc and sends the xp beacon. A document with duplicate ids
// produces no beacon and an ErrDuplicateID error.
func (b *SplitHTMLBeacon) Run(ctx context.Context, doc Document, vp Viewport) (Report, error) {
	if err := b.guard.begin(); err != nil {
		return Report{}, err
	}
	defer b.guard.end()
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	pairs, err := Walk(doc, vp)
	if err != nil {
		b.log.WithError(err).Warn("boundary pass abandoned")
		return Report{}, err
	}
	items := make([]string, len(pairs))
	for i, p := range pairs {
		items[i] = p.String()
	}

	buf, err := b.cfg.header(KeyXPaths)
	if err != nil {
		b.log.WithError(err).Warn("boundary beacon not built")
		return Report{}, err
	}
	n := appendList(buf, KeyXPaths, items)
	rep := Report{Candidates: len(items), Items: n, Truncated: n < len(items)}
	b.cfg.markTruncated(buf, rep.Truncated)
	rep.Payload = buf.String()
	rep.Sent = deliver(ctx, b.sender, b.cfg, rep.Payload)
	b.log.WithFields(logrus.Fields{
		"pairs": n,
		"bytes": len(rep.Payload),
		"sent":  rep.Sent,
	}).Debug("boundary beacon built")
	return rep, nil
}
