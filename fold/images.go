package fold

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
)

// ImageKeyAttr carries the server's hash of an image URL.
const ImageKeyAttr = "data-pagespeed-url-hash"

// RenderedSize is an image's rendered and natural size, with the short
// keys the beacon uses.
type RenderedSize struct {
	RenderedWidth  int `json:"rw"`
	RenderedHeight int `json:"rh"`
	OriginalWidth  int `json:"ow"`
	OriginalHeight int `json:"oh"`
}

// imageScan holds the per-pass de-duplication state.
type imageScan struct {
	doc       Document
	vp        Viewport
	locations map[string]bool
	seen      map[string]bool
	keys      []string
}

func newImageScan(doc Document, vp Viewport) *imageScan {
	return &imageScan{doc: doc, vp: vp, locations: map[string]bool{}, seen: map[string]bool{}}
}

func (s *imageScan) consider(n Node) {
	key, _ := n.Attr(ImageKeyAttr)
	if key == "" || s.seen[key] {
		return
	}
	if s.critical(n) {
		s.seen[key] = true
		s.keys = append(s.keys, key)
	}
}

// critical counts only the first image at any exact location, so a slider
// stacking many images in one spot contributes one key.
func (s *imageScan) critical(n Node) bool {
	l, err := n.Layout()
	if err != nil || (l.OffsetWidth <= 0 && l.OffsetHeight <= 0) {
		return false
	}
	r, err := BoundingRect(s.doc, n)
	if err != nil {
		return false
	}
	loc := strconv.FormatFloat(r.Top, 'f', -1, 64) + "," + strconv.FormatFloat(r.Left, 'f', -1, 64)
	if s.locations[loc] {
		return false
	}
	s.locations[loc] = true
	return IntersectsViewport(r, s.vp)
}

// CriticalImageKeys returns the unique keys of <img> and <input> elements
// in the initial viewport, in document order.
func CriticalImageKeys(doc Document, vp Viewport) []string {
	s := newImageScan(doc, vp)
	for _, n := range ElementsByTag(doc, "img", "input") {
		s.consider(n)
	}
	return s.keys
}

// RenderedImageMap maps image keys to their sizes. When a key repeats the
// largest rendering wins.
func RenderedImageMap(doc Document) map[string]RenderedSize {
	out := map[string]RenderedSize{}
	for _, n := range ElementsByTag(doc, "img") {
		key, _ := n.Attr(ImageKeyAttr)
		if key == "" {
			continue
		}
		l, err := n.Layout()
		if err != nil {
			continue
		}
		size := RenderedSize{
			RenderedWidth:  px(l.Width),
			RenderedHeight: px(l.Height),
			OriginalWidth:  px(l.NaturalWidth),
			OriginalHeight: px(l.NaturalHeight),
		}
		prev, ok := out[key]
		fresh := !ok && size.RenderedWidth > 0 && size.RenderedHeight > 0 &&
			size.OriginalWidth > 0 && size.OriginalHeight > 0
		larger := ok && size.RenderedWidth >= prev.RenderedWidth && size.RenderedHeight >= prev.RenderedHeight
		if fresh || larger {
			out[key] = size
		}
	}
	return out
}

func px(v float64) int { return int(math.Round(v)) }

// CriticalImagesBeacon reports the critical image keys of a page and,
// optionally, the rendered image sizes.
type CriticalImagesBeacon struct {
	cfg           BeaconConfig
	checkRendered bool
	sender        Sender
	log           *logrus.Entry
	guard         passGuard

	mu     sync.Mutex
	onload *imageScan
}

func NewCriticalImagesBeacon(cfg BeaconConfig, checkRenderedSizes bool, sender Sender, log *logrus.Entry) *CriticalImagesBeacon {
	return &CriticalImagesBeacon{
		cfg:           cfg,
		checkRendered: checkRenderedSizes,
		sender:        sender,
		log:           defaultEntry(log, "critical_images"),
	}
}

// Observe checks a single image as soon as it has loaded. Keys found this
// way lead the list at Run, ahead of the full scan, which catches the
// first slide of a carousel before later slides move into its place.
func (b *CriticalImagesBeacon) Observe(doc Document, vp Viewport, n Node) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.onload == nil {
		b.onload = newImageScan(doc, vp)
	}
	b.onload.consider(n)
}

// Run scans every image and sends the ci beacon. Nothing is sent when no
// image is critical and rendered sizes are not requested.
func (b *CriticalImagesBeacon) Run(ctx context.Context, doc Document, vp Viewport) (Report, error) {
	if err := b.guard.begin(); err != nil {
		return Report{}, err
	}
	defer b.guard.end()
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	var keys []string
	b.mu.Lock()
	if b.onload != nil {
		keys = append(keys, b.onload.keys...)
	}
	b.mu.Unlock()
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		seen[k] = true
	}
	for _, k := range CriticalImageKeys(doc, vp) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	buf, err := b.cfg.header(KeyCriticalImages)
	if err != nil {
		b.log.WithError(err).Warn("critical images beacon not built")
		return Report{}, err
	}
	rep := Report{Candidates: len(keys)}
	if len(keys) > 0 {
		rep.Items = appendList(buf, KeyCriticalImages, keys)
		rep.Truncated = rep.Items < len(keys)
	}
	available := len(keys) > 0
	if b.checkRendered {
		raw, err := json.Marshal(RenderedImageMap(doc))
		if err != nil {
			return Report{}, err
		}
		if !buf.TryAppend("&" + KeyRenderedImages + "=" + EncodeComponent(string(raw))) {
			rep.Truncated = true
		}
		available = true
	}
	b.cfg.markTruncated(buf, rep.Truncated)
	rep.Payload = buf.String()
	if available {
		rep.Sent = deliver(ctx, b.sender, b.cfg, rep.Payload)
	}
	b.log.WithFields(logrus.Fields{
		"critical": rep.Items,
		"bytes":    len(rep.Payload),
		"sent":     rep.Sent,
	}).Debug("critical images beacon built")
	return rep, nil
}
