// Package browser renders pages in headless Chrome and captures the
// layout snapshot the fold package works on.
package browser

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"critline/fold"
	"critline/internal/imageprobe"
)

// Options tune a single snapshot.
type Options struct {
	UserAgent    string
	Timeout      time.Duration
	WaitSelector string
	Settle       time.Duration
	Headers      map[string]string
}

// Page is a rendered page and its layout snapshot.
type Page struct {
	URL      string
	HTML     string
	Tree     *fold.Tree
	Viewport fold.Viewport
	Images   []Image
}

// Browser owns a Chrome allocator shared by snapshots.
type Browser struct {
	allocator context.Context
	cancel    context.CancelFunc
	log       *logrus.Entry
}

// New starts an allocator. execPath may be empty to let chromedp find
// Chrome.
func New(execPath string, log *logrus.Entry) *Browser {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-extensions", true),
	)
	if strings.TrimSpace(execPath) != "" {
		opts = append(opts, chromedp.ExecPath(execPath))
	}
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Browser{allocator: allocCtx, cancel: cancel, log: log.WithField("component", "browser")}
}

func (b *Browser) Close() {
	if b.cancel != nil {
		b.cancel()
	}
}

// Snapshot loads target at viewport vp and captures its layout.
func (b *Browser) Snapshot(ctx context.Context, target string, vp fold.Viewport, opt Options) (*Page, error) {
	if strings.TrimSpace(target) == "" {
		return nil, fmt.Errorf("snapshot: empty target url")
	}
	taskCtx, cancelBrowser := chromedp.NewContext(b.allocator)
	defer cancelBrowser()

	var cancel context.CancelFunc
	taskCtx, cancel = context.WithCancel(taskCtx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-taskCtx.Done():
		}
	}()

	timeout := opt.Timeout
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	taskCtx, cancelTimeout := context.WithTimeout(taskCtx, timeout)
	defer cancelTimeout()

	actions := []chromedp.Action{
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetDeviceMetricsOverride(int64(vp.Width), int64(vp.Height), 1, false).Do(ctx)
		}),
	}
	if ua := strings.TrimSpace(opt.UserAgent); ua != "" {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetUserAgentOverride(ua).Do(ctx)
		}))
	}
	if len(opt.Headers) > 0 {
		extra := network.Headers{}
		for k, v := range opt.Headers {
			name := http.CanonicalHeaderKey(strings.TrimSpace(k))
			if name == "" || strings.EqualFold(name, "Content-Length") {
				continue
			}
			extra[name] = v
		}
		if len(extra) > 0 {
			actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
				return network.SetExtraHTTPHeaders(extra).Do(ctx)
			}))
		}
	}
	actions = append(actions,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if sel := strings.TrimSpace(opt.WaitSelector); sel != "" {
		actions = append(actions, chromedp.WaitVisible(sel, chromedp.ByQuery))
	}
	if opt.Settle > 0 {
		actions = append(actions, chromedp.Sleep(opt.Settle))
	}

	var (
		finalURL string
		html     string
		raw      string
	)
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Evaluate(script(), &raw),
	)

	started := time.Now()
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", target, err)
	}
	tree, pageURL, images, err := DecodeSnapshot([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", target, err)
	}
	if pageURL == "" {
		pageURL = finalURL
	}
	if pageURL == "" {
		pageURL = target
	}
	b.log.WithFields(logrus.Fields{
		"url":     pageURL,
		"images":  len(images),
		"elapsed": time.Since(started).Round(time.Millisecond),
	}).Debug("snapshot captured")
	return &Page{URL: pageURL, HTML: html, Tree: tree, Viewport: vp, Images: images}, nil
}

// FillNaturalSizes probes images the page reported without an intrinsic
// size, such as lazily loaded ones. It returns how many were filled.
func (p *Page) FillNaturalSizes(ctx context.Context, prober *imageprobe.Prober) int {
	if p == nil || prober == nil {
		return 0
	}
	filled := 0
	for _, img := range p.Images {
		l, err := img.Element.Layout()
		if err != nil || (l.NaturalWidth > 0 && l.NaturalHeight > 0) {
			continue
		}
		size, err := prober.Probe(ctx, img.Src)
		if err != nil {
			continue
		}
		l.NaturalWidth, l.NaturalHeight = float64(size.Width), float64(size.Height)
		img.Element.SetLayout(l)
		filled++
	}
	return filled
}
