package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/net/html"

	"critline/fold"
	"critline/internal/browser"
	"critline/internal/collector"
	"critline/internal/config"
	"critline/internal/imageprobe"
	"critline/internal/transport"
)

var (
	scanNoSend   bool
	scanNonce    string
	scanViewport string
)

var scanCmd = &cobra.Command{
	Use:   "scan <url>",
	Short: "Render a page and build its cs, ci and xp beacons",
	Long: `Render a page in headless Chrome at the configured viewport, then build
the critical css, critical images and split html beacons. Payloads are
printed; they are also posted when beacon.url is configured.

Examples:
  critline scan https://example.com/
  critline scan --viewport 360x640 --no-send example.com`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanNoSend, "no-send", false, "print payloads without posting them")
	scanCmd.Flags().StringVar(&scanNonce, "nonce", "", "nonce to embed in every beacon (default: one issued by the collector per beacon)")
	scanCmd.Flags().StringVar(&scanViewport, "viewport", "", "viewport as WIDTHxHEIGHT (overrides config)")
}

func runScan(cmd *cobra.Command, args []string) error {
	base, log, err := setup()
	if err != nil {
		return err
	}
	target, err := collector.NormalizePageURL(args[0])
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	sites := config.NewSiteStore(base.SitesDir)
	cfg := base.ForSite(target, sites)
	if scanViewport != "" {
		if cfg.Viewport, err = config.ParseViewport(scanViewport); err != nil {
			return err
		}
	}
	log = log.WithField("url", target)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	b := browser.New(cfg.Browser.ExecPath, log)
	defer b.Close()
	page, err := b.Snapshot(ctx, target, cfg.Viewport, browser.Options{
		UserAgent:    cfg.Browser.UserAgent,
		Timeout:      cfg.Browser.Timeout(),
		WaitSelector: cfg.Browser.WaitSelector,
		Settle:       cfg.Browser.Settle(),
		Headers:      sites.HeadersFor(target),
	})
	if err != nil {
		return err
	}
	if n := page.FillNaturalSizes(ctx, imageprobe.New(cfg.Fetch.Timeout(), log)); n > 0 {
		log.WithField("images", n).Debug("probed natural sizes")
	}

	fetcher := transport.NewFetcher(cfg.Fetch.Timeout(), cfg.Fetch.UserAgent, log)
	fetcher.Header = headerOf(sites.HeadersFor(target))
	selectors, err := pageSelectors(ctx, page, fetcher, log)
	if err != nil {
		return err
	}

	var sender fold.Sender
	var httpSender *transport.HTTPSender
	if cfg.Beacon.URL != "" && !scanNoSend {
		httpSender = transport.NewHTTPSender(transport.DefaultClient(cfg.Beacon.Timeout()), cfg.Fetch.UserAgent, log)
		sender = httpSender
	}
	bcfg := fold.BeaconConfig{
		BeaconURL:     cfg.Beacon.URL,
		HTMLURL:       page.URL,
		OptionsHash:   cfg.Beacon.OptionsHash,
		MaxBytes:      cfg.Beacon.MaxPayloadBytes,
		MarkTruncated: cfg.Beacon.MarkTruncated,
	}

	// Each beacon spends its own nonce.
	withNonce := func(kind string) fold.BeaconConfig {
		c := bcfg
		c.Nonce = scanNonce
		if c.Nonce != "" {
			return c
		}
		if httpSender != nil {
			n, err := httpSender.Nonce(ctx, cfg.Beacon.URL, page.URL)
			if err == nil {
				c.Nonce = n
				return c
			}
			log.WithError(err).WithField("beacon", kind).Warn("no nonce issued, collector may reject the beacon")
		}
		c.Nonce = uuid.NewString()
		return c
	}

	out := cmd.OutOrStdout()
	css, err := fold.NewCriticalCSSBeacon(withNonce(fold.KeyCriticalCSS), selectors, sender, log).Run(ctx, page.Tree, page.Viewport)
	if err != nil {
		return err
	}
	printReport(out, fold.KeyCriticalCSS, css)

	images, err := fold.NewCriticalImagesBeacon(withNonce(fold.KeyCriticalImages), cfg.Beacon.RenderedSizes, sender, log).Run(ctx, page.Tree, page.Viewport)
	if err != nil {
		return err
	}
	printReport(out, fold.KeyCriticalImages, images)

	split, err := fold.NewSplitHTMLBeacon(withNonce(fold.KeyXPaths), sender, log).Run(ctx, page.Tree, page.Viewport)
	switch {
	case errors.Is(err, fold.ErrDuplicateID):
		log.WithError(err).Warn("split html beacon skipped")
	case err != nil:
		return err
	default:
		printReport(out, fold.KeyXPaths, split)
	}

	if httpSender != nil {
		httpSender.Wait()
	}
	return nil
}

// pageSelectors collects candidate selectors from the rendered markup,
// fetching linked stylesheets relative to the page.
func pageSelectors(ctx context.Context, page *browser.Page, fetcher *transport.Fetcher, log *logrus.Entry) ([]string, error) {
	doc, err := html.Parse(strings.NewReader(page.HTML))
	if err != nil {
		return nil, fmt.Errorf("parsing rendered html: %w", err)
	}
	c := &fold.SelectorCollector{Viewport: page.Viewport, Fetch: fetcher.StylesheetFunc(ctx), Log: log}
	return c.FromHTML(doc, page.URL), nil
}

func headerOf(m map[string]string) http.Header {
	if len(m) == 0 {
		return nil
	}
	h := make(http.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}

func printReport(w io.Writer, kind string, rep fold.Report) {
	if rep.Payload == "" {
		fmt.Fprintf(w, "%s\tnothing to report\n", kind)
		return
	}
	fmt.Fprintf(w, "%s\tcandidates=%d items=%d truncated=%t sent=%t bytes=%d\n",
		kind, rep.Candidates, rep.Items, rep.Truncated, rep.Sent, len(rep.Payload))
	fmt.Fprintf(w, "%s\n", rep.Payload)
}
