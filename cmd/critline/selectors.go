package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/net/html"

	"critline/fold"
	"critline/internal/collector"
	"critline/internal/config"
	"critline/internal/transport"
)

var selectorsViewport string

var selectorsCmd = &cobra.Command{
	Use:   "selectors <url|file>",
	Short: "Print the candidate selectors a page's stylesheets yield",
	Long: `Print the selectors the critical css beacon would check, in cascade
order. A URL is fetched without rendering and its linked stylesheets are
followed; a local file is read as is and only its inline styles are used.`,
	Args: cobra.ExactArgs(1),
	RunE: runSelectors,
}

func init() {
	selectorsCmd.Flags().StringVar(&selectorsViewport, "viewport", "", "viewport for @media evaluation as WIDTHxHEIGHT")
}

func runSelectors(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	vp := cfg.Viewport
	if selectorsViewport != "" {
		if vp, err = config.ParseViewport(selectorsViewport); err != nil {
			return err
		}
	}

	c := &fold.SelectorCollector{Viewport: vp, Log: log}
	var (
		raw  []byte
		base string
	)
	if _, statErr := os.Stat(args[0]); statErr == nil {
		if raw, err = os.ReadFile(args[0]); err != nil {
			return err
		}
	} else {
		if base, err = collector.NormalizePageURL(args[0]); err != nil {
			return fmt.Errorf("%s: neither a file nor a page url", args[0])
		}
		fetcher := transport.NewFetcher(cfg.Fetch.Timeout(), cfg.Fetch.UserAgent, log)
		fetcher.Header = headerOf(config.NewSiteStore(cfg.SitesDir).HeadersFor(base))
		if raw, _, err = fetcher.FetchText(cmd.Context(), base, "text/html,application/xhtml+xml"); err != nil {
			return err
		}
		c.Fetch = fetcher.StylesheetFunc(cmd.Context())
	}

	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("parsing html: %w", err)
	}
	out := cmd.OutOrStdout()
	for _, sel := range c.FromHTML(doc, base) {
		fmt.Fprintln(out, sel)
	}
	return nil
}
