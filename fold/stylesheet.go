package fold

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	cssast "github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
)

// FetchFunc loads the text of an external stylesheet.
type FetchFunc func(absURL string) (string, bool)

const (
	maxStylesheetDepth = 16
	maxStylesheetFetch = 16
)

// SelectorCollector gathers candidate selectors from a page's stylesheets
// in the order a browser would apply them.
type SelectorCollector struct {
	// Viewport decides which @media blocks apply. Zero keeps every block.
	Viewport Viewport
	// Fetch loads <link> and @import targets; nil skips them.
	Fetch FetchFunc
	Log   *logrus.Entry

	seen      map[string]bool
	visited   map[string]bool
	budget    int
	selectors []string
}

// FromHTML walks <style> and <link rel=stylesheet> elements of doc in
// document order.
func (c *SelectorCollector) FromHTML(doc *html.Node, base string) []string {
	c.reset()
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch strings.ToLower(n.Data) {
			case "style":
				if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					c.parse(n.FirstChild.Data, base, 0)
				}
			case "link":
				if href := stylesheetHref(n); href != "" {
					c.fetchAndParse(base, href, 0)
				}
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			visit(ch)
		}
	}
	visit(doc)
	return c.result()
}

// FromCSS collects the selectors of a single stylesheet.
func (c *SelectorCollector) FromCSS(text, base string) []string {
	c.reset()
	c.parse(text, base, 0)
	return c.result()
}

func (c *SelectorCollector) reset() {
	c.seen = map[string]bool{}
	c.visited = map[string]bool{}
	c.budget = maxStylesheetFetch
	c.selectors = nil
	if c.Log == nil {
		c.Log = logrus.NewEntry(logrus.StandardLogger())
	}
}

func (c *SelectorCollector) result() []string {
	return append([]string(nil), c.selectors...)
}

func stylesheetHref(n *html.Node) string {
	var rel, typ, href string
	for _, a := range n.Attr {
		switch strings.ToLower(a.Key) {
		case "rel":
			rel = strings.ToLower(strings.TrimSpace(a.Val))
		case "type":
			typ = strings.ToLower(strings.TrimSpace(a.Val))
		case "href":
			href = strings.TrimSpace(a.Val)
		}
	}
	if !strings.Contains(rel, "stylesheet") || (typ != "" && typ != "text/css") {
		return ""
	}
	return href
}

func (c *SelectorCollector) fetchAndParse(base, href string, depth int) {
	if c.Fetch == nil || c.budget <= 0 {
		return
	}
	abs := resolveAbsURL(base, href)
	if abs == "" || c.visited[abs] {
		return
	}
	c.visited[abs] = true
	c.budget--
	if text, ok := c.Fetch(abs); ok {
		c.parse(text, abs, depth+1)
	}
}

func (c *SelectorCollector) parse(text, base string, depth int) {
	text = strings.TrimSpace(text)
	if text == "" || depth >= maxStylesheetDepth {
		return
	}
	sheet, err := parser.Parse(text)
	if err != nil {
		c.Log.WithError(err).WithField("base", base).Debug("unparseable stylesheet")
		return
	}
	c.walk(sheet.Rules, base, depth)
}

func (c *SelectorCollector) walk(rules []*cssast.Rule, base string, depth int) {
	for _, rule := range rules {
		if rule == nil {
			continue
		}
		switch rule.Kind {
		case cssast.AtRule:
			switch strings.ToLower(strings.TrimSpace(rule.Name)) {
			case "@media":
				if mediaApplies(rule.Prelude, c.Viewport) {
					c.walk(rule.Rules, base, depth)
				}
			case "@import":
				target, media := importTarget(rule.Prelude)
				if target != "" && (media == "" || mediaApplies(media, c.Viewport)) {
					c.fetchAndParse(base, target, depth)
				}
			case "@supports", "@document", "@layer":
				c.walk(rule.Rules, base, depth)
			}
		case cssast.QualifiedRule:
			for _, sel := range rule.Selectors {
				c.add(sel)
			}
		}
	}
}

// add keeps selectors that cannot select an element box out of the list.
// Selectors cascadia cannot parse are kept; the beacon skips them.
func (c *SelectorCollector) add(sel string) {
	sel = strings.TrimSpace(sel)
	if sel == "" || c.seen[sel] {
		return
	}
	if hasPseudoElement(sel) {
		return
	}
	if group, err := cascadia.ParseGroup(sel); err == nil {
		for _, s := range group {
			if s != nil && s.PseudoElement() != "" {
				return
			}
		}
	}
	c.seen[sel] = true
	c.selectors = append(c.selectors, sel)
}

var legacyPseudoElements = []string{":before", ":after", ":first-line", ":first-letter"}

func hasPseudoElement(sel string) bool {
	if strings.Contains(sel, "::") {
		return true
	}
	lower := strings.ToLower(sel)
	for _, p := range legacyPseudoElements {
		if strings.HasSuffix(lower, p) || strings.Contains(lower, p+",") || strings.Contains(lower, p+" ") {
			return true
		}
	}
	return false
}

func resolveAbsURL(base, href string) string {
	hu, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == "" {
		if hu.IsAbs() {
			return hu.String()
		}
		return ""
	}
	bu, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return bu.ResolveReference(hu).String()
}

func importTarget(prelude string) (target, media string) {
	s := strings.TrimSpace(prelude)
	if s == "" {
		return "", ""
	}
	if strings.HasPrefix(strings.ToLower(s), "url(") {
		end := strings.Index(s, ")")
		if end == -1 {
			return "", ""
		}
		return trimCSSString(s[4:end]), strings.TrimSpace(s[end+1:])
	}
	if (s[0] == '"' || s[0] == '\'') && len(s) > 1 {
		if idx := strings.IndexByte(s[1:], s[0]); idx != -1 {
			return s[1 : idx+1], strings.TrimSpace(s[idx+2:])
		}
	}
	fields := strings.Fields(s)
	return trimCSSString(fields[0]), strings.TrimSpace(strings.TrimPrefix(s, fields[0]))
}

func trimCSSString(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// mediaApplies evaluates a media query list against the viewport. Unknown
// features are assumed to match.
func mediaApplies(prelude string, vp Viewport) bool {
	if strings.TrimSpace(prelude) == "" {
		return true
	}
	for _, raw := range strings.Split(prelude, ",") {
		query := strings.ToLower(strings.TrimSpace(raw))
		if query == "" {
			continue
		}
		rest := query
		if fields := strings.Fields(query); len(fields) > 0 && !strings.HasPrefix(fields[0], "(") {
			mediaType := fields[0]
			if mediaType == "only" && len(fields) > 1 {
				mediaType = fields[1]
			}
			switch mediaType {
			case "all", "screen", "only":
			default:
				continue
			}
			if i := strings.Index(query, "("); i >= 0 {
				rest = query[i:]
			} else {
				rest = ""
			}
		}
		if mediaFeaturesMatch(rest, vp) {
			return true
		}
	}
	return false
}

func mediaFeaturesMatch(expr string, vp Viewport) bool {
	if vp.Width <= 0 || vp.Height <= 0 {
		return true
	}
	for _, clause := range strings.Split(expr, " and ") {
		clause = strings.Trim(strings.TrimSpace(clause), "()")
		if clause == "" {
			continue
		}
		feature, value, _ := strings.Cut(clause, ":")
		feature = strings.TrimSpace(feature)
		value = strings.TrimSpace(value)
		switch feature {
		case "min-width":
			if v, ok := cssPixels(value); ok && float64(vp.Width) < v {
				return false
			}
		case "max-width":
			if v, ok := cssPixels(value); ok && float64(vp.Width) > v {
				return false
			}
		case "min-height":
			if v, ok := cssPixels(value); ok && float64(vp.Height) < v {
				return false
			}
		case "max-height":
			if v, ok := cssPixels(value); ok && float64(vp.Height) > v {
				return false
			}
		case "orientation":
			orientation := "portrait"
			if vp.Width > vp.Height {
				orientation = "landscape"
			}
			if value != "" && value != orientation {
				return false
			}
		}
	}
	return true
}

// cssPixels understands px and em (16px) lengths.
func cssPixels(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	scale := 1.0
	switch {
	case strings.HasSuffix(v, "px"):
		v = strings.TrimSuffix(v, "px")
	case strings.HasSuffix(v, "rem"):
		v, scale = strings.TrimSuffix(v, "rem"), 16
	case strings.HasSuffix(v, "em"):
		v, scale = strings.TrimSuffix(v, "em"), 16
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return f * scale, true
}
