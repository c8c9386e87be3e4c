package fold

import (
	"reflect"
	"strings"
	"testing"

	"golang.org/x/net/html"
)

func TestSelectorCollectorFromCSS(t *testing.T) {
	t.Parallel()
	css := `
		.a, .b { color: red }
		.a { margin: 0 }
		p::before { content: "x" }
		@media screen and (max-width: 480px) { .phone { display: none } }
		@media (min-width: 500px) { .desktop { display: block } }
		@media print { .print { color: black } }
		@supports (display: grid) { .grid { display: grid } }
		@font-face { font-family: x; src: url(x.woff) }
	`
	c := &SelectorCollector{Viewport: Viewport{Width: 1024, Height: 768}, Log: quietLog()}
	got := c.FromCSS(css, "")
	want := []string{".a", ".b", ".desktop", ".grid"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("FromCSS = %v, want %v", got, want)
	}
}

func TestSelectorCollectorFromHTML(t *testing.T) {
	t.Parallel()
	page := `<html><head>
		<link rel="stylesheet" href="/main.css">
		<link rel="icon" href="/favicon.css">
		<style>.inline { color: red }</style>
	</head><body><style>.late { color: blue }</style></body></html>`
	sheets := map[string]string{
		"http://site.test/main.css":      `@import url("parts/nav.css"); .main { x: y }`,
		"http://site.test/parts/nav.css": `.nav { x: y } @import "/main.css";`,
	}
	var fetched []string
	c := &SelectorCollector{
		Log: quietLog(),
		Fetch: func(u string) (string, bool) {
			fetched = append(fetched, u)
			s, ok := sheets[u]
			return s, ok
		},
	}
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		t.Fatalf("html.Parse: %v", err)
	}
	got := c.FromHTML(doc, "http://site.test/index.html")
	want := []string{".nav", ".main", ".inline", ".late"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("FromHTML = %v, want %v", got, want)
	}
	if len(fetched) != 2 {
		t.Fatalf("fetched %v, want each sheet once", fetched)
	}
}

func TestMediaApplies(t *testing.T) {
	t.Parallel()
	vp := Viewport{Width: 400, Height: 800}
	cases := []struct {
		query string
		want  bool
	}{
		{"", true},
		{"screen", true},
		{"print", false},
		{"print, screen", true},
		{"only screen and (max-width: 480px)", true},
		{"(min-width: 30em)", false},
		{"(orientation: portrait)", true},
		{"(orientation: landscape)", false},
		{"(min-height: 900px)", false},
		{"(prefers-color-scheme: dark)", true},
	}
	for _, tc := range cases {
		if got := mediaApplies(tc.query, vp); got != tc.want {
			t.Fatalf("mediaApplies(%q) = %v, want %v", tc.query, got, tc.want)
		}
	}
}
