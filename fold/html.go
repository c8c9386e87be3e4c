package fold

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// ParseHTML builds an unmeasured Tree from a server-rendered document.
// It carries structure only and is meant for resolving paths.
func ParseHTML(r io.Reader) (*Tree, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return FromHTML(doc), nil
}

// FromHTML copies the body subtree of doc into a Tree.
func FromHTML(doc *html.Node) *Tree {
	t := NewTree()
	t.SetLaidOut(false)
	body := findBody(doc)
	if body == nil {
		return t
	}
	for _, a := range body.Attr {
		t.body.SetAttr(a.Key, a.Val)
	}
	copyChildren(t.body, body)
	return t
}

func copyChildren(dst *Element, src *html.Node) {
	for c := src.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		el := dst.AppendChild(c.Data)
		for _, a := range c.Attr {
			if a.Namespace == "" {
				el.SetAttr(a.Key, a.Val)
			}
		}
		copyChildren(el, c)
	}
}

func findBody(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && strings.EqualFold(n.Data, "body") {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}
