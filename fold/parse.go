package fold

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrMissingOptionsHash is returned for payloads without the oh key.
var ErrMissingOptionsHash = errors.New("fold: beacon has no options hash")

// BeaconData is a decoded beacon body.
type BeaconData struct {
	OptionsHash       string                  `json:"options_hash"`
	Nonce             string                  `json:"nonce,omitempty"`
	CriticalSelectors []string                `json:"critical_selectors,omitempty"`
	CriticalImages    []string                `json:"critical_images,omitempty"`
	RenderedImages    map[string]RenderedSize `json:"rendered_images,omitempty"`
	XPathPairs        []BoundaryPair          `json:"xpath_pairs,omitempty"`
	Truncated         bool                    `json:"truncated,omitempty"`

	HasSelectors bool `json:"has_selectors,omitempty"`
	HasImages    bool `json:"has_images,omitempty"`
	HasXPaths    bool `json:"has_xpaths,omitempty"`
}

// Kinds lists the beacon kinds present, using their query keys.
func (d *BeaconData) Kinds() []string {
	var out []string
	if d.HasSelectors {
		out = append(out, KeyCriticalCSS)
	}
	if d.HasImages {
		out = append(out, KeyCriticalImages)
	}
	if d.HasXPaths {
		out = append(out, KeyXPaths)
	}
	return out
}

// ParseBeacon decodes a beacon body. List values are treated as sets: a
// repeated item is kept once, at its first position.
func ParseBeacon(body string) (*BeaconData, error) {
	q, err := url.ParseQuery(strings.TrimSpace(body))
	if err != nil {
		return nil, fmt.Errorf("parse beacon: %w", err)
	}
	d := &BeaconData{OptionsHash: q.Get(KeyOptionsHash), Nonce: q.Get(KeyNonce)}
	if d.OptionsHash == "" {
		return nil, ErrMissingOptionsHash
	}
	if _, ok := q[KeyCriticalCSS]; ok {
		d.HasSelectors = true
		d.CriticalSelectors = splitSet(q.Get(KeyCriticalCSS))
	}
	if _, ok := q[KeyCriticalImages]; ok {
		d.HasImages = true
		d.CriticalImages = splitSet(q.Get(KeyCriticalImages))
	}
	if raw := q.Get(KeyRenderedImages); raw != "" {
		d.HasImages = true
		if err := json.Unmarshal([]byte(raw), &d.RenderedImages); err != nil {
			return nil, fmt.Errorf("parse beacon %s: %w", KeyRenderedImages, err)
		}
	}
	if _, ok := q[KeyXPaths]; ok {
		d.HasXPaths = true
		for _, item := range splitSet(q.Get(KeyXPaths)) {
			start, end, _ := strings.Cut(item, boundarySeparator)
			if start == "" {
				continue
			}
			d.XPathPairs = append(d.XPathPairs, BoundaryPair{Start: start, End: end})
		}
	}
	d.Truncated = q.Get(KeyTruncated) == "1"
	return d, nil
}

func splitSet(v string) []string {
	var out []string
	seen := map[string]bool{}
	for _, item := range strings.Split(v, listSeparator) {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
