package collector

import (
	"errors"
	"net/url"
	"strings"
)

var errBadPageURL = errors.New("collector: page url must be absolute http(s)")

// NormalizePageURL returns the key beacons for raw are stored under. A
// missing scheme defaults to http, the host is lowercased and the
// fragment dropped.
func NormalizePageURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errBadPageURL
	}
	lower := strings.ToLower(s)
	if !(strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")) {
		if strings.Contains(s, "://") {
			return "", errBadPageURL
		}
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", errBadPageURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}
