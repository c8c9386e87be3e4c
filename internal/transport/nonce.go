package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// NonceURL is the collector's nonce endpoint next to beaconURL:
// http://c/beacon becomes http://c/nonce.
func NonceURL(beaconURL string) (string, error) {
	u, err := url.Parse(beaconURL)
	if err != nil {
		return "", fmt.Errorf("beacon url %q: %w", beaconURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("beacon url %q: not absolute", beaconURL)
	}
	return u.ResolveReference(&url.URL{Path: "nonce"}).String(), nil
}

// Nonce asks the collector behind beaconURL for a single-use nonce for
// htmlURL. Unlike Send it waits for the answer.
func (s *HTTPSender) Nonce(ctx context.Context, beaconURL, htmlURL string) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("nonce: no http client")
	}
	endpoint, err := NonceURL(beaconURL)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, BeaconTarget(endpoint, htmlURL), nil)
	if err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("nonce %s: status %d", endpoint, resp.StatusCode)
	}
	var body struct {
		Nonce string `json:"nonce"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err != nil {
		return "", fmt.Errorf("nonce %s: %w", endpoint, err)
	}
	if strings.TrimSpace(body.Nonce) == "" {
		return "", fmt.Errorf("nonce %s: empty nonce", endpoint)
	}
	s.log.WithField("target", endpoint).Debug("nonce issued")
	return body.Nonce, nil
}
