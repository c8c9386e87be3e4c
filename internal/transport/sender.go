// Package transport moves beacons and page resources over HTTP.
package transport

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"critline/fold"
)

const defaultUserAgent = "critline/1.0"

// HTTPSender posts beacon payloads in the background. It satisfies
// fold.Sender.
type HTTPSender struct {
	client    *http.Client
	log       *logrus.Entry
	userAgent string
	wg        sync.WaitGroup
}

// NewHTTPSender returns a sender using client. A nil client leaves the
// sender unable to dispatch, and Send reports false.
func NewHTTPSender(client *http.Client, userAgent string, log *logrus.Entry) *HTTPSender {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if strings.TrimSpace(userAgent) == "" {
		userAgent = defaultUserAgent
	}
	return &HTTPSender{client: client, log: log.WithField("component", "sender"), userAgent: userAgent}
}

// DefaultClient is the client used for beacons when none is configured.
func DefaultClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// BeaconTarget appends the page URL to the beacon endpoint as url=.
func BeaconTarget(beaconURL, htmlURL string) string {
	sep := "?"
	if strings.Contains(beaconURL, "?") {
		sep = "&"
	}
	return beaconURL + sep + "url=" + fold.EncodeComponent(htmlURL)
}

// Send dispatches payload and returns without waiting for the response.
// Only a missing client or an unbuildable request yields false; HTTP
// failures are logged.
func (s *HTTPSender) Send(ctx context.Context, beaconURL, htmlURL, payload string) bool {
	if s == nil || s.client == nil {
		return false
	}
	target := BeaconTarget(beaconURL, htmlURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(payload))
	if err != nil {
		s.log.WithError(err).WithField("target", beaconURL).Warn("beacon request not built")
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", s.userAgent)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		resp, err := s.client.Do(req)
		if err != nil {
			s.log.WithError(err).WithField("target", beaconURL).Warn("beacon post failed")
			return
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		entry := s.log.WithFields(logrus.Fields{
			"target": beaconURL,
			"status": resp.StatusCode,
			"bytes":  len(payload),
		})
		if resp.StatusCode >= 300 {
			entry.Warn("beacon rejected")
			return
		}
		entry.Debug("beacon delivered")
	}()
	return true
}

// Wait blocks until every dispatched beacon has finished.
func (s *HTTPSender) Wait() {
	if s != nil {
		s.wg.Wait()
	}
}
