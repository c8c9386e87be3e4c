package transport

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"critline/fold"
)

// maxTextBytes caps stylesheet and page downloads.
const maxTextBytes = 4 << 20

// Fetcher downloads text resources: pages for the selectors command and
// stylesheets for the selector collector.
type Fetcher struct {
	Client    *http.Client
	Header    http.Header
	UserAgent string
	Log       *logrus.Entry
}

func NewFetcher(timeout time.Duration, userAgent string, log *logrus.Entry) *Fetcher {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Fetcher{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: userAgent,
		Log:       log.WithField("component", "fetcher"),
	}
}

// FetchText GETs absURL and returns its decoded body.
func (f *Fetcher) FetchText(ctx context.Context, absURL, accept string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, absURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", absURL, err)
	}
	if accept == "" {
		accept = "text/*"
	}
	for k, vals := range f.Header {
		if strings.EqualFold(k, "accept") {
			continue
		}
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", accept)
	ua := f.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", ua)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", absURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, resp.Header, fmt.Errorf("fetch %s: status %d", absURL, resp.StatusCode)
	}
	rc, err := decodedBody(resp)
	if err != nil {
		return nil, resp.Header, fmt.Errorf("fetch %s: %w", absURL, err)
	}
	defer rc.Close()
	body, err := io.ReadAll(io.LimitReader(rc, maxTextBytes))
	if err != nil {
		return nil, resp.Header, fmt.Errorf("fetch %s: %w", absURL, err)
	}
	return body, resp.Header, nil
}

// StylesheetFunc adapts the fetcher to fold.FetchFunc. Failures are
// logged and reported as a miss.
func (f *Fetcher) StylesheetFunc(ctx context.Context) fold.FetchFunc {
	return func(absURL string) (string, bool) {
		body, _, err := f.FetchText(ctx, absURL, "text/css,*/*;q=0.1")
		if err != nil {
			f.Log.WithError(err).Debug("stylesheet skipped")
			return "", false
		}
		return string(body), true
	}
}

// decodedBody undoes a Content-Encoding the transport left in place.
func decodedBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "deflate":
		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxTextBytes))
		if err != nil {
			return nil, err
		}
		if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			return zr, nil
		}
		return flate.NewReader(bytes.NewReader(raw)), nil
	}
	return io.NopCloser(resp.Body), nil
}
