// Package imageprobe reads image dimensions from the first bytes of a
// resource without decoding pixels.
package imageprobe

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// maxHeaderBytes bounds how much of an image is read to find its size.
const maxHeaderBytes = 512 << 10

// ErrUnsupported is returned for URLs the prober cannot load.
var ErrUnsupported = errors.New("imageprobe: unsupported url")

// Size is an image's intrinsic size.
type Size struct {
	Width  int
	Height int
	Format string
}

// Prober fetches image headers over HTTP.
type Prober struct {
	client *http.Client
	log    *logrus.Entry
}

func New(timeout time.Duration, log *logrus.Entry) *Prober {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Prober{
		client: &http.Client{Timeout: timeout},
		log:    log.WithField("component", "imageprobe"),
	}
}

// WithClient replaces the HTTP client.
func (p *Prober) WithClient(c *http.Client) *Prober {
	p.client = c
	return p
}

// Probe returns the intrinsic size of the image at rawURL. data: URLs are
// decoded in place.
func (p *Prober) Probe(ctx context.Context, rawURL string) (Size, error) {
	if strings.HasPrefix(rawURL, "data:") {
		raw, err := decodeDataURL(rawURL)
		if err != nil {
			return Size{}, err
		}
		return Decode(bytes.NewReader(raw))
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Size{}, fmt.Errorf("%w: %q", ErrUnsupported, rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Size{}, fmt.Errorf("probe %s: %w", rawURL, err)
	}
	req.Header.Set("Accept", "image/*")
	resp, err := p.client.Do(req)
	if err != nil {
		return Size{}, fmt.Errorf("probe %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Size{}, fmt.Errorf("probe %s: status %d", rawURL, resp.StatusCode)
	}
	size, err := Decode(io.LimitReader(resp.Body, maxHeaderBytes))
	if err != nil {
		p.log.WithError(err).WithField("url", rawURL).Debug("image header not understood")
		return Size{}, fmt.Errorf("probe %s: %w", rawURL, err)
	}
	return size, nil
}

// Decode reads an image header from r.
func Decode(r io.Reader) (Size, error) {
	cfg, format, err := image.DecodeConfig(bufio.NewReader(r))
	if err != nil {
		return Size{}, err
	}
	return Size{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

func decodeDataURL(raw string) ([]byte, error) {
	meta, data, ok := strings.Cut(strings.TrimPrefix(raw, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("%w: malformed data url", ErrUnsupported)
	}
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		out, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("data url: %w", err)
		}
		return out, nil
	}
	s, err := url.PathUnescape(data)
	if err != nil {
		return nil, fmt.Errorf("data url: %w", err)
	}
	return []byte(s), nil
}
