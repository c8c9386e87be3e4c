package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestBeaconTarget(t *testing.T) {
	t.Parallel()
	cases := []struct {
		beacon, page, want string
	}{
		{"http://c.test/beacon", "http://s.test/a?b=1", "http://c.test/beacon?url=http%3A%2F%2Fs.test%2Fa%3Fb%3D1"},
		{"http://c.test/beacon?ets=load", "http://s.test/", "http://c.test/beacon?ets=load&url=http%3A%2F%2Fs.test%2F"},
	}
	for _, tc := range cases {
		if got := BeaconTarget(tc.beacon, tc.page); got != tc.want {
			t.Fatalf("BeaconTarget(%q, %q) = %q, want %q", tc.beacon, tc.page, got, tc.want)
		}
	}
}

func TestHTTPSenderPostsForm(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var gotURL, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotURL = r.URL.Query().Get("url")
		gotType = r.Header.Get("Content-Type")
		gotBody = string(body)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.Client(), "", quietLog())
	if !s.Send(context.Background(), srv.URL+"/beacon", "http://s.test/page", "oh=h&cs=.a") {
		t.Fatalf("Send returned false")
	}
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	if gotURL != "http://s.test/page" {
		t.Fatalf("url param = %q", gotURL)
	}
	if gotType != "application/x-www-form-urlencoded" {
		t.Fatalf("content type = %q", gotType)
	}
	if gotBody != "oh=h&cs=.a" {
		t.Fatalf("body = %q", gotBody)
	}
}

func TestHTTPSenderUnavailable(t *testing.T) {
	t.Parallel()
	if NewHTTPSender(nil, "", quietLog()).Send(context.Background(), "http://c.test/", "http://s.test/", "oh=h") {
		t.Fatalf("Send without a client returned true")
	}
	var nilSender *HTTPSender
	if nilSender.Send(context.Background(), "http://c.test/", "http://s.test/", "oh=h") {
		t.Fatalf("nil sender returned true")
	}
	if NewHTTPSender(DefaultClient(0), "", quietLog()).Send(context.Background(), "://bad", "http://s.test/", "oh=h") {
		t.Fatalf("unbuildable request returned true")
	}
}

func TestHTTPSenderServerErrorStillDispatched(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()
	s := NewHTTPSender(srv.Client(), "", quietLog())
	if !s.Send(context.Background(), srv.URL, "http://s.test/", "oh=h") {
		t.Fatalf("Send returned false for a dispatched request")
	}
	s.Wait()
}

func TestFetcherGzip(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/css,*/*;q=0.1" {
			http.Error(w, "bad accept", http.StatusBadRequest)
			return
		}
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		_, _ = zw.Write([]byte(".a { color: red }"))
		_ = zw.Close()
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	f := NewFetcher(0, "", quietLog())
	f.Client = srv.Client()
	text, ok := f.StylesheetFunc(context.Background())(srv.URL + "/a.css")
	if !ok || text != ".a { color: red }" {
		t.Fatalf("stylesheet = %q, %v", text, ok)
	}
}

func TestFetcherStatusError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	f := NewFetcher(0, "", quietLog())
	f.Client = srv.Client()
	if _, _, err := f.FetchText(context.Background(), srv.URL, ""); err == nil {
		t.Fatalf("expected error for 404")
	}
	if _, ok := f.StylesheetFunc(context.Background())(srv.URL); ok {
		t.Fatalf("404 stylesheet reported as found")
	}
}

func TestNonceURL(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in, want string
		ok       bool
	}{
		{"http://c.test/beacon", "http://c.test/nonce", true},
		{"http://c.test/api/beacon?ets=load", "http://c.test/api/nonce", true},
		{"https://c.test", "https://c.test/nonce", true},
		{"/beacon", "", false},
		{"http://%zz", "", false},
	}
	for _, tc := range cases {
		got, err := NonceURL(tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Fatalf("NonceURL(%q) = %q, %v", tc.in, got, err)
		}
	}
}

func TestHTTPSenderNonce(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var gotPath, gotPage, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath, gotPage, gotMethod = r.URL.Path, r.URL.Query().Get("url"), r.Method
		mu.Unlock()
		switch r.URL.Query().Get("url") {
		case "http://s.test/empty":
			_, _ = io.WriteString(w, `{"nonce":""}`)
		case "http://s.test/down":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			_, _ = io.WriteString(w, `{"nonce":"abc","expires_at":"2026-01-01T00:00:00Z"}`)
		}
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.Client(), "", quietLog())
	n, err := s.Nonce(context.Background(), srv.URL+"/beacon", "http://s.test/page")
	if err != nil || n != "abc" {
		t.Fatalf("Nonce = %q, %v", n, err)
	}
	mu.Lock()
	if gotPath != "/nonce" || gotPage != "http://s.test/page" || gotMethod != http.MethodPost {
		t.Fatalf("request = %s %s url=%s", gotMethod, gotPath, gotPage)
	}
	mu.Unlock()
	for _, page := range []string{"http://s.test/empty", "http://s.test/down"} {
		if n, err := s.Nonce(context.Background(), srv.URL+"/beacon", page); err == nil {
			t.Fatalf("Nonce(%s) = %q, want error", page, n)
		}
	}
	if _, err := NewHTTPSender(nil, "", quietLog()).Nonce(context.Background(), srv.URL+"/beacon", "http://s.test/"); err == nil {
		t.Fatalf("nil client returned a nonce")
	}
}
