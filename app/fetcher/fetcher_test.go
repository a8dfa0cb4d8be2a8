package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "Test Agent" {
			t.Errorf("Expected user agent 'Test Agent', got '%s'", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "application/RSS+xml; charset=Windows-1251")
		w.Write([]byte("<rss></rss>"))
	}))
	defer server.Close()

	f := New(Options{UserAgent: "Test Agent"})
	resp, err := f.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if !resp.OK() {
		t.Errorf("Expected OK response, got %d", resp.StatusCode)
	}
	if resp.Text() != "<rss></rss>" {
		t.Errorf("Expected body '<rss></rss>', got '%s'", resp.Text())
	}
	if resp.ContentType() != "application/rss+xml" {
		t.Errorf("Expected content type 'application/rss+xml', got '%s'", resp.ContentType())
	}
	if resp.Charset() != "windows-1251" {
		t.Errorf("Expected charset 'windows-1251', got '%s'", resp.Charset())
	}
	if resp.Hostname() != "127.0.0.1" {
		t.Errorf("Expected hostname '127.0.0.1', got '%s'", resp.Hostname())
	}
	if resp.Proxied {
		t.Error("Expected direct response")
	}
}

func TestGetFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := New(Options{}).Get(context.Background(), server.URL+"/old")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if resp.URI != server.URL+"/new" {
		t.Errorf("Expected final URI %s/new, got %s", server.URL, resp.URI)
	}
}

func TestGetStatusError(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusNotFound, true},
		{http.StatusGone, true},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := New(Options{}).Get(context.Background(), server.URL)

			var statusErr *StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("Expected StatusError, got %v", err)
			}
			if statusErr.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, statusErr.StatusCode)
			}
			if statusErr.Permanent() != tt.permanent {
				t.Errorf("Expected permanent=%v for %d", tt.permanent, tt.status)
			}
		})
	}
}

func TestGetTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	start := time.Now()
	_, err := New(Options{Timeout: 50 * time.Millisecond}).Get(context.Background(), server.URL)
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected request to be aborted quickly, took %v", elapsed)
	}
}

func TestGetBodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", 100)))
	}))
	defer server.Close()

	resp, err := New(Options{MaxBodySize: 10}).Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(resp.Body) != 10 {
		t.Errorf("Expected body truncated to 10 bytes, got %d", len(resp.Body))
	}
}

func TestGetProxyFallback(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer target.Close()

	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.Header.Get(ProxySecretHeader) != "s3cret" {
			t.Errorf("Expected proxy secret header, got '%s'", r.Header.Get(ProxySecretHeader))
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("Failed to parse form: %v", err)
		}
		if r.PostForm.Get("url") != target.URL+"/feed" {
			t.Errorf("Expected url form value %s/feed, got %s", target.URL, r.PostForm.Get("url"))
		}
		w.Header().Set(ResolvedURLHeader, "https://example.com/feed.xml")
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte("<rss/>"))
	}))
	defer proxy.Close()

	f := New(Options{ProxyURL: proxy.URL, ProxySecret: "s3cret"})
	resp, err := f.Get(context.Background(), target.URL+"/feed")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !resp.Proxied {
		t.Error("Expected proxied response")
	}
	if resp.URI != "https://example.com/feed.xml" {
		t.Errorf("Expected resolved URI from proxy header, got %s", resp.URI)
	}
	if resp.Text() != "<rss/>" {
		t.Errorf("Expected proxied body, got '%s'", resp.Text())
	}
}

func TestGetProxyFailureKeepsDirectError(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer target.Close()

	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer proxy.Close()

	_, err := New(Options{ProxyURL: proxy.URL, ProxySecret: "x"}).Get(context.Background(), target.URL)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("Expected direct 404 StatusError, got %v", err)
	}
}

func TestProxyCircuitBreakerOpens(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer target.Close()

	var proxyCalls atomic.Int32
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxyCalls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer proxy.Close()

	f := New(Options{ProxyURL: proxy.URL, ProxySecret: "x"})
	for i := 0; i < 10; i++ {
		f.Get(context.Background(), target.URL)
	}

	if calls := proxyCalls.Load(); calls != 5 {
		t.Errorf("Expected breaker to stop proxy calls after 5 failures, got %d calls", calls)
	}
}

func TestResponseContentTypeMalformed(t *testing.T) {
	resp := &Response{Header: http.Header{"Content-Type": {"text/xml;;charset"}}}
	if resp.ContentType() != "text/xml" {
		t.Errorf("Expected 'text/xml', got '%s'", resp.ContentType())
	}

	empty := &Response{Header: http.Header{}}
	if empty.ContentType() != "" {
		t.Errorf("Expected empty content type, got '%s'", empty.ContentType())
	}
}
