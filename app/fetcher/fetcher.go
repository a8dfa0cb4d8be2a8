package fetcher

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

const (
	DefaultTimeout     = 15 * time.Second
	DefaultMaxBodySize = 10 << 20

	ProxySecretHeader = "X-PROXY-SECRET"
	ResolvedURLHeader = "X-Resolved-Url"
)

type Options struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int64
	ProxyURL    string
	ProxySecret string
}

type Fetcher struct {
	client      *http.Client
	userAgent   string
	timeout     time.Duration
	maxBodySize int64
	proxyURL    string
	proxySecret string
	breaker     *gobreaker.CircuitBreaker
}

func New(opts Options) *Fetcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	f := &Fetcher{
		client:      &http.Client{Transport: transport},
		userAgent:   opts.UserAgent,
		timeout:     opts.Timeout,
		maxBodySize: opts.MaxBodySize,
		proxyURL:    opts.ProxyURL,
		proxySecret: opts.ProxySecret,
	}
	if f.timeout <= 0 {
		f.timeout = DefaultTimeout
	}
	if f.maxBodySize <= 0 {
		f.maxBodySize = DefaultMaxBodySize
	}

	f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "fetch-proxy",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return f
}

// Get fetches rawURL directly and, when that fails with a transport error or
// a status >= 400, retries once through the forwarding proxy. Non-2xx final
// responses are returned as *StatusError.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*Response, error) {
	resp, err := f.direct(ctx, rawURL)
	if err == nil && resp.StatusCode < 400 {
		return f.checkStatus(resp)
	}

	if f.proxyURL == "" || ctx.Err() != nil {
		if err != nil {
			return nil, err
		}
		return f.checkStatus(resp)
	}

	slog.Debug("Direct fetch failed, trying proxy", "url", rawURL, "status", statusOf(resp), "error", err)

	proxied, proxyErr := f.viaProxy(ctx, rawURL)
	if proxyErr != nil {
		slog.Debug("Proxy fetch failed", "url", rawURL, "error", proxyErr)
		if err != nil {
			return nil, err
		}
		return f.checkStatus(resp)
	}

	return f.checkStatus(proxied)
}

func (f *Fetcher) checkStatus(resp *Response) (*Response, error) {
	if !resp.OK() {
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: resp.URI}
	}
	return resp, nil
}

func (f *Fetcher) direct(ctx context.Context, rawURL string) (*Response, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := f.readBody(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		URI:        resp.Request.URL.String(),
	}, nil
}

func (f *Fetcher) viaProxy(ctx context.Context, rawURL string) (*Response, error) {
	result, err := f.breaker.Execute(func() (interface{}, error) {
		timeoutCtx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()

		form := url.Values{"url": {rawURL}}
		req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, f.proxyURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, fmt.Errorf("failed to create proxy request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("User-Agent", f.userAgent)
		req.Header.Set(ProxySecretHeader, f.proxySecret)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to reach proxy: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, f.maxBodySize))
			return nil, fmt.Errorf("proxy returned status %d", resp.StatusCode)
		}

		body, err := f.readBody(resp.Body)
		if err != nil {
			return nil, err
		}

		resolved := resp.Header.Get(ResolvedURLHeader)
		if resolved == "" {
			resolved = rawURL
		}

		return &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       body,
			URI:        resolved,
			Proxied:    true,
		}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			slog.Warn("Proxy circuit breaker rejected request", "url", rawURL, "state", f.breaker.State().String())
		}
		return nil, err
	}

	return result.(*Response), nil
}

func (f *Fetcher) readBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, f.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

func statusOf(resp *Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
