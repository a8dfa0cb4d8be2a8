package fetcher

import (
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URI        string // final URL after redirects or proxy resolution
	Proxied    bool
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) Text() string {
	return string(r.Body)
}

// ContentType returns the lowercased media type without parameters.
func (r *Response) ContentType() string {
	mediaType, _ := r.contentType()
	return mediaType
}

// Charset returns the charset parameter of the Content-Type header, if any.
func (r *Response) Charset() string {
	_, params := r.contentType()
	return strings.ToLower(params["charset"])
}

func (r *Response) contentType() (string, map[string]string) {
	header := r.Header.Get("Content-Type")
	if header == "" {
		return "", nil
	}
	mediaType, params, err := mime.ParseMediaType(header)
	if err != nil {
		// Fall back to the part before ';' for malformed headers
		mediaType, _, _ = strings.Cut(header, ";")
		return strings.ToLower(strings.TrimSpace(mediaType)), nil
	}
	return strings.ToLower(mediaType), params
}

func (r *Response) Hostname() string {
	u, err := url.Parse(r.URI)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error: %d %s for %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// Permanent reports whether retrying the request later is pointless.
// Rate limiting and request timeouts are transient, other 4xx are not.
func (e *StatusError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusRequestTimeout:
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}
