package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTTL applies when a response carries no usable Expires header.
const DefaultTTL = 5 * time.Minute

// Page is one cached results page: the raw body of a limit/offset request.
type Page struct {
	Body       []byte    `json:"body"`
	StatusCode int       `json:"status_code"`
	Expires    time.Time `json:"expires"`
	StoredAt   time.Time `json:"stored_at"`
}

// Fresh reports whether the page may still be served.
func (p *Page) Fresh() bool {
	return time.Now().Before(p.Expires)
}

// TTL is the remaining lifetime, never negative.
func (p *Page) TTL() time.Duration {
	return max(time.Until(p.Expires), 0)
}

// Age is the time since the page was stored, or 0 if unknown.
func (p *Page) Age() time.Duration {
	if p.StoredAt.IsZero() {
		return 0
	}
	return time.Since(p.StoredAt)
}

// PageFromResponse reads resp.Body into a Page and replaces the body with an
// in-memory copy, so callers can still consume it.
func PageFromResponse(resp *http.Response, fallbackTTL time.Duration) (*Page, error) {
	if resp == nil || resp.Body == nil {
		return nil, errors.New("response has no body")
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	now := time.Now()
	return &Page{
		Body:       body,
		StatusCode: resp.StatusCode,
		Expires:    expiresAt(resp.Header.Get("Expires"), now, fallbackTTL),
		StoredAt:   now,
	}, nil
}

// expiresAt resolves an Expires header against now. Missing or unparsable
// values use fallbackTTL (DefaultTTL when <= 0); dates in the past yield now.
func expiresAt(header string, now time.Time, fallbackTTL time.Duration) time.Time {
	if fallbackTTL <= 0 {
		fallbackTTL = DefaultTTL
	}
	if header == "" {
		return now.Add(fallbackTTL)
	}

	t, err := http.ParseTime(header)
	if err != nil {
		return now.Add(fallbackTTL)
	}
	if t.Before(now) {
		return now
	}
	return t
}
