package cache

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPage_Lifetime(t *testing.T) {
	fresh := &Page{Expires: time.Now().Add(time.Hour)}
	assert.True(t, fresh.Fresh())
	assert.InDelta(t, time.Hour.Seconds(), fresh.TTL().Seconds(), 2)

	stale := &Page{Expires: time.Now().Add(-time.Second)}
	assert.False(t, stale.Fresh())
	assert.Zero(t, stale.TTL())
}

func TestPage_Age(t *testing.T) {
	assert.Zero(t, (&Page{}).Age())

	p := &Page{StoredAt: time.Now().Add(-time.Minute)}
	assert.GreaterOrEqual(t, p.Age(), time.Minute)
	assert.Less(t, p.Age(), time.Minute+time.Second)
}

func TestPageFromResponse(t *testing.T) {
	body := `{"results":[{"uuid":"a"}],"total":1}`
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Expires": []string{expires.Format(http.TimeFormat)}},
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
	}

	page, err := PageFromResponse(resp, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, body, string(page.Body))
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.True(t, page.Expires.Equal(expires), "Expires = %v, want %v", page.Expires, expires)
	assert.False(t, page.StoredAt.IsZero())

	// the body is still readable by the caller
	restored, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(restored))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestPageFromResponse_Errors(t *testing.T) {
	_, err := PageFromResponse(nil, time.Minute)
	assert.Error(t, err)

	_, err = PageFromResponse(&http.Response{StatusCode: http.StatusOK}, time.Minute)
	assert.Error(t, err)

	_, err = PageFromResponse(&http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(failingReader{}),
	}, time.Minute)
	assert.ErrorContains(t, err, "connection reset")
}

func TestExpiresAt(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		header   string
		fallback time.Duration
		want     time.Time
	}{
		{"header in the future", now.Add(time.Hour).Format(http.TimeFormat), time.Minute, now.Add(time.Hour)},
		{"no header", "", 10 * time.Minute, now.Add(10 * time.Minute)},
		{"unparsable header", "tomorrow-ish", time.Minute, now.Add(time.Minute)},
		{"zero fallback", "", 0, now.Add(DefaultTTL)},
		{"header in the past", now.Add(-time.Hour).Format(http.TimeFormat), time.Minute, now},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := expiresAt(tt.header, now, tt.fallback)
			assert.True(t, got.Equal(tt.want), "expiresAt = %v, want %v", got, tt.want)
		})
	}
}
