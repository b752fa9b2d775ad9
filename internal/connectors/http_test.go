package connectors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redirectPair(t *testing.T) (src *httptest.Server, hits *atomic.Int32) {
	t.Helper()
	hits = &atomic.Int32{}
	dst := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("landed"))
	}))
	t.Cleanup(dst.Close)

	// Цель редиректа на другом hostname: localhost вместо 127.0.0.1.
	target := strings.Replace(dst.URL, "127.0.0.1", "localhost", 1)
	src = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target+"/landed", http.StatusFound)
	}))
	t.Cleanup(src.Close)
	return src, hits
}

func TestRedirectOutsidePolicyIsNotFollowed(t *testing.T) {
	src, hits := redirectPair(t)
	c := NewHTTPConnector(5 * time.Second)

	ctx := WithHostPolicy(context.Background(), func(host string) bool { return host == "127.0.0.1" })
	req, err := http.NewRequest(http.MethodGet, src.URL, nil)
	require.NoError(t, err)

	resp, err := c.Do(ctx, req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "localhost")
	assert.Zero(t, hits.Load(), "host outside the policy must not be contacted")
}

func TestRedirectInsidePolicyIsFollowed(t *testing.T) {
	src, hits := redirectPair(t)
	c := NewHTTPConnector(5 * time.Second)

	ctx := WithHostPolicy(context.Background(), func(string) bool { return true })
	req, err := http.NewRequest(http.MethodGet, src.URL, nil)
	require.NoError(t, err)

	resp, err := c.Do(ctx, req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}
