package script

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobboard/internal/config"
)

type upstream struct {
	*httptest.Server
	calls    int
	status   int
	body     string
	lastReq  *http.Request
	lastBody []byte
}

func newUpstream(status int, body string) *upstream {
	u := &upstream{status: status, body: body}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls++
		u.lastReq = r.Clone(context.Background())
		u.lastBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(u.status)
		w.Write([]byte(u.body))
	}))
	return u
}

func testCache(t *testing.T, apiURL string, enabled bool) (*Cache, *goredis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := New(&Config{
		Sites: map[string]config.SiteConfig{
			"org": {BuildAPIURL: apiURL},
		},
		Version:      "test",
		CacheEnabled: enabled,
		CacheTTL:     time.Hour,
	}, rdb, logger)

	return cache, rdb
}

func TestFetchScript_UpstreamRequestShape(t *testing.T) {
	up := newUpstream(http.StatusOK, "#!/bin/bash\necho hello\n")
	defer up.Close()

	u, err := url.Parse(up.URL)
	require.NoError(t, err)
	u.User = url.UserPassword("job-board", "s3kr3t")

	cache, _ := testCache(t, u.String(), false)

	script, err := cache.FetchScript(context.Background(), "42", "org", map[string]any{"config": map[string]any{"os": "linux"}})
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/bash\necho hello\n", script)

	require.NotNil(t, up.lastReq)
	assert.Equal(t, "/script", up.lastReq.URL.Path)
	assert.Equal(t, "42", up.lastReq.URL.Query().Get("job_id"))
	assert.Equal(t, "job-board", up.lastReq.URL.Query().Get("source"))
	assert.Equal(t, "token s3kr3t", up.lastReq.Header.Get("Authorization"))
	assert.Equal(t, "job-board/test", up.lastReq.Header.Get("User-Agent"))
	assert.Equal(t, "application/json", up.lastReq.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"config":{"os":"linux"}}`, string(up.lastBody))
}

func TestFetchScript_CacheRoundTrip(t *testing.T) {
	up := newUpstream(http.StatusOK, "#!/bin/bash\necho cached\n")
	defer up.Close()

	cache, _ := testCache(t, up.URL, true)
	jobData := map[string]any{"config": map[string]any{"os": "linux"}}

	first, err := cache.FetchScript(context.Background(), "42", "org", jobData)
	require.NoError(t, err)
	assert.Equal(t, 1, up.calls)

	second, err := cache.FetchScript(context.Background(), "42", "org", jobData)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, up.calls, "second fetch must not contact upstream")
}

func TestFetchScript_DifferentPayloadMisses(t *testing.T) {
	up := newUpstream(http.StatusOK, "script")
	defer up.Close()

	cache, _ := testCache(t, up.URL, true)

	_, err := cache.FetchScript(context.Background(), "42", "org", map[string]any{"config": map[string]any{"os": "linux"}})
	require.NoError(t, err)
	_, err = cache.FetchScript(context.Background(), "42", "org", map[string]any{"config": map[string]any{"os": "osx"}})
	require.NoError(t, err)

	assert.Equal(t, 2, up.calls)
}

func TestFetchScript_CachingDisabled(t *testing.T) {
	up := newUpstream(http.StatusOK, "script")
	defer up.Close()

	cache, rdb := testCache(t, up.URL, false)
	jobData := map[string]any{"os": "linux"}

	_, err := cache.FetchScript(context.Background(), "42", "org", jobData)
	require.NoError(t, err)
	_, err = cache.FetchScript(context.Background(), "42", "org", jobData)
	require.NoError(t, err)

	assert.Equal(t, 2, up.calls)

	keys, err := rdb.Keys(context.Background(), cacheKeyPrefix+"*").Result()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFetchScript_CacheEntryEncoding(t *testing.T) {
	up := newUpstream(http.StatusOK, "#!/bin/bash\necho stored\n")
	defer up.Close()

	cache, rdb := testCache(t, up.URL, true)

	_, err := cache.FetchScript(context.Background(), "42", "org", map[string]any{"os": "linux"})
	require.NoError(t, err)

	keys, err := rdb.Keys(context.Background(), cacheKeyPrefix+"*").Result()
	require.NoError(t, err)
	require.Len(t, keys, 1)

	// Entries are stored base64-encoded
	value, err := rdb.Get(context.Background(), keys[0]).Result()
	require.NoError(t, err)
	assert.NotContains(t, value, "\n")

	ttl, err := rdb.TTL(context.Background(), keys[0]).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestFetchScript_UpstreamError(t *testing.T) {
	up := newUpstream(http.StatusInternalServerError, "boom")
	defer up.Close()

	cache, rdb := testCache(t, up.URL, true)

	_, err := cache.FetchScript(context.Background(), "42", "org", map[string]any{"os": "linux"})
	require.Error(t, err)

	var scriptErr *BuildScriptError
	require.ErrorAs(t, err, &scriptErr)
	assert.Equal(t, "boom", scriptErr.Body)

	// Failures are never cached
	keys, err := rdb.Keys(context.Background(), cacheKeyPrefix+"*").Result()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFetchScript_UnknownSite(t *testing.T) {
	cache, _ := testCache(t, "http://build-api.example.com", false)

	_, err := cache.FetchScript(context.Background(), "42", "com", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no build API configured")
}

func TestSignature_Deterministic(t *testing.T) {
	a := signature([]byte(`{"os":"linux"}`))
	b := signature([]byte(`{"os":"linux"}`))
	c := signature([]byte(`{"os":"osx"}`))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
