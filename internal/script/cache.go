// Package script produces executable build scripts for jobs, fronting
// the upstream script-generation API with a content-addressed Redis
// cache.
package script

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"jobboard/internal/config"
)

const cacheKeyPrefix = "job_scripts:"

// BuildScriptError is a non-success response from the script API. The
// body is surfaced to the caller as upstream error detail.
type BuildScriptError struct {
	Body string
}

func (e *BuildScriptError) Error() string {
	return e.Body
}

// Config holds script cache configuration
type Config struct {
	Sites           map[string]config.SiteConfig
	Version         string
	CacheEnabled    bool
	CacheTTL        time.Duration
	UpstreamTimeout time.Duration
}

// endpoint is a resolved per-site script API target
type endpoint struct {
	base  *url.URL
	token string
}

// Cache fetches build scripts, preferring cached entries keyed by a
// content hash of the job data payload
type Cache struct {
	config     *Config
	rdb        *goredis.Client
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	endpoints map[string]*endpoint
}

// New creates a script cache
func New(cfg *Config, rdb *goredis.Client, logger *slog.Logger) *Cache {
	timeout := cfg.UpstreamTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Cache{
		config:     cfg,
		rdb:        rdb,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		endpoints:  map[string]*endpoint{},
	}
}

// FetchScript returns the build script for the given job data, from the
// cache when possible, otherwise from the upstream script API for the
// given site. A non-success upstream response is returned as a
// *BuildScriptError.
func (c *Cache) FetchScript(ctx context.Context, jobID, site string, jobData map[string]any) (string, error) {
	payload, err := json.Marshal(jobData)
	if err != nil {
		return "", fmt.Errorf("failed to encode job data: %w", err)
	}

	key := cacheKeyPrefix + signature(payload)

	if c.config.CacheEnabled {
		if script, ok := c.fetchCached(ctx, key); ok {
			c.logger.Debug("build script cache hit",
				slog.String("job_id", jobID),
				slog.String("site", site),
			)
			return script, nil
		}
	}

	ep, err := c.siteEndpoint(site)
	if err != nil {
		return "", err
	}

	scriptURL := *ep.base
	scriptURL.User = nil
	scriptURL.Path = "/script"
	scriptURL.RawQuery = url.Values{
		"source": {"job-board"},
		"job_id": {jobID},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, scriptURL.String(), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build script request: %w", err)
	}
	req.Header.Set("User-Agent", "job-board/"+c.config.Version)
	req.Header.Set("Authorization", "token "+ep.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("build script request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read build script response: %w", err)
	}

	if resp.StatusCode > 299 {
		c.logger.Error("build script error",
			slog.Int("status", resp.StatusCode),
			slog.Int("body_length", len(body)),
			slog.Int("job_data_length", len(payload)),
		)
		return "", &BuildScriptError{Body: string(body)}
	}

	script := string(body)
	if c.config.CacheEnabled {
		c.storeCached(ctx, key, script)
	}

	return script, nil
}

// fetchCached reads and decodes a cache entry. Any failure degrades to a
// cache miss.
func (c *Cache) fetchCached(ctx context.Context, key string) (string, bool) {
	value, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false
	}
	if err != nil {
		c.logger.Warn("build script cache read failed",
			slog.Any("error", err),
		)
		return "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		c.logger.Warn("build script cache entry invalid",
			slog.Any("error", err),
		)
		return "", false
	}

	return string(decoded), true
}

// storeCached writes a cache entry. Write failures are logged and
// swallowed.
func (c *Cache) storeCached(ctx context.Context, key, script string) {
	encoded := base64.StdEncoding.EncodeToString([]byte(script))
	if err := c.rdb.SetEx(ctx, key, encoded, c.config.CacheTTL).Err(); err != nil {
		c.logger.Warn("build script cache write failed",
			slog.Any("error", err),
		)
	}
}

// siteEndpoint resolves and memoizes the script API target for a site.
// The upstream credential is the userinfo password of the configured URL.
func (c *Cache) siteEndpoint(site string) (*endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ep, ok := c.endpoints[site]; ok {
		return ep, nil
	}

	siteCfg, ok := c.config.Sites[site]
	if !ok {
		return nil, fmt.Errorf("no build API configured for site %q", site)
	}

	base, err := url.Parse(siteCfg.BuildAPIURL)
	if err != nil {
		return nil, fmt.Errorf("invalid build API URL for site %q: %w", site, err)
	}

	token := ""
	if base.User != nil {
		token, _ = base.User.Password()
	}

	ep := &endpoint{base: base, token: token}
	c.endpoints[site] = ep
	return ep, nil
}

// signature is the content hash used as the cache key for a payload
func signature(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
