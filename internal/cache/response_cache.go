// Package cache keeps rendered responses for as long as their TTL allows, playing the part of the
// edge cache in front of the image function.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/cheahjs/og-image-proxy/internal/ogimage"
)

var ErrResponseNotFound = errors.New("response not found")
var ErrResponseExpired = errors.New("response expired")

// ResponseCache is safe for concurrent use.
type ResponseCache struct {
	store      *lru.Cache[string, responseEntry]
	defaultTTL time.Duration
	group      singleflight.Group
	now        func() time.Time
}

type responseEntry struct {
	response  ogimage.Response
	expiresAt time.Time
}

// NewResponseCache holds at most maxEntries responses. Responses without their own TTL are kept
// for defaultTTL; a non-positive defaultTTL means they are not cached at all.
func NewResponseCache(maxEntries int, defaultTTL time.Duration) (*ResponseCache, error) {
	store, err := lru.New[string, responseEntry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create response cache: %w", err)
	}
	return &ResponseCache{
		store:      store,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}, nil
}

func (c *ResponseCache) ttlFor(resp ogimage.Response) time.Duration {
	if resp.TTL > 0 {
		return resp.TTL
	}
	return c.defaultTTL
}

// Store caches resp under key for its TTL. It reports whether the response was kept.
func (c *ResponseCache) Store(key string, resp ogimage.Response) bool {
	ttl := c.ttlFor(resp)
	if ttl <= 0 {
		return false
	}
	c.store.Add(key, responseEntry{response: resp, expiresAt: c.now().Add(ttl)})
	return true
}

func (c *ResponseCache) Get(key string) (ogimage.Response, error) {
	entry, ok := c.store.Get(key)
	if !ok {
		return ogimage.Response{}, ErrResponseNotFound
	}
	if c.now().After(entry.expiresAt) {
		c.store.Remove(key)
		return ogimage.Response{}, ErrResponseExpired
	}
	return entry.response, nil
}

// GetOrRender returns the cached response for key, or renders, stores and returns a fresh one.
// Concurrent misses for the same key share a single render. hit reports a cache hit.
func (c *ResponseCache) GetOrRender(ctx context.Context, key string, render func(ctx context.Context) ogimage.Response) (resp ogimage.Response, hit bool) {
	if resp, err := c.Get(key); err == nil {
		return resp, true
	}

	// The render is shared by every waiter, so it must not die with the first caller's request.
	shared := context.WithoutCancel(ctx)
	v, _, _ := c.group.Do(key, func() (interface{}, error) {
		resp := render(shared)
		c.Store(key, resp)
		return resp, nil
	})
	return v.(ogimage.Response), false
}

func (c *ResponseCache) Len() int {
	return c.store.Len()
}

// RunCleanup evicts expired entries every interval until ctx is done.
func (c *ResponseCache) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *ResponseCache) cleanup() {
	log.Debug().Msg("Cleaning up response cache")

	now := c.now()
	for _, key := range c.store.Keys() {
		entry, ok := c.store.Peek(key)
		if ok && now.After(entry.expiresAt) {
			c.store.Remove(key)
			log.Debug().Str("key", key).Msg("Removed expired response from cache")
		}
	}
}
