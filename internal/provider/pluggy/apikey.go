package pluggy

import (
	"sync"
	"time"
)

// apiKeyCache holds the short-lived API key obtained from the auth exchange.
// The clock is injectable for tests.
type apiKeyCache struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	key       string
	expiresAt time.Time
}

func newAPIKeyCache(ttl time.Duration) *apiKeyCache {
	return &apiKeyCache{
		ttl: ttl,
		now: time.Now,
	}
}

func (c *apiKeyCache) get() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key == "" || !c.now().Before(c.expiresAt) {
		return "", false
	}
	return c.key, true
}

func (c *apiKeyCache) set(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = key
	c.expiresAt = c.now().Add(c.ttl)
}

func (c *apiKeyCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = ""
	c.expiresAt = time.Time{}
}
