package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/gridlock-ai/sentinel/internal/domain"
)

// DefaultCacheTTL bounds how often the underlying source is queried.
const DefaultCacheTTL = 2 * time.Second

// CachedSource memoises a Source for a short TTL so that the poller and
// the dashboard do not hit the upstream on every request. Errors are not
// cached.
type CachedSource struct {
	src Source
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	reading   domain.Reading
	fetchedAt time.Time
	valid     bool
}

// NewCachedSource wraps src.
func NewCachedSource(src Source, ttl time.Duration) *CachedSource {
	return &CachedSource{src: src, ttl: ttl, now: time.Now}
}

// Latest returns the cached reading while it is younger than the TTL.
func (c *CachedSource) Latest(ctx context.Context) (domain.Reading, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.valid && now.Sub(c.fetchedAt) < c.ttl {
		return c.reading, nil
	}
	r, err := c.src.Latest(ctx)
	if err != nil {
		c.valid = false
		return domain.Reading{}, err
	}
	c.reading, c.fetchedAt, c.valid = r, now, true
	return r, nil
}

// Invalidate drops the cached reading.
func (c *CachedSource) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}
