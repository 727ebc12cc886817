package dataset

import (
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// Cache keeps decoded pixel tensors between dataset loads, so retraining in
// watch mode only decodes files that changed.
type Cache struct {
	entries *lru.Cache[string, []float32]
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewCache returns a cache holding at most size tensors. A size below one
// returns a nil cache, which never hits.
func NewCache(size int) (*Cache, error) {
	if size < 1 {
		return nil, nil
	}
	entries, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, errors.Wrap(err, "create image cache")
	}
	return &Cache{entries: entries}, nil
}

// cacheKey identifies one version of a file at one target resolution.
func cacheKey(path string, size int64, modTime time.Time, height, width int) string {
	return fmt.Sprintf("%s|%d|%d|%dx%d", path, size, modTime.UnixNano(), height, width)
}

func (c *Cache) get(key string) ([]float32, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.entries.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

func (c *Cache) add(key string, pixels []float32) {
	if c == nil {
		return
	}
	c.entries.Add(key, pixels)
}

// Len reports the number of cached tensors.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}

// Stats returns cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	if c == nil {
		return 0, 0
	}
	return c.hits.Load(), c.misses.Load()
}
