package style

import (
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Cache remembers the content hash of every file seen by a previous run.
type Cache struct {
	mu   sync.Mutex
	sums map[string]uint64
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{sums: make(map[string]uint64)}
}

// Changed records contents for file and reports whether they differ from the
// last recorded contents. A file never seen before counts as changed.
func (c *Cache) Changed(file string, contents []byte) bool {
	file = filepath.Clean(file)
	sum := xxhash.Sum64(contents)

	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.sums[file]
	c.sums[file] = sum
	return !ok || prev != sum
}
