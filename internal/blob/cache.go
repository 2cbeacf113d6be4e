package blob

import (
	"runtime"
	"sync"
	"weak"
)

// Source is an in-memory upload source. Uploads are deduplicated by the
// identity of the *Source, not by its content.
type Source struct {
	data []byte
}

// NewSource wraps data. The slice must not be modified afterwards.
func NewSource(data []byte) *Source {
	return &Source{data: data}
}

// NewTextSource wraps a string.
func NewTextSource(s string) *Source {
	return &Source{data: []byte(s)}
}

// Len returns the content length. A nil Source has length zero.
func (s *Source) Len() int {
	if s == nil {
		return 0
	}
	return len(s.data)
}

// cache maps sources to their uploaded handles without keeping the sources
// alive. Entries are pruned when the source is collected.
type cache struct {
	mu      sync.Mutex
	entries map[weak.Pointer[Source]]*Handle
}

func newCache() *cache {
	return &cache{entries: make(map[weak.Pointer[Source]]*Handle)}
}

func (c *cache) get(src *Source) (*Handle, bool) {
	if src == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.entries[weak.Make(src)]
	return h, ok
}

func (c *cache) put(src *Source, h *Handle) {
	key := weak.Make(src)

	c.mu.Lock()
	_, exists := c.entries[key]
	c.entries[key] = h
	c.mu.Unlock()

	if !exists {
		runtime.AddCleanup(src, c.prune, key)
	}
}

func (c *cache) remove(src *Source) {
	if src == nil {
		return
	}
	c.prune(weak.Make(src))
}

func (c *cache) prune(key weak.Pointer[Source]) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
