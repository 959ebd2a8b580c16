package kvstore

import "sort"

// cacheState marks the provenance of a cache entry: the cache shadows the
// file from the moment a key is first touched until the handle closes.
type cacheState int

const (
	// cacheDirty is a write buffered since the last flush. Wins over the
	// file unconditionally.
	cacheDirty cacheState = iota

	// cacheTombstone records a delete buffered since the last flush.
	cacheTombstone

	// cacheClean mirrors the last value read from or written to the file;
	// kept so repeated reads of the same key don't re-touch the file.
	cacheClean
)

type cacheEntry struct {
	value []byte
	state cacheState
}

// handleCache is the per-handle change log. It is not safe for concurrent
// use; each handle serializes its own operations, and concurrency is
// handled across handles rather than within one. Every write and delete
// is buffered here until the handle closes; nothing reaches the file
// before then.
type handleCache struct {
	entries map[string]*cacheEntry
}

func newHandleCache() *handleCache {
	return &handleCache{entries: make(map[string]*cacheEntry)}
}

// put records a write. The entry stays dirty until Close flushes it to the
// file.
func (c *handleCache) put(key, value []byte) {
	c.entries[string(key)] = &cacheEntry{value: append([]byte(nil), value...), state: cacheDirty}
}

// remember caches a value just read from the file, so a later read of the
// same key is served from memory.
func (c *handleCache) remember(key, value []byte) {
	if _, exists := c.entries[string(key)]; exists {
		return
	}

	c.entries[string(key)] = &cacheEntry{value: append([]byte(nil), value...), state: cacheClean}
}

// delete records a tombstone for key. Any previously buffered write is
// discarded; reads must now report ErrNotFound without consulting the
// file.
func (c *handleCache) delete(key []byte) {
	c.entries[string(key)] = &cacheEntry{state: cacheTombstone}
}

// lookup returns the cached entry for key, if any. ok is false if the key
// has never been touched by this handle, in which case the caller must
// fall through to the file.
func (c *handleCache) lookup(key []byte) (entry *cacheEntry, ok bool) {
	e, ok := c.entries[string(key)]
	return e, ok
}

// dirtyKeys returns, in sorted order (for deterministic flush ordering),
// every key with a buffered write or delete since the last flush.
func (c *handleCache) dirtyKeys() []string {
	var out []string

	for k, e := range c.entries {
		if e.state == cacheDirty || e.state == cacheTombstone {
			out = append(out, k)
		}
	}

	sort.Strings(out)

	return out
}

// markFlushed demotes every dirty/tombstone entry to clean (dirty) or
// removes it (tombstone), called once the change log has been applied to
// the file.
func (c *handleCache) markFlushed() {
	for k, e := range c.entries {
		switch e.state {
		case cacheDirty:
			e.state = cacheClean
		case cacheTombstone:
			delete(c.entries, k)
		}
	}
}

// hasPendingWrites reports whether any entry still needs flushing.
func (c *handleCache) hasPendingWrites() bool {
	for _, e := range c.entries {
		if e.state == cacheDirty || e.state == cacheTombstone {
			return true
		}
	}

	return false
}
