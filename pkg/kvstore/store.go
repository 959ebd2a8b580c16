package kvstore

import "fmt"

// store.go implements the per-operation logic tying together a handle's
// cache (cache.go), the shared file state (file.go), and the chained hash
// index (hashindex.go). Exported entry points live in api.go; this file
// holds the mechanics each of them calls through h.file.shared's lock
// only when the file itself must be consulted or mutated.

// writeKey buffers a write in h's cache. The write stays purely in-memory,
// visible only through h, until flushOnClose applies it to the file.
func (h *handle) writeKey(key, value []byte) error {
	h.cache.put(key, value)
	return nil
}

// readKey resolves key, preferring the handle's own cache (which shadows
// the file's committed contents) and falling back to the file under the
// shared lock on a cache miss.
func (h *handle) readKey(key []byte) ([]byte, error) {
	if entry, ok := h.cache.lookup(key); ok {
		if entry.state == cacheTombstone {
			return nil, ErrNotFound
		}

		return entry.value, nil
	}

	sh := h.file.shared
	if err := sh.lock(); err != nil {
		return nil, err
	}
	defer sh.unlock()

	if err := h.file.remap(); err != nil {
		return nil, err
	}

	hash := fnv1a64(key)

	slotOff, found, err := chainLookup(h.file.data, int64(h.file.header.FirstTableOff), h.file.header.TableCapacity, hash, key, h.loadKeyFn())
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, ErrNotFound
	}

	value, err := h.file.readSlotValue(slotOff)
	if err != nil {
		return nil, err
	}

	h.cache.remember(key, value)

	return value, nil
}

// deleteKey buffers a tombstone for key, whether or not it currently
// exists in the cache or the file. Delete is idempotent: deleting an
// absent key succeeds with no error. Like writeKey, the tombstone stays
// buffered until flushOnClose.
func (h *handle) deleteKey(key []byte) error {
	h.cache.delete(key)
	return nil
}

// keySize is a thin wrapper over readKey used by GetKeySize.
func (h *handle) keySize(key []byte) (int, error) {
	v, err := h.readKey(key)
	if err != nil {
		return 0, err
	}

	return len(v), nil
}

// listKeys enumerates every live key visible to h: its own buffered
// writes/tombstones layered over a full chain walk of the file.
func (h *handle) listKeys() ([][]byte, error) {
	sh := h.file.shared
	if err := sh.lock(); err != nil {
		return nil, err
	}
	defer sh.unlock()

	if err := h.file.remap(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out [][]byte

	chainWalk(h.file.data, int64(h.file.header.FirstTableOff), h.file.header.TableCapacity, func(_ uint64, slotOff int64) {
		if !h.file.slotIsLive(slotOff) {
			return
		}

		key := h.file.readSlotKey(slotOff)
		if seen[string(key)] {
			return
		}

		if e, ok := h.cache.lookup(key); ok && e.state == cacheTombstone {
			return
		}

		seen[string(key)] = true
		out = append(out, key)
	})

	for k, e := range h.cache.entries {
		if seen[k] {
			continue
		}

		if e.state == cacheDirty || e.state == cacheClean {
			out = append(out, []byte(k))
			seen[k] = true
		}
	}

	return out, nil
}

// loadKeyFn adapts fileState.readSlotKey/slotIsLive into the callback
// chainLookup expects.
func (h *handle) loadKeyFn() func(int64) ([]byte, bool) {
	return func(slotOff int64) ([]byte, bool) {
		return h.file.readSlotKey(slotOff), h.file.slotIsLive(slotOff)
	}
}

// flushOnClose applies every remaining dirty/tombstone entry in h's cache
// to the file in one locked pass. This is the only point at which a
// handle's writes reach the file and become visible to any other handle,
// in this process or another.
func (h *handle) flushOnClose() error {
	if !h.cache.hasPendingWrites() {
		return nil
	}

	sh := h.file.shared
	if err := sh.lock(); err != nil {
		return err
	}
	defer sh.unlock()

	if err := h.file.remap(); err != nil {
		return err
	}

	for _, k := range h.cache.dirtyKeys() {
		if err := h.applyKeyLocked([]byte(k)); err != nil {
			return err
		}
	}

	if err := h.publishTableCount(); err != nil {
		return err
	}

	if err := syncData(h.file.fd); err != nil {
		return err
	}

	h.cache.markFlushed()

	return nil
}

// applyKeyLocked performs the actual slot allocation/write or chain
// removal for one key. Caller must hold h.file.shared's lock and have
// just called h.file.remap().
func (h *handle) applyKeyLocked(key []byte) error {
	entry, ok := h.cache.entries[string(key)]
	if !ok {
		return nil
	}

	hash := fnv1a64(key)
	capacity := h.file.header.TableCapacity

	existingSlot, found, err := chainLookup(h.file.data, int64(h.file.header.FirstTableOff), capacity, hash, key, h.loadKeyFn())
	if err != nil {
		return err
	}

	switch entry.state {
	case cacheDirty:
		if found {
			return h.file.writeRecord(existingSlot, key, entry.value)
		}

		slotOff, err := h.file.allocSlot()
		if err != nil {
			return err
		}

		if err := h.file.writeRecord(slotOff, key, entry.value); err != nil {
			return err
		}

		placedIn, appended, err := chainInsert(h.file.data, int64(h.file.header.FirstTableOff), capacity, h.lim.loadFactor, hash, slotOff, h.file.growTable)
		if err != nil {
			return err
		}

		_ = placedIn

		if appended {
			h.file.header.TableCount++
		}

		h.file.header.LiveCount++
		h.file.writeHeader()

		return nil

	case cacheTombstone:
		if !found {
			return nil
		}

		chainRemove(h.file.data, int64(h.file.header.FirstTableOff), capacity, hash, existingSlot)
		h.file.freeSlot(existingSlot)
		h.file.header.LiveCount--
		h.file.writeHeader()

		return nil
	}

	return fmt.Errorf("unreachable cache state")
}

// publishTableCount writes the file's current table count into the shared
// header. Readers do not consult it: every locked operation re-stats the
// file and remaps it when its size has changed.
func (h *handle) publishTableCount() error {
	h.file.shared.setTableCount(h.file.header.TableCount)
	return nil
}
