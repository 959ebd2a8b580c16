package kvstore

import "fmt"

// hashindex.go implements a chained, open-addressed hash index. Each table
// is a fixed-capacity array of buckets (format.go's readBucket/writeBucket)
// with linear probing, plus a trailer
// holding the offset of the next table in the chain. A lookup walks the
// full chain; an insert walks until it finds room, extending the chain
// with a freshly allocated table when the current tail crosses the
// configured load factor.

// chainLookup searches every table in the chain starting at firstTableOff
// for key (identified by its precomputed hash). It returns the slot offset
// of a matching live bucket, or found=false if no table in the chain holds
// the key.
func chainLookup(data []byte, firstTableOff int64, capacity uint32, hash uint64, key []byte, loadKey func(slotOff int64) ([]byte, bool)) (slotOff int64, found bool, err error) {
	tableOff := firstTableOff

	for tableOff != freeListEnd {
		idx := uint32(hash) % capacity
		start := idx

		for {
			bucketHash, bucketSlot := readBucket(data, tableOff, idx)

			if bucketSlot == bucketSlotEmpty {
				break // empty bucket terminates the probe sequence for this table
			}

			if bucketSlot != bucketSlotTombstone && bucketHash == hash {
				storedKey, live := loadKey(bucketSlot)
				if live && string(storedKey) == string(key) {
					return bucketSlot, true, nil
				}
			}

			idx = (idx + 1) % capacity
			if idx == start {
				break // table fully probed with no empty bucket (shouldn't happen under load factor)
			}
		}

		next, _, _ := readTrailer(data, tableOff, capacity)
		tableOff = next
	}

	return 0, false, nil
}

// chainInsert places (hash, slotOff) into the first table in the chain
// that has room, extending the chain by appending a new table when every
// existing table is at or above the load factor. It returns the offset of
// the table the bucket was ultimately placed in, and whether a new table
// was appended to the chain to hold it.
//
// grow is called to allocate a fresh, zeroed table region at end-of-file.
// It returns the byte offset of the new table and the data slice backing
// the file's (possibly remapped) full contents after the extension --
// extending the file may invalidate any previously held slice, so every
// access after a grow must go through the slice grow itself returns,
// never the one chainInsert was originally called with.
func chainInsert(data []byte, firstTableOff int64, capacity uint32, loadFactor float64, hash uint64, slotOff int64, grow func() (int64, []byte, error)) (placedIn int64, appended bool, err error) {
	tableOff := firstTableOff
	var prevTableOff int64 = freeListEnd

	for {
		next, used, tombstones := readTrailer(data, tableOff, capacity)

		if float64(used+tombstones) < loadFactor*float64(capacity) {
			idx := uint32(hash) % capacity
			start := idx

			for {
				_, bucketSlot := readBucket(data, tableOff, idx)

				if bucketSlot == bucketSlotEmpty || bucketSlot == bucketSlotTombstone {
					wasTombstone := bucketSlot == bucketSlotTombstone

					writeBucket(data, tableOff, idx, hash, slotOff)

					newUsed := used + 1
					newTombstones := tombstones
					if wasTombstone {
						newTombstones--
					}

					writeTrailer(data, tableOff, capacity, next, newUsed, newTombstones)

					return tableOff, false, nil
				}

				idx = (idx + 1) % capacity
				if idx == start {
					break // table reports room below load factor but is fully probed; fall through to next/new table
				}
			}
		}

		if next != freeListEnd {
			prevTableOff = tableOff
			tableOff = next
			continue
		}

		newTableOff, newData, growErr := grow()
		if growErr != nil {
			return 0, false, fmt.Errorf("extend hash chain: %w", growErr)
		}

		data = newData

		writeTrailer(data, newTableOff, capacity, freeListEnd, 0, 0)
		writeTrailer(data, tableOff, capacity, newTableOff, used, tombstones)

		_ = prevTableOff

		idx := uint32(hash) % capacity
		writeBucket(data, newTableOff, idx, hash, slotOff)
		writeTrailer(data, newTableOff, capacity, freeListEnd, 1, 0)

		return newTableOff, true, nil
	}
}

// chainRemove marks the bucket holding slotOff (keyed by hash) as a
// tombstone. It returns found=false if no such live bucket exists in the
// chain.
func chainRemove(data []byte, firstTableOff int64, capacity uint32, hash uint64, targetSlotOff int64) (found bool) {
	tableOff := firstTableOff

	for tableOff != freeListEnd {
		idx := uint32(hash) % capacity
		start := idx

		for {
			bucketHash, bucketSlot := readBucket(data, tableOff, idx)

			if bucketSlot == bucketSlotEmpty {
				break
			}

			if bucketSlot == targetSlotOff && bucketHash == hash {
				writeBucket(data, tableOff, idx, 0, bucketSlotTombstone)

				next, used, tombstones := readTrailer(data, tableOff, capacity)
				writeTrailer(data, tableOff, capacity, next, used-1, tombstones+1)

				return true
			}

			idx = (idx + 1) % capacity
			if idx == start {
				break
			}
		}

		next, _, _ := readTrailer(data, tableOff, capacity)
		tableOff = next
	}

	return false
}

// chainWalk invokes visit for every live (non-empty, non-tombstone) bucket
// across the whole chain, in table then bucket order. Used by key-listing
// enumeration.
func chainWalk(data []byte, firstTableOff int64, capacity uint32, visit func(hash uint64, slotOff int64)) {
	tableOff := firstTableOff

	for tableOff != freeListEnd {
		for idx := uint32(0); idx < capacity; idx++ {
			hash, slot := readBucket(data, tableOff, idx)
			if slot != bucketSlotEmpty && slot != bucketSlotTombstone {
				visit(hash, slot)
			}
		}

		next, _, _ := readTrailer(data, tableOff, capacity)
		tableOff = next
	}
}
