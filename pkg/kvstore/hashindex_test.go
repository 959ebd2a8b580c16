package kvstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSlots is a tiny in-memory stand-in for the record-slot region, used
// to exercise chainLookup/chainInsert/chainRemove without a real file.
type fakeSlots struct {
	keys map[int64][]byte
	live map[int64]bool
}

func newFakeSlots() *fakeSlots {
	return &fakeSlots{keys: make(map[int64][]byte), live: make(map[int64]bool)}
}

func (f *fakeSlots) put(slotOff int64, key []byte) {
	f.keys[slotOff] = key
	f.live[slotOff] = true
}

func (f *fakeSlots) load(slotOff int64) ([]byte, bool) {
	return f.keys[slotOff], f.live[slotOff]
}

func Test_ChainInsertLookup_SingleTable_RoundTrips(t *testing.T) {
	t.Parallel()

	const capacity = 8

	data := make([]byte, tableByteSize(capacity))
	writeTrailer(data, 0, capacity, freeListEnd, 0, 0)
	for i := uint32(0); i < capacity; i++ {
		writeBucket(data, 0, i, 0, bucketSlotEmpty)
	}

	slots := newFakeSlots()

	key := []byte("alpha")
	hash := fnv1a64(key)
	slots.put(100, key)

	_, appended, err := chainInsert(data, 0, capacity, 0.75, hash, 100, func() (int64, []byte, error) {
		t.Fatal("should not need to grow for a single insert")
		return 0, nil, nil
	})
	require.NoError(t, err)
	assert.False(t, appended)

	slotOff, found, err := chainLookup(data, 0, capacity, hash, key, slots.load)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(100), slotOff)
}

func Test_ChainLookup_MissingKey_NotFound(t *testing.T) {
	t.Parallel()

	const capacity = 4

	data := make([]byte, tableByteSize(capacity))
	writeTrailer(data, 0, capacity, freeListEnd, 0, 0)
	for i := uint32(0); i < capacity; i++ {
		writeBucket(data, 0, i, 0, bucketSlotEmpty)
	}

	slots := newFakeSlots()

	_, found, err := chainLookup(data, 0, capacity, fnv1a64([]byte("nope")), []byte("nope"), slots.load)
	require.NoError(t, err)
	assert.False(t, found)
}

func Test_ChainInsert_ExtendsChainPastLoadFactor(t *testing.T) {
	t.Parallel()

	const capacity = 4
	const loadFactor = 0.75

	tableSize := tableByteSize(capacity)
	data := make([]byte, tableSize)
	writeTrailer(data, 0, capacity, freeListEnd, 0, 0)
	for i := uint32(0); i < capacity; i++ {
		writeBucket(data, 0, i, 0, bucketSlotEmpty)
	}

	slots := newFakeSlots()
	grew := false

	grow := func() (int64, []byte, error) {
		grew = true

		newOff := int64(len(data))
		data = append(data, make([]byte, tableSize)...)

		return newOff, data, nil
	}

	// Fill table 0 to exactly its load-factor threshold (3 of 4 buckets).
	for i := 0; i < 3; i++ {
		key := []byte{byte('a' + i)}
		hash := fnv1a64(key)
		slotOff := int64(1000 + i)
		slots.put(slotOff, key)

		_, appended, err := chainInsert(data, 0, capacity, loadFactor, hash, slotOff, grow)
		require.NoError(t, err)
		assert.False(t, appended)
	}

	assert.False(t, grew, "must not grow before crossing the load factor")

	// One more insert must push table 0 over threshold and chain a new table.
	key := []byte("overflow")
	hash := fnv1a64(key)
	slots.put(2000, key)

	placedIn, appended, err := chainInsert(data, 0, capacity, loadFactor, hash, 2000, grow)
	require.NoError(t, err)
	assert.True(t, appended)
	assert.True(t, grew)
	assert.NotEqual(t, int64(0), placedIn)

	slotOff, found, err := chainLookup(data, 0, capacity, hash, key, slots.load)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(2000), slotOff)
}

func Test_ChainRemove_TombstonesBucketAndUpdatesTrailer(t *testing.T) {
	t.Parallel()

	const capacity = 4

	data := make([]byte, tableByteSize(capacity))
	writeTrailer(data, 0, capacity, freeListEnd, 0, 0)
	for i := uint32(0); i < capacity; i++ {
		writeBucket(data, 0, i, 0, bucketSlotEmpty)
	}

	slots := newFakeSlots()
	key := []byte("beta")
	hash := fnv1a64(key)
	slots.put(50, key)

	_, _, err := chainInsert(data, 0, capacity, 0.75, hash, 50, nil)
	require.NoError(t, err)

	removed := chainRemove(data, 0, capacity, hash, 50)
	assert.True(t, removed)

	_, found, err := chainLookup(data, 0, capacity, hash, key, slots.load)
	require.NoError(t, err)
	assert.False(t, found, "tombstoned bucket must not be found")

	_, used, tombstones := readTrailer(data, 0, capacity)
	assert.Equal(t, uint32(0), used)
	assert.Equal(t, uint32(1), tombstones)
}

func Test_ChainWalk_VisitsOnlyLiveBuckets(t *testing.T) {
	t.Parallel()

	const capacity = 4

	data := make([]byte, tableByteSize(capacity))
	writeTrailer(data, 0, capacity, freeListEnd, 0, 0)
	for i := uint32(0); i < capacity; i++ {
		writeBucket(data, 0, i, 0, bucketSlotEmpty)
	}

	slots := newFakeSlots()

	for i, k := range [][]byte{[]byte("a"), []byte("b")} {
		hash := fnv1a64(k)
		slotOff := int64(10 + i)
		slots.put(slotOff, k)

		_, _, err := chainInsert(data, 0, capacity, 0.75, hash, slotOff, nil)
		require.NoError(t, err)
	}

	chainRemove(data, 0, capacity, fnv1a64([]byte("a")), 10)

	var visited []int64
	chainWalk(data, 0, capacity, func(_ uint64, slotOff int64) {
		visited = append(visited, slotOff)
	})

	assert.Equal(t, []int64{11}, visited, "walk must skip the tombstoned bucket")
}
