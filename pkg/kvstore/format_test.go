package kvstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_EncodeDecodeHeader_RoundTrips(t *testing.T) {
	t.Parallel()

	h := fileHeader{
		Version:       fileVersion,
		KeyMax:        128,
		ValueMax:      4096,
		TableCapacity: 64,
		HashAlg:       hashAlgFNV1a64,
		FirstTableOff: headerSize,
		FreeListHead:  freeListEnd,
		TableCount:    1,
		SlotCount:     10,
		LiveCount:     7,
	}

	buf := encodeHeader(&h)
	require.Len(t, buf, headerSize)

	require.True(t, validateHeaderCRC(buf), "freshly encoded header must validate")

	got := decodeHeader(buf)
	assert.Equal(t, h, got)
}

func Test_ValidateHeaderCRC_DetectsCorruption(t *testing.T) {
	t.Parallel()

	h := fileHeader{Version: fileVersion, KeyMax: 1, ValueMax: 1, TableCapacity: 1, FreeListHead: freeListEnd}
	buf := encodeHeader(&h)

	buf[offKeyMax] ^= 0xFF

	assert.False(t, validateHeaderCRC(buf), "flipping a header byte must fail CRC validation")
}

func Test_BucketReadWrite_RoundTrips(t *testing.T) {
	t.Parallel()

	data := make([]byte, tableByteSize(4))

	writeBucket(data, 0, 2, 0xDEADBEEF, 128)

	hash, slot := readBucket(data, 0, 2)
	assert.Equal(t, uint64(0xDEADBEEF), hash)
	assert.Equal(t, int64(128), slot)
}

func Test_TrailerReadWrite_RoundTrips(t *testing.T) {
	t.Parallel()

	data := make([]byte, tableByteSize(4))

	writeTrailer(data, 0, 4, 999, 3, 1)

	next, used, tombstones := readTrailer(data, 0, 4)
	assert.Equal(t, int64(999), next)
	assert.Equal(t, uint32(3), used)
	assert.Equal(t, uint32(1), tombstones)
}

func Test_SlotOffsets_AreMonotonicAndAligned(t *testing.T) {
	t.Parallel()

	const keyMax, valueMax = 128, 4096

	valLen := slotValLenOffset(keyMax)
	valA := slotValueAOffset(keyMax)
	crcA := slotCRCAOffset(keyMax, valueMax)
	valB := slotValueBOffset(keyMax, valueMax)
	crcB := slotCRCBOffset(keyMax, valueMax)
	tomb := slotTombstoneOffset(keyMax, valueMax)
	size := slotSize(keyMax, valueMax)

	assert.Less(t, int64(slotOffKey), valLen)
	assert.Less(t, valLen, valA)
	assert.Less(t, valA, crcA)
	assert.Less(t, crcA, valB)
	assert.Less(t, valB, crcB)
	assert.Less(t, crcB, tomb)
	assert.GreaterOrEqual(t, size, tomb+1)
	assert.Equal(t, int64(0), size%8, "slot size must be 8-byte aligned")
}

func Test_RecordChecksum_DetectsFlippedByte(t *testing.T) {
	t.Parallel()

	value := make([]byte, 16)
	copy(value, []byte("hello world"))

	crc := recordChecksum(11, value)

	value[3] ^= 0xFF
	assert.NotEqual(t, crc, recordChecksum(11, value))
}

func Test_Fnv1a64_IsStableAndDistinguishesKeys(t *testing.T) {
	t.Parallel()

	a := fnv1a64([]byte("key-a"))
	b := fnv1a64([]byte("key-b"))
	aAgain := fnv1a64([]byte("key-a"))

	assert.Equal(t, a, aAgain)
	assert.NotEqual(t, a, b)
}
