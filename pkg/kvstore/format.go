package kvstore

import (
	"encoding/binary"
	"hash/crc32"
	"hash/fnv"
)

// On-disk format identifiers. ECV1 is the engine's own record format,
// built around a dual-copy write protocol and chained hash tables.
const (
	fileMagic      = "ECV1"
	fileVersion    = uint32(1)
	headerSize     = 256
	hashAlgFNV1a64 = uint32(1)

	bucketSlotEmpty     = int64(-1)
	bucketSlotTombstone = int64(-2)

	freeListEnd = int64(-1)
)

// Header field offsets (bytes from file start).
const (
	offMagic          = 0x000 // [4]byte
	offVersion        = 0x004 // uint32
	offHeaderSize     = 0x008 // uint32
	offKeyMax         = 0x00C // uint32
	offValueMax       = 0x010 // uint32
	offTableCapacity  = 0x014 // uint32
	offHashAlg        = 0x018 // uint32
	offFlags          = 0x01C // uint32
	offTableCount     = 0x020 // uint64
	offFirstTableOff  = 0x028 // uint64
	offFreeListHead   = 0x030 // int64
	offSlotCount      = 0x038 // uint64
	offLiveCount      = 0x040 // uint64
	offHeaderCRC32C   = 0x048 // uint32
	offReservedU32    = 0x04C // uint32
	offReservedStart  = 0x050 // reserved through headerSize
)

// fileHeader is the in-memory view of the 256-byte file header.
type fileHeader struct {
	Version       uint32
	KeyMax        uint32
	ValueMax      uint32
	TableCapacity uint32
	HashAlg       uint32
	Flags         uint32
	TableCount    uint64
	FirstTableOff uint64
	FreeListHead  int64
	SlotCount     uint64
	LiveCount     uint64
}

func encodeHeader(h *fileHeader) []byte {
	buf := make([]byte, headerSize)
	copy(buf[offMagic:], fileMagic)
	binary.LittleEndian.PutUint32(buf[offVersion:], h.Version)
	binary.LittleEndian.PutUint32(buf[offHeaderSize:], headerSize)
	binary.LittleEndian.PutUint32(buf[offKeyMax:], h.KeyMax)
	binary.LittleEndian.PutUint32(buf[offValueMax:], h.ValueMax)
	binary.LittleEndian.PutUint32(buf[offTableCapacity:], h.TableCapacity)
	binary.LittleEndian.PutUint32(buf[offHashAlg:], h.HashAlg)
	binary.LittleEndian.PutUint32(buf[offFlags:], h.Flags)
	binary.LittleEndian.PutUint64(buf[offTableCount:], h.TableCount)
	binary.LittleEndian.PutUint64(buf[offFirstTableOff:], h.FirstTableOff)
	binary.LittleEndian.PutUint64(buf[offFreeListHead:], uint64(h.FreeListHead))
	binary.LittleEndian.PutUint64(buf[offSlotCount:], h.SlotCount)
	binary.LittleEndian.PutUint64(buf[offLiveCount:], h.LiveCount)

	crc := computeHeaderCRC(buf)
	binary.LittleEndian.PutUint32(buf[offHeaderCRC32C:], crc)

	return buf
}

func decodeHeader(buf []byte) fileHeader {
	return fileHeader{
		Version:       binary.LittleEndian.Uint32(buf[offVersion:]),
		KeyMax:        binary.LittleEndian.Uint32(buf[offKeyMax:]),
		ValueMax:      binary.LittleEndian.Uint32(buf[offValueMax:]),
		TableCapacity: binary.LittleEndian.Uint32(buf[offTableCapacity:]),
		HashAlg:       binary.LittleEndian.Uint32(buf[offHashAlg:]),
		Flags:         binary.LittleEndian.Uint32(buf[offFlags:]),
		TableCount:    binary.LittleEndian.Uint64(buf[offTableCount:]),
		FirstTableOff: binary.LittleEndian.Uint64(buf[offFirstTableOff:]),
		FreeListHead:  int64(binary.LittleEndian.Uint64(buf[offFreeListHead:])),
		SlotCount:     binary.LittleEndian.Uint64(buf[offSlotCount:]),
		LiveCount:     binary.LittleEndian.Uint64(buf[offLiveCount:]),
	}
}

// computeHeaderCRC hashes the header buffer with the CRC field zeroed.
func computeHeaderCRC(buf []byte) uint32 {
	tmp := make([]byte, headerSize)
	copy(tmp, buf)

	for i := offHeaderCRC32C; i < offHeaderCRC32C+4; i++ {
		tmp[i] = 0
	}

	return crc32.Checksum(tmp, crc32.MakeTable(crc32.Castagnoli))
}

func validateHeaderCRC(buf []byte) bool {
	stored := binary.LittleEndian.Uint32(buf[offHeaderCRC32C:])
	return stored == computeHeaderCRC(buf)
}

func hasNonZeroReservedBytes(buf []byte) bool {
	if binary.LittleEndian.Uint32(buf[offReservedU32:]) != 0 {
		return true
	}

	for i := offReservedStart; i < headerSize; i++ {
		if buf[i] != 0 {
			return true
		}
	}

	return false
}

// --- hash table layout ---
//
// A table is [capacity * bucket(16 bytes)][trailer(24 bytes)].
// bucket: hash uint64 | slotOffset int64 (bucketSlotEmpty/-Tombstone sentinels)
// trailer: nextTableOff int64 (-1 = chain end) | used uint32 | tombstones uint32

const (
	bucketSize  = 16
	trailerSize = 24
)

func tableByteSize(capacity uint32) int64 {
	return int64(capacity)*bucketSize + trailerSize
}

func readBucket(data []byte, tableOff int64, idx uint32) (hash uint64, slot int64) {
	off := tableOff + int64(idx)*bucketSize
	hash = binary.LittleEndian.Uint64(data[off:])
	slot = int64(binary.LittleEndian.Uint64(data[off+8:]))

	return hash, slot
}

func writeBucket(data []byte, tableOff int64, idx uint32, hash uint64, slot int64) {
	off := tableOff + int64(idx)*bucketSize
	binary.LittleEndian.PutUint64(data[off:], hash)
	binary.LittleEndian.PutUint64(data[off+8:], uint64(slot))
}

func trailerOffset(tableOff int64, capacity uint32) int64 {
	return tableOff + int64(capacity)*bucketSize
}

func readTrailer(data []byte, tableOff int64, capacity uint32) (next int64, used, tombstones uint32) {
	off := trailerOffset(tableOff, capacity)
	next = int64(binary.LittleEndian.Uint64(data[off:]))
	used = binary.LittleEndian.Uint32(data[off+8:])
	tombstones = binary.LittleEndian.Uint32(data[off+12:])

	return next, used, tombstones
}

func writeTrailer(data []byte, tableOff int64, capacity uint32, next int64, used, tombstones uint32) {
	off := trailerOffset(tableOff, capacity)
	binary.LittleEndian.PutUint64(data[off:], uint64(next))
	binary.LittleEndian.PutUint32(data[off+8:], used)
	binary.LittleEndian.PutUint32(data[off+12:], tombstones)
}

// --- record slot layout ---
//
// meta(8) | freeNext(8) | keyLen(2) | key(keyMax) | valLen(4) |
// valueA(valueMax) | crcA(4) | valueB(valueMax) | crcB(4) | tombstoned(1)

const (
	slotMetaUsed = uint64(1) << 0

	slotOffMeta     = 0
	slotOffFreeNext = 8
	slotOffKeyLen   = 16
	slotOffKey      = 18
)

func slotSize(keyMax, valueMax uint32) int64 {
	unaligned := int64(slotOffKey) + int64(keyMax) + 4 + int64(valueMax) + 4 + int64(valueMax) + 4 + 1
	return align8(unaligned)
}

func align8(x int64) int64 {
	return (x + 7) &^ 7
}

func slotValLenOffset(keyMax uint32) int64 {
	return int64(slotOffKey) + int64(keyMax)
}

func slotValueAOffset(keyMax uint32) int64 {
	return slotValLenOffset(keyMax) + 4
}

func slotCRCAOffset(keyMax, valueMax uint32) int64 {
	return slotValueAOffset(keyMax) + int64(valueMax)
}

func slotValueBOffset(keyMax, valueMax uint32) int64 {
	return slotCRCAOffset(keyMax, valueMax) + 4
}

func slotCRCBOffset(keyMax, valueMax uint32) int64 {
	return slotValueBOffset(keyMax, valueMax) + int64(valueMax)
}

func slotTombstoneOffset(keyMax, valueMax uint32) int64 {
	return slotCRCBOffset(keyMax, valueMax) + 4
}

func recordChecksum(valLen uint32, value []byte) uint32 {
	table := crc32.MakeTable(crc32.Castagnoli)
	crc := crc32.Checksum(binary.LittleEndian.AppendUint32(nil, valLen), table)
	return crc32.Update(crc, table, value[:valLen])
}

// fnv1a64 is the fixed, non-cryptographic key hash. Changing it is a
// format break.
func fnv1a64(key []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(key)

	return h.Sum64()
}
