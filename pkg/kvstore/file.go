package kvstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// fileState owns the open database file descriptor and its current mmap
// view. It is shared (via the store's registry) by every handle attached
// to the same underlying file within this process; cross-process
// visibility is mediated by sharedHeader.
type fileState struct {
	fd       int
	data     []byte
	size     int64
	absPath  string
	header   fileHeader
	shared   *sharedHeader
	refCount int
}

// openOrCreateFile opens path, creating a fresh, empty database if it does
// not exist and create is true. The returned fileState has its header
// loaded and validated and is mmap'd for the file's current size.
func openOrCreateFile(path string, create bool, lim limits) (*fileState, error) {
	absPath, err := absClean(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", err, ErrBadArg)
	}

	flags := unix.O_RDWR
	_, statErr := os.Stat(absPath)

	switch {
	case statErr == nil:
		// existing file, fall through to validate below
	case os.IsNotExist(statErr) && create:
		flags |= unix.O_CREAT
	case os.IsNotExist(statErr):
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("stat database file: %w: %w", statErr, ErrIO)
	}

	fd, err := unix.Open(absPath, flags, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open database file: %w: %w", err, ErrIO)
	}

	fs := &fileState{fd: fd, absPath: absPath}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("fstat database file: %w: %w", err, ErrIO)
	}

	if st.Size == 0 {
		if err := fs.initializeEmpty(lim); err != nil {
			_ = unix.Close(fd)
			return nil, err
		}
	} else if err := fs.mapAndValidate(st.Size); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	sh, err := attachShared(absPath, fs.header.TableCount)
	if err != nil {
		_ = unix.Munmap(fs.data)
		_ = unix.Close(fd)
		return nil, err
	}

	fs.shared = sh

	return fs, nil
}

// initializeEmpty lays down a fresh header and first hash table for a
// zero-length file, then mmaps it.
func (fs *fileState) initializeEmpty(lim limits) error {
	h := fileHeader{
		Version:       fileVersion,
		KeyMax:        uint32(lim.keyMax),
		ValueMax:      uint32(lim.valueMax),
		TableCapacity: uint32(lim.tableCapacity),
		HashAlg:       hashAlgFNV1a64,
		TableCount:    1,
		FirstTableOff: uint64(headerSize),
		FreeListHead:  freeListEnd,
	}

	tableSize := tableByteSize(h.TableCapacity)
	total := int64(headerSize) + tableSize

	if err := unix.Ftruncate(fs.fd, total); err != nil {
		return fmt.Errorf("truncate new database file: %w: %w", err, ErrNoSpace)
	}

	data, err := unix.Mmap(fs.fd, 0, int(total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap new database file: %w: %w", err, ErrIO)
	}

	copy(data, encodeHeader(&h))

	for idx := uint32(0); idx < h.TableCapacity; idx++ {
		writeBucket(data, int64(headerSize), idx, 0, bucketSlotEmpty)
	}

	writeTrailer(data, int64(headerSize), h.TableCapacity, freeListEnd, 0, 0)

	if err := unix.Fsync(fs.fd); err != nil {
		_ = unix.Munmap(data)
		return fmt.Errorf("fsync new database file: %w: %w", err, ErrIO)
	}

	fs.data = data
	fs.size = total
	fs.header = h

	return nil
}

// mapAndValidate mmaps an existing file of the given size and validates
// its header (magic, version, CRC).
func (fs *fileState) mapAndValidate(size int64) error {
	data, err := unix.Mmap(fs.fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap existing database file: %w: %w", err, ErrIO)
	}

	if len(data) < headerSize || !bytes.Equal(data[offMagic:offMagic+4], []byte(fileMagic)) {
		_ = unix.Munmap(data)
		return fmt.Errorf("%w: bad magic", ErrCorrupt)
	}

	if !validateHeaderCRC(data) {
		_ = unix.Munmap(data)
		return fmt.Errorf("%w: header checksum mismatch", ErrCorrupt)
	}

	h := decodeHeader(data)

	if h.Version != fileVersion {
		_ = unix.Munmap(data)
		return ErrVersion
	}

	fs.data = data
	fs.size = size
	fs.header = h

	return nil
}

// remap drops the current mmap and re-maps the file at its current size,
// used after another handle (in this or another process) has extended the
// file by chaining a new hash table or appending slots.
func (fs *fileState) remap() error {
	var st unix.Stat_t
	if err := unix.Fstat(fs.fd, &st); err != nil {
		return fmt.Errorf("fstat for remap: %w: %w", err, ErrIO)
	}

	if st.Size == fs.size {
		return nil
	}

	if err := unix.Munmap(fs.data); err != nil {
		return fmt.Errorf("unmap for remap: %w: %w", err, ErrIO)
	}

	data, err := unix.Mmap(fs.fd, 0, int(st.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("remap database file: %w: %w", err, ErrIO)
	}

	fs.data = data
	fs.size = st.Size
	fs.header = decodeHeader(data)

	return nil
}

// growTable extends the file by one hash table's worth of bytes, zeroing
// new buckets, and returns the new table's offset along with the data
// slice backing the file after the (re)mmap extend performs. The shared
// header's table_count is not touched here; the caller publishes it under
// lock once the trailer chain is wired up.
//
// extend unmaps and remaps the file, invalidating any slice obtained
// before this call. Callers holding an older data slice (e.g. mid-way
// through chainInsert) must switch to the slice returned here for every
// subsequent access.
func (fs *fileState) growTable() (int64, []byte, error) {
	newOff := fs.size
	tableSize := tableByteSize(fs.header.TableCapacity)

	if err := fs.extend(tableSize); err != nil {
		return 0, nil, err
	}

	for idx := uint32(0); idx < fs.header.TableCapacity; idx++ {
		writeBucket(fs.data, newOff, idx, 0, bucketSlotEmpty)
	}

	return newOff, fs.data, nil
}

// allocSlot returns the offset of a free record slot, popping the free
// list if non-empty or appending a new slot at end-of-file otherwise.
func (fs *fileState) allocSlot() (int64, error) {
	if fs.header.FreeListHead != freeListEnd {
		off := fs.header.FreeListHead

		next := int64(binary.LittleEndian.Uint64(fs.data[off+slotOffFreeNext:]))
		fs.header.FreeListHead = next
		fs.writeHeader()

		return off, nil
	}

	sz := slotSize(fs.header.KeyMax, fs.header.ValueMax)
	off := fs.size

	if err := fs.extend(sz); err != nil {
		return 0, err
	}

	fs.header.SlotCount++
	fs.writeHeader()

	return off, nil
}

// freeSlot pushes slotOff onto the free list and clears its used bit.
func (fs *fileState) freeSlot(slotOff int64) {
	binary.LittleEndian.PutUint64(fs.data[slotOff+slotOffMeta:], 0)
	binary.LittleEndian.PutUint64(fs.data[slotOff+slotOffFreeNext:], uint64(fs.header.FreeListHead))

	fs.header.FreeListHead = slotOff
	fs.writeHeader()
}

// extend grows the backing file by n bytes and remaps.
func (fs *fileState) extend(n int64) error {
	newSize := fs.size + n

	if err := unix.Ftruncate(fs.fd, newSize); err != nil {
		return fmt.Errorf("extend database file: %w: %w", err, ErrNoSpace)
	}

	if err := unix.Munmap(fs.data); err != nil {
		return fmt.Errorf("unmap before extend: %w: %w", err, ErrIO)
	}

	data, err := unix.Mmap(fs.fd, 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("remap after extend: %w: %w", err, ErrIO)
	}

	fs.data = data
	fs.size = newSize

	return nil
}

// writeHeader re-encodes fs.header into the mapped buffer, recomputing its
// checksum. It does not fsync; callers fsync explicitly at protocol
// boundaries (writeRecord, Close).
func (fs *fileState) writeHeader() {
	copy(fs.data[:headerSize], encodeHeader(&fs.header))
}

// writeKeyIntoSlotCopyA writes the slot header, key, and value length,
// then copy A of value plus its checksum, marking the slot used. It does
// not fsync; the caller must fsync before calling writeKeyIntoSlotCopyB so
// a crash between the two copies can never corrupt both at once. Returns
// the checksum, which copy B reuses (both copies hold identical bytes).
func (fs *fileState) writeKeyIntoSlotCopyA(slotOff int64, key, value []byte) uint32 {
	km, vm := fs.header.KeyMax, fs.header.ValueMax

	binary.LittleEndian.PutUint64(fs.data[slotOff+slotOffMeta:], slotMetaUsed)
	binary.LittleEndian.PutUint16(fs.data[slotOff+slotOffKeyLen:], uint16(len(key)))
	copy(fs.data[slotOff+slotOffKey:], key)

	valLenOff := slotOff + slotValLenOffset(km)
	binary.LittleEndian.PutUint32(fs.data[valLenOff:], uint32(len(value)))

	crc := recordChecksum(uint32(len(value)), padTo(value, int(vm)))

	copy(fs.data[slotOff+slotValueAOffset(km):], padTo(value, int(vm)))
	binary.LittleEndian.PutUint32(fs.data[slotOff+slotCRCAOffset(km, vm):], crc)

	return crc
}

// writeKeyIntoSlotCopyB writes copy B of value and its checksum, then
// clears the slot's tombstone flag. Must only be called after
// writeKeyIntoSlotCopyA's write has been fsynced; it does not fsync
// itself, so the caller must flush again afterward.
func (fs *fileState) writeKeyIntoSlotCopyB(slotOff int64, value []byte, crc uint32) {
	km, vm := fs.header.KeyMax, fs.header.ValueMax

	copy(fs.data[slotOff+slotValueBOffset(km, vm):], padTo(value, int(vm)))
	binary.LittleEndian.PutUint32(fs.data[slotOff+slotCRCBOffset(km, vm):], crc)

	fs.data[slotOff+slotTombstoneOffset(km, vm)] = 0
}

// writeRecord writes one record into slotOff: copy A, fsync, copy B,
// fsync. A crash between the two copy writes tears at most one of them,
// so readSlotValue can always recover the value from whichever copy
// remains valid.
func (fs *fileState) writeRecord(slotOff int64, key, value []byte) error {
	crc := fs.writeKeyIntoSlotCopyA(slotOff, key, value)

	if err := syncData(fs.fd); err != nil {
		return err
	}

	fs.writeKeyIntoSlotCopyB(slotOff, value, crc)

	return syncData(fs.fd)
}

// readSlotValue reads the value out of slotOff, preferring copy A and
// falling back to copy B if A fails its checksum, tolerating a write torn
// by a crash between the two copies. It returns ErrCorrupt only if both
// copies fail.
func (fs *fileState) readSlotValue(slotOff int64) ([]byte, error) {
	km, vm := fs.header.KeyMax, fs.header.ValueMax

	valLen := binary.LittleEndian.Uint32(fs.data[slotOff+slotValLenOffset(km):])
	if valLen > vm {
		return nil, fmt.Errorf("%w: stored length exceeds value_max", ErrCorrupt)
	}

	aOff := slotOff + slotValueAOffset(km)
	aCRCOff := slotOff + slotCRCAOffset(km, vm)
	a := fs.data[aOff : aOff+int64(vm)]
	aCRC := binary.LittleEndian.Uint32(fs.data[aCRCOff:])

	if recordChecksum(valLen, a) == aCRC {
		out := make([]byte, valLen)
		copy(out, a[:valLen])

		return out, nil
	}

	bOff := slotOff + slotValueBOffset(km, vm)
	bCRCOff := slotOff + slotCRCBOffset(km, vm)
	b := fs.data[bOff : bOff+int64(vm)]
	bCRC := binary.LittleEndian.Uint32(fs.data[bCRCOff:])

	if recordChecksum(valLen, b) == bCRC {
		out := make([]byte, valLen)
		copy(out, b[:valLen])

		return out, nil
	}

	return nil, fmt.Errorf("%w: both copies failed checksum", ErrCorrupt)
}

// readSlotKey reads the stored key bytes out of slotOff.
func (fs *fileState) readSlotKey(slotOff int64) []byte {
	n := binary.LittleEndian.Uint16(fs.data[slotOff+slotOffKeyLen:])
	key := make([]byte, n)
	copy(key, fs.data[slotOff+slotOffKey:int64(slotOff+slotOffKey)+int64(n)])

	return key
}

// slotIsLive reports whether slotOff's used bit is set and it is not
// tombstoned.
func (fs *fileState) slotIsLive(slotOff int64) bool {
	meta := binary.LittleEndian.Uint64(fs.data[slotOff+slotOffMeta:])
	km, vm := fs.header.KeyMax, fs.header.ValueMax

	return meta&slotMetaUsed != 0 && fs.data[slotOff+slotTombstoneOffset(km, vm)] == 0
}

func (fs *fileState) close() error {
	var errs []error

	if err := unix.Munmap(fs.data); err != nil {
		errs = append(errs, err)
	}

	if fs.shared != nil {
		if err := fs.shared.detach(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := unix.Close(fs.fd); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%v: %w", errs, ErrIO)
	}

	return nil
}

func padTo(b []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, b)

	return out
}
