package kvstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// sharedHeader is a small, separately mmap'd coordination file keyed by a
// stable hash of the database's canonical absolute path. It records the
// current hash-table chain length, published on every flush, and provides
// the coarse cross-process mutex that guards every operation touching the
// hash chain.
//
// Layout (64 bytes, little-endian):
//
//	0x00  magic       [4]byte  "ECVS"
//	0x04  version     uint32
//	0x08  table_count uint64
//	0x10  attach_count uint64
//	0x18  reserved    (through 0x40)
type sharedHeader struct {
	path string // the shared-header file's own path, for unlink on detach
	fd   int
	data []byte
}

const (
	sharedMagic     = "ECVS"
	sharedSize      = 64
	sharedOffMagic  = 0
	sharedOffVer    = 4
	sharedOffTables = 8
	sharedOffAttach = 16
)

// sharedDir returns the directory holding shared coordination files. It is
// a package variable so tests can redirect it without touching the real
// filesystem's temp directory.
var sharedDir = filepath.Join(os.TempDir(), "ecukv-shm")

// sharedHeaderPath derives the deterministic, per-path shared-memory name:
// a stable hash of the canonical absolute path.
func sharedHeaderPath(absPath string) string {
	h := fnv1a64([]byte(absPath))
	return filepath.Join(sharedDir, strconv.FormatUint(h, 16)+".shm")
}

// attachShared opens (creating if absent) the shared coordination file for
// absPath, mmaps it, and increments its attach count. initialTableCount
// seeds a freshly created header's table_count from the database file's
// own header, so a first attach after a process restart doesn't think the
// chain is empty.
func attachShared(absPath string, initialTableCount uint64) (*sharedHeader, error) {
	if err := os.MkdirAll(sharedDir, 0o750); err != nil {
		return nil, fmt.Errorf("create shared dir: %w", err)
	}

	path := sharedHeaderPath(absPath)

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open shared header: %w", err)
	}

	sh := &sharedHeader{path: path, fd: fd}

	if lockErr := sh.lock(); lockErr != nil {
		_ = unix.Close(fd)
		return nil, lockErr
	}

	// A detach may have unlinked path between the open above and the lock;
	// start over so the locked file is the one path names.
	var fdSt, pathSt unix.Stat_t
	if unix.Fstat(fd, &fdSt) != nil || unix.Stat(path, &pathSt) != nil || fdSt.Dev != pathSt.Dev || fdSt.Ino != pathSt.Ino {
		sh.unlock()
		_ = unix.Close(fd)

		return attachShared(absPath, initialTableCount)
	}
	defer sh.unlock()

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("stat shared header: %w", err)
	}

	if st.Size == 0 {
		if err := unix.Ftruncate(fd, sharedSize); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("truncate shared header: %w", err)
		}
	}

	data, err := unix.Mmap(fd, 0, sharedSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("mmap shared header: %w", err)
	}

	sh.data = data

	if string(data[sharedOffMagic:sharedOffMagic+4]) != sharedMagic {
		copy(data[sharedOffMagic:], sharedMagic)
		binary.LittleEndian.PutUint32(data[sharedOffVer:], fileVersion)
		binary.LittleEndian.PutUint64(data[sharedOffTables:], initialTableCount)
		binary.LittleEndian.PutUint64(data[sharedOffAttach:], 0)
	}

	attach := binary.LittleEndian.Uint64(data[sharedOffAttach:])
	binary.LittleEndian.PutUint64(data[sharedOffAttach:], attach+1)

	return sh, nil
}

// detach decrements the attach count and, if it reaches zero, unmaps and
// unlinks the shared header file: its lifetime is the lifetime of the
// last attached handle.
func (sh *sharedHeader) detach() error {
	if lockErr := sh.lock(); lockErr != nil {
		return lockErr
	}

	attach := binary.LittleEndian.Uint64(sh.data[sharedOffAttach:])
	if attach > 0 {
		attach--
	}

	binary.LittleEndian.PutUint64(sh.data[sharedOffAttach:], attach)

	// Unlink while still holding the lock: a concurrent attachShared blocks
	// on this same lock before it can observe the attach count, and once it
	// holds the lock it re-checks that its file is still the one at the
	// path, so it never attaches to a file removed here.
	if attach == 0 {
		_ = os.Remove(sh.path)
	}

	sh.unlock()

	_ = unix.Munmap(sh.data)

	return unix.Close(sh.fd)
}

// lock acquires the coarse, blocking, cross-process mutex. Every
// operation that reads or mutates the hash chain acquires it for the
// operation's whole duration.
func (sh *sharedHeader) lock() error {
	for {
		err := unix.Flock(sh.fd, unix.LOCK_EX)
		if err == nil {
			return nil
		}

		if errors.Is(err, unix.EINTR) {
			continue
		}

		return fmt.Errorf("acquire shared lock: %w: %w", err, ErrLock)
	}
}

func (sh *sharedHeader) unlock() {
	_ = unix.Flock(sh.fd, unix.LOCK_UN)
}

// tableCount reads the shared chain length. Must be called under lock().
func (sh *sharedHeader) tableCount() uint64 {
	return binary.LittleEndian.Uint64(sh.data[sharedOffTables:])
}

// setTableCount publishes a new chain length. Must be called under lock().
func (sh *sharedHeader) setTableCount(n uint64) {
	binary.LittleEndian.PutUint64(sh.data[sharedOffTables:], n)
}
