package kvstore

import "errors"

// Sentinel errors returned by kvstore operations.
//
// Callers should use errors.Is to test for a category:
//
//	if errors.Is(err, kvstore.ErrCorrupt) {
//	    // rebuild from a known-good backup
//	}
var (
	// ErrBadArg indicates a nil pointer, out-of-range length, or negative
	// handle. Arguments are validated before any state is touched.
	ErrBadArg = errors.New("kvstore: bad argument")

	// ErrNoHandle indicates the handle is not open (never opened, or
	// already closed), or the process-wide handle registry is exhausted
	// (maxHandles concurrent handles).
	ErrNoHandle = errors.New("kvstore: no such handle")

	// ErrNotFound indicates the key is absent, or the file is absent and
	// FlagCreate was not supplied to Open.
	ErrNotFound = errors.New("kvstore: not found")

	// ErrExists names the create-exclusive failure case. Open has no
	// create-exclusive mode, and no operation in this package returns it.
	ErrExists = errors.New("kvstore: already exists")

	// ErrIO indicates an underlying read, write, or mmap operation failed.
	// The handle transitions to an error state.
	ErrIO = errors.New("kvstore: io error")

	// ErrCorrupt indicates both copies of a record (or the file header)
	// failed checksum validation. The handle transitions to an error
	// state; the record is unrecoverable.
	ErrCorrupt = errors.New("kvstore: corrupt")

	// ErrNoSpace indicates the file could not be extended to accommodate
	// a new slot or hash table. The handle transitions to an error state.
	ErrNoSpace = errors.New("kvstore: no space")

	// ErrLock indicates the shared coordination header's mutex could not
	// be acquired.
	ErrLock = errors.New("kvstore: lock failed")

	// ErrVersion indicates the on-disk format version is not understood
	// by this build.
	ErrVersion = errors.New("kvstore: unsupported version")
)
