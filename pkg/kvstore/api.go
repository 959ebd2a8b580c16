package kvstore

import (
	"errors"
	"fmt"
)

// OpenFlags controls Open's behavior when the target file is absent.
type OpenFlags uint32

const (
	// FlagCreate creates the database file if it does not already exist.
	// Without it, Open on a missing file returns ErrNotFound.
	FlagCreate OpenFlags = 1 << iota

	// FlagCached is accepted for source compatibility with callers that
	// set it explicitly. It does not change behavior: every handle
	// already buffers writes in a process-private cache and flushes them
	// to the file only on Close.
	FlagCached
)

// Handle identifies one open database. Zero is never a valid handle.
type Handle int32

// Open attaches to the database file at path, creating it if FlagCreate is
// set and it does not exist. It returns ErrNoHandle if the process-wide
// handle registry is already at capacity (H_max, see limits.go).
func Open(path string, flags OpenFlags) (Handle, error) {
	if path == "" {
		return 0, ErrBadArg
	}

	id, err := reg.acquire(path, flags&FlagCreate != 0, activeLimits)
	if err != nil {
		return 0, err
	}

	return Handle(id), nil
}

// Close flushes every write and delete buffered in h's cache to the file
// and releases h. h must not be used again afterward, even if Close
// returns an error. Closing an already-closed (or never-open) handle is a
// no-op: the registry reclaims a handle's slot as soon as it closes, so by
// the time a second Close arrives there is nothing left to release.
func Close(h Handle) error {
	hd, err := reg.get(int32(h))
	if err != nil {
		if errors.Is(err, ErrNoHandle) {
			return nil
		}

		return err
	}

	flushErr := hd.flushOnClose()
	if flushErr != nil {
		reg.markError(int32(h))
	}

	if relErr := reg.release(int32(h)); relErr != nil {
		return relErr
	}

	return flushErr
}

// WriteKey stores value under key, overwriting any existing value.
func WriteKey(h Handle, key, value []byte) (int, error) {
	hd, err := validHandle(h)
	if err != nil {
		return 0, err
	}

	if len(key) == 0 || len(key) > hd.lim.keyMax {
		return 0, ErrBadArg
	}

	if len(value) > hd.lim.valueMax {
		return 0, ErrBadArg
	}

	if err := hd.writeKey(key, value); err != nil {
		reg.markError(int32(h))
		return 0, err
	}

	return len(value), nil
}

// ReadKey copies key's value into buf, returning the number of bytes
// written. It returns ErrBadArg if buf is smaller than the stored value;
// callers should size buf via GetKeySize first.
func ReadKey(h Handle, key []byte, buf []byte) (int, error) {
	hd, err := validHandle(h)
	if err != nil {
		return 0, err
	}

	if len(key) == 0 || len(key) > hd.lim.keyMax {
		return 0, ErrBadArg
	}

	value, err := hd.readKey(key)
	if err != nil {
		if err != ErrNotFound {
			reg.markError(int32(h))
		}

		return 0, err
	}

	if len(buf) < len(value) {
		return 0, ErrBadArg
	}

	n := copy(buf, value)

	return n, nil
}

// DeleteKey removes key. Delete is idempotent: deleting an absent key, or
// a key already deleted, succeeds with no error.
func DeleteKey(h Handle, key []byte) error {
	hd, err := validHandle(h)
	if err != nil {
		return err
	}

	if len(key) == 0 || len(key) > hd.lim.keyMax {
		return ErrBadArg
	}

	if err := hd.deleteKey(key); err != nil {
		reg.markError(int32(h))
		return err
	}

	return nil
}

// GetKeySize returns the length in bytes of key's stored value, without
// copying it.
func GetKeySize(h Handle, key []byte) (int, error) {
	hd, err := validHandle(h)
	if err != nil {
		return 0, err
	}

	if len(key) == 0 || len(key) > hd.lim.keyMax {
		return 0, ErrBadArg
	}

	n, err := hd.keySize(key)
	if err != nil {
		if err != ErrNotFound {
			reg.markError(int32(h))
		}

		return 0, err
	}

	return n, nil
}

// GetKeysList returns every key currently visible to h, merging its own
// buffered writes/deletes over the file's committed contents.
func GetKeysList(h Handle) ([][]byte, error) {
	hd, err := validHandle(h)
	if err != nil {
		return nil, err
	}

	keys, err := hd.listKeys()
	if err != nil {
		reg.markError(int32(h))
		return nil, err
	}

	return keys, nil
}

// GetKeysListSize returns the sum of len(key)+1 across GetKeysList's
// result, matching the GENIVI persComDbGetSizeKeysList convention of a
// NUL-separated buffer size.
func GetKeysListSize(h Handle) (int, error) {
	keys, err := GetKeysList(h)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, k := range keys {
		total += len(k) + 1
	}

	return total, nil
}

// validHandle resolves h to its handle struct, rejecting handles latched
// into the error state (only Close is permitted after an IO or CORRUPT
// failure).
func validHandle(h Handle) (*handle, error) {
	if h < 0 {
		return nil, ErrBadArg
	}

	hd, err := reg.get(int32(h))
	if err != nil {
		return nil, err
	}

	if hd.state == handleError {
		return nil, fmt.Errorf("%w: handle latched after prior error", ErrIO)
	}

	return hd, nil
}
