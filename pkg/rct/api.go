package rct

import (
	"fmt"

	"github.com/GENIVI/persistence-common-object-sub001/pkg/kvstore"
)

// Handle identifies one open resource configuration table.
type Handle kvstore.Handle

// Open attaches to the resource configuration table file at path, creating
// it if create is true and it does not already exist.
func Open(path string, create bool) (Handle, error) {
	var flags kvstore.OpenFlags
	if create {
		flags |= kvstore.FlagCreate
	}

	h, err := kvstore.Open(path, flags)

	return Handle(h), err
}

// Close flushes and releases h.
func Close(h Handle) error {
	return kvstore.Close(kvstore.Handle(h))
}

// Write stores rec under key, overwriting any existing entry.
func Write(h Handle, key []byte, rec Record) error {
	buf, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("%w: %w", err, kvstore.ErrBadArg)
	}

	_, err = kvstore.WriteKey(kvstore.Handle(h), key, buf)

	return err
}

// Read returns the record stored under key.
func Read(h Handle, key []byte) (Record, error) {
	size, err := kvstore.GetKeySize(kvstore.Handle(h), key)
	if err != nil {
		return Record{}, err
	}

	buf := make([]byte, size)
	if _, err := kvstore.ReadKey(kvstore.Handle(h), key, buf); err != nil {
		return Record{}, err
	}

	return decodeRecord(buf)
}

// Delete removes key's record.
func Delete(h Handle, key []byte) error {
	return kvstore.DeleteKey(kvstore.Handle(h), key)
}

// GetResourcesListSize returns the total buffer size GetResourcesList
// would need, matching the GENIVI persComRctGetSizeResourcesList
// convention of a NUL-separated key buffer.
func GetResourcesListSize(h Handle) (int, error) {
	return kvstore.GetKeysListSize(kvstore.Handle(h))
}

// GetResourcesList returns every resource key currently stored in h.
func GetResourcesList(h Handle) ([][]byte, error) {
	return kvstore.GetKeysList(kvstore.Handle(h))
}
