package kvstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/natefinch/atomic"
)

// snapshotEntry is one record in an exported snapshot file.
type snapshotEntry struct {
	Key   []byte `json:"key"`
	Value []byte `json:"value"`
}

// ExportSnapshot writes every key visible to h as newline-delimited JSON
// to path, replacing any existing file atomically (temp file + rename) so
// a reader never observes a partially written snapshot. This is the
// backup/export tool administrators use before a risky migration.
func ExportSnapshot(h Handle, path string) error {
	hd, err := validHandle(h)
	if err != nil {
		return err
	}

	keys, err := hd.listKeys()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	for _, key := range keys {
		value, err := hd.readKey(key)
		if err != nil {
			return fmt.Errorf("read %q for export: %w", key, err)
		}

		if err := enc.Encode(snapshotEntry{Key: key, Value: value}); err != nil {
			return fmt.Errorf("encode snapshot entry: %w", err)
		}
	}

	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("write snapshot: %w: %w", err, ErrIO)
	}

	return nil
}

// ImportSnapshot reads a snapshot written by ExportSnapshot and writes
// every entry into h, overwriting any existing value for the same key.
func ImportSnapshot(h Handle, entries []byte) error {
	dec := json.NewDecoder(bytes.NewReader(entries))

	for {
		var e snapshotEntry

		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("decode snapshot entry: %w: %w", err, ErrBadArg)
		}

		if _, err := WriteKey(h, e.Key, e.Value); err != nil {
			return err
		}
	}
}
