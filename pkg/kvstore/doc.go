// Package kvstore implements an embedded, file-backed key-value store.
//
// It is the persistence substrate used by the local data store (LDB) and,
// via package rct, the resource configuration table. A single on-disk
// format backs both: opaque binary keys map to opaque binary values, and
// the engine never interprets value bytes.
//
// # Basic usage
//
//	h, err := kvstore.Open("/var/lib/app/local.db", kvstore.FlagCreate)
//	if err != nil {
//	    // handle ErrCorrupt / ErrVersion by deleting and recreating
//	}
//	defer kvstore.Close(h)
//
//	_, err = kvstore.WriteKey(h, []byte("k"), []byte("v"))
//	n, err := kvstore.GetKeySize(h, []byte("k"))
//	buf := make([]byte, n)
//	n, err = kvstore.ReadKey(h, []byte("k"), buf)
//
// # Concurrency
//
// Multiple OS processes may open the same database file concurrently.
// A handle always sees its own buffered writes immediately. Every other
// handle -- whether in this process or another -- sees a write only once
// the writing handle closes (Close is the only flush point). A shared
// coordination header, mmap'd separately from the database file, lets
// every attached handle see a consistent view of the on-disk hash-table
// chain.
//
// # Error handling
//
// Errors are classified in errors.go. BAD_ARG-class errors never mutate
// state. IO and CORRUPT errors latch the offending handle into an error
// state; only Close is permitted afterward.
package kvstore
