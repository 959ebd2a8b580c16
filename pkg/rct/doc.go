// Package rct implements the resource configuration table: a key-value
// mapping from resource key to a fixed-layout configuration record
// (storage policy, backend, permission, resource type, quota, and three
// bounded text fields). It is built directly on pkg/kvstore, encoding each Record to
// and from a fixed-size byte blob and delegating storage, locking, and
// crash recovery to the underlying engine.
package rct
