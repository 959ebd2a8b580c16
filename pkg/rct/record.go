package rct

import (
	"encoding/binary"
	"fmt"
)

// Policy selects when a resource's value is synced to permanent storage.
type Policy uint8

const (
	PolicyWriteThrough Policy = iota
	PolicyWriteBack
)

// Storage selects the backend a resource's data lives in.
type Storage uint8

const (
	StorageLocal Storage = iota
	StorageShared
	StorageCustom
)

// Permission restricts who may read or write a resource's data.
type Permission uint8

const (
	PermissionReadOnly Permission = iota
	PermissionReadWrite
)

// ResourceType distinguishes what kind of data a resource key names.
type ResourceType uint8

const (
	ResourceTypeKey ResourceType = iota
	ResourceTypeFile
)

// Field length limits for Record's bounded text fields. Values are fixed
// build constants; the original GENIVI source left the equivalent
// PERS_RCT_MAX_LENGTH_* constants unspecified by the distilled spec.
const (
	MaxCustomNameLen  = 64
	MaxCustomIDLen    = 32
	MaxResponsibleLen = 64
)

// Record is one resource's fixed-layout configuration entry. All enum
// fields are opaque to the storage engine; only the RCT layer interprets
// them.
type Record struct {
	Policy      Policy
	Storage     Storage
	Permission  Permission
	Type        ResourceType
	MaxSize     uint32
	CustomName  string
	CustomID    string
	Responsible string
}

// recordSize is the fixed on-disk length of an encoded Record: four
// 1-byte enums, a uint32, and three bounded strings each stored as a
// 1-byte length prefix followed by fixed-width bytes.
const recordSize = 1 + 1 + 1 + 1 + 4 +
	(1 + MaxCustomNameLen) + (1 + MaxCustomIDLen) + (1 + MaxResponsibleLen)

func (r Record) validate() error {
	if len(r.CustomName) > MaxCustomNameLen {
		return fmt.Errorf("custom_name exceeds %d bytes", MaxCustomNameLen)
	}

	if len(r.CustomID) > MaxCustomIDLen {
		return fmt.Errorf("custom_id exceeds %d bytes", MaxCustomIDLen)
	}

	if len(r.Responsible) > MaxResponsibleLen {
		return fmt.Errorf("reponsible exceeds %d bytes", MaxResponsibleLen)
	}

	return nil
}

func encodeRecord(r Record) ([]byte, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, recordSize)

	buf[0] = byte(r.Policy)
	buf[1] = byte(r.Storage)
	buf[2] = byte(r.Permission)
	buf[3] = byte(r.Type)

	binary.LittleEndian.PutUint32(buf[4:], r.MaxSize)

	off := 8
	off = putBoundedString(buf, off, r.CustomName, MaxCustomNameLen)
	off = putBoundedString(buf, off, r.CustomID, MaxCustomIDLen)
	off = putBoundedString(buf, off, r.Responsible, MaxResponsibleLen)
	_ = off

	return buf, nil
}

func decodeRecord(buf []byte) (Record, error) {
	if len(buf) != recordSize {
		return Record{}, fmt.Errorf("record: unexpected size %d, want %d", len(buf), recordSize)
	}

	r := Record{
		Policy:     Policy(buf[0]),
		Storage:    Storage(buf[1]),
		Permission: Permission(buf[2]),
		Type:       ResourceType(buf[3]),
		MaxSize:    binary.LittleEndian.Uint32(buf[4:]),
	}

	off := 8
	r.CustomName, off = getBoundedString(buf, off, MaxCustomNameLen)
	r.CustomID, off = getBoundedString(buf, off, MaxCustomIDLen)
	r.Responsible, _ = getBoundedString(buf, off, MaxResponsibleLen)

	return r, nil
}

func putBoundedString(buf []byte, off int, s string, maxLen int) int {
	buf[off] = byte(len(s))
	copy(buf[off+1:off+1+maxLen], s)

	return off + 1 + maxLen
}

func getBoundedString(buf []byte, off int, maxLen int) (string, int) {
	n := int(buf[off])
	if n > maxLen {
		n = maxLen
	}

	s := string(buf[off+1 : off+1+n])

	return s, off + 1 + maxLen
}
