package kvstore

// Build-time limits. The defaults below match the commonly quoted GENIVI
// persistence-common-object constants and can be overridden per-process
// via LoadLimits (config.go).
const (
	// DefaultKeyMax is K_max: the maximum key length in bytes.
	DefaultKeyMax = 128

	// DefaultValueMax is V_max: the maximum value length in bytes.
	DefaultValueMax = 16384

	// DefaultTableCapacity is C: buckets per hash table.
	DefaultTableCapacity = 512

	// DefaultLoadFactor is the fraction of a table's buckets that may be
	// used (or tombstoned) before a new table is chained on.
	DefaultLoadFactor = 0.75

	// DefaultMaxHandles is H_max: concurrent open handles, process-wide.
	DefaultMaxHandles = 64

	// maxPathLen bounds Open's path argument.
	maxPathLen = 255
)

// limits holds the resolved, possibly overridden, runtime limits used by
// a single process. A zero value is invalid; use defaultLimits().
type limits struct {
	keyMax        int
	valueMax      int
	tableCapacity int
	loadFactor    float64
	maxHandles    int
}

func defaultLimits() limits {
	return limits{
		keyMax:        DefaultKeyMax,
		valueMax:      DefaultValueMax,
		tableCapacity: DefaultTableCapacity,
		loadFactor:    DefaultLoadFactor,
		maxHandles:    DefaultMaxHandles,
	}
}

// activeLimits is the process-wide limits in effect. It is set once at
// package init from defaults, and may be overridden by LoadLimits before
// the first Open call. It is not safe to change after any handle is open.
var activeLimits = defaultLimits()
