package kvstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Open_WriteRead_RoundTrips(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ldb.db")

	h, err := Open(dbPath, FlagCreate)
	require.NoError(t, err)
	defer Close(h)

	_, err = WriteKey(h, []byte("hello"), []byte("world"))
	require.NoError(t, err)

	size, err := GetKeySize(h, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, size)

	buf := make([]byte, size)
	n, err := ReadKey(h, []byte("hello"), buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "world", string(buf))
}

func Test_ReadKey_Missing_ReturnsErrNotFound(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ldb.db")

	h, err := Open(dbPath, FlagCreate)
	require.NoError(t, err)
	defer Close(h)

	_, err = GetKeySize(h, []byte("absent"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func Test_Open_WithoutCreate_OnMissingFile_ReturnsErrNotFound(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "never-created.db")

	_, err := Open(dbPath, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func Test_DeleteKey_Twice_SecondCallIsNoop(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ldb.db")

	h, err := Open(dbPath, FlagCreate)
	require.NoError(t, err)
	defer Close(h)

	_, err = WriteKey(h, []byte("k"), []byte("v"))
	require.NoError(t, err)

	require.NoError(t, DeleteKey(h, []byte("k")))
	assert.NoError(t, DeleteKey(h, []byte("k")), "delete must be idempotent")
}

func Test_DeleteKey_NeverWritten_IsNoop(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ldb.db")

	h, err := Open(dbPath, FlagCreate)
	require.NoError(t, err)
	defer Close(h)

	assert.NoError(t, DeleteKey(h, []byte("absent")), "deleting a never-written key must succeed")

	_, err = GetKeySize(h, []byte("absent"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func Test_WriteKey_ThenDelete_KeyNoLongerListed(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ldb.db")

	h, err := Open(dbPath, FlagCreate)
	require.NoError(t, err)
	defer Close(h)

	_, err = WriteKey(h, []byte("a"), []byte("1"))
	require.NoError(t, err)
	_, err = WriteKey(h, []byte("b"), []byte("2"))
	require.NoError(t, err)

	require.NoError(t, DeleteKey(h, []byte("a")))

	keys, err := GetKeysList(h)
	require.NoError(t, err)
	assert.ElementsMatch(t, [][]byte{[]byte("b")}, keys)
}

func Test_GetKeysList_DedupsAcrossCacheAndFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ldb.db")

	h, err := Open(dbPath, FlagCreate)
	require.NoError(t, err)
	defer Close(h)

	_, err = WriteKey(h, []byte("dup"), []byte("v1"))
	require.NoError(t, err)
	_, err = WriteKey(h, []byte("dup"), []byte("v2"))
	require.NoError(t, err)

	keys, err := GetKeysList(h)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	size, err := GetKeySize(h, []byte("dup"))
	require.NoError(t, err)
	assert.Equal(t, 2, size, "last write must win")
}

func Test_WriteKey_RejectsOversizedKeyAndValue(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ldb.db")

	h, err := Open(dbPath, FlagCreate)
	require.NoError(t, err)
	defer Close(h)

	oversizedKey := make([]byte, activeLimits.keyMax+1)
	_, err = WriteKey(h, oversizedKey, []byte("v"))
	assert.ErrorIs(t, err, ErrBadArg)

	oversizedValue := make([]byte, activeLimits.valueMax+1)
	_, err = WriteKey(h, []byte("k"), oversizedValue)
	assert.ErrorIs(t, err, ErrBadArg)

	_, err = WriteKey(h, nil, []byte("v"))
	assert.ErrorIs(t, err, ErrBadArg, "empty key must be rejected")
}

func Test_ReadKey_UndersizedBuffer_ReturnsErrBadArg(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ldb.db")

	h, err := Open(dbPath, FlagCreate)
	require.NoError(t, err)
	defer Close(h)

	_, err = WriteKey(h, []byte("k"), []byte("0123456789"))
	require.NoError(t, err)

	buf := make([]byte, 2)
	_, err = ReadKey(h, []byte("k"), buf)
	assert.ErrorIs(t, err, ErrBadArg)
}

func Test_WriteKey_NotVisibleToOtherHandleUntilClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "shared.db")

	h1, err := Open(dbPath, FlagCreate)
	require.NoError(t, err)

	_, err = WriteKey(h1, []byte("k"), []byte("from-h1"))
	require.NoError(t, err)

	h2, err := Open(dbPath, 0)
	require.NoError(t, err)

	_, err = GetKeySize(h2, []byte("k"))
	assert.ErrorIs(t, err, ErrNotFound, "another handle must not see a write before the writer closes")

	require.NoError(t, Close(h1))

	hd2, err := reg.get(int32(h2))
	require.NoError(t, err)
	require.NoError(t, hd2.remapForTest())

	size, err := GetKeySize(h2, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, len("from-h1"), size)

	require.NoError(t, Close(h2))
}

func Test_WriteKey_VisibleToSameHandleImmediately(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "wb.db")

	h, err := Open(dbPath, FlagCreate)
	require.NoError(t, err)
	defer Close(h)

	_, err = WriteKey(h, []byte("k"), []byte("buffered"))
	require.NoError(t, err)

	size, err := GetKeySize(h, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, len("buffered"), size)
}

func Test_Open_RejectsBeyondMaxHandles(t *testing.T) {
	saved := activeLimits
	activeLimits.maxHandles = 2
	defer func() { activeLimits = saved }()

	dir := t.TempDir()

	h1, err := Open(filepath.Join(dir, "a.db"), FlagCreate)
	require.NoError(t, err)
	defer Close(h1)

	h2, err := Open(filepath.Join(dir, "b.db"), FlagCreate)
	require.NoError(t, err)
	defer Close(h2)

	_, err = Open(filepath.Join(dir, "c.db"), FlagCreate)
	assert.ErrorIs(t, err, ErrNoHandle)
}

func Test_Close_Twice_SecondCallIsNoop(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ldb.db")

	h, err := Open(dbPath, FlagCreate)
	require.NoError(t, err)

	require.NoError(t, Close(h))
	assert.NoError(t, Close(h), "closing an already-closed handle must not error")
}

func Test_OperationAfterClose_ReturnsErrNoHandle(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ldb.db")

	h, err := Open(dbPath, FlagCreate)
	require.NoError(t, err)
	require.NoError(t, Close(h))

	_, err = GetKeySize(h, []byte("k"))
	assert.ErrorIs(t, err, ErrNoHandle)
}

func Test_ManyHashTables_ChainGrowsAndRemainsReadable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "big.db")

	h, err := Open(dbPath, FlagCreate)
	require.NoError(t, err)

	const n = DefaultTableCapacity * 3

	for i := 0; i < n; i++ {
		key := []byte{byte(i), byte(i >> 8), byte(i >> 16)}
		_, err := WriteKey(h, key, []byte("v"))
		require.NoError(t, err)
	}

	require.NoError(t, Close(h))

	h, err = Open(dbPath, 0)
	require.NoError(t, err)
	defer Close(h)

	keys, err := GetKeysList(h)
	require.NoError(t, err)
	assert.Len(t, keys, n)
}

// remapForTest exposes fileState.remap to the test package without
// widening the public API: it lets a reader re-check the file after
// another handle's Close, mirroring how a real second process would
// re-stat the file on its next operation.
func (h *handle) remapForTest() error {
	return h.file.remap()
}
