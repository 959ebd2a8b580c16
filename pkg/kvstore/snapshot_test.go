package kvstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ExportImportSnapshot_RoundTrips(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "src.db")

	src, err := Open(dbPath, FlagCreate)
	require.NoError(t, err)
	defer Close(src)

	_, err = WriteKey(src, []byte("a"), []byte("1"))
	require.NoError(t, err)
	_, err = WriteKey(src, []byte("b"), []byte("2"))
	require.NoError(t, err)

	snapPath := filepath.Join(t.TempDir(), "snap.ndjson")
	require.NoError(t, ExportSnapshot(src, snapPath))

	data, err := os.ReadFile(snapPath)
	require.NoError(t, err)

	dstPath := filepath.Join(t.TempDir(), "dst.db")
	dst, err := Open(dstPath, FlagCreate)
	require.NoError(t, err)
	defer Close(dst)

	require.NoError(t, ImportSnapshot(dst, data))

	size, err := GetKeySize(dst, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	keys, err := GetKeysList(dst)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}
