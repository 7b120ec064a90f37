package fs_test

import (
	"os"
	"path/filepath"
	"testing"

	shdefs "github.com/shde-project/shde/pkg/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReal_WriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")

	real := shdefs.NewReal()
	require.NoError(t, real.WriteFile(path, []byte("hello"), 0o644))

	data, err := real.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestReal_ExistsAndRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	real := shdefs.NewReal()

	ok, err := real.Exists(path)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, real.WriteFile(path, []byte("x"), 0o644))

	ok, err = real.Exists(path)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, real.Remove(path))

	ok, err = real.Exists(path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReal_Rename(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	real := shdefs.NewReal()

	require.NoError(t, real.WriteFile(src, []byte("x"), 0o644))
	require.NoError(t, real.Rename(src, dst))

	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err))

	data, err := real.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}
