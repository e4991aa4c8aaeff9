package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_JoinsChunksInOrder(t *testing.T) {
	s := NewMemoryStore()
	a, err := s.Materialize("audio/ogg", [][]byte{[]byte("abc"), nil, []byte("de")})
	require.NoError(t, err)

	assert.Equal(t, 5, a.Size)
	assert.Equal(t, "audio/ogg", a.MIMEType)
	assert.True(t, strings.HasPrefix(a.Handle, "mem://"))

	b, err := s.Bytes(a.Handle)
	require.NoError(t, err)
	assert.Equal(t, "abcde", string(b))

	require.NoError(t, s.Revoke(a))
	_, err = s.Bytes(a.Handle)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_DefaultsMIMEType(t *testing.T) {
	s := NewMemoryStore()
	a, err := s.Materialize("", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultMIMEType, a.MIMEType)
	assert.Equal(t, 0, a.Size)
}

func TestFileStore_Materialize(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, "recordings"))

	a, err := s.Materialize("audio/webm;codecs=opus", [][]byte{make([]byte, 12), make([]byte, 8)})
	require.NoError(t, err)
	assert.Equal(t, 20, a.Size)
	assert.True(t, strings.HasPrefix(a.Handle, "file://"))

	path, err := s.Path(a.Handle)
	require.NoError(t, err)
	assert.Equal(t, ".webm", filepath.Ext(path))
	assert.Contains(t, path, a.ID)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(20), info.Size())

	require.NoError(t, s.Revoke(a))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, s.Revoke(a), "second revoke is a no-op")
}

func TestFileStore_WriteFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	// a regular file where the directory should be
	s := NewFileStore(filepath.Join(blocker, "sub"))
	_, err := s.Materialize("audio/wav", [][]byte{[]byte("pcm")})
	assert.ErrorIs(t, err, ErrEncoding)
}

func TestFileStore_UnknownMIMEExtension(t *testing.T) {
	s := NewFileStore(t.TempDir())
	a, err := s.Materialize("audio/x-custom", [][]byte{[]byte("x")})
	require.NoError(t, err)
	path, _ := s.Path(a.Handle)
	assert.Equal(t, ".bin", filepath.Ext(path))
}

func TestPathFromHandle_Rejects(t *testing.T) {
	_, err := pathFromHandle("mem://abc")
	assert.ErrorIs(t, err, ErrNotFound)
}
