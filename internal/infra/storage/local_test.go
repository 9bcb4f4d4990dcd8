package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMirror struct {
	names []string
	err   error
}

func (m *recordingMirror) Upload(ctx context.Context, name string, content []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.names = append(m.names, name)
	return "http://minio.local/patches/" + name, nil
}

func TestLocalStore_NeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocal(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()

	a, err := s.Save(ctx, "Foo_patch_48213.diff", []byte("one"))
	require.NoError(t, err)
	b, err := s.Save(ctx, "Foo_patch_48213.diff", []byte("two"))
	require.NoError(t, err)

	assert.Equal(t, "Foo_patch_48213.diff", a.Path)
	assert.Equal(t, "Foo_patch_48213_v2.diff", b.Path)

	first, err := os.ReadFile(filepath.Join(dir, a.Path))
	require.NoError(t, err)
	assert.Equal(t, "one", string(first))

	second, err := s.Read(b.Path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(second))
}

func TestLocalStore_Mirror(t *testing.T) {
	m := &recordingMirror{}
	s, err := NewLocal(t.TempDir(), m)
	require.NoError(t, err)

	art, err := s.Save(context.Background(), "A_patch_1.diff", []byte("d"))
	require.NoError(t, err)
	assert.Equal(t, "http://minio.local/patches/A_patch_1.diff", art.URL)
	assert.Equal(t, []string{"A_patch_1.diff"}, m.names)
}

func TestLocalStore_MirrorFailureKeepsLocal(t *testing.T) {
	s, err := NewLocal(t.TempDir(), &recordingMirror{err: errors.New("unreachable")})
	require.NoError(t, err)

	art, err := s.Save(context.Background(), "A_patch_1.diff", []byte("d"))
	require.NoError(t, err)
	assert.Equal(t, "A_patch_1.diff", art.Path)
	assert.Empty(t, art.URL)
}

func TestLocalStore_RejectsPathNames(t *testing.T) {
	s, err := NewLocal(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = s.Save(context.Background(), "../escape.diff", []byte("x"))
	assert.Error(t, err)

	_, err = s.Read("../escape.diff")
	assert.Error(t, err)
}

func TestLocalStore_Remove(t *testing.T) {
	s, err := NewLocal(t.TempDir(), nil)
	require.NoError(t, err)

	art, err := s.Save(context.Background(), "A_patch_1.diff", []byte("d"))
	require.NoError(t, err)
	require.NoError(t, s.Remove(context.Background(), art.Path))

	_, err = s.Read(art.Path)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Error(t, s.Remove(context.Background(), "../A_patch_1.diff"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/x-diff", contentType("a.diff"))
	assert.Equal(t, "application/json", contentType("findings.json"))
	assert.Equal(t, "application/octet-stream", contentType("blob"))
}
