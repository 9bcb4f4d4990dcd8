package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/automaton-fix/internal/domain/patches"
)

func setupProject(t *testing.T, files map[string]string) *Guard {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	g, err := NewGuard(root)
	require.NoError(t, err)
	return g
}

func readFile(t *testing.T, g *Guard, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(g.Root(), filepath.FromSlash(name)))
	require.NoError(t, err)
	return string(data)
}

func TestGuard_WriteThenRestore(t *testing.T) {
	g := setupProject(t, map[string]string{"src/Foo.java": "class Foo {}\n"})

	e, err := g.Open("src/Foo.java")
	require.NoError(t, err)
	assert.Equal(t, "class Foo {}\n", e.Original())

	require.NoError(t, e.Write("class Foo { int x; }\n"))
	assert.Equal(t, "class Foo { int x; }\n", readFile(t, g, "src/Foo.java"))

	require.NoError(t, e.Restore())
	assert.Equal(t, "class Foo {}\n", readFile(t, g, "src/Foo.java"))
	assert.False(t, g.Active())
}

func TestGuard_RestoreIsIdempotent(t *testing.T) {
	g := setupProject(t, map[string]string{"a.txt": "one"})

	e, err := g.Open("a.txt")
	require.NoError(t, err)
	require.NoError(t, e.Write("two"))
	require.NoError(t, e.Restore())
	require.NoError(t, e.Restore())

	assert.Equal(t, "one", readFile(t, g, "a.txt"))
	assert.Error(t, e.Write("three"))
	assert.Equal(t, "one", readFile(t, g, "a.txt"))
}

func TestGuard_RefusesSecondOpen(t *testing.T) {
	g := setupProject(t, map[string]string{"a.txt": "a", "b.txt": "b"})

	e, err := g.Open("a.txt")
	require.NoError(t, err)

	_, err = g.Open("b.txt")
	assert.True(t, errors.Is(err, patches.ErrEditActive))

	require.NoError(t, e.Restore())
	e2, err := g.Open("b.txt")
	require.NoError(t, err)
	require.NoError(t, e2.Restore())
}

func TestGuard_RejectsPathsOutsideRoot(t *testing.T) {
	g := setupProject(t, map[string]string{"a.txt": "a"})

	for _, p := range []string{"../escape.txt", "src/../../x", "/etc/passwd", ""} {
		_, err := g.Open(p)
		assert.True(t, errors.Is(err, patches.ErrOutsideRoot), p)
	}
	assert.False(t, g.Active())
}

func TestGuard_RejectsSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	outside := t.TempDir()
	target := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(target, []byte("s"), 0o644))

	g := setupProject(t, nil)
	require.NoError(t, os.Symlink(target, filepath.Join(g.Root(), "link.txt")))

	_, err := g.Open("link.txt")
	assert.True(t, errors.Is(err, patches.ErrOutsideRoot))
}

func TestGuard_RestoresOnPanic(t *testing.T) {
	g := setupProject(t, map[string]string{"a.txt": "original"})

	func() {
		defer func() { _ = recover() }()
		e, err := g.Open("a.txt")
		require.NoError(t, err)
		defer e.Restore()
		require.NoError(t, e.Write("candidate"))
		panic("boom")
	}()

	assert.Equal(t, "original", readFile(t, g, "a.txt"))
	assert.False(t, g.Active())
}

func TestGuard_PreservesFileMode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix modes only")
	}
	g := setupProject(t, map[string]string{"run.sh": "#!/bin/sh\n"})
	p := filepath.Join(g.Root(), "run.sh")
	require.NoError(t, os.Chmod(p, 0o755))

	e, err := g.Open("run.sh")
	require.NoError(t, err)
	require.NoError(t, e.Write("#!/bin/sh\necho hi\n"))
	require.NoError(t, e.Restore())

	info, err := os.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestGuard_NoTempFilesLeft(t *testing.T) {
	g := setupProject(t, map[string]string{"a.txt": "a"})

	e, err := g.Open("a.txt")
	require.NoError(t, err)
	require.NoError(t, e.Write("b"))
	require.NoError(t, e.Restore())

	entries, err := os.ReadDir(g.Root())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].Name())
}
