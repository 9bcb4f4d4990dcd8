package vcs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHead(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "Foo.java"), []byte("class Foo {}\n"), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("src/Foo.java")
	require.NoError(t, err)
	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "ci", Email: "ci@example.com", When: time.Unix(0, 0)},
	})
	require.NoError(t, err)

	sha, err := Head(filepath.Join(dir, "src"))
	require.NoError(t, err)
	assert.Equal(t, hash.String(), sha)

	dirty, err := Dirty(dir)
	require.NoError(t, err)
	assert.Empty(t, dirty)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "Foo.java"), []byte("class Foo { }\n"), 0o644))
	dirty, err = Dirty(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/Foo.java"}, dirty)
}

func TestHead_NotRepository(t *testing.T) {
	_, err := Head(t.TempDir())
	assert.ErrorIs(t, err, ErrNotRepository)
}
