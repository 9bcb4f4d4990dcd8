package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bryanwahyu/automaton-fix/internal/domain/patches"
)

var errEditClosed = errors.New("edit already restored")

// Guard owns the project checkout. At most one Edit is open at any time.
type Guard struct {
	root string

	mu     sync.Mutex
	active *Edit
}

func NewGuard(root string) (*Guard, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", abs)
	}
	return &Guard{root: abs}, nil
}

func (g *Guard) Root() string { return g.root }

// Resolve maps a project-relative path to an absolute one, rejecting paths
// that escape the root either lexically or through symlinks.
func (g *Guard) Resolve(file string) (string, error) {
	if strings.TrimSpace(file) == "" {
		return "", fmt.Errorf("empty path: %w", patches.ErrOutsideRoot)
	}
	p := filepath.FromSlash(file)
	if !filepath.IsAbs(p) {
		p = filepath.Join(g.root, p)
	}
	p = filepath.Clean(p)
	if !g.contains(p) {
		return "", fmt.Errorf("%s: %w", file, patches.ErrOutsideRoot)
	}
	if resolved, err := filepath.EvalSymlinks(p); err == nil && !g.contains(resolved) {
		return "", fmt.Errorf("%s: %w", file, patches.ErrOutsideRoot)
	}
	return p, nil
}

// Rel returns the slash-separated project-relative form of an absolute path.
func (g *Guard) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(g.root, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func (g *Guard) contains(p string) bool {
	rel, err := filepath.Rel(g.root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// Open buffers file and returns the scoped edit. The caller must Restore it.
func (g *Guard) Open(file string) (patches.Edit, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active != nil {
		return nil, fmt.Errorf("open %s while %s is active: %w", file, g.active.file, patches.ErrEditActive)
	}
	abs, err := g.Resolve(file)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", file)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}

	e := &Edit{
		guard:    g,
		file:     file,
		path:     abs,
		mode:     info.Mode().Perm(),
		original: string(data),
	}
	g.active = e
	return e, nil
}

// Active reports whether an edit is currently open.
func (g *Guard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active != nil
}

func (g *Guard) release(e *Edit) {
	g.mu.Lock()
	if g.active == e {
		g.active = nil
	}
	g.mu.Unlock()
}

// Edit is one open modification of a single file.
type Edit struct {
	guard    *Guard
	file     string
	path     string
	mode     fs.FileMode
	original string

	mu       sync.Mutex
	written  bool
	restored bool
}

func (e *Edit) File() string     { return e.file }
func (e *Edit) Original() string { return e.original }

// Write replaces the file content with candidate.
func (e *Edit) Write(candidate string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.restored {
		return errEditClosed
	}
	e.written = true
	return writeAtomic(e.path, []byte(candidate), e.mode)
}

// Restore writes the original content back. Calling it again is a no-op.
// On failure the edit stays open so the caller can retry.
func (e *Edit) Restore() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.restored {
		return nil
	}
	if e.written {
		if err := writeAtomic(e.path, []byte(e.original), e.mode); err != nil {
			return fmt.Errorf("restore %s: %w", e.file, err)
		}
	}
	e.restored = true
	e.guard.release(e)
	return nil
}

// writeAtomic replaces path through a temp file in the same directory.
func writeAtomic(path string, data []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".autofix-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// WriteFileAtomic is the exported form used by the ledger and artifact store.
func WriteFileAtomic(path string, data []byte, mode fs.FileMode) error {
	return writeAtomic(path, data, mode)
}
