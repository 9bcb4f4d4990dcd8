package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/bryanwahyu/automaton-fix/internal/domain/patches"
)

// Uploader mirrors an artifact to remote storage.
type Uploader interface {
	Upload(ctx context.Context, name string, content []byte) (string, error)
}

// LocalStore writes diff artifacts into the output directory. Existing files
// are never overwritten: a taken name gets a _v<k> suffix.
type LocalStore struct {
	Dir    string
	Mirror Uploader
}

func NewLocal(dir string, mirror Uploader) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("output dir: %w", err)
	}
	return &LocalStore{Dir: dir, Mirror: mirror}, nil
}

func (s *LocalStore) Save(ctx context.Context, base string, content []byte) (patches.Artifact, error) {
	if base == "" || strings.ContainsAny(base, `/\`) || base == "." || base == ".." {
		return patches.Artifact{}, fmt.Errorf("invalid artifact name %q", base)
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	name := base
	for k := 2; ; k++ {
		err := s.create(name, content)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return patches.Artifact{}, err
		}
		if k > 1000 {
			return patches.Artifact{}, fmt.Errorf("no free name for %s", base)
		}
		name = fmt.Sprintf("%s_v%d%s", stem, k, ext)
	}

	art := patches.Artifact{Path: name}
	if s.Mirror != nil {
		url, err := s.Mirror.Upload(ctx, name, content)
		if err != nil {
			// the local file is the artifact of record; a failed mirror is not fatal
			log.Warn().Err(err).Str("artifact", name).Msg("mirror upload failed")
		} else {
			art.URL = url
		}
	}
	return art, nil
}

// Read returns the content of a stored artifact by name.
func (s *LocalStore) Read(name string) ([]byte, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return nil, fs.ErrNotExist
	}
	return os.ReadFile(filepath.Join(s.Dir, name))
}

// Remove deletes a stored artifact. The remote mirror copy, if any, is kept.
func (s *LocalStore) Remove(ctx context.Context, name string) error {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return os.Remove(filepath.Join(s.Dir, name))
}

func (s *LocalStore) create(name string, content []byte) error {
	p := filepath.Join(s.Dir, name)
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		_ = os.Remove(p)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(p)
		return err
	}
	return f.Close()
}
