package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bryanwahyu/automaton-fix/internal/domain/findings"
	"github.com/bryanwahyu/automaton-fix/internal/infra/workspace"
)

// File is the findings JSON file used as the provenance ledger.
type File struct {
	Path string

	mu sync.Mutex
}

func NewFile(path string) *File {
	return &File{Path: path}
}

// Load reads and normalizes the findings list.
func (f *File) Load(ctx context.Context) ([]findings.Finding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ReadFile(f.Path)
}

// Save rewrites the ledger atomically with 4-space indentation.
func (f *File) Save(ctx context.Context, list []findings.Finding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return WriteFile(f.Path, list)
}

// ReadFile decodes one findings file.
func ReadFile(path string) ([]findings.Finding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list []findings.Finding
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return findings.Normalize(list), nil
}

// WriteFile encodes list and replaces path atomically.
func WriteFile(path string, list []findings.Finding) error {
	data, err := json.MarshalIndent(findings.Normalize(list), "", "    ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return workspace.WriteFileAtomic(path, data, mode)
}
