package scanner

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bryanwahyu/automaton-fix/internal/domain/findings"
)

// PathResolver maps analyzer-reported paths to project-relative ones.
type PathResolver struct {
	Root string
	// SourceRoots are tried, in order, for paths reported relative to a
	// source root (SpotBugs sourcepath), e.g. "src/main/java".
	SourceRoots []string
	// Workdir is the container path the project is mounted at in docker mode.
	Workdir string
}

// Relative returns the project-relative slash path for p.
func (r PathResolver) Relative(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if r.Workdir != "" {
		if rest, ok := strings.CutPrefix(filepath.ToSlash(p), strings.TrimRight(r.Workdir, "/")+"/"); ok {
			return findings.NormalizePath(rest)
		}
	}
	if filepath.IsAbs(p) {
		if rel, err := filepath.Rel(r.Root, p); err == nil && !strings.HasPrefix(rel, "..") {
			return findings.NormalizePath(rel)
		}
		return findings.NormalizePath(p)
	}
	norm := findings.NormalizePath(p)
	if r.exists(norm) {
		return norm
	}
	for _, sr := range r.SourceRoots {
		cand := findings.NormalizePath(filepath.ToSlash(filepath.Join(sr, norm)))
		if r.exists(cand) {
			return cand
		}
	}
	return norm
}

// Apply rewrites every location of list in place.
func (r PathResolver) Apply(list []findings.Finding) {
	for i := range list {
		for j := range list[i].Items {
			tr := &list[i].Items[j].TextRange
			tr.File = r.Relative(tr.File)
		}
	}
}

func (r PathResolver) exists(rel string) bool {
	if r.Root == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(r.Root, filepath.FromSlash(rel)))
	return err == nil && !info.IsDir()
}

// ClassFile maps a Java source path to its compiled class under the maven
// layout, or "" when it is not a main or test source or was never compiled.
func (r PathResolver) ClassFile(javaFile string) string {
	norm := findings.NormalizePath(javaFile)
	if !strings.HasSuffix(norm, ".java") {
		return ""
	}
	var module, rest, out string
	switch {
	case strings.Contains(norm, "src/main/java/"):
		module, rest, _ = strings.Cut(norm, "src/main/java/")
		out = "target/classes/"
	case strings.Contains(norm, "src/test/java/"):
		module, rest, _ = strings.Cut(norm, "src/test/java/")
		out = "target/test-classes/"
	default:
		return ""
	}
	class := module + out + strings.TrimSuffix(rest, ".java") + ".class"
	if !r.exists(class) {
		return ""
	}
	return class
}
