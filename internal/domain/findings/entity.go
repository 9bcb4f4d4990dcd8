package findings

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Verification tells how strongly an accepted patch was confirmed by revalidation.
type Verification string

const (
	// VerificationConfirmed: the finding was present before the patch and absent after.
	VerificationConfirmed Verification = "confirmed"
	// VerificationUnconfirmed: the analyzer reported the finding in neither scan,
	// so the patch was accepted on the build result alone.
	VerificationUnconfirmed Verification = "unconfirmed"
)

// Finding is a single analyzer report. ID is generated per analysis run and
// is not stable across runs; use Key for cross-run identity.
type Finding struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Explanation string     `json:"explanation"`
	Tags        string     `json:"tags"`
	Items       []Location `json:"items"`
}

// TextRange is the source span a finding points at. File is relative to the
// project root. Analyzers without line information (e.g. dependency scanners)
// leave the line fields at zero.
type TextRange struct {
	File        string `json:"file"`
	StartLine   int    `json:"startLine"`
	EndLine     int    `json:"endLine"`
	StartColumn int    `json:"startColumn"`
	EndColumn   int    `json:"endColumn"`
}

// Location is one affected place of a finding together with the patches
// accepted for it. The JSON key is "textrange"; "textRange" written by older
// tooling decodes into the same field.
type Location struct {
	TextRange TextRange     `json:"textrange"`
	Patches   []PatchRecord `json:"patches"`
}

// PatchRecord links an accepted attempt to its diff artifact.
type PatchRecord struct {
	Path         string       `json:"path"`
	Explanation  string       `json:"explanation"`
	Verification Verification `json:"verification,omitempty"`
	Attempt      int          `json:"attempt,omitempty"`
	Added        int          `json:"added,omitempty"`
	Deleted      int          `json:"deleted,omitempty"`
	URL          string       `json:"url,omitempty"`
	CreatedAt    time.Time    `json:"createdAt,omitzero"`
}

// Key returns the content-derived identity of the finding.
func (f Finding) Key() IdentityKey {
	return KeyOf(f.Name, f.Explanation, f.Tags)
}

// InFile reports whether any location of f points at file.
func (f Finding) InFile(file string) bool {
	want := NormalizePath(file)
	for _, it := range f.Items {
		if NormalizePath(it.TextRange.File) == want {
			return true
		}
	}
	return false
}

// HasRange reports whether the range carries usable line information.
func (r TextRange) HasRange() bool {
	return r.StartLine > 0 && r.EndLine > 0
}

// Validate checks the invariants a location must hold before it can be patched.
func (l Location) Validate() error {
	r := l.TextRange
	if strings.TrimSpace(r.File) == "" {
		return fmt.Errorf("location has no file")
	}
	if !r.HasRange() {
		return fmt.Errorf("location %s has no line range", r.File)
	}
	if r.StartLine > r.EndLine {
		return fmt.Errorf("location %s: startLine %d > endLine %d", r.File, r.StartLine, r.EndLine)
	}
	return nil
}

// AppendPatch adds a record. Existing records are never touched.
func (l *Location) AppendPatch(rec PatchRecord) {
	l.Patches = append(l.Patches, rec)
}

// Normalize fills nil slices so the ledger always encodes "patches": [].
func Normalize(list []Finding) []Finding {
	if list == nil {
		return []Finding{}
	}
	for i := range list {
		if list[i].Items == nil {
			list[i].Items = []Location{}
		}
		for j := range list[i].Items {
			if list[i].Items[j].Patches == nil {
				list[i].Items[j].Patches = []PatchRecord{}
			}
		}
	}
	return list
}

// NormalizePath turns an analyzer-reported path into the slash-separated,
// cleaned form used for comparisons.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.ToSlash(p)
	p = path.Clean(p)
	return strings.TrimPrefix(p, "./")
}

// CountPatches returns the number of patch records in the ledger.
func CountPatches(list []Finding) int {
	n := 0
	for _, f := range list {
		for _, it := range f.Items {
			n += len(it.Patches)
		}
	}
	return n
}
