package middleware

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
)

// Input validation for the status API

var (
	findingIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)
	runIDPattern     = regexp.MustCompile(`^[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}$`)
	diffNamePattern  = regexp.MustCompile(`^[A-Za-z0-9._-]+\.diff$`)
)

// ValidateFindingID checks a finding id from a URL or query string.
func ValidateFindingID(id string) error {
	if id == "" {
		return fmt.Errorf("finding ID cannot be empty")
	}
	if !findingIDPattern.MatchString(id) {
		return fmt.Errorf("invalid finding ID format (alphanumeric, dot, dash, underscore only, max 64 chars)")
	}
	return nil
}

// ValidateRunID checks a run id, a lower-case UUID. Empty is allowed.
func ValidateRunID(id string) error {
	if id == "" {
		return nil
	}
	if !runIDPattern.MatchString(id) {
		return fmt.Errorf("invalid run ID format")
	}
	return nil
}

// ValidateDiffName checks a diff artifact name: a single path element
// ending in .diff.
func ValidateDiffName(name string) error {
	if name == "" {
		return fmt.Errorf("diff name cannot be empty")
	}
	if strings.Contains(name, "..") || !diffNamePattern.MatchString(name) {
		return fmt.Errorf("invalid diff name")
	}
	return nil
}

// ValidateRelativePath validates a project-relative file path.
func ValidateRelativePath(p string) error {
	if p == "" {
		return nil
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if path.IsAbs(p) {
		return fmt.Errorf("absolute paths are not allowed")
	}
	cleaned := path.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("path traversal detected")
	}
	dangerous := []string{"$(", "`", "&", "|", ";", "\n", "\r", "\x00"}
	for _, d := range dangerous {
		if strings.Contains(p, d) {
			return fmt.Errorf("invalid characters in path")
		}
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}

// ParseLimit parses a pagination limit, defaulting to 20 and capping at 200.
func ParseLimit(raw string) (int, error) {
	if raw == "" {
		return 20, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return ValidateLimit(n), nil
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 200 {
		return 200
	}
	return limit
}
