package findings

import "strings"

// IdentityKey identifies "the same issue" across independent analyzer runs.
// Generated finding ids are deliberately not part of it.
type IdentityKey struct {
	Name        string
	Explanation string
	Tags        string
}

// KeyOf builds the lower-cased key for the given finding fields. Whitespace
// is significant; the analyzer parsers trim report text on the way in.
func KeyOf(name, explanation, tags string) IdentityKey {
	return IdentityKey{
		Name:        strings.ToLower(name),
		Explanation: strings.ToLower(explanation),
		Tags:        strings.ToLower(tags),
	}
}

func (k IdentityKey) String() string {
	return k.Name + "|" + k.Tags
}

// Comparison is the result of Compare for one file.
type Comparison struct {
	File string

	// Removed holds keys present before and absent after.
	Removed []IdentityKey
	// Persisting holds keys present in both sets.
	Persisting []IdentityKey
	// Introduced holds keys only present after; a patch that introduces one
	// is treated as a regression.
	Introduced []IdentityKey

	// BeforeIDs maps each before-key to the generated ids carrying it.
	BeforeIDs map[IdentityKey][]string

	before map[IdentityKey]struct{}
	after  map[IdentityKey]struct{}
}

// Compare projects both finding sets onto (IdentityKey, id) pairs for file and
// partitions the before-keys into removed and persisting. It runs in linear
// time and does not depend on id values or ordering.
func Compare(before, after []Finding, file string) Comparison {
	c := Comparison{
		File:      NormalizePath(file),
		BeforeIDs: make(map[IdentityKey][]string),
		before:    make(map[IdentityKey]struct{}),
		after:     make(map[IdentityKey]struct{}),
	}

	var beforeOrder []IdentityKey
	for _, f := range before {
		if !f.InFile(c.File) {
			continue
		}
		k := f.Key()
		if _, seen := c.before[k]; !seen {
			c.before[k] = struct{}{}
			beforeOrder = append(beforeOrder, k)
		}
		c.BeforeIDs[k] = append(c.BeforeIDs[k], f.ID)
	}

	var afterOrder []IdentityKey
	for _, f := range after {
		if !f.InFile(c.File) {
			continue
		}
		k := f.Key()
		if _, seen := c.after[k]; !seen {
			c.after[k] = struct{}{}
			afterOrder = append(afterOrder, k)
		}
	}

	for _, k := range beforeOrder {
		if _, ok := c.after[k]; ok {
			c.Persisting = append(c.Persisting, k)
		} else {
			c.Removed = append(c.Removed, k)
		}
	}
	for _, k := range afterOrder {
		if _, ok := c.before[k]; !ok {
			c.Introduced = append(c.Introduced, k)
		}
	}
	return c
}

// InBefore reports whether k was present in the before-set for the file.
func (c Comparison) InBefore(k IdentityKey) bool {
	_, ok := c.before[k]
	return ok
}

// InAfter reports whether k is present in the after-set for the file.
func (c Comparison) InAfter(k IdentityKey) bool {
	_, ok := c.after[k]
	return ok
}

// IsRemoved reports whether k was present before and is gone after.
func (c Comparison) IsRemoved(k IdentityKey) bool {
	return c.InBefore(k) && !c.InAfter(k)
}
