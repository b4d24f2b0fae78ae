// Package region decides whether an order's shipping address falls inside an
// excluded delivery area.
package region

import "strings"

// Filter holds an immutable exclusion list of region substrings.
type Filter struct {
	entries []string
}

// NewFilter copies the entries, dropping blank ones. Matching is literal and
// case-sensitive; entries are not otherwise normalized.
func NewFilter(entries []string) *Filter {
	kept := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e) == "" {
			continue
		}
		kept = append(kept, e)
	}
	return &Filter{entries: kept}
}

// IsExcluded reports whether any exclusion entry is a substring of region.
func (f *Filter) IsExcluded(region string) bool {
	_, ok := f.Match(region)
	return ok
}

// Match returns the first entry contained in region.
func (f *Filter) Match(region string) (string, bool) {
	if f == nil {
		return "", false
	}
	for _, e := range f.entries {
		if strings.Contains(region, e) {
			return e, true
		}
	}
	return "", false
}

func (f *Filter) Entries() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.entries))
	copy(out, f.entries)
	return out
}

// IsExcluded is the list form of Filter.IsExcluded.
func IsExcluded(region string, exclusions []string) bool {
	return NewFilter(exclusions).IsExcluded(region)
}
