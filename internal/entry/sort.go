package entry

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// SortField selects the column a listing is ordered by.
type SortField string

const (
	SortByName     SortField = "name"
	SortBySize     SortField = "size"
	SortByModified SortField = "modified"
	SortByKind     SortField = "kind"
)

// SortOrder is the sort direction.
type SortOrder string

const (
	Ascending  SortOrder = "asc"
	Descending SortOrder = "desc"
)

// ParseSortField returns the field named s, defaulting to name.
func ParseSortField(s string) SortField {
	switch SortField(s) {
	case SortBySize, SortByModified, SortByKind:
		return SortField(s)
	}
	return SortByName
}

// Sort returns a sorted copy of entries. ".." is always first and
// directories precede files unless field is SortByKind.
func Sort(entries []FileEntry, field SortField, order SortOrder) []FileEntry {
	out := make([]FileEntry, len(entries))
	copy(out, entries)

	// Collators keep internal buffers, so each call gets its own.
	col := collate.New(language.Und, collate.IgnoreCase, collate.Numeric)
	byName := func(a, b FileEntry) int {
		if c := col.CompareString(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	}

	cmp := func(a, b FileEntry) int {
		switch field {
		case SortBySize:
			if a.Size != b.Size {
				if a.Size < b.Size {
					return -1
				}
				return 1
			}
		case SortByModified:
			if !a.LastModified.Equal(b.LastModified) {
				if a.LastModified.Before(b.LastModified) {
					return -1
				}
				return 1
			}
		case SortByKind:
			if c := strings.Compare(a.KindLabel(), b.KindLabel()); c != 0 {
				return c
			}
		}
		return byName(a, b)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IsParent() != b.IsParent() {
			return a.IsParent()
		}
		if field != SortByKind && a.IsDir() != b.IsDir() {
			return a.IsDir()
		}
		c := cmp(a, b)
		if order == Descending {
			return c > 0
		}
		return c < 0
	})
	return out
}

// Filter keeps entries whose name contains query, ignoring case.
// The ".." entry is always kept.
func Filter(entries []FileEntry, query string) []FileEntry {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		out := make([]FileEntry, len(entries))
		copy(out, entries)
		return out
	}
	out := make([]FileEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsParent() || strings.Contains(strings.ToLower(e.Name), query) {
			out = append(out, e)
		}
	}
	return out
}

// HideHidden drops dot files, keeping "..".
func HideHidden(entries []FileEntry) []FileEntry {
	out := make([]FileEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsHidden() {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ViewOptions controls how a raw listing is presented.
type ViewOptions struct {
	ShowHidden bool
	Filter     string
	Field      SortField
	Order      SortOrder
	// WithParent prepends the synthetic ".." row.
	WithParent bool
}

// View applies hidden-file visibility, then filtering, then sorting.
func View(entries []FileEntry, opts ViewOptions) []FileEntry {
	list := WithoutParent(entries)
	if opts.WithParent {
		list = append([]FileEntry{Parent()}, list...)
	}
	if !opts.ShowHidden {
		list = HideHidden(list)
	}
	list = Filter(list, opts.Filter)
	return Sort(list, opts.Field, opts.Order)
}
