// Package entry defines the directory listing model shared by both panes.
package entry

import (
	"path"
	"strings"
	"time"
)

// ParentName is the name of the synthetic parent-directory row.
const ParentName = ".."

// Type is the kind of a directory entry.
type Type int

const (
	TypeFile Type = iota
	TypeDirectory
	TypeSymlink
)

func (t Type) String() string {
	switch t {
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	default:
		return "file"
	}
}

// Side identifies one of the two panes.
type Side string

const (
	Left  Side = "left"
	Right Side = "right"
)

// Opposite returns the other pane.
func (s Side) Opposite() Side {
	if s == Left {
		return Right
	}
	return Left
}

// FileEntry is an immutable snapshot of one directory entry.
type FileEntry struct {
	Name         string
	Type         Type
	Size         int64
	LastModified time.Time
	Permissions  string
	LinkTarget   string
	// LinkIsDir reports whether a symlink resolves to a directory.
	LinkIsDir bool
}

// Parent returns the synthetic ".." entry.
func Parent() FileEntry {
	return FileEntry{Name: ParentName, Type: TypeDirectory}
}

// IsParent reports whether e is the synthetic ".." entry.
func (e FileEntry) IsParent() bool {
	return e.Name == ParentName
}

// IsDir reports whether e is a directory or a symlink to one.
func (e FileEntry) IsDir() bool {
	return e.Type == TypeDirectory || (e.Type == TypeSymlink && e.LinkIsDir)
}

// IsHidden reports whether e is a dot file.
func (e FileEntry) IsHidden() bool {
	return !e.IsParent() && strings.HasPrefix(e.Name, ".")
}

// KindLabel returns the label used by kind ordering.
func (e FileEntry) KindLabel() string {
	if e.IsDir() {
		return "directory"
	}
	if e.Type == TypeSymlink {
		return "symlink"
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(e.Name), "."))
	if ext == "" || ext == strings.ToLower(strings.TrimPrefix(e.Name, ".")) {
		return "file"
	}
	return ext
}

// WithoutParent returns a copy of entries with any ".." entry removed.
func WithoutParent(entries []FileEntry) []FileEntry {
	out := make([]FileEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsParent() || e.Name == "." {
			continue
		}
		out = append(out, e)
	}
	return out
}
