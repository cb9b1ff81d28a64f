package entry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(entries []FileEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func sample() []FileEntry {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []FileEntry{
		{Name: "file10.txt", Type: TypeFile, Size: 30, LastModified: base.Add(3 * time.Hour)},
		{Name: "docs", Type: TypeDirectory, LastModified: base},
		{Name: "File2.txt", Type: TypeFile, Size: 10, LastModified: base.Add(time.Hour)},
		{Name: "link", Type: TypeSymlink, LinkIsDir: true, LastModified: base},
		{Name: ".hidden", Type: TypeFile, Size: 5, LastModified: base},
		{Name: "archive.zip", Type: TypeFile, Size: 20, LastModified: base.Add(2 * time.Hour)},
		Parent(),
	}
}

func TestSortByNameDirectoriesFirst(t *testing.T) {
	got := Sort(sample(), SortByName, Ascending)
	assert.Equal(t, []string{"..", "docs", "link", ".hidden", "archive.zip", "File2.txt", "file10.txt"}, names(got))
}

func TestSortDescendingKeepsParentAndDirectoriesFirst(t *testing.T) {
	got := Sort(sample(), SortBySize, Descending)
	require.Equal(t, "..", got[0].Name)
	assert.True(t, got[1].IsDir())
	assert.True(t, got[2].IsDir())
	assert.Equal(t, []string{"file10.txt", "archive.zip", "File2.txt", ".hidden"}, names(got[3:]))
}

func TestSortByModified(t *testing.T) {
	got := Sort(sample(), SortByModified, Ascending)
	assert.Equal(t, []string{"..", "docs", "link", ".hidden", "File2.txt", "archive.zip", "file10.txt"}, names(got))
}

func TestSortByKindDoesNotForceDirectoriesFirst(t *testing.T) {
	got := Sort(sample(), SortByKind, Ascending)
	assert.Equal(t, []string{"..", "docs", "link", ".hidden", "File2.txt", "file10.txt", "archive.zip"}, names(got))
}

func TestSortDoesNotMutateInput(t *testing.T) {
	in := sample()
	first := in[0].Name
	Sort(in, SortByName, Descending)
	assert.Equal(t, first, in[0].Name)
}

func TestFilterKeepsParent(t *testing.T) {
	got := Filter(sample(), "TXT")
	assert.ElementsMatch(t, []string{"file10.txt", "File2.txt", ".."}, names(got))
}

func TestViewAppliesHiddenBeforeFilter(t *testing.T) {
	entries := WithoutParent(sample())

	got := View(entries, ViewOptions{Filter: "hid", Field: SortByName, Order: Ascending, WithParent: true})
	assert.Equal(t, []string{".."}, names(got))

	got = View(entries, ViewOptions{ShowHidden: true, Filter: "hid", Field: SortByName, Order: Ascending})
	assert.Equal(t, []string{".hidden"}, names(got))
}

func TestWithoutParent(t *testing.T) {
	got := WithoutParent(sample())
	assert.NotContains(t, names(got), "..")
	assert.Len(t, got, 6)
}

func TestKindLabel(t *testing.T) {
	assert.Equal(t, "directory", FileEntry{Name: "x", Type: TypeDirectory}.KindLabel())
	assert.Equal(t, "symlink", FileEntry{Name: "x", Type: TypeSymlink}.KindLabel())
	assert.Equal(t, "file", FileEntry{Name: ".bashrc"}.KindLabel())
	assert.Equal(t, "file", FileEntry{Name: "Makefile"}.KindLabel())
	assert.Equal(t, "gz", FileEntry{Name: "a.tar.GZ"}.KindLabel())
}
