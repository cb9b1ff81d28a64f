package bridge

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"panesync/internal/entry"
)

// localSession serves the machine's own filesystem.
type localSession struct {
	startDir string
}

func dialLocal(_ context.Context, params OpenParams) (Session, error) {
	return &localSession{startDir: params.StartDir}, nil
}

func (s *localSession) Kind() Kind { return KindLocal }

func (s *localSession) Home(context.Context) (string, error) {
	if s.startDir != "" {
		return filepath.ToSlash(s.startDir), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(home), nil
}

func osPath(p string) string { return filepath.FromSlash(p) }

func (s *localSession) List(ctx context.Context, dir string) ([]entry.FileEntry, error) {
	dirEntries, err := os.ReadDir(osPath(dir))
	if err != nil {
		return nil, err
	}

	files := make([]entry.FileEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := de.Info()
		if err != nil {
			// Vanished between readdir and lstat.
			continue
		}
		files = append(files, localEntry(filepath.Join(osPath(dir), de.Name()), info))
	}
	return files, nil
}

func (s *localSession) Stat(_ context.Context, p string) (entry.FileEntry, error) {
	info, err := os.Lstat(osPath(p))
	if err != nil {
		return entry.FileEntry{}, err
	}
	return localEntry(osPath(p), info), nil
}

// localEntry converts an Lstat result, resolving symlink targets.
func localEntry(full string, info fs.FileInfo) entry.FileEntry {
	e := entry.FileEntry{
		Name:         info.Name(),
		Type:         entry.TypeFile,
		Size:         info.Size(),
		LastModified: info.ModTime(),
		Permissions:  info.Mode().String(),
	}
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		e.Type = entry.TypeSymlink
		if target, err := os.Readlink(full); err == nil {
			e.LinkTarget = filepath.ToSlash(target)
		}
		if st, err := os.Stat(full); err == nil {
			e.LinkIsDir = st.IsDir()
		}
	case info.IsDir():
		e.Type = entry.TypeDirectory
		e.Size = 0
	}
	return e
}

func (s *localSession) Mkdir(_ context.Context, p string) error {
	return os.Mkdir(osPath(p), 0755)
}

func (s *localSession) Remove(_ context.Context, p string, recursive bool) error {
	if recursive {
		if _, err := os.Lstat(osPath(p)); err != nil {
			return err
		}
		return os.RemoveAll(osPath(p))
	}
	return os.Remove(osPath(p))
}

func (s *localSession) Rename(_ context.Context, from, to string) error {
	return os.Rename(osPath(from), osPath(to))
}

func (s *localSession) Chmod(_ context.Context, p string, mode os.FileMode) error {
	return os.Chmod(osPath(p), mode)
}

func (s *localSession) OpenReader(_ context.Context, p string) (io.ReadCloser, error) {
	f, err := os.Open(osPath(p))
	if err != nil {
		return nil, err
	}
	if st, err := f.Stat(); err == nil && st.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory", p)
	}
	return f, nil
}

func (s *localSession) OpenWriter(_ context.Context, p string) (io.WriteCloser, error) {
	return os.OpenFile(osPath(p), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
}

func (s *localSession) Close() error { return nil }
