package bridge

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"os"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"

	"panesync/internal/entry"
)

const (
	ftpFileUnavailable = 550
	ftpCloseGrace      = 2 * time.Second
)

// ftpSession serves FTP and FTPS. A ServerConn handles one command at a time,
// so control operations are serialized on the primary connection and every
// stream gets a dedicated connection of its own.
type ftpSession struct {
	params OpenParams
	lock   chan struct{}
	conn   *ftp.ServerConn
	home   string
}

func dialFTP(ctx context.Context, params OpenParams) (Session, error) {
	conn, err := connectFTP(ctx, params)
	if err != nil {
		return nil, err
	}
	s := &ftpSession{params: params, lock: make(chan struct{}, 1), conn: conn, home: params.StartDir}
	if s.home == "" {
		if dir, err := conn.CurrentDir(); err == nil {
			s.home = dir
		} else {
			s.home = "/"
		}
	}
	return s, nil
}

// connectFTP dials and logs in one control connection.
func connectFTP(ctx context.Context, params OpenParams) (*ftp.ServerConn, error) {
	timeout := params.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	port := params.Port
	if port == 0 {
		port = 21
		if params.Kind == KindFTPS && params.TLSImplicit {
			port = 990
		}
	}
	address := net.JoinHostPort(params.Host, strconv.Itoa(port))

	opts := []ftp.DialOption{
		ftp.DialWithTimeout(timeout),
		ftp.DialWithContext(ctx),
	}
	if params.Kind == KindFTPS {
		tlsConfig := &tls.Config{
			InsecureSkipVerify: params.TLSSkipVerify,
			ServerName:         params.Host,
			MinVersion:         tls.VersionTLS12,
		}
		if params.TLSImplicit {
			opts = append(opts, ftp.DialWithTLS(tlsConfig))
		} else {
			opts = append(opts, ftp.DialWithExplicitTLS(tlsConfig))
		}
	}

	conn, err := ftp.Dial(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := conn.Login(params.Username, params.Password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("login failed: %w", err)
	}
	return conn, nil
}

func (s *ftpSession) acquire(ctx context.Context) error {
	select {
	case s.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ftpSession) release() { <-s.lock }

// do runs fn on the primary connection.
func (s *ftpSession) do(ctx context.Context, fn func(c *ftp.ServerConn) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	if s.conn == nil {
		return errors.New("not connected")
	}
	return fn(s.conn)
}

func (s *ftpSession) Kind() Kind { return s.params.Kind }

func (s *ftpSession) Home(context.Context) (string, error) { return s.home, nil }

func ftpEntry(e *ftp.Entry) entry.FileEntry {
	fe := entry.FileEntry{
		Name:         e.Name,
		Type:         entry.TypeFile,
		Size:         int64(e.Size),
		LastModified: e.Time,
		Permissions:  "-rw-r--r--",
	}
	switch e.Type {
	case ftp.EntryTypeFolder:
		fe.Type = entry.TypeDirectory
		fe.Size = 0
		fe.Permissions = "drwxr-xr-x"
	case ftp.EntryTypeLink:
		fe.Type = entry.TypeSymlink
		fe.LinkTarget = e.Target
		fe.Permissions = "lrwxrwxrwx"
	}
	return fe
}

func (s *ftpSession) List(ctx context.Context, dir string) ([]entry.FileEntry, error) {
	var files []entry.FileEntry
	err := s.do(ctx, func(c *ftp.ServerConn) error {
		entries, err := c.List(dir)
		if err != nil {
			return fmt.Errorf("failed to list directory: %w", err)
		}
		files = make([]entry.FileEntry, 0, len(entries))
		for _, e := range entries {
			if e.Name == "." || e.Name == ".." {
				continue
			}
			files = append(files, ftpEntry(e))
		}
		return nil
	})
	return files, err
}

// Stat lists the parent directory: plain FTP has no portable stat command.
func (s *ftpSession) Stat(ctx context.Context, p string) (entry.FileEntry, error) {
	dir, name := path.Split(path.Clean(p))
	if dir == "" {
		dir = "."
	}
	entries, err := s.List(ctx, dir)
	if err != nil {
		if isFTPCode(err, ftpFileUnavailable) {
			return entry.FileEntry{}, notExist("stat", p)
		}
		return entry.FileEntry{}, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e, nil
		}
	}
	return entry.FileEntry{}, notExist("stat", p)
}

func isFTPCode(err error, code int) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code == code
}

func (s *ftpSession) Mkdir(ctx context.Context, p string) error {
	return s.do(ctx, func(c *ftp.ServerConn) error { return c.MakeDir(p) })
}

func (s *ftpSession) Remove(ctx context.Context, p string, recursive bool) error {
	st, err := s.Stat(ctx, p)
	if err != nil {
		return err
	}
	return s.do(ctx, func(c *ftp.ServerConn) error {
		if st.Type != entry.TypeDirectory {
			return c.Delete(p)
		}
		if recursive {
			return c.RemoveDirRecur(p)
		}
		return c.RemoveDir(p)
	})
}

func (s *ftpSession) Rename(ctx context.Context, from, to string) error {
	return s.do(ctx, func(c *ftp.ServerConn) error { return c.Rename(from, to) })
}

func (s *ftpSession) Chmod(context.Context, string, os.FileMode) error {
	return fmt.Errorf("chmod over %s: %w", s.params.Kind, ErrUnsupported)
}

// ftpReader closes its response and its dedicated connection together.
type ftpReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
	once sync.Once
	err  error
}

func (r *ftpReader) Read(p []byte) (int, error) { return r.resp.Read(p) }

func (r *ftpReader) Close() error {
	r.once.Do(func() {
		r.err = r.resp.Close()
		_ = r.conn.Quit()
	})
	return r.err
}

func (s *ftpSession) OpenReader(ctx context.Context, p string) (io.ReadCloser, error) {
	conn, err := connectFTP(ctx, s.params)
	if err != nil {
		return nil, err
	}
	resp, err := conn.Retr(p)
	if err != nil {
		conn.Quit()
		if isFTPCode(err, ftpFileUnavailable) {
			return nil, notExist("open", p)
		}
		return nil, err
	}
	return &ftpReader{resp: resp, conn: conn}, nil
}

// ftpWriter feeds a STOR running on a dedicated connection. Close waits for
// the server to acknowledge the upload.
type ftpWriter struct {
	pw   *io.PipeWriter
	done chan error
	once sync.Once
	err  error
}

func (w *ftpWriter) Write(p []byte) (int, error) { return w.pw.Write(p) }

func (w *ftpWriter) Close() error {
	w.once.Do(func() {
		w.pw.Close()
		w.err = <-w.done
	})
	return w.err
}

// CloseWithError aborts the upload.
func (w *ftpWriter) CloseWithError(err error) error {
	w.pw.CloseWithError(err)
	return w.Close()
}

func (s *ftpSession) OpenWriter(ctx context.Context, p string) (io.WriteCloser, error) {
	conn, err := connectFTP(ctx, s.params)
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	w := &ftpWriter{pw: pw, done: make(chan error, 1)}
	go func() {
		err := conn.Stor(p, pr)
		if err != nil {
			pr.CloseWithError(err)
		}
		_ = conn.Quit()
		w.done <- err
	}()
	return w, nil
}

// Close quits the primary connection. A command stuck on a dead connection
// holds the lock, so after a grace period the socket is closed regardless.
func (s *ftpSession) Close() error {
	select {
	case s.lock <- struct{}{}:
		defer s.release()
	case <-time.After(ftpCloseGrace):
	}
	conn := s.conn
	s.conn = nil
	if conn == nil {
		return nil
	}
	return conn.Quit()
}
