// Package bridge is the filesystem and transport boundary used by the panes.
// A Bridge hands out connection ids; every other call addresses a session by
// id. Paths are always slash separated, local sessions included.
package bridge

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"golang.org/x/crypto/ssh"

	"panesync/internal/entry"
)

const (
	// DefaultBufferSize is the buffer size for file transfers (256KB for optimal performance)
	DefaultBufferSize = 256 * 1024

	// LargeFileThreshold is the size above which we use larger buffers (10MB)
	LargeFileThreshold = 10 * 1024 * 1024

	// LargeBufferSize is used for files larger than LargeFileThreshold (1MB)
	LargeBufferSize = 1024 * 1024

	// DefaultTimeout bounds dialing a remote session.
	DefaultTimeout = 30 * time.Second
)

// GetOptimalBufferSize returns the optimal buffer size based on file size.
func GetOptimalBufferSize(fileSize int64) int {
	if fileSize > LargeFileThreshold {
		return LargeBufferSize
	}
	return DefaultBufferSize
}

// Kind selects the transport of a session.
type Kind string

const (
	KindLocal Kind = "local"
	KindSFTP  Kind = "sftp"
	KindFTP   Kind = "ftp"
	KindFTPS  Kind = "ftps"
)

var (
	// ErrSessionLost marks errors caused by a dead or unknown session.
	ErrSessionLost = errors.New("session lost")

	// ErrUnsupported is returned for operations a transport cannot perform.
	ErrUnsupported = errors.New("operation not supported by transport")

	// ErrTransferCancelled is returned by StartStreamTransfer after CancelTransfer.
	ErrTransferCancelled = errors.New("transfer cancelled")
)

// OpenParams describes the session to open.
type OpenParams struct {
	Kind       Kind
	Host       string
	Port       int
	Username   string
	Password   string
	PrivateKey []byte
	Timeout    time.Duration

	// StartDir overrides the home directory reported for the session.
	StartDir string

	// Encoding is the filename encoding of the remote host ("" or "utf-8"
	// for none), as an IANA or WHATWG label.
	Encoding string

	// TLS settings for FTPS
	TLSImplicit   bool
	TLSSkipVerify bool

	// HostKeyCallback verifies SFTP host keys. Required for KindSFTP.
	HostKeyCallback ssh.HostKeyCallback
}

// StreamRequest describes one file copied between two sessions.
type StreamRequest struct {
	TransferID string
	SourceConn string
	SourcePath string
	TargetConn string
	TargetPath string
	// Size is the expected byte count, used for progress and buffer sizing.
	Size int64
}

// ProgressFunc receives the running byte count of a stream transfer. It is
// called from the copying goroutine on every chunk.
type ProgressFunc func(transferred, total int64)

// Bridge is the service boundary every pane operation goes through.
type Bridge interface {
	Open(ctx context.Context, params OpenParams) (string, error)
	Close(ctx context.Context, connID string) error
	Home(ctx context.Context, connID string) (string, error)

	// List returns the entries of dir, decoding names with encoding when it
	// is set, else with the session's encoding.
	List(ctx context.Context, connID, dir, encoding string) ([]entry.FileEntry, error)
	Stat(ctx context.Context, connID, path string) (entry.FileEntry, error)

	ReadText(ctx context.Context, connID, path string) (string, error)
	ReadBinary(ctx context.Context, connID, path string) ([]byte, error)
	WriteText(ctx context.Context, connID, path, content string) error
	WriteBinary(ctx context.Context, connID, path string, data []byte) error

	Mkdir(ctx context.Context, connID, path string) error
	Delete(ctx context.Context, connID, path string, recursive bool) error
	Rename(ctx context.Context, connID, from, to string) error
	Chmod(ctx context.Context, connID, path string, mode os.FileMode) error

	// StartStreamTransfer copies a file between two sessions, blocking until
	// it completes, fails, or is cancelled.
	StartStreamTransfer(ctx context.Context, req StreamRequest, progress ProgressFunc) error
	// CancelTransfer aborts a running stream transfer. It reports whether
	// the id was known.
	CancelTransfer(transferID string) bool
}

// Session is one open transport. Implementations must be safe for
// concurrent use. Paths reaching a Session are already encoded for the host.
type Session interface {
	Kind() Kind
	Home(ctx context.Context) (string, error)
	List(ctx context.Context, dir string) ([]entry.FileEntry, error)
	Stat(ctx context.Context, path string) (entry.FileEntry, error)
	Mkdir(ctx context.Context, path string) error
	Remove(ctx context.Context, path string, recursive bool) error
	Rename(ctx context.Context, from, to string) error
	Chmod(ctx context.Context, path string, mode os.FileMode) error
	OpenReader(ctx context.Context, path string) (io.ReadCloser, error)
	OpenWriter(ctx context.Context, path string) (io.WriteCloser, error)
	Close() error
}

// Dialer opens a Session for params.
type Dialer func(ctx context.Context, params OpenParams) (Session, error)
