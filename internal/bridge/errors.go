package bridge

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/textproto"
	"syscall"

	"github.com/pkg/sftp"
)

// ftpServiceNotAvailable is the FTP reply sent before the server drops the
// control connection.
const ftpServiceNotAvailable = 421

// sessionError marks a transport error as a lost session while keeping the
// original cause reachable.
type sessionError struct {
	connID string
	err    error
}

func (e *sessionError) Error() string {
	if e.connID == "" {
		return fmt.Sprintf("session lost: %v", e.err)
	}
	return fmt.Sprintf("session %s lost: %v", e.connID, e.err)
}

func (e *sessionError) Unwrap() error { return e.err }

func (e *sessionError) Is(target error) bool { return target == ErrSessionLost }

// errUnknownSession is returned for ids the hub does not hold.
func errUnknownSession(connID string) error {
	return &sessionError{connID: connID, err: errors.New("session not found")}
}

// isTransportLoss reports whether err means the underlying connection is gone.
func isTransportLoss(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sftp.ErrSSHFxConnectionLost) || errors.Is(err, sftp.ErrSSHFxNoConnection) {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNABORTED) {
		return true
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code == ftpServiceNotAvailable {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && !opErr.Timeout()
}

// classify wraps transport failures so callers can test them with
// errors.Is(err, ErrSessionLost). Not-exist errors stay testable with
// fs.ErrNotExist.
func classify(connID string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSessionLost) || errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if isTransportLoss(err) {
		return &sessionError{connID: connID, err: err}
	}
	return err
}

// notExist builds an error satisfying errors.Is(err, fs.ErrNotExist).
func notExist(op, path string) error {
	return &fs.PathError{Op: op, Path: path, Err: fs.ErrNotExist}
}
