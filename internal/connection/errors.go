package connection

import (
	"errors"
	"fmt"
	"strings"

	"panesync/internal/bridge"
	"panesync/internal/entry"
)

// MsgReconnectFailed is the message key surfaced when reconnection gives up.
const MsgReconnectFailed = "sftp.error.reconnectFailed"

var (
	// ErrNotBound is returned for a side that has no connection target.
	ErrNotBound = errors.New("no connection bound to pane")

	// ErrReconnecting is returned while a side is recovering its session.
	ErrReconnecting = errors.New("pane is reconnecting")
)

// ConnectionError reports a failure to open a session. It is surfaced to the
// user immediately.
type ConnectionError struct {
	Side   entry.Side
	HostID string
	Err    error
}

func (e *ConnectionError) Error() string {
	target := e.HostID
	if target == "" {
		target = "local"
	}
	return fmt.Sprintf("connect %s pane to %s: %v", e.Side, target, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SessionLostError reports that reconnection was exhausted.
type SessionLostError struct {
	Side       entry.Side
	Attempts   int
	MessageKey string
	Err        error
}

func (e *SessionLostError) Error() string {
	return fmt.Sprintf("%s pane: session lost after %d reconnect attempts: %v", e.Side, e.Attempts, e.Err)
}

func (e *SessionLostError) Unwrap() error { return e.Err }

func (e *SessionLostError) Is(target error) bool { return target == bridge.ErrSessionLost }

var sessionLossHints = []string{
	"session not found",
	"closed",
	"connection reset",
	"no response",
	"client disconnected",
	"broken pipe",
	"connection lost",
	"not connected",
	"eof",
}

// IsSessionLost reports whether err means the pane's session is gone. Typed
// bridge errors are checked first, then well-known transport messages.
func IsSessionLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, bridge.ErrSessionLost) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range sessionLossHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
