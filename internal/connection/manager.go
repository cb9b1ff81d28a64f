// Package connection opens, holds and recovers the session behind each pane.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"panesync/internal/bridge"
	"panesync/internal/entry"
	"panesync/internal/events"
	"panesync/pkg/logger"
)

const (
	DefaultAttempts = 3
	DefaultDelay    = time.Second
)

// State is the recovery state of a side.
type State int

const (
	StateIdle State = iota
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Target is what a side connects to: the local machine or a saved host.
type Target struct {
	Local    bool
	HostID   string
	StartDir string
}

// Connection is the handle a pane works with. Values returned by the Manager
// are copies.
type Connection struct {
	ID               string
	Side             entry.Side
	IsLocal          bool
	HostID           string
	Protocol         string
	Host             string
	CurrentPath      string
	HomeDir          string
	FilenameEncoding string
}

// CredentialSource resolves a saved host into bridge parameters.
type CredentialSource interface {
	OpenParams(ctx context.Context, hostID string) (bridge.OpenParams, error)
}

// CacheInvalidator drops cached listings of a closed connection.
type CacheInvalidator interface {
	InvalidateConnection(connID string)
}

// VerifyFunc checks a freshly reopened connection, typically by repeating the
// listing that failed.
type VerifyFunc func(ctx context.Context, conn *Connection) error

// Options tunes reconnection.
type Options struct {
	Attempts int
	Delay    time.Duration
	Cache    CacheInvalidator
}

type slot struct {
	target Target
	bound  bool
	gen    uint64
	conn   *Connection
	state  State
}

// Manager owns one connection slot per side.
type Manager struct {
	bridge bridge.Bridge
	creds  CredentialSource
	bus    *events.Bus
	log    *logger.Logger
	cache  CacheInvalidator

	attempts int
	delay    time.Duration
	sleep    func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	slots map[entry.Side]*slot
	group singleflight.Group
}

// NewManager creates a manager. creds may be nil when only local targets
// are used.
func NewManager(b bridge.Bridge, creds CredentialSource, bus *events.Bus, log *logger.Logger, opts Options) *Manager {
	if log == nil {
		log = logger.GetInstance()
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	return &Manager{
		bridge:   b,
		creds:    creds,
		bus:      bus,
		log:      log.Named("connection"),
		cache:    opts.Cache,
		attempts: opts.Attempts,
		delay:    opts.Delay,
		sleep:    sleepCtx,
		slots: map[entry.Side]*slot{
			entry.Left:  {},
			entry.Right: {},
		},
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (m *Manager) slot(side entry.Side) *slot {
	s, ok := m.slots[side]
	if !ok {
		s = &slot{}
		m.slots[side] = s
	}
	return s
}

// Connect binds side to target, replacing any previous connection, and
// opens it.
func (m *Manager) Connect(ctx context.Context, side entry.Side, target Target) (*Connection, error) {
	if err := m.Disconnect(ctx, side); err != nil && !errors.Is(err, ErrNotBound) {
		m.log.Warn("closing previous connection failed", zap.String("side", string(side)), zap.Error(err))
	}

	m.mu.Lock()
	s := m.slot(side)
	s.target = target
	s.bound = true
	s.gen++
	s.state = StateIdle
	m.mu.Unlock()

	return m.Ensure(ctx, side)
}

// Ensure returns the side's open connection, opening it if needed.
func (m *Manager) Ensure(ctx context.Context, side entry.Side) (*Connection, error) {
	m.mu.Lock()
	s := m.slot(side)
	if s.state == StateReconnecting {
		m.mu.Unlock()
		return nil, ErrReconnecting
	}
	if s.conn != nil {
		c := *s.conn
		m.mu.Unlock()
		return &c, nil
	}
	if !s.bound {
		m.mu.Unlock()
		return nil, ErrNotBound
	}
	target, gen := s.target, s.gen
	m.mu.Unlock()

	v, err := m.shared(ctx, "open:"+string(side), func(ctx context.Context) (interface{}, error) {
		conn, err := m.dial(ctx, side, target)
		if err != nil {
			return nil, err
		}
		if err := m.install(ctx, side, gen, conn); err != nil {
			return nil, err
		}
		m.publish(side, conn.ID, "connected", "", nil)
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	c := *v.(*Connection)
	return &c, nil
}

// dial opens a session for target and resolves its home directory.
func (m *Manager) dial(ctx context.Context, side entry.Side, target Target) (*Connection, error) {
	params := bridge.OpenParams{Kind: bridge.KindLocal, StartDir: target.StartDir}
	if !target.Local {
		if m.creds == nil {
			return nil, &ConnectionError{Side: side, HostID: target.HostID, Err: errors.New("no credential source")}
		}
		p, err := m.creds.OpenParams(ctx, target.HostID)
		if err != nil {
			return nil, &ConnectionError{Side: side, HostID: target.HostID, Err: err}
		}
		params = p
		if target.StartDir != "" {
			params.StartDir = target.StartDir
		}
	}

	id, err := m.bridge.Open(ctx, params)
	if err != nil {
		m.log.LogConnection(string(side), string(params.Kind), params.Host, false, err)
		return nil, &ConnectionError{Side: side, HostID: target.HostID, Err: err}
	}

	home, err := m.bridge.Home(ctx, id)
	if err != nil {
		_ = m.bridge.Close(ctx, id)
		return nil, &ConnectionError{Side: side, HostID: target.HostID, Err: fmt.Errorf("resolve home: %w", err)}
	}

	m.log.LogConnection(string(side), string(params.Kind), params.Host, true, nil)
	return &Connection{
		ID:               id,
		Side:             side,
		IsLocal:          target.Local,
		HostID:           target.HostID,
		Protocol:         string(params.Kind),
		Host:             params.Host,
		CurrentPath:      home,
		HomeDir:          home,
		FilenameEncoding: params.Encoding,
	}, nil
}

// install stores conn unless the side was rebound since gen was read.
func (m *Manager) install(ctx context.Context, side entry.Side, gen uint64, conn *Connection) error {
	m.mu.Lock()
	s := m.slot(side)
	if !s.bound || s.gen != gen {
		m.mu.Unlock()
		_ = m.bridge.Close(ctx, conn.ID)
		return ErrNotBound
	}
	s.conn = conn
	s.state = StateIdle
	m.mu.Unlock()
	return nil
}

// Disconnect closes the side's session and forgets its target.
func (m *Manager) Disconnect(ctx context.Context, side entry.Side) error {
	m.mu.Lock()
	s := m.slot(side)
	conn := s.conn
	wasBound := s.bound
	s.conn = nil
	s.bound = false
	s.gen++
	s.state = StateIdle
	m.mu.Unlock()

	if !wasBound {
		return ErrNotBound
	}
	if conn == nil {
		return nil
	}

	if m.cache != nil {
		m.cache.InvalidateConnection(conn.ID)
	}
	err := m.bridge.Close(ctx, conn.ID)
	m.log.LogConnection(string(side), conn.Protocol, conn.Host, false, nil)
	m.publish(side, conn.ID, "disconnected", "", nil)
	if err != nil && !IsSessionLost(err) {
		return err
	}
	return nil
}

// Current returns the open connection of side, if any.
func (m *Manager) Current(side entry.Side) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.slot(side)
	if s.conn == nil {
		return nil, false
	}
	c := *s.conn
	return &c, true
}

// State returns the recovery state of side.
func (m *Manager) State(side entry.Side) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slot(side).state
}

// SetCurrentPath records the directory the side is showing.
func (m *Manager) SetCurrentPath(side entry.Side, p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.slot(side); s.conn != nil {
		s.conn.CurrentPath = p
	}
}

// Reconnect replaces the side's session after a session loss. Concurrent
// callers share one attempt sequence. verify runs against each reopened
// connection; a session-loss error from it counts as a failed attempt, any
// other error is returned as is with the new connection kept.
func (m *Manager) Reconnect(ctx context.Context, side entry.Side, verify VerifyFunc) error {
	_, err := m.shared(ctx, "reconnect:"+string(side), func(ctx context.Context) (interface{}, error) {
		return nil, m.reconnect(ctx, side, verify)
	})
	return err
}

// shared runs fn once for all concurrent callers of key. fn gets a context
// that outlives any single caller; each caller stops waiting when its own ctx
// is done while the others keep the shared call alive.
func (m *Manager) shared(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (interface{}, error) {
		return fn(detached)
	})
	select {
	case r := <-ch:
		return r.Val, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) reconnect(ctx context.Context, side entry.Side, verify VerifyFunc) error {
	m.mu.Lock()
	s := m.slot(side)
	if !s.bound {
		m.mu.Unlock()
		return ErrNotBound
	}
	stale := s.conn
	target, gen := s.target, s.gen
	s.conn = nil
	s.state = StateReconnecting
	m.mu.Unlock()

	staleID := ""
	if stale != nil {
		staleID = stale.ID
		if m.cache != nil {
			m.cache.InvalidateConnection(stale.ID)
		}
		// The stale session is usually already dead.
		_ = m.bridge.Close(ctx, stale.ID)
	}
	m.publish(side, staleID, StateReconnecting.String(), "", nil)
	m.log.Info("reconnecting", zap.String("side", string(side)), zap.Int("max_attempts", m.attempts))

	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		if attempt > 1 {
			if err := m.sleep(ctx, m.delay); err != nil {
				lastErr = err
				break
			}
		}

		conn, err := m.dial(ctx, side, target)
		if err == nil && stale != nil {
			conn.CurrentPath = stale.CurrentPath
		}
		if err == nil && verify != nil {
			if verr := verify(ctx, conn); verr != nil {
				if !IsSessionLost(verr) {
					if ierr := m.install(ctx, side, gen, conn); ierr != nil {
						return ierr
					}
					m.publish(side, conn.ID, StateIdle.String(), "", nil)
					return verr
				}
				_ = m.bridge.Close(ctx, conn.ID)
				err = verr
			}
		}
		if err == nil {
			if ierr := m.install(ctx, side, gen, conn); ierr != nil {
				return ierr
			}
			m.log.Info("reconnected", zap.String("side", string(side)), zap.Int("attempt", attempt))
			m.publish(side, conn.ID, StateIdle.String(), "", nil)
			return nil
		}

		lastErr = err
		m.log.Warn("reconnect attempt failed",
			zap.String("side", string(side)),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	m.mu.Lock()
	if s.gen == gen {
		s.state = StateFailed
	}
	m.mu.Unlock()
	m.publish(side, "", StateFailed.String(), MsgReconnectFailed, lastErr)

	m.mu.Lock()
	if s.gen == gen {
		s.state = StateIdle
	}
	m.mu.Unlock()
	m.publish(side, "", StateIdle.String(), "", nil)

	m.log.Error("reconnect gave up", zap.String("side", string(side)), zap.Error(lastErr))
	return &SessionLostError{Side: side, Attempts: m.attempts, MessageKey: MsgReconnectFailed, Err: lastErr}
}

func (m *Manager) publish(side entry.Side, connID, state, key string, err error) {
	m.bus.Publish(&events.ConnectionEvent{
		BaseEvent:    events.NewBase(events.ConnectionState),
		Side:         string(side),
		ConnectionID: connID,
		State:        state,
		MessageKey:   key,
		Err:          err,
	})
}
