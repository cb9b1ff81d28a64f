package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"panesync/internal/entry"
	"panesync/pkg/logger"
)

type hubSession struct {
	Session
	codec codec
}

// Hub is the Bridge implementation backed by real transports. Sessions are
// kept by connection id.
type Hub struct {
	mu        sync.RWMutex
	sessions  map[string]*hubSession
	transfers map[string]context.CancelFunc
	dialers   map[Kind]Dialer
	limiter   *RateLimiter
	log       *logger.Logger
}

// NewHub creates a hub able to open local, SFTP, FTP and FTPS sessions.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.GetInstance()
	}
	return &Hub{
		sessions:  make(map[string]*hubSession),
		transfers: make(map[string]context.CancelFunc),
		dialers: map[Kind]Dialer{
			KindLocal: dialLocal,
			KindSFTP:  dialSFTP,
			KindFTP:   dialFTP,
			KindFTPS:  dialFTP,
		},
		limiter: NewRateLimiter(0),
		log:     log.Named("bridge"),
	}
}

// RegisterDialer installs or replaces the dialer for kind.
func (h *Hub) RegisterDialer(kind Kind, d Dialer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dialers[kind] = d
}

// SetRateLimit caps stream transfer throughput; 0 means unlimited.
func (h *Hub) SetRateLimit(bytesPerSecond int64) {
	h.limiter.SetRate(bytesPerSecond)
}

func (h *Hub) Open(ctx context.Context, params OpenParams) (string, error) {
	h.mu.RLock()
	dial, ok := h.dialers[params.Kind]
	h.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown transport %q", params.Kind)
	}

	c, err := newCodec(params.Encoding)
	if err != nil {
		return "", err
	}

	sess, err := dial(ctx, params)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	h.mu.Lock()
	h.sessions[id] = &hubSession{Session: sess, codec: c}
	h.mu.Unlock()

	h.log.Debug("session opened",
		zap.String("conn_id", id),
		zap.String("kind", string(params.Kind)),
		zap.String("host", params.Host))
	return id, nil
}

func (h *Hub) Close(_ context.Context, connID string) error {
	h.mu.Lock()
	sess, ok := h.sessions[connID]
	delete(h.sessions, connID)
	h.mu.Unlock()
	if !ok {
		return errUnknownSession(connID)
	}
	h.log.Debug("session closed", zap.String("conn_id", connID))
	return sess.Close()
}

// CloseAll closes every open session.
func (h *Hub) CloseAll() error {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*hubSession)
	for id, cancel := range h.transfers {
		cancel()
		delete(h.transfers, id)
	}
	h.mu.Unlock()

	var err error
	for _, s := range sessions {
		err = multierr.Append(err, s.Close())
	}
	return err
}

func (h *Hub) session(connID string) (*hubSession, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[connID]
	if !ok {
		return nil, errUnknownSession(connID)
	}
	return s, nil
}

// resolve looks up a session and encodes p for it.
func (h *Hub) resolve(connID, p string) (*hubSession, string, error) {
	s, err := h.session(connID)
	if err != nil {
		return nil, "", err
	}
	enc, err := s.codec.encode(p)
	if err != nil {
		return nil, "", err
	}
	return s, enc, nil
}

func (h *Hub) Home(ctx context.Context, connID string) (string, error) {
	s, err := h.session(connID)
	if err != nil {
		return "", err
	}
	home, err := s.Home(ctx)
	if err != nil {
		return "", classify(connID, err)
	}
	return s.codec.decode(home), nil
}

func (h *Hub) List(ctx context.Context, connID, dir, encoding string) ([]entry.FileEntry, error) {
	s, err := h.session(connID)
	if err != nil {
		return nil, err
	}
	c := s.codec
	if encoding != "" {
		if c, err = newCodec(encoding); err != nil {
			return nil, err
		}
	}
	encDir, err := c.encode(dir)
	if err != nil {
		return nil, err
	}

	files, err := s.List(ctx, encDir)
	if err != nil {
		return nil, classify(connID, err)
	}
	if !c.identity() {
		for i := range files {
			files[i].Name = c.decode(files[i].Name)
			files[i].LinkTarget = c.decode(files[i].LinkTarget)
		}
	}
	return files, nil
}

func (h *Hub) Stat(ctx context.Context, connID, p string) (entry.FileEntry, error) {
	s, enc, err := h.resolve(connID, p)
	if err != nil {
		return entry.FileEntry{}, err
	}
	e, err := s.Stat(ctx, enc)
	if err != nil {
		return entry.FileEntry{}, classify(connID, err)
	}
	e.Name = s.codec.decode(e.Name)
	return e, nil
}

func (h *Hub) ReadBinary(ctx context.Context, connID, p string) ([]byte, error) {
	s, enc, err := h.resolve(connID, p)
	if err != nil {
		return nil, err
	}
	r, err := s.OpenReader(ctx, enc)
	if err != nil {
		return nil, classify(connID, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, classify(connID, err)
	}
	return data, nil
}

func (h *Hub) ReadText(ctx context.Context, connID, p string) (string, error) {
	data, err := h.ReadBinary(ctx, connID, p)
	return string(data), err
}

func (h *Hub) WriteBinary(ctx context.Context, connID, p string, data []byte) error {
	s, enc, err := h.resolve(connID, p)
	if err != nil {
		return err
	}
	w, err := s.OpenWriter(ctx, enc)
	if err != nil {
		return classify(connID, err)
	}
	_, err = io.Copy(w, bytes.NewReader(data))
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return classify(connID, err)
}

func (h *Hub) WriteText(ctx context.Context, connID, p, content string) error {
	return h.WriteBinary(ctx, connID, p, []byte(content))
}

func (h *Hub) Mkdir(ctx context.Context, connID, p string) error {
	s, enc, err := h.resolve(connID, p)
	if err != nil {
		return err
	}
	return classify(connID, s.Mkdir(ctx, enc))
}

func (h *Hub) Delete(ctx context.Context, connID, p string, recursive bool) error {
	s, enc, err := h.resolve(connID, p)
	if err != nil {
		return err
	}
	return classify(connID, s.Remove(ctx, enc, recursive))
}

func (h *Hub) Rename(ctx context.Context, connID, from, to string) error {
	s, encFrom, err := h.resolve(connID, from)
	if err != nil {
		return err
	}
	encTo, err := s.codec.encode(to)
	if err != nil {
		return err
	}
	return classify(connID, s.Rename(ctx, encFrom, encTo))
}

func (h *Hub) Chmod(ctx context.Context, connID, p string, mode os.FileMode) error {
	s, enc, err := h.resolve(connID, p)
	if err != nil {
		return err
	}
	return classify(connID, s.Chmod(ctx, enc, mode))
}

func (h *Hub) CancelTransfer(transferID string) bool {
	h.mu.Lock()
	cancel, ok := h.transfers[transferID]
	delete(h.transfers, transferID)
	h.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (h *Hub) StartStreamTransfer(ctx context.Context, req StreamRequest, progress ProgressFunc) error {
	src, srcPath, err := h.resolve(req.SourceConn, req.SourcePath)
	if err != nil {
		return err
	}
	dst, dstPath, err := h.resolve(req.TargetConn, req.TargetPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if req.TransferID != "" {
		h.mu.Lock()
		h.transfers[req.TransferID] = cancel
		h.mu.Unlock()
		defer func() {
			h.mu.Lock()
			delete(h.transfers, req.TransferID)
			h.mu.Unlock()
		}()
	}

	r, err := src.OpenReader(ctx, srcPath)
	if err != nil {
		return classify(req.SourceConn, err)
	}
	defer r.Close()

	w, err := dst.OpenWriter(ctx, dstPath)
	if err != nil {
		return classify(req.TargetConn, err)
	}

	buf := make([]byte, GetOptimalBufferSize(req.Size))
	cw := &countingWriter{w: w, total: req.Size, progress: progress}

	done := make(chan error, 1)
	go func() {
		_, err := io.CopyBuffer(cw, NewThrottledReader(ctx, r, h.limiter), buf)
		done <- err
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		// Closing both ends unblocks the copy.
		abort(w, ctx.Err())
		r.Close()
		<-done
		return h.cancelled(ctx, req)
	}

	if err != nil {
		abort(w, err)
		if ctx.Err() != nil {
			return h.cancelled(ctx, req)
		}
		return classify(req.TargetConn, fmt.Errorf("transfer %s: %w", req.SourcePath, err))
	}
	if err := w.Close(); err != nil {
		return classify(req.TargetConn, fmt.Errorf("finalize %s: %w", req.TargetPath, err))
	}
	return nil
}

func (h *Hub) cancelled(ctx context.Context, req StreamRequest) error {
	h.log.Info("stream transfer aborted",
		zap.String("transfer_id", req.TransferID),
		zap.String("target", req.TargetPath))
	if errors.Is(context.Cause(ctx), context.DeadlineExceeded) {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %s", ErrTransferCancelled, req.SourcePath)
}

// abort closes w, discarding a pending upload where the writer supports it.
func abort(w io.WriteCloser, cause error) {
	if a, ok := w.(interface{ CloseWithError(error) error }); ok {
		_ = a.CloseWithError(cause)
		return
	}
	_ = w.Close()
}

// countingWriter reports the running byte count after every write.
type countingWriter struct {
	w        io.Writer
	written  int64
	total    int64
	progress ProgressFunc
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.written += int64(n)
	if c.progress != nil && n > 0 {
		c.progress(c.written, c.total)
	}
	return n, err
}
