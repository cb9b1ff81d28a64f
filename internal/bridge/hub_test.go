package bridge

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panesync/internal/entry"
	"panesync/pkg/logger"
)

func openLocal(t *testing.T, h *Hub) (string, string) {
	t.Helper()
	root := filepath.ToSlash(t.TempDir())
	id, err := h.Open(context.Background(), OpenParams{Kind: KindLocal, StartDir: root})
	require.NoError(t, err)
	return id, root
}

func TestHubLocalFileOperations(t *testing.T) {
	ctx := context.Background()
	h := NewHub(logger.NewNop())
	id, root := openLocal(t, h)

	home, err := h.Home(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, root, home)

	require.NoError(t, h.Mkdir(ctx, id, path.Join(root, "docs")))
	require.NoError(t, h.WriteText(ctx, id, path.Join(root, "docs", "a.txt"), "hello"))

	text, err := h.ReadText(ctx, id, path.Join(root, "docs", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	require.NoError(t, h.Rename(ctx, id, path.Join(root, "docs", "a.txt"), path.Join(root, "docs", "b.txt")))

	files, err := h.List(ctx, id, path.Join(root, "docs"), "")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "b.txt", files[0].Name)
	assert.Equal(t, int64(5), files[0].Size)
	assert.Equal(t, entry.TypeFile, files[0].Type)

	st, err := h.Stat(ctx, id, path.Join(root, "docs"))
	require.NoError(t, err)
	assert.True(t, st.IsDir())

	require.NoError(t, h.Chmod(ctx, id, path.Join(root, "docs", "b.txt"), 0600))

	err = h.Delete(ctx, id, path.Join(root, "docs"), false)
	assert.Error(t, err, "non-recursive delete of a non-empty directory must fail")
	require.NoError(t, h.Delete(ctx, id, path.Join(root, "docs"), true))

	_, err = h.Stat(ctx, id, path.Join(root, "docs"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.False(t, errors.Is(err, ErrSessionLost))
}

func TestHubListsSymlinkTargets(t *testing.T) {
	ctx := context.Background()
	h := NewHub(logger.NewNop())
	id, root := openLocal(t, h)

	require.NoError(t, os.Mkdir(filepath.Join(filepath.FromSlash(root), "real"), 0755))
	if err := os.Symlink(filepath.Join(filepath.FromSlash(root), "real"), filepath.Join(filepath.FromSlash(root), "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	files, err := h.List(ctx, id, root, "")
	require.NoError(t, err)
	var link entry.FileEntry
	for _, f := range files {
		if f.Name == "link" {
			link = f
		}
	}
	assert.Equal(t, entry.TypeSymlink, link.Type)
	assert.True(t, link.LinkIsDir)
	assert.True(t, link.IsDir())
}

func TestHubUnknownSessionIsSessionLoss(t *testing.T) {
	h := NewHub(logger.NewNop())
	_, err := h.List(context.Background(), "missing", "/", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionLost))
	assert.Contains(t, err.Error(), "session not found")

	id, _ := openLocal(t, h)
	require.NoError(t, h.Close(context.Background(), id))
	_, err = h.Home(context.Background(), id)
	assert.True(t, errors.Is(err, ErrSessionLost))
}

func TestHubStreamTransferReportsProgress(t *testing.T) {
	ctx := context.Background()
	h := NewHub(logger.NewNop())
	src, srcRoot := openLocal(t, h)
	dst, dstRoot := openLocal(t, h)

	payload := strings.Repeat("x", 3*DefaultBufferSize+17)
	require.NoError(t, h.WriteText(ctx, src, path.Join(srcRoot, "big.bin"), payload))

	var last atomic.Int64
	err := h.StartStreamTransfer(ctx, StreamRequest{
		TransferID: "t1",
		SourceConn: src,
		SourcePath: path.Join(srcRoot, "big.bin"),
		TargetConn: dst,
		TargetPath: path.Join(dstRoot, "big.bin"),
		Size:       int64(len(payload)),
	}, func(transferred, total int64) {
		last.Store(transferred)
		assert.Equal(t, int64(len(payload)), total)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), last.Load())

	got, err := h.ReadText(ctx, dst, path.Join(dstRoot, "big.bin"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.False(t, h.CancelTransfer("t1"), "finished transfers are forgotten")
}

// gatedSession serves readers that block until closed.
type gatedSession struct {
	*localSession
	opened chan struct{}
}

type gatedReader struct {
	closed chan struct{}
}

func (r *gatedReader) Read([]byte) (int, error) {
	<-r.closed
	return 0, io.ErrClosedPipe
}

func (r *gatedReader) Close() error {
	select {
	case <-r.closed:
	default:
		close(r.closed)
	}
	return nil
}

func (s *gatedSession) OpenReader(context.Context, string) (io.ReadCloser, error) {
	close(s.opened)
	return &gatedReader{closed: make(chan struct{})}, nil
}

func TestHubCancelTransfer(t *testing.T) {
	ctx := context.Background()
	h := NewHub(logger.NewNop())
	opened := make(chan struct{})
	h.RegisterDialer("gated", func(context.Context, OpenParams) (Session, error) {
		return &gatedSession{localSession: &localSession{}, opened: opened}, nil
	})

	src, err := h.Open(ctx, OpenParams{Kind: "gated"})
	require.NoError(t, err)
	dst, dstRoot := openLocal(t, h)

	errc := make(chan error, 1)
	go func() {
		errc <- h.StartStreamTransfer(ctx, StreamRequest{
			TransferID: "t-cancel",
			SourceConn: src,
			SourcePath: "/anything",
			TargetConn: dst,
			TargetPath: path.Join(dstRoot, "partial.bin"),
		}, nil)
	}()

	<-opened
	require.Eventually(t, func() bool { return h.CancelTransfer("t-cancel") }, time.Second, 5*time.Millisecond)

	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, ErrTransferCancelled), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("transfer did not stop after cancel")
	}
}

func TestHubUnknownTransport(t *testing.T) {
	h := NewHub(logger.NewNop())
	_, err := h.Open(context.Background(), OpenParams{Kind: "gopher"})
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	assert.True(t, errors.Is(classify("c", io.ErrUnexpectedEOF), ErrSessionLost))
	assert.True(t, errors.Is(classify("c", fmtWrap(net.ErrClosed)), ErrSessionLost))
	assert.False(t, errors.Is(classify("c", fs.ErrPermission), ErrSessionLost))
	assert.Nil(t, classify("c", nil))

	wrapped := classify("c", io.EOF)
	assert.True(t, errors.Is(wrapped, io.EOF), "cause stays reachable")
}

func fmtWrap(err error) error { return &fs.PathError{Op: "read", Path: "/x", Err: err} }
