package transfer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panesync/internal/bridge"
	"panesync/internal/bridge/bridgetest"
	"panesync/internal/conflict"
	"panesync/internal/entry"
	"panesync/internal/events"
	"panesync/pkg/logger"
)

type fixture struct {
	fake   *bridgetest.Fake
	bus    *events.Bus
	local  string
	remote string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := bridgetest.New()
	ctx := context.Background()
	local, err := fake.Open(ctx, bridge.OpenParams{Kind: bridge.KindLocal})
	require.NoError(t, err)
	remote, err := fake.Open(ctx, bridge.OpenParams{Kind: bridge.KindSFTP, Host: "srv"})
	require.NoError(t, err)
	fake.AddDir("srv", "/dst")
	bus := events.NewBus(256)
	t.Cleanup(bus.Close)
	return &fixture{fake: fake, bus: bus, local: local, remote: remote}
}

func (f *fixture) request(items ...Item) Request {
	return Request{
		Items:      items,
		SourceSide: entry.Left,
		TargetSide: entry.Right,
		SourceConn: f.local,
		TargetConn: f.remote,
		SourceDir:  "/src",
		TargetDir:  "/dst",
	}
}

func newTestManager(f *fixture, opts Options) *Manager {
	return NewManager(f.fake, f.bus, logger.NewNop(), opts)
}

func TestEnqueueCopiesFiles(t *testing.T) {
	f := newFixture(t)
	f.fake.AddFile(bridgetest.LocalHost, "/src/a.txt", []byte("hello world"))
	m := newTestManager(f, Options{})
	defer m.Stop()

	batch, err := m.Enqueue(context.Background(), f.request(Item{Name: "a.txt", Size: 11}))
	require.NoError(t, err)
	require.Len(t, batch.Tasks, 1)
	assert.Equal(t, StatusPending, batch.Tasks[0].Status)
	assert.Equal(t, "/dst/a.txt", batch.Tasks[0].TargetPath)

	var calls atomic.Int32
	require.NoError(t, m.OnTaskDone(batch.Tasks[0].ID, func(task Task) {
		calls.Add(1)
		assert.Equal(t, StatusCompleted, task.Status)
	}))
	m.Wait()

	data, ok := f.fake.File("srv", "/dst/a.txt")
	require.True(t, ok)
	assert.Equal(t, "hello world", string(data))

	task, ok := m.Task(batch.Tasks[0].ID)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, int64(11), task.TransferredBytes)
	assert.Equal(t, float64(100), task.Progress())
	assert.Equal(t, int32(1), calls.Load())

	// Registering after the fact fires immediately.
	require.NoError(t, m.OnTaskDone(task.ID, func(Task) { calls.Add(1) }))
	assert.Equal(t, int32(2), calls.Load())
}

func TestEnqueueExpandsDirectories(t *testing.T) {
	f := newFixture(t)
	f.fake.AddFile(bridgetest.LocalHost, "/src/dir/x.txt", []byte("x"))
	f.fake.AddFile(bridgetest.LocalHost, "/src/dir/sub/y.txt", []byte("yy"))
	f.fake.AddDir(bridgetest.LocalHost, "/src/dir/empty")
	m := newTestManager(f, Options{})
	defer m.Stop()

	scanning := f.bus.Subscribe(events.TransferProgress)
	batch, err := m.Enqueue(context.Background(), f.request(Item{Name: "dir", IsDir: true}))
	require.NoError(t, err)
	require.Len(t, batch.Tasks, 2)

	ev := (<-scanning).(*events.TransferEvent)
	assert.Equal(t, string(PhaseScanning), ev.Phase)
	assert.Equal(t, "dir", ev.Name)

	m.Wait()
	assert.True(t, f.fake.Exists("srv", "/dst/dir/empty"))
	x, _ := f.fake.File("srv", "/dst/dir/x.txt")
	y, _ := f.fake.File("srv", "/dst/dir/sub/y.txt")
	assert.Equal(t, "x", string(x))
	assert.Equal(t, "yy", string(y))
}

func TestEnqueueRejectsSameSide(t *testing.T) {
	f := newFixture(t)
	m := newTestManager(f, Options{})
	defer m.Stop()

	req := f.request(Item{Name: "a"})
	req.TargetSide = entry.Left
	_, err := m.Enqueue(context.Background(), req)
	assert.Error(t, err)
}

func TestFailedTaskCanBeRetried(t *testing.T) {
	f := newFixture(t)
	f.fake.AddFile(bridgetest.LocalHost, "/src/a.txt", []byte("abc"))
	boom := errors.New("disk full")
	fail := bridgetest.FailTimes(1, boom)
	f.fake.OnTransfer = func(context.Context, bridge.StreamRequest) error { return fail() }
	m := newTestManager(f, Options{})
	defer m.Stop()

	batch, err := m.Enqueue(context.Background(), f.request(Item{Name: "a.txt", Size: 3}))
	require.NoError(t, err)
	m.Wait()

	failed, _ := m.Task(batch.Tasks[0].ID)
	require.Equal(t, StatusFailed, failed.Status)
	var terr *TransferError
	require.ErrorAs(t, failed.Error, &terr)
	assert.ErrorIs(t, failed.Error, boom)

	retry, err := m.Retry(failed.ID)
	require.NoError(t, err)
	assert.NotEqual(t, failed.ID, retry.ID)
	assert.NotEqual(t, failed.BatchID, retry.BatchID)
	assert.Equal(t, failed.ID, retry.RetryOf)
	m.Wait()

	done, _ := m.Task(retry.ID)
	assert.Equal(t, StatusCompleted, done.Status)
	_, err = m.Retry(retry.ID)
	assert.Error(t, err, "only failed tasks are retried")
}

func TestCancelRunningTransfer(t *testing.T) {
	f := newFixture(t)
	f.fake.AddFile(bridgetest.LocalHost, "/src/a.txt", []byte("abc"))
	started := make(chan struct{})
	f.fake.OnTransfer = func(ctx context.Context, _ bridge.StreamRequest) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	m := newTestManager(f, Options{})
	defer m.Stop()

	batch, err := m.Enqueue(context.Background(), f.request(Item{Name: "a.txt", Size: 3}))
	require.NoError(t, err)
	id := batch.Tasks[0].ID

	var calls atomic.Int32
	require.NoError(t, m.OnTaskDone(id, func(task Task) {
		calls.Add(1)
		assert.Equal(t, StatusCancelled, task.Status)
	}))

	<-started
	require.NoError(t, m.Cancel(id))
	task, _ := m.Task(id)
	assert.Equal(t, StatusCancelled, task.Status)

	m.Wait()
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, f.fake.Exists("srv", "/dst/a.txt"))
}

func TestBatchConcurrencyIsCapped(t *testing.T) {
	f := newFixture(t)
	names := []string{"a", "b", "c", "d"}
	for _, n := range names {
		f.fake.AddFile(bridgetest.LocalHost, "/src/"+n, []byte(n))
	}

	var active, peak atomic.Int32
	release := make(chan struct{})
	f.fake.OnTransfer = func(ctx context.Context, _ bridge.StreamRequest) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		defer active.Add(-1)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m := newTestManager(f, Options{MaxConcurrentBatches: 2})
	defer m.Stop()

	var ids []string
	for _, n := range names {
		b, err := m.Enqueue(context.Background(), f.request(Item{Name: n, Size: 1}))
		require.NoError(t, err)
		ids = append(ids, b.Tasks[0].ID)
	}

	require.Eventually(t, func() bool { return active.Load() == 2 }, time.Second, time.Millisecond)
	pending := 0
	for _, id := range ids {
		if task, _ := m.Task(id); task.Status == StatusPending {
			pending++
		}
	}
	assert.Equal(t, 2, pending, "batches beyond the cap wait as pending")

	close(release)
	m.Wait()
	assert.Equal(t, int32(2), peak.Load())
	for _, id := range ids {
		task, _ := m.Task(id)
		assert.Equal(t, StatusCompleted, task.Status)
	}
}

func TestCancelPendingTaskNeverRuns(t *testing.T) {
	f := newFixture(t)
	f.fake.AddFile(bridgetest.LocalHost, "/src/a", []byte("a"))
	f.fake.AddFile(bridgetest.LocalHost, "/src/b", []byte("b"))
	release := make(chan struct{})
	f.fake.OnTransfer = func(ctx context.Context, req bridge.StreamRequest) error {
		if req.SourcePath == "/src/a" {
			<-release
		}
		return nil
	}
	m := newTestManager(f, Options{MaxConcurrentBatches: 1})
	defer m.Stop()

	first, err := m.Enqueue(context.Background(), f.request(Item{Name: "a", Size: 1}))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		task, _ := m.Task(first.Tasks[0].ID)
		return task.Status == StatusTransferring
	}, time.Second, time.Millisecond)

	second, err := m.Enqueue(context.Background(), f.request(Item{Name: "b", Size: 1}))
	require.NoError(t, err)
	require.NoError(t, m.Cancel(second.Tasks[0].ID))

	close(release)
	m.Wait()
	task, _ := m.Task(second.Tasks[0].ID)
	assert.Equal(t, StatusCancelled, task.Status)
	for _, req := range f.fake.Transfers() {
		assert.NotEqual(t, "/src/b", req.SourcePath)
	}
}

func TestOnBatchDone(t *testing.T) {
	f := newFixture(t)
	f.fake.AddFile(bridgetest.LocalHost, "/src/dir/a", []byte("a"))
	f.fake.AddFile(bridgetest.LocalHost, "/src/dir/b", []byte("b"))
	f.fake.OnTransfer = func(_ context.Context, req bridge.StreamRequest) error {
		if req.SourcePath == "/src/dir/b" {
			return errors.New("permission denied")
		}
		return nil
	}
	m := newTestManager(f, Options{})
	defer m.Stop()

	batch, err := m.Enqueue(context.Background(), f.request(Item{Name: "dir", IsDir: true}))
	require.NoError(t, err)

	results := make(chan BatchResult, 2)
	require.NoError(t, m.OnBatchDone(batch.ID, func(r BatchResult) { results <- r }))
	m.Wait()

	r := <-results
	assert.Equal(t, batch.ID, r.ID)
	assert.Len(t, r.Tasks, 2)
	assert.False(t, r.AllCompleted())

	require.NoError(t, m.OnBatchDone(batch.ID, func(r BatchResult) { results <- r }))
	assert.Len(t, results, 1)
	assert.Error(t, m.OnBatchDone("nope", func(BatchResult) {}))
}

func TestConflictResolutions(t *testing.T) {
	tests := []struct {
		name       string
		resolution conflict.Resolution
		wantStatus Status
		wantPath   string
		wantData   string
	}{
		{"replace", conflict.Replace, StatusCompleted, "/dst/a.txt", "new"},
		{"skip", conflict.Skip, StatusCancelled, "/dst/a.txt", "old"},
		{"duplicate", conflict.Duplicate, StatusCompleted, "/dst/a (1).txt", "new"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.fake.AddFile(bridgetest.LocalHost, "/src/a.txt", []byte("new"))
			f.fake.AddFile("srv", "/dst/a.txt", []byte("old"))
			resolver := conflict.NewResolver(f.bus, logger.NewNop())
			m := newTestManager(f, Options{Resolver: resolver})
			defer m.Stop()

			batch, err := m.Enqueue(context.Background(), f.request(Item{Name: "a.txt", Size: 3}))
			require.NoError(t, err)

			var rec conflict.Record
			require.Eventually(t, func() bool {
				var ok bool
				rec, ok = resolver.Current()
				return ok
			}, time.Second, time.Millisecond)
			assert.Equal(t, batch.Tasks[0].ID, rec.TransferID)
			assert.Equal(t, int64(3), rec.ExistingSize)

			_, err = resolver.Resolve(rec.TransferID, tt.resolution, false)
			require.NoError(t, err)
			m.Wait()

			task, _ := m.Task(rec.TransferID)
			assert.Equal(t, tt.wantStatus, task.Status)
			assert.Equal(t, tt.wantPath, task.TargetPath)
			data, ok := f.fake.File("srv", tt.wantPath)
			require.True(t, ok)
			assert.Equal(t, tt.wantData, string(data))
		})
	}
}

func TestCancelWithdrawsConflict(t *testing.T) {
	f := newFixture(t)
	f.fake.AddFile(bridgetest.LocalHost, "/src/a.txt", []byte("new"))
	f.fake.AddFile("srv", "/dst/a.txt", []byte("old"))
	resolver := conflict.NewResolver(f.bus, logger.NewNop())
	m := newTestManager(f, Options{Resolver: resolver})
	defer m.Stop()

	batch, err := m.Enqueue(context.Background(), f.request(Item{Name: "a.txt", Size: 3}))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return resolver.Len() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, m.Cancel(batch.Tasks[0].ID))
	m.Wait()
	assert.Equal(t, 0, resolver.Len())
	data, _ := f.fake.File("srv", "/dst/a.txt")
	assert.Equal(t, "old", string(data))
}

func TestProgressIsCoalesced(t *testing.T) {
	f := newFixture(t)
	f.fake.AddFile(bridgetest.LocalHost, "/src/a.txt", make([]byte, 64))
	f.fake.ChunkSize = 1
	m := newTestManager(f, Options{ProgressInterval: time.Hour})
	defer m.Stop()

	var mu sync.Mutex
	updates := 0
	m.SetUpdateCallback(func(Task) {
		mu.Lock()
		updates++
		mu.Unlock()
	})
	ch := f.bus.Subscribe(events.TransferProgress, events.TransferCompleted)

	_, err := m.Enqueue(context.Background(), f.request(Item{Name: "a.txt", Size: 64}))
	require.NoError(t, err)
	m.Wait()

	mu.Lock()
	assert.Equal(t, 0, updates, "64 chunks inside one window produce no update")
	mu.Unlock()
	require.Len(t, ch, 1)
	ev := (<-ch).(*events.TransferEvent)
	assert.Equal(t, events.TransferCompleted, ev.Type())
	assert.Equal(t, int64(64), ev.Transferred)
}

func TestTasksForSideAndClearFinished(t *testing.T) {
	f := newFixture(t)
	f.fake.AddFile(bridgetest.LocalHost, "/src/a", []byte("a"))
	m := newTestManager(f, Options{})
	defer m.Stop()

	_, err := m.Enqueue(context.Background(), f.request(Item{Name: "a", Size: 1}))
	require.NoError(t, err)
	m.Wait()

	assert.Len(t, m.TasksForSide(entry.Left), 1)
	assert.Len(t, m.TasksForSide(entry.Right), 1)
	m.ClearFinished()
	assert.Empty(t, m.Tasks())
}

func TestStopCancelsQueuedWork(t *testing.T) {
	f := newFixture(t)
	f.fake.AddFile(bridgetest.LocalHost, "/src/a", []byte("a"))
	f.fake.OnTransfer = func(ctx context.Context, _ bridge.StreamRequest) error {
		<-ctx.Done()
		return ctx.Err()
	}
	m := newTestManager(f, Options{})

	batch, err := m.Enqueue(context.Background(), f.request(Item{Name: "a", Size: 1}))
	require.NoError(t, err)
	m.Stop()

	task, _ := m.Task(batch.Tasks[0].ID)
	assert.Equal(t, StatusCancelled, task.Status)
}

func TestRemainingTime(t *testing.T) {
	task := Task{TotalBytes: 1000, TransferredBytes: 500, BytesPerSecond: 100}
	assert.Equal(t, 5*time.Second, task.RemainingTime())
	assert.Equal(t, float64(50), task.Progress())
	assert.Zero(t, Task{}.RemainingTime())
}

func TestBatchConflictsAreQueuedBeforeAnyWrite(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"a", "b", "c"} {
		f.fake.AddFile(bridgetest.LocalHost, "/src/dir/"+name, []byte("new"))
		f.fake.AddFile("srv", "/dst/dir/"+name, []byte("old"))
	}
	resolver := conflict.NewResolver(f.bus, logger.NewNop())
	m := newTestManager(f, Options{Resolver: resolver})
	defer m.Stop()

	batch, err := m.Enqueue(context.Background(), f.request(Item{Name: "dir", IsDir: true}))
	require.NoError(t, err)
	require.Len(t, batch.Tasks, 3)

	require.Eventually(t, func() bool { return resolver.Len() == 3 }, time.Second, time.Millisecond)
	assert.Empty(t, f.fake.Transfers())

	head, ok := resolver.Current()
	require.True(t, ok)
	ids, err := resolver.Resolve(head.TransferID, conflict.Replace, true)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
	m.Wait()

	assert.Equal(t, 0, resolver.Len())
	for _, task := range batch.Tasks {
		got, _ := m.Task(task.ID)
		assert.Equal(t, StatusCompleted, got.Status, task.FileName)
		data, _ := f.fake.File("srv", task.TargetPath)
		assert.Equal(t, "new", string(data))
	}
}

func TestCancelledBatchWithdrawsQueuedConflicts(t *testing.T) {
	f := newFixture(t)
	f.fake.AddFile(bridgetest.LocalHost, "/src/dir/a", []byte("new"))
	f.fake.AddFile(bridgetest.LocalHost, "/src/dir/b", []byte("new"))
	f.fake.AddFile("srv", "/dst/dir/a", []byte("old"))
	f.fake.AddFile("srv", "/dst/dir/b", []byte("old"))
	resolver := conflict.NewResolver(f.bus, logger.NewNop())
	m := newTestManager(f, Options{Resolver: resolver})
	defer m.Stop()

	_, err := m.Enqueue(context.Background(), f.request(Item{Name: "dir", IsDir: true}))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return resolver.Len() == 2 }, time.Second, time.Millisecond)

	m.CancelAll()
	m.Wait()
	assert.Equal(t, 0, resolver.Len())
	assert.Empty(t, f.fake.Transfers())
}

func TestOverwriteSkipsResolver(t *testing.T) {
	f := newFixture(t)
	f.fake.AddFile(bridgetest.LocalHost, "/src/a.txt", []byte("new"))
	f.fake.AddFile("srv", "/dst/a.txt", []byte("old"))
	resolver := conflict.NewResolver(f.bus, logger.NewNop())
	m := newTestManager(f, Options{Resolver: resolver})
	defer m.Stop()

	req := f.request(Item{Name: "a.txt", Size: 3})
	req.Overwrite = true
	batch, err := m.Enqueue(context.Background(), req)
	require.NoError(t, err)
	m.Wait()

	assert.Equal(t, 0, resolver.Len())
	task, _ := m.Task(batch.Tasks[0].ID)
	assert.Equal(t, StatusCompleted, task.Status)
	data, _ := f.fake.File("srv", "/dst/a.txt")
	assert.Equal(t, "new", string(data))
}

func TestSymlinkedDirectoryMakesBatchIncomplete(t *testing.T) {
	f := newFixture(t)
	f.fake.AddFile(bridgetest.LocalHost, "/src/dir/a", []byte("a"))
	f.fake.AddFile(bridgetest.LocalHost, "/elsewhere/b", []byte("b"))
	f.fake.AddSymlink(bridgetest.LocalHost, "/src/dir/linked", "/elsewhere", true)
	m := newTestManager(f, Options{})
	defer m.Stop()

	batch, err := m.Enqueue(context.Background(), f.request(Item{Name: "dir", IsDir: true}))
	require.NoError(t, err)
	require.Len(t, batch.Tasks, 1)

	results := make(chan BatchResult, 1)
	require.NoError(t, m.OnBatchDone(batch.ID, func(r BatchResult) { results <- r }))
	m.Wait()

	r := <-results
	assert.Equal(t, StatusCompleted, r.Tasks[0].Status)
	assert.Equal(t, []string{"/src/dir/linked"}, r.Incomplete)
	assert.False(t, r.AllCompleted())
	assert.False(t, f.fake.Exists("srv", "/dst/dir/linked"))
}

func TestDirectoryCreationFailureMakesBatchIncomplete(t *testing.T) {
	f := newFixture(t)
	f.fake.AddFile(bridgetest.LocalHost, "/src/dir/a", []byte("a"))
	f.fake.AddDir(bridgetest.LocalHost, "/src/dir/empty")
	f.fake.OnMkdir = func(_ context.Context, _, p string) error {
		if p == "/dst/dir/empty" {
			return errors.New("permission denied")
		}
		return nil
	}
	m := newTestManager(f, Options{})
	defer m.Stop()

	batch, err := m.Enqueue(context.Background(), f.request(Item{Name: "dir", IsDir: true}))
	require.NoError(t, err)

	results := make(chan BatchResult, 1)
	require.NoError(t, m.OnBatchDone(batch.ID, func(r BatchResult) { results <- r }))
	m.Wait()

	r := <-results
	assert.Equal(t, []string{"/dst/dir/empty"}, r.Incomplete)
	assert.False(t, r.AllCompleted())
}
