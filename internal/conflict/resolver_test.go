package conflict

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panesync/internal/events"
	"panesync/pkg/logger"
)

type outcome struct {
	id  string
	d   Decision
	err error
}

func suspendAll(t *testing.T, r *Resolver, ctx context.Context, recs []Record, exists ExistsFunc) (chan outcome, *sync.WaitGroup) {
	t.Helper()
	out := make(chan outcome, len(recs))
	var wg sync.WaitGroup
	for _, rec := range recs {
		wg.Add(1)
		before := r.Len()
		go func(rec Record) {
			defer wg.Done()
			d, err := r.Suspend(ctx, rec, exists)
			out <- outcome{id: rec.TransferID, d: d, err: err}
		}(rec)
		// Keep arrival order deterministic.
		require.Eventually(t, func() bool { return r.Len() == before+1 }, time.Second, time.Millisecond)
	}
	return out, &wg
}

func rec(id, batch string) Record {
	return Record{TransferID: id, BatchID: batch, FileName: id + ".txt", TargetPath: "/dst/" + id + ".txt"}
}

func TestConflictsSurfaceOneAtATimeFIFO(t *testing.T) {
	bus := events.NewBus(16)
	defer bus.Close()
	pendingCh := bus.Subscribe(events.ConflictPending)
	r := NewResolver(bus, logger.NewNop())

	out, wg := suspendAll(t, r, context.Background(), []Record{rec("a", "b1"), rec("b", "b1")}, nil)

	cur, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, "a", cur.TransferID)
	assert.Len(t, pendingCh, 1, "only the head is announced")

	ids, err := r.Resolve("a", Replace, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)

	cur, _ = r.Current()
	assert.Equal(t, "b", cur.TransferID)
	assert.Len(t, pendingCh, 2)

	_, err = r.Resolve("b", Skip, false)
	require.NoError(t, err)
	wg.Wait()
	close(out)

	got := map[string]Decision{}
	for o := range out {
		require.NoError(t, o.err)
		got[o.id] = o.d
	}
	assert.Equal(t, Replace, got["a"].Resolution)
	assert.Equal(t, "/dst/a.txt", got["a"].TargetPath)
	assert.Equal(t, Skip, got["b"].Resolution)
}

func TestApplyToBatchResolvesExactlyPendingOfSameBatch(t *testing.T) {
	r := NewResolver(nil, logger.NewNop())
	recs := []Record{rec("a1", "A"), rec("b1", "B"), rec("a2", "A"), rec("a3", "A")}
	out, wg := suspendAll(t, r, context.Background(), recs, nil)

	ids, err := r.Resolve("a2", Skip, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a1", "a2", "a3"}, ids)

	remaining := r.Pending()
	require.Len(t, remaining, 1)
	assert.Equal(t, "b1", remaining[0].TransferID)

	// A conflict of batch A arriving later is not covered by the earlier bulk decision.
	late, lateWG := suspendAll(t, r, context.Background(), []Record{rec("a4", "A")}, nil)
	assert.Equal(t, 2, r.Len())

	_, err = r.Resolve("b1", Replace, true)
	require.NoError(t, err)
	_, err = r.Resolve("a4", Replace, false)
	require.NoError(t, err)

	wg.Wait()
	lateWG.Wait()
	close(out)
	close(late)
	for o := range out {
		if o.id == "b1" {
			assert.Equal(t, Replace, o.d.Resolution)
		} else {
			assert.Equal(t, Skip, o.d.Resolution)
		}
	}
	assert.Equal(t, Replace, (<-late).d.Resolution)
}

func TestResolveTwiceFails(t *testing.T) {
	r := NewResolver(nil, logger.NewNop())
	_, wg := suspendAll(t, r, context.Background(), []Record{rec("x", "")}, nil)

	_, err := r.Resolve("x", Replace, true)
	require.NoError(t, err)
	_, err = r.Resolve("x", Replace, false)
	assert.ErrorIs(t, err, ErrNotPending)
	wg.Wait()
}

func TestDuplicatePicksFreeName(t *testing.T) {
	r := NewResolver(nil, logger.NewNop())
	taken := map[string]bool{"/dst/x.txt": true, "/dst/x (1).txt": true}
	exists := func(_ context.Context, p string) bool { return taken[p] }
	out, wg := suspendAll(t, r, context.Background(), []Record{rec("x", "")}, exists)

	_, err := r.Resolve("x", Duplicate, false)
	require.NoError(t, err)
	wg.Wait()
	o := <-out
	assert.Equal(t, Duplicate, o.d.Resolution)
	assert.Equal(t, "/dst/x (2).txt", o.d.TargetPath)
}

func TestCancelledSuspendWithdraws(t *testing.T) {
	r := NewResolver(nil, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	out, wg := suspendAll(t, r, ctx, []Record{rec("c", "")}, nil)

	assert.True(t, r.CancelTransfer("c"))
	cancel()
	wg.Wait()
	o := <-out
	assert.ErrorIs(t, o.err, context.Canceled)
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.CancelTransfer("c"))
}

func TestUniquePath(t *testing.T) {
	tests := []struct {
		in    string
		taken []string
		want  string
	}{
		{"/d/a.txt", nil, "/d/a.txt"},
		{"/d/a.txt", []string{"/d/a.txt"}, "/d/a (1).txt"},
		{"/d/archive.tar.gz", []string{"/d/archive.tar.gz"}, "/d/archive.tar (1).gz"},
		{"/d/.bashrc", []string{"/d/.bashrc"}, "/d/.bashrc (1)"},
		{"/d/Makefile", []string{"/d/Makefile", "/d/Makefile (1)"}, "/d/Makefile (2)"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.in, len(tt.taken)), func(t *testing.T) {
			set := map[string]bool{}
			for _, p := range tt.taken {
				set[p] = true
			}
			assert.Equal(t, tt.want, UniquePath(tt.in, func(p string) bool { return set[p] }))
		})
	}
}

func TestSubmitQueuesWholeBatchBeforeAwait(t *testing.T) {
	r := NewResolver(nil, logger.NewNop())
	ctx := context.Background()
	tickets := []*Ticket{
		r.Submit(ctx, rec("a1", "A"), nil),
		r.Submit(ctx, rec("a2", "A"), nil),
		r.Submit(ctx, rec("a3", "A"), nil),
	}
	require.Equal(t, 3, r.Len())

	ids, err := r.Resolve("a1", Replace, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a1", "a2", "a3"}, ids)
	assert.Equal(t, 0, r.Len())

	for _, tk := range tickets {
		d, err := r.Await(tk)
		require.NoError(t, err, tk.TransferID())
		assert.Equal(t, Replace, d.Resolution)
	}
}

func TestAwaitWithdrawsOnContextDone(t *testing.T) {
	r := NewResolver(nil, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	tk := r.Submit(ctx, rec("c", ""), nil)
	cancel()

	_, err := r.Await(tk)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, r.Len())
}

func TestChangedSignalsNewHeadWithoutBus(t *testing.T) {
	// No bus: the channel is the only notification path.
	r := NewResolver(nil, logger.NewNop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r.Submit(ctx, rec(fmt.Sprint("t", i), "B"), nil)
	}
	select {
	case <-r.Changed():
	default:
		t.Fatal("expected a signal for the first head")
	}
	select {
	case <-r.Changed():
		t.Fatal("non-head submissions must not signal")
	default:
	}

	_, err := r.Resolve("t0", Skip, false)
	require.NoError(t, err)
	select {
	case <-r.Changed():
	case <-time.After(time.Second):
		t.Fatal("expected a signal for the new head")
	}
	cur, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, "t1", cur.TransferID)

	// Signals coalesce while nobody reads.
	r.CancelTransfer("t1")
	r.CancelTransfer("t2")
	assert.Len(t, r.Changed(), 1)
}
