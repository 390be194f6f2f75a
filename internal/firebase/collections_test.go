package firebase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/atinyakov/firewatch/internal/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
)

// fakeStream replays queued results, then blocks until ctx is cancelled.
type fakeStream struct {
	ctx     context.Context
	results chan result

	mu      sync.Mutex
	stopped bool
}

type result struct {
	docs []backend.Document
	err  error
}

func (f *fakeStream) Next() ([]backend.Document, error) {
	select {
	case r := <-f.results:
		return r.docs, r.err
	case <-f.ctx.Done():
		return nil, f.ctx.Err()
	}
}

func (f *fakeStream) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeStream) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func newSource(t *testing.T, results ...result) (*CollectionSource, chan *fakeStream) {
	t.Helper()
	opened := make(chan *fakeStream, 1)
	src := &CollectionSource{
		log: zap.NewNop(),
		open: func(ctx context.Context, name string) (snapshotStream, error) {
			s := &fakeStream{ctx: ctx, results: make(chan result, len(results))}
			for _, r := range results {
				s.results <- r
			}
			opened <- s
			return s, nil
		},
	}
	return src, opened
}

func TestListen_DeliversSnapshotsUntilCancel(t *testing.T) {
	src, opened := newSource(t,
		result{docs: []backend.Document{{ID: "a"}}},
		result{docs: []backend.Document{{ID: "a"}, {ID: "b"}}},
	)

	snaps := make(chan []backend.Document, 2)
	cancel, err := src.Listen("items", func(d []backend.Document) { snaps <- d }, func(err error) {
		t.Errorf("unexpected stream error: %v", err)
	})
	require.NoError(t, err)
	stream := <-opened

	assert.Len(t, <-snaps, 1)
	assert.Len(t, <-snaps, 2)

	cancel()
	cancel()
	require.Eventually(t, stream.isStopped, time.Second, 5*time.Millisecond)
}

func TestListen_StreamError(t *testing.T) {
	boom := errors.New("permission denied")
	src, opened := newSource(t, result{err: boom})

	errs := make(chan error, 1)
	cancel, err := src.Listen("items", func([]backend.Document) {}, func(err error) { errs <- err })
	require.NoError(t, err)
	defer cancel()
	stream := <-opened

	select {
	case got := <-errs:
		assert.ErrorIs(t, got, boom)
	case <-time.After(time.Second):
		t.Fatal("expected stream error")
	}
	require.Eventually(t, stream.isStopped, time.Second, 5*time.Millisecond)
}

func TestListen_DoneIsSilent(t *testing.T) {
	src, opened := newSource(t, result{err: iterator.Done})

	cancel, err := src.Listen("items", func([]backend.Document) {}, func(err error) {
		t.Errorf("iterator.Done must not be reported: %v", err)
	})
	require.NoError(t, err)
	defer cancel()
	stream := <-opened
	require.Eventually(t, stream.isStopped, time.Second, 5*time.Millisecond)
}

func TestListen_OpenFailure(t *testing.T) {
	src := &CollectionSource{
		log: zap.NewNop(),
		open: func(context.Context, string) (snapshotStream, error) {
			return nil, errors.New("bad path")
		},
	}
	cancel, err := src.Listen("a/b", nil, nil)
	require.Error(t, err)
	assert.Nil(t, cancel)
	assert.Contains(t, err.Error(), `listen "a/b"`)
}

func TestNewCollectionSource_NilClient(t *testing.T) {
	src := NewCollectionSource(nil, zap.NewNop())
	_, err := src.Listen("items", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}
