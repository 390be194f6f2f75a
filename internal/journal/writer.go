// Package journal records collection state transitions to a repository.
package journal

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/atinyakov/firewatch/internal/models"
	"github.com/atinyakov/firewatch/internal/registry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Appender persists journal entries.
type Appender interface {
	Append(ctx context.Context, entries []models.JournalEntry) error
}

// Writer is a registry.Observer that queues transitions and appends them
// in batches from a single goroutine. When the queue is full new
// transitions are dropped.
type Writer struct {
	repo       Appender
	log        *zap.Logger
	queue      chan models.JournalEntry
	batchSize  int
	flushEvery time.Duration
	dropped    atomic.Int64
	done       chan struct{}
}

// NewWriter returns a Writer with a queue of queueSize entries.
func NewWriter(repo Appender, log *zap.Logger, queueSize int) *Writer {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Writer{
		repo:       repo,
		log:        log,
		queue:      make(chan models.JournalEntry, queueSize),
		batchSize:  64,
		flushEvery: time.Second,
		done:       make(chan struct{}),
	}
}

// Observe implements registry.Observer. It never blocks.
func (w *Writer) Observe(t registry.Transition) {
	e := models.JournalEntry{
		ID:         uuid.NewString(),
		Collection: t.Collection,
		From:       string(t.From),
		To:         string(t.To),
		Documents:  t.Documents,
		CreatedAt:  t.At,
	}
	if t.Err != nil {
		e.ErrorKind = registry.Kind(t.Err)
		e.ErrorMessage = t.Err.Error()
	}

	select {
	case w.queue <- e:
	default:
		if n := w.dropped.Add(1); n == 1 || n%100 == 0 {
			w.log.Warn("journal queue full, dropping transitions", zap.Int64("dropped", n))
		}
	}
}

// Dropped returns how many transitions were discarded.
func (w *Writer) Dropped() int64 { return w.dropped.Load() }

// Start runs the write loop until ctx is cancelled, then flushes what is
// queued and closes the channel returned by Done.
func (w *Writer) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.flushEvery)
		defer ticker.Stop()

		batch := make([]models.JournalEntry, 0, w.batchSize)
		flush := func(ctx context.Context) {
			if len(batch) == 0 {
				return
			}
			if err := w.repo.Append(ctx, batch); err != nil {
				w.log.Error("failed to append journal entries", zap.Int("entries", len(batch)), zap.Error(err))
			}
			batch = batch[:0]
		}

		for {
			select {
			case e := <-w.queue:
				batch = append(batch, e)
				if len(batch) >= w.batchSize {
					flush(ctx)
				}
			case <-ticker.C:
				flush(ctx)
			case <-ctx.Done():
			drain:
				for {
					select {
					case e := <-w.queue:
						batch = append(batch, e)
					default:
						break drain
					}
				}
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				flush(shutdownCtx)
				cancel()
				return
			}
		}
	}()
}

// Done is closed once the write loop has exited.
func (w *Writer) Done() <-chan struct{} { return w.done }
