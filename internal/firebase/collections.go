package firebase

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/atinyakov/firewatch/internal/backend"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// snapshotStream yields the full document list of a collection on every change.
type snapshotStream interface {
	Next() ([]backend.Document, error)
	Stop()
}

type openFunc func(ctx context.Context, name string) (snapshotStream, error)

// CollectionSource listens to Firestore collections with snapshot iterators.
type CollectionSource struct {
	open openFunc
	log  *zap.Logger
}

// NewCollectionSource returns a CollectionSource backed by client.
func NewCollectionSource(client *firestore.Client, log *zap.Logger) *CollectionSource {
	return &CollectionSource{
		open: func(ctx context.Context, name string) (snapshotStream, error) {
			if client == nil {
				return nil, errors.New("firestore client is not configured")
			}
			ref := client.Collection(name)
			if ref == nil {
				return nil, fmt.Errorf("invalid collection path %q", name)
			}
			return &queryStream{it: ref.Snapshots(ctx)}, nil
		},
		log: log,
	}
}

// Listen implements backend.CollectionSource. Snapshots are delivered from
// a dedicated goroutine until the returned cancel is called or the stream
// fails.
func (s *CollectionSource) Listen(name string, onSnapshot func([]backend.Document), onError func(error)) (backend.CancelFunc, error) {
	ctx, cancel := context.WithCancel(context.Background())
	stream, err := s.open(ctx, name)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("listen %q: %w", name, err)
	}

	log := s.log.With(zap.String("collection", name))
	go func() {
		defer stream.Stop()
		for {
			docs, err := stream.Next()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled {
					log.Debug("snapshot stream stopped")
					return
				}
				log.Warn("snapshot stream failed", zap.Error(err))
				onError(err)
				return
			}
			onSnapshot(docs)
		}
	}()

	return backend.Once(cancel), nil
}

// queryStream adapts a Firestore query snapshot iterator.
type queryStream struct {
	it *firestore.QuerySnapshotIterator
}

func (q *queryStream) Next() ([]backend.Document, error) {
	snap, err := q.it.Next()
	if err != nil {
		return nil, err
	}
	all, err := snap.Documents.GetAll()
	if err != nil {
		return nil, fmt.Errorf("read snapshot documents: %w", err)
	}
	docs := make([]backend.Document, 0, len(all))
	for _, d := range all {
		docs = append(docs, backend.Document{ID: d.Ref.ID, Fields: d.Data()})
	}
	return docs, nil
}

func (q *queryStream) Stop() { q.it.Stop() }
