package service

import (
	"context"
	"errors"
	"sync"

	"github.com/atinyakov/firewatch/internal/models"
	"github.com/atinyakov/firewatch/internal/reactive"
	"github.com/atinyakov/firewatch/internal/registry"
)

// ErrJournalDisabled is returned by history operations when no journal is configured.
var ErrJournalDisabled = errors.New("journal disabled")

// DefaultHistoryLimit caps History when the caller passes no limit.
const DefaultHistoryLimit = 50

// Registry defines the registry operations needed by CollectionService.
type Registry interface {
	// UseCollections subscribes names and returns their live views.
	UseCollections(names []string, opts registry.Options) (map[string]*registry.View, error)
	// State returns the live view of one collection.
	State(name string) (*registry.View, error)
	// Names lists the subscribed collections.
	Names() []string
	// Dispose tears down one collection's subscription.
	Dispose(name string) error
}

// JournalRepository defines the journal operations needed by CollectionService.
type JournalRepository interface {
	// Recent returns up to limit newest entries for the given collections.
	Recent(ctx context.Context, collections []string, limit int) ([]models.JournalEntry, error)
	// DeleteCollections removes every entry of the given collections.
	DeleteCollections(ctx context.Context, collections []string) error
}

// CollectionService exposes collection subscriptions as wire models.
type CollectionService struct {
	reg     Registry
	journal JournalRepository
	opts    registry.Options
}

// NewCollectionService constructs a CollectionService. journal may be nil,
// which disables history. opts selects the backend for new subscriptions.
func NewCollectionService(reg Registry, journal JournalRepository, opts registry.Options) *CollectionService {
	return &CollectionService{reg: reg, journal: journal, opts: opts}
}

// Subscribe ensures every name is subscribed and returns their states in
// request order.
func (s *CollectionService) Subscribe(names []string) ([]models.CollectionState, error) {
	views, err := s.reg.UseCollections(names, s.opts)
	if err != nil {
		return nil, err
	}
	out := make([]models.CollectionState, 0, len(names))
	for _, name := range names {
		out = append(out, ToModel(name, views[name].Snapshot()))
	}
	return out, nil
}

// Get returns the state of one subscribed collection.
func (s *CollectionService) Get(name string) (models.CollectionState, error) {
	v, err := s.reg.State(name)
	if err != nil {
		return models.CollectionState{}, err
	}
	return ToModel(name, v.Snapshot()), nil
}

// List returns the states of all subscribed collections, sorted by name.
func (s *CollectionService) List() []models.CollectionState {
	names := s.reg.Names()
	out := make([]models.CollectionState, 0, len(names))
	for _, name := range names {
		if st, err := s.Get(name); err == nil {
			out = append(out, st)
		}
	}
	return out
}

// Watch streams the states of one collection until cancel is called or
// the collection is disposed.
func (s *CollectionService) Watch(name string) (<-chan models.CollectionState, reactive.CancelFunc, error) {
	v, err := s.reg.State(name)
	if err != nil {
		return nil, nil, err
	}
	states, cancel := v.Watch()
	out := make(chan models.CollectionState)
	stop := make(chan struct{})
	go func() {
		defer close(out)
		for st := range states {
			select {
			case out <- ToModel(name, st):
			case <-stop:
				return
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(stop)
			cancel()
		})
	}, nil
}

// Dispose tears down a subscription. With purge set, its journal entries
// are deleted too.
func (s *CollectionService) Dispose(ctx context.Context, name string, purge bool) error {
	if err := s.reg.Dispose(name); err != nil {
		return err
	}
	if purge && s.journal != nil {
		return s.journal.DeleteCollections(ctx, []string{name})
	}
	return nil
}

// History returns recent journal entries of name, newest first.
func (s *CollectionService) History(ctx context.Context, name string, limit int) ([]models.JournalEntry, error) {
	if s.journal == nil {
		return nil, ErrJournalDisabled
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.journal.Recent(ctx, []string{name}, limit)
}

// ToModel converts a registry state to its wire form.
func ToModel(name string, st registry.State) models.CollectionState {
	data := make([]map[string]any, 0, len(st.Data))
	for _, d := range st.Data {
		data = append(data, d.Flatten())
	}
	out := models.CollectionState{
		Name:    name,
		Phase:   string(st.Phase),
		Loading: st.Loading,
		Data:    data,
	}
	if st.Err != nil {
		out.Error = &models.ErrorBody{Kind: registry.Kind(st.Err), Message: st.Err.Error()}
	}
	return out
}
