// Package registry keeps one authentication-gated real-time subscription
// per collection name and exposes each collection's {data, loading, error}
// state as a shared, observable view.
//
// A collection's data listener is opened when its auth listener reports a
// signed-in principal and cancelled when it reports none. Failures after
// the initial request never surface as returned errors: they are written
// into the collection's state.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/atinyakov/firewatch/internal/backend"
	"go.uber.org/zap"
)

// Backend is the resolved set of services a subscription runs against.
type Backend struct {
	// App is the application context the services came from. It may be
	// nil when both services were supplied explicitly.
	App         *backend.App
	Collections backend.CollectionSource
	Auth        backend.AuthSource
}

// Options selects the backend for UseCollections. Every field is optional.
//
// Resolution: App falls back to the default app of the registry's Apps.
// Collections and Auth fall back to the resolved app's services. When
// both Collections and Auth are given, no app is needed.
type Options struct {
	App         *backend.App
	Collections backend.CollectionSource
	Auth        backend.AuthSource
}

// Registry maps collection names to their subscriptions. Construct one
// per process (or per test) with New and share it by reference.
type Registry struct {
	apps      *backend.Apps
	log       *zap.Logger
	observers []Observer

	mu      sync.Mutex
	records map[string]*record
	closed  bool
}

// New returns an empty registry resolving default apps from apps.
// apps and log may be nil.
func New(apps *backend.Apps, log *zap.Logger, observers ...Observer) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		apps:      apps,
		log:       log,
		observers: observers,
		records:   make(map[string]*record),
	}
}

// ResolveBackend applies the Options fallback rules. It fails with
// ErrNoBackendInitialized when a service cannot be resolved.
func (r *Registry) ResolveBackend(opts Options) (Backend, error) {
	b := Backend{App: opts.App, Collections: opts.Collections, Auth: opts.Auth}
	if b.Collections != nil && b.Auth != nil {
		return b, nil
	}
	if b.App == nil {
		b.App = r.apps.Default()
	}
	if b.App == nil {
		return Backend{}, ErrNoBackendInitialized
	}
	if b.Collections == nil {
		b.Collections = b.App.Collections
	}
	if b.Auth == nil {
		b.Auth = b.App.Auth
	}
	if b.Collections == nil || b.Auth == nil {
		return Backend{}, fmt.Errorf("app %q is missing a collection or auth service: %w", b.App.Name, ErrNoBackendInitialized)
	}
	return b, nil
}

// EnsureSubscribed creates the subscription for name if it does not exist
// yet. For an existing name it does nothing: the first backend wins and
// the state is not reset.
func (r *Registry) EnsureSubscribed(name string, b Backend) error {
	if name == "" {
		return ErrInvalidName
	}
	if b.Collections == nil || b.Auth == nil {
		return ErrNoBackendInitialized
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	if _, ok := r.records[name]; ok {
		r.mu.Unlock()
		return nil
	}
	rec := newRecord(name, b, r.log, r.notify)
	r.records[name] = rec
	r.mu.Unlock()

	r.log.Info("subscribing collection", zap.String("collection", name))
	rec.attach()
	return nil
}

// State returns the live view of name.
func (r *Registry) State(name string) (*View, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNotSubscribed)
	}
	return rec.view(), nil
}

// UseCollections resolves the backend, ensures every name is subscribed,
// and returns the live views keyed by name. Resolution and name
// validation happen before any listener is attached.
func (r *Registry) UseCollections(names []string, opts Options) (map[string]*View, error) {
	b, err := r.ResolveBackend(opts)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if name == "" {
			return nil, ErrInvalidName
		}
	}

	views := make(map[string]*View, len(names))
	for _, name := range names {
		if err := r.EnsureSubscribed(name, b); err != nil {
			return nil, err
		}
		v, err := r.State(name)
		if err != nil {
			return nil, err
		}
		views[name] = v
	}
	return views, nil
}

// Names returns the subscribed collection names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.records))
	for name := range r.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispose cancels the listeners of name and forgets it. Views already
// handed out keep their last state and their watch channels are closed.
// A later request for name starts a fresh subscription.
func (r *Registry) Dispose(name string) error {
	r.mu.Lock()
	rec, ok := r.records[name]
	if ok {
		delete(r.records, name)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrNotSubscribed)
	}

	rec.dispose()
	r.log.Info("disposed collection", zap.String("collection", name))
	return nil
}

// Close disposes every subscription. Further subscriptions fail with
// ErrRegistryClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	r.closed = true
	records := r.records
	r.records = make(map[string]*record)
	r.mu.Unlock()

	for _, rec := range records {
		rec.dispose()
	}
	r.log.Info("registry closed", zap.Int("collections", len(records)))
	return nil
}

func (r *Registry) notify(t Transition) {
	for _, o := range r.observers {
		o.Observe(t)
	}
}
