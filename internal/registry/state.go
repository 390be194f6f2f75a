package registry

import (
	"sync"
	"time"

	"github.com/atinyakov/firewatch/internal/backend"
	"github.com/atinyakov/firewatch/internal/reactive"
)

// Phase is the lifecycle position of a collection subscription.
type Phase string

const (
	// PhasePending is the initial phase, before the first auth callback.
	PhasePending Phase = "pending"
	// PhaseUnauthenticated means no principal is signed in.
	PhaseUnauthenticated Phase = "unauthenticated"
	// PhaseFetching means a data listener is open and awaiting its first snapshot.
	PhaseFetching Phase = "fetching"
	// PhaseLive means the last snapshot was applied.
	PhaseLive Phase = "live"
	// PhaseErrored means the data stream failed or could not be opened.
	PhaseErrored Phase = "errored"
)

// State is the observable {data, loading, error} triple of one collection.
type State struct {
	Phase   Phase
	Data    []backend.Document
	Loading bool
	Err     error
}

// View is a read-only handle on a collection's live state. Every caller
// requesting the same collection gets a view over the same cell.
type View struct {
	name string
	cell *reactive.Cell[State]
}

// Name returns the collection name.
func (v *View) Name() string { return v.name }

// Snapshot returns the current state. Data is a deep copy, so callers may
// modify it freely.
func (v *View) Snapshot() State {
	return cloneState(v.cell.Get())
}

// Data returns the current documents.
func (v *View) Data() []backend.Document { return v.Snapshot().Data }

// Loading reports whether a fetch is outstanding.
func (v *View) Loading() bool { return v.cell.Get().Loading }

// Err returns the current failure, or nil.
func (v *View) Err() error { return v.cell.Get().Err }

// Watch streams state changes; see reactive.Cell.Watch. Every received
// state carries its own copy of Data. The channel is closed when the
// collection is disposed.
func (v *View) Watch() (<-chan State, reactive.CancelFunc) {
	states, cancel := v.cell.Watch()
	out := make(chan State, 1)
	stop := make(chan struct{})
	go func() {
		defer close(out)
		for s := range states {
			select {
			case out <- cloneState(s):
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
	}
}

func cloneState(s State) State {
	s.Data = backend.CloneDocuments(s.Data)
	return s
}

// Transition describes one state change, delivered to observers.
type Transition struct {
	Collection string
	From       Phase
	To         Phase
	Documents  int
	Err        error
	At         time.Time
}

// Observer receives transitions. Observe must not block and must not call
// back into the registry.
type Observer interface {
	Observe(Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Transition)

// Observe calls f(t).
func (f ObserverFunc) Observe(t Transition) { f(t) }
