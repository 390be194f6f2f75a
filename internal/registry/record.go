package registry

import (
	"sync"
	"time"

	"github.com/atinyakov/firewatch/internal/backend"
	"github.com/atinyakov/firewatch/internal/reactive"
	"go.uber.org/zap"
)

// record is the subscription of one collection.
//
// authMu serializes auth callbacks and disposal, so the data listener is
// opened and cancelled by one goroutine at a time. mu guards the fields
// below it and is held only for short state updates, never across calls
// into the backend.
type record struct {
	name    string
	sources Backend
	cell    *reactive.Cell[State]
	log     *zap.Logger
	notify  func(Transition)

	authMu     sync.Mutex
	cancelAuth backend.CancelFunc

	mu         sync.Mutex
	cancelData backend.CancelFunc
	generation uint64
	disposed   bool
}

func newRecord(name string, sources Backend, log *zap.Logger, notify func(Transition)) *record {
	return &record{
		name:    name,
		sources: sources,
		cell:    reactive.NewCell(State{Phase: PhasePending, Data: []backend.Document{}, Loading: true}),
		log:     log.With(zap.String("collection", name)),
		notify:  notify,
	}
}

func (rec *record) view() *View {
	return &View{name: rec.name, cell: rec.cell}
}

// attach registers the auth listener. The listener may fire before attach
// returns.
func (rec *record) attach() {
	cancel := rec.sources.Auth.OnAuthStateChanged(rec.onAuth)

	rec.authMu.Lock()
	defer rec.authMu.Unlock()
	rec.mu.Lock()
	disposed := rec.disposed
	rec.mu.Unlock()
	if disposed {
		if cancel != nil {
			cancel()
		}
		return
	}
	rec.cancelAuth = cancel
}

func (rec *record) onAuth(p *backend.Principal) {
	rec.authMu.Lock()
	defer rec.authMu.Unlock()

	if p == nil {
		rec.signedOut()
		return
	}
	rec.signedIn(p)
}

// signedIn must be called with authMu held.
func (rec *record) signedIn(p *backend.Principal) {
	rec.mu.Lock()
	if rec.disposed || rec.cancelData != nil {
		rec.mu.Unlock()
		return
	}
	rec.generation++
	gen := rec.generation
	t := rec.applyLocked(func(s *State) {
		s.Phase = PhaseFetching
		s.Loading = true
	})
	rec.emit(t)
	rec.mu.Unlock()
	rec.log.Debug("opening data listener", zap.String("uid", p.UID))

	cancel, err := rec.sources.Collections.Listen(
		rec.name,
		func(docs []backend.Document) { rec.onSnapshot(gen, docs) },
		func(err error) { rec.onStreamError(gen, err) },
	)

	rec.mu.Lock()
	if err != nil {
		rec.log.Error("failed to open data listener", zap.Error(err))
		if gen != rec.generation || rec.disposed {
			rec.mu.Unlock()
			return
		}
		t := rec.applyLocked(func(s *State) {
			s.Phase = PhaseErrored
			s.Loading = false
			s.Err = &SetupError{Collection: rec.name, Err: err}
		})
		rec.emit(t)
		rec.mu.Unlock()
		return
	}
	if cancel == nil {
		cancel = func() {}
	}
	cancel = backend.Once(cancel)
	if gen != rec.generation || rec.disposed {
		// The stream failed before Listen returned.
		rec.mu.Unlock()
		cancel()
		return
	}
	rec.cancelData = cancel
	rec.mu.Unlock()
}

// signedOut must be called with authMu held.
func (rec *record) signedOut() {
	rec.mu.Lock()
	if rec.disposed {
		rec.mu.Unlock()
		return
	}
	rec.generation++
	cancel := rec.cancelData
	rec.cancelData = nil
	rec.mu.Unlock()

	if cancel != nil {
		rec.log.Debug("closing data listener")
		cancel()
	}

	rec.mu.Lock()
	t := rec.applyLocked(func(s *State) {
		s.Phase = PhaseUnauthenticated
		s.Data = []backend.Document{}
		s.Loading = false
		s.Err = ErrAuthenticationRequired
	})
	rec.emit(t)
	rec.mu.Unlock()
}

func (rec *record) onSnapshot(gen uint64, docs []backend.Document) {
	docs = backend.CloneDocuments(docs)
	rec.mu.Lock()
	if gen != rec.generation || rec.disposed {
		rec.mu.Unlock()
		return
	}
	t := rec.applyLocked(func(s *State) {
		s.Phase = PhaseLive
		s.Data = docs
		s.Loading = false
		s.Err = nil
	})
	rec.emit(t)
	rec.mu.Unlock()
}

// onStreamError keeps the last data and releases the dead listener, so the
// next signed-in callback opens a fresh one.
func (rec *record) onStreamError(gen uint64, err error) {
	rec.mu.Lock()
	if gen != rec.generation || rec.disposed {
		rec.mu.Unlock()
		return
	}
	rec.generation++
	cancel := rec.cancelData
	rec.cancelData = nil
	t := rec.applyLocked(func(s *State) {
		s.Phase = PhaseErrored
		s.Loading = false
		s.Err = &StreamError{Collection: rec.name, Err: err}
	})
	rec.log.Warn("data stream failed", zap.Error(err))
	rec.emit(t)
	rec.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// dispose cancels both listeners and completes the cell.
func (rec *record) dispose() {
	rec.authMu.Lock()
	defer rec.authMu.Unlock()

	rec.mu.Lock()
	if rec.disposed {
		rec.mu.Unlock()
		return
	}
	rec.disposed = true
	rec.generation++
	cancelData := rec.cancelData
	rec.cancelData = nil
	rec.mu.Unlock()

	if cancelData != nil {
		cancelData()
	}
	if rec.cancelAuth != nil {
		rec.cancelAuth()
		rec.cancelAuth = nil
	}
	rec.cell.Close()
}

// applyLocked must be called with mu held.
func (rec *record) applyLocked(fn func(*State)) Transition {
	var t Transition
	rec.cell.Update(func(s State) State {
		from := s.Phase
		fn(&s)
		t = Transition{
			Collection: rec.name,
			From:       from,
			To:         s.Phase,
			Documents:  len(s.Data),
			Err:        s.Err,
			At:         time.Now(),
		}
		return s
	})
	return t
}

// emit must be called with mu held, so observers see transitions in the
// order they were applied to the cell.
func (rec *record) emit(t Transition) {
	rec.log.Debug("state transition",
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
		zap.Int("documents", t.Documents),
		zap.Error(t.Err),
	)
	if rec.notify != nil {
		rec.notify(t)
	}
}
