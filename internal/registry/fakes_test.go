package registry

import (
	"sync"

	"github.com/atinyakov/firewatch/internal/backend"
)

// fakeAuth is an AuthSource driven by the test.
type fakeAuth struct {
	mu        sync.Mutex
	current   *backend.Principal
	listeners map[int]func(*backend.Principal)
	nextID    int
	attached  int
	cancelled int
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{listeners: make(map[int]func(*backend.Principal))}
}

func (f *fakeAuth) OnAuthStateChanged(fn func(*backend.Principal)) backend.CancelFunc {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.attached++
	current := f.current
	f.mu.Unlock()

	fn(current)
	return backend.Once(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
		f.cancelled++
	})
}

func (f *fakeAuth) emit(p *backend.Principal) {
	f.mu.Lock()
	f.current = p
	fns := make([]func(*backend.Principal), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}

func (f *fakeAuth) signIn(uid string) { f.emit(&backend.Principal{UID: uid}) }
func (f *fakeAuth) signOut()          { f.emit(nil) }

func (f *fakeAuth) counts() (attached, active int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attached, len(f.listeners)
}

// fakeListener is one Listen call on fakeCollections.
type fakeListener struct {
	name       string
	onSnapshot func([]backend.Document)
	onError    func(error)

	mu        sync.Mutex
	cancelled int
}

func (l *fakeListener) cancelCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancelled
}

// fakeCollections is a CollectionSource driven by the test.
type fakeCollections struct {
	mu        sync.Mutex
	listeners []*fakeListener
	failWith  error
	// initial, when set, is delivered synchronously from Listen.
	initial []backend.Document
}

func (f *fakeCollections) Listen(name string, onSnapshot func([]backend.Document), onError func(error)) (backend.CancelFunc, error) {
	f.mu.Lock()
	if f.failWith != nil {
		err := f.failWith
		f.mu.Unlock()
		return nil, err
	}
	l := &fakeListener{name: name, onSnapshot: onSnapshot, onError: onError}
	f.listeners = append(f.listeners, l)
	initial := f.initial
	f.mu.Unlock()

	if initial != nil {
		onSnapshot(initial)
	}
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.cancelled++
	}, nil
}

func (f *fakeCollections) all() []*fakeListener {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeListener(nil), f.listeners...)
}

func (f *fakeCollections) last() *fakeListener {
	all := f.all()
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

// activeFor counts listeners on name that were never cancelled.
func (f *fakeCollections) activeFor(name string) int {
	n := 0
	for _, l := range f.all() {
		if l.name == name && l.cancelCount() == 0 {
			n++
		}
	}
	return n
}

func doc(id string, fields map[string]any) backend.Document {
	return backend.Document{ID: id, Fields: fields}
}
