package backend

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// DefaultAppName is the name given to an app registered without one.
const DefaultAppName = "[DEFAULT]"

// ErrDuplicateApp is returned when an app name is registered twice.
var ErrDuplicateApp = errors.New("app already registered")

// Apps is the set of initialized application contexts of a process.
// The first registered app is the default one.
type Apps struct {
	mu    sync.RWMutex
	apps  map[string]*App
	order []string
}

// NewApps returns an empty set.
func NewApps() *Apps {
	return &Apps{apps: make(map[string]*App)}
}

// Register adds app to the set. An empty name becomes DefaultAppName.
func (a *Apps) Register(app *App) error {
	if app == nil {
		return errors.New("nil app")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if app.Name == "" {
		app.Name = DefaultAppName
	}
	if _, ok := a.apps[app.Name]; ok {
		return fmt.Errorf("register %q: %w", app.Name, ErrDuplicateApp)
	}
	a.apps[app.Name] = app
	a.order = append(a.order, app.Name)
	return nil
}

// Get returns the app registered under name.
func (a *Apps) Get(name string) (*App, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	app, ok := a.apps[name]
	return app, ok
}

// Default returns the app named DefaultAppName if present, else the first
// registered app, else nil.
func (a *Apps) Default() *App {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if app, ok := a.apps[DefaultAppName]; ok {
		return app
	}
	if len(a.order) == 0 {
		return nil
	}
	return a.apps[a.order[0]]
}

// Names returns the registered app names, sorted.
func (a *Apps) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := append([]string(nil), a.order...)
	sort.Strings(names)
	return names
}
