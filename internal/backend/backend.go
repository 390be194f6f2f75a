// Package backend defines the collaborators the subscription registry
// consumes: an authentication state stream, a real-time collection stream,
// and the application contexts that bundle them.
package backend

import "sync"

// CancelFunc cancels a listener. Implementations must make it idempotent.
type CancelFunc func()

// Once wraps fn so that only the first call runs it.
func Once(fn func()) CancelFunc {
	var once sync.Once
	return func() { once.Do(fn) }
}

// Principal is the signed-in identity reported by an AuthSource.
type Principal struct {
	// UID is the backend user identifier.
	UID string
	// Email is the principal's email address, if known.
	Email string
	// Claims holds the verified token claims.
	Claims map[string]any
}

// Document is one entry of a collection snapshot.
type Document struct {
	// ID is the document identifier within its collection.
	ID string
	// Fields is the document's field map.
	Fields map[string]any
}

// Clone returns a deep copy of d. Nested maps and slices are copied too;
// other values are shared.
func (d Document) Clone() Document {
	if d.Fields == nil {
		return Document{ID: d.ID}
	}
	return Document{ID: d.ID, Fields: cloneMap(d.Fields)}
}

// CloneDocuments deep-copies docs. The result is never nil.
func CloneDocuments(docs []Document) []Document {
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = d.Clone()
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Flatten returns the document as a single record: its fields plus "id".
// The document identifier wins over a field named "id".
func (d Document) Flatten() map[string]any {
	out := make(map[string]any, len(d.Fields)+1)
	for k, v := range d.Fields {
		out[k] = v
	}
	out["id"] = d.ID
	return out
}

// AuthSource reports authentication state transitions.
type AuthSource interface {
	// OnAuthStateChanged registers fn. fn is called immediately with the
	// current principal (nil when signed out) and again on every
	// transition, in order.
	OnAuthStateChanged(fn func(*Principal)) CancelFunc
}

// CollectionSource opens real-time listeners on named collections.
type CollectionSource interface {
	// Listen subscribes to name. onSnapshot receives the full ordered
	// document list on the initial load and after every change; onError
	// receives a stream-level failure, after which no more callbacks
	// arrive. A non-nil error means the listener could not be opened.
	Listen(name string, onSnapshot func([]Document), onError func(error)) (CancelFunc, error)
}

// App bundles the backend services of one application context.
type App struct {
	// Name identifies the app within an Apps set.
	Name string
	// Collections is the app's real-time collection stream.
	Collections CollectionSource
	// Auth is the app's authentication state stream.
	Auth AuthSource
}
