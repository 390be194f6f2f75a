// Package models defines the data structures shared by the HTTP API, the
// client, and the lifecycle journal.
package models

import "time"

// CollectionState is the wire form of one collection's live state.
type CollectionState struct {
	// Name is the collection name.
	Name string `json:"name"`
	// Phase is the lifecycle phase ("pending", "unauthenticated", "fetching", "live", "errored").
	Phase string `json:"phase"`
	// Loading is true while a fetch is outstanding.
	Loading bool `json:"loading"`
	// Data holds the documents, each flattened to its fields plus "id".
	Data []map[string]any `json:"data"`
	// Error describes the current failure, if any.
	Error *ErrorBody `json:"error"`
}

// ErrorBody describes a failure.
type ErrorBody struct {
	// Kind is a stable machine-readable error kind.
	Kind string `json:"kind"`
	// Message is the human-readable error text.
	Message string `json:"message"`
}

// SubscribeRequest is the body of POST /api/collections.
type SubscribeRequest struct {
	Names []string `json:"names"`
}

// SessionRequest is the body of POST /api/session.
type SessionRequest struct {
	IDToken string `json:"id_token"`
}

// Session describes the signed-in principal.
type Session struct {
	// SignedIn is false when nobody is signed in.
	SignedIn bool `json:"signed_in"`
	// UID is the principal's user id.
	UID string `json:"uid,omitempty"`
	// Email is the principal's email, if known.
	Email string `json:"email,omitempty"`
}

// JournalEntry is one recorded state transition of a collection.
type JournalEntry struct {
	// ID is the unique identifier of the entry.
	ID string `json:"id"`
	// Collection is the collection name.
	Collection string `json:"collection"`
	// From is the phase before the transition.
	From string `json:"from"`
	// To is the phase after the transition.
	To string `json:"to"`
	// Documents is the number of documents held after the transition.
	Documents int `json:"documents"`
	// ErrorKind is the error kind after the transition, empty when healthy.
	ErrorKind string `json:"error_kind,omitempty"`
	// ErrorMessage is the error text after the transition.
	ErrorMessage string `json:"error_message,omitempty"`
	// CreatedAt is when the transition happened.
	CreatedAt time.Time `json:"created_at"`
}
