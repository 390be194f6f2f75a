// Package http provides HTTP handlers for collection subscriptions.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/atinyakov/firewatch/internal/models"
	"github.com/atinyakov/firewatch/internal/reactive"
	"github.com/atinyakov/firewatch/internal/registry"
	"github.com/atinyakov/firewatch/internal/service"
	"github.com/go-chi/chi/v5"
)

// CollectionService defines the collection operations required by the
// CollectionHandler.
type CollectionService interface {
	// Subscribe ensures every name is subscribed and returns their states in request order.
	Subscribe(names []string) ([]models.CollectionState, error)
	// Get returns the state of one subscribed collection.
	Get(name string) (models.CollectionState, error)
	// List returns the states of all subscribed collections.
	List() []models.CollectionState
	// Watch streams the states of one collection until cancel is called.
	Watch(name string) (<-chan models.CollectionState, reactive.CancelFunc, error)
	// Dispose tears down a subscription, optionally purging its journal.
	Dispose(ctx context.Context, name string, purge bool) error
	// History returns recent journal entries of a collection.
	History(ctx context.Context, name string, limit int) ([]models.JournalEntry, error)
}

// CollectionHandler handles HTTP requests for collection subscriptions.
type CollectionHandler struct {
	CollectionService CollectionService
}

// Subscribe handles POST /api/collections.
// It expects a JSON body {"names": [...]} and responds with the states of
// the named collections in request order.
func (h *CollectionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req models.SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Names) == 0 {
		writeError(w, http.StatusBadRequest, registry.KindInvalidName, "invalid request")
		return
	}

	states, err := h.CollectionService.Subscribe(req.Names)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

// List handles GET /api/collections.
func (h *CollectionHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.CollectionService.List())
}

// Get handles GET /api/collections/{name}.
func (h *CollectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.CollectionService.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Dispose handles DELETE /api/collections/{name}. With ?purge=true the
// collection's journal entries are removed too.
func (h *CollectionHandler) Dispose(w http.ResponseWriter, r *http.Request) {
	purge, _ := strconv.ParseBool(r.URL.Query().Get("purge"))
	if err := h.CollectionService.Dispose(r.Context(), chi.URLParam(r, "name"), purge); err != nil {
		writeRegistryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History handles GET /api/collections/{name}/history?limit=N.
func (h *CollectionHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, KindInvalidRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := h.CollectionService.History(r.Context(), chi.URLParam(r, "name"), limit)
	if errors.Is(err, service.ErrJournalDisabled) {
		writeError(w, http.StatusNotFound, KindJournalDisabled, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, registry.KindUnknown, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// Events handles GET /api/collections/{name}/events. It streams every
// state of the collection as a server-sent "state" event until the client
// goes away or the collection is disposed.
func (h *CollectionHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, registry.KindUnknown, "streaming unsupported")
		return
	}

	states, cancel, err := h.CollectionService.Watch(chi.URLParam(r, "name"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			payload, err := json.Marshal(st)
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeRegistryError maps registry failures to HTTP status codes.
func writeRegistryError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrNotSubscribed):
		status = http.StatusNotFound
	case errors.Is(err, registry.ErrInvalidName):
		status = http.StatusBadRequest
	case errors.Is(err, registry.ErrNoBackendInitialized),
		errors.Is(err, registry.ErrRegistryClosed):
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, registry.Kind(err), err.Error())
}

// Error kinds the handlers report in addition to the registry kinds.
const (
	KindInvalidRequest  = "invalid_request"
	KindJournalDisabled = "journal_disabled"
	KindInvalidToken    = "invalid_token"
)

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]models.ErrorBody{
		"error": {Kind: kind, Message: message},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
