package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atinyakov/firewatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", srv.Client())
}

func TestSignIn(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/session", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req models.SessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tok", req.IDToken)
		_ = json.NewEncoder(w).Encode(models.Session{SignedIn: true, UID: "u1"})
	})

	s, err := c.SignIn(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, models.Session{SignedIn: true, UID: "u1"}, s)
}

func TestBearerTokenFollowsSession(t *testing.T) {
	var gotAuth atomic.Value
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/session":
			_ = json.NewEncoder(w).Encode(models.Session{SignedIn: true, UID: "u1"})
		case r.Method == http.MethodDelete && r.URL.Path == "/api/session":
			_ = json.NewEncoder(w).Encode(models.Session{})
		default:
			_ = json.NewEncoder(w).Encode([]models.CollectionState{})
		}
	})
	ctx := context.Background()

	_, err := c.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, gotAuth.Load(), "no token before sign-in")

	_, err = c.SignIn(ctx, "tok")
	require.NoError(t, err)
	_, err = c.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth.Load())

	_, err = c.SignOut(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth.Load(), "sign-out itself is authorized")

	_, err = c.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, gotAuth.Load(), "token dropped after sign-out")
}

func TestSignIn_FailureKeepsToken(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = fmt.Fprint(w, `{"error":{"kind":"invalid_token","message":"invalid id token"}}`)
	})
	c.SetToken("old")

	_, err := c.SignIn(context.Background(), "bad")
	require.Error(t, err)
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, "old", c.token)
}

func TestSubscribeAndCache(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req models.SubscribeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		out := []models.CollectionState{}
		for _, n := range req.Names {
			out = append(out, models.CollectionState{Name: n, Phase: "fetching", Loading: true})
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	states, err := c.Subscribe(context.Background(), []string{"users", "orders"})
	require.NoError(t, err)
	require.Len(t, states, 2)

	st, ok := c.Cached("orders")
	require.True(t, ok)
	assert.True(t, st.Loading)

	_, ok = c.Cached("ghost")
	assert.False(t, ok)
}

func TestGet_APIError(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/collections/ghost", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = fmt.Fprint(w, `{"error":{"kind":"not_subscribed","message":"\"ghost\": collection not subscribed"}}`)
	})

	_, err := c.Get(context.Background(), "ghost")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "not_subscribed", apiErr.Kind)
}

func TestPlainTextError(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "journal disabled", http.StatusNotFound)
	})

	_, err := c.History(context.Background(), "users", 0)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Empty(t, apiErr.Kind)
	assert.Equal(t, "journal disabled", apiErr.Message)
}

func TestHistoryAndDispose(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "/api/collections/users/history", r.URL.Path)
			assert.Equal(t, "3", r.URL.Query().Get("limit"))
			_ = json.NewEncoder(w).Encode([]models.JournalEntry{{ID: "e1", To: "live"}})
		case http.MethodDelete:
			assert.Equal(t, "true", r.URL.Query().Get("purge"))
			w.WriteHeader(http.StatusNoContent)
		}
	})

	entries, err := c.History(context.Background(), "users", 3)
	require.NoError(t, err)
	assert.Equal(t, "e1", entries[0].ID)

	c.store(models.CollectionState{Name: "users"})
	require.NoError(t, c.Dispose(context.Background(), "users", true))
	_, ok := c.Cached("users")
	assert.False(t, ok)
}

func TestWatch(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/collections/users/events", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, ": connected\n\n")
		_, _ = fmt.Fprint(w, "event: state\ndata: {\"name\":\"users\",\"phase\":\"fetching\",\"loading\":true}\n\n")
		_, _ = fmt.Fprint(w, "event: other\ndata: {\"name\":\"users\",\"phase\":\"bogus\"}\n\n")
		_, _ = fmt.Fprint(w, "event: state\ndata: {\"name\":\"users\",\"phase\":\"live\",\"data\":[{\"id\":\"a\"}]}\n\n")
	})

	ch, err := c.Watch(context.Background(), "users", func(err error) { t.Errorf("unexpected watch error: %v", err) })
	require.NoError(t, err)

	var phases []string
	for st := range ch {
		phases = append(phases, st.Phase)
	}
	assert.Equal(t, []string{"fetching", "live"}, phases)

	st, ok := c.Cached("users")
	require.True(t, ok)
	assert.Equal(t, "live", st.Phase)
}

func TestWatch_NotSubscribed(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = fmt.Fprint(w, `{"error":{"kind":"not_subscribed","message":"nope"}}`)
	})

	_, err := c.Watch(context.Background(), "ghost", nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "not_subscribed", apiErr.Kind)
}

func TestWatch_SendsBearerToken(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
	})
	c.SetToken("tok")

	ch, err := c.Watch(context.Background(), "users", nil)
	require.NoError(t, err)
	for range ch {
	}
}

func TestWatch_ReportsStreamErrors(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, "event: state\ndata: {not json}\n\n")
		_, _ = fmt.Fprint(w, "event: state\ndata: {\"name\":\"users\",\"phase\":\"live\"}\n\n")
		_, _ = fmt.Fprint(w, "event: state\ndata: "+strings.Repeat("x", maxEventSize+1)+"\n\n")
	})

	var errs []error
	ch, err := c.Watch(context.Background(), "users", func(err error) { errs = append(errs, err) })
	require.NoError(t, err)

	var phases []string
	for st := range ch {
		phases = append(phases, st.Phase)
	}
	assert.Equal(t, []string{"live"}, phases)

	require.Len(t, errs, 2)
	var syntaxErr *json.SyntaxError
	assert.True(t, errors.As(errs[0], &syntaxErr), "first error %v", errs[0])
	assert.ErrorIs(t, errs[1], bufio.ErrTooLong)
}

func TestWatch_CancelIsNotAnError(t *testing.T) {
	started := make(chan struct{})
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, "event: state\ndata: {\"name\":\"users\",\"phase\":\"live\"}\n\n")
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.Watch(ctx, "users", func(err error) { t.Errorf("unexpected watch error: %v", err) })
	require.NoError(t, err)

	<-started
	st := <-ch
	assert.Equal(t, "live", st.Phase)
	cancel()
	for range ch {
	}
}

func TestStartAutoRefresh(t *testing.T) {
	var calls atomic.Int32
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		_ = json.NewEncoder(w).Encode([]models.CollectionState{{Name: "users", Phase: fmt.Sprintf("p%d", n)}})
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartAutoRefresh(ctx, 10*time.Millisecond, func(err error) { t.Errorf("unexpected refresh error: %v", err) })

	require.Eventually(t, func() bool {
		_, ok := c.Cached("users")
		return ok && calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)
}
