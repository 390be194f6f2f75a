// Package client talks to the firewatch HTTP API and keeps a local cache
// of the collection states it has seen.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/atinyakov/firewatch/internal/models"
)

// maxEventSize bounds one line of the event stream.
const maxEventSize = 4 * 1024 * 1024

// APIError is a non-2xx response of the server.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// Client is an API client. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.Mutex
	token string
	cache map[string]models.CollectionState
}

// New returns a Client for baseURL. A nil httpClient means http.DefaultClient.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		cache:   make(map[string]models.CollectionState),
	}
}

// SignIn sends idToken to the server and returns the new session. On
// success idToken becomes the bearer token of every later request.
func (c *Client) SignIn(ctx context.Context, idToken string) (models.Session, error) {
	var s models.Session
	if err := c.do(ctx, http.MethodPost, "/api/session", models.SessionRequest{IDToken: idToken}, &s); err != nil {
		return s, err
	}
	c.SetToken(idToken)
	return s, nil
}

// SignOut ends the server session and forgets the bearer token.
func (c *Client) SignOut(ctx context.Context) (models.Session, error) {
	var s models.Session
	if err := c.do(ctx, http.MethodDelete, "/api/session", nil, &s); err != nil {
		return s, err
	}
	c.SetToken("")
	return s, nil
}

// SetToken sets the ID token sent as "Authorization: Bearer" without
// signing in, for a server session that is already open.
func (c *Client) SetToken(idToken string) {
	c.mu.Lock()
	c.token = idToken
	c.mu.Unlock()
}

// Session returns the server's current session.
func (c *Client) Session(ctx context.Context) (models.Session, error) {
	var s models.Session
	err := c.do(ctx, http.MethodGet, "/api/session", nil, &s)
	return s, err
}

// Subscribe asks the server to subscribe names and returns their states.
func (c *Client) Subscribe(ctx context.Context, names []string) ([]models.CollectionState, error) {
	var states []models.CollectionState
	if err := c.do(ctx, http.MethodPost, "/api/collections", models.SubscribeRequest{Names: names}, &states); err != nil {
		return nil, err
	}
	c.store(states...)
	return states, nil
}

// Get fetches the state of one collection.
func (c *Client) Get(ctx context.Context, name string) (models.CollectionState, error) {
	var st models.CollectionState
	if err := c.do(ctx, http.MethodGet, "/api/collections/"+url.PathEscape(name), nil, &st); err != nil {
		return st, err
	}
	c.store(st)
	return st, nil
}

// List fetches the states of every subscribed collection.
func (c *Client) List(ctx context.Context) ([]models.CollectionState, error) {
	var states []models.CollectionState
	if err := c.do(ctx, http.MethodGet, "/api/collections", nil, &states); err != nil {
		return nil, err
	}
	c.store(states...)
	return states, nil
}

// Dispose drops a subscription on the server and from the cache.
func (c *Client) Dispose(ctx context.Context, name string, purge bool) error {
	path := "/api/collections/" + url.PathEscape(name)
	if purge {
		path += "?purge=true"
	}
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.cache, name)
	c.mu.Unlock()
	return nil
}

// History fetches journal entries of name. limit <= 0 uses the server default.
func (c *Client) History(ctx context.Context, name string, limit int) ([]models.JournalEntry, error) {
	path := "/api/collections/" + url.PathEscape(name) + "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var entries []models.JournalEntry
	err := c.do(ctx, http.MethodGet, path, nil, &entries)
	return entries, err
}

// Watch streams the states of name until ctx is cancelled or the server
// ends the stream. The returned channel is closed when streaming stops.
// A broken stream or an undecodable event goes to onErr, which may be nil.
// Errors caused by cancelling ctx are not reported.
func (c *Client) Watch(ctx context.Context, name string, onErr func(error)) (<-chan models.CollectionState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/collections/"+url.PathEscape(name)+"/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("watch failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	ch := make(chan models.CollectionState)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		report := func(err error) {
			if onErr != nil && ctx.Err() == nil {
				onErr(err)
			}
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), maxEventSize)
		event := ""
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "" || strings.HasPrefix(line, ":"):
				continue
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: ") && event == "state":
				var st models.CollectionState
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &st); err != nil {
					report(fmt.Errorf("decode %s event: %w", name, err))
					continue
				}
				c.store(st)
				select {
				case ch <- st:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			report(fmt.Errorf("watch %s: %w", name, err))
		}
	}()
	return ch, nil
}

// Cached returns the last state seen for name.
func (c *Client) Cached(name string) (models.CollectionState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.cache[name]
	return st, ok
}

// StartAutoRefresh refreshes the cache from List every interval until ctx
// is cancelled. Errors go to onErr, which may be nil.
func (c *Client) StartAutoRefresh(ctx context.Context, interval time.Duration, onErr func(error)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.List(ctx); err != nil && onErr != nil && ctx.Err() == nil {
					onErr(err)
				}
			}
		}
	}()
}

func (c *Client) store(states ...models.CollectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range states {
		c.cache[st.Name] = st
	}
}

func (c *Client) authorize(req *http.Request) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeError reads either a JSON {"error": {...}} body or a plain-text one.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}

	var body struct {
		Error *models.ErrorBody `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != nil {
		apiErr.Kind = body.Error.Kind
		apiErr.Message = body.Error.Message
	}
	return apiErr
}
