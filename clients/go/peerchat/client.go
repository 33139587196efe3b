// Package peerchat provides a client for a peerchat node's chat endpoints.
package peerchat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNotFound is returned by Message when no replica holds the message.
var ErrNotFound = errors.New("message not found")

// Client is a peerchat API client. It remembers, per chat, the index versions
// it has observed on each replica so repeated polls only return new entries.
type Client struct {
	BaseURL    string
	ConfigDir  string
	HTTPClient *http.Client

	mu       sync.Mutex
	versions map[string]map[string]uint64 // chat -> replica ID -> version
}

// NewClient creates a new client. Saved poll state is loaded from ConfigDir
// when present.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	configDir := os.Getenv("PEERCHAT_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".peerchat")
	}

	c := &Client{
		BaseURL:   baseURL,
		ConfigDir: configDir,
		// Polls are bounded by the server's budget; the context bounds the rest.
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
		versions:   make(map[string]map[string]uint64),
	}

	_ = c.LoadState()
	return c
}

func (c *Client) stateFile() string {
	return filepath.Join(c.ConfigDir, "versions.json")
}

// LoadState loads the observed index versions from disk.
func (c *Client) LoadState() error {
	data, err := os.ReadFile(c.stateFile())
	if err != nil {
		return err
	}

	versions := make(map[string]map[string]uint64)
	if err := json.Unmarshal(data, &versions); err != nil {
		return err
	}

	c.mu.Lock()
	c.versions = versions
	c.mu.Unlock()
	return nil
}

// SaveState saves the observed index versions to disk.
func (c *Client) SaveState() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	c.mu.Lock()
	data, err := json.MarshalIndent(c.versions, "", "  ")
	c.mu.Unlock()
	if err != nil {
		return err
	}

	return os.WriteFile(c.stateFile(), data, 0600)
}

// Versions returns a copy of the versions observed for chat.
func (c *Client) Versions(chat string) map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]uint64, len(c.versions[chat]))
	for k, v := range c.versions[chat] {
		out[k] = v
	}
	return out
}

// Reset forgets the versions observed for chat so the next poll returns the
// whole index.
func (c *Client) Reset(chat string) {
	c.mu.Lock()
	delete(c.versions, chat)
	c.mu.Unlock()
}

// doRequest performs a JSON request and decodes the response into out.
func (c *Client) doRequest(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return fmt.Errorf("peerchat error %d: %s", resp.StatusCode, errResp.Error)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// PushRequest is the request body for placing a message.
type PushRequest struct {
	Chat string `json:"chat"`
	Data string `json:"data"`
}

// PushResponse is the response from placing a message.
type PushResponse struct {
	Node string `json:"node"`
}

// Push places a message in chat and returns its node ID.
func (c *Client) Push(ctx context.Context, chat, data string) (string, error) {
	var resp PushResponse
	if err := c.doRequest(ctx, http.MethodPut, "/push", PushRequest{Chat: chat, Data: data}, &resp); err != nil {
		return "", err
	}
	return resp.Node, nil
}

// Entry is one message listed in a chat's index.
type Entry struct {
	EntryID   string `json:"entryID"`
	Version   uint64 `json:"version"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// Time returns when the entry was appended.
func (e Entry) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// PollRequest is the request body for polling a chat's index.
type PollRequest struct {
	Chat string            `json:"chat"`
	UIDs map[string]uint64 `json:"uids"`
}

// PollResponse is the response from polling a chat's index.
type PollResponse struct {
	Node     string            `json:"node"`
	Messages []Entry           `json:"messages"`
	UIDs     map[string]uint64 `json:"uids"`
}

// Poll waits for index entries the client has not seen yet. An empty result
// means the server's poll budget ran out; call again.
func (c *Client) Poll(ctx context.Context, chat string) ([]Entry, error) {
	var resp PollResponse
	req := PollRequest{Chat: chat, UIDs: c.Versions(chat)}
	if err := c.doRequest(ctx, http.MethodPut, "/poll", req, &resp); err != nil {
		return nil, err
	}

	if len(resp.UIDs) > 0 {
		c.mu.Lock()
		c.versions[chat] = resp.UIDs
		c.mu.Unlock()
	}
	return resp.Messages, nil
}

// MessageRequest is the request body for fetching a message.
type MessageRequest struct {
	Chat string `json:"chat"`
	Node string `json:"node"`
}

// MessageResponse is the response from fetching a message.
type MessageResponse struct {
	Node string  `json:"node"`
	Data *string `json:"data"`
}

// Message fetches one message's payload.
func (c *Client) Message(ctx context.Context, chat, node string) (string, error) {
	var resp MessageResponse
	if err := c.doRequest(ctx, http.MethodPut, "/message", MessageRequest{Chat: chat, Node: node}, &resp); err != nil {
		return "", err
	}
	if resp.Data == nil {
		return "", ErrNotFound
	}
	return *resp.Data, nil
}

// Received is a message delivered by Follow.
type Received struct {
	Entry
	Data string
}

// Follow polls chat until ctx is done or fn returns an error, calling fn once
// per new message in index order. Entries whose payload cannot be fetched
// yet are retried on the next round.
func (c *Client) Follow(ctx context.Context, chat string, fn func(Received) error) error {
	seen := make(map[string]bool)
	var pending []Entry

	for {
		entries, err := c.Poll(ctx, chat)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		pending = append(pending, entries...)
		var retry []Entry
		for _, e := range pending {
			if seen[e.EntryID] {
				continue
			}
			data, err := c.Message(ctx, chat, e.EntryID)
			if errors.Is(err, ErrNotFound) {
				retry = append(retry, e)
				continue
			}
			if err != nil {
				return err
			}
			seen[e.EntryID] = true
			if err := fn(Received{Entry: e, Data: data}); err != nil {
				return err
			}
		}
		pending = retry

		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
