package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/eldtechnologies/peerchat/internal/models"
	"github.com/eldtechnologies/peerchat/internal/router"
)

const (
	// DoneToken is the body a replica answers an accepted write with.
	DoneToken = "done"

	StorePath    = "/store"
	RetrievePath = "/retrieve"

	DefaultWriteTimeout = 5 * time.Second
	DefaultReadTimeout  = 65 * time.Second
)

var (
	// ErrRejected means the replica refused the request (mismatch or malformed).
	ErrRejected = errors.New("replica rejected request")
	// ErrUnexpectedResponse means the replica answered with something other than the protocol allows.
	ErrUnexpectedResponse = errors.New("unexpected replica response")
)

// Transport talks to a single replica's store.
type Transport interface {
	Update(ctx context.Context, peer router.Peer, env models.Envelope) error
	// Poll returns nil when the replica had nothing new before its poll budget ran out.
	Poll(ctx context.Context, peer router.Peer, env models.Envelope) (*models.View, error)
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

// WithRequestID tags outgoing peer requests with a correlation id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the correlation id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// HTTPTransport reaches replicas over their HTTP peer endpoints.
type HTTPTransport struct {
	HTTPClient   *http.Client
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// NewHTTPTransport creates a transport with per-call timeouts. The read
// timeout must exceed the replicas' long-poll budget.
func NewHTTPTransport(writeTimeout, readTimeout time.Duration) *HTTPTransport {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	return &HTTPTransport{
		HTTPClient:   &http.Client{},
		WriteTimeout: writeTimeout,
		ReadTimeout:  readTimeout,
	}
}

// peerURL builds the endpoint URL; bare host:port addresses default to http.
func peerURL(peer router.Peer, path string) string {
	if strings.Contains(peer.Address, "://") {
		return strings.TrimRight(peer.Address, "/") + path
	}
	return "http://" + peer.Address + path
}

// doRequest performs a PUT with a JSON envelope and returns the response body.
func (t *HTTPTransport) doRequest(ctx context.Context, peer router.Peer, path string, env models.Envelope, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, peerURL(peer, path), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if id := RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-Id", id)
	}

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		if resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: %d %s", ErrRejected, resp.StatusCode, errResp.Error)
		}
		return nil, fmt.Errorf("peer %s error %d: %s", peer.Address, resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}

func (t *HTTPTransport) Update(ctx context.Context, peer router.Peer, env models.Envelope) error {
	body, err := t.doRequest(ctx, peer, StorePath, env, t.WriteTimeout)
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(body)) != DoneToken {
		return fmt.Errorf("%w: %q", ErrUnexpectedResponse, body)
	}
	return nil
}

func (t *HTTPTransport) Poll(ctx context.Context, peer router.Peer, env models.Envelope) (*models.View, error) {
	body, err := t.doRequest(ctx, peer, RetrievePath, env, t.ReadTimeout)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var view models.View
	if err := json.Unmarshal(body, &view); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	if view.Type == models.TypeData && view.Payload == nil {
		// An empty payload is omitted on the wire.
		view.Payload = []byte{}
	}
	return &view, nil
}
