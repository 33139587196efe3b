package replication

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/peerchat/internal/models"
	"github.com/eldtechnologies/peerchat/internal/router"
)

func peerFor(srv *httptest.Server) router.Peer {
	return router.NewPeer(strings.TrimPrefix(srv.URL, "http://"))
}

func TestHTTPTransportUpdate(t *testing.T) {
	type received struct {
		env   models.Envelope
		reqID string
	}
	got := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, StorePath, r.URL.Path)
		var env models.Envelope
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &env))
		got <- received{env: env, reqID: r.Header.Get("X-Request-Id")}
		w.Write([]byte(DoneToken))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(time.Second, time.Second)
	ctx := WithRequestID(context.Background(), "req-1")
	env := models.Envelope{Node: "n", Chat: "c", Type: models.TypeData, Payload: []byte("p")}
	require.NoError(t, tr.Update(ctx, peerFor(srv), env))

	r := <-got
	require.Equal(t, env, r.env)
	require.Equal(t, "req-1", r.reqID)
}

func TestHTTPTransportUpdateErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Mode") == "conflict" {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error":"type mismatch"}`))
			return
		}
		w.Write([]byte("nope"))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(time.Second, time.Second)
	err := tr.Update(context.Background(), peerFor(srv), models.Envelope{Node: "n", Chat: "c", Type: models.TypeData})
	require.ErrorIs(t, err, ErrUnexpectedResponse)

	tr.HTTPClient.Transport = headerTransport{"X-Mode", "conflict"}
	err = tr.Update(context.Background(), peerFor(srv), models.Envelope{Node: "n", Chat: "c", Type: models.TypeData})
	require.ErrorIs(t, err, ErrRejected)
}

type headerTransport struct{ key, value string }

func (h headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r.Header.Set(h.key, h.value)
	return http.DefaultTransport.RoundTrip(r)
}

func TestHTTPTransportPoll(t *testing.T) {
	var full atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, RetrievePath, r.URL.Path)
		var env models.Envelope
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		if !full.Load() {
			return
		}
		if assert.NotNil(t, env.Version) {
			assert.Equal(t, uint64(2), *env.Version)
		}
		json.NewEncoder(w).Encode(models.View{
			Type:    models.TypeIndex,
			ChatID:  "c",
			Version: 3,
			Entries: []models.Entry{{EntryID: "x", Version: 3}},
		})
	}))
	defer srv.Close()

	tr := NewHTTPTransport(time.Second, time.Second)
	env := models.Envelope{Node: "c", Chat: "c", Type: models.TypeIndex}

	view, err := tr.Poll(context.Background(), peerFor(srv), env)
	require.NoError(t, err)
	require.Nil(t, view)

	full.Store(true)
	view, err = tr.Poll(context.Background(), peerFor(srv), env.WithVersion(2))
	require.NoError(t, err)
	require.Equal(t, uint64(3), view.Version)
	require.Len(t, view.Entries, 1)
}

func TestHTTPTransportTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	tr := NewHTTPTransport(50*time.Millisecond, 50*time.Millisecond)
	start := time.Now()
	_, err := tr.Poll(context.Background(), peerFor(srv), models.Envelope{Node: "c", Chat: "c", Type: models.TypeIndex})
	require.Error(t, err)
	require.Less(t, time.Since(start), time.Second)
}

func TestPeerURL(t *testing.T) {
	require.Equal(t, "http://a:1/store", peerURL(router.NewPeer("a:1"), StorePath))
	require.Equal(t, "https://a:1/store", peerURL(router.NewPeer("https://a:1/"), StorePath))
}

func TestEnsureRequestID(t *testing.T) {
	ctx, id := ensureRequestID(WithRequestID(context.Background(), "req-7"))
	require.Equal(t, "req-7", id)
	require.Equal(t, "req-7", RequestIDFromContext(ctx))

	ctx, id = ensureRequestID(context.Background())
	require.Len(t, id, 36)
	require.Equal(t, id, RequestIDFromContext(ctx))
}
