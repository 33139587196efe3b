package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/peerchat/internal/models"
	"github.com/eldtechnologies/peerchat/internal/replication"
	"github.com/eldtechnologies/peerchat/internal/router"
	"github.com/eldtechnologies/peerchat/internal/store"
)

// memTransport runs each replica's store in-process and records every write.
type memTransport struct {
	mu      sync.Mutex
	stores  map[string]*store.Store
	failing map[string]bool // peer address -> fail data writes
	writes  []models.Envelope
}

func newMemTransport(t *testing.T, peers []router.Peer) *memTransport {
	t.Helper()
	mt := &memTransport{stores: map[string]*store.Store{}, failing: map[string]bool{}}
	for _, p := range peers {
		b, err := store.NewFileBackend(t.TempDir(), store.DefaultShardDepth)
		require.NoError(t, err)
		mt.stores[p.Address] = store.New(b, store.Options{
			PollAttempts: 2,
			PollInterval: 10 * time.Millisecond,
			Logger:       zerolog.Nop(),
		})
	}
	return mt
}

func (mt *memTransport) Update(ctx context.Context, peer router.Peer, env models.Envelope) error {
	mt.mu.Lock()
	mt.writes = append(mt.writes, env)
	fail := mt.failing[peer.Address]
	mt.mu.Unlock()
	if fail && env.Type == models.TypeData {
		return errors.New("unreachable")
	}
	_, err := mt.stores[peer.Address].Update(ctx, &env)
	return err
}

func (mt *memTransport) Poll(ctx context.Context, peer router.Peer, env models.Envelope) (*models.View, error) {
	return mt.stores[peer.Address].LongPollRead(ctx, &env)
}

func newTestService(t *testing.T) (*Service, *memTransport) {
	t.Helper()
	r := router.New([]string{"a:1", "b:2", "c:3"}, 3)
	mt := newMemTransport(t, r.Peers())
	coord := replication.NewCoordinator(mt, replication.MergeUnion, zerolog.Nop())
	return NewService(r, coord, zerolog.Nop()), mt
}

func TestPlaceAndPoll(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.PlaceMessage(ctx, "chatA", []byte("hello"))
	require.NoError(t, err)
	require.Len(t, id, 64)

	update, err := svc.PollIndex(ctx, "chatA", map[string]uint64{})
	require.NoError(t, err)
	require.Equal(t, ChatID("chatA"), update.Node)
	require.Len(t, update.Entries, 1)
	require.Equal(t, id, update.Entries[0].EntryID)
	require.Len(t, update.Versions, 3)

	msg, err := svc.PollMessage(ctx, "chatA", id)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), msg.Payload)

	// Nothing new: every replica runs out its budget.
	again, err := svc.PollIndex(ctx, "chatA", update.Versions)
	require.NoError(t, err)
	require.Empty(t, again.Entries)
	require.Equal(t, update.Versions, again.Versions)
}

func TestPlaceMessageSkipsIndexWhenDataFails(t *testing.T) {
	svc, mt := newTestService(t)
	mt.failing["b:2"] = true

	_, err := svc.PlaceMessage(context.Background(), "chatA", []byte("hello"))
	require.Error(t, err)

	var werr *replication.WriteError
	require.True(t, errors.As(err, &werr))

	for _, w := range mt.writes {
		require.Equal(t, models.TypeData, w.Type, "index append must not be attempted")
	}
	require.Len(t, mt.writes, 3)
}

func TestPollMessageMissing(t *testing.T) {
	svc, _ := newTestService(t)

	start := time.Now()
	msg, err := svc.PollMessage(context.Background(), "chatA", "unknown")
	require.NoError(t, err)
	require.Nil(t, msg.Payload)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.PlaceMessage(ctx, "", []byte("x"))
	require.ErrorIs(t, err, ErrEmptyChat)
	_, err = svc.PollIndex(ctx, "", nil)
	require.ErrorIs(t, err, ErrEmptyChat)
	_, err = svc.PollMessage(ctx, "chat", "")
	require.ErrorIs(t, err, ErrEmptyNode)
}
