package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/peerchat/internal/crypto"
	"github.com/eldtechnologies/peerchat/internal/models"
)

// These tests need live services and run only when their URLs are set.

func TestPostgresBackend(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	require.NoError(t, RunMigrations(ctx, url))
	b, err := NewPostgresBackend(ctx, url)
	require.NoError(t, err)
	defer b.Close()

	exerciseBackend(t, b)
}

func TestRedisBackendAndNotifier(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()

	client, err := NewRedisClient(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	exerciseBackend(t, NewRedisBackend(client))

	notifier, err := NewRedisNotifier(ctx, client, zerolog.Nop())
	require.NoError(t, err)
	defer notifier.Close()

	key := crypto.NewUniqueID()
	wake, cancel := notifier.Subscribe(key)
	defer cancel()
	notifier.Publish(ctx, key)

	select {
	case <-wake:
	case <-time.After(2 * time.Second):
		t.Fatal("redis notification not relayed")
	}
}

func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()
	s := New(b, Options{PollAttempts: 1, PollInterval: 10 * time.Millisecond, Logger: zerolog.Nop()})

	chat := crypto.NewUniqueID()
	for _, id := range []string{"a", "b", "a"} {
		_, err := s.Update(ctx, &models.Envelope{Node: chat, Chat: chat, Type: models.TypeIndex, Append: id})
		require.NoError(t, err)
	}

	view, err := s.LongPollRead(ctx, &models.Envelope{Node: chat, Chat: chat, Type: models.TypeIndex})
	require.NoError(t, err)
	require.Equal(t, uint64(3), view.Version)
	require.Len(t, view.Entries, 2)

	_, err = s.Update(ctx, &models.Envelope{Node: chat, Chat: chat, Type: models.TypeData, Payload: []byte("x")})
	require.ErrorIs(t, err, ErrMismatch)
	require.NoError(t, b.Ping(ctx))
}
