package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/peerchat/internal/models"
)

// testBackends returns the backends every store test runs against.
func testBackends(t *testing.T) map[string]Backend {
	t.Helper()

	file, err := NewFileBackend(t.TempDir(), DefaultShardDepth)
	require.NoError(t, err)

	sqlite, err := NewSQLiteBackend(context.Background(), filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Backend{
		"file":   file,
		"sqlite": sqlite,
	}
}

func newTestStore(b Backend, attempts int, interval time.Duration) *Store {
	return New(b, Options{
		PollAttempts: attempts,
		PollInterval: interval,
		Logger:       zerolog.Nop(),
	})
}

func indexEnv(chat, node, appendID string) *models.Envelope {
	return &models.Envelope{Node: node, Chat: chat, Type: models.TypeIndex, Append: appendID}
}

func dataEnv(chat, node, payload string) *models.Envelope {
	return &models.Envelope{Node: node, Chat: chat, Type: models.TypeData, Payload: []byte(payload)}
}

func pollEnv(chat, node string, typ models.RecordType, known *uint64) *models.Envelope {
	return &models.Envelope{Node: node, Chat: chat, Type: typ, Version: known}
}

func u64(v uint64) *uint64 { return &v }

func TestUpdateVersionIncrementsByOne(t *testing.T) {
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(b, 0, 10*time.Millisecond)
			ctx := context.Background()

			ids := []string{"a", "b", "a", "c", "c"}
			for i, id := range ids {
				rec, err := s.Update(ctx, indexEnv("chat", "chat", id))
				require.NoError(t, err)
				require.Equal(t, uint64(i+1), rec.Version, "write %d", i)
			}

			rec, err := b.Load(ctx, "chat_chat")
			require.NoError(t, err)
			require.Equal(t, uint64(5), rec.Version)
		})
	}
}

func TestUpdateIdempotentAppend(t *testing.T) {
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(b, 0, 10*time.Millisecond)
			ctx := context.Background()

			_, err := s.Update(ctx, indexEnv("chat", "chat", "msg-1"))
			require.NoError(t, err)
			rec, err := s.Update(ctx, indexEnv("chat", "chat", "msg-1"))
			require.NoError(t, err)

			require.Len(t, rec.Entries, 1)
			require.Equal(t, "msg-1", rec.Entries[0].EntryID)
			require.Equal(t, uint64(1), rec.Entries[0].Version)
			require.Equal(t, uint64(2), rec.Version)
		})
	}
}

func TestUpdateDataReplacesPayload(t *testing.T) {
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(b, 0, 10*time.Millisecond)
			ctx := context.Background()

			_, err := s.Update(ctx, dataEnv("chat", "n1", "hello"))
			require.NoError(t, err)
			rec, err := s.Update(ctx, dataEnv("chat", "n1", "bye"))
			require.NoError(t, err)
			require.Equal(t, []byte("bye"), rec.Payload)
			require.Equal(t, uint64(2), rec.Version)
			require.Empty(t, rec.Entries)
		})
	}
}

func TestUpdateRejectsMismatch(t *testing.T) {
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(b, 0, 10*time.Millisecond)
			ctx := context.Background()

			_, err := s.Update(ctx, dataEnv("chat", "n1", "hello"))
			require.NoError(t, err)

			// Same key, other type.
			_, err = s.Update(ctx, &models.Envelope{Node: "n1", Chat: "chat", Type: models.TypeIndex, Append: "x"})
			require.ErrorIs(t, err, ErrMismatch)
			var mismatch *MismatchError
			require.True(t, errors.As(err, &mismatch))
			assert.Equal(t, "type", mismatch.Field)
			assert.Equal(t, "data", mismatch.Stored)

			rec, err := b.Load(ctx, "chat_n1")
			require.NoError(t, err)
			require.Equal(t, uint64(1), rec.Version)
			require.Equal(t, models.TypeData, rec.Type)
			require.Empty(t, rec.Entries)

			// A record whose stored chat differs from the request.
			_, err = b.Mutate(ctx, "chat_n2", func(*models.Record) (*models.Record, error) {
				return &models.Record{Type: models.TypeData, ChatID: "other", Version: 1, Payload: []byte("x")}, nil
			})
			require.NoError(t, err)

			_, err = s.Update(ctx, dataEnv("chat", "n2", "y"))
			require.True(t, errors.As(err, &mismatch))
			assert.Equal(t, "chat", mismatch.Field)

			rec, err = b.Load(ctx, "chat_n2")
			require.NoError(t, err)
			require.Equal(t, []byte("x"), rec.Payload)
			require.Equal(t, uint64(1), rec.Version)
		})
	}
}

func TestMalformedEnvelope(t *testing.T) {
	b, err := NewFileBackend(t.TempDir(), DefaultShardDepth)
	require.NoError(t, err)
	s := newTestStore(b, 0, 10*time.Millisecond)
	ctx := context.Background()

	cases := []*models.Envelope{
		nil,
		{Chat: "c", Type: models.TypeData},
		{Node: "n", Type: models.TypeData},
		{Node: "n", Chat: "c"},
		{Node: "n", Chat: "c", Type: "blob"},
		{Node: "../../etc", Chat: "c", Type: models.TypeData},
	}
	for i, env := range cases {
		_, err := s.Update(ctx, env)
		require.ErrorIs(t, err, ErrMalformed, "case %d", i)
		_, err = s.LongPollRead(ctx, env)
		require.ErrorIs(t, err, ErrMalformed, "case %d", i)
	}
}

func TestLongPollReturnsPromptlyOnChange(t *testing.T) {
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(b, 60, time.Second)
			ctx := context.Background()

			_, err := s.Update(ctx, dataEnv("chat", "n1", "hello"))
			require.NoError(t, err)

			start := time.Now()
			view, err := s.LongPollRead(ctx, pollEnv("chat", "n1", models.TypeData, nil))
			require.NoError(t, err)
			require.NotNil(t, view)
			require.Equal(t, []byte("hello"), view.Payload)
			require.Equal(t, uint64(1), view.Version)

			view, err = s.LongPollRead(ctx, pollEnv("chat", "n1", models.TypeData, u64(7)))
			require.NoError(t, err)
			require.NotNil(t, view)
			require.Less(t, time.Since(start), 500*time.Millisecond)
		})
	}
}

func TestLongPollTimesOutEmpty(t *testing.T) {
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(b, 3, 20*time.Millisecond)
			ctx := context.Background()

			rec, err := s.Update(ctx, indexEnv("chat", "chat", "a"))
			require.NoError(t, err)

			start := time.Now()
			view, err := s.LongPollRead(ctx, pollEnv("chat", "chat", models.TypeIndex, u64(rec.Version)))
			require.NoError(t, err)
			require.Nil(t, view)
			require.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
		})
	}
}

func TestLongPollWakesOnWrite(t *testing.T) {
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			// A long interval proves the reader is woken by the write, not by the timer.
			s := newTestStore(b, 5, 10*time.Second)
			ctx := context.Background()

			rec, err := s.Update(ctx, indexEnv("chat", "chat", "a"))
			require.NoError(t, err)

			type result struct {
				view *models.View
				err  error
			}
			done := make(chan result, 1)
			go func() {
				v, err := s.LongPollRead(ctx, pollEnv("chat", "chat", models.TypeIndex, u64(rec.Version)))
				done <- result{v, err}
			}()

			time.Sleep(50 * time.Millisecond)
			_, err = s.Update(ctx, indexEnv("chat", "chat", "b"))
			require.NoError(t, err)

			select {
			case r := <-done:
				require.NoError(t, r.err)
				require.NotNil(t, r.view)
				require.Equal(t, uint64(2), r.view.Version)
				require.Len(t, r.view.Entries, 1)
				require.Equal(t, "b", r.view.Entries[0].EntryID)
			case <-time.After(3 * time.Second):
				t.Fatal("poll was not woken by the write")
			}
		})
	}
}

func TestLongPollWaitsForCreation(t *testing.T) {
	b, err := NewFileBackend(t.TempDir(), DefaultShardDepth)
	require.NoError(t, err)
	s := newTestStore(b, 5, 10*time.Second)
	ctx := context.Background()

	done := make(chan *models.View, 1)
	go func() {
		v, _ := s.LongPollRead(ctx, pollEnv("chat", "chat", models.TypeIndex, nil))
		done <- v
	}()

	time.Sleep(30 * time.Millisecond)
	_, err = s.Update(ctx, indexEnv("chat", "chat", "first"))
	require.NoError(t, err)

	select {
	case v := <-done:
		require.NotNil(t, v)
		require.Len(t, v.Entries, 1)
	case <-time.After(3 * time.Second):
		t.Fatal("poll did not observe record creation")
	}
}

func TestLongPollNoWaitOnAbsentRecord(t *testing.T) {
	b, err := NewFileBackend(t.TempDir(), DefaultShardDepth)
	require.NoError(t, err)
	s := newTestStore(b, 60, time.Second)

	env := pollEnv("chat", "missing", models.TypeData, nil)
	env.NoWait = true

	start := time.Now()
	view, err := s.LongPollRead(context.Background(), env)
	require.NoError(t, err)
	require.Nil(t, view)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestLongPollWrongTypeFailsImmediately(t *testing.T) {
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(b, 60, time.Second)
			ctx := context.Background()

			_, err := s.Update(ctx, dataEnv("chat", "n1", "hello"))
			require.NoError(t, err)

			start := time.Now()
			view, err := s.LongPollRead(ctx, pollEnv("chat", "n1", models.TypeIndex, nil))
			require.ErrorIs(t, err, ErrMismatch)
			require.Nil(t, view)
			require.Less(t, time.Since(start), 500*time.Millisecond)
		})
	}
}

func TestLongPollCanceled(t *testing.T) {
	b, err := NewFileBackend(t.TempDir(), DefaultShardDepth)
	require.NoError(t, err)
	s := newTestStore(b, 60, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = s.LongPollRead(ctx, pollEnv("chat", "chat", models.TypeIndex, nil))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentAppends(t *testing.T) {
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(b, 0, 10*time.Millisecond)
			ctx := context.Background()

			const writers = 20
			var wg sync.WaitGroup
			errs := make(chan error, writers)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := s.Update(ctx, indexEnv("chat", "chat", fmt.Sprintf("m%d", i)))
					errs <- err
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			rec, err := b.Load(ctx, "chat_chat")
			require.NoError(t, err)
			require.Equal(t, uint64(writers), rec.Version)
			require.Len(t, rec.Entries, writers)

			seen := make(map[uint64]bool)
			for _, e := range rec.Entries {
				require.False(t, seen[e.Version], "entry version %d reused", e.Version)
				seen[e.Version] = true
			}
			require.Zero(t, s.locks.size())
		})
	}
}
