package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/peerchat/internal/models"
)

const (
	// notifyChannel carries the keys of updated records between processes.
	notifyChannel = "peerchat:records"
	// maxTxRetries bounds optimistic transaction retries under contention.
	maxTxRetries = 32
)

// NewRedisClient parses redisURL and checks the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

// recordKey returns the Redis key holding a record.
func recordKey(key string) string {
	return fmt.Sprintf("record:%s", key)
}

// RedisBackend stores each record as a JSON string. Writes run as
// WATCH/MULTI transactions and retry when another writer got there first.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend creates a backend on an existing client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Name() string { return "redis" }

// Client exposes the underlying connection for the rate limiter and notifier.
func (b *RedisBackend) Client() *redis.Client {
	return b.client
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// Ping checks the Redis connection.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) Load(ctx context.Context, key string) (*models.Record, error) {
	data, err := b.client.Get(ctx, recordKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return decodeRecord(data)
}

func (b *RedisBackend) Mutate(ctx context.Context, key string, fn func(*models.Record) (*models.Record, error)) (*models.Record, error) {
	rkey := recordKey(key)

	var next *models.Record
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, rkey).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		current, err := decodeRecord(data)
		if err != nil {
			return err
		}

		next, err = fn(current)
		if err != nil {
			return err
		}

		encoded, err := encodeRecord(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rkey, encoded, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := b.client.Watch(ctx, txf, rkey)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}

	return nil, fmt.Errorf("update %s: too much contention", key)
}

// RedisNotifier fans record updates out to every process subscribed to the
// same Redis, then wakes local readers.
type RedisNotifier struct {
	client *redis.Client
	pubsub *redis.PubSub
	local  *LocalNotifier
	logger zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewRedisNotifier subscribes to the update channel and starts relaying.
func NewRedisNotifier(ctx context.Context, client *redis.Client, logger zerolog.Logger) (*RedisNotifier, error) {
	pubsub := client.Subscribe(ctx, notifyChannel)
	// Wait for the subscription to be confirmed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	n := &RedisNotifier{
		client: client,
		pubsub: pubsub,
		local:  NewLocalNotifier(),
		logger: logger,
		done:   make(chan struct{}),
	}
	go n.relay()

	return n, nil
}

func (n *RedisNotifier) relay() {
	defer close(n.done)
	for msg := range n.pubsub.Channel() {
		n.local.Publish(context.Background(), msg.Payload)
	}
}

func (n *RedisNotifier) Subscribe(key string) (<-chan struct{}, func()) {
	return n.local.Subscribe(key)
}

// Publish announces key on Redis. Local readers are woken directly when
// Redis is unreachable; other processes then fall back to interval polling.
func (n *RedisNotifier) Publish(ctx context.Context, key string) {
	if err := n.client.Publish(ctx, notifyChannel, key).Err(); err != nil {
		n.logger.Warn().Err(err).Str("key", key).Msg("redis publish failed")
		n.local.Publish(ctx, key)
	}
}

// Close stops relaying. The client itself is not closed.
func (n *RedisNotifier) Close() error {
	var err error
	n.closeOnce.Do(func() {
		err = n.pubsub.Close()
		<-n.done
	})
	return err
}
