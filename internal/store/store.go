package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/peerchat/internal/metrics"
	"github.com/eldtechnologies/peerchat/internal/models"
)

const (
	DefaultPollAttempts = 60
	DefaultPollInterval = time.Second
)

var (
	// ErrMalformed marks an envelope missing node, chat or type.
	ErrMalformed = errors.New("malformed envelope")
	// ErrMismatch marks a request whose type or chat disagrees with the stored record.
	ErrMismatch = errors.New("record mismatch")
)

// MismatchError reports which immutable field of a record a request disagreed with.
type MismatchError struct {
	Field     string // "type" or "chat"
	Stored    string
	Requested string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s mismatch: stored %q, requested %q", e.Field, e.Stored, e.Requested)
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrMismatch
}

// Backend persists records. Both the file and the database backends implement it.
type Backend interface {
	// Connection management
	Name() string
	Ping(ctx context.Context) error
	Close() error

	// Load returns the stored record, or nil when the key was never written.
	Load(ctx context.Context, key string) (*models.Record, error)
	// Mutate atomically replaces the record with fn's result. fn receives nil
	// when the key was never written. Nothing is persisted when fn fails.
	Mutate(ctx context.Context, key string, fn func(*models.Record) (*models.Record, error)) (*models.Record, error)
}

// Options tune a Store.
type Options struct {
	PollAttempts int
	PollInterval time.Duration
	Notifier     Notifier
	Logger       zerolog.Logger
	Now          func() time.Time
}

// Store applies the record semantics on top of a Backend: per-key locking,
// immutable type/chat, versioning, idempotent index appends and long-poll reads.
type Store struct {
	backend  Backend
	locks    *keyLocks
	notifier Notifier
	attempts int
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a Store over backend.
func New(backend Backend, opts Options) *Store {
	if opts.PollAttempts < 0 {
		opts.PollAttempts = 0
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Notifier == nil {
		opts.Notifier = NewLocalNotifier()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Store{
		backend:  backend,
		locks:    newKeyLocks(),
		notifier: opts.Notifier,
		attempts: opts.PollAttempts,
		interval: opts.PollInterval,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// Ping checks the backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Backend returns the name of the underlying backend.
func (s *Store) Backend() string {
	return s.backend.Name()
}

// PollBudget is the longest a LongPollRead waits before reporting no change.
func (s *Store) PollBudget() time.Duration {
	return time.Duration(s.attempts) * s.interval
}

// Update applies a write envelope under the record's exclusive lock.
func (s *Store) Update(ctx context.Context, env *models.Envelope) (*models.Record, error) {
	if err := validate(env); err != nil {
		return nil, err
	}

	key := env.Key()
	unlock := s.locks.Lock(key)
	start := time.Now()
	rec, err := s.backend.Mutate(ctx, key, func(current *models.Record) (*models.Record, error) {
		return s.apply(current, env)
	})
	metrics.BackendLatency.WithLabelValues(s.backend.Name(), "mutate").Observe(time.Since(start).Seconds())
	unlock()

	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrMismatch) {
			outcome = "mismatch"
			s.logger.Warn().
				Err(err).
				Str("chat", env.Chat).
				Str("node", env.Node).
				Msg("update rejected")
		}
		metrics.RecordUpdates.WithLabelValues(string(env.Type), outcome).Inc()
		return nil, err
	}

	metrics.RecordUpdates.WithLabelValues(string(env.Type), "accepted").Inc()
	s.notifier.Publish(ctx, key)

	return rec, nil
}

// apply merges env into current. It never mutates current.
func (s *Store) apply(current *models.Record, env *models.Envelope) (*models.Record, error) {
	next := current.Clone()
	if next == nil {
		next = &models.Record{}
	}

	if next.Exists() {
		if err := checkMatch(next, env); err != nil {
			return nil, err
		}
	} else {
		next.Type = env.Type
		next.ChatID = env.Chat
	}

	// Every accepted write bumps the version, duplicate appends included, so
	// pollers always observe a change.
	next.Version++

	switch next.Type {
	case models.TypeIndex:
		if env.Append != "" && !next.HasEntry(env.Append) {
			next.Entries = append(next.Entries, models.Entry{
				EntryID:   env.Append,
				Version:   next.Version,
				Timestamp: s.now().UnixMilli(),
			})
		}
	case models.TypeData:
		if env.Payload != nil {
			next.Payload = append([]byte(nil), env.Payload...)
		}
	}

	return next, nil
}

// LongPollRead blocks until the record's version differs from env.Version or
// the poll budget elapses. A nil view with a nil error means "no change, try
// again". No lock is held while waiting.
func (s *Store) LongPollRead(ctx context.Context, env *models.Envelope) (*models.View, error) {
	if err := validate(env); err != nil {
		return nil, err
	}

	key := env.Key()
	attempts := s.attempts
	if env.NoWait {
		attempts = 0
	}

	start := time.Now()
	defer func() {
		metrics.PollWait.Observe(time.Since(start).Seconds())
	}()

	for waited := 0; ; {
		// Subscribe before loading so a write landing between the load and
		// the wait still wakes us.
		wake, cancel := s.notifier.Subscribe(key)

		rec, err := s.load(ctx, key)
		if err != nil {
			cancel()
			metrics.Polls.WithLabelValues("error").Inc()
			return nil, err
		}

		if rec.Exists() {
			if err := checkMatch(rec, env); err != nil {
				cancel()
				metrics.Polls.WithLabelValues("mismatch").Inc()
				s.logger.Warn().
					Err(err).
					Str("chat", env.Chat).
					Str("node", env.Node).
					Msg("poll rejected")
				return nil, err
			}
			if env.Version == nil || *env.Version != rec.Version {
				cancel()
				metrics.Polls.WithLabelValues("changed").Inc()
				return rec.View(env.Version), nil
			}
		}

		if waited >= attempts {
			cancel()
			metrics.Polls.WithLabelValues("timeout").Inc()
			return nil, nil
		}

		timer := time.NewTimer(s.interval)
		select {
		case <-wake:
		case <-timer.C:
			waited++
		case <-ctx.Done():
			timer.Stop()
			cancel()
			metrics.Polls.WithLabelValues("canceled").Inc()
			return nil, ctx.Err()
		}
		timer.Stop()
		cancel()
	}
}

// load reads a record under the shared lock.
func (s *Store) load(ctx context.Context, key string) (*models.Record, error) {
	unlock := s.locks.RLock(key)
	defer unlock()

	start := time.Now()
	rec, err := s.backend.Load(ctx, key)
	metrics.BackendLatency.WithLabelValues(s.backend.Name(), "load").Observe(time.Since(start).Seconds())
	return rec, err
}

func validate(env *models.Envelope) error {
	if env == nil || env.Node == "" || env.Chat == "" || env.Type == "" {
		return ErrMalformed
	}
	if !env.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
	}
	if strings.ContainsAny(env.Node, "/\\\x00") || strings.ContainsAny(env.Chat, "/\\\x00") {
		return fmt.Errorf("%w: invalid characters in key", ErrMalformed)
	}
	return nil
}

func checkMatch(rec *models.Record, env *models.Envelope) error {
	if rec.Type != env.Type {
		return &MismatchError{Field: "type", Stored: string(rec.Type), Requested: string(env.Type)}
	}
	if rec.ChatID != env.Chat {
		return &MismatchError{Field: "chat", Stored: rec.ChatID, Requested: env.Chat}
	}
	return nil
}
