package replication

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/peerchat/internal/crypto"
	"github.com/eldtechnologies/peerchat/internal/metrics"
	"github.com/eldtechnologies/peerchat/internal/models"
	"github.com/eldtechnologies/peerchat/internal/router"
)

// MergePolicy decides how per-replica read responses are combined.
type MergePolicy string

const (
	// MergeUnion unions index entries by ID and keeps the highest-version payload.
	MergeUnion MergePolicy = "union"
	// MergeLast keeps whatever the last responding replica (in replica order) returned.
	MergeLast MergePolicy = "last"
)

// ParseMergePolicy maps a config string to a policy, defaulting to union.
func ParseMergePolicy(s string) MergePolicy {
	if MergePolicy(strings.ToLower(strings.TrimSpace(s))) == MergeLast {
		return MergeLast
	}
	return MergeUnion
}

var ErrNoReplicas = errors.New("no replicas selected")

// PeerError is one replica's failure.
type PeerError struct {
	Peer string
	Err  error
}

// WriteError reports a fan-out write that some replicas did not accept.
// Replicas that did accept keep the write.
type WriteError struct {
	Total  int
	Failed []PeerError
}

func (e *WriteError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Peer, f.Err))
	}
	return fmt.Sprintf("write accepted by %d of %d replicas (%s)",
		e.Total-len(e.Failed), e.Total, strings.Join(parts, "; "))
}

func (e *WriteError) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f.Err
	}
	return errs
}

// Merged is the combined result of a fan-in read.
type Merged struct {
	Node     string
	Entries  []models.Entry
	Payload  []byte
	Versions map[string]uint64 // replica ID -> last observed version
}

// Coordinator fans writes out to, and reads in from, a replica set.
type Coordinator struct {
	transport Transport
	policy    MergePolicy
	logger    zerolog.Logger
}

// NewCoordinator creates a coordinator.
func NewCoordinator(transport Transport, policy MergePolicy, logger zerolog.Logger) *Coordinator {
	if policy == "" {
		policy = MergeUnion
	}
	return &Coordinator{transport: transport, policy: policy, logger: logger}
}

// Policy returns the configured merge policy.
func (c *Coordinator) Policy() MergePolicy {
	return c.policy
}

// ReplicateWrite sends env to every replica at once and waits for all of
// them. It returns nil only if every replica accepted the write; otherwise a
// *WriteError. Nothing is rolled back.
func (c *Coordinator) ReplicateWrite(ctx context.Context, replicas []router.Peer, env models.Envelope) error {
	if len(replicas) == 0 {
		return ErrNoReplicas
	}

	ctx, reqID := ensureRequestID(ctx)

	errs := make([]error, len(replicas))
	var wg sync.WaitGroup
	for i, peer := range replicas {
		wg.Add(1)
		go func(i int, peer router.Peer) {
			defer wg.Done()
			errs[i] = c.transport.Update(ctx, peer, env)
		}(i, peer)
	}
	wg.Wait()

	var failed []PeerError
	for i, err := range errs {
		if err != nil {
			metrics.PeerRequests.WithLabelValues("store", "error").Inc()
			c.logger.Warn().
				Err(err).
				Str("request_id", reqID).
				Str("peer", replicas[i].Address).
				Str("chat", env.Chat).
				Str("node", env.Node).
				Msg("replica write failed")
			failed = append(failed, PeerError{Peer: replicas[i].Address, Err: err})
			continue
		}
		metrics.PeerRequests.WithLabelValues("store", "ok").Inc()
	}

	if len(failed) > 0 {
		metrics.ReplicatedWrites.WithLabelValues("partial").Inc()
		return &WriteError{Total: len(replicas), Failed: failed}
	}
	metrics.ReplicatedWrites.WithLabelValues("ok").Inc()
	return nil
}

// ReplicateRead long-polls every replica at once, each with the version last
// observed from that replica, waits for all of them and merges the answers.
// Failed or timed-out replicas contribute nothing.
func (c *Coordinator) ReplicateRead(ctx context.Context, replicas []router.Peer, env models.Envelope, known map[string]uint64) *Merged {
	ctx, reqID := ensureRequestID(ctx)

	views := make([]*models.View, len(replicas))
	var wg sync.WaitGroup
	for i, peer := range replicas {
		req := env
		req.Version = nil
		if v, ok := known[peer.ID()]; ok {
			req = req.WithVersion(v)
		}

		wg.Add(1)
		go func(i int, peer router.Peer, req models.Envelope) {
			defer wg.Done()
			view, err := c.transport.Poll(ctx, peer, req)
			if err != nil {
				metrics.PeerRequests.WithLabelValues("retrieve", "error").Inc()
				c.logger.Debug().
					Err(err).
					Str("request_id", reqID).
					Str("peer", peer.Address).
					Str("chat", req.Chat).
					Str("node", req.Node).
					Msg("replica read failed")
				return
			}
			if view != nil && (view.Type != req.Type || view.ChatID != req.Chat) {
				metrics.PeerRequests.WithLabelValues("retrieve", "error").Inc()
				c.logger.Warn().
					Str("request_id", reqID).
					Str("peer", peer.Address).
					Msg("replica returned a different record")
				return
			}
			metrics.PeerRequests.WithLabelValues("retrieve", "ok").Inc()
			views[i] = view
		}(i, peer, req)
	}
	wg.Wait()

	merged := &Merged{
		Node:     env.Node,
		Entries:  []models.Entry{},
		Versions: make(map[string]uint64, len(replicas)),
	}
	for _, peer := range replicas {
		if v, ok := known[peer.ID()]; ok {
			merged.Versions[peer.ID()] = v
		}
	}
	for i, view := range views {
		if view != nil {
			merged.Versions[replicas[i].ID()] = view.Version
		}
	}

	switch c.policy {
	case MergeLast:
		mergeLast(merged, views)
	default:
		mergeUnion(merged, views)
	}

	return merged
}

// mergeLast keeps the entries and payload of the last replica that answered.
func mergeLast(m *Merged, views []*models.View) {
	for _, view := range views {
		if view == nil {
			continue
		}
		if view.Type == models.TypeIndex {
			m.Entries = append([]models.Entry{}, view.Entries...)
		}
		if view.Payload != nil {
			m.Payload = view.Payload
		}
	}
}

// mergeUnion combines index entries from all replicas, one per entry ID
// ordered by timestamp, and picks the payload with the highest version.
func mergeUnion(m *Merged, views []*models.View) {
	seen := make(map[string]struct{})
	var best uint64
	for _, view := range views {
		if view == nil {
			continue
		}
		for _, e := range view.Entries {
			if _, ok := seen[e.EntryID]; ok {
				continue
			}
			seen[e.EntryID] = struct{}{}
			m.Entries = append(m.Entries, e)
		}
		if view.Payload != nil && (m.Payload == nil || view.Version > best) {
			m.Payload = view.Payload
			best = view.Version
		}
	}

	sort.SliceStable(m.Entries, func(i, j int) bool {
		return m.Entries[i].Timestamp < m.Entries[j].Timestamp
	})
}

// ensureRequestID keeps the caller's correlation id, or mints one.
func ensureRequestID(ctx context.Context) (context.Context, string) {
	if id := RequestIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := crypto.NewRequestID()
	return WithRequestID(ctx, id), id
}
