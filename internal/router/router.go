// Package router picks the replicas responsible for a key by XOR distance
// between hashed peer addresses and the hashed key.
package router

import (
	"bytes"
	"sort"

	"github.com/eldtechnologies/peerchat/internal/crypto"
)

// DefaultReplicas is the replica count used when none is configured.
const DefaultReplicas = 3

// Peer is a replica instance.
type Peer struct {
	Address     string        `json:"address"`
	DistanceKey crypto.Digest `json:"-"`
}

// NewPeer builds a peer whose distance key is the hash of its address.
func NewPeer(address string) Peer {
	return Peer{Address: address, DistanceKey: crypto.HashString(address)}
}

// ID identifies the replica when tracking per-replica versions.
func (p Peer) ID() string {
	return p.DistanceKey.String()
}

func (p Peer) String() string {
	return p.Address
}

// Distance is the byte-wise XOR of two digests.
func Distance(a, b crypto.Digest) crypto.Digest {
	var d crypto.Digest
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Less orders distances as big-endian unsigned integers.
func Less(a, b crypto.Digest) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

type candidate struct {
	peer     Peer
	distance crypto.Digest
}

// SelectReplicas returns the min(k, len(peers)) peers closest to hash(key),
// nearest first. Ties keep input order; repeated addresses count once.
func SelectReplicas(key string, peers []Peer, k int) []Peer {
	target := crypto.HashString(key)

	seen := make(map[string]struct{}, len(peers))
	candidates := make([]candidate, 0, len(peers))
	for _, p := range peers {
		if _, dup := seen[p.Address]; dup {
			continue
		}
		seen[p.Address] = struct{}{}
		candidates = append(candidates, candidate{peer: p, distance: Distance(p.DistanceKey, target)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return Less(candidates[i].distance, candidates[j].distance)
	})

	if k < 0 {
		k = 0
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	out := make([]Peer, k)
	for i := 0; i < k; i++ {
		out[i] = candidates[i].peer
	}
	return out
}

// Router holds a peer set and replica count. It is safe for concurrent use
// because it is never mutated after construction.
type Router struct {
	peers    []Peer
	replicas int
}

// New creates a router over the given addresses.
func New(addresses []string, replicas int) *Router {
	if replicas <= 0 {
		replicas = DefaultReplicas
	}
	peers := make([]Peer, 0, len(addresses))
	for _, a := range addresses {
		peers = append(peers, NewPeer(a))
	}
	return &Router{peers: peers, replicas: replicas}
}

// Replicas returns the replica set for key.
func (r *Router) Replicas(key string) []Peer {
	return SelectReplicas(key, r.peers, r.replicas)
}

// Peers returns a copy of the configured peer set.
func (r *Router) Peers() []Peer {
	return append([]Peer(nil), r.peers...)
}

// ReplicaCount is the configured k.
func (r *Router) ReplicaCount() int {
	return r.replicas
}
