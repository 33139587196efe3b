// Package chat composes a chat out of two replicated records: one data record
// per message and an append-only index record listing the chat's messages.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/peerchat/internal/crypto"
	"github.com/eldtechnologies/peerchat/internal/metrics"
	"github.com/eldtechnologies/peerchat/internal/models"
	"github.com/eldtechnologies/peerchat/internal/replication"
	"github.com/eldtechnologies/peerchat/internal/router"
)

var (
	ErrEmptyChat = errors.New("chat key is required")
	ErrEmptyNode = errors.New("message node is required")
)

// Selector picks the replica set for a routing key.
type Selector interface {
	Replicas(key string) []router.Peer
}

// Replicator fans records out to replicas and reads them back.
type Replicator interface {
	ReplicateWrite(ctx context.Context, replicas []router.Peer, env models.Envelope) error
	ReplicateRead(ctx context.Context, replicas []router.Peer, env models.Envelope, known map[string]uint64) *replication.Merged
}

// Service places and lists chat messages.
type Service struct {
	selector   Selector
	replicator Replicator
	logger     zerolog.Logger
}

// NewService creates a chat service.
func NewService(selector Selector, replicator Replicator, logger zerolog.Logger) *Service {
	return &Service{selector: selector, replicator: replicator, logger: logger}
}

// ChatID is the record namespace of a chat: the hex hash of its key. The
// chat's index record uses the same value as its node ID.
func ChatID(chatKey string) string {
	return crypto.HashString(chatKey).String()
}

// replicas routes every record of a chat by its chat ID so data and index
// records share a replica set.
func (s *Service) replicas(chatID string) []router.Peer {
	return s.selector.Replicas(chatID)
}

// PlaceMessage stores payload as a new message and appends it to the chat's
// index. The index is only touched once the data record reached every replica.
func (s *Service) PlaceMessage(ctx context.Context, chatKey string, payload []byte) (string, error) {
	if chatKey == "" {
		return "", ErrEmptyChat
	}

	chatID := ChatID(chatKey)
	nodeID := crypto.NewUniqueID()
	replicas := s.replicas(chatID)

	data := models.Envelope{
		Node:    nodeID,
		Chat:    chatID,
		Type:    models.TypeData,
		Payload: payload,
	}
	if payload == nil {
		data.Payload = []byte{}
	}
	if err := s.replicator.ReplicateWrite(ctx, replicas, data); err != nil {
		return "", fmt.Errorf("store message: %w", err)
	}

	index := models.Envelope{
		Node:   chatID,
		Chat:   chatID,
		Type:   models.TypeIndex,
		Append: nodeID,
	}
	if err := s.replicator.ReplicateWrite(ctx, replicas, index); err != nil {
		return "", fmt.Errorf("index message: %w", err)
	}

	metrics.MessagesPlaced.Inc()
	s.logger.Debug().
		Str("chat", chatID).
		Str("node", nodeID).
		Int("replicas", len(replicas)).
		Msg("message placed")

	return nodeID, nil
}

// PollIndex long-polls the chat's index on every replica and returns the
// entries not yet seen, plus the versions to pass on the next call.
func (s *Service) PollIndex(ctx context.Context, chatKey string, known map[string]uint64) (*models.IndexUpdate, error) {
	if chatKey == "" {
		return nil, ErrEmptyChat
	}

	chatID := ChatID(chatKey)
	env := models.Envelope{
		Node: chatID,
		Chat: chatID,
		Type: models.TypeIndex,
	}
	merged := s.replicator.ReplicateRead(ctx, s.replicas(chatID), env, known)

	return &models.IndexUpdate{
		Node:     merged.Node,
		Entries:  merged.Entries,
		Versions: merged.Versions,
	}, nil
}

// PollMessage fetches a message's payload once. The payload is nil when no
// replica has the message.
func (s *Service) PollMessage(ctx context.Context, chatKey, nodeID string) (*models.Message, error) {
	if chatKey == "" {
		return nil, ErrEmptyChat
	}
	if nodeID == "" {
		return nil, ErrEmptyNode
	}

	chatID := ChatID(chatKey)
	env := models.Envelope{
		Node:   nodeID,
		Chat:   chatID,
		Type:   models.TypeData,
		NoWait: true,
	}
	merged := s.replicator.ReplicateRead(ctx, s.replicas(chatID), env, nil)

	return &models.Message{Node: nodeID, Payload: merged.Payload}, nil
}
