package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "ENV", "SELF_ADDRESS", "PEERS", "REPLICAS", "STORE_BACKEND",
		"POLL_ATTEMPTS", "POLL_INTERVAL", "PEER_READ_TIMEOUT", "MERGE_POLICY"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "localhost:8080", cfg.SelfAddress)
	assert.Equal(t, []string{"localhost:8080"}, cfg.Peers)
	assert.Equal(t, 3, cfg.Replicas)
	assert.Equal(t, "file", cfg.StoreBackend)
	assert.Equal(t, 4, cfg.ShardDepth)
	assert.Equal(t, 60, cfg.PollAttempts)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 60*time.Second, cfg.PollBudget())
	assert.Equal(t, 65*time.Second, cfg.PeerReadTimeout)
	assert.Equal(t, "union", cfg.MergePolicy)
}

func TestLoadPeers(t *testing.T) {
	t.Setenv("PORT", "9001")
	t.Setenv("SELF_ADDRESS", "")
	t.Setenv("PEERS", " a:1, ,b:2,localhost:9001 ")

	cfg := Load()
	require.Equal(t, []string{"a:1", "b:2", "localhost:9001"}, cfg.Peers)

	t.Setenv("PEERS", "a:1")
	cfg = Load()
	require.Equal(t, []string{"a:1", "localhost:9001"}, cfg.Peers)
}

func TestLoadDurations(t *testing.T) {
	t.Setenv("POLL_ATTEMPTS", "10")
	t.Setenv("POLL_INTERVAL", "500ms")
	t.Setenv("PEER_READ_TIMEOUT", "")
	t.Setenv("REPLICAS", "not-a-number")

	cfg := Load()
	assert.Equal(t, 5*time.Second, cfg.PollBudget())
	assert.Equal(t, 10*time.Second, cfg.PeerReadTimeout)
	assert.Equal(t, 3, cfg.Replicas)
}

func TestLoadProductionRequiresURL(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("NOTIFY", "local")

	assert.Panics(t, func() { Load() })

	t.Setenv("STORE_BACKEND", "file")
	assert.NotPanics(t, func() { Load() })
}
