package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	SelfAddress string   // host:port other peers reach this node at
	Peers       []string // host:port of every peer, self included
	Replicas    int

	// Storage
	StoreBackend string // file, sqlite, postgres, redis
	StoreDir     string
	ShardDepth   int
	SQLitePath   string
	DatabaseURL  string
	RedisURL     string
	Notify       string // local, redis

	// Long-poll
	PollAttempts int
	PollInterval time.Duration

	// Replication
	PeerWriteTimeout time.Duration
	PeerReadTimeout  time.Duration
	MergePolicy      string

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	port := getEnv("PORT", "8080")
	cfg := &Config{
		Port:             port,
		Env:              getEnv("ENV", "development"),
		SelfAddress:      getEnv("SELF_ADDRESS", "localhost:"+port),
		Replicas:         getEnvInt("REPLICAS", 3),
		StoreBackend:     getEnv("STORE_BACKEND", "file"),
		StoreDir:         getEnv("STORE_DIR", "store"),
		ShardDepth:       getEnvInt("SHARD_DEPTH", 4),
		SQLitePath:       getEnv("SQLITE_PATH", "./data/peerchat.db"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		Notify:           getEnv("NOTIFY", "local"),
		PollAttempts:     getEnvInt("POLL_ATTEMPTS", 60),
		PollInterval:     getEnvDuration("POLL_INTERVAL", time.Second),
		PeerWriteTimeout: getEnvDuration("PEER_WRITE_TIMEOUT", 5*time.Second),
		MergePolicy:      getEnv("MERGE_POLICY", "union"),
		AutoBlockEnabled: getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
	}
	cfg.PeerReadTimeout = getEnvDuration("PEER_READ_TIMEOUT", cfg.PollBudget()+5*time.Second)

	cfg.Peers = splitList(os.Getenv("PEERS"))
	if !contains(cfg.Peers, cfg.SelfAddress) {
		cfg.Peers = append(cfg.Peers, cfg.SelfAddress)
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	cfg.RateLimitWhitelist = splitList(os.Getenv("RATE_LIMIT_WHITELIST"))

	// In production, require the URLs the selected backends need
	if cfg.Env == "production" {
		if cfg.StoreBackend == "postgres" && cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if (cfg.StoreBackend == "redis" || cfg.Notify == "redis") && cfg.RedisURL == "" {
			panic("REDIS_URL is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// PollBudget is the longest a single long-poll read may wait.
func (c *Config) PollBudget() time.Duration {
	return time.Duration(c.PollAttempts) * c.PollInterval
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
