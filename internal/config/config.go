package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrSnakeDoc/nostrmarks/internal/domain"
	"github.com/MrSnakeDoc/nostrmarks/internal/logger"
	"github.com/MrSnakeDoc/nostrmarks/internal/sources/relayset"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	// Identity
	PublicKey string // hex or npub, derived from SecretKey when empty
	SecretKey string // hex or nsec, optional (read-only mode without it)

	// Relay sets
	RelaysFile      string   // optional relays.yaml
	BootstrapRelays []string // env override of the bootstrap set
	FallbackRelays  []string // env override of the fallback set
	PublicRelays    []string // env override of the public set

	// Connection manager
	ConnectTimeout       time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int  // 0 = unbounded
	AllowPrivateRelays   bool // skip the DNS part of the relay URL check (dev/local)

	// Discovery and synchronizer
	DiscoveryTimeout time.Duration // relay-list lookup timeout
	DiscoveryWait    time.Duration // how long initialization waits for a first connection
	QueryTimeout     time.Duration
	EnrichTimeout    time.Duration
	PublishTimeout   time.Duration
	VerifyDelay      time.Duration // negative disables read-back verification

	// Background jobs
	RefreshInterval   time.Duration // bookmark refresh (0 disables)
	CacheWarmInterval time.Duration // cache warm-up for known authors (0 disables)
	ReaperInterval    time.Duration // transient handle reaper (0 disables)
	ReaperIdle        time.Duration // idle time before a transient handle is closed

	// Cache
	CacheSize int
	CacheTTL  time.Duration

	// Redis (optional, in-process cache when RedisAddr is empty)
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts

	AllowedHosts []string // optional, restrict access to specific Host headers
	AllowedCIDRS []string // optional, restrict access to specific IP (e.g. "1.2.3.4, 5.6.7.8")
	TrustProxy   bool     // true => trust X-Forwarded-For headers (e.g. cloudflared)
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("NOSTRMARKS_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("NOSTRMARKS_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("NOSTRMARKS_LOG_LEVEL", "info"),
		PrettyLog: mustBool("NOSTRMARKS_PRETTY_LOG", true),

		// Identity
		PublicKey: getenv("NOSTRMARKS_PUBKEY", ""),
		SecretKey: getenv("NOSTRMARKS_SECRET_KEY", ""),

		// Relay sets
		RelaysFile:      getenv("NOSTRMARKS_RELAYS_FILE", ""),
		BootstrapRelays: parseList(getenv("NOSTRMARKS_BOOTSTRAP_RELAYS", "")),
		FallbackRelays:  parseList(getenv("NOSTRMARKS_FALLBACK_RELAYS", "")),
		PublicRelays:    parseList(getenv("NOSTRMARKS_PUBLIC_RELAYS", "")),

		// Connection manager
		ConnectTimeout:       mustDuration("NOSTRMARKS_CONNECT_TIMEOUT", 10*time.Second),
		ReconnectDelay:       mustDuration("NOSTRMARKS_RECONNECT_DELAY", 5*time.Second),
		MaxReconnectAttempts: getenvInt("NOSTRMARKS_MAX_RECONNECT_ATTEMPTS", 0),
		AllowPrivateRelays:   mustBool("NOSTRMARKS_ALLOW_PRIVATE_RELAYS", false),

		// Discovery and synchronizer
		DiscoveryTimeout: mustDuration("NOSTRMARKS_DISCOVERY_TIMEOUT", 5*time.Second),
		DiscoveryWait:    mustDuration("NOSTRMARKS_DISCOVERY_WAIT", 15*time.Second),
		QueryTimeout:     mustDuration("NOSTRMARKS_QUERY_TIMEOUT", 5*time.Second),
		EnrichTimeout:    mustDuration("NOSTRMARKS_ENRICH_TIMEOUT", 3*time.Second),
		PublishTimeout:   mustDuration("NOSTRMARKS_PUBLISH_TIMEOUT", 10*time.Second),
		VerifyDelay:      mustDuration("NOSTRMARKS_VERIFY_DELAY", 3*time.Second),

		// Background jobs
		RefreshInterval:   mustDuration("NOSTRMARKS_REFRESH_INTERVAL", 15*time.Minute),
		CacheWarmInterval: mustDuration("NOSTRMARKS_CACHE_WARM_INTERVAL", 6*time.Hour),
		ReaperInterval:    mustDuration("NOSTRMARKS_REAPER_INTERVAL", time.Minute),
		ReaperIdle:        mustDuration("NOSTRMARKS_REAPER_IDLE", 2*time.Minute),

		// Cache
		CacheSize: getenvInt("NOSTRMARKS_CACHE_SIZE", 1024),
		CacheTTL:  mustDuration("NOSTRMARKS_CACHE_TTL", 24*time.Hour),

		// Redis settings
		RedisAddr:             getenv("NOSTRMARKS_REDIS_ADDR", ""),
		RedisUser:             getenv("NOSTRMARKS_REDIS_USERNAME", "default"),
		RedisPasswordRequired: mustBool("NOSTRMARKS_REDIS_PASSWORD_REQUIRED", false),
		RedisPassword:         getenv("NOSTRMARKS_REDIS_PASSWORD", ""),
		RedisDB:               getenvInt("NOSTRMARKS_REDIS_DB", 0),
		RedisDT:               mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("REDIS_WARN_THRESHOLD", 3),

		// Access restrictions
		AllowedHosts: parseList(getenv("NOSTRMARKS_ALLOWED_HOSTS", "")),
		AllowedCIDRS: parseList(getenv("NOSTRMARKS_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("NOSTRMARKS_TRUST_PROXY", false),
	}

	if err := cfg.validate(); err != nil {
		panic("❌ FATAL: " + err.Error())
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		log.Printf("[DEBUG] cfg: %+v\n", cfg.Redacted())
	}

	return cfg
}

func (c *Config) validate() error {
	if _, ok := logger.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("NOSTRMARKS_LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel)
	}
	if c.PublicKey == "" && c.SecretKey == "" {
		return fmt.Errorf("NOSTRMARKS_PUBKEY is required when NOSTRMARKS_SECRET_KEY is not set")
	}
	if c.RedisAddr != "" && c.RedisPasswordRequired && c.RedisPassword == "" {
		return fmt.Errorf("NOSTRMARKS_REDIS_PASSWORD is required when NOSTRMARKS_REDIS_PASSWORD_REQUIRED=true")
	}
	if c.ReaperInterval > 0 && c.ReaperIdle <= 0 {
		return fmt.Errorf("NOSTRMARKS_REAPER_IDLE must be positive when the reaper is enabled")
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	cp := *c
	if cp.SecretKey != "" {
		cp.SecretKey = "***REDACTED***"
	}
	if cp.RedisPassword != "" {
		cp.RedisPassword = "***REDACTED***"
	}
	if cp.RedisUser != "" {
		cp.RedisUser = "***REDACTED***"
	}
	return cp
}

// RelaySets resolves the bootstrap, fallback and public relay sets.
// Environment overrides win over the relays file, built-in defaults fill the rest.
func (c *Config) RelaySets() (relayset.Sets, error) {
	var sets relayset.Sets
	if c.RelaysFile != "" {
		loaded, err := relayset.NewLoader(c.RelaysFile).Load()
		if err != nil {
			return relayset.Sets{}, err
		}
		sets = loaded
	}

	if v := domain.NormalizeRelayURLs(c.BootstrapRelays); len(v) > 0 {
		sets.Bootstrap = v
	}
	if v := domain.NormalizeRelayURLs(c.FallbackRelays); len(v) > 0 {
		sets.Fallback = v
	}
	if v := domain.NormalizeRelayURLs(c.PublicRelays); len(v) > 0 {
		sets.Public = v
	}

	return sets.Merge(relayset.Defaults()), nil
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	return splitAndTrim(raw)
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
