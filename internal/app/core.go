package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"github.com/MrSnakeDoc/nostrmarks/internal/bookmarks"
	"github.com/MrSnakeDoc/nostrmarks/internal/cache"
	"github.com/MrSnakeDoc/nostrmarks/internal/config"
	"github.com/MrSnakeDoc/nostrmarks/internal/discovery"
	"github.com/MrSnakeDoc/nostrmarks/internal/keys"
	"github.com/MrSnakeDoc/nostrmarks/internal/logger"
	"github.com/MrSnakeDoc/nostrmarks/internal/metrics"
	"github.com/MrSnakeDoc/nostrmarks/internal/redis"
	"github.com/MrSnakeDoc/nostrmarks/internal/relay"
	"github.com/MrSnakeDoc/nostrmarks/internal/sources/relayset"
	redisstore "github.com/MrSnakeDoc/nostrmarks/internal/store/redis"
	"github.com/MrSnakeDoc/nostrmarks/internal/subscription"
)

// Core is the relay and bookmark object graph shared by the service and the CLI.
type Core struct {
	Logger    logger.Logger
	Metrics   *metrics.Metrics
	Author    string      // hex public key
	Signer    keys.Signer // nil in read-only mode
	Relays    *relay.Manager
	Registry  *subscription.Registry
	Discovery *discovery.Discovery
	Bookmarks *bookmarks.Synchronizer
	Cache     cache.Cache
	Store     *redisstore.Store // nil when the cache is in-process
	Sets      relayset.Sets

	redisClient *goredis.Client
}

// NewCore builds the graph. Nothing is connected yet except Redis.
func NewCore(ctx context.Context, cfg *config.Config, log logger.Logger) (*Core, error) {
	author, signer, err := identity(cfg)
	if err != nil {
		return nil, err
	}

	sets, err := cfg.RelaySets()
	if err != nil {
		return nil, fmt.Errorf("relay sets: %w", err)
	}

	c := &Core{
		Logger:  log,
		Metrics: metrics.New(),
		Author:  author,
		Signer:  signer,
		Sets:    sets,
	}

	c.openCache(ctx, cfg)

	c.Relays = relay.NewManager(relay.NewWebsocketTransport(log.Named("ws")), relay.Options{
		ConnectTimeout:       cfg.ConnectTimeout,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		AllowPrivateNetworks: cfg.AllowPrivateRelays,
		Metrics:              c.Metrics,
	}, log.Named("relay"))

	c.Registry = subscription.New(c.Relays, subscription.Options{Metrics: c.Metrics}, log.Named("subscription"))

	c.Discovery = discovery.New(c.Relays, c.Registry, discovery.Options{
		Bootstrap:  sets.Bootstrap,
		Timeout:    cfg.DiscoveryTimeout,
		WaitWindow: cfg.DiscoveryWait,
		Cache:      c.Cache,
	}, log.Named("discovery"))

	c.Bookmarks = bookmarks.New(c.Relays, c.Registry, bookmarks.Options{
		Fallback:       sets.Fallback,
		Public:         sets.Public,
		QueryTimeout:   cfg.QueryTimeout,
		EnrichTimeout:  cfg.EnrichTimeout,
		PublishTimeout: cfg.PublishTimeout,
		VerifyDelay:    cfg.VerifyDelay,
		Cache:          c.Cache,
		Metrics:        c.Metrics,
	}, log.Named("bookmarks"))

	return c, nil
}

// openCache uses Redis when configured and reachable, the in-process cache otherwise.
// The cache is never authoritative, so losing Redis only costs a cold start.
func (c *Core) openCache(ctx context.Context, cfg *config.Config) {
	memory := func() {
		c.Cache = cache.NewMemory(cfg.CacheSize, cfg.CacheTTL)
	}

	if cfg.RedisAddr == "" {
		c.Logger.Info("redis not configured, using in-process cache")
		memory()
		return
	}

	c.Logger.Infof("Connecting to Redis at %s", cfg.RedisAddr)
	client, err := redis.New(ctx, redis.ConnectOptions{
		Addr:           cfg.RedisAddr,
		User:           cfg.RedisUser,
		Password:       cfg.RedisPassword,
		RedisDB:        cfg.RedisDB,
		DialTimeout:    cfg.RedisDT,
		ReadTimeout:    cfg.RedisRT,
		WriteTimeout:   cfg.RedisWT,
		PoolSize:       cfg.RedisPoolSize,
		ConnectTimeout: cfg.RedisConnectTimeout,
		RetryInterval:  cfg.RedisRetryInterval,
		MaxWait:        cfg.RedisMaxWait,
		PingTimeout:    cfg.RedisPingTimeout,
		WarnThreshold:  cfg.RedisWarnThreshold,
	}, c.Logger.Named("redis"))
	if err != nil {
		c.Logger.Warn("redis unavailable, using in-process cache", logger.Error(err))
		memory()
		return
	}

	c.redisClient = client
	c.Store = redisstore.NewStore(client, cfg.CacheTTL)
	c.Cache = c.Store
	c.Logger.Info("Redis initialized successfully")
}

// Connect brings up the author's relays (see discovery.InitializeForUser).
func (c *Core) Connect(ctx context.Context) error {
	return c.Discovery.InitializeForUser(ctx, c.Author)
}

// Close waits for pending verifications, then tears down subscriptions, relays and Redis.
func (c *Core) Close() error {
	c.Bookmarks.Close()
	c.Registry.CloseAll()

	err := c.Relays.Close()
	if c.redisClient != nil {
		err = multierr.Append(err, c.redisClient.Close())
	}
	return err
}

// identity resolves the author from the public or secret key. With both set they must agree.
func identity(cfg *config.Config) (string, keys.Signer, error) {
	var author string
	if cfg.PublicKey != "" {
		pk, err := keys.ParsePublicKey(cfg.PublicKey)
		if err != nil {
			return "", nil, fmt.Errorf("NOSTRMARKS_PUBKEY: %w", err)
		}
		author = pk
	}

	if cfg.SecretKey == "" {
		return author, nil, nil
	}

	signer, err := keys.ParseSecret(cfg.SecretKey)
	if err != nil {
		return "", nil, fmt.Errorf("NOSTRMARKS_SECRET_KEY: %w", err)
	}
	if author != "" && author != signer.PublicKey() {
		return "", nil, fmt.Errorf("NOSTRMARKS_PUBKEY does not match NOSTRMARKS_SECRET_KEY")
	}
	return signer.PublicKey(), signer, nil
}
