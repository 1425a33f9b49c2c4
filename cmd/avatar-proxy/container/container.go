package container

import (
	"context"
	"fmt"

	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/fetcher"
	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/relay"
	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/repository"
	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/scanner"
	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/service"
	"github.com/lyzr/avatar-proxy/common/bootstrap"
	"github.com/lyzr/avatar-proxy/common/clients"
	"github.com/lyzr/avatar-proxy/common/ratelimit"
	rediscommon "github.com/lyzr/avatar-proxy/common/redis"
	"github.com/lyzr/avatar-proxy/common/security"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components
	Redis      *rediscommon.Client

	// Repositories
	Blobs repository.BlobStore
	Store *repository.CacheStore

	// Collaborators
	Relay        *relay.Client
	URLValidator *security.URLValidator
	Fetcher      *fetcher.Fetcher
	RateLimiter  *ratelimit.RateLimiter

	// Services
	AvatarService *service.AvatarService
	Scanner       *scanner.Scanner
}

// NewContainer initializes all services and repositories once
func NewContainer(ctx context.Context, components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	// Blob tier, then the metadata store on top of it
	blobs, err := repository.NewBlobStoreFromConfig(ctx, cfg.Blob, components.RedisClient, components.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob store: %w", err)
	}
	store := repository.NewCacheStore(components.RedisClient, blobs, repository.CacheStoreConfig{
		RecordTTL:  cfg.Cache.RecordTTL,
		MemorySize: cfg.Cache.MemorySize,
		MemoryTTL:  cfg.Cache.MemoryTTL,
	}, log)

	relayClient := relay.NewClient(relay.Config{
		URL:              cfg.Relay.URL,
		ConnectTimeout:   cfg.Relay.ConnectTimeout,
		VerifySignatures: cfg.Relay.VerifySignatures,
	}, log)

	// Outbound fetches: validated redirects, service user agent
	urlValidator := security.NewURLValidator(security.Options{BlockPrivateHosts: cfg.Fetch.BlockPrivateHosts})
	httpClient := clients.NewHTTPClient(fetcher.NewHTTPClient(urlValidator), cfg.Fetch.UserAgent, log)
	imageFetcher := fetcher.New(httpClient, fetcher.Config{
		Timeout:      cfg.Fetch.Timeout,
		MaxBytes:     cfg.Fetch.MaxBytes,
		ProxyURL:     cfg.Fetch.ProxyURL,
		ProxyToken:   cfg.Fetch.ProxyToken,
		ProxyTimeout: cfg.Fetch.ProxyTimeout,
	}, log)

	avatarService := service.NewAvatarService(store, relayClient, imageFetcher, urlValidator, service.Config{
		MaxAge:              cfg.Cache.MaxAge,
		LookupTimeout:       cfg.Relay.LookupTimeout,
		SkipUnchangedSource: cfg.Cache.SkipUnchangedSource,
	}, log)

	avatarScanner := scanner.New(store, relayClient, scanner.Config{
		Interval:      cfg.Scanner.Interval,
		Limit:         cfg.Scanner.Limit,
		Window:        cfg.Scanner.Window,
		BatchTimeout:  cfg.Relay.BatchTimeout,
		RetentionDays: cfg.Scanner.RetentionDays,
		BatchSize:     int64(cfg.Scanner.BatchSize),
		OrphanGrace:   cfg.Scanner.OrphanGrace,
	}, log)

	var rateLimiter *ratelimit.RateLimiter
	if cfg.RateLimit.Enabled {
		var counters ratelimit.Store
		if cfg.RateLimit.Backend == "memory" {
			counters = ratelimit.NewMemoryStore()
		} else {
			counters = ratelimit.NewRedisStore(components.Redis)
		}
		rateLimiter = ratelimit.NewRateLimiter(counters, ratelimit.Policy{
			Limit:  cfg.RateLimit.Requests,
			Window: cfg.RateLimit.Window,
		}, log)
	}

	log.Info("container initialized",
		"blob_backend", blobs.Name(),
		"relay", relayClient.URL(),
		"proxy_enabled", imageFetcher.ProxyEnabled(),
		"rate_limit", rateLimiter != nil,
	)

	return &Container{
		Components:    components,
		Redis:         components.RedisClient,
		Blobs:         blobs,
		Store:         store,
		Relay:         relayClient,
		URLValidator:  urlValidator,
		Fetcher:       imageFetcher,
		RateLimiter:   rateLimiter,
		AvatarService: avatarService,
		Scanner:       avatarScanner,
	}, nil
}
