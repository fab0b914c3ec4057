package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	s3blob "github.com/quantfold/arbot/internal/blob/s3"
	"github.com/quantfold/arbot/internal/cache/redis"
	"github.com/quantfold/arbot/internal/config"
	"github.com/quantfold/arbot/internal/domain"
	"github.com/quantfold/arbot/internal/metrics"
	"github.com/quantfold/arbot/internal/notify"
	"github.com/quantfold/arbot/internal/store/postgres"
	"github.com/quantfold/arbot/internal/venue/kalshi"
	"github.com/quantfold/arbot/internal/venue/polymarket"
)

// Dependencies bundles the external-facing dependencies the run modes need.
// It is constructed by Wire and torn down by the returned cleanup function.
// Optional dependencies are nil when their backend is not configured.
type Dependencies struct {
	// Persistence
	FillStore        domain.FillStore
	OpportunityStore domain.OpportunityStore

	// Redis
	MatchCache  domain.MatchCache
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   *s3blob.Archiver

	// Venues
	Kalshi     *kalshi.Client
	Polymarket *polymarket.Client

	// Observability
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Notifier *notify.Notifier
}

// configCredentials resolves venue credentials from the loaded configuration.
// The Kalshi signing key is read from disk here; the Polymarket key may come
// from raw hex or an encrypted keyfile.
type configCredentials struct {
	cfg *config.Config
}

var _ domain.CredentialProvider = configCredentials{}

func (c configCredentials) Get(v domain.Venue) (domain.Credentials, error) {
	switch v {
	case domain.VenueKalshi:
		creds := domain.Credentials{APIKey: c.cfg.Kalshi.ApiKey}
		if path := c.cfg.Kalshi.RsaPrivateKeyPath; path != "" {
			pem, err := os.ReadFile(path)
			if err != nil {
				return domain.Credentials{}, fmt.Errorf("wire: read kalshi key: %w", err)
			}
			creds.PrivateKey = string(pem)
		}
		return creds, nil
	case domain.VenuePolymarket:
		if c.cfg.Polymarket.PrivateKey == "" && c.cfg.Polymarket.KeyfilePath == "" {
			return domain.Credentials{}, nil
		}
		keyHex, err := polymarket.ResolveKey(polymarket.KeySource{
			RawHex:      c.cfg.Polymarket.PrivateKey,
			KeyfilePath: c.cfg.Polymarket.KeyfilePath,
			KeyfilePass: c.cfg.Polymarket.KeyfilePass,
		})
		if err != nil {
			return domain.Credentials{}, fmt.Errorf("wire: polymarket key: %w", err)
		}
		return domain.Credentials{PrivateKey: keyHex}, nil
	default:
		return domain.Credentials{}, fmt.Errorf("wire: unknown venue %q", v)
	}
}

// Wire constructs concrete dependency implementations from the configuration
// and returns them with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (optional; fills and opportunities stay in memory
	// without it) ---
	if cfg.Postgres.DSN != "" || cfg.Postgres.Host != "" {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.FillStore = postgres.NewFillStore(pool)
		deps.OpportunityStore = postgres.NewOpportunityStore(pool)
	}

	// --- Redis (optional; match cache, rate limiting, and signal bus) ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.MatchCache = redis.NewMatchCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	// --- S3 blob storage (optional; daily fill archive) ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		if deps.FillStore != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.FillStore)
		}
	}

	// --- Venue clients ---
	creds := configCredentials{cfg: cfg}

	kalshiCreds, err := creds.Get(domain.VenueKalshi)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Kalshi = kalshi.NewClient(kalshi.ClientConfig{
		BaseURL:         cfg.Kalshi.BaseURL,
		APIKeyID:        kalshiCreds.APIKey,
		RateLimitPerSec: cfg.Kalshi.RateLimitPerSec,
	}, deps.RateLimiter)
	if kalshiCreds.PrivateKey != "" {
		if err := deps.Kalshi.SetRSAPrivateKey([]byte(kalshiCreds.PrivateKey)); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: kalshi key: %w", err)
		}
	}

	polyCreds, err := creds.Get(domain.VenuePolymarket)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	var signer *polymarket.Signer
	if polyCreds.PrivateKey != "" {
		signer, err = polymarket.NewSigner(polyCreds.PrivateKey, cfg.Polymarket.ChainID)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: polymarket signer: %w", err)
		}
	}
	deps.Polymarket = polymarket.NewClient(polymarket.ClientConfig{
		ClobHost:        cfg.Polymarket.ClobHost,
		GammaHost:       cfg.Polymarket.GammaHost,
		ChainID:         cfg.Polymarket.ChainID,
		RateLimitPerSec: cfg.Polymarket.RateLimitPerSec,
	}, signer, deps.RateLimiter)

	// --- Observability ---
	deps.Registry = prometheus.NewRegistry()
	deps.Metrics = metrics.New(deps.Registry)

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
