package app

import (
	"context"
	"fmt"
	"log/slog"

	memblob "github.com/alanyoungcy/proptoken/internal/blob/memory"
	s3blob "github.com/alanyoungcy/proptoken/internal/blob/s3"
	memcache "github.com/alanyoungcy/proptoken/internal/cache/memory"
	"github.com/alanyoungcy/proptoken/internal/cache/redis"
	"github.com/alanyoungcy/proptoken/internal/config"
	"github.com/alanyoungcy/proptoken/internal/crypto"
	"github.com/alanyoungcy/proptoken/internal/domain"
	"github.com/alanyoungcy/proptoken/internal/notify"
	"github.com/alanyoungcy/proptoken/internal/platform/simnet"
	"github.com/alanyoungcy/proptoken/internal/platform/solananet"
	"github.com/alanyoungcy/proptoken/internal/platform/valuation"
	"github.com/alanyoungcy/proptoken/internal/server/handler"
	"github.com/alanyoungcy/proptoken/internal/service"
	memstore "github.com/alanyoungcy/proptoken/internal/store/memory"
	"github.com/alanyoungcy/proptoken/internal/store/postgres"
)

// statementStore is the blob surface distribution statements need.
type statementStore interface {
	domain.BlobWriter
	service.StatementReader
}

// Dependencies bundles the concrete infrastructure the modes run on. Wire
// builds it from configuration; the returned cleanup releases it.
type Dependencies struct {
	// Stores
	PropertyStore     domain.PropertyStore
	ValuationStore    domain.ValuationStore
	LedgerStore       domain.LedgerStore
	TransactionStore  domain.TransactionStore
	DistributionStore domain.DistributionStore
	AuditStore        domain.AuditStore

	// Caches
	UnitPriceCache domain.UnitPriceCache
	RateLimiter    domain.RateLimiter
	LockManager    domain.LockManager
	SignalBus      domain.SignalBus

	// Blob storage. Statements is nil when export is disabled; Archiver is
	// nil when archival is disabled.
	Statements statementStore
	Archiver   domain.Archiver

	// External systems. Valuation is nil when no provider is configured.
	Network   domain.SettlementNetwork
	Valuation domain.ValuationProvider

	Notifier *notify.Notifier

	// HealthChecks probe the external dependencies for /api/health. Empty
	// in sandbox mode.
	HealthChecks map[string]handler.Checker
}

// Services is the engine built on top of Dependencies.
type Services struct {
	Guard        *service.SettlementGuard
	Tokenization *service.TokenizationService
	Ledger       *service.HoldingLedger
	Coordinator  *service.PurchaseCoordinator
	Reconciler   *service.Reconciler
	Distribution *service.DistributionEngine
	Portfolio    *service.PortfolioService
}

// Wire constructs the dependencies for cfg.Mode. Sandbox mode runs on
// in-process stores, caches and a simulated settlement network; every other
// mode connects to Postgres, Redis, S3 and the Solana RPC.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var (
		deps *Dependencies
		c    func()
		err  error
	)
	if cfg.NeedsInfrastructure() {
		deps, c, err = wireInfrastructure(ctx, cfg, logger)
	} else {
		deps, c = wireSandbox(cfg, logger)
	}
	if err != nil {
		return nil, nil, err
	}

	if cfg.Valuation.URL != "" {
		deps.Valuation = valuation.NewClient(cfg.Valuation.URL, cfg.Valuation.APIKey, cfg.Valuation.Timeout.Duration)
	}
	deps.Notifier = newNotifier(cfg.Notify, logger)
	return deps, c, nil
}

func wireInfrastructure(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	deps := &Dependencies{HealthChecks: make(map[string]handler.Checker)}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgresConfig(cfg.Database))
	if err != nil {
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		n, err := pgClient.RunMigrations(ctx)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
		logger.InfoContext(ctx, "wire: migrations applied", slog.Int("count", n))
	}

	deps.HealthChecks["postgres"] = pgClient

	pool := pgClient.Pool()
	deps.PropertyStore = postgres.NewPropertyStore(pool)
	deps.ValuationStore = postgres.NewValuationStore(pool)
	deps.LedgerStore = postgres.NewLedgerStore(pool)
	deps.TransactionStore = postgres.NewTransactionStore(pool)
	deps.DistributionStore = postgres.NewDistributionStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		KeyPrefix:  cfg.Redis.KeyPrefix,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.HealthChecks["redis"] = redisClient

	deps.UnitPriceCache = redis.NewUnitPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)

	// --- S3 (statements and archives) ---
	if cfg.Distribution.ExportStatements || cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,

			Prefix:               cfg.S3.Prefix,
			ServerSideEncryption: cfg.S3.ServerSideEncryption,
			KMSKeyID:             cfg.S3.KMSKeyID,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "wire: s3 bucket not reachable; statement export and archives will fail",
				slog.String("bucket", cfg.S3.Bucket),
				slog.String("error", err.Error()),
			)
		}
		deps.HealthChecks["s3"] = s3Client
		objects := s3blob.NewStore(s3Client)
		if cfg.Distribution.ExportStatements {
			deps.Statements = objects
		}
		if cfg.Archive.Enabled {
			deps.Archiver = s3blob.NewArchiver(objects, deps.TransactionStore, deps.DistributionStore, deps.AuditStore)
		}
	}

	// --- Settlement network ---
	treasury, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Solana.TreasuryKey,
		EncryptedKeyPath: cfg.Solana.EncryptedKeyPath,
		KeyPassword:      cfg.Solana.KeyPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: treasury key: %w", err)
	}
	network, err := solananet.New(solananet.Config{
		RPCURL:      cfg.Solana.RPCURL,
		Commitment:  cfg.Solana.Commitment,
		Decimals:    uint8(cfg.Solana.Decimals),
		SendTimeout: cfg.Solana.SendTimeout.Duration,
	}, treasury, logger.With(slog.String("component", "solananet")))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: settlement network: %w", err)
	}
	if cfg.Solana.HolderKeysDir != "" {
		network.WithHolderKeys(crypto.NewKeyring(cfg.Solana.HolderKeysDir, cfg.Solana.KeyPassword))
	}
	closers = append(closers, func() { _ = network.Close() })
	deps.Network = network

	logger.InfoContext(ctx, "wire: infrastructure ready",
		slog.String("treasury", network.Treasury()),
		slog.String("rpc", cfg.Solana.RPCURL),
		slog.Bool("resales", cfg.Solana.HolderKeysDir != ""),
	)
	return deps, cleanup, nil
}

// wireSandbox builds an in-process engine for local development and demos.
// State is lost on exit.
func wireSandbox(cfg *config.Config, logger *slog.Logger) (*Dependencies, func()) {
	txs := memstore.NewTransactionStore()
	dists := memstore.NewDistributionStore()
	audit := memstore.NewAuditStore()
	blobs := memblob.New()

	deps := &Dependencies{
		PropertyStore:     memstore.NewPropertyStore(),
		ValuationStore:    memstore.NewValuationStore(),
		LedgerStore:       memstore.NewLedgerStore(),
		TransactionStore:  txs,
		DistributionStore: dists,
		AuditStore:        audit,
		UnitPriceCache:    memcache.NewUnitPriceCache(),
		RateLimiter:       memcache.NewRateLimiter(),
		LockManager:       memcache.NewLockManager(),
		SignalBus:         memcache.NewSignalBus(cfg.Redis.StreamMaxLen),
		Network:           simnet.New(),
	}
	if cfg.Distribution.ExportStatements {
		deps.Statements = blobs
	}
	if cfg.Archive.Enabled {
		deps.Archiver = s3blob.NewArchiver(blobs, txs, dists, audit)
	}
	logger.Info("wire: sandbox mode; using in-memory stores and simulated settlement network")
	return deps, func() {}
}

// BuildServices assembles the engine over deps.
func BuildServices(cfg *config.Config, deps *Dependencies, logger *slog.Logger) *Services {
	settle := service.SettlementConfig{
		PendingTimeout:    cfg.Settlement.PendingTimeout.Duration,
		MaxAttempts:       cfg.Settlement.MaxAttempts,
		ReconcileInterval: cfg.Settlement.ReconcileInterval.Duration,
		ReconcileBatch:    cfg.Settlement.ReconcileBatch,
	}
	scoped := func(name string) *slog.Logger {
		return logger.With(slog.String("component", name))
	}

	guard := service.NewSettlementGuard(deps.Network, service.GuardConfig{
		ConsecutiveFailures: cfg.Settlement.BreakerFailures,
		OpenTimeout:         cfg.Settlement.BreakerTimeout.Duration,
	}, scoped("settlement_guard"))

	lifecycle := service.NewTokenizationService(
		deps.PropertyStore, deps.ValuationStore, deps.LedgerStore, deps.TransactionStore,
		guard, deps.LockManager, deps.UnitPriceCache, deps.SignalBus, deps.AuditStore,
		service.TokenizationConfig{
			ValueToleranceBps:  cfg.Tokenization.ValueToleranceBps,
			FallbackMultiplier: cfg.Valuation.FallbackMultiplier,
			MinConfidence:      cfg.Valuation.MinConfidence,
			LockTTL:            cfg.Tokenization.LockTTL.Duration,
		},
		scoped("tokenization_service"),
	).WithAlerter(deps.Notifier)
	if deps.Valuation != nil {
		lifecycle.WithValuationProvider(deps.Valuation)
	}

	ledger := service.NewHoldingLedger(deps.LedgerStore, deps.PropertyStore, deps.SignalBus, deps.AuditStore, scoped("holding_ledger"))
	coord := service.NewPurchaseCoordinator(
		lifecycle, ledger, deps.TransactionStore, guard, deps.UnitPriceCache,
		deps.SignalBus, deps.AuditStore, settle, scoped("purchase_coordinator"),
	).WithAlerter(deps.Notifier)
	recon := service.NewReconciler(coord, deps.TransactionStore, guard, settle, scoped("reconciler"))

	engine := service.NewDistributionEngine(lifecycle, ledger, deps.DistributionStore, deps.SignalBus, deps.AuditStore, scoped("distribution_engine")).
		WithAlerter(deps.Notifier)
	if deps.Statements != nil {
		engine.WithStatements(deps.Statements, deps.Statements)
	}

	portfolio := service.NewPortfolioService(
		ledger, deps.PropertyStore, deps.TransactionStore, deps.DistributionStore, deps.UnitPriceCache,
		service.PortfolioConfig{RecentLimit: cfg.Portfolio.RecentLimit},
		scoped("portfolio_service"),
	)

	return &Services{
		Guard:        guard,
		Tokenization: lifecycle,
		Ledger:       ledger,
		Coordinator:  coord,
		Reconciler:   recon,
		Distribution: engine,
		Portfolio:    portfolio,
	}
}

func postgresConfig(db config.DatabaseConfig) postgres.ClientConfig {
	return postgres.ClientConfig{
		DSN:      db.DSN,
		Host:     db.Host,
		Port:     db.Port,
		Database: db.Database,
		User:     db.User,
		Password: db.Password,
		SSLMode:  db.SSLMode,
		MaxConns: db.PoolMaxConns,
		MinConns: db.PoolMinConns,

		StatementTimeout: db.StatementTimeout.Duration,
	}
}

func newNotifier(cfg config.NotifyConfig, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, cfg.Events, logger)
}
