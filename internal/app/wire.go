package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stratoarb/internal/amm"
	s3blob "github.com/alanyoungcy/stratoarb/internal/blob/s3"
	rediscache "github.com/alanyoungcy/stratoarb/internal/cache/redis"
	"github.com/alanyoungcy/stratoarb/internal/config"
	"github.com/alanyoungcy/stratoarb/internal/domain"
	"github.com/alanyoungcy/stratoarb/internal/executor"
	"github.com/alanyoungcy/stratoarb/internal/ledger"
	"github.com/alanyoungcy/stratoarb/internal/metrics"
	"github.com/alanyoungcy/stratoarb/internal/notify"
	"github.com/alanyoungcy/stratoarb/internal/platform/alchemy"
	"github.com/alanyoungcy/stratoarb/internal/platform/strato"
	"github.com/alanyoungcy/stratoarb/internal/server"
	"github.com/alanyoungcy/stratoarb/internal/server/handler"
	"github.com/alanyoungcy/stratoarb/internal/server/ws"
	"github.com/alanyoungcy/stratoarb/internal/store/postgres"
)

// Dependencies holds every wired component. Trading components (Strato,
// Oracle, Executors, Runner) are nil when only the status server was wired.
type Dependencies struct {
	Config  *config.Config
	Metrics *metrics.Metrics
	Ledger  *ledger.Ledger

	Redis    *rediscache.Client
	Postgres *postgres.Client

	Bus       domain.SignalBus
	History   handler.ExecutionLister
	Publisher *notify.Publisher
	Lease     domain.LockManager
	Archiver  *s3blob.Archiver

	Strato    *strato.Client
	Oracle    *alchemy.Oracle
	Pools     []*strato.Pool
	Executors []*executor.Executor
	Runner    *executor.Runner

	Server *server.Server
	Hub    *ws.Hub
}

// Wire builds the dependency graph for cfg. The returned cleanup closes
// connections in reverse order and must be called even when err is nil.
// Trading components are skipped when trading is false.
func Wire(ctx context.Context, cfg *config.Config, trading bool, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Config:  cfg,
		Metrics: metrics.New(),
		Ledger:  ledger.New(cfg.Execution.ProfitFile, logger),
	}

	if rec, err := deps.Ledger.Load(ctx); err != nil {
		logger.WarnContext(ctx, "could not read profit ledger", slog.String("error", err.Error()))
	} else {
		deps.Metrics.Profit(rec.CumulativeProfitWei)
	}

	// ---- Redis (optional): shared bus, pair leases, price cache ----
	if cfg.Redis.Enabled {
		rc, err := rediscache.New(ctx, rediscache.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, cleanup, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.Redis = rc

		bus := rediscache.NewSignalBus(rc)
		deps.Bus = bus
		deps.History = notify.BusHistory{H: bus}
		deps.Lease = rediscache.NewLeaseManager(rc, logger)
		logger.InfoContext(ctx, "redis connected", slog.String("addr", cfg.Redis.Addr))
	} else {
		bus := notify.NewLocalBus()
		deps.Bus = bus
		deps.History = notify.BusHistory{H: bus}
	}

	// ---- Postgres (optional): indexer cost basis and execution journal ----
	if usesPostgres(cfg) {
		pc, err := postgres.New(ctx, postgres.ClientConfig{
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
			return nil, cleanup, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pc.Close)
		deps.Postgres = pc

		if cfg.Postgres.RunMigrations {
			if err := pc.RunMigrations(ctx); err != nil {
				return nil, cleanup, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
	}

	var journal notify.Journal
	if cfg.Postgres.Journal && deps.Postgres != nil {
		store := postgres.NewExecutionStore(deps.Postgres)
		journal = store
		deps.History = store

		if cfg.Archive.Enabled {
			archiver, err := wireArchiver(ctx, cfg, store, deps.Ledger, logger)
			if err != nil {
				return nil, cleanup, err
			}
			deps.Archiver = archiver
		}
	}

	notifier := notify.NewNotifier(
		notify.SendersFromConfig(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, cfg.Notify.DiscordWebhookURL),
		cfg.Notify.Events,
		logger,
	)
	deps.Publisher = notify.NewPublisher(deps.Bus, journal, notifier, logger)

	if trading {
		if err := wireTrading(ctx, cfg, deps, logger); err != nil {
			return nil, cleanup, err
		}
	}

	if cfg.Server.Enabled || strings.EqualFold(cfg.Mode, "server") {
		wireServer(cfg, deps, logger)
	}

	return deps, cleanup, nil
}

func wireArchiver(ctx context.Context, cfg *config.Config, execs s3blob.ExecutionSource, profit s3blob.ProfitSource, logger *slog.Logger) (*s3blob.Archiver, error) {
	bc, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       cfg.Archive.Endpoint,
		Region:         cfg.Archive.Region,
		Bucket:         cfg.Archive.Bucket,
		AccessKey:      cfg.Archive.AccessKey,
		SecretKey:      cfg.Archive.SecretKey,
		UseSSL:         cfg.Archive.UseSSL,
		ForcePathStyle: cfg.Archive.ForcePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: archive: %w", err)
	}
	if err := bc.Health(ctx); err != nil {
		return nil, fmt.Errorf("wire: archive: %w", err)
	}
	logger.InfoContext(ctx, "archive bucket reachable", slog.String("bucket", bc.Bucket()))
	return s3blob.NewArchiver(s3blob.NewStore(bc), execs, profit, cfg.Archive.Prefix, logger), nil
}

func usesPostgres(cfg *config.Config) bool {
	return cfg.CostBasis.Source == config.CostBasisPostgres || cfg.Postgres.Journal
}

// wireTrading connects to the node, resolves every configured pool and
// builds one executor per pool.
func wireTrading(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) error {
	baseToken := common.HexToAddress(cfg.Trading.BaseTokenAddress)

	client := strato.NewClient(strato.Config{
		NodeURL:        cfg.Strato.NodeURL,
		RequestTimeout: cfg.Strato.RequestTimeout.Duration,
		SubmitTimeout:  cfg.Strato.SubmitTimeout.Duration,
		ConfirmPoll:    cfg.Execution.ConfirmPoll.Duration,
		BaseToken:      baseToken,
		OAuth: strato.OAuthConfig{
			DiscoveryURL: cfg.OAuth.DiscoveryURL,
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			Username:     cfg.OAuth.Username,
			Password:     cfg.OAuth.Password,
		},
	}, logger)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("wire: strato: %w", err)
	}
	deps.Strato = client

	var shared domain.PriceCache
	if deps.Redis != nil {
		shared = rediscache.NewPriceCache(deps.Redis)
	}
	oracle := alchemy.New(alchemy.Config{
		APIKey:            cfg.Oracle.APIKey,
		BaseURL:           cfg.Oracle.BaseURL,
		Timeout:           cfg.Oracle.Timeout.Duration,
		CacheDuration:     cfg.Oracle.CacheDuration.Duration,
		RequestsPerSecond: cfg.Oracle.RequestsPerSecond,
	}, shared, logger)
	if deps.Redis != nil && cfg.Oracle.SharedQuotaPerMinute > 0 {
		oracle.UseQuota(rediscache.NewRequestQuota(deps.Redis, cfg.Oracle.SharedQuotaPerMinute, time.Minute))
	}
	deps.Oracle = oracle

	minProfit := amm.FromDecimal(cfg.Trading.MinProfit)

	for _, pc := range cfg.Pools {
		addr := common.HexToAddress(pc.Address)
		pool := strato.NewPool(client, addr)
		snap, err := pool.Refresh(ctx)
		if err != nil {
			return fmt.Errorf("wire: pool %s: %w", addr.Hex(), err)
		}

		var costs domain.CostBasisSource = pool
		if cfg.CostBasis.Source == config.CostBasisPostgres {
			costs = postgres.NewCostBasis(deps.Postgres, addr, client.Account().Hex(), baseToken)
		}

		pair := pairName(snap, pc)
		ex := executor.New(executor.Config{
			Pair:           pair,
			ExternalSymbol: pc.ExternalTokenName,
			QuoteSymbol:    pc.QuoteTokenName,
			FeeBps:         pc.Fee(cfg.Trading.FeeBps),
			MinProfit:      minProfit,
			SlippageBps:    cfg.Trading.SlippageBps,
			SwapDeadline:   cfg.Trading.SwapDeadline.Duration,
			ConfirmTimeout: cfg.Execution.ConfirmTimeout.Duration,
			LeaseTTL:       cfg.Redis.PairLeaseTTL.Duration,
			BaseToken:      baseToken,
		}, executor.Deps{
			Pool:    pool,
			Prices:  oracle,
			Gas:     client,
			Costs:   costs,
			Swaps:   pool,
			Ledger:  deps.Ledger,
			Lease:   deps.Lease,
			Events:  deps.Publisher,
			Metrics: deps.Metrics,
		}, logger)

		logger.InfoContext(ctx, "pool ready",
			slog.String("pair", pair),
			slog.String("pool", addr.Hex()),
			slog.String("reserve_a", amm.Format(snap.ReserveA)),
			slog.String("reserve_b", amm.Format(snap.ReserveB)),
		)
		deps.Pools = append(deps.Pools, pool)
		deps.Executors = append(deps.Executors, ex)
	}

	deps.Runner = executor.NewRunner(deps.Executors, cfg.Execution.Interval.Duration, cfg.Execution.DryRun, logger)
	return nil
}

// pairName renders "A/B" from the pool's token symbols, falling back to the
// configured names when the indexer omits them.
func pairName(snap domain.PoolSnapshot, pc config.PoolConfig) string {
	a, b := snap.TokenA.Symbol, snap.TokenB.Symbol
	if a == "" {
		a = pc.ExternalTokenName
	}
	if b == "" {
		b = pc.QuoteTokenName
	}
	if b == "" {
		b = snap.TokenB.Address.Hex()
	}
	return a + "/" + b
}

func wireServer(cfg *config.Config, deps *Dependencies, logger *slog.Logger) {
	startedAt := time.Now().UTC()

	sources := make([]handler.StatusSource, 0, len(deps.Executors))
	names := make([]string, 0, len(deps.Executors))
	for _, ex := range deps.Executors {
		sources = append(sources, ex)
		names = append(names, ex.Pair())
	}

	deps.Hub = ws.NewHub(deps.Bus, ws.Config{
		Mode:      cfg.Mode,
		DryRun:    cfg.Execution.DryRun,
		Pairs:     names,
		StartedAt: startedAt,
	}, originChecker(cfg.Server.CORSOrigins), logger)

	deps.Server = server.NewServer(server.Config{
		Port:           cfg.Server.Port,
		CORSOrigins:    cfg.Server.CORSOrigins,
		APIKey:         cfg.Server.APIKey,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	}, server.Handlers{
		Health:     handler.NewHealthHandler(cfg.Mode, cfg.Execution.DryRun, startedAt, logger),
		Pairs:      handler.NewPairsHandler(sources, logger),
		Profit:     handler.NewProfitHandler(deps.Ledger, logger),
		Executions: handler.NewExecutionsHandler(deps.History, logger),
		Metrics:    deps.Metrics.Handler(),
	}, deps.Hub, logger)
}

// originChecker accepts any origin when none are configured.
func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return nil
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}
