// Package app assembles the bot, the dispatcher and the HTTP API from config.
package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pavelc4/aether-queue/config"
	"github.com/pavelc4/aether-queue/internal/api"
	"github.com/pavelc4/aether-queue/internal/artifact"
	"github.com/pavelc4/aether-queue/internal/bot"
	"github.com/pavelc4/aether-queue/internal/cache"
	"github.com/pavelc4/aether-queue/internal/dispatcher"
	"github.com/pavelc4/aether-queue/internal/handler"
	"github.com/pavelc4/aether-queue/internal/media"
	"github.com/pavelc4/aether-queue/internal/provider"
	"github.com/pavelc4/aether-queue/internal/queue"
	"github.com/pavelc4/aether-queue/internal/quota"
	"github.com/pavelc4/aether-queue/internal/ratelimit"
	"github.com/pavelc4/aether-queue/internal/retry"
	"github.com/pavelc4/aether-queue/internal/splitter"
	"github.com/pavelc4/aether-queue/internal/stats"
	"github.com/pavelc4/aether-queue/internal/telegram"
	"github.com/pavelc4/aether-queue/internal/userstore"
	"github.com/pavelc4/aether-queue/pkg/logger"
)

const (
	statsSaveInterval = 5 * time.Minute
	shutdownTimeout   = time.Minute
)

type App struct {
	Cfg *config.Config

	bot        *bot.Bot
	db         *userstore.Postgres
	users      *userstore.Store
	quota      *quota.Tracker
	store      *artifact.Store
	limiter    *ratelimit.Limiter
	stats      *stats.Stats
	dispatcher *dispatcher.Dispatcher
	tracker    *telegram.Tracker
	hub        *api.Hub
	api        *api.Server
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Cfg: cfg}

	if cfg.DatabaseURL != "" {
		db, err := userstore.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.db = db
	} else {
		logger.Warn("DATABASE_URL not set, users and quotas are kept in memory only")
	}
	a.users = userstore.New(userstore.NewStatic(cfg), a.db)

	a.quota = quota.New(cfg.DailyQuotaBytes, a.users)
	if saved, err := a.users.LoadQuotas(ctx); err != nil {
		logger.Warn("Failed to load quotas", "error", err)
	} else {
		a.quota.Restore(saved)
	}

	a.store = artifact.NewStore(cfg.WorkDir)
	if n := a.store.PurgeOrphans(ctx); n > 0 {
		logger.Info("Removed leftover job directories", "count", n)
	}

	providers := provider.NewRegistry()
	direct := provider.NewDirect(a.store.Root())
	if cfg.CobaltAPI != "" {
		providers.Register(provider.NewCobalt(cfg.CobaltAPI, cfg.CobaltAPIKey, direct))
	}
	providers.Register(direct)
	providers.Register(provider.NewYtDlp(cfg.YtdlpPath, a.store.Root(), cfg.CookiesDir))

	tool := media.New(cfg.FFmpegPath, cfg.FFprobePath)

	a.stats = stats.New(cfg.StatsPath)
	if err := a.stats.Load(); err != nil {
		logger.Warn("Failed to load stats, starting fresh", "error", err)
	}

	a.bot = bot.New(cfg)
	peers := cache.NewPeers()
	a.limiter = ratelimit.New(cfg.RateLimitCount, cfg.RateLimitWindow)

	a.dispatcher = dispatcher.New(dispatcher.Deps{
		Queue:     queue.New(cfg.MaxQueueLengthPerUser),
		Limiter:   a.limiter,
		Quota:     a.quota,
		Store:     a.store,
		Retry:     retry.NewPolicy(cfg.RetryBase, cfg.RetryMax, cfg.MaxRetryAttempts),
		Fetcher:   providers,
		Estimator: providers,
		Splitter:  splitter.New(tool),
		Delivery:  telegram.NewDelivery(a.bot.Client, peers, tool, cfg.DeliveryInterval),
		Users:     a.users,
		Stats:     a.stats,
	}, dispatcher.Options{
		MaxConcurrency: cfg.MaxConcurrency,
		MaxPartBytes:   cfg.MaxPartBytes,
		ArtifactTTL:    cfg.ArtifactTTL,
		FetchTimeout:   cfg.FetchTimeout,
		Caption:        telegram.Caption,
	})

	h := handler.New(handler.Deps{
		Chat:    a.bot.Client,
		Intake:  a.dispatcher,
		Users:   a.users,
		Quota:   a.quota,
		Stats:   a.stats,
		Host:    stats.NewHost(a.store.Root()),
		OwnerID: cfg.OwnerID,
	})
	a.bot.Route(bot.NewRouter(h, peers, a.bot.Client.Username))

	a.tracker = telegram.NewTracker(a.bot.Client, peers)

	if cfg.HTTPAddr != "" {
		a.hub = api.NewHub()
		a.api = api.New(api.Options{
			Addr:        cfg.HTTPAddr,
			Token:       cfg.APIToken,
			CORSOrigins: cfg.CORSOrigins,
		}, a.dispatcher, a.quota, a.hub)
	}

	logger.Info("Application initialized",
		"workers", cfg.MaxConcurrency,
		"quota", cfg.QuotaLabel(),
		"http", cfg.HTTPAddr != "")
	return a, nil
}

// Run blocks until ctx ends or a component fails. The Telegram client outlives
// the dispatcher so running requests can still deliver while draining.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		if a.db != nil {
			a.db.Close()
		}
	}()

	botCtx, stopBot := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBot()

	statusEvents, unsubscribe := a.dispatcher.Subscribe()
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer stopBot()
		return a.bot.Run(botCtx)
	})
	g.Go(func() error {
		<-gctx.Done()
		// The client stays up until running requests have drained.
		shutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := a.dispatcher.Shutdown(shutdown)
		stopBot()
		return err
	})
	g.Go(func() error { return a.dispatcher.Run(gctx) })
	g.Go(func() error { return a.tracker.Run(botCtx, statusEvents) })
	g.Go(func() error { return a.store.Run(gctx, a.Cfg.SweepInterval) })
	g.Go(func() error { return a.limiter.Run(gctx, a.Cfg.SweepInterval) })
	g.Go(func() error { return a.quota.Run(gctx, a.Cfg.QuotaSaveInterval, a.users) })
	g.Go(func() error { return a.stats.Run(gctx, statsSaveInterval) })

	if a.api != nil {
		apiEvents, unsubscribeAPI := a.dispatcher.Subscribe()
		defer unsubscribeAPI()
		g.Go(func() error { return a.hub.Run(gctx, apiEvents) })
		g.Go(func() error { return a.api.Run(gctx) })
	}

	err := g.Wait()
	logger.Info("Application stopped")
	return err
}
