// Package main wires together the keyword scraping service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/serpscout/serpscout/internal/api"
	"github.com/serpscout/serpscout/internal/browser"
	"github.com/serpscout/serpscout/internal/config"
	"github.com/serpscout/serpscout/internal/dispatcher"
	"github.com/serpscout/serpscout/internal/enqueuer"
	"github.com/serpscout/serpscout/internal/htmlparse"
	"github.com/serpscout/serpscout/internal/keywords"
	"github.com/serpscout/serpscout/internal/logging"
	"github.com/serpscout/serpscout/internal/metrics"
	"github.com/serpscout/serpscout/internal/notify"
	"github.com/serpscout/serpscout/internal/queue"
	"github.com/serpscout/serpscout/internal/queue/redisq"
	"github.com/serpscout/serpscout/internal/scraper"
	"github.com/serpscout/serpscout/internal/search"
	"github.com/serpscout/serpscout/internal/sse"
	memorystorage "github.com/serpscout/serpscout/internal/storage/memory"
	"github.com/serpscout/serpscout/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	store, err := newKeywordStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close() //nolint:errcheck

	scrapeQueue, err := redisq.New(ctx, redisClient, redisq.Config{
		Stream:      cfg.Scrape.Stream,
		StalledIdle: cfg.Scrape.StalledIdle(),
		Options: queue.Options{
			MaxAttempts: cfg.Scrape.MaxAttempts,
			Backoff:     queue.Backoff{Initial: cfg.Scrape.BackoffInitial(), Max: cfg.Scrape.BackoffMax()},
		},
	}, logger.Named("scrape_queue"))
	if err != nil {
		return fmt.Errorf("init scrape queue: %w", err)
	}
	defer scrapeQueue.Close() //nolint:errcheck

	notifyQueue, err := redisq.New(ctx, redisClient, redisq.Config{
		Stream:      cfg.Notify.Stream,
		StalledIdle: cfg.Notify.StalledIdle(),
		Options: queue.Options{
			MaxAttempts: cfg.Notify.MaxAttempts,
			Backoff:     queue.Backoff{Initial: cfg.Notify.BackoffInitial(), Max: cfg.Notify.BackoffMax()},
		},
	}, logger.Named("notify_queue"))
	if err != nil {
		return fmt.Errorf("init notify queue: %w", err)
	}
	defer notifyQueue.Close() //nolint:errcheck

	var proxies *browser.ProxyPool
	if cfg.Browser.ProxyEnabled {
		proxies = browser.NewProxyPool(cfg.Browser.ProxyListURLs, logger.Named("proxies"))
		if err := proxies.Load(ctx); err != nil {
			logger.Warn("proxy pool unavailable, scraping directly", zap.Error(err))
		}
	}
	launcher := browser.NewService(browser.Config{
		NavigationTimeout: cfg.Browser.NavTimeout(),
		Settle:            cfg.Browser.Settle(),
		Proxies:           proxies,
	}, logger.Named("browser"))

	gateway := sse.NewGateway(logger.Named("sse"))
	defer gateway.Close()

	publisher := notify.NewQueuePublisher(notifyQueue)
	observer := scraper.MultiObserver{
		scraper.NewLogObserver(logger.Named("scrape")),
		metrics.NewObserver(prometheus.DefaultRegisterer),
	}
	worker := scraper.NewWorker(
		store,
		search.NewBing(),
		htmlparse.NewBingParser(),
		launcher,
		publisher,
		observer,
		logger.Named("worker"),
	)

	dispatch := dispatcher.New(logger.Named("dispatcher"))
	dispatch.AddPool("scrape", cfg.Scrape.Concurrency, scraper.NewRunner(scrapeQueue, worker, logger.Named("scrape_runner")))
	dispatch.AddPool("notify", cfg.Notify.Concurrency, notify.NewWorker(notifyQueue, gateway, logger.Named("notify_worker")))

	enq := enqueuer.New(scrapeQueue, logger.Named("enqueuer"))
	apiServer := api.NewServer(store, enq, gateway, api.Config{MaxUploadKeywords: cfg.Upload.MaxKeywords}, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		logger.Info("workers started")
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		logger.Warn("workers did not drain before the deadline")
	}
	logger.Info("shutdown complete")
	return nil
}

// closableStore joins the store interface with the Close method both
// implementations carry.
type closableStore interface {
	keywords.Store
	Close()
}

func newKeywordStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (closableStore, error) {
	if cfg.DB.DSN == "" {
		logger.Warn("db.dsn not set, keywords will not survive restarts")
		return nopCloseStore{memorystorage.NewKeywordStore()}, nil
	}
	store, err := postgres.NewKeywordStore(ctx, postgres.KeywordStoreConfig{DSN: cfg.DB.DSN})
	if err != nil {
		return nil, fmt.Errorf("init keyword store: %w", err)
	}
	return store, nil
}

type nopCloseStore struct {
	*memorystorage.KeywordStore
}

func (nopCloseStore) Close() {}
