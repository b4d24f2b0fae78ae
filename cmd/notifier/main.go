package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kursadbilgin/order-notifier/internal/config"
	"github.com/kursadbilgin/order-notifier/internal/domain"
	"github.com/kursadbilgin/order-notifier/internal/infra/database"
	"github.com/kursadbilgin/order-notifier/internal/infra/database/migrations"
	infraredis "github.com/kursadbilgin/order-notifier/internal/infra/redis"
	"github.com/kursadbilgin/order-notifier/internal/lock"
	"github.com/kursadbilgin/order-notifier/internal/observability"
	"github.com/kursadbilgin/order-notifier/internal/provider"
	"github.com/kursadbilgin/order-notifier/internal/ratelimit"
	"github.com/kursadbilgin/order-notifier/internal/repository"
	"github.com/kursadbilgin/order-notifier/internal/service"
	"github.com/kursadbilgin/order-notifier/internal/source"
	"github.com/kursadbilgin/order-notifier/internal/store"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	lockName             = "notifier"
	unlockTimeout        = 5 * time.Second
	metricsExportTimeout = 10 * time.Second
)

func main() {
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before reading the environment")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("failed to load env file %s: %v", *envFile, err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}

	code := run(cfg, logger)
	_ = logger.Sync()
	os.Exit(code)
}

func run(cfg *config.Config, logger *zap.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	marketplaces, err := cfg.Marketplaces()
	if err != nil {
		logger.Error("invalid marketplace configuration", zap.Error(err))
		return 1
	}

	var rdb *goredis.Client
	if cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("redis initialization failed", zap.Error(err))
			return 1
		}
		defer rdb.Close()
	}

	locker, err := newLocker(cfg, rdb)
	if err != nil {
		logger.Error("run lock initialization failed", zap.Error(err))
		return 1
	}
	if err := locker.TryLock(ctx); err != nil {
		if errors.Is(err, domain.ErrRunLocked) {
			logger.Warn("another notifier run is in progress, exiting", zap.Error(err))
			return 0
		}
		logger.Error("failed to acquire run lock", zap.Error(err))
		return 1
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unlockTimeout)
		defer cancel()
		if err := locker.Unlock(unlockCtx); err != nil {
			logger.Warn("failed to release run lock", zap.Error(err))
		}
	}()

	sentStore, attempts, closeStore, err := newSentRecordStore(cfg, marketplaces)
	if err != nil {
		logger.Error("sent record store initialization failed", zap.Error(err))
		return 1
	}
	defer closeStore()

	sources, err := newSources(cfg, marketplaces, rdb, logger)
	if err != nil {
		logger.Error("order source initialization failed", zap.Error(err))
		return 1
	}

	dispatcher, err := provider.NewAligoProvider(provider.AligoConfig{
		APIKey:          cfg.AligoAPIKey,
		UserID:          cfg.AligoUserID,
		SenderKey:       cfg.AligoSenderKey,
		TemplateCode:    cfg.AligoTemplateCode,
		SenderPhone:     cfg.AligoSenderPhone,
		SendURL:         cfg.AligoSendURL,
		FailoverSubject: cfg.AligoFailoverSubject,
		FailoverMessage: cfg.AligoFailoverMessage,
		Timeout:         cfg.HTTPTimeout(),
	})
	if err != nil {
		logger.Error("notification provider initialization failed", zap.Error(err))
		return 1
	}

	runner, err := service.NewNotificationRunner(sources, sentStore, dispatcher, service.RunnerConfig{
		Template:          cfg.Template(),
		ExcludedRegions:   cfg.ExclusionList(),
		SaveAfterEachSend: cfg.SaveAfterEachSend,
	}, logger)
	if err != nil {
		logger.Error("notification runner initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.NewMetrics()
	runner.SetMetrics(metrics)
	if attempts != nil {
		runner.SetAttemptRepository(attempts)
	}
	if cfg.SendRatePerSec > 0 {
		limiter, err := newSendLimiter(cfg, rdb)
		if err != nil {
			logger.Error("send rate limiter initialization failed", zap.Error(err))
			return 1
		}
		runner.SetRateLimiter(limiter)
	}

	summary, runErr := runner.Run(ctx)

	exportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsExportTimeout)
	defer cancel()
	if err := metrics.Export(exportCtx, cfg.MetricsTextfile, cfg.MetricsPushgatewayURL); err != nil {
		logger.Warn("metrics export failed", zap.Error(err))
	}

	if runErr != nil {
		if errors.Is(runErr, domain.ErrPersistenceFailed) {
			return 1
		}
		logger.Error("notifier run failed", zap.Error(runErr))
		return 1
	}
	if !summary.OK() {
		logger.Warn("notifier run finished with marketplace errors", zap.String("runId", summary.RunID))
	}
	return 0
}

func newLocker(cfg *config.Config, rdb *goredis.Client) (lock.Locker, error) {
	if rdb != nil {
		return infraredis.NewLocker(rdb, lockName, cfg.LockTTL())
	}
	return lock.NewFileLocker(cfg.LockFile)
}

// newSentRecordStore returns the attempt repository only for SQL drivers.
func newSentRecordStore(cfg *config.Config, marketplaces []domain.Marketplace) (store.SentRecordStore, repository.AttemptRepository, func(), error) {
	noop := func() {}

	if cfg.StoreDriver == config.StoreDriverFile {
		fileStore, err := store.NewFileStore(cfg.StateFile, marketplaces...)
		if err != nil {
			return nil, nil, noop, err
		}
		return fileStore, nil, noop, nil
	}

	db, err := database.Open(cfg.StoreDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, noop, err
	}
	closeDB := func() { _ = database.Close(db) }

	if err := migrations.Migrate(db); err != nil {
		closeDB()
		return nil, nil, noop, err
	}

	return repository.NewGormSentRecordRepo(db, marketplaces...), repository.NewGormAttemptRepo(db), closeDB, nil
}

func newSources(cfg *config.Config, marketplaces []domain.Marketplace, rdb *goredis.Client, logger *zap.Logger) ([]source.OrderSource, error) {
	var tokenCache source.TokenCache
	if rdb != nil {
		cache, err := infraredis.NewTokenCache(rdb)
		if err != nil {
			return nil, err
		}
		tokenCache = cache
	}

	sources := make([]source.OrderSource, 0, len(marketplaces))
	for _, m := range marketplaces {
		switch m {
		case domain.MarketplaceNaver:
			naver, err := source.NewNaverSource(source.NaverConfig{
				ClientID:     cfg.NaverClientID,
				ClientSecret: cfg.NaverClientSecret,
				AccountID:    cfg.NaverAccountID,
				Type:         cfg.NaverType,
				BaseURL:      cfg.NaverBaseURL,
				OrderStatus:  cfg.NaverOrderStatus,
				PageSize:     cfg.NaverPageSize,
				Timeout:      cfg.HTTPTimeout(),
			}, tokenCache, logger.With(zap.String("marketplace", m.String())))
			if err != nil {
				return nil, err
			}
			sources = append(sources, naver)
		case domain.MarketplaceCoupang:
			coupang, err := source.NewCoupangSource(source.CoupangConfig{
				AccessKey:   cfg.CoupangAccessKey,
				SecretKey:   cfg.CoupangSecretKey,
				VendorID:    cfg.CoupangVendorID,
				BaseURL:     cfg.CoupangBaseURL,
				OrderStatus: cfg.CoupangOrderStatus,
				Window:      cfg.CoupangWindow(),
				PageSize:    cfg.CoupangPageSize,
				Timeout:     cfg.HTTPTimeout(),
			})
			if err != nil {
				return nil, err
			}
			sources = append(sources, coupang)
		}
	}
	return sources, nil
}

// newSendLimiter shares the send budget across hosts when redis is configured.
func newSendLimiter(cfg *config.Config, rdb *goredis.Client) (ratelimit.RateLimiter, error) {
	if rdb != nil {
		perSec := int(cfg.SendRatePerSec)
		if perSec < 1 {
			perSec = 1
		}
		return infraredis.NewSendLimiter(rdb, perSec)
	}
	return ratelimit.NewLocalRateLimiter(cfg.SendRatePerSec)
}
