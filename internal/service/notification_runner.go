package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/order-notifier/internal/domain"
	"github.com/kursadbilgin/order-notifier/internal/observability"
	"github.com/kursadbilgin/order-notifier/internal/provider"
	"github.com/kursadbilgin/order-notifier/internal/ratelimit"
	"github.com/kursadbilgin/order-notifier/internal/region"
	"github.com/kursadbilgin/order-notifier/internal/repository"
	"github.com/kursadbilgin/order-notifier/internal/source"
	"github.com/kursadbilgin/order-notifier/internal/store"
	"go.uber.org/zap"
)

const (
	defaultFinalSaveTimeout = 10 * time.Second
	sendRateKey             = "gateway"

	OutcomeSent        = "sent"
	OutcomeFailed      = "failed"
	OutcomeAlreadySent = "already_sent"
	OutcomeExcluded    = "excluded"
)

type RunnerConfig struct {
	Template          domain.TemplateFields
	ExcludedRegions   []string
	SaveAfterEachSend bool
	FinalSaveTimeout  time.Duration
}

// NotificationRunner executes one notifier pass: for every marketplace it
// fetches candidate orders, drops excluded regions and already-notified
// orders, dispatches the rest and records successes. It is the only writer
// of the sent record during a run.
type NotificationRunner struct {
	sources           []source.OrderSource
	store             store.SentRecordStore
	dispatcher        provider.Dispatcher
	filter            *region.Filter
	template          domain.TemplateFields
	saveAfterEachSend bool
	finalSaveTimeout  time.Duration

	attempts    repository.AttemptRepository
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
	newRunID    func() string
}

func NewNotificationRunner(
	sources []source.OrderSource,
	sentStore store.SentRecordStore,
	dispatcher provider.Dispatcher,
	cfg RunnerConfig,
	logger *zap.Logger,
) (*NotificationRunner, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: at least one order source is required", domain.ErrValidation)
	}
	if sentStore == nil {
		return nil, fmt.Errorf("%w: sent record store is required", domain.ErrValidation)
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("%w: dispatcher is required", domain.ErrValidation)
	}
	if err := cfg.Template.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FinalSaveTimeout <= 0 {
		cfg.FinalSaveTimeout = defaultFinalSaveTimeout
	}

	seen := make(map[domain.Marketplace]bool, len(sources))
	for _, src := range sources {
		if src == nil {
			return nil, fmt.Errorf("%w: nil order source", domain.ErrValidation)
		}
		if seen[src.Marketplace()] {
			return nil, fmt.Errorf("%w: duplicate source for %s", domain.ErrValidation, src.Marketplace())
		}
		seen[src.Marketplace()] = true
	}

	return &NotificationRunner{
		sources:           sources,
		store:             sentStore,
		dispatcher:        dispatcher,
		filter:            region.NewFilter(cfg.ExcludedRegions),
		template:          cfg.Template,
		saveAfterEachSend: cfg.SaveAfterEachSend,
		finalSaveTimeout:  cfg.FinalSaveTimeout,
		logger:            logger,
		now:               time.Now,
		newRunID:          uuid.NewString,
	}, nil
}

func (r *NotificationRunner) SetMetrics(metrics *observability.Metrics) {
	r.metrics = metrics
}

// SetAttemptRepository enables the per-dispatch audit trail.
func (r *NotificationRunner) SetAttemptRepository(attempts repository.AttemptRepository) {
	r.attempts = attempts
}

func (r *NotificationRunner) SetRateLimiter(limiter ratelimit.RateLimiter) {
	r.rateLimiter = limiter
}

// Run performs one pass. A load failure aborts before any dispatch. The
// final save runs even when ctx is canceled, under its own timeout.
func (r *NotificationRunner) Run(ctx context.Context) (domain.RunSummary, error) {
	summary := domain.RunSummary{RunID: r.newRunID()}
	ctx = observability.WithRunID(ctx, summary.RunID)
	logger := observability.RunLogger(r.logger, ctx)

	logger.Info("notifier run started", zap.Int("marketplaces", len(r.sources)))

	record, err := r.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrPersistenceFailed) {
			err = fmt.Errorf("%w: %w", domain.ErrPersistenceFailed, err)
		}
		logger.Error("failed to load sent record, aborting run before any dispatch", zap.Error(err))
		r.metrics.SetRunFinished(r.now(), false)
		return summary, err
	}
	for _, src := range r.sources {
		record.Ensure(src.Marketplace())
	}

	for _, src := range r.sources {
		result := r.processMarketplace(ctx, logger, src, record)
		summary.Results = append(summary.Results, result)

		logger.Info("marketplace processed",
			zap.String("marketplace", result.Marketplace.String()),
			zap.Int("fetched", result.Fetched),
			zap.Int("excluded", result.Excluded),
			zap.Int("alreadySent", result.AlreadySent),
			zap.Int("sent", result.Sent),
			zap.Int("failed", result.Failed),
			zap.String("kind", result.Kind.String()),
		)
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.finalSaveTimeout)
	defer cancel()
	if err := r.store.Save(saveCtx, record); err != nil {
		if !errors.Is(err, domain.ErrPersistenceFailed) {
			err = fmt.Errorf("%w: %w", domain.ErrPersistenceFailed, err)
		}
		summary.SaveErr = err
		logger.Error("failed to save sent record; orders notified in this run may be notified again next run",
			zap.Int("notifiedThisRun", summary.TotalSent()),
			zap.Error(err),
		)
	}

	r.metrics.SetRunFinished(r.now(), summary.OK())
	logger.Info("notifier run finished",
		zap.Int("sent", summary.TotalSent()),
		zap.Int("failed", summary.TotalFailed()),
		zap.Bool("ok", summary.OK()),
	)

	return summary, summary.SaveErr
}

func (r *NotificationRunner) processMarketplace(
	ctx context.Context,
	logger *zap.Logger,
	src source.OrderSource,
	record *domain.SentRecord,
) (result domain.MarketplaceResult) {
	marketplace := src.Marketplace()
	result.Marketplace = marketplace
	logger = logger.With(zap.String("marketplace", marketplace.String()))

	defer func() {
		if recovered := recover(); recovered != nil {
			result.Err = fmt.Errorf("panic while processing %s: %v", marketplace, recovered)
			result.Kind = domain.KindInternal
			logger.Error("marketplace processing panicked", zap.Any("panic", recovered))
		}
	}()

	if err := ctx.Err(); err != nil {
		result.Err = fmt.Errorf("run canceled before fetch: %w", err)
		result.Kind = domain.KindOf(result.Err)
		logger.Warn("run canceled, marketplace skipped", zap.Error(err))
		return result
	}

	orders, err := src.FetchRecentOrders(ctx, src.DefaultQuery())
	if err != nil {
		result.Err = err
		result.Kind = domain.KindOf(err)
		r.metrics.IncSourceFailure(marketplace.String())
		logger.Error("failed to fetch orders",
			zap.String("kind", result.Kind.String()),
			zap.Error(err),
		)
		return result
	}
	result.Fetched = len(orders)
	r.metrics.AddOrdersFetched(marketplace.String(), len(orders))

	handled := make(map[string]struct{}, len(orders))
	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			result.Err = fmt.Errorf("dispatch interrupted: %w", err)
			result.Kind = domain.KindOf(result.Err)
			logger.Warn("run canceled, remaining orders left for the next run", zap.Error(err))
			return result
		}
		if _, dup := handled[order.OrderID]; dup {
			continue
		}
		handled[order.OrderID] = struct{}{}

		orderLogger := logger.With(
			zap.String("orderId", order.OrderID),
			observability.Phone(order.Phone),
		)

		if entry, excluded := r.filter.Match(order.Region); excluded {
			result.Excluded++
			r.metrics.IncOrderExcluded(marketplace.String())
			orderLogger.Info("order processed",
				zap.String("outcome", OutcomeExcluded),
				zap.String("region", order.Region),
				zap.String("exclusion", entry),
			)
			continue
		}

		if record.Contains(marketplace, order.OrderID) {
			result.AlreadySent++
			r.metrics.IncOrderSkipped(marketplace.String())
			orderLogger.Info("order processed", zap.String("outcome", OutcomeAlreadySent))
			continue
		}

		if r.dispatch(ctx, orderLogger, runIDFromContext(ctx), marketplace, order) {
			record.MarkSent(marketplace, order.OrderID)
			result.Sent++
			if r.saveAfterEachSend {
				if err := r.store.Save(ctx, record); err != nil {
					orderLogger.Error("intermediate save failed; the final save will retry", zap.Error(err))
				}
			}
		} else {
			result.Failed++
		}
	}

	return result
}

// dispatch sends one notification and reports whether the gateway accepted it.
func (r *NotificationRunner) dispatch(
	ctx context.Context,
	logger *zap.Logger,
	runID string,
	marketplace domain.Marketplace,
	order domain.NormalizedOrder,
) bool {
	if r.rateLimiter != nil {
		if err := r.rateLimiter.Wait(ctx, sendRateKey); err != nil {
			r.metrics.IncNotificationFailed(marketplace.String(), "rate_limit")
			logger.Warn("order processed",
				zap.String("outcome", OutcomeFailed),
				zap.Error(fmt.Errorf("%w: rate limiter: %w", domain.ErrDispatchFailed, err)),
			)
			return false
		}
	}

	start := r.now()
	result := r.dispatcher.Send(ctx, order.Phone, r.template)
	r.metrics.ObserveNotificationSendDuration(marketplace.String(), r.now().Sub(start))

	r.recordAttempt(ctx, logger, domain.NewDispatchAttempt(runID, marketplace, order.OrderID, result))

	if result.Succeeded {
		r.metrics.IncNotificationSent(marketplace.String())
		logger.Info("order processed",
			zap.String("outcome", OutcomeSent),
			zap.Int("statusCode", result.StatusCode),
			zap.String("gatewayCode", result.GatewayCode),
		)
		return true
	}

	cause := result.Err
	if cause == nil {
		cause = errors.New("gateway did not confirm the send")
	}
	reason := provider.FailureReason(cause)
	r.metrics.IncNotificationFailed(marketplace.String(), reason)
	logger.Warn("order processed",
		zap.String("outcome", OutcomeFailed),
		zap.String("reason", reason),
		zap.Int("statusCode", result.StatusCode),
		zap.String("gatewayCode", result.GatewayCode),
		zap.String("response", result.RawResponse),
		zap.Error(fmt.Errorf("%w: %w", domain.ErrDispatchFailed, cause)),
	)
	return false
}

func (r *NotificationRunner) recordAttempt(ctx context.Context, logger *zap.Logger, attempt *domain.DispatchAttempt) {
	if r.attempts == nil {
		return
	}
	attempt.CreatedAt = r.now().UTC()
	if err := r.attempts.Create(ctx, attempt); err != nil {
		logger.Warn("failed to record dispatch attempt", zap.Error(err))
	}
}

func runIDFromContext(ctx context.Context) string {
	runID, _ := observability.RunIDFromContext(ctx)
	return runID
}
