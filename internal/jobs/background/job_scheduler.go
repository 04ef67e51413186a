package background

import (
	"context"
	"fmt"
	"sort"
	"time"

	"estatehub/internal/observability"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

const (
	SubscriptionExpiryJob = "subscription-expiry-sweep"
	FeaturedExpiryJob     = "featured-listing-expiry"
)

// SubscriptionExpirer flips lapsed active subscriptions to expired.
type SubscriptionExpirer interface {
	ExpireLapsed(ctx context.Context, limit int) (int, error)
}

// FeaturedListingSweeper clears featuring whose window has passed.
type FeaturedListingSweeper interface {
	ClearExpiredFeatured(ctx context.Context, now time.Time) (int64, error)
}

type Config struct {
	Interval  time.Duration
	BatchSize int
}

// JobScheduler runs the periodic expiry sweeps. Lazy expiry on read stays the
// source of truth; the sweeps only keep stored state close to it.
type JobScheduler struct {
	scheduler     gocron.Scheduler
	subscriptions SubscriptionExpirer
	listings      FeaturedListingSweeper
	cfg           Config
	metrics       *observability.Metrics
	logger        logrus.FieldLogger
	now           func() time.Time
	ctx           context.Context
	cancel        context.CancelFunc
}

func NewJobScheduler(
	subscriptions SubscriptionExpirer,
	listings FeaturedListingSweeper,
	cfg Config,
	metrics *observability.Metrics,
	logger logrus.FieldLogger,
) (*JobScheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}

	ctx, cancel := context.WithCancel(context.Background())
	js := &JobScheduler{
		scheduler:     scheduler,
		subscriptions: subscriptions,
		listings:      listings,
		cfg:           cfg,
		metrics:       metrics,
		logger:        logger.WithField("component", "scheduler"),
		now:           time.Now,
		ctx:           ctx,
		cancel:        cancel,
	}

	if err := js.registerJobs(); err != nil {
		cancel()
		_ = scheduler.Shutdown()
		return nil, err
	}
	return js, nil
}

func (js *JobScheduler) registerJobs() error {
	jobs := []struct {
		name string
		task func() error
	}{
		{SubscriptionExpiryJob, js.expireSubscriptions},
		{FeaturedExpiryJob, js.expireFeaturedListings},
	}

	for _, job := range jobs {
		_, err := js.scheduler.NewJob(
			gocron.DurationJob(js.cfg.Interval),
			gocron.NewTask(job.task),
			gocron.WithName(job.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("failed to register job %s: %w", job.name, err)
		}
	}

	js.logger.WithField("interval", js.cfg.Interval.String()).Infof("registered %d background jobs", len(jobs))
	return nil
}

func (js *JobScheduler) Start() {
	js.logger.Info("starting background job scheduler")
	js.scheduler.Start()
}

// Stop cancels in-flight sweeps and waits for them to return.
func (js *JobScheduler) Stop() error {
	js.logger.Info("stopping background job scheduler")
	js.cancel()
	return js.scheduler.Shutdown()
}

// JobNames lists the registered jobs in name order.
func (js *JobScheduler) JobNames() []string {
	names := make([]string, 0, 2)
	for _, job := range js.scheduler.Jobs() {
		names = append(names, job.Name())
	}
	sort.Strings(names)
	return names
}

func (js *JobScheduler) runContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(js.ctx, js.cfg.Interval)
}

func (js *JobScheduler) expireSubscriptions() error {
	ctx, cancel := js.runContext()
	defer cancel()

	start := time.Now()
	expired, err := js.subscriptions.ExpireLapsed(ctx, js.cfg.BatchSize)
	js.metrics.SweepExpirations.WithLabelValues(SubscriptionExpiryJob).Add(float64(expired))

	log := js.logger.WithFields(logrus.Fields{
		"job":      SubscriptionExpiryJob,
		"expired":  expired,
		"duration": time.Since(start).String(),
	})
	if err != nil {
		log.WithError(err).Error("subscription expiry sweep failed")
		return err
	}
	if expired > 0 {
		log.Info("expired lapsed subscriptions")
	} else {
		log.Debug("no lapsed subscriptions")
	}
	return nil
}

func (js *JobScheduler) expireFeaturedListings() error {
	ctx, cancel := js.runContext()
	defer cancel()

	cleared, err := js.listings.ClearExpiredFeatured(ctx, js.now())
	if err != nil {
		js.logger.WithError(err).WithField("job", FeaturedExpiryJob).Error("featured listing sweep failed")
		return err
	}
	js.metrics.SweepExpirations.WithLabelValues(FeaturedExpiryJob).Add(float64(cleared))
	if cleared > 0 {
		js.logger.WithFields(logrus.Fields{"job": FeaturedExpiryJob, "cleared": cleared}).Info("cleared expired featuring")
	}
	return nil
}
