// Package service assembles the detection pipeline and implements the
// dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/enersight/peakd/internal/adapters/classify"
	"github.com/enersight/peakd/internal/adapters/mq/queue"
	"github.com/enersight/peakd/internal/adapters/mq/scheduler"
	"github.com/enersight/peakd/internal/adapters/mq/worker"
	"github.com/enersight/peakd/internal/adapters/notification"
	"github.com/enersight/peakd/internal/adapters/repository"
	"github.com/enersight/peakd/internal/domain/estimate"
	"github.com/enersight/peakd/internal/domain/mark"
	"github.com/enersight/peakd/internal/domain/model"
	"github.com/enersight/peakd/pkg/logger"
	"github.com/enersight/peakd/pkg/metrics"
)

// noopClassifier stands in when no classification service is configured.
// Peaks stay marked but unassigned.
type noopClassifier struct{}

func (noopClassifier) Classify(ctx context.Context, peaks []mark.PeakSeries) ([]mark.Attribution, error) {
	return nil, nil
}

// Service owns the pipeline components and their lifecycles.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	queue      queue.Queue
	classifier mark.Classifier
	notifier   mark.Notifier
	marker     *mark.Marker
	sched      *scheduler.Scheduler
	pool       *worker.Pool

	// Configuration
	databaseURL         string
	workerCount         int
	pollInterval        time.Duration
	visibility          time.Duration
	maxReadCount        int
	scheduleInterval    time.Duration
	estimateInterval    time.Duration
	peakMultiplier      float64
	anomalyMultiplier   float64
	confidenceThreshold float64
	classifyURL         string
	classifyAPIKey      string
	smtp                notification.SMTPConfig
	unsubscribeBaseURL  string

	// State
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// Logging
	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:         4,
		pollInterval:        2 * time.Second,
		visibility:          queue.DefaultVisibilityTimeout,
		maxReadCount:        10,
		scheduleInterval:    scheduler.DefaultInterval,
		estimateInterval:    time.Hour,
		peakMultiplier:      mark.DefaultPeakMultiplier,
		anomalyMultiplier:   mark.DefaultAnomalyMultiplier,
		confidenceThreshold: mark.DefaultConfidenceThreshold,
		stopCh:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting pipeline service...")

	if err := s.initStore(ctx); err != nil {
		return err
	}
	if err := s.initQueue(ctx); err != nil {
		return err
	}
	if err := s.initClassifier(); err != nil {
		return err
	}
	if s.notifier == nil {
		s.notifier = notification.NewEmailNotifier(s.smtp)
	}

	s.marker = mark.New(s.store, s.classifier, s.notifier,
		mark.WithPeakMultiplier(s.peakMultiplier),
		mark.WithAnomalyMultiplier(s.anomalyMultiplier),
		mark.WithConfidenceThreshold(s.confidenceThreshold),
		mark.WithUnsubscribeBaseURL(s.unsubscribeBaseURL),
	)

	s.sched = scheduler.New(s.store, s.queue,
		scheduler.WithInterval(s.scheduleInterval),
	)

	s.pool = worker.NewPool(s.queue, s.marker,
		worker.WithWorkerCount(s.workerCount),
		worker.WithPollInterval(s.pollInterval),
		worker.WithVisibilityTimeout(s.visibility),
		worker.WithMaxReadCount(s.maxReadCount),
	)
	s.pool.Start(ctx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.sched.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.estimationLoop(ctx)
	}()

	s.started = true
	s.logger.Info(ctx, "pipeline service started",
		logger.Int("workers", s.workerCount),
		logger.Duration("scheduleInterval", s.scheduleInterval),
		logger.Duration("estimateInterval", s.estimateInterval),
		logger.String("store", fmt.Sprintf("%T", s.store)),
	)
	return nil
}

func (s *Service) initStore(ctx context.Context) error {
	if s.store != nil {
		return nil
	}
	if s.databaseURL == "" {
		s.logger.Warn(ctx, "no database configured, using in-memory store")
		s.store = repository.NewMemoryStore()
		return nil
	}
	store, err := repository.NewPostgresStore(ctx, s.databaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	s.store = store
	return nil
}

func (s *Service) initQueue(ctx context.Context) error {
	if s.queue != nil {
		return nil
	}
	// The durable queue shares the store's Postgres connection pool;
	// without one, fall back to the in-memory queue alongside the
	// in-memory store.
	if pg, ok := s.store.(*repository.PostgresStore); ok {
		q, err := queue.NewPostgresQueue(ctx, pg.DB())
		if err != nil {
			return fmt.Errorf("open queue: %w", err)
		}
		s.queue = q
		return nil
	}
	s.queue = queue.NewMemoryQueue()
	return nil
}

func (s *Service) initClassifier() error {
	if s.classifier != nil {
		return nil
	}
	if s.classifyURL == "" {
		s.classifier = noopClassifier{}
		return nil
	}
	c, err := classify.New(s.classifyURL, s.classifyAPIKey)
	if err != nil {
		return fmt.Errorf("build classifier: %w", err)
	}
	s.classifier = c
	return nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping pipeline service...")

	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}

	if s.sched != nil {
		s.sched.Shutdown()
	}
	if s.pool != nil {
		_ = s.pool.Shutdown(ctx)
	}
	s.wg.Wait()

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn(ctx, "store close failed", logger.Error(err))
		}
	}

	s.started = false
	s.logger.Info(ctx, "pipeline service stopped")
}

// Sweep triggers one fan-out pass over the sensor fleet.
func (s *Service) Sweep(ctx context.Context) (scheduler.SweepResult, error) {
	s.mu.RLock()
	sched := s.sched
	s.mu.RUnlock()
	if sched == nil {
		return scheduler.SweepResult{}, errors.New("service not started")
	}
	return sched.Sweep(ctx)
}

// Process runs one queue message through the pipeline.
func (s *Service) Process(ctx context.Context, msg model.Message) error {
	s.mu.RLock()
	pool := s.pool
	s.mu.RUnlock()
	if pool == nil {
		return errors.New("service not started")
	}
	return pool.Process(ctx, msg)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
	}
	if s.started {
		if depth, err := s.queue.Len(context.Background()); err == nil {
			stats["queueDepth"] = depth
			metrics.UpdateQueueDepth(depth)
		}
	}
	return stats
}

// estimationLoop periodically refreshes estimated device powers from the
// accumulated peak attributions.
func (s *Service) estimationLoop(ctx context.Context) {
	ticker := time.NewTicker(s.estimateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runEstimation(ctx)
		}
	}
}

// runEstimation fits device powers for every user with estimation
// targets. Per-user failures are logged and skipped so one bad data set
// cannot starve the rest of the fleet.
func (s *Service) runEstimation(ctx context.Context) {
	users, err := s.store.Users(ctx)
	if err != nil {
		metrics.RecordEstimationError()
		s.logger.Error(ctx, "estimation sweep: list users failed", logger.Error(err))
		return
	}

	for _, u := range users {
		if err := s.estimateUser(ctx, u.ID); err != nil {
			if errors.Is(err, estimate.ErrSingular) {
				// Expected when target devices only ever fire together;
				// more observations will eventually separate them.
				metrics.RecordEstimationInsufficientData()
				s.logger.Debug(ctx, "estimation underdetermined",
					logger.String("userID", u.ID))
				continue
			}
			metrics.RecordEstimationError()
			s.logger.Warn(ctx, "estimation failed",
				logger.String("userID", u.ID),
				logger.Error(err),
			)
		}
	}
}

func (s *Service) estimateUser(ctx context.Context, userID string) error {
	devices, err := s.store.DevicesByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load devices: %w", err)
	}
	raw, err := s.store.ObservationsByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load observations: %w", err)
	}

	obs := make([]estimate.Observation, len(raw))
	for i, o := range raw {
		obs[i] = estimate.Observation{DeviceIDs: o.DeviceIDs, Power: o.Power}
	}

	fit, err := estimate.Estimate(devices, obs)
	if err != nil {
		return err
	}
	if fit == nil {
		metrics.RecordEstimationInsufficientData()
		return nil
	}

	for _, id := range fit.EstimatedDeviceIDs {
		if err := s.store.UpdateDevicePower(ctx, id, fit.Powers[id]); err != nil {
			return fmt.Errorf("write power for %s: %w", id, err)
		}
	}

	metrics.RecordEstimationRun()
	s.logger.Info(ctx, "device powers estimated",
		logger.String("userID", userID),
		logger.Int("devices", len(fit.EstimatedDeviceIDs)),
		logger.Float64("rSquared", fit.RSquared),
	)
	return nil
}
