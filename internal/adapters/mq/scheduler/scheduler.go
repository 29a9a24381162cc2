// Package scheduler fans scan work out across sensors. Each sweep
// enqueues one durable message per unit of work: a peak scan per sensor
// and an anomaly check per sensor with a known owner. Individual enqueue
// failures are isolated so one bad sensor never starves the rest of the
// fleet.
package scheduler

import (
	"context"
	"time"

	"github.com/enersight/peakd/internal/adapters/mq/queue"
	"github.com/enersight/peakd/internal/domain/model"
	"github.com/enersight/peakd/pkg/logger"
	"github.com/enersight/peakd/pkg/metrics"
)

// Default scheduler configuration constants.
const (
	DefaultInterval = 30 * time.Minute
	windowAlign     = 30 * time.Minute
)

// Store is the slice of storage the scheduler needs.
type Store interface {
	Sensors(ctx context.Context) ([]model.Sensor, error)
	Users(ctx context.Context) ([]model.User, error)
}

// SweepResult summarizes one fan-out sweep.
type SweepResult struct {
	Enqueued int `json:"enqueued"`
	Failed   int `json:"failed"`
}

// Scheduler enqueues scan jobs on a timer.
type Scheduler struct {
	store    Store
	queue    queue.Queue
	interval time.Duration
	now      func() time.Time

	shutdown chan struct{}

	log logger.Logger
}

// New creates a Scheduler with configuration options.
func New(store Store, q queue.Queue, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		queue:    q,
		interval: DefaultInterval,
		now:      time.Now,
		shutdown: make(chan struct{}),
		log:      logger.Named("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on the configured interval until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			res, err := s.Sweep(ctx)
			if err != nil {
				s.log.Error(ctx, "sweep failed", logger.Error(err))
				continue
			}
			s.log.Info(ctx, "sweep complete",
				logger.Int("enqueued", res.Enqueued),
				logger.Int("failed", res.Failed),
			)
		}
	}
}

// Sweep enumerates the fleet once and enqueues the due window for every
// sensor. Per-sensor failures are counted, logged and skipped; only a
// failure to enumerate the fleet itself is returned.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	sensors, err := s.store.Sensors(ctx)
	if err != nil {
		return res, err
	}
	users, err := s.store.Users(ctx)
	if err != nil {
		return res, err
	}
	byID := make(map[string]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	now := s.now()
	for _, sensor := range sensors {
		owner, hasOwner := byID[sensor.UserID]
		start, end := dueWindow(now, s.location(ctx, owner.Timezone))

		jobs := []model.ScanJob{{
			SensorID: sensor.ID,
			Kind:     model.KindPeak,
			Start:    start,
			End:      end,
		}}
		if hasOwner {
			jobs = append(jobs, model.ScanJob{
				UserID:   owner.ID,
				SensorID: sensor.ID,
				Kind:     model.KindAnomaly,
				Start:    start,
				End:      end,
			})
		}

		for _, job := range jobs {
			if _, err := s.queue.Send(ctx, job); err != nil {
				res.Failed++
				metrics.RecordSendError()
				metrics.RecordScheduleError()
				s.log.Warn(ctx, "enqueue failed, skipping sensor job",
					logger.String("sensorID", sensor.ID),
					logger.String("kind", string(job.Kind)),
					logger.Error(err),
				)
				continue
			}
			res.Enqueued++
			metrics.RecordMessageSent()
		}
	}
	return res, nil
}

func (s *Scheduler) location(ctx context.Context, tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn(ctx, "unknown timezone, falling back to UTC", logger.String("timezone", tz))
		return time.UTC
	}
	return loc
}

// dueWindow returns the most recent fully elapsed half-hour window,
// aligned to the wall clock of loc. Alignment in the user's zone matters
// for offsets that are not whole hours.
func dueWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	_, offset := local.Zone()
	alignSecs := int64(windowAlign / time.Second)
	aligned := (local.Unix()+int64(offset))/alignSecs*alignSecs - int64(offset)
	end := time.Unix(aligned, 0).In(loc)
	return end.Add(-windowAlign), end
}

// Shutdown stops the sweep loop.
func (s *Scheduler) Shutdown() {
	close(s.shutdown)
}
