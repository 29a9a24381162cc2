// Package worker consumes scan messages from the durable queue and runs
// them through the mark orchestrator. Messages are deleted only after a
// successful run; everything else is left to the queue's visibility
// timeout, so the orchestrator's idempotency is what absorbs the
// resulting redeliveries.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/enersight/peakd/internal/adapters/mq/queue"
	"github.com/enersight/peakd/internal/domain/mark"
	"github.com/enersight/peakd/internal/domain/model"
	"github.com/enersight/peakd/pkg/logger"
	"github.com/enersight/peakd/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerCount  = 4
	defaultPollInterval = 2 * time.Second
	defaultMaxReadCount = 10
)

// Marker runs one unit of scan work.
type Marker interface {
	FindAndMark(ctx context.Context, c mark.Criteria) (mark.Outcome, error)
}

// Pool polls the queue with a fixed number of workers.
type Pool struct {
	queue  queue.Queue
	marker Marker

	workerCount  int
	pollInterval time.Duration
	visibility   time.Duration
	readBatch    int
	maxReadCount int

	shutdown chan struct{}
	done     chan struct{}

	log logger.Logger
}

// NewPool creates a worker pool with configuration options.
func NewPool(q queue.Queue, marker Marker, opts ...Option) *Pool {
	p := &Pool{
		queue:        q,
		marker:       marker,
		workerCount:  defaultWorkerCount,
		pollInterval: defaultPollInterval,
		visibility:   queue.DefaultVisibilityTimeout,
		readBatch:    queue.DefaultReadBatch,
		maxReadCount: defaultMaxReadCount,
		shutdown:     make(chan struct{}),
		done:         make(chan struct{}),
		log:          logger.Named("worker"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the polling workers.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workerCount; i++ {
		go p.run(ctx)
	}
}

func (p *Pool) run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

// drain reads one batch and processes it. Per-message failures never
// abort the batch.
func (p *Pool) drain(ctx context.Context) {
	msgs, err := p.queue.Read(ctx, p.readBatch, p.visibility)
	if err != nil {
		p.log.Error(ctx, "queue read failed", logger.Error(err))
		return
	}
	for _, msg := range msgs {
		metrics.RecordMessageRead()
		if err := p.Process(ctx, msg); err != nil {
			p.log.Error(ctx, "message processing failed, left for redelivery",
				logger.Int64("msgID", msg.MsgID),
				logger.Int("readCT", msg.ReadCT),
				logger.String("sensorID", msg.Job.SensorID),
				logger.Error(err),
			)
		}
	}
	if n, err := p.queue.Len(ctx); err == nil {
		metrics.UpdateQueueDepth(n)
	}
}

// Process runs one delivered message through the orchestrator and
// deletes it on success. Poisoned messages (invalid payload, or more
// deliveries than the cap) are archived to the dead-letter table instead
// of circulating forever. A delete failure is logged, not returned: the
// consequence is one more redelivery, which marking absorbs.
func (p *Pool) Process(ctx context.Context, msg model.Message) error {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := msg.Job.Validate(); err != nil {
		p.archive(ctx, msg.MsgID, "invalid payload")
		return fmt.Errorf("invalid scan job %d: %w", msg.MsgID, err)
	}
	if p.maxReadCount > 0 && msg.ReadCT > p.maxReadCount {
		p.archive(ctx, msg.MsgID, "read count exceeded")
		return fmt.Errorf("message %d exceeded %d deliveries", msg.MsgID, p.maxReadCount)
	}

	out, err := p.marker.FindAndMark(ctx, mark.Criteria{
		SensorID: msg.Job.SensorID,
		UserID:   msg.Job.UserID,
		Kind:     msg.Job.Kind,
		Start:    msg.Job.Start,
		End:      msg.Job.End,
	})
	if err != nil {
		metrics.RecordWorkerError()
		return fmt.Errorf("find and mark: %w", err)
	}

	if err := p.queue.Delete(ctx, msg.MsgID); err != nil {
		p.log.Warn(ctx, "processed but delete failed, expect a duplicate delivery",
			logger.Int64("msgID", msg.MsgID),
			logger.Error(err),
		)
	} else {
		metrics.RecordMessageDeleted()
	}

	p.log.Info(ctx, "message processed",
		logger.Int64("msgID", msg.MsgID),
		logger.String("sensorID", msg.Job.SensorID),
		logger.String("kind", string(msg.Job.Kind)),
		logger.Int("found", out.Found),
		logger.Int("marked", out.Marked),
	)
	return nil
}

func (p *Pool) archive(ctx context.Context, msgID int64, reason string) {
	if err := p.queue.Archive(ctx, msgID); err != nil {
		p.log.Error(ctx, "archive failed", logger.Int64("msgID", msgID), logger.Error(err))
		return
	}
	metrics.RecordMessageArchived()
	p.log.Warn(ctx, "message archived to dead letter",
		logger.Int64("msgID", msgID),
		logger.String("reason", reason),
	)
}

// Shutdown stops the polling workers.
func (p *Pool) Shutdown(ctx context.Context) error {
	close(p.shutdown)
	select {
	case <-time.After(p.pollInterval):
		// Workers observe shutdown within one poll cycle.
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker shutdown: %w", ctx.Err())
	}
}
