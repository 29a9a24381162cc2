package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/enersight/peakd/internal/domain/model"
)

type memoryMessage struct {
	msgID  int64
	readCT int
	vt     time.Time
	job    model.ScanJob
}

// MemoryQueue implements Queue in memory with the same lease semantics as
// the Postgres queue. Used by tests and database-less local runs.
type MemoryQueue struct {
	mu       sync.Mutex
	nextID   int64
	messages map[int64]*memoryMessage
	archive  map[int64]*memoryMessage
	now      func() time.Time
}

// NewMemoryQueue creates an empty in-memory queue with configuration
// options.
func NewMemoryQueue(opts ...Option) *MemoryQueue {
	q := &MemoryQueue{
		nextID:   1,
		messages: make(map[int64]*memoryMessage),
		archive:  make(map[int64]*memoryMessage),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *MemoryQueue) Send(_ context.Context, job model.ScanJob) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextID
	q.nextID++
	q.messages[id] = &memoryMessage{msgID: id, vt: q.now(), job: job}
	return id, nil
}

func (q *MemoryQueue) Read(_ context.Context, limit int, vt time.Duration) ([]model.Message, error) {
	if limit <= 0 {
		limit = DefaultReadBatch
	}
	if vt <= 0 {
		vt = DefaultVisibilityTimeout
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var visible []*memoryMessage
	for _, m := range q.messages {
		if !m.vt.After(now) {
			visible = append(visible, m)
		}
	}
	sort.Slice(visible, func(i, j int) bool { return visible[i].msgID < visible[j].msgID })
	if len(visible) > limit {
		visible = visible[:limit]
	}

	var out []model.Message
	for _, m := range visible {
		m.readCT++
		m.vt = now.Add(vt)
		out = append(out, model.Message{MsgID: m.msgID, ReadCT: m.readCT, Job: m.job})
	}
	return out, nil
}

func (q *MemoryQueue) Delete(_ context.Context, msgID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.messages[msgID]; !ok {
		return fmt.Errorf("delete message %d: %w", msgID, ErrNoSuchMessage)
	}
	delete(q.messages, msgID)
	return nil
}

func (q *MemoryQueue) Archive(_ context.Context, msgID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.messages[msgID]
	if !ok {
		return fmt.Errorf("archive message %d: %w", msgID, ErrNoSuchMessage)
	}
	delete(q.messages, msgID)
	q.archive[msgID] = m
	return nil
}

func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages), nil
}

// ArchivedCount returns the dead-letter size. Test helper.
func (q *MemoryQueue) ArchivedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.archive)
}
