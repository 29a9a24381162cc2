// Package queue provides the durable, at-least-once message queue that
// fans scan work out across sensors. Semantics follow the lease model:
// a read leases a message for a visibility timeout and bumps its read
// count; consumers delete on success, archive poisoned messages, and
// otherwise let the lease expire so the message redelivers.
package queue

import (
	"context"
	"time"

	"github.com/enersight/peakd/internal/domain/model"
)

// Default queue configuration constants.
const (
	DefaultVisibilityTimeout = 5 * time.Minute
	DefaultReadBatch         = 10
)

// Queue is the durable queue contract.
type Queue interface {
	// Send enqueues one scan job and returns its message ID.
	Send(ctx context.Context, job model.ScanJob) (int64, error)

	// Read leases up to limit visible messages for vt. Each returned
	// message's ReadCT includes this delivery. An empty slice means no
	// work is currently visible.
	Read(ctx context.Context, limit int, vt time.Duration) ([]model.Message, error)

	// Delete removes a processed message permanently.
	Delete(ctx context.Context, msgID int64) error

	// Archive moves a message to the dead-letter archive.
	Archive(ctx context.Context, msgID int64) error

	// Len returns the number of messages not yet deleted or archived.
	Len(ctx context.Context) (int, error)
}
