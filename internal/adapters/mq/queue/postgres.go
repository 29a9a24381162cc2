package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/enersight/peakd/internal/domain/model"
)

const queueSchema = `
CREATE TABLE IF NOT EXISTS scan_queue (
    msg_id      BIGSERIAL PRIMARY KEY,
    read_ct     INT NOT NULL DEFAULT 0,
    enqueued_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    vt          TIMESTAMPTZ NOT NULL DEFAULT now(),
    payload     JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS scan_queue_archive (
    msg_id      BIGINT PRIMARY KEY,
    read_ct     INT NOT NULL,
    enqueued_at TIMESTAMPTZ NOT NULL,
    archived_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    payload     JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS scan_queue_vt_idx ON scan_queue (vt);
`

// PostgresQueue implements Queue on a Postgres table, pgmq-style. The
// visibility timestamp column doubles as the lease: a read pushes vt into
// the future, so a crashed worker's message becomes visible again on its
// own.
type PostgresQueue struct {
	db *sql.DB
}

// NewPostgresQueue prepares the queue tables on the given handle.
func NewPostgresQueue(ctx context.Context, db *sql.DB) (*PostgresQueue, error) {
	if _, err := db.ExecContext(ctx, queueSchema); err != nil {
		return nil, fmt.Errorf("apply queue schema: %w", err)
	}
	return &PostgresQueue{db: db}, nil
}

func (q *PostgresQueue) Send(ctx context.Context, job model.ScanJob) (int64, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return 0, fmt.Errorf("marshal scan job: %w", err)
	}
	var msgID int64
	err = q.db.QueryRowContext(ctx, `
		INSERT INTO scan_queue (payload) VALUES ($1)
		RETURNING msg_id`, payload).Scan(&msgID)
	if err != nil {
		return 0, fmt.Errorf("enqueue scan job: %w", err)
	}
	return msgID, nil
}

func (q *PostgresQueue) Read(ctx context.Context, limit int, vt time.Duration) ([]model.Message, error) {
	if limit <= 0 {
		limit = DefaultReadBatch
	}
	if vt <= 0 {
		vt = DefaultVisibilityTimeout
	}
	rows, err := q.db.QueryContext(ctx, `
		UPDATE scan_queue
		SET vt = now() + $2::interval, read_ct = read_ct + 1
		WHERE msg_id IN (
			SELECT msg_id FROM scan_queue
			WHERE vt <= now()
			ORDER BY msg_id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING msg_id, read_ct, payload`,
		limit, fmt.Sprintf("%f seconds", vt.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		var payload []byte
		if err := rows.Scan(&m.MsgID, &m.ReadCT, &payload); err != nil {
			return nil, fmt.Errorf("scan queue row: %w", err)
		}
		if err := json.Unmarshal(payload, &m.Job); err != nil {
			return nil, fmt.Errorf("unmarshal scan job %d: %w", m.MsgID, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (q *PostgresQueue) Delete(ctx context.Context, msgID int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM scan_queue WHERE msg_id = $1`, msgID)
	if err != nil {
		return fmt.Errorf("delete message %d: %w", msgID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete message %d: %w", msgID, ErrNoSuchMessage)
	}
	return nil
}

func (q *PostgresQueue) Archive(ctx context.Context, msgID int64) error {
	res, err := q.db.ExecContext(ctx, `
		WITH moved AS (
			DELETE FROM scan_queue WHERE msg_id = $1
			RETURNING msg_id, read_ct, enqueued_at, payload
		)
		INSERT INTO scan_queue_archive (msg_id, read_ct, enqueued_at, payload)
		SELECT msg_id, read_ct, enqueued_at, payload FROM moved`, msgID)
	if err != nil {
		return fmt.Errorf("archive message %d: %w", msgID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("archive message %d: %w", msgID, ErrNoSuchMessage)
	}
	return nil
}

func (q *PostgresQueue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT count(*) FROM scan_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}
