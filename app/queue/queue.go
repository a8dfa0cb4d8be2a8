package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/rss-ingest/app/database"
)

var (
	ErrEmpty     = errors.New("queue is empty")
	ErrLeaseLost = errors.New("job lease lost")
)

const (
	DefaultLockDuration = 90 * time.Second
	DefaultMaxAttempts  = 3
	DefaultBackoffBase  = time.Second
	DefaultBackoffMax   = 30 * time.Second
)

type Payload struct {
	Feed string `json:"feed"`
}

type Job struct {
	ID       int64
	Queue    string
	Payload  Payload
	Attempts int
}

type Options struct {
	LockDuration time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
}

func (o Options) withDefaults() Options {
	if o.LockDuration <= 0 {
		o.LockDuration = DefaultLockDuration
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = DefaultBackoffMax
	}
	return o
}

// Queue is a named job queue stored in the shared jobs table. A job is owned
// by one worker while its lease is valid. Expired leases are handed out again
// by ReleaseStalled.
type Queue struct {
	db   *database.DB
	name string
	opts Options
	now  func() time.Time
}

func New(db *database.DB, name string, opts Options) *Queue {
	return &Queue{
		db:   db,
		name: name,
		opts: opts.withDefaults(),
		now:  time.Now,
	}
}

func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) LockDuration() time.Duration {
	return q.opts.LockDuration
}

func (q *Queue) Enqueue(ctx context.Context, p Payload) error {
	return q.EnqueueBulk(ctx, []Payload{p})
}

// EnqueueBulk adds all payloads in one transaction.
func (q *Queue) EnqueueBulk(ctx context.Context, payloads []Payload) error {
	if len(payloads) == 0 {
		return nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO jobs (queue, payload, attempts, available_at, created_at)
		VALUES (?, ?, 0, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare enqueue: %w", err)
	}
	defer stmt.Close()

	now := q.now().UnixMilli()
	for _, p := range payloads {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, q.name, string(data), now, now); err != nil {
			return fmt.Errorf("failed to enqueue job: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit jobs: %w", err)
	}
	return nil
}

// Lease claims the oldest available job. It returns ErrEmpty when nothing is
// ready.
func (q *Queue) Lease(ctx context.Context) (*Job, error) {
	now := q.now()

	var job Job
	var payload string
	err := q.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET leased_until = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = ? AND leased_until IS NULL AND available_at <= ?
			ORDER BY id
			LIMIT 1
		)
		RETURNING id, payload, attempts
	`, now.Add(q.opts.LockDuration).UnixMilli(), q.name, now.UnixMilli()).Scan(&job.ID, &payload, &job.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lease job: %w", err)
	}

	job.Queue = q.name
	if err := json.Unmarshal([]byte(payload), &job.Payload); err != nil {
		return &job, fmt.Errorf("failed to decode payload of job %d: %w", job.ID, err)
	}

	return &job, nil
}

// Extend pushes the lease of a running job forward.
func (q *Queue) Extend(ctx context.Context, job *Job) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET leased_until = ? WHERE id = ? AND leased_until IS NOT NULL
	`, q.now().Add(q.opts.LockDuration).UnixMilli(), job.ID)
	if err != nil {
		return fmt.Errorf("failed to extend lease: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Ack removes a finished job.
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, job.ID); err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}
	return nil
}

// Nack schedules a failed job for another attempt after an exponential
// backoff. Once MaxAttempts is reached the job is deleted and Nack reports
// false.
func (q *Queue) Nack(ctx context.Context, job *Job) (bool, error) {
	if job.Attempts >= q.opts.MaxAttempts {
		if err := q.Ack(ctx, job); err != nil {
			return false, err
		}
		return false, nil
	}

	available := q.now().Add(q.Backoff(job.Attempts))
	_, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET leased_until = NULL, available_at = ? WHERE id = ?
	`, available.UnixMilli(), job.ID)
	if err != nil {
		return false, fmt.Errorf("failed to nack job: %w", err)
	}
	return true, nil
}

// Release returns a job without counting the attempt, used when a worker
// shuts down mid-job.
func (q *Queue) Release(ctx context.Context, job *Job) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET leased_until = NULL, attempts = MAX(attempts - 1, 0) WHERE id = ?
	`, job.ID)
	if err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}
	return nil
}

// Backoff returns the delay before retry n (1-based).
func (q *Queue) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := q.opts.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= q.opts.BackoffMax {
			return q.opts.BackoffMax
		}
	}
	return min(delay, q.opts.BackoffMax)
}

// ReleaseStalled finds jobs whose lease expired. Jobs with attempts left are
// made available again, the rest are deleted.
func (q *Queue) ReleaseStalled(ctx context.Context) (released []Job, discarded []Job, err error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := q.now().UnixMilli()
	rows, err := tx.QueryContext(ctx, `
		SELECT id, payload, attempts FROM jobs
		WHERE queue = ? AND leased_until IS NOT NULL AND leased_until < ?
		ORDER BY id
	`, q.name, now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query stalled jobs: %w", err)
	}

	var stalled []Job
	for rows.Next() {
		var job Job
		var payload string
		if err := rows.Scan(&job.ID, &payload, &job.Attempts); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("failed to scan stalled job: %w", err)
		}
		job.Queue = q.name
		if err := json.Unmarshal([]byte(payload), &job.Payload); err != nil {
			slog.Warn("Stalled job has undecodable payload", "queue", q.name, "job", job.ID, "payload", payload, "error", err)
		}
		stalled = append(stalled, job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate stalled jobs: %w", err)
	}

	for _, job := range stalled {
		if job.Attempts >= q.opts.MaxAttempts {
			if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, job.ID); err != nil {
				return nil, nil, fmt.Errorf("failed to discard stalled job: %w", err)
			}
			discarded = append(discarded, job)
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET leased_until = NULL, available_at = ? WHERE id = ?
		`, now, job.ID); err != nil {
			return nil, nil, fmt.Errorf("failed to release stalled job: %w", err)
		}
		released = append(released, job)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit stalled jobs: %w", err)
	}

	return released, discarded, nil
}

// Len counts waiting and running jobs.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE queue = ?`, q.name).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return n, nil
}
