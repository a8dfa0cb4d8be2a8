package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/lysyi3m/rss-ingest/app/queue"
)

type TaskType string

const (
	TaskTypeProcessFeed    TaskType = "process_feed"
	TaskTypeOG             TaskType = "og"
	TaskTypeFulltext       TaskType = "fulltext"
	TaskTypeSyncFeedConfig TaskType = "sync_feed_config"
)

type TaskInterface interface {
	Execute(ctx context.Context) error
	GetID() string
	GetType() TaskType
	GetFeedID() string
	GetAttempt() int
	SetAttempt(attempt int)
	Start()
	GetDuration() time.Duration
}

type Task struct {
	ID        string
	Type      TaskType
	FeedID    string
	Attempt   int
	StartedAt *time.Time
}

func (t *Task) GetID() string {
	return t.ID
}

func (t *Task) GetType() TaskType {
	return t.Type
}

func (t *Task) GetFeedID() string {
	return t.FeedID
}

func (t *Task) GetAttempt() int {
	return t.Attempt
}

func (t *Task) SetAttempt(attempt int) {
	t.Attempt = max(attempt, 1)
}

func (t *Task) Start() {
	now := time.Now()
	t.StartedAt = &now
}

func (t *Task) GetDuration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	return time.Since(*t.StartedAt)
}

func NewTask(taskType TaskType, feedID string) Task {
	uniqueID := fmt.Sprintf("%d-%d", time.Now().UnixNano(), rand.Intn(10000))

	return Task{
		ID:      uniqueID,
		Type:    taskType,
		FeedID:  feedID,
		Attempt: 1,
	}
}

// Handler adapts a task constructor to a queue handler. A fresh task is
// built for every leased job and carries the job's delivery attempt.
func Handler(newTask func(job *queue.Job) TaskInterface) queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		task := newTask(job)
		task.SetAttempt(job.Attempts)
		task.Start()

		if err := task.Execute(ctx); err != nil {
			slog.Warn("Task failed",
				"id", task.GetID(),
				"type", task.GetType(),
				"feed", task.GetFeedID(),
				"attempt", task.GetAttempt(),
				"duration", task.GetDuration(),
				"error", err)
			return err
		}
		return nil
	}
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
