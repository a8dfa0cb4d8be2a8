package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lysyi3m/rss-ingest/app/database"
	"github.com/lysyi3m/rss-ingest/app/queue"
)

const batchDivisor = 10 * 4

// Policy maps a feed's health to its minimum re-fetch interval.
type Policy struct {
	NormalInterval   time.Duration
	FailureInterval  time.Duration
	InvalidInterval  time.Duration
	FailureThreshold int
}

// Interval applies the tiers in order: explicit per-feed interval, healthy,
// repeatedly failing, invalid.
func (p Policy) Interval(c database.ScheduleCandidate) time.Duration {
	switch {
	case c.ScrapeInterval > 0:
		return time.Duration(c.ScrapeInterval) * time.Minute
	case c.Valid && c.ConsecutiveScrapeFailures <= p.FailureThreshold:
		return p.NormalInterval
	case c.Valid:
		return p.FailureInterval
	default:
		return p.InvalidInterval
	}
}

// BatchLimit caps how many feeds one cycle may enqueue.
func BatchLimit(total int) int {
	return max(1, total/batchDivisor)
}

// SelectDue returns the ids of due feeds, most overdue first, skipping ids
// that already have a job in flight. Feeds never scraped sort ahead of all
// others.
func SelectDue(candidates []database.ScheduleCandidate, inFlight map[string]bool, policy Policy, now time.Time, limit int) []string {
	type due struct {
		id      string
		overdue time.Duration
		never   bool
	}

	var selected []due
	for _, c := range candidates {
		if inFlight[c.ID] {
			continue
		}
		if c.LastScraped == nil {
			selected = append(selected, due{id: c.ID, never: true})
			continue
		}
		next := c.LastScraped.Add(policy.Interval(c))
		if next.Before(now) {
			selected = append(selected, due{id: c.ID, overdue: now.Sub(next)})
		}
	}

	sort.SliceStable(selected, func(i, j int) bool {
		if selected[i].never != selected[j].never {
			return selected[i].never
		}
		return selected[i].overdue > selected[j].overdue
	})

	if len(selected) > limit {
		selected = selected[:limit]
	}

	ids := make([]string, 0, len(selected))
	for _, d := range selected {
		ids = append(ids, d.id)
	}
	return ids
}

// Conductor periodically picks due feeds and enqueues feed jobs for them.
type Conductor struct {
	feedRepo database.FeedRepository
	status   StatusTracker
	jobs     JobEnqueuer
	policy   Policy
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func NewConductor(feedRepo database.FeedRepository, status StatusTracker, jobs JobEnqueuer, policy Policy, interval time.Duration) *Conductor {
	return &Conductor{
		feedRepo: feedRepo,
		status:   status,
		jobs:     jobs,
		policy:   policy,
		interval: interval,
		now:      time.Now,
	}
}

// Start schedules RunCycle every interval. A cycle still running when the
// next one is due causes that tick to be skipped.
func (c *Conductor) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cron != nil {
		return fmt.Errorf("conductor already started")
	}

	logger := cronLogger{}
	sched := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	_, err := sched.AddFunc("@every "+c.interval.String(), func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := c.RunCycle(ctx); err != nil {
			slog.Error("Conductor cycle failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule conductor: %w", err)
	}

	c.cron = sched
	sched.Start()

	slog.Info("Conductor started", "interval", c.interval)
	return nil
}

func (c *Conductor) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cron == nil {
		return
	}
	<-c.cron.Stop().Done()
	c.cron = nil
}

// RunCycle runs one scheduling pass and returns how many feeds were enqueued.
func (c *Conductor) RunCycle(ctx context.Context) (int, error) {
	start := c.now()

	members, err := c.status.Members(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read in-flight feeds: %w", err)
	}
	inFlight := make(map[string]bool, len(members))
	for _, id := range members {
		inFlight[id] = true
	}

	candidates, err := c.feedRepo.GetScheduleCandidates(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load schedule candidates: %w", err)
	}

	ids := SelectDue(candidates, inFlight, c.policy, start, BatchLimit(len(candidates)))
	if len(ids) == 0 {
		slog.Debug("No feeds due", "active", len(candidates), "in_flight", len(members))
		return 0, nil
	}

	if err := c.status.Add(ctx, ids...); err != nil {
		return 0, fmt.Errorf("failed to mark feeds in flight: %w", err)
	}

	payloads := make([]queue.Payload, 0, len(ids))
	for _, id := range ids {
		payloads = append(payloads, queue.Payload{Feed: id})
	}

	if err := c.jobs.EnqueueBulk(ctx, payloads); err != nil {
		for _, id := range ids {
			if rmErr := c.status.Remove(ctx, id); rmErr != nil {
				slog.Warn("Failed to roll back in-flight marker", "feed", id, "error", rmErr)
			}
		}
		return 0, fmt.Errorf("failed to enqueue feeds: %w", err)
	}

	slog.Info("Conductor cycle completed",
		"active", len(candidates),
		"in_flight", len(members),
		"enqueued", len(ids),
		"duration", c.now().Sub(start))

	return len(ids), nil
}

// cronLogger routes cron's logr-style calls to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
