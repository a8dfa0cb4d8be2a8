package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const statusKeyPrefix = "queue-status:"

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// Connect opens a Redis client and checks the connection.
func Connect(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Connected to Redis", "addr", opts.Addr)

	return client, nil
}

func StatusKey(name string) string {
	return statusKeyPrefix + name
}

// StatusIndex records which entities have a job waiting in a queue. Members
// are entity ids scored by the time they were added, in milliseconds.
type StatusIndex struct {
	client redis.UniversalClient
	key    string
	now    func() time.Time
}

func NewStatusIndex(client redis.UniversalClient, name string) *StatusIndex {
	return &StatusIndex{
		client: client,
		key:    StatusKey(name),
		now:    time.Now,
	}
}

func (s *StatusIndex) Add(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	score := float64(s.now().UnixMilli())
	members := make([]redis.Z, 0, len(ids))
	for _, id := range ids {
		members = append(members, redis.Z{Score: score, Member: id})
	}

	if err := s.client.ZAdd(ctx, s.key, members...).Err(); err != nil {
		return fmt.Errorf("failed to add to %s: %w", s.key, err)
	}
	return nil
}

// Claim adds id unless it is already present and reports whether it was
// added.
func (s *StatusIndex) Claim(ctx context.Context, id string) (bool, error) {
	added, err := s.client.ZAddNX(ctx, s.key, redis.Z{Score: float64(s.now().UnixMilli()), Member: id}).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim %s in %s: %w", id, s.key, err)
	}
	return added == 1, nil
}

func (s *StatusIndex) Members(ctx context.Context) ([]string, error) {
	members, err := s.client.ZRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.key, err)
	}
	return members, nil
}

func (s *StatusIndex) Contains(ctx context.Context, id string) (bool, error) {
	err := s.client.ZScore(ctx, s.key, id).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check %s in %s: %w", id, s.key, err)
	}
	return true, nil
}

func (s *StatusIndex) Remove(ctx context.Context, id string) error {
	if err := s.client.ZRem(ctx, s.key, id).Err(); err != nil {
		return fmt.Errorf("failed to remove %s from %s: %w", id, s.key, err)
	}
	return nil
}

func (s *StatusIndex) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to clear %s: %w", s.key, err)
	}
	return nil
}

func (s *StatusIndex) Count(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", s.key, err)
	}
	return n, nil
}
