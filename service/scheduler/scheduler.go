// Package scheduler implements the deadline service: jobs with a future
// deadline are parked in a sorted set and promoted onto the execute channel
// when their time comes. Jobs already due are forwarded immediately.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/earth2dfm/dfm/api"
	"github.com/earth2dfm/dfm/bus"
	"github.com/earth2dfm/dfm/telemetry"
)

// QueueKey is the sorted set holding parked jobs, scored by deadline.
const QueueKey = "sched-queue"

// defaultTick is the promotion poll interval.
const defaultTick = 500 * time.Millisecond

type (
	// Options configures the scheduler.
	Options struct {
		// Redis backs the deadline queue. Required.
		Redis redis.UniversalClient
		// Bus is the coordination bus. Required.
		Bus bus.Bus
		// Tick overrides the promotion interval.
		Tick time.Duration
		// Logger receives diagnostics. Defaults to no-op.
		Logger telemetry.Logger
	}

	// Scheduler parks and promotes deadline jobs.
	Scheduler struct {
		redis redis.UniversalClient
		bus   bus.Bus
		tick  time.Duration
		log   telemetry.Logger
	}
)

// New validates the options and builds the scheduler.
func New(opts Options) (*Scheduler, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("bus is required")
	}
	tick := opts.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	return &Scheduler{
		redis: opts.Redis,
		bus:   opts.Bus,
		tick:  tick,
		log:   telemetry.Or(opts.Logger),
	}, nil
}

// Run consumes the scheduler channel and promotes due jobs until ctx is
// done.
func (s *Scheduler) Run(ctx context.Context) error {
	sub, err := s.bus.Subscribe(ctx, bus.SchedulerChannel)
	if err != nil {
		return err
	}
	defer sub.Close(context.WithoutCancel(ctx))

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := s.ingest(ctx, d.Payload); err != nil {
				// Left unacknowledged so the bus redelivers the job.
				s.log.Error(ctx, "ingest job", "err", err.Error())
				continue
			}
			if err := d.Ack(ctx); err != nil {
				s.log.Warn(ctx, "ack scheduler delivery", "err", err.Error())
			}
		case <-ticker.C:
			if err := s.Promote(ctx, time.Now().UTC()); err != nil {
				s.log.Error(ctx, "promote jobs", "err", err.Error())
			}
		}
	}
}

// ingest parks a job until its deadline, forwarding it immediately when the
// deadline is absent or already past. A malformed payload is discarded with
// a nil return: redelivering it could never succeed.
func (s *Scheduler) ingest(ctx context.Context, payload []byte) error {
	var job api.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		s.log.Error(ctx, "discard malformed job", "err", err.Error())
		return nil
	}
	if job.Deadline == nil || !job.Deadline.After(time.Now().UTC()) {
		s.log.Info(ctx, "forwarding due job", "request_id", job.RequestID.String())
		return s.bus.Publish(ctx, bus.ExecuteChannel, payload)
	}
	score := float64(job.Deadline.UnixMilli()) / 1000
	if err := s.redis.ZAdd(ctx, QueueKey, redis.Z{Score: score, Member: string(payload)}).Err(); err != nil {
		return err
	}
	s.log.Info(ctx, "parked job",
		"request_id", job.RequestID.String(),
		"deadline", job.Deadline.Format(time.RFC3339))
	return nil
}

// Promote publishes every parked job whose deadline is at or before now.
func (s *Scheduler) Promote(ctx context.Context, now time.Time) error {
	max := strconv.FormatFloat(float64(now.UnixMilli())/1000, 'f', -1, 64)
	due, err := s.redis.ZRangeByScore(ctx, QueueKey, &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
	if err != nil {
		return err
	}
	for _, member := range due {
		if err := s.bus.Publish(ctx, bus.ExecuteChannel, []byte(member)); err != nil {
			return err
		}
		if err := s.redis.ZRem(ctx, QueueKey, member).Err(); err != nil {
			return err
		}
	}
	return nil
}
