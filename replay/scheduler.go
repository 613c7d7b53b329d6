// Copyright (c) RewindMQ
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/rewindmq/rewind/logstore"
)

// ErrPublishExhausted is returned when a message exhausts the retry
// budget. The job halts at that offset rather than skipping it: a
// replay that silently drops messages is not a replay.
var ErrPublishExhausted = errors.New("publish retries exhausted")

// Publisher is the controlled re-publication path into a destination
// queue. The engine implements it so destination appends update the
// destination's indices synchronously.
type Publisher interface {
	Republish(ctx context.Context, queue string, msg logstore.Message) (logstore.Message, error)
}

// SchedulerConfig holds replay streaming policy. Retry and backoff
// parameters are policy, not structure, so they are configuration.
type SchedulerConfig struct {
	// BatchSize bounds how many messages are fetched from the log
	// ahead of publish progress.
	BatchSize int

	// MaxAttempts bounds publish attempts per message.
	MaxAttempts int

	// InitialBackoff and MaxBackoff shape the exponential backoff
	// between attempts.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// PublishRate caps re-publication throughput in messages per
	// second across all jobs. Zero means unlimited.
	PublishRate  float64
	PublishBurst int

	// BreakerThreshold is the consecutive-failure count that opens a
	// destination's circuit breaker.
	BreakerThreshold    uint32
	BreakerResetTimeout time.Duration
}

// DefaultSchedulerConfig returns the default streaming policy.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BatchSize:           256,
		MaxAttempts:         5,
		InitialBackoff:      100 * time.Millisecond,
		MaxBackoff:          5 * time.Second,
		PublishRate:         0,
		PublishBurst:        64,
		BreakerThreshold:    5,
		BreakerResetTimeout: 10 * time.Second,
	}
}

// Scheduler streams resolved offset ranges from the log reader and
// re-publishes them in strict source-offset order. Jobs targeting the
// same destination queue serialize; jobs targeting different
// destinations run concurrently.
type Scheduler struct {
	reader  logstore.Reader
	pub     Publisher
	cfg     SchedulerConfig
	logger  *slog.Logger
	metrics *Metrics

	destLocks keyLock
	limiter   *rate.Limiter

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewScheduler creates a scheduler publishing through pub.
func NewScheduler(reader logstore.Reader, pub Publisher, cfg SchedulerConfig, logger *slog.Logger, metrics *Metrics) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSchedulerConfig().BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	s := &Scheduler{
		reader:   reader,
		pub:      pub,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}

	if cfg.PublishRate > 0 {
		burst := cfg.PublishBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.PublishRate), burst)
	}

	return s
}

// Run streams the resolved range to the job's target queue. It returns
// the re-published messages in order. On cancellation or failure the
// job's cursor remains at the last successfully re-published offset so
// the caller can resume.
func (s *Scheduler) Run(ctx context.Context, job *Job, rr ResolvedRange) ([]logstore.Message, error) {
	s.destLocks.Lock(job.Target)
	defer s.destLocks.Unlock(job.Target)

	job.start()
	defer func() {
		s.metrics.recordJobFinished(ctx, job.Status(), job.elapsed())
	}()

	replayed := make([]logstore.Message, 0, s.cfg.BatchSize)
	cur := rangeCursor{rr: rr, next: rr.Start}

	for {
		if err := ctx.Err(); err != nil {
			job.finish(JobCancelled, err)
			return replayed, err
		}

		batch, err := s.nextBatch(ctx, &cur)
		if err != nil {
			job.finish(JobFailed, err)
			s.logger.Error("replay log read failed",
				slog.String("job", job.ID),
				slog.String("queue", rr.Queue),
				slog.String("error", err.Error()))
			return replayed, fmt.Errorf("reading source log: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			out, err := s.publishOne(ctx, job, &batch[i])
			if err != nil {
				if ctx.Err() != nil {
					job.finish(JobCancelled, ctx.Err())
					return replayed, ctx.Err()
				}
				job.finish(JobFailed, err)
				return replayed, err
			}
			job.advance(batch[i].Offset)
			replayed = append(replayed, out)
		}
	}

	job.finish(JobCompleted, nil)
	s.metrics.recordReplayed(ctx, job.Target, int64(len(replayed)))
	s.logger.Info("replay completed",
		slog.String("job", job.ID),
		slog.String("source", job.Source),
		slog.String("target", job.Target),
		slog.Uint64("replayed", job.Replayed()))
	return replayed, nil
}

// rangeCursor walks a ResolvedRange in batch-sized steps without
// materializing contiguous ranges.
type rangeCursor struct {
	rr   ResolvedRange
	next uint64 // next offset for contiguous ranges
	idx  int    // next index for sparse ranges
}

// nextBatch fetches the next bounded batch of messages in offset order.
func (s *Scheduler) nextBatch(ctx context.Context, cur *rangeCursor) ([]logstore.Message, error) {
	if cur.rr.Sparse() {
		return s.nextSparseBatch(ctx, cur)
	}

	if cur.next >= cur.rr.End {
		return nil, nil
	}
	hi := cur.next + uint64(s.cfg.BatchSize)
	if hi > cur.rr.End {
		hi = cur.rr.End
	}

	msgs, err := s.reader.ReadRange(ctx, cur.rr.Queue, cur.next, hi)
	if err != nil {
		return nil, err
	}
	cur.next = hi
	return msgs, nil
}

func (s *Scheduler) nextSparseBatch(ctx context.Context, cur *rangeCursor) ([]logstore.Message, error) {
	offsets := cur.rr.Offsets
	if cur.idx >= len(offsets) {
		return nil, nil
	}

	end := cur.idx + s.cfg.BatchSize
	if end > len(offsets) {
		end = len(offsets)
	}

	msgs := make([]logstore.Message, 0, end-cur.idx)
	for _, off := range offsets[cur.idx:end] {
		got, err := s.reader.ReadRange(ctx, cur.rr.Queue, off, off+1)
		if err != nil {
			return nil, err
		}
		if len(got) == 0 {
			// The index recorded this offset; the log losing it is
			// fatal to the job, not silently skippable.
			return nil, fmt.Errorf("offset %d: %w", off, logstore.ErrOffsetOutOfRange)
		}
		msgs = append(msgs, got[0])
	}
	cur.idx = end
	return msgs, nil
}

// publishOne re-publishes a single message, retrying transient failures
// with bounded exponential backoff.
func (s *Scheduler) publishOne(ctx context.Context, job *Job, msg *logstore.Message) (logstore.Message, error) {
	backoff := s.cfg.InitialBackoff
	if backoff <= 0 {
		backoff = 10 * time.Millisecond
	}

	br := s.breaker(job.Target)

	for attempt := 1; ; attempt++ {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return logstore.Message{}, err
			}
		}

		out, err := br.Execute(func() (interface{}, error) {
			return s.pub.Republish(ctx, job.Target, *msg)
		})
		if err == nil {
			return out.(logstore.Message), nil
		}
		if ctx.Err() != nil {
			return logstore.Message{}, ctx.Err()
		}

		if attempt >= s.cfg.MaxAttempts {
			s.logger.Error("replay halted: retries exhausted",
				slog.String("job", job.ID),
				slog.String("target", job.Target),
				slog.Uint64("offset", msg.Offset),
				slog.Int("attempts", attempt),
				slog.String("error", err.Error()))
			return logstore.Message{}, fmt.Errorf("offset %d after %d attempts: %w", msg.Offset, attempt, ErrPublishExhausted)
		}

		s.metrics.recordRetry(ctx, job.Target)
		s.logger.Warn("transient publish failure, retrying",
			slog.String("job", job.ID),
			slog.String("target", job.Target),
			slog.Uint64("offset", msg.Offset),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return logstore.Message{}, ctx.Err()
		}

		backoff *= 2
		if s.cfg.MaxBackoff > 0 && backoff > s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
		}
	}
}

// breaker returns the destination queue's circuit breaker, creating it
// on first use.
func (s *Scheduler) breaker(target string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if br, ok := s.breakers[target]; ok {
		return br
	}

	threshold := s.cfg.BreakerThreshold
	if threshold == 0 {
		threshold = DefaultSchedulerConfig().BreakerThreshold
	}
	resetTimeout := s.cfg.BreakerResetTimeout
	if resetTimeout <= 0 {
		resetTimeout = DefaultSchedulerConfig().BreakerResetTimeout
	}

	br := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        target,
		MaxRequests: 1,
		Timeout:     resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			s.logger.Warn("destination circuit breaker state changed",
				slog.String("queue", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	s.breakers[target] = br
	return br
}
