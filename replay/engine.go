// Copyright (c) RewindMQ
// SPDX-License-Identifier: Apache-2.0

// Package replay implements the index-and-replay engine: the time and
// transaction indices over per-queue offset logs, the query resolver,
// and the scheduler that streams resolved ranges back onto live queues.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rewindmq/rewind/logstore"
)

// EngineConfig holds engine policy.
type EngineConfig struct {
	// TransactionHeader, when set, is the header name stamped onto
	// published messages that carry no explicit transaction; the value
	// is a generated UUID.
	TransactionHeader string

	// TimeIndexInterval enables coarse checkpointing. Zero keeps the
	// index exact (one checkpoint per append).
	TimeIndexInterval time.Duration

	Scheduler SchedulerConfig
}

// Engine composes the indices, resolver, and scheduler behind the
// fetch and replay operations, and owns the indexed append path.
type Engine struct {
	log      logstore.Log
	times    *TimeIndex
	txns     *TxIndex
	resolver *Resolver
	sched    *Scheduler

	cfg     EngineConfig
	logger  *slog.Logger
	metrics *Metrics

	// pubLocks serializes append+index per queue. The indices drop
	// out-of-order offsets, so the two steps must be one critical
	// section.
	pubLocks keyLock
}

var _ Publisher = (*Engine)(nil)

// NewEngine creates an engine over the given log and rebuilds both
// indices from the log's retained contents.
func NewEngine(ctx context.Context, log logstore.Log, cfg EngineConfig, logger *slog.Logger, metrics *Metrics) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		log:     log,
		times:   NewTimeIndex(),
		txns:    NewTxIndex(),
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
	if cfg.TimeIndexInterval > 0 {
		e.times.SetMinInterval(cfg.TimeIndexInterval)
	}

	e.resolver = NewResolver(log, e.times, e.txns)
	e.sched = NewScheduler(log, e, cfg.Scheduler, logger, metrics)

	if err := e.recover(ctx); err != nil {
		return nil, fmt.Errorf("rebuilding indices: %w", err)
	}

	return e, nil
}

// recover rebuilds the indices by scanning the retained log contents.
func (e *Engine) recover(ctx context.Context) error {
	queues, err := e.log.Queues(ctx)
	if err != nil {
		return err
	}

	batch := uint64(e.sched.cfg.BatchSize)
	for _, queue := range queues {
		earliest, err := e.log.EarliestOffset(ctx, queue)
		if err != nil {
			return err
		}
		latest, err := e.log.LatestOffset(ctx, queue)
		if err != nil {
			return err
		}

		for cur := earliest; cur < latest; {
			hi := cur + batch
			if hi > latest {
				hi = latest
			}
			msgs, err := e.log.ReadRange(ctx, queue, cur, hi)
			if err != nil {
				return err
			}
			for i := range msgs {
				e.index(queue, &msgs[i])
			}
			cur = hi
		}

		if latest > earliest {
			e.logger.Info("indices rebuilt",
				slog.String("queue", queue),
				slog.Uint64("messages", latest-earliest))
		}
	}
	return nil
}

// index records an appended message in both indices. Caller holds the
// queue's publish lock (or is the single-threaded recovery scan).
func (e *Engine) index(queue string, msg *logstore.Message) {
	e.times.Record(queue, msg.Offset, msg.Timestamp)
	if msg.Transaction != nil {
		e.txns.Record(queue, msg.Transaction.Value, msg.Offset)
	}
}

// Publish appends a message through the indexed append path. When no
// transaction header is supplied and the engine is configured with a
// transaction header name, a fresh UUID transaction is stamped, as the
// upstream producers do.
func (e *Engine) Publish(ctx context.Context, queue string, data []byte, txn *logstore.TransactionHeader) (logstore.Message, error) {
	if txn == nil && e.cfg.TransactionHeader != "" {
		txn = &logstore.TransactionHeader{
			Name:  e.cfg.TransactionHeader,
			Value: uuid.NewString(),
		}
	}

	e.pubLocks.Lock(queue)
	defer e.pubLocks.Unlock(queue)

	msg, err := e.log.Append(ctx, queue, data, txn)
	if err != nil {
		return logstore.Message{}, err
	}

	e.index(queue, &msg)
	e.metrics.recordPublished(ctx, queue)
	return msg, nil
}

// Republish appends a replayed message to the destination queue and
// indexes it there, preserving the source message's timestamp and
// transaction header. It implements Publisher for the scheduler.
func (e *Engine) Republish(ctx context.Context, queue string, msg logstore.Message) (logstore.Message, error) {
	e.pubLocks.Lock(queue)
	defer e.pubLocks.Unlock(queue)

	out, err := e.log.Republish(ctx, queue, msg)
	if err != nil {
		return logstore.Message{}, err
	}

	e.index(queue, &out)
	return out, nil
}

// Fetch returns the messages whose timestamps fall in the request's
// half-open interval, in offset order. An absent interval means the
// whole retained log. An empty result is a valid success, distinct
// from an unknown queue.
func (e *Engine) Fetch(ctx context.Context, req Request) ([]logstore.Message, error) {
	rr, err := e.resolver.ResolveWindow(ctx, req)
	if err != nil {
		return nil, err
	}

	batch := uint64(e.sched.cfg.BatchSize)
	out := make([]logstore.Message, 0, rr.Count())
	for cur := rr.Start; cur < rr.End; {
		hi := cur + batch
		if hi > rr.End {
			hi = rr.End
		}
		msgs, err := e.log.ReadRange(ctx, req.Queue, cur, hi)
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
		cur = hi
	}

	e.metrics.recordFetched(ctx, req.Queue, len(out))
	return out, nil
}

// Replay resolves the request and streams the matching messages onto
// the target queue in source-offset order. It returns the finished job
// and the re-published messages. Cancellation of ctx halts publishing
// between messages; the job reports Cancelled and its cursor stays at
// the last replayed offset.
func (e *Engine) Replay(ctx context.Context, req Request) (*Job, []logstore.Message, error) {
	rr, err := e.resolver.Resolve(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	job := newJob(req.Queue, req.TargetQueue())
	e.logger.Info("replay started",
		slog.String("job", job.ID),
		slog.String("source", job.Source),
		slog.String("target", job.Target),
		slog.Uint64("messages", rr.Count()))

	replayed, err := e.sched.Run(ctx, job, rr)
	if err != nil {
		return job, replayed, err
	}
	return job, replayed, nil
}

// Healthy reports whether the backing log is reachable.
func (e *Engine) Healthy(ctx context.Context) error {
	_, err := e.log.Queues(ctx)
	return err
}
