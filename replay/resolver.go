// Copyright (c) RewindMQ
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"context"
	"errors"
	"time"

	"github.com/rewindmq/rewind/logstore"
)

// Request errors surfaced to the boundary layer.
var (
	// ErrInvalidRequest means neither a time range nor a transaction
	// id was supplied.
	ErrInvalidRequest = errors.New("either a time range or a transaction id is required")

	// ErrQueueNotFound means the source queue does not exist.
	ErrQueueNotFound = errors.New("queue not found")

	// ErrTransactionNotFound means no message in the queue carries the
	// transaction id. Distinct from an empty time range, which is a
	// valid empty result.
	ErrTransactionNotFound = errors.New("transaction not found")
)

// Request selects messages from a source queue by exactly one of two
// filters: a half-open time interval [From, To) or a transaction id.
type Request struct {
	// Queue is the source queue.
	Queue string

	// From and To bound the time interval. Nil From means the earliest
	// retained message; nil To means the current end of log.
	From *time.Time
	To   *time.Time

	// Transaction selects by transaction id instead of time.
	Transaction string

	// Target is the destination queue for a replay. Empty means the
	// source queue itself.
	Target string
}

func (r Request) hasTimeRange() bool { return r.From != nil || r.To != nil }

// TargetQueue returns the effective destination queue.
func (r Request) TargetQueue() string {
	if r.Target != "" {
		return r.Target
	}
	return r.Queue
}

// ResolvedRange is the concrete, ordered sequence of offsets a request
// maps to. Time-range requests resolve to the contiguous window
// [Start, End); transaction requests resolve to the possibly sparse
// Offsets sequence.
type ResolvedRange struct {
	Queue string

	Start uint64
	End   uint64

	Offsets []uint64
}

// Sparse reports whether the range is a sparse offset sequence.
func (rr ResolvedRange) Sparse() bool { return rr.Offsets != nil }

// Count returns the number of offsets in the range.
func (rr ResolvedRange) Count() uint64 {
	if rr.Sparse() {
		return uint64(len(rr.Offsets))
	}
	if rr.End <= rr.Start {
		return 0
	}
	return rr.End - rr.Start
}

// Empty reports whether the range selects no offsets.
func (rr ResolvedRange) Empty() bool { return rr.Count() == 0 }

// Resolver turns a request into a ResolvedRange using the time and
// transaction indices, and enforces the one-of-two-filters contract.
type Resolver struct {
	log   logstore.Reader
	times *TimeIndex
	txns  *TxIndex
}

// NewResolver creates a resolver over the given indices and log reader.
func NewResolver(log logstore.Reader, times *TimeIndex, txns *TxIndex) *Resolver {
	return &Resolver{log: log, times: times, txns: txns}
}

// Resolve maps a replay request to an ordered offset sequence.
// When both filter forms are present the time range takes precedence;
// this is a documented policy, not incidental behavior.
func (r *Resolver) Resolve(ctx context.Context, req Request) (ResolvedRange, error) {
	if req.Queue == "" {
		return ResolvedRange{}, ErrInvalidRequest
	}

	switch {
	case req.hasTimeRange():
		return r.resolveTimeRange(ctx, req)
	case req.Transaction != "":
		return r.resolveTransaction(req)
	default:
		return ResolvedRange{}, ErrInvalidRequest
	}
}

// ResolveWindow resolves a time interval over the queue, treating an
// absent interval as the whole retained log. Used by the fetch path,
// which has no one-of contract.
func (r *Resolver) ResolveWindow(ctx context.Context, req Request) (ResolvedRange, error) {
	if req.Queue == "" {
		return ResolvedRange{}, ErrInvalidRequest
	}
	return r.resolveTimeRange(ctx, req)
}

func (r *Resolver) resolveTimeRange(ctx context.Context, req Request) (ResolvedRange, error) {
	earliest, err := r.log.EarliestOffset(ctx, req.Queue)
	if err != nil {
		if errors.Is(err, logstore.ErrQueueNotFound) {
			return ResolvedRange{}, ErrQueueNotFound
		}
		return ResolvedRange{}, err
	}

	start, end, ok := r.times.ResolveRange(req.Queue, req.From, req.To)
	if !ok {
		// The queue exists but holds no indexed messages: a valid
		// empty range, not an error.
		return ResolvedRange{Queue: req.Queue, Start: earliest, End: earliest}, nil
	}

	// The index never resolves below the retained window.
	if start < earliest {
		start = earliest
	}
	if end < start {
		end = start
	}
	return ResolvedRange{Queue: req.Queue, Start: start, End: end}, nil
}

func (r *Resolver) resolveTransaction(req Request) (ResolvedRange, error) {
	offsets, found := r.txns.Resolve(req.Queue, req.Transaction)
	if !found {
		return ResolvedRange{}, ErrTransactionNotFound
	}
	return ResolvedRange{Queue: req.Queue, Offsets: offsets}, nil
}
