// Copyright (c) RewindMQ
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"sort"
	"sync"
	"time"
)

// Checkpoint is one recorded (timestamp, offset) pair. Within a queue,
// offsets are strictly increasing and timestamps non-decreasing.
type Checkpoint struct {
	Timestamp int64 // Unix millis
	Offset    uint64
}

// TimeIndex maps timestamps to offset positions per queue. The append
// path records a checkpoint per message (exact mode); a minimum interval
// can be configured to thin checkpoints for very hot queues, trading
// range resolution precision for memory.
type TimeIndex struct {
	mu     sync.RWMutex
	queues map[string]*timeline

	// Minimum millis between checkpoints; 0 records every append.
	minInterval int64
}

type timeline struct {
	mu      sync.RWMutex
	entries []Checkpoint
	// end is the offset following the last indexed message.
	end uint64
}

// NewTimeIndex creates an exact time index.
func NewTimeIndex() *TimeIndex {
	return &TimeIndex{queues: make(map[string]*timeline)}
}

// SetMinInterval sets the minimum timestamp interval between checkpoints.
// Zero restores exact mode. In coarse mode a bound falling between two
// checkpoints resolves at the next one, so either endpoint can overshoot
// by up to the interval; a from inside the last thinned stretch resolves
// all the way to the end of the indexed window.
func (ti *TimeIndex) SetMinInterval(interval time.Duration) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.minInterval = interval.Milliseconds()
}

func (ti *TimeIndex) getTimeline(queue string, create bool) *timeline {
	ti.mu.RLock()
	tl, ok := ti.queues[queue]
	ti.mu.RUnlock()
	if ok || !create {
		return tl
	}

	ti.mu.Lock()
	defer ti.mu.Unlock()
	if tl, ok = ti.queues[queue]; ok {
		return tl
	}
	tl = &timeline{}
	ti.queues[queue] = tl
	return tl
}

// Record adds a checkpoint for an appended message. It is called from
// the queue's single append path in offset order; out-of-order offsets
// are ignored. Timestamps earlier than the last checkpoint are clamped
// so the non-decreasing invariant holds.
func (ti *TimeIndex) Record(queue string, offset uint64, ts time.Time) {
	ti.mu.RLock()
	minInterval := ti.minInterval
	ti.mu.RUnlock()

	tl := ti.getTimeline(queue, true)

	tl.mu.Lock()
	defer tl.mu.Unlock()

	if n := len(tl.entries); n > 0 && offset < tl.end {
		return
	}

	millis := ts.UnixMilli()
	if n := len(tl.entries); n > 0 {
		last := tl.entries[n-1]
		if millis < last.Timestamp {
			millis = last.Timestamp
		}
		tl.end = offset + 1
		if minInterval > 0 && millis-last.Timestamp < minInterval {
			return
		}
	} else {
		tl.end = offset + 1
	}

	tl.entries = append(tl.entries, Checkpoint{Timestamp: millis, Offset: offset})
}

// ResolveRange maps the half-open interval [from, to) onto the queue's
// offset window [start, end). A nil from means the earliest retained
// offset; a nil to means the current end of log. Inverted or
// out-of-window intervals yield an empty range anchored inside the
// window, never an error. ok is false only when the queue has no
// indexed messages at all.
func (ti *TimeIndex) ResolveRange(queue string, from, to *time.Time) (start, end uint64, ok bool) {
	tl := ti.getTimeline(queue, false)
	if tl == nil {
		return 0, 0, false
	}

	tl.mu.RLock()
	defer tl.mu.RUnlock()

	if len(tl.entries) == 0 {
		return 0, 0, false
	}

	start = tl.entries[0].Offset
	end = tl.end

	if from != nil {
		start = tl.lowerBoundLocked(from.UnixMilli())
	}
	if to != nil {
		end = tl.lowerBoundLocked(to.UnixMilli())
	}
	if start > end {
		// from > to is an empty result, not an error.
		end = start
	}
	return start, end, true
}

// lowerBoundLocked returns the offset of the first checkpoint with
// timestamp >= millis, or the end of the indexed window when every
// checkpoint is older. Ties on equal timestamps resolve to the lowest
// offset because checkpoints are in offset order.
func (tl *timeline) lowerBoundLocked(millis int64) uint64 {
	i := sort.Search(len(tl.entries), func(i int) bool {
		return tl.entries[i].Timestamp >= millis
	})
	if i == len(tl.entries) {
		return tl.end
	}
	return tl.entries[i].Offset
}

// Checkpoints returns a copy of the queue's checkpoint sequence.
func (ti *TimeIndex) Checkpoints(queue string) []Checkpoint {
	tl := ti.getTimeline(queue, false)
	if tl == nil {
		return nil
	}

	tl.mu.RLock()
	defer tl.mu.RUnlock()

	out := make([]Checkpoint, len(tl.entries))
	copy(out, tl.entries)
	return out
}

// EntryCount returns the number of checkpoints recorded for the queue.
func (ti *TimeIndex) EntryCount(queue string) int {
	tl := ti.getTimeline(queue, false)
	if tl == nil {
		return 0
	}

	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return len(tl.entries)
}
