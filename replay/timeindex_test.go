// Copyright (c) RewindMQ
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tsAt(base time.Time, offset time.Duration) time.Time {
	return base.Add(offset)
}

func seedTimeline(ti *TimeIndex, queue string, base time.Time, minutes ...int) {
	for i, m := range minutes {
		ti.Record(queue, uint64(i), base.Add(time.Duration(m)*time.Minute))
	}
}

func TestResolveRangeHalfOpen(t *testing.T) {
	ti := NewTimeIndex()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	// Offsets 0..4 at 10:00, 10:01, 10:01, 10:02, 10:05.
	seedTimeline(ti, "orders", base, 0, 1, 1, 2, 5)

	from := tsAt(base, 1*time.Minute)
	to := tsAt(base, 2*time.Minute)
	start, end, ok := ti.ResolveRange("orders", &from, &to)
	require.True(t, ok)
	assert.Equal(t, uint64(1), start)
	assert.Equal(t, uint64(3), end)
}

func TestResolveRangeInclusiveLowerExclusiveUpper(t *testing.T) {
	ti := NewTimeIndex()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	seedTimeline(ti, "orders", base, 0, 1, 1, 2, 5)

	// An upper bound equal to a message timestamp excludes it.
	from := tsAt(base, 0)
	to := tsAt(base, 1*time.Minute)
	start, end, ok := ti.ResolveRange("orders", &from, &to)
	require.True(t, ok)
	assert.Equal(t, uint64(0), start)
	assert.Equal(t, uint64(1), end)
}

func TestResolveRangeDefaults(t *testing.T) {
	ti := NewTimeIndex()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	seedTimeline(ti, "orders", base, 0, 1, 2)

	// Nil bounds select the whole indexed window.
	start, end, ok := ti.ResolveRange("orders", nil, nil)
	require.True(t, ok)
	assert.Equal(t, uint64(0), start)
	assert.Equal(t, uint64(3), end)

	// Nil from with a to bound.
	to := tsAt(base, 2*time.Minute)
	start, end, ok = ti.ResolveRange("orders", nil, &to)
	require.True(t, ok)
	assert.Equal(t, uint64(0), start)
	assert.Equal(t, uint64(2), end)

	// From bound with nil to.
	from := tsAt(base, 1*time.Minute)
	start, end, ok = ti.ResolveRange("orders", &from, nil)
	require.True(t, ok)
	assert.Equal(t, uint64(1), start)
	assert.Equal(t, uint64(3), end)
}

func TestResolveRangeInvertedIsEmpty(t *testing.T) {
	ti := NewTimeIndex()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	seedTimeline(ti, "orders", base, 0, 1, 2)

	from := tsAt(base, 2*time.Minute)
	to := tsAt(base, 1*time.Minute)
	start, end, ok := ti.ResolveRange("orders", &from, &to)
	require.True(t, ok)
	assert.Equal(t, start, end)
}

func TestResolveRangeOutsideWindow(t *testing.T) {
	ti := NewTimeIndex()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	seedTimeline(ti, "orders", base, 0, 1, 2)

	// Entirely after the last message.
	from := tsAt(base, time.Hour)
	start, end, ok := ti.ResolveRange("orders", &from, nil)
	require.True(t, ok)
	assert.Equal(t, uint64(3), start)
	assert.Equal(t, uint64(3), end)

	// Entirely before the first message.
	from = tsAt(base, -time.Hour)
	to := tsAt(base, -30*time.Minute)
	start, end, ok = ti.ResolveRange("orders", &from, &to)
	require.True(t, ok)
	assert.Equal(t, start, end)
}

func TestResolveRangeUnindexedQueue(t *testing.T) {
	ti := NewTimeIndex()

	_, _, ok := ti.ResolveRange("nope", nil, nil)
	assert.False(t, ok)
}

func TestRecordClampsRegressingTimestamps(t *testing.T) {
	ti := NewTimeIndex()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	ti.Record("orders", 0, base)
	ti.Record("orders", 1, base.Add(-time.Minute))

	cps := ti.Checkpoints("orders")
	require.Len(t, cps, 2)
	assert.Equal(t, cps[0].Timestamp, cps[1].Timestamp)
}

func TestRecordIgnoresOutOfOrderOffsets(t *testing.T) {
	ti := NewTimeIndex()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	ti.Record("orders", 0, base)
	ti.Record("orders", 1, base.Add(time.Minute))
	ti.Record("orders", 0, base.Add(2*time.Minute))

	assert.Equal(t, 2, ti.EntryCount("orders"))
}

func TestEqualTimestampsResolveToLowestOffset(t *testing.T) {
	ti := NewTimeIndex()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	// Three messages share one timestamp.
	ti.Record("orders", 0, base)
	ti.Record("orders", 1, base.Add(time.Minute))
	ti.Record("orders", 2, base.Add(time.Minute))
	ti.Record("orders", 3, base.Add(time.Minute))
	ti.Record("orders", 4, base.Add(2*time.Minute))

	from := tsAt(base, time.Minute)
	to := tsAt(base, 2*time.Minute)
	start, end, ok := ti.ResolveRange("orders", &from, &to)
	require.True(t, ok)
	assert.Equal(t, uint64(1), start)
	assert.Equal(t, uint64(4), end)
}

func TestMinIntervalThinsCheckpoints(t *testing.T) {
	ti := NewTimeIndex()
	ti.SetMinInterval(time.Minute)
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 60; i++ {
		ti.Record("orders", uint64(i), base.Add(time.Duration(i)*time.Second))
	}

	// One checkpoint at 10:00:00, the rest thinned below the interval.
	assert.Equal(t, 1, ti.EntryCount("orders"))

	// The window end still covers every recorded offset.
	start, end, ok := ti.ResolveRange("orders", nil, nil)
	require.True(t, ok)
	assert.Equal(t, uint64(0), start)
	assert.Equal(t, uint64(60), end)
}

func TestMinIntervalResolutionOvershootsByAtMostInterval(t *testing.T) {
	ti := NewTimeIndex()
	ti.SetMinInterval(time.Minute)
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	// Checkpoints survive at offsets 0 (10:00) and 60 (10:01); offsets
	// 1..59 and 61..119 are thinned away.
	for i := 0; i < 120; i++ {
		ti.Record("orders", uint64(i), base.Add(time.Duration(i)*time.Second))
	}
	require.Equal(t, 2, ti.EntryCount("orders"))

	// A from between checkpoints resolves at the next checkpoint, one
	// interval late at worst.
	from := base.Add(30 * time.Second)
	start, end, ok := ti.ResolveRange("orders", &from, nil)
	require.True(t, ok)
	assert.Equal(t, uint64(60), start)
	assert.Equal(t, uint64(120), end)

	// A from inside the last thinned stretch resolves to end of window.
	from = base.Add(90 * time.Second)
	start, end, ok = ti.ResolveRange("orders", &from, nil)
	require.True(t, ok)
	assert.Equal(t, uint64(120), start)
	assert.Equal(t, end, start)
}
