// Copyright (c) RewindMQ
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewindmq/rewind/logstore"
	"github.com/rewindmq/rewind/logstore/memory"
)

func newTestEngine(t *testing.T, log logstore.Log) *Engine {
	t.Helper()

	cfg := EngineConfig{
		TransactionHeader: "x-transaction-id",
		Scheduler:         DefaultSchedulerConfig(),
	}
	cfg.Scheduler.InitialBackoff = time.Millisecond

	engine, err := NewEngine(context.Background(), log, cfg, nil, nil)
	require.NoError(t, err)
	return engine
}

func publishN(t *testing.T, e *Engine, queue, txnValue string, n int) []logstore.Message {
	t.Helper()

	var txn *logstore.TransactionHeader
	if txnValue != "" {
		txn = &logstore.TransactionHeader{Name: "x-transaction-id", Value: txnValue}
	}

	out := make([]logstore.Message, 0, n)
	for i := 0; i < n; i++ {
		msg, err := e.Publish(context.Background(), queue, []byte{byte('a' + i)}, txn)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func TestPublishStampsTransaction(t *testing.T) {
	e := newTestEngine(t, memory.New())

	msg, err := e.Publish(context.Background(), "orders", []byte("m"), nil)
	require.NoError(t, err)

	require.NotNil(t, msg.Transaction)
	assert.Equal(t, "x-transaction-id", msg.Transaction.Name)
	assert.NotEmpty(t, msg.Transaction.Value)
}

func TestPublishKeepsExplicitTransaction(t *testing.T) {
	e := newTestEngine(t, memory.New())

	txn := &logstore.TransactionHeader{Name: "x-transaction-id", Value: "tx-1"}
	msg, err := e.Publish(context.Background(), "orders", []byte("m"), txn)
	require.NoError(t, err)

	require.NotNil(t, msg.Transaction)
	assert.Equal(t, "tx-1", msg.Transaction.Value)
}

func TestFetchWholeQueue(t *testing.T) {
	e := newTestEngine(t, memory.New())
	published := publishN(t, e, "orders", "", 5)

	msgs, err := e.Fetch(context.Background(), Request{Queue: "orders"})
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	for i, msg := range msgs {
		assert.Equal(t, published[i].Offset, msg.Offset)
		assert.Equal(t, published[i].Data, msg.Data)
	}
}

func TestFetchTimeBounded(t *testing.T) {
	e := newTestEngine(t, memory.New())
	publishN(t, e, "orders", "", 3)

	past := time.Now().Add(-time.Minute)
	msgs, err := e.Fetch(context.Background(), Request{Queue: "orders", From: &past})
	require.NoError(t, err)
	assert.Len(t, msgs, 3)

	future := time.Now().Add(time.Minute)
	msgs, err = e.Fetch(context.Background(), Request{Queue: "orders", From: &future})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestFetchUnknownQueue(t *testing.T) {
	e := newTestEngine(t, memory.New())

	_, err := e.Fetch(context.Background(), Request{Queue: "nope"})
	assert.ErrorIs(t, err, ErrQueueNotFound)
}

func TestReplayByTransaction(t *testing.T) {
	e := newTestEngine(t, memory.New())
	publishN(t, e, "orders", "tx-1", 2)
	publishN(t, e, "orders", "tx-2", 1)

	job, replayed, err := e.Replay(context.Background(), Request{
		Queue:       "orders",
		Transaction: "tx-1",
		Target:      "orders-replayed",
	})
	require.NoError(t, err)

	assert.Equal(t, JobCompleted, job.Status())
	require.Len(t, replayed, 2)
	for _, msg := range replayed {
		require.NotNil(t, msg.Transaction)
		assert.Equal(t, "tx-1", msg.Transaction.Value)
		require.NotNil(t, msg.ReplayOf)
	}

	// The destination queue received the messages and indexed them.
	got, err := e.Fetch(context.Background(), Request{Queue: "orders-replayed"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestReplayByTimeRange(t *testing.T) {
	e := newTestEngine(t, memory.New())
	published := publishN(t, e, "orders", "", 4)

	past := time.Now().Add(-time.Minute)
	job, replayed, err := e.Replay(context.Background(), Request{
		Queue:  "orders",
		From:   &past,
		Target: "orders-replayed",
	})
	require.NoError(t, err)

	assert.Equal(t, JobCompleted, job.Status())
	require.Len(t, replayed, 4)
	for i, msg := range replayed {
		assert.Equal(t, published[i].Data, msg.Data)
		assert.Equal(t, published[i].Timestamp, msg.Timestamp)
	}
}

func TestReplayTwiceProducesIdenticalSequences(t *testing.T) {
	e := newTestEngine(t, memory.New())
	publishN(t, e, "orders", "tx-1", 3)

	req := Request{Queue: "orders", Transaction: "tx-1"}

	req.Target = "target-a"
	_, first, err := e.Replay(context.Background(), req)
	require.NoError(t, err)

	req.Target = "target-b"
	_, second, err := e.Replay(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Data, second[i].Data)
		assert.Equal(t, first[i].Timestamp, second[i].Timestamp)
		assert.Equal(t, first[i].Transaction, second[i].Transaction)
	}
}

func TestReplayDefaultsTargetToSource(t *testing.T) {
	e := newTestEngine(t, memory.New())
	publishN(t, e, "orders", "tx-1", 1)

	job, replayed, err := e.Replay(context.Background(), Request{
		Queue:       "orders",
		Transaction: "tx-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "orders", job.Target)
	require.Len(t, replayed, 1)

	latest, err := e.log.LatestOffset(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), latest)
}

func TestReplayUnknownTransaction(t *testing.T) {
	e := newTestEngine(t, memory.New())
	publishN(t, e, "orders", "tx-1", 1)

	_, _, err := e.Replay(context.Background(), Request{Queue: "orders", Transaction: "tx-9"})
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestReplayRequiresFilter(t *testing.T) {
	e := newTestEngine(t, memory.New())
	publishN(t, e, "orders", "", 1)

	_, _, err := e.Replay(context.Background(), Request{Queue: "orders"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestConcurrentPublishIndexesEveryOffset(t *testing.T) {
	e := newTestEngine(t, memory.New())

	const workers = 8
	const perWorker = 50
	txn := &logstore.TransactionHeader{Name: "x-transaction-id", Value: "tx-shared"}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := e.Publish(context.Background(), "orders", []byte("m"), txn)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	// Every appended offset must be indexed: concurrent publishes to one
	// queue may not record out of order, or the indices drop offsets.
	offsets, found := e.txns.Resolve("orders", "tx-shared")
	require.True(t, found)
	require.Len(t, offsets, workers*perWorker)
	for i := 1; i < len(offsets); i++ {
		assert.Less(t, offsets[i-1], offsets[i])
	}
	assert.Equal(t, workers*perWorker, e.times.EntryCount("orders"))
}

func TestRecoveryRebuildsIndices(t *testing.T) {
	log := memory.New()
	e := newTestEngine(t, log)
	publishN(t, e, "orders", "tx-1", 3)

	// A fresh engine over the same log must serve transaction queries
	// from rebuilt indices.
	recovered := newTestEngine(t, log)

	job, replayed, err := recovered.Replay(context.Background(), Request{
		Queue:       "orders",
		Transaction: "tx-1",
		Target:      "orders-replayed",
	})
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, job.Status())
	assert.Len(t, replayed, 3)
}

func TestHealthy(t *testing.T) {
	log := memory.New()
	e := newTestEngine(t, log)
	assert.NoError(t, e.Healthy(context.Background()))

	require.NoError(t, log.Close())
	assert.Error(t, e.Healthy(context.Background()))
}
