// Copyright (c) RewindMQ
// SPDX-License-Identifier: Apache-2.0

// Package memory provides an in-memory offset log, used for tests and
// for deployments that do not need the log to survive a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rewindmq/rewind/logstore"
)

var _ logstore.Log = (*Log)(nil)

// Option configures the in-memory log.
type Option func(*Log)

// WithCompression sets the payload compression applied at rest.
func WithCompression(ct logstore.CompressionType) Option {
	return func(l *Log) {
		l.compression = ct
	}
}

// WithAutoCreate enables or disables creating queues on first append.
func WithAutoCreate(enabled bool) Option {
	return func(l *Log) {
		l.autoCreate = enabled
	}
}

// Log is an in-memory implementation of the offset log adapter.
// Each queue has a single writer; index readers and the replay
// scheduler read concurrently under a per-queue read lock.
type Log struct {
	mu     sync.RWMutex
	queues map[string]*queueLog

	compression logstore.CompressionType
	autoCreate  bool
	closed      bool
}

type record struct {
	timestamp int64 // unix millis
	txn       *logstore.TransactionHeader
	data      []byte // stored compressed
	comp      logstore.CompressionType
	replayOf  *uint64
}

type queueLog struct {
	mu      sync.RWMutex
	base    uint64
	records []record
	lastTS  int64
}

// New creates an in-memory log. Queues are auto-created on first append
// unless disabled.
func New(opts ...Option) *Log {
	l := &Log{
		queues:      make(map[string]*queueLog),
		compression: logstore.CompressionNone,
		autoCreate:  true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateQueue creates an empty queue. Appends create queues implicitly
// when auto-create is enabled; this exists for the explicit path.
func (l *Log) CreateQueue(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.queues[name]; !ok {
		l.queues[name] = &queueLog{}
	}
}

func (l *Log) getQueue(name string, create bool) (*queueLog, error) {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return nil, logstore.ErrLogClosed
	}
	q, ok := l.queues[name]
	l.mu.RUnlock()
	if ok {
		return q, nil
	}
	if !create {
		return nil, logstore.ErrQueueNotFound
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, logstore.ErrLogClosed
	}
	if q, ok = l.queues[name]; ok {
		return q, nil
	}
	q = &queueLog{}
	l.queues[name] = q
	return q, nil
}

// Append adds a message to the end of the queue's log.
func (l *Log) Append(ctx context.Context, queue string, data []byte, txn *logstore.TransactionHeader) (logstore.Message, error) {
	if len(data) == 0 {
		return logstore.Message{}, logstore.ErrEmptyPayload
	}

	q, err := l.getQueue(queue, l.autoCreate)
	if err != nil {
		return logstore.Message{}, err
	}

	stored, err := logstore.Compress(data, l.compression)
	if err != nil {
		return logstore.Message{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	ts := time.Now().UnixMilli()
	if ts < q.lastTS {
		ts = q.lastTS
	}

	offset := q.base + uint64(len(q.records))
	q.records = append(q.records, record{
		timestamp: ts,
		txn:       cloneTxn(txn),
		data:      stored,
		comp:      l.compression,
	})
	q.lastTS = ts

	return logstore.Message{
		Offset:      offset,
		Timestamp:   time.UnixMilli(ts),
		Transaction: cloneTxn(txn),
		Data:        append([]byte(nil), data...),
	}, nil
}

// Republish appends a replayed copy of msg, preserving its timestamp,
// transaction header, and payload, and recording the source offset.
func (l *Log) Republish(ctx context.Context, queue string, msg logstore.Message) (logstore.Message, error) {
	if len(msg.Data) == 0 {
		return logstore.Message{}, logstore.ErrEmptyPayload
	}

	q, err := l.getQueue(queue, l.autoCreate)
	if err != nil {
		return logstore.Message{}, err
	}

	stored, err := logstore.Compress(msg.Data, l.compression)
	if err != nil {
		return logstore.Message{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	// Lost-ack deduplication: if the tail already carries this source
	// offset the previous publish succeeded.
	if n := len(q.records); n > 0 {
		tail := q.records[n-1]
		if tail.replayOf != nil && *tail.replayOf == msg.Offset {
			return q.messageAtLocked(q.base + uint64(n-1))
		}
	}

	ts := msg.Timestamp.UnixMilli()
	if ts < q.lastTS {
		ts = q.lastTS
	}

	source := msg.Offset
	offset := q.base + uint64(len(q.records))
	q.records = append(q.records, record{
		timestamp: ts,
		txn:       cloneTxn(msg.Transaction),
		data:      stored,
		comp:      l.compression,
		replayOf:  &source,
	})
	q.lastTS = ts

	return logstore.Message{
		Offset:      offset,
		Timestamp:   time.UnixMilli(ts),
		Transaction: cloneTxn(msg.Transaction),
		Data:        append([]byte(nil), msg.Data...),
		ReplayOf:    &source,
	}, nil
}

// ReadRange returns messages with start <= offset < end in offset order.
func (l *Log) ReadRange(ctx context.Context, queue string, start, end uint64) ([]logstore.Message, error) {
	q, err := l.getQueue(queue, false)
	if err != nil {
		return nil, err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if start < q.base {
		start = q.base
	}
	if tail := q.base + uint64(len(q.records)); end > tail {
		end = tail
	}
	if start >= end {
		return []logstore.Message{}, nil
	}

	out := make([]logstore.Message, 0, end-start)
	for off := start; off < end; off++ {
		msg, err := q.messageAtLocked(off)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

// messageAtLocked materializes the record at the given absolute offset.
// Caller holds at least a read lock on the queue.
func (q *queueLog) messageAtLocked(offset uint64) (logstore.Message, error) {
	if offset < q.base || offset >= q.base+uint64(len(q.records)) {
		return logstore.Message{}, logstore.ErrOffsetOutOfRange
	}

	rec := q.records[offset-q.base]
	data, err := logstore.Decompress(rec.data, rec.comp)
	if err != nil {
		return logstore.Message{}, err
	}
	if rec.comp == logstore.CompressionNone {
		data = append([]byte(nil), data...)
	}

	msg := logstore.Message{
		Offset:      offset,
		Timestamp:   time.UnixMilli(rec.timestamp),
		Transaction: cloneTxn(rec.txn),
		Data:        data,
	}
	if rec.replayOf != nil {
		source := *rec.replayOf
		msg.ReplayOf = &source
	}
	return msg, nil
}

// EarliestOffset returns the first retained offset of the queue.
func (l *Log) EarliestOffset(ctx context.Context, queue string) (uint64, error) {
	q, err := l.getQueue(queue, false)
	if err != nil {
		return 0, err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.base, nil
}

// LatestOffset returns the offset the next append will be assigned.
func (l *Log) LatestOffset(ctx context.Context, queue string) (uint64, error) {
	q, err := l.getQueue(queue, false)
	if err != nil {
		return 0, err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.base + uint64(len(q.records)), nil
}

// Queues lists the known queues in lexical order.
func (l *Log) Queues(ctx context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, logstore.ErrLogClosed
	}

	names := make([]string, 0, len(l.queues))
	for name := range l.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close marks the log closed. Subsequent operations fail with
// ErrLogClosed.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func cloneTxn(txn *logstore.TransactionHeader) *logstore.TransactionHeader {
	if txn == nil {
		return nil
	}
	c := *txn
	return &c
}
