// Copyright (c) RewindMQ
// SPDX-License-Identifier: Apache-2.0

// Package badger provides a BadgerDB-backed offset log for deployments
// where replayable history must survive a restart.
package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/rewindmq/rewind/logstore"
)

var _ logstore.Log = (*Log)(nil)

// Message keys are "q/{queue}/{offset}" with the offset zero-padded hex
// so lexical key order equals offset order.
const (
	keyPrefix   = "q/"
	offsetWidth = 16
)

// Config holds BadgerDB log configuration.
type Config struct {
	Dir         string
	Compression logstore.CompressionType
	AutoCreate  bool

	// GCInterval is how often the value log garbage collector runs.
	// Zero selects the default of five minutes.
	GCInterval time.Duration
}

// DefaultConfig returns the default BadgerDB log configuration.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:         dir,
		Compression: logstore.CompressionNone,
		AutoCreate:  true,
		GCInterval:  5 * time.Minute,
	}
}

// Log is a BadgerDB-backed implementation of the offset log adapter.
type Log struct {
	db  *badger.DB
	cfg Config

	mu     sync.RWMutex
	queues map[string]*queueState

	gcStopCh chan struct{}
	gcDone   chan struct{}
	closed   bool
}

// queueState tracks the offset window of one queue. Appends for a queue
// serialize on its mutex; that is the single-writer guarantee.
type queueState struct {
	mu     sync.Mutex
	base   uint64
	next   uint64
	lastTS int64
}

// storedRecord is the persisted representation of a message.
type storedRecord struct {
	Timestamp   int64                       `json:"ts"`
	Transaction *logstore.TransactionHeader `json:"txn,omitempty"`
	Data        []byte                      `json:"data"`
	Compression logstore.CompressionType    `json:"comp,omitempty"`
	ReplayOf    *uint64                     `json:"replay_of,omitempty"`
}

// Open opens (or creates) a BadgerDB-backed log at cfg.Dir and rebuilds
// the per-queue offset windows from the stored keys.
func Open(cfg Config) (*Log, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = nil // Disable BadgerDB's internal logging
	opts.SyncWrites = false
	opts.NumVersionsToKeep = 1
	opts.NumCompactors = 2

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger log: %w", err)
	}

	if cfg.GCInterval <= 0 {
		cfg.GCInterval = 5 * time.Minute
	}

	l := &Log{
		db:       db,
		cfg:      cfg,
		queues:   make(map[string]*queueState),
		gcStopCh: make(chan struct{}),
		gcDone:   make(chan struct{}),
	}

	if err := l.loadQueues(); err != nil {
		db.Close()
		return nil, err
	}

	go l.runGC()

	return l, nil
}

// loadQueues scans stored keys and rebuilds each queue's offset window.
func (l *Log) loadQueues() error {
	return l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			queue, offset, err := parseKey(it.Item().Key())
			if err != nil {
				return err
			}

			q, ok := l.queues[queue]
			if !ok {
				q = &queueState{base: offset, next: offset}
				l.queues[queue] = q
			}
			if offset < q.base {
				q.base = offset
			}
			if offset+1 > q.next {
				q.next = offset + 1
			}
		}
		return nil
	})
}

func messageKey(queue string, offset uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%0*x", keyPrefix, queue, offsetWidth, offset))
}

func parseKey(key []byte) (string, uint64, error) {
	s := strings.TrimPrefix(string(key), keyPrefix)
	i := strings.LastIndexByte(s, '/')
	if i < 0 || len(s)-i-1 != offsetWidth {
		return "", 0, fmt.Errorf("%w: malformed key %q", logstore.ErrCorruptedRecord, key)
	}
	offset, err := strconv.ParseUint(s[i+1:], 16, 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: malformed key %q", logstore.ErrCorruptedRecord, key)
	}
	return s[:i], offset, nil
}

func (l *Log) getQueue(name string, create bool) (*queueState, error) {
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
	q = &queueState{}
	l.queues[name] = q
	return q, nil
}

// Append adds a message to the end of the queue's log.
func (l *Log) Append(ctx context.Context, queue string, data []byte, txn *logstore.TransactionHeader) (logstore.Message, error) {
	if len(data) == 0 {
		return logstore.Message{}, logstore.ErrEmptyPayload
	}

	q, err := l.getQueue(queue, l.cfg.AutoCreate)
	if err != nil {
		return logstore.Message{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	ts := time.Now().UnixMilli()
	if ts < q.lastTS {
		ts = q.lastTS
	}

	msg, err := l.writeLocked(q, queue, storedRecord{
		Timestamp:   ts,
		Transaction: txn,
		Data:        data,
	})
	if err != nil {
		return logstore.Message{}, err
	}
	return msg, nil
}

// Republish appends a replayed copy of msg, preserving its timestamp,
// transaction header, and payload, and recording the source offset.
func (l *Log) Republish(ctx context.Context, queue string, msg logstore.Message) (logstore.Message, error) {
	if len(msg.Data) == 0 {
		return logstore.Message{}, logstore.ErrEmptyPayload
	}

	q, err := l.getQueue(queue, l.cfg.AutoCreate)
	if err != nil {
		return logstore.Message{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	// Lost-ack deduplication against the destination tail.
	if q.next > q.base {
		tail, err := l.readOne(queue, q.next-1)
		if err == nil && tail.ReplayOf != nil && *tail.ReplayOf == msg.Offset {
			return tail, nil
		}
	}

	ts := msg.Timestamp.UnixMilli()
	if ts < q.lastTS {
		ts = q.lastTS
	}

	source := msg.Offset
	out, err := l.writeLocked(q, queue, storedRecord{
		Timestamp:   ts,
		Transaction: msg.Transaction,
		Data:        msg.Data,
		ReplayOf:    &source,
	})
	if err != nil {
		return logstore.Message{}, err
	}
	return out, nil
}

// writeLocked persists a record at the queue's next offset. Caller holds
// the queue mutex.
func (l *Log) writeLocked(q *queueState, queue string, rec storedRecord) (logstore.Message, error) {
	stored, err := logstore.Compress(rec.Data, l.cfg.Compression)
	if err != nil {
		return logstore.Message{}, err
	}

	plain := rec.Data
	rec.Data = stored
	rec.Compression = l.cfg.Compression

	value, err := json.Marshal(rec)
	if err != nil {
		return logstore.Message{}, fmt.Errorf("failed to marshal record: %w", err)
	}

	offset := q.next
	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(queue, offset), value)
	})
	if err != nil {
		return logstore.Message{}, err
	}

	q.next = offset + 1
	q.lastTS = rec.Timestamp

	msg := logstore.Message{
		Offset:      offset,
		Timestamp:   time.UnixMilli(rec.Timestamp),
		Transaction: rec.Transaction,
		Data:        append([]byte(nil), plain...),
		ReplayOf:    rec.ReplayOf,
	}
	return msg, nil
}

func decodeRecord(offset uint64, value []byte) (logstore.Message, error) {
	var rec storedRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return logstore.Message{}, fmt.Errorf("%w: %v", logstore.ErrCorruptedRecord, err)
	}

	data, err := logstore.Decompress(rec.Data, rec.Compression)
	if err != nil {
		return logstore.Message{}, fmt.Errorf("%w: %v", logstore.ErrCorruptedRecord, err)
	}

	return logstore.Message{
		Offset:      offset,
		Timestamp:   time.UnixMilli(rec.Timestamp),
		Transaction: rec.Transaction,
		Data:        data,
		ReplayOf:    rec.ReplayOf,
	}, nil
}

func (l *Log) readOne(queue string, offset uint64) (logstore.Message, error) {
	var msg logstore.Message
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(messageKey(queue, offset))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return logstore.ErrOffsetOutOfRange
			}
			return err
		}
		return item.Value(func(val []byte) error {
			msg, err = decodeRecord(offset, val)
			return err
		})
	})
	return msg, err
}

// ReadRange returns messages with start <= offset < end in offset order.
func (l *Log) ReadRange(ctx context.Context, queue string, start, end uint64) ([]logstore.Message, error) {
	q, err := l.getQueue(queue, false)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	base, next := q.base, q.next
	q.mu.Unlock()

	if start < base {
		start = base
	}
	if end > next {
		end = next
	}
	if start >= end {
		return []logstore.Message{}, nil
	}

	out := make([]logstore.Message, 0, end-start)
	err = l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix + queue + "/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(messageKey(queue, start)); it.Valid(); it.Next() {
			_, offset, err := parseKey(it.Item().Key())
			if err != nil {
				return err
			}
			if offset >= end {
				break
			}

			err = it.Item().Value(func(val []byte) error {
				msg, err := decodeRecord(offset, val)
				if err != nil {
					return err
				}
				out = append(out, msg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EarliestOffset returns the first retained offset of the queue.
func (l *Log) EarliestOffset(ctx context.Context, queue string) (uint64, error) {
	q, err := l.getQueue(queue, false)
	if err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.base, nil
}

// LatestOffset returns the offset the next append will be assigned.
func (l *Log) LatestOffset(ctx context.Context, queue string) (uint64, error) {
	q, err := l.getQueue(queue, false)
	if err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.next, nil
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

// Close stops the GC loop and closes the database.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.gcStopCh)
	<-l.gcDone

	return l.db.Close()
}

// runGC runs BadgerDB's value log garbage collection periodically.
func (l *Log) runGC() {
	defer close(l.gcDone)

	ticker := time.NewTicker(l.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Repeat until GC finds nothing to rewrite.
			for {
				if err := l.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		case <-l.gcStopCh:
			return
		}
	}
}
