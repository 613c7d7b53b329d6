// Copyright (c) RewindMQ
// SPDX-License-Identifier: Apache-2.0

// Package logstore defines the offset log adapter: the capability the
// replay engine requires from the backing per-queue append-only log.
// Two implementations ship with the service, an in-memory log
// (logstore/memory) and a BadgerDB-backed log (logstore/badger).
package logstore

import (
	"context"
)

// Reader provides read access to per-queue append-only logs.
type Reader interface {
	// ReadRange returns the messages with start <= offset < end, in
	// offset order. Bounds outside the retained window are clamped;
	// an empty range is not an error.
	ReadRange(ctx context.Context, queue string, start, end uint64) ([]Message, error)

	// EarliestOffset returns the first retained offset of the queue.
	EarliestOffset(ctx context.Context, queue string) (uint64, error)

	// LatestOffset returns the end of the log: the offset the next
	// append will be assigned. LatestOffset == EarliestOffset means
	// the queue is empty.
	LatestOffset(ctx context.Context, queue string) (uint64, error)

	// Queues lists the queues known to the log.
	Queues(ctx context.Context) ([]string, error)
}

// Writer provides the controlled append path into a queue's log.
type Writer interface {
	// Append adds a message to the end of the queue's log. The log
	// assigns the offset and the timestamp. The transaction header is
	// optional.
	Append(ctx context.Context, queue string, data []byte, txn *TransactionHeader) (Message, error)

	// Republish appends a copy of msg to the destination queue,
	// preserving the original timestamp, transaction header, and
	// payload bytes, and recording msg.Offset as the new message's
	// ReplayOf metadata. If the tail of the destination queue already
	// carries the same ReplayOf marker the call is a no-op returning
	// the existing tail message, which makes re-publication after a
	// lost acknowledgment idempotent.
	Republish(ctx context.Context, queue string, msg Message) (Message, error)
}

// Log is the full offset log adapter.
type Log interface {
	Reader
	Writer

	Close() error
}
