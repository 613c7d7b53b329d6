// Copyright (c) RewindMQ
// SPDX-License-Identifier: Apache-2.0

package logstore

import (
	"errors"
	"time"
)

// Storage errors.
var (
	ErrQueueNotFound    = errors.New("queue not found")
	ErrOffsetOutOfRange = errors.New("offset out of range")
	ErrEmptyPayload     = errors.New("message payload is empty")
	ErrLogClosed        = errors.New("log is closed")
	ErrCorruptedRecord  = errors.New("corrupted record")
)

// TransactionHeader tags a message with the opaque transaction it belongs
// to. Absent for non-transactional messages.
type TransactionHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Message is a single record in a queue's append-only log. Offsets are
// unique and strictly increasing per queue; the timestamp is assigned by
// the log at append time and is non-decreasing with offset.
type Message struct {
	Offset      uint64
	Timestamp   time.Time
	Transaction *TransactionHeader
	Data        []byte

	// ReplayOf carries the offset the message occupied in its source
	// queue when it was re-published by a replay. Nil for originals.
	// Destination logs use it to deduplicate a re-publish whose
	// acknowledgment was lost.
	ReplayOf *uint64
}
