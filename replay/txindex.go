// Copyright (c) RewindMQ
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"sync"
)

// TxIndex maps transaction identifiers to the ordered set of offsets
// recorded under them, per queue. Membership is append-only: once an
// offset is recorded for a transaction it is never removed or
// reassigned. There is no commit marker in the log model, so a
// transaction's offset set stays open-ended.
type TxIndex struct {
	mu     sync.RWMutex
	queues map[string]*txTable
}

type txTable struct {
	mu  sync.RWMutex
	txs map[string][]uint64
}

// NewTxIndex creates an empty transaction index.
func NewTxIndex() *TxIndex {
	return &TxIndex{queues: make(map[string]*txTable)}
}

func (x *TxIndex) getTable(queue string, create bool) *txTable {
	x.mu.RLock()
	t, ok := x.queues[queue]
	x.mu.RUnlock()
	if ok || !create {
		return t
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if t, ok = x.queues[queue]; ok {
		return t
	}
	t = &txTable{txs: make(map[string][]uint64)}
	x.queues[queue] = t
	return t
}

// Record appends an offset to the transaction's set. Called from the
// queue's single append path in offset order; duplicates and
// out-of-order offsets are ignored.
func (x *TxIndex) Record(queue, transactionID string, offset uint64) {
	if transactionID == "" {
		return
	}

	t := x.getTable(queue, true)

	t.mu.Lock()
	defer t.mu.Unlock()

	offsets := t.txs[transactionID]
	if n := len(offsets); n > 0 && offset <= offsets[n-1] {
		return
	}
	t.txs[transactionID] = append(offsets, offset)
}

// Resolve returns the ordered offsets recorded under the transaction id.
// found is false when the id was never recorded for the queue.
func (x *TxIndex) Resolve(queue, transactionID string) (offsets []uint64, found bool) {
	t := x.getTable(queue, false)
	if t == nil {
		return nil, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	recorded, ok := t.txs[transactionID]
	if !ok {
		return nil, false
	}

	offsets = make([]uint64, len(recorded))
	copy(offsets, recorded)
	return offsets, true
}
