package txns

import (
	"slices"

	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
)

type lockEntry struct {
	txnID    common.TxnID
	notifier chan struct{}
	granted  bool
	// set when the owning transaction finished while still waiting
	aborted bool
}

// pageQueue is the lock state of a single page: the exclusive holder, if
// any, followed by blocked requesters in arrival order.
type pageQueue struct {
	holder  common.TxnID
	waiters []*lockEntry
}

func (q *pageQueue) isFree() bool {
	return q.holder == common.NilTxnID
}

func (q *pageQueue) isEmpty() bool {
	return q.isFree() && len(q.waiters) == 0
}

// last returns the transaction a new requester would wait for.
func (q *pageQueue) last() common.TxnID {
	if len(q.waiters) > 0 {
		return q.waiters[len(q.waiters)-1].txnID
	}
	return q.holder
}

func (q *pageQueue) enqueue(txnID common.TxnID) *lockEntry {
	e := &lockEntry{
		txnID:    txnID,
		notifier: make(chan struct{}),
	}
	q.waiters = append(q.waiters, e)
	return e
}

func (q *pageQueue) remove(e *lockEntry) {
	q.waiters = slices.DeleteFunc(q.waiters, func(w *lockEntry) bool {
		return w == e
	})
}

// grantNext hands a free page to the oldest waiter and wakes it up.
func (q *pageQueue) grantNext() (common.TxnID, bool) {
	if !q.isFree() || len(q.waiters) == 0 {
		return common.NilTxnID, false
	}

	next := q.waiters[0]
	q.waiters = q.waiters[1:]

	q.holder = next.txnID
	next.granted = true
	close(next.notifier)
	return next.txnID, true
}

// abortWaiters drops every queued request of txnID and wakes it up.
func (q *pageQueue) abortWaiters(txnID common.TxnID) {
	q.waiters = slices.DeleteFunc(q.waiters, func(w *lockEntry) bool {
		if w.txnID != txnID {
			return false
		}
		w.aborted = true
		close(w.notifier)
		return true
	})
}
