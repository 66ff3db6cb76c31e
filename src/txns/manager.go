package txns

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Blackdeer1524/HeapDB/src/pkg/assert"
	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
)

// LockManager grants exclusive page locks to transactions. Conflicting
// requests wait in FIFO order. A request that would close a cycle in the
// wait-for graph is refused instead.
type LockManager struct {
	timeout time.Duration

	mu          sync.Mutex
	qs          map[common.PageIdentity]*pageQueue
	lockedPages map[common.TxnID]map[common.PageIdentity]struct{}
}

// NewLockManager creates a lock manager. A non-positive timeout makes
// waiters rely on their context only.
func NewLockManager(timeout time.Duration) *LockManager {
	return &LockManager{
		timeout:     timeout,
		qs:          map[common.PageIdentity]*pageQueue{},
		lockedPages: map[common.TxnID]map[common.PageIdentity]struct{}{},
	}
}

// Lock blocks until txnID holds pid. Re-locking a page the transaction
// already holds succeeds immediately. Every failure wraps
// ErrTransactionAborted.
func (m *LockManager) Lock(
	ctx context.Context,
	txnID common.TxnID,
	pid common.PageIdentity,
) error {
	assert.Assert(txnID != common.NilTxnID, "nil transaction can't lock %s", pid)

	entry, err := m.tryLockOrEnqueue(txnID, pid)
	if err != nil || entry == nil {
		return err
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	select {
	case <-entry.notifier:
		if entry.aborted {
			return abortedWhileWaiting(txnID, pid)
		}
		return nil
	case <-ctx.Done():
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// the page may have been handed over while we were giving up
	if entry.granted {
		return nil
	}
	if entry.aborted {
		return abortedWhileWaiting(txnID, pid)
	}

	q := m.qs[pid]
	q.remove(entry)
	if q.isEmpty() {
		delete(m.qs, pid)
	}

	return fmt.Errorf(
		"%w: txn %d waiting for %s: %w",
		ErrLockTimeout,
		txnID,
		pid,
		ctx.Err(),
	)
}

func abortedWhileWaiting(txnID common.TxnID, pid common.PageIdentity) error {
	return fmt.Errorf(
		"%w: txn %d finished while waiting for %s",
		ErrTransactionAborted,
		txnID,
		pid,
	)
}

// tryLockOrEnqueue returns nil entry when the lock is granted right away.
func (m *LockManager) tryLockOrEnqueue(
	txnID common.TxnID,
	pid common.PageIdentity,
) (*lockEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.qs[pid]
	if !ok {
		q = &pageQueue{}
		m.qs[pid] = q
	}

	if q.holder == txnID {
		return nil, nil
	}

	if q.isFree() && len(q.waiters) == 0 {
		q.holder = txnID
		m.rememberLocked(txnID, pid)
		return nil, nil
	}

	graph := m.graphAssumeLocked()
	graph.addEdge(txnID, q.last(), pid)
	if graph.IsCyclic() {
		return nil, fmt.Errorf("%w: txn %d requesting %s", ErrDeadlock, txnID, pid)
	}

	return q.enqueue(txnID), nil
}

func (m *LockManager) rememberLocked(txnID common.TxnID, pid common.PageIdentity) {
	pages, ok := m.lockedPages[txnID]
	if !ok {
		pages = map[common.PageIdentity]struct{}{}
		m.lockedPages[txnID] = pages
	}
	pages[pid] = struct{}{}
}

func (m *LockManager) forgetLocked(txnID common.TxnID, pid common.PageIdentity) {
	pages, ok := m.lockedPages[txnID]
	if !ok {
		return
	}

	delete(pages, pid)
	if len(pages) == 0 {
		delete(m.lockedPages, txnID)
	}
}

func (m *LockManager) releaseAssumeLocked(pid common.PageIdentity) {
	q, ok := m.qs[pid]
	if !ok || q.isFree() {
		return
	}

	m.forgetLocked(q.holder, pid)
	q.holder = common.NilTxnID

	if next, ok := q.grantNext(); ok {
		m.rememberLocked(next, pid)
		return
	}
	delete(m.qs, pid)
}

// Unlock releases pid whoever holds it and wakes the next waiter.
// It is unsafe outside of controlled contexts: the former holder may
// still believe it owns the page.
func (m *LockManager) Unlock(pid common.PageIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.releaseAssumeLocked(pid)
}

// UnlockAll releases every page held by txnID. Requests of txnID still
// waiting in some queue are dropped and fail with ErrTransactionAborted.
func (m *LockManager) UnlockAll(txnID common.TxnID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for pid, q := range m.qs {
		q.abortWaiters(txnID)
		if q.isEmpty() {
			delete(m.qs, pid)
		}
	}

	for pid := range maps.Clone(m.lockedPages[txnID]) {
		m.releaseAssumeLocked(pid)
	}
}

func (m *LockManager) IsHeldBy(txnID common.TxnID, pid common.PageIdentity) bool {
	holder, ok := m.Holder(pid)
	return ok && holder == txnID
}

func (m *LockManager) Holder(pid common.PageIdentity) (common.TxnID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.qs[pid]
	if !ok || q.isFree() {
		return common.NilTxnID, false
	}
	return q.holder, true
}

// LockedPages returns the pages held by txnID in no particular order.
func (m *LockManager) LockedPages(txnID common.TxnID) []common.PageIdentity {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Collect(maps.Keys(m.lockedPages[txnID]))
}

func (m *LockManager) GetActiveTransactions() map[common.TxnID]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	activeTxns := make(map[common.TxnID]struct{}, len(m.lockedPages))
	for txnID := range m.lockedPages {
		activeTxns[txnID] = struct{}{}
	}
	return activeTxns
}

func (m *LockManager) AreAllQueuesEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, q := range m.qs {
		if !q.isEmpty() {
			return false
		}
	}
	return true
}

// graphAssumeLocked builds the wait-for graph: the first waiter of every
// page waits for the holder, every other waiter for the one ahead of it.
func (m *LockManager) graphAssumeLocked() txnDependencyGraph {
	graph := txnDependencyGraph{}
	for pid, q := range m.qs {
		prev := q.holder
		for _, w := range q.waiters {
			if prev != common.NilTxnID {
				graph.addEdge(w.txnID, prev, pid)
			}
			prev = w.txnID
		}
	}
	return graph
}

func (m *LockManager) GetGraphSnapshot() txnDependencyGraph {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.graphAssumeLocked()
}

// Dump renders the current wait-for graph in graphviz format.
func (m *LockManager) Dump() string {
	return m.GetGraphSnapshot().Dump()
}
