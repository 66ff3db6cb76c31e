package txns

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
)

func pageID(n uint32) common.PageIdentity {
	return common.PageIdentity{TableID: 1, PageID: common.PageID(n)}
}

// lockAsync runs Lock in the background. The channel yields its result.
func lockAsync(
	m *LockManager,
	txnID common.TxnID,
	pid common.PageIdentity,
) <-chan error {
	res := make(chan error, 1)
	go func() {
		res <- m.Lock(context.Background(), txnID, pid)
	}()
	return res
}

func expectResult(t *testing.T, res <-chan error, msg string) error {
	t.Helper()

	select {
	case err := <-res:
		return err
	case <-time.After(time.Second):
		t.Fatal(msg)
		return nil
	}
}

func expectBlocked(t *testing.T, res <-chan error, msg string) {
	t.Helper()

	select {
	case err := <-res:
		t.Fatalf("%s: returned %v", msg, err)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitForWaiters(t *testing.T, m *LockManager, pid common.PageIdentity, n int) {
	t.Helper()

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		q, ok := m.qs[pid]
		return ok && len(q.waiters) == n
	}, time.Second, time.Millisecond)
}

func TestManagerBasicOperation(t *testing.T) {
	m := NewLockManager(time.Second)
	pid := pageID(100)

	require.NoError(t, m.Lock(context.Background(), 1, pid))
	assert.True(t, m.IsHeldBy(1, pid))
	assert.False(t, m.IsHeldBy(2, pid))

	// re-entrant
	require.NoError(t, m.Lock(context.Background(), 1, pid))
	assert.Equal(t, []common.PageIdentity{pid}, m.LockedPages(1))

	m.Unlock(pid)
	assert.False(t, m.IsHeldBy(1, pid))
	assert.True(t, m.AreAllQueuesEmpty())
	assert.Empty(t, m.GetActiveTransactions())

	// unlocking a free page is a no-op
	m.Unlock(pid)
}

func TestManagerLockContention(t *testing.T) {
	m := NewLockManager(time.Second)
	pid := pageID(300)

	require.NoError(t, m.Lock(context.Background(), 5, pid))

	second := lockAsync(m, 4, pid)
	expectBlocked(t, second, "second lock should block")
	waitForWaiters(t, m, pid, 1)

	third := lockAsync(m, 3, pid)
	expectBlocked(t, third, "third lock should block")
	waitForWaiters(t, m, pid, 2)

	m.Unlock(pid)
	require.NoError(t, expectResult(t, second, "second lock should be granted after unlock"))
	assert.True(t, m.IsHeldBy(4, pid))
	expectBlocked(t, third, "third lock should still wait")

	m.UnlockAll(4)
	require.NoError(t, expectResult(t, third, "third lock should be granted"))
	assert.True(t, m.IsHeldBy(3, pid))

	m.UnlockAll(3)
	assert.True(t, m.AreAllQueuesEmpty())
}

func TestManagerTimeout(t *testing.T) {
	m := NewLockManager(20 * time.Millisecond)
	pid := pageID(1)

	require.NoError(t, m.Lock(context.Background(), 1, pid))

	err := m.Lock(context.Background(), 2, pid)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.ErrorIs(t, err, ErrTransactionAborted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the timed out request left the queue
	m.mu.Lock()
	assert.Empty(t, m.qs[pid].waiters)
	m.mu.Unlock()

	m.UnlockAll(1)
	assert.True(t, m.AreAllQueuesEmpty())
}

func TestManagerContextCancel(t *testing.T) {
	m := NewLockManager(0)
	pid := pageID(1)

	require.NoError(t, m.Lock(context.Background(), 1, pid))

	ctx, cancel := context.WithCancel(context.Background())
	res := make(chan error, 1)
	go func() {
		res <- m.Lock(ctx, 2, pid)
	}()
	waitForWaiters(t, m, pid, 1)

	cancel()
	err := expectResult(t, res, "cancelled lock should return")
	assert.ErrorIs(t, err, ErrTransactionAborted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, m.IsHeldBy(2, pid))
}

func TestManagerDeadlockDetection(t *testing.T) {
	m := NewLockManager(time.Second)
	p1, p2 := pageID(1), pageID(2)

	require.NoError(t, m.Lock(context.Background(), 1, p1))
	require.NoError(t, m.Lock(context.Background(), 2, p2))

	waiting := lockAsync(m, 2, p1)
	waitForWaiters(t, m, p1, 1)

	graph := m.GetGraphSnapshot()
	assert.False(t, graph.IsCyclic())
	assert.Contains(t, m.Dump(), "\"txn_2\" -> \"txn_1\"")

	err := m.Lock(context.Background(), 1, p2)
	require.ErrorIs(t, err, ErrDeadlock)
	assert.ErrorIs(t, err, ErrTransactionAborted)

	m.UnlockAll(1)
	require.NoError(t, expectResult(t, waiting, "txn 2 should get p1"))
	assert.True(t, m.IsHeldBy(2, p1))
	assert.True(t, m.IsHeldBy(2, p2))

	m.UnlockAll(2)
	assert.True(t, m.AreAllQueuesEmpty())
}

func TestManagerDeadlockThroughQueue(t *testing.T) {
	m := NewLockManager(time.Second)
	p1, p2 := pageID(1), pageID(2)

	require.NoError(t, m.Lock(context.Background(), 1, p1))
	require.NoError(t, m.Lock(context.Background(), 3, p2))

	// 2 waits behind 1 on p1, 3 waits behind 2 on p1
	second := lockAsync(m, 2, p1)
	waitForWaiters(t, m, p1, 1)
	third := lockAsync(m, 3, p1)
	waitForWaiters(t, m, p1, 2)

	err := m.Lock(context.Background(), 1, p2)
	require.ErrorIs(t, err, ErrDeadlock)

	m.UnlockAll(1)
	require.NoError(t, expectResult(t, second, "txn 2 should get p1"))
	m.UnlockAll(2)
	require.NoError(t, expectResult(t, third, "txn 3 should get p1"))
	m.UnlockAll(3)
	assert.True(t, m.AreAllQueuesEmpty())
}

func TestManagerUnlockAllDropsWaitingRequests(t *testing.T) {
	m := NewLockManager(0)
	pid := pageID(7)

	require.NoError(t, m.Lock(context.Background(), 1, pid))
	res := lockAsync(m, 2, pid)
	waitForWaiters(t, m, pid, 1)

	// txn 2 is finished by another goroutine while it is still blocked
	m.UnlockAll(2)

	err := expectResult(t, res, "waiting request was not woken up")
	assert.ErrorIs(t, err, ErrTransactionAborted)

	m.UnlockAll(1)
	assert.False(t, m.IsHeldBy(2, pid))
	assert.Empty(t, m.LockedPages(2))
	assert.True(t, m.AreAllQueuesEmpty())

	require.NoError(t, m.Lock(context.Background(), 3, pid))
	assert.True(t, m.IsHeldBy(3, pid))
}

func TestDependencyGraphIsCyclic(t *testing.T) {
	g := txnDependencyGraph{}
	g.addEdge(1, 2, pageID(0))
	g.addEdge(2, 3, pageID(1))
	assert.False(t, g.IsCyclic())

	g.addEdge(3, 1, pageID(2))
	assert.True(t, g.IsCyclic())
}

func TestManagerConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping slow test in short mode")
	}

	m := NewLockManager(50 * time.Millisecond)

	numTxns := 50
	numObjects := 10
	opsPerTxn := 10

	var wg sync.WaitGroup
	var mu sync.Mutex
	failedTxns := make(map[common.TxnID]bool)

	for txnID := range numTxns {
		wg.Add(1)

		go func(txnID int) {
			defer wg.Done()

			txn := common.TxnID(txnID + 1) //nolint:gosec
			defer m.UnlockAll(txn)

			for range opsPerTxn {
				//nolint:gosec
				pid := pageID(uint32(rand.Intn(numObjects)))
				if err := m.Lock(context.Background(), txn, pid); err != nil {
					if !errors.Is(err, ErrTransactionAborted) {
						t.Errorf("unexpected error: %v", err)
					}
					mu.Lock()
					failedTxns[txn] = true
					mu.Unlock()
					return
				}
				assert.True(t, m.IsHeldBy(txn, pid))

				time.Sleep(time.Millisecond * time.Duration(txnID%3))
			}
		}(txnID)
	}
	wg.Wait()

	mu.Lock()
	numFailed := len(failedTxns)
	mu.Unlock()

	t.Logf(
		"Concurrency test completed. Failed transactions: %d/%d",
		numFailed,
		numTxns,
	)

	assert.True(
		t,
		m.AreAllQueuesEmpty(),
		"Some queues are not empty after all transactions completed",
	)

	activeTxns := m.GetActiveTransactions()
	assert.Empty(t, activeTxns, "Expected no active transactions")
}
