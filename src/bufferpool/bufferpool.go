package bufferpool

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Blackdeer1524/HeapDB/src"
	"github.com/Blackdeer1524/HeapDB/src/pkg/assert"
	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
	"github.com/Blackdeer1524/HeapDB/src/storage/heap"
	"github.com/Blackdeer1524/HeapDB/src/storage/page"
	"github.com/Blackdeer1524/HeapDB/src/storage/tuple"
	"github.com/Blackdeer1524/HeapDB/src/txns"
)

var (
	ErrPageNotFound = errors.New("page is not in the buffer pool")
	// ErrBufferPoolExhausted is returned when every cached page is dirty.
	// Retrying only helps after some transactions have finished.
	ErrBufferPoolExhausted = errors.New("buffer pool exhausted: all pages are dirty")
)

// Store is the owner of a table's pages on disk.
type Store interface {
	ReadPage(pid common.PageIdentity) (*page.HeapPage, error)
	WritePage(pg *page.HeapPage) error
	InsertTuple(
		ctx context.Context,
		pool heap.PagePool,
		txnID common.TxnID,
		t *tuple.Tuple,
	) ([]*page.HeapPage, error)
	DeleteTuple(
		ctx context.Context,
		pool heap.PagePool,
		txnID common.TxnID,
		t *tuple.Tuple,
	) (*page.HeapPage, error)
}

var _ Store = &heap.File{}

type StoreProvider interface {
	Store(tableID common.TableID) (Store, error)
}

type Locker interface {
	Lock(ctx context.Context, txnID common.TxnID, pid common.PageIdentity) error
	Unlock(pid common.PageIdentity)
	UnlockAll(txnID common.TxnID)
	IsHeldBy(txnID common.TxnID, pid common.PageIdentity) bool
}

var _ Locker = &txns.LockManager{}

type BufferPool interface {
	heap.PagePool
	txns.TransactionCompleter

	ReleasePage(txnID common.TxnID, pid common.PageIdentity)
	HoldsLock(txnID common.TxnID, pid common.PageIdentity) bool
	FlushPages(txnID common.TxnID) error
	FlushAllPages() error
	DiscardPage(pid common.PageIdentity)
	InsertTuple(
		ctx context.Context,
		txnID common.TxnID,
		tableID common.TableID,
		t *tuple.Tuple,
	) ([]*page.HeapPage, error)
	DeleteTuple(
		ctx context.Context,
		txnID common.TxnID,
		t *tuple.Tuple,
	) (*page.HeapPage, error)
}

// Manager caches at most capacity pages. Only clean pages are ever evicted,
// so uncommitted changes never reach disk before commit.
type Manager struct {
	capacity int

	mu    sync.Mutex
	pages map[common.PageIdentity]*page.HeapPage

	replacer Replacer
	stores   StoreProvider
	locker   Locker
	logger   src.Logger
	metrics  *metrics
}

var _ BufferPool = &Manager{}

func New(
	capacity int,
	replacer Replacer,
	stores StoreProvider,
	locker Locker,
) *Manager {
	assert.Assert(capacity > 0, "pool size must be greater than zero")

	return &Manager{
		capacity: capacity,
		pages:    make(map[common.PageIdentity]*page.HeapPage, capacity),
		replacer: replacer,
		stores:   stores,
		locker:   locker,
		logger:   zap.NewNop().Sugar(),
		metrics:  newMetrics(),
	}
}

func (m *Manager) SetLogger(logger src.Logger) {
	m.logger = logger
}

func (m *Manager) Capacity() int {
	return m.capacity
}

// Size is the number of cached pages.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pages)
}

// GetPage locks pid on behalf of txnID and returns it, loading it from its
// heap file on a miss. Both permissions take the exclusive lock. If the lock
// can't be granted the whole transaction is rolled back and the error wraps
// txns.ErrTransactionAborted. If the page can't be loaded, a lock taken by
// this call is released again.
func (m *Manager) GetPage(
	ctx context.Context,
	txnID common.TxnID,
	pid common.PageIdentity,
	perm common.Permission,
) (*page.HeapPage, error) {
	heldBefore := m.locker.IsHeldBy(txnID, pid)
	if err := m.locker.Lock(ctx, txnID, pid); err != nil {
		m.logger.Warnw(
			"failed to lock page, aborting transaction",
			"txn", txnID,
			"page", pid,
			"perm", perm,
			"error", err,
		)

		if !errors.Is(err, txns.ErrTransactionAborted) {
			err = fmt.Errorf("%w: %w", txns.ErrTransactionAborted, err)
		}
		return nil, errors.Join(err, m.TransactionComplete(txnID, false))
	}

	m.mu.Lock()
	pg, err := m.getPageAssumeLocked(pid)
	m.mu.Unlock()

	if err != nil && !heldBefore {
		m.locker.Unlock(pid)
	}
	return pg, err
}

func (m *Manager) getPageAssumeLocked(pid common.PageIdentity) (*page.HeapPage, error) {
	if pg, ok := m.pages[pid]; ok {
		m.metrics.hits.Inc()
		return pg, nil
	}
	m.metrics.misses.Inc()

	if err := m.reserveSlotAssumeLocked(); err != nil {
		return nil, err
	}

	store, err := m.stores.Store(pid.TableID)
	if err != nil {
		return nil, err
	}

	pg, err := store.ReadPage(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", pid, err)
	}

	m.pages[pid] = pg
	m.replacer.Add(pid)
	return pg, nil
}

// reserveSlotAssumeLocked evicts a page if the cache is full.
func (m *Manager) reserveSlotAssumeLocked() error {
	if len(m.pages) < m.capacity {
		return nil
	}
	return m.evictPageAssumeLocked()
}

// WithMarkDirty applies fn to pg and marks the page dirty for txnID. A page
// that was evicted while clean is put back into the cache.
func (m *Manager) WithMarkDirty(
	txnID common.TxnID,
	pg *page.HeapPage,
	fn func(*page.HeapPage) error,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pid := pg.ID()
	cached, ok := m.pages[pid]
	if !ok {
		if err := m.reserveSlotAssumeLocked(); err != nil {
			return err
		}
	}

	if err := fn(pg); err != nil {
		return err
	}
	pg.MarkDirty(true, txnID)

	if !ok {
		m.replacer.Add(pid)
	} else if cached != pg {
		m.logger.Debugw("replacing reloaded copy of a page", "page", pid, "txn", txnID)
	}
	m.pages[pid] = pg
	return nil
}

// ReleasePage drops the lock on pid whoever holds it. Unsafe: the former
// holder may still be using the page.
func (m *Manager) ReleasePage(_ common.TxnID, pid common.PageIdentity) {
	m.locker.Unlock(pid)
}

func (m *Manager) HoldsLock(txnID common.TxnID, pid common.PageIdentity) bool {
	return m.locker.IsHeldBy(txnID, pid)
}

// TransactionComplete flushes the pages dirtied by txnID on commit or
// restores their before-images on abort. Every lock of txnID is released in
// both cases. When a commit flush fails, the pages that did not reach disk
// are restored as on abort before the error is returned.
func (m *Manager) TransactionComplete(txnID common.TxnID, commit bool) error {
	defer m.locker.UnlockAll(txnID)

	if commit {
		err := m.FlushPages(txnID)
		if err == nil {
			m.logger.Debugw("transaction committed", "txn", txnID)
			return nil
		}

		m.mu.Lock()
		defer m.mu.Unlock()

		restored := m.restorePagesAssumeLocked(txnID)
		m.logger.Errorw(
			"failed to flush pages on commit",
			"txn", txnID,
			"restoredPages", restored,
			"error", err,
		)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	restored := m.restorePagesAssumeLocked(txnID)
	m.logger.Debugw("transaction aborted", "txn", txnID, "restoredPages", restored)
	return nil
}

// restorePagesAssumeLocked rolls every page still dirtied by txnID back to
// its before-image.
func (m *Manager) restorePagesAssumeLocked(txnID common.TxnID) int {
	restored := 0
	for _, pg := range m.pages {
		if dirtier, dirty := pg.Dirtier(); dirty && dirtier == txnID {
			pg.RestoreBeforeImage()
			restored++
		}
	}
	m.metrics.aborts.Add(float64(restored))
	return restored
}

// dirtyPagesAssumeLocked groups the pages dirtied by txnID per table.
func (m *Manager) dirtyPagesAssumeLocked(txnID common.TxnID) map[common.TableID][]*page.HeapPage {
	res := map[common.TableID][]*page.HeapPage{}
	for pid, pg := range m.pages {
		if dirtier, dirty := pg.Dirtier(); dirty && dirtier == txnID {
			res[pid.TableID] = append(res[pid.TableID], pg)
		}
	}
	return res
}

// FlushPages writes every page dirtied by txnID. Tables are flushed in
// parallel.
func (m *Manager) FlushPages(txnID common.TxnID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := errgroup.Group{}
	for tableID, pages := range m.dirtyPagesAssumeLocked(txnID) {
		g.Go(func() error {
			store, err := m.stores.Store(tableID)
			if err != nil {
				return err
			}

			slices.SortFunc(pages, func(a, b *page.HeapPage) int {
				return cmp.Compare(a.ID().PageID, b.ID().PageID)
			})
			for _, pg := range pages {
				if err := m.writePage(store, pg); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *Manager) writePage(store Store, pg *page.HeapPage) error {
	if !pg.IsDirty() {
		return nil
	}

	if err := store.WritePage(pg); err != nil {
		return fmt.Errorf("failed to flush %s: %w", pg.ID(), err)
	}

	pg.MarkDirty(false, common.NilTxnID)
	pg.SetBeforeImage()
	m.metrics.flushes.Inc()
	return nil
}

func (m *Manager) flushPageAssumeLocked(pid common.PageIdentity) error {
	pg, ok := m.pages[pid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPageNotFound, pid)
	}

	if !pg.IsDirty() {
		return nil
	}

	store, err := m.stores.Store(pid.TableID)
	if err != nil {
		return err
	}
	return m.writePage(store, pg)
}

// FlushAllPages writes every dirty page, including uncommitted ones.
// Breaks the no-steal guarantee; meant for shutdown and tests.
func (m *Manager) FlushAllPages() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	for pid := range maps.Keys(m.pages) {
		err = errors.Join(err, m.flushPageAssumeLocked(pid))
	}
	return err
}

// DiscardPage drops pid from the cache without writing it.
func (m *Manager) DiscardPage(pid common.PageIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.pages, pid)
	m.replacer.Remove(pid)
}

// evictPageAssumeLocked drops the oldest clean page. The cache is left
// untouched when every page is dirty.
func (m *Manager) evictPageAssumeLocked() error {
	victim, err := m.replacer.ChooseVictim(func(pid common.PageIdentity) bool {
		pg, ok := m.pages[pid]
		return ok && !pg.IsDirty()
	})
	if err != nil {
		if errors.Is(err, ErrNoVictimAvailable) {
			return fmt.Errorf("%w: %d pages cached", ErrBufferPoolExhausted, len(m.pages))
		}
		return err
	}

	pg, ok := m.pages[victim]
	assert.Assert(ok, "victim page %s not found", victim)
	assert.Assert(!pg.IsDirty(), "victim page %s is dirty", victim)

	delete(m.pages, victim)
	m.metrics.evictions.Inc()
	m.logger.Debugw("evicted page", "page", victim)
	return nil
}

// InsertTuple adds t to the table on behalf of txnID. The returned pages
// are dirty and cached.
func (m *Manager) InsertTuple(
	ctx context.Context,
	txnID common.TxnID,
	tableID common.TableID,
	t *tuple.Tuple,
) ([]*page.HeapPage, error) {
	store, err := m.stores.Store(tableID)
	if err != nil {
		return nil, err
	}
	return store.InsertTuple(ctx, m, txnID, t)
}

// DeleteTuple removes t from the table its record id points to.
func (m *Manager) DeleteTuple(
	ctx context.Context,
	txnID common.TxnID,
	t *tuple.Tuple,
) (*page.HeapPage, error) {
	if t.RecordID == nil {
		return nil, page.ErrNoRecordID
	}

	store, err := m.stores.Store(t.RecordID.TableID)
	if err != nil {
		return nil, err
	}
	return store.DeleteTuple(ctx, m, txnID, t)
}
