package bufferpool

import (
	"errors"
	"fmt"

	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
)

// EnsureConsistent checks the cache bookkeeping against the replacer and
// verifies that every dirty page is still locked by its dirtier.
func (m *Manager) EnsureConsistent() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if len(m.pages) > m.capacity {
		err = fmt.Errorf("cache holds %d pages, capacity is %d", len(m.pages), m.capacity)
	}

	if size := m.replacer.GetSize(); size != uint64(len(m.pages)) {
		err = errors.Join(err, fmt.Errorf(
			"replacer tracks %d pages, cache holds %d",
			size,
			len(m.pages),
		))
	}

	unlockedDirty := map[common.PageIdentity]common.TxnID{}
	for pid, pg := range m.pages {
		if pg.ID() != pid {
			err = errors.Join(err, fmt.Errorf("page %s is cached under %s", pg.ID(), pid))
		}

		dirtier, dirty := pg.Dirtier()
		if dirty && !m.locker.IsHeldBy(dirtier, pid) {
			unlockedDirty[pid] = dirtier
		}
	}

	if len(unlockedDirty) > 0 {
		err = errors.Join(err, fmt.Errorf(
			"found dirty pages not locked by their dirtier: %+v",
			unlockedDirty,
		))
	}
	return err
}
