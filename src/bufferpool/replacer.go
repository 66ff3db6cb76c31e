package bufferpool

import (
	"container/list"
	"errors"

	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
)

var ErrNoVictimAvailable = errors.New("no victim available")

type Replacer interface {
	// Add registers a freshly loaded page.
	Add(pageID common.PageIdentity)
	Remove(pageID common.PageIdentity)
	// ChooseVictim returns the first page accepted by canEvict and forgets
	// it. Returns ErrNoVictimAvailable if no page is accepted.
	ChooseVictim(canEvict func(common.PageIdentity) bool) (common.PageIdentity, error)
	GetSize() uint64
}

// FIFOReplacer offers pages for eviction in the order they were loaded.
type FIFOReplacer struct {
	order    *list.List
	elements map[common.PageIdentity]*list.Element
}

var _ Replacer = &FIFOReplacer{}

func NewFIFOReplacer() *FIFOReplacer {
	return &FIFOReplacer{
		order:    list.New(),
		elements: map[common.PageIdentity]*list.Element{},
	}
}

func (r *FIFOReplacer) Add(pageID common.PageIdentity) {
	if _, ok := r.elements[pageID]; ok {
		return
	}
	r.elements[pageID] = r.order.PushBack(pageID)
}

func (r *FIFOReplacer) Remove(pageID common.PageIdentity) {
	e, ok := r.elements[pageID]
	if !ok {
		return
	}
	r.order.Remove(e)
	delete(r.elements, pageID)
}

func (r *FIFOReplacer) ChooseVictim(
	canEvict func(common.PageIdentity) bool,
) (common.PageIdentity, error) {
	for e := r.order.Front(); e != nil; e = e.Next() {
		pageID := e.Value.(common.PageIdentity)
		if !canEvict(pageID) {
			continue
		}

		r.order.Remove(e)
		delete(r.elements, pageID)
		return pageID, nil
	}
	return common.PageIdentity{}, ErrNoVictimAvailable
}

func (r *FIFOReplacer) GetSize() uint64 {
	return uint64(r.order.Len())
}
