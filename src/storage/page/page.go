package page

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/Blackdeer1524/HeapDB/src/pkg/assert"
	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
	"github.com/Blackdeer1524/HeapDB/src/storage/tuple"
)

var (
	ErrPageFull       = errors.New("page has no empty slots")
	ErrSlotEmpty      = errors.New("slot is empty")
	ErrSlotOutOfRange = errors.New("slot index out of range")
	ErrNoRecordID     = errors.New("tuple has no record id")
	ErrWrongPage      = errors.New("tuple belongs to another page")
	ErrTupleTooLarge  = errors.New("tuple does not fit into a page")
	ErrInvalidSize    = errors.New("page data has invalid size")
)

// NumSlotsFor returns how many records of the schema fit into one page,
// counting one header bit per slot.
func NumSlotsFor(schema *tuple.Schema) int {
	return (common.PageSize * 8) / (schema.Size()*8 + 1)
}

func headerSizeFor(numSlots int) int {
	return (numSlots + 7) / 8
}

// HeapPage is a decoded view over a PageSize buffer laid out as
// [occupancy bitmap][slot 0]...[slot n-1].
type HeapPage struct {
	latch sync.RWMutex

	pid        common.PageIdentity
	schema     *tuple.Schema
	numSlots   int
	headerSize int
	data       []byte

	// snapshot of data taken when the page last became clean
	beforeImage []byte
	dirty       bool
	dirtier     common.TxnID
}

// New decodes data as a heap page. The bytes are copied and also become
// the page's before-image.
func New(pid common.PageIdentity, data []byte, schema *tuple.Schema) (*HeapPage, error) {
	if len(data) != common.PageSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, len(data))
	}

	numSlots := NumSlotsFor(schema)
	if numSlots == 0 {
		return nil, fmt.Errorf("%w: record size %d", ErrTupleTooLarge, schema.Size())
	}

	p := &HeapPage{
		pid:        pid,
		schema:     schema,
		numSlots:   numSlots,
		headerSize: headerSizeFor(numSlots),
		data:       bytes.Clone(data),
	}
	p.beforeImage = bytes.Clone(p.data)
	return p, nil
}

// NewEmpty returns a page with every slot free.
func NewEmpty(pid common.PageIdentity, schema *tuple.Schema) (*HeapPage, error) {
	return New(pid, make([]byte, common.PageSize), schema)
}

func (p *HeapPage) ID() common.PageIdentity {
	return p.pid
}

func (p *HeapPage) Schema() *tuple.Schema {
	return p.schema
}

func (p *HeapPage) NumSlots() int {
	return p.numSlots
}

func (p *HeapPage) header() []byte {
	return p.data[:p.headerSize]
}

func (p *HeapPage) slot(i int) []byte {
	size := p.schema.Size()
	start := p.headerSize + i*size
	return p.data[start : start+size]
}

func (p *HeapPage) NumEmptySlots() int {
	p.latch.RLock()
	defer p.latch.RUnlock()

	empty := 0
	for i := range p.numSlots {
		if !bitSet(p.header(), i) {
			empty++
		}
	}
	return empty
}

func (p *HeapPage) IsSlotUsed(i int) bool {
	if i < 0 || i >= p.numSlots {
		return false
	}

	p.latch.RLock()
	defer p.latch.RUnlock()
	return bitSet(p.header(), i)
}

// GetData returns a copy of the page bytes.
func (p *HeapPage) GetData() []byte {
	p.latch.RLock()
	defer p.latch.RUnlock()
	return bytes.Clone(p.data)
}

// MarkDirty records whether the page differs from its on-disk copy and
// which transaction made it so.
func (p *HeapPage) MarkDirty(dirty bool, txnID common.TxnID) {
	p.latch.Lock()
	defer p.latch.Unlock()

	p.dirty = dirty
	if dirty {
		p.dirtier = txnID
		return
	}
	p.dirtier = common.NilTxnID
}

func (p *HeapPage) IsDirty() bool {
	p.latch.RLock()
	defer p.latch.RUnlock()
	return p.dirty
}

// Dirtier returns the transaction that dirtied the page. ok is false for a
// clean page.
func (p *HeapPage) Dirtier() (common.TxnID, bool) {
	p.latch.RLock()
	defer p.latch.RUnlock()
	return p.dirtier, p.dirty
}

// SetBeforeImage snapshots the current bytes as the clean state.
func (p *HeapPage) SetBeforeImage() {
	p.latch.Lock()
	defer p.latch.Unlock()
	p.beforeImage = bytes.Clone(p.data)
}

// BeforeImage returns a copy of the last clean bytes.
func (p *HeapPage) BeforeImage() []byte {
	p.latch.RLock()
	defer p.latch.RUnlock()
	return bytes.Clone(p.beforeImage)
}

// RestoreBeforeImage discards every change made since the page last became
// clean. The page is clean afterwards.
func (p *HeapPage) RestoreBeforeImage() {
	p.latch.Lock()
	defer p.latch.Unlock()

	copy(p.data, p.beforeImage)
	p.dirty = false
	p.dirtier = common.NilTxnID
}

// InsertTuple stores t in the lowest free slot and sets its record id.
func (p *HeapPage) InsertTuple(t *tuple.Tuple) error {
	if !p.schema.Equal(t.Schema()) {
		return fmt.Errorf("%w: page %s expects (%s)", tuple.ErrSchemaMismatch, p.pid, p.schema)
	}

	record, err := t.Encode()
	if err != nil {
		return err
	}

	p.latch.Lock()
	defer p.latch.Unlock()

	for i := range p.numSlots {
		if bitSet(p.header(), i) {
			continue
		}

		n := copy(p.slot(i), record)
		assert.Assert(n == p.schema.Size(), "short record copy: %d", n)
		setBit(p.header(), i, true)

		t.RecordID = &common.RecordID{
			TableID: p.pid.TableID,
			PageID:  p.pid.PageID,
			SlotNum: common.SlotNum(i),
		}
		return nil
	}

	return fmt.Errorf("%w: %s", ErrPageFull, p.pid)
}

// DeleteTuple frees the slot t is stored in and clears its record id.
func (p *HeapPage) DeleteTuple(t *tuple.Tuple) error {
	if t.RecordID == nil {
		return ErrNoRecordID
	}

	rid := *t.RecordID
	if rid.PageIdentity() != p.pid {
		return fmt.Errorf("%w: %s is not on %s", ErrWrongPage, rid, p.pid)
	}

	slot := int(rid.SlotNum)
	if slot >= p.numSlots {
		return fmt.Errorf("%w: %d", ErrSlotOutOfRange, slot)
	}

	p.latch.Lock()
	defer p.latch.Unlock()

	if !bitSet(p.header(), slot) {
		return fmt.Errorf("%w: %s", ErrSlotEmpty, rid)
	}

	setBit(p.header(), slot, false)
	clear(p.slot(slot))
	t.RecordID = nil
	return nil
}

// TupleAt decodes the tuple stored in slot i.
func (p *HeapPage) TupleAt(i int) (*tuple.Tuple, error) {
	if i < 0 || i >= p.numSlots {
		return nil, fmt.Errorf("%w: %d", ErrSlotOutOfRange, i)
	}

	p.latch.RLock()
	defer p.latch.RUnlock()

	if !bitSet(p.header(), i) {
		return nil, fmt.Errorf("%w: slot %d of %s", ErrSlotEmpty, i, p.pid)
	}
	return p.decodeSlot(i)
}

func (p *HeapPage) decodeSlot(i int) (*tuple.Tuple, error) {
	t, err := tuple.Decode(p.schema, p.slot(i))
	if err != nil {
		return nil, fmt.Errorf("failed to decode slot %d of %s: %w", i, p.pid, err)
	}
	t.RecordID = &common.RecordID{
		TableID: p.pid.TableID,
		PageID:  p.pid.PageID,
		SlotNum: common.SlotNum(i),
	}
	return t, nil
}

// Tuples decodes every occupied slot in slot order.
func (p *HeapPage) Tuples() ([]*tuple.Tuple, error) {
	p.latch.RLock()
	defer p.latch.RUnlock()

	res := []*tuple.Tuple{}
	for i := range p.numSlots {
		if !bitSet(p.header(), i) {
			continue
		}
		t, err := p.decodeSlot(i)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

func (p *HeapPage) String() string {
	return fmt.Sprintf(
		"HeapPage{%s, slots: %d, empty: %d, dirty: %t}",
		p.pid,
		p.numSlots,
		p.NumEmptySlots(),
		p.IsDirty(),
	)
}
