package heap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/Blackdeer1524/HeapDB/src"
	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
	"github.com/Blackdeer1524/HeapDB/src/storage/page"
	"github.com/Blackdeer1524/HeapDB/src/storage/tuple"
)

var (
	ErrInvalidPage   = errors.New("invalid page")
	ErrWrongTable    = errors.New("page belongs to another table")
	ErrUnalignedFile = errors.New("file length is not a multiple of the page size")
)

// PagePool is the page cache every tuple operation goes through.
type PagePool interface {
	GetPage(
		ctx context.Context,
		txnID common.TxnID,
		pid common.PageIdentity,
		perm common.Permission,
	) (*page.HeapPage, error)
	// WithMarkDirty applies fn to a page and marks it dirty on behalf of
	// txnID if fn succeeds.
	WithMarkDirty(
		txnID common.TxnID,
		pg *page.HeapPage,
		fn func(*page.HeapPage) error,
	) error
}

// File stores the pages of a single table back to back: page n lives at
// offset n*PageSize.
type File struct {
	fs     afero.Fs
	path   string
	id     common.TableID
	schema *tuple.Schema
	logger src.Logger

	// guards numPages and appends to the file
	mu       sync.Mutex
	numPages int
}

// Open opens the heap file at path, creating an empty one if it does not
// exist.
func Open(
	fs afero.Fs,
	path string,
	id common.TableID,
	schema *tuple.Schema,
	logger src.Logger,
) (*File, error) {
	if page.NumSlotsFor(schema) == 0 {
		return nil, fmt.Errorf("%w: record size %d", page.ErrTupleTooLarge, schema.Size())
	}

	path = filepath.Clean(path)
	file, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open heap file %s: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat heap file %s: %w", path, err)
	}

	if info.Size()%common.PageSize != 0 {
		return nil, fmt.Errorf("%w: %s has %d bytes", ErrUnalignedFile, path, info.Size())
	}

	return &File{
		fs:       fs,
		path:     path,
		id:       id,
		schema:   schema,
		logger:   logger,
		numPages: int(info.Size() / common.PageSize),
	}, nil
}

func (f *File) ID() common.TableID {
	return f.id
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Schema() *tuple.Schema {
	return f.schema
}

func (f *File) NumPages() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.numPages
}

func (f *File) pageIdent(n int) common.PageIdentity {
	return common.PageIdentity{
		TableID: f.id,
		PageID:  common.PageID(n), //nolint:gosec
	}
}

func (f *File) checkPage(pid common.PageIdentity) error {
	if pid.TableID != f.id {
		return fmt.Errorf("%w: %s is not in table %d", ErrWrongTable, pid, f.id)
	}

	if n := f.NumPages(); int(pid.PageID) >= n {
		return fmt.Errorf("%w: %s, table has %d pages", ErrInvalidPage, pid, n)
	}
	return nil
}

// ReadPageData returns the raw bytes of a page.
func (f *File) ReadPageData(pid common.PageIdentity) ([]byte, error) {
	if err := f.checkPage(pid); err != nil {
		return nil, err
	}

	file, err := f.fs.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open heap file %s: %w", f.path, err)
	}
	defer file.Close()

	data := make([]byte, common.PageSize)
	_, err = file.ReadAt(data, pid.Offset())
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read %s: %w", pid, err)
	}
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s is truncated", ErrInvalidPage, pid)
	}
	return data, nil
}

func (f *File) ReadPage(pid common.PageIdentity) (*page.HeapPage, error) {
	data, err := f.ReadPageData(pid)
	if err != nil {
		return nil, err
	}
	return page.New(pid, data, f.schema)
}

// WritePage persists a dirty page at its offset. Clean pages are skipped.
func (f *File) WritePage(pg *page.HeapPage) error {
	if !pg.IsDirty() {
		return nil
	}

	pid := pg.ID()
	if err := f.checkPage(pid); err != nil {
		return err
	}

	data := make([]byte, common.PageSize)
	copy(data, pg.GetData())

	file, err := f.fs.OpenFile(f.path, os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open heap file %s: %w", f.path, err)
	}
	defer file.Close()

	if _, err := file.WriteAt(data, pid.Offset()); err != nil {
		return fmt.Errorf("failed to write %s to %s: %w", pid, f.path, err)
	}
	return nil
}

// grow appends an empty page unless the file has already grown past seen
// pages since the caller last looked.
func (f *File) grow(seen int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.numPages != seen {
		return nil
	}

	file, err := f.fs.OpenFile(f.path, os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open heap file %s: %w", f.path, err)
	}
	defer file.Close()

	pid := f.pageIdent(f.numPages)
	if _, err := file.WriteAt(make([]byte, common.PageSize), pid.Offset()); err != nil {
		return fmt.Errorf("failed to append %s to %s: %w", pid, f.path, err)
	}

	f.numPages++
	f.logger.Debugw("heap file grew", "table", f.id, "pages", f.numPages)
	return nil
}

// InsertTuple puts t into the lowest free slot of the lowest page that has
// one, appending a page when the file is full. The affected page is left
// dirty in the pool on behalf of txnID.
func (f *File) InsertTuple(
	ctx context.Context,
	pool PagePool,
	txnID common.TxnID,
	t *tuple.Tuple,
) ([]*page.HeapPage, error) {
	if !f.schema.Equal(t.Schema()) {
		return nil, fmt.Errorf("%w: table %d expects (%s)", tuple.ErrSchemaMismatch, f.id, f.schema)
	}

	start := 0
	for {
		n := f.NumPages()
		for i := start; i < n; i++ {
			pg, err := pool.GetPage(ctx, txnID, f.pageIdent(i), common.PermReadWrite)
			if err != nil {
				return nil, err
			}

			if pg.NumEmptySlots() == 0 {
				continue
			}

			if err := pool.WithMarkDirty(txnID, pg, func(p *page.HeapPage) error {
				return p.InsertTuple(t)
			}); err != nil {
				return nil, err
			}
			return []*page.HeapPage{pg}, nil
		}

		if err := f.grow(n); err != nil {
			return nil, err
		}
		start = n
	}
}

// DeleteTuple frees the slot referenced by t's record id.
func (f *File) DeleteTuple(
	ctx context.Context,
	pool PagePool,
	txnID common.TxnID,
	t *tuple.Tuple,
) (*page.HeapPage, error) {
	if t.RecordID == nil {
		return nil, page.ErrNoRecordID
	}

	pid := t.RecordID.PageIdentity()
	if err := f.checkPage(pid); err != nil {
		return nil, err
	}

	pg, err := pool.GetPage(ctx, txnID, pid, common.PermReadWrite)
	if err != nil {
		return nil, err
	}

	if err := pool.WithMarkDirty(txnID, pg, func(p *page.HeapPage) error {
		return p.DeleteTuple(t)
	}); err != nil {
		return nil, err
	}
	return pg, nil
}

// Iterator yields every stored tuple in page then slot order. Pages are
// requested through the pool, so the scan takes part in locking. Each
// range over the result starts a fresh pass.
func (f *File) Iterator(
	ctx context.Context,
	pool PagePool,
	txnID common.TxnID,
) iter.Seq2[*tuple.Tuple, error] {
	return func(yield func(*tuple.Tuple, error) bool) {
		n := f.NumPages()
		for i := range n {
			pg, err := pool.GetPage(ctx, txnID, f.pageIdent(i), common.PermReadOnly)
			if err != nil {
				yield(nil, err)
				return
			}

			tuples, err := pg.Tuples()
			if err != nil {
				yield(nil, err)
				return
			}

			for _, t := range tuples {
				if !yield(t, nil) {
					return
				}
			}
		}
	}
}
