package catalog

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/Blackdeer1524/HeapDB/src"
	"github.com/Blackdeer1524/HeapDB/src/bufferpool"
	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
	"github.com/Blackdeer1524/HeapDB/src/storage/heap"
	"github.com/Blackdeer1524/HeapDB/src/storage/tuple"
)

const tableFileExt = ".dat"

var (
	ErrNoSuchTable      = errors.New("no such table")
	ErrMalformedCatalog = errors.New("malformed catalog")
)

type table struct {
	name string
	file *heap.File
	pkey string
}

// Manager maps table names to ids and to the heap files backing them.
type Manager struct {
	fs     afero.Fs
	logger src.Logger

	mx     sync.RWMutex
	tables map[common.TableID]*table
	ids    map[string]common.TableID
}

var _ bufferpool.StoreProvider = &Manager{}

func NewManager(fs afero.Fs, logger src.Logger) *Manager {
	return &Manager{
		fs:     fs,
		logger: logger,
		tables: map[common.TableID]*table{},
		ids:    map[string]common.TableID{},
	}
}

// TableIDFor derives a stable table id from the absolute path of its file.
func TableIDFor(path string) (common.TableID, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return common.TableID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(abs)).ID()), nil
}

// TablePath is where the heap file of the named table lives inside dir.
func TablePath(dir, name string) string {
	return filepath.Join(dir, name+tableFileExt)
}

// AddTable registers file under name. A table that already uses the same
// name or id is replaced.
func (m *Manager) AddTable(file *heap.File, name string, pkey string) error {
	if name == "" {
		return errors.New("table name cannot be empty")
	}

	if pkey != "" {
		if _, err := file.Schema().IndexOf(pkey); err != nil {
			return fmt.Errorf("invalid primary key of table %s: %w", name, err)
		}
	}

	m.mx.Lock()
	defer m.mx.Unlock()

	if oldID, ok := m.ids[name]; ok {
		delete(m.tables, oldID)
	}
	if old, ok := m.tables[file.ID()]; ok {
		delete(m.ids, old.name)
	}

	m.tables[file.ID()] = &table{name: name, file: file, pkey: pkey}
	m.ids[name] = file.ID()

	m.logger.Debugw("table added", "name", name, "id", file.ID(), "path", file.Path())
	return nil
}

// CreateTable opens (creating if needed) the heap file of a table inside
// dir and registers it.
func (m *Manager) CreateTable(
	dir string,
	name string,
	schema *tuple.Schema,
	pkey string,
) (*heap.File, error) {
	path := TablePath(dir, name)
	id, err := TableIDFor(path)
	if err != nil {
		return nil, err
	}

	if err := m.fs.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}

	file, err := heap.Open(m.fs, path, id, schema, m.logger)
	if err != nil {
		return nil, err
	}

	if err := m.AddTable(file, name, pkey); err != nil {
		return nil, err
	}
	return file, nil
}

func (m *Manager) getTable(id common.TableID) (*table, error) {
	m.mx.RLock()
	defer m.mx.RUnlock()

	t, ok := m.tables[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNoSuchTable, id)
	}
	return t, nil
}

func (m *Manager) TableID(name string) (common.TableID, error) {
	m.mx.RLock()
	defer m.mx.RUnlock()

	id, ok := m.ids[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNoSuchTable, name)
	}
	return id, nil
}

func (m *Manager) TableName(id common.TableID) (string, error) {
	t, err := m.getTable(id)
	if err != nil {
		return "", err
	}
	return t.name, nil
}

func (m *Manager) Schema(id common.TableID) (*tuple.Schema, error) {
	t, err := m.getTable(id)
	if err != nil {
		return nil, err
	}
	return t.file.Schema(), nil
}

// PrimaryKey returns the primary key field name, empty if the table has none.
func (m *Manager) PrimaryKey(id common.TableID) (string, error) {
	t, err := m.getTable(id)
	if err != nil {
		return "", err
	}
	return t.pkey, nil
}

func (m *Manager) File(id common.TableID) (*heap.File, error) {
	t, err := m.getTable(id)
	if err != nil {
		return nil, err
	}
	return t.file, nil
}

func (m *Manager) Store(id common.TableID) (bufferpool.Store, error) {
	file, err := m.File(id)
	if err != nil {
		return nil, err
	}
	return file, nil
}

// TableIDs returns the ids of all tables ordered by table name.
func (m *Manager) TableIDs() []common.TableID {
	m.mx.RLock()
	defer m.mx.RUnlock()

	names := slices.Sorted(maps.Keys(m.ids))
	res := make([]common.TableID, 0, len(names))
	for _, name := range names {
		res = append(res, m.ids[name])
	}
	return res
}

// Clear forgets every table. Heap files are left on disk.
func (m *Manager) Clear() {
	m.mx.Lock()
	defer m.mx.Unlock()

	m.tables = map[common.TableID]*table{}
	m.ids = map[string]common.TableID{}
}
