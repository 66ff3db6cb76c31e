package txns

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
)

// TransactionCompleter finishes a transaction and releases its locks.
type TransactionCompleter interface {
	TransactionComplete(txnID common.TxnID, commit bool) error
}

type TxnManager struct {
	lastTxnID atomic.Uint64
	completer TransactionCompleter
}

func NewTxnManager(completer TransactionCompleter) *TxnManager {
	return &TxnManager{completer: completer}
}

// Begin starts a transaction. Identifiers grow monotonically, so a smaller
// id always belongs to an older transaction.
func (m *TxnManager) Begin() *Txn {
	return &Txn{
		id:        common.TxnID(m.lastTxnID.Add(1)),
		completer: m.completer,
	}
}

// Txn is a token for lock ownership and dirty-page attribution.
type Txn struct {
	id        common.TxnID
	completer TransactionCompleter

	once     sync.Once
	finished atomic.Bool
}

func (t *Txn) ID() common.TxnID {
	return t.id
}

func (t *Txn) IsFinished() bool {
	return t.finished.Load()
}

func (t *Txn) Commit() error {
	return t.complete(true)
}

func (t *Txn) Abort() error {
	return t.complete(false)
}

func (t *Txn) complete(commit bool) error {
	err := fmt.Errorf("%w: txn %d", ErrTxnFinished, t.id)
	t.once.Do(func() {
		err = t.completer.TransactionComplete(t.id, commit)
		t.finished.Store(true)
	})
	return err
}
