package txns

import (
	"errors"
	"fmt"
)

var (
	// ErrTransactionAborted means the whole transaction has to be rolled back
	// by its owner.
	ErrTransactionAborted = errors.New("transaction aborted")

	ErrDeadlock    = fmt.Errorf("%w: deadlock detected", ErrTransactionAborted)
	ErrLockTimeout = fmt.Errorf("%w: lock wait timed out", ErrTransactionAborted)
	ErrTxnFinished = errors.New("transaction already finished")
)
