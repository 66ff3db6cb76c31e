package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/HeapDB/src"
	"github.com/Blackdeer1524/HeapDB/src/bufferpool"
	"github.com/Blackdeer1524/HeapDB/src/pkg/utils"
	"github.com/Blackdeer1524/HeapDB/src/storage/catalog"
	"github.com/Blackdeer1524/HeapDB/src/txns"
)

// Entrypoint wires the storage core: catalog, lock manager, buffer pool
// and transaction manager.
type Entrypoint struct {
	Env envVars
	Fs  afero.Fs

	Catalog    *catalog.Manager
	Locker     *txns.LockManager
	Pool       *bufferpool.Manager
	TxnManager *txns.TxnManager
	Registry   *prometheus.Registry

	log src.Logger
}

func (e *Entrypoint) Init(_ context.Context) error {
	e.Env = mustLoadEnv()
	return e.init()
}

func (e *Entrypoint) init() error {
	if e.Env.BufferPoolPages <= 0 {
		return fmt.Errorf("buffer pool must hold at least one page, got %d", e.Env.BufferPoolPages)
	}

	if e.log == nil {
		if e.Env.Environment == EnvDev {
			e.log = utils.Must(zap.NewDevelopment()).Sugar()
		} else {
			e.log = utils.Must(zap.NewProduction()).Sugar()
		}
	}

	if e.Fs == nil {
		e.Fs = afero.NewOsFs()
	}

	e.Catalog = catalog.NewManager(e.Fs, e.log)
	if err := e.Catalog.LoadSchema(e.Env.CatalogPath, e.Env.DataDir); err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	e.Locker = txns.NewLockManager(e.Env.LockTimeout)
	e.Pool = bufferpool.New(
		e.Env.BufferPoolPages,
		bufferpool.NewFIFOReplacer(),
		e.Catalog,
		e.Locker,
	)
	e.Pool.SetLogger(e.log)

	e.Registry = prometheus.NewRegistry()
	if err := e.Pool.RegisterMetrics(e.Registry); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	e.TxnManager = txns.NewTxnManager(e.Pool)

	e.log.Infow(
		"storage initialized",
		"dataDir", e.Env.DataDir,
		"tables", len(e.Catalog.TableIDs()),
		"bufferPoolPages", e.Env.BufferPoolPages,
		"lockTimeout", e.Env.LockTimeout,
	)
	return nil
}

func (e *Entrypoint) Logger() src.Logger {
	return e.log
}

func (e *Entrypoint) Close() error {
	if e.log == nil {
		return nil
	}

	if e.Locker != nil && !e.Locker.AreAllQueuesEmpty() {
		e.log.Warnw("closing with unfinished transactions", "txns", len(e.Locker.GetActiveTransactions()))
	}

	return e.log.Sync()
}
