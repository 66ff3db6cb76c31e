package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Blackdeer1524/HeapDB/src/app"
	"github.com/Blackdeer1524/HeapDB/src/pkg/common"
	"github.com/Blackdeer1524/HeapDB/src/storage/page"
	"github.com/Blackdeer1524/HeapDB/src/storage/tuple"
)

type runFunc func(cmd *cobra.Command, e *app.Entrypoint, args []string) error

// withStorage initializes the storage core around fn and closes it
// afterwards.
func withStorage(fn runFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e := &app.Entrypoint{}
		if err := e.Init(cmd.Context()); err != nil {
			return err
		}
		defer func() {
			// stderr may not support fsync
			_ = e.Close()
		}()

		return fn(cmd, e, args)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "heapdb",
		Short:        "Inspect and modify heap files through the buffer pool",
		SilenceUsage: true,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "tables",
			Short: "List tables from the catalog",
			Args:  cobra.NoArgs,
			RunE:  withStorage(runTables),
		},
		&cobra.Command{
			Use:   "scan <table>",
			Short: "Print every tuple of a table",
			Args:  cobra.ExactArgs(1),
			RunE:  withStorage(runScan),
		},
		&cobra.Command{
			Use:   "insert <table> <values...>",
			Short: "Insert one tuple and commit",
			Args:  cobra.MinimumNArgs(2),
			RunE:  withStorage(runInsert),
		},
		&cobra.Command{
			Use:   "delete <table> <page> <slot>",
			Short: "Delete the tuple stored in a slot and commit",
			Args:  cobra.ExactArgs(3),
			RunE:  withStorage(runDelete),
		},
		&cobra.Command{
			Use:   "pages <table>",
			Short: "Show page occupancy of a table",
			Args:  cobra.ExactArgs(1),
			RunE:  withStorage(runPages),
		},
	)
	return root
}

func runTables(cmd *cobra.Command, e *app.Entrypoint, _ []string) error {
	for _, id := range e.Catalog.TableIDs() {
		name, err := e.Catalog.TableName(id)
		if err != nil {
			return err
		}
		file, err := e.Catalog.File(id)
		if err != nil {
			return err
		}
		pkey, err := e.Catalog.PrimaryKey(id)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(),
			"%s\tid=%d\tpages=%d\tpk=%q\t(%s)\n",
			name,
			id,
			file.NumPages(),
			pkey,
			file.Schema(),
		)
	}
	return nil
}

func runScan(cmd *cobra.Command, e *app.Entrypoint, args []string) error {
	id, err := e.Catalog.TableID(args[0])
	if err != nil {
		return err
	}
	file, err := e.Catalog.File(id)
	if err != nil {
		return err
	}

	txn := e.TxnManager.Begin()
	for t, err := range file.Iterator(cmd.Context(), e.Pool, txn.ID()) {
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d:%d\t%s\n", t.RecordID.PageID, t.RecordID.SlotNum, t)
	}
	return txn.Commit()
}

func runInsert(cmd *cobra.Command, e *app.Entrypoint, args []string) error {
	id, err := e.Catalog.TableID(args[0])
	if err != nil {
		return err
	}
	schema, err := e.Catalog.Schema(id)
	if err != nil {
		return err
	}

	t, err := tuple.Parse(schema, args[1:])
	if err != nil {
		return err
	}

	txn := e.TxnManager.Begin()
	if _, err := e.Pool.InsertTuple(cmd.Context(), txn.ID(), id, t); err != nil {
		return abort(txn.Abort, err)
	}
	if err := txn.Commit(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "inserted %s\n", t.RecordID)
	return nil
}

func runDelete(cmd *cobra.Command, e *app.Entrypoint, args []string) error {
	id, err := e.Catalog.TableID(args[0])
	if err != nil {
		return err
	}

	pageNum, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid page number %q: %w", args[1], err)
	}
	slot, err := strconv.ParseUint(args[2], 10, 16)
	if err != nil {
		return fmt.Errorf("invalid slot %q: %w", args[2], err)
	}

	pid := common.PageIdentity{TableID: id, PageID: common.PageID(pageNum)}

	txn := e.TxnManager.Begin()
	pg, err := e.Pool.GetPage(cmd.Context(), txn.ID(), pid, common.PermReadWrite)
	if err != nil {
		return abort(txn.Abort, err)
	}

	t, err := pg.TupleAt(int(slot))
	if err != nil {
		return abort(txn.Abort, err)
	}
	if _, err := e.Pool.DeleteTuple(cmd.Context(), txn.ID(), t); err != nil {
		return abort(txn.Abort, err)
	}
	if err := txn.Commit(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d:%d\n", pageNum, slot)
	return nil
}

func runPages(cmd *cobra.Command, e *app.Entrypoint, args []string) error {
	id, err := e.Catalog.TableID(args[0])
	if err != nil {
		return err
	}
	file, err := e.Catalog.File(id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "pages=%d slotsPerPage=%d\n", file.NumPages(), page.NumSlotsFor(file.Schema()))
	for i := range file.NumPages() {
		pg, err := file.ReadPage(common.PageIdentity{TableID: id, PageID: common.PageID(i)})
		if err != nil {
			return err
		}
		free := pg.NumEmptySlots()
		fmt.Fprintf(out, "%d\tused=%d\tfree=%d\n", i, pg.NumSlots()-free, free)
	}
	return nil
}

func abort(abortFn func() error, err error) error {
	if abortErr := abortFn(); abortErr != nil {
		return fmt.Errorf("%w (abort failed: %w)", err, abortErr)
	}
	return err
}
