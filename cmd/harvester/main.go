// Command harvester runs the Substrate-compatible block harvester (§6): a
// long-lived `run` process driving the staged pipeline, plus two
// maintenance subcommands for operating on the storage-task and
// storage-cron control tables without starting the pipeline.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/polkascan/harvester/internal/jobs"
	"github.com/polkascan/harvester/internal/logging"
	"github.com/polkascan/harvester/internal/metrics"
	"github.com/polkascan/harvester/internal/model"
	"github.com/polkascan/harvester/internal/store"
	"github.com/polkascan/harvester/internal/supervisor"
)

const metricsAddr = ":9616"

func main() {
	app := &cli.App{
		Name:  "harvester",
		Usage: "mirror a Substrate chain's blocks, runtime state, and decoded calls/events into Postgres",
		Commands: []*cli.Command{
			runCommand,
			storageTasksCommand,
			storageCronCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "harvester: %v\n", err)
		os.Exit(1)
	}
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "start the pipeline",
	Flags: []cli.Flag{
		verboseFlag, prometheusFlag, forceStartFlag, nodeTypeFlag, jobFlag,
		blockStartFlag, blockEndFlag, dbConnectionFlag, rpcURLFlag, typeRegistryFlag, ss58FormatFlag,
	},
	Action: runAction,
}

func runAction(cliCtx *cli.Context) error {
	logger := logging.Setup(cliCtx, cliCtx.Bool(verboseFlag.Name), "")

	dbConnection := cliCtx.String(dbConnectionFlag.Name)
	rpcURL := cliCtx.String(rpcURLFlag.Name)
	typeRegistry := cliCtx.String(typeRegistryFlag.Name)
	checkRequired(dbConnectionFlag.Name, dbConnection)
	checkRequired(rpcURLFlag.Name, rpcURL)
	checkRequired(typeRegistryFlag.Name, typeRegistry)
	checkRequiredInt(ss58FormatFlag.Name, cliCtx.Int(ss58FormatFlag.Name))

	ctx := context.Background()
	db, err := store.Open(ctx, dbConnection)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	nodeType := nodeTypeFromFlag(cliCtx.String(nodeTypeFlag.Name))
	action := supervisor.Action(cliCtx.String(jobFlag.Name))

	if cliCtx.Bool(prometheusFlag.Name) {
		metrics.Init()
		go metrics.ServeHTTP(metricsAddr, logger)
	}

	if err := applyBlockOverrides(ctx, db, cliCtx); err != nil {
		return fmt.Errorf("apply block overrides: %w", err)
	}

	sup := supervisor.New(db, rpcURL, nodeType, logger)
	sup.ForceStart = cliCtx.Bool(forceStartFlag.Name)

	interrupt := jobs.NewInterruptToken()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("harvester: interrupt received, finishing current stage before exit")
		interrupt.Set()
	}()

	return sup.Run(ctx, action, interrupt)
}

// applyBlockOverrides persists --block-start/--block-end as one-shot
// watermark overrides in harvester_status (§6), ahead of the supervisor's
// first iteration. RetrieveBlocks reads neither value: it resumes after the
// highest stored header, runs up to the node's finalized head, and rewrites
// CHAINTIP_BLOCKNUMBER on every run, so the overrides do not bound the range
// of blocks retrieved.
func applyBlockOverrides(ctx context.Context, db *store.Store, cliCtx *cli.Context) error {
	if !cliCtx.IsSet(blockStartFlag.Name) && !cliCtx.IsSet(blockEndFlag.Name) {
		return nil
	}
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if cliCtx.IsSet(blockStartFlag.Name) {
		v := cliCtx.Uint64(blockStartFlag.Name)
		if err := tx.SetStatus(ctx, model.StatusProcessBlocksMaxBlockNumber, strconv.FormatUint(v-1, 10)); err != nil {
			return err
		}
	}
	if cliCtx.IsSet(blockEndFlag.Name) {
		v := cliCtx.Uint64(blockEndFlag.Name)
		if err := tx.SetStatus(ctx, model.StatusChainTipBlockNumber, strconv.FormatUint(v, 10)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

var storageTasksCommand = &cli.Command{
	Name:  "storage-tasks",
	Usage: "manage harvester_storage_task rows",
	Flags: []cli.Flag{dbConnectionFlag},
	Subcommands: []*cli.Command{
		{
			Name:   "list",
			Action: withDB(storageTasksList),
		},
		{
			Name:  "add",
			Usage: "storage-tasks add --pallet P --storage-name N [--key 0x..|--key-prefix 0x..] [--block-start N --block-end N|--block-id N]",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "pallet", Required: true},
				&cli.StringFlag{Name: "storage-name", Required: true},
				&cli.StringFlag{Name: "key"},
				&cli.StringFlag{Name: "key-prefix"},
				&cli.Uint64Flag{Name: "block-start"},
				&cli.Uint64Flag{Name: "block-end"},
				&cli.Uint64SliceFlag{Name: "block-id"},
			},
			Action: withDB(storageTasksAdd),
		},
		{
			Name:   "rm",
			Usage:  "storage-tasks rm <id>",
			Action: withDB(storageTasksRemove),
		},
		{
			Name:   "clean",
			Usage:  "delete every completed task",
			Action: withDB(storageTasksClean),
		},
	},
}

var storageCronCommand = &cli.Command{
	Name:  "storage-cron",
	Usage: "manage harvester_storage_cron rows",
	Flags: []cli.Flag{dbConnectionFlag},
	Subcommands: []*cli.Command{
		{
			Name:   "list",
			Action: withDB(storageCronList),
		},
		{
			Name:  "add",
			Usage: "storage-cron add --pallet P --storage-name N --key 0x.. --interval N",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "pallet", Required: true},
				&cli.StringFlag{Name: "storage-name", Required: true},
				&cli.StringFlag{Name: "key", Required: true},
				&cli.Uint64Flag{Name: "interval", Required: true},
			},
			Action: withDB(storageCronAdd),
		},
		{
			Name:   "rm",
			Usage:  "storage-cron rm <id>",
			Action: withDB(storageCronRemove),
		},
	},
}

// withDB opens the database connection shared by every maintenance
// subcommand, runs fn inside a single transaction, and commits on success.
func withDB(fn func(cliCtx *cli.Context, tx *store.Tx) error) cli.ActionFunc {
	return func(cliCtx *cli.Context) error {
		dbConnection := cliCtx.String(dbConnectionFlag.Name)
		checkRequired(dbConnectionFlag.Name, dbConnection)

		ctx := context.Background()
		db, err := store.Open(ctx, dbConnection)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		tx, err := db.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if err := fn(cliCtx, tx); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}
}

func storageTasksList(cliCtx *cli.Context, tx *store.Tx) error {
	tasks, err := tx.ListStorageTasks(cliCtx.Context)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		fmt.Printf("%d\tpallet=%s storage=%s complete=%v blocks=%v\n", t.ID, t.Pallet, t.StorageName, t.Complete, t.Blocks.Resolve())
	}
	return nil
}

func storageTasksAdd(cliCtx *cli.Context, tx *store.Tx) error {
	task := model.HarvesterStorageTask{
		Pallet:      cliCtx.String("pallet"),
		StorageName: cliCtx.String("storage-name"),
	}
	if k := cliCtx.String("key"); k != "" {
		b, err := hexArg(k)
		if err != nil {
			return err
		}
		task.StorageKey = b
	}
	if p := cliCtx.String("key-prefix"); p != "" {
		b, err := hexArg(p)
		if err != nil {
			return err
		}
		task.StorageKeyPrefix = b
	}
	if ids := cliCtx.Uint64Slice("block-id"); len(ids) > 0 {
		task.Blocks.BlockIDs = ids
	} else if cliCtx.IsSet("block-start") && cliCtx.IsSet("block-end") {
		start, end := cliCtx.Uint64("block-start"), cliCtx.Uint64("block-end")
		task.Blocks.BlockStart, task.Blocks.BlockEnd = &start, &end
	} else {
		return fmt.Errorf("storage-tasks add: specify --block-id or both --block-start/--block-end")
	}

	id, err := tx.InsertStorageTask(cliCtx.Context, task)
	if err != nil {
		return err
	}
	fmt.Printf("created storage task %d\n", id)
	return nil
}

func storageTasksRemove(cliCtx *cli.Context, tx *store.Tx) error {
	id, err := idArg(cliCtx)
	if err != nil {
		return err
	}
	return tx.DeleteStorageTask(cliCtx.Context, id)
}

func storageTasksClean(cliCtx *cli.Context, tx *store.Tx) error {
	n, err := tx.DeleteCompleteStorageTasks(cliCtx.Context)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d completed storage tasks\n", n)
	return nil
}

func storageCronList(cliCtx *cli.Context, tx *store.Tx) error {
	crons, err := tx.ListStorageCron(cliCtx.Context)
	if err != nil {
		return err
	}
	for _, c := range crons {
		fmt.Printf("%d\tactive=%v pallet=%s storage=%s interval=%d\n", c.ID, c.Active, c.Pallet, c.StorageName, c.BlockNumberInterval)
	}
	return nil
}

func storageCronAdd(cliCtx *cli.Context, tx *store.Tx) error {
	key, err := hexArg(cliCtx.String("key"))
	if err != nil {
		return err
	}
	cron := model.HarvesterStorageCron{
		Active:              true,
		BlockNumberInterval: cliCtx.Uint64("interval"),
		Pallet:              cliCtx.String("pallet"),
		StorageName:         cliCtx.String("storage-name"),
		StorageKey:          key,
	}
	id, err := tx.InsertStorageCron(cliCtx.Context, cron)
	if err != nil {
		return err
	}
	fmt.Printf("created storage cron %d\n", id)
	return nil
}

func storageCronRemove(cliCtx *cli.Context, tx *store.Tx) error {
	id, err := idArg(cliCtx)
	if err != nil {
		return err
	}
	return tx.DeleteStorageCron(cliCtx.Context, id)
}

func idArg(cliCtx *cli.Context) (int64, error) {
	if cliCtx.NArg() != 1 {
		return 0, fmt.Errorf("expected exactly one <id> argument")
	}
	return strconv.ParseInt(cliCtx.Args().First(), 10, 64)
}

func hexArg(s string) ([]byte, error) {
	return decodeHexArg(s)
}
