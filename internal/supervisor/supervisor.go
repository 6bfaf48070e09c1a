// Package supervisor is the Scheduler/Supervisor (§4.1): a single-threaded
// outer loop that reloads dynamic settings every iteration, sequences the
// pipeline stages, and owns reconnection, shutdown, and the top-level
// Prometheus observability hooks. The call-and-log shape generalizes a
// single staged-sync stage function into a fixed ordered sequence of them.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ledgerwatch/log/v3"

	"github.com/polkascan/harvester/internal/decode"
	"github.com/polkascan/harvester/internal/harvesterrors"
	"github.com/polkascan/harvester/internal/jobs"
	"github.com/polkascan/harvester/internal/metrics"
	"github.com/polkascan/harvester/internal/model"
	"github.com/polkascan/harvester/internal/nodeclient"
	"github.com/polkascan/harvester/internal/settings"
	"github.com/polkascan/harvester/internal/store"
)

// Action selects which stages a run participates in (§4.1's run(action)
// contract). Values are the --job flag's vocabulary (§6).
type Action string

const (
	ActionAll          Action = "all"
	ActionBlocks       Action = "blocks"
	ActionState        Action = "state"
	ActionDecode       Action = "decode"
	ActionCron         Action = "cron"
	ActionEtl          Action = "etl"
	ActionStorageTasks Action = "storage_tasks"
)

func (a Action) includes(stage Action) bool { return a == ActionAll || a == stage }

const reconnectBackoff = 27 * time.Second
const iterationSleep = 3 * time.Second

// Supervisor owns the long-running connections (DB pool, node client) and
// drives one iteration per loop pass.
type Supervisor struct {
	DB       *store.Store
	NodeURL  string
	Node     *nodeclient.Client
	Registry *decode.Registry
	Logger   log.Logger
	NodeType settings.NodeType

	RetrieveBlocks       *jobs.RetrieveBlocks
	RetrieveRuntimeState *jobs.RetrieveRuntimeState
	ScaleDecode          *jobs.ScaleDecode
	CronRetry            *jobs.CronRetry
	StorageTask          *jobs.StorageTask

	// ForceStart skips the startup SYSTEM_CHAIN mismatch check (§6 --force-start).
	ForceStart bool
}

// New wires a Supervisor and the job structs it drives, all sharing one
// *decode.Registry and one *nodeclient.Client.
func New(db *store.Store, nodeURL string, nodeType settings.NodeType, logger log.Logger) *Supervisor {
	node := nodeclient.New(nodeURL, logger)
	registry := decode.NewRegistry()

	return &Supervisor{
		DB:       db,
		NodeURL:  nodeURL,
		Node:     node,
		Registry: registry,
		Logger:   logger,
		NodeType: nodeType,

		RetrieveBlocks:       &jobs.RetrieveBlocks{DB: db, Node: node, Logger: logger},
		RetrieveRuntimeState: &jobs.RetrieveRuntimeState{DB: db, Node: node, Registry: registry, Logger: logger},
		ScaleDecode:          &jobs.ScaleDecode{DB: db, Registry: registry, Logger: logger},
		CronRetry:            &jobs.CronRetry{DB: db, Registry: registry, Logger: logger},
		StorageTask:          &jobs.StorageTask{DB: db, Node: node, Registry: registry, Logger: logger},
	}
}

// Run operates the outer loop until interrupt is set or an unrecoverable
// error occurs (§4.1).
func (s *Supervisor) Run(ctx context.Context, action Action, interrupt *jobs.InterruptToken) error {
	if err := s.connect(ctx); err != nil {
		return err
	}
	defer s.Node.Close()

	if err := s.checkSystemChain(ctx); err != nil {
		return err
	}

	for {
		if interrupt.Requested() {
			s.Logger.Info("supervisor: shutdown requested, exiting cleanly")
			return nil
		}

		snapshot, err := s.loadSnapshot(ctx)
		if err != nil {
			return err
		}

		if err := s.iterate(ctx, action, snapshot, interrupt); err != nil {
			if harvesterrors.IsShutdown(err) {
				s.Logger.Info("supervisor: shutdown requested, exiting cleanly")
				return nil
			}
			if harvesterrors.IsTransientConnection(err) {
				s.Logger.Warn("supervisor: transient connection error, reconnecting", "err", err, "backoff", reconnectBackoff)
				s.Node.Close()
				time.Sleep(reconnectBackoff)
				if dialErr := s.connect(ctx); dialErr != nil {
					s.Logger.Warn("supervisor: reconnect failed", "err", dialErr)
				}
				continue
			}
			if errors.Is(err, harvesterrors.ErrBlockDecode) {
				s.Logger.Warn("supervisor: block decode error, continuing with next iteration", "err", err)
				time.Sleep(iterationSleep)
				continue
			}
			return err
		}

		metrics.JobCount.Inc()
		metrics.SetCurrentJob(metrics.JobNone)
		time.Sleep(iterationSleep)
	}
}

func (s *Supervisor) connect(ctx context.Context) error {
	return s.Node.Dial(ctx)
}

// checkSystemChain implements §7's Config/Schema fail-fast rule: if a
// SYSTEM_CHAIN row is already stored, the live node's system_chain must
// match it, unless ForceStart bypasses the check. A fresh database (no
// stored SYSTEM_CHAIN yet) records the live node's identity instead of
// comparing against it.
func (s *Supervisor) checkSystemChain(ctx context.Context) error {
	liveChain, err := s.Node.SystemChain()
	if err != nil {
		return fmt.Errorf("system_chain: %w", err)
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	storedChain, ok, err := tx.GetStatus(ctx, model.StatusSystemChain)
	if err != nil {
		return err
	}
	if ok && storedChain != liveChain && !s.ForceStart {
		return fmt.Errorf("%w: stored SYSTEM_CHAIN %q does not match live node %q", harvesterrors.ErrConfig, storedChain, liveChain)
	}

	liveName, err := s.Node.SystemName()
	if err != nil {
		return fmt.Errorf("system_name: %w", err)
	}
	props, err := s.Node.SystemProperties()
	if err != nil {
		return fmt.Errorf("system_properties: %w", err)
	}

	if err := tx.SetStatus(ctx, model.StatusSystemChain, liveChain); err != nil {
		return err
	}
	if err := tx.SetStatus(ctx, model.StatusSystemName, liveName); err != nil {
		return err
	}
	if err := tx.SetStatus(ctx, model.StatusSystemProperties, string(props)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Supervisor) loadSnapshot(ctx context.Context) (settings.Snapshot, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return settings.Snapshot{}, err
	}
	defer tx.Rollback(ctx)
	raw, err := tx.LoadAllStatus(ctx)
	if err != nil {
		return settings.Snapshot{}, err
	}
	return settings.FromStatus(raw, s.NodeType), nil
}

// iterate runs one pass of storage_tasks → cron → retrieve_blocks →
// retrieve_runtime_state → scale_decode → etl, gated by the master switch,
// per-stage switches, archive-only gating, and the requested action.
func (s *Supervisor) iterate(ctx context.Context, action Action, snap settings.Snapshot, interrupt *jobs.InterruptToken) error {
	if !snap.EnableHarvester {
		return nil
	}

	if action.includes(ActionStorageTasks) && snap.EnableStorageTask {
		metrics.SetCurrentJob(metrics.JobStorageTasks)
		if err := s.StorageTask.Run(ctx, interrupt); err != nil {
			return err
		}
	}
	if interrupt.Requested() {
		return harvesterrors.ErrShutdown
	}

	if action.includes(ActionCron) && snap.EnableCron {
		metrics.SetCurrentJob(metrics.JobCron)
		s.CronRetry.MaxAttempts = snap.CronRetryMaxAttempts
		if err := s.CronRetry.Run(ctx, interrupt); err != nil {
			return err
		}
	}
	if interrupt.Requested() {
		return harvesterrors.ErrShutdown
	}

	if action.includes(ActionBlocks) && snap.EnableBlocks {
		metrics.SetCurrentJob(metrics.JobRetrieveBlocks)
		if err := s.RetrieveBlocks.Run(ctx, interrupt); err != nil {
			return err
		}
	}
	if interrupt.Requested() {
		return harvesterrors.ErrShutdown
	}

	if snap.Archive() {
		if action.includes(ActionState) && snap.EnableState {
			metrics.SetCurrentJob(metrics.JobRetrieveState)
			if err := s.RetrieveRuntimeState.Run(ctx, interrupt); err != nil {
				return err
			}
		}
		if interrupt.Requested() {
			return harvesterrors.ErrShutdown
		}

		if action.includes(ActionDecode) && snap.EnableDecode {
			metrics.SetCurrentJob(metrics.JobScaleDecode)
			if err := s.ScaleDecode.Run(ctx, interrupt); err != nil {
				return err
			}
		}
		if interrupt.Requested() {
			return harvesterrors.ErrShutdown
		}

		if action.includes(ActionEtl) && snap.EnableEtl {
			metrics.SetCurrentJob(metrics.JobEtl)
			if err := s.runEtl(ctx, snap); err != nil {
				return err
			}
		}
	}

	return nil
}

// runEtl updates the PROCESS_ETL watermark; the ETL procedures themselves
// read from codec rows as a downstream consumer (§2 data flow), out of the
// harvester's own write path.
func (s *Supervisor) runEtl(ctx context.Context, snap settings.Snapshot) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	decoderMax, ok := snap.Raw(model.StatusProcessDecoderMaxBlockNumber)
	if !ok {
		return tx.Commit(ctx)
	}
	if err := tx.SetStatus(ctx, model.StatusProcessEtl, decoderMax); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
