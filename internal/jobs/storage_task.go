package jobs

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/itering/substrate-api-rpc/metadata"
	"github.com/jackc/pgx/v4"
	"github.com/ledgerwatch/log/v3"

	"github.com/polkascan/harvester/internal/decode"
	"github.com/polkascan/harvester/internal/metrics"
	"github.com/polkascan/harvester/internal/model"
	"github.com/polkascan/harvester/internal/nodeclient"
	"github.com/polkascan/harvester/internal/store"
)

const storageTaskPageSize = 1000

// StorageTask is the Storage-Task Worker (§4.8): an operator-queued, one-off
// backfill of a storage entry (or a whole prefix, paged) across an explicit
// set of blocks, independent of the cron schedule's fixed interval.
type StorageTask struct {
	DB       *store.Store
	Node     *nodeclient.Client
	Registry *decode.Registry
	Logger   log.Logger
}

func (j *StorageTask) Run(ctx context.Context, interrupt *InterruptToken) error {
	logPrefix := "storage_task"
	j.Logger.Info(fmt.Sprintf("[%s] starting stage", logPrefix))
	defer j.Logger.Info(fmt.Sprintf("[%s] finished stage", logPrefix))

	task, ok, err := j.nextTask(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", logPrefix, err)
	}
	if !ok {
		return nil
	}

	for _, n := range task.Blocks.Resolve() {
		if interrupt.Requested() {
			j.Logger.Info(fmt.Sprintf("[%s] interrupt requested, stopping before block %d", logPrefix, n))
			return nil
		}
		if err := j.runOneBlock(ctx, task, n); err != nil {
			return fmt.Errorf("%s: task %d block %d: %w", logPrefix, task.ID, n, err)
		}
	}

	tx, err := j.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := tx.MarkStorageTaskComplete(ctx, task.ID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (j *StorageTask) nextTask(ctx context.Context) (model.HarvesterStorageTask, bool, error) {
	tx, err := j.DB.Begin(ctx)
	if err != nil {
		return model.HarvesterStorageTask{}, false, err
	}
	defer tx.Rollback(ctx)
	return tx.NextIncompleteStorageTask(ctx)
}

// runOneBlock implements §4.8's per-block body: resolve the block's hash,
// build the key set (explicit key, or a paged prefix scan), capture each
// key's value, and decode it through the same path as ScaleDecode.
func (j *StorageTask) runOneBlock(ctx context.Context, task model.HarvesterStorageTask, n uint64) error {
	tx, err := j.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	header, ok, err := tx.GetNodeBlockHeaderByNumber(ctx, n)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no NodeBlockHeader at %d", n)
	}
	blockHashHex := header.Hash.Hex()

	keys, err := j.resolveKeys(task, blockHashHex)
	if err != nil {
		return err
	}

	specName, specVersion, meta, err := j.resolveRuntime(ctx, tx, header.Hash)
	if err != nil {
		return err
	}

	for _, keyHex := range keys {
		if err := j.captureKey(ctx, tx, n, header.Hash, blockHashHex, keyHex, task.Pallet, task.StorageName, specName, specVersion, meta); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// resolveKeys expands the task's key specification into concrete storage
// keys: an explicit key is used as-is, a prefix is enumerated page by page
// starting the cursor at the prefix itself, per §4.8.
func (j *StorageTask) resolveKeys(task model.HarvesterStorageTask, blockHashHex string) ([]string, error) {
	if len(task.StorageKey) > 0 {
		return []string{"0x" + hexString(task.StorageKey)}, nil
	}
	if len(task.StorageKeyPrefix) == 0 {
		return nil, fmt.Errorf("storage task %d: neither storage_key nor storage_key_prefix set", task.ID)
	}
	prefixHex := "0x" + hexString(task.StorageKeyPrefix)
	var keys []string
	cursor := prefixHex
	for {
		page, err := j.Node.StateGetKeysPaged(prefixHex, storageTaskPageSize, cursor, blockHashHex)
		if err != nil {
			return nil, fmt.Errorf("state_getKeysPaged(%s): %w", prefixHex, err)
		}
		if len(page) == 0 {
			break
		}
		keys = append(keys, page...)
		cursor = page[len(page)-1]
		if len(page) < storageTaskPageSize {
			break
		}
	}
	return keys, nil
}

func (j *StorageTask) resolveRuntime(ctx context.Context, tx *store.Tx, blockHash model.Hash) (string, uint32, *metadata.Instant, error) {
	nbr, ok, err := tx.GetNodeBlockRuntimeByHash(ctx, blockHash)
	if err != nil {
		return "", 0, nil, err
	}
	if !ok {
		return "", 0, nil, fmt.Errorf("no NodeBlockRuntime for %s", blockHash.Hex())
	}
	if meta, ok := j.Registry.Lookup(nbr.SpecName, nbr.SpecVersion); ok {
		return nbr.SpecName, nbr.SpecVersion, meta, nil
	}
	nm, ok, err := tx.GetNodeMetadata(ctx, nbr.SpecName, nbr.SpecVersion)
	if err != nil {
		return "", 0, nil, err
	}
	if !ok {
		return "", 0, nil, fmt.Errorf("no NodeMetadata for %s/%d", nbr.SpecName, nbr.SpecVersion)
	}
	meta, err := j.Registry.Register(nbr.SpecName, nbr.SpecVersion, "0x"+hexString(nm.Data))
	if err != nil {
		return "", 0, nil, err
	}
	return nbr.SpecName, nbr.SpecVersion, meta, nil
}

// captureKey fetches one key's value, persists it via a savepoint so a
// unique-violation from a concurrent cron capture is tolerated rather than
// aborting the whole block (§4.8), then decodes it through the §4.5 path.
func (j *StorageTask) captureKey(ctx context.Context, tx *store.Tx, n uint64, blockHash model.Hash, blockHashHex, keyHex, pallet, storageName, specName string, specVersion uint32, meta *metadata.Instant) error {
	valueHex, err := j.Node.StateGetStorageAt(keyHex, blockHashHex)
	if err != nil {
		return fmt.Errorf("state_getStorageAt(%s): %w", keyHex, err)
	}
	keyBytes, err := decodeHexKey(keyHex)
	if err != nil {
		return err
	}
	var data []byte
	if valueHex != "" {
		data, err = decodeHexKey(valueHex)
		if err != nil {
			return fmt.Errorf("decode storage value: %w", err)
		}
	}

	var storageModule, storageNameField *string
	if pallet != "" {
		storageModule, storageNameField = &pallet, &storageName
	}

	ok, err := tx.WithSavepoint(ctx, func(spTx pgx.Tx) error {
		return store.InsertNodeBlockStorageTx(ctx, spTx, model.NodeBlockStorage{
			BlockHash:     blockHash,
			StorageKey:    keyBytes,
			BlockNumber:   n,
			StorageModule: storageModule,
			StorageName:   storageNameField,
			Data:          data,
			Complete:      true,
		})
	})
	if err != nil {
		return fmt.Errorf("insert node block storage: %w", err)
	}
	if !ok {
		j.Logger.Debug("storage task: key already captured for block", "block", n, "key", keyHex)
	}

	valueScaleType := ""
	if storageModule != nil && storageNameField != nil {
		def, ok, err := tx.GetRuntimeStorageDef(ctx, specName, specVersion, *storageModule, *storageNameField)
		if err != nil {
			return err
		}
		if ok {
			valueScaleType = def.ValueScaleType
		}
	}

	row := model.CodecBlockStorage{
		BlockHash:     blockHash,
		StorageKey:    keyBytes,
		BlockNumber:   n,
		ScaleType:     valueScaleType,
		StorageModule: storageModule,
		StorageName:   storageNameField,
	}
	decoded, decErr := decode.DecodeValue(valueScaleType, valueHex, meta, specVersion)
	if decErr != nil || valueScaleType == "" {
		if decErr != nil {
			j.Logger.Warn("storage task decode failed", "block", n, "key", keyHex, "err", decErr)
			metrics.DecodeFailures.WithLabelValues("storage_task").Inc()
		}
		row.State = model.RetryStateRetry
	} else {
		row.Data = decoded
		row.State = model.RetryStateComplete
	}
	if err := tx.InsertCodecBlockStorage(ctx, row); err != nil {
		return fmt.Errorf("insert codec storage %s: %w", keyHex, err)
	}

	if keyHex == decode.STORAGE_KEY_EVENTS && row.State.Complete() {
		events, err := decode.DecodeEvents(valueHex, meta, specVersion)
		if err != nil {
			j.Logger.Warn("storage task event fan-out failed", "block", n, "err", err)
			return nil
		}
		for idx, ev := range events {
			eventIndexHex := "0x0000"
			if re, ok, err := tx.GetRuntimeEventByName(ctx, specName, specVersion, ev.EventModule, ev.EventName); err == nil && ok {
				eventIndexHex = fmt.Sprintf("0x%02x%02x", re.Lookup[0], re.Lookup[1])
			}
			if err := tx.InsertCodecBlockEvent(ctx, model.CodecBlockEvent{
				BlockHash:   blockHash,
				EventIdx:    uint32(idx),
				BlockNumber: n,
				EventModule: ev.EventModule,
				EventName:   ev.EventName,
				EventIndex:  eventIndexHex,
				Data:        ev.Data,
			}); err != nil {
				return fmt.Errorf("insert codec event %d: %w", idx, err)
			}
		}
	}
	return nil
}

func decodeHexKey(hexVal string) ([]byte, error) {
	return hex.DecodeString(trimHex(hexVal))
}
