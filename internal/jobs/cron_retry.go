package jobs

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/itering/substrate-api-rpc/metadata"
	"github.com/ledgerwatch/log/v3"

	"github.com/polkascan/harvester/internal/decode"
	"github.com/polkascan/harvester/internal/metrics"
	"github.com/polkascan/harvester/internal/model"
	"github.com/polkascan/harvester/internal/store"
)

const cronRetryBatchSize = 1000

var cronRetryTables = []string{
	"codec_block_extrinsic",
	"codec_block_header_digest_log",
	"codec_block_storage",
}

// CronRetry is the Cron-Retry job (§4.7): it re-attempts every codec row
// left in RetryStateRetry by a prior ScaleDecode pass, up to
// cronRetryBatchSize rows per table per run. A row that still fails has its
// retry_count bumped; once that exceeds MaxAttempts it is retired to
// FailedExhausted rather than retried forever (§9).
type CronRetry struct {
	DB          *store.Store
	Registry    *decode.Registry
	Logger      log.Logger
	MaxAttempts int
}

func (j *CronRetry) Run(ctx context.Context, interrupt *InterruptToken) error {
	logPrefix := "cron_retry"
	j.Logger.Info(fmt.Sprintf("[%s] starting stage", logPrefix))
	defer j.Logger.Info(fmt.Sprintf("[%s] finished stage", logPrefix))

	for _, table := range cronRetryTables {
		if interrupt.Requested() {
			j.Logger.Info(fmt.Sprintf("[%s] interrupt requested, stopping before table %s", logPrefix, table))
			return nil
		}
		if err := j.retryTable(ctx, interrupt, table); err != nil {
			return fmt.Errorf("%s: %s: %w", logPrefix, table, err)
		}
	}
	return nil
}

func (j *CronRetry) retryTable(ctx context.Context, interrupt *InterruptToken, table string) error {
	rows, err := j.listRetryRows(ctx, table)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if interrupt.Requested() {
			return nil
		}
		if err := j.retryOne(ctx, table, r); err != nil {
			return err
		}
	}
	return nil
}

func (j *CronRetry) listRetryRows(ctx context.Context, table string) ([]store.CodecRetryRow, error) {
	tx, err := j.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	return tx.ListCodecRetryRows(ctx, table, cronRetryBatchSize)
}

// retryOne re-decodes a single flagged row in its own transaction, so one
// row's failure never blocks the rest of the batch.
func (j *CronRetry) retryOne(ctx context.Context, table string, r store.CodecRetryRow) error {
	tx, err := j.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	header, ok, err := tx.GetNodeBlockHeaderByNumber(ctx, r.BlockNumber)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no NodeBlockHeader at %d", r.BlockNumber)
	}
	nbr, ok, err := tx.GetNodeBlockRuntimeByHash(ctx, header.Hash)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no NodeBlockRuntime for %s", header.Hash.Hex())
	}
	meta, ok := j.Registry.Lookup(nbr.SpecName, nbr.SpecVersion)
	if !ok {
		nm, ok, err := tx.GetNodeMetadata(ctx, nbr.SpecName, nbr.SpecVersion)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no NodeMetadata for %s/%d", nbr.SpecName, nbr.SpecVersion)
		}
		meta, err = j.Registry.Register(nbr.SpecName, nbr.SpecVersion, "0x"+hexString(nm.Data))
		if err != nil {
			return err
		}
	}

	var decodeErr error
	switch table {
	case "codec_block_extrinsic":
		decodeErr = j.retryExtrinsic(ctx, tx, header.Hash, r, meta, nbr.SpecVersion)
	case "codec_block_header_digest_log":
		decodeErr = j.retryDigestLog(ctx, tx, header.Hash, r)
	case "codec_block_storage":
		decodeErr = j.retryStorage(ctx, tx, header.Hash, r, nbr.SpecName, nbr.SpecVersion, meta)
	default:
		return fmt.Errorf("cron_retry: unknown table %s", table)
	}

	newState := model.RetryStateComplete
	retryCount := r.RetryCount
	if decodeErr != nil {
		retryCount++
		if retryCount > j.MaxAttempts {
			newState = model.RetryStateFailedExhausted
			j.Logger.Warn("retry exhausted", "table", table, "block_hash", header.Hash.Hex(), "key", r.Key, "attempts", retryCount)
			metrics.RetryExhausted.WithLabelValues(table).Inc()
		} else {
			newState = model.RetryStateRetry
		}
		metrics.DecodeFailures.WithLabelValues("retry_" + table).Inc()
	}
	if err := tx.MarkCodecRetryOutcome(ctx, table, header.Hash, r.BlockNumber, r.Key, newState, retryCount); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (j *CronRetry) retryExtrinsic(ctx context.Context, tx *store.Tx, blockHash model.Hash, r store.CodecRetryRow, meta *metadata.Instant, specVersion uint32) error {
	idx, err := strconv.ParseUint(r.Key, 10, 32)
	if err != nil {
		return fmt.Errorf("parse extrinsic_idx %q: %w", r.Key, err)
	}
	raw, ok, err := tx.GetNodeBlockExtrinsic(ctx, blockHash, uint32(idx))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no node_block_extrinsic at %s/%d", blockHash.Hex(), idx)
	}
	fullHex := "0x" + hexString(raw.Length) + hexString(raw.Data)
	decoded, err := decode.DecodeExtrinsics([]string{fullHex}, meta, specVersion)
	if err != nil || len(decoded) != 1 {
		if err == nil {
			err = fmt.Errorf("empty decode result")
		}
		return err
	}
	d := decoded[0]
	return tx.UpdateCodecBlockExtrinsic(ctx, blockHash, uint32(idx), &d.CallModule, &d.CallName, &d.Signed, d.Data)
}

func (j *CronRetry) retryDigestLog(ctx context.Context, tx *store.Tx, blockHash model.Hash, r store.CodecRetryRow) error {
	idx, err := strconv.ParseUint(r.Key, 10, 32)
	if err != nil {
		return fmt.Errorf("parse log_idx %q: %w", r.Key, err)
	}
	raw, ok, err := tx.GetNodeBlockHeaderDigestLog(ctx, blockHash, uint32(idx))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no node_block_header_digest_log at %s/%d", blockHash.Hex(), idx)
	}
	data, err := decode.DecodeDigestLogs([]string{"0x" + hexString(raw.Data)})
	if err != nil {
		return err
	}
	return tx.UpdateCodecBlockHeaderDigestLog(ctx, blockHash, uint32(idx), data)
}

func (j *CronRetry) retryStorage(ctx context.Context, tx *store.Tx, blockHash model.Hash, r store.CodecRetryRow, specName string, specVersion uint32, meta *metadata.Instant) error {
	storageKey, err := hex.DecodeString(r.Key)
	if err != nil {
		return fmt.Errorf("parse storage_key %q: %w", r.Key, err)
	}
	raw, ok, err := tx.GetNodeBlockStorageByKey(ctx, blockHash, storageKey)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no node_block_storage at %s/%x", blockHash.Hex(), storageKey)
	}

	valueScaleType := ""
	if raw.StorageModule != nil && raw.StorageName != nil {
		def, ok, err := tx.GetRuntimeStorageDef(ctx, specName, specVersion, *raw.StorageModule, *raw.StorageName)
		if err != nil {
			return err
		}
		if ok {
			valueScaleType = def.ValueScaleType
		}
	}
	if valueScaleType == "" {
		return fmt.Errorf("no runtime_storage definition for %v/%v", raw.StorageModule, raw.StorageName)
	}
	valueHex := ""
	if raw.Data != nil {
		valueHex = "0x" + hexString(raw.Data)
	}
	decoded, err := decode.DecodeValue(valueScaleType, valueHex, meta, specVersion)
	if err != nil {
		return err
	}
	if err := tx.UpdateCodecBlockStorage(ctx, blockHash, storageKey, valueScaleType, decoded); err != nil {
		return err
	}

	if "0x"+hexString(storageKey) == decode.STORAGE_KEY_EVENTS {
		events, err := decode.DecodeEvents(valueHex, meta, specVersion)
		if err != nil {
			j.Logger.Warn("event fan-out decode failed on retry", "block", raw.BlockNumber, "err", err)
			return nil
		}
		for idx, ev := range events {
			eventIndexHex := "0x0000"
			if re, ok, err := tx.GetRuntimeEventByName(ctx, specName, specVersion, ev.EventModule, ev.EventName); err == nil && ok {
				eventIndexHex = fmt.Sprintf("0x%02x%02x", re.Lookup[0], re.Lookup[1])
			}
			row := model.CodecBlockEvent{
				BlockHash:   blockHash,
				EventIdx:    uint32(idx),
				BlockNumber: raw.BlockNumber,
				EventModule: ev.EventModule,
				EventName:   ev.EventName,
				EventIndex:  eventIndexHex,
				Data:        ev.Data,
			}
			if err := tx.UpsertCodecBlockEvent(ctx, row); err != nil {
				return fmt.Errorf("upsert codec event %d: %w", idx, err)
			}
		}
	}
	return nil
}
