package store

import (
	"context"
	"encoding/hex"
	"encoding/json"

	"github.com/jackc/pgx/v4"

	"github.com/polkascan/harvester/internal/model"
)

// NextCodecDecodeWindowStart returns the first block number the decode job
// has not yet written to the given codec table: one past the highest
// block_number present in table, or 0 if the table is empty.
func (t *Tx) NextCodecDecodeWindowStart(ctx context.Context, table string) (uint64, error) {
	var max *int64
	if err := t.tx.QueryRow(ctx, `SELECT max(block_number) FROM `+table).Scan(&max); err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return uint64(*max) + 1, nil
}

func (t *Tx) InsertCodecBlockExtrinsic(ctx context.Context, e model.CodecBlockExtrinsic) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO codec_block_extrinsic
			(block_hash, extrinsic_idx, block_number, scale_type, call_module, call_name, signed, data, state, retry_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.BlockHash[:], e.ExtrinsicIdx, e.BlockNumber, e.ScaleType, e.CallModule, e.CallName, e.Signed, e.Data, e.State, e.RetryCount)
	return err
}

func (t *Tx) InsertCodecBlockHeaderDigestLog(ctx context.Context, l model.CodecBlockHeaderDigestLog) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO codec_block_header_digest_log
			(block_hash, log_idx, block_number, scale_type, data, state, retry_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		l.BlockHash[:], l.LogIdx, l.BlockNumber, l.ScaleType, l.Data, l.State, l.RetryCount)
	return err
}

func (t *Tx) InsertCodecBlockStorage(ctx context.Context, s model.CodecBlockStorage) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO codec_block_storage
			(block_hash, storage_key, block_number, scale_type, storage_module, storage_name, data, state, retry_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		s.BlockHash[:], s.StorageKey, s.BlockNumber, s.ScaleType, s.StorageModule, s.StorageName, s.Data, s.State, s.RetryCount)
	return err
}

func (t *Tx) InsertCodecBlockEvent(ctx context.Context, e model.CodecBlockEvent) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO codec_block_event
			(block_hash, event_idx, block_number, event_module, event_name, extrinsic_idx, event_index, data)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.BlockHash[:], e.EventIdx, e.BlockNumber, e.EventModule, e.EventName, e.ExtrinsicIdx, e.EventIndex, e.Data)
	return err
}

// UpsertCodecBlockEvent is InsertCodecBlockEvent tolerant of the row already
// existing, used when the cron-retry job (§4.7) re-fans-out System.Events
// after a prior attempt partially succeeded.
func (t *Tx) UpsertCodecBlockEvent(ctx context.Context, e model.CodecBlockEvent) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO codec_block_event
			(block_hash, event_idx, block_number, event_module, event_name, extrinsic_idx, event_index, data)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (block_hash, event_idx) DO UPDATE SET
			event_module=$4, event_name=$5, extrinsic_idx=$6, event_index=$7, data=$8`,
		e.BlockHash[:], e.EventIdx, e.BlockNumber, e.EventModule, e.EventName, e.ExtrinsicIdx, e.EventIndex, e.Data)
	return err
}

// UpdateCodecBlockExtrinsic rewrites a previously-retry-flagged row's
// decoded columns after a successful cron-retry pass (§4.7).
func (t *Tx) UpdateCodecBlockExtrinsic(ctx context.Context, blockHash model.Hash, extrinsicIdx uint32, callModule, callName *string, signed *bool, data json.RawMessage) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE codec_block_extrinsic SET call_module=$1, call_name=$2, signed=$3, data=$4
		WHERE block_hash=$5 AND extrinsic_idx=$6`,
		callModule, callName, signed, data, blockHash[:], extrinsicIdx)
	return err
}

// UpdateCodecBlockHeaderDigestLog rewrites a previously-retry-flagged row's
// decoded payload after a successful cron-retry pass.
func (t *Tx) UpdateCodecBlockHeaderDigestLog(ctx context.Context, blockHash model.Hash, logIdx uint32, data json.RawMessage) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE codec_block_header_digest_log SET data=$1 WHERE block_hash=$2 AND log_idx=$3`,
		data, blockHash[:], logIdx)
	return err
}

// UpdateCodecBlockStorage rewrites a previously-retry-flagged row's decoded
// value after a successful cron-retry pass.
func (t *Tx) UpdateCodecBlockStorage(ctx context.Context, blockHash model.Hash, storageKey []byte, scaleType string, data json.RawMessage) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE codec_block_storage SET scale_type=$1, data=$2 WHERE block_hash=$3 AND storage_key=$4`,
		scaleType, data, blockHash[:], storageKey)
	return err
}

func (t *Tx) UpsertCodecMetadata(ctx context.Context, m model.CodecMetadata) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO codec_metadata (spec_name, spec_version, scale_type, data, complete)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (spec_name, spec_version) DO UPDATE SET data=$4, complete=$5`,
		m.SpecName, m.SpecVersion, m.ScaleType, m.Data, m.Complete)
	return err
}

func (t *Tx) InsertCodecBlockTimestamp(ctx context.Context, ts model.CodecBlockTimestamp) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO codec_block_timestamp
			(block_number, block_hash, timestamp_ms, year, quarter, month, week, day, hour, minute, second,
			 full_quarter, full_month, full_week, full_day, full_hour, full_minute, full_second,
			 weekday, weekday_name, month_name, weekend, range_10000, range_100000, range_1000000,
			 state, retry_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)`,
		ts.BlockNumber, ts.BlockHash[:], ts.TimestampMs, ts.Year, ts.Quarter, ts.Month, ts.Week, ts.Day, ts.Hour, ts.Minute, ts.Second,
		ts.FullQuarter, ts.FullMonth, ts.FullWeek, ts.FullDay, ts.FullHour, ts.FullMinute, ts.FullSecond,
		ts.Weekday, ts.WeekdayName, ts.MonthName, ts.Weekend, ts.Range10000, ts.Range100000, ts.Range1000000,
		ts.State, ts.RetryCount)
	return err
}

// CodecRetryRow is the shape shared by every codec_* retry-eligible table,
// used by the cron-retry job (§4.7) to re-attempt decoding without caring
// which concrete table a row came from.
type CodecRetryRow struct {
	Kind        string // table name, for metrics labeling
	BlockHash   model.Hash
	BlockNumber uint64
	Key         string // secondary key (extrinsic_idx/log_idx/storage_key), opaque to the caller
	RetryCount  int
}

// ListCodecRetryRows returns up to limit rows of the given codec_* table
// currently in RetryStateRetry, ordered by block_number.
func (t *Tx) ListCodecRetryRows(ctx context.Context, table string, limit int) ([]CodecRetryRow, error) {
	var keyCol string
	switch table {
	case "codec_block_extrinsic":
		keyCol = "extrinsic_idx::text"
	case "codec_block_header_digest_log":
		keyCol = "log_idx::text"
	case "codec_block_storage":
		keyCol = "encode(storage_key, 'hex')"
	case "codec_block_timestamp":
		keyCol = "'0'"
	default:
		return nil, pgx.ErrNoRows
	}
	rows, err := t.tx.Query(ctx, `SELECT block_hash, block_number, `+keyCol+`, retry_count FROM `+table+
		` WHERE state = $1 ORDER BY block_number LIMIT $2`, model.RetryStateRetry, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CodecRetryRow
	for rows.Next() {
		r := CodecRetryRow{Kind: table}
		var bh []byte
		if err := rows.Scan(&bh, &r.BlockNumber, &r.Key, &r.RetryCount); err != nil {
			return nil, err
		}
		copy(r.BlockHash[:], bh)
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkCodecRetryOutcome writes the caller-chosen state and retry_count to a
// retry row; the caller decides between Complete, Retry and
// FailedExhausted. key
// is the row's secondary key as returned in CodecRetryRow.Key, needed
// because a single block can carry many extrinsic/log/storage rows sharing
// the same (block_hash, block_number).
func (t *Tx) MarkCodecRetryOutcome(ctx context.Context, table string, blockHash model.Hash, blockNumber uint64, key string, newState model.RetryState, retryCount int) error {
	var keyCol string
	switch table {
	case "codec_block_extrinsic":
		keyCol = "extrinsic_idx"
	case "codec_block_header_digest_log":
		keyCol = "log_idx"
	case "codec_block_storage":
		keyCol = "storage_key"
	case "codec_block_timestamp":
		_, err := t.tx.Exec(ctx, `UPDATE codec_block_timestamp SET state=$1, retry_count=$2 WHERE block_hash=$3 AND block_number=$4`,
			newState, retryCount, blockHash[:], blockNumber)
		return err
	default:
		return pgx.ErrNoRows
	}
	var keyArg interface{} = key
	if keyCol == "storage_key" {
		kb, err := hex.DecodeString(key)
		if err != nil {
			return err
		}
		keyArg = kb
	}
	_, err := t.tx.Exec(ctx, `UPDATE `+table+` SET state=$1, retry_count=$2 WHERE block_hash=$3 AND block_number=$4 AND `+keyCol+`=$5`,
		newState, retryCount, blockHash[:], blockNumber, keyArg)
	return err
}
