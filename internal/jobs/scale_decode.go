package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/itering/substrate-api-rpc/metadata"
	"github.com/ledgerwatch/log/v3"

	"github.com/polkascan/harvester/internal/decode"
	"github.com/polkascan/harvester/internal/metrics"
	"github.com/polkascan/harvester/internal/model"
	"github.com/polkascan/harvester/internal/store"
)

const decodeYieldPer = 1000

// ScaleDecode is the ScaleDecode job (§4.6): it batch-decodes raw rows into
// codec rows across three independent windows (extrinsics, logs, storage),
// each bounded by yield_per=1000, and marks failures for retry rather than
// failing the whole window.
type ScaleDecode struct {
	DB       *store.Store
	Registry *decode.Registry
	Logger   log.Logger
}

func (j *ScaleDecode) Run(ctx context.Context, interrupt *InterruptToken) error {
	logPrefix := "scale_decode"
	j.Logger.Info(fmt.Sprintf("[%s] starting stage", logPrefix))
	defer j.Logger.Info(fmt.Sprintf("[%s] finished stage", logPrefix))

	extrinsicsEnd, err := j.decodeWindow(ctx, interrupt, "codec_block_extrinsic", model.StatusProcessBlocksMaxBlockNumber, j.decodeExtrinsicsForBlock)
	if err != nil {
		return fmt.Errorf("%s: extrinsics: %w", logPrefix, err)
	}
	logsEnd, err := j.decodeWindow(ctx, interrupt, "codec_block_header_digest_log", model.StatusProcessBlocksMaxBlockNumber, j.decodeLogsForBlock)
	if err != nil {
		return fmt.Errorf("%s: logs: %w", logPrefix, err)
	}
	storageEnd, err := j.decodeWindow(ctx, interrupt, "codec_block_storage", model.StatusProcessStateMaxBlockNumber, j.decodeStorageForBlock)
	if err != nil {
		return fmt.Errorf("%s: storage: %w", logPrefix, err)
	}

	// §9: a window end of -1 (no rows processed, expressed here as "no
	// value") means "no update" rather than regressing the watermark.
	ends := make([]int64, 0, 3)
	for _, e := range []int64{extrinsicsEnd, logsEnd, storageEnd} {
		if e >= 0 {
			ends = append(ends, e)
		}
	}
	if len(ends) == 0 {
		return nil
	}
	min := ends[0]
	for _, e := range ends[1:] {
		if e < min {
			min = e
		}
	}
	tx, err := j.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := tx.SetStatus(ctx, model.StatusProcessDecoderMaxBlockNumber, strconv.FormatInt(min, 10)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// decodeWindow drives one of the three §4.6 batches: it computes [from,to],
// commits per block, and returns the window's end (or -1 if empty).
func (j *ScaleDecode) decodeWindow(ctx context.Context, interrupt *InterruptToken, table, ceilingKey string, perBlock func(ctx context.Context, tx *store.Tx, n uint64) error) (int64, error) {
	from, to, empty, err := j.window(ctx, table, ceilingKey)
	if err != nil {
		return -1, err
	}
	if empty {
		return -1, nil
	}
	for n := from; n <= to; n++ {
		if interrupt.Requested() {
			return int64(n) - 1, nil
		}
		tx, err := j.DB.Begin(ctx)
		if err != nil {
			return -1, err
		}
		if err := perBlock(ctx, tx, n); err != nil {
			tx.Rollback(ctx)
			return -1, fmt.Errorf("block %d: %w", n, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return -1, err
		}
	}
	return int64(to), nil
}

func (j *ScaleDecode) window(ctx context.Context, table, ceilingKey string) (from, to uint64, empty bool, err error) {
	tx, err := j.DB.Begin(ctx)
	if err != nil {
		return 0, 0, false, err
	}
	defer tx.Rollback(ctx)

	from, err = tx.NextCodecDecodeWindowStart(ctx, table)
	if err != nil {
		return 0, 0, false, err
	}
	ceilingStr, ok, err := tx.GetStatus(ctx, ceilingKey)
	if err != nil {
		return 0, 0, false, err
	}
	if !ok {
		return 0, 0, true, nil
	}
	ceiling, err := strconv.ParseUint(ceilingStr, 10, 64)
	if err != nil {
		return 0, 0, false, fmt.Errorf("parse %s: %w", ceilingKey, err)
	}
	to = from + decodeYieldPer - 1
	if to > ceiling {
		to = ceiling
	}
	if from > to {
		return 0, 0, true, nil
	}
	return from, to, false, nil
}

// runtimeFor resolves the metadata registered for the block's runtime,
// implementing §4.5's init_runtime(block_hash) selection protocol.
func (j *ScaleDecode) runtimeFor(ctx context.Context, tx *store.Tx, blockHash model.Hash) (specName string, specVersion uint32, err error) {
	nbr, ok, err := tx.GetNodeBlockRuntimeByHash(ctx, blockHash)
	if err != nil {
		return "", 0, err
	}
	if !ok {
		return "", 0, fmt.Errorf("no NodeBlockRuntime for %s", blockHash.Hex())
	}
	if _, ok := j.Registry.Lookup(nbr.SpecName, nbr.SpecVersion); !ok {
		nm, ok, err := tx.GetNodeMetadata(ctx, nbr.SpecName, nbr.SpecVersion)
		if err != nil {
			return "", 0, err
		}
		if !ok {
			return "", 0, fmt.Errorf("no NodeMetadata for %s/%d", nbr.SpecName, nbr.SpecVersion)
		}
		if _, err := j.Registry.Register(nbr.SpecName, nbr.SpecVersion, "0x"+hexString(nm.Data)); err != nil {
			return "", 0, err
		}
	}
	return nbr.SpecName, nbr.SpecVersion, nil
}

func (j *ScaleDecode) decodeExtrinsicsForBlock(ctx context.Context, tx *store.Tx, n uint64) error {
	header, ok, err := tx.GetNodeBlockHeaderByNumber(ctx, n)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no NodeBlockHeader at %d", n)
	}
	specName, specVersion, err := j.runtimeFor(ctx, tx, header.Hash)
	if err != nil {
		return err
	}
	meta, _ := j.Registry.Lookup(specName, specVersion)

	extrinsics, err := tx.ListNodeBlockExtrinsicsForBlock(ctx, n)
	if err != nil {
		return err
	}
	for _, e := range extrinsics {
		fullHex := "0x" + hexString(e.Length) + hexString(e.Data)
		row := model.CodecBlockExtrinsic{
			BlockHash:    e.BlockHash,
			ExtrinsicIdx: e.ExtrinsicIdx,
			BlockNumber:  n,
			ScaleType:    "Extrinsic",
		}
		decoded, err := decode.DecodeExtrinsics([]string{fullHex}, meta, specVersion)
		if err != nil || len(decoded) != 1 {
			j.Logger.Warn("extrinsic decode failed", "block", n, "idx", e.ExtrinsicIdx, "err", err)
			metrics.DecodeFailures.WithLabelValues("extrinsic").Inc()
			row.State = model.RetryStateRetry
		} else {
			d := decoded[0]
			row.CallModule, row.CallName, row.Signed = &d.CallModule, &d.CallName, &d.Signed
			row.Data = d.Data
			row.State = model.RetryStateComplete
		}
		if err := tx.InsertCodecBlockExtrinsic(ctx, row); err != nil {
			return fmt.Errorf("insert codec extrinsic %d: %w", e.ExtrinsicIdx, err)
		}
		if row.State.Complete() && row.CallModule != nil && row.CallName != nil &&
			*row.CallModule == "Timestamp" && *row.CallName == "set" {
			if err := j.recordBlockTimestamp(ctx, tx, header.Hash, n, row.Data); err != nil {
				return fmt.Errorf("record block timestamp: %w", err)
			}
		}
	}
	return nil
}

// timestampExtrinsicParams matches the codec library's extrinsic JSON shape
// closely enough to pull out the Timestamp.set call's "now" argument
// without depending on the library's internal Go types.
type timestampExtrinsicParams struct {
	Params []struct {
		Name  string          `json:"name"`
		Value json.RawMessage `json:"value"`
	} `json:"params"`
}

func timestampMsFromExtrinsicData(data json.RawMessage) (uint64, bool) {
	var parsed timestampExtrinsicParams
	if err := json.Unmarshal(data, &parsed); err != nil {
		return 0, false
	}
	for _, p := range parsed.Params {
		if p.Name != "now" {
			continue
		}
		var ms uint64
		if err := json.Unmarshal(p.Value, &ms); err != nil {
			return 0, false
		}
		return ms, true
	}
	return 0, false
}

// recordBlockTimestamp builds and persists the CodecBlockTimestamp calendar
// row for a block whose Timestamp.set extrinsic just decoded successfully.
func (j *ScaleDecode) recordBlockTimestamp(ctx context.Context, tx *store.Tx, blockHash model.Hash, n uint64, data json.RawMessage) error {
	ms, ok := timestampMsFromExtrinsicData(data)
	if !ok {
		j.Logger.Warn("Timestamp.set decoded without a usable now value", "block", n)
		return nil
	}
	row := buildCodecBlockTimestamp(blockHash, n, ms)
	return tx.InsertCodecBlockTimestamp(ctx, row)
}

var monthNames = [...]string{"January", "February", "March", "April", "May", "June", "July", "August", "September", "October", "November", "December"}
var weekdayNames = [...]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// buildCodecBlockTimestamp derives the calendar breakdown and full_*/range_*
// rollup buckets a downstream ETL GROUP BY relies on, in UTC.
func buildCodecBlockTimestamp(blockHash model.Hash, blockNumber, timestampMs uint64) model.CodecBlockTimestamp {
	t := time.UnixMilli(int64(timestampMs)).UTC()
	_, week := t.ISOWeek()
	weekday := int(t.Weekday())

	return model.CodecBlockTimestamp{
		BlockNumber: blockNumber,
		BlockHash:   blockHash,
		TimestampMs: timestampMs,

		Year:    t.Year(),
		Quarter: int(t.Month()-1)/3 + 1,
		Month:   int(t.Month()),
		Week:    week,
		Day:     t.Day(),
		Hour:    t.Hour(),
		Minute:  t.Minute(),
		Second:  t.Second(),

		FullQuarter: int64(t.Year())*10 + int64((int(t.Month()-1)/3 + 1)),
		FullMonth:   int64(t.Year())*100 + int64(t.Month()),
		FullWeek:    int64(t.Year())*100 + int64(week),
		FullDay:     int64(t.Year())*10000 + int64(t.Month())*100 + int64(t.Day()),
		FullHour:    int64(t.Year())*1000000 + int64(t.Month())*10000 + int64(t.Day())*100 + int64(t.Hour()),
		FullMinute:  int64(t.Year())*100000000 + int64(t.Month())*1000000 + int64(t.Day())*10000 + int64(t.Hour())*100 + int64(t.Minute()),
		FullSecond:  int64(t.Year())*10000000000 + int64(t.Month())*100000000 + int64(t.Day())*1000000 + int64(t.Hour())*10000 + int64(t.Minute())*100 + int64(t.Second()),

		Weekday:     weekday,
		WeekdayName: weekdayNames[weekday],
		MonthName:   monthNames[t.Month()-1],
		Weekend:     weekday == int(time.Sunday) || weekday == int(time.Saturday),

		Range10000:   int64(blockNumber) / 10000,
		Range100000:  int64(blockNumber) / 100000,
		Range1000000: int64(blockNumber) / 1000000,

		State: model.RetryStateComplete,
	}
}

func (j *ScaleDecode) decodeLogsForBlock(ctx context.Context, tx *store.Tx, n uint64) error {
	logs, err := tx.ListNodeBlockHeaderDigestLogsForBlock(ctx, n)
	if err != nil {
		return err
	}
	for _, l := range logs {
		row := model.CodecBlockHeaderDigestLog{
			BlockHash:   l.BlockHash,
			LogIdx:      l.LogIdx,
			BlockNumber: n,
			ScaleType:   "sp_runtime::generic::digest::DigestItem",
		}
		data, err := decode.DecodeDigestLogs([]string{"0x" + hexString(l.Data)})
		if err != nil {
			j.Logger.Warn("digest log decode failed", "block", n, "idx", l.LogIdx, "err", err)
			metrics.DecodeFailures.WithLabelValues("digest_log").Inc()
			row.State = model.RetryStateRetry
		} else {
			row.Data = data
			row.State = model.RetryStateComplete
		}
		if err := tx.InsertCodecBlockHeaderDigestLog(ctx, row); err != nil {
			return fmt.Errorf("insert codec digest log %d: %w", l.LogIdx, err)
		}
	}
	return nil
}

func (j *ScaleDecode) decodeStorageForBlock(ctx context.Context, tx *store.Tx, n uint64) error {
	header, ok, err := tx.GetNodeBlockHeaderByNumber(ctx, n)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no NodeBlockHeader at %d", n)
	}
	specName, specVersion, err := j.runtimeFor(ctx, tx, header.Hash)
	if err != nil {
		return err
	}
	meta, _ := j.Registry.Lookup(specName, specVersion)

	entries, err := tx.ListNodeBlockStorageForBlock(ctx, n)
	if err != nil {
		return err
	}
	for _, s := range entries {
		if err := j.decodeStorageEntry(ctx, tx, specName, specVersion, meta, n, s); err != nil {
			return err
		}
	}
	return nil
}

func (j *ScaleDecode) decodeStorageEntry(ctx context.Context, tx *store.Tx, specName string, specVersion uint32, meta *metadata.Instant, n uint64, s model.NodeBlockStorage) error {
	row := model.CodecBlockStorage{
		BlockHash:     s.BlockHash,
		StorageKey:    s.StorageKey,
		BlockNumber:   n,
		StorageModule: s.StorageModule,
		StorageName:   s.StorageName,
	}

	valueScaleType := ""
	if s.StorageModule != nil && s.StorageName != nil {
		def, ok, err := tx.GetRuntimeStorageDef(ctx, specName, specVersion, *s.StorageModule, *s.StorageName)
		if err != nil {
			return err
		}
		if ok {
			valueScaleType = def.ValueScaleType
		}
	}
	row.ScaleType = valueScaleType

	valueHex := ""
	if s.Data != nil {
		valueHex = "0x" + hexString(s.Data)
	}

	decoded, decErr := decode.DecodeValue(valueScaleType, valueHex, meta, specVersion)
	if decErr != nil || valueScaleType == "" {
		if decErr != nil {
			j.Logger.Warn("storage decode failed", "block", n, "key", hexString(s.StorageKey), "err", decErr)
			metrics.DecodeFailures.WithLabelValues("storage").Inc()
		}
		row.State = model.RetryStateRetry
	} else {
		row.Data = decoded
		row.State = model.RetryStateComplete
	}
	if err := tx.InsertCodecBlockStorage(ctx, row); err != nil {
		return fmt.Errorf("insert codec storage %s: %w", hexString(s.StorageKey), err)
	}

	if "0x"+hexString(s.StorageKey) == decode.STORAGE_KEY_EVENTS && row.State.Complete() {
		if err := j.fanOutEvents(ctx, tx, specName, specVersion, meta, n, s.BlockHash, valueHex); err != nil {
			return err
		}
	}
	return nil
}

func (j *ScaleDecode) fanOutEvents(ctx context.Context, tx *store.Tx, specName string, specVersion uint32, meta *metadata.Instant, n uint64, blockHash model.Hash, valueHex string) error {
	events, err := decode.DecodeEvents(valueHex, meta, specVersion)
	if err != nil {
		j.Logger.Warn("event fan-out decode failed", "block", n, "err", err)
		metrics.DecodeFailures.WithLabelValues("event").Inc()
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
			BlockNumber: n,
			EventModule: ev.EventModule,
			EventName:   ev.EventName,
			EventIndex:  eventIndexHex,
			Data:        ev.Data,
		}
		if err := tx.InsertCodecBlockEvent(ctx, row); err != nil {
			return fmt.Errorf("insert codec event %d: %w", idx, err)
		}
	}
	return nil
}

func hexString(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0x0f]
	}
	return string(out)
}
