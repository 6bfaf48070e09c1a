package model

import "encoding/json"

// RetryState is the explicit small state machine that the original harvester
// modeled with two independent booleans (complete, retry). Promoting it to
// an enum with a bounded attempt counter resolves the §9 design note: a row
// moves FRESH -> RETRY -> COMPLETE, or RETRY -> FAILED_EXHAUSTED once
// RetryCount exceeds the configured ceiling.
type RetryState int

const (
	RetryStateFresh RetryState = iota
	RetryStateRetry
	RetryStateComplete
	RetryStateFailedExhausted
)

func (s RetryState) Complete() bool { return s == RetryStateComplete }
func (s RetryState) Retry() bool    { return s == RetryStateRetry }

// CodecBlockExtrinsic mirrors codec_block_extrinsic; key=(block_hash, extrinsic_idx).
type CodecBlockExtrinsic struct {
	BlockHash    Hash
	ExtrinsicIdx uint32
	BlockNumber  uint64
	ScaleType    string
	CallModule   *string
	CallName     *string
	Signed       *bool
	Data         json.RawMessage
	State        RetryState
	RetryCount   int
}

// CodecBlockHeaderDigestLog mirrors codec_block_header_digest_log.
type CodecBlockHeaderDigestLog struct {
	BlockHash   Hash
	LogIdx      uint32
	BlockNumber uint64
	ScaleType   string
	Data        json.RawMessage
	State       RetryState
	RetryCount  int
}

// CodecBlockStorage mirrors codec_block_storage.
type CodecBlockStorage struct {
	BlockHash     Hash
	StorageKey    []byte
	BlockNumber   uint64
	ScaleType     string
	StorageModule *string
	StorageName   *string
	Data          json.RawMessage
	State         RetryState
	RetryCount    int
}

// CodecBlockEvent is derived from the decoded System.Events storage value;
// key=(block_hash, event_idx).
type CodecBlockEvent struct {
	BlockHash    Hash
	EventIdx     uint32
	BlockNumber  uint64
	EventModule  string
	EventName    string
	ExtrinsicIdx *uint32
	EventIndex   string // 0x-prefixed 4-hex-char string, e.g. "0x0702"
	Data         json.RawMessage
}

// CodecMetadata mirrors codec_metadata; key=(spec_name, spec_version).
type CodecMetadata struct {
	SpecName    string
	SpecVersion uint32
	ScaleType   string
	Data        json.RawMessage
	Complete    bool
}

// CodecBlockTimestamp is the OLAP calendar-dimension row derived from a
// block's Timestamp.set extrinsic, pre-computing the date parts a
// downstream time-series query would otherwise have to derive from
// TimestampMs on every read.
type CodecBlockTimestamp struct {
	BlockNumber uint64
	BlockHash   Hash
	TimestampMs uint64

	Year, Quarter, Month, Week, Day, Hour, Minute, Second int
	FullQuarter, FullMonth, FullWeek, FullDay, FullHour   int64
	FullMinute, FullSecond                                int64
	Weekday                                               int
	WeekdayName, MonthName                                string
	Weekend                                                bool

	Range10000, Range100000, Range1000000 int64

	State      RetryState
	RetryCount int
}
