package model

// HarvesterStatus keys, one row per key in the control table (§3): stage
// enable flags, per-stage watermarks, chain tip and finalization markers,
// chain identity strings, and the cron-retry attempt ceiling.
const (
	StatusEnableHarvester   = "ENABLE_HARVESTER"
	StatusEnableBlocks      = "ENABLE_STAGE_BLOCKS"
	StatusEnableState       = "ENABLE_STAGE_STATE"
	StatusEnableDecode      = "ENABLE_STAGE_DECODE"
	StatusEnableCron        = "ENABLE_STAGE_CRON"
	StatusEnableEtl         = "ENABLE_STAGE_ETL"
	StatusEnableStorageTask = "ENABLE_STAGE_STORAGE_TASK"

	StatusProcessBlocksMaxBlockNumber  = "PROCESS_BLOCKS_MAX_BLOCKNUMBER"
	StatusProcessStateMaxBlockNumber   = "PROCESS_STATE_MAX_BLOCKNUMBER"
	StatusProcessDecoderMaxBlockNumber = "PROCESS_DECODER_MAX_BLOCKNUMBER"
	StatusProcessEtl                   = "PROCESS_ETL"

	StatusChainTipBlockNumber    = "CHAINTIP_BLOCKNUMBER"
	StatusChainTipHash           = "CHAINTIP_HASH"
	StatusFinalizationBlockNum   = "FINALIZATION_BLOCKNUMBER"
	StatusFinalizationHash       = "FINALIZATION_HASH"

	StatusSystemChain      = "SYSTEM_CHAIN"
	StatusSystemName       = "SYSTEM_NAME"
	StatusSystemProperties = "SYSTEM_PROPERTIES"

	StatusCronRetryMaxAttempts = "CRON_RETRY_MAX_ATTEMPTS"
)

// HarvesterStorageCron mirrors harvester_storage_cron: a recurring capture
// of a storage entry every N blocks (§4.3 step 2).
type HarvesterStorageCron struct {
	ID                 int64
	Active             bool
	BlockNumberInterval uint64
	Pallet             string
	StorageName        string
	StorageKey         []byte // when empty, computed at capture time and not stored back
}

// BlocksSpec is the normalized `blocks` field of a HarvesterStorageTask: an
// explicit id list, or an inclusive [BlockStart, BlockEnd] range (§3, §4.8).
type BlocksSpec struct {
	BlockIDs   []uint64
	BlockStart *uint64
	BlockEnd   *uint64
}

// Resolve expands the spec into a concrete, ordered list of block numbers.
func (b BlocksSpec) Resolve() []uint64 {
	if len(b.BlockIDs) > 0 {
		out := make([]uint64, len(b.BlockIDs))
		copy(out, b.BlockIDs)
		return out
	}
	if b.BlockStart == nil || b.BlockEnd == nil {
		return nil
	}
	if *b.BlockEnd < *b.BlockStart {
		return nil
	}
	out := make([]uint64, 0, *b.BlockEnd-*b.BlockStart+1)
	for n := *b.BlockStart; n <= *b.BlockEnd; n++ {
		out = append(out, n)
	}
	return out
}

// HarvesterStorageTask mirrors harvester_storage_task (§3, §4.8).
type HarvesterStorageTask struct {
	ID               int64
	Pallet           string
	StorageName      string
	StorageKey       []byte // explicit key, mutually exclusive with prefix scan
	StorageKeyPrefix []byte
	Blocks           BlocksSpec
	Complete         bool
}
