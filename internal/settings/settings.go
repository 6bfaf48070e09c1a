// Package settings models the dynamic, runtime-reloadable half of
// configuration: the HarvesterStatus control rows, reloaded into an
// immutable snapshot at the head of every supervisor iteration (§4.1, §9).
// The supervisor uses the snapshot to decide which stages run; stages
// themselves receive only the context and the interrupt token.
package settings

import (
	"strconv"

	"github.com/polkascan/harvester/internal/model"
)

// NodeType gates which stages may run (§4.1: "On archive node type
// state/decode/etl run; otherwise they are skipped").
type NodeType string

const (
	NodeTypeArchive NodeType = "archive"
	NodeTypeFull    NodeType = "full"
	NodeTypeLight   NodeType = "light"
)

// Snapshot is the immutable settings view a supervisor iteration consults
// when gating and configuring the stages it invokes. It never mutates after
// construction; the next iteration builds a fresh one.
type Snapshot struct {
	NodeType NodeType

	EnableHarvester   bool
	EnableBlocks      bool
	EnableState       bool
	EnableDecode      bool
	EnableCron        bool
	EnableEtl         bool
	EnableStorageTask bool

	CronRetryMaxAttempts int

	SystemChain      string
	SystemName       string
	SystemProperties string

	raw map[string]string
}

const defaultCronRetryMaxAttempts = 5

// FromStatus builds a Snapshot from the raw HarvesterStatus key/value rows
// loaded at the head of a supervisor iteration, plus the statically
// configured node type (NODE_TYPE is a startup env var per §6, not a
// HarvesterStatus row).
func FromStatus(raw map[string]string, nodeType NodeType) Snapshot {
	s := Snapshot{
		NodeType:             nodeType,
		EnableHarvester:      boolOr(raw, model.StatusEnableHarvester, true),
		EnableBlocks:         boolOr(raw, model.StatusEnableBlocks, true),
		EnableState:          boolOr(raw, model.StatusEnableState, true),
		EnableDecode:         boolOr(raw, model.StatusEnableDecode, true),
		EnableCron:           boolOr(raw, model.StatusEnableCron, true),
		EnableEtl:            boolOr(raw, model.StatusEnableEtl, true),
		EnableStorageTask:    boolOr(raw, model.StatusEnableStorageTask, true),
		CronRetryMaxAttempts: intOr(raw, model.StatusCronRetryMaxAttempts, defaultCronRetryMaxAttempts),
		SystemChain:          raw[model.StatusSystemChain],
		SystemName:           raw[model.StatusSystemName],
		SystemProperties:     raw[model.StatusSystemProperties],
		raw:                  raw,
	}
	return s
}

// Archive reports whether state/decode/etl stages are permitted to run.
func (s Snapshot) Archive() bool { return s.NodeType == NodeTypeArchive }

// Raw exposes a status value not promoted to a typed field, for callers
// that need a free-form watermark key (PROCESS_*_MAX_BLOCKNUMBER,
// CHAINTIP_*, FINALIZATION_*).
func (s Snapshot) Raw(key string) (string, bool) {
	v, ok := s.raw[key]
	return v, ok
}

func boolOr(raw map[string]string, key string, def bool) bool {
	v, ok := raw[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func intOr(raw map[string]string, key string, def int) int {
	v, ok := raw[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
