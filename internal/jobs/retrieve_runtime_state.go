package jobs

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ledgerwatch/log/v3"

	"github.com/polkascan/harvester/internal/catalog"
	"github.com/polkascan/harvester/internal/decode"
	"github.com/polkascan/harvester/internal/model"
	"github.com/polkascan/harvester/internal/nodeclient"
	"github.com/polkascan/harvester/internal/store"
)

// catalogTreeJSON serializes the projected catalog metadata tree for
// storage in CodecMetadata.Data; the decoded value stored there is a
// semi-structured JSON tree per §3, not the raw metadata blob kept in
// NodeMetadata.
func catalogTreeJSON(tree catalog.Metadata) (json.RawMessage, error) {
	data, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("marshal catalog metadata tree: %w", err)
	}
	return data, nil
}

// RetrieveRuntimeState is the Retrieve-Runtime-State job (§4.3): archive
// only. For each block it records the runtime version, captures any
// due storage-cron entries, and triggers metadata capture plus a catalog
// build the first time a (spec_name, spec_version) is seen.
type RetrieveRuntimeState struct {
	DB       *store.Store
	Node     *nodeclient.Client
	Registry *decode.Registry
	Logger   log.Logger
}

func (j *RetrieveRuntimeState) Run(ctx context.Context, interrupt *InterruptToken) error {
	logPrefix := "retrieve_runtime_state"
	j.Logger.Info(fmt.Sprintf("[%s] starting stage", logPrefix))
	defer j.Logger.Info(fmt.Sprintf("[%s] finished stage", logPrefix))

	next, maxAvailable, err := j.window(ctx)
	if err != nil {
		return err
	}

	for n := next; n <= maxAvailable; n++ {
		if interrupt.Requested() {
			j.Logger.Info(fmt.Sprintf("[%s] interrupt requested, stopping before block %d", logPrefix, n))
			return nil
		}
		if err := j.processBlock(ctx, n); err != nil {
			return fmt.Errorf("%s: block %d: %w", logPrefix, n, err)
		}
	}
	return nil
}

// window returns [next, maxAvailable]: next is one past the highest
// NodeBlockRuntime.block_number persisted so far (or 0), maxAvailable is
// the highest block_number currently in the raw node layer.
func (j *RetrieveRuntimeState) window(ctx context.Context) (uint64, uint64, error) {
	tx, err := j.DB.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	next, err := tx.NextNodeBlockRuntimeNumber(ctx)
	if err != nil {
		return 0, 0, err
	}
	maxStr, ok, err := tx.GetStatus(ctx, model.StatusProcessBlocksMaxBlockNumber)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return next, 0, nil
	}
	maxAvailable, err := strconv.ParseUint(maxStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse %s: %w", model.StatusProcessBlocksMaxBlockNumber, err)
	}
	return next, maxAvailable, nil
}

func (j *RetrieveRuntimeState) processBlock(ctx context.Context, n uint64) error {
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

	rv, err := j.Node.ChainGetRuntimeVersion(blockHashHex)
	if err != nil {
		return fmt.Errorf("chain_getRuntimeVersion(%s): %w", blockHashHex, err)
	}

	if err := tx.InsertNodeBlockRuntime(ctx, model.NodeBlockRuntime{
		Hash:        header.Hash,
		BlockNumber: n,
		SpecName:    rv.SpecName,
		SpecVersion: rv.SpecVersion,
	}); err != nil {
		return fmt.Errorf("insert node block runtime: %w", err)
	}

	if err := j.captureCron(ctx, tx, n, header.Hash, blockHashHex); err != nil {
		return err
	}

	apis := make([]string, 0, len(rv.APIs))
	for _, api := range rv.APIs {
		if len(api) > 0 {
			if s, ok := api[0].(string); ok {
				apis = append(apis, s)
			}
		}
	}
	if err := tx.UpsertNodeRuntime(ctx, model.NodeRuntime{
		ImplName:         rv.ImplName,
		ImplVersion:      rv.ImplVersion,
		SpecName:         rv.SpecName,
		SpecVersion:      rv.SpecVersion,
		AuthoringVersion: rv.AuthoringVersion,
		APIs:             apis,
	}); err != nil {
		return fmt.Errorf("upsert node runtime: %w", err)
	}

	if err := j.captureMetadataIfNew(ctx, tx, rv.SpecName, rv.SpecVersion, rv.ImplName, rv.ImplVersion, rv.AuthoringVersion, header.Hash, blockHashHex); err != nil {
		return err
	}

	if err := tx.SetStatus(ctx, model.StatusProcessStateMaxBlockNumber, strconv.FormatUint(n, 10)); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// captureCron implements §4.3 step 2: every active HarvesterStorageCron due
// at this block number has its value captured into NodeBlockStorage. The
// stored storage_key is used when present; otherwise the key is computed
// from pallet and storage name for this capture only and is not written back
// to harvester_storage_cron.
func (j *RetrieveRuntimeState) captureCron(ctx context.Context, tx *store.Tx, n uint64, blockHash model.Hash, blockHashHex string) error {
	crons, err := tx.ListActiveStorageCron(ctx)
	if err != nil {
		return err
	}
	for _, c := range crons {
		if c.BlockNumberInterval == 0 || n%c.BlockNumberInterval != 0 {
			continue
		}
		keyHex := ""
		if len(c.StorageKey) > 0 {
			keyHex = "0x" + hex.EncodeToString(c.StorageKey)
		} else {
			keyHex = decode.StorageKey(c.Pallet, c.StorageName)
		}
		valueHex, err := j.Node.StateGetStorageAt(keyHex, blockHashHex)
		if err != nil {
			return fmt.Errorf("state_getStorageAt(%s): %w", keyHex, err)
		}
		var data []byte
		if valueHex != "" {
			data, err = hex.DecodeString(strings.TrimPrefix(valueHex, "0x"))
			if err != nil {
				return fmt.Errorf("decode cron storage value: %w", err)
			}
		}
		keyBytes, err := hex.DecodeString(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			return fmt.Errorf("decode cron storage key: %w", err)
		}
		pallet, storageName := c.Pallet, c.StorageName
		if err := tx.InsertNodeBlockStorage(ctx, model.NodeBlockStorage{
			BlockHash:     blockHash,
			StorageKey:    keyBytes,
			BlockNumber:   n,
			StorageModule: &pallet,
			StorageName:   &storageName,
			Data:          data,
			Complete:      true,
		}); err != nil {
			return fmt.Errorf("insert cron-captured storage: %w", err)
		}
	}
	return nil
}

// captureMetadataIfNew implements §4.3 step 4: first sighting of a
// (spec_name, spec_version) coordinate captures its raw and decoded
// metadata and triggers the Runtime Catalog Builder.
func (j *RetrieveRuntimeState) captureMetadataIfNew(ctx context.Context, tx *store.Tx, specName string, specVersion uint32, implName string, implVersion, authoringVersion uint32, blockHash model.Hash, blockHashHex string) error {
	exists, err := tx.NodeMetadataExists(ctx, specName, specVersion)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	rawMetadataHex, err := j.Node.StateGetMetadata(blockHashHex)
	if err != nil {
		return fmt.Errorf("state_getMetadata(%s): %w", blockHashHex, err)
	}
	rawMetadata, err := hex.DecodeString(strings.TrimPrefix(rawMetadataHex, "0x"))
	if err != nil {
		return fmt.Errorf("decode raw metadata: %w", err)
	}
	if err := tx.InsertNodeMetadata(ctx, model.NodeMetadata{
		SpecName:    specName,
		SpecVersion: specVersion,
		BlockHash:   blockHash,
		Data:        rawMetadata,
	}); err != nil {
		return fmt.Errorf("insert node metadata: %w", err)
	}

	if _, err := j.Registry.Register(specName, specVersion, rawMetadataHex); err != nil {
		return fmt.Errorf("register metadata: %w", err)
	}

	tree, err := j.Registry.ProjectCatalogMetadata(specName, specVersion)
	if err != nil {
		return fmt.Errorf("project catalog metadata: %w", err)
	}
	decodedTreeJSON, err := catalogTreeJSON(tree)
	if err != nil {
		return err
	}
	if err := tx.UpsertCodecMetadata(ctx, model.CodecMetadata{
		SpecName:    specName,
		SpecVersion: specVersion,
		ScaleType:   "MetadataVersioned",
		Data:        decodedTreeJSON,
		Complete:    true,
	}); err != nil {
		return fmt.Errorf("upsert codec metadata: %w", err)
	}

	if _, err := catalog.Build(ctx, tx, specName, specVersion, implName, implVersion, authoringVersion, tree); err != nil {
		return fmt.Errorf("build runtime catalog: %w", err)
	}
	return nil
}
