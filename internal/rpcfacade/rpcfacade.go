// Package rpcfacade is the Local RPC Facade (§4.9): it answers the fixed
// subset of node JSON-RPC methods the SCALE decoder needs during historical
// replay, reading from the persistent store instead of the live node. It is
// in-process — "the local-facade 'socket' is a no-op" per §5 — exposing a
// single Handle method rather than listening on a port, separating a
// method-dispatch table from its transport the way an RPC daemon's command
// table separates handler logic from the wire protocol in front of it.
package rpcfacade

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/polkascan/harvester/internal/model"
)

// ErrNoHandler is returned for any method outside the fixed §4.9 subset.
var ErrNoHandler = fmt.Errorf("rpcfacade: no handler for method")

// Store is the read-only subset of *store.Tx the facade depends on.
type Store interface {
	GetStatus(ctx context.Context, key string) (string, bool, error)
	GetNodeBlockHeaderByNumber(ctx context.Context, number uint64) (model.NodeBlockHeader, bool, error)
	ListNodeBlockHeaderDigestLogsForBlock(ctx context.Context, blockNumber uint64) ([]model.NodeBlockHeaderDigestLog, error)
	ListNodeBlockExtrinsicsForBlock(ctx context.Context, blockNumber uint64) ([]model.NodeBlockExtrinsic, error)
	GetNodeBlockRuntimeByHash(ctx context.Context, hash model.Hash) (model.NodeBlockRuntime, bool, error)
	GetNodeMetadata(ctx context.Context, specName string, specVersion uint32) (model.NodeMetadata, bool, error)
	ListNodeBlockStorageForBlock(ctx context.Context, blockNumber uint64) ([]model.NodeBlockStorage, error)
}

// blockNumberIndex resolves a block hash to its block number; the facade
// needs this because the Store's header, extrinsic, digest-log and storage
// queries above are keyed by block_number, but
// §4.9's RPC params are block hashes, matching chain_getBlockHash's inverse
// mapping on the live node.
type blockNumberIndex interface {
	BlockNumberForHash(ctx context.Context, hash model.Hash) (uint64, bool, error)
}

// Facade implements the fixed §4.9 method subset.
type Facade struct {
	store Store
	index blockNumberIndex
}

func New(store Store, index blockNumberIndex) *Facade {
	return &Facade{store: store, index: index}
}

// Handle dispatches one JSON-RPC method call and returns its JSON result
// (mirroring the shape a websocket round trip through nodeclient would
// produce), or ErrNoHandler for anything outside §4.9's table.
func (f *Facade) Handle(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	switch method {
	case "system_name":
		return f.statusString(ctx, model.StatusSystemName)
	case "system_chain":
		return f.statusString(ctx, model.StatusSystemChain)
	case "system_properties":
		return f.statusRaw(ctx, model.StatusSystemProperties)
	case "rpc_methods":
		return json.Marshal(map[string]interface{}{"methods": supportedMethods()})
	case "chain_getHeader":
		return f.chainGetHeader(ctx, params)
	case "chain_getBlock":
		return f.chainGetBlock(ctx, params)
	case "chain_getRuntimeVersion", "state_getRuntimeVersion":
		return f.getRuntimeVersion(ctx, params)
	case "state_getMetadata":
		return f.getMetadata(ctx, params)
	case "state_getStorageAt":
		return f.getStorageAt(ctx, params)
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, method)
	}
}

func supportedMethods() []string {
	return []string{
		"system_name", "system_chain", "system_properties", "rpc_methods",
		"chain_getHeader", "chain_getBlock",
		"chain_getRuntimeVersion", "state_getRuntimeVersion",
		"state_getMetadata", "state_getStorageAt",
	}
}

func (f *Facade) statusString(ctx context.Context, key string) (json.RawMessage, error) {
	v, _, err := f.store.GetStatus(ctx, key)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func (f *Facade) statusRaw(ctx context.Context, key string) (json.RawMessage, error) {
	v, ok, err := f.store.GetStatus(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return json.Marshal(map[string]interface{}{})
	}
	return json.RawMessage(v), nil
}

func hashParam(params []interface{}, idx int) (model.Hash, error) {
	if idx >= len(params) {
		return model.Hash{}, fmt.Errorf("rpcfacade: missing block hash param %d", idx)
	}
	s, ok := params[idx].(string)
	if !ok {
		return model.Hash{}, fmt.Errorf("rpcfacade: param %d is not a hex hash", idx)
	}
	return model.HashFromHex(s)
}

func (f *Facade) blockNumberFor(ctx context.Context, hash model.Hash) (uint64, error) {
	n, ok, err := f.index.BlockNumberForHash(ctx, hash)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("rpcfacade: unknown block hash %s", hash.Hex())
	}
	return n, nil
}

type headerResult struct {
	ParentHash     string   `json:"parentHash"`
	Number         string   `json:"number"`
	StateRoot      string   `json:"stateRoot"`
	ExtrinsicsRoot string   `json:"extrinsicsRoot"`
	Digest         struct{ Logs []string `json:"logs"` } `json:"digest"`
}

func (f *Facade) chainGetHeader(ctx context.Context, params []interface{}) (json.RawMessage, error) {
	hash, err := hashParam(params, 0)
	if err != nil {
		return nil, err
	}
	number, err := f.blockNumberFor(ctx, hash)
	if err != nil {
		return nil, err
	}
	header, ok, err := f.store.GetNodeBlockHeaderByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("rpcfacade: %w: header for block %d", ErrNoHandler, number)
	}
	logs, err := f.store.ListNodeBlockHeaderDigestLogsForBlock(ctx, number)
	if err != nil {
		return nil, err
	}
	res := headerResult{
		ParentHash:     header.ParentHash.Hex(),
		Number:         fmt.Sprintf("0x%x", header.BlockNumber),
		StateRoot:      header.StateRoot.Hex(),
		ExtrinsicsRoot: header.ExtrinsicsRoot.Hex(),
	}
	for _, l := range logs {
		res.Digest.Logs = append(res.Digest.Logs, "0x"+hexEncode(l.Data))
	}
	return json.Marshal(res)
}

type blockResult struct {
	Block struct {
		Header     headerResult `json:"header"`
		Extrinsics []string     `json:"extrinsics"`
	} `json:"block"`
}

func (f *Facade) chainGetBlock(ctx context.Context, params []interface{}) (json.RawMessage, error) {
	hash, err := hashParam(params, 0)
	if err != nil {
		return nil, err
	}
	number, err := f.blockNumberFor(ctx, hash)
	if err != nil {
		return nil, err
	}
	headerJSON, err := f.chainGetHeader(ctx, params)
	if err != nil {
		return nil, err
	}
	var header headerResult
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, err
	}
	extrinsics, err := f.store.ListNodeBlockExtrinsicsForBlock(ctx, number)
	if err != nil {
		return nil, err
	}
	var res blockResult
	res.Block.Header = header
	for _, e := range extrinsics {
		res.Block.Extrinsics = append(res.Block.Extrinsics, "0x"+hexEncode(e.Length)+hexEncode(e.Data))
	}
	return json.Marshal(res)
}

func (f *Facade) getRuntimeVersion(ctx context.Context, params []interface{}) (json.RawMessage, error) {
	hash, err := hashParam(params, 0)
	if err != nil {
		return nil, err
	}
	runtime, ok, err := f.store.GetNodeBlockRuntimeByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("rpcfacade: %w: runtime for %s", ErrNoHandler, hash.Hex())
	}
	return json.Marshal(map[string]interface{}{
		"specName":    runtime.SpecName,
		"specVersion": runtime.SpecVersion,
	})
}

func (f *Facade) getMetadata(ctx context.Context, params []interface{}) (json.RawMessage, error) {
	hash, err := hashParam(params, 0)
	if err != nil {
		return nil, err
	}
	runtime, ok, err := f.store.GetNodeBlockRuntimeByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("rpcfacade: %w: runtime for %s", ErrNoHandler, hash.Hex())
	}
	meta, ok, err := f.store.GetNodeMetadata(ctx, runtime.SpecName, runtime.SpecVersion)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("rpcfacade: %w: metadata for %s/%d", ErrNoHandler, runtime.SpecName, runtime.SpecVersion)
	}
	return json.Marshal("0x" + hexEncode(meta.Data))
}

func (f *Facade) getStorageAt(ctx context.Context, params []interface{}) (json.RawMessage, error) {
	if len(params) < 2 {
		return nil, fmt.Errorf("rpcfacade: state_getStorageAt needs key and block hash")
	}
	keyHex, ok := params[0].(string)
	if !ok {
		return nil, fmt.Errorf("rpcfacade: storage key must be hex string")
	}
	hash, err := hashParam(params, 1)
	if err != nil {
		return nil, err
	}
	number, err := f.blockNumberFor(ctx, hash)
	if err != nil {
		return nil, err
	}
	rows, err := f.store.ListNodeBlockStorageForBlock(ctx, number)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if "0x"+hexEncode(row.StorageKey) == keyHex {
			if row.Data == nil {
				return json.Marshal(nil)
			}
			return json.Marshal("0x" + hexEncode(row.Data))
		}
	}
	return json.Marshal(nil)
}

func hexEncode(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0x0f]
	}
	return string(out)
}
