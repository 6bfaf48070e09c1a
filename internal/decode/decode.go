// Package decode wraps the external SCALE codec library
// (github.com/itering/substrate-api-rpc) behind the narrow surface the
// harvester needs: registering metadata per (spec_name, spec_version) and
// decoding extrinsics, digest logs, and the System.Events storage value
// (§4.5, §4.6). Call shape is grounded on
// other_examples/18ac75ce_pierreaubert-dotidx__dix-chainreader_rpc.go.go's
// decodeExtrinsics/decodeEvents/buildBlockData, which drives the same
// library against a live node.
package decode

import (
	"encoding/json"
	"fmt"
	"sync"

	substrate "github.com/itering/substrate-api-rpc"
	"github.com/itering/substrate-api-rpc/metadata"
	"github.com/itering/substrate-api-rpc/storageKey"

	"github.com/polkascan/harvester/internal/harvesterrors"
)

// STORAGE_KEY_EVENTS is the well-known twox128("System")++twox128("Events")
// storage key every System.Events decode targets (§4.6 step "events").
const STORAGE_KEY_EVENTS = "0x26aa394eea5630e07c48ae0c9558cef780d41e5e16056765bc8461851072c9d7"

// Registry caches one *metadata.Instant per (spec_name, spec_version), since
// registering metadata with the codec library is not free and a runtime's
// metadata never changes once captured (§4.5).
type Registry struct {
	mu    sync.Mutex
	cache map[string]*metadata.Instant
}

func NewRegistry() *Registry {
	return &Registry{cache: map[string]*metadata.Instant{}}
}

func cacheKey(specName string, specVersion uint32) string {
	return fmt.Sprintf("%s/%d", specName, specVersion)
}

// Register parses rawMetadataHex (as returned by state_getMetadata) and
// caches it under (specName, specVersion). Safe to call repeatedly; a
// second call for the same key is a no-op returning the cached instance.
func (r *Registry) Register(specName string, specVersion uint32, rawMetadataHex string) (*metadata.Instant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := cacheKey(specName, specVersion)
	if m, ok := r.cache[key]; ok {
		return m, nil
	}
	m := metadata.RegNewMetadataType(int(specVersion), rawMetadataHex)
	if m == nil {
		return nil, fmt.Errorf("decode: %w: metadata rejected for %s", harvesterrors.ErrBlockDecode, key)
	}
	r.cache[key] = m
	return m, nil
}

func (r *Registry) Lookup(specName string, specVersion uint32) (*metadata.Instant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.cache[cacheKey(specName, specVersion)]
	return m, ok
}

// DecodedExtrinsic is one element of DecodeExtrinsics' result, narrowed to
// what codec_block_extrinsic needs (§3).
type DecodedExtrinsic struct {
	CallModule string
	CallName   string
	Signed     bool
	Data       json.RawMessage
}

// DecodeExtrinsics decodes every extrinsic in a block body against the
// metadata registered for specVersion.
func DecodeExtrinsics(extrinsicsHex []string, meta *metadata.Instant, specVersion uint32) ([]DecodedExtrinsic, error) {
	raw, err := substrate.DecodeExtrinsic(extrinsicsHex, meta, int(specVersion))
	if err != nil {
		return nil, fmt.Errorf("decode extrinsics: %w: %v", harvesterrors.ErrDecodeRecord, err)
	}
	list, ok := raw.([]map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("decode extrinsics: %w: unexpected result shape %T", harvesterrors.ErrDecodeRecord, raw)
	}
	out := make([]DecodedExtrinsic, 0, len(list))
	for _, item := range list {
		callModule, _ := item["call_module"].(string)
		callName, _ := item["call_module_function"].(string)
		signed, _ := item["signed"].(bool)
		data, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("decode extrinsics: %w: %v", harvesterrors.ErrDecodeRecord, err)
		}
		out = append(out, DecodedExtrinsic{CallModule: callModule, CallName: callName, Signed: signed, Data: data})
	}
	return out, nil
}

// DecodeDigestLogs decodes a block header's digest log entries.
func DecodeDigestLogs(logsHex []string) (json.RawMessage, error) {
	decoded, err := substrate.DecodeLogDigest(logsHex)
	if err != nil {
		return nil, fmt.Errorf("decode digest logs: %w: %v", harvesterrors.ErrDecodeRecord, err)
	}
	data, err := json.Marshal(decoded)
	if err != nil {
		return nil, fmt.Errorf("decode digest logs: %w: %v", harvesterrors.ErrDecodeRecord, err)
	}
	return data, nil
}

// DecodedEvent is one fanned-out row of the System.Events storage vector,
// shaped for codec_block_event (§3, §4.6).
type DecodedEvent struct {
	EventModule string
	EventName   string
	Data        json.RawMessage
}

// DecodeEvents decodes the raw System.Events storage value (hex-encoded)
// into its component event rows.
func DecodeEvents(rawEventsHex string, meta *metadata.Instant, specVersion uint32) ([]DecodedEvent, error) {
	if rawEventsHex == "" || rawEventsHex == "0x" {
		return nil, nil
	}
	decoded, err := substrate.DecodeEvent(rawEventsHex, meta, int(specVersion))
	if err != nil {
		return nil, fmt.Errorf("decode events: %w: %v", harvesterrors.ErrDecodeRecord, err)
	}
	list, ok := decoded.([]interface{})
	if !ok {
		return nil, fmt.Errorf("decode events: %w: unexpected result shape %T", harvesterrors.ErrDecodeRecord, decoded)
	}
	out := make([]DecodedEvent, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		module, _ := m["module_id"].(string)
		name, _ := m["event_id"].(string)
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("decode events: %w: %v", harvesterrors.ErrDecodeRecord, err)
		}
		out = append(out, DecodedEvent{EventModule: module, EventName: name, Data: data})
	}
	return out, nil
}

// DecodeValue is the one primitive §1 calls out explicitly as the external
// codec library's contract: "decode bytes + type string → value". It backs
// storage-entry decoding (§4.5) where the scale_type comes from the
// Runtime Catalog's declared RuntimeStorage.ValueScaleType rather than a
// fixed type name, using the same (meta, specVersion) shape as
// DecodeExtrinsics/DecodeEvents.
func DecodeValue(scaleType string, hexData string, meta *metadata.Instant, specVersion uint32) (json.RawMessage, error) {
	if hexData == "" || hexData == "0x" {
		return nil, nil
	}
	decoded, err := substrate.DecodeValue(scaleType, hexData, meta, int(specVersion))
	if err != nil {
		return nil, fmt.Errorf("decode value %s: %w: %v", scaleType, harvesterrors.ErrDecodeRecord, err)
	}
	data, err := json.Marshal(decoded)
	if err != nil {
		return nil, fmt.Errorf("decode value %s: %w: %v", scaleType, harvesterrors.ErrDecodeRecord, err)
	}
	return data, nil
}

// StorageKey builds the xxh128(pallet)||xxh128(name) prefix for a Plain
// storage item, delegating the hash itself to the codec library's
// storageKey helper rather than reimplementing twox128 (§4.3 step 2, §4.4).
func StorageKey(pallet, name string) string {
	return storageKey.EncodeStorageKey(pallet, name).EncodeKey
}
