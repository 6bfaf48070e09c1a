// Package catalog is the Runtime Catalog Builder (§4.4): given a decoded
// MetadataVersioned tree for a (spec_name, spec_version) coordinate, it
// persists RuntimePallet/RuntimeCall/RuntimeCallArgument/RuntimeEvent/
// RuntimeEventAttribute/RuntimeStorage/RuntimeConstant/RuntimeErrorMessage/
// RuntimeType rows and a summary Runtime row.
//
// Walks the decoded tree's "pallets" slice the way a metadata_decoder.pallets
// walk would: module index/explicit index, call/event lookup as
// pallet_index||item_index, Plain vs Map storage shape, and constant
// decode-or-raw-bytes fallback.
package catalog

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/itering/substrate-api-rpc/storageKey"

	"github.com/polkascan/harvester/internal/model"
)

// Store is the subset of *store.Tx the catalog builder writes through. A
// narrow interface keeps this package testable against a fake without
// importing the store package's pgx dependency.
type Store interface {
	InsertRuntime(ctx context.Context, r model.Runtime) error
	InsertRuntimePallet(ctx context.Context, p model.RuntimePallet) error
	InsertRuntimeCall(ctx context.Context, c model.RuntimeCall) error
	InsertRuntimeCallArgument(ctx context.Context, a model.RuntimeCallArgument) error
	InsertRuntimeEvent(ctx context.Context, e model.RuntimeEvent) error
	InsertRuntimeEventAttribute(ctx context.Context, a model.RuntimeEventAttribute) error
	InsertRuntimeStorage(ctx context.Context, s model.RuntimeStorage) error
	InsertRuntimeConstant(ctx context.Context, c model.RuntimeConstant) error
	InsertRuntimeErrorMessage(ctx context.Context, e model.RuntimeErrorMessage) error
	InsertRuntimeType(ctx context.Context, t model.RuntimeType) error
}

// pallet is the generic shape this package expects a decoded metadata
// module to present; the SCALE decoder runtime's metadata-to-JSON
// projection is responsible for getting raw library output into this form.
type pallet struct {
	Name      string
	Index     *uint8
	Calls     []item
	Events    []item
	Storage   []storageEntry
	Constants []constant
	Errors    []item
}

type item struct {
	Name       string
	Index      *uint8
	Docs       string
	Args       []argument // calls only
	Attributes []string   // events only: scale types of each field
}

type argument struct {
	Name     string
	TypeName string
	Type     string
}

type storageEntry struct {
	Name       string
	Modifier   string
	IsMap      bool
	Key1Type   string
	Key1Hasher string
	Key2Type   string
	Key2Hasher string
	ValueType  string
	Default    []byte
	Docs       string
}

type constant struct {
	Name  string
	Type  string
	Value []byte
	Docs  string
}

type runtimeType struct {
	ScaleType          string
	DecoderClass       string
	IsCorePrimitive    bool
	IsRuntimePrimitive bool
}

// Metadata is the input tree: every pallet in the runtime, in declaration
// order (position is used as the fallback index per §4.4), plus the
// decoder's enumerated type registry for this block hash.
type Metadata struct {
	Pallets []pallet
	Types   []runtimeType
}

// Build persists the full catalog for one (spec_name, spec_version) and
// returns the aggregated Runtime summary row.
func Build(ctx context.Context, db Store, specName string, specVersion uint32, implName string, implVersion, authoringVersion uint32, md Metadata) (model.Runtime, error) {
	runtime := model.Runtime{
		SpecName:         specName,
		SpecVersion:      specVersion,
		ImplName:         implName,
		ImplVersion:      implVersion,
		AuthoringVersion: authoringVersion,
		CountPallets:     len(md.Pallets),
	}

	for moduleIndex, p := range md.Pallets {
		palletIndex := uint8(moduleIndex)
		if p.Index != nil {
			palletIndex = *p.Index
		}

		prefix := palletPrefixHex(p.Name)

		rp := model.RuntimePallet{
			SpecName:           specName,
			SpecVersion:        specVersion,
			Pallet:             p.Name,
			Index:              palletIndex,
			Prefix:             prefix,
			Name:               p.Name,
			CountCallFunctions: len(p.Calls),
			CountStorageFuncs:  len(p.Storage),
			CountEvents:        len(p.Events),
			CountConstants:     len(p.Constants),
			CountErrors:        len(p.Errors),
		}
		if err := db.InsertRuntimePallet(ctx, rp); err != nil {
			return model.Runtime{}, fmt.Errorf("catalog: insert pallet %s: %w", p.Name, err)
		}

		if err := buildCalls(ctx, db, specName, specVersion, palletIndex, p); err != nil {
			return model.Runtime{}, err
		}
		if err := buildEvents(ctx, db, specName, specVersion, palletIndex, p); err != nil {
			return model.Runtime{}, err
		}
		if err := buildStorage(ctx, db, specName, specVersion, p); err != nil {
			return model.Runtime{}, err
		}
		if err := buildConstants(ctx, db, specName, specVersion, p); err != nil {
			return model.Runtime{}, err
		}
		if err := buildErrors(ctx, db, specName, specVersion, palletIndex, p); err != nil {
			return model.Runtime{}, err
		}

		runtime.CountCallFunctions += len(p.Calls)
		runtime.CountEvents += len(p.Events)
		runtime.CountStorageFuncs += len(p.Storage)
		runtime.CountConstants += len(p.Constants)
		runtime.CountErrors += len(p.Errors)
	}

	for _, ty := range md.Types {
		rt := model.RuntimeType{
			SpecName:           specName,
			SpecVersion:        specVersion,
			ScaleType:          ty.ScaleType,
			DecoderClass:       ty.DecoderClass,
			IsCorePrimitive:    ty.IsCorePrimitive,
			IsRuntimePrimitive: ty.IsRuntimePrimitive,
		}
		if err := db.InsertRuntimeType(ctx, rt); err != nil {
			return model.Runtime{}, fmt.Errorf("catalog: insert type %s: %w", ty.ScaleType, err)
		}
	}

	if err := db.InsertRuntime(ctx, runtime); err != nil {
		return model.Runtime{}, fmt.Errorf("catalog: insert runtime %s/%d: %w", specName, specVersion, err)
	}
	return runtime, nil
}

func buildCalls(ctx context.Context, db Store, specName string, specVersion uint32, palletIndex uint8, p pallet) error {
	for callIdx, call := range p.Calls {
		callIndex := uint8(callIdx)
		if call.Index != nil {
			callIndex = *call.Index
		}
		rc := model.RuntimeCall{
			SpecName:       specName,
			SpecVersion:    specVersion,
			Pallet:         p.Name,
			CallName:       call.Name,
			PalletCallIdx:  callIndex,
			Lookup:         lookupKey(palletIndex, callIndex),
			Documentation:  call.Docs,
			CountArguments: len(call.Args),
		}
		if err := db.InsertRuntimeCall(ctx, rc); err != nil {
			return fmt.Errorf("catalog: insert call %s.%s: %w", p.Name, call.Name, err)
		}
		for argIdx, arg := range call.Args {
			scaleType := arg.TypeName
			if scaleType == "" {
				scaleType = arg.Type
			}
			ca := model.RuntimeCallArgument{
				SpecName:        specName,
				SpecVersion:     specVersion,
				Pallet:          p.Name,
				CallName:        call.Name,
				CallArgumentIdx: argIdx,
				Name:            arg.Name,
				ScaleType:       scaleType,
			}
			if err := db.InsertRuntimeCallArgument(ctx, ca); err != nil {
				return fmt.Errorf("catalog: insert call argument %s.%s[%d]: %w", p.Name, call.Name, argIdx, err)
			}
		}
	}
	return nil
}

func buildEvents(ctx context.Context, db Store, specName string, specVersion uint32, palletIndex uint8, p pallet) error {
	for eventIdx, ev := range p.Events {
		eventIndex := uint8(eventIdx)
		if ev.Index != nil {
			eventIndex = *ev.Index
		}
		re := model.RuntimeEvent{
			SpecName:        specName,
			SpecVersion:     specVersion,
			Pallet:          p.Name,
			EventName:       ev.Name,
			PalletEventIdx:  eventIndex,
			Lookup:          lookupKey(palletIndex, eventIndex),
			Documentation:   ev.Docs,
			CountAttributes: len(ev.Attributes),
		}
		if err := db.InsertRuntimeEvent(ctx, re); err != nil {
			return fmt.Errorf("catalog: insert event %s.%s: %w", p.Name, ev.Name, err)
		}
		for attrIdx, scaleType := range ev.Attributes {
			ea := model.RuntimeEventAttribute{
				SpecName:          specName,
				SpecVersion:       specVersion,
				Pallet:            p.Name,
				EventName:         ev.Name,
				EventAttributeIdx: attrIdx,
				ScaleType:         scaleType,
			}
			if err := db.InsertRuntimeEventAttribute(ctx, ea); err != nil {
				return fmt.Errorf("catalog: insert event attribute %s.%s[%d]: %w", p.Name, ev.Name, attrIdx, err)
			}
		}
	}
	return nil
}

func buildStorage(ctx context.Context, db Store, specName string, specVersion uint32, p pallet) error {
	for idx, s := range p.Storage {
		rs := model.RuntimeStorage{
			SpecName:         specName,
			SpecVersion:      specVersion,
			Pallet:           p.Name,
			StorageName:      s.Name,
			PalletStorageIdx: idx,
			Default:          s.Default,
			Modifier:         s.Modifier,
			ValueScaleType:   s.ValueType,
			Documentation:    s.Docs,
		}
		rs.KeyPrefixPallet, rs.KeyPrefixName = storagePrefixHalves(p.Name, s.Name)
		if s.IsMap {
			rs.Key1ScaleType, rs.Key1Hasher = s.Key1Type, s.Key1Hasher
			rs.Key2ScaleType, rs.Key2Hasher = s.Key2Type, s.Key2Hasher
		}
		if err := db.InsertRuntimeStorage(ctx, rs); err != nil {
			return fmt.Errorf("catalog: insert storage %s.%s: %w", p.Name, s.Name, err)
		}
	}
	return nil
}

func buildConstants(ctx context.Context, db Store, specName string, specVersion uint32, p pallet) error {
	for idx, c := range p.Constants {
		value, err := decodeOrRaw(c.Type, c.Value)
		if err != nil {
			value = c.Value
		}
		rc := model.RuntimeConstant{
			SpecName:          specName,
			SpecVersion:       specVersion,
			Pallet:            p.Name,
			ConstantName:      c.Name,
			PalletConstantIdx: idx,
			ScaleType:         c.Type,
			Value:             value,
			Documentation:     c.Docs,
		}
		if err := db.InsertRuntimeConstant(ctx, rc); err != nil {
			return fmt.Errorf("catalog: insert constant %s.%s: %w", p.Name, c.Name, err)
		}
	}
	return nil
}

func buildErrors(ctx context.Context, db Store, specName string, specVersion uint32, palletIndex uint8, p pallet) error {
	for idx, e := range p.Errors {
		errIdx := uint8(idx)
		if e.Index != nil {
			errIdx = *e.Index
		}
		re := model.RuntimeErrorMessage{
			SpecName:      specName,
			SpecVersion:   specVersion,
			Pallet:        p.Name,
			ErrorName:     e.Name,
			PalletIdx:     palletIndex,
			ErrorIdx:      errIdx,
			Documentation: e.Docs,
		}
		if err := db.InsertRuntimeErrorMessage(ctx, re); err != nil {
			return fmt.Errorf("catalog: insert error %s.%s: %w", p.Name, e.Name, err)
		}
	}
	return nil
}

// decodeOrRaw serializes a constant's value for RuntimeConstant.Value. It
// does not run the codec library on the value: for the byte-array types
// listed in looksLikeByteArrayType it returns the raw bytes as a JSON hex
// string, and for an empty value or any other type it returns an error, on
// which buildConstants keeps the raw constant bytes. Composite values are
// therefore stored as raw bytes, not as JSON.
func decodeOrRaw(scaleType string, raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("catalog: empty constant value")
	}
	if looksLikeByteArrayType(scaleType) {
		return json.Marshal(hex.EncodeToString(raw))
	}
	return nil, fmt.Errorf("catalog: %s requires full decode context", scaleType)
}

func looksLikeByteArrayType(scaleType string) bool {
	switch scaleType {
	case "[u8; 32]", "[u8; 20]", "[u8; 16]", "[u8; 8]", "[u8; 4]", "Vec<u8>":
		return true
	}
	return false
}

// lookupKey builds the 2-byte pallet_index||item_index key used to resolve
// a decoded call or event back to its catalog row without re-parsing
// metadata (§4.4).
func lookupKey(palletIndex, itemIndex uint8) [2]byte {
	return [2]byte{palletIndex, itemIndex}
}

// storagePrefixHalves returns (xxh128(pallet), xxh128(name)) — the two-part
// storage key prefix from §4.3 step 2 and §4.4. twox128 needs two XXH64
// passes with distinct seeds, which cespare/xxhash/v2 has no API for; rather
// than hand-roll a seeded variant and risk a silently wrong hash, this
// delegates to the codec library's own storageKey.EncodeStorageKey, which
// already produces the correct xxh128(pallet)||xxh128(name) 32-byte key
// (see decode.StorageKey's use of the same call) and simply splits it in
// half.
func storagePrefixHalves(pallet, name string) (palletHalf, nameHalf [16]byte) {
	combined := strings.TrimPrefix(storageKey.EncodeStorageKey(pallet, name).EncodeKey, "0x")
	raw, err := hex.DecodeString(combined)
	if err != nil || len(raw) < 32 {
		return palletHalf, nameHalf
	}
	copy(palletHalf[:], raw[0:16])
	copy(nameHalf[:], raw[16:32])
	return palletHalf, nameHalf
}

func palletPrefixHex(pallet string) string {
	half, _ := storagePrefixHalves(pallet, "")
	return hex.EncodeToString(half[:])
}
