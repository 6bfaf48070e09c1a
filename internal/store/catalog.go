package store

import (
	"context"

	"github.com/jackc/pgx/v4"

	"github.com/polkascan/harvester/internal/model"
)

// Catalog insert methods (§4.4). Each call is idempotent on the natural key
// of its table via ON CONFLICT DO NOTHING, since the catalog builder may be
// re-run for a (spec_name, spec_version) it has already seen.

func (t *Tx) InsertRuntime(ctx context.Context, r model.Runtime) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO runtime
			(spec_name, spec_version, impl_name, impl_version, authoring_version,
			 count_call_functions, count_events, count_pallets, count_storage_functions, count_constants, count_errors)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (spec_name, spec_version) DO NOTHING`,
		r.SpecName, r.SpecVersion, r.ImplName, r.ImplVersion, r.AuthoringVersion,
		r.CountCallFunctions, r.CountEvents, r.CountPallets, r.CountStorageFuncs, r.CountConstants, r.CountErrors)
	return err
}

func (t *Tx) InsertRuntimePallet(ctx context.Context, p model.RuntimePallet) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO runtime_pallet
			(spec_name, spec_version, pallet, index, prefix, name,
			 count_call_functions, count_storage_functions, count_events, count_constants, count_errors)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (spec_name, spec_version, pallet) DO NOTHING`,
		p.SpecName, p.SpecVersion, p.Pallet, p.Index, p.Prefix, p.Name,
		p.CountCallFunctions, p.CountStorageFuncs, p.CountEvents, p.CountConstants, p.CountErrors)
	return err
}

func (t *Tx) InsertRuntimeCall(ctx context.Context, c model.RuntimeCall) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO runtime_call
			(spec_name, spec_version, pallet, call_name, pallet_call_idx, lookup, documentation, count_arguments)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (spec_name, spec_version, pallet, call_name) DO NOTHING`,
		c.SpecName, c.SpecVersion, c.Pallet, c.CallName, c.PalletCallIdx, c.Lookup[:], c.Documentation, c.CountArguments)
	return err
}

func (t *Tx) InsertRuntimeCallArgument(ctx context.Context, a model.RuntimeCallArgument) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO runtime_call_argument
			(spec_name, spec_version, pallet, call_name, call_argument_idx, name, scale_type)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (spec_name, spec_version, pallet, call_name, call_argument_idx) DO NOTHING`,
		a.SpecName, a.SpecVersion, a.Pallet, a.CallName, a.CallArgumentIdx, a.Name, a.ScaleType)
	return err
}

func (t *Tx) InsertRuntimeEvent(ctx context.Context, e model.RuntimeEvent) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO runtime_event
			(spec_name, spec_version, pallet, event_name, pallet_event_idx, lookup, documentation, count_attributes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (spec_name, spec_version, pallet, event_name) DO NOTHING`,
		e.SpecName, e.SpecVersion, e.Pallet, e.EventName, e.PalletEventIdx, e.Lookup[:], e.Documentation, e.CountAttributes)
	return err
}

func (t *Tx) InsertRuntimeEventAttribute(ctx context.Context, a model.RuntimeEventAttribute) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO runtime_event_attribute
			(spec_name, spec_version, pallet, event_name, event_attribute_idx, scale_type)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (spec_name, spec_version, pallet, event_name, event_attribute_idx) DO NOTHING`,
		a.SpecName, a.SpecVersion, a.Pallet, a.EventName, a.EventAttributeIdx, a.ScaleType)
	return err
}

func (t *Tx) InsertRuntimeStorage(ctx context.Context, s model.RuntimeStorage) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO runtime_storage
			(spec_name, spec_version, pallet, storage_name, pallet_storage_idx, default_value, modifier,
			 key_prefix_pallet, key_prefix_name, key1_scale_type, key1_hasher, key2_scale_type, key2_hasher,
			 value_scale_type, is_linked, documentation)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (spec_name, spec_version, pallet, storage_name) DO NOTHING`,
		s.SpecName, s.SpecVersion, s.Pallet, s.StorageName, s.PalletStorageIdx, s.Default, s.Modifier,
		s.KeyPrefixPallet[:], s.KeyPrefixName[:], s.Key1ScaleType, s.Key1Hasher, s.Key2ScaleType, s.Key2Hasher,
		s.ValueScaleType, s.IsLinked, s.Documentation)
	return err
}

func (t *Tx) InsertRuntimeConstant(ctx context.Context, c model.RuntimeConstant) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO runtime_constant
			(spec_name, spec_version, pallet, constant_name, pallet_constant_idx, scale_type, value, documentation)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (spec_name, spec_version, pallet, constant_name) DO NOTHING`,
		c.SpecName, c.SpecVersion, c.Pallet, c.ConstantName, c.PalletConstantIdx, c.ScaleType, c.Value, c.Documentation)
	return err
}

func (t *Tx) InsertRuntimeErrorMessage(ctx context.Context, e model.RuntimeErrorMessage) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO runtime_error
			(spec_name, spec_version, pallet, error_name, pallet_idx, error_idx, documentation)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (spec_name, spec_version, pallet, error_name) DO NOTHING`,
		e.SpecName, e.SpecVersion, e.Pallet, e.ErrorName, e.PalletIdx, e.ErrorIdx, e.Documentation)
	return err
}

func (t *Tx) InsertRuntimeType(ctx context.Context, ty model.RuntimeType) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO runtime_type
			(spec_name, spec_version, scale_type, decoder_class, is_core_primitive, is_runtime_primitive)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (spec_name, spec_version, scale_type) DO NOTHING`,
		ty.SpecName, ty.SpecVersion, ty.ScaleType, ty.DecoderClass, ty.IsCorePrimitive, ty.IsRuntimePrimitive)
	return err
}

// GetRuntimeStorageDef looks up the storage definition needed to build a
// storage key and decode its value (§4.4 lookup, used by storage-task and
// scale_decode).
func (t *Tx) GetRuntimeStorageDef(ctx context.Context, specName string, specVersion uint32, pallet, storageName string) (model.RuntimeStorage, bool, error) {
	var s model.RuntimeStorage
	var kpp, kpn []byte
	err := t.tx.QueryRow(ctx, `
		SELECT spec_name, spec_version, pallet, storage_name, pallet_storage_idx, default_value, modifier,
		       key_prefix_pallet, key_prefix_name, key1_scale_type, key1_hasher, key2_scale_type, key2_hasher,
		       value_scale_type, is_linked, documentation
		FROM runtime_storage
		WHERE spec_name=$1 AND spec_version=$2 AND pallet=$3 AND storage_name=$4`,
		specName, specVersion, pallet, storageName).
		Scan(&s.SpecName, &s.SpecVersion, &s.Pallet, &s.StorageName, &s.PalletStorageIdx, &s.Default, &s.Modifier,
			&kpp, &kpn, &s.Key1ScaleType, &s.Key1Hasher, &s.Key2ScaleType, &s.Key2Hasher,
			&s.ValueScaleType, &s.IsLinked, &s.Documentation)
	if err == pgx.ErrNoRows {
		return model.RuntimeStorage{}, false, nil
	}
	if err != nil {
		return model.RuntimeStorage{}, false, err
	}
	copy(s.KeyPrefixPallet[:], kpp)
	copy(s.KeyPrefixName[:], kpn)
	return s, true, nil
}

// GetRuntimeEventByName resolves a decoded event's (pallet, event_name)
// pair back to its catalog row, used to recover the pallet_index||event_idx
// lookup bytes for CodecBlockEvent.EventIndex when the decoder's output
// carries names rather than indices (§4.5 events fan-out).
func (t *Tx) GetRuntimeEventByName(ctx context.Context, specName string, specVersion uint32, pallet, eventName string) (model.RuntimeEvent, bool, error) {
	var e model.RuntimeEvent
	var lk []byte
	err := t.tx.QueryRow(ctx, `
		SELECT spec_name, spec_version, pallet, event_name, pallet_event_idx, lookup, documentation, count_attributes
		FROM runtime_event WHERE spec_name=$1 AND spec_version=$2 AND pallet=$3 AND event_name=$4`,
		specName, specVersion, pallet, eventName).
		Scan(&e.SpecName, &e.SpecVersion, &e.Pallet, &e.EventName, &e.PalletEventIdx, &lk, &e.Documentation, &e.CountAttributes)
	if err == pgx.ErrNoRows {
		return model.RuntimeEvent{}, false, nil
	}
	if err != nil {
		return model.RuntimeEvent{}, false, err
	}
	copy(e.Lookup[:], lk)
	return e, true, nil
}
