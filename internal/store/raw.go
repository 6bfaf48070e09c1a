package store

import (
	"context"

	"github.com/jackc/pgx/v4"

	"github.com/polkascan/harvester/internal/model"
)

// NextNodeBlockHeaderNumber returns the next block number to ingest (§4.2):
// max(block_number)+1 over node_block_header, or 0 if the table is empty.
func (t *Tx) NextNodeBlockHeaderNumber(ctx context.Context) (uint64, error) {
	var max *int64
	if err := t.tx.QueryRow(ctx, `SELECT max(block_number) FROM node_block_header`).Scan(&max); err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return uint64(*max) + 1, nil
}

func (t *Tx) InsertNodeBlockHeader(ctx context.Context, h model.NodeBlockHeader) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO node_block_header
			(hash, parent_hash, state_root, extrinsics_root, number, block_number, count_extrinsics, count_logs)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		h.Hash[:], h.ParentHash[:], h.StateRoot[:], h.ExtrinsicsRoot[:], h.Number, h.BlockNumber, h.CountExtrinsics, h.CountLogs)
	return err
}

func (t *Tx) InsertNodeBlockExtrinsic(ctx context.Context, e model.NodeBlockExtrinsic) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO node_block_extrinsic (block_hash, extrinsic_idx, block_number, data, length, hash)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		e.BlockHash[:], e.ExtrinsicIdx, e.BlockNumber, e.Data, e.Length, e.Hash[:])
	return err
}

func (t *Tx) InsertNodeBlockHeaderDigestLog(ctx context.Context, l model.NodeBlockHeaderDigestLog) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO node_block_header_digest_log (block_hash, log_idx, block_number, data)
		VALUES ($1,$2,$3,$4)`,
		l.BlockHash[:], l.LogIdx, l.BlockNumber, l.Data)
	return err
}

// InsertNodeBlockStorageTx inserts through the caller-supplied pgx.Tx so the
// storage-task worker can wrap it in a savepoint (§4.8).
func InsertNodeBlockStorageTx(ctx context.Context, tx pgx.Tx, s model.NodeBlockStorage) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO node_block_storage (block_hash, storage_key, block_number, storage_module, storage_name, data, complete)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		s.BlockHash[:], s.StorageKey, s.BlockNumber, s.StorageModule, s.StorageName, s.Data, s.Complete)
	return err
}

func (t *Tx) InsertNodeBlockStorage(ctx context.Context, s model.NodeBlockStorage) error {
	return InsertNodeBlockStorageTx(ctx, t.tx, s)
}

func (t *Tx) NextNodeBlockRuntimeNumber(ctx context.Context) (uint64, error) {
	var max *int64
	if err := t.tx.QueryRow(ctx, `SELECT max(block_number) FROM node_block_runtime`).Scan(&max); err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return uint64(*max) + 1, nil
}

func (t *Tx) InsertNodeBlockRuntime(ctx context.Context, r model.NodeBlockRuntime) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO node_block_runtime (hash, block_number, spec_name, spec_version)
		VALUES ($1,$2,$3,$4)`,
		r.Hash[:], r.BlockNumber, r.SpecName, r.SpecVersion)
	return err
}

func (t *Tx) UpsertNodeRuntime(ctx context.Context, r model.NodeRuntime) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO node_runtime (impl_name, impl_version, spec_name, spec_version, authoring_version, apis, code)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (impl_name, impl_version, spec_name, spec_version, authoring_version) DO NOTHING`,
		r.ImplName, r.ImplVersion, r.SpecName, r.SpecVersion, r.AuthoringVersion, r.APIs, r.Code)
	return err
}

func (t *Tx) NodeMetadataExists(ctx context.Context, specName string, specVersion uint32) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT exists(SELECT 1 FROM node_metadata WHERE spec_name=$1 AND spec_version=$2)`,
		specName, specVersion).Scan(&exists)
	return exists, err
}

func (t *Tx) InsertNodeMetadata(ctx context.Context, m model.NodeMetadata) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO node_metadata (spec_name, spec_version, block_hash, data)
		VALUES ($1,$2,$3,$4)`,
		m.SpecName, m.SpecVersion, m.BlockHash[:], m.Data)
	return err
}

func (t *Tx) GetNodeBlockHeaderByNumber(ctx context.Context, number uint64) (model.NodeBlockHeader, bool, error) {
	var h model.NodeBlockHeader
	var hash, parent, state, extr []byte
	err := t.tx.QueryRow(ctx, `
		SELECT hash, parent_hash, state_root, extrinsics_root, number, block_number, count_extrinsics, count_logs
		FROM node_block_header WHERE block_number=$1`, number).
		Scan(&hash, &parent, &state, &extr, &h.Number, &h.BlockNumber, &h.CountExtrinsics, &h.CountLogs)
	if err == pgx.ErrNoRows {
		return model.NodeBlockHeader{}, false, nil
	}
	if err != nil {
		return model.NodeBlockHeader{}, false, err
	}
	copy(h.Hash[:], hash)
	copy(h.ParentHash[:], parent)
	copy(h.StateRoot[:], state)
	copy(h.ExtrinsicsRoot[:], extr)
	return h, true, nil
}

// BlockNumberForHash resolves a block hash to its block_number, the inverse
// of chain_getBlockHash on the live node; the local RPC facade (§4.9) needs
// this because its callers address blocks by hash while the store indexes
// the raw node layer by block_number.
func (t *Tx) BlockNumberForHash(ctx context.Context, hash model.Hash) (uint64, bool, error) {
	var number uint64
	err := t.tx.QueryRow(ctx, `SELECT block_number FROM node_block_header WHERE hash=$1`, hash[:]).Scan(&number)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return number, true, nil
}

func (t *Tx) ListNodeBlockExtrinsicsForBlock(ctx context.Context, blockNumber uint64) ([]model.NodeBlockExtrinsic, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT block_hash, extrinsic_idx, block_number, data, length, hash
		FROM node_block_extrinsic WHERE block_number=$1 ORDER BY extrinsic_idx`, blockNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.NodeBlockExtrinsic
	for rows.Next() {
		var e model.NodeBlockExtrinsic
		var bh, h []byte
		if err := rows.Scan(&bh, &e.ExtrinsicIdx, &e.BlockNumber, &e.Data, &e.Length, &h); err != nil {
			return nil, err
		}
		copy(e.BlockHash[:], bh)
		copy(e.Hash[:], h)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *Tx) ListNodeBlockHeaderDigestLogsForBlock(ctx context.Context, blockNumber uint64) ([]model.NodeBlockHeaderDigestLog, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT block_hash, log_idx, block_number, data
		FROM node_block_header_digest_log WHERE block_number=$1 ORDER BY log_idx`, blockNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.NodeBlockHeaderDigestLog
	for rows.Next() {
		var l model.NodeBlockHeaderDigestLog
		var bh []byte
		if err := rows.Scan(&bh, &l.LogIdx, &l.BlockNumber, &l.Data); err != nil {
			return nil, err
		}
		copy(l.BlockHash[:], bh)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *Tx) ListNodeBlockStorageForBlock(ctx context.Context, blockNumber uint64) ([]model.NodeBlockStorage, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT block_hash, storage_key, block_number, storage_module, storage_name, data, complete
		FROM node_block_storage WHERE block_number=$1 ORDER BY storage_key`, blockNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.NodeBlockStorage
	for rows.Next() {
		var s model.NodeBlockStorage
		var bh []byte
		if err := rows.Scan(&bh, &s.StorageKey, &s.BlockNumber, &s.StorageModule, &s.StorageName, &s.Data, &s.Complete); err != nil {
			return nil, err
		}
		copy(s.BlockHash[:], bh)
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetNodeBlockExtrinsic fetches one extrinsic by its natural key, used by
// the cron-retry job (§4.7) to re-decode a single flagged row without
// re-reading the whole block.
func (t *Tx) GetNodeBlockExtrinsic(ctx context.Context, blockHash model.Hash, extrinsicIdx uint32) (model.NodeBlockExtrinsic, bool, error) {
	var e model.NodeBlockExtrinsic
	var bh, h []byte
	err := t.tx.QueryRow(ctx, `
		SELECT block_hash, extrinsic_idx, block_number, data, length, hash
		FROM node_block_extrinsic WHERE block_hash=$1 AND extrinsic_idx=$2`, blockHash[:], extrinsicIdx).
		Scan(&bh, &e.ExtrinsicIdx, &e.BlockNumber, &e.Data, &e.Length, &h)
	if err == pgx.ErrNoRows {
		return model.NodeBlockExtrinsic{}, false, nil
	}
	if err != nil {
		return model.NodeBlockExtrinsic{}, false, err
	}
	copy(e.BlockHash[:], bh)
	copy(e.Hash[:], h)
	return e, true, nil
}

// GetNodeBlockHeaderDigestLog fetches one digest log by its natural key.
func (t *Tx) GetNodeBlockHeaderDigestLog(ctx context.Context, blockHash model.Hash, logIdx uint32) (model.NodeBlockHeaderDigestLog, bool, error) {
	var l model.NodeBlockHeaderDigestLog
	var bh []byte
	err := t.tx.QueryRow(ctx, `
		SELECT block_hash, log_idx, block_number, data
		FROM node_block_header_digest_log WHERE block_hash=$1 AND log_idx=$2`, blockHash[:], logIdx).
		Scan(&bh, &l.LogIdx, &l.BlockNumber, &l.Data)
	if err == pgx.ErrNoRows {
		return model.NodeBlockHeaderDigestLog{}, false, nil
	}
	if err != nil {
		return model.NodeBlockHeaderDigestLog{}, false, err
	}
	copy(l.BlockHash[:], bh)
	return l, true, nil
}

// GetNodeBlockStorageByKey fetches one storage entry by its natural key.
func (t *Tx) GetNodeBlockStorageByKey(ctx context.Context, blockHash model.Hash, storageKey []byte) (model.NodeBlockStorage, bool, error) {
	var s model.NodeBlockStorage
	var bh []byte
	err := t.tx.QueryRow(ctx, `
		SELECT block_hash, storage_key, block_number, storage_module, storage_name, data, complete
		FROM node_block_storage WHERE block_hash=$1 AND storage_key=$2`, blockHash[:], storageKey).
		Scan(&bh, &s.StorageKey, &s.BlockNumber, &s.StorageModule, &s.StorageName, &s.Data, &s.Complete)
	if err == pgx.ErrNoRows {
		return model.NodeBlockStorage{}, false, nil
	}
	if err != nil {
		return model.NodeBlockStorage{}, false, err
	}
	copy(s.BlockHash[:], bh)
	return s, true, nil
}

// GetNodeBlockRuntimeByHash is the first step of init_runtime (§4.5).
func (t *Tx) GetNodeBlockRuntimeByHash(ctx context.Context, hash model.Hash) (model.NodeBlockRuntime, bool, error) {
	var r model.NodeBlockRuntime
	var h []byte
	err := t.tx.QueryRow(ctx, `
		SELECT hash, block_number, spec_name, spec_version FROM node_block_runtime WHERE hash=$1`, hash[:]).
		Scan(&h, &r.BlockNumber, &r.SpecName, &r.SpecVersion)
	if err == pgx.ErrNoRows {
		return model.NodeBlockRuntime{}, false, nil
	}
	if err != nil {
		return model.NodeBlockRuntime{}, false, err
	}
	copy(r.Hash[:], h)
	return r, true, nil
}

func (t *Tx) GetNodeMetadata(ctx context.Context, specName string, specVersion uint32) (model.NodeMetadata, bool, error) {
	var m model.NodeMetadata
	var bh []byte
	err := t.tx.QueryRow(ctx, `
		SELECT spec_name, spec_version, block_hash, data FROM node_metadata WHERE spec_name=$1 AND spec_version=$2`,
		specName, specVersion).Scan(&m.SpecName, &m.SpecVersion, &bh, &m.Data)
	if err == pgx.ErrNoRows {
		return model.NodeMetadata{}, false, nil
	}
	if err != nil {
		return model.NodeMetadata{}, false, err
	}
	copy(m.BlockHash[:], bh)
	return m, true, nil
}
