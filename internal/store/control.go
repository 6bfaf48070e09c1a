package store

import (
	"context"

	"github.com/jackc/pgx/v4"

	"github.com/polkascan/harvester/internal/model"
)

// GetStatus reads one harvester_status value by key. ok=false means the key
// has never been set; callers apply their own default (§4.1).
func (t *Tx) GetStatus(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := t.tx.QueryRow(ctx, `SELECT value FROM harvester_status WHERE key=$1`, key).Scan(&value)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	return value, err == nil, err
}

func (t *Tx) SetStatus(ctx context.Context, key, value string) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO harvester_status (key, value) VALUES ($1,$2)
		ON CONFLICT (key) DO UPDATE SET value=$2`, key, value)
	return err
}

// LoadAllStatus returns the full control table as a map, used once per
// supervisor iteration to build a settings snapshot (§4.1, §9).
func (t *Tx) LoadAllStatus(ctx context.Context) (map[string]string, error) {
	rows, err := t.tx.Query(ctx, `SELECT key, value FROM harvester_status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// --- Storage cron (§4.3 step 2, §6 storage-cron CLI) ---

func (t *Tx) ListStorageCron(ctx context.Context) ([]model.HarvesterStorageCron, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, active, block_number_interval, pallet, storage_name, storage_key
		FROM harvester_storage_cron ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.HarvesterStorageCron
	for rows.Next() {
		var c model.HarvesterStorageCron
		if err := rows.Scan(&c.ID, &c.Active, &c.BlockNumberInterval, &c.Pallet, &c.StorageName, &c.StorageKey); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *Tx) ListActiveStorageCron(ctx context.Context) ([]model.HarvesterStorageCron, error) {
	all, err := t.ListStorageCron(ctx)
	if err != nil {
		return nil, err
	}
	var active []model.HarvesterStorageCron
	for _, c := range all {
		if c.Active {
			active = append(active, c)
		}
	}
	return active, nil
}

func (t *Tx) InsertStorageCron(ctx context.Context, c model.HarvesterStorageCron) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO harvester_storage_cron (active, block_number_interval, pallet, storage_name, storage_key)
		VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		c.Active, c.BlockNumberInterval, c.Pallet, c.StorageName, c.StorageKey).Scan(&id)
	return id, err
}

func (t *Tx) DeleteStorageCron(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM harvester_storage_cron WHERE id=$1`, id)
	return err
}

// --- Storage task (§4.8, §6 storage-tasks CLI) ---

func (t *Tx) ListStorageTasks(ctx context.Context) ([]model.HarvesterStorageTask, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, pallet, storage_name, storage_key, storage_key_prefix,
		       block_ids, block_start, block_end, complete
		FROM harvester_storage_task ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.HarvesterStorageTask
	for rows.Next() {
		var task model.HarvesterStorageTask
		var blockIDs []int64
		var blockStart, blockEnd *int64
		if err := rows.Scan(&task.ID, &task.Pallet, &task.StorageName, &task.StorageKey, &task.StorageKeyPrefix,
			&blockIDs, &blockStart, &blockEnd, &task.Complete); err != nil {
			return nil, err
		}
		task.Blocks = blocksSpecFromRow(blockIDs, blockStart, blockEnd)
		out = append(out, task)
	}
	return out, rows.Err()
}

func blocksSpecFromRow(ids []int64, start, end *int64) model.BlocksSpec {
	spec := model.BlocksSpec{}
	if len(ids) > 0 {
		spec.BlockIDs = make([]uint64, len(ids))
		for i, id := range ids {
			spec.BlockIDs[i] = uint64(id)
		}
		return spec
	}
	if start != nil && end != nil {
		s, e := uint64(*start), uint64(*end)
		spec.BlockStart, spec.BlockEnd = &s, &e
	}
	return spec
}

func (t *Tx) InsertStorageTask(ctx context.Context, task model.HarvesterStorageTask) (int64, error) {
	var blockIDs []int64
	for _, id := range task.Blocks.BlockIDs {
		blockIDs = append(blockIDs, int64(id))
	}
	var start, end *int64
	if task.Blocks.BlockStart != nil {
		s := int64(*task.Blocks.BlockStart)
		start = &s
	}
	if task.Blocks.BlockEnd != nil {
		e := int64(*task.Blocks.BlockEnd)
		end = &e
	}
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO harvester_storage_task
			(pallet, storage_name, storage_key, storage_key_prefix, block_ids, block_start, block_end, complete)
		VALUES ($1,$2,$3,$4,$5,$6,$7,false) RETURNING id`,
		task.Pallet, task.StorageName, task.StorageKey, task.StorageKeyPrefix, blockIDs, start, end).Scan(&id)
	return id, err
}

func (t *Tx) DeleteStorageTask(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM harvester_storage_task WHERE id=$1`, id)
	return err
}

func (t *Tx) DeleteCompleteStorageTasks(ctx context.Context) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM harvester_storage_task WHERE complete`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// NextIncompleteStorageTask returns the oldest task not yet complete, for
// the storage-task worker to pick up one iteration at a time (§4.8).
func (t *Tx) NextIncompleteStorageTask(ctx context.Context) (model.HarvesterStorageTask, bool, error) {
	tasks, err := t.ListStorageTasks(ctx)
	if err != nil {
		return model.HarvesterStorageTask{}, false, err
	}
	for _, task := range tasks {
		if !task.Complete {
			return task, true, nil
		}
	}
	return model.HarvesterStorageTask{}, false, nil
}

func (t *Tx) MarkStorageTaskComplete(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE harvester_storage_task SET complete=true WHERE id=$1`, id)
	return err
}
