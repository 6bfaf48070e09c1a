package rpcfacade

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polkascan/harvester/internal/model"
)

type fakeStore struct {
	status      map[string]string
	headers     map[uint64]model.NodeBlockHeader
	logs        map[uint64][]model.NodeBlockHeaderDigestLog
	extrinsics  map[uint64][]model.NodeBlockExtrinsic
	runtimes    map[model.Hash]model.NodeBlockRuntime
	metadata    map[string]model.NodeMetadata
	storageRows map[uint64][]model.NodeBlockStorage
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		status:      map[string]string{},
		headers:     map[uint64]model.NodeBlockHeader{},
		logs:        map[uint64][]model.NodeBlockHeaderDigestLog{},
		extrinsics:  map[uint64][]model.NodeBlockExtrinsic{},
		runtimes:    map[model.Hash]model.NodeBlockRuntime{},
		metadata:    map[string]model.NodeMetadata{},
		storageRows: map[uint64][]model.NodeBlockStorage{},
	}
}

func (f *fakeStore) GetStatus(ctx context.Context, key string) (string, bool, error) {
	v, ok := f.status[key]
	return v, ok, nil
}

func (f *fakeStore) GetNodeBlockHeaderByNumber(ctx context.Context, number uint64) (model.NodeBlockHeader, bool, error) {
	h, ok := f.headers[number]
	return h, ok, nil
}

func (f *fakeStore) ListNodeBlockHeaderDigestLogsForBlock(ctx context.Context, blockNumber uint64) ([]model.NodeBlockHeaderDigestLog, error) {
	return f.logs[blockNumber], nil
}

func (f *fakeStore) ListNodeBlockExtrinsicsForBlock(ctx context.Context, blockNumber uint64) ([]model.NodeBlockExtrinsic, error) {
	return f.extrinsics[blockNumber], nil
}

func (f *fakeStore) GetNodeBlockRuntimeByHash(ctx context.Context, hash model.Hash) (model.NodeBlockRuntime, bool, error) {
	r, ok := f.runtimes[hash]
	return r, ok, nil
}

func (f *fakeStore) GetNodeMetadata(ctx context.Context, specName string, specVersion uint32) (model.NodeMetadata, bool, error) {
	m, ok := f.metadata[metadataCacheKey(specName, specVersion)]
	return m, ok, nil
}

func (f *fakeStore) ListNodeBlockStorageForBlock(ctx context.Context, blockNumber uint64) ([]model.NodeBlockStorage, error) {
	return f.storageRows[blockNumber], nil
}

func metadataCacheKey(specName string, specVersion uint32) string {
	return fmt.Sprintf("%s/%d", specName, specVersion)
}

type fakeIndex struct {
	byHash map[model.Hash]uint64
}

func (f *fakeIndex) BlockNumberForHash(ctx context.Context, hash model.Hash) (uint64, bool, error) {
	n, ok := f.byHash[hash]
	return n, ok, nil
}

func mustHash(t *testing.T, hex string) model.Hash {
	t.Helper()
	h, err := model.HashFromHex(hex)
	require.NoError(t, err)
	return h
}

func TestHandleUnknownMethod(t *testing.T) {
	f := New(newFakeStore(), &fakeIndex{byHash: map[model.Hash]uint64{}})
	_, err := f.Handle(context.Background(), "author_submitExtrinsic", nil)
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestHandleSystemChain(t *testing.T) {
	store := newFakeStore()
	store.status[model.StatusSystemChain] = "Polkadot"
	f := New(store, &fakeIndex{})

	raw, err := f.Handle(context.Background(), "system_chain", nil)
	require.NoError(t, err)
	var got string
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "Polkadot", got)
}

func TestHandleChainGetHeaderUnknownHash(t *testing.T) {
	f := New(newFakeStore(), &fakeIndex{byHash: map[model.Hash]uint64{}})
	hash := mustHash(t, "0x000000000000000000000000000000000000000000000000000000000000000a")
	_, err := f.Handle(context.Background(), "chain_getHeader", []interface{}{hash.Hex()})
	assert.Error(t, err)
}

func TestHandleChainGetHeader(t *testing.T) {
	hash := mustHash(t, "0x00000000000000000000000000000000000000000000000000000000000000aa")
	parent := mustHash(t, "0x00000000000000000000000000000000000000000000000000000000000000bb")

	store := newFakeStore()
	store.headers[42] = model.NodeBlockHeader{
		Hash:        hash,
		ParentHash:  parent,
		BlockNumber: 42,
	}
	store.logs[42] = []model.NodeBlockHeaderDigestLog{{Data: []byte{0xde, 0xad}}}

	f := New(store, &fakeIndex{byHash: map[model.Hash]uint64{hash: 42}})

	raw, err := f.Handle(context.Background(), "chain_getHeader", []interface{}{hash.Hex()})
	require.NoError(t, err)

	var got headerResult
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, parent.Hex(), got.ParentHash)
	assert.Equal(t, []string{"0xdead"}, got.Digest.Logs)
}

func TestHandleStateGetStorageAtMissingKey(t *testing.T) {
	hash := mustHash(t, "0x00000000000000000000000000000000000000000000000000000000000000cc")
	f := New(newFakeStore(), &fakeIndex{byHash: map[model.Hash]uint64{hash: 1}})

	raw, err := f.Handle(context.Background(), "state_getStorageAt", []interface{}{"0xabcd", hash.Hex()})
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))
}

func TestHandleStateGetStorageAtFound(t *testing.T) {
	hash := mustHash(t, "0x00000000000000000000000000000000000000000000000000000000000000dd")
	store := newFakeStore()
	store.storageRows[7] = []model.NodeBlockStorage{{StorageKey: []byte{0xab, 0xcd}, Data: []byte{0x01, 0x02}}}

	f := New(store, &fakeIndex{byHash: map[model.Hash]uint64{hash: 7}})

	raw, err := f.Handle(context.Background(), "state_getStorageAt", []interface{}{"0xabcd", hash.Hex()})
	require.NoError(t, err)
	var got string
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "0x0102", got)
}
