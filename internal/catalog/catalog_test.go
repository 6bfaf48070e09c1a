package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polkascan/harvester/internal/model"
)

// fakeStore records every insert so Build's fan-out can be asserted without
// a database, through the narrow interface Build accepts; the jobs package,
// by contrast, depends on *store.Tx's concrete type.
type fakeStore struct {
	runtimes []model.Runtime
	pallets  []model.RuntimePallet
	calls    []model.RuntimeCall
	args     []model.RuntimeCallArgument
	events   []model.RuntimeEvent
	storage  []model.RuntimeStorage
	errors   []model.RuntimeErrorMessage
	types    []model.RuntimeType
}

func (f *fakeStore) InsertRuntime(ctx context.Context, r model.Runtime) error {
	f.runtimes = append(f.runtimes, r)
	return nil
}
func (f *fakeStore) InsertRuntimePallet(ctx context.Context, p model.RuntimePallet) error {
	f.pallets = append(f.pallets, p)
	return nil
}
func (f *fakeStore) InsertRuntimeCall(ctx context.Context, c model.RuntimeCall) error {
	f.calls = append(f.calls, c)
	return nil
}
func (f *fakeStore) InsertRuntimeCallArgument(ctx context.Context, a model.RuntimeCallArgument) error {
	f.args = append(f.args, a)
	return nil
}
func (f *fakeStore) InsertRuntimeEvent(ctx context.Context, e model.RuntimeEvent) error {
	f.events = append(f.events, e)
	return nil
}
func (f *fakeStore) InsertRuntimeEventAttribute(ctx context.Context, a model.RuntimeEventAttribute) error {
	return nil
}
func (f *fakeStore) InsertRuntimeStorage(ctx context.Context, s model.RuntimeStorage) error {
	f.storage = append(f.storage, s)
	return nil
}
func (f *fakeStore) InsertRuntimeConstant(ctx context.Context, c model.RuntimeConstant) error {
	return nil
}
func (f *fakeStore) InsertRuntimeErrorMessage(ctx context.Context, e model.RuntimeErrorMessage) error {
	f.errors = append(f.errors, e)
	return nil
}
func (f *fakeStore) InsertRuntimeType(ctx context.Context, t model.RuntimeType) error {
	f.types = append(f.types, t)
	return nil
}

func TestBuildAggregatesCounters(t *testing.T) {
	md := Metadata{
		Pallets: []pallet{
			{
				Name:  "Balances",
				Calls: []item{{Name: "transfer", Args: []argument{{Name: "dest", Type: "MultiAddress"}}}},
				Events: []item{
					{Name: "Transfer", Attributes: []string{"AccountId", "AccountId", "Balance"}},
				},
				Storage: []storageEntry{{Name: "TotalIssuance", Modifier: "Default", ValueType: "Balance"}},
			},
		},
		Types: []runtimeType{{ScaleType: "Balance", DecoderClass: "U128"}},
	}

	fake := &fakeStore{}
	runtime, err := Build(context.Background(), fake, "polkadot", 9300, "polkadot", 0, 0, md)
	require.NoError(t, err)

	assert.Equal(t, 1, runtime.CountPallets)
	assert.Equal(t, 1, runtime.CountCallFunctions)
	assert.Equal(t, 1, runtime.CountEvents)
	assert.Equal(t, 1, runtime.CountStorageFuncs)

	require.Len(t, fake.pallets, 1)
	assert.Equal(t, uint8(0), fake.pallets[0].Index)
	require.Len(t, fake.calls, 1)
	assert.Equal(t, [2]byte{0, 0}, fake.calls[0].Lookup)
	require.Len(t, fake.args, 1)
	assert.Equal(t, "MultiAddress", fake.args[0].ScaleType)
	require.Len(t, fake.storage, 1)
	assert.Equal(t, "Balance", fake.storage[0].ValueScaleType)
	require.Len(t, fake.types, 1)
	require.Len(t, fake.runtimes, 1)
}

func TestBuildHonorsExplicitPalletIndex(t *testing.T) {
	explicitIdx := uint8(7)
	md := Metadata{Pallets: []pallet{{Name: "Sudo", Index: &explicitIdx}}}

	fake := &fakeStore{}
	_, err := Build(context.Background(), fake, "kusama", 9200, "kusama", 0, 0, md)
	require.NoError(t, err)
	require.Len(t, fake.pallets, 1)
	assert.Equal(t, explicitIdx, fake.pallets[0].Index)
}

// TestBuildHonorsExplicitPalletIndexInLookupKeys guards against using the
// pallet's raw enumeration position instead of its resolved index when
// building call/event lookup keys and error pallet indices. A pallet
// declared first in the metadata tree but assigned a later runtime index
// (common after a pallet removal/reorg) must still produce lookup bytes
// keyed on the resolved index.
func TestBuildHonorsExplicitPalletIndexInLookupKeys(t *testing.T) {
	explicitIdx := uint8(42)
	md := Metadata{
		Pallets: []pallet{
			{
				Name:   "Sudo",
				Index:  &explicitIdx,
				Calls:  []item{{Name: "sudo"}},
				Events: []item{{Name: "Sudid"}},
				Errors: []item{{Name: "RequireSudo"}},
			},
		},
	}

	fake := &fakeStore{}
	_, err := Build(context.Background(), fake, "kusama", 9200, "kusama", 0, 0, md)
	require.NoError(t, err)

	require.Len(t, fake.calls, 1)
	assert.Equal(t, [2]byte{explicitIdx, 0}, fake.calls[0].Lookup)
	require.Len(t, fake.events, 1)
	assert.Equal(t, [2]byte{explicitIdx, 0}, fake.events[0].Lookup)
	require.Len(t, fake.errors, 1)
	assert.Equal(t, explicitIdx, fake.errors[0].PalletIdx)
}
