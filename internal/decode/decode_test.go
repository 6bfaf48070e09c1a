package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/polkascan/harvester/internal/harvesterrors"
)

func TestCacheKeyFormat(t *testing.T) {
	assert.Equal(t, "polkadot/9300", cacheKey("polkadot", 9300))
	assert.Equal(t, "kusama/9200", cacheKey("kusama", 9200))
}

func TestRegistryLookupMiss(t *testing.T) {
	r := NewRegistry()
	m, ok := r.Lookup("polkadot", 9300)
	assert.False(t, ok)
	assert.Nil(t, m)
}

// TestRegistryRegisterIsIdempotentForCachedKey exercises the no-op path of
// Register documented at decode.go: a second Register for an
// already-cached (specName, specVersion) must return the cached instance
// without re-parsing, so a pre-seeded cache entry short-circuits before the
// external codec library ever sees the (here deliberately invalid) hex.
func TestRegistryRegisterIsIdempotentForCachedKey(t *testing.T) {
	r := NewRegistry()
	key := cacheKey("polkadot", 9300)
	r.cache[key] = nil

	m, err := r.Register("polkadot", 9300, "not-valid-metadata-hex")
	assert.NoError(t, err)
	assert.Nil(t, m)

	got, ok := r.Lookup("polkadot", 9300)
	assert.True(t, ok)
	assert.Nil(t, got)
}

func TestSTORAGE_KEY_EVENTSConstant(t *testing.T) {
	assert.Equal(t, "0x26aa394eea5630e07c48ae0c9558cef780d41e5e16056765bc8461851072c9d7", STORAGE_KEY_EVENTS)
}

func TestProjectCatalogMetadataUnregistered(t *testing.T) {
	r := NewRegistry()
	_, err := r.ProjectCatalogMetadata("polkadot", 9300)
	assert.ErrorIs(t, err, harvesterrors.ErrBlockDecode)
}
