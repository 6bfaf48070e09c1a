package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/polkascan/harvester/internal/model"
)

func TestFromStatusDefaults(t *testing.T) {
	s := FromStatus(map[string]string{}, NodeTypeFull)

	assert.True(t, s.EnableHarvester)
	assert.True(t, s.EnableBlocks)
	assert.True(t, s.EnableStorageTask)
	assert.Equal(t, defaultCronRetryMaxAttempts, s.CronRetryMaxAttempts)
	assert.False(t, s.Archive())
}

func TestFromStatusOverrides(t *testing.T) {
	raw := map[string]string{
		model.StatusEnableState:          "false",
		model.StatusEnableDecode:         "0",
		model.StatusCronRetryMaxAttempts: "10",
		model.StatusSystemChain:          "Polkadot",
		model.StatusProcessBlocksMaxBlockNumber: "12345",
	}
	s := FromStatus(raw, NodeTypeArchive)

	assert.False(t, s.EnableState)
	assert.False(t, s.EnableDecode)
	assert.Equal(t, 10, s.CronRetryMaxAttempts)
	assert.Equal(t, "Polkadot", s.SystemChain)
	assert.True(t, s.Archive())

	v, ok := s.Raw(model.StatusProcessBlocksMaxBlockNumber)
	assert.True(t, ok)
	assert.Equal(t, "12345", v)

	_, ok = s.Raw("NOT_SET")
	assert.False(t, ok)
}

func TestFromStatusIgnoresUnparsableOverrides(t *testing.T) {
	raw := map[string]string{
		model.StatusEnableBlocks:          "not-a-bool",
		model.StatusCronRetryMaxAttempts: "not-an-int",
	}
	s := FromStatus(raw, NodeTypeLight)

	assert.True(t, s.EnableBlocks)
	assert.Equal(t, defaultCronRetryMaxAttempts, s.CronRetryMaxAttempts)
}
