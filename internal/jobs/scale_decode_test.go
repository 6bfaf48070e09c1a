package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polkascan/harvester/internal/model"
)

func TestTimestampMsFromExtrinsicData(t *testing.T) {
	data := []byte(`{"call_module":"Timestamp","call_module_function":"set","params":[{"name":"now","type":"Compact<Moment>","value":1700000000000}]}`)
	ms, ok := timestampMsFromExtrinsicData(data)
	require.True(t, ok)
	assert.Equal(t, uint64(1700000000000), ms)
}

func TestTimestampMsFromExtrinsicDataMissingParam(t *testing.T) {
	data := []byte(`{"call_module":"Balances","call_module_function":"transfer","params":[{"name":"dest","value":"5abc"}]}`)
	_, ok := timestampMsFromExtrinsicData(data)
	assert.False(t, ok)
}

func TestBuildCodecBlockTimestamp(t *testing.T) {
	// 2023-11-14T21:33:20Z, a Tuesday.
	const ms = 1699997600000
	row := buildCodecBlockTimestamp(model.Hash{}, 123456789, ms)

	assert.Equal(t, 2023, row.Year)
	assert.Equal(t, 4, row.Quarter)
	assert.Equal(t, 11, row.Month)
	assert.Equal(t, 14, row.Day)
	assert.Equal(t, 21, row.Hour)
	assert.Equal(t, 33, row.Minute)
	assert.Equal(t, 20, row.Second)
	assert.Equal(t, "November", row.MonthName)
	assert.Equal(t, "Tuesday", row.WeekdayName)
	assert.False(t, row.Weekend)
	assert.Equal(t, int64(20231114), row.FullDay)
	assert.Equal(t, int64(12345), row.Range10000)
	assert.Equal(t, int64(1234), row.Range100000)
	assert.Equal(t, int64(123), row.Range1000000)
	assert.True(t, row.State.Complete())
}

func TestBuildCodecBlockTimestampWeekend(t *testing.T) {
	// 2023-11-18T00:00:00Z is a Saturday.
	const ms = 1700265600000
	row := buildCodecBlockTimestamp(model.Hash{}, 1, ms)
	assert.Equal(t, "Saturday", row.WeekdayName)
	assert.True(t, row.Weekend)
}
