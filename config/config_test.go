package config

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(1000), cfg.Scan.StartID)
	assert.Equal(t, LocatorLinear, cfg.Scan.Locator)
	assert.Equal(t, PaginationOffset, cfg.Fetch.Pagination)
	assert.Equal(t, 100, cfg.Fetch.PageSize)
	assert.Equal(t, 5, cfg.Scan.NumWorkers)
	assert.Equal(t, 1, cfg.Scan.ProbeRetries)
	assert.Equal(t, 0, cfg.Fetch.PageRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Scan.DiscoveryDelay)
	assert.Equal(t, "0.02", cfg.Fees.ThresholdRatio.String())
	assert.Equal(t, RoundingHalfEven, cfg.Fees.Rounding)
	assert.False(t, cfg.ClickHouse.Enabled)
	assert.Empty(t, cfg.Scan.SkipIDs)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("START_ID", "42")
	t.Setenv("MAX_ID", "500")
	t.Setenv("LOCATOR", "Binary")
	t.Setenv("PAGINATION", "cursor")
	t.Setenv("SKIP_IDS", "50, 60-62")
	t.Setenv("ZERO_FEE_STREAK", "3")
	t.Setenv("CLICKHOUSE_HOST", "ch.local")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(42), cfg.Scan.StartID)
	assert.Equal(t, LocatorBinary, cfg.Scan.Locator)
	assert.Equal(t, PaginationCursor, cfg.Fetch.Pagination)
	assert.Equal(t, 3, cfg.Scan.ZeroFeeStreak)
	assert.True(t, cfg.ClickHouse.Enabled)
	assert.Len(t, cfg.Scan.SkipIDs, 4)
	assert.Contains(t, cfg.Scan.SkipIDs, int64(61))
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown locator", "LOCATOR", "random"},
		{"unknown pagination", "PAGINATION", "keyset"},
		{"unknown rounding", "ROUNDING", "ceil"},
		{"binary without ceiling", "LOCATOR", "binary"},
		{"bad skip list", "SKIP_IDS", "9-3"},
		{"bad ratio", "FEE_THRESHOLD_RATIO", "two percent"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestParseIDList(t *testing.T) {
	ids, err := ParseIDList("1,3-5,,7")
	require.NoError(t, err)
	assert.Len(t, ids, 5)
	for _, id := range []int64{1, 3, 4, 5, 7} {
		assert.Contains(t, ids, id)
	}

	_, err = ParseIDList("x")
	assert.Error(t, err)
}

func TestParseIDList_RangeBounds(t *testing.T) {
	ids, err := ParseIDList("9223372036854775806-9223372036854775807")
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, int64(math.MaxInt64))

	_, err = ParseIDList("1-1000000000")
	assert.Error(t, err)

	_, err = ParseIDList("10-5")
	assert.Error(t, err)
}
