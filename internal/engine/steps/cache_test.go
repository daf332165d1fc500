package steps

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsexport/fsexport/internal/cache"
	"github.com/fsexport/fsexport/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openCache(t *testing.T) *cache.Store {
	t.Helper()

	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCacheStep(t *testing.T) {
	store := openCache(t)
	chicago, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)

	step, err := NewCacheStep("cache", nopLogger(), CacheStepConfig{
		Store:    store,
		FormID:   "form1",
		Items:    json.RawMessage(`[{"id":"3","label":"Upload"}]`),
		Location: chicago,
	})
	require.NoError(t, err)

	first := resultsTable()
	require.NoError(t, step.Run(t.Context(), first))
	assert.Equal(t, []int64{12, 11, 10}, first.ReferenceNumbers())

	// newer results come first, a refreshed row replaces the cached one
	fresh := engine.NewTable(first.Columns, []engine.Row{
		{"id": int64(13), "3": "new", "date_update": time.Date(2024, 3, 3, 9, 0, 0, 0, time.UTC)},
		{"id": int64(12), "3": "edited", "date_update": time.Date(2024, 3, 3, 8, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, step.Run(t.Context(), fresh))

	assert.Equal(t, []int64{13, 12, 11, 10}, fresh.ReferenceNumbers())
	assert.Equal(t, "edited", fresh.Rows[1]["3"])

	date, ok := fresh.Rows[2]["date_update"].(time.Time)
	require.True(t, ok)
	assert.Equal(t, chicago, date.Location())

	latest, ok, err := store.LatestReference(t.Context(), "form1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(13), latest)
}

func TestCacheStep_RequiresReferenceColumn(t *testing.T) {
	step, err := NewCacheStep("cache", nopLogger(), CacheStepConfig{Store: openCache(t), FormID: "form1"})
	require.NoError(t, err)

	table := engine.NewTable([]engine.Column{{ID: "3"}}, []engine.Row{{"3": "x"}})
	assert.ErrorContains(t, step.Run(t.Context(), table), "cannot be cached")
}

func TestNewCacheStep_Validation(t *testing.T) {
	_, err := NewCacheStep("cache", nopLogger(), CacheStepConfig{FormID: "form1"})
	assert.ErrorContains(t, err, "cache store is required")

	_, err = NewCacheStep("cache", nopLogger(), CacheStepConfig{Store: openCache(t)})
	assert.ErrorContains(t, err, "form id is required")
}

func TestCacheStep_LastTrimsAfterMerge(t *testing.T) {
	store := openCache(t)
	step, err := NewCacheStep("cache", nopLogger(), CacheStepConfig{Store: store, FormID: "form1", Last: 2})
	require.NoError(t, err)

	table := resultsTable()
	require.NoError(t, step.Run(t.Context(), table))
	assert.Equal(t, []int64{12, 11}, table.ReferenceNumbers())

	entry, err := store.Load(t.Context(), "form1")
	require.NoError(t, err)
	assert.Equal(t, []int64{12, 11, 10}, entry.Table.ReferenceNumbers())
}
