package calllog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curtcox/cideldill/internal/casstore"
)

func record(method string, args map[string]any, startedAt float64) CallRecord {
	return CallRecord{
		CallID:     method + "-" + string(rune('a'+int(startedAt))),
		MethodName: method,
		Status:     StatusSuccess,
		Args:       args,
		ProcessKey: "1234.000000+1",
		StartedAt:  startedAt,
	}
}

func runCallLogContract(t *testing.T, newStore func() Store) {
	t.Run("filter_by_function preserves insertion order", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		require.NoError(t, store.Record(record("add", map[string]any{"a": 1.0, "b": 1.0}, 1)))
		require.NoError(t, store.Record(record("mul", map[string]any{"a": 3.0, "b": 4.0}, 2)))
		require.NoError(t, store.Record(record("add", map[string]any{"a": 5.0, "b": 6.0}, 3)))

		adds, err := store.FilterByFunction("add")
		require.NoError(t, err)
		require.Len(t, adds, 2)
		assert.Equal(t, 1.0, adds[0].Args["a"])
		assert.Equal(t, 5.0, adds[1].Args["a"])
	})

	t.Run("search_by_args finds partial matches", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		require.NoError(t, store.Record(record("func1", map[string]any{"a": 1.0, "b": 2.0, "c": 3.0}, 1)))
		require.NoError(t, store.Record(record("func2", map[string]any{"a": 1.0, "x": 5.0}, 2)))
		require.NoError(t, store.Record(record("func3", map[string]any{"a": 2.0, "b": 2.0}, 3)))

		matches, err := store.SearchByArgs(map[string]any{"a": 1.0})
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, "func1", matches[0].MethodName)
		assert.Equal(t, "func2", matches[1].MethodName)
	})

	t.Run("search_by_args matches nested maps", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		require.NoError(t, store.Record(record("func1", map[string]any{
			"config": map[string]any{"mode": "debug"},
		}, 1)))
		require.NoError(t, store.Record(record("func2", map[string]any{
			"config": map[string]any{"mode": "prod"},
		}, 2)))

		matches, err := store.SearchByArgs(map[string]any{
			"config": map[string]any{"mode": "debug"},
		})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "func1", matches[0].MethodName)
	})

	t.Run("get returns nil for unknown call id", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		got, err := store.Get("nope")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("export_all returns everything", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		require.NoError(t, store.Record(record("a", nil, 1)))
		require.NoError(t, store.Record(record("b", nil, 2)))

		all, err := store.ExportAll()
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestMemoryStore(t *testing.T) {
	runCallLogContract(t, func() Store { return NewMemoryStore() })
}

func TestSQLiteStore(t *testing.T) {
	runCallLogContract(t, func() Store {
		db, err := casstore.OpenDB(":memory:")
		require.NoError(t, err)
		return NewSQLiteStore(db)
	})
}
