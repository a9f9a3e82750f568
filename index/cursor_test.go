package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beyondbrewing/brewery-ledger/db"
)

func TestCursorReadsSnapshot(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *db.Environment) {
		w := openWidgets(t, env)
		a := w.mustCreate(t, "a", 1, 1)
		w.mustCreate(t, "b", 1, 2)

		c, err := w.byName.First()
		require.NoError(t, err)
		defer c.Close()

		w.mustCreate(t, "aa", 1, 3)
		_, err = w.Modify(a.ObjectID(), func(o *widget) error {
			o.Score = 100
			return nil
		})
		require.NoError(t, err)

		require.True(t, c.Valid())
		assert.Equal(t, "a", c.Value().Name)
		assert.Equal(t, int64(1), c.Value().Score)
		assert.Equal(t, NewKey().Text("a"), c.Key())
		assert.Equal(t, a.ObjectID(), c.ID())

		require.True(t, c.Next())
		assert.Equal(t, "b", c.Value().Name)
		assert.False(t, c.Next())
	})
}

func TestCursorEndIsTerminal(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *db.Environment) {
		w := openWidgets(t, env)
		w.mustCreate(t, "a", 1, 1)

		c, err := w.byName.First()
		require.NoError(t, err)
		defer c.Close()

		assert.False(t, c.Next())
		assert.False(t, c.Valid())
		for range 3 {
			assert.False(t, c.Next())
			assert.False(t, c.Prev())
			assert.False(t, c.Valid())
		}
		assert.Nil(t, c.Value())
		assert.Zero(t, c.ID())
		assert.NoError(t, c.Err())
	})
}

func TestCursorPrev(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *db.Environment) {
		w := openWidgets(t, env)
		for _, name := range []string{"a", "b", "c"} {
			w.mustCreate(t, name, 1, 0)
		}

		c, err := w.byName.Last()
		require.NoError(t, err)
		defer c.Close()

		var back []string
		for ; c.Valid(); c.Prev() {
			back = append(back, c.Value().Name)
		}
		assert.Equal(t, []string{"c", "b", "a"}, back)

		p, err := w.LowerBound(widgetType.ID(1))
		require.NoError(t, err)
		defer p.Close()
		require.True(t, p.Prev())
		assert.Equal(t, "a", p.Value().Name)
		assert.False(t, p.Prev())
	})
}

func TestCursorClose(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *db.Environment) {
		w := openWidgets(t, env)
		w.mustCreate(t, "a", 1, 1)

		c, err := w.First()
		require.NoError(t, err)
		require.True(t, c.Valid())

		require.NoError(t, c.Close())
		require.NoError(t, c.Close())
		assert.False(t, c.Valid())
		assert.False(t, c.Next())
		assert.ErrorIs(t, c.Err(), ErrCursorClosed)
	})
}

func TestCursorOnEmptyIndex(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *db.Environment) {
		w := openWidgets(t, env)

		c, err := w.First()
		require.NoError(t, err)
		assert.False(t, c.Valid())
		require.NoError(t, c.Close())

		s, err := w.byOwner.LowerBound(NewKey().Uint64(0))
		require.NoError(t, err)
		assert.False(t, s.Valid())
		require.NoError(t, s.Close())
	})
}

func TestCursorDanglingEntryIsEngineError(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *db.Environment) {
		w := openWidgets(t, env)
		w.mustCreate(t, "a", 1, 1)

		require.NoError(t, env.Store().Put(w.byName.Keyspace(), NewKey().Text("b"), widgetType.ID(77).Key()))

		c, err := w.byName.First()
		require.NoError(t, err)
		defer c.Close()
		require.True(t, c.Valid())
		assert.False(t, c.Next())
		assert.ErrorIs(t, c.Err(), ErrEngine)
	})
}
