package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beyondbrewing/brewery-ledger/db"
	"github.com/beyondbrewing/brewery-ledger/object"
)

func snapshotWidgets(t *testing.T, w *widgets) []widget {
	t.Helper()
	var out []widget
	for obj, err := range w.All() {
		require.NoError(t, err)
		out = append(out, *obj)
	}
	return out
}

func TestUndoRevertsAllMutations(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *db.Environment) {
		w := openWidgets(t, env)
		a := w.mustCreate(t, "a", 1, 1)
		b := w.mustCreate(t, "b", 1, 2)
		c := w.mustCreate(t, "c", 2, 3)
		before := snapshotWidgets(t, w)
		next := w.NextID()

		tr := w.Track()

		_, err := w.Modify(a.ObjectID(), func(o *widget) error {
			o.Name = "a2"
			return nil
		})
		require.NoError(t, err)
		_, err = w.Modify(a.ObjectID(), func(o *widget) error {
			o.Score = 50
			return nil
		})
		require.NoError(t, err)
		require.NoError(t, w.Remove(b.ObjectID()))
		// Reuse the name freed by the removal.
		d := w.mustCreate(t, "b", 3, 4)
		_, err = w.Modify(c.ObjectID(), func(o *widget) error {
			o.Tag = "hot"
			return nil
		})
		require.NoError(t, err)
		require.NoError(t, w.Remove(c.ObjectID()))
		e := w.mustCreate(t, "e", 3, 5)
		require.NoError(t, w.Remove(e.ObjectID()))

		require.NoError(t, tr.Undo())

		assert.Equal(t, before, snapshotWidgets(t, w))
		assert.Equal(t, next, w.NextID())

		ok, err := w.Has(d.ObjectID())
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := w.byName.Find(NewKey().Text("b"))
		require.NoError(t, err)
		assert.Equal(t, b.ObjectID(), got.ObjectID())

		exists, err := w.byTag.Exists(NewKey().Text("hot"))
		require.NoError(t, err)
		assert.False(t, exists)

		// Undo is one-shot and stops tracking.
		require.NoError(t, tr.Undo())
		w.mustCreate(t, "f", 1, 1)
		assert.Len(t, snapshotWidgets(t, w), len(before)+1)
	})
}

func TestCommitKeepsMutations(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *db.Environment) {
		w := openWidgets(t, env)
		tr := w.Track()
		w.mustCreate(t, "a", 1, 1)
		tr.Commit()
		require.NoError(t, tr.Undo())

		n, err := w.Count()
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestUndoReturnsUniqueKeyToPreviousOwner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *db.Environment) {
		w := openWidgets(t, env)
		a := w.mustCreate(t, "a", 1, 1)
		b := w.mustCreate(t, "b", 1, 2)
		before := snapshotWidgets(t, w)

		tr := w.Track()
		rename := func(id object.ID, name string) {
			t.Helper()
			_, err := w.Modify(id, func(o *widget) error {
				o.Name = name
				return nil
			})
			require.NoError(t, err)
		}
		rename(a.ObjectID(), "z")
		rename(b.ObjectID(), "a")

		require.NoError(t, tr.Undo())
		assert.Equal(t, before, snapshotWidgets(t, w))

		for _, tc := range []struct {
			name string
			want object.ID
		}{{"a", a.ObjectID()}, {"b", b.ObjectID()}} {
			got, err := w.byName.Find(NewKey().Text(tc.name))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.ObjectID(), tc.name)
		}
		exists, err := w.byName.Exists(NewKey().Text("z"))
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestUndoRotatesUniqueKeysBack(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *db.Environment) {
		w := openWidgets(t, env)
		ids := []object.ID{
			w.mustCreate(t, "x", 1, 1).ObjectID(),
			w.mustCreate(t, "y", 1, 2).ObjectID(),
			w.mustCreate(t, "z", 1, 3).ObjectID(),
		}
		before := snapshotWidgets(t, w)

		tr := w.Track()
		// x->tmp, z->x, y->z, tmp->y: every name moves to another record.
		steps := []struct {
			id   object.ID
			name string
		}{{ids[0], "tmp"}, {ids[2], "x"}, {ids[1], "z"}, {ids[0], "y"}}
		for _, st := range steps {
			_, err := w.Modify(st.id, func(o *widget) error {
				o.Name = st.name
				return nil
			})
			require.NoError(t, err)
		}
		// A removal and a create that reuses a freed key, in the same session.
		require.NoError(t, w.Remove(ids[1]))
		w.mustCreate(t, "z", 9, 9)

		require.NoError(t, tr.Undo())
		assert.Equal(t, before, snapshotWidgets(t, w))
		for i, name := range []string{"x", "y", "z"} {
			got, err := w.byName.Find(NewKey().Text(name))
			require.NoError(t, err)
			assert.Equal(t, ids[i], got.ObjectID(), name)
		}
	})
}

func TestUndoFailureLeavesIndexUntouched(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *db.Environment) {
		w := openWidgets(t, env)
		a := w.mustCreate(t, "a", 1, 1)

		tr := w.Track()
		_, err := w.Modify(a.ObjectID(), func(o *widget) error {
			o.Name = "b"
			return nil
		})
		require.NoError(t, err)
		after := snapshotWidgets(t, w)

		// An untracked owner for "a" written straight to the keyspace makes the
		// restore conflict.
		require.NoError(t, w.store.Put(w.byName.Keyspace(), NewKey().Text("a"), widgetType.ID(40).Key()))

		err = tr.Undo()
		require.ErrorIs(t, err, ErrInvalidKey)
		assert.Equal(t, after, snapshotWidgets(t, w))

		got, err := w.byName.Find(NewKey().Text("b"))
		require.NoError(t, err)
		assert.Equal(t, a.ObjectID(), got.ObjectID())
	})
}

func TestUndoAllRevertsSeveralIndicesTogether(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *db.Environment) {
		w := openWidgets(t, env)
		p, err := NewPrimary[widget](env, object.Type{Space: 1, Type: 8}, WithLogger(testLogger(t)))
		require.NoError(t, err)
		require.NoError(t, p.Open())

		t1, t2 := w.Track(), p.Track()
		w.mustCreate(t, "a", 1, 1)
		_, err = p.Create(func(o *widget) error {
			o.Name = "other"
			return nil
		})
		require.NoError(t, err)

		require.NoError(t, UndoAll(t1, t2))
		for _, c := range []interface{ Count() (int, error) }{w, p} {
			n, err := c.Count()
			require.NoError(t, err)
			assert.Zero(t, n)
		}
		// Both trackers ended.
		require.NoError(t, t1.Undo())
		require.NoError(t, t2.Undo())
	})
}
