package index

import (
	"cmp"
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beyondbrewing/brewery-ledger/db"
	"github.com/beyondbrewing/brewery-ledger/object"
)

// TestRandomMutationsKeepSecondariesConsistent applies a random sequence of
// creates, modifies and removes and checks after each step that every
// secondary index lists exactly the stored records in key order.
func TestRandomMutationsKeepSecondariesConsistent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *db.Environment) {
		w := openWidgets(t, env, WithCacheSize(8))
		rng := rand.New(rand.NewPCG(7, 11))
		model := make(map[object.ID]widget)

		nameTaken := func(name string, except object.ID) bool {
			for id, o := range model {
				if id != except && o.Name == name {
					return true
				}
			}
			return false
		}
		randomName := func() string { return fmt.Sprintf("n%02d", rng.IntN(40)) }

		for step := range 400 {
			ids := slices.Sorted(maps.Keys(model))
			switch op := rng.IntN(10); {
			case op < 5 || len(ids) == 0:
				name, owner, score := randomName(), uint64(rng.IntN(4)), int64(rng.IntN(7)-3)
				obj, err := w.Create(func(o *widget) error {
					o.Name, o.Owner, o.Score = name, owner, score
					return nil
				})
				if nameTaken(name, object.ID(1<<63)) {
					require.ErrorIs(t, err, ErrInvalidKey, "step %d", step)
					continue
				}
				require.NoError(t, err, "step %d", step)
				model[obj.ObjectID()] = *obj

			case op < 8:
				id := ids[rng.IntN(len(ids))]
				name, score := randomName(), int64(rng.IntN(7)-3)
				obj, err := w.Modify(id, func(o *widget) error {
					o.Name, o.Score = name, score
					return nil
				})
				if nameTaken(name, id) {
					require.ErrorIs(t, err, ErrInvalidKey, "step %d", step)
					continue
				}
				require.NoError(t, err, "step %d", step)
				model[id] = *obj

			default:
				var id object.ID
				if rng.IntN(5) == 0 {
					id = w.NextID()
				} else {
					id = ids[rng.IntN(len(ids))]
				}
				err := w.Remove(id)
				if _, ok := model[id]; !ok {
					require.ErrorIs(t, err, ErrNotFound, "step %d", step)
					continue
				}
				require.NoError(t, err, "step %d", step)
				delete(model, id)
			}

			checkConsistent(t, w, model)
		}
	})
}

func checkConsistent(t *testing.T, w *widgets, model map[object.ID]widget) {
	t.Helper()

	expected := slices.Collect(maps.Values(model))
	slices.SortFunc(expected, func(a, b widget) int {
		return cmp.Or(
			cmp.Compare(a.Owner, b.Owner),
			cmp.Compare(b.Score, a.Score),
			cmp.Compare(a.id, b.id),
		)
	})

	c, err := w.byOwner.First()
	require.NoError(t, err)
	var got []widget
	for ; c.Valid(); c.Next() {
		got = append(got, *c.Value())
	}
	require.NoError(t, c.Err())
	require.NoError(t, c.Close())
	assert.Equal(t, expected, got)

	slices.SortFunc(expected, func(a, b widget) int { return cmp.Compare(a.Name, b.Name) })
	var byName []string
	require.NoError(t, w.byName.Scan(nil, func(o *widget) bool {
		byName = append(byName, o.Name)
		return true
	}))
	var want []string
	for _, o := range expected {
		want = append(want, o.Name)
	}
	assert.Equal(t, want, byName)

	n, err := w.Count()
	require.NoError(t, err)
	assert.Equal(t, len(model), n)
}
