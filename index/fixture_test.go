package index

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/beyondbrewing/brewery-ledger/db"
	"github.com/beyondbrewing/brewery-ledger/object"
	"github.com/beyondbrewing/brewery-ledger/pkg/logger"
)

var widgetType = object.Type{Space: 1, Type: 7}

type widget struct {
	id    object.ID
	Owner uint64
	Score int64
	Name  string
	Tag   string
}

func (w *widget) ObjectID() object.ID      { return w.id }
func (w *widget) SetObjectID(id object.ID) { w.id = id }

func (w *widget) MarshalBinary() ([]byte, error) {
	b := binary.BigEndian.AppendUint64(nil, w.Owner)
	b = binary.BigEndian.AppendUint64(b, uint64(w.Score))
	b = binary.AppendUvarint(b, uint64(len(w.Name)))
	b = append(b, w.Name...)
	b = binary.AppendUvarint(b, uint64(len(w.Tag)))
	return append(b, w.Tag...), nil
}

func (w *widget) UnmarshalBinary(b []byte) error {
	if len(b) < 16 {
		return errors.New("widget: short record")
	}
	w.Owner = binary.BigEndian.Uint64(b)
	w.Score = int64(binary.BigEndian.Uint64(b[8:]))
	b = b[16:]
	var err error
	if w.Name, b, err = readString(b); err != nil {
		return err
	}
	w.Tag, _, err = readString(b)
	return err
}

func readString(b []byte) (string, []byte, error) {
	n, k := binary.Uvarint(b)
	if k <= 0 || uint64(len(b)-k) < n {
		return "", nil, errors.New("widget: bad string")
	}
	return string(b[k : k+int(n)]), b[k+int(n):], nil
}

type widgets struct {
	*Primary[widget, *widget]
	byName  *Secondary[widget, *widget]
	byOwner *Secondary[widget, *widget]
	byTag   *Secondary[widget, *widget]
}

func byName(w *widget) (Key, error) { return NewKey().Text(w.Name), nil }

func byOwner(w *widget) (Key, error) { return NewKey().Uint64(w.Owner).Int64Desc(w.Score), nil }

func byTag(w *widget) (Key, error) {
	if w.Tag == "" {
		return nil, nil
	}
	return NewKey().Text(w.Tag), nil
}

func testLogger(t *testing.T) logger.Logger {
	return logger.New(zaptest.NewLogger(t))
}

func memEnv(t *testing.T) *db.Environment {
	t.Helper()
	env, err := db.NewEnvironment("", db.WithBackend(db.BackendMemory), db.WithLogger(testLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	return env
}

func diskEnv(t *testing.T, dir string, backend db.Backend) *db.Environment {
	t.Helper()
	env, err := db.NewEnvironment(dir,
		db.WithBackend(backend),
		db.WithCacheSize(8<<20),
		db.WithMemTableSize(4<<20),
		db.WithLogger(testLogger(t)),
	)
	require.NoError(t, err)
	return env
}

// forEachBackend runs fn once per storage backend, each against a fresh
// environment.
func forEachBackend(t *testing.T, fn func(t *testing.T, env *db.Environment)) {
	for _, backend := range []db.Backend{db.BackendMemory, db.BackendPebble, db.BackendLevelDB} {
		t.Run(string(backend), func(t *testing.T) {
			var env *db.Environment
			if backend == db.BackendMemory {
				env = memEnv(t)
			} else {
				env = diskEnv(t, t.TempDir(), backend)
				t.Cleanup(func() { _ = env.Close() })
			}
			fn(t, env)
		})
	}
}

// openWidgets registers the three widget secondaries and opens the index.
func openWidgets(t *testing.T, env *db.Environment, opts ...Option) *widgets {
	t.Helper()
	p, err := NewPrimary[widget](env, widgetType, append([]Option{WithLogger(testLogger(t))}, opts...)...)
	require.NoError(t, err)

	w := &widgets{Primary: p}
	w.byName, err = p.AddSecondary("by_name", byName)
	require.NoError(t, err)
	w.byOwner, err = p.AddSecondary("by_owner", byOwner, AllowDuplicates())
	require.NoError(t, err)
	w.byTag, err = p.AddSecondary("by_tag", byTag)
	require.NoError(t, err)

	require.NoError(t, p.Open())
	return w
}

func (w *widgets) mustCreate(t *testing.T, name string, owner uint64, score int64) *widget {
	t.Helper()
	obj, err := w.Create(func(o *widget) error {
		o.Name, o.Owner, o.Score = name, owner, score
		return nil
	})
	require.NoError(t, err)
	return obj
}

// names drains a cursor into record names.
func names(t *testing.T, c *Cursor[widget, *widget]) []string {
	t.Helper()
	defer c.Close()
	var out []string
	for ; c.Valid(); c.Next() {
		out = append(out, c.Value().Name)
	}
	require.NoError(t, c.Err())
	return out
}
