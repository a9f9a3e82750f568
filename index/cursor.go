package index

import (
	"github.com/beyondbrewing/brewery-ledger/db"
	"github.com/beyondbrewing/brewery-ledger/object"
)

type cursorState uint8

const (
	cursorValid cursorState = iota
	cursorEnd
	cursorClosed
)

// resolver maps a raw entry to its record. ok is false once the entry lies
// outside the range the cursor walks.
type resolver[T any, P Ptr[T]] func(r db.Reader, key, value []byte) (obj P, k Key, ok bool, err error)

// Cursor is a positioned view into a primary or secondary index. It reads
// from a snapshot taken when it was created, so mutations made while it is
// open are not visible through it. Once it reaches End it stays there.
//
// A cursor holds engine resources until Close is called. Close is safe to
// call more than once.
type Cursor[T any, P Ptr[T]] struct {
	snap    db.Snapshot
	it      db.Iterator
	resolve resolver[T, P]

	state cursorState
	obj   P
	key   Key
	err   error
}

func newCursor[T any, P Ptr[T]](store db.Store, keyspace string, seek func(db.Iterator), resolve resolver[T, P]) (*Cursor[T, P], error) {
	snap, err := store.NewSnapshot()
	if err != nil {
		return nil, engineErr(err)
	}
	it, err := snap.NewIterator(keyspace)
	if err != nil {
		snap.Close()
		return nil, engineErr(err)
	}
	c := &Cursor[T, P]{snap: snap, it: it, resolve: resolve}
	seek(it)
	c.load()
	return c, nil
}

func endCursor[T any, P Ptr[T]]() *Cursor[T, P] {
	return &Cursor[T, P]{state: cursorEnd}
}

func (c *Cursor[T, P]) load() {
	c.obj, c.key = nil, nil
	if !c.it.Valid() {
		c.state = cursorEnd
		if err := c.it.Err(); err != nil {
			c.err = engineErr(err)
		}
		return
	}
	obj, k, ok, err := c.resolve(c.snap, c.it.Key(), c.it.Value())
	if err != nil {
		c.state = cursorEnd
		c.err = engineErr(err)
		return
	}
	if !ok {
		c.state = cursorEnd
		return
	}
	c.obj, c.key, c.state = obj, k, cursorValid
}

// Valid reports whether the cursor is positioned on a record.
func (c *Cursor[T, P]) Valid() bool { return c.state == cursorValid }

// Value returns the record under the cursor, or nil at End.
func (c *Cursor[T, P]) Value() P { return c.obj }

// ID returns the id of the record under the cursor.
func (c *Cursor[T, P]) ID() object.ID {
	if c.obj == nil {
		return 0
	}
	return c.obj.ObjectID()
}

// Key returns the index key under the cursor: the derived key for a
// secondary cursor, the encoded id for a primary one.
func (c *Cursor[T, P]) Key() Key { return c.key }

// Next advances to the following record and reports whether one exists.
func (c *Cursor[T, P]) Next() bool {
	if c.state != cursorValid {
		return false
	}
	c.it.Next()
	c.load()
	return c.Valid()
}

// Prev steps back to the preceding record. Stepping back from the first
// record moves the cursor to End.
func (c *Cursor[T, P]) Prev() bool {
	if c.state != cursorValid {
		return false
	}
	c.it.Prev()
	c.load()
	return c.Valid()
}

// Err returns the failure that ended iteration, or ErrCursorClosed after
// Close.
func (c *Cursor[T, P]) Err() error {
	if c.state == cursorClosed {
		return ErrCursorClosed
	}
	return c.err
}

// Close releases the iterator and snapshot.
func (c *Cursor[T, P]) Close() error {
	if c.state == cursorClosed {
		return nil
	}
	c.state = cursorClosed
	c.obj, c.key = nil, nil
	if c.it == nil {
		return nil
	}
	c.it.Close()
	c.it = nil
	err := c.snap.Close()
	c.snap = nil
	return engineErr(err)
}
