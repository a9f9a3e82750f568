package index

import (
	"encoding"

	"github.com/beyondbrewing/brewery-ledger/db"
	"github.com/beyondbrewing/brewery-ledger/object"
)

// Object is a record stored in a primary index. The id is owned by the
// index: it is assigned on create and stamped on every decoded copy, so
// MarshalBinary does not need to carry it.
type Object interface {
	ObjectID() object.ID
	SetObjectID(object.ID)
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// Ptr constrains P to be a pointer to T implementing Object, so indices can
// allocate fresh records with new(T).
type Ptr[T any] interface {
	*T
	Object
}

// Index is the type-independent view of a primary index used by the object
// database to drive the lifecycle of all registered indices.
type Index interface {
	Name() string
	Type() object.Type
	Keyspace() string
	Open() error
	Save() error
	Flush() error
	Close() error
	NextID() object.ID
	Track() Tracker
}

// Tracker records the mutations applied to one index so they can be rolled
// back. Undo and Commit both end tracking; only the first call has effect.
// Trackers are created by Track; use UndoAll to roll several back together.
type Tracker interface {
	Undo() error
	Commit()

	// finish ends tracking and reports whether it was still active.
	finish() bool
	target() db.Store
	// stageUndo writes the rollback into b and returns the in-memory
	// effects to apply once b has been committed.
	stageUndo(b db.Batch) (apply func(), err error)
}
