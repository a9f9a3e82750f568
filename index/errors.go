package index

import (
	"errors"
	"fmt"

	"github.com/beyondbrewing/brewery-ledger/db"
)

// Sentinel errors for the index package. Every failure returned by a
// mutation or lookup wraps exactly one of these, usually inside an *OpError.
var (
	// ErrEngine wraps I/O or corruption failures from the storage engine.
	// They are fatal to the operation and never retried here.
	ErrEngine = errors.New("index: engine failure")

	// ErrNotFound reports an absent id or key on find, modify or remove.
	ErrNotFound = errors.New("index: not found")

	// ErrDuplicateID means the allocator handed out an id that is already
	// stored. It indicates a bug or a tampered allocator.
	ErrDuplicateID = errors.New("index: duplicate id")

	// ErrIncompatibleSchema is returned by Open when the stored schema
	// version differs from the one the index was built with.
	ErrIncompatibleSchema = errors.New("index: incompatible schema version")

	// ErrInvalidKey reports a malformed secondary key, or a duplicate key
	// on an index that does not allow duplicates.
	ErrInvalidKey = errors.New("index: invalid secondary key")

	// ErrCursorClosed is returned by a cursor used after Close.
	ErrCursorClosed = errors.New("index: cursor closed")

	ErrNotOpen         = errors.New("index: index not open")
	ErrAlreadyOpen     = errors.New("index: index already open")
	ErrDuplicateName   = errors.New("index: secondary index name already registered")
	ErrObserverVeto    = errors.New("index: mutation rejected by observer")
	ErrCorruptEnvelope = fmt.Errorf("%w: corrupt record envelope", ErrEngine)
)

// OpError wraps a failure with the operation and the index it hit.
type OpError struct {
	Op     string
	Index  string
	Target string
	Err    error
}

func (e *OpError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("index %s: %s: %v", e.Index, e.Op, e.Err)
	}
	return fmt.Sprintf("index %s: %s %s: %v", e.Index, e.Op, e.Target, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// engineErr tags a storage failure as ErrEngine unless it already is one.
func engineErr(err error) error {
	if err == nil || errors.Is(err, ErrEngine) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrEngine, err)
}

// isNotFound reports a missing key at the db layer.
func isNotFound(err error) bool {
	return errors.Is(err, db.ErrKeyNotFound)
}

func isNotFoundErr(err error) bool {
	return errors.Is(err, ErrNotFound)
}
