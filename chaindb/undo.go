package chaindb

import (
	"fmt"
	"slices"

	"github.com/beyondbrewing/brewery-ledger/index"
)

// UndoSession records every mutation applied to the registered indices
// since it began. Undo rolls them all back; Commit keeps them. Only one
// session may be active at a time. Sessions do not take the database
// lock, so they can be driven from inside Update.
type UndoSession struct {
	d        *Database
	trackers []index.Tracker
	done     bool
}

// BeginUndo starts an undo session over every registered index.
func (d *Database) BeginUndo() (*UndoSession, error) {
	d.sessionMu.Lock()
	defer d.sessionMu.Unlock()

	if !d.open.Load() {
		return nil, ErrNotOpen
	}
	if d.session != nil {
		return nil, ErrSessionActive
	}
	// The index set is fixed once the database is open.
	s := &UndoSession{d: d, trackers: make([]index.Tracker, 0, len(d.indices))}
	for _, idx := range d.indices {
		s.trackers = append(s.trackers, idx.Track())
	}
	d.session = s
	return s, nil
}

// Undo reverts the session's mutations. Indices sharing a store are
// reverted in one atomic batch; on error those indices are left as they
// were before the call.
func (s *UndoSession) Undo() error {
	if !s.finish() {
		return nil
	}
	rev := slices.Clone(s.trackers)
	slices.Reverse(rev)
	if err := index.UndoAll(rev...); err != nil {
		return fmt.Errorf("chaindb: undo failed: %w", err)
	}
	s.d.logger.Debug("undo session reverted", "indices", len(s.trackers))
	return nil
}

// Commit keeps the session's mutations.
func (s *UndoSession) Commit() {
	if !s.finish() {
		return
	}
	for _, t := range s.trackers {
		t.Commit()
	}
}

// finish ends the session and reports whether it was still active.
func (s *UndoSession) finish() bool {
	s.d.sessionMu.Lock()
	defer s.d.sessionMu.Unlock()
	if s.done {
		return false
	}
	s.done = true
	if s.d.session == s {
		s.d.session = nil
	}
	return true
}
