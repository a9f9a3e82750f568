package index

import (
	"errors"
	"maps"
	"slices"

	"github.com/beyondbrewing/brewery-ledger/db"
	"github.com/beyondbrewing/brewery-ledger/object"
)

// undoTracker remembers the pre-image of every record touched since
// tracking began and the allocator position at that time.
type undoTracker[T any, P Ptr[T]] struct {
	p        *Primary[T, P]
	detach   func()
	next     uint64
	created  map[object.ID]struct{}
	modified map[object.ID]P
	removed  map[object.ID]P
	done     bool
}

// Track starts recording mutations so they can be undone. Only the first
// pre-image of each record is kept.
func (p *Primary[T, P]) Track() Tracker {
	t := &undoTracker[T, P]{
		p:        p,
		next:     p.alloc.Next(),
		created:  make(map[object.ID]struct{}),
		modified: make(map[object.ID]P),
		removed:  make(map[object.ID]P),
	}
	t.detach = p.AddObserver(&Listeners[T, P]{
		BeforeModifyFn: t.beforeModify,
		BeforeRemoveFn: t.beforeRemove,
		OnCreatedFn:    t.onCreated,
		OnRemovedFn:    t.onRemoved,
	})
	return t
}

func (t *undoTracker[T, P]) onCreated(obj P) {
	id := obj.ObjectID()
	if old, ok := t.removed[id]; ok {
		// Re-inserted after removal: undo restores the removed version.
		delete(t.removed, id)
		t.modified[id] = old
		return
	}
	t.created[id] = struct{}{}
}

func (t *undoTracker[T, P]) beforeModify(old P) error {
	id := old.ObjectID()
	if _, ok := t.created[id]; ok {
		return nil
	}
	if _, ok := t.modified[id]; !ok {
		t.modified[id] = old
	}
	return nil
}

func (t *undoTracker[T, P]) beforeRemove(old P) error {
	id := old.ObjectID()
	if _, ok := t.created[id]; ok {
		return nil
	}
	if prev, ok := t.modified[id]; ok {
		old = prev
	}
	t.removed[id] = old
	return nil
}

func (t *undoTracker[T, P]) onRemoved(obj P) {
	id := obj.ObjectID()
	if _, ok := t.created[id]; ok {
		delete(t.created, id)
		return
	}
	delete(t.modified, id)
}

// Undo reverts every tracked mutation in one atomic batch: created records
// are removed, modified and removed records are restored, and the
// allocator is reset. On error nothing is reverted.
func (t *undoTracker[T, P]) Undo() error {
	return UndoAll(t)
}

// Commit keeps all tracked mutations and stops tracking.
func (t *undoTracker[T, P]) Commit() {
	t.finish()
}

func (t *undoTracker[T, P]) finish() bool {
	if t.done {
		return false
	}
	t.done = true
	t.detach()
	return true
}

func (t *undoTracker[T, P]) target() db.Store { return t.p.store }

// stageUndo drops the current version of every touched record with its
// secondary entries, then writes back the pre-images. Deletes are staged
// first so a unique key that changed hands during the session can be
// handed back within the same batch.
func (t *undoTracker[T, P]) stageUndo(b db.Batch) (func(), error) {
	p := t.p
	if err := p.check(); err != nil {
		return nil, p.fail("undo", "", err)
	}

	touched := make(map[object.ID]struct{}, len(t.created)+len(t.modified)+len(t.removed))
	for id := range t.created {
		touched[id] = struct{}{}
	}
	for _, set := range []map[object.ID]P{t.modified, t.removed} {
		for id := range set {
			touched[id] = struct{}{}
		}
	}

	current := make(map[object.ID]P, len(touched))
	for _, id := range slices.Sorted(maps.Keys(touched)) {
		cur, err := p.lookup(p.store, id)
		switch {
		case errors.Is(err, ErrNotFound):
			continue
		case err != nil:
			return nil, p.fail("undo", id.String(), err)
		}
		current[id] = cur
		if err := b.Delete(p.keyspace, id.Key()); err != nil {
			return nil, p.fail("undo", id.String(), engineErr(err))
		}
		for _, s := range p.secondaries {
			if err := s.remove(b, cur); err != nil {
				return nil, p.fail("undo", id.String(), err)
			}
		}
	}

	restored := make([]P, 0, len(t.modified)+len(t.removed))
	for _, set := range []map[object.ID]P{t.modified, t.removed} {
		for _, id := range slices.Sorted(maps.Keys(set)) {
			restored = append(restored, set[id])
		}
	}
	raws := make([][]byte, len(restored))
	for i, old := range restored {
		raw, err := p.stage(b, old)
		if err != nil {
			return nil, p.fail("undo", old.ObjectID().String(), err)
		}
		raws[i] = raw
	}
	for _, s := range p.secondaries {
		seen := make(map[string]object.ID)
		for _, old := range restored {
			if err := s.restore(b, old, touched, seen); err != nil {
				return nil, p.fail("undo", old.ObjectID().String(), err)
			}
		}
	}
	if err := b.Put(p.keyspace, nextIDKey, p.nextIDValue(t.next)); err != nil {
		return nil, p.fail("undo", "", engineErr(err))
	}

	apply := func() {
		for id := range touched {
			p.cacheRemove(id)
		}
		for i, old := range restored {
			p.cacheAdd(old.ObjectID(), raws[i])
		}
		p.alloc.SetNext(t.next)

		for _, id := range slices.Sorted(maps.Keys(current)) {
			if _, ok := t.created[id]; ok {
				for _, e := range p.observers {
					e.observer.OnRemoved(current[id])
				}
			}
		}
		for _, old := range restored {
			_, existed := current[old.ObjectID()]
			for _, e := range p.observers {
				if existed {
					e.observer.OnModified(old)
				} else {
					e.observer.OnCreated(old)
				}
			}
		}
		p.logger.Debug("index mutations undone",
			"created", len(t.created),
			"modified", len(t.modified),
			"removed", len(t.removed),
		)
	}
	return apply, nil
}

// UndoAll rolls back every tracker that is still active. Trackers whose
// indices share a store are reverted in a single batch, so either all of
// them take effect or none does. Every tracker ends, even on error.
func UndoAll(trackers ...Tracker) error {
	type group struct {
		store    db.Store
		trackers []Tracker
	}
	var groups []*group
	for _, t := range trackers {
		if t == nil || !t.finish() {
			continue
		}
		i := slices.IndexFunc(groups, func(g *group) bool { return g.store == t.target() })
		if i < 0 {
			groups = append(groups, &group{store: t.target()})
			i = len(groups) - 1
		}
		groups[i].trackers = append(groups[i].trackers, t)
	}

	var errs []error
	for _, g := range groups {
		if err := undoGroup(g.store, g.trackers); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func undoGroup(store db.Store, trackers []Tracker) error {
	b := store.NewBatch()
	defer b.Close()

	applies := make([]func(), 0, len(trackers))
	for _, t := range trackers {
		apply, err := t.stageUndo(b)
		if err != nil {
			return err
		}
		applies = append(applies, apply)
	}
	if err := b.Commit(); err != nil {
		return engineErr(err)
	}
	for _, apply := range applies {
		apply()
	}
	return nil
}
