package index

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/beyondbrewing/brewery-ledger/db"
	"github.com/beyondbrewing/brewery-ledger/object"
)

// rebuildBatchSize bounds the number of entries written per batch while a
// secondary index is rebuilt.
const rebuildBatchSize = 1024

// Extractor derives the secondary key of a record. Returning a nil key
// leaves the record out of the index.
type Extractor[T any, P Ptr[T]] func(obj P) (Key, error)

// Secondary orders the records of a primary index by a derived key. Its
// entries are maintained by the primary on every mutation and always map
// to an existing record.
//
// Unique indices store key -> id. Indices allowing duplicates store
// key|id -> id so equal keys are ordered by ascending id.
type Secondary[T any, P Ptr[T]] struct {
	name     string
	keyspace string
	unique   bool
	extract  Extractor[T, P]
	primary  *Primary[T, P]
}

// AddSecondary registers a secondary index named name. Registering on an
// open primary backfills the new index immediately; otherwise this happens
// on Open. Indices are unique unless AllowDuplicates is given.
func (p *Primary[T, P]) AddSecondary(name string, extract Extractor[T, P], opts ...SecondaryOption) (*Secondary[T, P], error) {
	if name == "" || extract == nil {
		return nil, fmt.Errorf("%w: secondary index needs a name and an extractor", ErrInvalidKey)
	}
	if slices.ContainsFunc(p.secondaries, func(s *Secondary[T, P]) bool { return s.name == name }) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}

	cfg := &secondaryConfig{unique: true}
	for _, o := range opts {
		o(cfg)
	}

	s := &Secondary[T, P]{
		name:     name,
		keyspace: p.keyspace + "." + name,
		unique:   cfg.unique,
		extract:  extract,
		primary:  p,
	}
	if err := p.store.CreateColumnFamily(s.keyspace); err != nil {
		return nil, engineErr(err)
	}
	if p.open {
		if err := s.backfill(); err != nil {
			return nil, p.fail("add_secondary", name, err)
		}
	}
	p.secondaries = append(p.secondaries, s)
	return s, nil
}

// Name returns the index name.
func (s *Secondary[T, P]) Name() string { return s.name }

// Keyspace returns the column family holding the entries.
func (s *Secondary[T, P]) Keyspace() string { return s.keyspace }

// Unique reports whether duplicate keys are rejected.
func (s *Secondary[T, P]) Unique() bool { return s.unique }

// entry derives the stored key for obj, or nil when obj is not indexed.
func (s *Secondary[T, P]) entry(obj P) ([]byte, error) {
	k, err := s.extract(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidKey, s.name, err)
	}
	if k == nil {
		return nil, nil
	}
	if len(k) == 0 {
		return nil, fmt.Errorf("%w: %s: empty key", ErrInvalidKey, s.name)
	}
	if s.unique {
		return bytes.Clone(k), nil
	}
	return obj.ObjectID().AppendKey(bytes.Clone(k)), nil
}

// put stages an entry, enforcing uniqueness against committed state.
func (s *Secondary[T, P]) put(b db.Batch, ek []byte, id object.ID) error {
	if s.unique {
		owner, err := s.primary.store.Get(s.keyspace, ek)
		switch {
		case err == nil:
			if !bytes.Equal(owner, id.Key()) {
				return fmt.Errorf("%w: %s: key %x already used", ErrInvalidKey, s.name, ek)
			}
		case !isNotFound(err):
			return engineErr(err)
		}
	}
	return engineErr(b.Put(s.keyspace, ek, id.Key()))
}

func (s *Secondary[T, P]) insert(b db.Batch, obj P) error {
	ek, err := s.entry(obj)
	if err != nil || ek == nil {
		return err
	}
	return s.put(b, ek, obj.ObjectID())
}

func (s *Secondary[T, P]) update(b db.Batch, old, obj P) error {
	oldKey, err := s.entry(old)
	if err != nil {
		return err
	}
	newKey, err := s.entry(obj)
	if err != nil {
		return err
	}
	if (oldKey == nil) == (newKey == nil) && bytes.Equal(oldKey, newKey) {
		return nil
	}
	if oldKey != nil {
		if err := b.Delete(s.keyspace, oldKey); err != nil {
			return engineErr(err)
		}
	}
	if newKey == nil {
		return nil
	}
	return s.put(b, newKey, obj.ObjectID())
}

// restore stages the entry of a record written back by undo. The entries
// of every touched record are deleted in the same batch, so a committed
// owner only conflicts when it was not touched. seen catches conflicts
// among the restored records themselves.
func (s *Secondary[T, P]) restore(b db.Batch, obj P, touched map[object.ID]struct{}, seen map[string]object.ID) error {
	ek, err := s.entry(obj)
	if err != nil || ek == nil {
		return err
	}
	id := obj.ObjectID()
	if s.unique {
		if other, dup := seen[string(ek)]; dup && other != id {
			return fmt.Errorf("%w: %s: key %x restored for %s and %s", ErrInvalidKey, s.name, ek, other, id)
		}
		seen[string(ek)] = id
		v, err := s.primary.store.Get(s.keyspace, ek)
		switch {
		case err == nil:
			owner, err := s.owner(v)
			if err != nil {
				return err
			}
			if _, ok := touched[owner]; !ok && owner != id {
				return fmt.Errorf("%w: %s: key %x already used by %s", ErrInvalidKey, s.name, ek, owner)
			}
		case !isNotFound(err):
			return engineErr(err)
		}
	}
	return engineErr(b.Put(s.keyspace, ek, id.Key()))
}

func (s *Secondary[T, P]) remove(b db.Batch, old P) error {
	ek, err := s.entry(old)
	if err != nil || ek == nil {
		return err
	}
	return engineErr(b.Delete(s.keyspace, ek))
}

// builtPrefix starts the reserved primary keys marking secondary indices
// whose entries are complete. The marker sorts after every record id and
// before the allocator and version sentinels.
var builtPrefix = []byte{object.ReservedSpace, 0x00}

func builtKey(name string) []byte {
	return append(bytes.Clone(builtPrefix), name...)
}

// built reports whether the last rebuild of the index ran to completion.
func (s *Secondary[T, P]) built() (bool, error) {
	ok, err := s.primary.store.Has(s.primary.keyspace, builtKey(s.name))
	return ok, engineErr(err)
}

// backfill rebuilds the index unless it is marked complete. A rebuild cut
// short by a crash or an error leaves the marker unset, so the next Open
// starts over.
func (s *Secondary[T, P]) backfill() error {
	ok, err := s.built()
	if err != nil || ok {
		return err
	}
	return s.Rebuild(context.Background())
}

// dropStaleMarkers removes the completion markers of secondary indices that
// are not registered. Mutations made now do not reach their keyspaces, so
// registering them again later must rebuild them.
func (p *Primary[T, P]) dropStaleMarkers() error {
	it, err := p.store.NewIterator(p.keyspace)
	if err != nil {
		return engineErr(err)
	}
	var stale [][]byte
	for it.Seek(builtPrefix); it.Valid() && bytes.HasPrefix(it.Key(), builtPrefix); it.Next() {
		name := string(it.Key()[len(builtPrefix):])
		if !slices.ContainsFunc(p.secondaries, func(s *Secondary[T, P]) bool { return s.name == name }) {
			stale = append(stale, bytes.Clone(it.Key()))
		}
	}
	err = it.Err()
	it.Close()
	if err != nil {
		return engineErr(err)
	}
	for _, k := range stale {
		if err := p.store.Delete(p.keyspace, k); err != nil {
			return engineErr(err)
		}
		p.logger.Info("secondary index marked for rebuild", "secondary", string(k[len(builtPrefix):]))
	}
	return nil
}

// Rebuild drops every entry and re-derives the index from the primary.
// The index is marked complete in the final batch; until then a restart
// rebuilds it again. Mutations must not run concurrently with a rebuild.
func (s *Secondary[T, P]) Rebuild(ctx context.Context) error {
	p := s.primary
	if err := p.check(); err != nil {
		return p.fail("rebuild", s.name, err)
	}
	if err := s.clear(ctx); err != nil {
		return p.fail("rebuild", s.name, err)
	}

	seen := make(map[string]object.ID)
	b := p.store.NewBatch()
	defer func() { b.Close() }()
	n := 0
	for obj, err := range p.All() {
		if err != nil {
			return p.fail("rebuild", s.name, err)
		}
		if err := ctx.Err(); err != nil {
			return p.fail("rebuild", s.name, err)
		}
		ek, err := s.entry(obj)
		if err != nil {
			return p.fail("rebuild", s.name, err)
		}
		if ek == nil {
			continue
		}
		if s.unique {
			if owner, dup := seen[string(ek)]; dup {
				return p.fail("rebuild", s.name, fmt.Errorf("%w: %s: key %x shared by %s and %s",
					ErrInvalidKey, s.name, ek, owner, obj.ObjectID()))
			}
			seen[string(ek)] = obj.ObjectID()
		}
		if err := b.Put(s.keyspace, ek, obj.ObjectID().Key()); err != nil {
			return p.fail("rebuild", s.name, engineErr(err))
		}
		n++
		if b.Count() >= rebuildBatchSize {
			if err := b.Commit(); err != nil {
				return p.fail("rebuild", s.name, engineErr(err))
			}
			b.Close()
			b = p.store.NewBatch()
		}
	}
	if err := b.Put(p.keyspace, builtKey(s.name), []byte{1}); err != nil {
		return p.fail("rebuild", s.name, engineErr(err))
	}
	if err := b.Commit(); err != nil {
		return p.fail("rebuild", s.name, engineErr(err))
	}

	p.logger.Info("secondary index rebuilt", "secondary", s.name, "entries", n)
	return nil
}

func (s *Secondary[T, P]) clear(ctx context.Context) error {
	store := s.primary.store
	if err := store.Delete(s.primary.keyspace, builtKey(s.name)); err != nil {
		return engineErr(err)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		it, err := store.NewIterator(s.keyspace)
		if err != nil {
			return engineErr(err)
		}
		b := store.NewBatch()
		for it.SeekToFirst(); err == nil && it.Valid() && b.Count() < rebuildBatchSize; it.Next() {
			err = b.Delete(s.keyspace, it.Key())
		}
		if err == nil {
			err = it.Err()
		}
		it.Close()
		if err != nil {
			b.Close()
			return engineErr(err)
		}
		if b.Count() == 0 {
			b.Close()
			return nil
		}
		err = b.Commit()
		b.Close()
		if err != nil {
			return engineErr(err)
		}
	}
}

// Find returns the record stored under k. With duplicates allowed it
// returns the one with the lowest id.
func (s *Secondary[T, P]) Find(k Key) (P, error) {
	p := s.primary
	if err := p.check(); err != nil {
		return nil, p.fail("find", s.name, err)
	}
	id, err := s.locate(p.store, k)
	if err != nil {
		return nil, p.fail("find", s.name, err)
	}
	return p.Find(id)
}

// Exists reports whether any record is stored under k.
func (s *Secondary[T, P]) Exists(k Key) (bool, error) {
	p := s.primary
	if err := p.check(); err != nil {
		return false, p.fail("exists", s.name, err)
	}
	_, err := s.locate(p.store, k)
	switch {
	case err == nil:
		return true, nil
	case isNotFoundErr(err):
		return false, nil
	default:
		return false, p.fail("exists", s.name, err)
	}
}

func (s *Secondary[T, P]) locate(r db.Reader, k Key) (object.ID, error) {
	if len(k) == 0 {
		return 0, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if s.unique {
		v, err := r.Get(s.keyspace, k)
		if err != nil {
			if isNotFound(err) {
				return 0, ErrNotFound
			}
			return 0, engineErr(err)
		}
		return s.owner(v)
	}

	it, err := r.NewIterator(s.keyspace)
	if err != nil {
		return 0, engineErr(err)
	}
	defer it.Close()
	it.Seek(k)
	if it.Valid() {
		key := it.Key()
		if len(key) == len(k)+object.KeySize && bytes.HasPrefix(key, k) {
			return s.owner(it.Value())
		}
	}
	if err := it.Err(); err != nil {
		return 0, engineErr(err)
	}
	return 0, ErrNotFound
}

func (s *Secondary[T, P]) owner(v []byte) (object.ID, error) {
	id, err := object.FromKey(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: bad entry value: %w", ErrEngine, s.name, err)
	}
	return id, nil
}

// First returns a cursor at the lowest key.
func (s *Secondary[T, P]) First() (*Cursor[T, P], error) {
	return s.cursor("first", func(it db.Iterator) { it.SeekToFirst() })
}

// Last returns a cursor at the highest key.
func (s *Secondary[T, P]) Last() (*Cursor[T, P], error) {
	return s.cursor("last", func(it db.Iterator) { it.SeekToLast() })
}

// LowerBound returns a cursor at the first entry whose key is >= k. A
// prefix of a composite key positions at the first entry sharing it.
func (s *Secondary[T, P]) LowerBound(k Key) (*Cursor[T, P], error) {
	seek := bytes.Clone(k)
	return s.cursor("lower_bound", func(it db.Iterator) { it.Seek(seek) })
}

// UpperBound returns a cursor at the first entry whose key is > k,
// treating k as a prefix: every entry starting with k is skipped.
func (s *Secondary[T, P]) UpperBound(k Key) (*Cursor[T, P], error) {
	succ := PrefixSuccessor(k)
	if succ == nil {
		if err := s.primary.check(); err != nil {
			return nil, s.primary.fail("upper_bound", s.name, err)
		}
		return endCursor[T, P](), nil
	}
	return s.cursor("upper_bound", func(it db.Iterator) { it.Seek(succ) })
}

// Scan calls fn for every record with key >= from in key order until fn
// returns false.
func (s *Secondary[T, P]) Scan(from Key, fn func(P) bool) error {
	c, err := s.LowerBound(from)
	if err != nil {
		return err
	}
	defer c.Close()
	for ; c.Valid(); c.Next() {
		if !fn(c.Value()) {
			break
		}
	}
	return c.Err()
}

// Prefix iterates the records whose key starts with prefix, in key order.
func (s *Secondary[T, P]) Prefix(prefix Key) iter.Seq2[P, error] {
	return func(yield func(P, error) bool) {
		c, err := s.LowerBound(prefix)
		if err != nil {
			yield(nil, err)
			return
		}
		defer c.Close()
		for ; c.Valid() && bytes.HasPrefix(c.Key(), prefix); c.Next() {
			if !yield(c.Value(), nil) {
				return
			}
		}
		if err := c.Err(); err != nil {
			yield(nil, err)
		}
	}
}

func (s *Secondary[T, P]) cursor(op string, seek func(db.Iterator)) (*Cursor[T, P], error) {
	p := s.primary
	if err := p.check(); err != nil {
		return nil, p.fail(op, s.name, err)
	}
	c, err := newCursor[T, P](p.store, s.keyspace, seek, s.resolve)
	if err != nil {
		return nil, p.fail(op, s.name, err)
	}
	return c, nil
}

// resolve loads the record an entry points at from the cursor's snapshot.
func (s *Secondary[T, P]) resolve(r db.Reader, key, value []byte) (P, Key, bool, error) {
	id, err := s.owner(value)
	if err != nil {
		return nil, nil, false, err
	}
	derived := key
	if !s.unique {
		if len(key) <= object.KeySize {
			return nil, nil, false, fmt.Errorf("%w: %s: short entry key %x", ErrEngine, s.name, key)
		}
		derived = key[:len(key)-object.KeySize]
	}
	obj, err := s.primary.lookup(r, id)
	if err != nil {
		if isNotFoundErr(err) {
			return nil, nil, false, fmt.Errorf("%w: %s: entry %x points at missing %s", ErrEngine, s.name, derived, id)
		}
		return nil, nil, false, err
	}
	return obj, Key(derived), true, nil
}
