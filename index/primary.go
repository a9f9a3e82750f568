package index

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/beyondbrewing/brewery-ledger/db"
	"github.com/beyondbrewing/brewery-ledger/object"
	"github.com/beyondbrewing/brewery-ledger/pkg/logger"
)

// Reserved keys inside every primary keyspace. They sort after any real
// object id because their space byte is object.ReservedSpace. Secondary
// completion markers live in the same range (see builtPrefix).
var (
	versionKey = object.ID(^uint64(0)).Key()
	nextIDKey  = object.ID(^uint64(0) - 1).Key()
)

// Primary is the authoritative store of records of one object type, keyed
// by object id. Secondary indices registered on it are kept consistent on
// every mutation: a record and all of its secondary entries are written in
// one atomic batch.
//
// Reads may run concurrently with each other. Mutations must be serialised
// by the caller and must not run concurrently with reads.
type Primary[T any, P Ptr[T]] struct {
	name     string
	typ      object.Type
	keyspace string
	store    db.Store
	alloc    *object.Allocator
	schema   SchemaVersion
	compress bool
	cache    *lru.Cache[object.ID, []byte]
	metrics  *Metrics
	logger   logger.Logger

	secondaries []*Secondary[T, P]
	observers   []observerEntry[T, P]
	observerSeq int

	open   bool
	closed bool
}

var _ Index = (*Primary[struct{ Object }, *struct{ Object }])(nil)

// NewPrimary binds a primary index for typ to env. The index must be opened
// before use; secondaries are best registered before Open.
func NewPrimary[T any, P Ptr[T]](env *db.Environment, typ object.Type, opts ...Option) (*Primary[T, P], error) {
	if env == nil {
		return nil, db.ErrEnvironmentNotAvailable
	}
	if err := typ.Validate(); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	if cfg.Schema == "" {
		cfg.Schema = DescribeType[T]()
	}
	if cfg.Name == "" {
		cfg.Name = typ.Keyspace()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}

	store := env.Store()
	if cfg.InMemory {
		store = env.Memory()
	}
	keyspace := typ.Keyspace()
	if err := store.CreateColumnFamily(keyspace); err != nil {
		return nil, engineErr(err)
	}

	p := &Primary[T, P]{
		name:     cfg.Name,
		typ:      typ,
		keyspace: keyspace,
		store:    store,
		alloc:    object.NewAllocator(typ),
		schema:   HashSchema(cfg.Schema),
		compress: cfg.Compress,
		metrics:  cfg.Metrics,
		logger:   log.With("component", "index", "index", cfg.Name),
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[object.ID, []byte](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("index: record cache: %w", err)
		}
		p.cache = cache
	}
	return p, nil
}

// Name returns the index label.
func (p *Primary[T, P]) Name() string { return p.name }

// Type returns the (space, type) pair the index stores.
func (p *Primary[T, P]) Type() object.Type { return p.typ }

// Keyspace returns the column family holding the records.
func (p *Primary[T, P]) Keyspace() string { return p.keyspace }

// SchemaVersion returns the version this index was built with.
func (p *Primary[T, P]) SchemaVersion() SchemaVersion { return p.schema }

// NextID returns the id the next Create will assign.
func (p *Primary[T, P]) NextID() object.ID { return p.typ.ID(p.alloc.Next()) }

// Open validates the stored schema version and restores the id allocator.
// On a version mismatch nothing is written and ErrIncompatibleSchema is
// returned. A fresh keyspace is stamped with the current version. Every
// registered secondary not marked complete is rebuilt.
func (p *Primary[T, P]) Open() error {
	switch {
	case p.closed:
		return p.fail("open", "", ErrNotOpen)
	case p.open:
		return p.fail("open", "", ErrAlreadyOpen)
	}

	fresh := false
	stored, err := p.store.Get(p.keyspace, versionKey)
	switch {
	case err == nil:
		if !bytes.Equal(stored, p.schema[:]) {
			return p.fail("open", "", fmt.Errorf("%w: stored %x, expected %s",
				ErrIncompatibleSchema, stored, p.schema))
		}
	case isNotFound(err):
		fresh = true
	default:
		return p.fail("open", "", engineErr(err))
	}

	next, err := p.loadNextID()
	if err != nil {
		return p.fail("open", "", err)
	}
	if fresh {
		if err := p.store.Put(p.keyspace, versionKey, p.schema[:]); err != nil {
			return p.fail("open", "", engineErr(err))
		}
	}
	p.alloc.SetNext(next)
	p.open = true

	if err := p.dropStaleMarkers(); err != nil {
		p.open = false
		return p.fail("open", "", err)
	}
	for _, s := range p.secondaries {
		if err := s.backfill(); err != nil {
			p.open = false
			return p.fail("open", s.name, err)
		}
	}

	p.logger.Info("index opened",
		"keyspace", p.keyspace,
		"next_id", p.NextID().String(),
		"fresh", fresh,
		"secondaries", len(p.secondaries),
	)
	return nil
}

// loadNextID reads the persisted allocator, falling back to one past the
// highest stored id when the counter is missing.
func (p *Primary[T, P]) loadNextID() (uint64, error) {
	v, err := p.store.Get(p.keyspace, nextIDKey)
	if err == nil {
		if len(v) != 8 {
			return 0, fmt.Errorf("%w: next id record is %d bytes", ErrEngine, len(v))
		}
		return binary.BigEndian.Uint64(v), nil
	}
	if !isNotFound(err) {
		return 0, engineErr(err)
	}

	it, err := p.store.NewIterator(p.keyspace)
	if err != nil {
		return 0, engineErr(err)
	}
	defer it.Close()

	it.Seek([]byte{object.ReservedSpace})
	if it.Valid() {
		it.Prev()
	} else {
		it.SeekToLast()
	}
	if !it.Valid() {
		return 0, engineErr(it.Err())
	}
	id, err := object.FromKey(it.Key())
	if err != nil || id.Reserved() || !id.SameType(p.typ.First()) {
		return 0, nil
	}
	return id.Instance() + 1, nil
}

// Save persists the allocator and schema version and flushes the store.
func (p *Primary[T, P]) Save() error {
	if err := p.check(); err != nil {
		return p.fail("save", "", err)
	}
	b := p.store.NewBatch()
	defer b.Close()
	if err := b.Put(p.keyspace, nextIDKey, p.nextIDValue(p.alloc.Next())); err != nil {
		return p.fail("save", "", engineErr(err))
	}
	if err := b.Put(p.keyspace, versionKey, p.schema[:]); err != nil {
		return p.fail("save", "", engineErr(err))
	}
	if err := b.Commit(); err != nil {
		return p.fail("save", "", engineErr(err))
	}
	if err := p.store.Flush(); err != nil {
		return p.fail("save", "", engineErr(err))
	}
	p.logger.Debug("index saved", "next_id", p.NextID().String())
	return nil
}

// Flush forces buffered writes to stable storage.
func (p *Primary[T, P]) Flush() error {
	if err := p.store.Flush(); err != nil {
		return p.fail("flush", "", engineErr(err))
	}
	return nil
}

// Close detaches the index from the store. The shared store itself is
// owned by the environment and stays open.
func (p *Primary[T, P]) Close() error {
	if p.closed {
		return nil
	}
	p.open = false
	p.closed = true
	if p.cache != nil {
		p.cache.Purge()
	}
	p.logger.Debug("index closed")
	return nil
}

// SetNextID moves the allocator and persists it. It is used by the object
// database to restore allocator state; setting it below a stored id makes
// the next Create fail with ErrDuplicateID.
func (p *Primary[T, P]) SetNextID(id object.ID) error {
	if err := p.check(); err != nil {
		return p.fail("set_next_id", id.String(), err)
	}
	if !id.SameType(p.typ.First()) {
		return p.fail("set_next_id", id.String(), object.ErrInvalidID)
	}
	if err := p.store.Put(p.keyspace, nextIDKey, p.nextIDValue(id.Instance())); err != nil {
		return p.fail("set_next_id", id.String(), engineErr(err))
	}
	return p.alloc.Set(id)
}

// AddObserver registers o and returns a function that detaches it.
func (p *Primary[T, P]) AddObserver(o Observer[T, P]) (detach func()) {
	p.observerSeq++
	id := p.observerSeq
	p.observers = append(p.observers, observerEntry[T, P]{id: id, observer: o})
	return func() {
		p.observers = slices.DeleteFunc(p.observers, func(e observerEntry[T, P]) bool {
			return e.id == id
		})
	}
}

// Create allocates the next id, lets init populate a fresh record, and
// stores it with all secondary entries. The allocator only advances when
// the write succeeds.
func (p *Primary[T, P]) Create(init func(P) error) (P, error) {
	start := time.Now()
	obj, err := p.create(init)
	p.metrics.observe(p.name, "create", start, err)
	return obj, err
}

func (p *Primary[T, P]) create(init func(P) error) (P, error) {
	if err := p.check(); err != nil {
		return nil, p.fail("create", "", err)
	}
	id, err := p.alloc.Peek()
	if err != nil {
		return nil, p.fail("create", "", err)
	}
	target := id.String()

	obj := P(new(T))
	obj.SetObjectID(id)
	if init != nil {
		if err := init(obj); err != nil {
			return nil, p.fail("create", target, err)
		}
	}
	obj.SetObjectID(id)

	exists, err := p.store.Has(p.keyspace, id.Key())
	if err != nil {
		return nil, p.fail("create", target, engineErr(err))
	}
	if exists {
		return nil, p.fail("create", target, ErrDuplicateID)
	}

	b := p.store.NewBatch()
	defer b.Close()
	raw, err := p.stage(b, obj)
	if err != nil {
		return nil, p.fail("create", target, err)
	}
	if err := b.Put(p.keyspace, nextIDKey, p.nextIDValue(id.Instance()+1)); err != nil {
		return nil, p.fail("create", target, engineErr(err))
	}
	for _, s := range p.secondaries {
		if err := s.insert(b, obj); err != nil {
			return nil, p.fail("create", target, err)
		}
	}
	if err := b.Commit(); err != nil {
		return nil, p.fail("create", target, engineErr(err))
	}

	p.alloc.Advance()
	p.cacheAdd(id, raw)
	for _, e := range p.observers {
		e.observer.OnCreated(obj)
	}
	return obj, nil
}

// Insert stores a record under the id it already carries. It is used to
// restore records, e.g. on undo. The allocator moves past the id if needed.
func (p *Primary[T, P]) Insert(obj P) error {
	start := time.Now()
	err := p.insert(obj)
	p.metrics.observe(p.name, "insert", start, err)
	return err
}

func (p *Primary[T, P]) insert(obj P) error {
	if err := p.check(); err != nil {
		return p.fail("insert", "", err)
	}
	id := obj.ObjectID()
	target := id.String()
	if !id.SameType(p.typ.First()) {
		return p.fail("insert", target, object.ErrInvalidID)
	}

	exists, err := p.store.Has(p.keyspace, id.Key())
	if err != nil {
		return p.fail("insert", target, engineErr(err))
	}
	if exists {
		return p.fail("insert", target, ErrDuplicateID)
	}

	b := p.store.NewBatch()
	defer b.Close()
	raw, err := p.stage(b, obj)
	if err != nil {
		return p.fail("insert", target, err)
	}
	bump := id.Instance() >= p.alloc.Next()
	if bump {
		if err := b.Put(p.keyspace, nextIDKey, p.nextIDValue(id.Instance()+1)); err != nil {
			return p.fail("insert", target, engineErr(err))
		}
	}
	for _, s := range p.secondaries {
		if err := s.insert(b, obj); err != nil {
			return p.fail("insert", target, err)
		}
	}
	if err := b.Commit(); err != nil {
		return p.fail("insert", target, engineErr(err))
	}

	if bump {
		p.alloc.SetNext(id.Instance() + 1)
	}
	p.cacheAdd(id, raw)
	for _, e := range p.observers {
		e.observer.OnCreated(obj)
	}
	return nil
}

// Find returns a fresh copy of the record with the given id. Mutating the
// copy does not affect the store; use Modify for that.
func (p *Primary[T, P]) Find(id object.ID) (P, error) {
	if err := p.check(); err != nil {
		return nil, p.fail("find", id.String(), err)
	}
	if !id.SameType(p.typ.First()) || id.Reserved() {
		return nil, p.fail("find", id.String(), ErrNotFound)
	}
	raw, err := p.load(id)
	if err != nil {
		return nil, p.fail("find", id.String(), err)
	}
	obj, err := p.decode(id, raw)
	if err != nil {
		return nil, p.fail("find", id.String(), err)
	}
	return obj, nil
}

// Has reports whether a record with the given id is stored.
func (p *Primary[T, P]) Has(id object.ID) (bool, error) {
	if err := p.check(); err != nil {
		return false, p.fail("has", id.String(), err)
	}
	if !id.SameType(p.typ.First()) || id.Reserved() {
		return false, nil
	}
	ok, err := p.store.Has(p.keyspace, id.Key())
	if err != nil {
		return false, p.fail("has", id.String(), engineErr(err))
	}
	return ok, nil
}

// Modify applies mutate to a copy of the stored record and writes the
// result together with any secondary key changes. The id cannot be changed.
func (p *Primary[T, P]) Modify(id object.ID, mutate func(P) error) (P, error) {
	start := time.Now()
	obj, err := p.modify(id, mutate)
	p.metrics.observe(p.name, "modify", start, err)
	return obj, err
}

func (p *Primary[T, P]) modify(id object.ID, mutate func(P) error) (P, error) {
	target := id.String()
	if err := p.check(); err != nil {
		return nil, p.fail("modify", target, err)
	}
	if !id.SameType(p.typ.First()) || id.Reserved() {
		return nil, p.fail("modify", target, ErrNotFound)
	}
	raw, err := p.load(id)
	if err != nil {
		return nil, p.fail("modify", target, err)
	}
	old, err := p.decode(id, raw)
	if err != nil {
		return nil, p.fail("modify", target, err)
	}
	for _, e := range p.observers {
		if err := e.observer.BeforeModify(old); err != nil {
			return nil, p.fail("modify", target, fmt.Errorf("%w: %w", ErrObserverVeto, err))
		}
	}

	obj, err := p.decode(id, raw)
	if err != nil {
		return nil, p.fail("modify", target, err)
	}
	if err := mutate(obj); err != nil {
		return nil, p.fail("modify", target, err)
	}
	obj.SetObjectID(id)

	b := p.store.NewBatch()
	defer b.Close()
	newRaw, err := p.stage(b, obj)
	if err != nil {
		return nil, p.fail("modify", target, err)
	}
	for _, s := range p.secondaries {
		if err := s.update(b, old, obj); err != nil {
			return nil, p.fail("modify", target, err)
		}
	}
	if err := b.Commit(); err != nil {
		p.cacheRemove(id)
		return nil, p.fail("modify", target, engineErr(err))
	}

	p.cacheAdd(id, newRaw)
	for _, e := range p.observers {
		e.observer.OnModified(obj)
	}
	return obj, nil
}

// Remove deletes the record and its secondary entries. Removing an absent
// id returns ErrNotFound and changes nothing.
func (p *Primary[T, P]) Remove(id object.ID) error {
	start := time.Now()
	err := p.remove(id)
	p.metrics.observe(p.name, "remove", start, err)
	return err
}

func (p *Primary[T, P]) remove(id object.ID) error {
	target := id.String()
	if err := p.check(); err != nil {
		return p.fail("remove", target, err)
	}
	if !id.SameType(p.typ.First()) || id.Reserved() {
		return p.fail("remove", target, ErrNotFound)
	}
	raw, err := p.load(id)
	if err != nil {
		return p.fail("remove", target, err)
	}
	old, err := p.decode(id, raw)
	if err != nil {
		return p.fail("remove", target, err)
	}
	for _, e := range p.observers {
		if err := e.observer.BeforeRemove(old); err != nil {
			return p.fail("remove", target, fmt.Errorf("%w: %w", ErrObserverVeto, err))
		}
	}

	b := p.store.NewBatch()
	defer b.Close()
	if err := b.Delete(p.keyspace, id.Key()); err != nil {
		return p.fail("remove", target, engineErr(err))
	}
	for _, s := range p.secondaries {
		if err := s.remove(b, old); err != nil {
			return p.fail("remove", target, err)
		}
	}
	p.cacheRemove(id)
	if err := b.Commit(); err != nil {
		return p.fail("remove", target, engineErr(err))
	}

	for _, e := range p.observers {
		e.observer.OnRemoved(old)
	}
	return nil
}

// Count walks the keyspace and returns the number of stored records.
func (p *Primary[T, P]) Count() (int, error) {
	if err := p.check(); err != nil {
		return 0, p.fail("count", "", err)
	}
	it, err := p.store.NewIterator(p.keyspace)
	if err != nil {
		return 0, p.fail("count", "", engineErr(err))
	}
	defer it.Close()

	n := 0
	for it.Seek(p.typ.First().Key()); it.Valid(); it.Next() {
		id, err := object.FromKey(it.Key())
		if err != nil || !id.SameType(p.typ.First()) {
			break
		}
		n++
	}
	if err := it.Err(); err != nil {
		return 0, p.fail("count", "", engineErr(err))
	}
	return n, nil
}

// First returns a cursor at the lowest stored id.
func (p *Primary[T, P]) First() (*Cursor[T, P], error) {
	return p.cursor("first", func(it db.Iterator) { it.SeekToFirst() })
}

// LowerBound returns a cursor at the first record whose id is >= id.
func (p *Primary[T, P]) LowerBound(id object.ID) (*Cursor[T, P], error) {
	key := id.Key()
	return p.cursor("lower_bound", func(it db.Iterator) { it.Seek(key) })
}

// UpperBound returns a cursor at the first record whose id is > id.
func (p *Primary[T, P]) UpperBound(id object.ID) (*Cursor[T, P], error) {
	if id == ^object.ID(0) {
		return endCursor[T, P](), nil
	}
	key := (id + 1).Key()
	return p.cursor("upper_bound", func(it db.Iterator) { it.Seek(key) })
}

// Scan calls fn for every record with id >= from in ascending order until
// fn returns false. The cursor is released before Scan returns.
func (p *Primary[T, P]) Scan(from object.ID, fn func(P) bool) error {
	c, err := p.LowerBound(from)
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

// All iterates every record in id order.
func (p *Primary[T, P]) All() iter.Seq2[P, error] {
	return func(yield func(P, error) bool) {
		c, err := p.First()
		if err != nil {
			yield(nil, err)
			return
		}
		defer c.Close()
		for ; c.Valid(); c.Next() {
			if !yield(c.Value(), nil) {
				return
			}
		}
		if err := c.Err(); err != nil {
			yield(nil, err)
		}
	}
}

func (p *Primary[T, P]) cursor(op string, seek func(db.Iterator)) (*Cursor[T, P], error) {
	if err := p.check(); err != nil {
		return nil, p.fail(op, "", err)
	}
	c, err := newCursor[T, P](p.store, p.keyspace, seek, p.resolve)
	if err != nil {
		return nil, p.fail(op, "", err)
	}
	return c, nil
}

// resolve maps a primary entry to its record, stopping at reserved keys.
func (p *Primary[T, P]) resolve(_ db.Reader, key, value []byte) (P, Key, bool, error) {
	id, err := object.FromKey(key)
	if err != nil || id.Reserved() || !id.SameType(p.typ.First()) {
		return nil, nil, false, nil
	}
	raw, err := openValue(value)
	if err != nil {
		return nil, nil, false, fmt.Errorf("%s: %w", id, err)
	}
	obj, err := p.decode(id, raw)
	if err != nil {
		return nil, nil, false, err
	}
	return obj, Key(key), true, nil
}

// lookup reads a record through r, bypassing the cache.
func (p *Primary[T, P]) lookup(r db.Reader, id object.ID) (P, error) {
	stored, err := r.Get(p.keyspace, id.Key())
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, engineErr(err)
	}
	raw, err := openValue(stored)
	if err != nil {
		return nil, err
	}
	return p.decode(id, raw)
}

// load returns the serialized record for id, from cache when possible.
func (p *Primary[T, P]) load(id object.ID) ([]byte, error) {
	if p.cache != nil {
		raw, ok := p.cache.Get(id)
		p.metrics.cacheLookup(p.name, ok)
		if ok {
			return raw, nil
		}
	}
	stored, err := p.store.Get(p.keyspace, id.Key())
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, engineErr(err)
	}
	raw, err := openValue(stored)
	if err != nil {
		return nil, err
	}
	p.cacheAdd(id, raw)
	return raw, nil
}

// decode builds a fresh record from raw. raw is copied so that records
// never alias cached or engine memory.
func (p *Primary[T, P]) decode(id object.ID, raw []byte) (P, error) {
	obj := P(new(T))
	if err := obj.UnmarshalBinary(bytes.Clone(raw)); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrEngine, id, err)
	}
	obj.SetObjectID(id)
	return obj, nil
}

// stage serializes obj into b and returns the unsealed bytes.
func (p *Primary[T, P]) stage(b db.Batch, obj P) ([]byte, error) {
	raw, err := obj.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", obj.ObjectID(), err)
	}
	sealed, err := sealValue(raw, p.compress)
	if err != nil {
		return nil, err
	}
	if err := b.Put(p.keyspace, obj.ObjectID().Key(), sealed); err != nil {
		return nil, engineErr(err)
	}
	return raw, nil
}

func (p *Primary[T, P]) nextIDValue(next uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, next)
}

func (p *Primary[T, P]) cacheAdd(id object.ID, raw []byte) {
	if p.cache != nil {
		p.cache.Add(id, raw)
	}
}

func (p *Primary[T, P]) cacheRemove(id object.ID) {
	if p.cache != nil {
		p.cache.Remove(id)
	}
}

func (p *Primary[T, P]) check() error {
	if !p.open {
		return ErrNotOpen
	}
	return nil
}

// fail wraps err with the operation context and logs engine failures.
func (p *Primary[T, P]) fail(op, target string, err error) error {
	if errors.Is(err, ErrEngine) {
		p.logger.Error("index operation failed", "op", op, "target", target, "error", err)
	}
	var opErr *OpError
	if errors.As(err, &opErr) {
		return err
	}
	return &OpError{Op: op, Index: p.name, Target: target, Err: err}
}
