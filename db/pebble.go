package db

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/beyondbrewing/brewery-ledger/pkg/logger"
	"github.com/cockroachdb/pebble"
)

// Compile-time interface check.
var _ Store = (*PebbleDB)(nil)

// PebbleDB is a production [Store] backed by Pebble. It is safe for
// concurrent use; Pebble handles its own internal synchronisation.
//
// Column families are simulated via key-prefixing: each logical CF name
// is mapped to a byte prefix (cf + '\x00'), keeping data from different
// families sorted in disjoint key ranges.
type PebbleDB struct {
	db  *pebble.DB
	cfs *cfRegistry

	writeOpts *pebble.WriteOptions
	path      string
	logger    logger.Logger

	// closed + mu guard against use-after-close. Individual operations
	// take an RLock (allowing full concurrency). Close takes the write
	// lock, draining in-flight operations before teardown.
	closed atomic.Bool
	mu     sync.RWMutex
}

// OpenPebble creates or opens a Pebble database at path with the given options.
// The caller must call Close when done to release all resources.
func OpenPebble(path string, opts ...Option) (*PebbleDB, error) {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return openPebble(path, cfg)
}

func openPebble(path string, cfg *Config) (*PebbleDB, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.With("component", "db", "backend", string(BackendPebble))

	cfs, err := newCFRegistry(cfg.ColumnFamilies)
	if err != nil {
		return nil, err
	}

	// --- Build Pebble options ---

	cache := pebble.NewCache(cfg.CacheSize)
	defer cache.Unref()

	pOpts := &pebble.Options{
		Cache:                       cache,
		MemTableSize:                cfg.MemTableSize,
		MaxOpenFiles:                cfg.MaxOpenFiles,
		MaxConcurrentCompactions:    func() int { return cfg.MaxConcurrentCompactions },
		L0CompactionThreshold:       cfg.L0CompactionThreshold,
		L0StopWritesThreshold:       cfg.L0StopWritesThreshold,
		LBaseMaxBytes:               cfg.LBaseMaxBytes,
		WALDir:                      cfg.WALDir,
		DisableAutomaticCompactions: false,
	}

	db, err := pebble.Open(path, pOpts)
	if err != nil {
		return nil, fmt.Errorf("db: failed to open %s: %w", path, err)
	}

	writeOpts := pebble.NoSync
	if cfg.SyncWrites {
		writeOpts = pebble.Sync
	}

	pdb := &PebbleDB{
		db:        db,
		cfs:       cfs,
		writeOpts: writeOpts,
		path:      path,
		logger:    log,
	}

	log.Info("database opened",
		"path", path,
		"column_families", fmt.Sprintf("%v", cfg.ColumnFamilies),
	)
	return pdb, nil
}

// ---------------------------------------------------------------------------
// Store implementation
// ---------------------------------------------------------------------------

func (p *PebbleDB) Get(cf string, key []byte) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed.Load() {
		return nil, ErrClosed
	}
	return pebbleGet(p.db, p.cfs, cf, key)
}

func (p *PebbleDB) Put(cf string, key, value []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed.Load() {
		return ErrClosed
	}
	if key == nil {
		return ErrNilKey
	}

	prefix, err := p.cfs.lookup(cf)
	if err != nil {
		return err
	}

	if err := p.db.Set(prefixedKey(prefix, key), value, p.writeOpts); err != nil {
		return fmt.Errorf("db: put failed: %w", err)
	}
	return nil
}

func (p *PebbleDB) Delete(cf string, key []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed.Load() {
		return ErrClosed
	}
	if key == nil {
		return ErrNilKey
	}

	prefix, err := p.cfs.lookup(cf)
	if err != nil {
		return err
	}

	if err := p.db.Delete(prefixedKey(prefix, key), p.writeOpts); err != nil {
		return fmt.Errorf("db: delete failed: %w", err)
	}
	return nil
}

func (p *PebbleDB) Has(cf string, key []byte) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed.Load() {
		return false, ErrClosed
	}
	return pebbleHas(p.db, p.cfs, cf, key)
}

func (p *PebbleDB) CreateColumnFamily(cf string) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return p.cfs.add(cf)
}

func (p *PebbleDB) NewBatch() Batch {
	return &pebbleBatch{
		owner: p,
		batch: p.db.NewBatch(),
	}
}

func (p *PebbleDB) NewIterator(cf string) (Iterator, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed.Load() {
		return nil, ErrClosed
	}
	return pebbleIter(p.db, p.cfs, cf)
}

func (p *PebbleDB) NewSnapshot() (Snapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed.Load() {
		return nil, ErrClosed
	}
	return &pebbleSnapshot{owner: p, snap: p.db.NewSnapshot()}, nil
}

func (p *PebbleDB) Flush() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed.Load() {
		return ErrClosed
	}

	if err := p.db.Flush(); err != nil {
		return fmt.Errorf("db: flush failed: %w", err)
	}
	return nil
}

// Close performs a graceful shutdown. It acquires an exclusive lock so
// all in-flight operations complete before teardown.
func (p *PebbleDB) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		return ErrClosed
	}
	p.closed.Store(true)

	p.logger.Info("closing database", "path", p.path)

	if err := p.db.Flush(); err != nil {
		p.logger.Error("flush failed during shutdown", "error", err)
	}

	if err := p.db.Close(); err != nil {
		return fmt.Errorf("db: close failed: %w", err)
	}

	p.logger.Info("database closed", "path", p.path)
	return nil
}

// Metrics exposes the engine's internal metrics.
func (p *PebbleDB) Metrics() *pebble.Metrics {
	return p.db.Metrics()
}

// ---------------------------------------------------------------------------
// Shared read helpers (live DB and snapshot both satisfy pebble.Reader)
// ---------------------------------------------------------------------------

func pebbleGet(r pebble.Reader, cfs *cfRegistry, cf string, key []byte) ([]byte, error) {
	if key == nil {
		return nil, ErrNilKey
	}

	prefix, err := cfs.lookup(cf)
	if err != nil {
		return nil, err
	}

	val, closer, err := r.Get(prefixedKey(prefix, key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("db: get failed: %w", err)
	}
	defer closer.Close()

	// Copy: the returned slice is only valid until closer.Close().
	return copyBytes(val), nil
}

func pebbleHas(r pebble.Reader, cfs *cfRegistry, cf string, key []byte) (bool, error) {
	if key == nil {
		return false, ErrNilKey
	}

	prefix, err := cfs.lookup(cf)
	if err != nil {
		return false, err
	}

	_, closer, err := r.Get(prefixedKey(prefix, key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("db: has failed: %w", err)
	}
	closer.Close()
	return true, nil
}

func pebbleIter(r pebble.Reader, cfs *cfRegistry, cf string) (Iterator, error) {
	prefix, err := cfs.lookup(cf)
	if err != nil {
		return nil, err
	}

	iter, err := r.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: cfUpperBound(cf),
	})
	if err != nil {
		return nil, fmt.Errorf("db: new iterator failed: %w", err)
	}

	return &pebbleIterator{
		iter:      iter,
		prefix:    prefix,
		prefixLen: len(prefix),
	}, nil
}

// ---------------------------------------------------------------------------
// Snapshot implementation
// ---------------------------------------------------------------------------

type pebbleSnapshot struct {
	owner  *PebbleDB
	snap   *pebble.Snapshot
	closed atomic.Bool
}

func (s *pebbleSnapshot) Get(cf string, key []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrSnapshotClosed
	}
	return pebbleGet(s.snap, s.owner.cfs, cf, key)
}

func (s *pebbleSnapshot) Has(cf string, key []byte) (bool, error) {
	if s.closed.Load() {
		return false, ErrSnapshotClosed
	}
	return pebbleHas(s.snap, s.owner.cfs, cf, key)
}

func (s *pebbleSnapshot) NewIterator(cf string) (Iterator, error) {
	if s.closed.Load() {
		return nil, ErrSnapshotClosed
	}
	return pebbleIter(s.snap, s.owner.cfs, cf)
}

func (s *pebbleSnapshot) Close() error {
	if s.closed.Swap(true) {
		return ErrSnapshotClosed
	}
	if err := s.snap.Close(); err != nil {
		return fmt.Errorf("db: snapshot close failed: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Batch implementation
// ---------------------------------------------------------------------------

type pebbleBatch struct {
	owner  *PebbleDB
	batch  *pebble.Batch
	closed bool
}

func (b *pebbleBatch) Put(cf string, key, value []byte) error {
	if b.closed {
		return ErrBatchClosed
	}
	if key == nil {
		return ErrNilKey
	}
	prefix, err := b.owner.cfs.lookup(cf)
	if err != nil {
		return err
	}
	if err := b.batch.Set(prefixedKey(prefix, key), value, nil); err != nil {
		return fmt.Errorf("db: batch put failed: %w", err)
	}
	return nil
}

func (b *pebbleBatch) Delete(cf string, key []byte) error {
	if b.closed {
		return ErrBatchClosed
	}
	if key == nil {
		return ErrNilKey
	}
	prefix, err := b.owner.cfs.lookup(cf)
	if err != nil {
		return err
	}
	if err := b.batch.Delete(prefixedKey(prefix, key), nil); err != nil {
		return fmt.Errorf("db: batch delete failed: %w", err)
	}
	return nil
}

func (b *pebbleBatch) Count() int {
	return int(b.batch.Count())
}

func (b *pebbleBatch) Commit() error {
	if b.closed {
		return ErrBatchClosed
	}

	b.owner.mu.RLock()
	defer b.owner.mu.RUnlock()

	if b.owner.closed.Load() {
		return ErrClosed
	}

	if err := b.batch.Commit(b.owner.writeOpts); err != nil {
		return fmt.Errorf("db: batch commit failed: %w", err)
	}
	return nil
}

func (b *pebbleBatch) Close() {
	if !b.closed {
		_ = b.batch.Close()
		b.closed = true
	}
}

// ---------------------------------------------------------------------------
// Iterator implementation
// ---------------------------------------------------------------------------

type pebbleIterator struct {
	iter      *pebble.Iterator
	prefix    []byte
	prefixLen int
	closed    bool
	err       error
}

func (it *pebbleIterator) Seek(target []byte) {
	it.iter.SeekGE(prefixedKey(it.prefix, target))
}

func (it *pebbleIterator) SeekToFirst() { it.iter.First() }
func (it *pebbleIterator) SeekToLast()  { it.iter.Last() }
func (it *pebbleIterator) Next()        { it.iter.Next() }
func (it *pebbleIterator) Prev()        { it.iter.Prev() }
func (it *pebbleIterator) Valid() bool  { return it.iter.Valid() }

func (it *pebbleIterator) Key() []byte {
	raw := it.iter.Key()
	if len(raw) < it.prefixLen {
		return nil
	}
	// Strip the CF prefix and return a copy.
	return copyBytes(raw[it.prefixLen:])
}

func (it *pebbleIterator) Value() []byte {
	val, err := it.iter.ValueAndErr()
	if err != nil {
		it.err = err
		return nil
	}
	return copyBytes(val)
}

func (it *pebbleIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.iter.Error()
}

func (it *pebbleIterator) Close() {
	if !it.closed {
		_ = it.iter.Close()
		it.closed = true
	}
}
