package db

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	ldb_iter "github.com/syndtr/goleveldb/leveldb/iterator"
	ldb_opt "github.com/syndtr/goleveldb/leveldb/opt"
	ldb_util "github.com/syndtr/goleveldb/leveldb/util"

	"github.com/beyondbrewing/brewery-ledger/pkg/logger"
)

// Compile-time interface check.
var _ Store = (*LevelDB)(nil)

// syncMarkerKey lives outside every column family range (no family may
// have an empty name) and is rewritten with Sync set to force the journal
// to stable storage.
var syncMarkerKey = []byte{0x00, 's', 'y', 'n', 'c'}

// LevelDB is a [Store] backed by goleveldb. Column families use the same
// key-prefixing scheme as [PebbleDB].
type LevelDB struct {
	db  *leveldb.DB
	cfs *cfRegistry

	writeOpts *ldb_opt.WriteOptions
	path      string
	logger    logger.Logger

	closed atomic.Bool
	mu     sync.RWMutex
}

// OpenLevelDB creates or opens a goleveldb database at path.
func OpenLevelDB(path string, opts ...Option) (*LevelDB, error) {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return openLevelDB(path, cfg)
}

func openLevelDB(path string, cfg *Config) (*LevelDB, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.With("component", "db", "backend", string(BackendLevelDB))

	cfs, err := newCFRegistry(cfg.ColumnFamilies)
	if err != nil {
		return nil, err
	}

	lOpts := &ldb_opt.Options{
		BlockCacheCapacity: int(cfg.CacheSize),
		WriteBuffer:        int(cfg.MemTableSize),
	}
	if cfg.MaxOpenFiles > 0 {
		lOpts.OpenFilesCacheCapacity = cfg.MaxOpenFiles
	}

	db, err := leveldb.OpenFile(path, lOpts)
	if err != nil {
		return nil, fmt.Errorf("db: failed to open %s: %w", path, err)
	}

	ldb := &LevelDB{
		db:        db,
		cfs:       cfs,
		writeOpts: &ldb_opt.WriteOptions{Sync: cfg.SyncWrites},
		path:      path,
		logger:    log,
	}

	log.Info("database opened",
		"path", path,
		"column_families", fmt.Sprintf("%v", cfg.ColumnFamilies),
	)
	return ldb, nil
}

func (l *LevelDB) Get(cf string, key []byte) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed.Load() {
		return nil, ErrClosed
	}
	return levelGet(l.db, l.cfs, cf, key)
}

func (l *LevelDB) Has(cf string, key []byte) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed.Load() {
		return false, ErrClosed
	}
	return levelHas(l.db, l.cfs, cf, key)
}

func (l *LevelDB) Put(cf string, key, value []byte) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed.Load() {
		return ErrClosed
	}
	if key == nil {
		return ErrNilKey
	}
	prefix, err := l.cfs.lookup(cf)
	if err != nil {
		return err
	}
	if err := l.db.Put(prefixedKey(prefix, key), value, l.writeOpts); err != nil {
		return fmt.Errorf("db: put failed: %w", err)
	}
	return nil
}

func (l *LevelDB) Delete(cf string, key []byte) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed.Load() {
		return ErrClosed
	}
	if key == nil {
		return ErrNilKey
	}
	prefix, err := l.cfs.lookup(cf)
	if err != nil {
		return err
	}
	if err := l.db.Delete(prefixedKey(prefix, key), l.writeOpts); err != nil {
		return fmt.Errorf("db: delete failed: %w", err)
	}
	return nil
}

func (l *LevelDB) CreateColumnFamily(cf string) error {
	if l.closed.Load() {
		return ErrClosed
	}
	return l.cfs.add(cf)
}

func (l *LevelDB) NewBatch() Batch {
	return &levelBatch{owner: l, batch: new(leveldb.Batch)}
}

func (l *LevelDB) NewIterator(cf string) (Iterator, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed.Load() {
		return nil, ErrClosed
	}
	return levelIter(l.db, l.cfs, cf)
}

func (l *LevelDB) NewSnapshot() (Snapshot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed.Load() {
		return nil, ErrClosed
	}
	snap, err := l.db.GetSnapshot()
	if err != nil {
		return nil, fmt.Errorf("db: snapshot failed: %w", err)
	}
	return &levelSnapshot{owner: l, snap: snap}, nil
}

// Flush forces the journal to disk by issuing a synced write.
func (l *LevelDB) Flush() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed.Load() {
		return ErrClosed
	}
	if err := l.db.Put(syncMarkerKey, nil, &ldb_opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("db: flush failed: %w", err)
	}
	return nil
}

func (l *LevelDB) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed.Load() {
		return ErrClosed
	}
	l.closed.Store(true)

	l.logger.Info("closing database", "path", l.path)

	if err := l.db.Put(syncMarkerKey, nil, &ldb_opt.WriteOptions{Sync: true}); err != nil {
		l.logger.Error("flush failed during shutdown", "error", err)
	}
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("db: close failed: %w", err)
	}

	l.logger.Info("database closed", "path", l.path)
	return nil
}

// ---------------------------------------------------------------------------
// Shared read helpers (*leveldb.DB and *leveldb.Snapshot)
// ---------------------------------------------------------------------------

type levelReader interface {
	Get(key []byte, ro *ldb_opt.ReadOptions) ([]byte, error)
	Has(key []byte, ro *ldb_opt.ReadOptions) (bool, error)
	NewIterator(slice *ldb_util.Range, ro *ldb_opt.ReadOptions) ldb_iter.Iterator
}

func levelGet(r levelReader, cfs *cfRegistry, cf string, key []byte) ([]byte, error) {
	if key == nil {
		return nil, ErrNilKey
	}
	prefix, err := cfs.lookup(cf)
	if err != nil {
		return nil, err
	}
	val, err := r.Get(prefixedKey(prefix, key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("db: get failed: %w", err)
	}
	return val, nil
}

func levelHas(r levelReader, cfs *cfRegistry, cf string, key []byte) (bool, error) {
	if key == nil {
		return false, ErrNilKey
	}
	prefix, err := cfs.lookup(cf)
	if err != nil {
		return false, err
	}
	ok, err := r.Has(prefixedKey(prefix, key), nil)
	if err != nil {
		return false, fmt.Errorf("db: has failed: %w", err)
	}
	return ok, nil
}

func levelIter(r levelReader, cfs *cfRegistry, cf string) (Iterator, error) {
	prefix, err := cfs.lookup(cf)
	if err != nil {
		return nil, err
	}
	iter := r.NewIterator(&ldb_util.Range{
		Start: prefix,           // included in the range
		Limit: cfUpperBound(cf), // excluded from the range
	}, nil)
	return &levelIterator{iter: iter, prefix: prefix}, nil
}

// ---------------------------------------------------------------------------
// Snapshot implementation
// ---------------------------------------------------------------------------

type levelSnapshot struct {
	owner  *LevelDB
	snap   *leveldb.Snapshot
	closed atomic.Bool
}

func (s *levelSnapshot) Get(cf string, key []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrSnapshotClosed
	}
	return levelGet(s.snap, s.owner.cfs, cf, key)
}

func (s *levelSnapshot) Has(cf string, key []byte) (bool, error) {
	if s.closed.Load() {
		return false, ErrSnapshotClosed
	}
	return levelHas(s.snap, s.owner.cfs, cf, key)
}

func (s *levelSnapshot) NewIterator(cf string) (Iterator, error) {
	if s.closed.Load() {
		return nil, ErrSnapshotClosed
	}
	return levelIter(s.snap, s.owner.cfs, cf)
}

func (s *levelSnapshot) Close() error {
	if s.closed.Swap(true) {
		return ErrSnapshotClosed
	}
	s.snap.Release()
	return nil
}

// ---------------------------------------------------------------------------
// Batch implementation
// ---------------------------------------------------------------------------

type levelBatch struct {
	owner  *LevelDB
	batch  *leveldb.Batch
	closed bool
}

func (b *levelBatch) Put(cf string, key, value []byte) error {
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
	b.batch.Put(prefixedKey(prefix, key), value)
	return nil
}

func (b *levelBatch) Delete(cf string, key []byte) error {
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
	b.batch.Delete(prefixedKey(prefix, key))
	return nil
}

func (b *levelBatch) Count() int {
	return b.batch.Len()
}

func (b *levelBatch) Commit() error {
	if b.closed {
		return ErrBatchClosed
	}

	b.owner.mu.RLock()
	defer b.owner.mu.RUnlock()

	if b.owner.closed.Load() {
		return ErrClosed
	}
	if err := b.owner.db.Write(b.batch, b.owner.writeOpts); err != nil {
		return fmt.Errorf("db: batch commit failed: %w", err)
	}
	return nil
}

func (b *levelBatch) Close() {
	if !b.closed {
		b.batch.Reset()
		b.closed = true
	}
}

// ---------------------------------------------------------------------------
// Iterator implementation
// ---------------------------------------------------------------------------

type levelIterator struct {
	iter   ldb_iter.Iterator
	prefix []byte
	closed bool
}

func (it *levelIterator) Seek(target []byte) { it.iter.Seek(prefixedKey(it.prefix, target)) }
func (it *levelIterator) SeekToFirst()       { it.iter.First() }
func (it *levelIterator) SeekToLast()        { it.iter.Last() }
func (it *levelIterator) Next()              { it.iter.Next() }
func (it *levelIterator) Prev()              { it.iter.Prev() }
func (it *levelIterator) Valid() bool        { return it.iter.Valid() }

func (it *levelIterator) Key() []byte {
	raw := it.iter.Key()
	if len(raw) < len(it.prefix) {
		return nil
	}
	// contents of the returned slice are only valid until the next move
	return copyBytes(raw[len(it.prefix):])
}

func (it *levelIterator) Value() []byte {
	return copyBytes(it.iter.Value())
}

func (it *levelIterator) Err() error { return it.iter.Error() }

func (it *levelIterator) Close() {
	if !it.closed {
		it.iter.Release()
		it.closed = true
	}
}
