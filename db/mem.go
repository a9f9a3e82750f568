package db

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// MemStore is a fully functional, thread-safe, in-memory implementation of
// [Store]. It backs indices configured to live in memory and is the store
// of choice for unit tests.
//
//	store := db.NewMemStore("1.5", "1.5.by_key")
//	defer store.Close()
type MemStore struct {
	mu     sync.RWMutex
	data   map[string]map[string][]byte // cf -> key(string) -> value
	closed atomic.Bool
}

// NewMemStore creates a MemStore with the given column families.
// The [DefaultColumnFamily] ("default") is always included.
func NewMemStore(cfs ...string) *MemStore {
	m := &MemStore{
		data: make(map[string]map[string][]byte, 1+len(cfs)),
	}
	m.data[DefaultColumnFamily] = make(map[string][]byte)
	for _, cf := range cfs {
		if cf != DefaultColumnFamily {
			m.data[cf] = make(map[string][]byte)
		}
	}
	return m
}

// ---------------------------------------------------------------------------
// Store implementation
// ---------------------------------------------------------------------------

func (m *MemStore) Get(cf string, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed.Load() {
		return nil, ErrClosed
	}
	return memGet(m.data, cf, key)
}

func (m *MemStore) Put(cf string, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return ErrClosed
	}
	if key == nil {
		return ErrNilKey
	}

	bucket, ok := m.data[cf]
	if !ok {
		return fmt.Errorf("%w: %q", ErrColumnFamilyNotFound, cf)
	}

	bucket[string(key)] = copyBytes(value)
	return nil
}

func (m *MemStore) Delete(cf string, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return ErrClosed
	}
	if key == nil {
		return ErrNilKey
	}

	bucket, ok := m.data[cf]
	if !ok {
		return fmt.Errorf("%w: %q", ErrColumnFamilyNotFound, cf)
	}

	delete(bucket, string(key))
	return nil
}

func (m *MemStore) Has(cf string, key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed.Load() {
		return false, ErrClosed
	}
	return memHas(m.data, cf, key)
}

func (m *MemStore) CreateColumnFamily(cf string) error {
	if err := validColumnFamily(cf); err != nil {
		return fmt.Errorf("%w: %q", err, cf)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return ErrClosed
	}
	if _, ok := m.data[cf]; !ok {
		m.data[cf] = make(map[string][]byte)
	}
	return nil
}

func (m *MemStore) NewBatch() Batch {
	return &memBatch{store: m}
}

func (m *MemStore) NewIterator(cf string) (Iterator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed.Load() {
		return nil, ErrClosed
	}
	return memIter(m.data, cf)
}

// NewSnapshot deep-copies the current contents.
func (m *MemStore) NewSnapshot() (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed.Load() {
		return nil, ErrClosed
	}

	data := make(map[string]map[string][]byte, len(m.data))
	for cf, bucket := range m.data {
		cp := make(map[string][]byte, len(bucket))
		for k, v := range bucket {
			cp[k] = v // values are never mutated in place
		}
		data[cf] = cp
	}
	return &memSnapshot{data: data}, nil
}

func (m *MemStore) Flush() error {
	if m.closed.Load() {
		return ErrClosed
	}
	return nil // nothing to flush
}

func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return ErrClosed
	}
	m.closed.Store(true)
	m.data = nil
	return nil
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// Len returns the number of keys in the given column family. Returns -1 if
// the column family does not exist or the store is closed.
func (m *MemStore) Len(cf string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed.Load() {
		return -1
	}
	bucket, ok := m.data[cf]
	if !ok {
		return -1
	}
	return len(bucket)
}

// ---------------------------------------------------------------------------
// Shared read helpers
// ---------------------------------------------------------------------------

func memGet(data map[string]map[string][]byte, cf string, key []byte) ([]byte, error) {
	if key == nil {
		return nil, ErrNilKey
	}
	bucket, ok := data[cf]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnFamilyNotFound, cf)
	}
	v, ok := bucket[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return copyBytes(v), nil
}

func memHas(data map[string]map[string][]byte, cf string, key []byte) (bool, error) {
	if key == nil {
		return false, ErrNilKey
	}
	bucket, ok := data[cf]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrColumnFamilyNotFound, cf)
	}
	_, exists := bucket[string(key)]
	return exists, nil
}

func memIter(data map[string]map[string][]byte, cf string) (Iterator, error) {
	bucket, ok := data[cf]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnFamilyNotFound, cf)
	}

	// Snapshot: sorted copy of the current data.
	keys := make([]string, 0, len(bucket))
	for k := range bucket {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]memEntry, len(keys))
	for i, k := range keys {
		entries[i] = memEntry{key: []byte(k), value: copyBytes(bucket[k])}
	}

	return &memIterator{entries: entries, pos: -1}, nil
}

// ---------------------------------------------------------------------------
// Snapshot implementation
// ---------------------------------------------------------------------------

type memSnapshot struct {
	mu     sync.RWMutex
	data   map[string]map[string][]byte
	closed bool
}

func (s *memSnapshot) Get(cf string, key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrSnapshotClosed
	}
	return memGet(s.data, cf, key)
}

func (s *memSnapshot) Has(cf string, key []byte) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrSnapshotClosed
	}
	return memHas(s.data, cf, key)
}

func (s *memSnapshot) NewIterator(cf string) (Iterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrSnapshotClosed
	}
	return memIter(s.data, cf)
}

func (s *memSnapshot) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSnapshotClosed
	}
	s.closed = true
	s.data = nil
	return nil
}

// ---------------------------------------------------------------------------
// Batch implementation
// ---------------------------------------------------------------------------

type memOp struct {
	del   bool
	cf    string
	key   string
	value []byte
}

type memBatch struct {
	store  *MemStore
	ops    []memOp
	closed bool
}

func (b *memBatch) stage(op memOp) error {
	if b.closed {
		return ErrBatchClosed
	}
	b.store.mu.RLock()
	_, ok := b.store.data[op.cf]
	b.store.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrColumnFamilyNotFound, op.cf)
	}
	b.ops = append(b.ops, op)
	return nil
}

func (b *memBatch) Put(cf string, key, value []byte) error {
	if key == nil {
		return ErrNilKey
	}
	return b.stage(memOp{cf: cf, key: string(key), value: copyBytes(value)})
}

func (b *memBatch) Delete(cf string, key []byte) error {
	if key == nil {
		return ErrNilKey
	}
	return b.stage(memOp{del: true, cf: cf, key: string(key)})
}

func (b *memBatch) Count() int {
	return len(b.ops)
}

func (b *memBatch) Commit() error {
	if b.closed {
		return ErrBatchClosed
	}

	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	if b.store.closed.Load() {
		return ErrClosed
	}

	for _, op := range b.ops {
		if op.del {
			delete(b.store.data[op.cf], op.key)
		} else {
			b.store.data[op.cf][op.key] = op.value
		}
	}
	return nil
}

func (b *memBatch) Close() {
	b.closed = true
	b.ops = nil
}

// ---------------------------------------------------------------------------
// Iterator implementation
// ---------------------------------------------------------------------------

type memEntry struct {
	key   []byte
	value []byte
}

type memIterator struct {
	entries []memEntry
	pos     int
}

func (it *memIterator) Seek(target []byte) {
	it.pos = sort.Search(len(it.entries), func(i int) bool {
		return bytes.Compare(it.entries[i].key, target) >= 0
	})
}

func (it *memIterator) SeekToFirst() { it.pos = 0 }

func (it *memIterator) SeekToLast() {
	it.pos = len(it.entries) - 1
}

func (it *memIterator) Next() { it.pos++ }
func (it *memIterator) Prev() { it.pos-- }

func (it *memIterator) Valid() bool {
	return it.pos >= 0 && it.pos < len(it.entries)
}

func (it *memIterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return copyBytes(it.entries[it.pos].key)
}

func (it *memIterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return copyBytes(it.entries[it.pos].value)
}

func (it *memIterator) Err() error { return nil }
func (it *memIterator) Close()     {}
