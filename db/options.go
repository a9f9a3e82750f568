package db

import (
	"fmt"
	"runtime"

	"github.com/beyondbrewing/brewery-ledger/pkg/logger"
)

// Backend names an engine implementation.
type Backend string

const (
	// BackendPebble is the default LSM engine.
	BackendPebble Backend = "pebble"
	// BackendLevelDB uses goleveldb.
	BackendLevelDB Backend = "leveldb"
	// BackendMemory keeps everything in process memory; nothing is persisted.
	BackendMemory Backend = "memory"
)

// ParseBackend maps a configuration string to a Backend.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case BackendPebble, BackendLevelDB, BackendMemory:
		return Backend(s), nil
	case "":
		return BackendPebble, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBackend, s)
	}
}

// Config holds all tunable parameters for a store instance.
// Use functional [Option] values with [Open] rather than constructing
// a Config directly.
type Config struct {
	// Backend selects the engine. Defaults to pebble.
	Backend Backend

	// ColumnFamilies lists logical column families to register at open.
	// More can be added later with Store.CreateColumnFamily. The
	// [DefaultColumnFamily] ("default") is always included automatically.
	ColumnFamilies []string

	// --- Performance Tuning ---

	// CacheSize is the shared block-cache capacity in bytes.
	// A larger cache reduces read I/O at the cost of memory.
	CacheSize int64

	// MemTableSize is the size of a single memtable (write buffer) in bytes.
	MemTableSize uint64

	// MaxConcurrentCompactions controls parallelism for background
	// compactions (pebble only).
	MaxConcurrentCompactions int

	// MaxOpenFiles limits the number of open file descriptors.
	// Use 0 for the engine default.
	MaxOpenFiles int

	// L0CompactionThreshold is the number of L0 sub-levels that trigger
	// a compaction into L1 (pebble only).
	L0CompactionThreshold int

	// L0StopWritesThreshold is the hard limit on L0 sub-levels (pebble only).
	L0StopWritesThreshold int

	// LBaseMaxBytes is the maximum total size of the base level (pebble only).
	LBaseMaxBytes int64

	// WALDir overrides the WAL directory (pebble only). Leave empty to
	// co-locate WAL files with the database.
	WALDir string

	// SyncWrites controls whether each write is synced to stable storage.
	// The log is still synced on Flush() and Close() regardless.
	SyncWrites bool

	// Logger receives structured operational log messages.
	// If not set, the global logger.Default() is used.
	Logger logger.Logger
}

// DefaultConfig returns a Config with production-ready defaults tuned for
// an object store workload (small records, point lookups, short range scans).
func DefaultConfig() *Config {
	return &Config{
		Backend:                  BackendPebble,
		CacheSize:                512 << 20, // 512 MB
		MemTableSize:             64 << 20,  // 64 MB
		MaxConcurrentCompactions: runtime.NumCPU(),
		MaxOpenFiles:             0,
		L0CompactionThreshold:    4,
		L0StopWritesThreshold:    12,
		LBaseMaxBytes:            256 << 20, // 256 MB
	}
}

// Option is a functional option applied to [Config] during [Open].
type Option func(*Config)

// WithBackend selects the storage engine.
func WithBackend(b Backend) Option {
	return func(c *Config) { c.Backend = b }
}

// WithColumnFamilies registers logical column families.
// The [DefaultColumnFamily] ("default") is always present regardless.
func WithColumnFamilies(cfs ...string) Option {
	return func(c *Config) { c.ColumnFamilies = cfs }
}

// WithCacheSize sets the shared block-cache capacity in bytes.
func WithCacheSize(size int64) Option {
	return func(c *Config) { c.CacheSize = size }
}

// WithMemTableSize sets the memtable size in bytes.
func WithMemTableSize(size uint64) Option {
	return func(c *Config) { c.MemTableSize = size }
}

// WithMaxConcurrentCompactions sets background compaction parallelism.
func WithMaxConcurrentCompactions(n int) Option {
	return func(c *Config) { c.MaxConcurrentCompactions = n }
}

// WithMaxOpenFiles limits the number of open file descriptors.
func WithMaxOpenFiles(n int) Option {
	return func(c *Config) { c.MaxOpenFiles = n }
}

// WithL0CompactionThreshold sets the L0 sub-level compaction trigger.
func WithL0CompactionThreshold(n int) Option {
	return func(c *Config) { c.L0CompactionThreshold = n }
}

// WithL0StopWritesThreshold sets the L0 write-stall limit.
func WithL0StopWritesThreshold(n int) Option {
	return func(c *Config) { c.L0StopWritesThreshold = n }
}

// WithLBaseMaxBytes sets the max size of the base compaction level.
func WithLBaseMaxBytes(size int64) Option {
	return func(c *Config) { c.LBaseMaxBytes = size }
}

// WithWALDir sets a separate directory for write-ahead log files.
func WithWALDir(dir string) Option {
	return func(c *Config) { c.WALDir = dir }
}

// WithSyncWrites enables per-write durability (fsync).
func WithSyncWrites(sync bool) Option {
	return func(c *Config) { c.SyncWrites = sync }
}

// WithLogger sets a custom logger for the database.
// If not set, the global logger.Default() is used.
func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Open creates or opens a store at path using the configured backend.
// For the memory backend path is ignored.
func Open(path string, opts ...Option) (Store, error) {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	switch cfg.Backend {
	case BackendPebble, "":
		return openPebble(path, cfg)
	case BackendLevelDB:
		return openLevelDB(path, cfg)
	case BackendMemory:
		return NewMemStore(cfg.ColumnFamilies...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
