package index

import "github.com/beyondbrewing/brewery-ledger/pkg/logger"

// DefaultCacheSize is the number of decoded records kept per primary index.
const DefaultCacheSize = 4096

// Config holds the tunables of a primary index. Use functional [Option]
// values with [NewPrimary] rather than constructing a Config directly.
type Config struct {
	// Name labels the index in logs and metrics. Defaults to the keyspace.
	Name string

	// Schema is the layout description hashed into the schema version.
	// Defaults to the reflected field layout of the record type.
	Schema string

	// InMemory keeps the index in the environment's memory store.
	InMemory bool

	// CacheSize bounds the record cache. Zero disables it.
	CacheSize int

	// Compress stores records zstd-compressed.
	Compress bool

	// Metrics receives operation counters. May be nil.
	Metrics *Metrics

	Logger logger.Logger
}

// Option configures a primary index.
type Option func(*Config)

// DefaultConfig returns the defaults applied before options.
func DefaultConfig() *Config {
	return &Config{
		CacheSize: DefaultCacheSize,
	}
}

// WithName overrides the index label.
func WithName(name string) Option {
	return func(c *Config) { c.Name = name }
}

// WithSchema sets the description hashed into the schema version. Bump it
// whenever the binary record encoding changes without a field change.
func WithSchema(desc string) Option {
	return func(c *Config) { c.Schema = desc }
}

// InMemory keeps the index out of the persistent store.
func InMemory() Option {
	return func(c *Config) { c.InMemory = true }
}

// WithCacheSize sets the record cache size. Zero disables caching.
func WithCacheSize(n int) Option {
	return func(c *Config) { c.CacheSize = n }
}

// WithCompression stores records zstd-compressed.
func WithCompression() Option {
	return func(c *Config) { c.Compress = true }
}

// WithMetrics attaches operation counters.
func WithMetrics(m *Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

type secondaryConfig struct {
	unique bool
}

// SecondaryOption configures a secondary index.
type SecondaryOption func(*secondaryConfig)

// AllowDuplicates lets several records share a key. Ties are ordered by
// ascending object id.
func AllowDuplicates() SecondaryOption {
	return func(c *secondaryConfig) { c.unique = false }
}
