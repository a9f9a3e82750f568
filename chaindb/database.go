// Package chaindb is the object database: it owns the storage environment
// and drives the lifecycle of every registered index. Indices are
// registered before Open, opened and saved in registration order, and
// closed before the environment.
package chaindb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/beyondbrewing/brewery-ledger/db"
	"github.com/beyondbrewing/brewery-ledger/index"
	"github.com/beyondbrewing/brewery-ledger/object"
	"github.com/beyondbrewing/brewery-ledger/pkg/logger"
)

// Sentinel errors for the chaindb package.
var (
	ErrAlreadyOpen   = errors.New("chaindb: already open")
	ErrNotOpen       = errors.New("chaindb: not open")
	ErrDuplicateType = errors.New("chaindb: object type already registered")
	ErrUnknownType   = errors.New("chaindb: unknown object type")
	ErrSessionActive = errors.New("chaindb: undo session already active")
)

// Config holds all settings for a Database instance.
type Config struct {
	// DataDir is the directory of the persistent store. Ignored with the
	// memory backend.
	DataDir string

	// Backend selects the storage engine.
	Backend db.Backend

	// StoreOptions are passed through to the storage engine.
	StoreOptions []db.Option

	// Environment, when set, is used instead of opening one. The database
	// does not close an environment it did not open.
	Environment *db.Environment

	// SaveInterval makes Run persist every index periodically. Zero
	// disables periodic saves.
	SaveInterval time.Duration

	// Registerer receives index and engine metrics. May be nil.
	Registerer prometheus.Registerer

	// Logger is the structured logger. Falls back to logger.Default() if nil.
	Logger logger.Logger
}

// Option is a functional option for configuring a Database.
type Option func(*Config)

// DefaultConfig returns a Config with production-ready defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend:      db.BackendPebble,
		SaveInterval: time.Minute,
	}
}

func (c *Config) validate() error {
	if c.Environment != nil {
		return nil
	}
	if c.Backend != db.BackendMemory && c.DataDir == "" {
		return fmt.Errorf("chaindb: data directory must not be empty for backend %q", c.Backend)
	}
	if c.SaveInterval < 0 {
		return fmt.Errorf("chaindb: save interval must not be negative, got %s", c.SaveInterval)
	}
	return nil
}

// WithDataDir sets the store directory.
func WithDataDir(dir string) Option {
	return func(c *Config) { c.DataDir = dir }
}

// WithBackend selects the storage engine.
func WithBackend(b db.Backend) Option {
	return func(c *Config) { c.Backend = b }
}

// WithStoreOptions passes engine tuning through to db.NewEnvironment.
func WithStoreOptions(opts ...db.Option) Option {
	return func(c *Config) { c.StoreOptions = append(c.StoreOptions, opts...) }
}

// WithEnvironment uses an already open environment.
func WithEnvironment(env *db.Environment) Option {
	return func(c *Config) { c.Environment = env }
}

// WithSaveInterval sets the periodic save interval used by Run.
func WithSaveInterval(d time.Duration) Option {
	return func(c *Config) { c.SaveInterval = d }
}

// WithRegisterer exports metrics to reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Config) { c.Registerer = reg }
}

// WithLogger sets a structured logger for the database.
func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Database owns the environment and the registered indices.
type Database struct {
	cfg     *Config
	env     *db.Environment
	ownsEnv bool
	metrics *index.Metrics
	logger  logger.Logger

	mu      sync.Mutex
	indices []index.Index
	byType  map[object.Type]index.Index
	open    atomic.Bool
	closed  bool

	sessionMu sync.Mutex
	session   *UndoSession
}

// New creates a Database with the given options applied over
// DefaultConfig and opens its environment.
func New(opts ...Option) (*Database, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.With("component", "chaindb")

	env, owns := cfg.Environment, false
	if env == nil {
		storeOpts := append([]db.Option{db.WithBackend(cfg.Backend), db.WithLogger(log)}, cfg.StoreOptions...)
		var err error
		env, err = db.NewEnvironment(cfg.DataDir, storeOpts...)
		if err != nil {
			return nil, fmt.Errorf("chaindb: failed to open environment: %w", err)
		}
		owns = true
	}

	d := &Database{
		cfg:     cfg,
		env:     env,
		ownsEnv: owns,
		logger:  log,
		byType:  make(map[object.Type]index.Index),
	}
	if cfg.Registerer != nil {
		d.metrics = index.NewMetrics(cfg.Registerer)
		for _, c := range env.Collectors() {
			if err := cfg.Registerer.Register(c); err != nil {
				log.Warn("engine collector not registered", "error", err)
			}
		}
	}
	return d, nil
}

// Environment returns the storage environment.
func (d *Database) Environment() *db.Environment { return d.env }

// Metrics returns the index metrics, nil when no registerer is configured.
func (d *Database) Metrics() *index.Metrics { return d.metrics }

// IndexOptions returns the options every index of this database is built
// with, followed by extra.
func (d *Database) IndexOptions(extra ...index.Option) []index.Option {
	opts := []index.Option{index.WithLogger(d.logger), index.WithMetrics(d.metrics)}
	return append(opts, extra...)
}

// Register adds an index. Indices must be registered before Open and each
// object type may only be registered once.
func (d *Database) Register(idx index.Index) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.open.Load() || d.closed {
		return fmt.Errorf("%w: register %s", ErrAlreadyOpen, idx.Type())
	}
	if _, ok := d.byType[idx.Type()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateType, idx.Type())
	}
	d.indices = append(d.indices, idx)
	d.byType[idx.Type()] = idx
	return nil
}

// Add builds a primary index for typ on d's environment and registers it.
func Add[T any, P index.Ptr[T]](d *Database, typ object.Type, opts ...index.Option) (*index.Primary[T, P], error) {
	p, err := index.NewPrimary[T, P](d.env, typ, d.IndexOptions(opts...)...)
	if err != nil {
		return nil, err
	}
	if err := d.Register(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Index returns the index registered for typ.
func (d *Database) Index(typ object.Type) (index.Index, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx, ok := d.byType[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}
	return idx, nil
}

// Indices returns the registered indices in registration order.
func (d *Database) Indices() []index.Index {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]index.Index(nil), d.indices...)
}

// Open opens every index in registration order. If one fails, the indices
// opened before it are closed again and the error is returned.
func (d *Database) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrNotOpen
	}
	if d.open.Load() {
		return ErrAlreadyOpen
	}
	for i, idx := range d.indices {
		if err := idx.Open(); err != nil {
			for _, opened := range d.indices[:i] {
				_ = opened.Close()
			}
			return fmt.Errorf("chaindb: open %s: %w", idx.Name(), err)
		}
	}
	d.open.Store(true)
	d.logger.Info("object database opened",
		"dir", d.env.Dir(),
		"backend", string(d.env.Backend()),
		"indices", len(d.indices),
	)
	return nil
}

// Save persists every index, continuing past failures.
func (d *Database) Save() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.save()
}

func (d *Database) save() error {
	if !d.open.Load() {
		return ErrNotOpen
	}
	var errs []error
	for _, idx := range d.indices {
		if err := idx.Save(); err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", idx.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("chaindb: save failed: %w", errors.Join(errs...))
	}
	return nil
}

// Flush forces buffered writes of every index to stable storage.
func (d *Database) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open.Load() {
		return ErrNotOpen
	}
	var errs []error
	for _, idx := range d.indices {
		if err := idx.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", idx.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close saves and closes every index, then the environment if the
// database opened it. Closing twice returns ErrNotOpen.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrNotOpen
	}
	var errs []error
	if d.open.Load() {
		if err := d.save(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, idx := range d.indices {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", idx.Name(), err))
		}
	}
	if d.ownsEnv {
		if err := d.env.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.open.Store(false)
	d.closed = true
	d.sessionMu.Lock()
	d.session = nil
	d.sessionMu.Unlock()

	if len(errs) > 0 {
		return fmt.Errorf("chaindb: close failed: %w", errors.Join(errs...))
	}
	d.logger.Info("object database closed")
	return nil
}

// Update runs fn while holding the database lock. Mutations that may run
// concurrently with Run's periodic saves or with each other must go
// through Update. fn may begin, undo and commit undo sessions but must not
// call other Database methods.
func (d *Database) Update(fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open.Load() {
		return ErrNotOpen
	}
	return fn()
}

// Run opens the database and blocks until ctx is cancelled, saving every
// SaveInterval. It closes the database before returning.
func (d *Database) Run(ctx context.Context) error {
	if err := d.Open(); err != nil {
		return err
	}

	var tick <-chan time.Time
	if d.cfg.SaveInterval > 0 {
		t := time.NewTicker(d.cfg.SaveInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("context cancelled, shutting down")
			return d.Close()
		case <-tick:
			if err := d.Save(); err != nil {
				d.logger.Error("periodic save failed", "error", err)
			}
		}
	}
}
