package db

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/beyondbrewing/brewery-ledger/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
)

// Environment is the process-wide storage state shared by every index: the
// persistent store (cache, data directory) and an in-memory store for
// indices that are configured not to persist.
//
// It is constructed once at startup, handed to every index at open time,
// and closed once after every index has been flushed.
type Environment struct {
	dir     string
	backend Backend
	store   Store
	mem     *MemStore
	logger  logger.Logger

	mu     sync.Mutex
	closed bool
}

// NewEnvironment opens the persistent store under dir. With the memory
// backend nothing touches the filesystem and dir may be empty.
func NewEnvironment(dir string, opts ...Option) (*Environment, error) {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}

	if cfg.Backend != BackendMemory {
		if dir == "" {
			return nil, fmt.Errorf("%w: data directory must not be empty", ErrEnvironmentNotAvailable)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("db: create data directory %s: %w", dir, err)
		}
	}

	store, err := Open(dir, append(opts, WithLogger(log))...)
	if err != nil {
		return nil, err
	}

	log.With("component", "environment").Info("environment opened",
		"dir", dir,
		"backend", string(cfg.Backend),
		"cache_size", cfg.CacheSize,
	)

	return &Environment{
		dir:     dir,
		backend: cfg.Backend,
		store:   store,
		mem:     NewMemStore(),
		logger:  log.With("component", "environment"),
	}, nil
}

// Store returns the persistent store.
func (e *Environment) Store() Store { return e.store }

// Memory returns the in-memory store.
func (e *Environment) Memory() Store { return e.mem }

// Dir returns the data directory.
func (e *Environment) Dir() string { return e.dir }

// Backend returns the engine backing the persistent store.
func (e *Environment) Backend() Backend { return e.backend }

// Flush forces the persistent store to stable storage.
func (e *Environment) Flush() error {
	return e.store.Flush()
}

// Collectors returns prometheus collectors for the underlying engine, if
// the engine exposes any.
func (e *Environment) Collectors() []prometheus.Collector {
	if p, ok := e.store.(*PebbleDB); ok {
		return []prometheus.Collector{NewPebbleCollector(p)}
	}
	return nil
}

// Close closes the persistent store and then the in-memory store. Calling
// Close a second time returns ErrClosed.
func (e *Environment) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	e.closed = true

	var errs []error
	if err := e.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.mem.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("db: environment close: %w", err)
	}

	e.logger.Info("environment closed", "dir", e.dir)
	return nil
}
