package db

import (
	"fmt"
	"sync"
)

// cfRegistry maps registered column family names to their key prefix.
// Families can be added after open, so lookups take a read lock.
type cfRegistry struct {
	mu       sync.RWMutex
	prefixes map[string][]byte
}

func newCFRegistry(cfs []string) (*cfRegistry, error) {
	r := &cfRegistry{prefixes: make(map[string][]byte, 1+len(cfs))}
	r.prefixes[DefaultColumnFamily] = cfPrefix(DefaultColumnFamily)
	for _, cf := range cfs {
		if err := r.add(cf); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *cfRegistry) add(cf string) error {
	if err := validColumnFamily(cf); err != nil {
		return fmt.Errorf("%w: %q", err, cf)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.prefixes[cf]; !ok {
		r.prefixes[cf] = cfPrefix(cf)
	}
	return nil
}

// lookup returns the registered prefix for the given column family name.
func (r *cfRegistry) lookup(cf string) ([]byte, error) {
	r.mu.RLock()
	prefix, ok := r.prefixes[cf]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnFamilyNotFound, cf)
	}
	return prefix, nil
}

func (r *cfRegistry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.prefixes))
	for cf := range r.prefixes {
		out = append(out, cf)
	}
	return out
}

// cfPrefix builds the key prefix for a column family: "cf\x00".
func cfPrefix(cf string) []byte {
	b := make([]byte, len(cf)+1)
	copy(b, cf)
	b[len(cf)] = 0x00
	return b
}

// cfUpperBound builds the exclusive upper bound for iteration: "cf\x01".
func cfUpperBound(cf string) []byte {
	b := make([]byte, len(cf)+1)
	copy(b, cf)
	b[len(cf)] = 0x01
	return b
}

// prefixedKey concatenates a CF prefix and a user key into a single
// storage key: prefix + key.
func prefixedKey(prefix, key []byte) []byte {
	pk := make([]byte, len(prefix)+len(key))
	copy(pk, prefix)
	copy(pk[len(prefix):], key)
	return pk
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
