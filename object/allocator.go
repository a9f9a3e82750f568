package object

import "fmt"

// Allocator hands out dense instance numbers for one (space, type) pair.
// It is not safe for concurrent use; the owning index serialises writers.
type Allocator struct {
	typ  Type
	next uint64
}

// NewAllocator starts allocating at instance 0.
func NewAllocator(t Type) *Allocator {
	return &Allocator{typ: t}
}

// Peek returns the ID the next allocation will produce.
func (a *Allocator) Peek() (ID, error) {
	if a.next > MaxInstance {
		return 0, fmt.Errorf("%w: %s", ErrExhausted, a.typ)
	}
	return a.typ.ID(a.next), nil
}

// Advance consumes the ID returned by Peek.
func (a *Allocator) Advance() {
	a.next++
}

// Next returns the next instance number without consuming it.
func (a *Allocator) Next() uint64 { return a.next }

// Set restores the allocator, e.g. from a persisted value.
func (a *Allocator) Set(id ID) error {
	if !id.SameType(a.typ.First()) {
		return fmt.Errorf("%w: %s does not belong to %s", ErrInvalidID, id, a.typ)
	}
	a.next = id.Instance()
	return nil
}

// SetNext restores the raw counter.
func (a *Allocator) SetNext(next uint64) { a.next = next }

// Type returns the (space, type) pair being allocated.
func (a *Allocator) Type() Type { return a.typ }
