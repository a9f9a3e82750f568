// Package object defines the composite identifier carried by every record
// in the object store.
//
// An ID packs (space, type, instance) into a single uint64:
//
//	bits 63..56  space
//	bits 55..48  type
//	bits 47..0   instance
//
// so numeric order of the packed value is the lexicographic order of
// (space, type, instance).
package object

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// InstanceBits is the width of the instance field.
	InstanceBits = 48
	// MaxInstance is the largest allocatable instance number.
	MaxInstance = uint64(1)<<InstanceBits - 1

	// ReservedSpace is never handed to a record type; keys in it mark
	// per-keyspace sentinel entries.
	ReservedSpace uint8 = 0xff

	// KeySize is the length of an encoded ID.
	KeySize = 8
)

// Sentinel errors for the object package.
var (
	ErrInvalidID     = errors.New("object: invalid id")
	ErrReservedSpace = errors.New("object: space 0xff is reserved")
	ErrExhausted     = errors.New("object: instance space exhausted")
)

// ID is a packed (space, type, instance) identifier.
type ID uint64

// NewID packs the three components. Instances above MaxInstance are truncated
// by the mask; use Allocator for checked allocation.
func NewID(space, typ uint8, instance uint64) ID {
	return ID(uint64(space)<<56 | uint64(typ)<<48 | instance&MaxInstance)
}

func (id ID) Space() uint8     { return uint8(id >> 56) }
func (id ID) Type() uint8      { return uint8(id >> 48) }
func (id ID) Instance() uint64 { return uint64(id) & MaxInstance }

// SameType reports whether both IDs belong to the same (space, type) pair.
func (id ID) SameType(other ID) bool {
	return id>>InstanceBits == other>>InstanceBits
}

// Reserved reports whether the ID lies in the sentinel range.
func (id ID) Reserved() bool { return id.Space() == ReservedSpace }

// Key encodes the ID as 8 bytes big-endian; byte order equals ID order.
func (id ID) Key() []byte {
	b := make([]byte, KeySize)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

// AppendKey appends the 8-byte encoding to dst.
func (id ID) AppendKey(dst []byte) []byte {
	return binary.BigEndian.AppendUint64(dst, uint64(id))
}

// FromKey decodes an 8-byte key.
func FromKey(b []byte) (ID, error) {
	if len(b) != KeySize {
		return 0, fmt.Errorf("%w: key length %d", ErrInvalidID, len(b))
	}
	return ID(binary.BigEndian.Uint64(b)), nil
}

// String renders "space.type.instance".
func (id ID) String() string {
	return fmt.Sprintf("%d.%d.%d", id.Space(), id.Type(), id.Instance())
}

// Compare orders IDs; it returns -1, 0 or +1.
func (id ID) Compare(other ID) int {
	switch {
	case id < other:
		return -1
	case id > other:
		return 1
	default:
		return 0
	}
}

// Parse reads the "space.type.instance" form produced by String.
func Parse(s string) (ID, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	space, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: space %q", ErrInvalidID, parts[0])
	}
	typ, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: type %q", ErrInvalidID, parts[1])
	}
	instance, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil || instance > MaxInstance {
		return 0, fmt.Errorf("%w: instance %q", ErrInvalidID, parts[2])
	}
	return NewID(uint8(space), uint8(typ), instance), nil
}

// Type identifies a (space, type) pair, i.e. one primary keyspace.
type Type struct {
	Space uint8
	Type  uint8
}

// Validate rejects the reserved space.
func (t Type) Validate() error {
	if t.Space == ReservedSpace {
		return ErrReservedSpace
	}
	return nil
}

// ID returns the identifier for instance within this type.
func (t Type) ID(instance uint64) ID { return NewID(t.Space, t.Type, instance) }

// First and Last bound the id range of the type.
func (t Type) First() ID { return t.ID(0) }
func (t Type) Last() ID  { return t.ID(MaxInstance) }

// Keyspace is the column family name of the type's primary index.
func (t Type) Keyspace() string {
	return strconv.Itoa(int(t.Space)) + "." + strconv.Itoa(int(t.Type))
}

func (t Type) String() string { return t.Keyspace() }

// TypeOf returns the (space, type) pair of id.
func TypeOf(id ID) Type { return Type{Space: id.Space(), Type: id.Type()} }
