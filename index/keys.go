package index

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"

	"github.com/beyondbrewing/brewery-ledger/object"
)

// Key is an order-preserving encoding of a secondary key tuple. Fields are
// appended left to right and the byte order of the result is the tuple
// order, so the encoding doubles as the index comparator. Each field picks
// its own direction:
//
//	NewKey().ID(base).ID(quote).Int64(seq)
//	NewKey().ID(base).ID(quote).TimeDesc(t).Int64(seq)
//
// Fixed-width fields are big-endian with the sign bit flipped for signed
// values. Descending fields store the bitwise complement. Variable-length
// fields are escaped (0x00 -> 0x00 0xff) and terminated by 0x00 0x01 so a
// shorter string sorts before any extension of it.
type Key []byte

// NewKey returns an empty key with room for a typical tuple.
func NewKey() Key {
	return make(Key, 0, 32)
}

func (k Key) Uint8(v uint8) Key       { return append(k, v) }
func (k Key) Uint8Desc(v uint8) Key   { return append(k, ^v) }
func (k Key) Uint16(v uint16) Key     { return binary.BigEndian.AppendUint16(k, v) }
func (k Key) Uint16Desc(v uint16) Key { return binary.BigEndian.AppendUint16(k, ^v) }
func (k Key) Uint32(v uint32) Key     { return binary.BigEndian.AppendUint32(k, v) }
func (k Key) Uint32Desc(v uint32) Key { return binary.BigEndian.AppendUint32(k, ^v) }
func (k Key) Uint64(v uint64) Key     { return binary.BigEndian.AppendUint64(k, v) }
func (k Key) Uint64Desc(v uint64) Key { return binary.BigEndian.AppendUint64(k, ^v) }

func (k Key) Int32(v int32) Key {
	return binary.BigEndian.AppendUint32(k, uint32(v)^(1<<31))
}

func (k Key) Int32Desc(v int32) Key {
	return binary.BigEndian.AppendUint32(k, ^(uint32(v) ^ (1 << 31)))
}

func (k Key) Int64(v int64) Key {
	return binary.BigEndian.AppendUint64(k, uint64(v)^(1<<63))
}

func (k Key) Int64Desc(v int64) Key {
	return binary.BigEndian.AppendUint64(k, ^(uint64(v) ^ (1 << 63)))
}

func (k Key) Bool(v bool) Key {
	if v {
		return append(k, 1)
	}
	return append(k, 0)
}

// ID appends an object id in ascending order.
func (k Key) ID(id object.ID) Key     { return k.Uint64(uint64(id)) }
func (k Key) IDDesc(id object.ID) Key { return k.Uint64Desc(uint64(id)) }

// Time appends t with nanosecond precision. Times outside the int64
// nanosecond range (years 1678 to 2262) saturate, so the zero time sorts
// before every representable time.
func (k Key) Time(t time.Time) Key     { return k.Int64(timeNanos(t)) }
func (k Key) TimeDesc(t time.Time) Key { return k.Int64Desc(timeNanos(t)) }

var (
	minKeyTime = time.Unix(0, math.MinInt64)
	maxKeyTime = time.Unix(0, math.MaxInt64)
)

func timeNanos(t time.Time) int64 {
	switch {
	case t.Before(minKeyTime):
		return math.MinInt64
	case t.After(maxKeyTime):
		return math.MaxInt64
	}
	return t.UnixNano()
}

func (k Key) Text(s string) Key { return k.Bytes([]byte(s)) }

func (k Key) TextDesc(s string) Key {
	start := len(k)
	k = k.Bytes([]byte(s))
	for i := start; i < len(k); i++ {
		k[i] = ^k[i]
	}
	return k
}

func (k Key) Bytes(b []byte) Key {
	for _, c := range b {
		if c == 0x00 {
			k = append(k, 0x00, 0xff)
			continue
		}
		k = append(k, c)
	}
	return append(k, 0x00, 0x01)
}

// Compare orders two encoded keys.
func Compare(a, b Key) int {
	return bytes.Compare(a, b)
}

// PrefixSuccessor returns the smallest key greater than every key that has
// k as a prefix, or nil when no such key exists (k is all 0xff).
func PrefixSuccessor(k Key) Key {
	out := make(Key, len(k))
	copy(out, k)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}
