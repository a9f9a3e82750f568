package market

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/beyondbrewing/brewery-ledger/object"
)

var errShortRecord = errors.New("market: short record")

// encoder appends fixed-layout record fields.
type encoder struct {
	buf []byte
}

func (e *encoder) u8(v uint8)     { e.buf = append(e.buf, v) }
func (e *encoder) u16(v uint16)   { e.buf = binary.BigEndian.AppendUint16(e.buf, v) }
func (e *encoder) u32(v uint32)   { e.buf = binary.BigEndian.AppendUint32(e.buf, v) }
func (e *encoder) u64(v uint64)   { e.buf = binary.BigEndian.AppendUint64(e.buf, v) }
func (e *encoder) i64(v int64)    { e.u64(uint64(v)) }
func (e *encoder) id(v object.ID) { e.u64(uint64(v)) }
func (e *encoder) raw(b []byte)   { e.buf = append(e.buf, b...) }

// zeroTime marks an unset time.Time, whose UnixNano is undefined.
const zeroTime = math.MinInt64

func (e *encoder) time(t time.Time) {
	if t.IsZero() {
		e.i64(zeroTime)
		return
	}
	e.i64(t.UnixNano())
}

func (e *encoder) asset(a Asset) {
	e.i64(a.Amount)
	e.id(a.AssetID)
}

func (e *encoder) bool(v bool) {
	if v {
		e.u8(1)
		return
	}
	e.u8(0)
}

func (e *encoder) str(s string) {
	e.buf = binary.AppendUvarint(e.buf, uint64(len(s)))
	e.buf = append(e.buf, s...)
}

// decoder reads fields in the order they were encoded. The first failure
// sticks and is reported by finish.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf) < n {
		d.err = errShortRecord
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) u8() uint8 {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) u16() uint16 {
	if b := d.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) u32() uint32 {
	if b := d.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) u64() uint64 {
	if b := d.take(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (d *decoder) i64() int64    { return int64(d.u64()) }
func (d *decoder) id() object.ID { return object.ID(d.u64()) }
func (d *decoder) bool() bool    { return d.u8() != 0 }

func (d *decoder) time() time.Time {
	n := d.i64()
	if n == zeroTime {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func (d *decoder) asset() Asset {
	return Asset{Amount: d.i64(), AssetID: d.id()}
}

func (d *decoder) raw(dst []byte) {
	if b := d.take(len(dst)); b != nil {
		copy(dst, b)
	}
}

func (d *decoder) str() string {
	if d.err != nil {
		return ""
	}
	n, k := binary.Uvarint(d.buf)
	if k <= 0 || n > uint64(len(d.buf)-k) {
		d.err = errShortRecord
		return ""
	}
	d.buf = d.buf[k:]
	return string(d.take(int(n)))
}

func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if len(d.buf) != 0 {
		return fmt.Errorf("market: %d trailing bytes", len(d.buf))
	}
	return nil
}

