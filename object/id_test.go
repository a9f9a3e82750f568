package object

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDPacking(t *testing.T) {
	id := NewID(1, 7, 42)
	assert.Equal(t, uint8(1), id.Space())
	assert.Equal(t, uint8(7), id.Type())
	assert.Equal(t, uint64(42), id.Instance())
	assert.Equal(t, "1.7.42", id.String())
	assert.False(t, id.Reserved())
	assert.True(t, NewID(ReservedSpace, 0, 0).Reserved())
}

func TestIDOrderMatchesKeyOrder(t *testing.T) {
	ids := []ID{
		NewID(0, 0, 0),
		NewID(0, 0, 1),
		NewID(0, 0, 256),
		NewID(0, 1, 0),
		NewID(1, 0, 0),
		NewID(2, 255, MaxInstance),
	}
	for i := 1; i < len(ids); i++ {
		assert.Equal(t, -1, ids[i-1].Compare(ids[i]))
		assert.Equal(t, -1, bytes.Compare(ids[i-1].Key(), ids[i].Key()))
	}
}

func TestKeyRoundTrip(t *testing.T) {
	id := NewID(2, 9, 123456789)
	got, err := FromKey(id.Key())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = FromKey([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestParse(t *testing.T) {
	id, err := Parse("1.5.300")
	require.NoError(t, err)
	assert.Equal(t, NewID(1, 5, 300), id)

	for _, bad := range []string{"", "1.2", "256.1.1", "1.1.x", "1.1.281474976710656"} {
		_, err := Parse(bad)
		assert.ErrorIs(t, err, ErrInvalidID, bad)
	}
}

func TestTypeBounds(t *testing.T) {
	typ := Type{Space: 2, Type: 3}
	assert.Equal(t, "2.3", typ.Keyspace())
	assert.True(t, typ.First().SameType(typ.Last()))
	assert.Equal(t, typ, TypeOf(typ.ID(5)))
	assert.NoError(t, typ.Validate())
	assert.ErrorIs(t, Type{Space: ReservedSpace}.Validate(), ErrReservedSpace)
}

func TestAllocatorDense(t *testing.T) {
	a := NewAllocator(Type{Space: 1, Type: 1})
	for i := uint64(0); i < 3; i++ {
		id, err := a.Peek()
		require.NoError(t, err)
		assert.Equal(t, i, id.Instance())
		a.Advance()
	}
	assert.Equal(t, uint64(3), a.Next())

	require.NoError(t, a.Set(NewID(1, 1, 10)))
	id, err := a.Peek()
	require.NoError(t, err)
	assert.Equal(t, NewID(1, 1, 10), id)

	assert.ErrorIs(t, a.Set(NewID(1, 2, 10)), ErrInvalidID)

	a.SetNext(MaxInstance + 1)
	_, err = a.Peek()
	assert.ErrorIs(t, err, ErrExhausted)
}
