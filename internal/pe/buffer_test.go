package pe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteStoreReadWrite(t *testing.T) {
	b := NewByteStore(make([]byte, 16))

	require.NoError(t, b.PutUint16(0, 0xBEEF))
	require.NoError(t, b.PutUint32(2, 0xDEADC0DE))
	require.NoError(t, b.PutUint64(8, 0x0102030405060708))

	v16, err := b.Uint16(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xBEEF), v16)
	v32, err := b.Uint32(2)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADC0DE), v32)
	v64, err := b.Uint64(8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0102030405060708), v64)

	_, err = b.Uint64(9)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	assert.ErrorIs(t, b.PutUint32(14, 1), ErrOutOfBounds)
	_, err = b.Slice(-1, 2)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	assert.ErrorIs(t, b.Write(15, []byte{1, 2}), ErrOutOfBounds)

	// Lenient readers yield zero out of range.
	assert.Zero(t, b.u32(100))
}

func TestByteStoreCopiesInput(t *testing.T) {
	src := []byte{1, 2, 3}
	b := NewByteStore(src)
	src[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, b.Bytes())

	clone := b.Clone()
	require.NoError(t, clone.Write(0, []byte{7}))
	assert.Equal(t, byte(1), b.Bytes()[0])
}

func TestByteStoreInsert(t *testing.T) {
	b := NewByteStore([]byte{1, 2, 3, 4})

	require.NoError(t, b.Insert(2, 3))
	assert.Equal(t, []byte{1, 2, 0, 0, 0, 3, 4}, b.Bytes())

	require.NoError(t, b.Insert(b.Len(), 1))
	assert.Equal(t, 8, b.Len())

	// Past the end the store is zero-extended first.
	require.NoError(t, b.Insert(10, 2))
	assert.Equal(t, 12, b.Len())

	assert.ErrorIs(t, b.Insert(-1, 1), ErrOutOfBounds)
}

func TestByteStoreCString(t *testing.T) {
	b := NewByteStore([]byte("abc\x00defgh"))

	s, err := b.CString(0, 16)
	require.NoError(t, err)
	assert.Equal(t, "abc", s)

	s, err = b.CString(4, 3)
	require.NoError(t, err)
	assert.Equal(t, "def", s, "limit truncates")

	s, err = b.CString(4, 100)
	require.NoError(t, err)
	assert.Equal(t, "defgh", s, "buffer end terminates")

	_, err = b.CString(20, 4)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestAlign(t *testing.T) {
	assert.Equal(t, uint32(0x200), Align(uint32(1), 0x200))
	assert.Equal(t, uint32(0x200), Align(uint32(0x200), 0x200))
	assert.Equal(t, uint32(0x13), Align(uint32(0x13), 0))
	assert.Equal(t, uint64(0x1000), AlignDown(uint64(0x1FFF), 0x1000))
	assert.Equal(t, uint32(0x2000), Align4KB(uint32(0x1001)))
}
