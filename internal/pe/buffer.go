package pe

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ByteStore owns the raw bytes of an image. Every structural view in this
// package addresses it by offset only, so growing the store never leaves a
// view pointing at stale memory.
type ByteStore struct {
	data []byte
}

// NewByteStore copies data into a new store.
func NewByteStore(data []byte) *ByteStore {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &ByteStore{data: buf}
}

// Len returns the current size in bytes.
func (b *ByteStore) Len() int {
	return len(b.data)
}

// Bytes returns the backing slice. It is invalidated by Insert.
func (b *ByteStore) Bytes() []byte {
	return b.data
}

// Clone returns an independent copy.
func (b *ByteStore) Clone() *ByteStore {
	return NewByteStore(b.data)
}

func (b *ByteStore) check(off, n int) error {
	if off < 0 || n < 0 || off > len(b.data) || n > len(b.data)-off {
		return errors.Wrapf(ErrOutOfBounds, "偏移 0x%X 长度 %d (缓冲区 %d 字节)", off, n, len(b.data))
	}
	return nil
}

// Slice returns a window of n bytes at off that aliases the store.
func (b *ByteStore) Slice(off, n int) ([]byte, error) {
	if err := b.check(off, n); err != nil {
		return nil, err
	}
	return b.data[off : off+n], nil
}

// Uint16 reads a little-endian uint16.
func (b *ByteStore) Uint16(off int) (uint16, error) {
	if err := b.check(off, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b.data[off:]), nil
}

// Uint32 reads a little-endian uint32.
func (b *ByteStore) Uint32(off int) (uint32, error) {
	if err := b.check(off, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b.data[off:]), nil
}

// Uint64 reads a little-endian uint64.
func (b *ByteStore) Uint64(off int) (uint64, error) {
	if err := b.check(off, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b.data[off:]), nil
}

// PutUint16 writes a little-endian uint16.
func (b *ByteStore) PutUint16(off int, v uint16) error {
	if err := b.check(off, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b.data[off:], v)
	return nil
}

// PutUint32 writes a little-endian uint32.
func (b *ByteStore) PutUint32(off int, v uint32) error {
	if err := b.check(off, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b.data[off:], v)
	return nil
}

// PutUint64 writes a little-endian uint64.
func (b *ByteStore) PutUint64(off int, v uint64) error {
	if err := b.check(off, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b.data[off:], v)
	return nil
}

// Write copies p into the store at off.
func (b *ByteStore) Write(off int, p []byte) error {
	if err := b.check(off, len(p)); err != nil {
		return err
	}
	copy(b.data[off:], p)
	return nil
}

// Insert inserts n zero bytes at off, shifting everything from off onward.
// If off lies past the end, the store is zero-extended up to off first.
func (b *ByteStore) Insert(off, n int) error {
	if off < 0 || n < 0 {
		return errors.Wrapf(ErrOutOfBounds, "插入偏移 0x%X 长度 %d", off, n)
	}
	if n == 0 && off <= len(b.data) {
		return nil
	}
	if off > len(b.data) {
		b.data = append(b.data, make([]byte, off-len(b.data))...)
	}

	grown := make([]byte, len(b.data)+n)
	copy(grown, b.data[:off])
	copy(grown[off+n:], b.data[off:])
	b.data = grown
	return nil
}

// CString reads a NUL-terminated string of at most limit bytes.
func (b *ByteStore) CString(off, limit int) (string, error) {
	if err := b.check(off, 0); err != nil {
		return "", err
	}
	end := off + limit
	if end > len(b.data) || limit <= 0 {
		end = len(b.data)
	}
	for i := off; i < end; i++ {
		if b.data[i] == 0 {
			return string(b.data[off:i]), nil
		}
	}
	return string(b.data[off:end]), nil
}

// u16/u32/u64 are lenient readers for header views: out-of-range reads
// yield zero, which validate() already rules out for parsed images.
func (b *ByteStore) u16(off int) uint16 {
	v, _ := b.Uint16(off)
	return v
}

func (b *ByteStore) u32(off int) uint32 {
	v, _ := b.Uint32(off)
	return v
}

func (b *ByteStore) u64(off int) uint64 {
	v, _ := b.Uint64(off)
	return v
}

func (b *ByteStore) set16(off int, v uint16) {
	_ = b.PutUint16(off, v)
}

func (b *ByteStore) set32(off int, v uint32) {
	_ = b.PutUint32(off, v)
}

func (b *ByteStore) set64(off int, v uint64) {
	_ = b.PutUint64(off, v)
}
