package pe

import (
	"bytes"
	"encoding/binary"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// tableBuilder lays out a directory whose final RVA is known before the
// bytes are placed in the image.
type tableBuilder struct {
	base uint32
	word int
	data []byte
}

func newTableBuilder(base uint32, word int) *tableBuilder {
	return &tableBuilder{base: base, word: word}
}

// alloc reserves n zero bytes at the next multiple of align and returns
// their position.
func (b *tableBuilder) alloc(n, align int) int {
	for align > 1 && len(b.data)%align != 0 {
		b.data = append(b.data, 0)
	}
	at := len(b.data)
	b.data = append(b.data, make([]byte, n)...)
	return at
}

func (b *tableBuilder) rva(at int) uint32 {
	return b.base + uint32(at)
}

func (b *tableBuilder) put16(at int, v uint16) {
	binary.LittleEndian.PutUint16(b.data[at:], v)
}

func (b *tableBuilder) put32(at int, v uint32) {
	binary.LittleEndian.PutUint32(b.data[at:], v)
}

// putWord writes a pointer-sized value.
func (b *tableBuilder) putWord(at int, v uint64) {
	if b.word == 8 {
		binary.LittleEndian.PutUint64(b.data[at:], v)
		return
	}
	binary.LittleEndian.PutUint32(b.data[at:], uint32(v))
}

func (b *tableBuilder) cstring(s string) uint32 {
	at := b.alloc(len(s)+1, 1)
	copy(b.data[at:], s)
	return b.rva(at)
}

// hintName writes an IMAGE_IMPORT_BY_NAME entry.
func (b *tableBuilder) hintName(hint uint16, name string) uint32 {
	at := b.alloc(2+len(name)+1, 2)
	b.put16(at, hint)
	copy(b.data[at+2:], name)
	return b.rva(at)
}

// pack encodes a fixed record at position at.
func (b *tableBuilder) pack(at int, record any) error {
	var encoded bytes.Buffer
	if err := struc.Pack(&encoded, record); err != nil {
		return errors.Wrap(err, "编码目录结构失败")
	}
	copy(b.data[at:], encoded.Bytes())
	return nil
}

// place appends a section named name holding the built table and checks it
// landed at the address the table was laid out for.
func (i *Image) place(name string, b *tableBuilder, characteristics uint32) error {
	s, err := i.AppendSection(name, uint32(len(b.data)), characteristics)
	if err != nil {
		return err
	}
	if s.VirtualAddress() != b.base {
		return errors.Wrapf(ErrCorrupted, "%s 位于 0x%X, 预期 0x%X", name, s.VirtualAddress(), b.base)
	}
	return i.buf.Write(int(s.PointerToRawData()), b.data)
}
