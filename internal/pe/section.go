package pe

import (
	"bytes"

	"github.com/hashicorp/go-hclog"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// RawSectionHeader is the on-disk IMAGE_SECTION_HEADER record.
type RawSectionHeader struct {
	Name                 [8]byte `struc:"[8]byte"`
	VirtualSize          uint32  `struc:"uint32,little"`
	VirtualAddress       uint32  `struc:"uint32,little"`
	SizeOfRawData        uint32  `struc:"uint32,little"`
	PointerToRawData     uint32  `struc:"uint32,little"`
	PointerToRelocations uint32  `struc:"uint32,little"`
	PointerToLinenumbers uint32  `struc:"uint32,little"`
	NumberOfRelocations  uint16  `struc:"uint16,little"`
	NumberOfLinenumbers  uint16  `struc:"uint16,little"`
	Characteristics      uint32  `struc:"uint32,little"`
}

// SectionHeader is a view over one entry of the section table.
type SectionHeader struct {
	img   *Image
	index int
}

func (s SectionHeader) off() int {
	return PEHeader{img: s.img}.sectionTableOffset() + s.index*sectionHeaderSize
}

// Valid reports whether the view refers to a section.
func (s SectionHeader) Valid() bool {
	return s.img != nil
}

// Index returns the position in the section table.
func (s SectionHeader) Index() int {
	return s.index
}

// Name returns the section name. The 8-byte field need not be NUL
// terminated.
func (s SectionHeader) Name() string {
	raw, err := s.img.buf.Slice(s.off(), 8)
	if err != nil {
		return ""
	}
	return sectionNameString(raw)
}

// SetName overwrites the 8-byte name field, zero padding short names.
func (s SectionHeader) SetName(name string) error {
	if len(name) > 8 {
		return errors.Wrapf(ErrNameTooLong, "%q (%d 字节)", name, len(name))
	}
	var field [8]byte
	copy(field[:], name)
	return s.img.buf.Write(s.off(), field[:])
}

// VirtualSize returns the in-memory size.
func (s SectionHeader) VirtualSize() uint32 { return s.img.buf.u32(s.off() + 8) }

// SetVirtualSize updates the in-memory size.
func (s SectionHeader) SetVirtualSize(v uint32) { s.img.buf.set32(s.off()+8, v) }

// VirtualAddress returns the section RVA.
func (s SectionHeader) VirtualAddress() uint32 { return s.img.buf.u32(s.off() + 12) }

// SetVirtualAddress updates the section RVA.
func (s SectionHeader) SetVirtualAddress(v uint32) { s.img.buf.set32(s.off()+12, v) }

// SizeOfRawData returns the on-disk size.
func (s SectionHeader) SizeOfRawData() uint32 { return s.img.buf.u32(s.off() + 16) }

// SetSizeOfRawData updates the on-disk size.
func (s SectionHeader) SetSizeOfRawData(v uint32) { s.img.buf.set32(s.off()+16, v) }

// PointerToRawData returns the file offset of the section data.
func (s SectionHeader) PointerToRawData() uint32 { return s.img.buf.u32(s.off() + 20) }

// SetPointerToRawData updates the file offset of the section data.
func (s SectionHeader) SetPointerToRawData(v uint32) { s.img.buf.set32(s.off()+20, v) }

// Characteristics returns the section flags.
func (s SectionHeader) Characteristics() uint32 { return s.img.buf.u32(s.off() + 36) }

// SetCharacteristics updates the section flags.
func (s SectionHeader) SetCharacteristics(v uint32) { s.img.buf.set32(s.off()+36, v) }

// Raw decodes the whole header record.
func (s SectionHeader) Raw() (RawSectionHeader, error) {
	var raw RawSectionHeader
	window, err := s.img.buf.Slice(s.off(), sectionHeaderSize)
	if err != nil {
		return raw, err
	}
	if err := struc.Unpack(bytes.NewReader(window), &raw); err != nil {
		return raw, errors.Wrap(err, "解析节区头失败")
	}
	return raw, nil
}

// virtualExtent is the size used for RVA containment.
func (s SectionHeader) virtualExtent() uint32 {
	if s.VirtualSize() == 0 {
		return s.SizeOfRawData()
	}
	return s.VirtualSize()
}

// HasRVA reports whether rva lies inside the section's virtual range.
func (s SectionHeader) HasRVA(rva uint32) bool {
	va := s.VirtualAddress()
	return rva >= va && uint64(rva) < uint64(va)+uint64(s.virtualExtent())
}

// HasOffset reports whether off lies inside the section's raw data.
func (s SectionHeader) HasOffset(off uint32) bool {
	ptr := s.PointerToRawData()
	return off >= ptr && uint64(off) < uint64(ptr)+uint64(s.SizeOfRawData())
}

// Data returns the section's raw bytes. The slice aliases the image and is
// invalidated by the next mutation.
func (s SectionHeader) Data() ([]byte, error) {
	return s.img.buf.Slice(int(s.PointerToRawData()), int(s.SizeOfRawData()))
}

// SectionCharacteristics groups common flag combinations.
type SectionCharacteristics struct {
	Code             uint32
	InitializedData  uint32
	ReadOnly         uint32
	ReadWrite        uint32
	ReadExecute      uint32
	ReadWriteExecute uint32
}

// CommonCharacteristics provides commonly used section characteristics.
var CommonCharacteristics = SectionCharacteristics{
	Code:             SectionCntCode | SectionMemRead | SectionMemExecute,
	InitializedData:  SectionCntInitializedData | SectionMemRead,
	ReadOnly:         SectionCntInitializedData | SectionMemRead,
	ReadWrite:        SectionCntInitializedData | SectionMemRead | SectionMemWrite,
	ReadExecute:      SectionCntCode | SectionMemRead | SectionMemExecute,
	ReadWriteExecute: SectionCntInitializedData | SectionMemRead | SectionMemWrite | SectionMemExecute,
}

func (i *Image) alignments() (file, section uint32, err error) {
	oh := i.OptionalHeader()
	file, section = oh.FileAlignment(), oh.SectionAlignment()
	if file == 0 || section == 0 {
		return 0, 0, errors.Wrapf(ErrZeroAlignment, "FileAlignment=0x%X SectionAlignment=0x%X", file, section)
	}
	return file, section, nil
}

// AppendSection adds a zero-filled section after the last one. The raw size
// is size rounded up to FileAlignment, the virtual size is size itself.
func (i *Image) AppendSection(name string, size, characteristics uint32) (SectionHeader, error) {
	if !i.parsed {
		return SectionHeader{}, ErrNotParsed
	}
	if len(name) > 8 {
		return SectionHeader{}, errors.Wrapf(ErrNameTooLong, "%q (%d 字节)", name, len(name))
	}

	var index int
	err := i.mutate("append section", func(tx *Image) error {
		fileAlign, sectAlign, err := tx.alignments()
		if err != nil {
			return err
		}

		h := tx.Header()
		fh, oh := h.FileHeader(), h.OptionalHeader()
		index = h.NumberOfSections()

		headerOff := h.sectionTableEnd()
		newTableEnd := headerOff + sectionHeaderSize
		if first := h.firstRawPointer(); first != 0 && uint32(newTableEnd) > first {
			return errors.Wrapf(ErrNoHeaderSpace, "节区头表结束于 0x%X, 首个节区数据位于 0x%X", newTableEnd, first)
		}
		if newTableEnd > tx.buf.Len() {
			return errors.Wrapf(ErrNoHeaderSpace, "节区头表结束于 0x%X, 缓冲区仅 %d 字节", newTableEnd, tx.buf.Len())
		}

		rawSize := Align(size, fileAlign)
		hdr := RawSectionHeader{
			VirtualSize:      size,
			VirtualAddress:   h.NextSectionRva(),
			SizeOfRawData:    rawSize,
			PointerToRawData: h.NextSectionOffset(),
			Characteristics:  characteristics,
		}
		copy(hdr.Name[:], name)

		var encoded bytes.Buffer
		if err := struc.Pack(&encoded, &hdr); err != nil {
			return errors.Wrap(err, "编码节区头失败")
		}
		if err := tx.buf.Write(headerOff, encoded.Bytes()); err != nil {
			return errors.Wrap(err, "写入节区头失败")
		}

		fh.SetNumberOfSections(uint16(index + 1))
		oh.SetSizeOfImage(Align(hdr.VirtualAddress+size, sectAlign))
		switch {
		case characteristics&SectionCntCode != 0:
			oh.SetSizeOfCode(oh.SizeOfCode() + rawSize)
		case characteristics&SectionCntInitializedData != 0:
			oh.SetSizeOfInitializedData(oh.SizeOfInitializedData() + rawSize)
		case characteristics&SectionCntUninitializedData != 0:
			oh.SetSizeOfUninitializedData(oh.SizeOfUninitializedData() + rawSize)
		}
		if headers := Align(uint32(newTableEnd), fileAlign); headers > oh.SizeOfHeaders() {
			oh.SetSizeOfHeaders(headers)
		}

		tx.logger.Debug("appending section",
			"name", name,
			"rva", hclog.Hex(int(hdr.VirtualAddress)),
			"offset", hclog.Hex(int(hdr.PointerToRawData)),
			"raw_size", hclog.Hex(int(rawSize)))

		return tx.buf.Insert(int(hdr.PointerToRawData), int(rawSize))
	})
	if err != nil {
		return SectionHeader{}, err
	}
	return SectionHeader{img: i, index: index}, nil
}

// ExtendSection grows the named section by delta bytes of virtual size and
// by delta rounded up to FileAlignment on disk. A data directory that starts
// at the section's address grows with it. Later sections move down in the
// file by the inserted byte count.
func (i *Image) ExtendSection(name string, delta uint32) error {
	if !i.parsed {
		return ErrNotParsed
	}
	if delta == 0 {
		return ErrZeroDelta
	}
	if _, ok := i.SectionByName(name); !ok {
		return errors.Wrapf(ErrSectionNotFound, "%s", name)
	}

	return i.mutate("extend section", func(tx *Image) error {
		fileAlign, sectAlign, err := tx.alignments()
		if err != nil {
			return err
		}

		h := tx.Header()
		oh := h.OptionalHeader()
		s, _ := h.SectionByName(name)

		va := s.VirtualAddress()
		newVirtual := s.VirtualSize() + delta
		for _, other := range h.Sections() {
			if other.index == s.index || other.VirtualAddress() <= va {
				continue
			}
			if uint64(va)+uint64(newVirtual) > uint64(other.VirtualAddress()) {
				return errors.Wrapf(ErrSectionOverlap, "%s 扩展至 0x%X, %s 起始于 0x%X",
					name, uint64(va)+uint64(newVirtual), other.Name(), other.VirtualAddress())
			}
		}

		grow := Align(delta, fileAlign)
		insertAt := s.PointerToRawData() + s.SizeOfRawData()

		s.SetSizeOfRawData(s.SizeOfRawData() + grow)
		s.SetVirtualSize(newVirtual)

		for _, other := range h.Sections() {
			if other.index != s.index && other.PointerToRawData() >= insertAt && other.SizeOfRawData() != 0 {
				other.SetPointerToRawData(other.PointerToRawData() + grow)
			}
		}
		fh := h.FileHeader()
		if sym := fh.PointerToSymbolTable(); sym != 0 && sym >= insertAt {
			fh.SetPointerToSymbolTable(sym + grow)
		}

		for d := 0; d < MaxDirectoryCount; d++ {
			dd := oh.DataDirectory(d)
			if dd.VirtualAddress != 0 && dd.VirtualAddress == va {
				dd.Size += delta
				oh.SetDataDirectory(d, dd)
				break
			}
		}

		var end uint32
		for _, other := range h.Sections() {
			if e := other.VirtualAddress() + other.virtualExtent(); e > end {
				end = e
			}
		}
		if size := Align(end, sectAlign); size > oh.SizeOfImage() {
			oh.SetSizeOfImage(size)
		}

		tx.logger.Debug("extending section",
			"name", name,
			"delta", hclog.Hex(int(delta)),
			"insert_at", hclog.Hex(int(insertAt)),
			"inserted", hclog.Hex(int(grow)))

		return tx.buf.Insert(int(insertAt), int(grow))
	})
}
