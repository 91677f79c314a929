package pe

// PEHeader is a view over the NT headers: signature, file header, optional
// header and the section table that follows them. Translation helpers read
// the current section table on every call.
type PEHeader struct {
	img *Image
}

func (h PEHeader) off() int {
	return int(h.img.Dos().Lfanew())
}

// Signature returns the NT signature dword.
func (h PEHeader) Signature() uint32 {
	return h.img.buf.u32(h.off())
}

// IsTaggedPE reports whether the NT signature is "PE\0\0".
func (h PEHeader) IsTaggedPE() bool {
	return h.Signature() == NTSignature
}

// FileHeader returns the COFF file header view.
func (h PEHeader) FileHeader() FileHeader {
	return FileHeader{img: h.img}
}

// OptionalHeader returns the optional header view.
func (h PEHeader) OptionalHeader() OptionalHeader {
	return OptionalHeader{img: h.img}
}

// sectionTableOffset is where the first section header starts.
func (h PEHeader) sectionTableOffset() int {
	return h.off() + 4 + fileHeaderSize + int(h.FileHeader().SizeOfOptionalHeader())
}

// sectionTableEnd is the file offset right after the last section header.
func (h PEHeader) sectionTableEnd() int {
	return h.sectionTableOffset() + int(h.FileHeader().NumberOfSections())*sectionHeaderSize
}

// NumberOfSections returns the section count from the file header.
func (h PEHeader) NumberOfSections() int {
	return int(h.FileHeader().NumberOfSections())
}

// Section returns the section header at index i.
func (h PEHeader) Section(i int) (SectionHeader, bool) {
	if i < 0 || i >= h.NumberOfSections() {
		return SectionHeader{}, false
	}
	return SectionHeader{img: h.img, index: i}, true
}

// Sections returns views over every section header.
func (h PEHeader) Sections() []SectionHeader {
	n := h.NumberOfSections()
	sections := make([]SectionHeader, 0, n)
	for i := 0; i < n; i++ {
		sections = append(sections, SectionHeader{img: h.img, index: i})
	}
	return sections
}

// SectionByName returns the first section whose name equals name.
func (h PEHeader) SectionByName(name string) (SectionHeader, bool) {
	for _, s := range h.Sections() {
		if s.Name() == name {
			return s, true
		}
	}
	return SectionHeader{}, false
}

// SectionByRVA returns the section whose virtual range contains rva.
func (h PEHeader) SectionByRVA(rva uint32) (SectionHeader, bool) {
	for _, s := range h.Sections() {
		if s.HasRVA(rva) {
			return s, true
		}
	}
	return SectionHeader{}, false
}

// SectionByOffset returns the section whose raw range contains off.
func (h PEHeader) SectionByOffset(off uint32) (SectionHeader, bool) {
	for _, s := range h.Sections() {
		if s.HasOffset(off) {
			return s, true
		}
	}
	return SectionHeader{}, false
}

// LastSection returns the final entry of the section table.
func (h PEHeader) LastSection() (SectionHeader, bool) {
	return h.Section(h.NumberOfSections() - 1)
}

// RvaToOffset converts an RVA into a file offset.
func (h PEHeader) RvaToOffset(rva uint32) (uint32, bool) {
	s, ok := h.SectionByRVA(rva)
	if !ok {
		return 0, false
	}
	return s.PointerToRawData() + (rva - s.VirtualAddress()), true
}

// OffsetToRva converts a file offset back into an RVA.
func (h PEHeader) OffsetToRva(off uint32) (uint32, bool) {
	s, ok := h.SectionByOffset(off)
	if !ok {
		return 0, false
	}
	return s.VirtualAddress() + (off - s.PointerToRawData()), true
}

// RvaToVa adds the image base to rva.
func (h PEHeader) RvaToVa(rva uint32) uint64 {
	return h.OptionalHeader().ImageBase() + uint64(rva)
}

// NextSectionOffset is the file-aligned end of the last section's raw data.
func (h PEHeader) NextSectionOffset() uint32 {
	last, ok := h.LastSection()
	if !ok {
		return Align(uint32(h.sectionTableEnd()), h.OptionalHeader().FileAlignment())
	}
	return Align(last.PointerToRawData()+last.SizeOfRawData(), h.OptionalHeader().FileAlignment())
}

// NextSectionRva is the section-aligned end of the last section's
// virtual range.
func (h PEHeader) NextSectionRva() uint32 {
	last, ok := h.LastSection()
	if !ok {
		return Align(h.OptionalHeader().SizeOfHeaders(), h.OptionalHeader().SectionAlignment())
	}
	return Align(last.VirtualAddress()+last.virtualExtent(), h.OptionalHeader().SectionAlignment())
}

// CalcSizeOfImage measures the span between the lowest and highest
// virtual addresses covered by sections with a non-zero virtual size.
func (h PEHeader) CalcSizeOfImage() uint32 {
	var lowest, highest uint32
	first := true
	for _, s := range h.Sections() {
		if s.VirtualSize() == 0 {
			continue
		}
		if first || s.VirtualAddress() < lowest {
			lowest = s.VirtualAddress()
		}
		if end := s.VirtualAddress() + s.VirtualSize(); end > highest {
			highest = end
		}
		first = false
	}
	return highest - lowest
}

// StartOfCode returns BaseOfCode.
func (h PEHeader) StartOfCode() uint32 {
	return h.OptionalHeader().BaseOfCode()
}

// DirectoryCount counts present data directories.
func (h PEHeader) DirectoryCount() int {
	return h.OptionalHeader().DirectoryCount()
}

// firstRawPointer is the lowest non-zero PointerToRawData, i.e. where the
// header area ends on disk.
func (h PEHeader) firstRawPointer() uint32 {
	var lowest uint32
	for _, s := range h.Sections() {
		p := s.PointerToRawData()
		if p == 0 || s.SizeOfRawData() == 0 {
			continue
		}
		if lowest == 0 || p < lowest {
			lowest = p
		}
	}
	return lowest
}
