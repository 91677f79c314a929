package pe

// Bits is the declared pointer width of an image.
type Bits int

// Supported widths. BitsAuto adopts whatever the optional header declares.
const (
	BitsAuto Bits = 0
	Bits32   Bits = 32
	Bits64   Bits = 64
)

// Magic returns the optional header magic matching the width.
func (b Bits) Magic() uint16 {
	switch b {
	case Bits32:
		return Magic32
	case Bits64:
		return Magic64
	}
	return 0
}

// DataDirectory is one slot of the optional header's directory table.
type DataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

// Present reports whether the slot describes a directory.
func (d DataDirectory) Present() bool {
	return d.Size > 0
}

// DosHeader is a view over IMAGE_DOS_HEADER at offset 0.
type DosHeader struct {
	img *Image
}

// Magic returns e_magic.
func (h DosHeader) Magic() uint16 {
	return h.img.buf.u16(0)
}

// Lfanew returns e_lfanew, the offset of the NT headers.
func (h DosHeader) Lfanew() uint32 {
	return h.img.buf.u32(0x3C)
}

// FileHeader is a view over IMAGE_FILE_HEADER.
type FileHeader struct {
	img *Image
}

func (h FileHeader) off() int {
	return int(h.img.Dos().Lfanew()) + 4
}

// Machine returns the target machine.
func (h FileHeader) Machine() uint16 {
	return h.img.buf.u16(h.off())
}

// NumberOfSections returns the section count.
func (h FileHeader) NumberOfSections() uint16 {
	return h.img.buf.u16(h.off() + 2)
}

// SetNumberOfSections updates the section count.
func (h FileHeader) SetNumberOfSections(n uint16) {
	h.img.buf.set16(h.off()+2, n)
}

// TimeDateStamp returns the link timestamp.
func (h FileHeader) TimeDateStamp() uint32 {
	return h.img.buf.u32(h.off() + 4)
}

// PointerToSymbolTable returns the COFF symbol table file offset.
func (h FileHeader) PointerToSymbolTable() uint32 {
	return h.img.buf.u32(h.off() + 8)
}

// SetPointerToSymbolTable updates the COFF symbol table file offset.
func (h FileHeader) SetPointerToSymbolTable(ptr uint32) {
	h.img.buf.set32(h.off()+8, ptr)
}

// NumberOfSymbols returns the COFF symbol count.
func (h FileHeader) NumberOfSymbols() uint32 {
	return h.img.buf.u32(h.off() + 12)
}

// SizeOfOptionalHeader returns the optional header size in bytes.
func (h FileHeader) SizeOfOptionalHeader() uint16 {
	return h.img.buf.u16(h.off() + 16)
}

// Characteristics returns the image flags.
func (h FileHeader) Characteristics() uint16 {
	return h.img.buf.u16(h.off() + 18)
}

// SetCharacteristics updates the image flags.
func (h FileHeader) SetCharacteristics(c uint16) {
	h.img.buf.set16(h.off()+18, c)
}

// OptionalHeader is a view over IMAGE_OPTIONAL_HEADER32/64. Field offsets
// that differ between the two layouts are chosen from the image width.
type OptionalHeader struct {
	img *Image
}

func (h OptionalHeader) off() int {
	return int(h.img.Dos().Lfanew()) + 4 + fileHeaderSize
}

func (h OptionalHeader) is64() bool {
	return h.img.width == Bits64
}

// Magic returns the optional header magic (0x10b or 0x20b).
func (h OptionalHeader) Magic() uint16 {
	return h.img.buf.u16(h.off())
}

// SizeOfCode returns the combined size of code sections.
func (h OptionalHeader) SizeOfCode() uint32 {
	return h.img.buf.u32(h.off() + 4)
}

// SetSizeOfCode updates SizeOfCode.
func (h OptionalHeader) SetSizeOfCode(v uint32) {
	h.img.buf.set32(h.off()+4, v)
}

// SizeOfInitializedData returns the combined size of initialized data.
func (h OptionalHeader) SizeOfInitializedData() uint32 {
	return h.img.buf.u32(h.off() + 8)
}

// SetSizeOfInitializedData updates SizeOfInitializedData.
func (h OptionalHeader) SetSizeOfInitializedData(v uint32) {
	h.img.buf.set32(h.off()+8, v)
}

// SizeOfUninitializedData returns the combined size of bss sections.
func (h OptionalHeader) SizeOfUninitializedData() uint32 {
	return h.img.buf.u32(h.off() + 12)
}

// SetSizeOfUninitializedData updates SizeOfUninitializedData.
func (h OptionalHeader) SetSizeOfUninitializedData(v uint32) {
	h.img.buf.set32(h.off()+12, v)
}

// AddressOfEntryPoint returns the entry point RVA.
func (h OptionalHeader) AddressOfEntryPoint() uint32 {
	return h.img.buf.u32(h.off() + 16)
}

// SetAddressOfEntryPoint updates the entry point RVA.
func (h OptionalHeader) SetAddressOfEntryPoint(rva uint32) {
	h.img.buf.set32(h.off()+16, rva)
}

// BaseOfCode returns the RVA of the start of code.
func (h OptionalHeader) BaseOfCode() uint32 {
	return h.img.buf.u32(h.off() + 20)
}

// SetBaseOfCode updates BaseOfCode.
func (h OptionalHeader) SetBaseOfCode(rva uint32) {
	h.img.buf.set32(h.off()+20, rva)
}

// ImageBase returns the preferred load address, widened to 64 bits.
func (h OptionalHeader) ImageBase() uint64 {
	if h.is64() {
		return h.img.buf.u64(h.off() + 24)
	}
	return uint64(h.img.buf.u32(h.off() + 28))
}

// SetImageBase updates the preferred load address. On 32-bit images the
// value is truncated to 32 bits.
func (h OptionalHeader) SetImageBase(base uint64) {
	if h.is64() {
		h.img.buf.set64(h.off()+24, base)
		return
	}
	h.img.buf.set32(h.off()+28, uint32(base))
}

// SectionAlignment returns the in-memory section alignment.
func (h OptionalHeader) SectionAlignment() uint32 {
	return h.img.buf.u32(h.off() + 32)
}

// FileAlignment returns the on-disk section alignment.
func (h OptionalHeader) FileAlignment() uint32 {
	return h.img.buf.u32(h.off() + 36)
}

// SizeOfImage returns the mapped size of the image.
func (h OptionalHeader) SizeOfImage() uint32 {
	return h.img.buf.u32(h.off() + 56)
}

// SetSizeOfImage updates SizeOfImage.
func (h OptionalHeader) SetSizeOfImage(v uint32) {
	h.img.buf.set32(h.off()+56, v)
}

// SizeOfHeaders returns the file-aligned size of all headers.
func (h OptionalHeader) SizeOfHeaders() uint32 {
	return h.img.buf.u32(h.off() + 60)
}

// SetSizeOfHeaders updates SizeOfHeaders.
func (h OptionalHeader) SetSizeOfHeaders(v uint32) {
	h.img.buf.set32(h.off()+60, v)
}

// CheckSum returns the stored image checksum.
func (h OptionalHeader) CheckSum() uint32 {
	return h.img.buf.u32(h.off() + 64)
}

// checkSumOffset is the file offset of the CheckSum field.
func (h OptionalHeader) checkSumOffset() int {
	return h.off() + 64
}

// Subsystem returns the required subsystem.
func (h OptionalHeader) Subsystem() uint16 {
	return h.img.buf.u16(h.off() + 68)
}

// DllCharacteristics returns the DLL characteristics flags.
func (h OptionalHeader) DllCharacteristics() uint16 {
	return h.img.buf.u16(h.off() + 70)
}

// NumberOfRvaAndSizes returns the declared directory slot count.
func (h OptionalHeader) NumberOfRvaAndSizes() uint32 {
	if h.is64() {
		return h.img.buf.u32(h.off() + 108)
	}
	return h.img.buf.u32(h.off() + 92)
}

func (h OptionalHeader) dataDirectoryOffset(i int) int {
	base := h.off() + 96
	if h.is64() {
		base = h.off() + 112
	}
	return base + i*dataDirectorySize
}

func (h OptionalHeader) hasSlot(i int) bool {
	return i >= 0 && i < MaxDirectoryCount && uint32(i) < h.NumberOfRvaAndSizes()
}

// DataDirectory returns slot i, or a zero slot when i is not declared.
func (h OptionalHeader) DataDirectory(i int) DataDirectory {
	if !h.hasSlot(i) {
		return DataDirectory{}
	}
	off := h.dataDirectoryOffset(i)
	return DataDirectory{
		VirtualAddress: h.img.buf.u32(off),
		Size:           h.img.buf.u32(off + 4),
	}
}

// SetDataDirectory overwrites slot i. Undeclared slots are left alone.
func (h OptionalHeader) SetDataDirectory(i int, dd DataDirectory) {
	if !h.hasSlot(i) {
		return
	}
	off := h.dataDirectoryOffset(i)
	h.img.buf.set32(off, dd.VirtualAddress)
	h.img.buf.set32(off+4, dd.Size)
}

// DirectoryCount counts the slots that are present, independent of
// NumberOfRvaAndSizes.
func (h OptionalHeader) DirectoryCount() int {
	count := 0
	for i := 0; i < MaxDirectoryCount; i++ {
		if h.DataDirectory(i).Present() {
			count++
		}
	}
	return count
}

// HasRelocations reports whether the base relocation slot is present.
func (h OptionalHeader) HasRelocations() bool {
	return h.DataDirectory(DirectoryEntryBaseReloc).Present()
}
