// Package pe models a Portable Executable image held in memory and provides
// structural queries and in-place mutations over it.
package pe

import (
	"crypto/rand"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// Image owns the bytes of one PE file. All header and directory views hold
// the image and re-derive their offsets from the current buffer, so they stay
// valid across mutations that grow the buffer.
type Image struct {
	path   string
	buf    *ByteStore
	bits   Bits
	width  Bits
	parsed bool
	mapped bool

	logger   hclog.Logger
	demangle func(string) string

	exports *ExportDirectory
	imports *ImportDirectory
	relocs  *RelocationDirectory
}

// New copies data into a new image and validates it. bits selects the
// expected optional header layout; BitsAuto accepts either.
func New(data []byte, bits Bits) *Image {
	img := &Image{
		buf:      NewByteStore(data),
		bits:     bits,
		width:    bits,
		logger:   hclog.NewNullLogger(),
		demangle: Demangle,
	}
	img.validate()
	return img
}

// NewMapped builds an image from a memory-mapped copy, where every section
// already sits at its virtual address.
func NewMapped(data []byte, bits Bits) *Image {
	img := New(data, bits)
	if img.parsed {
		img.SetAsMapped()
	}
	return img
}

// SetLogger installs the logger used for validation and mutation traces.
func (i *Image) SetLogger(logger hclog.Logger) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	i.logger = logger
}

// SetDemangler replaces the function applied to export names when a caller
// asks for demangling.
func (i *Image) SetDemangler(fn func(string) string) {
	if fn == nil {
		fn = Demangle
	}
	i.demangle = fn
}

// validate checks the header chain and, on success, rebuilds the directory
// views. It is run after construction and after every mutation.
func (i *Image) validate() bool {
	i.parsed = false
	i.exports, i.imports, i.relocs = nil, nil, nil

	if i.buf.Len() < dosHeaderSize || i.buf.u16(0) != DOSSignature {
		i.logger.Debug("validation failed", "stage", "dos", "size", i.buf.Len())
		return false
	}

	lfanew := int(i.buf.u32(0x3C))
	if lfanew+4+fileHeaderSize+2 > i.buf.Len() {
		i.logger.Debug("validation failed", "stage", "lfanew", "lfanew", hclog.Hex(lfanew))
		return false
	}
	if i.buf.u32(lfanew) != NTSignature {
		i.logger.Debug("validation failed", "stage", "signature", "lfanew", hclog.Hex(lfanew))
		return false
	}

	magic := i.buf.u16(lfanew + 4 + fileHeaderSize)
	switch i.bits {
	case BitsAuto:
		switch magic {
		case Magic32:
			i.width = Bits32
		case Magic64:
			i.width = Bits64
		default:
			i.logger.Debug("validation failed", "stage", "magic", "magic", hclog.Hex(int(magic)))
			return false
		}
	default:
		if magic != i.bits.Magic() {
			i.logger.Debug("validation failed", "stage", "magic", "magic", hclog.Hex(int(magic)), "bits", int(i.bits))
			return false
		}
		i.width = i.bits
	}

	h := PEHeader{img: i}
	if end := h.sectionTableEnd(); end > i.buf.Len() {
		i.logger.Debug("validation failed", "stage", "sections", "table_end", hclog.Hex(end), "size", i.buf.Len())
		return false
	}

	i.parsed = true
	i.exports = &ExportDirectory{img: i}
	i.imports = &ImportDirectory{img: i}
	i.relocs = &RelocationDirectory{img: i}
	return true
}

// mutate runs fn against a copy of the image and commits the copy only if it
// still validates afterwards.
func (i *Image) mutate(op string, fn func(tx *Image) error) error {
	if !i.parsed {
		return ErrNotParsed
	}
	tx := &Image{
		path:     i.path,
		buf:      i.buf.Clone(),
		bits:     i.bits,
		width:    i.width,
		parsed:   true,
		mapped:   i.mapped,
		logger:   i.logger,
		demangle: i.demangle,
	}
	tx.exports = &ExportDirectory{img: tx}
	tx.imports = &ImportDirectory{img: tx}
	tx.relocs = &RelocationDirectory{img: tx}

	if err := fn(tx); err != nil {
		return err
	}
	if !tx.validate() {
		i.logger.Warn("mutation rejected", "op", op)
		return errors.Wrapf(ErrCorrupted, "%s", op)
	}

	i.buf = tx.buf
	i.validate()
	i.logger.Debug("mutation committed", "op", op, "size", hclog.Hex(i.buf.Len()))
	return nil
}

// revalidate re-runs validation after an in-place write that did not go
// through mutate.
func (i *Image) revalidate(op string) error {
	if !i.validate() {
		i.logger.Warn("image no longer validates", "op", op)
		return errors.Wrapf(ErrCorrupted, "%s", op)
	}
	i.logger.Trace("image revalidated", "op", op)
	return nil
}

// WasParsed reports whether the last validation succeeded.
func (i *Image) WasParsed() bool {
	return i.parsed
}

// IsMapped reports whether the section headers describe a mapped layout.
func (i *Image) IsMapped() bool {
	return i.mapped
}

// Path returns the file the image was opened from, if any.
func (i *Image) Path() string {
	return i.path
}

// Buffer returns the underlying store.
func (i *Image) Buffer() *ByteStore {
	return i.buf
}

// Bytes returns the current image bytes.
func (i *Image) Bytes() []byte {
	return i.buf.Bytes()
}

// Size returns the current image size.
func (i *Image) Size() int {
	return i.buf.Len()
}

// Bits returns the effective pointer width.
func (i *Image) Bits() Bits {
	return i.width
}

// WordSize returns the pointer size in bytes.
func (i *Image) WordSize() int {
	if i.width == Bits64 {
		return 8
	}
	return 4
}

// Dos returns the DOS header view.
func (i *Image) Dos() DosHeader {
	return DosHeader{img: i}
}

// Header returns the NT header view.
func (i *Image) Header() *PEHeader {
	return &PEHeader{img: i}
}

// FileHeader returns the COFF file header view.
func (i *Image) FileHeader() FileHeader {
	return FileHeader{img: i}
}

// OptionalHeader returns the optional header view.
func (i *Image) OptionalHeader() OptionalHeader {
	return OptionalHeader{img: i}
}

// Magic returns the optional header magic, or 0 for an unparsed image.
func (i *Image) Magic() uint16 {
	if !i.parsed {
		return 0
	}
	return i.OptionalHeader().Magic()
}

// Machine returns the target machine, or 0 for an unparsed image.
func (i *Image) Machine() uint16 {
	if !i.parsed {
		return 0
	}
	return i.FileHeader().Machine()
}

// ImageBase returns the preferred load address.
func (i *Image) ImageBase() uint64 {
	if !i.parsed {
		return 0
	}
	return i.OptionalHeader().ImageBase()
}

// NumberOfSections returns the section count.
func (i *Image) NumberOfSections() int {
	if !i.parsed {
		return 0
	}
	return i.Header().NumberOfSections()
}

// Sections returns a view over every section header.
func (i *Image) Sections() []SectionHeader {
	if !i.parsed {
		return nil
	}
	return i.Header().Sections()
}

// Section returns the section header at index idx.
func (i *Image) Section(idx int) (SectionHeader, bool) {
	if !i.parsed {
		return SectionHeader{}, false
	}
	return i.Header().Section(idx)
}

// SectionByName finds a section by its exact name.
func (i *Image) SectionByName(name string) (SectionHeader, bool) {
	if !i.parsed {
		return SectionHeader{}, false
	}
	return i.Header().SectionByName(name)
}

// SectionByRVA finds the section whose virtual range contains rva.
func (i *Image) SectionByRVA(rva uint32) (SectionHeader, bool) {
	if !i.parsed {
		return SectionHeader{}, false
	}
	return i.Header().SectionByRVA(rva)
}

// SectionByOffset finds the section whose raw range contains off.
func (i *Image) SectionByOffset(off uint32) (SectionHeader, bool) {
	if !i.parsed {
		return SectionHeader{}, false
	}
	return i.Header().SectionByOffset(off)
}

// RvaToOffset translates an RVA into a file offset.
func (i *Image) RvaToOffset(rva uint32) (uint32, bool) {
	if !i.parsed {
		return 0, false
	}
	return i.Header().RvaToOffset(rva)
}

// OffsetToRva translates a file offset into an RVA.
func (i *Image) OffsetToRva(off uint32) (uint32, bool) {
	if !i.parsed {
		return 0, false
	}
	return i.Header().OffsetToRva(off)
}

// RvaToVa adds the image base to rva.
func (i *Image) RvaToVa(rva uint32) uint64 {
	return i.ImageBase() + uint64(rva)
}

// HasDataDirectory reports whether directory slot entry is present.
func (i *Image) HasDataDirectory(entry int) bool {
	if !i.parsed {
		return false
	}
	return i.OptionalHeader().DataDirectory(entry).Present()
}

// IsDLL reports whether IMAGE_FILE_DLL is set.
func (i *Image) IsDLL() bool {
	return i.parsed && i.FileHeader().Characteristics()&FileDLL != 0
}

// IsSystemFile reports whether IMAGE_FILE_SYSTEM is set.
func (i *Image) IsSystemFile() bool {
	return i.parsed && i.FileHeader().Characteristics()&FileSystem != 0
}

// IsDLLOrSystemFile reports whether either flag is set.
func (i *Image) IsDLLOrSystemFile() bool {
	return i.IsDLL() || i.IsSystemFile()
}

// Exports returns the export directory view, nil when unparsed.
func (i *Image) Exports() *ExportDirectory {
	return i.exports
}

// Imports returns the import directory view, nil when unparsed.
func (i *Image) Imports() *ImportDirectory {
	return i.imports
}

// Relocations returns the base relocation directory view, nil when unparsed.
func (i *Image) Relocations() *RelocationDirectory {
	return i.relocs
}

// WriteToFile dumps the buffer verbatim.
func (i *Image) WriteToFile(path string) error {
	if err := os.WriteFile(path, i.buf.Bytes(), 0644); err != nil {
		return errors.Wrapf(err, "写入文件失败: %s", path)
	}
	i.logger.Debug("image written", "path", path, "size", i.buf.Len())
	return nil
}

// ScrambleVaData overwrites size bytes starting at rva with random data.
// Bytes that would fall outside the buffer are skipped.
func (i *Image) ScrambleVaData(rva, size uint32) error {
	if !i.parsed {
		return ErrNotParsed
	}
	off, ok := i.RvaToOffset(rva)
	if !ok {
		return errors.Wrapf(ErrRVANotMapped, "RVA 0x%X", rva)
	}

	n := int(size)
	if rest := i.buf.Len() - int(off); n > rest {
		n = rest
	}
	if n <= 0 {
		return nil
	}
	window, err := i.buf.Slice(int(off), n)
	if err != nil {
		return err
	}
	if _, err := rand.Read(window); err != nil {
		return errors.Wrap(err, "生成随机数据失败")
	}
	i.logger.Trace("scrambled range", "rva", hclog.Hex(int(rva)), "size", n)
	return nil
}

// SetAsMapped rewrites every section header so that its raw pointer and raw
// size equal its virtual address and virtual size. Use it when the buffer was
// captured from a loaded module.
func (i *Image) SetAsMapped() {
	if !i.parsed {
		return
	}
	for _, s := range i.Sections() {
		s.SetPointerToRawData(s.VirtualAddress())
		s.SetSizeOfRawData(s.VirtualSize())
	}
	i.mapped = true
}

// MapToBuffer copies each section's raw data into dst at its virtual
// address. Sections named in ignore are skipped.
func (i *Image) MapToBuffer(dst []byte, ignore ...string) error {
	if !i.parsed {
		return ErrNotParsed
	}
	skip := make(map[string]struct{}, len(ignore))
	for _, name := range ignore {
		skip[name] = struct{}{}
	}

	for _, s := range i.Sections() {
		if _, ok := skip[s.Name()]; ok {
			continue
		}
		raw, err := i.buf.Slice(int(s.PointerToRawData()), int(s.SizeOfRawData()))
		if err != nil {
			return errors.Wrapf(err, "读取节区 %s 失败", s.Name())
		}
		va := int(s.VirtualAddress())
		if va+len(raw) > len(dst) {
			return errors.Wrapf(ErrOutOfBounds, "节区 %s 映射到 0x%X 超出目标缓冲区 (%d 字节)", s.Name(), va, len(dst))
		}
		copy(dst[va:], raw)
	}
	return nil
}
