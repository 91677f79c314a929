package pe

import (
	"bytes"
	"fmt"
	"iter"

	"github.com/lunixbochs/struc"
)

// maxThunks caps a single module's thunk walk.
const maxThunks = 10000

// ImportDescriptor represents IMAGE_IMPORT_DESCRIPTOR.
type ImportDescriptor struct {
	OriginalFirstThunk uint32 `struc:"uint32,little"` // RVA to Import Name Table (INT).
	TimeDateStamp      uint32 `struc:"uint32,little"`
	ForwarderChain     uint32 `struc:"uint32,little"`
	Name               uint32 `struc:"uint32,little"` // RVA to DLL name.
	FirstThunk         uint32 `struc:"uint32,little"` // RVA to Import Address Table (IAT).
}

func (d ImportDescriptor) isZero() bool {
	return d == ImportDescriptor{}
}

// ImportModule is one descriptor with its resolved DLL name.
type ImportModule struct {
	Name       string
	Descriptor ImportDescriptor
}

// Import is one imported symbol. Exactly one of Ordinal or Name is
// meaningful, selected by ByOrdinal.
type Import struct {
	Module    string
	ByOrdinal bool
	Ordinal   uint64
	Hint      uint16
	Name      string
	ThunkRVA  uint32
}

// String formats the symbol the way listings show it.
func (imp Import) String() string {
	if imp.ByOrdinal {
		return fmt.Sprintf("Ordinal_%d", imp.Ordinal)
	}
	return imp.Name
}

// ImportDirectory reads the import descriptor table.
type ImportDirectory struct {
	img *Image
}

// Present reports whether the import slot has a non-zero size.
func (d *ImportDirectory) Present() bool {
	return d != nil && d.img.OptionalHeader().DataDirectory(DirectoryEntryImport).Present()
}

func (d *ImportDirectory) descriptor(idx int) (ImportDescriptor, bool) {
	var desc ImportDescriptor
	rva := d.img.OptionalHeader().DataDirectory(DirectoryEntryImport).VirtualAddress
	off, ok := d.img.Header().RvaToOffset(rva + uint32(idx*importDescSize))
	if !ok {
		return desc, false
	}
	raw, err := d.img.buf.Slice(int(off), importDescSize)
	if err != nil {
		return desc, false
	}
	if err := struc.Unpack(bytes.NewReader(raw), &desc); err != nil {
		return desc, false
	}
	return desc, !desc.isZero()
}

func (d *ImportDirectory) stringAt(rva uint32) string {
	off, ok := d.img.Header().RvaToOffset(rva)
	if !ok {
		return ""
	}
	s, _ := d.img.buf.CString(int(off), maxSymbolName)
	return s
}

// Modules yields each descriptor up to the zero terminator.
func (d *ImportDirectory) Modules() iter.Seq[ImportModule] {
	return func(yield func(ImportModule) bool) {
		if !d.Present() {
			return
		}
		for idx := 0; ; idx++ {
			desc, ok := d.descriptor(idx)
			if !ok {
				return
			}
			if !yield(ImportModule{Name: d.stringAt(desc.Name), Descriptor: desc}) {
				return
			}
		}
	}
}

func (d *ImportDirectory) ordinalFlag() uint64 {
	if d.img.width == Bits64 {
		return 1 << 63
	}
	return 1 << 31
}

func (d *ImportDirectory) thunk(off uint32) uint64 {
	if d.img.width == Bits64 {
		return d.img.buf.u64(int(off))
	}
	return uint64(d.img.buf.u32(int(off)))
}

// moduleImports yields the thunks of one module. The name table is preferred
// and the address table is used when the name table is absent.
func (d *ImportDirectory) moduleImports(m ImportModule, yield func(Import) bool) bool {
	table := m.Descriptor.OriginalFirstThunk
	if table == 0 {
		table = m.Descriptor.FirstThunk
	}
	if table == 0 {
		return true
	}

	step := uint32(d.img.WordSize())
	flag := d.ordinalFlag()
	h := d.img.Header()

	for n := uint32(0); n < maxThunks; n++ {
		rva := table + n*step
		off, ok := h.RvaToOffset(rva)
		if !ok {
			return true
		}
		value := d.thunk(off)
		if value == 0 {
			return true
		}

		imp := Import{Module: m.Name, ThunkRVA: rva}
		if value&flag != 0 {
			imp.ByOrdinal = true
			imp.Ordinal = value & 0xFFFF
		} else if hintOff, ok := h.RvaToOffset(uint32(value)); ok {
			imp.Hint = d.img.buf.u16(int(hintOff))
			imp.Name, _ = d.img.buf.CString(int(hintOff)+2, maxSymbolName)
		}
		if !yield(imp) {
			return false
		}
	}
	return true
}

// All yields every imported symbol grouped by module, in table order.
func (d *ImportDirectory) All() iter.Seq[Import] {
	return func(yield func(Import) bool) {
		for m := range d.Modules() {
			if !d.moduleImports(m, yield) {
				return
			}
		}
	}
}

// ModuleImports yields the symbols imported from a single module.
func (d *ImportDirectory) ModuleImports(m ImportModule) iter.Seq[Import] {
	return func(yield func(Import) bool) {
		d.moduleImports(m, yield)
	}
}

// List groups imports by DLL for reports.
func (d *ImportDirectory) List() []ImportInfo {
	var imports []ImportInfo
	for m := range d.Modules() {
		info := ImportInfo{DLL: m.Name}
		for imp := range d.ModuleImports(m) {
			info.Functions = append(info.Functions, imp.String())
		}
		imports = append(imports, info)
	}
	return imports
}
