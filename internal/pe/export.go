package pe

import (
	"bytes"
	"iter"

	"github.com/lunixbochs/struc"
)

// maxSymbolName bounds export and import name reads.
const maxSymbolName = 512

// ExportDirectoryTable is IMAGE_EXPORT_DIRECTORY.
type ExportDirectoryTable struct {
	Characteristics       uint32 `struc:"uint32,little"`
	TimeDateStamp         uint32 `struc:"uint32,little"`
	MajorVersion          uint16 `struc:"uint16,little"`
	MinorVersion          uint16 `struc:"uint16,little"`
	Name                  uint32 `struc:"uint32,little"`
	Base                  uint32 `struc:"uint32,little"`
	NumberOfFunctions     uint32 `struc:"uint32,little"`
	NumberOfNames         uint32 `struc:"uint32,little"`
	AddressOfFunctions    uint32 `struc:"uint32,little"`
	AddressOfNames        uint32 `struc:"uint32,little"`
	AddressOfNameOrdinals uint32 `struc:"uint32,little"`
}

// Export is one named export. Records are built on demand.
type Export struct {
	Name        string
	RVA         uint32
	Ordinal     uint32 // biased by the directory's Base
	NameOrdinal uint16 // index into AddressOfFunctions
}

// ExportDirectory reads the export table of an image.
type ExportDirectory struct {
	img *Image
}

// Present reports whether the export slot has a non-zero size.
func (d *ExportDirectory) Present() bool {
	return d != nil && d.img.OptionalHeader().DataDirectory(DirectoryEntryExport).Present()
}

func (d *ExportDirectory) offset() (uint32, bool) {
	if !d.Present() {
		return 0, false
	}
	return d.img.Header().RvaToOffset(d.img.OptionalHeader().DataDirectory(DirectoryEntryExport).VirtualAddress)
}

// Header decodes the directory table.
func (d *ExportDirectory) Header() (ExportDirectoryTable, bool) {
	var tbl ExportDirectoryTable
	off, ok := d.offset()
	if !ok {
		return tbl, false
	}
	raw, err := d.img.buf.Slice(int(off), exportDirectorySize)
	if err != nil {
		return tbl, false
	}
	if err := struc.Unpack(bytes.NewReader(raw), &tbl); err != nil {
		return tbl, false
	}
	return tbl, true
}

// ModuleName returns the DLL name recorded in the directory.
func (d *ExportDirectory) ModuleName() string {
	tbl, ok := d.Header()
	if !ok {
		return ""
	}
	off, ok := d.img.Header().RvaToOffset(tbl.Name)
	if !ok {
		return ""
	}
	name, _ := d.img.buf.CString(int(off), maxSymbolName)
	return name
}

// Count returns NumberOfNames.
func (d *ExportDirectory) Count() int {
	tbl, ok := d.Header()
	if !ok {
		return 0
	}
	return int(tbl.NumberOfNames)
}

// Get resolves the export at name index idx. It reports false when idx is
// out of range or any of the ordinal, function or name slots is zero.
func (d *ExportDirectory) Get(idx int, demangle bool) (Export, bool) {
	tbl, ok := d.Header()
	if !ok || idx < 0 || uint32(idx) >= tbl.NumberOfNames {
		return Export{}, false
	}
	h := d.img.Header()
	buf := d.img.buf

	ordinalsOff, ok := h.RvaToOffset(tbl.AddressOfNameOrdinals + uint32(idx)*2)
	if !ok {
		return Export{}, false
	}
	nameOrdinal := buf.u16(int(ordinalsOff))

	funcOff, ok := h.RvaToOffset(tbl.AddressOfFunctions + uint32(nameOrdinal)*4)
	if !ok {
		return Export{}, false
	}
	namePtrOff, ok := h.RvaToOffset(tbl.AddressOfNames + uint32(idx)*4)
	if !ok {
		return Export{}, false
	}
	nameOff, ok := h.RvaToOffset(buf.u32(int(namePtrOff)))
	if !ok {
		return Export{}, false
	}

	name, err := buf.CString(int(nameOff), maxSymbolName)
	if err != nil {
		return Export{}, false
	}
	if demangle && d.img.demangle != nil {
		name = d.img.demangle(name)
	}
	return Export{
		Name:        name,
		RVA:         buf.u32(int(funcOff)),
		Ordinal:     tbl.Base + uint32(nameOrdinal),
		NameOrdinal: nameOrdinal,
	}, true
}

// Find looks an export up by name.
func (d *ExportDirectory) Find(name string, demangle bool) (Export, bool) {
	for e := range d.All(demangle) {
		if e.Name == name {
			return e, true
		}
	}
	return Export{}, false
}

// All yields every named export with a non-zero RVA. The sequence re-reads
// the directory each time it is ranged over.
func (d *ExportDirectory) All(demangle bool) iter.Seq[Export] {
	return func(yield func(Export) bool) {
		n := d.Count()
		for idx := 0; idx < n; idx++ {
			e, ok := d.Get(idx, demangle)
			if !ok || e.RVA == 0 {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}

// Names returns the export names in name-table order.
func (d *ExportDirectory) Names() []string {
	var names []string
	for e := range d.All(false) {
		names = append(names, e.Name)
	}
	return names
}
