package pe

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// maxExportFunctions is the largest address table a 16-bit name ordinal can
// index.
const maxExportFunctions = 0xFFFF

type exportName struct {
	name  string
	index uint16
}

// exportTable is a decoded copy of the export directory used for rebuilds.
type exportTable struct {
	header    ExportDirectoryTable
	module    string
	functions []uint32
	names     []exportName
}

// lookup finds an export by exact name, including entries whose function
// slot is zero.
func (d *ExportDirectory) lookup(name string) (int, Export, bool) {
	for idx := 0; idx < d.Count(); idx++ {
		if e, ok := d.Get(idx, false); ok && e.Name == name {
			return idx, e, true
		}
	}
	return 0, Export{}, false
}

func (d *ExportDirectory) snapshot() exportTable {
	t := exportTable{header: ExportDirectoryTable{Base: 1}}
	tbl, ok := d.Header()
	if !ok {
		return t
	}
	t.header = tbl
	t.module = d.ModuleName()

	h := d.img.Header()
	for k := uint32(0); k < min(tbl.NumberOfFunctions, maxExportFunctions); k++ {
		off, ok := h.RvaToOffset(tbl.AddressOfFunctions + k*4)
		if !ok {
			break
		}
		t.functions = append(t.functions, d.img.buf.u32(int(off)))
	}
	for idx := 0; idx < int(tbl.NumberOfNames); idx++ {
		if e, ok := d.Get(idx, false); ok {
			t.names = append(t.names, exportName{name: e.Name, index: e.NameOrdinal})
		}
	}
	return t
}

// writeExportTable lays the table out in a new .edata section and points
// the export directory at it. Names are sorted so the loader can binary
// search them.
func (i *Image) writeExportTable(t exportTable) error {
	slices.SortFunc(t.names, func(a, b exportName) int {
		return strings.Compare(a.name, b.name)
	})

	b := newTableBuilder(i.Header().NextSectionRva(), i.WordSize())
	dirAt := b.alloc(exportDirectorySize, 4)
	funcsAt := b.alloc(len(t.functions)*4, 4)
	namesAt := b.alloc(len(t.names)*4, 4)
	ordsAt := b.alloc(len(t.names)*2, 2)

	hdr := t.header
	hdr.Name = b.cstring(t.module)
	hdr.NumberOfFunctions = uint32(len(t.functions))
	hdr.NumberOfNames = uint32(len(t.names))
	hdr.AddressOfFunctions = b.rva(funcsAt)
	hdr.AddressOfNames = b.rva(namesAt)
	hdr.AddressOfNameOrdinals = b.rva(ordsAt)

	for k, rva := range t.functions {
		b.put32(funcsAt+k*4, rva)
	}
	for k, n := range t.names {
		b.put32(namesAt+k*4, b.cstring(n.name))
		b.put16(ordsAt+k*2, n.index)
	}
	if err := b.pack(dirAt, &hdr); err != nil {
		return err
	}

	if err := i.place(".edata", b, CommonCharacteristics.ReadOnly); err != nil {
		return errors.Wrap(err, "注入导出节区失败")
	}
	i.OptionalHeader().SetDataDirectory(DirectoryEntryExport, DataDirectory{
		VirtualAddress: b.rva(dirAt),
		Size:           uint32(len(b.data)),
	})
	return nil
}

// AddExport adds a named export for rva. The existing table is rebuilt in a
// new section with the function appended to the address table, so the
// ordinals of existing exports do not change.
func (i *Image) AddExport(name string, rva uint32) error {
	if !i.parsed {
		return ErrNotParsed
	}
	if name == "" {
		return errors.Wrap(ErrEmptyName, "导出名称")
	}
	if _, ok := i.SectionByRVA(rva); !ok {
		return errors.Wrapf(ErrRVANotMapped, "导出 %s RVA 0x%X", name, rva)
	}

	return i.mutate("add export", func(tx *Image) error {
		t := tx.exports.snapshot()
		for _, n := range t.names {
			if n.name == name {
				return errors.Wrapf(ErrExportExists, "%s", name)
			}
		}
		if len(t.functions) >= maxExportFunctions {
			return ErrTooManyExports
		}
		if t.module == "" && tx.path != "" {
			t.module = filepath.Base(tx.path)
		}

		index := uint16(len(t.functions))
		t.functions = append(t.functions, rva)
		t.names = append(t.names, exportName{name: name, index: index})

		tx.logger.Debug("adding export", "name", name, "rva", hclog.Hex(int(rva)), "ordinal", t.header.Base+uint32(index))
		return tx.writeExportTable(t)
	})
}

// ModifyExport points an existing export at rva. The address table is
// patched in place.
func (i *Image) ModifyExport(name string, rva uint32) error {
	if !i.parsed {
		return ErrNotParsed
	}
	if _, ok := i.SectionByRVA(rva); !ok {
		return errors.Wrapf(ErrRVANotMapped, "导出 %s RVA 0x%X", name, rva)
	}

	return i.mutate("modify export", func(tx *Image) error {
		_, e, ok := tx.exports.lookup(name)
		if !ok {
			return errors.Wrapf(ErrExportNotFound, "%s", name)
		}
		tbl, _ := tx.exports.Header()
		off, ok := tx.RvaToOffset(tbl.AddressOfFunctions + uint32(e.NameOrdinal)*4)
		if !ok {
			return errors.Wrapf(ErrRVANotMapped, "导出地址表 0x%X", tbl.AddressOfFunctions)
		}
		tx.logger.Debug("modifying export", "name", name, "old", hclog.Hex(int(e.RVA)), "new", hclog.Hex(int(rva)))
		return tx.buf.PutUint32(int(off), rva)
	})
}

// RemoveExport drops a named export. Its name and ordinal slots are removed
// in place and its address slot is cleared unless another name still uses
// it. NumberOfFunctions is left alone so other ordinals stay stable.
func (i *Image) RemoveExport(name string) error {
	if !i.parsed {
		return ErrNotParsed
	}

	return i.mutate("remove export", func(tx *Image) error {
		d := tx.exports
		idx, e, ok := d.lookup(name)
		if !ok {
			return errors.Wrapf(ErrExportNotFound, "%s", name)
		}
		tbl, _ := d.Header()
		dirOff, _ := d.offset()
		h := tx.Header()
		n := int(tbl.NumberOfNames)

		namesOff, ok1 := h.RvaToOffset(tbl.AddressOfNames)
		ordsOff, ok2 := h.RvaToOffset(tbl.AddressOfNameOrdinals)
		if !ok1 || !ok2 {
			return errors.Wrap(ErrRVANotMapped, "导出名称表")
		}
		names, err := tx.buf.Slice(int(namesOff), n*4)
		if err != nil {
			return err
		}
		ords, err := tx.buf.Slice(int(ordsOff), n*2)
		if err != nil {
			return err
		}
		copy(names[idx*4:], names[(idx+1)*4:])
		clear(names[(n-1)*4:])
		copy(ords[idx*2:], ords[(idx+1)*2:])
		clear(ords[(n-1)*2:])
		tx.buf.set32(int(dirOff)+24, uint32(n-1))

		shared := false
		for k := 0; k < n-1; k++ {
			if tx.buf.u16(int(ordsOff)+k*2) == e.NameOrdinal {
				shared = true
				break
			}
		}
		if !shared {
			if off, ok := h.RvaToOffset(tbl.AddressOfFunctions + uint32(e.NameOrdinal)*4); ok {
				tx.buf.set32(int(off), 0)
			}
		}

		tx.logger.Debug("removed export", "name", name, "ordinal", e.Ordinal, "address_cleared", !shared)
		return nil
	})
}
