package pe

import (
	"slices"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

type moduleThunks struct {
	module  ImportModule
	imports []Import
}

// AddImport adds a descriptor for dll importing functions by name.
//
// The descriptor table, every name table and all hint/name strings are
// rebuilt in a new .idata2 section, and a fresh address table is laid out
// there for the new module. Existing modules keep their original FirstThunk
// so code that calls through the old IAT slots is unaffected. The IAT data
// directory is only set when the image had none.
func (i *Image) AddImport(dll string, functions []string) error {
	if !i.parsed {
		return ErrNotParsed
	}
	if dll == "" || len(functions) == 0 || slices.Contains(functions, "") {
		return errors.Wrapf(ErrEmptyName, "%q: %v", dll, functions)
	}
	for m := range i.Imports().Modules() {
		if strings.EqualFold(m.Name, dll) {
			return errors.Wrapf(ErrImportExists, "%s", dll)
		}
	}

	return i.mutate("add import", func(tx *Image) error {
		var existing []moduleThunks
		for m := range tx.imports.Modules() {
			existing = append(existing, moduleThunks{
				module:  m,
				imports: slices.Collect(tx.imports.ModuleImports(m)),
			})
		}
		return tx.writeImportTable(existing, dll, functions)
	})
}

func (i *Image) writeImportTable(existing []moduleThunks, dll string, functions []string) error {
	word := i.WordSize()
	flag := i.imports.ordinalFlag()
	b := newTableBuilder(i.Header().NextSectionRva(), word)

	count := len(existing) + 1
	descAt := b.alloc((count+1)*importDescSize, 4)
	intAt := make([]int, count)
	for k, m := range existing {
		intAt[k] = b.alloc((len(m.imports)+1)*word, word)
	}
	intAt[count-1] = b.alloc((len(functions)+1)*word, word)
	iatAt := b.alloc((len(functions)+1)*word, word)

	descs := make([]ImportDescriptor, 0, count)
	for k, m := range existing {
		desc := m.module.Descriptor
		desc.OriginalFirstThunk = b.rva(intAt[k])
		desc.Name = b.cstring(m.module.Name)
		for n, imp := range m.imports {
			value := flag | imp.Ordinal
			if !imp.ByOrdinal {
				value = uint64(b.hintName(imp.Hint, imp.Name))
			}
			b.putWord(intAt[k]+n*word, value)
		}
		descs = append(descs, desc)
	}

	added := ImportDescriptor{
		OriginalFirstThunk: b.rva(intAt[count-1]),
		Name:               b.cstring(dll),
		FirstThunk:         b.rva(iatAt),
	}
	for n, fn := range functions {
		nameRVA := uint64(b.hintName(0, fn))
		b.putWord(intAt[count-1]+n*word, nameRVA)
		b.putWord(iatAt+n*word, nameRVA)
	}
	descs = append(descs, added)

	for k := range descs {
		if err := b.pack(descAt+k*importDescSize, &descs[k]); err != nil {
			return err
		}
	}

	if err := i.place(".idata2", b, CommonCharacteristics.ReadWrite); err != nil {
		return errors.Wrap(err, "创建导入数据节区失败")
	}

	oh := i.OptionalHeader()
	oh.SetDataDirectory(DirectoryEntryImport, DataDirectory{
		VirtualAddress: b.rva(descAt),
		Size:           uint32((count + 1) * importDescSize),
	})
	if !oh.DataDirectory(DirectoryEntryIAT).Present() {
		oh.SetDataDirectory(DirectoryEntryIAT, DataDirectory{
			VirtualAddress: b.rva(iatAt),
			Size:           uint32((len(functions) + 1) * word),
		})
	}

	i.logger.Debug("added import",
		"dll", dll,
		"functions", len(functions),
		"descriptors", hclog.Hex(int(b.rva(descAt))),
		"iat", hclog.Hex(int(b.rva(iatAt))))
	return nil
}
