package pe

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportModules(t *testing.T) {
	bothWidths(t, func(t *testing.T, bits Bits) {
		imports := loadTestImage(t, bits).Imports()
		require.True(t, imports.Present())

		var names []string
		for m := range imports.Modules() {
			names = append(names, m.Name)
		}
		assert.Equal(t, []string{"KERNEL32.dll", "helper.dll"}, names)
	})
}

func TestImportSymbols(t *testing.T) {
	bothWidths(t, func(t *testing.T, bits Bits) {
		all := slices.Collect(loadTestImage(t, bits).Imports().All())
		require.Len(t, all, 2)

		assert.Equal(t, Import{Module: "KERNEL32.dll", Hint: 1, Name: "ExitProcess", ThunkRVA: 0x2140}, all[0])
		assert.Equal(t, "ExitProcess", all[0].String())

		assert.True(t, all[1].ByOrdinal)
		assert.Equal(t, uint64(7), all[1].Ordinal)
		assert.Equal(t, "helper.dll", all[1].Module)
		assert.Equal(t, "Ordinal_7", all[1].String())
	})
}

func TestImportFallsBackToFirstThunk(t *testing.T) {
	img := loadTestImage(t, Bits32)
	// Clear OriginalFirstThunk of the KERNEL32.dll descriptor.
	require.NoError(t, img.Buffer().PutUint32(0x700, 0))

	var kernel32 ImportModule
	for m := range img.Imports().Modules() {
		kernel32 = m
		break
	}
	imports := slices.Collect(img.Imports().ModuleImports(kernel32))
	require.Len(t, imports, 1)
	assert.Equal(t, "ExitProcess", imports[0].Name)
	assert.Equal(t, uint32(0x2160), imports[0].ThunkRVA)
}

func TestImportList(t *testing.T) {
	list := loadTestImage(t, Bits64).Imports().List()
	assert.Equal(t, []ImportInfo{
		{DLL: "KERNEL32.dll", Functions: []string{"ExitProcess"}},
		{DLL: "helper.dll", Functions: []string{"Ordinal_7"}},
	}, list)
}

func TestImportDirectoryAbsent(t *testing.T) {
	img := loadTestImage(t, Bits64)
	img.OptionalHeader().SetDataDirectory(DirectoryEntryImport, DataDirectory{})

	assert.False(t, img.Imports().Present())
	assert.Empty(t, slices.Collect(img.Imports().All()))
	assert.Nil(t, img.Imports().List())
}
