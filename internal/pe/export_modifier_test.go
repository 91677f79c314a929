package pe

import (
	"bytes"
	"testing"

	"github.com/Binject/debug/pe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddExport(t *testing.T) {
	bothWidths(t, func(t *testing.T, bits Bits) {
		img := loadTestImage(t, bits)

		require.NoError(t, img.AddExport("Gamma", 0x1020))
		require.NoError(t, img.AddExport("Aardvark", 0x1030))

		exports := img.Exports()
		assert.Equal(t, []string{"Aardvark", "Alpha", "Beta", "Gamma"}, exports.Names())
		assert.Equal(t, "test.dll", exports.ModuleName())

		// Existing ordinals survive the rebuild.
		for _, want := range []Export{
			{Name: "Alpha", RVA: testEntryPoint, Ordinal: 1, NameOrdinal: 0},
			{Name: "Beta", RVA: 0x1010, Ordinal: 2, NameOrdinal: 1},
			{Name: "Gamma", RVA: 0x1020, Ordinal: 3, NameOrdinal: 2},
			{Name: "Aardvark", RVA: 0x1030, Ordinal: 4, NameOrdinal: 3},
		} {
			got, ok := exports.Find(want.Name, false)
			require.True(t, ok, want.Name)
			assert.Equal(t, want, got)
		}

		// Each rebuild lands in a fresh section.
		assert.Equal(t, 6, img.NumberOfSections())
		last, _ := img.Header().LastSection()
		assert.Equal(t, ".edata", last.Name())
		dd := img.OptionalHeader().DataDirectory(DirectoryEntryExport)
		assert.Equal(t, last.VirtualAddress(), dd.VirtualAddress)

		reparsed := New(img.Bytes(), BitsAuto)
		require.True(t, reparsed.WasParsed())
		assert.Equal(t, exports.Names(), reparsed.Exports().Names())

		f := parseWithDebugPE(t, img.Bytes())
		require.Len(t, f.Sections, 6)
		assert.Equal(t, ".edata", f.Sections[5].Name)
		switch oh := f.OptionalHeader.(type) {
		case *pe.OptionalHeader32:
			assert.Equal(t, dd.VirtualAddress, oh.DataDirectory[0].VirtualAddress)
		case *pe.OptionalHeader64:
			assert.Equal(t, dd.VirtualAddress, oh.DataDirectory[0].VirtualAddress)
		}
	})
}

func TestAddExportWithoutDirectory(t *testing.T) {
	img := loadTestImage(t, Bits32)
	img.OptionalHeader().SetDataDirectory(DirectoryEntryExport, DataDirectory{})
	require.False(t, img.Exports().Present())

	require.NoError(t, img.AddExport("Init", testEntryPoint))

	exp, ok := img.Exports().Find("Init", false)
	require.True(t, ok)
	assert.Equal(t, uint32(1), exp.Ordinal)
	assert.Equal(t, 1, img.Exports().Count())
}

func TestModifyExport(t *testing.T) {
	img := loadTestImage(t, Bits64)
	sections := img.NumberOfSections()

	require.NoError(t, img.ModifyExport("Beta", 0x1020))

	beta, ok := img.Exports().Find("Beta", false)
	require.True(t, ok)
	assert.Equal(t, uint32(0x1020), beta.RVA)
	assert.Equal(t, uint32(2), beta.Ordinal)
	alpha, _ := img.Exports().Find("Alpha", false)
	assert.Equal(t, uint32(testEntryPoint), alpha.RVA)
	assert.Equal(t, sections, img.NumberOfSections(), "patched in place")
}

func TestRemoveExport(t *testing.T) {
	bothWidths(t, func(t *testing.T, bits Bits) {
		img := loadTestImage(t, bits)
		size := img.Size()

		require.NoError(t, img.RemoveExport("Alpha"))

		exports := img.Exports()
		assert.Equal(t, 1, exports.Count())
		assert.Equal(t, []string{"Beta"}, exports.Names())
		_, ok := exports.Find("Alpha", false)
		assert.False(t, ok)

		beta, ok := exports.Find("Beta", false)
		require.True(t, ok)
		assert.Equal(t, uint32(2), beta.Ordinal)

		tbl, _ := exports.Header()
		assert.Equal(t, uint32(2), tbl.NumberOfFunctions)
		slot, _ := img.Buffer().Uint32(0x650)
		assert.Zero(t, slot, "address slot of the removed export")
		assert.Equal(t, size, img.Size())

		require.NoError(t, img.RemoveExport("Beta"))
		assert.Zero(t, exports.Count())
	})
}

func TestExportEditErrors(t *testing.T) {
	img := loadTestImage(t, Bits32)
	before := bytes.Clone(img.Bytes())

	assert.ErrorIs(t, img.AddExport("Alpha", 0x1020), ErrExportExists)
	assert.ErrorIs(t, img.AddExport("", 0x1020), ErrEmptyName)
	assert.ErrorIs(t, img.AddExport("Gamma", 0x9000), ErrRVANotMapped)
	assert.ErrorIs(t, img.ModifyExport("Gamma", 0x1020), ErrExportNotFound)
	assert.ErrorIs(t, img.ModifyExport("Alpha", 0x9000), ErrRVANotMapped)
	assert.ErrorIs(t, img.RemoveExport("Gamma"), ErrExportNotFound)
	assert.Equal(t, before, img.Bytes())

	unparsed := New(nil, BitsAuto)
	assert.ErrorIs(t, unparsed.AddExport("Gamma", 0x1020), ErrNotParsed)
	assert.ErrorIs(t, unparsed.ModifyExport("Alpha", 0x1020), ErrNotParsed)
	assert.ErrorIs(t, unparsed.RemoveExport("Alpha"), ErrNotParsed)
}
