package pe

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddImport(t *testing.T) {
	bothWidths(t, func(t *testing.T, bits Bits) {
		img := loadTestImage(t, bits)

		require.NoError(t, img.AddImport("user32.dll", []string{"MessageBoxA", "MessageBoxW"}))

		assert.Equal(t, []ImportInfo{
			{DLL: "KERNEL32.dll", Functions: []string{"ExitProcess"}},
			{DLL: "helper.dll", Functions: []string{"Ordinal_7"}},
			{DLL: "user32.dll", Functions: []string{"MessageBoxA", "MessageBoxW"}},
		}, img.Imports().List())

		idata, ok := img.SectionByName(".idata2")
		require.True(t, ok)
		assert.Equal(t, uint32(testImageSize), idata.VirtualAddress())
		assert.Equal(t, CommonCharacteristics.ReadWrite, idata.Characteristics())

		oh := img.OptionalHeader()
		assert.Equal(t, DataDirectory{VirtualAddress: testImageSize, Size: 4 * importDescSize},
			oh.DataDirectory(DirectoryEntryImport))
		assert.Equal(t, DataDirectory{VirtualAddress: 0x2160, Size: 0x20},
			oh.DataDirectory(DirectoryEntryIAT), "existing IAT directory is kept")

		// Old modules keep their address tables; the new one gets its own.
		var firstThunks []uint32
		for m := range img.Imports().Modules() {
			firstThunks = append(firstThunks, m.Descriptor.FirstThunk)
		}
		require.Len(t, firstThunks, 3)
		assert.Equal(t, []uint32{0x2160, 0x2170}, firstThunks[:2])
		assert.True(t, idata.HasRVA(firstThunks[2]))

		var hints []uint16
		for imp := range img.Imports().All() {
			hints = append(hints, imp.Hint)
		}
		assert.Equal(t, []uint16{1, 0, 0, 0}, hints)

		f := parseWithDebugPE(t, img.Bytes())
		symbols, err := f.ImportedSymbols()
		require.NoError(t, err)
		assert.Contains(t, symbols, "ExitProcess:KERNEL32.dll")
		assert.Contains(t, symbols, "MessageBoxA:user32.dll")
		assert.Contains(t, symbols, "MessageBoxW:user32.dll")
	})
}

func TestAddImportWithoutIATDirectory(t *testing.T) {
	img := loadTestImage(t, Bits64)
	img.OptionalHeader().SetDataDirectory(DirectoryEntryIAT, DataDirectory{})

	require.NoError(t, img.AddImport("ws2_32.dll", []string{"WSAStartup"}))

	iat := img.OptionalHeader().DataDirectory(DirectoryEntryIAT)
	assert.Equal(t, uint32(16), iat.Size)
	idata, _ := img.SectionByName(".idata2")
	assert.True(t, idata.HasRVA(iat.VirtualAddress))
}

func TestAddImportErrors(t *testing.T) {
	img := loadTestImage(t, Bits32)
	before := bytes.Clone(img.Bytes())

	assert.ErrorIs(t, img.AddImport("kernel32.DLL", []string{"Sleep"}), ErrImportExists)
	assert.ErrorIs(t, img.AddImport("user32.dll", nil), ErrEmptyName)
	assert.ErrorIs(t, img.AddImport("", []string{"Sleep"}), ErrEmptyName)
	assert.ErrorIs(t, img.AddImport("user32.dll", []string{"MessageBoxA", ""}), ErrEmptyName)
	assert.Equal(t, before, img.Bytes())

	assert.ErrorIs(t, New(nil, BitsAuto).AddImport("user32.dll", []string{"MessageBoxA"}), ErrNotParsed)
}
