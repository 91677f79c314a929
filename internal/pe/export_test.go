package pe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportDirectory(t *testing.T) {
	bothWidths(t, func(t *testing.T, bits Bits) {
		exports := loadTestImage(t, bits).Exports()
		require.True(t, exports.Present())

		assert.Equal(t, "test.dll", exports.ModuleName())
		assert.Equal(t, 2, exports.Count())

		tbl, ok := exports.Header()
		require.True(t, ok)
		assert.Equal(t, uint32(1), tbl.Base)
		assert.Equal(t, uint32(2), tbl.NumberOfFunctions)

		alpha, ok := exports.Get(0, false)
		require.True(t, ok)
		assert.Equal(t, Export{Name: "Alpha", RVA: testEntryPoint, Ordinal: 1, NameOrdinal: 0}, alpha)

		beta, ok := exports.Get(1, false)
		require.True(t, ok)
		assert.Equal(t, Export{Name: "Beta", RVA: 0x1010, Ordinal: 2, NameOrdinal: 1}, beta)

		_, ok = exports.Get(2, false)
		assert.False(t, ok)
		_, ok = exports.Get(-1, false)
		assert.False(t, ok)

		assert.Equal(t, []string{"Alpha", "Beta"}, exports.Names())
	})
}

func TestExportFind(t *testing.T) {
	img := loadTestImage(t, Bits64)
	img.SetDemangler(strings.ToUpper)

	e, ok := img.Exports().Find("Beta", false)
	require.True(t, ok)
	assert.Equal(t, uint32(0x1010), e.RVA)

	_, ok = img.Exports().Find("BETA", false)
	assert.False(t, ok)
	e, ok = img.Exports().Find("BETA", true)
	require.True(t, ok)
	assert.Equal(t, "BETA", e.Name)

	_, ok = img.Exports().Find("Gamma", false)
	assert.False(t, ok)
}

func TestExportAllSkipsNullFunctions(t *testing.T) {
	img := loadTestImage(t, Bits32)
	// Null out Alpha's slot in AddressOfFunctions.
	require.NoError(t, img.Buffer().PutUint32(0x650, 0))

	var names []string
	for e := range img.Exports().All(false) {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"Beta"}, names)

	// Ranging stops when the consumer does.
	count := 0
	for range loadTestImage(t, Bits32).Exports().All(false) {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestExportDirectoryAbsent(t *testing.T) {
	img := loadTestImage(t, Bits32)
	img.OptionalHeader().SetDataDirectory(DirectoryEntryExport, DataDirectory{})

	exports := img.Exports()
	assert.False(t, exports.Present())
	assert.Zero(t, exports.Count())
	assert.Empty(t, exports.ModuleName())
	assert.Nil(t, exports.Names())

	var nilDir *ExportDirectory
	assert.False(t, nilDir.Present())
}
