package pe

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readWord(t *testing.T, img *Image, rva uint32) uint64 {
	t.Helper()
	raw, err := img.ReadRVA(rva, uint32(img.WordSize()))
	require.NoError(t, err)
	var v uint64
	for k := len(raw) - 1; k >= 0; k-- {
		v = v<<8 | uint64(raw[k])
	}
	return v
}

func TestRelocateImage(t *testing.T) {
	bothWidths(t, func(t *testing.T, bits Bits) {
		img := loadTestImage(t, bits)
		original := bytes.Clone(img.Bytes())
		oldBase := img.ImageBase()
		newBase := oldBase + 0x01230000

		require.NoError(t, img.RelocateImage(newBase))
		assert.Equal(t, newBase, img.ImageBase())
		assert.Equal(t, newBase+testEntryPoint, readWord(t, img, testDataRVA))
		assert.Equal(t, newBase+testExportRVA, readWord(t, img, testDataRVA+0x10))

		// Rebasing back restores every byte.
		require.NoError(t, img.RelocateImage(oldBase))
		assert.Equal(t, original, img.Bytes())
	})
}

func TestRelocateImageDownwards(t *testing.T) {
	img := loadTestImage(t, Bits64)
	require.NoError(t, img.RelocateImage(0x140000000))
	assert.Equal(t, uint64(0x140000000+testEntryPoint), readWord(t, img, testDataRVA))
}

func TestRelocateHighLow16(t *testing.T) {
	img := loadTestImage(t, Bits32)
	relocs := img.Relocations()
	require.True(t, relocs.ChangeRelocationType(testDataRVA, RelBasedHigh))
	require.True(t, relocs.ChangeRelocationType(testDataRVA+0x10, RelBasedLow))

	buf := img.Buffer()
	require.NoError(t, buf.PutUint32(0x800, 0x00001000))
	require.NoError(t, buf.PutUint32(0x810, 0x00000010))

	require.NoError(t, img.RelocateImage(img.ImageBase()+0x00010020))

	high, _ := buf.Uint16(0x800)
	low, _ := buf.Uint16(0x810)
	assert.Equal(t, uint16(0x1001), high)
	assert.Equal(t, uint16(0x0030), low)
}

func TestRelocateImageRejects(t *testing.T) {
	t.Run("Base above 4GiB on PE32", func(t *testing.T) {
		img := loadTestImage(t, Bits32)
		assert.ErrorIs(t, img.RelocateImage(0x100000000), ErrUnsupportedRelocation)
		assert.Equal(t, uint64(testImageBase32), img.ImageBase())
	})

	t.Run("DIR64 on PE32", func(t *testing.T) {
		img := loadTestImage(t, Bits32)
		require.True(t, img.Relocations().ChangeRelocationType(testDataRVA+0x10, RelBasedDir64))
		before := bytes.Clone(img.Bytes())

		assert.ErrorIs(t, img.RelocateImage(0x20000000), ErrUnsupportedRelocation)
		assert.Equal(t, before, img.Bytes(), "nothing is patched when any entry is rejected")
	})

	t.Run("Unknown type", func(t *testing.T) {
		img := loadTestImage(t, Bits64)
		require.True(t, img.Relocations().ChangeRelocationType(testDataRVA, RelBasedHighAdj))
		assert.ErrorIs(t, img.RelocateImage(0x140000000), ErrUnsupportedRelocation)
	})

	t.Run("Unmapped page", func(t *testing.T) {
		img := loadTestImage(t, Bits32)
		stream, err := img.Relocations().CreateBlock(0x8000, 2)
		require.NoError(t, err)
		require.NoError(t, stream.Append(RelBasedHighLow, 0))
		assert.ErrorIs(t, img.RelocateImage(0x20000000), ErrRVANotMapped)
	})

	t.Run("Unparsed image", func(t *testing.T) {
		assert.ErrorIs(t, New(nil, BitsAuto).RelocateImage(0), ErrNotParsed)
	})
}

func TestRelocateImageSkipsPadding(t *testing.T) {
	img := loadTestImage(t, Bits32)
	_, err := img.Relocations().CreateBlock(testTextRVA, 2)
	require.NoError(t, err)

	text := bytes.Clone(img.Bytes()[0x400:0x600])
	require.NoError(t, img.RelocateImage(0x20000000))
	assert.Equal(t, text, img.Bytes()[0x400:0x600], "ABSOLUTE padding entries patch nothing")
}
