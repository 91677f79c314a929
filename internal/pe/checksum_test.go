package pe

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculatePEChecksum(t *testing.T) {
	tests := []struct {
		name           string
		data           []byte
		checksumOffset int
		want           uint32
	}{
		{
			name:           "Simple 8-byte file",
			data:           []byte{0x01, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00},
			checksumOffset: -1, // No checksum to skip
			want:           11, // 1 + 2 + filesize(8)
		},
		{
			name: "File with checksum field to skip",
			data: []byte{
				0x01, 0x00, 0x00, 0x00, // DWORD 1
				0xFF, 0xFF, 0xFF, 0xFF, // Checksum field (skipped)
				0x02, 0x00, 0x00, 0x00, // DWORD 2
			},
			checksumOffset: 4,
			want:           15, // 1 + 2 + filesize(12)
		},
		{
			name:           "Partial last word",
			data:           []byte{0x01, 0x00, 0x00, 0x00, 0x02},
			checksumOffset: -1,
			want:           8, // 1 + 2 (padded) + filesize(5)
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculatePEChecksum(tt.data, tt.checksumOffset)
			if got != tt.want {
				t.Errorf("CalculatePEChecksum() = 0x%08X, want 0x%08X", got, tt.want)
			}
		})
	}
}

func TestChecksumCarryHandling(t *testing.T) {
	data := make([]byte, 16)

	// Words that overflow 16 bits when summed.
	binary.LittleEndian.PutUint32(data[0:4], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(data[4:8], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(data[8:12], 0x00000001)
	binary.LittleEndian.PutUint32(data[12:16], 0x00000001)

	// 4*0xFFFF folds to 0xFFFF, +2 folds to 0x0002, + filesize(16).
	assert.Equal(t, uint32(0x12), CalculatePEChecksum(data, -1))
}

func TestUpdateChecksum(t *testing.T) {
	img := New(buildTestImage(t, Bits64), Bits64)
	require.True(t, img.WasParsed())

	before, err := img.VerifyChecksum()
	require.NoError(t, err)
	assert.True(t, before.Valid, "zero checksum counts as valid")
	assert.Zero(t, before.Stored)

	require.NoError(t, img.UpdateChecksum())

	after, err := img.VerifyChecksum()
	require.NoError(t, err)
	assert.True(t, after.Valid)
	assert.Equal(t, after.Computed, after.Stored)
	assert.NotZero(t, after.Stored)
}
