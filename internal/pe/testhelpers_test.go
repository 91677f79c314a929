package pe

import (
	"encoding/binary"
	"testing"
)

// Layout of the synthetic image produced by buildTestImage.
const (
	testLfanew      = 0x80
	testFileAlign   = 0x200
	testSectAlign   = 0x1000
	testHeaderSize  = 0x400
	testFileSize    = 0xC00
	testImageSize   = 0x5000
	testEntryPoint  = 0x1008
	testImageBase32 = 0x10000000
	testImageBase64 = 0x180000000

	testTextRVA  = 0x1000
	testRdataRVA = 0x2000
	testDataRVA  = 0x3000
	testRelocRVA = 0x4000

	testExportRVA = 0x2000
	testImportRVA = 0x2100
	testRelocSize = 0x0C
)

type testSection struct {
	name     string
	va, vs   uint32
	ptr, raw uint32
	chars    uint32
}

var testSections = []testSection{
	{".text", testTextRVA, 0x100, 0x400, 0x200, SectionCntCode | SectionMemRead | SectionMemExecute},
	{".rdata", testRdataRVA, 0x200, 0x600, 0x200, SectionCntInitializedData | SectionMemRead},
	{".data", testDataRVA, 0x100, 0x800, 0x200, SectionCntInitializedData | SectionMemRead | SectionMemWrite},
	{".reloc", testRelocRVA, testRelocSize, 0xA00, 0x200, SectionCntInitializedData | SectionMemRead | 0x02000000},
}

// testTextCode opens .text. The MZ bytes give pattern tests a hit that is
// not at the start of the file.
var testTextCode = []byte{0x4D, 0x5A, 0x90, 0x00, 0x03, 0x00, 0x00, 0x00, 0x55, 0x48, 0x89, 0xE5, 0xC3}

func testImageBase(bits Bits) uint64 {
	if bits == Bits64 {
		return testImageBase64
	}
	return testImageBase32
}

// buildTestImage assembles a small DLL with four sections, two named
// exports, imports from KERNEL32.dll by name and helper.dll by ordinal, and
// one relocation block with two entries that point into .data.
func buildTestImage(t testing.TB, bits Bits) []byte {
	t.Helper()

	data := make([]byte, testFileSize)
	le := binary.LittleEndian
	rva := func(r uint32) []byte {
		for _, s := range testSections {
			if r >= s.va && r < s.va+s.raw {
				return data[s.ptr+(r-s.va):]
			}
		}
		t.Fatalf("fixture RVA 0x%X is not in a section", r)
		return nil
	}
	word := func(b []byte, v uint64) {
		if bits == Bits64 {
			le.PutUint64(b, v)
		} else {
			le.PutUint32(b, uint32(v))
		}
	}

	// DOS header.
	le.PutUint16(data[0:], DOSSignature)
	le.PutUint32(data[0x3C:], testLfanew)

	// NT headers.
	le.PutUint32(data[testLfanew:], NTSignature)
	fh := data[testLfanew+4:]
	optSize := uint16(224)
	machine := uint16(MachineI386)
	chars := uint16(0x2102)
	if bits == Bits64 {
		optSize, machine, chars = 240, MachineAMD64, 0x2022
	}
	le.PutUint16(fh[0:], machine)
	le.PutUint16(fh[2:], uint16(len(testSections)))
	le.PutUint32(fh[4:], 0x5F5E1000)
	le.PutUint16(fh[16:], optSize)
	le.PutUint16(fh[18:], chars)

	oh := fh[fileHeaderSize:]
	le.PutUint16(oh[0:], bits.Magic())
	le.PutUint32(oh[4:], 0x200)
	le.PutUint32(oh[8:], 0x600)
	le.PutUint32(oh[16:], testEntryPoint)
	le.PutUint32(oh[20:], testTextRVA)
	ddOff, countOff := 96, 92
	if bits == Bits64 {
		le.PutUint64(oh[24:], testImageBase64)
		ddOff, countOff = 112, 108
	} else {
		le.PutUint32(oh[24:], testRdataRVA)
		le.PutUint32(oh[28:], testImageBase32)
	}
	le.PutUint32(oh[32:], testSectAlign)
	le.PutUint32(oh[36:], testFileAlign)
	le.PutUint16(oh[40:], 6)
	le.PutUint16(oh[48:], 6)
	le.PutUint32(oh[56:], testImageSize)
	le.PutUint32(oh[60:], testHeaderSize)
	le.PutUint16(oh[68:], SubsystemWindowsCUI)
	le.PutUint16(oh[70:], 0x0140)
	le.PutUint32(oh[countOff:], MaxDirectoryCount)

	dirs := oh[ddOff:]
	setDir := func(idx int, va, size uint32) {
		le.PutUint32(dirs[idx*dataDirectorySize:], va)
		le.PutUint32(dirs[idx*dataDirectorySize+4:], size)
	}
	setDir(DirectoryEntryExport, testExportRVA, 0x80)
	setDir(DirectoryEntryImport, testImportRVA, 3*importDescSize)
	setDir(DirectoryEntryBaseReloc, testRelocRVA, testRelocSize)
	setDir(DirectoryEntryIAT, 0x2160, 0x20)

	// Section table.
	table := oh[optSize:]
	for k, s := range testSections {
		h := table[k*sectionHeaderSize:]
		copy(h[0:8], s.name)
		le.PutUint32(h[8:], s.vs)
		le.PutUint32(h[12:], s.va)
		le.PutUint32(h[16:], s.raw)
		le.PutUint32(h[20:], s.ptr)
		le.PutUint32(h[36:], s.chars)
	}

	// .text: code followed by int3 padding up to the virtual size.
	text := rva(testTextRVA)
	copy(text, testTextCode)
	for k := len(testTextCode); k < 0x100; k++ {
		text[k] = 0xCC
	}

	// Export directory.
	exp := rva(testExportRVA)
	le.PutUint32(exp[12:], 0x2040) // Name
	le.PutUint32(exp[16:], 1)      // Base
	le.PutUint32(exp[20:], 2)      // NumberOfFunctions
	le.PutUint32(exp[24:], 2)      // NumberOfNames
	le.PutUint32(exp[28:], 0x2050) // AddressOfFunctions
	le.PutUint32(exp[32:], 0x2058) // AddressOfNames
	le.PutUint32(exp[36:], 0x2060) // AddressOfNameOrdinals
	copy(rva(0x2040), "test.dll\x00")
	le.PutUint32(rva(0x2050), testEntryPoint)
	le.PutUint32(rva(0x2054), 0x1010)
	le.PutUint32(rva(0x2058), 0x2068)
	le.PutUint32(rva(0x205C), 0x2070)
	le.PutUint16(rva(0x2060), 0)
	le.PutUint16(rva(0x2062), 1)
	copy(rva(0x2068), "Alpha\x00")
	copy(rva(0x2070), "Beta\x00")

	// Import descriptors: KERNEL32.dll then helper.dll, then the terminator.
	imp := rva(testImportRVA)
	le.PutUint32(imp[0:], 0x2140)
	le.PutUint32(imp[12:], 0x2180)
	le.PutUint32(imp[16:], 0x2160)
	le.PutUint32(imp[20:], 0x2150)
	le.PutUint32(imp[32:], 0x2190)
	le.PutUint32(imp[36:], 0x2170)

	ordinalFlag := uint64(1) << 31
	if bits == Bits64 {
		ordinalFlag = 1 << 63
	}
	word(rva(0x2140), 0x21A0)
	word(rva(0x2150), ordinalFlag|7)
	word(rva(0x2160), 0x21A0)
	word(rva(0x2170), ordinalFlag|7)
	copy(rva(0x2180), "KERNEL32.dll\x00")
	copy(rva(0x2190), "helper.dll\x00")
	le.PutUint16(rva(0x21A0), 1)
	copy(rva(0x21A2), "ExitProcess\x00")

	// .data: two absolute pointers covered by the relocation block.
	base := testImageBase(bits)
	word(rva(testDataRVA), base+testEntryPoint)
	word(rva(testDataRVA+0x10), base+testExportRVA)

	// .reloc: one block for the .data page.
	relType := RelBasedHighLow
	if bits == Bits64 {
		relType = RelBasedDir64
	}
	reloc := rva(testRelocRVA)
	le.PutUint32(reloc[0:], testDataRVA)
	le.PutUint32(reloc[4:], testRelocSize)
	le.PutUint16(reloc[8:], EncodeRelocationEntry(relType, 0x000))
	le.PutUint16(reloc[10:], EncodeRelocationEntry(relType, 0x010))

	return data
}

// loadTestImage builds and parses the synthetic image.
func loadTestImage(t testing.TB, bits Bits) *Image {
	t.Helper()
	img := New(buildTestImage(t, bits), bits)
	if !img.WasParsed() {
		t.Fatalf("synthetic %d-bit image failed to parse", bits)
	}
	return img
}

// bothWidths runs fn once per supported width.
func bothWidths(t *testing.T, fn func(t *testing.T, bits Bits)) {
	for _, bits := range []Bits{Bits32, Bits64} {
		t.Run(map[Bits]string{Bits32: "PE32", Bits64: "PE32+"}[bits], func(t *testing.T) {
			fn(t, bits)
		})
	}
}
