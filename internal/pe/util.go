package pe

import "golang.org/x/exp/constraints"

// PageSize is the 4 KiB page granularity used by the Windows loader.
const PageSize = 0x1000

// Signatures and magics.
const (
	DOSSignature = 0x5A4D     // "MZ"
	NTSignature  = 0x00004550 // "PE\0\0"

	Magic32  = 0x10b
	Magic64  = 0x20b
	MagicROM = 0x107
)

// Machine types.
const (
	MachineI386  = 0x14c
	MachineIA64  = 0x200
	MachineAMD64 = 0x8664
)

// File characteristics.
const (
	FileDLL    = 0x2000
	FileSystem = 0x1000
)

// Section characteristics.
const (
	SectionCntCode              = 0x00000020
	SectionCntInitializedData   = 0x00000040
	SectionCntUninitializedData = 0x00000080
	SectionMemExecute           = 0x20000000
	SectionMemRead              = 0x40000000
	SectionMemWrite             = 0x80000000
)

// Data directory slots.
const (
	DirectoryEntryExport = iota
	DirectoryEntryImport
	DirectoryEntryResource
	DirectoryEntryException
	DirectoryEntrySecurity
	DirectoryEntryBaseReloc
	DirectoryEntryDebug
	DirectoryEntryArchitecture
	DirectoryEntryGlobalPtr
	DirectoryEntryTLS
	DirectoryEntryLoadConfig
	DirectoryEntryBoundImport
	DirectoryEntryIAT
	DirectoryEntryDelayImport
	DirectoryEntryCOMDescriptor

	MaxDirectoryCount = 16
)

// Structure sizes.
const (
	dosHeaderSize       = 64
	fileHeaderSize      = 20
	sectionHeaderSize   = 40
	dataDirectorySize   = 8
	baseRelocHeaderSize = 8
	exportDirectorySize = 40
	importDescSize      = 20
)

// Align rounds value up to the next multiple of alignment.
// An alignment of zero leaves the value unchanged.
func Align[V constraints.Unsigned](value, alignment V) V {
	if alignment == 0 {
		return value
	}
	return ((value + alignment - 1) / alignment) * alignment
}

// AlignDown rounds value down to a multiple of alignment.
func AlignDown[V constraints.Unsigned](value, alignment V) V {
	if alignment == 0 {
		return value
	}
	return value - value%alignment
}

// Align4KB aligns to the page size.
func Align4KB[V constraints.Unsigned](value V) V {
	return Align(value, V(PageSize))
}

// sectionNameString decodes an 8-byte section name that may lack a NUL.
func sectionNameString(raw []byte) string {
	for i, b := range raw {
		if b == 0 {
			return string(raw[:i])
		}
	}
	return string(raw)
}
