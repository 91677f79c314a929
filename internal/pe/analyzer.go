package pe

import (
	"fmt"
)

// Subsystems reported by the analyzer.
const (
	SubsystemNative     = 1
	SubsystemWindowsGUI = 2
	SubsystemWindowsCUI = 3
)

// Machines reported by the analyzer besides i386/AMD64.
const (
	MachineARM   = 0x1c0
	MachineARMNT = 0x1c4
	MachineARM64 = 0xaa64
)

var directoryNames = [MaxDirectoryCount]string{
	"Export", "Import", "Resource", "Exception", "Security", "BaseReloc",
	"Debug", "Architecture", "GlobalPtr", "TLS", "LoadConfig", "BoundImport",
	"IAT", "DelayImport", "COMDescriptor", "Reserved",
}

// Info contains analyzed PE file information.
type Info struct {
	FilePath        string
	FileSize        int64
	Architecture    string
	Bits            Bits
	Subsystem       string
	IsDLL           bool
	EntryPoint      uint64
	ImageBase       uint64
	Checksum        *ChecksumInfo
	Sections        []SectionInfo
	DataDirectories []DirectoryInfo
	Imports         []ImportInfo
	Exports         []string
	Relocations     RelocationInfo
}

// SectionInfo contains information about a PE section.
type SectionInfo struct {
	Name            string
	VirtualAddress  uint32
	VirtualSize     uint32
	Offset          uint32
	Size            uint32
	Characteristics uint32
	Permissions     string
	Entropy         float64
}

// DirectoryInfo is one present data directory.
type DirectoryInfo struct {
	Index          int
	Name           string
	VirtualAddress uint32
	Size           uint32
	Section        string
}

// ImportInfo contains information about imported DLL and functions.
type ImportInfo struct {
	DLL       string
	Functions []string
}

// Analyze extracts a summary of the image.
func (i *Image) Analyze() (*Info, error) {
	if !i.parsed {
		return nil, ErrNotParsed
	}

	oh := i.OptionalHeader()
	info := &Info{
		FilePath:     i.path,
		FileSize:     int64(i.buf.Len()),
		Architecture: getArchitecture(i.Machine()),
		Bits:         i.width,
		Subsystem:    getSubsystem(oh.Subsystem()),
		IsDLL:        i.IsDLL(),
		EntryPoint:   uint64(oh.AddressOfEntryPoint()),
		ImageBase:    oh.ImageBase(),
		Imports:      i.imports.List(),
		Exports:      i.exports.Names(),
		Relocations:  i.relocs.Info(),
	}

	for _, s := range i.Sections() {
		info.Sections = append(info.Sections, SectionInfo{
			Name:            s.Name(),
			VirtualAddress:  s.VirtualAddress(),
			VirtualSize:     s.VirtualSize(),
			Offset:          s.PointerToRawData(),
			Size:            s.SizeOfRawData(),
			Characteristics: s.Characteristics(),
			Permissions:     getSectionPermissions(s.Characteristics()),
			Entropy:         s.Entropy(),
		})
	}

	for idx := 0; idx < MaxDirectoryCount; idx++ {
		dd := oh.DataDirectory(idx)
		if !dd.Present() {
			continue
		}
		dir := DirectoryInfo{Index: idx, Name: directoryNames[idx], VirtualAddress: dd.VirtualAddress, Size: dd.Size}
		if s, ok := i.SectionByRVA(dd.VirtualAddress); ok {
			dir.Section = s.Name()
		}
		info.DataDirectories = append(info.DataDirectories, dir)
	}

	checksum, err := i.VerifyChecksum()
	if err == nil {
		info.Checksum = checksum
	}

	return info, nil
}

func getArchitecture(machine uint16) string {
	switch machine {
	case MachineI386:
		return "x86 (32位)"
	case MachineAMD64:
		return "x64 (64位)"
	case MachineARM, MachineARMNT:
		return "ARM"
	case MachineARM64:
		return "ARM64"
	case MachineIA64:
		return "IA64"
	default:
		return fmt.Sprintf("未知 (0x%X)", machine)
	}
}

func getSubsystem(subsystem uint16) string {
	switch subsystem {
	case SubsystemWindowsGUI:
		return "Windows GUI"
	case SubsystemWindowsCUI:
		return "Windows 控制台"
	case SubsystemNative:
		return "Native"
	default:
		return fmt.Sprintf("未知 (0x%X)", subsystem)
	}
}

func getSectionPermissions(c uint32) string {
	perms := []byte("---")
	if c&SectionMemRead != 0 {
		perms[0] = 'R'
	}
	if c&SectionMemWrite != 0 {
		perms[1] = 'W'
	}
	if c&SectionMemExecute != 0 {
		perms[2] = 'X'
	}
	return string(perms)
}
