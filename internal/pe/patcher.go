package pe

import (
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// PatchSectionPermissions overwrites a section's characteristics.
func (i *Image) PatchSectionPermissions(sectionName string, newPerms uint32) error {
	if !i.parsed {
		return ErrNotParsed
	}
	s, ok := i.SectionByName(sectionName)
	if !ok {
		return errors.Wrapf(ErrSectionNotFound, "%s", sectionName)
	}
	old := s.Characteristics()
	s.SetCharacteristics(newPerms)
	i.logger.Debug("section characteristics patched",
		"section", sectionName, "old", hclog.Hex(int(old)), "new", hclog.Hex(int(newPerms)))
	return nil
}

// RemoveSectionWritePermission clears MEM_WRITE on a section.
func (i *Image) RemoveSectionWritePermission(sectionName string) error {
	s, ok := i.SectionByName(sectionName)
	if !ok {
		return errors.Wrapf(ErrSectionNotFound, "%s", sectionName)
	}
	return i.PatchSectionPermissions(sectionName, s.Characteristics()&^SectionMemWrite)
}

// SetSectionPermissions sets exact permissions for a section. Executable
// sections are marked CNT_CODE, the rest CNT_INITIALIZED_DATA.
func (i *Image) SetSectionPermissions(sectionName string, read, write, execute bool) error {
	var perms uint32

	if read {
		perms |= SectionMemRead
	}
	if write {
		perms |= SectionMemWrite
	}
	if execute {
		perms |= SectionMemExecute | SectionCntCode
	} else {
		perms |= SectionCntInitializedData
	}

	return i.PatchSectionPermissions(sectionName, perms)
}

// EntryPoint returns AddressOfEntryPoint.
func (i *Image) EntryPoint() uint32 {
	if !i.parsed {
		return 0
	}
	return i.OptionalHeader().AddressOfEntryPoint()
}

// PatchEntryPoint points AddressOfEntryPoint at rva, which must lie inside a
// section.
func (i *Image) PatchEntryPoint(rva uint32) error {
	if !i.parsed {
		return ErrNotParsed
	}
	if rva == 0 {
		return errors.New("入口点地址不能为0")
	}
	if _, ok := i.SectionByRVA(rva); !ok {
		return errors.Wrapf(ErrRVANotMapped, "入口点 0x%X", rva)
	}
	old := i.OptionalHeader().AddressOfEntryPoint()
	i.OptionalHeader().SetAddressOfEntryPoint(rva)
	i.logger.Debug("entry point patched", "old", hclog.Hex(int(old)), "new", hclog.Hex(int(rva)))
	return nil
}

// ReadRVA copies size bytes starting at rva.
func (i *Image) ReadRVA(rva, size uint32) ([]byte, error) {
	off, ok := i.RvaToOffset(rva)
	if !ok {
		return nil, errors.Wrapf(ErrRVANotMapped, "RVA 0x%X", rva)
	}
	window, err := i.buf.Slice(int(off), int(size))
	if err != nil {
		return nil, errors.Wrapf(err, "读取RVA 0x%X 失败", rva)
	}
	out := make([]byte, len(window))
	copy(out, window)
	return out, nil
}
