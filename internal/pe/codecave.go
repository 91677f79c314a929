package pe

import (
	"encoding/binary"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// CodeCave represents a usable code cave in a PE file.
type CodeCave struct {
	Section  string // Section name.
	Offset   uint32 // File offset.
	RVA      uint32 // Relative Virtual Address.
	Size     uint32 // Available size in bytes.
	FillByte byte   // Fill pattern (0x00 or 0xCC).
}

// jmpRel32Size is the length of an E9 rel32 jump.
const jmpRel32Size = 5

// FindCodeCaves searches every section for runs of 0x00 or 0xCC of at least
// minSize bytes.
func (i *Image) FindCodeCaves(minSize uint32) ([]CodeCave, error) {
	if !i.parsed {
		return nil, ErrNotParsed
	}
	var caves []CodeCave
	for _, s := range i.Sections() {
		data, err := s.Data()
		if err != nil {
			return nil, errors.Wrapf(err, "扫描节区 %s 失败", s.Name())
		}
		caves = append(caves, findCavesIn(s, data, minSize)...)
	}
	return caves, nil
}

func findCavesIn(s SectionHeader, data []byte, minSize uint32) []CodeCave {
	var caves []CodeCave
	caveStart := -1
	var fillByte byte

	emit := func(end int) {
		if caveStart != -1 && uint32(end-caveStart) >= minSize {
			caves = append(caves, CodeCave{
				Section:  s.Name(),
				Offset:   s.PointerToRawData() + uint32(caveStart),
				RVA:      s.VirtualAddress() + uint32(caveStart),
				Size:     uint32(end - caveStart),
				FillByte: fillByte,
			})
		}
	}

	for k, b := range data {
		switch {
		case b != 0x00 && b != 0xCC:
			emit(k)
			caveStart = -1
		case caveStart == -1:
			caveStart, fillByte = k, b
		case b != fillByte:
			// Different fill byte, end previous cave and start new one.
			emit(k)
			caveStart, fillByte = k, b
		}
	}
	emit(len(data))
	return caves
}

// InjectCode writes code at a file offset inside some section's raw data.
func (i *Image) InjectCode(offset uint32, code []byte) error {
	if !i.parsed {
		return ErrNotParsed
	}
	if len(code) == 0 {
		return errors.New("代码不能为空")
	}
	s, ok := i.SectionByOffset(offset)
	if !ok || !s.HasOffset(offset+uint32(len(code))-1) {
		return errors.Wrapf(ErrOutOfBounds, "代码区间 0x%X+%d 不在单个节区内", offset, len(code))
	}
	if err := i.buf.Write(int(offset), code); err != nil {
		return errors.Wrap(err, "写入代码失败")
	}
	return nil
}

// InjectCodeCaveWithJump writes code into cave followed by a jump back to the
// current entry point, then points the entry point at the cave. It returns
// the original entry point.
func (i *Image) InjectCodeCaveWithJump(cave CodeCave, code []byte) (uint32, error) {
	if !i.parsed {
		return 0, ErrNotParsed
	}
	if cave.Size < jmpRel32Size || uint32(len(code)) > cave.Size-jmpRel32Size {
		return 0, errors.Errorf("代码大小 %d 字节超过 code cave 容量 %d 字节 (需要保留5字节用于返回跳转)", len(code), cave.Size)
	}

	oh := i.OptionalHeader()
	originalEntry := oh.AddressOfEntryPoint()

	fullCode := make([]byte, len(code)+jmpRel32Size)
	copy(fullCode, code)
	jumpSource := cave.RVA + uint32(len(code)) + jmpRel32Size
	fullCode[len(code)] = 0xE9
	binary.LittleEndian.PutUint32(fullCode[len(code)+1:], uint32(int32(originalEntry)-int32(jumpSource)))

	if err := i.InjectCode(cave.Offset, fullCode); err != nil {
		return 0, err
	}
	if err := i.PatchEntryPoint(cave.RVA); err != nil {
		return 0, err
	}

	i.logger.Debug("code cave injected",
		"section", cave.Section,
		"rva", hclog.Hex(int(cave.RVA)),
		"original_entry", hclog.Hex(int(originalEntry)))
	return originalEntry, nil
}
