package pe

import (
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

type fixup struct {
	entry  RelocationEntry
	offset int
}

// fixupWidth is the number of bytes a relocation type patches.
func (i *Image) fixupWidth(t RelocationType) (int, error) {
	switch t {
	case RelBasedAbsolute:
		return 0, nil
	case RelBasedHigh, RelBasedLow:
		return 2, nil
	case RelBasedHighLow:
		return 4, nil
	case RelBasedDir64:
		if i.width != Bits64 {
			return 0, errors.Wrap(ErrUnsupportedRelocation, "32位映像中出现DIR64重定位")
		}
		return 8, nil
	}
	return 0, errors.Wrapf(ErrUnsupportedRelocation, "%s", t)
}

// RelocateImage rebases the image to newBase by applying every base
// relocation and then rewriting ImageBase. The whole table is checked before
// any byte is patched, so an unsupported entry leaves the image untouched.
// Rebasing back to the previous base restores the original content.
func (i *Image) RelocateImage(newBase uint64) error {
	if !i.parsed {
		return ErrNotParsed
	}
	if i.width == Bits32 && newBase > 0xFFFFFFFF {
		return errors.Wrapf(ErrUnsupportedRelocation, "基址 0x%X 超出32位范围", newBase)
	}

	oldBase := i.ImageBase()
	delta := newBase - oldBase

	var fixups []fixup
	for e := range i.relocs.Entries() {
		width, err := i.fixupWidth(e.Type())
		if err != nil {
			return errors.Wrapf(err, "RVA 0x%X", e.RVA())
		}
		if width == 0 {
			continue
		}
		off, ok := i.RvaToOffset(e.RVA())
		if !ok {
			return errors.Wrapf(ErrRVANotMapped, "重定位 RVA 0x%X", e.RVA())
		}
		if _, err := i.buf.Slice(int(off), width); err != nil {
			return errors.Wrapf(err, "重定位 RVA 0x%X", e.RVA())
		}
		fixups = append(fixups, fixup{entry: e, offset: int(off)})
	}

	for _, f := range fixups {
		switch f.entry.Type() {
		case RelBasedHigh:
			i.buf.set16(f.offset, i.buf.u16(f.offset)+uint16(delta>>16))
		case RelBasedLow:
			i.buf.set16(f.offset, i.buf.u16(f.offset)+uint16(delta))
		case RelBasedHighLow:
			i.buf.set32(f.offset, i.buf.u32(f.offset)+uint32(delta))
		case RelBasedDir64:
			i.buf.set64(f.offset, i.buf.u64(f.offset)+delta)
		}
	}
	i.OptionalHeader().SetImageBase(newBase)

	i.logger.Debug("image relocated",
		"old_base", hclog.Hex(int(oldBase)),
		"new_base", hclog.Hex(int(newBase)),
		"fixups", len(fixups))
	return i.revalidate("relocate-image")
}
