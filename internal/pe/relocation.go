package pe

import (
	"fmt"
	"iter"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// RelocationType is the 4-bit type field of a base relocation entry.
type RelocationType uint8

// Base relocation types.
const (
	RelBasedAbsolute        RelocationType = 0
	RelBasedHigh            RelocationType = 1
	RelBasedLow             RelocationType = 2
	RelBasedHighLow         RelocationType = 3
	RelBasedHighAdj         RelocationType = 4
	RelBasedMachineSpecific RelocationType = 5 // MIPS_JMPADDR / ARM_MOV32
	RelBasedReserved        RelocationType = 6
	RelBasedThumbMov32      RelocationType = 7
	RelBasedRiscVLow12S     RelocationType = 8
	RelBasedMipsJmpAddr16   RelocationType = 9
	RelBasedDir64           RelocationType = 10
)

// String returns the type name.
func (t RelocationType) String() string {
	switch t {
	case RelBasedAbsolute:
		return "ABSOLUTE"
	case RelBasedHigh:
		return "HIGH"
	case RelBasedLow:
		return "LOW"
	case RelBasedHighLow:
		return "HIGHLOW"
	case RelBasedHighAdj:
		return "HIGHADJ"
	case RelBasedMachineSpecific:
		return "MIPS_JMPADDR/ARM_MOV32"
	case RelBasedThumbMov32:
		return "THUMB_MOV32"
	case RelBasedMipsJmpAddr16:
		return "MIPS_JMPADDR16"
	case RelBasedDir64:
		return "DIR64"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// maxRelocationOffset is the largest value of the 12-bit offset field.
const maxRelocationOffset = 0xFFF

// EncodeRelocationEntry packs a type and a page offset into one entry.
func EncodeRelocationEntry(t RelocationType, offset uint16) uint16 {
	return offset&maxRelocationOffset | uint16(t&0xF)<<12
}

// RelocationEntry is one decoded fixup.
type RelocationEntry struct {
	PageRVA uint32
	Raw     uint16
}

// Type returns the high 4 bits.
func (e RelocationEntry) Type() RelocationType {
	return RelocationType(e.Raw >> 12)
}

// Offset returns the low 12 bits.
func (e RelocationEntry) Offset() uint16 {
	return e.Raw & maxRelocationOffset
}

// RVA is the page RVA plus the entry offset.
func (e RelocationEntry) RVA() uint32 {
	return e.PageRVA + uint32(e.Offset())
}

// RelocationBlock is an IMAGE_BASE_RELOCATION header located at a file
// offset.
type RelocationBlock struct {
	Offset  uint32
	PageRVA uint32
	Size    uint32
}

// NumEntries is the number of 16-bit slots after the block header.
func (b RelocationBlock) NumEntries() int {
	if b.Size < baseRelocHeaderSize {
		return 0
	}
	return int(b.Size-baseRelocHeaderSize) / 2
}

func (b RelocationBlock) end() uint32 {
	return b.Offset + b.Size
}

// RelocationInfo summarises the table for reports.
type RelocationInfo struct {
	HasRelocations bool
	BlockCount     int
	TotalEntries   int
}

// RelocationDirectory reads and edits the base relocation table.
type RelocationDirectory struct {
	img *Image
}

// Present reports whether the base relocation slot has a non-zero size.
func (d *RelocationDirectory) Present() bool {
	return d != nil && d.img.OptionalHeader().DataDirectory(DirectoryEntryBaseReloc).Present()
}

func (d *RelocationDirectory) directory() DataDirectory {
	return d.img.OptionalHeader().DataDirectory(DirectoryEntryBaseReloc)
}

// Section returns the section that holds the table.
func (d *RelocationDirectory) Section() (SectionHeader, bool) {
	if !d.Present() {
		return SectionHeader{}, false
	}
	return d.img.Header().SectionByRVA(d.directory().VirtualAddress)
}

// bounds returns the file offset of the first block and the offset the
// table may not cross, which is the end of the owning section's raw data.
func (d *RelocationDirectory) bounds() (start, limit uint32, ok bool) {
	if !d.Present() {
		return 0, 0, false
	}
	start, ok = d.img.Header().RvaToOffset(d.directory().VirtualAddress)
	if !ok {
		return 0, 0, false
	}
	limit = uint32(d.img.buf.Len())
	if s, found := d.Section(); found {
		if end := s.PointerToRawData() + s.SizeOfRawData(); end < limit {
			limit = end
		}
	}
	return start, limit, start <= limit
}

// capacityEnd is the last usable byte offset (exclusive) for blocks.
func (d *RelocationDirectory) capacityEnd() uint32 {
	s, ok := d.Section()
	if !ok {
		_, limit, _ := d.bounds()
		return limit
	}
	usable := s.SizeOfRawData()
	if vs := s.VirtualSize(); vs != 0 && vs < usable {
		usable = vs
	}
	end := s.PointerToRawData() + usable
	if n := uint32(d.img.buf.Len()); end > n {
		end = n
	}
	return end
}

// Blocks yields every block until a zero page RVA or the section end.
func (d *RelocationDirectory) Blocks() iter.Seq[RelocationBlock] {
	return func(yield func(RelocationBlock) bool) {
		off, limit, ok := d.bounds()
		if !ok {
			return
		}
		for off+baseRelocHeaderSize <= limit {
			b := RelocationBlock{
				Offset:  off,
				PageRVA: d.img.buf.u32(int(off)),
				Size:    d.img.buf.u32(int(off) + 4),
			}
			if b.PageRVA == 0 || b.Size < baseRelocHeaderSize || b.end() > limit {
				return
			}
			if !yield(b) {
				return
			}
			off = b.end()
		}
	}
}

func (d *RelocationDirectory) blockList() []RelocationBlock {
	var blocks []RelocationBlock
	for b := range d.Blocks() {
		blocks = append(blocks, b)
	}
	return blocks
}

func (d *RelocationDirectory) findBlock(pageRVA uint32) (RelocationBlock, bool) {
	for b := range d.Blocks() {
		if b.PageRVA == pageRVA {
			return b, true
		}
	}
	return RelocationBlock{}, false
}

// NumBlocks counts the blocks in the table.
func (d *RelocationDirectory) NumBlocks() int {
	n := 0
	for range d.Blocks() {
		n++
	}
	return n
}

// NumEntries returns the slot count of b.
func (d *RelocationDirectory) NumEntries(b RelocationBlock) int {
	return b.NumEntries()
}

func (d *RelocationDirectory) entryOffset(b RelocationBlock, idx int) int {
	return int(b.Offset) + baseRelocHeaderSize + idx*2
}

func (d *RelocationDirectory) blockEntries(b RelocationBlock, yield func(RelocationEntry, int) bool) bool {
	for idx := 0; idx < b.NumEntries(); idx++ {
		e := RelocationEntry{PageRVA: b.PageRVA, Raw: d.img.buf.u16(d.entryOffset(b, idx))}
		if !yield(e, d.entryOffset(b, idx)) {
			return false
		}
	}
	return true
}

// BlockEntries returns the entries of the block at position idx.
func (d *RelocationDirectory) BlockEntries(idx int) []RelocationEntry {
	var entries []RelocationEntry
	n := 0
	for b := range d.Blocks() {
		if n == idx {
			d.blockEntries(b, func(e RelocationEntry, _ int) bool {
				entries = append(entries, e)
				return true
			})
			break
		}
		n++
	}
	return entries
}

// Entries yields every entry of every block, padding included.
func (d *RelocationDirectory) Entries() iter.Seq[RelocationEntry] {
	return func(yield func(RelocationEntry) bool) {
		for b := range d.Blocks() {
			if !d.blockEntries(b, func(e RelocationEntry, _ int) bool { return yield(e) }) {
				return
			}
		}
	}
}

// locate finds the file offset of the non-padding entry that resolves to rva.
func (d *RelocationDirectory) locate(rva uint32) (RelocationEntry, int, bool) {
	var (
		found RelocationEntry
		at    int
		ok    bool
	)
	for b := range d.Blocks() {
		d.blockEntries(b, func(e RelocationEntry, off int) bool {
			if e.Raw != 0 && e.RVA() == rva {
				found, at, ok = e, off, true
				return false
			}
			return true
		})
		if ok {
			break
		}
	}
	return found, at, ok
}

// HasRelocation reports whether some entry resolves to rva.
func (d *RelocationDirectory) HasRelocation(rva uint32) bool {
	_, _, ok := d.locate(rva)
	return ok
}

// ChangeRelocationType re-encodes the entry for rva with type t, keeping its
// offset. It reports whether an entry was found.
func (d *RelocationDirectory) ChangeRelocationType(rva uint32, t RelocationType) bool {
	e, at, ok := d.locate(rva)
	if !ok {
		return false
	}
	d.img.buf.set16(at, EncodeRelocationEntry(t, e.Offset()))
	return d.img.revalidate("change-relocation-type") == nil
}

// TotalBlockSize is the combined size of all blocks.
func (d *RelocationDirectory) TotalBlockSize() uint32 {
	var total uint32
	for b := range d.Blocks() {
		total += b.Size
	}
	return total
}

// RemainingFreeBytes is the room left in the owning section after the last
// block.
func (d *RelocationDirectory) RemainingFreeBytes() uint32 {
	start, _, ok := d.bounds()
	if !ok {
		return 0
	}
	used := start + d.TotalBlockSize()
	capEnd := d.capacityEnd()
	if capEnd <= used {
		return 0
	}
	return capEnd - used
}

// Info summarises the table.
func (d *RelocationDirectory) Info() RelocationInfo {
	info := RelocationInfo{HasRelocations: d.Present()}
	for b := range d.Blocks() {
		info.BlockCount++
		info.TotalEntries += b.NumEntries()
	}
	return info
}

func (d *RelocationDirectory) sync() {
	dd := d.directory()
	dd.Size = d.TotalBlockSize()
	d.img.OptionalHeader().SetDataDirectory(DirectoryEntryBaseReloc, dd)
}

// maxBlockEntries is the most entries one block may hold: one per byte
// offset in its page.
const maxBlockEntries = maxRelocationOffset + 1

func blockSizeFor(numEntries uint32) uint32 {
	return Align(baseRelocHeaderSize+numEntries*2, 4)
}

func checkEntryCount(numEntries uint32) error {
	if numEntries > maxBlockEntries {
		return errors.Wrapf(ErrTooManyRelocations, "%d 项 (上限 %d)", numEntries, maxBlockEntries)
	}
	return nil
}

// ensureFree grows the owning section until at least n free bytes follow the
// last block.
func (d *RelocationDirectory) ensureFree(n uint32) error {
	remaining := d.RemainingFreeBytes()
	if remaining >= n {
		return nil
	}
	s, ok := d.Section()
	if !ok {
		return errors.Wrap(ErrNoRelocationSpace, "重定位表不在任何节区内")
	}
	d.img.logger.Debug("growing relocation section",
		"section", s.Name(), "remaining", hclog.Hex(int(remaining)), "needed", hclog.Hex(int(n)))
	if err := d.img.ExtendSection(s.Name(), n-remaining); err != nil {
		return errors.Wrap(err, "扩展重定位节区失败")
	}
	// ExtendSection grew the directory slot along with the section.
	d.sync()
	if d.RemainingFreeBytes() < n {
		return errors.Wrapf(ErrNoRelocationSpace, "需要 %d 字节", n)
	}
	return nil
}

// Extend makes sure a block of numEntries entries fits after the last block,
// growing the owning section when needed.
func (d *RelocationDirectory) Extend(numEntries uint32) error {
	if !d.Present() {
		return ErrNoRelocations
	}
	if err := checkEntryCount(numEntries); err != nil {
		return err
	}
	return d.ensureFree(blockSizeFor(numEntries))
}

// GetBlockStream returns a writer over the block for pageRVA, positioned at
// its first empty slot.
func (d *RelocationDirectory) GetBlockStream(pageRVA uint32) (*BlockStream, bool) {
	b, ok := d.findBlock(pageRVA)
	if !ok {
		return nil, false
	}
	return d.newStream(b), true
}

func (d *RelocationDirectory) newStream(b RelocationBlock) *BlockStream {
	bs := &BlockStream{dir: d, pageRVA: b.PageRVA}
	for bs.idx < b.NumEntries() && d.img.buf.u16(d.entryOffset(b, bs.idx)) != 0 {
		bs.idx++
	}
	return bs
}

// CreateBlock appends an empty block for pageRVA with room for numEntries
// entries. An existing block for the same page is returned unchanged.
// pageRVA must be a non-zero multiple of 4 KiB.
func (d *RelocationDirectory) CreateBlock(pageRVA, numEntries uint32) (*BlockStream, error) {
	if !d.Present() {
		return nil, ErrNoRelocations
	}
	if pageRVA == 0 || pageRVA&maxRelocationOffset != 0 {
		return nil, errors.Wrapf(ErrInvalidPageRVA, "0x%X", pageRVA)
	}
	if err := checkEntryCount(numEntries); err != nil {
		return nil, err
	}
	if b, ok := d.findBlock(pageRVA); ok {
		return d.newStream(b), nil
	}

	size := blockSizeFor(numEntries)
	if err := d.ensureFree(size); err != nil {
		return nil, err
	}

	start, _, _ := d.bounds()
	at := start + d.TotalBlockSize()
	block, err := d.img.buf.Slice(int(at), int(size))
	if err != nil {
		return nil, err
	}
	clear(block)
	d.img.buf.set32(int(at), pageRVA)
	d.img.buf.set32(int(at)+4, size)
	d.sync()

	d.img.logger.Debug("created relocation block",
		"page", hclog.Hex(int(pageRVA)), "offset", hclog.Hex(int(at)), "size", size)
	if err := d.img.revalidate("create-relocation-block"); err != nil {
		return nil, err
	}
	return &BlockStream{dir: d, pageRVA: pageRVA}, nil
}

// IncreaseBlockSize grows the block for pageRVA by numEntries slots, rounded
// to a 4-byte boundary. Blocks after it are moved down to make room.
func (d *RelocationDirectory) IncreaseBlockSize(pageRVA, numEntries uint32) error {
	b, ok := d.findBlock(pageRVA)
	if !ok {
		return errors.Wrapf(ErrBlockNotFound, "页面 RVA 0x%X", pageRVA)
	}
	if numEntries > maxBlockEntries || uint32(b.NumEntries())+numEntries > maxBlockEntries {
		return errors.Wrapf(ErrTooManyRelocations, "%d + %d 项 (上限 %d)", b.NumEntries(), numEntries, maxBlockEntries)
	}
	newSize := Align(b.Size+numEntries*2, 4)
	grow := newSize - b.Size
	if grow == 0 {
		return nil
	}
	if err := d.ensureFree(grow); err != nil {
		return err
	}

	b, _ = d.findBlock(pageRVA)
	start, _, _ := d.bounds()
	used := start + d.TotalBlockSize()
	tail, err := d.img.buf.Slice(int(b.end()), int(used-b.end()+grow))
	if err != nil {
		return err
	}
	copy(tail[grow:], tail[:used-b.end()])
	clear(tail[:grow])
	d.img.buf.set32(int(b.Offset)+4, newSize)
	d.sync()
	return d.img.revalidate("increase-relocation-block")
}

// AdjustBlockToFit grows the last block by delta bytes.
func (d *RelocationDirectory) AdjustBlockToFit(delta uint32) error {
	blocks := d.blockList()
	if len(blocks) == 0 {
		return ErrNoRelocations
	}
	if d.RemainingFreeBytes() < delta {
		return errors.Wrapf(ErrNoRelocationSpace, "需要 %d 字节, 剩余 %d 字节", delta, d.RemainingFreeBytes())
	}
	last := blocks[len(blocks)-1]
	if gap, err := d.img.buf.Slice(int(last.end()), int(delta)); err == nil {
		clear(gap)
	}
	d.img.buf.set32(int(last.Offset)+4, last.Size+delta)
	d.sync()
	return d.img.revalidate("adjust-relocation-block")
}

// BlockStream writes sequential entries into one block.
type BlockStream struct {
	dir     *RelocationDirectory
	pageRVA uint32
	idx     int
}

// PageRVA returns the page the stream writes to.
func (s *BlockStream) PageRVA() uint32 {
	return s.pageRVA
}

// Index is the next slot to be written.
func (s *BlockStream) Index() int {
	return s.idx
}

// Append writes one entry at the next free slot.
func (s *BlockStream) Append(t RelocationType, offset uint16) error {
	if offset > maxRelocationOffset {
		return errors.Wrapf(ErrInvalidRelocationOffset, "0x%X", offset)
	}
	if t > 0xF {
		return errors.Wrapf(ErrUnsupportedRelocation, "类型 %d", uint8(t))
	}
	b, ok := s.dir.findBlock(s.pageRVA)
	if !ok {
		return errors.Wrapf(ErrBlockNotFound, "页面 RVA 0x%X", s.pageRVA)
	}
	if s.idx >= b.NumEntries() {
		return errors.Wrapf(ErrBlockFull, "页面 RVA 0x%X 共 %d 项", s.pageRVA, b.NumEntries())
	}
	s.dir.img.buf.set16(s.dir.entryOffset(b, s.idx), EncodeRelocationEntry(t, offset))
	s.idx++
	return s.dir.img.revalidate("append-relocation")
}
