package pe

import "github.com/hashicorp/go-hclog"

// ChecksumInfo contains PE checksum verification results.
type ChecksumInfo struct {
	Stored   uint32
	Computed uint32
	Valid    bool
}

// CalculatePEChecksum computes the optional header checksum of data: the
// folded sum of all 16-bit little-endian words, skipping the four bytes at
// checksumOffset, plus the file length. A negative offset skips nothing.
func CalculatePEChecksum(data []byte, checksumOffset int) uint32 {
	var sum uint64
	for off := 0; off < len(data); off += 2 {
		if checksumOffset >= 0 && off >= checksumOffset && off < checksumOffset+4 {
			continue
		}
		word := uint64(data[off])
		if off+1 < len(data) {
			word |= uint64(data[off+1]) << 8
		}
		sum += word
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	sum = (sum & 0xFFFF) + (sum >> 16)
	return uint32(sum&0xFFFF) + uint32(len(data))
}

// VerifyChecksum compares the stored checksum with a fresh computation. An
// image whose stored checksum is zero is not checksummed and counts as valid.
func (i *Image) VerifyChecksum() (*ChecksumInfo, error) {
	if !i.parsed {
		return nil, ErrNotParsed
	}
	oh := i.OptionalHeader()
	info := &ChecksumInfo{
		Stored:   oh.CheckSum(),
		Computed: CalculatePEChecksum(i.buf.Bytes(), oh.checkSumOffset()),
	}
	info.Valid = info.Stored == 0 || info.Stored == info.Computed
	return info, nil
}

// UpdateChecksum recalculates and stores the PE checksum.
func (i *Image) UpdateChecksum() error {
	if !i.parsed {
		return ErrNotParsed
	}
	oh := i.OptionalHeader()
	sum := CalculatePEChecksum(i.buf.Bytes(), oh.checkSumOffset())
	if err := i.buf.PutUint32(oh.checkSumOffset(), sum); err != nil {
		return err
	}
	i.logger.Debug("checksum updated", "checksum", hclog.Hex(int(sum)))
	return nil
}
