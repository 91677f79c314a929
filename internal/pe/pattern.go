package pe

import (
	"bytes"
	"strings"

	"github.com/pkg/errors"
)

// Pattern is a compiled byte pattern. Mask is false at wildcard positions.
type Pattern struct {
	Bytes []byte
	Mask  []bool
}

// Len is the number of bytes the pattern spans.
func (p Pattern) Len() int {
	return len(p.Bytes)
}

func (p Pattern) matchAt(data []byte, at int) bool {
	if at+len(p.Bytes) > len(data) {
		return false
	}
	for k, b := range p.Bytes {
		if p.Mask[k] && data[at+k] != b {
			return false
		}
	}
	return true
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// CompilePattern parses a pattern such as "4D 5A ?? ?? 50". Spaces are
// ignored, "?" or "??" matches any single byte, everything else must be
// pairs of hex digits.
func CompilePattern(s string) (Pattern, error) {
	var p Pattern
	src := strings.ReplaceAll(s, " ", "")
	for k := 0; k < len(src); {
		if src[k] == '?' {
			k++
			if k < len(src) && src[k] == '?' {
				k++
			}
			p.Bytes = append(p.Bytes, 0)
			p.Mask = append(p.Mask, false)
			continue
		}
		if k+1 >= len(src) {
			return Pattern{}, errors.Wrapf(ErrInvalidPattern, "%q: 末尾缺少半字节", s)
		}
		hi, ok1 := hexNibble(src[k])
		lo, ok2 := hexNibble(src[k+1])
		if !ok1 || !ok2 {
			return Pattern{}, errors.Wrapf(ErrInvalidPattern, "%q: 非法字符 %q", s, src[k:k+2])
		}
		p.Bytes = append(p.Bytes, hi<<4|lo)
		p.Mask = append(p.Mask, true)
		k += 2
	}
	if len(p.Bytes) == 0 {
		return Pattern{}, errors.Wrapf(ErrInvalidPattern, "%q: 空模式", s)
	}
	return p, nil
}

// PatternSpec names one pattern of a multi-pattern scan.
type PatternSpec struct {
	ID      int32
	Pattern string
}

// PatternMatch is one hit of a multi-pattern scan.
type PatternMatch struct {
	ID     int32
	Offset uint32
}

// scanSection returns the raw bytes of s, or of the last section when s is
// nil.
func (i *Image) scanSection(s *SectionHeader) (SectionHeader, []byte, error) {
	if !i.parsed {
		return SectionHeader{}, nil, ErrNotParsed
	}
	var sec SectionHeader
	if s != nil {
		sec = *s
	} else {
		last, ok := i.Header().LastSection()
		if !ok {
			return SectionHeader{}, nil, errors.Wrap(ErrSectionNotFound, "映像没有节区")
		}
		sec = last
	}
	data, err := sec.Data()
	if err != nil {
		return SectionHeader{}, nil, errors.Wrapf(err, "读取节区 %s 失败", sec.Name())
	}
	return sec, data, nil
}

// FindBinarySequence returns every non-overlapping match of pattern inside
// the section, as offsets relative to the section's raw start. A nil section
// means the last one.
func (i *Image) FindBinarySequence(s *SectionHeader, pattern string) ([]uint32, error) {
	p, err := CompilePattern(pattern)
	if err != nil {
		return nil, err
	}
	_, data, err := i.scanSection(s)
	if err != nil {
		return nil, err
	}

	var offsets []uint32
	for at := 0; at+p.Len() <= len(data); {
		if p.matchAt(data, at) {
			offsets = append(offsets, uint32(at))
			at += p.Len()
			continue
		}
		at++
	}
	return offsets, nil
}

// FindBinarySequences scans for several patterns at once. At each position
// the first pattern in specs that matches wins and scanning resumes after it.
func (i *Image) FindBinarySequences(s *SectionHeader, specs []PatternSpec) ([]PatternMatch, error) {
	compiled := make([]Pattern, len(specs))
	for k, spec := range specs {
		p, err := CompilePattern(spec.Pattern)
		if err != nil {
			return nil, err
		}
		compiled[k] = p
	}
	_, data, err := i.scanSection(s)
	if err != nil {
		return nil, err
	}

	var matches []PatternMatch
	for at := 0; at < len(data); {
		advance := 1
		for k, p := range compiled {
			if p.matchAt(data, at) {
				matches = append(matches, PatternMatch{ID: specs[k].ID, Offset: uint32(at)})
				advance = p.Len()
				break
			}
		}
		at += advance
	}
	return matches, nil
}

// FindPadding looks for n bytes equal to v, with n rounded up to alignment
// and candidate positions stepping by alignment. With a nil section the last
// section is scanned from its raw end backwards; otherwise the given section
// is scanned from its start forwards. The result is a file offset.
func (i *Image) FindPadding(s *SectionHeader, v byte, n, alignment uint32) (uint32, bool) {
	sec, data, err := i.scanSection(s)
	if err != nil || n == 0 {
		return 0, false
	}
	n = Align(n, alignment)
	step := alignment
	if step == 0 {
		step = 1
	}
	if int(n) > len(data) {
		return 0, false
	}
	run := bytes.Repeat([]byte{v}, int(n))
	base := sec.PointerToRawData()

	if s == nil {
		for start := int(AlignDown(uint32(len(data))-n, step)); start >= 0; start -= int(step) {
			if bytes.Equal(data[start:start+int(n)], run) {
				return base + uint32(start), true
			}
		}
		return 0, false
	}

	for start := uint32(0); start+n <= uint32(len(data)); start += step {
		if bytes.Equal(data[start:start+n], run) {
			return base + start, true
		}
	}
	return 0, false
}

// FindZeroPadding is FindPadding for zero bytes.
func (i *Image) FindZeroPadding(s *SectionHeader, n, alignment uint32) (uint32, bool) {
	return i.FindPadding(s, 0, n, alignment)
}
