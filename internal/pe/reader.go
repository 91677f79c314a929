package pe

import (
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// Open maps the file read-only, copies it into a new image and validates it.
// A file that is readable but not a PE image yields the unparsed image
// together with ErrNotParsed.
func Open(path string, bits Bits) (*Image, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	img := New(data, bits)
	img.path = path
	if !img.parsed {
		return img, errors.Wrapf(ErrNotParsed, "%s", path)
	}
	return img, nil
}

// readFile returns a private copy of the file contents.
func readFile(path string) ([]byte, error) {
	handle, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "打开PE文件失败")
	}
	defer func() { _ = handle.Close() }()

	stat, err := handle.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "获取文件信息失败")
	}
	if stat.Size() == 0 {
		return nil, nil
	}

	m, err := mmap.Map(handle, mmap.RDONLY, 0)
	if err != nil {
		return nil, errors.Wrap(err, "映射文件失败")
	}
	defer func() { _ = m.Unmap() }()

	data := make([]byte, len(m))
	copy(data, m)
	return data, nil
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	stat, err := os.Stat(path)
	return err == nil && stat.Mode().IsRegular()
}
