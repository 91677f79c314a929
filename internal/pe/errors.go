package pe

import "github.com/pkg/errors"

// Structural errors: the buffer does not hold a usable image.
var (
	ErrNotParsed   = errors.New("PE映像未通过解析")
	ErrCorrupted   = errors.New("修改后PE头校验失败")
	ErrOutOfBounds = errors.New("偏移超出缓冲区范围")
)

// Lookup errors.
var (
	ErrSectionNotFound = errors.New("未找到节区")
	ErrRVANotMapped    = errors.New("RVA不在任何节区内")
)

// Capacity errors.
var (
	ErrZeroAlignment      = errors.New("FileAlignment或SectionAlignment为0")
	ErrZeroDelta          = errors.New("扩展大小不能为0")
	ErrNameTooLong        = errors.New("节区名称过长 (最大8字节)")
	ErrNoHeaderSpace      = errors.New("节区头表空间不足，无法添加新节区")
	ErrSectionOverlap     = errors.New("扩展后的节区与下一个节区的虚拟地址重叠")
	ErrBlockFull          = errors.New("重定位块已满")
	ErrNoRelocationSpace  = errors.New("重定位节区剩余空间不足")
	ErrNoRelocations      = errors.New("PE文件没有重定位表")
	ErrBlockNotFound      = errors.New("未找到重定位块")
	ErrInvalidPageRVA     = errors.New("重定位页面RVA必须为非零且按4KB对齐")
	ErrTooManyRelocations = errors.New("重定位项数量超出单页上限")
	ErrInvalidPattern     = errors.New("二进制模式格式错误")
)

// Import and export table edits.
var (
	ErrImportExists   = errors.New("DLL已存在于导入表中")
	ErrEmptyName      = errors.New("名称或函数列表为空")
	ErrExportExists   = errors.New("导出已存在")
	ErrExportNotFound = errors.New("导出不存在")
	ErrTooManyExports = errors.New("导出函数数量超出65535")
)

// ErrUnsupportedRelocation reports a relocation that cannot be applied to
// this image (DIR64 on a 32-bit image, or an unknown type).
var ErrUnsupportedRelocation = errors.New("不支持的重定位类型")

// ErrInvalidRelocationOffset is returned for entry offsets above 0xFFF.
var ErrInvalidRelocationOffset = errors.New("重定位偏移超出12位范围")
