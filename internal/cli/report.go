// Package cli provides command-line interface utilities.
package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/ZacharyZcR/pepp/internal/pe"
	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
)

// Reporter formats and prints PE analysis results.
type Reporter struct {
	info           *pe.Info
	out            io.Writer
	verbose        bool
	suspiciousOnly bool
}

// NewReporter creates a new reporter for the given PE info.
func NewReporter(info *pe.Info) *Reporter {
	return &Reporter{info: info, out: color.Output}
}

// SetOutput redirects the report.
func (r *Reporter) SetOutput(w io.Writer) {
	r.out = w
}

// SetVerbose enables verbose mode (show all functions).
func (r *Reporter) SetVerbose(verbose bool) {
	r.verbose = verbose
}

// SetSuspiciousOnly enables suspicious-only mode (show RWX sections only).
func (r *Reporter) SetSuspiciousOnly(suspicious bool) {
	r.suspiciousOnly = suspicious
}

// Print outputs the complete analysis report.
func (r *Reporter) Print() {
	r.printHeader()
	r.printBasicInfo()
	r.printSections()
	r.printDataDirectories()
	r.printRelocations()
	r.printImports()
	r.printExports()
}

// Dump writes the raw analysis structure.
func (r *Reporter) Dump() {
	cfg := spew.ConfigState{Indent: "  ", DisableMethods: true, DisablePointerAddresses: true}
	cfg.Fdump(r.out, r.info)
}

func (r *Reporter) printf(format string, a ...any) {
	_, _ = fmt.Fprintf(r.out, format, a...)
}

func (r *Reporter) heading(format string, a ...any) {
	yellow := color.New(color.FgYellow, color.Bold)
	_, _ = yellow.Fprintf(r.out, format, a...)
}

func (r *Reporter) printHeader() {
	cyan := color.New(color.FgCyan, color.Bold)
	_, _ = cyan.Fprintln(r.out, "\n╔════════════════════════════════════════╗")
	_, _ = cyan.Fprintln(r.out, "║            PEPP 分析报告               ║")
	_, _ = cyan.Fprintln(r.out, "╚════════════════════════════════════════╝")
}

func (r *Reporter) printBasicInfo() {
	r.heading("\n【基本信息】\n")

	kind := "可执行文件"
	if r.info.IsDLL {
		kind = "DLL"
	}
	r.printf("  %-20s: %s\n", "文件路径", r.info.FilePath)
	r.printf("  %-20s: %s\n", "文件大小", formatSize(r.info.FileSize))
	r.printf("  %-20s: %s (PE%d)\n", "架构", r.info.Architecture, r.info.Bits)
	r.printf("  %-20s: %s\n", "类型", kind)
	r.printf("  %-20s: %s\n", "子系统", r.info.Subsystem)
	r.printf("  %-20s: 0x%X\n", "入口点", r.info.EntryPoint)
	r.printf("  %-20s: 0x%X\n", "镜像基址", r.info.ImageBase)

	if r.info.Checksum != nil {
		r.printf("  %-20s: ", "校验和")
		switch {
		case r.info.Checksum.Stored == 0:
			_, _ = color.New(color.FgHiBlack).Fprint(r.out, "未设置")
		case r.info.Checksum.Valid:
			_, _ = color.New(color.FgGreen).Fprintf(r.out, "✓ 有效 (0x%08X)", r.info.Checksum.Stored)
		default:
			_, _ = color.New(color.FgRed, color.Bold).Fprintf(r.out, "✗ 无效 (存储: 0x%08X, 计算: 0x%08X)",
				r.info.Checksum.Stored, r.info.Checksum.Computed)
		}
		r.printf("\n")
	}
}

func (r *Reporter) printSections() {
	sections := r.info.Sections

	if r.suspiciousOnly {
		var suspicious []pe.SectionInfo
		for _, s := range sections {
			if s.Permissions == "RWX" {
				suspicious = append(suspicious, s)
			}
		}
		sections = suspicious
		r.heading("\n【可疑节区】(共 %d 个)\n", len(sections))
	} else {
		r.heading("\n【节区信息】(共 %d 个)\n", len(sections))
	}

	if len(sections) == 0 {
		if r.suspiciousOnly {
			r.printf("  未发现可疑节区\n")
		} else {
			r.printf("  未发现节区\n")
		}
		return
	}

	rule := strings.Repeat("-", 108)
	r.printf("%s\n", rule)
	r.printf("  %-10s %-12s %-12s %-12s %-12s %-8s %-8s %-12s\n",
		"名称", "虚拟地址", "虚拟大小", "文件偏移", "原始大小", "权限", "熵", "特征")
	r.printf("%s\n", rule)

	for _, section := range sections {
		// RWX is the classic injection target.
		permColor := color.New(color.FgWhite)
		if section.Permissions == "RWX" {
			permColor = color.New(color.FgRed, color.Bold)
		} else if strings.Contains(section.Permissions, "X") {
			permColor = color.New(color.FgYellow)
		}
		entropyColor := color.New(color.FgWhite)
		if section.Entropy > 7.0 {
			entropyColor = color.New(color.FgMagenta)
		}

		r.printf("  %-10s 0x%08X   %-12s 0x%08X   %-12s ",
			section.Name,
			section.VirtualAddress,
			formatSize(int64(section.VirtualSize)),
			section.Offset,
			formatSize(int64(section.Size)),
		)
		_, _ = permColor.Fprintf(r.out, "%-8s", section.Permissions)
		_, _ = entropyColor.Fprintf(r.out, " %-8.2f", section.Entropy)
		r.printf(" 0x%08X\n", section.Characteristics)
	}
	r.printf("%s\n", rule)
}

func (r *Reporter) printDataDirectories() {
	r.heading("\n【数据目录】(共 %d 个)\n", len(r.info.DataDirectories))
	if len(r.info.DataDirectories) == 0 {
		r.printf("  未发现数据目录\n")
		return
	}
	for _, d := range r.info.DataDirectories {
		section := d.Section
		if section == "" {
			section = "-"
		}
		r.printf("  %2d. %-14s RVA 0x%08X  大小 %-10s 节区 %s\n",
			d.Index, d.Name, d.VirtualAddress, formatSize(int64(d.Size)), section)
	}
}

func (r *Reporter) printRelocations() {
	r.heading("\n【重定位】\n")
	if !r.info.Relocations.HasRelocations {
		r.printf("  无重定位表 (映像不可重定位)\n")
		return
	}
	r.printf("  %-20s: %d\n", "重定位块", r.info.Relocations.BlockCount)
	r.printf("  %-20s: %d\n", "重定位项", r.info.Relocations.TotalEntries)
}

func (r *Reporter) printImports() {
	r.heading("\n【导入表】(共 %d 个DLL)\n", len(r.info.Imports))

	if len(r.info.Imports) == 0 {
		r.printf("  未发现导入\n")
		return
	}

	green := color.New(color.FgGreen)
	for i, imp := range r.info.Imports {
		funcCount := len(imp.Functions)
		_, _ = green.Fprintf(r.out, "  %3d. %s (%d 个函数)\n", i+1, imp.DLL, funcCount)

		maxDisplay := 10
		if r.verbose {
			maxDisplay = funcCount
		}
		displayCount := min(funcCount, maxDisplay)

		for j := 0; j < displayCount; j++ {
			r.printf("       - %s\n", imp.Functions[j])
		}
		if funcCount > maxDisplay {
			_, _ = color.New(color.FgHiBlack).Fprintf(r.out, "       ... (还有 %d 个函数)\n", funcCount-maxDisplay)
		}
	}
	r.printf("\n")
}

func (r *Reporter) printExports() {
	r.heading("\n【导出表】(共 %d 个函数)\n", len(r.info.Exports))

	if len(r.info.Exports) == 0 {
		r.printf("  未发现导出\n")
		return
	}

	maxDisplay := 20
	if r.verbose {
		maxDisplay = len(r.info.Exports)
	}
	displayCount := min(len(r.info.Exports), maxDisplay)

	green := color.New(color.FgGreen)
	for i := 0; i < displayCount; i++ {
		_, _ = green.Fprintf(r.out, "  %3d. %s\n", i+1, r.info.Exports[i])
	}
	if len(r.info.Exports) > maxDisplay {
		_, _ = color.New(color.FgHiBlack).Fprintf(r.out, "  ... (还有 %d 个函数)\n", len(r.info.Exports)-maxDisplay)
	}
	r.printf("\n")
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
