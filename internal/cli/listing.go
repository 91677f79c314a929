package cli

import (
	"fmt"
	"io"

	"github.com/ZacharyZcR/pepp/internal/pe"
	"github.com/fatih/color"
)

// PrintCodeCaves lists caves found with the given minimum size.
func PrintCodeCaves(w io.Writer, caves []pe.CodeCave, minSize uint32) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	_, _ = fmt.Fprintln(w)
	_, _ = cyan.Fprintf(w, "========== Code Caves (最小 %d 字节) ==========\n", minSize)

	if len(caves) == 0 {
		_, _ = yellow.Fprintln(w, "未发现符合条件的 Code Caves")
		return
	}

	_, _ = green.Fprintf(w, "发现 %d 个可用 Code Caves:\n\n", len(caves))
	for i, cave := range caves {
		fillPattern := "0x00"
		if cave.FillByte == 0xCC {
			fillPattern = "0xCC (INT3)"
		}
		_, _ = fmt.Fprintf(w, "%d. 节区: %s\n", i+1, cave.Section)
		_, _ = fmt.Fprintf(w, "   文件偏移: 0x%08X\n", cave.Offset)
		_, _ = fmt.Fprintf(w, "   RVA:      0x%08X\n", cave.RVA)
		_, _ = fmt.Fprintf(w, "   大小:     %d 字节\n", cave.Size)
		_, _ = fmt.Fprintf(w, "   填充:     %s\n\n", fillPattern)
	}
}

// PrintImportList prints every imported symbol without truncation.
func PrintImportList(w io.Writer, imports []pe.ImportInfo) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)

	_, _ = fmt.Fprintln(w)
	_, _ = cyan.Fprintf(w, "========== 详细导入表 (%d 个DLL) ==========\n", len(imports))
	for i, imp := range imports {
		_, _ = green.Fprintf(w, "\n%d. %s (%d 个函数)\n", i+1, imp.DLL, len(imp.Functions))
		for j, fn := range imp.Functions {
			_, _ = fmt.Fprintf(w, "   %d. %s\n", j+1, fn)
		}
	}
	_, _ = fmt.Fprintln(w)
}

// PrintMatches prints pattern hits inside section s as file offsets and RVAs.
func PrintMatches(w io.Writer, s pe.SectionHeader, pattern string, offsets []uint32) {
	cyan := color.New(color.FgCyan, color.Bold)

	_, _ = fmt.Fprintln(w)
	_, _ = cyan.Fprintf(w, "========== 模式 %q 于节区 %s (%d 处) ==========\n", pattern, s.Name(), len(offsets))
	for i, off := range offsets {
		_, _ = fmt.Fprintf(w, "%4d. 文件偏移 0x%08X  RVA 0x%08X\n",
			i+1, s.PointerToRawData()+off, s.VirtualAddress()+off)
	}
}
