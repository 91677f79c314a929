package cli

import (
	"bytes"
	"testing"

	"github.com/ZacharyZcR/pepp/internal/pe"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func sampleInfo() *pe.Info {
	return &pe.Info{
		FilePath:     "sample.dll",
		FileSize:     3072,
		Architecture: "x64 (64位)",
		Bits:         pe.Bits64,
		Subsystem:    "Windows GUI",
		IsDLL:        true,
		EntryPoint:   0x1008,
		ImageBase:    0x180000000,
		Checksum:     &pe.ChecksumInfo{Stored: 0x1234, Computed: 0x4321},
		Sections: []pe.SectionInfo{
			{Name: ".text", VirtualAddress: 0x1000, VirtualSize: 0x100, Offset: 0x400, Size: 0x200, Permissions: "R-X", Entropy: 1.5},
			{Name: ".evil", VirtualAddress: 0x2000, VirtualSize: 0x100, Offset: 0x600, Size: 0x200, Permissions: "RWX", Entropy: 7.9},
		},
		DataDirectories: []pe.DirectoryInfo{{Index: 5, Name: "BaseReloc", VirtualAddress: 0x4000, Size: 12, Section: ".reloc"}},
		Imports:         []pe.ImportInfo{{DLL: "KERNEL32.dll", Functions: []string{"ExitProcess", "Ordinal_7"}}},
		Exports:         []string{"Alpha", "Beta"},
		Relocations:     pe.RelocationInfo{HasRelocations: true, BlockCount: 1, TotalEntries: 2},
	}
}

func render(t *testing.T, fn func(r *Reporter)) string {
	t.Helper()
	color.NoColor = true
	var out bytes.Buffer
	r := NewReporter(sampleInfo())
	r.SetOutput(&out)
	fn(r)
	return out.String()
}

func TestReporterPrint(t *testing.T) {
	out := render(t, func(r *Reporter) { r.Print() })

	for _, want := range []string{
		"sample.dll",
		"3.0 KiB",
		"(PE64)",
		"0x180000000",
		"✗ 无效 (存储: 0x00001234, 计算: 0x00004321)",
		"【节区信息】(共 2 个)",
		".evil",
		"BaseReloc",
		"重定位块",
		"KERNEL32.dll (2 个函数)",
		"- Ordinal_7",
		"2. Beta",
	} {
		assert.Contains(t, out, want)
	}
}

func TestReporterSuspiciousOnly(t *testing.T) {
	out := render(t, func(r *Reporter) {
		r.SetSuspiciousOnly(true)
		r.printSections()
	})
	assert.Contains(t, out, "【可疑节区】(共 1 个)")
	assert.Contains(t, out, ".evil")
	assert.NotContains(t, out, ".text")
}

func TestReporterTruncatesExports(t *testing.T) {
	info := sampleInfo()
	info.Exports = make([]string, 25)
	for i := range info.Exports {
		info.Exports[i] = "fn"
	}
	color.NoColor = true
	var out bytes.Buffer
	r := NewReporter(info)
	r.SetOutput(&out)

	r.printExports()
	assert.Contains(t, out.String(), "... (还有 5 个函数)")

	out.Reset()
	r.SetVerbose(true)
	r.printExports()
	assert.NotContains(t, out.String(), "还有")
}

func TestReporterDump(t *testing.T) {
	out := render(t, func(r *Reporter) { r.Dump() })
	assert.Contains(t, out, "FilePath: (string) (len=10) \"sample.dll\"")
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", formatSize(512))
	assert.Equal(t, "1.5 KiB", formatSize(1536))
	assert.Equal(t, "2.0 MiB", formatSize(2*1024*1024))
}

func TestPrintDependencyTree(t *testing.T) {
	root := &pe.DependencyNode{Name: "app.exe", Found: true, Dependencies: []*pe.DependencyNode{
		{Name: "a.dll", Found: true, Depth: 1, Dependencies: []*pe.DependencyNode{
			{Name: "c.dll", Found: false, Depth: 2},
		}},
		{Name: "b.dll", Found: true, Depth: 1},
	}}

	var out bytes.Buffer
	PrintDependencyTree(&out, root, "", false)
	assert.Equal(t, "app.exe\n"+
		"├── a.dll\n"+
		"│   └── c.dll ⚠️ (NOT FOUND)\n"+
		"└── b.dll\n", out.String())
}

func TestPrintDependencyList(t *testing.T) {
	color.NoColor = true
	analysis := &pe.DependencyAnalysis{
		AllDeps:     map[string]string{"kernel32.dll": pe.SystemPath, "a.dll": "/tmp/a.dll"},
		MissingDeps: []string{"c.dll"},
		TotalCount:  2,
		MaxDepth:    1,
	}

	var out bytes.Buffer
	PrintDependencyList(&out, analysis)
	text := out.String()
	assert.Contains(t, text, "总计依赖: 2 个")
	assert.Contains(t, text, "  - c.dll")
	assert.Contains(t, text, "  ✓ kernel32.dll (系统DLL)")
	assert.Less(t, bytes.Index(out.Bytes(), []byte("a.dll")), bytes.Index(out.Bytes(), []byte("kernel32.dll")))

	out.Reset()
	PrintDependencySummary(&out, analysis)
	assert.Contains(t, out.String(), "缺失 1 个依赖")
}

func TestPrintCodeCaves(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	PrintCodeCaves(&out, []pe.CodeCave{{Section: ".text", Offset: 0x40D, RVA: 0x100D, Size: 243, FillByte: 0xCC}}, 32)
	assert.Contains(t, out.String(), "0xCC (INT3)")
	assert.Contains(t, out.String(), "0x0000100D")

	out.Reset()
	PrintCodeCaves(&out, nil, 32)
	assert.Contains(t, out.String(), "未发现符合条件的 Code Caves")
}
