// Package main provides the pepp CLI tool.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ZacharyZcR/pepp/internal/cli"
	"github.com/ZacharyZcR/pepp/internal/pe"
	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if opts.path == "" {
		printUsage()
		os.Exit(1)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "pepp",
		Level:  hclog.LevelFromString(opts.logLevel),
		Output: os.Stderr,
	})

	if opts.patching() {
		err = patchPE(opts, logger)
	} else {
		err = analyzePE(opts, logger)
	}

	if err != nil {
		red := color.New(color.FgRed, color.Bold)
		_, _ = red.Fprintf(os.Stderr, "\n错误: %v\n\n", err)
		logger.Debug("command failed", "error", fmt.Sprintf("%+v", err))
		os.Exit(1)
	}
}

func openImage(path string, logger hclog.Logger) (*pe.Image, error) {
	img, err := pe.Open(path, pe.BitsAuto)
	if err != nil {
		return nil, err
	}
	img.SetLogger(logger.Named("image"))
	return img, nil
}

func analyzePE(opts *options, logger hclog.Logger) error {
	img, err := openImage(opts.path, logger)
	if err != nil {
		return err
	}

	info, err := img.Analyze()
	if err != nil {
		return err
	}

	reporter := cli.NewReporter(info)
	reporter.SetVerbose(opts.verbose)
	reporter.SetSuspiciousOnly(opts.suspiciousOnly)
	if opts.dump {
		reporter.Dump()
	} else {
		reporter.Print()
	}

	if opts.detectCaves {
		caves, err := img.FindCodeCaves(uint32(opts.minCaveSize))
		if err != nil {
			return err
		}
		cli.PrintCodeCaves(color.Output, caves, uint32(opts.minCaveSize))
	}
	if opts.listImports {
		cli.PrintImportList(color.Output, img.Imports().List())
	}
	if opts.listRelocs {
		printRelocations(img)
	}
	if opts.find != "" {
		if err := findPattern(img, opts); err != nil {
			return err
		}
	}
	if opts.analyzeDeps {
		return analyzeDependencies(opts)
	}
	return nil
}

func findPattern(img *pe.Image, opts *options) error {
	var section *pe.SectionHeader
	if opts.findSection != "" {
		s, ok := img.SectionByName(opts.findSection)
		if !ok {
			return errors.Wrapf(pe.ErrSectionNotFound, "%s", opts.findSection)
		}
		section = &s
	} else {
		last, ok := img.Header().LastSection()
		if !ok {
			return errors.Wrap(pe.ErrSectionNotFound, "映像没有节区")
		}
		section = &last
	}

	offsets, err := img.FindBinarySequence(section, opts.find)
	if err != nil {
		return err
	}
	cli.PrintMatches(color.Output, *section, opts.find, offsets)
	return nil
}

func printRelocations(img *pe.Image) {
	cyan := color.New(color.FgCyan, color.Bold)
	relocs := img.Relocations()

	fmt.Println()
	_, _ = cyan.Printf("========== 重定位块 (%d 个) ==========\n", relocs.NumBlocks())
	idx := 0
	for b := range relocs.Blocks() {
		fmt.Printf("%3d. 页面 RVA 0x%08X  大小 %d  (%d 项)\n", idx+1, b.PageRVA, b.Size, b.NumEntries())
		for _, e := range relocs.BlockEntries(idx) {
			if e.Raw == 0 {
				continue
			}
			fmt.Printf("       0x%08X  %s\n", e.RVA(), e.Type())
		}
		idx++
	}
	fmt.Printf("剩余空间: %d 字节\n", relocs.RemainingFreeBytes())
}

func analyzeDependencies(opts *options) error {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)

	fmt.Println()
	_, _ = cyan.Printf("========== 依赖分析 ==========\n")

	analysis, err := pe.AnalyzeDependencies(opts.path, int(opts.maxDepth))
	if err != nil {
		return errors.Wrap(err, "依赖分析失败")
	}

	if opts.flatList {
		cli.PrintDependencyList(color.Output, analysis)
	} else {
		_, _ = green.Printf("\n依赖树:\n")
		cli.PrintDependencyTree(color.Output, analysis.Root, "", false)
		cli.PrintDependencySummary(color.Output, analysis)
	}
	fmt.Println()
	return nil
}

func patchPE(opts *options, logger hclog.Logger) error {
	img, err := openImage(opts.path, logger)
	if err != nil {
		return err
	}

	output := opts.output
	if output == "" {
		output = opts.path
	}
	if output == opts.path {
		if err := createBackupIfNeeded(opts); err != nil {
			return err
		}
	}

	if err := applyPatches(img, opts); err != nil {
		return err
	}
	if opts.updateChecksum {
		cyan := color.New(color.FgCyan)
		_, _ = cyan.Println("正在更新PE校验和...")
		if err := img.UpdateChecksum(); err != nil {
			return err
		}
	}
	if err := img.WriteToFile(output); err != nil {
		return err
	}

	green := color.New(color.FgGreen, color.Bold)
	_, _ = green.Printf("\n✓ 已写入: %s\n\n", output)
	return nil
}

func applyPatches(img *pe.Image, opts *options) error {
	cyan := color.New(color.FgCyan)

	if opts.section != "" && opts.perms != "" {
		read, write, execute, err := parsePermissions(opts.perms)
		if err != nil {
			return err
		}
		_, _ = cyan.Printf("正在修改节区 '%s' 的权限...\n", opts.section)
		if err := img.SetSectionPermissions(opts.section, read, write, execute); err != nil {
			return err
		}
	}

	if opts.appendSection != "" {
		chars, err := sectionCharacteristics(opts.sectionPerms)
		if err != nil {
			return err
		}
		_, _ = cyan.Printf("正在添加新节区 '%s' (%d 字节, 权限: %s)...\n", opts.appendSection, opts.sectionSize, opts.sectionPerms)
		s, err := img.AppendSection(opts.appendSection, uint32(opts.sectionSize), chars)
		if err != nil {
			return err
		}
		_, _ = cyan.Printf("  RVA 0x%08X  文件偏移 0x%08X\n", s.VirtualAddress(), s.PointerToRawData())
	}

	if opts.extendSection != "" {
		if opts.extendBy == 0 {
			return pe.ErrZeroDelta
		}
		_, _ = cyan.Printf("正在扩展节区 '%s' (%d 字节)...\n", opts.extendSection, opts.extendBy)
		if err := img.ExtendSection(opts.extendSection, uint32(opts.extendBy)); err != nil {
			return err
		}
	}

	if opts.entry != "" {
		newEntry, err := parseHexAddress(opts.entry)
		if err != nil {
			return err
		}
		_, _ = cyan.Printf("当前入口点: 0x%X\n", img.EntryPoint())
		_, _ = cyan.Printf("正在修改入口点为: 0x%X...\n", newEntry)
		if err := img.PatchEntryPoint(uint32(newEntry)); err != nil {
			return err
		}
	}

	if opts.addImport != "" {
		dll, functions, err := parseImportSpec(opts.addImport)
		if err != nil {
			return err
		}
		_, _ = cyan.Printf("正在添加导入: %s (%d 个函数)...\n", dll, len(functions))
		if err := img.AddImport(dll, functions); err != nil {
			return err
		}
	}

	if err := applyExportPatches(img, opts); err != nil {
		return err
	}

	if opts.rebase != "" {
		newBase, err := parseHexAddress(opts.rebase)
		if err != nil {
			return err
		}
		_, _ = cyan.Printf("正在重定位映像: 0x%X -> 0x%X...\n", img.ImageBase(), newBase)
		if err := img.RelocateImage(newBase); err != nil {
			return err
		}
	}
	return nil
}

func applyExportPatches(img *pe.Image, opts *options) error {
	cyan := color.New(color.FgCyan)

	if opts.removeExport != "" {
		_, _ = cyan.Printf("正在删除导出: %s...\n", opts.removeExport)
		if err := img.RemoveExport(opts.removeExport); err != nil {
			return err
		}
	}
	if opts.addExport == "" && opts.modifyExport == "" {
		return nil
	}

	if opts.exportRVA == "" {
		return errors.New("-add-export 和 -modify-export 需要配合 -export-rva 使用")
	}
	rva, err := parseHexAddress(opts.exportRVA)
	if err != nil {
		return err
	}
	if opts.modifyExport != "" {
		_, _ = cyan.Printf("正在修改导出: %s -> 0x%X...\n", opts.modifyExport, rva)
		if err := img.ModifyExport(opts.modifyExport, uint32(rva)); err != nil {
			return err
		}
	}
	if opts.addExport != "" {
		_, _ = cyan.Printf("正在添加导出: %s -> 0x%X...\n", opts.addExport, rva)
		if err := img.AddExport(opts.addExport, uint32(rva)); err != nil {
			return err
		}
	}
	return nil
}

// parseImportSpec splits "user32.dll:MessageBoxA,MessageBoxW".
func parseImportSpec(spec string) (string, []string, error) {
	dll, list, ok := strings.Cut(spec, ":")
	dll = strings.TrimSpace(dll)
	if !ok || dll == "" {
		return "", nil, errors.Errorf("导入格式错误: %s (应为 DLL:Func1,Func2,...)", spec)
	}
	var functions []string
	for _, fn := range strings.Split(list, ",") {
		if fn = strings.TrimSpace(fn); fn != "" {
			functions = append(functions, fn)
		}
	}
	if len(functions) == 0 {
		return "", nil, errors.Errorf("导入格式错误: %s (至少需要一个函数)", spec)
	}
	return dll, functions, nil
}

func createBackupIfNeeded(opts *options) error {
	if !opts.backup {
		return nil
	}
	backupPath := opts.path + ".bak"
	data, err := os.ReadFile(opts.path)
	if err != nil {
		return errors.Wrap(err, "创建备份失败")
	}
	if err := os.WriteFile(backupPath, data, 0666); err != nil {
		return errors.Wrap(err, "创建备份失败")
	}
	green := color.New(color.FgGreen)
	_, _ = green.Printf("✓ 已创建备份: %s\n", backupPath)
	return nil
}

func parseHexAddress(addr string) (uint64, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, errors.Errorf("地址格式错误: %s (应为十六进制，例如: 0x1000)", addr)
	}
	return v, nil
}

func parsePermissions(perms string) (read, write, execute bool, err error) {
	if len(perms) != 3 {
		return false, false, false, errors.New("权限格式错误，应为3个字符，例如: R-X, RW-, RWX")
	}
	read = perms[0] == 'R' || perms[0] == 'r'
	write = perms[1] == 'W' || perms[1] == 'w'
	execute = perms[2] == 'X' || perms[2] == 'x'
	return read, write, execute, nil
}

func sectionCharacteristics(perms string) (uint32, error) {
	read, write, execute, err := parsePermissions(perms)
	if err != nil {
		return 0, err
	}
	var characteristics uint32
	if read {
		characteristics |= pe.SectionMemRead
	}
	if write {
		characteristics |= pe.SectionMemWrite
	}
	if execute {
		characteristics |= pe.SectionMemExecute | pe.SectionCntCode
	} else {
		characteristics |= pe.SectionCntInitializedData
	}
	return characteristics, nil
}

func printUsage() {
	cyan := color.New(color.FgCyan, color.Bold)
	_, _ = cyan.Println("\npepp - PE映像分析与修改工具")
	fmt.Println("\n分析模式用法:")
	fmt.Println("  pepp [选项] <PE文件路径>")
	fmt.Println("\n分析选项:")
	fmt.Println("  -v              详细模式：显示所有导入/导出函数（不限制数量）")
	fmt.Println("  -s              仅显示可疑节区（RWX权限，潜在安全风险）")
	fmt.Println("  -dump           以结构形式输出分析结果")
	fmt.Println("  -caves          检测Code Caves（可注入代码的空隙）")
	fmt.Println("  -min-cave-size  Code Cave最小大小（字节，默认: 32）")
	fmt.Println("  -list-imports   列出详细导入信息（所有函数，无截断）")
	fmt.Println("  -relocs         列出所有重定位块和重定位项")
	fmt.Println("  -find           在节区中搜索二进制模式 (例如: \"4D 5A ?? 00\")")
	fmt.Println("  -find-section   搜索的节区（默认: 最后一个节区）")
	fmt.Println("  -deps           分析依赖关系（递归检测所有DLL依赖）")
	fmt.Println("  -max-depth      依赖分析最大深度（默认: 3）")
	fmt.Println("  -flat           依赖分析使用扁平列表格式（默认: 树状）")
	fmt.Println("\n修改模式用法:")
	fmt.Println("  pepp -patch [修改选项] <PE文件路径>")
	fmt.Println("\n修改选项:")
	fmt.Println("  -section        要修改权限的节区名称 (与 -perms 一起使用)")
	fmt.Println("  -perms          新的权限 (R-X, RW-, RWX)")
	fmt.Println("  -append-section 添加新节区的名称 (最大8字符)")
	fmt.Println("  -section-size   新节区大小（字节，默认: 4096）")
	fmt.Println("  -section-perms  新节区权限（默认: RW-）")
	fmt.Println("  -extend-section 要扩展的节区名称 (与 -extend-by 一起使用)")
	fmt.Println("  -extend-by      扩展字节数")
	fmt.Println("  -entry          新的入口点地址 (十六进制)")
	fmt.Println("  -rebase         新的镜像基址 (十六进制，应用所有重定位)")
	fmt.Println("  -add-import     添加DLL导入（格式: DLL:Func1,Func2,...）")
	fmt.Println("  -add-export     添加导出函数（需配合 -export-rva）")
	fmt.Println("  -modify-export  修改导出函数RVA（需配合 -export-rva）")
	fmt.Println("  -remove-export  删除导出函数")
	fmt.Println("  -export-rva     导出函数RVA地址（十六进制，例如: 0x1000）")
	fmt.Println("  -update-checksum 修改后更新校验和（默认: true）")
	fmt.Println("  -backup         修改前创建备份文件（默认: true）")
	fmt.Println("  -o              输出文件（默认: 覆盖原文件）")
	fmt.Println("\n通用选项:")
	fmt.Println("  -log-level      日志级别 (trace, debug, info, warn, error，默认: warn)")
	fmt.Println()
}
