package main

import (
	"flag"
)

type options struct {
	path string

	// Analysis.
	verbose        bool
	suspiciousOnly bool
	dump           bool
	detectCaves    bool
	minCaveSize    uint
	listImports    bool
	listRelocs     bool
	find           string
	findSection    string
	analyzeDeps    bool
	maxDepth       uint
	flatList       bool

	// Patching.
	patch          bool
	section        string
	perms          string
	appendSection  string
	sectionSize    uint
	sectionPerms   string
	extendSection  string
	extendBy       uint
	entry          string
	rebase         string
	addImport      string
	addExport      string
	modifyExport   string
	removeExport   string
	exportRVA      string
	updateChecksum bool
	backup         bool
	output         string

	logLevel string
}

// patching reports whether the command writes the image back.
func (o *options) patching() bool {
	return o.patch
}

func parseFlags(args []string) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("pepp", flag.ContinueOnError)

	fs.BoolVar(&opts.verbose, "v", false, "详细模式：显示所有导入/导出函数")
	fs.BoolVar(&opts.suspiciousOnly, "s", false, "仅显示可疑节区（RWX权限）")
	fs.BoolVar(&opts.dump, "dump", false, "以结构形式输出分析结果")
	fs.BoolVar(&opts.detectCaves, "caves", false, "检测Code Caves（可注入代码的空隙）")
	fs.UintVar(&opts.minCaveSize, "min-cave-size", 32, "Code Cave最小大小（字节）")
	fs.BoolVar(&opts.listImports, "list-imports", false, "列出详细导入信息（所有函数）")
	fs.BoolVar(&opts.listRelocs, "relocs", false, "列出重定位块")
	fs.StringVar(&opts.find, "find", "", "搜索二进制模式")
	fs.StringVar(&opts.findSection, "find-section", "", "搜索的节区名称")
	fs.BoolVar(&opts.analyzeDeps, "deps", false, "分析依赖关系（递归检测所有DLL依赖）")
	fs.UintVar(&opts.maxDepth, "max-depth", 3, "依赖分析最大深度")
	fs.BoolVar(&opts.flatList, "flat", false, "依赖分析使用扁平列表格式")

	fs.BoolVar(&opts.patch, "patch", false, "修改模式：修改PE文件")
	fs.StringVar(&opts.section, "section", "", "要修改的节区名称")
	fs.StringVar(&opts.perms, "perms", "", "新的权限 (例如: R-X, RW-, RWX)")
	fs.StringVar(&opts.appendSection, "append-section", "", "添加新节区的名称 (最大8字符)")
	fs.UintVar(&opts.sectionSize, "section-size", 4096, "新节区大小（字节）")
	fs.StringVar(&opts.sectionPerms, "section-perms", "RW-", "新节区权限 (R-X, RW-, RWX)")
	fs.StringVar(&opts.extendSection, "extend-section", "", "要扩展的节区名称")
	fs.UintVar(&opts.extendBy, "extend-by", 0, "扩展字节数")
	fs.StringVar(&opts.entry, "entry", "", "新的入口点地址 (十六进制，例如: 0x1000)")
	fs.StringVar(&opts.rebase, "rebase", "", "新的镜像基址 (十六进制)")
	fs.StringVar(&opts.addImport, "add-import", "", "添加DLL导入 (格式: DLL:Func1,Func2,...)")
	fs.StringVar(&opts.addExport, "add-export", "", "添加导出函数（函数名）")
	fs.StringVar(&opts.modifyExport, "modify-export", "", "修改导出函数（函数名）")
	fs.StringVar(&opts.removeExport, "remove-export", "", "删除导出函数（函数名）")
	fs.StringVar(&opts.exportRVA, "export-rva", "", "导出函数RVA地址（十六进制，用于add-export和modify-export）")
	fs.BoolVar(&opts.updateChecksum, "update-checksum", true, "修改后更新校验和")
	fs.BoolVar(&opts.backup, "backup", true, "修改前创建备份文件")
	fs.StringVar(&opts.output, "o", "", "输出文件")

	fs.StringVar(&opts.logLevel, "log-level", "warn", "日志级别")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	opts.path = fs.Arg(0)
	return opts, nil
}
