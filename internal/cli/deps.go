package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/ZacharyZcR/pepp/internal/pe"
	"github.com/fatih/color"
)

// PrintDependencyTree prints the dependency tree rooted at node.
func PrintDependencyTree(w io.Writer, node *pe.DependencyNode, prefix string, isLast bool) {
	if node == nil {
		return
	}

	marker := "├── "
	if isLast {
		marker = "└── "
	}
	if node.Depth == 0 {
		marker = ""
	}

	status := ""
	if !node.Found {
		status = " ⚠️ (NOT FOUND)"
	} else if node.Path == pe.SystemPath {
		status = " (system)"
	}

	_, _ = fmt.Fprintf(w, "%s%s%s%s\n", prefix, marker, node.Name, status)

	childPrefix := prefix
	if node.Depth > 0 {
		if isLast {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
	}

	for i, child := range node.Dependencies {
		PrintDependencyTree(w, child, childPrefix, i == len(node.Dependencies)-1)
	}
}

// PrintDependencyList prints a flat list of all dependencies.
func PrintDependencyList(w io.Writer, analysis *pe.DependencyAnalysis) {
	_, _ = fmt.Fprintf(w, "\n依赖摘要:\n")
	_, _ = fmt.Fprintf(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	_, _ = fmt.Fprintf(w, "总计依赖: %d 个\n", analysis.TotalCount)
	_, _ = fmt.Fprintf(w, "最大深度: %d\n", analysis.MaxDepth)
	_, _ = fmt.Fprintf(w, "循环依赖: %v\n", analysis.HasCycles)
	_, _ = fmt.Fprintf(w, "缺失依赖: %d 个\n\n", len(analysis.MissingDeps))

	if len(analysis.MissingDeps) > 0 {
		_, _ = fmt.Fprintf(w, "⚠️  缺失的 DLL:\n")
		for _, dll := range analysis.MissingDeps {
			_, _ = fmt.Fprintf(w, "  - %s\n", dll)
		}
		_, _ = fmt.Fprintf(w, "\n")
	}

	_, _ = fmt.Fprintf(w, "所有依赖:\n")
	for _, dll := range slices.Sorted(maps.Keys(analysis.AllDeps)) {
		path := analysis.AllDeps[dll]
		if path == pe.SystemPath {
			_, _ = fmt.Fprintf(w, "  ✓ %s (系统DLL)\n", dll)
			continue
		}
		_, _ = fmt.Fprintf(w, "  ✓ %s\n", dll)
		_, _ = fmt.Fprintf(w, "    → %s\n", path)
	}
}

// PrintDependencySummary prints the totals shown under the tree view.
func PrintDependencySummary(w io.Writer, analysis *pe.DependencyAnalysis) {
	red := color.New(color.FgRed)

	_, _ = fmt.Fprintf(w, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	_, _ = fmt.Fprintf(w, "总计: %d 个依赖\n", analysis.TotalCount)
	_, _ = fmt.Fprintf(w, "最大深度: %d\n", analysis.MaxDepth)
	if analysis.HasCycles {
		_, _ = fmt.Fprintf(w, "存在循环依赖\n")
	}
	if len(analysis.MissingDeps) > 0 {
		_, _ = red.Fprintf(w, "\n⚠️  缺失 %d 个依赖:\n", len(analysis.MissingDeps))
		for _, dll := range analysis.MissingDeps {
			_, _ = red.Fprintf(w, "  - %s\n", dll)
		}
	}
}
