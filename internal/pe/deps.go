package pe

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// DependencyNode represents a node in the dependency tree.
type DependencyNode struct {
	Name         string            // DLL name
	Path         string            // Full path (if found)
	Found        bool              // Whether the DLL was found
	Dependencies []*DependencyNode // Child dependencies
	Depth        int               // Depth in dependency tree
}

// DependencyAnalysis contains the complete dependency analysis result.
type DependencyAnalysis struct {
	Root        *DependencyNode   // Root PE file
	AllDeps     map[string]string // All dependencies: name -> path
	MissingDeps []string          // List of missing dependencies
	TotalCount  int               // Total number of unique dependencies
	MaxDepth    int               // Maximum dependency depth
	HasCycles   bool              // Whether circular dependencies exist
}

// SystemPath marks a dependency that is resolved by the OS and not walked.
const SystemPath = "<system>"

// systemDLLs is a list of well-known Windows system DLLs that we skip recursion for.
var systemDLLs = map[string]bool{
	"kernel32.dll": true,
	"ntdll.dll":    true,
	"user32.dll":   true,
	"gdi32.dll":    true,
	"advapi32.dll": true,
	"ws2_32.dll":   true,
	"msvcrt.dll":   true,
	"shell32.dll":  true,
	"ole32.dll":    true,
	"comctl32.dll": true,
	"comdlg32.dll": true,
	"oleaut32.dll": true,
	"shlwapi.dll":  true,
	"wininet.dll":  true,
	"rpcrt4.dll":   true,
	"crypt32.dll":  true,
	"version.dll":  true,
	"winspool.drv": true,
	"secur32.dll":  true,
	"netapi32.dll": true,
	"userenv.dll":  true,
	"psapi.dll":    true,
	"iphlpapi.dll": true,
	"bcrypt.dll":   true,
	"setupapi.dll": true,
	"cfgmgr32.dll": true,
	"wintrust.dll": true,
	"imagehlp.dll": true,
	"dbghelp.dll":  true,
	"imm32.dll":    true,
	"msimg32.dll":  true,
	"powrprof.dll": true,
	"uxtheme.dll":  true,
	"dwmapi.dll":   true,
}

// DependencyWalker resolves the DLL import graph of an image on disk.
type DependencyWalker struct {
	// SearchPaths are consulted after the importing file's own directory.
	SearchPaths []string
	MaxDepth    int

	analysis *DependencyAnalysis
	visited  map[string]bool
}

// DefaultSearchPaths mirrors the Windows loader order, followed by PATH and
// the usual Wine prefixes for cross-platform analysis.
func DefaultSearchPaths() []string {
	paths := []string{
		"C:\\Windows\\System32",
		"C:\\Windows\\SysWOW64",
		"C:\\Windows",
		".",
	}
	if pathEnv := os.Getenv("PATH"); pathEnv != "" {
		paths = append(paths, filepath.SplitList(pathEnv)...)
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(homeDir, ".wine/drive_c/windows/system32"),
			filepath.Join(homeDir, ".wine/drive_c/windows/syswow64"),
		)
	}
	return paths
}

// AnalyzeDependencies performs a complete dependency analysis of a PE file.
func AnalyzeDependencies(filePath string, maxDepth int) (*DependencyAnalysis, error) {
	w := &DependencyWalker{SearchPaths: DefaultSearchPaths(), MaxDepth: maxDepth}
	return w.Analyze(filePath)
}

// Analyze walks the import graph rooted at filePath.
func (w *DependencyWalker) Analyze(filePath string) (*DependencyAnalysis, error) {
	w.analysis = &DependencyAnalysis{
		AllDeps:     make(map[string]string),
		MissingDeps: make([]string, 0),
	}
	w.visited = make(map[string]bool)

	w.analysis.Root = w.walk(filePath, 0)
	w.analysis.TotalCount = len(w.analysis.AllDeps)
	return w.analysis, nil
}

func (w *DependencyWalker) walk(filePath string, depth int) *DependencyNode {
	fileName := filepath.Base(filePath)
	normalizedName := strings.ToLower(fileName)

	if w.visited[normalizedName] {
		w.analysis.HasCycles = true
		return &DependencyNode{Name: fileName, Path: filePath, Found: true, Depth: depth}
	}
	w.visited[normalizedName] = true
	defer func() { w.visited[normalizedName] = false }()

	if depth > w.analysis.MaxDepth {
		w.analysis.MaxDepth = depth
	}

	if _, err := os.Stat(filePath); err != nil {
		return &DependencyNode{Name: fileName, Path: filePath, Found: false, Depth: depth}
	}

	node := &DependencyNode{
		Name:         fileName,
		Path:         filePath,
		Found:        true,
		Depth:        depth,
		Dependencies: make([]*DependencyNode, 0),
	}
	if depth >= w.MaxDepth {
		return node
	}

	img, err := Open(filePath, BitsAuto)
	if err != nil {
		return node // not a PE file, or unreadable
	}

	baseDir := filepath.Dir(filePath)
	for _, dllName := range importedDLLs(img) {
		if isSystemDLL(dllName) {
			w.analysis.AllDeps[dllName] = SystemPath
			continue
		}

		dllPath := w.find(dllName, baseDir)
		if dllPath == "" {
			if !contains(w.analysis.MissingDeps, dllName) {
				w.analysis.MissingDeps = append(w.analysis.MissingDeps, dllName)
			}
			node.Dependencies = append(node.Dependencies, &DependencyNode{
				Name:  dllName,
				Found: false,
				Depth: depth + 1,
			})
			continue
		}

		w.analysis.AllDeps[dllName] = dllPath
		node.Dependencies = append(node.Dependencies, w.walk(dllPath, depth+1))
	}
	return node
}

// importedDLLs returns the lower-cased module names in sorted order.
func importedDLLs(img *Image) []string {
	seen := make(map[string]bool)
	for m := range img.Imports().Modules() {
		if m.Name != "" {
			seen[strings.ToLower(m.Name)] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// find locates a DLL next to the importer or on the search path.
func (w *DependencyWalker) find(dllName, baseDir string) string {
	if !strings.HasSuffix(strings.ToLower(dllName), ".dll") {
		dllName += ".dll"
	}
	for _, dir := range append([]string{baseDir}, w.SearchPaths...) {
		fullPath := filepath.Join(dir, dllName)
		if _, err := os.Stat(fullPath); err == nil {
			return fullPath
		}
	}
	return ""
}

// isSystemDLL checks if a DLL is a well-known Windows system DLL.
func isSystemDLL(dllName string) bool {
	normalized := strings.ToLower(dllName)
	if systemDLLs[normalized] {
		return true
	}
	// API sets
	return strings.HasPrefix(normalized, "api-ms-win-") || strings.HasPrefix(normalized, "ext-ms-")
}

func contains(slice []string, item string) bool {
	return slices.ContainsFunc(slice, func(s string) bool { return strings.EqualFold(s, item) })
}
