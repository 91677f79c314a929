//go:build !windows

package pe

// Demangle returns name unchanged; no undecorator is available off Windows.
func Demangle(name string) string {
	return name
}
