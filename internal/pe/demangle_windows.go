//go:build windows

package pe

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	dbghelp                  = windows.NewLazySystemDLL("dbghelp.dll")
	procUnDecorateSymbolName = dbghelp.NewProc("UnDecorateSymbolName")
)

// undnameComplete requests the full undecorated declaration.
const undnameComplete = 0x0000

// Demangle undecorates an MSVC symbol name with dbghelp. The input is
// returned unchanged when it is not decorated or dbghelp is unavailable.
func Demangle(name string) string {
	if len(name) == 0 || name[0] != '?' {
		return name
	}
	if err := procUnDecorateSymbolName.Find(); err != nil {
		return name
	}
	in, err := windows.BytePtrFromString(name)
	if err != nil {
		return name
	}
	out := make([]byte, 1024)
	n, _, _ := procUnDecorateSymbolName.Call(
		uintptr(unsafe.Pointer(in)),
		uintptr(unsafe.Pointer(&out[0])),
		uintptr(len(out)),
		undnameComplete,
	)
	if n == 0 {
		return name
	}
	return string(out[:n])
}
