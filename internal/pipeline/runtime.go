package pipeline

import (
	_ "embed"
)

// supportLibrary is linked into every extracted program. The transformation
// pass inserts calls to its functions at the target location.
//
//go:embed runtime/apexlib.c
var supportLibrary []byte

// SupportFunctions are defined by the support library.
var SupportFunctions = []string{"_apex_exit", "_apex_extract_int"}

// ProtectedFunctions are kept by the transformation even when nothing on
// the path calls them: the support library, the libc calls it makes and
// the intrinsics the pass relies on.
var ProtectedFunctions = append([]string{
	"exit",
	"printf",
	"llvm.dbg.declare",
	"llvm.stackrestore",
	"llvm.stacksave",
}, SupportFunctions...)

// SupportLibrary returns the C source of the support library.
func SupportLibrary() []byte {
	out := make([]byte, len(supportLibrary))
	copy(out, supportLibrary)
	return out
}
