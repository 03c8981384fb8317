//go:build debug

// Package assert checks internal invariants in debug builds. Build with
// -tags debug to turn violations into panics.
package assert

import "fmt"

// Invariant panics when ok is false. Use it for conditions the code itself
// guarantees, never for validating requests or configuration.
func Invariant(ok bool, msg string) {
	if !ok {
		panic(fmt.Sprintf("INVARIANT VIOLATION: %s", msg))
	}
}
