//go:build !debug

// Package assert checks internal invariants in debug builds.
package assert

// Invariant is a no-op without the debug build tag.
func Invariant(bool, string) {}
