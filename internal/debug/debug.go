// Package debug collects small invariant-checking helpers used throughout
// the tree packages, the way internal/tree.debug.Assert is used in the
// teacher codebase to document preconditions a caller is expected to have
// already established.
package debug

import "fmt"

// Assert panics if cond is false. It is meant for invariants that a bug
// in this package itself would violate, never for validating caller input
// (which should return an error instead).
func Assert(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf("assertion failed: "+format, args...))
	}
}
