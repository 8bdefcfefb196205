//go:build !prodbgassert

package bifaci

// assertions panic on protocol violations instead of returning them. Build
// with -tags prodbgassert to enable.
const assertions = false
