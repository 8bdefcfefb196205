//go:build prodbgassert

package bifaci

const assertions = true
