// Package ansiscan strips terminal escapes from raw guest debug output and
// splits the cleaned text into scope blocks keyed by a bracketed tag (e.g.
// "[SYSCALL ]") or the literal "KERNEL PANIC: " marker.
package ansiscan

import "regexp"

// ansiPattern matches 7-bit C1 ANSI escape sequences: ESC followed by a
// single Fe byte, or ESC '[' (CSI) followed by parameter/intermediate
// bytes and a final byte. 8-bit C1 codes are intentionally not matched,
// matching the guest debug console's actual encoding.
var ansiPattern = regexp.MustCompile("\x1b(?:[@-Z\\\\-_]|\\[[0-?]*[ -/]*[@-~])")

// Strip removes ANSI escape sequences from data and returns the cleaned
// bytes. Strip is idempotent: Strip(Strip(x)) == Strip(x) for all x, since
// the second pass finds nothing left to remove.
func Strip(data []byte) []byte {
	return ansiPattern.ReplaceAll(data, nil)
}
