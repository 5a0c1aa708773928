package ansiscan_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paideia-dilemma/tortillas/ansiscan"
)

func TestStripIdempotent(t *testing.T) {
	input := []byte("\x1b[31mred\x1b[0m text \x1b[1;4mbold-underline\x1b[0m")
	once := ansiscan.Strip(input)
	twice := ansiscan.Strip(once)
	require.Equal(t, once, twice)
	require.Equal(t, "red text bold-underline", string(once))
}

func TestStripNoEscapes(t *testing.T) {
	input := []byte("plain text, nothing to strip")
	require.Equal(t, input, ansiscan.Strip(input))
}

func TestScannerSplitsByScope(t *testing.T) {
	text := "[SYSCALL ]Syscall::EXIT: called, exit_code: 1237619379\n" +
		"[THREAD  ]kill: tid=3\n"

	blocks := ansiscan.All([]byte(text))
	require.Len(t, blocks, 2)
	require.Equal(t, "SYSCALL", blocks[0].Scope)
	require.Contains(t, blocks[0].Body, "exit_code: 1237619379")
	require.Equal(t, "THREAD", blocks[1].Scope)
	require.Contains(t, blocks[1].Body, "kill: tid=3")
}

func TestScannerKernelPanicMarker(t *testing.T) {
	text := "[SYSCALL ]boring startup line\n" +
		"KERNEL PANIC: bad opcode\nmore context\n"

	blocks := ansiscan.All([]byte(text))
	require.Len(t, blocks, 2)
	require.Equal(t, "KERNEL PANIC", blocks[1].Scope)
	require.Equal(t, "bad opcode\nmore context\n", blocks[1].Body)
}

func TestScannerAllowsBracketsInBody(t *testing.T) {
	text := "[SYSCALL ]array access a[3] failed\n[THREAD  ]done\n"

	blocks := ansiscan.All([]byte(text))
	require.Len(t, blocks, 2)
	require.Equal(t, "array access a[3] failed\n", blocks[0].Body)
}

func TestScannerDiscardsPreamble(t *testing.T) {
	text := "noise before any tag\n[SYSCALL ]real message\n"

	blocks := ansiscan.All([]byte(text))
	require.Len(t, blocks, 1)
	require.Equal(t, "SYSCALL", blocks[0].Scope)
	require.Equal(t, "real message\n", blocks[0].Body)
}

func TestScannerEmptyInput(t *testing.T) {
	require.Nil(t, ansiscan.All(nil))
}
