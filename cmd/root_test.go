package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paideia-dilemma/tortillas/guest"
)

func TestResolveArch(t *testing.T) {
	orig := archFlag
	defer func() { archFlag = orig }()

	archFlag = "x86_64"
	a, err := resolveArch()
	require.NoError(t, err)
	require.Equal(t, guest.X86_64, a)

	archFlag = "x86_32"
	a, err = resolveArch()
	require.NoError(t, err)
	require.Equal(t, guest.X86_32, a)

	archFlag = "arm64"
	_, err = resolveArch()
	require.Error(t, err)
}
