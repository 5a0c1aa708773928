package testspec_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/paideia-dilemma/tortillas/testspec"
)

func writeTest(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validHeader = `/*
---
category: syscall
description: exercises the exit syscall
tags: [smoke, fast]
expect_exit_codes: [0, 1]
---
*/
#include <stdio.h>
int main(void) { return 0; }
`

func TestParseHeaderValid(t *testing.T) {
	dir := t.TempDir()
	path := writeTest(t, dir, "test_exit.c", validHeader)

	spec, ok, err := testspec.ParseHeader(path)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "test_exit", spec.TestName)
	require.Equal(t, "syscall", spec.Category)
	require.ElementsMatch(t, []string{"smoke", "fast"}, spec.Tags)
	require.Equal(t, []int{0, 1}, spec.ExpectExitCodes)
}

func TestParseHeaderNoComment(t *testing.T) {
	dir := t.TempDir()
	path := writeTest(t, dir, "test_plain.c", "int main(void) { return 0; }\n")

	_, ok, err := testspec.ParseHeader(path)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestParseHeaderMissingRequiredField(t *testing.T) {
	dir := t.TempDir()
	body := "/*\n---\ntags: [x]\n---\n*/\nint main(void) {}\n"
	path := writeTest(t, dir, "test_bad.c", body)

	_, ok, err := testspec.ParseHeader(path)
	require.Error(t, err)
	require.False(t, ok)
}

func TestExpectedExitCodesDefaultsToZero(t *testing.T) {
	spec := testspec.TestSpec{}
	require.Equal(t, []int{0}, spec.ExpectedExitCodes())
}

func TestDiscoverSortsDescendingByName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, testspec.TestFolder), 0o755))
	testsDir := filepath.Join(dir, testspec.TestFolder)

	writeTest(t, testsDir, "test_alpha.c", validHeader)
	writeTest(t, testsDir, "test_zeta.c", validHeader)
	writeTest(t, testsDir, "not_a_test.c", "int main(void){}\n")

	specs, err := testspec.Discover(dir, "")
	require.NoError(t, err)
	require.Len(t, specs, 2)
	require.Equal(t, "test_zeta", specs[0].TestName)
	require.Equal(t, "test_alpha", specs[1].TestName)
}

func TestFilterByNameGlob(t *testing.T) {
	specs := []testspec.TestSpec{{TestName: "test_alpha"}, {TestName: "test_beta"}}
	out, err := testspec.FilterByNameGlob(specs, "test_a*")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "test_alpha", out[0].TestName)
}

func TestFilterByCategoryAndTags(t *testing.T) {
	specs := []testspec.TestSpec{
		{TestName: "a", Category: "syscall", Tags: []string{"smoke"}},
		{TestName: "b", Category: "thread", Tags: []string{"slow"}},
	}

	out := testspec.FilterByCategoryAndTags(specs, []string{"syscall"}, nil)
	require.Len(t, out, 1)
	require.Equal(t, "a", out[0].TestName)

	out = testspec.FilterByCategoryAndTags(specs, nil, []string{"slow"})
	require.Len(t, out, 1)
	require.Equal(t, "b", out[0].TestName)
}

func TestParseHeaderFullSpecShape(t *testing.T) {
	dir := t.TempDir()
	path := writeTest(t, dir, "test_exit.c", validHeader)

	spec, ok, err := testspec.ParseHeader(path)
	require.NoError(t, err)
	require.True(t, ok)

	want := testspec.TestSpec{
		TestName:        "test_exit",
		SourcePath:      path,
		Category:        "syscall",
		Description:     "exercises the exit syscall",
		Tags:            []string{"smoke", "fast"},
		ExpectExitCodes: []int{0, 1},
	}
	if diff := cmp.Diff(want, spec); diff != "" {
		t.Errorf("parsed spec mismatch (-want +got):\n%s", diff)
	}
}
