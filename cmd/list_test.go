package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paideia-dilemma/tortillas/testspec"
)

func writeTestSource(t *testing.T, dir, name, category string, tags []string) {
	t.Helper()
	tagsYAML := "[]"
	if len(tags) > 0 {
		tagsYAML = "[" + tags[0]
		for _, tag := range tags[1:] {
			tagsYAML += ", " + tag
		}
		tagsYAML += "]"
	}
	content := "/*\n---\n" +
		"category: " + category + "\n" +
		"description: generated fixture\n" +
		"tags: " + tagsYAML + "\n" +
		"---\n*/\nint main() { return 0; }\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".c"), []byte(content), 0o644))
}

func TestDiscoverAndFilter(t *testing.T) {
	root := t.TempDir()
	testDir := filepath.Join(root, testspec.TestFolder)
	require.NoError(t, os.MkdirAll(testDir, 0o755))

	writeTestSource(t, testDir, "threading_a", "threading", []string{"fast"})
	writeTestSource(t, testDir, "threading_b", "threading", []string{"slow"})
	writeTestSource(t, testDir, "memory_a", "memory", []string{"fast"})

	origSource := sourceRoot
	sourceRoot = root
	defer func() { sourceRoot = origSource }()

	specs, err := discoverAndFilter("", []string{"threading"}, nil)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	specs, err = discoverAndFilter("", nil, []string{"fast"})
	require.NoError(t, err)
	require.Len(t, specs, 2)

	specs, err = discoverAndFilter("memory_*", nil, nil)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	require.Equal(t, "memory_a", specs[0].TestName)
}
