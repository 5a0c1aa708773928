// Package testspec discovers SWEB userspace test sources and parses the
// YAML header each one carries, producing the immutable per-test metadata
// the scheduler and log analyzer consume.
package testspec

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// TestFolder is where SWEB keeps its userspace test sources, relative to
// the kernel source tree root.
const TestFolder = "userspace/tests"

// TestSpec is the immutable metadata parsed from one test source file's
// leading YAML header.
type TestSpec struct {
	TestName    string `yaml:"-"`
	SourcePath  string `yaml:"-"`
	Category    string `yaml:"category"`
	Description string `yaml:"description"`

	Disabled        bool  `yaml:"disabled"`
	TimeoutSecs     int   `yaml:"timeout"`
	ExpectTimeout   bool  `yaml:"expect_timeout"`
	ExpectExitCodes []int `yaml:"expect_exit_codes"`

	Tags []string `yaml:"tags"`

	// PraSelector, if set, names a second program to run (and wait to
	// finish) inside the guest before the named test itself starts.
	PraSelector *string `yaml:"pra_selector"`
}

// ExpectedExitCodes returns the configured expect_exit_codes, defaulting
// to {0} when the header left it empty.
func (s TestSpec) ExpectedExitCodes() []int {
	if len(s.ExpectExitCodes) == 0 {
		return []int{0}
	}
	return s.ExpectExitCodes
}

// HasTag reports whether tag is present in s.Tags.
func (s TestSpec) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// headerMarker is the delimiter introducing (and, if repeated, closing) the
// YAML document inside a test source file's leading block comment.
const headerMarker = "---"

// ParseHeader reads path and extracts its leading test-spec header, if it
// has one. A file with no recognizable header is not an error: ok is
// false and err is nil, so callers silently skip non-test source files.
func ParseHeader(path string) (spec TestSpec, ok bool, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return TestSpec{}, false, err
	}

	lines := strings.Split(string(raw), "\n")
	if len(lines) < 2 || !strings.HasPrefix(strings.TrimSpace(lines[0]), "/*") {
		return TestSpec{}, false, nil
	}

	markerLine := -1
	for i := 1; i <= 2 && i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == headerMarker {
			markerLine = i
			break
		}
	}
	if markerLine == -1 {
		return TestSpec{}, false, nil
	}

	var yamlLines []string
	for _, line := range lines[markerLine+1:] {
		trimmed := strings.TrimSpace(line)
		if trimmed == headerMarker || strings.Contains(line, "*/") {
			break
		}
		yamlLines = append(yamlLines, line)
	}

	dec := yaml.NewDecoder(strings.NewReader(strings.Join(yamlLines, "\n")))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return TestSpec{}, false, fmt.Errorf("%s: malformed test header: %w", path, err)
	}

	if spec.Category == "" || spec.Description == "" {
		return TestSpec{}, false, fmt.Errorf("%s: test header missing required category/description", path)
	}

	spec.TestName = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	spec.SourcePath = path
	return spec, true, nil
}

// Discover walks sourceRoot/userspace/tests for "*.c" files whose name
// starts with testGlob, parsing each one's header. Files with no
// recognizable header are skipped. The result is sorted by test name,
// descending, matching the reference implementation's queue-diversity
// ordering.
func Discover(sourceRoot, testGlob string) ([]TestSpec, error) {
	dir := filepath.Join(sourceRoot, TestFolder)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var specs []TestSpec
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".c" {
			continue
		}
		if testGlob != "" && !strings.HasPrefix(e.Name(), testGlob) {
			continue
		}

		spec, ok, err := ParseHeader(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		specs = append(specs, spec)
	}

	sort.Slice(specs, func(i, j int) bool {
		return specs[i].TestName > specs[j].TestName
	})
	return specs, nil
}

// FilterByCategoryAndTags keeps only specs whose category is in
// categories (when non-empty) and that carry at least one tag in tags
// (when non-empty).
func FilterByCategoryAndTags(specs []TestSpec, categories, tags []string) []TestSpec {
	out := specs

	if len(categories) > 0 {
		filtered := out[:0:0]
		for _, s := range out {
			if contains(categories, s.Category) {
				filtered = append(filtered, s)
			}
		}
		out = filtered
	}

	if len(tags) > 0 {
		filtered := out[:0:0]
		for _, s := range out {
			for _, tag := range tags {
				if s.HasTag(tag) {
					filtered = append(filtered, s)
					break
				}
			}
		}
		out = filtered
	}

	return out
}

// FilterByNameGlob compiles pattern (a shell-style glob over test names,
// the CLI surface's "test-name glob") and keeps only matching specs.
func FilterByNameGlob(specs []TestSpec, pattern string) ([]TestSpec, error) {
	if pattern == "" || pattern == "*" {
		return specs, nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid test-name glob %q: %w", pattern, err)
	}

	var out []TestSpec
	for _, s := range specs {
		if g.Match(s.TestName) {
			out = append(out, s)
		}
	}
	return out, nil
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}
