// Package report defines the Reporter boundary that consumes terminal
// test results. The core orchestration engine never depends on any
// concrete Reporter; only a minimal Markdown implementation is provided
// here to keep the CLI runnable.
package report

import (
	"fmt"
	"os"
	"strings"

	"github.com/paideia-dilemma/tortillas/loganalyzer"
)

// Entry is the terminal outcome of one TestRun, the smallest projection
// a Reporter needs — deliberately independent of the scheduler's
// TestRun type so this package never depends on core orchestration.
type Entry struct {
	TestName  string
	RunNumber int
	Status    loganalyzer.TestStatus
	Errors    []string
	LogPath   string
}

// Reporter consumes the suite's terminal results. Out of scope for the
// core; this interface is the only contract the scheduler's caller needs
// to satisfy.
type Reporter interface {
	Report(entries []Entry) error
}

// MarkdownReporter writes a summary table followed by a per-failure
// section to Path (the run command defaults it to
// <build-dir>/tortillas_summary.md).
type MarkdownReporter struct {
	Path string
}

func (m MarkdownReporter) Report(entries []Entry) error {
	var b strings.Builder

	b.WriteString("# Tortillas summary\n\n")
	b.WriteString("| test | run | status |\n|---|---|---|\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "| %s | %d | %s |\n", e.TestName, e.RunNumber, e.Status)
	}

	var failures []Entry
	for _, e := range entries {
		switch e.Status {
		case loganalyzer.Failed, loganalyzer.Panic, loganalyzer.TimedOut:
			failures = append(failures, e)
		}
	}

	if len(failures) > 0 {
		b.WriteString("\n## Failures\n")
		for _, e := range failures {
			fmt.Fprintf(&b, "\n### %s (run %d) — %s\n\n", e.TestName, e.RunNumber, e.Status)
			fmt.Fprintf(&b, "Log: `%s`\n\n", e.LogPath)
			for _, msg := range e.Errors {
				fmt.Fprintf(&b, "- %s\n", msg)
			}
		}
	}

	return os.WriteFile(m.Path, []byte(b.String()), 0o644)
}
