package loganalyzer

import (
	"strconv"
	"strings"

	"github.com/paideia-dilemma/tortillas/logparser"
	"github.com/paideia-dilemma/tortillas/testspec"
)

// Mode is the behavior one analyze rule applies once its named capture
// list is known. Modeling this as a closed set of types rather than a
// string-switch keeps each behavior's fields next to its logic and makes
// an unhandled mode a compile error, not a silent no-op.
type Mode interface {
	apply(ruleName string, data logparser.LogData, spec *testspec.TestSpec, r *TestResult)
}

// AnalyzeRule pairs a log-parser rule name with the behavior its captures
// should drive. Analyze skips a rule whose captures list is empty, except
// ExitCodes, which treats that emptiness itself as meaningful.
type AnalyzeRule struct {
	Name string
	Mode Mode
}

// AddAsError appends every capture as its own error message, unchanged,
// and optionally sets the result status.
type AddAsError struct {
	Status *TestStatus
}

func (m AddAsError) apply(name string, data logparser.LogData, _ *testspec.TestSpec, r *TestResult) {
	for _, capture := range data[name] {
		r.addError(capture)
	}
	if m.Status != nil {
		r.setStatus(*m.Status)
	}
}

// AddAsErrorJoin joins every capture into a single fenced error message,
// and optionally sets the result status.
type AddAsErrorJoin struct {
	Status *TestStatus
}

func (m AddAsErrorJoin) apply(name string, data logparser.LogData, _ *testspec.TestSpec, r *TestResult) {
	r.addError("```\n" + strings.Join(data[name], "") + "```\n")
	if m.Status != nil {
		r.setStatus(*m.Status)
	}
}

// AddAsErrorLast adds the first capture (the name is inherited from the
// reference tool's own naming, which does not match its behavior) as a
// single error message, and optionally sets the result status.
type AddAsErrorLast struct {
	Status *TestStatus
}

func (m AddAsErrorLast) apply(name string, data logparser.LogData, _ *testspec.TestSpec, r *TestResult) {
	r.addError(data[name][0])
	if m.Status != nil {
		r.setStatus(*m.Status)
	}
}

// expectPrefix marks a captured line as an expectation rather than
// observed output.
const expectPrefix = "TORTILLAS EXPECT: "

// ExpectStdout interprets its captured sequence as interleaved
// expectation markers and ordinary output: any captured line starting
// with expectPrefix is an expectation (checked, in order, against every
// other captured line); everything else is observed output.
type ExpectStdout struct {
	Status *TestStatus
}

func (m ExpectStdout) apply(name string, data logparser.LogData, _ *testspec.TestSpec, r *TestResult) {
	var expectations, observed []string
	for _, line := range data[name] {
		if strings.HasPrefix(line, expectPrefix) {
			expectations = append(expectations, strings.TrimPrefix(line, expectPrefix))
		} else {
			observed = append(observed, line)
		}
	}

	failed := false
	for _, exp := range expectations {
		want := strings.TrimSpace(exp)
		found := false
		for _, line := range observed {
			if strings.Contains(line, want) {
				found = true
				break
			}
		}
		if !found {
			r.addErrorf("Expected output: %s", want)
			failed = true
		}
	}

	if failed {
		r.addErrorf("Actual output:\n```\n%s\n```", strings.Join(observed, ""))
		if m.Status != nil {
			r.setStatus(*m.Status)
		} else {
			r.setStatus(Failed)
		}
	}
}

// ExitCodes checks captured exit-code strings (unsigned decimal) against
// the test spec's expected set. Unlike the other modes, it is dispatched
// even when its capture list is empty: a test that never printed its
// exit code line is itself a failure this mode must report.
type ExitCodes struct {
	Status *TestStatus
}

func (m ExitCodes) apply(name string, data logparser.LogData, spec *testspec.TestSpec, r *TestResult) {
	if r.Status == Panic {
		return
	}

	captures := data[name]
	if len(captures) == 0 {
		r.addError("Missing exit code!")
		if r.Status == Success {
			r.setStatus(Failed)
		}
		return
	}

	expected := make(map[uint64]bool)
	for _, c := range spec.ExpectedExitCodes() {
		expected[uint64(c)] = true
	}
	expectedList := make([]string, len(spec.ExpectedExitCodes()))
	for i, c := range spec.ExpectedExitCodes() {
		expectedList[i] = strconv.Itoa(c)
	}

	var unexpected []string
	for _, raw := range captures {
		code, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			r.addErrorf("Failed to parse exit code %s", raw)
			r.setStatus(Failed)
			r.Retry = true
			return
		}
		if !expected[code] {
			unexpected = append(unexpected, raw)
			r.addErrorf("Unexpected exit code %s", raw)
		}
	}

	if len(unexpected) > 0 {
		r.addErrorf("Expected exit code(s): %s", strings.Join(expectedList, ", "))
		if m.Status != nil {
			r.setStatus(*m.Status)
		} else {
			r.setStatus(Failed)
		}
	}
}
