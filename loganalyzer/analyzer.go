// Package loganalyzer turns a parsed log plus a watchdog verdict into a
// single terminal TestResult, applying the test spec's analyze rules in
// order.
package loganalyzer

import (
	"github.com/paideia-dilemma/tortillas/logparser"
	"github.com/paideia-dilemma/tortillas/testspec"
	"github.com/paideia-dilemma/tortillas/watchdog"
)

// Analyze produces the terminal TestResult for one run. Disabled tests
// short-circuit to DISABLED without looking at the log at all. Otherwise
// the watchdog's verdict is folded in first, then each analyze rule runs
// in order against its named capture list. A rule is skipped when that
// list is empty, except ExitCodes, which treats an empty list itself as
// a failure worth reporting.
func Analyze(data logparser.LogData, wdStatus watchdog.Status, spec *testspec.TestSpec, rules []AnalyzeRule) *TestResult {
	if spec.Disabled {
		return &TestResult{Status: Disabled}
	}

	r := newResult()

	switch wdStatus {
	case watchdog.Stopped:
		r.addError("Test killed, because no more interrupts were coming")
	case watchdog.Timeout:
		if !spec.ExpectTimeout {
			r.addError("Test execution timeout")
			r.setStatus(TimedOut)
		}
	}

	for _, rule := range rules {
		_, isExitCodes := rule.Mode.(ExitCodes)
		if !isExitCodes && len(data[rule.Name]) == 0 {
			continue
		}
		rule.Mode.apply(rule.Name, data, spec, r)
	}

	return r
}
