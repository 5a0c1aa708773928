package loganalyzer

import "fmt"

// TestResult is the outcome Analyze produces for a single test run: the
// terminal status, the accumulated diagnostic messages, and whether the
// scheduler should retry the run (signals a transient/corrupted run
// rather than a genuine failure).
type TestResult struct {
	Status TestStatus
	Errors []string
	Retry  bool
}

// newResult starts a run assumed successful until a rule says otherwise.
func newResult() *TestResult {
	return &TestResult{Status: Success}
}

// setStatus applies status unless the result is already PANIC, which is
// sticky: once a run is known to have panicked, no later rule may
// downgrade it to a milder status.
func (r *TestResult) setStatus(status TestStatus) {
	if r.Status == Panic {
		return
	}
	r.Status = status
}

func (r *TestResult) addError(msg string) {
	r.Errors = append(r.Errors, msg)
}

func (r *TestResult) addErrorf(format string, args ...interface{}) {
	r.addError(fmt.Sprintf(format, args...))
}
