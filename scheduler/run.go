package scheduler

import (
	"fmt"

	"github.com/paideia-dilemma/tortillas/loganalyzer"
	"github.com/paideia-dilemma/tortillas/testspec"
)

// TestRun binds one TestSpec and a run number to a working directory and
// the TestResult produced so far. Created by the Scheduler before the
// queue fills, mutated only by its owning worker.
type TestRun struct {
	Spec      testspec.TestSpec
	RunNumber int
	WorkDir   string
	Result    loganalyzer.TestResult

	retries int
}

// ID uniquely identifies a run by (test name, run number).
func (r *TestRun) ID() string {
	return fmt.Sprintf("%s#%d", r.Spec.TestName, r.RunNumber)
}
