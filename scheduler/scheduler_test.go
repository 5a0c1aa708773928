package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/paideia-dilemma/tortillas/config"
	"github.com/paideia-dilemma/tortillas/loganalyzer"
	"github.com/paideia-dilemma/tortillas/snapshot"
	"github.com/paideia-dilemma/tortillas/testspec"
	"github.com/paideia-dilemma/tortillas/tlog"
)

func newTestScheduler(t *testing.T, threads int) *Scheduler {
	t.Helper()
	cfg := &config.Config{Threads: threads, DefaultTestTimeout: time.Second}
	golden := &snapshot.GoldenSnapshot{DiskImage: "unused", VMStateLabel: "unused"}
	return New(cfg, golden, "x86_64", 80, t.TempDir(), tlog.New())
}

func specs(names ...string) []testspec.TestSpec {
	out := make([]testspec.TestSpec, len(names))
	for i, n := range names {
		out[i] = testspec.TestSpec{TestName: n}
	}
	return out
}

func TestSeedOrdersByNameDescending(t *testing.T) {
	s := newTestScheduler(t, 1)
	s.Seed(specs("alpha", "zeta", "mid"), 1)

	var order []string
	var mu sync.Mutex
	s.execute = func(_ context.Context, run *TestRun) {
		mu.Lock()
		order = append(order, run.Spec.TestName)
		mu.Unlock()
		run.Result = loganalyzer.TestResult{Status: loganalyzer.Success}
	}

	require.True(t, s.Run(context.Background()))
	require.Equal(t, []string{"zeta", "mid", "alpha"}, order)
}

func TestRunBoundedConcurrency(t *testing.T) {
	defer leaktest.Check(t)()

	const threads = 2
	s := newTestScheduler(t, threads)
	s.Seed(specs("a", "b", "c", "d", "e"), 1)

	var current, max int32
	s.execute = func(_ context.Context, run *TestRun) {
		n := atomic.AddInt32(&current, 1)
		for {
			m := atomic.LoadInt32(&max)
			if n <= m || atomic.CompareAndSwapInt32(&max, m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		run.Result = loganalyzer.TestResult{Status: loganalyzer.Success}
	}

	require.True(t, s.Run(context.Background()))
	require.LessOrEqual(t, int(max), threads)
}

func TestRunRetriesUpToCapThenFails(t *testing.T) {
	s := newTestScheduler(t, 1)
	s.Seed(specs("flaky"), 1)

	var attempts int32
	s.execute = func(_ context.Context, run *TestRun) {
		atomic.AddInt32(&attempts, 1)
		run.Result = loganalyzer.TestResult{Status: loganalyzer.Failed, Retry: true}
	}

	success := s.Run(context.Background())
	require.False(t, success)
	require.Equal(t, int32(DefaultMaxRetries+1), attempts)

	finished := s.Finished()
	require.Len(t, finished, 1)
	require.False(t, finished[0].Result.Retry, "retry flag must be cleared once the retry cap is hit")
}

func TestAllSucceededFalseOnFailure(t *testing.T) {
	s := newTestScheduler(t, 2)
	s.Seed(specs("good", "bad"), 1)

	s.execute = func(_ context.Context, run *TestRun) {
		if run.Spec.TestName == "bad" {
			run.Result = loganalyzer.TestResult{Status: loganalyzer.Failed}
			return
		}
		run.Result = loganalyzer.TestResult{Status: loganalyzer.Success}
	}

	require.False(t, s.Run(context.Background()))
}

func TestCancelStopsBeforeQueueDrains(t *testing.T) {
	s := newTestScheduler(t, 1)
	s.Seed(specs("one", "two", "three"), 1)
	s.Cancel()

	ran := 0
	s.execute = func(_ context.Context, run *TestRun) {
		ran++
		run.Result = loganalyzer.TestResult{Status: loganalyzer.Success}
	}

	s.Run(context.Background())
	require.Equal(t, 0, ran, "no new run should start once cancelled")
}

func TestRepeatProducesDistinctRunNumbers(t *testing.T) {
	s := newTestScheduler(t, 1)
	s.Seed(specs("only"), 3)

	var runNumbers []int
	s.execute = func(_ context.Context, run *TestRun) {
		runNumbers = append(runNumbers, run.RunNumber)
		run.Result = loganalyzer.TestResult{Status: loganalyzer.Success}
	}

	require.True(t, s.Run(context.Background()))
	require.ElementsMatch(t, []int{1, 2, 3}, runNumbers)
}
