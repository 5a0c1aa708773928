// Package scheduler runs an ordered queue of TestRuns across a bounded
// worker pool, cloning the golden snapshot per run, driving the guest
// through one test, and handing the trace to logparser/loganalyzer.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	gometrics "github.com/rcrowley/go-metrics"

	"github.com/paideia-dilemma/tortillas/config"
	"github.com/paideia-dilemma/tortillas/guest"
	"github.com/paideia-dilemma/tortillas/loganalyzer"
	"github.com/paideia-dilemma/tortillas/logparser"
	"github.com/paideia-dilemma/tortillas/snapshot"
	"github.com/paideia-dilemma/tortillas/testspec"
	"github.com/paideia-dilemma/tortillas/tlog"
)

const (
	// DefaultMaxRetries bounds how many times a single run is
	// re-enqueued for a transient (log-corruption) failure; the spec
	// recommends a small constant over an unbounded retry policy.
	DefaultMaxRetries = 2

	idleSleep          = time.Millisecond
	logFlushDelay      = 300 * time.Millisecond
	postExitSettleTime = 300 * time.Millisecond
)

// Counters exposes the scheduler's rcrowley/go-metrics counters, read by
// the CLI's progress display.
type Counters struct {
	Running  gometrics.Counter
	Success  gometrics.Counter
	Failed   gometrics.Counter
	Retried  gometrics.Counter
}

// Scheduler runs a queue of TestRuns with bounded concurrency.
type Scheduler struct {
	cfg           *config.Config
	golden        *snapshot.GoldenSnapshot
	arch          guest.Arch
	syscallVector int
	buildDir      string
	maxRetries    int
	logger        tlog.Logger

	registry gometrics.Registry
	counters Counters

	mu        sync.Mutex
	queue     []*TestRun
	running   map[string]*TestRun
	finished  []*TestRun
	cancelled bool

	// execute runs a single TestRun to completion, filling in its
	// Result. Overridable (package-internal tests only) so scheduling
	// logic can be exercised without a real emulator.
	execute func(ctx context.Context, run *TestRun)
}

// New constructs a Scheduler ready to have Seed and Run called on it.
func New(cfg *config.Config, golden *snapshot.GoldenSnapshot, arch guest.Arch, syscallVector int, buildDir string, logger tlog.Logger) *Scheduler {
	registry := gometrics.NewRegistry()
	s := &Scheduler{
		cfg:           cfg,
		golden:        golden,
		arch:          arch,
		syscallVector: syscallVector,
		buildDir:      buildDir,
		maxRetries:    DefaultMaxRetries,
		logger:        logger,
		registry:      registry,
		running:       make(map[string]*TestRun),
		counters: Counters{
			Running: gometrics.NewCounter(),
			Success: gometrics.NewCounter(),
			Failed:  gometrics.NewCounter(),
			Retried: gometrics.NewCounter(),
		},
	}
	registry.Register("tortillas.running", s.counters.Running)
	registry.Register("tortillas.success", s.counters.Success)
	registry.Register("tortillas.failed", s.counters.Failed)
	registry.Register("tortillas.retried", s.counters.Retried)
	s.execute = s.runOne
	return s
}

// Counters returns the scheduler's live progress counters.
func (s *Scheduler) Counters() Counters { return s.counters }

// Seed populates the work queue from specs, each repeated repeat times.
// The initial processing order is a stable sort by test name descending,
// then by run number, to diversify the queue; the queue itself is a LIFO
// stack so retried runs (pushed back on completion) are reprocessed
// before older, deeper-queued work.
func (s *Scheduler) Seed(specs []testspec.TestSpec, repeat int) {
	ordered := make([]testspec.TestSpec, len(specs))
	copy(ordered, specs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].TestName > ordered[j].TestName
	})

	var runs []*TestRun
	for _, spec := range ordered {
		for n := 1; n <= repeat; n++ {
			runs = append(runs, &TestRun{
				Spec:      spec,
				RunNumber: n,
				WorkDir:   filepath.Join(s.buildDir, fmt.Sprintf("%s-%d", spec.TestName, n)),
			})
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(runs) - 1; i >= 0; i-- {
		s.queue = append(s.queue, runs[i])
	}
}

// Cancel requests a clean shutdown: running workers finish their current
// run (teardown still happens fully), and the queue drains without
// starting new runs.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
}

// Run drives the worker pool until the queue and running set are both
// empty, then reports whether every finished run's terminal status was
// outside {FAILED, PANIC, TIMEOUT}.
func (s *Scheduler) Run(ctx context.Context) bool {
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.cfg.Threads)

	for {
		s.mu.Lock()
		if len(s.running) == 0 && (len(s.queue) == 0 || s.cancelled) {
			s.mu.Unlock()
			break
		}
		if len(s.queue) == 0 || s.cancelled {
			s.mu.Unlock()
			time.Sleep(idleSleep)
			continue
		}

		run := s.queue[len(s.queue)-1]
		s.queue = s.queue[:len(s.queue)-1]
		s.running[run.ID()] = run
		s.counters.Running.Inc(1)
		s.mu.Unlock()

		sem <- struct{}{}
		wg.Add(1)
		go func(run *TestRun) {
			defer wg.Done()
			defer func() { <-sem }()
			s.execute(ctx, run)
			s.complete(run)
		}(run)
	}

	wg.Wait()
	return s.allSucceeded()
}

func (s *Scheduler) complete(run *TestRun) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, run.ID())
	s.counters.Running.Dec(1)

	if run.Result.Retry && run.retries < s.maxRetries {
		run.retries++
		run.Result = loganalyzer.TestResult{Status: loganalyzer.NotRun}
		run.WorkDir = filepath.Join(s.buildDir, fmt.Sprintf("%s-%d-%s", run.Spec.TestName, run.RunNumber, uuid.NewString()[:8]))
		s.counters.Retried.Inc(1)
		s.queue = append(s.queue, run)
		return
	}

	run.Result.Retry = false
	s.finished = append(s.finished, run)
	switch run.Result.Status {
	case loganalyzer.Failed, loganalyzer.Panic, loganalyzer.TimedOut:
		s.counters.Failed.Inc(1)
	default:
		s.counters.Success.Inc(1)
	}
}

func (s *Scheduler) allSucceeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, run := range s.finished {
		switch run.Result.Status {
		case loganalyzer.Failed, loganalyzer.Panic, loganalyzer.TimedOut:
			return false
		}
	}
	return true
}

// Finished returns the runs that have reached a terminal state. Safe to
// call only after Run has returned.
func (s *Scheduler) Finished() []*TestRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*TestRun, len(s.finished))
	copy(out, s.finished)
	return out
}

// runOne drives a single TestRun through the full per-run lifecycle:
// clone the golden disk, boot from saved state, launch the test binary,
// wait for the finished signal, analyze the trace, and tear down.
func (s *Scheduler) runOne(ctx context.Context, run *TestRun) {
	logger := s.logger.Named(run.ID())

	if err := resetWorkDir(run.WorkDir); err != nil {
		run.Result = loganalyzer.TestResult{Status: loganalyzer.Failed, Retry: true, Errors: []string{err.Error()}}
		return
	}

	diskPath := filepath.Join(run.WorkDir, "SWEB-snapshot.qcow2")
	if err := copyFile(s.golden.DiskImage, diskPath); err != nil {
		run.Result = loganalyzer.TestResult{Status: loganalyzer.Failed, Retry: true, Errors: []string{err.Error()}}
		return
	}

	gc, err := guest.Open(guest.Options{
		WorkDir:        run.WorkDir,
		DiskImage:      diskPath,
		Arch:           s.arch,
		VMStateLabel:   s.golden.VMStateLabel,
		EnableWatchdog: true,
		Logger:         logger,
	})
	if err != nil {
		run.Result = loganalyzer.TestResult{Status: loganalyzer.Failed, Retry: true, Errors: []string{err.Error()}}
		return
	}
	defer gc.Close()

	if run.Spec.PraSelector != nil {
		if err := gc.TypeInput(*run.Spec.PraSelector + ".sweb\n"); err != nil {
			run.Result = loganalyzer.TestResult{Status: loganalyzer.Failed, Retry: true, Errors: []string{err.Error()}}
			return
		}
		if _, err := gc.WaitUntil(ctx, s.syscallVector,
			map[string]uint64{s.arch.ReturnRegister(): s.cfg.ScTortillasFinished}, s.cfg.DefaultTestTimeout); err != nil {
			run.Result = loganalyzer.TestResult{Status: loganalyzer.Failed, Retry: true, Errors: []string{err.Error()}}
			return
		}
		if err := gc.ResetWatchdog(); err != nil {
			run.Result = loganalyzer.TestResult{Status: loganalyzer.Failed, Retry: true, Errors: []string{err.Error()}}
			return
		}
	}

	if err := gc.TypeInput(run.Spec.TestName + ".sweb\n"); err != nil {
		run.Result = loganalyzer.TestResult{Status: loganalyzer.Failed, Retry: true, Errors: []string{err.Error()}}
		return
	}

	timeout := s.cfg.DefaultTestTimeout
	if run.Spec.TimeoutSecs > 0 {
		timeout = time.Duration(run.Spec.TimeoutSecs) * time.Second
	}

	status, err := gc.WaitUntil(ctx, s.syscallVector,
		map[string]uint64{s.arch.ReturnRegister(): s.cfg.ScTortillasFinished}, timeout)
	if err != nil {
		run.Result = loganalyzer.TestResult{Status: loganalyzer.Failed, Retry: true, Errors: []string{err.Error()}}
		return
	}

	time.Sleep(logFlushDelay)

	data, err := logparser.Parse(filepath.Join(run.WorkDir, "out.log"), s.cfg.ParseRules)
	if err != nil {
		run.Result = loganalyzer.TestResult{Status: loganalyzer.Failed, Retry: true, Errors: []string{err.Error()}}
		return
	}

	run.Result = *loganalyzer.Analyze(data, status, &run.Spec, s.cfg.AnalyzeRules)

	if err := gc.TypeInput("exit\n"); err != nil {
		logger.Warnf("exit keystrokes failed: %v", err)
	}
	time.Sleep(postExitSettleTime)
}

func resetWorkDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("scheduler: reset work dir: %w", err)
	}
	return os.MkdirAll(dir, 0o755)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("scheduler: open golden image: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("scheduler: create run disk: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("scheduler: clone golden image: %w", err)
	}
	return nil
}
