package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/paideia-dilemma/tortillas/config"
	"github.com/paideia-dilemma/tortillas/guest"
	"github.com/paideia-dilemma/tortillas/loganalyzer"
	"github.com/paideia-dilemma/tortillas/report"
	"github.com/paideia-dilemma/tortillas/scheduler"
	"github.com/paideia-dilemma/tortillas/snapshot"
	"github.com/paideia-dilemma/tortillas/tlog"
)

const progressInterval = 2 * time.Second

func init() {
	var (
		testGlob         string
		categories, tags []string
		repeat           int
		skipSetup        bool
		baseImage        string
		reportPath       string
		noProgress       bool
	)

	runCommand := &cobra.Command{
		Use:   "run",
		Short: "Run test cases against the golden snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			arch, err := resolveArch()
			if err != nil {
				return err
			}

			specs, err := discoverAndFilter(testGlob, categories, tags)
			if err != nil {
				return err
			}
			if len(specs) == 0 {
				return fmt.Errorf("no tests matched --test-glob=%q --category=%v --tag=%v", testGlob, categories, tags)
			}

			golden, err := resolveGolden(cfg, arch, skipSetup, baseImage, logger)
			if err != nil {
				return err
			}

			sched := scheduler.New(cfg, golden, arch, syscallVector, buildDir, logger)
			sched.Seed(specs, repeat)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigc := make(chan os.Signal, 1)
			signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigc)
			go func() {
				if _, ok := <-sigc; ok {
					logger.Warn("interrupt received, cancelling remaining tests")
					sched.Cancel()
					cancel()
				}
			}()

			stopProgress := make(chan struct{})
			if !noProgress {
				go printProgress(cmd, sched, stopProgress)
			}

			allPassed := sched.Run(ctx)
			close(stopProgress)

			finished := sched.Finished()
			if reportPath == "" {
				reportPath = filepath.Join(buildDir, "tortillas_summary.md")
			}
			reporter := report.MarkdownReporter{Path: reportPath}
			if err := reporter.Report(toReportEntries(finished)); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", reportPath)

			if !allPassed {
				return fmt.Errorf("%d test run(s) did not succeed", countFailed(finished))
			}
			return nil
		},
	}

	runCommand.Flags().StringVar(&testGlob, "test-glob", "", "shell-style glob over test names")
	runCommand.Flags().StringSliceVar(&categories, "category", nil, "restrict to these categories (repeatable)")
	runCommand.Flags().StringSliceVar(&tags, "tag", nil, "restrict to tests carrying at least one of these tags (repeatable)")
	runCommand.Flags().IntVar(&repeat, "repeat", 1, "number of times to run each matched test")
	runCommand.Flags().BoolVar(&skipSetup, "skip-setup", false, "reuse the existing golden snapshot instead of building one")
	runCommand.Flags().StringVar(&baseImage, "base-image", "", "path to the freshly built SWEB disk image (ignored with --skip-setup)")
	runCommand.Flags().StringVar(&reportPath, "report", "", "path for the Markdown summary report (default <build-dir>/tortillas_summary.md)")
	runCommand.Flags().BoolVar(&noProgress, "no-progress", false, "suppress periodic progress output")
	RootCommand.AddCommand(runCommand)
}

func resolveGolden(cfg *config.Config, arch guest.Arch, skipSetup bool, baseImage string, logger tlog.Logger) (*snapshot.GoldenSnapshot, error) {
	if skipSetup {
		return snapshot.Reuse(filepath.Join(buildDir, "SWEB-snapshot.qcow2"))
	}
	if baseImage == "" {
		return nil, fmt.Errorf("--base-image is required unless --skip-setup is set")
	}
	return snapshot.Create(snapshot.Config{
		BuildDir:      buildDir,
		BaseImage:     baseImage,
		Arch:          arch,
		SyscallVector: syscallVector,
		BootupMagic:   cfg.ScTortillasBootup,
		BootupTimeout: cfg.BootupTimeout,
		Logger:        logger,
	})
}

func countFailed(runs []*scheduler.TestRun) int {
	n := 0
	for _, r := range runs {
		switch r.Result.Status {
		case loganalyzer.Failed, loganalyzer.Panic, loganalyzer.TimedOut:
			n++
		}
	}
	return n
}

func toReportEntries(runs []*scheduler.TestRun) []report.Entry {
	entries := make([]report.Entry, len(runs))
	for i, r := range runs {
		entries[i] = report.Entry{
			TestName:  r.Spec.TestName,
			RunNumber: r.RunNumber,
			Status:    r.Result.Status,
			Errors:    r.Result.Errors,
			LogPath:   filepath.Join(r.WorkDir, "out.log"),
		}
	}
	return entries
}

func printProgress(cmd *cobra.Command, sched *scheduler.Scheduler, stop <-chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c := sched.Counters()
			fmt.Fprintf(cmd.OutOrStdout(), "running=%d success=%d failed=%d retried=%d\n",
				c.Running.Count(), c.Success.Count(), c.Failed.Count(), c.Retried.Count())
		case <-stop:
			return
		}
	}
}
