// Package cmd wires the Tortillas building blocks — config, testspec,
// snapshot, scheduler, and report — into a cobra CLI.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paideia-dilemma/tortillas/config"
	"github.com/paideia-dilemma/tortillas/guest"
	"github.com/paideia-dilemma/tortillas/tlog"
)

var (
	sourceRoot    string
	configPath    string
	buildDir      string
	archFlag      string
	syscallVector int
)

// RootCommand is the "tortillas" entry point; main wires it to os.Args.
var RootCommand = &cobra.Command{
	Use:   "tortillas",
	Short: "Parallel integration-test harness for the SWEB teaching operating system",
	Long: `tortillas boots an isolated emulator instance per test case against a
shared golden snapshot, drives the guest through the test binary, and
classifies the result from its monitor and interrupt trace.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	flags := RootCommand.PersistentFlags()
	flags.StringVar(&sourceRoot, "source", ".", "path to the SWEB kernel source tree")
	flags.StringVar(&configPath, "config", "tortillas_config.yml", "path to the tortillas YAML configuration file")
	flags.StringVar(&buildDir, "build-dir", "build", "build directory for per-run work dirs, the golden snapshot, and the summary report")
	flags.StringVar(&archFlag, "arch", string(guest.X86_64), "target architecture (x86_64 or x86_32)")
	flags.IntVar(&syscallVector, "syscall-vector", 80, "interrupt vector SWEB raises for a syscall return, as the number written after v= in the interrupt trace")
}

func resolveArch() (guest.Arch, error) {
	switch guest.Arch(archFlag) {
	case guest.X86_64:
		return guest.X86_64, nil
	case guest.X86_32:
		return guest.X86_32, nil
	default:
		return "", fmt.Errorf("unknown --arch %q (want %q or %q)", archFlag, guest.X86_64, guest.X86_32)
	}
}

func loadConfigAndLogger() (*config.Config, tlog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := tlog.SetLevel(cfg.LogLevel); err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	return cfg, tlog.New(), nil
}
