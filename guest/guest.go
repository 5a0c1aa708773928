// Package guest provides scoped ownership of a single emulator process: a
// GuestController creates the monitor pipes, spawns the emulator, and
// guarantees release of every resource it acquired on every exit path.
package guest

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/paideia-dilemma/tortillas/tlog"
	"github.com/paideia-dilemma/tortillas/watchdog"
)

// Arch selects the emulated CPU architecture, which determines the
// emulator binary and the register that carries syscall return values.
type Arch string

const (
	X86_64 Arch = "x86_64"
	X86_32 Arch = "x86_32"
)

// ReturnRegister is the architectural register the guest places its
// magic return values in.
func (a Arch) ReturnRegister() string {
	if a == X86_32 {
		return "EAX"
	}
	return "RAX"
}

func (a Arch) qemuBinary() string {
	if a == X86_32 {
		return "qemu-system-i386"
	}
	return "qemu-system-x86_64"
}

const monitorSettleDelay = 200 * time.Millisecond

// Options configures a GuestController.
type Options struct {
	WorkDir        string
	DiskImage      string
	Arch           Arch
	VMStateLabel   string // empty means boot fresh, no loadvm
	EnableWatchdog bool
	Logger         tlog.Logger
}

// GuestController owns one emulator process and its monitor pipes.
// Callers must call Close exactly once, on every code path, including
// error paths — use Open followed by a deferred Close.
type GuestController struct {
	opts Options

	cmd            *exec.Cmd
	monitorIn      *os.File
	monitorInPath  string
	monitorOutPath string
	outLogPath     string
	intLogPath     string

	watchdog *watchdog.Watchdog

	mu     sync.Mutex
	closed bool
}

// Open creates the run directory's monitor pipes, spawns the emulator,
// opens the monitor channel for writing, and — if requested — starts an
// InterruptWatchdog over the guest's interrupt trace. Any failure during
// this sequence tears down everything already acquired before returning
// the error.
func Open(opts Options) (gc *GuestController, err error) {
	if err := os.MkdirAll(opts.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("guest: create work dir: %w", err)
	}

	base := filepath.Join(opts.WorkDir, "qemu")
	gc = &GuestController{
		opts:           opts,
		monitorInPath:  base + ".in",
		monitorOutPath: base + ".out",
		outLogPath:     filepath.Join(opts.WorkDir, "out.log"),
		intLogPath:     filepath.Join(opts.WorkDir, "int.log"),
	}

	defer func() {
		if err != nil {
			gc.Close()
			gc = nil
		}
	}()

	if err := syscall.Mkfifo(gc.monitorInPath, 0o600); err != nil && !os.IsExist(err) {
		return nil, fmt.Errorf("guest: create monitor-in pipe: %w", err)
	}
	if err := syscall.Mkfifo(gc.monitorOutPath, 0o600); err != nil && !os.IsExist(err) {
		return nil, fmt.Errorf("guest: create monitor-out pipe: %w", err)
	}

	args := gc.qemuArgs()
	gc.cmd = exec.Command(opts.Arch.qemuBinary(), args...)
	if err := gc.cmd.Start(); err != nil {
		return nil, fmt.Errorf("guest: start emulator: %w", err)
	}

	// Opening the writer end of a FIFO blocks until a reader exists;
	// the emulator itself is the reader, so this can only proceed once
	// it has attached to the monitor chardev.
	monitorIn, err := os.OpenFile(gc.monitorInPath, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("guest: open monitor-in pipe: %w", err)
	}
	gc.monitorIn = monitorIn

	if opts.EnableWatchdog {
		gc.watchdog = watchdog.New(gc.intLogPath, gc, opts.Logger.Named("watchdog"))
		if err := gc.watchdog.Start(); err != nil {
			return nil, fmt.Errorf("guest: start watchdog: %w", err)
		}
	}

	return gc, nil
}

func (gc *GuestController) qemuArgs() []string {
	args := []string{
		"-m", "32M",
		"-hda", gc.opts.DiskImage,
		"-debugcon", "file:" + gc.outLogPath,
		"-monitor", "pipe:" + filepath.Join(gc.opts.WorkDir, "qemu"),
		"-display", "none",
		"-serial", "none",
	}
	if gc.opts.VMStateLabel != "" {
		args = append(args, "-loadvm", gc.opts.VMStateLabel)
	}
	return args
}

// MonitorCommand writes cmd terminated by a newline to the monitor
// channel, then sleeps briefly: a documented race exists where writes in
// rapid succession can be mis-received by the emulator's monitor parser.
func (gc *GuestController) MonitorCommand(cmd string) error {
	payload := cmd + "\n"
	n, err := gc.monitorIn.Write([]byte(payload))
	if err != nil {
		return fmt.Errorf("guest: monitor command %q: %w", cmd, err)
	}
	if n != len(payload) {
		gc.opts.Logger.Warnf("monitor command %q: wrote %d of %d bytes", cmd, n, len(payload))
	}
	time.Sleep(monitorSettleDelay)
	return nil
}

var keymap = map[byte]string{
	'\n': "kp_enter",
	' ':  "spc",
	'.':  "dot",
	'_':  "shift-minus",
	'-':  "minus",
	'/':  "slash",
}

// TypeInput translates text into a sequence of sendkey monitor commands,
// one per character, each held for 100ms.
func (gc *GuestController) TypeInput(text string) error {
	for i := 0; i < len(text); i++ {
		ch := text[i]
		key, ok := keymap[ch]
		switch {
		case ok:
		case ch >= 'A' && ch <= 'Z':
			key = "shift-" + strings.ToLower(string(ch))
		default:
			key = string(ch)
		}
		if err := gc.MonitorCommand(fmt.Sprintf("sendkey %s 100", key)); err != nil {
			return err
		}
	}
	return nil
}

// IsAlive reports whether the emulator process has not yet exited.
func (gc *GuestController) IsAlive() bool {
	if gc.cmd == nil || gc.cmd.Process == nil {
		return false
	}
	return gc.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// WaitUntil delegates to the owned watchdog. It is an error to call this
// on a GuestController opened without EnableWatchdog.
func (gc *GuestController) WaitUntil(ctx context.Context, intNum int, regs map[string]uint64, timeout time.Duration) (watchdog.Status, error) {
	if gc.watchdog == nil {
		return 0, fmt.Errorf("guest: watchdog not enabled")
	}
	return gc.watchdog.WaitUntil(ctx, intNum, regs, timeout)
}

// ResetWatchdog clears the watchdog's parse state between two waits
// inside the same run (the PRA-selector-chaining case).
func (gc *GuestController) ResetWatchdog() error {
	if gc.watchdog == nil {
		return nil
	}
	return gc.watchdog.Reset()
}

// Close tears the controller down: stops the watchdog if running, quits
// the emulator if it is still alive, closes the monitor pipe, waits for
// the process to exit, and removes both pipe files. Every step runs even
// if an earlier one failed; the first error encountered is returned.
func (gc *GuestController) Close() error {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	if gc.closed {
		return nil
	}
	gc.closed = true

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if gc.watchdog != nil {
		record(gc.watchdog.Stop())
	}

	if gc.IsAlive() {
		record(gc.MonitorCommand("quit"))
	}

	if gc.monitorIn != nil {
		record(gc.monitorIn.Close())
	}

	if gc.cmd != nil && gc.cmd.Process != nil {
		if err := gc.cmd.Wait(); err != nil {
			gc.opts.Logger.Warnf("emulator exited with error: %v", err)
		}
	}

	record(os.Remove(gc.monitorInPath))
	record(os.Remove(gc.monitorOutPath))

	if firstErr != nil {
		gc.opts.Logger.Errorf("guest teardown encountered an error: %v", firstErr)
	}
	return firstErr
}
