// Package snapshot boots a guest exactly once and persists the result as
// a golden, copy-on-write-forkable disk image plus a saved VM-state
// label, so the scheduler's workers never pay the boot cost per test.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/paideia-dilemma/tortillas/guest"
	"github.com/paideia-dilemma/tortillas/tlog"
	"github.com/paideia-dilemma/tortillas/watchdog"
)

const (
	// Label is the VM-state label every snapshot is saved under, and
	// every per-test GuestController loads from.
	Label = "tortillas-golden"

	dirName    = "snapshot"
	goldenName = "SWEB-snapshot.qcow2"
	overlayName = "overlay.qcow2"

	settleDelay = 500 * time.Millisecond
)

// GoldenSnapshot is the disk image + saved VM-state label produced by
// Create (or supplied directly by Reuse). Read-only once produced.
type GoldenSnapshot struct {
	DiskImage    string
	VMStateLabel string
}

// Config parameterizes a single snapshot build.
type Config struct {
	BuildDir      string
	BaseImage     string
	Arch          guest.Arch
	SyscallVector int
	BootupMagic   uint64
	BootupTimeout time.Duration
	Logger        tlog.Logger
}

// Create boots a fresh guest from cfg.BaseImage, waits for the bootup
// magic value in the architecture's return register, saves VM state, and
// copies the resulting overlay to the shared golden-snapshot path. On
// bootup failure, the guest's debug log is left in place for inspection
// and the error names its path.
func Create(cfg Config) (*GoldenSnapshot, error) {
	snapDir := filepath.Join(cfg.BuildDir, dirName)
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create snapshot dir: %w", err)
	}

	overlay := filepath.Join(snapDir, overlayName)
	if err := createOverlay(cfg.BaseImage, overlay); err != nil {
		return nil, fmt.Errorf("snapshot: create overlay: %w", err)
	}

	gc, err := guest.Open(guest.Options{
		WorkDir:        snapDir,
		DiskImage:      overlay,
		Arch:           cfg.Arch,
		EnableWatchdog: true,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: open guest: %w", err)
	}

	status, err := gc.WaitUntil(context.Background(), cfg.SyscallVector,
		map[string]uint64{cfg.Arch.ReturnRegister(): cfg.BootupMagic}, cfg.BootupTimeout)
	if err != nil {
		gc.Close()
		return nil, fmt.Errorf("snapshot: wait for bootup: %w", err)
	}
	if status != watchdog.OK {
		outLog := filepath.Join(snapDir, "out.log")
		gc.Close()
		return nil, fmt.Errorf("snapshot: bootup did not complete (%s); see %s", status, outLog)
	}

	time.Sleep(settleDelay)
	if err := gc.MonitorCommand(fmt.Sprintf("savevm %s", Label)); err != nil {
		gc.Close()
		return nil, fmt.Errorf("snapshot: savevm: %w", err)
	}

	if err := gc.Close(); err != nil {
		return nil, fmt.Errorf("snapshot: teardown after savevm: %w", err)
	}

	golden := filepath.Join(cfg.BuildDir, goldenName)
	if err := copyFile(overlay, golden); err != nil {
		return nil, fmt.Errorf("snapshot: publish golden image: %w", err)
	}

	return &GoldenSnapshot{DiskImage: golden, VMStateLabel: Label}, nil
}

// Reuse loads an already-produced golden snapshot from path instead of
// booting a fresh one, backing the CLI's --skip-setup toggle.
func Reuse(path string) (*GoldenSnapshot, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("snapshot: reuse %s: %w", path, err)
	}
	return &GoldenSnapshot{DiskImage: path, VMStateLabel: Label}, nil
}

func createOverlay(base, overlay string) error {
	cmd := exec.Command("qemu-img", "create", "-f", "qcow2", "-F", "qcow2", "-b", base, overlay)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, out)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
