package watchdog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paideia-dilemma/tortillas/tlog"
)

type noopSender struct{}

func (noopSender) MonitorCommand(string) error { return nil }

func newTestWatchdog(t *testing.T) (*Watchdog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "int.log")
	wd := New(path, noopSender{}, tlog.New())
	wd.pollInterval = 10 * time.Millisecond
	require.NoError(t, wd.Start())
	return wd, path
}

func appendFrame(t *testing.T, path, frame string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(frame)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestWaitUntilMatches(t *testing.T) {
	wd, path := newTestWatchdog(t)

	go func() {
		time.Sleep(30 * time.Millisecond)
		appendFrame(t, path, "v=80 some preamble\nRAX=000000000010F2C0\nRBX=0000000000000001\nEFER=0000000000000d00\n")
	}()

	status, err := wd.WaitUntil(context.Background(), 80, map[string]uint64{"RAX": 0x10F2C0}, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, OK, status)
}

func TestWaitUntilTimeoutOnMismatch(t *testing.T) {
	wd, path := newTestWatchdog(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		appendFrame(t, path, "v=80\nRAX=0000000000002B67\nEFER=0000000000000d00\n")
	}()

	// The deadline stays below the idle window (idleThreshold+1 polls of
	// 10ms after the frame arrives), so the verdict is Timeout, not Stopped.
	status, err := wd.WaitUntil(context.Background(), 80, map[string]uint64{"RAX": 0xFFFF}, 100*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, Timeout, status)
}

func TestWaitUntilStoppedOnSilence(t *testing.T) {
	wd, _ := newTestWatchdog(t)

	start := time.Now()
	status, err := wd.WaitUntil(context.Background(), 80, map[string]uint64{}, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, Stopped, status)
	require.Less(t, time.Since(start), 2*time.Second, "must return once idle threshold is hit, not wait for the full timeout")
}

func TestWaitUntilMissingRegisterDoesNotDisqualify(t *testing.T) {
	wd, path := newTestWatchdog(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		appendFrame(t, path, "v=80\nRAX=0000000000000001\nEFER=0000000000000d00\n")
	}()

	status, err := wd.WaitUntil(context.Background(), 80, map[string]uint64{"RAX": 1, "RBX": 99}, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, OK, status)
}

func TestWaitUntilRespectsDeadlineBound(t *testing.T) {
	wd, path := newTestWatchdog(t)
	// Keep the trace "alive" so it never goes Stopped, forcing the
	// timeout path and exercising the liveness bound.
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
				appendFrame(t, path, "noise\n")
			}
		}
	}()
	defer close(stop)

	start := time.Now()
	timeout := 150 * time.Millisecond
	status, err := wd.WaitUntil(context.Background(), 999, map[string]uint64{}, timeout)
	require.NoError(t, err)
	require.Equal(t, Timeout, status)
	require.Less(t, time.Since(start), timeout+500*time.Millisecond)
}

func TestParseRegisters(t *testing.T) {
	regs := parseRegisters("RAX=0000000000000004 RBX= =nope junk CR0=80010013")
	require.Equal(t, uint64(4), regs["RAX"])
	require.Equal(t, uint64(0x80010013), regs["CR0"])
	_, hasRBX := regs["RBX"]
	require.False(t, hasRBX)
}
