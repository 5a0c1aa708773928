// Package watchdog tails an emulator's interrupt trace and blocks until a
// caller-specified interrupt vector and register predicate is observed, a
// deadline elapses, or the trace goes silent.
package watchdog

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/paideia-dilemma/tortillas/tlog"
)

// Status is the outcome of a WaitUntil call.
type Status int

const (
	// OK means the requested interrupt/register combination was observed.
	OK Status = iota
	// Timeout means the wall-clock deadline elapsed first.
	Timeout
	// Stopped means the trace went silent for the idle threshold, a
	// strong hint that the guest panicked.
	Stopped
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case Timeout:
		return "TIMEOUT"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// MonitorSender is the subset of GuestController a Watchdog needs: the
// ability to write a command to the emulator's monitor channel. Depending
// on this interface rather than the guest package avoids an import cycle,
// since guest.GuestController owns a Watchdog.
type MonitorSender interface {
	MonitorCommand(cmd string) error
}

const (
	defaultPollInterval = 500 * time.Millisecond
	idleThreshold        = 10
)

var vectorPattern = regexp.MustCompile(`v=(\d+)`)

// Watchdog tails a single interrupt trace file. Not safe for concurrent
// use: WaitUntil is single-consumer per Watchdog, matching one worker
// owning one GuestController owning one Watchdog.
type Watchdog struct {
	logPath      string
	sender       MonitorSender
	logger       tlog.Logger
	pollInterval time.Duration

	filePos int64

	buf        []byte
	inFrame    bool
	frameLines []string
	vector     int
}

// New returns a Watchdog that will tail logPath once Start is called.
func New(logPath string, sender MonitorSender, logger tlog.Logger) *Watchdog {
	return &Watchdog{
		logPath:      logPath,
		sender:       sender,
		logger:       logger,
		pollInterval: defaultPollInterval,
	}
}

// Start truncates (creating if necessary) the interrupt trace file and
// instructs the emulator to begin writing interrupt records to it.
func (w *Watchdog) Start() error {
	if err := w.truncate(); err != nil {
		return err
	}
	if err := w.sender.MonitorCommand(fmt.Sprintf("logfile %s", w.logPath)); err != nil {
		return err
	}
	return w.sender.MonitorCommand("log int")
}

// Stop instructs the emulator to stop writing interrupt records and
// removes the trace file.
func (w *Watchdog) Stop() error {
	if err := w.sender.MonitorCommand("log none"); err != nil {
		w.logger.Warnf("log none failed: %v", err)
	}
	return os.Remove(w.logPath)
}

// Reset clears accumulated parse state and truncates the trace file
// without re-issuing the emulator logging commands, so a second WaitUntil
// (the PRA selector chaining case) starts from a clean slate.
func (w *Watchdog) Reset() error {
	w.buf = nil
	w.inFrame = false
	w.frameLines = nil
	w.filePos = 0
	return w.truncate()
}

func (w *Watchdog) truncate() error {
	f, err := os.Create(w.logPath)
	if err != nil {
		return err
	}
	return f.Close()
}

// WaitUntil blocks until a frame with vector intNum matches every
// register constraint in regs, the timeout elapses, or the trace goes
// silent for the idle threshold.
func (w *Watchdog) WaitUntil(ctx context.Context, intNum int, regs map[string]uint64, timeout time.Duration) (Status, error) {
	deadline := time.Now().Add(timeout)
	idlePolls := 0

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return Stopped, ctx.Err()
		case <-time.After(w.pollInterval):
		}

		chunk, err := w.readNew()
		if err != nil {
			return 0, err
		}

		if len(chunk) == 0 {
			idlePolls++
			if idlePolls > idleThreshold {
				w.logger.Error("Interrupts stopped... Panic?")
				return Stopped, nil
			}
			continue
		}
		idlePolls = 0

		if matched := w.ingest(chunk, intNum, regs); matched {
			return OK, nil
		}
	}

	w.logger.Errorf("Timeout! int=%d regs=%v", intNum, regs)
	return Timeout, nil
}

// readNew reads any bytes appended to the trace file since the last call,
// tailing a regular file from its last offset. A pipe-backed trace is an
// accommodated alternative per the interrupt log contract, but the
// regular-file backend is the one this implementation provides.
func (w *Watchdog) readNew() ([]byte, error) {
	f, err := os.Open(w.logPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < w.filePos {
		// Trace file was truncated (Reset, or a fresh test run reusing
		// the directory); start over from the beginning.
		w.filePos = 0
	}

	if _, err := f.Seek(w.filePos, 0); err != nil {
		return nil, err
	}

	buf := make([]byte, info.Size()-w.filePos)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return nil, err
	}
	w.filePos += int64(n)
	return buf[:n], nil
}

// ingest folds newly read bytes into the line/frame state machine,
// returning true as soon as a matching frame is found. Bytes belonging to
// an incomplete trailing line or an incomplete frame are retained in w.buf
// / w.frameLines for the next call, so WaitUntil never consumes bytes past
// a frame boundary it has not fully read.
func (w *Watchdog) ingest(chunk []byte, intNum int, regs map[string]uint64) bool {
	w.buf = append(w.buf, chunk...)

	for {
		idx := strings.IndexByte(string(w.buf), '\n')
		if idx < 0 {
			break
		}
		line := string(w.buf[:idx])
		w.buf = w.buf[idx+1:]

		if w.processLine(line, intNum, regs) {
			return true
		}
	}
	return false
}

func (w *Watchdog) processLine(line string, intNum int, regs map[string]uint64) bool {
	isVectorLine := strings.Contains(line, "v=")
	isFrameEnd := strings.Contains(line, "EFER=")

	switch {
	case !w.inFrame:
		if isVectorLine {
			w.startFrame(line)
		}
		return false

	case isVectorLine && !isFrameEnd:
		// A new frame started before the previous one terminated with
		// EFER=; the previous, incomplete frame is discarded.
		w.startFrame(line)
		return false

	case isFrameEnd:
		w.frameLines = append(w.frameLines, line)
		registers := parseRegisters(strings.Join(w.frameLines, " "))
		vector := w.vector
		w.inFrame = false
		w.frameLines = nil
		return vector == intNum && matchRegisters(regs, registers)

	default:
		w.frameLines = append(w.frameLines, line)
		return false
	}
}

func (w *Watchdog) startFrame(vectorLine string) {
	w.inFrame = true
	w.frameLines = nil
	w.vector = parseVector(vectorLine)
}

func parseVector(line string) int {
	m := vectorPattern.FindStringSubmatch(line)
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}

// parseRegisters splits text on whitespace into NAME=HEXVALUE tokens,
// dropping tokens without '=' or with an empty half, and ignoring tokens
// whose value does not parse as hexadecimal.
func parseRegisters(text string) map[string]uint64 {
	regs := make(map[string]uint64)
	for _, tok := range strings.Fields(text) {
		key, val, found := strings.Cut(tok, "=")
		if !found || key == "" || val == "" {
			continue
		}
		n, err := strconv.ParseUint(val, 16, 64)
		if err != nil {
			continue
		}
		regs[key] = n
	}
	return regs
}

// matchRegisters reports whether every constraint in want is satisfied by
// got. A register named in want but absent from got does not disqualify
// the match.
func matchRegisters(want, got map[string]uint64) bool {
	for reg, val := range want {
		gv, ok := got[reg]
		if !ok {
			continue
		}
		if gv != val {
			return false
		}
	}
	return true
}
