// Package logparser turns a guest's raw debug trace into LogData: an
// ordered list of regex captures per named rule, scoped to the trace's
// bracketed scope blocks.
package logparser

import (
	"os"

	"github.com/paideia-dilemma/tortillas/ansiscan"
)

// LogData maps a rule name to the ordered sequence of strings it
// captured. The key set always equals the set of rule names the LogData
// was built for, so lookups are total: a rule that never matched still
// has an entry, just an empty one.
type LogData map[string][]string

// NewLogData returns a LogData with one empty entry per rule, so its key
// set is established before any parsing happens.
func NewLogData(rules []Rule) LogData {
	data := make(LogData, len(rules))
	for _, r := range rules {
		data[r.Name] = nil
	}
	return data
}

// Parse reads the trace file at path, strips ANSI escapes, splits it into
// scope blocks and applies rules to each block in order, appending
// captures to the returned LogData in the order their originating blocks
// were encountered. I/O errors propagate; malformed rules are rejected
// earlier by CompileRule and are never seen here.
func Parse(path string, rules []Rule) (LogData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	data := NewLogData(rules)
	cleaned := ansiscan.Strip(raw)

	scanner := ansiscan.NewScanner(cleaned)
	for {
		block, ok := scanner.Next()
		if !ok {
			break
		}
		for _, r := range rules {
			capture, matched := r.matches(block.Scope, block.Body)
			if !matched {
				continue
			}
			data[r.Name] = append(data[r.Name], capture)
		}
	}

	return data, nil
}
