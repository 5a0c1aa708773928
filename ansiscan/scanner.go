package ansiscan

import (
	"regexp"
	"strings"
)

// tagPattern matches a scope header: a bracketed upper-case tag (with
// arbitrary interior spacing, e.g. "[SYSCALL ]") or the literal kernel
// panic marker. Brackets that are not all-upper-case (and therefore not a
// tag) are deliberately excluded, so ordinary message bodies are free to
// contain brackets without being mistaken for scope headers.
var tagPattern = regexp.MustCompile(`\[[A-Z][A-Z ]*\]|KERNEL PANIC: `)

const panicScope = "KERNEL PANIC"

// Block is one scope block: the tag it was introduced by, and the message
// body running up to (but excluding) the next tag or end of input.
type Block struct {
	Scope string
	Body  string
}

// Scanner produces a lazy, finite, non-restartable sequence of Blocks from
// already ANSI-stripped text. Text preceding the first tag has no owning
// scope and is discarded, matching the reference parser's behavior of
// only ever matching from the first recognized tag onward.
type Scanner struct {
	rest  []byte
	scope string
	done  bool
}

// NewScanner returns a Scanner over text, which must already have had
// Strip applied.
func NewScanner(text []byte) *Scanner {
	s := &Scanner{rest: text}
	loc := tagPattern.FindIndex(s.rest)
	if loc == nil {
		s.done = true
		return s
	}
	s.scope = scopeName(s.rest[loc[0]:loc[1]])
	s.rest = s.rest[loc[1]:]
	return s
}

// Next returns the next Block and true, or a zero Block and false once the
// sequence is exhausted. Next must not be called again after it returns
// false.
func (s *Scanner) Next() (Block, bool) {
	if s.done {
		return Block{}, false
	}

	scope := s.scope
	loc := tagPattern.FindIndex(s.rest)
	if loc == nil {
		body := string(s.rest)
		s.done = true
		return Block{Scope: scope, Body: body}, true
	}

	body := string(s.rest[:loc[0]])
	s.scope = scopeName(s.rest[loc[0]:loc[1]])
	s.rest = s.rest[loc[1]:]
	return Block{Scope: scope, Body: body}, true
}

// All drains the Scanner into a slice. Convenience for callers (such as
// LogParser) that need random access rather than streaming.
func All(text []byte) []Block {
	s := NewScanner(text)
	var blocks []Block
	for {
		b, ok := s.Next()
		if !ok {
			return blocks
		}
		blocks = append(blocks, b)
	}
}

func scopeName(tag []byte) string {
	t := string(tag)
	if strings.HasPrefix(t, "[") {
		return strings.TrimSpace(strings.Trim(t, "[]"))
	}
	return panicScope
}
