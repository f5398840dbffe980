// Package lang implements the context-stack tokenizer together with the
// spacing, indentation and margin policies that documents consult when text
// is inserted.
//
// A [Language] is a registry of named [Context] values compiled from
// [ContextDef] declarations. Each context carries:
//
//   - ordered token patterns, tried anchored at the scan offset;
//   - context-change rules that push or pop contexts after a token;
//   - ordered spacing rules that must end in an unconditional default;
//   - ordered indentation rules.
//
// A compiled Language is immutable and safe for concurrent use. Tokenization
// is a pure function of its inputs, which incremental replay relies on.
package lang

import (
	"errors"
	"regexp"
)

// ErrConfiguration reports a corrupt rule set: an empty-matching pattern, a
// spacing list without a default, an unknown context reference or a pop of
// the last context on the stack.
var ErrConfiguration = errors.New("lang: configuration error")

// Context is a compiled lexical mode.
type Context struct {
	// Name identifies the context in stacks and tokens.
	Name string
	// Casing is the default identifier casing policy for this context
	// (e.g. "snake", "camel"). Empty means "normal".
	Casing string
	// Raw marks contexts where spoken whitespace is kept verbatim.
	Raw bool

	patterns []pattern
	changes  []changeRule
	spacing  []spaceRule
	indent   []indentRule
}

type pattern struct {
	typ string
	src string
	re  *regexp.Regexp
}

type changeRule struct {
	token    string
	category string
	parent   string
	behind   *regexp.Regexp
	ahead    *regexp.Regexp
	push     string
	pop      bool
	style    string
}

type spaceKind uint8

const (
	spaceDefault spaceKind = iota
	spaceTwoSided
	spaceEither
)

type spaceRule struct {
	kind  spaceKind
	left  *regexp.Regexp // nil = wildcard
	right *regexp.Regexp // nil = wildcard
	space bool
}

type indentRule struct {
	previous *regexp.Regexp
	current  *regexp.Regexp
	delta    int
}

// matches reports whether r fires for the token tok scanned from text
// between start and end, given the active stack.
func (r changeRule) matches(tok Token, text string, start, end int, stack []string) bool {
	if r.token != "" && r.token != tok.Text {
		return false
	}
	if r.category != "" && r.category != tok.Type {
		return false
	}
	if r.parent != "" {
		if len(stack) < 2 || stack[len(stack)-2] != r.parent {
			return false
		}
	}
	if r.behind != nil && !r.behind.MatchString(text[:start]) {
		return false
	}
	if r.ahead != nil && !r.ahead.MatchString(text[end:]) {
		return false
	}
	return true
}

func (r spaceRule) matches(before, after string) bool {
	switch r.kind {
	case spaceTwoSided:
		if r.left != nil && !r.left.MatchString(before) {
			return false
		}
		return r.right == nil || r.right.MatchString(after)
	case spaceEither:
		return r.left.MatchString(before) || r.right.MatchString(after)
	}
	return true
}

func (r indentRule) matches(previous, current string) bool {
	if r.previous != nil && !r.previous.MatchString(previous) {
		return false
	}
	return r.current == nil || r.current.MatchString(current)
}
