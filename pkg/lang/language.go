package lang

import (
	"fmt"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

// Language is an immutable registry of compiled contexts. Build one with
// [Compile].
type Language struct {
	contexts map[string]*Context
	order    []string
}

// Context returns the context registered under name.
func (l *Language) Context(name string) (*Context, bool) {
	c, ok := l.contexts[name]
	return c, ok
}

// Names returns context names in declaration order.
func (l *Language) Names() []string {
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

func (l *Language) lookup(name string) (*Context, error) {
	c, ok := l.contexts[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown context %q", ErrConfiguration, name)
	}
	return c, nil
}

// Result is the output of [Language.Tokenize].
type Result struct {
	Tokens []Token
	// Stack is the context stack after the last token, outermost first.
	Stack []string
	// End is the position just past the scanned text.
	End Position
}

// Tokenize scans text starting at start with the given context stack
// (outermost first, at least one entry).
//
// At each offset the innermost context's patterns are tried in declared
// order and the first one matching at that exact offset wins. When none
// matches, a single grapheme cluster is emitted as an [TypeUnknown] token, so
// scanning always advances. After each token the change rules of the context
// it was scanned in are evaluated and at most one fires.
//
// Whitespace and newline tokens advance the position but are left out of the
// result unless includeWhitespace is set.
func (l *Language) Tokenize(text string, stack []string, start Position, includeWhitespace bool) (Result, error) {
	if len(stack) == 0 {
		return Result{}, fmt.Errorf("%w: tokenize: empty context stack", ErrConfiguration)
	}
	st := make([]string, len(stack))
	copy(st, stack)
	for _, name := range st {
		if _, err := l.lookup(name); err != nil {
			return Result{}, fmt.Errorf("lang: tokenize: %w", err)
		}
	}

	var tokens []Token
	pos := start
	for offset := 0; offset < len(text); {
		ctx := l.contexts[st[len(st)-1]]
		rest := text[offset:]

		tok := Token{Position: pos, Context: ctx.Name}
		for _, p := range ctx.patterns {
			loc := p.re.FindStringIndex(rest)
			if loc == nil {
				continue
			}
			if loc[1] == 0 {
				return Result{}, fmt.Errorf("%w: context %q: pattern %q matched empty input at %s", ErrConfiguration, ctx.Name, p.src, pos)
			}
			tok.Text, tok.Type = rest[:loc[1]], p.typ
			break
		}
		if tok.Text == "" {
			cluster, _, _, _ := uniseg.FirstGraphemeClusterInString(rest, -1)
			if cluster == "" {
				_, size := utf8.DecodeRuneInString(rest)
				cluster = rest[:size]
			}
			tok.Text, tok.Type = cluster, TypeUnknown
		}
		end := offset + len(tok.Text)

		for _, r := range ctx.changes {
			if !r.matches(tok, text, offset, end, st) {
				continue
			}
			if r.style != "" {
				tok.Type = r.style
			}
			if r.pop {
				if len(st) == 1 {
					return Result{}, fmt.Errorf("%w: context %q: pop of the last context at %s", ErrConfiguration, ctx.Name, pos)
				}
				st = st[:len(st)-1]
			} else {
				st = append(st, r.push)
			}
			break
		}

		if includeWhitespace || !tok.IsSpace() {
			tokens = append(tokens, tok)
		}
		pos = pos.Advance(tok.Text)
		offset = end
	}
	return Result{Tokens: tokens, Stack: st, End: pos}, nil
}

// ShouldSpace reports whether a single space belongs between before and
// after in context ctx. Rules are tried in order and the first match
// decides. A compiled context always ends in a default rule.
func (l *Language) ShouldSpace(ctx, before, after string) (bool, error) {
	c, err := l.lookup(ctx)
	if err != nil {
		return false, err
	}
	for _, r := range c.spacing {
		if r.matches(before, after) {
			return r.space, nil
		}
	}
	return false, fmt.Errorf("%w: context %q: spacing rules are not exhaustive", ErrConfiguration, ctx)
}

// ShouldIndent returns +1 (indent), -1 (dedent) or 0 for currentLine
// following previousLine in context ctx. Unknown contexts and lines no rule
// matches yield 0.
func (l *Language) ShouldIndent(ctx, previousLine, currentLine string) int {
	c, ok := l.contexts[ctx]
	if !ok {
		return 0
	}
	for _, r := range c.indent {
		if r.matches(previousLine, currentLine) {
			return r.delta
		}
	}
	return 0
}
