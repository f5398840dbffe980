package lang

import (
	"errors"
	"fmt"
	"regexp"
)

// ContextDef is the declarative form of a [Context] as it appears in a
// definitions file.
//
// Example:
//
//	- name: text
//	  casing: normal
//	  tokens:
//	    - {type: whitespace, match: '[ \t]+'}
//	    - {type: word, match: '[A-Za-z_]\w*'}
//	  changes:
//	    - {token: '"', push: quoted, style: string}
//	  spacing:
//	    - {either: '\s|\A\z', space: false}
//	    - {space: true}
//	  indent:
//	    - {previous: ':\s*$', indent: 1}
type ContextDef struct {
	Name    string      `yaml:"name"`
	Casing  string      `yaml:"casing"`
	Raw     bool        `yaml:"raw"`
	Tokens  []TokenDef  `yaml:"tokens"`
	Changes []ChangeDef `yaml:"changes"`
	Spacing []SpaceDef  `yaml:"spacing"`
	Indent  []IndentDef `yaml:"indent"`
}

// TokenDef declares one token pattern. Match is a regular expression that
// is anchored at the scan offset.
type TokenDef struct {
	Type  string `yaml:"type"`
	Match string `yaml:"match"`
}

// ChangeDef declares a context-change rule. Token and Category filter on the
// token's exact text and type; Parent guards on the context directly below
// the top of the stack; Behind and Ahead are look-around expressions anchored
// at the token's edges. Exactly one of Push or Pop must be set. Style, when
// set, replaces the token's type.
type ChangeDef struct {
	Token    string `yaml:"token"`
	Category string `yaml:"category"`
	Parent   string `yaml:"parent"`
	Behind   string `yaml:"behind"`
	Ahead    string `yaml:"ahead"`
	Push     string `yaml:"push"`
	Pop      bool   `yaml:"pop"`
	Style    string `yaml:"style"`
}

// SpaceDef declares a spacing rule. A rule with Either set matches when the
// expression ends the text before or starts the text after the insertion
// point. A rule with Left and/or Right set is two-sided; an omitted side is a
// wildcard. A rule with none of them is the unconditional default and must
// come last.
type SpaceDef struct {
	Left   string `yaml:"left"`
	Right  string `yaml:"right"`
	Either string `yaml:"either"`
	Space  bool   `yaml:"space"`
}

// IndentDef declares an indentation rule. Previous and Current are searched
// (unanchored) in the previous and current line; an omitted side matches
// anything. Indent is +1, -1 or 0.
type IndentDef struct {
	Previous string `yaml:"previous"`
	Current  string `yaml:"current"`
	Indent   int    `yaml:"indent"`
}

// Compile validates defs and builds a [Language]. All problems are reported
// together; every returned error wraps [ErrConfiguration].
func Compile(defs []ContextDef) (*Language, error) {
	var errs []error
	l := &Language{contexts: make(map[string]*Context, len(defs))}

	for i, d := range defs {
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("%w: contexts[%d]: name is required", ErrConfiguration, i))
			continue
		}
		if _, dup := l.contexts[d.Name]; dup {
			errs = append(errs, fmt.Errorf("%w: context %q: duplicate name", ErrConfiguration, d.Name))
			continue
		}
		c, cerrs := compileContext(d)
		errs = append(errs, cerrs...)
		l.contexts[d.Name] = c
		l.order = append(l.order, d.Name)
	}

	// Context references can only be checked once every name is known.
	for _, d := range defs {
		for j, ch := range d.Changes {
			if ch.Push != "" {
				if _, ok := l.contexts[ch.Push]; !ok {
					errs = append(errs, fmt.Errorf("%w: context %q: changes[%d]: push of unknown context %q", ErrConfiguration, d.Name, j, ch.Push))
				}
			}
			if ch.Parent != "" {
				if _, ok := l.contexts[ch.Parent]; !ok {
					errs = append(errs, fmt.Errorf("%w: context %q: changes[%d]: parent guard names unknown context %q", ErrConfiguration, d.Name, j, ch.Parent))
				}
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return l, nil
}

func compileContext(d ContextDef) (*Context, []error) {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: context %q: "+format, append([]any{ErrConfiguration, d.Name}, args...)...))
	}
	c := &Context{Name: d.Name, Casing: d.Casing, Raw: d.Raw}

	if len(d.Tokens) == 0 {
		fail("at least one token pattern is required")
	}
	for i, t := range d.Tokens {
		if t.Type == "" {
			fail("tokens[%d]: type is required", i)
		}
		re, err := regexp.Compile(`^(?:` + t.Match + `)`)
		if err != nil {
			fail("tokens[%d]: %v", i, err)
			continue
		}
		if t.Match == "" || re.MatchString("") {
			fail("tokens[%d]: pattern %q matches empty input", i, t.Match)
			continue
		}
		c.patterns = append(c.patterns, pattern{typ: t.Type, src: t.Match, re: re})
	}

	for i, ch := range d.Changes {
		if (ch.Push == "") == !ch.Pop {
			fail("changes[%d]: exactly one of push or pop is required", i)
			continue
		}
		r := changeRule{
			token:    ch.Token,
			category: ch.Category,
			parent:   ch.Parent,
			push:     ch.Push,
			pop:      ch.Pop,
			style:    ch.Style,
		}
		var err error
		if r.behind, err = optional(`(?:`, ch.Behind, `)$`); err != nil {
			fail("changes[%d]: behind: %v", i, err)
		}
		if r.ahead, err = optional(`^(?:`, ch.Ahead, `)`); err != nil {
			fail("changes[%d]: ahead: %v", i, err)
		}
		c.changes = append(c.changes, r)
	}

	for i, s := range d.Spacing {
		r, err := compileSpace(s)
		if err != nil {
			fail("spacing[%d]: %v", i, err)
			continue
		}
		if r.kind == spaceDefault && i != len(d.Spacing)-1 {
			fail("spacing[%d]: default rule must be last", i)
		}
		c.spacing = append(c.spacing, r)
	}
	if len(d.Spacing) == 0 || !isDefault(d.Spacing[len(d.Spacing)-1]) {
		fail("spacing rules must end with a default rule")
	}

	for i, in := range d.Indent {
		if in.Indent < -1 || in.Indent > 1 {
			fail("indent[%d]: indent must be -1, 0 or 1, got %d", i, in.Indent)
		}
		if in.Previous == "" && in.Current == "" {
			fail("indent[%d]: previous or current is required", i)
		}
		r := indentRule{delta: in.Indent}
		var err error
		if r.previous, err = optional("", in.Previous, ""); err != nil {
			fail("indent[%d]: previous: %v", i, err)
		}
		if r.current, err = optional("", in.Current, ""); err != nil {
			fail("indent[%d]: current: %v", i, err)
		}
		c.indent = append(c.indent, r)
	}
	return c, errs
}

func isDefault(s SpaceDef) bool {
	return s.Left == "" && s.Right == "" && s.Either == ""
}

func compileSpace(s SpaceDef) (spaceRule, error) {
	r := spaceRule{space: s.Space}
	var err error
	switch {
	case s.Either != "":
		if s.Left != "" || s.Right != "" {
			return r, errors.New("either cannot be combined with left or right")
		}
		r.kind = spaceEither
		if r.left, err = regexp.Compile(`(?:` + s.Either + `)$`); err != nil {
			return r, err
		}
		r.right, err = regexp.Compile(`^(?:` + s.Either + `)`)
	case s.Left != "" || s.Right != "":
		r.kind = spaceTwoSided
		if r.left, err = optional(`(?:`, s.Left, `)$`); err != nil {
			return r, err
		}
		r.right, err = optional(`^(?:`, s.Right, `)`)
	default:
		r.kind = spaceDefault
	}
	return r, err
}

// optional compiles prefix+src+suffix, or returns nil when src is empty.
func optional(prefix, src, suffix string) (*regexp.Regexp, error) {
	if src == "" {
		return nil, nil
	}
	return regexp.Compile(prefix + src + suffix)
}
