package speech

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
)

// GrammarDef is the declarative command grammar as it appears under the
// grammar: key of a definitions file.
//
// Example:
//
//	casing_words: {snake: snake, camel: camel}
//	alphabet: {alpha: a, bravo: b}
//	groups:
//	  - contexts: ["*"]
//	    commands:
//	      - phrases: ["go $location", "go to $location"]
//	        effect: go
//	  - contexts: [python]
//	    commands:
//	      - phrases: ["define $identifier"]
//	        identifier: snake
//	        template: "def $0($c):$i$c"
type GrammarDef struct {
	CasingWords  map[string]string `yaml:"casing_words"`
	Alphabet     map[string]string `yaml:"alphabet"`
	Numbers      map[string]int    `yaml:"numbers"`
	CapitalWords []string          `yaml:"capital_words"`
	LiteralWords []string          `yaml:"literal_words"`
	FirstWords   []string          `yaml:"first_words"`
	PickWords    []string          `yaml:"pick_words"`
	PleaseWords  []string          `yaml:"please_words"`
	// Connectors maps spoken words onto the location connectors "to",
	// "all", "before", "after" and "from".
	Connectors map[string]string `yaml:"connectors"`
	Groups     []GroupDef        `yaml:"groups"`
}

// GroupDef binds commands to the contexts they are valid in. The context
// name "*" makes a group global.
type GroupDef struct {
	Contexts []string     `yaml:"contexts"`
	Commands []CommandDef `yaml:"commands"`
}

// CommandDef declares one command. Exactly one action kind applies:
//
//   - Effect names a built-in effect (see [Effects]).
//   - Identifier names a casing policy; the captured $identifier is cased
//     with it and inserted through Template (default "$0").
//   - Template alone inserts the template with escapes expanded.
//
// Template arguments are Args followed by the captured identifier, if the
// phrase has one.
type CommandDef struct {
	Phrases    []string `yaml:"phrases"`
	Effect     string   `yaml:"effect"`
	Template   string   `yaml:"template"`
	Identifier string   `yaml:"identifier"`
	Args       []string `yaml:"args"`
}

// Action kinds.
const (
	KindEffect     = "effect"
	KindTemplate   = "template"
	KindIdentifier = "identifier"
)

type elemKind uint8

const (
	elemWord elemKind = iota
	elemLocation
	elemIdentifier
	elemPlease
)

type element struct {
	kind elemKind
	word string
}

// Command is a compiled command phrase.
type Command struct {
	// Phrase is the spoken pattern, e.g. "go to $location".
	Phrase   string
	Kind     string
	Effect   string
	Template string
	Casing   string
	Args     []string

	contexts []string
	pattern  []element
}

func (c *Command) validIn(ctx string) bool {
	return slices.Contains(c.contexts, "*") || slices.Contains(c.contexts, ctx)
}

func (c *Command) hasIdentifier() bool {
	return slices.ContainsFunc(c.pattern, func(e element) bool { return e.kind == elemIdentifier })
}

// Grammar is an immutable compiled [GrammarDef].
type Grammar struct {
	byFirst     map[string][]*Command
	casingWords map[string]string
	alphabet    map[string]string
	numbers     map[string]int
	capital     map[string]bool
	literal     map[string]bool
	first       map[string]bool
	pick        map[string]bool
	please      map[string]bool
	connectors  map[string]string
}

// Casing policies understood by identifier accumulation.
var casingPolicies = []string{"flat", "snake", "camel", "pascal", "kebab", "constant", "title", "normal"}

var connectorNames = []string{"to", "all", "before", "after", "from"}

// CompileGrammar validates def and builds a [Grammar]. All problems are
// reported together.
func CompileGrammar(def GrammarDef) (*Grammar, error) {
	var errs []error
	g := &Grammar{
		byFirst:     make(map[string][]*Command),
		casingWords: lowerKeys(def.CasingWords),
		alphabet:    lowerKeys(def.Alphabet),
		numbers:     make(map[string]int, len(def.Numbers)),
		capital:     wordSet(def.CapitalWords),
		literal:     wordSet(def.LiteralWords),
		first:       wordSet(def.FirstWords),
		pick:        wordSet(def.PickWords),
		please:      wordSet(def.PleaseWords),
		connectors:  make(map[string]string),
	}
	for w, n := range def.Numbers {
		g.numbers[strings.ToLower(w)] = n
	}
	for w, policy := range g.casingWords {
		if !slices.Contains(casingPolicies, policy) {
			errs = append(errs, fmt.Errorf("speech: casing word %q: unknown policy %q", w, policy))
		}
	}
	for _, c := range connectorNames {
		g.connectors[c] = c
	}
	for w, c := range def.Connectors {
		if !slices.Contains(connectorNames, c) {
			errs = append(errs, fmt.Errorf("speech: connector word %q: unknown connector %q", w, c))
			continue
		}
		g.connectors[strings.ToLower(w)] = c
	}

	for gi, grp := range def.Groups {
		if len(grp.Contexts) == 0 {
			errs = append(errs, fmt.Errorf("speech: groups[%d]: at least one context is required", gi))
		}
		for ci, cd := range grp.Commands {
			where := fmt.Sprintf("groups[%d].commands[%d]", gi, ci)
			kind, err := commandKind(cd)
			if err != nil {
				errs = append(errs, fmt.Errorf("speech: %s: %w", where, err))
				continue
			}
			if len(cd.Phrases) == 0 {
				errs = append(errs, fmt.Errorf("speech: %s: at least one phrase is required", where))
			}
			for _, phrase := range cd.Phrases {
				pattern, err := parsePhrase(phrase)
				if err != nil {
					errs = append(errs, fmt.Errorf("speech: %s: %w", where, err))
					continue
				}
				cmd := &Command{
					Phrase:   phrase,
					Kind:     kind,
					Effect:   cd.Effect,
					Template: cd.Template,
					Casing:   cd.Identifier,
					Args:     slices.Clone(cd.Args),
					contexts: slices.Clone(grp.Contexts),
					pattern:  pattern,
				}
				if kind == KindIdentifier && !cmd.hasIdentifier() {
					errs = append(errs, fmt.Errorf("speech: %s: identifier command %q needs $identifier", where, phrase))
					continue
				}
				first := pattern[0].word
				g.byFirst[first] = append(g.byFirst[first], cmd)
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return g, nil
}

func commandKind(cd CommandDef) (string, error) {
	switch {
	case cd.Effect != "" && (cd.Template != "" || cd.Identifier != ""):
		return "", errors.New("effect cannot be combined with template or identifier")
	case cd.Effect != "":
		if _, ok := effects[cd.Effect]; !ok {
			return "", fmt.Errorf("unknown effect %q", cd.Effect)
		}
		return KindEffect, nil
	case cd.Identifier != "":
		if !slices.Contains(casingPolicies, cd.Identifier) {
			return "", fmt.Errorf("unknown casing policy %q", cd.Identifier)
		}
		return KindIdentifier, nil
	case cd.Template != "":
		return KindTemplate, nil
	}
	return "", errors.New("one of effect, template or identifier is required")
}

func parsePhrase(phrase string) ([]element, error) {
	var out []element
	for _, f := range strings.Fields(phrase) {
		switch strings.ToLower(f) {
		case "$location":
			out = append(out, element{kind: elemLocation})
		case "$identifier":
			out = append(out, element{kind: elemIdentifier})
		case "$please":
			out = append(out, element{kind: elemPlease})
		default:
			if strings.HasPrefix(f, "$") {
				return nil, fmt.Errorf("phrase %q: unknown placeholder %q", phrase, f)
			}
			out = append(out, element{kind: elemWord, word: strings.ToLower(f)})
		}
	}
	if len(out) == 0 || out[0].kind != elemWord {
		return nil, fmt.Errorf("phrase %q must start with a literal word", phrase)
	}
	return out, nil
}

// Candidates returns the commands whose phrase begins with word and that are
// valid in context ctx, in definition order.
func (g *Grammar) Candidates(word, ctx string) []*Command {
	var out []*Command
	for _, c := range g.byFirst[strings.ToLower(word)] {
		if c.validIn(ctx) {
			out = append(out, c)
		}
	}
	return out
}

// IsCommandWord reports whether word begins any command phrase.
func (g *Grammar) IsCommandWord(word string) bool {
	_, ok := g.byFirst[strings.ToLower(word)]
	return ok
}

// Suggest returns the command word that sounds most like word, for near-miss
// diagnostics. Double Metaphone codes select phonetic candidates, which are
// ranked by Jaro-Winkler similarity; the best must reach threshold.
func (g *Grammar) Suggest(word string, threshold float64) (string, bool) {
	word = strings.ToLower(word)
	if word == "" || g.IsCommandWord(word) {
		return "", false
	}
	p1, p2 := matchr.DoubleMetaphone(word)
	var (
		best      string
		bestScore float64
	)
	for cw := range g.byFirst {
		c1, c2 := matchr.DoubleMetaphone(cw)
		if !codesOverlap(p1, p2, c1, c2) {
			continue
		}
		score := matchr.JaroWinkler(word, cw, false)
		if score > bestScore || (score == bestScore && cw < best) {
			best, bestScore = cw, score
		}
	}
	if best == "" || bestScore < threshold {
		return "", false
	}
	return best, true
}

func codesOverlap(a1, a2, b1, b2 string) bool {
	for _, a := range []string{a1, a2} {
		if a == "" {
			continue
		}
		if a == b1 || a == b2 {
			return true
		}
	}
	return false
}

func lowerKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

func wordSet(words []string) map[string]bool {
	out := make(map[string]bool, len(words))
	for _, w := range words {
		out[strings.ToLower(w)] = true
	}
	return out
}
