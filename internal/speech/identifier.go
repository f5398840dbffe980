package speech

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/MrWong99/voxedit/pkg/lang"
)

// accumulate gathers an identifier from the tokens starting at from and
// returns it with the number of tokens consumed. Whitespace between words is
// consumed; whitespace after the last word is not.
//
// Accumulation stops at punctuation, events, unknown tokens, any word in
// stops and, after the first word, any word that begins a command. Within
// it casing words switch the policy for later words, alphabet words append
// letters, capital words capitalise the next letter or word, and the
// literal, first and pick words escape the following word.
func (i *Interpreter) accumulate(toks []lang.Token, from int, casing string, stops map[string]bool) (string, int) {
	g := i.grammar
	a := newAccumulator(casing)
	end := from
	started := false
	for j := from; j < len(toks); {
		t := toks[j]
		if t.IsSpace() {
			j++
			continue
		}
		if t.Type != lang.TypeNumber && !isWord(t) {
			break
		}
		w := strings.ToLower(t.Text)
		if stops[w] || (started && g.IsCommandWord(w)) {
			break
		}
		j++
		switch {
		case t.Type == lang.TypeNumber:
			a.word(t.Text)
		case g.casingWords[w] != "":
			a.setPolicy(g.casingWords[w])
		case g.capital[w]:
			a.capNext = true
		case g.literal[w]:
			if k := skipSpace(toks, j); k < len(toks) && isWord(toks[k]) {
				a.word(toks[k].Text)
				j = k + 1
			} else {
				a.word(t.Text)
			}
		case g.first[w]:
			n, k, ok := g.count(toks, skipSpace(toks, j))
			if w2 := skipSpace(toks, k); ok && w2 < len(toks) && isWord(toks[w2]) {
				a.word(firstRunes(toks[w2].Text, n))
				j = w2 + 1
			} else {
				a.word(t.Text)
			}
		case g.pick[w]:
			k := skipSpace(toks, j)
			w2 := skipSpace(toks, k+1)
			if k < len(toks) && isDigits(toks[k].Text) && w2 < len(toks) && isWord(toks[w2]) {
				a.word(pickRunes(toks[w2].Text, toks[k].Text))
				j = w2 + 1
			} else {
				a.word(t.Text)
			}
		case g.alphabet[w] != "":
			a.letter(g.alphabet[w])
		default:
			a.word(t.Text)
		}
		started = true
		end = j
	}
	return a.String(), end - from
}

// count reads a count at token j: a number token or a number word.
func (g *Grammar) count(toks []lang.Token, j int) (n, next int, ok bool) {
	if j >= len(toks) {
		return 0, j, false
	}
	t := toks[j]
	if t.Type == lang.TypeNumber {
		v, err := strconv.Atoi(t.Text)
		return v, j + 1, err == nil && v > 0
	}
	v, ok := g.numbers[strings.ToLower(t.Text)]
	return v, j + 1, ok && v > 0
}

func firstRunes(s string, n int) string {
	rs := []rune(s)
	return string(rs[:min(n, len(rs))])
}

// pickRunes returns the runes of s at the one-based positions named by the
// digits, skipping positions out of range.
func pickRunes(s, digits string) string {
	rs := []rune(s)
	var b strings.Builder
	for _, d := range digits {
		p := int(d - '0')
		if p >= 1 && p <= len(rs) {
			b.WriteRune(rs[p-1])
		}
	}
	return b.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// accumulator joins words according to a casing policy.
type accumulator struct {
	policy  string
	out     strings.Builder
	count   int
	inRun   bool
	capNext bool

	lower cases.Caser
	upper cases.Caser
	title cases.Caser
}

func newAccumulator(policy string) *accumulator {
	return &accumulator{
		policy: policy,
		lower:  cases.Lower(language.Und),
		upper:  cases.Upper(language.Und),
		title:  cases.Title(language.Und),
	}
}

func (a *accumulator) setPolicy(p string) {
	a.policy = p
	a.inRun = false
}

func (a *accumulator) separator() string {
	switch a.policy {
	case "snake", "constant":
		return "_"
	case "kebab":
		return "-"
	case "flat", "camel", "pascal":
		return ""
	}
	return " "
}

func (a *accumulator) word(w string) {
	a.inRun = false
	if w == "" {
		return
	}
	if a.count > 0 {
		a.out.WriteString(a.separator())
	}
	switch a.policy {
	case "flat", "snake", "kebab":
		w = a.lower.String(w)
	case "constant":
		w = a.upper.String(w)
	case "camel":
		if a.count == 0 {
			w = a.lower.String(w)
		} else {
			w = a.title.String(w)
		}
	case "pascal", "title":
		w = a.title.String(w)
	}
	if a.capNext {
		w = upperFirst(w)
		a.capNext = false
	}
	a.out.WriteString(w)
	a.count++
}

// letter appends a spelled letter. Consecutive letters form one word. A
// letter that is already upper case keeps its case.
func (a *accumulator) letter(l string) {
	first := !a.inRun
	if first {
		if a.count > 0 {
			a.out.WriteString(a.separator())
		}
		a.count++
		a.inRun = true
	}
	if a.lower.String(l) == l {
		switch {
		case a.capNext, a.policy == "constant":
			l = a.upper.String(l)
		case first && (a.policy == "pascal" || a.policy == "title" || (a.policy == "camel" && a.count > 1)):
			l = a.upper.String(l)
		}
	}
	a.capNext = false
	a.out.WriteString(l)
}

func (a *accumulator) String() string { return a.out.String() }

func upperFirst(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[n:]
}
