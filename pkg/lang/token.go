package lang

import "fmt"

// Token types with meaning to the interpreter. Context definitions may
// introduce further types (and change rules may restyle tokens), which the
// interpreter treats like words.
const (
	TypeWhitespace  = "whitespace"
	TypeNewline     = "newline"
	TypeWord        = "word"
	TypeNumber      = "number"
	TypePunctuation = "punctuation"
	TypeEvent       = "event"
	TypeUnknown     = "unknown"
)

// Position is a zero-based (row, column) location. Columns count runes.
type Position struct {
	Row    int `json:"row"`
	Column int `json:"column"`
}

// Compare returns -1, 0 or +1 depending on whether p sorts before, equal to
// or after q.
func (p Position) Compare(q Position) int {
	switch {
	case p.Row < q.Row:
		return -1
	case p.Row > q.Row:
		return 1
	case p.Column < q.Column:
		return -1
	case p.Column > q.Column:
		return 1
	}
	return 0
}

// Before reports whether p sorts strictly before q.
func (p Position) Before(q Position) bool { return p.Compare(q) < 0 }

// String renders p as "row:column".
func (p Position) String() string { return fmt.Sprintf("%d:%d", p.Row, p.Column) }

// Advance returns the position reached after text has been written at p.
func (p Position) Advance(text string) Position {
	for _, r := range text {
		if r == '\n' {
			p.Row++
			p.Column = 0
			continue
		}
		p.Column++
	}
	return p
}

// Token is an immutable lexical unit produced by [Language.Tokenize].
type Token struct {
	Text     string   `json:"text"`
	Position Position `json:"position"`
	Type     string   `json:"type"`
	// Context is the name of the context the token was scanned in.
	Context string `json:"context"`
}

// End returns the position just past the token.
func (t Token) End() Position { return t.Position.Advance(t.Text) }

// IsSpace reports whether t is a whitespace or newline token.
func (t Token) IsSpace() bool { return t.Type == TypeWhitespace || t.Type == TypeNewline }
