package document

import (
	"fmt"
	"strings"
)

// expand processes the $x escape language. level is the indentation level
// of the line the text lands on; $i and $d adjust it for the lines that
// follow.
//
//	$$      literal $
//	$n      newline at the current level
//	$i      newline one level deeper
//	$d      newline one level shallower
//	$t      one indentation unit
//	$c      insertion point
//	$0..$9  argument N
//
// Any other $x is kept as is.
func (d *Document) expand(text string, level int, args []string) (string, error) {
	if !strings.ContainsRune(text, '$') {
		return text, nil
	}
	var b strings.Builder
	rs := []rune(text)
	for i := 0; i < len(rs); i++ {
		if rs[i] != '$' || i == len(rs)-1 {
			b.WriteRune(rs[i])
			continue
		}
		i++
		switch c := rs[i]; {
		case c == '$':
			b.WriteByte('$')
		case c == 'n':
			b.WriteByte('\n')
			b.WriteString(d.margin.Render(level))
		case c == 'i':
			level++
			b.WriteByte('\n')
			b.WriteString(d.margin.Render(level))
		case c == 'd':
			level = max(0, level-1)
			b.WriteByte('\n')
			b.WriteString(d.margin.Render(level))
		case c == 't':
			b.WriteString(d.margin.Unit())
		case c == 'c':
			b.WriteRune(InsertionPoint)
		case c >= '0' && c <= '9':
			n := int(c - '0')
			if n >= len(args) {
				return "", fmt.Errorf("%w: $%d with %d arguments", ErrArgumentIndex, n, len(args))
			}
			b.WriteString(args[n])
		default:
			b.WriteByte('$')
			b.WriteRune(c)
		}
	}
	return b.String(), nil
}
