package document

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/voxedit/pkg/lang"
)

// Clipboard reads and writes plain text. The workspace clipboard port
// satisfies it.
type Clipboard interface {
	ReadText(ctx context.Context) (string, error)
	WriteText(ctx context.Context, text string) error
}

// ── Ranges ───────────────────────────────────────────────────────────────────

// LineRange covers the whole of line row.
func (d *Document) LineRange(row int) (Range, error) {
	line, err := d.Line(row)
	if err != nil {
		return Range{}, err
	}
	return Range{
		Start: lang.Position{Row: row},
		End:   lang.Position{Row: row, Column: utf8.RuneCountInString(line)},
	}, nil
}

// ContentRange covers line row without its margin and trailing whitespace.
func (d *Document) ContentRange(row int) (Range, error) {
	line, err := d.Line(row)
	if err != nil {
		return Range{}, err
	}
	start := utf8.RuneCountInString(line) - utf8.RuneCountInString(strings.TrimLeft(line, " \t"))
	end := utf8.RuneCountInString(strings.TrimRight(line, " \t"))
	if end < start {
		end = start
	}
	return Range{
		Start: lang.Position{Row: row, Column: start},
		End:   lang.Position{Row: row, Column: end},
	}, nil
}

// TokenRange covers the index-th (zero-based) non-whitespace token of line
// row. The index is clamped to the tokens present; a line without tokens
// yields its empty content range.
func (d *Document) TokenRange(row, index int) (Range, error) {
	line, err := d.Line(row)
	if err != nil {
		return Range{}, err
	}
	start, err := d.Contexts(row)
	if err != nil {
		return Range{}, err
	}
	res, err := d.lang.Tokenize(line, start, lang.Position{Row: row}, false)
	if err != nil {
		return Range{}, fmt.Errorf("document: tokens of line %d: %w", row, err)
	}
	if len(res.Tokens) == 0 {
		return d.ContentRange(row)
	}
	index = max(0, min(index, len(res.Tokens)-1))
	t := res.Tokens[index]
	return Range{Start: t.Position, End: t.End()}, nil
}

// ── Cursor movement ─────────────────────────────────────────────────────────

// MoveToLineStart moves the cursor to the first non-margin column of its
// line.
func (d *Document) MoveToLineStart() error {
	cur, err := d.Cursor()
	if err != nil {
		return err
	}
	r, err := d.ContentRange(cur.Row)
	if err != nil {
		return err
	}
	return d.SetCursor(r.Start)
}

// MoveToLineEnd moves the cursor to the end of its line.
func (d *Document) MoveToLineEnd() error {
	cur, err := d.Cursor()
	if err != nil {
		return err
	}
	r, err := d.LineRange(cur.Row)
	if err != nil {
		return err
	}
	return d.SetCursor(r.End)
}

// NextInsertionPoint moves the cursor to the next insertion point after it,
// consuming the marker. It reports false when there is none.
func (d *Document) NextInsertionPoint() (bool, error) {
	cur, err := d.Cursor()
	if err != nil {
		return false, err
	}
	lines, err := d.Lines()
	if err != nil {
		return false, err
	}
	for row := cur.Row; row < len(lines); row++ {
		col := 0
		for _, r := range lines[row] {
			if r == InsertionPoint && (row > cur.Row || col >= cur.Column) {
				return true, d.takeInsertionPoint(lang.Position{Row: row, Column: col})
			}
			col++
		}
	}
	return false, nil
}

// PreviousInsertionPoint moves the cursor to the nearest insertion point
// before it, consuming the marker. It reports false when there is none.
func (d *Document) PreviousInsertionPoint() (bool, error) {
	cur, err := d.Cursor()
	if err != nil {
		return false, err
	}
	lines, err := d.Lines()
	if err != nil {
		return false, err
	}
	cur = clamp(lines, cur)
	for row := cur.Row; row >= 0; row-- {
		rs := []rune(lines[row])
		limit := len(rs)
		if row == cur.Row {
			limit = cur.Column
		}
		for col := limit - 1; col >= 0; col-- {
			if rs[col] == InsertionPoint {
				return true, d.takeInsertionPoint(lang.Position{Row: row, Column: col})
			}
		}
	}
	return false, nil
}

func (d *Document) takeInsertionPoint(p lang.Position) error {
	if _, err := d.RemoveAt(Range{Start: p, End: lang.Position{Row: p.Row, Column: p.Column + 1}}); err != nil {
		return err
	}
	return d.SetCursor(p)
}

// ── Editing helpers ──────────────────────────────────────────────────────────

// TrimAround removes horizontal whitespace immediately around the cursor.
func (d *Document) TrimAround() error {
	cur, err := d.Cursor()
	if err != nil {
		return err
	}
	line, err := d.Line(cur.Row)
	if err != nil {
		return err
	}
	rs := []rune(line)
	start := max(0, min(cur.Column, len(rs)))
	end := start
	for start > 0 && (rs[start-1] == ' ' || rs[start-1] == '\t') {
		start--
	}
	for end < len(rs) && (rs[end] == ' ' || rs[end] == '\t') {
		end++
	}
	_, err = d.RemoveAt(Range{
		Start: lang.Position{Row: cur.Row, Column: start},
		End:   lang.Position{Row: cur.Row, Column: end},
	})
	return err
}

// InsertBlankLine opens an empty line above or below the cursor's line at
// the appropriate margin and moves the cursor onto it.
func (d *Document) InsertBlankLine(below bool) error {
	cur, err := d.Cursor()
	if err != nil {
		return err
	}
	line, err := d.Line(cur.Row)
	if err != nil {
		return err
	}
	level := d.margin.Level(line)
	if below {
		ctx, err := d.ContextNameAt(cur)
		if err != nil {
			return err
		}
		level += d.lang.ShouldIndent(ctx, line, "")
		end := lang.Position{Row: cur.Row, Column: utf8.RuneCountInString(line)}
		_, err = d.InsertAt("\n"+d.margin.Render(level), end, InsertOptions{MoveCursor: true})
		return err
	}
	indent := d.margin.Render(level)
	if _, err := d.InsertAt(indent+"\n", lang.Position{Row: cur.Row}, InsertOptions{}); err != nil {
		return err
	}
	return d.SetCursor(lang.Position{Row: cur.Row, Column: utf8.RuneCountInString(indent)})
}

// IndentLine adds one indentation unit at the start of line row.
func (d *Document) IndentLine(row int) error {
	_, err := d.InsertAt(d.margin.Unit(), lang.Position{Row: row}, InsertOptions{})
	return err
}

// DedentLine removes up to one indentation unit from the start of line row.
func (d *Document) DedentLine(row int) error {
	line, err := d.Line(row)
	if err != nil {
		return err
	}
	n := 0
	if strings.HasPrefix(line, "\t") {
		n = 1
	} else {
		size := utf8.RuneCountInString(d.margin.Unit())
		for n < size && n < len(line) && line[n] == ' ' {
			n++
		}
	}
	if n == 0 {
		return nil
	}
	_, err = d.RemoveAt(Range{Start: lang.Position{Row: row}, End: lang.Position{Row: row, Column: n}})
	return err
}

// DeleteSelection removes the text between mark and cursor.
func (d *Document) DeleteSelection() (string, error) {
	sel, err := d.Selection()
	if err != nil {
		return "", err
	}
	return d.RemoveAt(sel)
}

// ── Clipboard ────────────────────────────────────────────────────────────────

// Copy writes the selected text to cb.
func (d *Document) Copy(ctx context.Context, cb Clipboard) error {
	sel, err := d.Selection()
	if err != nil {
		return err
	}
	text, err := d.Slice(sel)
	if err != nil {
		return err
	}
	if err := cb.WriteText(ctx, text); err != nil {
		return fmt.Errorf("document: copy: %w", err)
	}
	return nil
}

// Cut writes the selected text to cb and removes it.
func (d *Document) Cut(ctx context.Context, cb Clipboard) error {
	if err := d.Copy(ctx, cb); err != nil {
		return err
	}
	_, err := d.DeleteSelection()
	return err
}

// Paste inserts the clipboard text at the cursor. Multi-line text is
// re-levelled: the smallest margin among its non-blank lines is removed and
// the lines are re-based on the line above the paste point, shifted by one
// step when the context's indentation rules ask for it.
func (d *Document) Paste(ctx context.Context, cb Clipboard) error {
	text, err := cb.ReadText(ctx)
	if err != nil {
		return fmt.Errorf("document: paste: %w", err)
	}
	cur, err := d.Cursor()
	if err != nil {
		return err
	}
	if !strings.Contains(text, "\n") {
		_, err := d.InsertAt(text, cur, InsertOptions{MoveCursor: true})
		return err
	}
	at, text, err := d.relevel(cur, text)
	if err != nil {
		return err
	}
	_, err = d.InsertAt(text, at, InsertOptions{MoveCursor: true})
	return err
}

// relevel returns the position to paste at and the re-levelled text. When
// only margin precedes the cursor, that margin is replaced by the pasted
// first line's own.
func (d *Document) relevel(cur lang.Position, text string) (lang.Position, string, error) {
	cur, err := d.Clamp(cur)
	if err != nil {
		return cur, "", err
	}
	line, err := d.Line(cur.Row)
	if err != nil {
		return cur, "", err
	}
	head, _ := splitAt(line, cur.Column)
	blankHead := strings.TrimLeft(head, " \t") == ""

	parts := strings.Split(text, "\n")
	minCols := -1
	first := ""
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if c := d.margin.Columns(p); minCols < 0 || c < minCols {
			minCols = c
		}
		if first == "" {
			first = d.margin.Strip(p)
		}
	}
	if minCols < 0 {
		return cur, text, nil
	}

	prev := line
	if blankHead {
		prev = ""
		for row := cur.Row - 1; row >= 0; row-- {
			l, err := d.Line(row)
			if err != nil {
				return cur, "", err
			}
			if strings.TrimSpace(l) != "" {
				prev = l
				break
			}
		}
	}
	ctxName, err := d.ContextNameAt(cur)
	if err != nil {
		return cur, "", err
	}
	base := max(0, d.margin.Level(prev)+d.lang.ShouldIndent(ctxName, prev, first))

	out := make([]string, len(parts))
	for i, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		rel := d.margin.Level(d.dropColumns(p, minCols))
		out[i] = d.margin.Render(base+rel) + d.margin.Strip(p)
	}
	if !blankHead {
		out[0] = d.margin.Strip(parts[0])
		return cur, strings.Join(out, "\n"), nil
	}
	if _, err := d.RemoveAt(Range{Start: lang.Position{Row: cur.Row}, End: cur}); err != nil {
		return cur, "", err
	}
	return lang.Position{Row: cur.Row}, strings.Join(out, "\n"), nil
}

// dropColumns removes n columns of leading whitespace from line.
func (d *Document) dropColumns(line string, n int) string {
	i := 0
	for i < len(line) && n > 0 {
		switch line[i] {
		case ' ':
			n--
		case '\t':
			n -= d.margin.Columns("\t")
		default:
			return line[i:]
		}
		i++
	}
	return line[i:]
}
