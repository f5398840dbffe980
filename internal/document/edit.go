package document

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/voxedit/pkg/lang"
	"github.com/MrWong99/voxedit/pkg/store"
)

// InsertOptions controls [Document.InsertAt].
type InsertOptions struct {
	// Spacing pads the text with a single space on either side where the
	// context's spacing rules ask for one.
	Spacing bool
	// Escapes expands the $x mini-language before insertion.
	Escapes bool
	// Args are substituted for $0..$9 when Escapes is set.
	Args []string
	// MoveCursor places the cursor at the first inserted insertion point,
	// or at the end of the inserted text when there is none.
	MoveCursor bool
}

// InsertAt inserts text at pos (clamped into bounds) and returns the range
// the inserted text occupies afterwards.
//
// Non-fixed anchors at or after pos shift by the inserted span.
func (d *Document) InsertAt(text string, pos lang.Position, opts InsertOptions) (Range, error) {
	pos, err := d.Clamp(pos)
	if err != nil {
		return Range{}, err
	}
	line, err := d.Line(pos.Row)
	if err != nil {
		return Range{}, err
	}
	head, tail := splitAt(line, pos.Column)

	if opts.Escapes {
		text, err = d.expand(text, d.margin.Level(line), opts.Args)
		if err != nil {
			return Range{}, err
		}
	}
	if opts.Spacing && text != "" {
		text, err = d.pad(text, pos, head, tail)
		if err != nil {
			return Range{}, err
		}
	}
	if text == "" {
		if opts.MoveCursor {
			if err := d.SetCursor(pos); err != nil {
				return Range{}, err
			}
		}
		return Range{Start: pos, End: pos}, nil
	}

	parts := strings.Split(text, "\n")
	extra := len(parts) - 1
	end := lang.Position{Row: pos.Row + extra, Column: utf8.RuneCountInString(parts[extra])}
	if extra == 0 {
		end.Column += pos.Column
	}

	if err := d.setLine(pos.Row, head+parts[0]+condTail(extra == 0, tail)); err != nil {
		return Range{}, err
	}
	if extra > 0 {
		added := make([]any, 0, extra)
		for _, p := range parts[1:extra] {
			added = append(added, p)
		}
		added = append(added, parts[extra]+tail)
		if err := d.spliceLines(pos.Row+1, 0, added); err != nil {
			return Range{}, err
		}
	}
	if err := d.recompute(pos.Row, pos.Row+extra); err != nil {
		return Range{}, err
	}
	if err := d.shiftAnchors(func(p lang.Position) lang.Position {
		return shiftForInsert(p, pos, end)
	}); err != nil {
		return Range{}, err
	}

	inserted := Range{Start: pos, End: end}
	if !opts.MoveCursor {
		return inserted, nil
	}
	if ip, ok := findForward(parts, pos, InsertionPoint); ok {
		if _, err := d.RemoveAt(Range{Start: ip, End: ip.Advance(string(InsertionPoint))}); err != nil {
			return Range{}, err
		}
		inserted.End = shiftForRemove(inserted.End, ip, ip.Advance(string(InsertionPoint)))
		return inserted, d.SetCursor(ip)
	}
	return inserted, d.SetCursor(end)
}

// RemoveAt removes the text covered by r and returns it. Non-fixed anchors
// inside the range collapse to its start; anchors after it shift back.
func (d *Document) RemoveAt(r Range) (string, error) {
	r = r.Normalize()
	s, err := d.Clamp(r.Start)
	if err != nil {
		return "", err
	}
	e, err := d.Clamp(r.End)
	if err != nil {
		return "", err
	}
	if s == e {
		return "", nil
	}
	removed, err := d.Slice(Range{Start: s, End: e})
	if err != nil {
		return "", err
	}

	first, err := d.Line(s.Row)
	if err != nil {
		return "", err
	}
	last, err := d.Line(e.Row)
	if err != nil {
		return "", err
	}
	head, _ := splitAt(first, s.Column)
	_, tail := splitAt(last, e.Column)
	if err := d.setLine(s.Row, head+tail); err != nil {
		return "", err
	}
	if e.Row > s.Row {
		if err := d.spliceLines(s.Row+1, e.Row-s.Row, nil); err != nil {
			return "", err
		}
	}
	if err := d.recompute(s.Row, s.Row); err != nil {
		return "", err
	}
	if err := d.shiftAnchors(func(p lang.Position) lang.Position {
		return shiftForRemove(p, s, e)
	}); err != nil {
		return "", err
	}
	return removed, nil
}

// Replace removes r and inserts text in its place.
func (d *Document) Replace(r Range, text string, opts InsertOptions) (Range, error) {
	r = r.Normalize()
	if _, err := d.RemoveAt(r); err != nil {
		return Range{}, err
	}
	return d.InsertAt(text, r.Start, opts)
}

// pad applies the spacing rules of the context at pos to both edges of text.
func (d *Document) pad(text string, pos lang.Position, head, tail string) (string, error) {
	ctx, err := d.ContextNameAt(pos)
	if err != nil {
		return "", err
	}
	left, err := d.lang.ShouldSpace(ctx, head, text)
	if err != nil {
		return "", fmt.Errorf("document: spacing: %w", err)
	}
	right, err := d.lang.ShouldSpace(ctx, text, tail)
	if err != nil {
		return "", fmt.Errorf("document: spacing: %w", err)
	}
	if left {
		text = " " + text
	}
	if right {
		text += " "
	}
	return text, nil
}

func shiftForInsert(p, at, end lang.Position) lang.Position {
	switch {
	case p.Before(at):
		return p
	case p.Row == at.Row:
		return lang.Position{Row: end.Row, Column: end.Column + p.Column - at.Column}
	default:
		return lang.Position{Row: p.Row + end.Row - at.Row, Column: p.Column}
	}
}

func shiftForRemove(p, s, e lang.Position) lang.Position {
	switch {
	case !s.Before(p):
		return p
	case !e.Before(p):
		return s
	case p.Row == e.Row:
		return lang.Position{Row: s.Row, Column: s.Column + p.Column - e.Column}
	default:
		return lang.Position{Row: p.Row - (e.Row - s.Row), Column: p.Column}
	}
}

func (d *Document) shiftAnchors(move func(lang.Position) lang.Position) error {
	anchors, err := d.anchors()
	if err != nil {
		return err
	}
	names := make([]string, 0, len(anchors))
	for name := range anchors {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		a := anchors[name]
		if a.Fixed {
			continue
		}
		if next := move(a.Position); next != a.Position {
			a.Position = next
			if err := d.writeAnchor(name, a); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Document) setLine(row int, text string) error {
	lines, err := d.st.Root().Key(keyLines)
	if err != nil {
		return fmt.Errorf("document: set line %d: %w", row, err)
	}
	n, err := lines.Index(row)
	if err != nil {
		return fmt.Errorf("document: set line %d: %w", row, err)
	}
	if cur, _ := n.String(); cur == text {
		return nil
	}
	if err := n.Set(text); err != nil {
		return fmt.Errorf("document: set line %d: %w", row, err)
	}
	return nil
}

// spliceLines removes count lines at row, then inserts added there. The
// context cache is kept the same length; inserted entries are placeholders
// until the next recompute.
func (d *Document) spliceLines(row, count int, added []any) error {
	root := d.st.Root()
	lines, err := root.Key(keyLines)
	if err != nil {
		return fmt.Errorf("document: splice: %w", err)
	}
	contexts, err := root.Key(keyContexts)
	if err != nil {
		return fmt.Errorf("document: splice: %w", err)
	}
	if count > 0 {
		if err := lines.Remove(row, count); err != nil {
			return fmt.Errorf("document: splice: %w", err)
		}
		if err := contexts.Remove(row, count); err != nil {
			return fmt.Errorf("document: splice: %w", err)
		}
	}
	if len(added) > 0 {
		if err := lines.Insert(row, added...); err != nil {
			return fmt.Errorf("document: splice: %w", err)
		}
		placeholders := make([]any, len(added))
		for i := range placeholders {
			placeholders[i] = []any{}
		}
		if err := contexts.Insert(row, placeholders...); err != nil {
			return fmt.Errorf("document: splice: %w", err)
		}
	}
	return nil
}

// recompute refreshes the context cache starting at from. Every line up to
// through is recomputed unconditionally; after that, recomputation stops at
// the first line whose cached start stack already matches.
func (d *Document) recompute(from, through int) error {
	n, err := d.LineCount()
	if err != nil {
		return err
	}
	stack := []string{d.root}
	if from > 0 {
		if stack, err = d.Contexts(from); err != nil {
			return err
		}
		if len(stack) == 0 {
			return fmt.Errorf("document: context cache of line %d is empty: %w", from, store.ErrStructural)
		}
	}
	for row := from; row < n; row++ {
		cached, err := d.Contexts(row)
		if err != nil {
			return err
		}
		if row > through && slices.Equal(stack, cached) {
			return nil
		}
		if !slices.Equal(stack, cached) {
			if err := d.setContexts(row, stack); err != nil {
				return err
			}
		}
		line, err := d.Line(row)
		if err != nil {
			return err
		}
		res, err := d.lang.Tokenize(line+"\n", stack, lang.Position{Row: row}, false)
		if err != nil {
			return fmt.Errorf("document: line %d: %w", row, err)
		}
		stack = res.Stack
	}
	return nil
}

func (d *Document) setContexts(row int, stack []string) error {
	contexts, err := d.st.Root().Key(keyContexts)
	if err != nil {
		return fmt.Errorf("document: contexts: %w", err)
	}
	if err := contexts.Remove(row, 1); err != nil {
		return fmt.Errorf("document: contexts of line %d: %w", row, err)
	}
	if err := contexts.Insert(row, slices.Clone(stack)); err != nil {
		return fmt.Errorf("document: contexts of line %d: %w", row, err)
	}
	return nil
}

func (d *Document) computeContexts(lines []string) ([][]string, error) {
	out := make([][]string, len(lines))
	stack := []string{d.root}
	for row, line := range lines {
		out[row] = stack
		res, err := d.lang.Tokenize(line+"\n", stack, lang.Position{Row: row}, false)
		if err != nil {
			return nil, fmt.Errorf("document: line %d: %w", row, err)
		}
		stack = res.Stack
	}
	return out, nil
}

// ── Position helpers ─────────────────────────────────────────────────────────

func clamp(lines []string, p lang.Position) lang.Position {
	if p.Row < 0 {
		return lang.Position{}
	}
	if p.Row >= len(lines) {
		last := len(lines) - 1
		return lang.Position{Row: last, Column: utf8.RuneCountInString(lines[last])}
	}
	p.Column = max(0, min(p.Column, utf8.RuneCountInString(lines[p.Row])))
	return p
}

func splitAt(s string, col int) (string, string) {
	if col <= 0 {
		return "", s
	}
	i := 0
	for off := range s {
		if i == col {
			return s[:off], s[off:]
		}
		i++
	}
	return s, ""
}

func runeSlice(s string, from, to int) string {
	_, rest := splitAt(s, from)
	mid, _ := splitAt(rest, to-from)
	return mid
}

func condTail(ok bool, tail string) string {
	if ok {
		return tail
	}
	return ""
}

// findForward locates the first r in parts, which are the lines of text
// inserted at origin.
func findForward(parts []string, origin lang.Position, r rune) (lang.Position, bool) {
	for i, part := range parts {
		col := 0
		for _, c := range part {
			if c == r {
				p := lang.Position{Row: origin.Row + i, Column: col}
				if i == 0 {
					p.Column += origin.Column
				}
				return p, true
			}
			col++
		}
	}
	return lang.Position{}, false
}
