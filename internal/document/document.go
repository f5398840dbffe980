// Package document implements the line and anchor level edit model that the
// speech interpreter drives.
//
// A [Document] keeps all of its state inside a [store.Store] so that every
// edit is undoable through the store's inverse log:
//
//	{
//	  "lines":    ["first line", "second line"],
//	  "contexts": [["text"], ["text"]],
//	  "anchors":  {"cursor": {"row": 0, "column": 3, "fixed": false}, ...}
//	}
//
// contexts[i] caches the tokenizer context stack at the start of line i. The
// cache is recomputed forward from an edited line until a line's computed
// start stack matches its cached value.
//
// A Document is not safe for concurrent use.
package document

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/voxedit/pkg/lang"
	"github.com/MrWong99/voxedit/pkg/store"
)

// Well-known anchor names.
const (
	AnchorCursor = "cursor"
	AnchorMark   = "mark"
	// AnchorView is the fixed viewport origin.
	AnchorView = "view"
)

// InsertionPoint is the sentinel rune left in text by the $c escape. It
// marks the next place the cursor jumps to.
const InsertionPoint = '‸'

const (
	keyLines    = "lines"
	keyContexts = "contexts"
	keyAnchors  = "anchors"
)

var (
	// ErrArgumentIndex is returned when a $N escape refers to a missing
	// argument.
	ErrArgumentIndex = errors.New("document: argument index out of range")

	// ErrNoAnchor is returned for lookups of an anchor that was never set.
	ErrNoAnchor = errors.New("document: no such anchor")
)

// Anchor is a named position. Fixed anchors do not move when text is
// inserted or removed around them.
type Anchor struct {
	Position lang.Position `json:"position"`
	Fixed    bool          `json:"fixed"`
}

// Range is a span of text between two positions. Start may sort after End;
// use [Range.Normalize] before comparing.
type Range struct {
	Start lang.Position `json:"start"`
	End   lang.Position `json:"end"`
}

// Normalize returns r with Start at or before End.
func (r Range) Normalize() Range {
	if r.End.Before(r.Start) {
		return Range{Start: r.End, End: r.Start}
	}
	return r
}

// Empty reports whether r covers no text.
func (r Range) Empty() bool { return r.Start == r.End }

// Contains reports whether p lies within the normalized range, edges
// included.
func (r Range) Contains(p lang.Position) bool {
	n := r.Normalize()
	return !p.Before(n.Start) && !n.End.Before(p)
}

// Option is a functional option for [New].
type Option func(*Document)

// WithMargin sets the indentation policy. Default: four spaces.
func WithMargin(m lang.Margin) Option {
	return func(d *Document) { d.margin = m }
}

// WithRootContext sets the context every document starts in. Default: "text".
func WithRootContext(name string) Option {
	return func(d *Document) { d.root = name }
}

// Document is a text buffer backed by an undoable store.
type Document struct {
	st     *store.Store
	lang   *lang.Language
	margin lang.Margin
	root   string
}

// New creates a document holding text. The initial state is written
// straight into a fresh store, so it is not undoable.
func New(l *lang.Language, text string, opts ...Option) (*Document, error) {
	d := &Document{lang: l, margin: lang.Margin{Size: 4}, root: "text"}
	for _, o := range opts {
		o(d)
	}
	if _, ok := l.Context(d.root); !ok {
		return nil, fmt.Errorf("document: root context %q: %w", d.root, lang.ErrConfiguration)
	}

	lines := strings.Split(text, "\n")
	contexts, err := d.computeContexts(lines)
	if err != nil {
		return nil, err
	}
	ctxValues := make([]any, len(contexts))
	for i, c := range contexts {
		ctxValues[i] = c
	}
	lineValues := make([]any, len(lines))
	for i, line := range lines {
		lineValues[i] = line
	}
	st, err := store.New(map[string]any{
		keyLines:    lineValues,
		keyContexts: ctxValues,
		keyAnchors: map[string]any{
			AnchorCursor: anchorValue(lang.Position{}, false),
			AnchorMark:   anchorValue(lang.Position{}, false),
			AnchorView:   anchorValue(lang.Position{}, true),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("document: %w", err)
	}
	d.st = st
	return d, nil
}

// Store returns the backing store. Callers use it for undo bookkeeping; all
// edits must go through the document.
func (d *Document) Store() *store.Store { return d.st }

// Language returns the language used for context tracking and spacing.
func (d *Document) Language() *lang.Language { return d.lang }

// Margin returns the document's indentation policy.
func (d *Document) Margin() lang.Margin { return d.margin }

// SetMargin changes the indentation policy for later edits. Existing lines
// keep their indentation.
func (d *Document) SetMargin(m lang.Margin) { d.margin = m }

// SetLanguage swaps the language and recomputes every cached context stack.
// The recomputation is recorded in the store like any other edit.
func (d *Document) SetLanguage(l *lang.Language) error {
	if _, ok := l.Context(d.root); !ok {
		return fmt.Errorf("document: root context %q: %w", d.root, lang.ErrConfiguration)
	}
	d.lang = l
	n, err := d.LineCount()
	if err != nil {
		return err
	}
	return d.recompute(0, n-1)
}

// ── Reads ─────────────────────────────────────────────────────────────────────

// Lines returns every line of the document.
func (d *Document) Lines() ([]string, error) {
	n, err := d.st.Root().Key(keyLines)
	if err != nil {
		return nil, fmt.Errorf("document: lines: %w", err)
	}
	v, err := n.Value()
	if err != nil {
		return nil, fmt.Errorf("document: lines: %w", err)
	}
	return toStrings(v)
}

// Text returns the whole document joined with newlines.
func (d *Document) Text() (string, error) {
	lines, err := d.Lines()
	if err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

// LineCount returns the number of lines, which is always at least one.
func (d *Document) LineCount() (int, error) {
	n, err := d.st.Root().Key(keyLines)
	if err != nil {
		return 0, fmt.Errorf("document: lines: %w", err)
	}
	return n.Len()
}

// Line returns line row.
func (d *Document) Line(row int) (string, error) {
	lines, err := d.st.Root().Key(keyLines)
	if err != nil {
		return "", fmt.Errorf("document: line %d: %w", row, err)
	}
	n, err := lines.Index(row)
	if err != nil {
		return "", fmt.Errorf("document: line %d: %w", row, err)
	}
	return n.String()
}

// Contexts returns the cached context stack at the start of row.
func (d *Document) Contexts(row int) ([]string, error) {
	if row < 0 {
		return nil, fmt.Errorf("document: contexts of line %d: %w", row, store.ErrNoEdge)
	}
	all, err := d.st.Root().Key(keyContexts)
	if err != nil {
		return nil, fmt.Errorf("document: contexts: %w", err)
	}
	n, err := all.Index(row)
	if err != nil {
		return nil, fmt.Errorf("document: contexts of line %d: %w", row, err)
	}
	v, err := n.Value()
	if err != nil {
		return nil, fmt.Errorf("document: contexts of line %d: %w", row, err)
	}
	return toStrings(v)
}

// ContextAt returns the context stack in effect at pos.
func (d *Document) ContextAt(pos lang.Position) ([]string, error) {
	pos, err := d.Clamp(pos)
	if err != nil {
		return nil, err
	}
	start, err := d.Contexts(pos.Row)
	if err != nil {
		return nil, err
	}
	line, err := d.Line(pos.Row)
	if err != nil {
		return nil, err
	}
	head, _ := splitAt(line, pos.Column)
	res, err := d.lang.Tokenize(head, start, lang.Position{Row: pos.Row}, false)
	if err != nil {
		return nil, fmt.Errorf("document: context at %s: %w", pos, err)
	}
	return res.Stack, nil
}

// ContextNameAt returns the innermost context at pos.
func (d *Document) ContextNameAt(pos lang.Position) (string, error) {
	stack, err := d.ContextAt(pos)
	if err != nil {
		return "", err
	}
	return stack[len(stack)-1], nil
}

// Clamp moves pos into the document's bounds. Only the target line is read.
func (d *Document) Clamp(pos lang.Position) (lang.Position, error) {
	if pos.Row < 0 {
		return lang.Position{}, nil
	}
	n, err := d.LineCount()
	if err != nil {
		return pos, err
	}
	if pos.Row >= n {
		pos = lang.Position{Row: n - 1, Column: math.MaxInt}
	}
	line, err := d.Line(pos.Row)
	if err != nil {
		return pos, err
	}
	pos.Column = max(0, min(pos.Column, utf8.RuneCountInString(line)))
	return pos, nil
}

// Slice returns the text covered by r.
func (d *Document) Slice(r Range) (string, error) {
	lines, err := d.Lines()
	if err != nil {
		return "", err
	}
	r = r.Normalize()
	s, e := clamp(lines, r.Start), clamp(lines, r.End)
	if s.Row == e.Row {
		return runeSlice(lines[s.Row], s.Column, e.Column), nil
	}
	var b strings.Builder
	_, first := splitAt(lines[s.Row], s.Column)
	b.WriteString(first)
	for row := s.Row + 1; row < e.Row; row++ {
		b.WriteByte('\n')
		b.WriteString(lines[row])
	}
	last, _ := splitAt(lines[e.Row], e.Column)
	b.WriteByte('\n')
	b.WriteString(last)
	return b.String(), nil
}

// ── Anchors ──────────────────────────────────────────────────────────────────

// Anchor returns the anchor registered under name.
func (d *Document) Anchor(name string) (Anchor, error) {
	anchors, err := d.anchors()
	if err != nil {
		return Anchor{}, err
	}
	a, ok := anchors[name]
	if !ok {
		return Anchor{}, fmt.Errorf("%w: %q", ErrNoAnchor, name)
	}
	return a, nil
}

// Anchors returns every anchor by name.
func (d *Document) Anchors() (map[string]Anchor, error) { return d.anchors() }

// Cursor returns the cursor position.
func (d *Document) Cursor() (lang.Position, error) {
	a, err := d.Anchor(AnchorCursor)
	return a.Position, err
}

// SetCursor moves the cursor to pos (clamped).
func (d *Document) SetCursor(pos lang.Position) error {
	return d.SetAnchor(AnchorCursor, pos, false)
}

// SetAnchor creates or moves an anchor. pos is clamped into bounds.
func (d *Document) SetAnchor(name string, pos lang.Position, fixed bool) error {
	pos, err := d.Clamp(pos)
	if err != nil {
		return err
	}
	return d.writeAnchor(name, Anchor{Position: pos, Fixed: fixed})
}

// Select places the mark at r.Start and the cursor at r.End.
func (d *Document) Select(r Range) error {
	if err := d.SetAnchor(AnchorMark, r.Start, false); err != nil {
		return err
	}
	return d.SetAnchor(AnchorCursor, r.End, false)
}

// Selection returns the normalized range between mark and cursor.
func (d *Document) Selection() (Range, error) {
	anchors, err := d.anchors()
	if err != nil {
		return Range{}, err
	}
	return Range{Start: anchors[AnchorMark].Position, End: anchors[AnchorCursor].Position}.Normalize(), nil
}

// ── Store plumbing ───────────────────────────────────────────────────────────

func (d *Document) anchors() (map[string]Anchor, error) {
	n, err := d.st.Root().Key(keyAnchors)
	if err != nil {
		return nil, fmt.Errorf("document: anchors: %w", err)
	}
	v, err := n.Value()
	if err != nil {
		return nil, fmt.Errorf("document: anchors: %w", err)
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("document: anchors: %w", store.ErrTypeMismatch)
	}
	out := make(map[string]Anchor, len(raw))
	for name, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("document: anchor %q: %w", name, store.ErrTypeMismatch)
		}
		row, _ := m["row"].(float64)
		col, _ := m["column"].(float64)
		fixed, _ := m["fixed"].(bool)
		out[name] = Anchor{Position: lang.Position{Row: int(row), Column: int(col)}, Fixed: fixed}
	}
	return out, nil
}

// writeAnchor records only the fields that actually change.
func (d *Document) writeAnchor(name string, a Anchor) error {
	anchors, err := d.st.Root().Key(keyAnchors)
	if err != nil {
		return fmt.Errorf("document: anchors: %w", err)
	}
	n, err := anchors.Key(name)
	if err != nil {
		if err := anchors.SetKey(name, anchorValue(a.Position, a.Fixed)); err != nil {
			return fmt.Errorf("document: anchor %q: %w", name, err)
		}
		return nil
	}
	fields := []struct {
		key string
		val any
	}{
		{"row", float64(a.Position.Row)},
		{"column", float64(a.Position.Column)},
		{"fixed", a.Fixed},
	}
	for _, f := range fields {
		c, err := n.Key(f.key)
		if err != nil {
			return fmt.Errorf("document: anchor %q: %w", name, err)
		}
		cur, err := c.Value()
		if err != nil {
			return fmt.Errorf("document: anchor %q: %w", name, err)
		}
		if cur == f.val {
			continue
		}
		if err := c.Set(f.val); err != nil {
			return fmt.Errorf("document: anchor %q: %w", name, err)
		}
	}
	return nil
}

func anchorValue(p lang.Position, fixed bool) map[string]any {
	return map[string]any{"row": p.Row, "column": p.Column, "fixed": fixed}
}

func toStrings(v any) ([]string, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("document: expected list: %w", store.ErrTypeMismatch)
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("document: item %d is %T: %w", i, item, store.ErrTypeMismatch)
		}
		out[i] = s
	}
	return out, nil
}
