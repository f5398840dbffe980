package speech

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/MrWong99/voxedit/internal/document"
	"github.com/MrWong99/voxedit/internal/workspace"
	"github.com/MrWong99/voxedit/pkg/lang"
)

// errNoClipboard is returned by clipboard effects when no clipboard port is
// configured.
var errNoClipboard = errors.New("speech: no clipboard configured")

// effectCall is the input of an effect: the document, the resolved
// $location of the phrase (nil without one) and the clipboard.
type effectCall struct {
	doc  *document.Document
	loc  *Location
	clip workspace.ClipboardProvider
}

type effectFunc func(ctx context.Context, c effectCall) error

// effects are the built-in editor commands a grammar can bind phrases to.
var effects = map[string]effectFunc{
	"stop":       func(context.Context, effectCall) error { return nil },
	"go":         effectGo,
	"select":     effectSelect,
	"delete":     effectDelete,
	"copy":       effectCopy,
	"cut":        effectCut,
	"paste":      effectPaste,
	"next":       func(_ context.Context, c effectCall) error { _, err := c.doc.NextInsertionPoint(); return err },
	"previous":   func(_ context.Context, c effectCall) error { _, err := c.doc.PreviousInsertionPoint(); return err },
	"trim":       func(_ context.Context, c effectCall) error { return c.doc.TrimAround() },
	"line-above": func(_ context.Context, c effectCall) error { return c.doc.InsertBlankLine(false) },
	"line-below": func(_ context.Context, c effectCall) error { return c.doc.InsertBlankLine(true) },
	"indent":     effectIndent(1),
	"dedent":     effectIndent(-1),
	"line-start": func(_ context.Context, c effectCall) error { return c.doc.MoveToLineStart() },
	"line-end":   func(_ context.Context, c effectCall) error { return c.doc.MoveToLineEnd() },
	"newline":    effectNewline,
}

// Effects returns the names of the built-in effects, sorted.
func Effects() []string {
	return slices.Sorted(maps.Keys(effects))
}

func effectGo(_ context.Context, c effectCall) error {
	if c.loc == nil {
		return nil
	}
	return c.doc.Select(document.Range{Start: c.loc.Range.Start, End: c.loc.Range.Start})
}

func effectSelect(_ context.Context, c effectCall) error {
	r, err := c.target()
	if err != nil {
		return err
	}
	return c.doc.Select(r)
}

func effectDelete(_ context.Context, c effectCall) error {
	if c.loc == nil {
		_, err := c.doc.DeleteSelection()
		return err
	}
	_, err := c.doc.RemoveAt(c.loc.Range)
	return err
}

func effectCopy(ctx context.Context, c effectCall) error {
	if c.clip == nil {
		return errNoClipboard
	}
	if c.loc != nil {
		if err := c.doc.Select(c.loc.Range); err != nil {
			return err
		}
	}
	return c.doc.Copy(ctx, c.clip)
}

func effectCut(ctx context.Context, c effectCall) error {
	if c.clip == nil {
		return errNoClipboard
	}
	if c.loc != nil {
		if err := c.doc.Select(c.loc.Range); err != nil {
			return err
		}
	}
	return c.doc.Cut(ctx, c.clip)
}

func effectPaste(ctx context.Context, c effectCall) error {
	if c.clip == nil {
		return errNoClipboard
	}
	if c.loc != nil {
		if err := c.doc.SetCursor(c.loc.Range.Start); err != nil {
			return err
		}
	}
	return c.doc.Paste(ctx, c.clip)
}

func effectIndent(dir int) effectFunc {
	return func(_ context.Context, c effectCall) error {
		rows, err := c.rows()
		if err != nil {
			return err
		}
		for row := rows.Start.Row; row <= rows.End.Row; row++ {
			if dir > 0 {
				err = c.doc.IndentLine(row)
			} else {
				err = c.doc.DedentLine(row)
			}
			if err != nil {
				return err
			}
		}
		return nil
	}
}

func effectNewline(_ context.Context, c effectCall) error {
	cur, err := c.doc.Cursor()
	if err != nil {
		return err
	}
	_, err = c.doc.InsertAt("$n", cur, document.InsertOptions{Escapes: true, MoveCursor: true})
	return err
}

// target is the location's range, or the content of the cursor's line.
func (c effectCall) target() (document.Range, error) {
	if c.loc != nil {
		return c.loc.Range, nil
	}
	cur, err := c.doc.Cursor()
	if err != nil {
		return document.Range{}, err
	}
	return c.doc.ContentRange(cur.Row)
}

// rows is the location's range, or the cursor position.
func (c effectCall) rows() (document.Range, error) {
	if c.loc != nil {
		return c.loc.Range.Normalize(), nil
	}
	cur, err := c.doc.Cursor()
	if err != nil {
		return document.Range{}, err
	}
	return document.Range{Start: cur, End: cur}, nil
}

// ── Events ───────────────────────────────────────────────────────────────────

// builtinEvents returns the default event handlers. Event tokens look like
// {name} or {name:arg}.
func builtinEvents(clip workspace.ClipboardProvider) map[string]EventHandler {
	viaEffect := func(name string) EventHandler {
		return func(ctx context.Context, doc *document.Document, _ string) error {
			return effects[name](ctx, effectCall{doc: doc, clip: clip})
		}
	}
	return map[string]EventHandler{
		"copy":     viaEffect("copy"),
		"cut":      viaEffect("cut"),
		"paste":    viaEffect("paste"),
		"next":     viaEffect("next"),
		"previous": viaEffect("previous"),
		// {goto:row:column}, zero-based.
		"goto": func(_ context.Context, doc *document.Document, arg string) error {
			p, err := parsePosition(arg)
			if err != nil {
				return err
			}
			return doc.Select(document.Range{Start: p, End: p})
		},
		// {select:row:column-row:column}, zero-based; mark first.
		"select": func(_ context.Context, doc *document.Document, arg string) error {
			from, to, ok := strings.Cut(arg, "-")
			if !ok {
				return fmt.Errorf("speech: select event: want row:column-row:column, got %q", arg)
			}
			a, err := parsePosition(from)
			if err != nil {
				return err
			}
			b, err := parsePosition(to)
			if err != nil {
				return err
			}
			return doc.Select(document.Range{Start: a, End: b})
		},
	}
}

// splitEvent splits "{name:arg}" into name and arg.
func splitEvent(text string) (name, arg string) {
	text = strings.TrimSuffix(strings.TrimPrefix(text, "{"), "}")
	name, arg, _ = strings.Cut(text, ":")
	return name, arg
}

func parsePosition(s string) (lang.Position, error) {
	r, c, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return lang.Position{}, fmt.Errorf("speech: position %q: want row:column", s)
	}
	row, err := strconv.Atoi(r)
	if err != nil {
		return lang.Position{}, fmt.Errorf("speech: position %q: %w", s, err)
	}
	col, err := strconv.Atoi(c)
	if err != nil {
		return lang.Position{}, fmt.Errorf("speech: position %q: %w", s, err)
	}
	return lang.Position{Row: row, Column: col}, nil
}
