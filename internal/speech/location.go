package speech

import (
	"context"
	"strconv"
	"strings"

	"github.com/MrWong99/voxedit/internal/document"
	"github.com/MrWong99/voxedit/pkg/lang"
)

// Location is a resolved spoken location reference.
type Location struct {
	Range document.Range
	// WindowID is the window the reference was resolved through, or 0.
	WindowID int
}

// location parses a location starting at token j:
//
//	loc    := from simple to simple | prefix simple [to prefix simple]
//	prefix := [before | after | all]
//	simple := N | N.M | number word
//
// It returns the location and the number of tokens consumed.
func (i *Interpreter) location(ctx context.Context, u *utterance, j int) (Location, int, bool) {
	toks := u.tokens
	if i.connector(toks, j) == "from" {
		at := skipSpace(toks, j+1)
		a, n, ok := i.prefixed(ctx, u, at)
		if !ok {
			return Location{}, 0, false
		}
		to := skipSpace(toks, at+n)
		if i.connector(toks, to) != "to" {
			return Location{}, 0, false
		}
		at = skipSpace(toks, to+1)
		b, n2, ok := i.prefixed(ctx, u, at)
		if !ok {
			return Location{}, 0, false
		}
		return span(a, b), at + n2 - j, true
	}

	a, n, ok := i.prefixed(ctx, u, j)
	if !ok {
		return Location{}, 0, false
	}
	to := skipSpace(toks, j+n)
	if i.connector(toks, to) != "to" {
		return a, n, true
	}
	at := skipSpace(toks, to+1)
	b, n2, ok := i.prefixed(ctx, u, at)
	if !ok {
		return a, n, true
	}
	return span(a, b), at + n2 - j, true
}

// prefixed parses an optional before/after/all connector and a simple
// location.
func (i *Interpreter) prefixed(ctx context.Context, u *utterance, j int) (Location, int, bool) {
	conn := i.connector(u.tokens, j)
	switch conn {
	case "before", "after", "all":
	default:
		return i.simple(ctx, u, j)
	}
	at := skipSpace(u.tokens, j+1)
	loc, n, ok := i.simple(ctx, u, at)
	if !ok {
		return Location{}, 0, false
	}
	switch conn {
	case "before":
		loc.Range.End = loc.Range.Start
	case "after":
		loc.Range.Start = loc.Range.End
	case "all":
		lr, err := u.doc.LineRange(loc.Range.Start.Row)
		if err != nil {
			return Location{}, 0, false
		}
		last, err := u.doc.LineRange(loc.Range.End.Row)
		if err != nil {
			return Location{}, 0, false
		}
		loc.Range = document.Range{Start: lr.Start, End: last.End}
	}
	return loc, at + n - j, true
}

// simple resolves a line label ("12"), a token within a labelled line
// ("12.3", one-based token) or a window id.
func (i *Interpreter) simple(ctx context.Context, u *utterance, j int) (Location, int, bool) {
	if j >= len(u.tokens) {
		return Location{}, 0, false
	}
	tok := u.tokens[j]
	var (
		label, tokenNo int
		hasToken       bool
	)
	switch {
	case tok.Type == lang.TypeNumber:
		l, t, ok := strings.Cut(tok.Text, ".")
		n, err := strconv.Atoi(l)
		if err != nil {
			return Location{}, 0, false
		}
		label = n
		if ok {
			m, err := strconv.Atoi(t)
			if err != nil {
				return Location{}, 0, false
			}
			tokenNo, hasToken = m, true
		}
	case isWord(tok):
		n, ok := i.grammar.numbers[strings.ToLower(tok.Text)]
		if !ok {
			return Location{}, 0, false
		}
		label = n
	default:
		return Location{}, 0, false
	}

	loc, reason := i.resolve(u, label, tokenNo, hasToken)
	if reason != "" {
		i.metrics.RecordResolutionFailure(ctx, reason)
		i.log.Debug("speech: location not resolved", "text", tok.Text, "reason", reason)
		return Location{}, 0, false
	}
	return loc, 1, true
}

// resolve maps a label onto the utterance's document. It returns a non-empty
// failure reason when the reference cannot be resolved.
func (i *Interpreter) resolve(u *utterance, label, tokenNo int, hasToken bool) (Location, string) {
	lineRange := func(row, win int) (Location, string) {
		var (
			r   document.Range
			err error
		)
		if hasToken {
			r, err = u.doc.TokenRange(row, tokenNo-1)
		} else {
			r, err = u.doc.ContentRange(row)
		}
		if err != nil {
			return Location{}, "out_of_range"
		}
		return Location{Range: r, WindowID: win}, ""
	}

	if i.env.Windows == nil {
		return lineRange(label-1, 0)
	}
	if v, ok := i.env.Windows.WindowByLabel(label); ok {
		if v.Document != u.doc {
			return Location{}, "other_document"
		}
		row, _ := v.LineForLabel(label)
		return lineRange(row, v.WindowID)
	}
	if hasToken {
		return Location{}, "unknown_label"
	}
	v, ok := i.env.Windows.WindowByID(label)
	if !ok {
		return Location{}, "unknown_label"
	}
	if v.Document != u.doc {
		return Location{}, "other_document"
	}
	r, err := u.doc.ContentRange(v.TopLine)
	if err != nil {
		return Location{}, "out_of_range"
	}
	return Location{Range: document.Range{Start: r.Start, End: r.Start}, WindowID: v.WindowID}, ""
}

func (i *Interpreter) connector(toks []lang.Token, j int) string {
	if j >= len(toks) || !isWord(toks[j]) {
		return ""
	}
	return i.grammar.connectors[strings.ToLower(toks[j].Text)]
}

// span covers a and b in document order.
func span(a, b Location) Location {
	ra, rb := a.Range.Normalize(), b.Range.Normalize()
	r := document.Range{Start: ra.Start, End: rb.End}
	if rb.Start.Before(ra.Start) {
		r = document.Range{Start: rb.Start, End: ra.End}
	}
	return Location{Range: r, WindowID: a.WindowID}
}
