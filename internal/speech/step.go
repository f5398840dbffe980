package speech

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/voxedit/internal/document"
	"github.com/MrWong99/voxedit/pkg/lang"
)

// Step kinds recorded in [Executed] beyond the grammar's action kinds.
const (
	KindInsert = "insert"
	KindEvent  = "event"
)

// match is a successful pattern match starting at some token index.
type match struct {
	end   int
	loc   *Location
	ident string
	// hasIdent distinguishes an empty capture from none.
	hasIdent bool
}

// step performs one action starting at token idx and returns the number of
// tokens it consumed.
func (i *Interpreter) step(ctx context.Context, u *utterance, idx int) (int, error) {
	tok := u.tokens[idx]
	if tok.Type == lang.TypeEvent {
		return i.event(ctx, u, idx)
	}

	cur, err := u.doc.Cursor()
	if err != nil {
		return 0, err
	}
	ctxName, err := u.doc.ContextNameAt(cur)
	if err != nil {
		return 0, err
	}
	lctx, _ := u.doc.Language().Context(ctxName)
	raw := lctx != nil && lctx.Raw

	if isWord(tok) {
		for _, cmd := range i.grammar.Candidates(tok.Text, ctxName) {
			m, ok := i.match(ctx, u, cmd, idx, ctxName)
			if !ok {
				continue
			}
			return i.perform(ctx, u, cmd, m, idx, ctxName, raw)
		}
	}

	switch {
	case tok.IsSpace():
		if raw {
			u.pending += tok.Text
		}
		return 1, nil
	case !isWord(tok):
		if err := i.insert(ctx, u, tok.Text, idx, idx+1, ctxName, raw); err != nil {
			return 0, err
		}
		return 1, nil
	}

	casing := "normal"
	if lctx != nil && lctx.Casing != "" {
		casing = lctx.Casing
	}
	text, n := i.accumulate(u.tokens, idx, casing, nil)
	if i.nearMiss > 0 {
		if s, ok := i.grammar.Suggest(tok.Text, i.nearMiss); ok {
			i.metrics.NearMisses.Add(ctx, 1)
			i.log.Debug("speech: near miss", "word", tok.Text, "command", s)
		}
	}
	if err := i.insert(ctx, u, text, idx, idx+n, ctxName, raw); err != nil {
		return 0, err
	}
	return n, nil
}

// insert places text (prefixed by deferred whitespace) at the cursor and
// records it as a verbatim insertion.
func (i *Interpreter) insert(ctx context.Context, u *utterance, text string, start, end int, ctxName string, raw bool) error {
	ex := i.begin(u, start, end, KindInsert, "insert", ctxName)
	ex.Args = []string{text}
	cur, err := u.doc.Cursor()
	if err != nil {
		return err
	}
	text, u.pending = u.pending+text, ""
	if _, err := u.doc.InsertAt(text, cur, document.InsertOptions{Spacing: !raw, MoveCursor: true}); err != nil {
		return fmt.Errorf("speech: insert %q: %w", text, err)
	}
	i.finish(ctx, u, ex)
	return nil
}

// perform executes a matched command.
func (i *Interpreter) perform(ctx context.Context, u *utterance, cmd *Command, m match, idx int, ctxName string, raw bool) (int, error) {
	ex := i.begin(u, idx, m.end, cmd.Kind, cmd.Phrase, ctxName)
	switch cmd.Kind {
	case KindEffect:
		if m.loc != nil {
			ex.Args = []string{m.loc.Range.Start.String() + "-" + m.loc.Range.End.String()}
		}
		u.pending = ""
		call := effectCall{doc: u.doc, loc: m.loc, clip: i.env.Clipboard}
		if err := effects[cmd.Effect](ctx, call); err != nil {
			return 0, fmt.Errorf("speech: %s: %w", cmd.Phrase, err)
		}
	case KindTemplate, KindIdentifier:
		args := slices.Clone(cmd.Args)
		if m.hasIdent {
			args = append(args, m.ident)
		}
		tmpl := cmd.Template
		if tmpl == "" {
			tmpl = "$0"
		}
		ex.Args = args
		cur, err := u.doc.Cursor()
		if err != nil {
			return 0, err
		}
		text := u.pending + tmpl
		u.pending = ""
		opts := document.InsertOptions{Spacing: !raw, Escapes: true, Args: args, MoveCursor: true}
		if _, err := u.doc.InsertAt(text, cur, opts); err != nil {
			return 0, fmt.Errorf("speech: %s: %w", cmd.Phrase, err)
		}
	}
	i.finish(ctx, u, ex)
	return m.end - idx, nil
}

// event dispatches an event token to its handler. Unknown events are
// consumed without effect.
func (i *Interpreter) event(ctx context.Context, u *utterance, idx int) (int, error) {
	name, arg := splitEvent(u.tokens[idx].Text)
	h, ok := i.handlers[name]
	if !ok {
		i.log.Warn("speech: unknown event", "event", name)
		return 1, nil
	}
	ex := i.begin(u, idx, idx+1, KindEvent, name, "")
	if arg != "" {
		ex.Args = []string{arg}
	}
	u.pending = ""
	if err := h(ctx, u.doc, arg); err != nil {
		return 0, fmt.Errorf("speech: event %s: %w", name, err)
	}
	i.finish(ctx, u, ex)
	return 1, nil
}

func (i *Interpreter) begin(u *utterance, start, end int, kind, command, ctxName string) Executed {
	return Executed{
		Start:     start,
		End:       end,
		Kind:      kind,
		Command:   command,
		UndoCount: u.doc.Store().UndoCount(),
		Context:   ctxName,
	}
}

func (i *Interpreter) finish(ctx context.Context, u *utterance, ex Executed) {
	u.executed = append(u.executed, ex)
	i.metrics.RecordCommand(ctx, ex.Kind, ex.Command)
}

// ── Matching ────────────────────────────────────────────────────────────────

// match tries cmd's pattern against the tokens from idx. Whitespace between
// pattern elements is skipped; whitespace after the last element is not
// consumed.
func (i *Interpreter) match(ctx context.Context, u *utterance, cmd *Command, idx int, ctxName string) (match, bool) {
	toks := u.tokens
	var m match
	j := idx
	for k, el := range cmd.pattern {
		at := j
		if k > 0 {
			at = skipSpace(toks, j)
		}
		if el.kind == elemPlease {
			if at < len(toks) && isWord(toks[at]) && i.grammar.please[strings.ToLower(toks[at].Text)] {
				j = at + 1
			}
			continue
		}
		if at >= len(toks) {
			return match{}, false
		}
		switch el.kind {
		case elemWord:
			if !isWord(toks[at]) || strings.ToLower(toks[at].Text) != el.word {
				return match{}, false
			}
			j = at + 1
		case elemLocation:
			loc, n, ok := i.location(ctx, u, at)
			if !ok {
				return match{}, false
			}
			m.loc = &loc
			j = at + n
		case elemIdentifier:
			casing := cmd.Casing
			if casing == "" {
				casing = i.contextCasing(u, ctxName)
			}
			text, n := i.accumulate(toks, at, casing, literalsAfter(cmd.pattern, k))
			if n == 0 {
				return match{}, false
			}
			m.ident, m.hasIdent = text, true
			j = at + n
		}
	}
	m.end = j
	return m, true
}

func (i *Interpreter) contextCasing(u *utterance, name string) string {
	if c, ok := u.doc.Language().Context(name); ok && c.Casing != "" {
		return c.Casing
	}
	return "normal"
}

// literalsAfter returns the literal words of pattern following element k,
// up to the next non-literal element. Identifier accumulation stops there.
func literalsAfter(pattern []element, k int) map[string]bool {
	stops := make(map[string]bool)
	for _, el := range pattern[k+1:] {
		if el.kind != elemWord {
			break
		}
		stops[el.word] = true
	}
	return stops
}

// isWord reports whether t can be spoken as a word. Token types beyond the
// fixed set (e.g. "keyword") count as words.
func isWord(t lang.Token) bool {
	switch t.Type {
	case lang.TypeWhitespace, lang.TypeNewline, lang.TypeNumber, lang.TypePunctuation, lang.TypeEvent, lang.TypeUnknown:
		return false
	}
	return true
}

func skipSpace(toks []lang.Token, j int) int {
	for j < len(toks) && toks[j].IsSpace() {
		j++
	}
	return j
}
