package speech_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/voxedit/internal/document"
	"github.com/MrWong99/voxedit/internal/speech"
	"github.com/MrWong99/voxedit/internal/workspace/mock"
	"github.com/MrWong99/voxedit/pkg/lang"
)

// ── Fixtures ─────────────────────────────────────────────────────────────────

func testLanguage(t *testing.T) *lang.Language {
	t.Helper()
	l, err := lang.Compile([]lang.ContextDef{
		{
			Name: "speech",
			Tokens: []lang.TokenDef{
				{Type: lang.TypeNewline, Match: `\n`},
				{Type: lang.TypeWhitespace, Match: `[ \t]+`},
				{Type: lang.TypeEvent, Match: `\{[a-z-]+(?::[^}]*)?\}`},
				{Type: lang.TypeNumber, Match: `\d+(?:\.\d+)?`},
				{Type: lang.TypeWord, Match: `[A-Za-z']+`},
				{Type: lang.TypePunctuation, Match: `[^\w\s]`},
			},
			Spacing: []lang.SpaceDef{{Space: true}},
		},
		{
			Name: "text",
			Tokens: []lang.TokenDef{
				{Type: lang.TypeNewline, Match: `\n`},
				{Type: lang.TypeWhitespace, Match: `[ \t]+`},
				{Type: lang.TypeWord, Match: `\w+`},
				{Type: lang.TypePunctuation, Match: `[^\w\s]`},
			},
			Changes: []lang.ChangeDef{{Token: `"`, Push: "string"}},
			Spacing: []lang.SpaceDef{
				{Either: `\s|\A\z`, Space: false},
				{Right: `[.,:;!?)]`, Space: false},
				{Left: `[(]`, Space: false},
				{Space: true},
			},
			Indent: []lang.IndentDef{{Previous: `:\s*$`, Indent: 1}},
		},
		{
			Name: "string",
			Raw:  true,
			Tokens: []lang.TokenDef{
				{Type: "text", Match: `[^"]+`},
				{Type: lang.TypePunctuation, Match: `"`},
			},
			Changes: []lang.ChangeDef{{Token: `"`, Pop: true}},
			Spacing: []lang.SpaceDef{{Space: false}},
		},
	})
	if err != nil {
		t.Fatalf("lang.Compile: %v", err)
	}
	return l
}

func testGrammarDef() speech.GrammarDef {
	return speech.GrammarDef{
		CasingWords: map[string]string{
			"flat": "flat", "snake": "snake", "camel": "camel", "pascal": "pascal",
			"kebab": "kebab", "constant": "constant", "title": "title",
		},
		Alphabet:     map[string]string{"alpha": "a", "bravo": "b", "charlie": "c", "uniform": "U"},
		Numbers:      map[string]int{"one": 1, "two": 2, "three": 3, "eleven": 11},
		CapitalWords: []string{"cap"},
		LiteralWords: []string{"literally"},
		FirstWords:   []string{"first"},
		PickWords:    []string{"pick"},
		PleaseWords:  []string{"please"},
		Groups: []speech.GroupDef{
			{
				Contexts: []string{"*"},
				Commands: []speech.CommandDef{
					{Phrases: []string{"stop"}, Effect: "stop"},
					{Phrases: []string{"go $location"}, Effect: "go"},
					{Phrases: []string{"select $location"}, Effect: "select"},
					{Phrases: []string{"delete $location", "delete"}, Effect: "delete"},
					{Phrases: []string{"copy"}, Effect: "copy"},
					{Phrases: []string{"paste"}, Effect: "paste"},
					{Phrases: []string{"indent"}, Effect: "indent"},
					{Phrases: []string{"new line"}, Effect: "newline"},
				},
			},
			{
				Contexts: []string{"text"},
				Commands: []speech.CommandDef{
					{Phrases: []string{"define $identifier"}, Identifier: "snake", Template: "def $0($c):"},
					{Phrases: []string{"call $identifier now"}, Identifier: "camel", Template: "$0()"},
					{Phrases: []string{"say $please hi"}, Template: "hi"},
				},
			},
		},
	}
}

func testGrammar(t *testing.T) *speech.Grammar {
	t.Helper()
	g, err := speech.CompileGrammar(testGrammarDef())
	if err != nil {
		t.Fatalf("CompileGrammar: %v", err)
	}
	return g
}

func newDoc(t *testing.T, l *lang.Language, text string) *document.Document {
	t.Helper()
	d, err := document.New(l, text)
	if err != nil {
		t.Fatalf("document.New: %v", err)
	}
	return d
}

// setup returns an interpreter over a fresh document holding text. The mock
// workspace serves documents and clipboard only; tests that need windows
// set them and pass ws as Env.Windows themselves.
func setup(t *testing.T, text string, opts ...speech.Option) (*speech.Interpreter, *document.Document, *mock.Workspace) {
	t.Helper()
	l := testLanguage(t)
	doc := newDoc(t, l, text)
	ws := &mock.Workspace{Doc: doc}
	in, err := speech.New(speech.Env{Documents: ws, Clipboard: ws}, l, testGrammar(t), opts...)
	if err != nil {
		t.Fatalf("speech.New: %v", err)
	}
	return in, doc, ws
}

func textOf(t *testing.T, d *document.Document) string {
	t.Helper()
	s, err := d.Text()
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	return s
}

func cursorOf(t *testing.T, d *document.Document) lang.Position {
	t.Helper()
	p, err := d.Cursor()
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	return p
}

func mustExecute(t *testing.T, in *speech.Interpreter, text string) speech.Result {
	t.Helper()
	res, err := in.Execute(context.Background(), text)
	if err != nil {
		t.Fatalf("Execute(%q): %v", text, err)
	}
	return res
}

// ── Execute / Revise ─────────────────────────────────────────────────────────

func TestRevise_CasingSwitchReplaysWholeUtterance(t *testing.T) {
	t.Parallel()
	in, doc, _ := setup(t, "")
	ctx := context.Background()

	mustExecute(t, in, "flat test name")
	if got := textOf(t, doc); got != "testname" {
		t.Fatalf("after execute: %q, want %q", got, "testname")
	}

	rev, err := in.Revise(ctx, "flat test name stop snake test name")
	if err != nil {
		t.Fatalf("Revise: %v", err)
	}
	if !rev.Full {
		t.Errorf("Revision.Full = false, want true (prefix lies within the margin)")
	}
	if got := textOf(t, doc); got != "testname test_name" {
		t.Errorf("after revise: %q, want %q", got, "testname test_name")
	}

	var kinds []string
	for _, ex := range in.State().Executed {
		kinds = append(kinds, ex.Kind)
	}
	if diff := cmp.Diff([]string{speech.KindInsert, speech.KindEffect, speech.KindInsert}, kinds); diff != "" {
		t.Errorf("executed kinds (-want +got):\n%s", diff)
	}

	if err := in.Undo(ctx); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if got := textOf(t, doc); got != "" {
		t.Errorf("after undo: %q, want empty", got)
	}
}

func TestRevise_ReplaysOnlyInvalidatedTail(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		margin     int
		replayFrom int
		depth      int
		full       bool
	}{
		{name: "no margin", margin: 0, replayFrom: 4, depth: 1},
		{name: "default margin", margin: 3, replayFrom: 1, depth: 4},
		{name: "margin beyond start", margin: 10, full: true, depth: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in, doc, _ := setup(t, "", speech.WithRevisionMargin(tt.margin))
			mustExecute(t, in, "hello stop world")
			if got := textOf(t, doc); got != "hello world" {
				t.Fatalf("after execute: %q", got)
			}

			rev, err := in.Revise(context.Background(), "hello stop word")
			if err != nil {
				t.Fatalf("Revise: %v", err)
			}
			if got := textOf(t, doc); got != "hello word" {
				t.Errorf("after revise: %q, want %q", got, "hello word")
			}
			if rev.Full != tt.full || rev.Depth != tt.depth || (!tt.full && rev.ReplayFrom != tt.replayFrom) {
				t.Errorf("Revision = %+v, want full=%v depth=%d replayFrom=%d", rev, tt.full, tt.depth, tt.replayFrom)
			}
			if rev.UndoSteps == 0 {
				t.Error("Revision.UndoSteps = 0, want > 0")
			}
		})
	}
}

func TestRevise_IdenticalTextIsNoop(t *testing.T) {
	t.Parallel()
	in, doc, _ := setup(t, "")
	mustExecute(t, in, "hello")
	before := doc.Store().UndoCount()

	rev, err := in.Revise(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Revise: %v", err)
	}
	if rev.UndoSteps != 0 || rev.Full {
		t.Errorf("Revision = %+v, want no work", rev)
	}
	if got := doc.Store().UndoCount(); got != before {
		t.Errorf("UndoCount = %d, want %d", got, before)
	}
}

func TestRevise_WithoutUtteranceExecutes(t *testing.T) {
	t.Parallel()
	in, doc, _ := setup(t, "")
	if _, err := in.Revise(context.Background(), "hello"); err != nil {
		t.Fatalf("Revise: %v", err)
	}
	if got := textOf(t, doc); got != "hello" {
		t.Errorf("text = %q, want %q", got, "hello")
	}
	if !in.State().InFlight {
		t.Error("State().InFlight = false, want true")
	}
}

func TestRevise_UndoMismatch(t *testing.T) {
	t.Parallel()
	in, doc, _ := setup(t, "")
	ctx := context.Background()
	mustExecute(t, in, "hello")

	// An edit the interpreter did not make.
	if _, err := doc.InsertAt("x", lang.Position{}, document.InsertOptions{}); err != nil {
		t.Fatalf("InsertAt: %v", err)
	}

	if _, err := in.Revise(ctx, "hello world"); !errors.Is(err, speech.ErrUndoMismatch) {
		t.Errorf("Revise err = %v, want ErrUndoMismatch", err)
	}
	if err := in.Undo(ctx); !errors.Is(err, speech.ErrUndoMismatch) {
		t.Errorf("Undo err = %v, want ErrUndoMismatch", err)
	}
	if got := textOf(t, doc); got != "xhello" {
		t.Errorf("text = %q, want %q", got, "xhello")
	}
}

func TestExecute_NoDocument(t *testing.T) {
	t.Parallel()
	l := testLanguage(t)
	in, err := speech.New(speech.Env{Documents: &mock.Workspace{}}, l, testGrammar(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := in.Execute(context.Background(), "hello"); !errors.Is(err, speech.ErrNoDocument) {
		t.Errorf("err = %v, want ErrNoDocument", err)
	}
}

func TestExecute_FailureRollsBackUtterance(t *testing.T) {
	t.Parallel()
	l := testLanguage(t)
	doc := newDoc(t, l, "")
	in, err := speech.New(speech.Env{Documents: &mock.Workspace{Doc: doc}}, l, testGrammar(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// No clipboard is configured, so copy fails after hello was inserted.
	if _, err := in.Execute(context.Background(), "hello copy"); err == nil {
		t.Fatal("Execute succeeded, want error")
	}
	if got := textOf(t, doc); got != "" {
		t.Errorf("text = %q, want rollback to empty", got)
	}
	if in.State().InFlight {
		t.Error("failed utterance still in flight")
	}
}

func TestNew_UnknownRootContext(t *testing.T) {
	t.Parallel()
	l := testLanguage(t)
	_, err := speech.New(speech.Env{Documents: &mock.Workspace{}}, l, testGrammar(t), speech.WithRootContext("nope"))
	if !errors.Is(err, lang.ErrConfiguration) {
		t.Errorf("err = %v, want ErrConfiguration", err)
	}
}

// ── Undo / Commit / Reload ───────────────────────────────────────────────────

func TestUndo_WalksBackCommittedUtterances(t *testing.T) {
	t.Parallel()
	in, doc, _ := setup(t, "")
	ctx := context.Background()

	mustExecute(t, in, "hello")
	mustExecute(t, in, "world") // commits hello
	in.Commit()
	if got := textOf(t, doc); got != "hello world" {
		t.Fatalf("text = %q", got)
	}

	for _, want := range []string{"hello", ""} {
		if err := in.Undo(ctx); err != nil {
			t.Fatalf("Undo: %v", err)
		}
		if got := textOf(t, doc); got != want {
			t.Errorf("after undo: %q, want %q", got, want)
		}
	}
	if err := in.Undo(ctx); !errors.Is(err, speech.ErrNothingToUndo) {
		t.Errorf("third Undo err = %v, want ErrNothingToUndo", err)
	}
}

func TestCommit_SkipsUtterancesWithoutEdits(t *testing.T) {
	t.Parallel()
	in, _, _ := setup(t, "")
	mustExecute(t, in, "stop")
	in.Commit()
	if h := in.State().History; h != 0 {
		t.Errorf("History = %d, want 0", h)
	}
	if err := in.Undo(context.Background()); !errors.Is(err, speech.ErrNothingToUndo) {
		t.Errorf("Undo err = %v, want ErrNothingToUndo", err)
	}
}

func TestReload_ClearsHistory(t *testing.T) {
	t.Parallel()
	in, doc, _ := setup(t, "")
	mustExecute(t, in, "hello")
	in.Commit()

	if err := in.Reload(testLanguage(t), testGrammar(t)); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if h := in.State().History; h != 0 {
		t.Errorf("History = %d, want 0", h)
	}
	if err := in.Undo(context.Background()); !errors.Is(err, speech.ErrNothingToUndo) {
		t.Errorf("Undo err = %v, want ErrNothingToUndo", err)
	}
	if got := textOf(t, doc); got != "hello" {
		t.Errorf("text = %q, want %q", got, "hello")
	}
}

// ── Dispatch ────────────────────────────────────────────────────────────────

func TestExecute_Commands(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		doc    string
		speech string
		want   string
		cursor lang.Position
	}{
		{name: "template with insertion point", speech: "define get value", want: "def get_value():", cursor: lang.Position{Column: 14}},
		{name: "identifier stops at phrase literal", speech: "call get value now", want: "getValue()", cursor: lang.Position{Column: 10}},
		{name: "optional please absent", speech: "say hi", want: "hi", cursor: lang.Position{Column: 2}},
		{name: "optional please present", speech: "say please hi", want: "hi", cursor: lang.Position{Column: 2}},
		{name: "newline effect", speech: "hello new line world", want: "hello\nworld", cursor: lang.Position{Row: 1, Column: 5}},
		{name: "punctuation verbatim", speech: "hello , world", want: "hello, world", cursor: lang.Position{Column: 12}},
		{name: "number verbatim", speech: "7", want: "7", cursor: lang.Position{Column: 1}},
		{name: "indent", doc: "x", speech: "indent", want: "    x", cursor: lang.Position{Column: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in, doc, _ := setup(t, tt.doc)
			mustExecute(t, in, tt.speech)
			if got := textOf(t, doc); got != tt.want {
				t.Errorf("text = %q, want %q", got, tt.want)
			}
			if got := cursorOf(t, doc); got != tt.cursor {
				t.Errorf("cursor = %v, want %v", got, tt.cursor)
			}
		})
	}
}

func TestExecute_RawContextKeepsLeadingWhitespace(t *testing.T) {
	t.Parallel()
	in, doc, _ := setup(t, `"`)
	if err := doc.SetCursor(lang.Position{Column: 1}); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}

	mustExecute(t, in, "  hello ")
	if got := textOf(t, doc); got != `"  hello` {
		t.Errorf("text = %q, want %q", got, `"  hello`)
	}

	var at []int
	for _, rp := range in.State().Resume {
		at = append(at, rp.TokenIndex)
	}
	// No resume point while whitespace is deferred.
	if diff := cmp.Diff([]int{0, 2}, at); diff != "" {
		t.Errorf("resume points (-want +got):\n%s", diff)
	}
}

func TestExecute_Events(t *testing.T) {
	t.Parallel()
	in, doc, ws := setup(t, "hello world")

	mustExecute(t, in, "{select:0:0-0:5} {copy}")
	if ws.Clipboard != "hello" {
		t.Errorf("clipboard = %q, want %q", ws.Clipboard, "hello")
	}
	mustExecute(t, in, "{goto:0:11} {paste}")
	if got := textOf(t, doc); got != "hello worldhello" {
		t.Errorf("text = %q, want %q", got, "hello worldhello")
	}

	// Unknown events are consumed without effect.
	mustExecute(t, in, "{frobnicate}")
	if got := textOf(t, doc); got != "hello worldhello" {
		t.Errorf("text after unknown event = %q", got)
	}
}

func TestExecute_CustomEventHandler(t *testing.T) {
	t.Parallel()
	var got string
	in, _, _ := setup(t, "", speech.WithEventHandler("mark", func(_ context.Context, _ *document.Document, arg string) error {
		got = arg
		return nil
	}))
	mustExecute(t, in, "{mark:here}")
	if got != "here" {
		t.Errorf("handler arg = %q, want %q", got, "here")
	}
	ex := in.State().Executed
	if len(ex) != 1 || ex[0].Kind != speech.KindEvent || ex[0].Command != "mark" {
		t.Errorf("executed = %+v", ex)
	}
}
