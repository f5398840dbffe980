// Package speech implements the speech-command interpreter: it tokenizes a
// transcribed utterance, matches tokens against a command grammar, resolves
// spoken location references against live document state and executes the
// result as document edits.
//
// Speech recognisers revise their transcription of an utterance while it is
// still being spoken. [Interpreter.Revise] handles this incrementally: it
// finds the longest token prefix shared with the previous transcription,
// rolls the document's undo log back to a safe resume point before it, and
// replays only the invalidated tail. Stale work is never cancelled; it is
// undone.
//
// An Interpreter is not safe for concurrent use. A single goroutine (see
// package dictation) owns it.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/MrWong99/voxedit/internal/document"
	"github.com/MrWong99/voxedit/internal/observe"
	"github.com/MrWong99/voxedit/internal/workspace"
	"github.com/MrWong99/voxedit/pkg/lang"
)

const (
	defaultRootContext    = "speech"
	defaultRevisionMargin = 3
	defaultNearMiss       = 0.85
	maxHistory            = 256
)

var (
	// ErrNoProgress reports a step that consumed no tokens. It indicates a
	// bug, since the step loop would never terminate.
	ErrNoProgress = errors.New("speech: step consumed no tokens")

	// ErrUndoMismatch reports that the document's undo log no longer ends
	// where the utterance left it, so rolling it back would destroy
	// unrelated edits.
	ErrUndoMismatch = errors.New("speech: undo log does not match utterance")

	// ErrNoDocument is returned when no document is focused.
	ErrNoDocument = errors.New("speech: no active document")

	// ErrNothingToUndo is returned by Undo when there is no utterance left.
	ErrNothingToUndo = errors.New("speech: nothing to undo")
)

// Env carries the interpreter's collaborators. Documents is required; the
// other ports are optional.
type Env struct {
	Documents workspace.ActiveDocumentProvider
	// Windows resolves spoken line labels and window ids. When nil, a bare
	// number N addresses line N of the document (one-based).
	Windows   workspace.WindowLookup
	Clipboard workspace.ClipboardProvider
	Logger    *slog.Logger
	Metrics   *observe.Metrics
}

// Executed records one performed step.
type Executed struct {
	// Start and End delimit the consumed tokens, [Start, End).
	Start int `json:"start"`
	End   int `json:"end"`
	// Kind is the action kind: effect, template, identifier, insert or event.
	Kind string `json:"kind"`
	// Command identifies the executor: the matched phrase, effect or event
	// name.
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	// UndoCount is the store's undo count just before the step ran.
	UndoCount int    `json:"undo_count"`
	Context   string `json:"context"`
}

// ResumePoint is a safe boundary to roll back to and replay from.
type ResumePoint struct {
	TokenIndex    int `json:"token_index"`
	ExecutedCount int `json:"executed_count"`
	UndoCount     int `json:"undo_count"`
}

// Result describes an executed utterance.
type Result struct {
	Tokens   int
	Executed []Executed
	Elapsed  time.Duration
}

// Revision describes how a revised utterance was re-interpreted.
type Revision struct {
	// Depth is the number of resume points rolled back.
	Depth int
	// UndoSteps is the number of store inverses undone.
	UndoSteps int
	// ReplayFrom is the token index replay started at.
	ReplayFrom int
	// Full reports that the whole utterance was undone and replayed.
	Full    bool
	Elapsed time.Duration
}

// State is a diagnostic snapshot of the in-flight utterance.
type State struct {
	InFlight bool          `json:"in_flight"`
	Text     string        `json:"text"`
	Tokens   []lang.Token  `json:"tokens"`
	Executed []Executed    `json:"executed"`
	Resume   []ResumePoint `json:"resume"`
	Base     int           `json:"base"`
	Final    int           `json:"final"`
	History  int           `json:"history"`
}

// EventHandler handles a UI event token such as {copy} or {goto:3:4}.
type EventHandler func(ctx context.Context, doc *document.Document, arg string) error

// Option is a functional option for [New].
type Option func(*Interpreter)

// WithRootContext sets the context utterances are tokenized in. Default:
// "speech".
func WithRootContext(name string) Option {
	return func(i *Interpreter) { i.root = name }
}

// WithRevisionMargin sets how many extra resume points a revision steps back
// beyond the shared token prefix. Default: 3.
func WithRevisionMargin(n int) Option {
	return func(i *Interpreter) { i.margin = max(0, n) }
}

// WithNearMissThreshold sets the Jaro-Winkler score a literal word needs to
// be reported as a near miss of a command word. Default: 0.85; 0 disables
// the check.
func WithNearMissThreshold(t float64) Option {
	return func(i *Interpreter) { i.nearMiss = t }
}

// WithEventHandler registers or replaces the handler for event name.
func WithEventHandler(name string, h EventHandler) Option {
	return func(i *Interpreter) { i.handlers[name] = h }
}

type utterance struct {
	doc      *document.Document
	text     string
	tokens   []lang.Token
	executed []Executed
	resume   []ResumePoint
	// pending holds raw-context whitespace awaiting the next insertion.
	pending string
	base    int
	final   int
}

type committed struct {
	doc   *document.Document
	base  int
	final int
}

// Interpreter executes and revises spoken utterances.
type Interpreter struct {
	env      Env
	log      *slog.Logger
	metrics  *observe.Metrics
	lang     *lang.Language
	grammar  *Grammar
	root     string
	margin   int
	nearMiss float64
	handlers map[string]EventHandler

	cur     *utterance
	history []committed
}

// New creates an interpreter over l and g.
func New(env Env, l *lang.Language, g *Grammar, opts ...Option) (*Interpreter, error) {
	if env.Documents == nil {
		return nil, errors.New("speech: env.Documents is required")
	}
	i := &Interpreter{
		env:      env,
		log:      env.Logger,
		metrics:  env.Metrics,
		lang:     l,
		grammar:  g,
		root:     defaultRootContext,
		margin:   defaultRevisionMargin,
		nearMiss: defaultNearMiss,
		handlers: builtinEvents(env.Clipboard),
	}
	for _, o := range opts {
		o(i)
	}
	if i.log == nil {
		i.log = slog.Default()
	}
	if i.metrics == nil {
		i.metrics = observe.DefaultMetrics()
	}
	if _, ok := l.Context(i.root); !ok {
		return nil, fmt.Errorf("speech: root context %q: %w", i.root, lang.ErrConfiguration)
	}
	return i, nil
}

// SetRevisionMargin changes the revision safety margin.
func (i *Interpreter) SetRevisionMargin(n int) { i.margin = max(0, n) }

// RevisionMargin returns the revision safety margin.
func (i *Interpreter) RevisionMargin() int { return i.margin }

// Reload swaps language and grammar. Any in-flight utterance is committed
// first and the active document's context cache is rebuilt. Utterance
// history is cleared because the rebuild is itself recorded in the undo log.
func (i *Interpreter) Reload(l *lang.Language, g *Grammar) error {
	if _, ok := l.Context(i.root); !ok {
		return fmt.Errorf("speech: reload: root context %q: %w", i.root, lang.ErrConfiguration)
	}
	i.Commit()
	if doc, ok := i.env.Documents.ActiveDocument(); ok {
		if err := doc.SetLanguage(l); err != nil {
			return fmt.Errorf("speech: reload: %w", err)
		}
	}
	i.lang, i.grammar = l, g
	i.history = nil
	i.log.Info("speech: definitions reloaded", "contexts", len(l.Names()))
	return nil
}

// Execute interprets text as a new utterance. An utterance still in flight
// is committed first. On error every edit of the utterance is rolled back.
func (i *Interpreter) Execute(ctx context.Context, text string) (Result, error) {
	ctx, span := observe.StartSpan(ctx, "speech.Execute")
	defer span.End()
	start := time.Now()

	i.Commit()
	doc, ok := i.env.Documents.ActiveDocument()
	if !ok {
		return Result{}, ErrNoDocument
	}
	tokens, err := i.tokenize(text)
	if err != nil {
		return Result{}, err
	}
	st := doc.Store()
	st.Checkpoint()
	u := &utterance{doc: doc, text: text, tokens: tokens, base: st.UndoCount()}
	i.cur = u

	if err := i.run(ctx, u, 0); err != nil {
		i.abort(ctx, u)
		return Result{}, err
	}
	u.final = st.UndoCount()

	elapsed := time.Since(start)
	i.metrics.ExecuteDuration.Record(ctx, elapsed.Seconds())
	i.log.Debug("speech: executed", "text", text, "tokens", len(tokens), "steps", len(u.executed), "elapsed", elapsed)
	return Result{Tokens: len(tokens), Executed: slices.Clone(u.executed), Elapsed: elapsed}, nil
}

// Revise re-interprets the in-flight utterance as text. Only the part of
// the previous interpretation invalidated by the change is rolled back and
// replayed. Without an utterance in flight Revise behaves like Execute.
func (i *Interpreter) Revise(ctx context.Context, text string) (Revision, error) {
	u := i.cur
	if u == nil {
		_, err := i.Execute(ctx, text)
		return Revision{Full: true}, err
	}
	ctx, span := observe.StartSpan(ctx, "speech.Revise")
	defer span.End()
	start := time.Now()

	if text == u.text {
		return Revision{ReplayFrom: len(u.tokens)}, nil
	}
	st := u.doc.Store()
	if got := st.UndoCount(); got != u.final {
		return Revision{}, fmt.Errorf("%w: store at %d, utterance ended at %d", ErrUndoMismatch, got, u.final)
	}
	tokens, err := i.tokenize(text)
	if err != nil {
		i.abort(ctx, u)
		return Revision{}, err
	}

	prefix := commonPrefix(u.tokens, tokens)
	r := -1
	for k, rp := range u.resume {
		if rp.TokenIndex > prefix {
			break
		}
		r = k
	}
	r -= i.margin

	var rev Revision
	if r < 0 {
		rev = Revision{Depth: len(u.resume), UndoSteps: st.UndoCount() - u.base, Full: true}
		if err := st.UndoToCheckpoint(); err != nil {
			i.abort(ctx, u)
			return Revision{}, fmt.Errorf("speech: revise: %w", err)
		}
		u.executed, u.resume = nil, nil
	} else {
		rp := u.resume[r]
		rev = Revision{Depth: len(u.resume) - r, UndoSteps: st.UndoCount() - rp.UndoCount, ReplayFrom: rp.TokenIndex}
		if err := st.UndoTo(rp.UndoCount); err != nil {
			i.abort(ctx, u)
			return Revision{}, fmt.Errorf("speech: revise: %w", err)
		}
		u.executed = u.executed[:rp.ExecutedCount]
		u.resume = u.resume[:r]
	}
	u.pending = ""
	u.tokens, u.text = tokens, text

	if err := i.run(ctx, u, rev.ReplayFrom); err != nil {
		i.abort(ctx, u)
		return Revision{}, err
	}
	u.final = st.UndoCount()

	rev.Elapsed = time.Since(start)
	i.metrics.RecordRevision(ctx, rev.Depth, rev.Elapsed)
	i.log.Debug("speech: revised", "text", text, "prefix", prefix, "depth", rev.Depth,
		"undo_steps", rev.UndoSteps, "replay_from", rev.ReplayFrom, "elapsed", rev.Elapsed)
	return rev, nil
}

// Commit closes the in-flight utterance. Its edits stay in place and it
// joins the history that [Interpreter.Undo] walks back through.
func (i *Interpreter) Commit() {
	u := i.cur
	if u == nil {
		return
	}
	i.cur = nil
	if u.final == u.base {
		return
	}
	i.history = append(i.history, committed{doc: u.doc, base: u.base, final: u.final})
	if len(i.history) > maxHistory {
		i.history = slices.Delete(i.history, 0, len(i.history)-maxHistory)
	}
	i.metrics.RecordUtterance(context.Background(), "committed")
}

// Undo rolls back the in-flight utterance or, if none, the most recently
// committed one. The document's undo log must still end exactly where the
// utterance left it; otherwise nothing is touched and [ErrUndoMismatch] is
// returned.
func (i *Interpreter) Undo(ctx context.Context) error {
	var target committed
	switch {
	case i.cur != nil:
		target = committed{doc: i.cur.doc, base: i.cur.base, final: i.cur.final}
	case len(i.history) > 0:
		target = i.history[len(i.history)-1]
	default:
		return ErrNothingToUndo
	}
	st := target.doc.Store()
	if got := st.UndoCount(); got != target.final {
		return fmt.Errorf("%w: store at %d, utterance ended at %d", ErrUndoMismatch, got, target.final)
	}
	if err := st.UndoTo(target.base); err != nil {
		return fmt.Errorf("speech: undo: %w", err)
	}
	if i.cur != nil {
		i.cur = nil
	} else {
		i.history = i.history[:len(i.history)-1]
	}
	i.metrics.RecordUtterance(ctx, "undone")
	i.log.Debug("speech: undone", "steps", target.final-target.base)
	return nil
}

// State returns a snapshot of the in-flight utterance.
func (i *Interpreter) State() State {
	s := State{History: len(i.history)}
	if u := i.cur; u != nil {
		s.InFlight = true
		s.Text = u.text
		s.Tokens = slices.Clone(u.tokens)
		s.Executed = slices.Clone(u.executed)
		s.Resume = slices.Clone(u.resume)
		s.Base, s.Final = u.base, u.final
	}
	return s
}

// abort rolls back everything the utterance did and forgets it.
func (i *Interpreter) abort(ctx context.Context, u *utterance) {
	if err := u.doc.Store().UndoToCheckpoint(); err != nil {
		i.log.Error("speech: rollback of failed utterance", "err", err)
	}
	i.cur = nil
	i.metrics.RecordUtterance(ctx, "failed")
}

func (i *Interpreter) tokenize(text string) ([]lang.Token, error) {
	res, err := i.lang.Tokenize(text, []string{i.root}, lang.Position{}, true)
	if err != nil {
		return nil, fmt.Errorf("speech: tokenize: %w", err)
	}
	return res.Tokens, nil
}

// run walks u's tokens from index from, recording a resume point before
// every step that starts without deferred whitespace.
func (i *Interpreter) run(ctx context.Context, u *utterance, from int) error {
	st := u.doc.Store()
	for idx := from; idx < len(u.tokens); {
		if u.pending == "" {
			u.resume = append(u.resume, ResumePoint{TokenIndex: idx, ExecutedCount: len(u.executed), UndoCount: st.UndoCount()})
		}
		n, err := i.step(ctx, u, idx)
		if err != nil {
			return err
		}
		if n <= 0 {
			return fmt.Errorf("%w: at token %d (%q)", ErrNoProgress, idx, u.tokens[idx].Text)
		}
		idx += n
	}
	return nil
}

func commonPrefix(a, b []lang.Token) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}
