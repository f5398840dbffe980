// Package dictation drives a speech interpreter from a stream of
// transcripts.
//
// Speech recognisers emit a series of partial transcripts for an utterance,
// each a revision of the one before, followed by a final transcript. A
// [Session] turns that stream into interpreter calls: the first partial of
// an utterance is executed, later partials revise it and the final commits
// it. An empty final means the recogniser discarded the utterance, so its
// edits are undone.
//
// The interpreter and the documents it edits are not safe for concurrent
// use. A Session owns both from a single goroutine; every other access
// (undo requests, snapshots, definition reloads) is sent to that goroutine
// and answered through a reply channel.
package dictation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxedit/internal/document"
	"github.com/MrWong99/voxedit/internal/observe"
	"github.com/MrWong99/voxedit/internal/speech"
	"github.com/MrWong99/voxedit/internal/workspace"
	"github.com/MrWong99/voxedit/pkg/lang"
)

// ErrClosed is returned by requests made after [Session.Run] returned.
var ErrClosed = errors.New("dictation: session closed")

// updateBuffer is the per-subscriber channel capacity. Updates beyond it
// are dropped for that subscriber.
const updateBuffer = 32

// Transcript is one recogniser result for the current utterance.
type Transcript struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"final"`
}

// Update action kinds.
const (
	ActionExecute = "execute"
	ActionRevise  = "revise"
	ActionUndo    = "undo"
	ActionReload  = "reload"
	ActionNone    = "none"
)

// Update describes the outcome of one request handled by the session.
type Update struct {
	// UtteranceID identifies the utterance the transcript belonged to.
	UtteranceID string `json:"utterance_id,omitempty"`
	Action      string `json:"action"`
	// Committed reports that the utterance was closed by a final.
	Committed bool             `json:"committed,omitempty"`
	Revision  *speech.Revision `json:"revision,omitempty"`
	Error     string           `json:"error,omitempty"`
	Document  Snapshot         `json:"document"`
}

// Snapshot is a copy of the active document's visible state.
type Snapshot struct {
	Text      string                     `json:"text"`
	Cursor    lang.Position              `json:"cursor"`
	Selection document.Range             `json:"selection"`
	Anchors   map[string]document.Anchor `json:"anchors,omitempty"`
	Context   string                     `json:"context"`
	Utterance speech.State               `json:"utterance"`
}

type request struct {
	ctx   context.Context
	run   func(ctx context.Context) (Update, error)
	reply chan result
}

type result struct {
	update Update
	err    error
}

// Session feeds transcripts into a [speech.Interpreter].
type Session struct {
	in   *speech.Interpreter
	docs workspace.ActiveDocumentProvider
	log  *slog.Logger
	m    *observe.Metrics

	reqs    chan request
	done    chan struct{}
	running chan struct{}
	once    sync.Once
	started atomic.Bool

	subMu  sync.Mutex
	subs   map[int]chan Update
	nextID int

	// Owned by the Run goroutine.
	utterance string
	revisions int
	span      trace.Span
}

// Option is a functional option for [New].
type Option func(*Session)

// WithLogger sets the session logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.m = m }
}

// New creates a session over in. docs must be the provider in was built
// with; the session reads snapshots from its active document.
func New(in *speech.Interpreter, docs workspace.ActiveDocumentProvider, opts ...Option) *Session {
	s := &Session{
		in:      in,
		docs:    docs,
		log:     slog.Default(),
		m:       observe.DefaultMetrics(),
		reqs:    make(chan request),
		done:    make(chan struct{}),
		running: make(chan struct{}),
		subs:    make(map[int]chan Update),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run serves requests until ctx is cancelled and returns ctx.Err(). It
// may be called only once. An utterance still in flight when Run returns
// is committed.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("dictation: Run called twice")
	}
	close(s.running)
	defer s.close()

	for {
		select {
		case <-ctx.Done():
			s.finish()
			return ctx.Err()
		case req := <-s.reqs:
			u, err := req.run(req.ctx)
			if err != nil && u.Error == "" {
				u.Error = err.Error()
			}
			if u.Action != "" {
				s.publish(u)
			}
			req.reply <- result{update: u, err: err}
		}
	}
}

// Running is closed once Run has started serving.
func (s *Session) Running() <-chan struct{} { return s.running }

// Done is closed when Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) close() {
	s.once.Do(func() {
		close(s.done)
		s.subMu.Lock()
		for id, ch := range s.subs {
			close(ch)
			delete(s.subs, id)
		}
		s.subMu.Unlock()
	})
}

// do sends fn to the Run goroutine and waits for its result.
func (s *Session) do(ctx context.Context, fn func(ctx context.Context) (Update, error)) (Update, error) {
	req := request{ctx: ctx, run: fn, reply: make(chan result, 1)}
	select {
	case s.reqs <- req:
	case <-s.done:
		return Update{}, ErrClosed
	case <-ctx.Done():
		return Update{}, ctx.Err()
	}
	r := <-req.reply
	return r.update, r.err
}

// ── Requests ─────────────────────────────────────────────────────────────────

// Submit handles one transcript and returns the resulting update.
func (s *Session) Submit(ctx context.Context, t Transcript) (Update, error) {
	return s.do(ctx, func(ctx context.Context) (Update, error) {
		return s.handle(ctx, t)
	})
}

// Feed submits every transcript received on ch until ch is closed or ctx
// is cancelled. Interpretation errors are logged and do not stop the feed.
func (s *Session) Feed(ctx context.Context, ch <-chan Transcript) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-ch:
			if !ok {
				return nil
			}
			if _, err := s.Submit(ctx, t); err != nil {
				if errors.Is(err, ErrClosed) || ctx.Err() != nil {
					return err
				}
				s.log.Warn("dictation: transcript failed", "text", t.Text, "final", t.IsFinal, "err", err)
			}
		}
	}
}

// Undo undoes the in-flight utterance or the last committed one.
func (s *Session) Undo(ctx context.Context) (Update, error) {
	return s.do(ctx, func(ctx context.Context) (Update, error) {
		id := s.utterance
		s.endUtterance()
		err := s.in.Undo(ctx)
		u := Update{UtteranceID: id, Action: ActionUndo}
		if errors.Is(err, speech.ErrUndoMismatch) {
			s.in.Commit()
		}
		if err != nil {
			u.Error = err.Error()
		}
		u.Document = s.snapshot()
		return u, err
	})
}

// Reload swaps the interpreter's language and grammar between utterances.
func (s *Session) Reload(ctx context.Context, l *lang.Language, g *speech.Grammar) error {
	_, err := s.do(ctx, func(ctx context.Context) (Update, error) {
		s.endUtterance()
		if err := s.in.Reload(l, g); err != nil {
			return Update{}, err
		}
		return Update{Action: ActionReload, Document: s.snapshot()}, nil
	})
	return err
}

// SetRevisionMargin changes the interpreter's revision margin.
func (s *Session) SetRevisionMargin(ctx context.Context, n int) error {
	_, err := s.do(ctx, func(context.Context) (Update, error) {
		s.in.SetRevisionMargin(n)
		return Update{}, nil
	})
	return err
}

// SetMargin changes the active document's indentation policy.
func (s *Session) SetMargin(ctx context.Context, m lang.Margin) error {
	_, err := s.do(ctx, func(context.Context) (Update, error) {
		if doc, ok := s.docs.ActiveDocument(); ok {
			doc.SetMargin(m)
		}
		return Update{}, nil
	})
	return err
}

// Snapshot returns the active document's state.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	u, err := s.do(ctx, func(context.Context) (Update, error) {
		return Update{Document: s.snapshot()}, nil
	})
	return u.Document, err
}

// Subscribe registers for updates. The returned cancel func unregisters;
// the channel is also closed when the session stops.
func (s *Session) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, updateBuffer)
	s.subMu.Lock()
	defer s.subMu.Unlock()
	select {
	case <-s.done:
		close(ch)
		return ch, func() {}
	default:
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			close(c)
			delete(s.subs, id)
		}
	}
}

func (s *Session) publish(u Update) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- u:
		default:
			s.log.Warn("dictation: subscriber too slow, update dropped", "subscriber", id, "action", u.Action)
		}
	}
}

// ── Transcript handling ──────────────────────────────────────────────────────

func (s *Session) handle(ctx context.Context, t Transcript) (Update, error) {
	kind := "partial"
	if t.IsFinal {
		kind = "final"
	}
	s.m.RecordTranscript(ctx, kind)
	text := strings.TrimSpace(t.Text)
	inFlight := s.in.State().InFlight

	if !inFlight && text == "" {
		return Update{Action: ActionNone, Document: s.snapshot()}, nil
	}
	if s.utterance == "" {
		s.beginUtterance(ctx)
	}
	// The utterance span outlives the request that opened it; each request
	// runs under its own context with the span attached.
	ctx = trace.ContextWithSpan(ctx, s.span)
	log := observe.Logger(ctx).With(observe.UtteranceKey, s.utterance)
	u := Update{UtteranceID: s.utterance}

	var err error
	switch {
	case inFlight && t.IsFinal && text == "":
		u.Action = ActionUndo
		err = s.in.Undo(ctx)
		s.endUtterance()
	case !inFlight:
		u.Action = ActionExecute
		_, err = s.in.Execute(ctx, text)
	default:
		u.Action = ActionRevise
		var rev speech.Revision
		rev, err = s.in.Revise(ctx, text)
		if err == nil {
			u.Revision = &rev
			s.revisions++
		}
	}

	if err != nil {
		log.Error("dictation: interpretation failed", "action", u.Action, "text", text, "err", err)
		if s.span != nil {
			s.span.RecordError(err)
		}
		if errors.Is(err, speech.ErrUndoMismatch) {
			// The document moved underneath the utterance: keep what is
			// there and stop tracking it.
			s.in.Commit()
		}
		if !s.in.State().InFlight {
			s.endUtterance()
		}
		u.Document = s.snapshot()
		return u, fmt.Errorf("dictation: %s: %w", u.Action, err)
	}

	if t.IsFinal && s.utterance != "" {
		s.in.Commit()
		u.Committed = true
		s.span.SetAttributes(attribute.Int("revisions", s.revisions))
		s.endUtterance()
	}
	log.Debug("dictation: transcript handled", "action", u.Action, "final", t.IsFinal, "text", text)
	u.Document = s.snapshot()
	return u, nil
}

func (s *Session) beginUtterance(ctx context.Context) {
	s.utterance = uuid.NewString()
	_, s.span = observe.StartUtterance(ctx, s.utterance)
}

func (s *Session) endUtterance() {
	if s.span != nil {
		s.span.End()
	}
	s.utterance, s.span, s.revisions = "", nil, 0
}

// finish commits whatever is in flight when the session stops.
func (s *Session) finish() {
	if s.in.State().InFlight {
		s.log.Info("dictation: committing in-flight utterance on shutdown", observe.UtteranceKey, s.utterance)
		s.in.Commit()
	}
	s.endUtterance()
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{Utterance: s.in.State()}
	doc, ok := s.docs.ActiveDocument()
	if !ok {
		return snap
	}
	var errs []error
	var err error
	snap.Text, err = doc.Text()
	errs = append(errs, err)
	snap.Cursor, err = doc.Cursor()
	errs = append(errs, err)
	snap.Selection, err = doc.Selection()
	errs = append(errs, err)
	snap.Anchors, err = doc.Anchors()
	errs = append(errs, err)
	snap.Context, err = doc.ContextNameAt(snap.Cursor)
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		s.log.Error("dictation: snapshot", "err", err)
	}
	return snap
}
