package dictation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"

	"github.com/MrWong99/voxedit/internal/config"
	"github.com/MrWong99/voxedit/internal/dictation"
	"github.com/MrWong99/voxedit/internal/document"
	"github.com/MrWong99/voxedit/internal/observe"
	"github.com/MrWong99/voxedit/internal/speech"
	"github.com/MrWong99/voxedit/internal/workspace"
	"github.com/MrWong99/voxedit/pkg/lang"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	s      *dictation.Session
	in     *speech.Interpreter
	doc    *document.Document
	reader *sdkmetric.ManualReader
	stop   func()
}

func start(t *testing.T) *fixture {
	t.Helper()
	return startWith(t, nil)
}

// startWith runs a session whose clipboard is clip, or the workspace's own
// clipboard when clip is nil.
func startWith(t *testing.T, clip workspace.ClipboardProvider) *fixture {
	t.Helper()
	defs, err := config.DefaultDefinitions()
	if err != nil {
		t.Fatalf("DefaultDefinitions: %v", err)
	}
	doc, err := document.New(defs.Language, "", document.WithRootContext("text"))
	if err != nil {
		t.Fatalf("document.New: %v", err)
	}
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	ws := workspace.NewMemory(doc)
	if clip == nil {
		clip = ws
	}
	in, err := speech.New(speech.Env{Documents: ws, Windows: ws, Clipboard: clip, Metrics: m}, defs.Language, defs.Grammar)
	if err != nil {
		t.Fatalf("speech.New: %v", err)
	}
	s := dictation.New(in, ws, dictation.WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	<-s.Running()

	f := &fixture{s: s, in: in, doc: doc, reader: reader}
	var stopped bool
	f.stop = func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		if err := <-errc; !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	}
	t.Cleanup(f.stop)
	return f
}

func submit(t *testing.T, s *dictation.Session, text string, final bool) dictation.Update {
	t.Helper()
	u, err := s.Submit(context.Background(), dictation.Transcript{Text: text, IsFinal: final})
	if err != nil {
		t.Fatalf("Submit(%q, final=%v): %v", text, final, err)
	}
	return u
}

func TestSession_PartialsReviseFinalCommits(t *testing.T) {
	t.Parallel()
	f := start(t)

	u1 := submit(t, f.s, "hello wor", false)
	if u1.Action != dictation.ActionExecute || u1.Document.Text != "hello wor" {
		t.Fatalf("first partial = %s %q, want execute %q", u1.Action, u1.Document.Text, "hello wor")
	}
	if u1.UtteranceID == "" {
		t.Error("first partial has no utterance id")
	}
	if !u1.Document.Utterance.InFlight {
		t.Error("utterance not in flight after a partial")
	}

	u2 := submit(t, f.s, "hello world", false)
	if u2.Action != dictation.ActionRevise || u2.Document.Text != "hello world" {
		t.Fatalf("second partial = %s %q, want revise %q", u2.Action, u2.Document.Text, "hello world")
	}
	if u2.UtteranceID != u1.UtteranceID {
		t.Errorf("revision changed utterance id: %s != %s", u2.UtteranceID, u1.UtteranceID)
	}
	if u2.Revision == nil || u2.Revision.UndoSteps == 0 {
		t.Errorf("revision = %+v, want rolled back edits", u2.Revision)
	}

	u3 := submit(t, f.s, "hello world", true)
	if !u3.Committed || u3.Document.Utterance.InFlight {
		t.Errorf("final: committed=%v in_flight=%v, want committed and idle", u3.Committed, u3.Document.Utterance.InFlight)
	}
	if u3.Document.Utterance.History != 1 {
		t.Errorf("history = %d, want 1", u3.Document.Utterance.History)
	}

	u4 := submit(t, f.s, "there", true)
	if u4.UtteranceID == u1.UtteranceID {
		t.Error("new utterance reused the previous id")
	}
	if u4.Document.Text != "hello world there" {
		t.Errorf("text = %q, want %q", u4.Document.Text, "hello world there")
	}
	if want := (lang.Position{Row: 0, Column: 17}); u4.Document.Cursor != want {
		t.Errorf("cursor = %+v, want %+v", u4.Document.Cursor, want)
	}
}

func TestSession_EmptyFinalUndoes(t *testing.T) {
	t.Parallel()
	f := start(t)

	submit(t, f.s, "hello", true)
	submit(t, f.s, "there", false)
	u := submit(t, f.s, "", true)
	if u.Action != dictation.ActionUndo {
		t.Errorf("action = %s, want undo", u.Action)
	}
	if u.Document.Text != "hello" {
		t.Errorf("text = %q, want %q", u.Document.Text, "hello")
	}

	// Nothing in flight: an empty transcript is ignored.
	if u := submit(t, f.s, "  ", true); u.Action != dictation.ActionNone || u.Document.Text != "hello" {
		t.Errorf("idle empty final = %s %q, want none %q", u.Action, u.Document.Text, "hello")
	}
}

func TestSession_UndoWalksHistory(t *testing.T) {
	t.Parallel()
	f := start(t)
	ctx := context.Background()

	submit(t, f.s, "hello", true)
	submit(t, f.s, "there", true)

	var texts []string
	for range 2 {
		u, err := f.s.Undo(ctx)
		if err != nil {
			t.Fatalf("Undo: %v", err)
		}
		texts = append(texts, u.Document.Text)
	}
	if diff := cmp.Diff([]string{"hello", ""}, texts); diff != "" {
		t.Errorf("texts after undo (-want +got):\n%s", diff)
	}
	if _, err := f.s.Undo(ctx); !errors.Is(err, speech.ErrNothingToUndo) {
		t.Errorf("Undo on empty history = %v, want ErrNothingToUndo", err)
	}
}

func TestSession_ExternalEditStopsTracking(t *testing.T) {
	t.Parallel()
	f := start(t)

	submit(t, f.s, "hello", false)
	if _, err := f.doc.InsertAt("x", lang.Position{}, document.InsertOptions{}); err != nil {
		t.Fatalf("InsertAt: %v", err)
	}

	u, err := f.s.Submit(context.Background(), dictation.Transcript{Text: "hello world"})
	if !errors.Is(err, speech.ErrUndoMismatch) {
		t.Fatalf("Submit err = %v, want ErrUndoMismatch", err)
	}
	if u.Error == "" || u.Document.Utterance.InFlight {
		t.Errorf("update = %+v, want an error and no utterance in flight", u)
	}
	if u.Document.Text != "xhello" {
		t.Errorf("text = %q, want %q", u.Document.Text, "xhello")
	}

	if u := submit(t, f.s, "again", true); u.Document.Text != "xhello again" {
		t.Errorf("text = %q, want %q", u.Document.Text, "xhello again")
	}
}

func TestSession_Subscribe(t *testing.T) {
	t.Parallel()
	f := start(t)

	updates, cancel := f.s.Subscribe()
	defer cancel()

	submit(t, f.s, "hello", false)
	submit(t, f.s, "hello", true)
	if _, err := f.s.Snapshot(context.Background()); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	var actions []string
	for range 2 {
		select {
		case u := <-updates:
			actions = append(actions, u.Action)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for update")
		}
	}
	if diff := cmp.Diff([]string{dictation.ActionExecute, dictation.ActionRevise}, actions); diff != "" {
		t.Errorf("actions (-want +got):\n%s", diff)
	}
	select {
	case u := <-updates:
		t.Errorf("snapshot published an update: %+v", u)
	default:
	}
}

func TestSession_FeedAndShutdown(t *testing.T) {
	t.Parallel()
	f := start(t)
	updates, _ := f.s.Subscribe()

	ch := make(chan dictation.Transcript, 4)
	ch <- dictation.Transcript{Text: "good"}
	ch <- dictation.Transcript{Text: "good morning", IsFinal: true}
	ch <- dictation.Transcript{Text: "team"}
	close(ch)
	if err := f.s.Feed(context.Background(), ch); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	f.stop()
	<-f.s.Done()

	// Updates channels close with the session.
	n := 0
	for range updates {
		n++
	}
	if n != 3 {
		t.Errorf("updates = %d, want 3", n)
	}
	if f.in.State().InFlight {
		t.Error("in-flight utterance was not committed on shutdown")
	}
	text, err := f.doc.Text()
	if err != nil {
		t.Fatal(err)
	}
	if text != "good morning team" {
		t.Errorf("text = %q, want %q", text, "good morning team")
	}

	if _, err := f.s.Submit(context.Background(), dictation.Transcript{Text: "late"}); !errors.Is(err, dictation.ErrClosed) {
		t.Errorf("Submit after shutdown = %v, want ErrClosed", err)
	}
	if _, cancel := f.s.Subscribe(); cancel == nil {
		t.Error("Subscribe after shutdown returned nil cancel")
	}
}

func TestSession_Reload(t *testing.T) {
	t.Parallel()
	f := start(t)
	ctx := context.Background()

	submit(t, f.s, "hello", false)
	defs, err := config.DefaultDefinitions()
	if err != nil {
		t.Fatal(err)
	}
	if err := f.s.Reload(ctx, defs.Language, defs.Grammar); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if err := f.s.SetRevisionMargin(ctx, 1); err != nil {
		t.Fatalf("SetRevisionMargin: %v", err)
	}
	snap, err := f.s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Utterance.InFlight || snap.Text != "hello" {
		t.Errorf("after reload: in_flight=%v text=%q, want committed %q", snap.Utterance.InFlight, snap.Text, "hello")
	}
	if snap.Context != "text" {
		t.Errorf("context = %q, want text", snap.Context)
	}
	if f.in.RevisionMargin() != 1 {
		t.Errorf("revision margin = %d, want 1", f.in.RevisionMargin())
	}
}

func TestSession_RunTwice(t *testing.T) {
	t.Parallel()
	f := start(t)
	if err := f.s.Run(context.Background()); err == nil {
		t.Error("second Run returned nil error")
	}
}

func TestSession_CountsTranscripts(t *testing.T) {
	t.Parallel()
	f := start(t)

	submit(t, f.s, "hello", false)
	submit(t, f.s, "hello there", false)
	submit(t, f.s, "hello there", true)

	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "voxedit.transcripts" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				kind, _ := dp.Attributes.Value("kind")
				got[kind.AsString()] = dp.Value
			}
		}
	}
	if diff := cmp.Diff(map[string]int64{"partial": 2, "final": 1}, got); diff != "" {
		t.Errorf("transcripts by kind (-want +got):\n%s", diff)
	}
}

// Not parallel: swaps the global tracer provider.
func TestSession_UtteranceSpan(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})

	f := start(t)
	u := submit(t, f.s, "hello", false)
	submit(t, f.s, "hello world", true)

	var found bool
	for _, span := range exp.GetSpans() {
		if span.Name != "dictation.utterance" {
			continue
		}
		found = true
		for _, a := range span.Attributes {
			if string(a.Key) == observe.UtteranceKey && a.Value.AsString() != u.UtteranceID {
				t.Errorf("span utterance id = %q, want %q", a.Value.AsString(), u.UtteranceID)
			}
		}
	}
	if !found {
		t.Fatal("no ended dictation.utterance span")
	}

	var children int
	for _, span := range exp.GetSpans() {
		if span.Name == "speech.Execute" || span.Name == "speech.Revise" {
			children++
		}
	}
	if children != 2 {
		t.Errorf("interpreter spans = %d, want 2", children)
	}
}

// liveClipboard fails reads and writes made under a cancelled context.
type liveClipboard struct {
	*workspace.Memory
}

func (c *liveClipboard) ReadText(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.Memory.ReadText(ctx)
}

func (c *liveClipboard) WriteText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Memory.WriteText(ctx, text)
}

func TestSession_RevisionOutlivesOpeningRequest(t *testing.T) {
	t.Parallel()
	clip := &liveClipboard{Memory: workspace.NewMemory(nil)}
	if err := clip.WriteText(context.Background(), " world"); err != nil {
		t.Fatal(err)
	}
	f := startWith(t, clip)

	first, cancel := context.WithCancel(context.Background())
	if _, err := f.s.Submit(first, dictation.Transcript{Text: "hello"}); err != nil {
		t.Fatalf("first partial: %v", err)
	}
	// The request that opened the utterance is over.
	cancel()

	u, err := f.s.Submit(context.Background(), dictation.Transcript{Text: "hello paste"})
	if err != nil {
		t.Fatalf("revision after the opening request ended: %v", err)
	}
	if u.Action != dictation.ActionRevise || u.Document.Text != "hello world" {
		t.Errorf("revision = %s %q, want revise %q", u.Action, u.Document.Text, "hello world")
	}
	u = submit(t, f.s, "hello paste", true)
	if !u.Committed || u.Document.Text != "hello world" {
		t.Errorf("final = committed %v %q, want committed %q", u.Committed, u.Document.Text, "hello world")
	}
}
