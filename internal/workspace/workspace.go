// Package workspace defines the ports through which the interpreter reaches
// its surroundings (active document, windows and clipboard) and provides an
// in-memory adapter that backs the server and CLI.
//
// Window management, rendering and OS clipboard plumbing live outside this
// module; platform adapters implement the interfaces declared here.
package workspace

import (
	"context"
	"sync"

	"github.com/MrWong99/voxedit/internal/document"
)

// ActiveDocumentProvider returns the document that currently receives edits.
type ActiveDocumentProvider interface {
	// ActiveDocument reports the focused document, or false when none is
	// focused.
	ActiveDocument() (*document.Document, bool)
}

// Viewport describes what a window shows. Lines inside a window are
// addressed by labels that start at FirstLabel for the line at TopLine.
//
// A registered viewport with a Document and no LineCount follows the
// document: lookups report every line from TopLine to the document's end.
type Viewport struct {
	WindowID   int
	FirstLabel int
	TopLine    int
	LineCount  int
	// Document is the document the window is subscribed to, or nil.
	Document *document.Document
}

// LineForLabel maps a spoken line label to a document row.
func (v Viewport) LineForLabel(label int) (int, bool) {
	off := label - v.FirstLabel
	if off < 0 || off >= v.LineCount {
		return 0, false
	}
	return v.TopLine + off, true
}

// follow fills in LineCount for a viewport that follows its document.
func (v Viewport) follow() Viewport {
	if v.LineCount > 0 || v.Document == nil {
		return v
	}
	if n, err := v.Document.LineCount(); err == nil && n > v.TopLine {
		v.LineCount = n - v.TopLine
	}
	return v
}

// WindowLookup resolves spoken numbers to viewports.
type WindowLookup interface {
	// WindowByID returns the viewport of window id.
	WindowByID(id int) (Viewport, bool)
	// WindowByLabel returns the viewport that currently shows line label.
	WindowByLabel(label int) (Viewport, bool)
}

// ClipboardProvider reads and writes plain text.
type ClipboardProvider interface {
	ReadText(ctx context.Context) (string, error)
	WriteText(ctx context.Context, text string) error
}

// Memory is an in-process workspace: one or more documents, windows over
// them and a text clipboard. It is safe for concurrent use; the documents
// it hands out are not.
type Memory struct {
	mu        sync.RWMutex
	active    *document.Document
	windows   map[int]Viewport
	clipboard string
}

var (
	_ ActiveDocumentProvider = (*Memory)(nil)
	_ WindowLookup           = (*Memory)(nil)
	_ ClipboardProvider      = (*Memory)(nil)
	_ document.Clipboard     = (*Memory)(nil)
)

// NewMemory returns a workspace focused on doc.
func NewMemory(doc *document.Document) *Memory {
	return &Memory{active: doc, windows: make(map[int]Viewport)}
}

// ActiveDocument implements [ActiveDocumentProvider].
func (m *Memory) ActiveDocument() (*document.Document, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active, m.active != nil
}

// Focus makes doc the active document. A nil doc clears focus.
func (m *Memory) Focus(doc *document.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = doc
}

// SetWindow registers or replaces a viewport.
func (m *Memory) SetWindow(v Viewport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows[v.WindowID] = v
}

// CloseWindow removes a viewport.
func (m *Memory) CloseWindow(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, id)
}

// WindowByID implements [WindowLookup].
func (m *Memory) WindowByID(id int) (Viewport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.windows[id]
	return v.follow(), ok
}

// WindowByLabel implements [WindowLookup]. When several windows show the
// label, the one with the lowest id wins.
func (m *Memory) WindowByLabel(label int) (Viewport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		best  Viewport
		found bool
	)
	for _, v := range m.windows {
		v = v.follow()
		if _, ok := v.LineForLabel(label); !ok {
			continue
		}
		if !found || v.WindowID < best.WindowID {
			best, found = v, true
		}
	}
	return best, found
}

// ReadText implements [ClipboardProvider].
func (m *Memory) ReadText(context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clipboard, nil
}

// WriteText implements [ClipboardProvider].
func (m *Memory) WriteText(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clipboard = text
	return nil
}
