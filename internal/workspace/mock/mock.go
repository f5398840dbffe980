// Package mock provides test doubles for the workspace ports.
//
// Use Workspace to hand the interpreter a fixed document, a set of viewports
// and a clipboard whose reads and writes are recorded.
//
// Example:
//
//	ws := &mock.Workspace{Doc: doc}
//	ws.Windows = []workspace.Viewport{{WindowID: 1, FirstLabel: 1, LineCount: 40, Document: doc}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxedit/internal/document"
	"github.com/MrWong99/voxedit/internal/workspace"
)

// Workspace is a mock implementation of every workspace port.
type Workspace struct {
	mu sync.Mutex

	// Doc is returned by ActiveDocument. A nil Doc reports no focus.
	Doc *document.Document

	// Windows are searched by WindowByID and WindowByLabel in order.
	Windows []workspace.Viewport

	// Clipboard holds the current clipboard text.
	Clipboard string

	// ReadErr, if non-nil, is returned from ReadText.
	ReadErr error

	// WriteErr, if non-nil, is returned from WriteText.
	WriteErr error

	// Writes records every text passed to WriteText.
	Writes []string

	// LabelLookups records every label passed to WindowByLabel.
	LabelLookups []int
}

var (
	_ workspace.ActiveDocumentProvider = (*Workspace)(nil)
	_ workspace.WindowLookup           = (*Workspace)(nil)
	_ workspace.ClipboardProvider      = (*Workspace)(nil)
)

// ActiveDocument returns Doc.
func (w *Workspace) ActiveDocument() (*document.Document, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Doc, w.Doc != nil
}

// WindowByID returns the first window with a matching id.
func (w *Workspace) WindowByID(id int) (workspace.Viewport, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, v := range w.Windows {
		if v.WindowID == id {
			return v, true
		}
	}
	return workspace.Viewport{}, false
}

// WindowByLabel records the call and returns the first window showing label.
func (w *Workspace) WindowByLabel(label int) (workspace.Viewport, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.LabelLookups = append(w.LabelLookups, label)
	for _, v := range w.Windows {
		if _, ok := v.LineForLabel(label); ok {
			return v, true
		}
	}
	return workspace.Viewport{}, false
}

// ReadText returns Clipboard, ReadErr.
func (w *Workspace) ReadText(context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Clipboard, w.ReadErr
}

// WriteText records the call and stores text unless WriteErr is set.
func (w *Workspace) WriteText(_ context.Context, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Writes = append(w.Writes, text)
	if w.WriteErr != nil {
		return w.WriteErr
	}
	w.Clipboard = text
	return nil
}

// Reset clears all recorded calls.
func (w *Workspace) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Writes = nil
	w.LabelLookups = nil
}
