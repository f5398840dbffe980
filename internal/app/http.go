package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxedit/internal/dictation"
	"github.com/MrWong99/voxedit/internal/observe"
	"github.com/MrWong99/voxedit/internal/speech"
)

// maxTranscriptBytes bounds request bodies and stream messages.
const maxTranscriptBytes = 64 << 10

// StreamSnapshot is the action of the first message on a stream.
const StreamSnapshot = "snapshot"

// POST /v1/transcripts
func (a *App) handleTranscript(w http.ResponseWriter, r *http.Request) {
	var t dictation.Transcript
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTranscriptBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid transcript: "+err.Error())
		return
	}

	u, err := a.session.Submit(r.Context(), t)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, u)
	case errors.Is(err, dictation.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case r.Context().Err() != nil:
		// Client went away.
	default:
		writeJSON(w, http.StatusUnprocessableEntity, u)
	}
}

// POST /v1/undo
func (a *App) handleUndo(w http.ResponseWriter, r *http.Request) {
	u, err := a.session.Undo(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, u)
	case errors.Is(err, speech.ErrNothingToUndo), errors.Is(err, speech.ErrUndoMismatch):
		writeJSON(w, http.StatusConflict, u)
	case errors.Is(err, dictation.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeJSON(w, http.StatusInternalServerError, u)
	}
}

// GET /v1/document
func (a *App) handleDocument(w http.ResponseWriter, r *http.Request) {
	snap, err := a.session.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GET /v1/stream upgrades to a WebSocket. The client sends transcripts as
// JSON text messages; the server sends a snapshot first and then every
// session update, including those caused by other clients.
func (a *App) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept has already written the HTTP error.
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxTranscriptBytes)

	ctx := r.Context()
	log := observe.Logger(ctx)
	a.metrics.ActiveStreams.Add(ctx, 1)
	defer a.metrics.ActiveStreams.Add(ctx, -1)

	updates, unsubscribe := a.session.Subscribe()
	defer unsubscribe()

	snap, err := a.session.Snapshot(ctx)
	if err != nil {
		conn.Close(websocket.StatusTryAgainLater, "session unavailable")
		return
	}
	if err := writeMessage(ctx, conn, dictation.Update{Action: StreamSnapshot, Document: snap}); err != nil {
		return
	}

	// Writer: forwards session updates until the session or the reader ends.
	writerDone := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-readerDone:
				return
			case u, ok := <-updates:
				if !ok {
					conn.Close(websocket.StatusGoingAway, "session closed")
					return
				}
				if err := writeMessage(ctx, conn, u); err != nil {
					log.Debug("stream write failed", "err", err)
					return
				}
			}
		}
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 {
				log.Debug("stream read ended", "err", err)
			}
			break
		}
		if typ != websocket.MessageText {
			conn.Close(websocket.StatusUnsupportedData, "expected text messages")
			break
		}
		var t dictation.Transcript
		if err := json.Unmarshal(data, &t); err != nil {
			conn.Close(websocket.StatusInvalidFramePayloadData, "invalid transcript")
			break
		}
		// The outcome reaches this client through the update stream.
		if _, err := a.session.Submit(ctx, t); errors.Is(err, dictation.ErrClosed) {
			break
		}
	}
	close(readerDone)
	<-writerDone
}

func writeMessage(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("app: encode response", "err", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}
