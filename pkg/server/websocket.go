package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mariozechner/guiding-agent/pkg/pipeline"
	"github.com/mariozechner/guiding-agent/pkg/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	pollInterval = 500 * time.Millisecond
	writeTimeout = 10 * time.Second
)

// handleEventsWebSocket streams the run's journal entries: everything written
// so far, then new entries as they land. The connection is closed normally
// after the run_finished entry.
func (s *Server) handleEventsWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.journal == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, errors.New("run journal is disabled (set JOURNAL_DIR)"))
		return
	}

	// Subscribe before loading so no append between the two is missed.
	updates := s.journal.Subscribe()
	defer s.journal.Unsubscribe(updates)

	run, err := s.journal.LoadRun(id)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, err)
		return
	}
	defer run.Close()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	logger := s.logger.With("runID", id)

	// Reader loop: only needed to notice the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Backup poll in case a notification was dropped.
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	sent := 0
	for {
		done, err := s.syncRun(ws, run, &sent)
		if err != nil {
			logger.Warn("Websocket sync failed", "error", err)
			return
		}
		if done {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
			ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
			return
		}

		select {
		case <-closed:
			return
		case <-s.baseCtx.Done():
			return
		case changed, ok := <-updates:
			if !ok {
				return
			}
			if changed != id {
				continue
			}
		case <-ticker.C:
		}
		if err := run.Refresh(); err != nil {
			logger.Warn("Failed to refresh run journal", "error", err)
			return
		}
	}
}

// syncRun writes the entries after *sent and reports whether the run is over.
func (s *Server) syncRun(ws *websocket.Conn, run store.Run, sent *int) (bool, error) {
	entries := run.Entries()
	finished := false
	for _, e := range entries[*sent:] {
		ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := ws.WriteJSON(e); err != nil {
			return false, err
		}
		*sent++
		if e.Event.Type == pipeline.EventRunFinished {
			finished = true
		}
	}
	return finished, nil
}
