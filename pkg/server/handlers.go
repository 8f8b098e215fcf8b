package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mariozechner/guiding-agent/pkg/pipeline"
	"github.com/mariozechner/guiding-agent/pkg/store"
)

type createRunRequest struct {
	Task string `json:"task"`
	// Wait runs the task within the request and returns the outcome.
	Wait bool `json:"wait"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		s.errorResponse(w, http.StatusBadRequest, pipeline.ErrEmptyTask)
		return
	}

	id := uuid.New().String()
	if req.Wait {
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		st := s.track(id, req.Task, cancel)
		s.execute(pipeline.ContextWithRunID(ctx, id), st)
		s.respondOutcome(w, st)
		return
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	st := s.track(id, req.Task, cancel)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.execute(pipeline.ContextWithRunID(ctx, id), st)
	}()

	s.jsonResponse(w, http.StatusAccepted, map[string]string{"id": id, "status": store.RunStatusRunning})
}

func (s *Server) track(id, task string, cancel context.CancelFunc) *runState {
	st := &runState{
		ID:      id,
		Task:    task,
		Status:  store.RunStatusRunning,
		Created: time.Now(),
		cancel:  cancel,
	}
	s.mu.Lock()
	s.runs[id] = st
	s.mu.Unlock()
	return st
}

func (s *Server) execute(ctx context.Context, st *runState) {
	out, err := s.runner.Run(ctx, st.Task)

	s.mu.Lock()
	defer s.mu.Unlock()
	st.Outcome = out
	st.Status = store.OutcomeStatus(out, err)
	if err != nil {
		st.Error = err.Error()
	}
	st.cancel = nil
	s.retireLocked(st.ID)
}

// retireLocked records id as finished and evicts the oldest finished runs
// beyond the retention limit. Callers hold s.mu.
func (s *Server) retireLocked(id string) {
	s.finished = append(s.finished, id)
	for len(s.finished) > s.retain {
		delete(s.runs, s.finished[0])
		s.finished = s.finished[1:]
	}
}

func (s *Server) respondOutcome(w http.ResponseWriter, st *runState) {
	s.mu.Lock()
	view := *st
	s.mu.Unlock()

	if view.Status == store.RunStatusAborted {
		s.jsonResponse(w, http.StatusUnprocessableEntity, view)
		return
	}
	s.jsonResponse(w, http.StatusOK, view)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.journal != nil {
		runs, err := s.journal.ListRuns()
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err)
			return
		}
		s.jsonResponse(w, http.StatusOK, runs)
		return
	}

	s.mu.Lock()
	runs := make([]runState, 0, len(s.runs))
	for _, st := range s.runs {
		v := *st
		v.Outcome = nil
		runs = append(runs, v)
	}
	s.mu.Unlock()

	sort.Slice(runs, func(i, j int) bool { return runs[i].Created.After(runs[j].Created) })
	s.jsonResponse(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	resp := map[string]any{}

	s.mu.Lock()
	if st, ok := s.runs[id]; ok {
		resp["run"] = *st
	}
	s.mu.Unlock()

	if s.journal != nil {
		if info, err := s.journal.GetRun(id); err == nil {
			resp["info"] = info
			if run, err := s.journal.LoadRun(id); err == nil {
				resp["entries"] = run.Entries()
				run.Close()
			} else {
				s.logger.Warn("Failed to load run journal", "runID", id, "error", err)
			}
		}
	}

	if len(resp) == 0 {
		s.errorResponse(w, http.StatusNotFound, fmt.Errorf("run %s not found", id))
		return
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	st, ok := s.runs[id]
	var cancel context.CancelFunc
	if ok {
		cancel = st.cancel
	}
	s.mu.Unlock()

	if !ok {
		s.errorResponse(w, http.StatusNotFound, fmt.Errorf("run %s not found", id))
		return
	}
	if cancel == nil {
		s.errorResponse(w, http.StatusConflict, errors.New("run already finished"))
		return
	}
	cancel()
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
