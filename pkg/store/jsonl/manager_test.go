package jsonl_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mariozechner/guiding-agent/pkg/pipeline"
	"github.com/mariozechner/guiding-agent/pkg/store"
	"github.com/mariozechner/guiding-agent/pkg/store/jsonl"
)

func setupManager(t *testing.T) (*jsonl.Manager, string) {
	tempDir := t.TempDir()
	m, err := jsonl.NewManager(tempDir)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return m, tempDir
}

func TestRun_AppendAndLoad(t *testing.T) {
	m, tempDir := setupManager(t)

	r, err := m.NewRun("run-1", "open example.com")
	if err != nil {
		t.Fatal(err)
	}
	if got := filepath.Dir(r.Path()); got != filepath.Join(tempDir, "runs") {
		t.Errorf("unexpected run dir %s", got)
	}

	slot := pipeline.SlotSteps
	events := []pipeline.Event{
		{Type: pipeline.EventRunStarted, RunID: "run-1", Task: "open example.com"},
		{Type: pipeline.EventStageStarted, RunID: "run-1", Stage: "planner"},
		{Type: pipeline.EventArtifactWritten, RunID: "run-1", Stage: "planner", Slot: &slot,
			Artifact: &pipeline.Artifact{Kind: pipeline.KindStepList, Text: "1. Goto example.com"}},
	}
	for _, ev := range events {
		if _, err := r.Append(ev); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	loaded, err := m.LoadRun("run-1")
	if err != nil {
		t.Fatal(err)
	}
	defer loaded.Close()

	if h := loaded.Header(); h.ID != "run-1" || h.Task != "open example.com" || h.Version != 1 {
		t.Errorf("unexpected header %+v", h)
	}
	entries := loaded.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Seq != i+1 {
			t.Errorf("entry %d has seq %d", i, e.Seq)
		}
		if e.Event.Type != events[i].Type {
			t.Errorf("entry %d: expected %s, got %s", i, events[i].Type, e.Event.Type)
		}
	}
	last := entries[2].Event
	if last.Slot == nil || *last.Slot != pipeline.SlotSteps {
		t.Errorf("slot not preserved: %+v", last.Slot)
	}
	if last.Artifact == nil || last.Artifact.Text != "1. Goto example.com" {
		t.Errorf("artifact not preserved: %+v", last.Artifact)
	}

	if _, err := loaded.Append(events[0]); err == nil {
		t.Error("expected append on a loaded run to fail")
	}
}

func TestRun_RefreshSeesOtherHandle(t *testing.T) {
	m, _ := setupManager(t)

	w, err := m.NewRun("run-2", "task")
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	rd, err := m.LoadRun("run-2")
	if err != nil {
		t.Fatal(err)
	}
	defer rd.Close()
	if n := len(rd.Entries()); n != 0 {
		t.Fatalf("expected no entries, got %d", n)
	}

	if _, err := w.Append(pipeline.Event{Type: pipeline.EventRunStarted, RunID: "run-2"}); err != nil {
		t.Fatal(err)
	}
	if err := rd.Refresh(); err != nil {
		t.Fatal(err)
	}
	if n := len(rd.Entries()); n != 1 {
		t.Errorf("expected 1 entry after refresh, got %d", n)
	}
}

func TestManager_IndexAndStatus(t *testing.T) {
	m, _ := setupManager(t)

	for _, id := range []string{"a", "b"} {
		r, err := m.NewRun(id, "task "+id)
		if err != nil {
			t.Fatal(err)
		}
		r.Close()
		time.Sleep(5 * time.Millisecond)
	}

	if err := m.SetRunStatus("a", store.RunStatusAborted, "stage planner: boom"); err != nil {
		t.Fatal(err)
	}

	runs, err := m.ListRuns()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "a" {
		t.Errorf("expected most recently modified run first, got %s", runs[0].ID)
	}

	info, err := m.GetRun("a")
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != store.RunStatusAborted || info.Error != "stage planner: boom" {
		t.Errorf("unexpected info %+v", info)
	}
	if !store.Terminal(info.Status) {
		t.Error("aborted should be terminal")
	}

	info, _ = m.GetRun("b")
	if info.Status != store.RunStatusRunning || info.Task != "task b" {
		t.Errorf("unexpected info %+v", info)
	}
}

func TestManager_NotFound(t *testing.T) {
	m, _ := setupManager(t)

	if _, err := m.LoadRun("missing"); !errors.Is(err, store.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
	if _, err := m.GetRun("missing"); !errors.Is(err, store.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
	if err := m.SetRunStatus("missing", store.RunStatusFailed, ""); !errors.Is(err, store.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
	if _, err := m.LoadRun("../escape"); !errors.Is(err, store.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound for path-like id, got %v", err)
	}
}

func TestManager_RejectsDuplicateAndInvalidIDs(t *testing.T) {
	m, _ := setupManager(t)

	r, err := m.NewRun("dup", "task")
	if err != nil {
		t.Fatal(err)
	}
	r.Close()

	if _, err := m.NewRun("dup", "task"); err == nil {
		t.Error("expected duplicate run id to fail")
	}
	if _, err := m.NewRun("a/b", "task"); err == nil || !strings.Contains(err.Error(), "invalid run id") {
		t.Errorf("expected invalid id error, got %v", err)
	}
}

func TestManager_LoadRejectsForeignFile(t *testing.T) {
	m, tempDir := setupManager(t)

	path := filepath.Join(tempDir, "runs", "foreign.jsonl")
	if err := os.WriteFile(path, []byte(`{"type":"session","id":"foreign"}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.LoadRun("foreign"); err == nil {
		t.Error("expected header type mismatch to fail")
	}
}

func TestManager_Subscribe(t *testing.T) {
	m, _ := setupManager(t)
	updates := m.Subscribe()
	defer m.Unsubscribe(updates)

	r, err := m.NewRun("sub-1", "task")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	select {
	case id := <-updates:
		if id != "sub-1" {
			t.Errorf("expected sub-1, got %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update received")
	}
}

func writeRunWithTail(t *testing.T, m *jsonl.Manager, id string, tail ...string) {
	t.Helper()
	r, err := m.NewRun(id, "task")
	if err != nil {
		t.Fatal(err)
	}
	for _, st := range []string{"planner", "synthesizer"} {
		if _, err := r.Append(pipeline.Event{Type: pipeline.EventStageStarted, RunID: id, Stage: st}); err != nil {
			t.Fatal(err)
		}
	}
	path := r.Path()
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	for _, s := range tail {
		if _, err := f.WriteString(s); err != nil {
			t.Fatal(err)
		}
	}
}

func entryLine(t *testing.T, seq int) string {
	t.Helper()
	data, err := json.Marshal(store.Entry{ID: "e", Seq: seq, Event: pipeline.Event{Type: pipeline.EventRunFinished}})
	if err != nil {
		t.Fatal(err)
	}
	return string(data) + "\n"
}

func TestRun_LoadSkipsPartialLastLine(t *testing.T) {
	m, _ := setupManager(t)
	writeRunWithTail(t, m, "run-partial", `{"id":"x","se`)

	r, err := m.LoadRun("run-partial")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if n := len(r.Entries()); n != 2 {
		t.Errorf("expected 2 entries, got %d", n)
	}
}

func TestRun_LoadRejectsCorruptMiddleLine(t *testing.T) {
	m, _ := setupManager(t)
	writeRunWithTail(t, m, "run-corrupt", "not json\n", entryLine(t, 3))

	_, err := m.LoadRun("run-corrupt")
	if err == nil || !strings.Contains(err.Error(), "corrupt entry at record 4") {
		t.Errorf("expected corrupt entry error, got %v", err)
	}
}

func TestRun_LoadRejectsSeqGap(t *testing.T) {
	m, _ := setupManager(t)
	writeRunWithTail(t, m, "run-gap", entryLine(t, 5))

	_, err := m.LoadRun("run-gap")
	if err == nil || !strings.Contains(err.Error(), "has seq 5, want 3") {
		t.Errorf("expected seq gap error, got %v", err)
	}
}
