package jsonl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/mariozechner/guiding-agent/pkg/store"
)

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Manager implements the store.Manager interface using JSONL files.
type Manager struct {
	runDir    string
	eventChan chan string
	mu        sync.RWMutex
	subs      []chan string
}

var _ store.Manager = (*Manager)(nil)

// NewManager creates rootDir/runs and starts the change broadcaster.
func NewManager(rootDir string) (*Manager, error) {
	m := &Manager{
		runDir:    filepath.Join(rootDir, "runs"),
		eventChan: make(chan string, 100),
	}
	if err := os.MkdirAll(m.runDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create runs directory: %w", err)
	}

	go m.broadcastLoop()
	return m, nil
}

// Index represents the index.json structure
type Index struct {
	Runs []store.RunInfo `json:"runs"`
}

func (m *Manager) indexPath() string {
	return filepath.Join(m.runDir, "index.json")
}

func (m *Manager) runPath(id string) string {
	return filepath.Join(m.runDir, id+".jsonl")
}

// readIndex must be called with m.mu held.
func (m *Manager) readIndex() (Index, error) {
	var idx Index
	data, err := os.ReadFile(m.indexPath())
	if errors.Is(err, fs.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return idx, err
	}
	if err := json.Unmarshal(data, &idx); err != nil {
		return idx, fmt.Errorf("corrupt run index: %w", err)
	}
	return idx, nil
}

// writeIndex must be called with m.mu held. It replaces the file atomically.
func (m *Manager) writeIndex(idx Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.indexPath())
}

// updateIndex applies fn to the entry for id.
func (m *Manager) updateIndex(id string, fn func(*store.RunInfo)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.readIndex()
	if err != nil {
		return err
	}
	for i := range idx.Runs {
		if idx.Runs[i].ID == id {
			fn(&idx.Runs[i])
			idx.Runs[i].Modified = time.Now()
			return m.writeIndex(idx)
		}
	}
	return fmt.Errorf("%w: %s", store.ErrRunNotFound, id)
}

func (m *Manager) broadcastLoop() {
	for id := range m.eventChan {
		m.mu.RLock()
		for _, sub := range m.subs {
			// Non-blocking send
			select {
			case sub <- id:
			default:
			}
		}
		m.mu.RUnlock()
	}
}

func (m *Manager) Subscribe() <-chan string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan string, 10)
	m.subs = append(m.subs, ch)
	return ch
}

func (m *Manager) Unsubscribe(ch <-chan string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, sub := range m.subs {
		if sub == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(sub)
			return
		}
	}
}

func (m *Manager) publish(id string) {
	select {
	case m.eventChan <- id:
	default:
	}
}

func (m *Manager) NewRun(id, task string) (store.Run, error) {
	if !validID.MatchString(id) {
		return nil, fmt.Errorf("invalid run id %q", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.runPath(id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run file: %w", err)
	}

	now := time.Now()
	r := &Run{
		filePath:   path,
		fileHandle: f,
		notify:     m.publish,
		onAppend:   m.touch,
		header: store.Header{
			Type:      store.HeaderType,
			ID:        id,
			Task:      task,
			Version:   1,
			CreatedAt: now,
		},
	}
	if err := r.writeLine(r.header); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write run header: %w", err)
	}

	idx, err := m.readIndex()
	if err != nil {
		slog.Error("Failed to read run index", "error", err)
	}
	idx.Runs = append(idx.Runs, store.RunInfo{
		ID:       id,
		Path:     path,
		Task:     task,
		Status:   store.RunStatusRunning,
		Created:  now,
		Modified: now,
	})
	if err := m.writeIndex(idx); err != nil {
		slog.Error("Failed to update run index", "error", err)
	}

	m.publish(id)
	return r, nil
}

// touch records an appended entry in the index.
func (m *Manager) touch(id string, count int) {
	if err := m.updateIndex(id, func(info *store.RunInfo) { info.EntryCount = count }); err != nil {
		slog.Warn("Failed to update run index", "runID", id, "error", err)
	}
}

func (m *Manager) LoadRun(id string) (store.Run, error) {
	if !validID.MatchString(id) {
		return nil, fmt.Errorf("%w: %s", store.ErrRunNotFound, id)
	}
	path := m.runPath(id)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", store.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open run file: %w", err)
	}

	r := &Run{filePath: path, fileHandle: f, readOnly: true}
	if err := r.load(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}
	return r, nil
}

func (m *Manager) GetRun(id string) (store.RunInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, err := m.readIndex()
	if err != nil {
		return store.RunInfo{}, err
	}
	for _, info := range idx.Runs {
		if info.ID == id {
			return info, nil
		}
	}
	return store.RunInfo{}, fmt.Errorf("%w: %s", store.ErrRunNotFound, id)
}

func (m *Manager) ListRuns() ([]store.RunInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, err := m.readIndex()
	if err != nil {
		return nil, err
	}
	infos := append([]store.RunInfo{}, idx.Runs...)
	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].Modified.After(infos[j].Modified)
	})
	return infos, nil
}

func (m *Manager) SetRunStatus(id, status, errMsg string) error {
	err := m.updateIndex(id, func(info *store.RunInfo) {
		info.Status = status
		info.Error = errMsg
	})
	if err != nil {
		return err
	}
	m.publish(id)
	return nil
}

// scanLines feeds every non-empty line to fn. Lines up to 16MB are accepted
// since artifacts carry whole scripts and outputs.
func scanLines(sc *bufio.Scanner, fn func([]byte) error) error {
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	return sc.Err()
}
