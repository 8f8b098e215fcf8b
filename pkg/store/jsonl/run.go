package jsonl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/mariozechner/guiding-agent/pkg/pipeline"
	"github.com/mariozechner/guiding-agent/pkg/store"
)

// Run implements the store.Run interface using a JSONL file.
type Run struct {
	mu         sync.RWMutex
	filePath   string
	fileHandle *os.File
	header     store.Header
	entries    []store.Entry
	readOnly   bool
	notify     func(string)
	onAppend   func(id string, count int)
}

var _ store.Run = (*Run)(nil)

func (r *Run) ID() string           { return r.header.ID }
func (r *Run) Path() string         { return r.filePath }
func (r *Run) Header() store.Header { return r.header }

// Append persists an event as the next entry.
func (r *Run) Append(ev pipeline.Event) (store.Entry, error) {
	if r.readOnly {
		return store.Entry{}, errors.New("run opened read-only")
	}

	r.mu.Lock()
	e := store.Entry{
		ID:    uuid.New().String(),
		Seq:   len(r.entries) + 1,
		Event: ev,
	}
	if err := r.writeLine(e); err != nil {
		r.mu.Unlock()
		return store.Entry{}, err
	}
	r.entries = append(r.entries, e)
	count := len(r.entries)
	r.mu.Unlock()

	if r.onAppend != nil {
		r.onAppend(r.header.ID, count)
	}
	if r.notify != nil {
		r.notify(r.header.ID)
	}
	return e, nil
}

func (r *Run) Entries() []store.Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]store.Entry(nil), r.entries...)
}

func (r *Run) Refresh() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked()
}

func (r *Run) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fileHandle == nil {
		return nil
	}
	err := r.fileHandle.Close()
	r.fileHandle = nil
	return err
}

func (r *Run) load() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked()
}

// loadLocked rereads the whole file. Only an unparsable last line is
// skipped, as it may be a write in progress. Anything unparsable before it,
// or a break in the sequence numbers, fails the load.
func (r *Run) loadLocked() error {
	if r.fileHandle == nil {
		return os.ErrClosed
	}
	if _, err := r.fileHandle.Seek(0, io.SeekStart); err != nil {
		return err
	}

	var (
		header  store.Header
		entries []store.Entry
		first   = true
		record  int
		corrupt error
	)
	err := scanLines(bufio.NewScanner(r.fileHandle), func(line []byte) error {
		record++
		if first {
			first = false
			if err := json.Unmarshal(line, &header); err != nil {
				return fmt.Errorf("failed to unmarshal header: %w", err)
			}
			if header.Type != store.HeaderType {
				return fmt.Errorf("not a run file: header type %q", header.Type)
			}
			return nil
		}
		if corrupt != nil {
			return corrupt
		}
		var e store.Entry
		if err := json.Unmarshal(line, &e); err != nil {
			corrupt = fmt.Errorf("corrupt entry at record %d: %w", record, err)
			return nil
		}
		if want := len(entries) + 1; e.Seq != want {
			return fmt.Errorf("entry at record %d has seq %d, want %d", record, e.Seq, want)
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return err
	}
	if first {
		return errors.New("empty run file")
	}

	r.header = header
	r.entries = entries
	return nil
}

func (r *Run) writeLine(v any) error {
	if r.fileHandle == nil {
		return os.ErrClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = r.fileHandle.Write(append(data, '\n'))
	return err
}
