package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// NameFunc returns the base name for a new sandbox file.
type NameFunc func() string

// UniqueName returns a NameFunc producing "<prefix><uuid><suffix>".
func UniqueName(prefix, suffix string) NameFunc {
	return func() string {
		return prefix + uuid.New().String() + suffix
	}
}

// File is an ephemeral script file exclusively owned by one execution.
type File struct {
	path string
}

// CreateFile writes script to dir/name. The file must not already exist, so
// two executions can never share a file. A partially written file is
// removed before the error is returned.
func CreateFile(dir, name, script string) (*File, error) {
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox file: %w", err)
	}

	_, writeErr := f.WriteString(script)
	closeErr := f.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write sandbox file: %w", err)
	}

	return &File{path: path}, nil
}

// Path returns the absolute path of the file.
func (f *File) Path() string { return f.path }

// Remove deletes the file. Removing an already missing file is not an error.
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove sandbox file: %w", err)
	}
	return nil
}
