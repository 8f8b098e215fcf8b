// Package process implements sandbox.Executor by running each script as a
// child process of the host interpreter.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"time"

	"github.com/mariozechner/guiding-agent/pkg/sandbox"
)

const (
	DefaultInterpreter = "python3"
	DefaultSuffix      = ".py"
)

// Config holds everything the sandbox would otherwise look up globally.
type Config struct {
	// Interpreter is the command used to run scripts (e.g. "python3").
	Interpreter string
	// Args are passed to the interpreter before the script path.
	Args []string
	// TempDir is where the private sandbox directory is created. Empty means os.TempDir().
	TempDir string
	// Suffix is appended to generated file names.
	Suffix string
	// Name generates sandbox file names. Defaults to a uuid-based name.
	Name sandbox.NameFunc
	// Env is appended to the inherited parent environment.
	Env []string
	// Timeout bounds a single execution. Zero waits for the script to exit on its own.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Sandbox runs scripts from a private directory it owns.
type Sandbox struct {
	cfg    Config
	dir    string
	logger *slog.Logger
}

var _ sandbox.Executor = (*Sandbox)(nil)

// New creates the private sandbox directory and returns a ready Sandbox.
func New(cfg Config) (*Sandbox, error) {
	if cfg.Interpreter == "" {
		cfg.Interpreter = DefaultInterpreter
	}
	if cfg.Suffix == "" {
		cfg.Suffix = DefaultSuffix
	}
	if cfg.Name == nil {
		cfg.Name = sandbox.UniqueName("script-", cfg.Suffix)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dir, err := os.MkdirTemp(cfg.TempDir, "guide-sandbox-")
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox directory: %w", err)
	}

	return &Sandbox{
		cfg:    cfg,
		dir:    dir,
		logger: logger.With("sandbox", "process"),
	}, nil
}

// Dir returns the private directory holding sandbox files.
func (s *Sandbox) Dir() string { return s.dir }

// Close removes the private directory.
func (s *Sandbox) Close() error {
	return os.RemoveAll(s.dir)
}

// Execute normalizes, materializes and runs script, then deletes the file.
func (s *Sandbox) Execute(ctx context.Context, script string) (res sandbox.Result) {
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	code := sandbox.Normalize(script)
	if code == "" {
		return sandbox.Fail(sandbox.FailureInvalidScript, "script is empty after normalization")
	}

	name := s.cfg.Name()
	f, err := sandbox.CreateFile(s.dir, name, code)
	if err != nil {
		s.logger.Error("Failed to materialize script", "error", err)
		res = sandbox.Fail(sandbox.FailureMaterialization, err.Error())
		res.ScriptPath = filepath.Join(s.dir, name)
		return res
	}
	defer func() {
		if err := f.Remove(); err != nil {
			s.logger.Warn("Failed to clean up sandbox file", "path", f.Path(), "error", err)
			res.CleanupError = err.Error()
		}
	}()

	res = s.run(ctx, f.Path())
	res.ScriptPath = f.Path()
	return res
}

func (s *Sandbox) run(ctx context.Context, path string) sandbox.Result {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.Command(s.cfg.Interpreter, append(slices.Clone(s.cfg.Args), path)...)
	cmd.Dir = s.dir
	cmd.Env = append(os.Environ(), s.cfg.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	configureProcess(cmd)

	s.logger.Info("Running script in a separate process", "path", path, "interpreter", s.cfg.Interpreter)

	if err := cmd.Start(); err != nil {
		s.logger.Error("Failed to start interpreter", "interpreter", s.cfg.Interpreter, "error", err)
		return sandbox.Fail(sandbox.FailureSpawn, fmt.Sprintf("failed to start %s: %v", s.cfg.Interpreter, err))
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		terminateProcess(cmd)
		<-done
		return sandbox.Interrupted(ctx.Err(), stderr.String())
	}

	if err == nil {
		s.logger.Debug("Script finished", "stdout", stdout.String())
		res := sandbox.Success(stdout.String())
		res.ExitCode = 0
		return res
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		s.logger.Info("Script exited with failure", "exitCode", exitErr.ExitCode())
		reason := stderr.String()
		if reason == "" {
			reason = exitErr.Error()
		}
		res := sandbox.Fail(sandbox.FailureExecution, reason)
		res.ExitCode = exitErr.ExitCode()
		return res
	}

	return sandbox.Fail(sandbox.FailureSpawn, fmt.Sprintf("failed waiting for %s: %v", s.cfg.Interpreter, err))
}
