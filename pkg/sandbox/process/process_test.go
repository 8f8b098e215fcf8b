package process_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mariozechner/guiding-agent/pkg/sandbox"
	"github.com/mariozechner/guiding-agent/pkg/sandbox/process"
)

// newShellSandbox uses /bin/sh as a stand-in interpreter so the tests do not
// depend on a Python installation.
func newShellSandbox(t *testing.T, mutate func(*process.Config)) *process.Sandbox {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("skip on windows: sh is not available")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("skip: sh not found in PATH")
	}

	cfg := process.Config{
		Interpreter: "sh",
		Suffix:      ".sh",
		TempDir:     t.TempDir(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	sb, err := process.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { sb.Close() })
	return sb
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "sandbox directory should be empty")
}

func TestExecute_Success(t *testing.T) {
	sb := newShellSandbox(t, nil)

	res := sb.Execute(context.Background(), "echo OK")

	assert.Equal(t, sandbox.StatusSuccess, res.Status)
	assert.Equal(t, "OK\n", res.Output)
	assert.Empty(t, res.Reason)
	assert.Equal(t, sandbox.FailureNone, res.Failure)
	assert.Equal(t, 0, res.ExitCode)
	assert.NotEmpty(t, res.ScriptPath)
	assert.NoFileExists(t, res.ScriptPath)
	assertEmptyDir(t, sb.Dir())
}

func TestExecute_NonZeroExit(t *testing.T) {
	sb := newShellSandbox(t, nil)

	res := sb.Execute(context.Background(), "echo progress\necho boom >&2\nexit 3")

	assert.Equal(t, sandbox.StatusFailure, res.Status)
	assert.Equal(t, sandbox.FailureExecution, res.Failure)
	assert.Equal(t, "boom\n", res.Reason)
	assert.Empty(t, res.Output)
	assert.Equal(t, 3, res.ExitCode)
	assert.NoFileExists(t, res.ScriptPath)
}

func TestExecute_NonZeroExitWithoutStderr(t *testing.T) {
	sb := newShellSandbox(t, nil)

	res := sb.Execute(context.Background(), "exit 2")

	assert.Equal(t, sandbox.FailureExecution, res.Failure)
	assert.Equal(t, 2, res.ExitCode)
	assert.NotEmpty(t, res.Reason)
}

func TestExecute_FileExistsOnlyDuringExecution(t *testing.T) {
	sb := newShellSandbox(t, func(cfg *process.Config) {
		cfg.Name = func() string { return "fixed.sh" }
	})
	path := filepath.Join(sb.Dir(), "fixed.sh")

	assert.NoFileExists(t, path)

	res := sb.Execute(context.Background(), `test -f "$0" && echo present`)

	require.True(t, res.Succeeded(), "reason: %s", res.Reason)
	assert.Equal(t, "present\n", res.Output)
	assert.Equal(t, path, res.ScriptPath)
	assert.NoFileExists(t, path)

	// The same name is reusable because the previous file is gone.
	res = sb.Execute(context.Background(), "exit 1")
	assert.Equal(t, sandbox.FailureExecution, res.Failure)
	assert.NoFileExists(t, path)
}

func TestExecute_CleanupFailureDoesNotMaskResult(t *testing.T) {
	var logs bytes.Buffer
	sb := newShellSandbox(t, func(cfg *process.Config) {
		cfg.Logger = slog.New(slog.NewTextHandler(&logs, nil))
	})

	// The script swaps its own file for a non-empty directory, so the
	// final removal fails.
	res := sb.Execute(context.Background(), `rm "$0"; mkdir "$0"; touch "$0/x"; echo OK`)

	assert.Equal(t, sandbox.StatusSuccess, res.Status)
	assert.Equal(t, sandbox.FailureNone, res.Failure)
	assert.Equal(t, "OK\n", res.Output)
	assert.Empty(t, res.Reason)
	assert.Contains(t, res.CleanupError, "failed to remove sandbox file")
	assert.DirExists(t, res.ScriptPath)
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "Failed to clean up sandbox file")
}

func TestExecute_MissingInterpreter(t *testing.T) {
	sb := newShellSandbox(t, func(cfg *process.Config) {
		cfg.Interpreter = "guide-no-such-interpreter"
	})

	res := sb.Execute(context.Background(), "print(1)")

	assert.Equal(t, sandbox.StatusFailure, res.Status)
	assert.Equal(t, sandbox.FailureSpawn, res.Failure)
	assert.Contains(t, res.Reason, "guide-no-such-interpreter")
	assert.Equal(t, -1, res.ExitCode)
	assert.NoFileExists(t, res.ScriptPath)
	assertEmptyDir(t, sb.Dir())
}

func TestExecute_MaterializationFailure(t *testing.T) {
	sb := newShellSandbox(t, func(cfg *process.Config) {
		cfg.Name = func() string { return filepath.Join("missing", "script.sh") }
	})

	res := sb.Execute(context.Background(), "echo OK")

	assert.Equal(t, sandbox.FailureMaterialization, res.Failure)
	assert.Contains(t, res.Reason, "failed to create sandbox file")
	assertEmptyDir(t, sb.Dir())
}

func TestExecute_EmptyScript(t *testing.T) {
	sb := newShellSandbox(t, nil)

	for _, script := range []string{"", "   \n", "```python\n```"} {
		res := sb.Execute(context.Background(), script)
		assert.Equal(t, sandbox.FailureInvalidScript, res.Failure, "script %q", script)
		assert.Empty(t, res.ScriptPath)
	}
	assertEmptyDir(t, sb.Dir())
}

func TestExecute_FenceEquivalence(t *testing.T) {
	sb := newShellSandbox(t, nil)

	fenced := sb.Execute(context.Background(), "```sh\necho 1\n```")
	plain := sb.Execute(context.Background(), "echo 1")

	assert.Equal(t, plain.Status, fenced.Status)
	assert.Equal(t, plain.Output, fenced.Output)
	assert.Equal(t, plain.Reason, fenced.Reason)
	assert.Equal(t, plain.ExitCode, fenced.ExitCode)
	assert.Equal(t, "1\n", fenced.Output)
}

func TestExecute_ConcurrentRunsUseDistinctFiles(t *testing.T) {
	sb := newShellSandbox(t, nil)

	const runs = 16
	results := make([]sandbox.Result, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = sb.Execute(context.Background(), `sleep 0.1; echo "$0"`)
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, res := range results {
		require.True(t, res.Succeeded(), "reason: %s", res.Reason)
		assert.Equal(t, res.ScriptPath, strings.TrimSpace(res.Output))
		assert.False(t, seen[res.ScriptPath], "file %s shared between runs", res.ScriptPath)
		seen[res.ScriptPath] = true
		assert.NoFileExists(t, res.ScriptPath)
	}
	assertEmptyDir(t, sb.Dir())
}

func TestExecute_Timeout(t *testing.T) {
	sb := newShellSandbox(t, func(cfg *process.Config) {
		cfg.Timeout = 200 * time.Millisecond
	})

	res := sb.Execute(context.Background(), "sleep 5")

	assert.Equal(t, sandbox.FailureTimeout, res.Failure)
	assert.Less(t, res.Duration, 4*time.Second)
	assert.NoFileExists(t, res.ScriptPath)
}

func TestExecute_Cancel(t *testing.T) {
	sb := newShellSandbox(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	res := sb.Execute(ctx, "echo started >&2\nsleep 5")

	assert.Equal(t, sandbox.FailureCanceled, res.Failure)
	assert.Contains(t, res.Reason, "context canceled")
	assert.NoFileExists(t, res.ScriptPath)
}

func TestExecute_InheritsAndExtendsEnv(t *testing.T) {
	t.Setenv("GUIDE_PARENT_VAR", "parent")
	sb := newShellSandbox(t, func(cfg *process.Config) {
		cfg.Env = []string{"GUIDE_EXTRA_VAR=extra"}
	})

	res := sb.Execute(context.Background(), `printf '%s %s' "$GUIDE_PARENT_VAR" "$GUIDE_EXTRA_VAR"`)

	require.True(t, res.Succeeded(), "reason: %s", res.Reason)
	assert.Equal(t, "parent extra", res.Output)
}

func TestClose_RemovesDirectory(t *testing.T) {
	sb := newShellSandbox(t, nil)
	require.DirExists(t, sb.Dir())

	require.NoError(t, sb.Close())
	assert.NoDirExists(t, sb.Dir())
}
