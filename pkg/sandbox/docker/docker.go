// Package docker implements sandbox.Executor with one throwaway container per
// execution. The script file lives in a private host directory that is
// bind-mounted read-only into the container.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/mariozechner/guiding-agent/pkg/sandbox"
)

const (
	DefaultImage       = "mcr.microsoft.com/playwright/python:v1.47.0-jammy"
	DefaultInterpreter = "python"
	// DefaultNetworkMode lets the script reach a browser listening on the host's loopback.
	DefaultNetworkMode = "host"

	mountPoint    = "/sandbox"
	removeTimeout = 30 * time.Second
)

// Config configures the container sandbox.
type Config struct {
	Image       string
	Interpreter string
	NetworkMode string
	// TempDir is where the private host directory is created. Empty means os.TempDir().
	TempDir string
	Suffix  string
	Name    sandbox.NameFunc
	// Env is passed to the container as-is; the host environment is not inherited.
	Env     []string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Sandbox implements sandbox.Executor using Docker containers.
type Sandbox struct {
	cli    *client.Client
	cfg    Config
	dir    string
	logger *slog.Logger
}

var _ sandbox.Executor = (*Sandbox)(nil)

// New creates a Docker client from the environment and the private host directory.
func New(cfg Config) (*Sandbox, error) {
	if cfg.Image == "" {
		cfg.Image = DefaultImage
	}
	if cfg.Interpreter == "" {
		cfg.Interpreter = DefaultInterpreter
	}
	if cfg.NetworkMode == "" {
		cfg.NetworkMode = DefaultNetworkMode
	}
	if cfg.Suffix == "" {
		cfg.Suffix = ".py"
	}
	if cfg.Name == nil {
		cfg.Name = sandbox.UniqueName("script-", cfg.Suffix)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	dir, err := os.MkdirTemp(cfg.TempDir, "guide-sandbox-")
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to create sandbox directory: %w", err)
	}

	return &Sandbox{
		cli:    cli,
		cfg:    cfg,
		dir:    dir,
		logger: logger.With("sandbox", "docker"),
	}, nil
}

// Dir returns the private host directory holding sandbox files.
func (s *Sandbox) Dir() string { return s.dir }

// Close removes the private directory and releases the docker client.
func (s *Sandbox) Close() error {
	return errors.Join(os.RemoveAll(s.dir), s.cli.Close())
}

// Execute normalizes, materializes and runs script in a fresh container.
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

	if _, _, err := s.cli.ImageInspectWithRaw(ctx, s.cfg.Image); err != nil {
		return sandbox.Fail(sandbox.FailureSpawn, fmt.Sprintf("sandbox image '%s' not available, pull it first: %v", s.cfg.Image, err))
	}

	cfg := &container.Config{
		Image:      s.cfg.Image,
		Cmd:        []string{s.cfg.Interpreter, mountPoint + "/" + filepath.Base(path)},
		Env:        s.cfg.Env,
		WorkingDir: mountPoint,
	}
	hostCfg := &container.HostConfig{
		Binds:       []string{s.dir + ":" + mountPoint + ":ro"},
		NetworkMode: container.NetworkMode(s.cfg.NetworkMode),
	}

	containerName := "guide-sandbox-" + uuid.New().String()
	resp, err := s.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, containerName)
	if err != nil {
		return sandbox.Fail(sandbox.FailureSpawn, fmt.Sprintf("failed to create container: %v", err))
	}
	defer s.remove(resp.ID)

	s.logger.Info("Running script in a container", "path", path, "container", containerName, "image", s.cfg.Image)

	if err := s.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return sandbox.Fail(sandbox.FailureSpawn, fmt.Sprintf("failed to start container: %v", err))
	}

	waitCh, errCh := s.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)

	var exitCode int64
	select {
	case err := <-errCh:
		if ctx.Err() != nil {
			return sandbox.Interrupted(ctx.Err(), "")
		}
		return sandbox.Fail(sandbox.FailureSpawn, fmt.Sprintf("failed waiting for container: %v", err))
	case w := <-waitCh:
		if w.Error != nil {
			return sandbox.Fail(sandbox.FailureSpawn, fmt.Sprintf("container wait error: %s", w.Error.Message))
		}
		exitCode = w.StatusCode
	}

	stdout, stderr, err := s.logs(ctx, resp.ID)
	if err != nil {
		return sandbox.Fail(sandbox.FailureSpawn, fmt.Sprintf("failed to read container output: %v", err))
	}

	if exitCode == 0 {
		res := sandbox.Success(stdout)
		res.ExitCode = 0
		return res
	}

	s.logger.Info("Script exited with failure", "exitCode", exitCode)
	reason := stderr
	if reason == "" {
		reason = fmt.Sprintf("container exited with status %d", exitCode)
	}
	res := sandbox.Fail(sandbox.FailureExecution, reason)
	res.ExitCode = int(exitCode)
	return res
}

func (s *Sandbox) logs(ctx context.Context, id string) (string, string, error) {
	rc, err := s.cli.ContainerLogs(ctx, id, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", err
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return "", "", err
	}
	return stdout.String(), stderr.String(), nil
}

// remove force-removes the container, detached from the run context so that
// a cancelled run still cleans up.
func (s *Sandbox) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()

	if err := s.cli.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true}); err != nil {
		s.logger.Warn("Failed to remove sandbox container", "container", id, "error", err)
	}
}
