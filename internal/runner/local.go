package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// pythonEnv is appended to the host environment for every run
var pythonEnv = []string{
	"PYTHONUNBUFFERED=1",
	"PYTHONIOENCODING=utf-8",
	"PYTHONDONTWRITEBYTECODE=1",
}

const pythonNotFound = "Python not found. Please install Python and ensure it's in your PATH."

// LocalConfig configures the local Python executor
type LocalConfig struct {
	Python  string // interpreter binary, default python3
	WorkDir string // parent of per-run temp dirs, default os.TempDir()
	Limits  Limits
}

// DefaultLocalConfig returns default local executor configuration
func DefaultLocalConfig() LocalConfig {
	return LocalConfig{
		Python: "python3",
		Limits: DefaultLimits(),
	}
}

// LocalExecutor runs Python in a subprocess on the host
type LocalExecutor struct {
	cfg    LocalConfig
	logger *slog.Logger
}

// NewLocalExecutor creates a new local executor
func NewLocalExecutor(cfg LocalConfig) *LocalExecutor {
	def := DefaultLocalConfig()
	if cfg.Python == "" {
		cfg.Python = def.Python
	}
	if cfg.Limits.Timeout <= 0 {
		cfg.Limits.Timeout = def.Limits.Timeout
	}
	if cfg.Limits.MaxOutputBytes <= 0 {
		cfg.Limits.MaxOutputBytes = def.Limits.MaxOutputBytes
	}
	return &LocalExecutor{cfg: cfg, logger: slog.Default()}
}

// Run writes the submission to a temp dir and executes it with the
// configured interpreter. stdin is the null device.
func (e *LocalExecutor) Run(ctx context.Context, sub Submission) (*Output, error) {
	files, entry := PrepareFiles(sub)

	tmpDir, err := createTempCodeDir(e.cfg.WorkDir, files)
	if err != nil {
		return nil, fmt.Errorf("prepare files: %w", err)
	}
	defer removeTempDir(tmpDir)

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Limits.Timeout)
	defer cancel()

	stdout := newLimitedBuffer(e.cfg.Limits.MaxOutputBytes)
	stderr := newLimitedBuffer(e.cfg.Limits.MaxOutputBytes)

	cmd := exec.CommandContext(runCtx, e.cfg.Python, "-u", entry)
	cmd.Dir = tmpDir
	cmd.Env = append(os.Environ(), pythonEnv...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)

	if err == nil {
		return buildOutput(stdout, stderr, 0, duration, false), nil
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		e.logger.Debug("python run timed out", "timeout", e.cfg.Limits.Timeout)
		return buildOutput(stdout, stderr, -1, duration, true), nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return buildOutput(stdout, stderr, exitErr.ExitCode(), duration, false), nil
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return &Output{Stderr: pythonNotFound, ExitCode: 127, Duration: duration}, nil
	}
	return nil, fmt.Errorf("run python: %w", err)
}

func createTempCodeDir(parent string, files map[string]string) (string, error) {
	tmpDir, err := os.MkdirTemp(parent, "pyportal-run-*")
	if err != nil {
		return "", err
	}

	for name, content := range files {
		if err := os.WriteFile(filepath.Join(tmpDir, name), []byte(content), 0644); err != nil {
			removeTempDir(tmpDir)
			return "", err
		}
	}
	return tmpDir, nil
}

func removeTempDir(dir string) {
	os.RemoveAll(dir)
}
