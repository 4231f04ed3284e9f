package runner

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const containerWorkDir = "/workspace"

// DockerConfig holds Docker executor configuration
type DockerConfig struct {
	Image      string
	Python     string
	MemoryMB   int
	CPULimit   float64
	NetworkOff bool
	Limits     Limits
}

// DefaultDockerConfig returns default Docker executor configuration
func DefaultDockerConfig() DockerConfig {
	return DockerConfig{
		Image:      "python:3.12-alpine",
		Python:     "python3",
		MemoryMB:   128,
		CPULimit:   0.5,
		NetworkOff: true,
		Limits:     DefaultLimits(),
	}
}

// DockerExecutor runs each submission in a throwaway container
type DockerExecutor struct {
	client *client.Client
	cfg    DockerConfig
}

// NewDockerExecutor connects to the Docker daemon from the environment
func NewDockerExecutor(cfg DockerConfig) (*DockerExecutor, error) {
	def := DefaultDockerConfig()
	if cfg.Image == "" {
		cfg.Image = def.Image
	}
	if cfg.Python == "" {
		cfg.Python = def.Python
	}
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = def.MemoryMB
	}
	if cfg.CPULimit <= 0 {
		cfg.CPULimit = def.CPULimit
	}
	if cfg.Limits.Timeout <= 0 {
		cfg.Limits.Timeout = def.Limits.Timeout
	}
	if cfg.Limits.MaxOutputBytes <= 0 {
		cfg.Limits.MaxOutputBytes = def.Limits.MaxOutputBytes
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker not reachable: %w", err)
	}

	return &DockerExecutor{client: cli, cfg: cfg}, nil
}

// Close closes the Docker client
func (e *DockerExecutor) Close() error {
	return e.client.Close()
}

// Run creates a container for the submission, copies the files in, starts
// it and collects the demultiplexed logs. The container is always removed.
func (e *DockerExecutor) Run(ctx context.Context, sub Submission) (*Output, error) {
	if err := e.ensureImage(ctx); err != nil {
		return nil, fmt.Errorf("ensure image: %w", err)
	}

	files, entry := PrepareFiles(sub)
	archive, err := buildArchive(files)
	if err != nil {
		return nil, err
	}

	containerCfg := &container.Config{
		Image:           e.cfg.Image,
		Cmd:             []string{e.cfg.Python, "-u", entry},
		WorkingDir:      containerWorkDir,
		Env:             pythonEnv,
		NetworkDisabled: e.cfg.NetworkOff,
		Tty:             false,
		OpenStdin:       false,
		Labels: map[string]string{
			"pyportal.run": "true",
		},
	}
	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:   int64(e.cfg.MemoryMB) * 1024 * 1024,
			NanoCPUs: int64(e.cfg.CPULimit * 1e9),
		},
	}
	if e.cfg.NetworkOff {
		hostCfg.NetworkMode = "none"
	}

	resp, err := e.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	defer e.remove(resp.ID)

	if err := e.client.CopyToContainer(ctx, resp.ID, "/", archive, container.CopyToContainerOptions{}); err != nil {
		return nil, fmt.Errorf("copy files: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Limits.Timeout)
	defer cancel()

	start := time.Now()
	if err := e.client.ContainerStart(runCtx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	exitCode := -1
	timedOut := false
	statusCh, errCh := e.client.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	case err := <-errCh:
		if !errors.Is(runCtx.Err(), context.DeadlineExceeded) || ctx.Err() != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("wait container: %w", err)
		}
		timedOut = true
	}
	duration := time.Since(start)

	if timedOut {
		killCtx, killCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = e.client.ContainerKill(killCtx, resp.ID, "KILL")
		killCancel()
	}

	stdout := newLimitedBuffer(e.cfg.Limits.MaxOutputBytes)
	stderr := newLimitedBuffer(e.cfg.Limits.MaxOutputBytes)

	logCtx, logCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer logCancel()
	logs, err := e.client.ContainerLogs(logCtx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, fmt.Errorf("read logs: %w", err)
	}
	defer logs.Close()
	if _, err := stdcopy.StdCopy(stdout, stderr, logs); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("demux logs: %w", err)
	}

	return buildOutput(stdout, stderr, exitCode, duration, timedOut), nil
}

func (e *DockerExecutor) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = e.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

func (e *DockerExecutor) ensureImage(ctx context.Context) error {
	if _, err := e.client.ImageInspect(ctx, e.cfg.Image); err == nil {
		return nil
	}

	reader, err := e.client.ImagePull(ctx, e.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", e.cfg.Image, err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

// buildArchive packs files under workspace/ so they can be copied to "/"
// before the working directory exists.
func buildArchive(files map[string]string) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	if err := tw.WriteHeader(&tar.Header{
		Name:     "workspace/",
		Mode:     0755,
		Typeflag: tar.TypeDir,
	}); err != nil {
		return nil, fmt.Errorf("write tar header: %w", err)
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		content := files[name]
		header := &tar.Header{
			Name: "workspace/" + name,
			Mode: 0644,
			Size: int64(len(content)),
		}
		if err := tw.WriteHeader(header); err != nil {
			return nil, fmt.Errorf("write tar header: %w", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			return nil, fmt.Errorf("write tar content: %w", err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	return &buf, nil
}
