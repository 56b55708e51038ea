// internal/renderer/docker/runner.go
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	specs "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/Corphon/ManimStudio/internal/renderer"
	"github.com/Corphon/ManimStudio/internal/utils"
)

const runLabel = "manimstudio.run_id"

// dockerClient is the subset of the Docker SDK the runner needs
type dockerClient interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// Config describes the container every render runs in
type Config struct {
	Image         string
	ContainerRoot string // mount point of the run directory
	User          string
	Timeout       time.Duration
	PullImage     bool
}

// Runner renders Manim scripts inside Docker containers via the official SDK
type Runner struct {
	cli    dockerClient
	cfg    Config
	logger *utils.Logger

	pullMu  sync.Mutex
	pulled  bool
	pullErr error
}

var _ renderer.Renderer = (*Runner)(nil)

// New creates a Runner talking to the daemon configured in the environment
func New(cfg Config) (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return newRunner(cli, cfg)
}

func newRunner(cli dockerClient, cfg Config) (*Runner, error) {
	if cfg.Image == "" {
		return nil, fmt.Errorf("render image is required")
	}
	if cfg.ContainerRoot == "" {
		cfg.ContainerRoot = "/manim"
	}
	if cfg.Timeout < 0 {
		cfg.Timeout = 0
	}
	return &Runner{cli: cli, cfg: cfg, logger: utils.GetLogger()}, nil
}

// Close releases the underlying Docker client resources
func (r *Runner) Close() error {
	if r.cli == nil {
		return nil
	}
	return r.cli.Close()
}

// Check pings the Docker daemon
func (r *Runner) Check(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

// Render runs manim for job and waits for it, stopping the container when the
// timeout elapses or ctx is cancelled.
func (r *Runner) Render(ctx context.Context, job renderer.Job) (*renderer.Result, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	outputDir, _ := job.OutputDir()
	expected, _ := job.ExpectedArtifact()

	if r.cfg.PullImage {
		if err := r.ensureImage(ctx); err != nil {
			return nil, err
		}
	}

	containerID, cleanup, err := r.createContainer(ctx, job)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	r.logger.Info("render container created", map[string]interface{}{
		"run_id":       job.RunID,
		"container_id": shortID(containerID),
		"image":        r.cfg.Image,
		"quality":      job.Quality,
	})

	start := time.Now()
	if err := r.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	waitCtx := ctx
	var cancel context.CancelFunc
	if r.cfg.Timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
	}
	status, err := r.waitForExit(waitCtx, containerID)
	if cancel != nil {
		cancel()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && r.cfg.Timeout > 0 && ctx.Err() == nil {
			result, handleErr := r.handleTimeLimit(containerID, start)
			if handleErr != nil {
				return nil, handleErr
			}
			result.ExpectedArtifact = expected
			result.OutputDir = outputDir
			return result, nil
		}
		if ctx.Err() != nil {
			r.stopContainer(containerID)
			return nil, fmt.Errorf("render cancelled: %w", ctx.Err())
		}
		return nil, err
	}

	logCtx := ctx
	if logCtx.Err() != nil {
		logCtx = context.Background()
	}
	stdout, stderr, err := r.fetchLogs(logCtx, containerID)
	if err != nil {
		return nil, fmt.Errorf("fetch logs: %w", err)
	}

	return &renderer.Result{
		Status:           renderer.StatusCompleted,
		ExitCode:         status.StatusCode,
		Stdout:           stdout,
		Stderr:           stderr,
		Duration:         time.Since(start),
		ExpectedArtifact: expected,
		OutputDir:        outputDir,
	}, nil
}

func (r *Runner) ensureImage(ctx context.Context) error {
	r.pullMu.Lock()
	defer r.pullMu.Unlock()
	if r.pulled {
		return r.pullErr
	}

	r.logger.Info("pulling render image", map[string]interface{}{"image": r.cfg.Image})
	reader, err := r.cli.ImagePull(ctx, r.cfg.Image, image.PullOptions{})
	if err != nil {
		// a cancelled pull is retried by the next render
		if ctx.Err() != nil {
			return fmt.Errorf("pull image: %w", err)
		}
		r.pulled, r.pullErr = true, fmt.Errorf("pull image: %w", err)
		return r.pullErr
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("consume pull output: %w", err)
	}
	r.pulled = true
	return nil
}

func (r *Runner) createContainer(ctx context.Context, job renderer.Job) (string, func(), error) {
	containerConfig := &container.Config{
		Image:        r.cfg.Image,
		Cmd:          job.Command(r.cfg.ContainerRoot),
		User:         r.cfg.User,
		WorkingDir:   r.cfg.ContainerRoot,
		AttachStdout: true,
		AttachStderr: true,
		Labels:       map[string]string{runLabel: job.RunID},
	}
	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: job.WorkDir,
			Target: r.cfg.ContainerRoot,
		}},
	}

	resp, err := r.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil && client.IsErrNotFound(err) && !r.cfg.PullImage {
		// image missing locally: pull once, like docker run
		if pullErr := r.ensureImage(ctx); pullErr != nil {
			return "", nil, pullErr
		}
		resp, err = r.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	}
	if err != nil {
		return "", nil, fmt.Errorf("create container: %w", err)
	}

	cleanup := func() {
		if err := r.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
			r.logger.Warn("failed to remove render container", map[string]interface{}{
				"container_id": shortID(resp.ID),
				"error":        err.Error(),
			})
		}
	}
	return resp.ID, cleanup, nil
}

func (r *Runner) stopContainer(containerID string) {
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.cli.ContainerStop(stopCtx, containerID, container.StopOptions{}); err != nil && !client.IsErrNotFound(err) {
		r.logger.Warn("failed to stop render container", map[string]interface{}{
			"container_id": shortID(containerID),
			"error":        err.Error(),
		})
	}
}

func (r *Runner) handleTimeLimit(containerID string, start time.Time) (*renderer.Result, error) {
	stopCtx, cancelStop := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelStop()

	if err := r.cli.ContainerStop(stopCtx, containerID, container.StopOptions{}); err != nil && !client.IsErrNotFound(err) {
		return nil, fmt.Errorf("stop container after time limit: %w", err)
	}

	waitCtx, cancelWait := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelWait()

	status, waitErr := r.waitForExit(waitCtx, containerID)
	if waitErr != nil && !errors.Is(waitErr, context.DeadlineExceeded) && !client.IsErrNotFound(waitErr) {
		return nil, fmt.Errorf("wait for container after time limit: %w", waitErr)
	}

	stdout, stderr, err := r.fetchLogs(context.Background(), containerID)
	if err != nil {
		return nil, fmt.Errorf("fetch logs: %w", err)
	}

	exitCode := int64(-1)
	if status != nil {
		exitCode = status.StatusCode
	}

	return &renderer.Result{
		Status:   renderer.StatusTimedOut,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: time.Since(start),
	}, nil
}

func (r *Runner) waitForExit(ctx context.Context, containerID string) (*container.WaitResponse, error) {
	statusCh, errCh := r.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return nil, fmt.Errorf("container error: %s", status.Error.Message)
		}
		return &status, nil
	case err := <-errCh:
		return nil, fmt.Errorf("wait for container: %w", err)
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for container: %w", ctx.Err())
	}
}

func (r *Runner) fetchLogs(ctx context.Context, containerID string) (stdout, stderr string, err error) {
	logs, err := r.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", err
	}
	defer logs.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, logs); err != nil {
		return "", "", err
	}
	return stdoutBuf.String(), stderrBuf.String(), nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
